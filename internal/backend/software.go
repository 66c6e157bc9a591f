package backend

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/dsa" //nolint:staticcheck // DSA is one of the families under test
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"math/big"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// softwareBackend runs every primitive on the Go standard library and
// golang.org/x/crypto.
type softwareBackend struct{}

var _ Backend = (*softwareBackend)(nil)

func newSoftware(_ *Config) (Backend, error) {
	return &softwareBackend{}, nil
}

func (b *softwareBackend) Name() string { return "go" }

func (b *softwareBackend) Capabilities() []Capability { return AllCapabilities }

func (b *softwareBackend) Close() error { return nil }

// =============================================================================
// DSA
// =============================================================================

func dsaPublic(key *keys.DSAKey) dsa.PublicKey {
	return dsa.PublicKey{
		Parameters: dsa.Parameters{P: key.P(), Q: key.Q(), G: key.G()},
		Y:          key.Y(),
	}
}

func (b *softwareBackend) SignDSA(_ context.Context, key *keys.DSAKey, d Digest) (codec.Signature, error) {
	const op = "dsa sign"
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private exponent X is required")
	}
	priv := &dsa.PrivateKey{PublicKey: dsaPublic(key), X: key.X()}

	r, s, err := dsa.Sign(rand.Reader, priv, d.Value)
	if err != nil {
		if errors.Is(err, dsa.ErrInvalidPublicKey) {
			return codec.Signature{}, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
		}
		return codec.Signature{}, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	return codec.Signature{R: r, S: s}, nil
}

func (b *softwareBackend) VerifyDSA(_ context.Context, key *keys.DSAKey, d Digest, sig codec.Signature) (bool, error) {
	pub := dsaPublic(key)
	return dsa.Verify(&pub, d.Value, sig.R, sig.S), nil
}

// =============================================================================
// ECDSA
// =============================================================================

func ecdsaPublic(key *keys.ECDSAKey) *ecdsa.PublicKey {
	return &ecdsa.PublicKey{Curve: key.Curve(), X: key.X(), Y: key.Y()}
}

// ecdsaPrivate checks d against the curve order and the given point using
// crypto/ecdh, which is stricter than crypto/ecdsa's big.Int path.
func ecdsaPrivate(key *keys.ECDSAKey) (*ecdsa.PrivateKey, error) {
	const op = "ecdsa key"
	d, err := codec.FixedWidth(key.D(), keys.P256Width)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}
	ek, err := ecdh.P256().NewPrivateKey(d)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}
	point, err := uncompressedPoint(key)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}
	if !bytes.Equal(ek.PublicKey().Bytes(), point) {
		return nil, cdferr.New(cdferr.KeyValidationFailed, op, "public point does not match private scalar")
	}
	return &ecdsa.PrivateKey{PublicKey: *ecdsaPublic(key), D: key.D()}, nil
}

// uncompressedPoint returns 0x04 || X || Y.
func uncompressedPoint(key *keys.ECDSAKey) ([]byte, error) {
	x, err := codec.FixedWidth(key.X(), keys.P256Width)
	if err != nil {
		return nil, err
	}
	y, err := codec.FixedWidth(key.Y(), keys.P256Width)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 1+2*keys.P256Width)
	out = append(out, 0x04)
	out = append(out, x...)
	return append(out, y...), nil
}

func (b *softwareBackend) SignECDSA(_ context.Context, key *keys.ECDSAKey, d Digest, deterministic bool) (codec.Signature, error) {
	const op = "ecdsa sign"
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private scalar D is required")
	}
	priv, err := ecdsaPrivate(key)
	if err != nil {
		return codec.Signature{}, err
	}

	if !deterministic {
		r, s, err := ecdsa.Sign(rand.Reader, priv, d.Value)
		if err != nil {
			return codec.Signature{}, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
		}
		return codec.Signature{R: r, S: s}, nil
	}

	// A nil random source selects RFC 6979 nonces keyed on the digest's own
	// hash; the result comes back DER encoded.
	der, err := priv.Sign(nil, d.Value, d.Hash.CryptoHash())
	if err != nil {
		return codec.Signature{}, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	return codec.DERToComponents(der)
}

func (b *softwareBackend) VerifyECDSA(_ context.Context, key *keys.ECDSAKey, d Digest, sig codec.Signature) (bool, error) {
	return ecdsa.Verify(ecdsaPublic(key), d.Value, sig.R, sig.S), nil
}

// =============================================================================
// RSA
// =============================================================================

func rsaPublic(key *keys.RSAKey) (*rsa.PublicKey, error) {
	e, err := key.PublicExponent()
	if err != nil {
		return nil, err
	}
	return &rsa.PublicKey{N: key.N(), E: e}, nil
}

// rsaPrivate hands the derived CRT values to crypto/rsa and lets its own
// key check decide whether the key is usable.
func rsaPrivate(key *keys.RSAKey) (*rsa.PrivateKey, error) {
	const op = "rsa key"
	if !key.HasPrivate() {
		return nil, cdferr.New(cdferr.InvalidKey, op, "private key is required")
	}
	pub, err := rsaPublic(key)
	if err != nil {
		return nil, err
	}
	priv := &rsa.PrivateKey{
		PublicKey: *pub,
		D:         key.D(),
		Primes:    []*big.Int{key.P(), key.Q()},
		Precomputed: rsa.PrecomputedValues{
			Dp:   key.Dp(),
			Dq:   key.Dq(),
			Qinv: key.Qinv(),
		},
	}
	if err := priv.Validate(); err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}
	priv.Precompute()
	return priv, nil
}

func (b *softwareBackend) EncryptOAEP(_ context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error) {
	pub, err := rsaPublic(key)
	if err != nil {
		return nil, err
	}
	out, err := rsa.EncryptOAEP(p.Hash.New(), rand.Reader, pub, p.Input, p.Label)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, "oaep encrypt", err)
	}
	return out, nil
}

func (b *softwareBackend) DecryptOAEP(_ context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error) {
	priv, err := rsaPrivate(key)
	if err != nil {
		return nil, err
	}
	out, err := rsa.DecryptOAEP(p.Hash.New(), rand.Reader, priv, p.Input, p.Label)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, "oaep decrypt", err)
	}
	return out, nil
}

func (b *softwareBackend) SignPKCS1v15(_ context.Context, key *keys.RSAKey, d Digest) ([]byte, error) {
	priv, err := rsaPrivate(key)
	if err != nil {
		return nil, err
	}
	out, err := rsa.SignPKCS1v15(nil, priv, d.Hash.CryptoHash(), d.Value)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, "pkcs1v15 sign", err)
	}
	return out, nil
}

func (b *softwareBackend) VerifyPKCS1v15(_ context.Context, key *keys.RSAKey, d Digest, sig []byte) (bool, error) {
	pub, err := rsaPublic(key)
	if err != nil {
		return false, err
	}
	err = rsa.VerifyPKCS1v15(pub, d.Hash.CryptoHash(), d.Value, sig)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, rsa.ErrVerification):
		return false, nil
	default:
		return false, cdferr.Wrap(cdferr.KeyValidationFailed, "pkcs1v15 verify", err)
	}
}

// =============================================================================
// Symmetric and hashing
// =============================================================================

func (b *softwareBackend) Hash(_ context.Context, alg HashAlg, msg []byte) ([]byte, error) {
	return alg.Sum(msg), nil
}

func (b *softwareBackend) HMAC(_ context.Context, alg HashAlg, key, msg []byte) ([]byte, error) {
	mac := hmac.New(alg.New, key)
	mac.Write(msg)
	return mac.Sum(nil), nil
}

func (b *softwareBackend) CTREncrypt(_ context.Context, key, plain []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, "ctr encrypt", err)
	}
	out := make([]byte, len(plain))
	cipher.NewCTR(block, make([]byte, aes.BlockSize)).XORKeyStream(out, plain)
	return out, nil
}

func (b *softwareBackend) XOF(_ context.Context, alg XOFAlg, msg []byte, length int) ([]byte, error) {
	id, ok := xofRegistry[alg]
	if !ok {
		return nil, cdferr.New(cdferr.MalformedInput, "xof", "unknown xof %q", string(alg))
	}
	x := id.New()
	if _, err := x.Write(msg); err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, "xof", err)
	}
	out := make([]byte, length)
	if _, err := x.Read(out); err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, "xof", err)
	}
	return out, nil
}
