package backend

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"io"

	gocose "github.com/veraison/go-cose"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// coseBackend signs and verifies ECDSA P-256 through go-cose's ES256
// signer and verifier. go-cose hashes the content itself, so only
// SHA-256 over the message is supported.
type coseBackend struct {
	unsupported
}

var _ Backend = (*coseBackend)(nil)

func newCOSE(_ *Config) (Backend, error) {
	return &coseBackend{unsupported: unsupported{name: "cose"}}, nil
}

func (b *coseBackend) Name() string { return "cose" }

func (b *coseBackend) Capabilities() []Capability { return []Capability{CapECDSA} }

// deterministicSigner routes go-cose through crypto.Signer with a nil
// random source, which yields RFC 6979 nonces.
type deterministicSigner struct {
	*ecdsa.PrivateKey
}

func (s deterministicSigner) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.PrivateKey.Sign(nil, digest, opts)
}

func (b *coseBackend) checkDigest(op string, d Digest) error {
	if d.Supplied != nil {
		return cdferr.New(cdferr.Unsupported, op, "ES256 hashes the message itself; a precomputed digest cannot be used")
	}
	if d.Hash != SHA256 {
		return cdferr.New(cdferr.Unsupported, op, "ES256 is defined over sha256, not %s", d.Hash)
	}
	return nil
}

func (b *coseBackend) SignECDSA(_ context.Context, key *keys.ECDSAKey, d Digest, deterministic bool) (codec.Signature, error) {
	const op = "cose es256 sign"
	if err := b.checkDigest(op, d); err != nil {
		return codec.Signature{}, err
	}
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private scalar D is required")
	}
	priv, err := ecdsaPrivate(key)
	if err != nil {
		return codec.Signature{}, err
	}

	var cs crypto.Signer = priv
	if deterministic {
		cs = deterministicSigner{priv}
	}
	signer, err := gocose.NewSigner(gocose.AlgorithmES256, cs)
	if err != nil {
		return codec.Signature{}, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}
	raw, err := signer.Sign(rand.Reader, d.Message)
	if err != nil {
		return codec.Signature{}, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	return codec.P1363ToComponents(raw, keys.P256Width)
}

func (b *coseBackend) VerifyECDSA(_ context.Context, key *keys.ECDSAKey, d Digest, sig codec.Signature) (bool, error) {
	const op = "cose es256 verify"
	if err := b.checkDigest(op, d); err != nil {
		return false, err
	}
	raw, err := codec.ComponentsToP1363(sig, keys.P256Width)
	if err != nil {
		if errors.Is(err, cdferr.ErrOverflow) {
			return false, nil
		}
		return false, err
	}
	verifier, err := gocose.NewVerifier(gocose.AlgorithmES256, ecdsaPublic(key))
	if err != nil {
		return false, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}
	if err := verifier.Verify(d.Message, raw); err != nil {
		if errors.Is(err, gocose.ErrVerification) {
			return false, nil
		}
		return false, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	return true, nil
}
