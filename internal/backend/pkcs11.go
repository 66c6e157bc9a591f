//go:build cgo

package backend

import (
	"context"
	encasn1 "encoding/asn1"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"math/bits"

	"github.com/miekg/pkcs11"
	"golang.org/x/crypto/cryptobyte"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// pkcs11Backend imports the command-line key material into a token as
// session objects (CKA_TOKEN=false), runs one mechanism on it and destroys
// the object again. Nothing is persisted on the token.
type pkcs11Backend struct {
	unsupported
	pool *sessionPool
}

var _ Backend = (*pkcs11Backend)(nil)

var oidNamedCurveP256 = encasn1.ObjectIdentifier{1, 2, 840, 10045, 3, 1, 7}

// DigestInfo prefixes for PKCS#1 v1.5 signatures (RFC 8017)
var digestInfoPrefixes = map[HashAlg][]byte{
	MD5:    {0x30, 0x20, 0x30, 0x0c, 0x06, 0x08, 0x2a, 0x86, 0x48, 0x86, 0xf7, 0x0d, 0x02, 0x05, 0x05, 0x00, 0x04, 0x10},
	SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

var digestMechanisms = map[HashAlg]uint{
	MD5:    pkcs11.CKM_MD5,
	SHA1:   pkcs11.CKM_SHA_1,
	SHA256: pkcs11.CKM_SHA256,
	SHA512: pkcs11.CKM_SHA512,
}

var hmacMechanisms = map[HashAlg]uint{
	SHA1:   pkcs11.CKM_SHA_1_HMAC,
	SHA256: pkcs11.CKM_SHA256_HMAC,
	SHA512: pkcs11.CKM_SHA512_HMAC,
}

type oaepMechanism struct {
	hash, mgf uint
}

var oaepMechanisms = map[HashAlg]oaepMechanism{
	SHA1:   {pkcs11.CKM_SHA_1, pkcs11.CKG_MGF1_SHA1},
	SHA256: {pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256},
	SHA512: {pkcs11.CKM_SHA512, pkcs11.CKG_MGF1_SHA512},
}

func newPKCS11(cfg *Config) (Backend, error) {
	s := cfg.PKCS11
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pkcs11 config: %w", err)
	}
	pin, err := s.GetPIN()
	if err != nil {
		return nil, err
	}

	ctx, err := loadModule(s.Lib)
	if err != nil {
		return nil, err
	}
	slot, err := findSlot(ctx, s)
	if err != nil {
		_ = ctx.Finalize()
		ctx.Destroy()
		return nil, err
	}

	return &pkcs11Backend{
		unsupported: unsupported{name: "pkcs11"},
		pool:        newSessionPool(ctx, slot, pin),
	}, nil
}

// findSlot finds the slot matching the configuration.
func findSlot(ctx *pkcs11.Ctx, s PKCS11Settings) (uint, error) {
	if s.Slot != nil {
		return *s.Slot, nil
	}

	slots, err := ctx.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("failed to get slot list: %w", err)
	}
	if len(slots) == 0 {
		return 0, fmt.Errorf("no slots with tokens found")
	}

	for _, slot := range slots {
		info, err := ctx.GetTokenInfo(slot)
		if err != nil {
			continue
		}
		if s.Token != "" && info.Label == s.Token {
			return slot, nil
		}
		if s.TokenSerial != "" && info.SerialNumber == s.TokenSerial {
			return slot, nil
		}
	}

	if s.Token != "" {
		return 0, fmt.Errorf("token with label %q not found", s.Token)
	}
	if s.TokenSerial != "" {
		return 0, fmt.Errorf("token with serial %q not found", s.TokenSerial)
	}
	return slots[0], nil
}

// ListPKCS11Slots lists the slots of a PKCS#11 module.
func ListPKCS11Slots(modulePath string) ([]SlotInfo, error) {
	ctx, err := loadModule(modulePath)
	if err != nil {
		return nil, err
	}
	defer ctx.Destroy()

	slots, err := ctx.GetSlotList(false)
	if err != nil {
		return nil, fmt.Errorf("failed to get slot list: %w", err)
	}

	out := make([]SlotInfo, 0, len(slots))
	for _, slot := range slots {
		slotInfo, err := ctx.GetSlotInfo(slot)
		if err != nil {
			continue
		}
		si := SlotInfo{
			ID:          slot,
			Description: slotInfo.SlotDescription,
			HasToken:    slotInfo.Flags&pkcs11.CKF_TOKEN_PRESENT != 0,
		}
		if si.HasToken {
			if tokenInfo, err := ctx.GetTokenInfo(slot); err == nil {
				si.TokenLabel = tokenInfo.Label
				si.TokenSerial = tokenInfo.SerialNumber
				si.Manufacturer = tokenInfo.ManufacturerID
			}
		}
		out = append(out, si)
	}
	return out, nil
}

func (b *pkcs11Backend) Name() string { return "pkcs11" }

func (b *pkcs11Backend) Capabilities() []Capability {
	return []Capability{CapDSA, CapECDSA, CapOAEP, CapRSASign, CapHash, CapHMAC, CapCTR}
}

func (b *pkcs11Backend) Close() error { return b.pool.Close() }

// =============================================================================
// Session plumbing
// =============================================================================

// session runs fn on a pooled session. Objects created through the
// importer are destroyed before the session is released.
func (b *pkcs11Backend) session(op string, fn func(s *p11Session) error) error {
	sh, release, err := b.pool.Acquire()
	if err != nil {
		return cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	defer release()

	s := &p11Session{ctx: b.pool.ctx, handle: sh, op: op}
	defer s.destroyAll()
	return fn(s)
}

type p11Session struct {
	ctx     *pkcs11.Ctx
	handle  pkcs11.SessionHandle
	op      string
	objects []pkcs11.ObjectHandle
}

func (s *p11Session) destroyAll() {
	for _, obj := range s.objects {
		_ = s.ctx.DestroyObject(s.handle, obj)
	}
}

// importKey creates a session object. A template the token refuses is a
// key validation failure.
func (s *p11Session) importKey(class, keyType uint, attrs ...*pkcs11.Attribute) (pkcs11.ObjectHandle, error) {
	template := append([]*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, class),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, keyType),
		pkcs11.NewAttribute(pkcs11.CKA_TOKEN, false),
	}, attrs...)
	obj, err := s.ctx.CreateObject(s.handle, template)
	if err != nil {
		return 0, cdferr.Wrap(cdferr.KeyValidationFailed, s.op, fmt.Errorf("token rejected key: %w", err))
	}
	s.objects = append(s.objects, obj)
	return obj, nil
}

func (s *p11Session) sign(mech *pkcs11.Mechanism, key pkcs11.ObjectHandle, data []byte) ([]byte, error) {
	if err := s.ctx.SignInit(s.handle, []*pkcs11.Mechanism{mech}, key); err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, s.op, fmt.Errorf("failed to init sign: %w", err))
	}
	out, err := s.ctx.Sign(s.handle, data)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, s.op, err)
	}
	return out, nil
}

// verify maps CKR_SIGNATURE_INVALID and CKR_SIGNATURE_LEN_RANGE to false.
func (s *p11Session) verify(mech *pkcs11.Mechanism, key pkcs11.ObjectHandle, data, sig []byte) (bool, error) {
	if err := s.ctx.VerifyInit(s.handle, []*pkcs11.Mechanism{mech}, key); err != nil {
		return false, cdferr.Wrap(cdferr.KeyValidationFailed, s.op, fmt.Errorf("failed to init verify: %w", err))
	}
	err := s.ctx.Verify(s.handle, data, sig)
	if err == nil {
		return true, nil
	}
	var p11err pkcs11.Error
	if errors.As(err, &p11err) && (p11err == pkcs11.CKR_SIGNATURE_INVALID || p11err == pkcs11.CKR_SIGNATURE_LEN_RANGE) {
		return false, nil
	}
	return false, cdferr.Wrap(cdferr.PrimitiveFailed, s.op, err)
}

func (s *p11Session) encrypt(mech *pkcs11.Mechanism, key pkcs11.ObjectHandle, data []byte) ([]byte, error) {
	if err := s.ctx.EncryptInit(s.handle, []*pkcs11.Mechanism{mech}, key); err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, s.op, fmt.Errorf("failed to init encrypt: %w", err))
	}
	out, err := s.ctx.Encrypt(s.handle, data)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, s.op, err)
	}
	return out, nil
}

func (s *p11Session) decrypt(mech *pkcs11.Mechanism, key pkcs11.ObjectHandle, data []byte) ([]byte, error) {
	if err := s.ctx.DecryptInit(s.handle, []*pkcs11.Mechanism{mech}, key); err != nil {
		return nil, cdferr.Wrap(cdferr.KeyValidationFailed, s.op, fmt.Errorf("failed to init decrypt: %w", err))
	}
	out, err := s.ctx.Decrypt(s.handle, data)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, s.op, err)
	}
	return out, nil
}

func bigAttr(t uint, n *big.Int) *pkcs11.Attribute {
	return pkcs11.NewAttribute(t, n.Bytes())
}

// =============================================================================
// DSA
// =============================================================================

func dsaDomain(key *keys.DSAKey) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		bigAttr(pkcs11.CKA_PRIME, key.P()),
		bigAttr(pkcs11.CKA_SUBPRIME, key.Q()),
		bigAttr(pkcs11.CKA_BASE, key.G()),
	}
}

func (b *pkcs11Backend) SignDSA(_ context.Context, key *keys.DSAKey, d Digest) (codec.Signature, error) {
	const op = "pkcs11 dsa sign"
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private exponent X is required")
	}
	var sig codec.Signature
	err := b.session(op, func(s *p11Session) error {
		attrs := append(dsaDomain(key),
			bigAttr(pkcs11.CKA_VALUE, key.X()),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true))
		obj, err := s.importKey(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKK_DSA, attrs...)
		if err != nil {
			return err
		}
		raw, err := s.sign(pkcs11.NewMechanism(pkcs11.CKM_DSA, nil), obj, d.Value)
		if err != nil {
			return err
		}
		sig, err = codec.P1363ToComponents(raw, key.Width())
		return err
	})
	return sig, err
}

func (b *pkcs11Backend) VerifyDSA(_ context.Context, key *keys.DSAKey, d Digest, sig codec.Signature) (bool, error) {
	const op = "pkcs11 dsa verify"
	raw, err := codec.ComponentsToP1363(sig, key.Width())
	if err != nil {
		if errors.Is(err, cdferr.ErrOverflow) {
			return false, nil
		}
		return false, err
	}
	var ok bool
	err = b.session(op, func(s *p11Session) error {
		attrs := append(dsaDomain(key),
			bigAttr(pkcs11.CKA_VALUE, key.Y()),
			pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true))
		obj, err := s.importKey(pkcs11.CKO_PUBLIC_KEY, pkcs11.CKK_DSA, attrs...)
		if err != nil {
			return err
		}
		ok, err = s.verify(pkcs11.NewMechanism(pkcs11.CKM_DSA, nil), obj, d.Value, raw)
		return err
	})
	return ok, err
}

// =============================================================================
// ECDSA
// =============================================================================

func ecParams() ([]byte, error) {
	var b cryptobyte.Builder
	b.AddASN1ObjectIdentifier(oidNamedCurveP256)
	return b.Bytes()
}

// ecPoint wraps 0x04 || X || Y in an OCTET STRING as CKA_EC_POINT expects.
func ecPoint(key *keys.ECDSAKey) ([]byte, error) {
	point, err := uncompressedPoint(key)
	if err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1OctetString(point)
	return b.Bytes()
}

func (b *pkcs11Backend) SignECDSA(_ context.Context, key *keys.ECDSAKey, d Digest, deterministic bool) (codec.Signature, error) {
	const op = "pkcs11 ecdsa sign"
	if deterministic {
		return codec.Signature{}, cdferr.New(cdferr.Unsupported, op, "CKM_ECDSA draws its nonce on the token")
	}
	if !key.HasPrivate() {
		return codec.Signature{}, cdferr.New(cdferr.InvalidKey, op, "private scalar D is required")
	}
	params, err := ecParams()
	if err != nil {
		return codec.Signature{}, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	scalar, err := codec.FixedWidth(key.D(), keys.P256Width)
	if err != nil {
		return codec.Signature{}, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}

	var sig codec.Signature
	err = b.session(op, func(s *p11Session) error {
		obj, err := s.importKey(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKK_EC,
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, scalar),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true))
		if err != nil {
			return err
		}
		raw, err := s.sign(pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil), obj, d.Value)
		if err != nil {
			return err
		}
		sig, err = codec.P1363ToComponents(raw, keys.P256Width)
		return err
	})
	return sig, err
}

func (b *pkcs11Backend) VerifyECDSA(_ context.Context, key *keys.ECDSAKey, d Digest, sig codec.Signature) (bool, error) {
	const op = "pkcs11 ecdsa verify"
	raw, err := codec.ComponentsToP1363(sig, keys.P256Width)
	if err != nil {
		if errors.Is(err, cdferr.ErrOverflow) {
			return false, nil
		}
		return false, err
	}
	params, err := ecParams()
	if err != nil {
		return false, cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
	}
	point, err := ecPoint(key)
	if err != nil {
		return false, cdferr.Wrap(cdferr.KeyValidationFailed, op, err)
	}

	var ok bool
	err = b.session(op, func(s *p11Session) error {
		obj, err := s.importKey(pkcs11.CKO_PUBLIC_KEY, pkcs11.CKK_EC,
			pkcs11.NewAttribute(pkcs11.CKA_EC_PARAMS, params),
			pkcs11.NewAttribute(pkcs11.CKA_EC_POINT, point),
			pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true))
		if err != nil {
			return err
		}
		ok, err = s.verify(pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil), obj, d.Value, raw)
		return err
	})
	return ok, err
}

// =============================================================================
// RSA
// =============================================================================

func rsaPublicAttrs(key *keys.RSAKey) []*pkcs11.Attribute {
	return []*pkcs11.Attribute{
		bigAttr(pkcs11.CKA_MODULUS, key.N()),
		bigAttr(pkcs11.CKA_PUBLIC_EXPONENT, key.E()),
	}
}

func rsaPrivateAttrs(key *keys.RSAKey) []*pkcs11.Attribute {
	return append(rsaPublicAttrs(key),
		bigAttr(pkcs11.CKA_PRIVATE_EXPONENT, key.D()),
		bigAttr(pkcs11.CKA_PRIME_1, key.P()),
		bigAttr(pkcs11.CKA_PRIME_2, key.Q()),
		bigAttr(pkcs11.CKA_EXPONENT_1, key.Dp()),
		bigAttr(pkcs11.CKA_EXPONENT_2, key.Dq()),
		bigAttr(pkcs11.CKA_COEFFICIENT, key.Qinv()),
	)
}

func oaepMech(op string, p OAEPParams) (*pkcs11.Mechanism, error) {
	m, ok := oaepMechanisms[p.Hash]
	if !ok {
		return nil, cdferr.New(cdferr.Unsupported, op, "no OAEP mechanism for %s", p.Hash)
	}
	params := pkcs11.NewOAEPParams(m.hash, m.mgf, pkcs11.CKZ_DATA_SPECIFIED, p.Label)
	return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_OAEP, params), nil
}

func (b *pkcs11Backend) EncryptOAEP(_ context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error) {
	const op = "pkcs11 oaep encrypt"
	mech, err := oaepMech(op, p)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = b.session(op, func(s *p11Session) error {
		attrs := append(rsaPublicAttrs(key), pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true))
		obj, err := s.importKey(pkcs11.CKO_PUBLIC_KEY, pkcs11.CKK_RSA, attrs...)
		if err != nil {
			return err
		}
		out, err = s.encrypt(mech, obj, p.Input)
		return err
	})
	return out, err
}

func (b *pkcs11Backend) DecryptOAEP(_ context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error) {
	const op = "pkcs11 oaep decrypt"
	if !key.HasPrivate() {
		return nil, cdferr.New(cdferr.InvalidKey, op, "private key is required")
	}
	mech, err := oaepMech(op, p)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = b.session(op, func(s *p11Session) error {
		attrs := append(rsaPrivateAttrs(key), pkcs11.NewAttribute(pkcs11.CKA_DECRYPT, true))
		obj, err := s.importKey(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKK_RSA, attrs...)
		if err != nil {
			return err
		}
		out, err = s.decrypt(mech, obj, p.Input)
		return err
	})
	return out, err
}

// digestInfo prefixes the digest for CKM_RSA_PKCS, which pads but does not
// encode the DigestInfo itself.
func digestInfo(op string, d Digest) ([]byte, error) {
	prefix, ok := digestInfoPrefixes[d.Hash]
	if !ok {
		return nil, cdferr.New(cdferr.Unsupported, op, "no DigestInfo prefix for %s", d.Hash)
	}
	out := make([]byte, 0, len(prefix)+len(d.Value))
	out = append(out, prefix...)
	return append(out, d.Value...), nil
}

func (b *pkcs11Backend) SignPKCS1v15(_ context.Context, key *keys.RSAKey, d Digest) ([]byte, error) {
	const op = "pkcs11 pkcs1v15 sign"
	if !key.HasPrivate() {
		return nil, cdferr.New(cdferr.InvalidKey, op, "private key is required")
	}
	data, err := digestInfo(op, d)
	if err != nil {
		return nil, err
	}
	var out []byte
	err = b.session(op, func(s *p11Session) error {
		attrs := append(rsaPrivateAttrs(key), pkcs11.NewAttribute(pkcs11.CKA_SIGN, true))
		obj, err := s.importKey(pkcs11.CKO_PRIVATE_KEY, pkcs11.CKK_RSA, attrs...)
		if err != nil {
			return err
		}
		out, err = s.sign(pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), obj, data)
		return err
	})
	return out, err
}

func (b *pkcs11Backend) VerifyPKCS1v15(_ context.Context, key *keys.RSAKey, d Digest, sig []byte) (bool, error) {
	const op = "pkcs11 pkcs1v15 verify"
	data, err := digestInfo(op, d)
	if err != nil {
		return false, err
	}
	var ok bool
	err = b.session(op, func(s *p11Session) error {
		attrs := append(rsaPublicAttrs(key), pkcs11.NewAttribute(pkcs11.CKA_VERIFY, true))
		obj, err := s.importKey(pkcs11.CKO_PUBLIC_KEY, pkcs11.CKK_RSA, attrs...)
		if err != nil {
			return err
		}
		ok, err = s.verify(pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), obj, data, sig)
		return err
	})
	return ok, err
}

// =============================================================================
// Symmetric and hashing
// =============================================================================

func (b *pkcs11Backend) Hash(_ context.Context, alg HashAlg, msg []byte) ([]byte, error) {
	const op = "pkcs11 digest"
	mech, ok := digestMechanisms[alg]
	if !ok {
		return nil, cdferr.New(cdferr.Unsupported, op, "no digest mechanism for %s", alg)
	}
	var out []byte
	err := b.session(op, func(s *p11Session) error {
		if err := s.ctx.DigestInit(s.handle, []*pkcs11.Mechanism{pkcs11.NewMechanism(mech, nil)}); err != nil {
			return cdferr.Wrap(cdferr.PrimitiveFailed, op, fmt.Errorf("failed to init digest: %w", err))
		}
		var err error
		out, err = s.ctx.Digest(s.handle, msg)
		if err != nil {
			return cdferr.Wrap(cdferr.PrimitiveFailed, op, err)
		}
		return nil
	})
	return out, err
}

func (b *pkcs11Backend) HMAC(_ context.Context, alg HashAlg, key, msg []byte) ([]byte, error) {
	const op = "pkcs11 hmac"
	mech, ok := hmacMechanisms[alg]
	if !ok {
		return nil, cdferr.New(cdferr.Unsupported, op, "no HMAC mechanism for %s", alg)
	}
	var out []byte
	err := b.session(op, func(s *p11Session) error {
		obj, err := s.importKey(pkcs11.CKO_SECRET_KEY, pkcs11.CKK_GENERIC_SECRET,
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, key),
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, true))
		if err != nil {
			return err
		}
		out, err = s.sign(pkcs11.NewMechanism(mech, nil), obj, msg)
		return err
	})
	return out, err
}

// ctrParams encodes CK_AES_CTR_PARAMS: a CK_ULONG counter width followed
// by the 16-byte initial counter block, here all zeros.
func ctrParams() []byte {
	ulong := bits.UintSize / 8
	params := make([]byte, ulong+16)
	if ulong == 8 {
		binary.NativeEndian.PutUint64(params, 128)
	} else {
		binary.NativeEndian.PutUint32(params, 128)
	}
	return params
}

func (b *pkcs11Backend) CTREncrypt(_ context.Context, key, plain []byte) ([]byte, error) {
	const op = "pkcs11 ctr encrypt"
	var out []byte
	err := b.session(op, func(s *p11Session) error {
		obj, err := s.importKey(pkcs11.CKO_SECRET_KEY, pkcs11.CKK_AES,
			pkcs11.NewAttribute(pkcs11.CKA_VALUE, key),
			pkcs11.NewAttribute(pkcs11.CKA_ENCRYPT, true))
		if err != nil {
			return err
		}
		out, err = s.encrypt(pkcs11.NewMechanism(pkcs11.CKM_AES_CTR, ctrParams()), obj, plain)
		return err
	})
	return out, err
}
