// Package backend defines the capability set the dispatcher drives and the
// adapters that implement it on top of concrete crypto providers: the Go
// standard library, a PKCS#11 token, go-cose and an external program.
//
// Adapters never reimplement primitive math. They translate key material
// and encodings into the provider's form and map provider failures onto
// cdferr kinds: a rejected key is KeyValidationFailed, a failed operation
// is PrimitiveFailed, and a missing operation is Unsupported. A signature
// that does not verify is reported as false, never as an error.
package backend

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// Capability names one operation family.
type Capability string

const (
	CapDSA     Capability = "dsa"
	CapECDSA   Capability = "ecdsa"
	CapOAEP    Capability = "oaep"
	CapRSASign Capability = "rsasign"
	CapHash    Capability = "hash"
	CapHMAC    Capability = "hmac"
	CapCTR     Capability = "ctr"
	CapXOF     Capability = "xof"
)

// AllCapabilities lists every capability in display order.
var AllCapabilities = []Capability{
	CapDSA, CapECDSA, CapOAEP, CapRSASign, CapHash, CapHMAC, CapCTR, CapXOF,
}

// Digest is the signing input handed to a backend.
type Digest struct {
	// Message is the message as given on the command line.
	Message []byte

	// Value is what the primitive signs or verifies. For DSA it is already
	// truncated to the subgroup byte length.
	Value []byte

	// Supplied is the digest given with -h, or nil when Value was computed
	// from Message.
	Supplied []byte

	// Hash is the algorithm that produced Value.
	Hash HashAlg
}

// OAEPParams carries one RSA-OAEP input.
type OAEPParams struct {
	Hash  HashAlg
	Input []byte
	Label []byte
}

// Backend is the capability set of one crypto provider. Methods for
// capabilities the backend does not list return cdferr.ErrUnsupported.
type Backend interface {
	Name() string
	Capabilities() []Capability

	SignDSA(ctx context.Context, key *keys.DSAKey, d Digest) (codec.Signature, error)
	VerifyDSA(ctx context.Context, key *keys.DSAKey, d Digest, sig codec.Signature) (bool, error)

	SignECDSA(ctx context.Context, key *keys.ECDSAKey, d Digest, deterministic bool) (codec.Signature, error)
	VerifyECDSA(ctx context.Context, key *keys.ECDSAKey, d Digest, sig codec.Signature) (bool, error)

	EncryptOAEP(ctx context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error)
	DecryptOAEP(ctx context.Context, key *keys.RSAKey, p OAEPParams) ([]byte, error)

	SignPKCS1v15(ctx context.Context, key *keys.RSAKey, d Digest) ([]byte, error)
	VerifyPKCS1v15(ctx context.Context, key *keys.RSAKey, d Digest, sig []byte) (bool, error)

	Hash(ctx context.Context, alg HashAlg, msg []byte) ([]byte, error)
	HMAC(ctx context.Context, alg HashAlg, key, msg []byte) ([]byte, error)
	CTREncrypt(ctx context.Context, key, plain []byte) ([]byte, error)
	XOF(ctx context.Context, alg XOFAlg, msg []byte, length int) ([]byte, error)

	// Close releases provider resources.
	Close() error
}

// Supports reports whether b lists c.
func Supports(b Backend, c Capability) bool {
	for _, have := range b.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

// =============================================================================
// Registry
// =============================================================================

// Factory opens a backend from its configuration.
type Factory func(cfg *Config) (Backend, error)

var factories = map[string]Factory{
	"go":     newSoftware,
	"pkcs11": newPKCS11,
	"cose":   newCOSE,
	"exec":   newExec,
}

// DefaultName is the backend used when none is selected.
const DefaultName = "go"

// Names returns the registered backend names, sorted.
func Names() []string {
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open returns the named backend. A nil cfg is treated as an empty
// configuration.
func Open(name string, cfg *Config) (Backend, error) {
	if name == "" {
		name = DefaultName
	}
	factory, ok := factories[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown backend %q (valid: %s)", name, strings.Join(Names(), ", "))
	}
	if cfg == nil {
		cfg = &Config{}
	}
	b, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open backend %s: %w", name, err)
	}
	return b, nil
}

// =============================================================================
// Unsupported defaults
// =============================================================================

// unsupported is embedded by partial backends; every method fails with
// Unsupported.
type unsupported struct {
	name string
}

func (u unsupported) fail(op string) error {
	return cdferr.New(cdferr.Unsupported, op, "backend %s does not implement this operation", u.name)
}

func (u unsupported) SignDSA(context.Context, *keys.DSAKey, Digest) (codec.Signature, error) {
	return codec.Signature{}, u.fail("dsa sign")
}

func (u unsupported) VerifyDSA(context.Context, *keys.DSAKey, Digest, codec.Signature) (bool, error) {
	return false, u.fail("dsa verify")
}

func (u unsupported) SignECDSA(context.Context, *keys.ECDSAKey, Digest, bool) (codec.Signature, error) {
	return codec.Signature{}, u.fail("ecdsa sign")
}

func (u unsupported) VerifyECDSA(context.Context, *keys.ECDSAKey, Digest, codec.Signature) (bool, error) {
	return false, u.fail("ecdsa verify")
}

func (u unsupported) EncryptOAEP(context.Context, *keys.RSAKey, OAEPParams) ([]byte, error) {
	return nil, u.fail("oaep encrypt")
}

func (u unsupported) DecryptOAEP(context.Context, *keys.RSAKey, OAEPParams) ([]byte, error) {
	return nil, u.fail("oaep decrypt")
}

func (u unsupported) SignPKCS1v15(context.Context, *keys.RSAKey, Digest) ([]byte, error) {
	return nil, u.fail("pkcs1v15 sign")
}

func (u unsupported) VerifyPKCS1v15(context.Context, *keys.RSAKey, Digest, []byte) (bool, error) {
	return false, u.fail("pkcs1v15 verify")
}

func (u unsupported) Hash(context.Context, HashAlg, []byte) ([]byte, error) {
	return nil, u.fail("hash")
}

func (u unsupported) HMAC(context.Context, HashAlg, []byte, []byte) ([]byte, error) {
	return nil, u.fail("hmac")
}

func (u unsupported) CTREncrypt(context.Context, []byte, []byte) ([]byte, error) {
	return nil, u.fail("ctr encrypt")
}

func (u unsupported) XOF(context.Context, XOFAlg, []byte, int) ([]byte, error) {
	return nil, u.fail("xof")
}

func (u unsupported) Close() error { return nil }
