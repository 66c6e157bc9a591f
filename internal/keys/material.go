// Package keys assembles immutable asymmetric key records from the integer
// components given on the command line.
//
// Builders are pure: no I/O, no randomness, and no arithmetic validation of
// the group parameters. Degenerate values such as a zero generator are
// accepted; rejecting a bad key is the backend's job and surfaces as
// KeyValidationFailed.
package keys

import (
	"crypto/elliptic"
	"math/big"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
)

// Algorithm identifies the key family.
type Algorithm string

const (
	AlgDSA       Algorithm = "dsa"
	AlgECDSAP256 Algorithm = "ecdsa-p256"
	AlgRSA       Algorithm = "rsa"
)

// P256Width is the P1363 component width for P-256.
const P256Width = 32

// Material is one of *DSAKey, *ECDSAKey or *RSAKey.
type Material interface {
	// Algorithm returns the key family.
	Algorithm() Algorithm

	// HasPrivate reports whether the key can sign or decrypt.
	HasPrivate() bool

	// Width is the byte length of one P1363 signature component for DSA and
	// ECDSA, and the modulus byte length for RSA.
	Width() int

	material()
}

var (
	_ Material = (*DSAKey)(nil)
	_ Material = (*ECDSAKey)(nil)
	_ Material = (*RSAKey)(nil)
)

func clone(n *big.Int) *big.Int {
	if n == nil {
		return nil
	}
	return new(big.Int).Set(n)
}

func require(op string, named ...any) error {
	for i := 0; i+1 < len(named); i += 2 {
		if named[i+1].(*big.Int) == nil {
			return cdferr.New(cdferr.MalformedInput, op, "missing component %s", named[i])
		}
	}
	return nil
}

// =============================================================================
// DSA
// =============================================================================

// DSAKey holds DSA domain parameters, the public value and optionally the
// private exponent.
type DSAKey struct {
	p, q, g, y *big.Int
	x          *big.Int
}

// BuildDSA returns a DSA key. x may be nil for a verify-only key.
func BuildDSA(p, q, g, y, x *big.Int) (*DSAKey, error) {
	if err := require("build dsa key", "P", p, "Q", q, "G", g, "Y", y); err != nil {
		return nil, err
	}
	return &DSAKey{p: clone(p), q: clone(q), g: clone(g), y: clone(y), x: clone(x)}, nil
}

func (k *DSAKey) Algorithm() Algorithm { return AlgDSA }
func (k *DSAKey) HasPrivate() bool     { return k.x != nil }
func (k *DSAKey) Width() int           { return codec.ByteLen(k.q) }
func (k *DSAKey) material()            {}

func (k *DSAKey) P() *big.Int { return clone(k.p) }
func (k *DSAKey) Q() *big.Int { return clone(k.q) }
func (k *DSAKey) G() *big.Int { return clone(k.g) }
func (k *DSAKey) Y() *big.Int { return clone(k.y) }

// X returns the private exponent, or nil.
func (k *DSAKey) X() *big.Int { return clone(k.x) }

// Public returns the key without its private exponent.
func (k *DSAKey) Public() *DSAKey {
	return &DSAKey{p: k.p, q: k.q, g: k.g, y: k.y}
}

// =============================================================================
// ECDSA (P-256)
// =============================================================================

// ECDSAKey holds a P-256 point and optionally the private scalar.
type ECDSAKey struct {
	x, y *big.Int
	d    *big.Int
}

// BuildECDSA returns a P-256 key. d may be nil for a verify-only key. The
// point is not checked against the curve equation.
func BuildECDSA(x, y, d *big.Int) (*ECDSAKey, error) {
	if err := require("build ecdsa key", "X", x, "Y", y); err != nil {
		return nil, err
	}
	return &ECDSAKey{x: clone(x), y: clone(y), d: clone(d)}, nil
}

func (k *ECDSAKey) Algorithm() Algorithm { return AlgECDSAP256 }
func (k *ECDSAKey) HasPrivate() bool     { return k.d != nil }
func (k *ECDSAKey) Width() int           { return P256Width }
func (k *ECDSAKey) material()            {}

// Curve returns the fixed curve.
func (k *ECDSAKey) Curve() elliptic.Curve { return elliptic.P256() }

func (k *ECDSAKey) X() *big.Int { return clone(k.x) }
func (k *ECDSAKey) Y() *big.Int { return clone(k.y) }

// D returns the private scalar, or nil.
func (k *ECDSAKey) D() *big.Int { return clone(k.d) }

// Public returns the key without its private scalar.
func (k *ECDSAKey) Public() *ECDSAKey {
	return &ECDSAKey{x: k.x, y: k.y}
}

// =============================================================================
// RSA
// =============================================================================

// RSAKey holds an RSA public key and, for private keys, the private
// exponent, both primes and the derived CRT values.
type RSAKey struct {
	n, e *big.Int

	d, p, q      *big.Int
	dp, dq, qinv *big.Int
}

// BuildRSAPublic returns a public RSA key.
func BuildRSAPublic(n, e *big.Int) (*RSAKey, error) {
	if err := require("build rsa public key", "N", n, "E", e); err != nil {
		return nil, err
	}
	return &RSAKey{n: clone(n), e: clone(e)}, nil
}

// BuildRSAPrivate derives n = p*q and the CRT values
//
//	dP = d mod (p-1), dQ = d mod (q-1), qInv = q^-1 mod p
//
// It fails with InvalidKey when p or q is below 2 or q has no inverse mod p.
// Primality and e*d = 1 mod lambda(n) are left to the backend.
func BuildRSAPrivate(p, q, e, d *big.Int) (*RSAKey, error) {
	const op = "build rsa private key"
	if err := require(op, "P", p, "Q", q, "E", e, "D", d); err != nil {
		return nil, err
	}
	two := big.NewInt(2)
	if p.Cmp(two) < 0 {
		return nil, cdferr.New(cdferr.InvalidKey, op, "P must be at least 2")
	}
	if q.Cmp(two) < 0 {
		return nil, cdferr.New(cdferr.InvalidKey, op, "Q must be at least 2")
	}

	one := big.NewInt(1)
	pm1 := new(big.Int).Sub(p, one)
	qm1 := new(big.Int).Sub(q, one)

	qinv := new(big.Int).ModInverse(q, p)
	if qinv == nil {
		return nil, cdferr.New(cdferr.InvalidKey, op, "Q is not invertible modulo P")
	}

	return &RSAKey{
		n:    new(big.Int).Mul(p, q),
		e:    clone(e),
		d:    clone(d),
		p:    clone(p),
		q:    clone(q),
		dp:   new(big.Int).Mod(d, pm1),
		dq:   new(big.Int).Mod(d, qm1),
		qinv: qinv,
	}, nil
}

func (k *RSAKey) Algorithm() Algorithm { return AlgRSA }
func (k *RSAKey) HasPrivate() bool     { return k.d != nil }
func (k *RSAKey) Width() int           { return codec.ByteLen(k.n) }
func (k *RSAKey) material()            {}

func (k *RSAKey) N() *big.Int { return clone(k.n) }
func (k *RSAKey) E() *big.Int { return clone(k.e) }

// D, P, Q, Dp, Dq and Qinv return nil for public keys.
func (k *RSAKey) D() *big.Int    { return clone(k.d) }
func (k *RSAKey) P() *big.Int    { return clone(k.p) }
func (k *RSAKey) Q() *big.Int    { return clone(k.q) }
func (k *RSAKey) Dp() *big.Int   { return clone(k.dp) }
func (k *RSAKey) Dq() *big.Int   { return clone(k.dq) }
func (k *RSAKey) Qinv() *big.Int { return clone(k.qinv) }

// Public returns the key without its private components.
func (k *RSAKey) Public() *RSAKey {
	return &RSAKey{n: k.n, e: k.e}
}

// PublicExponent returns e as an int, failing with KeyValidationFailed when
// it does not fit, which is the limit most backends impose.
func (k *RSAKey) PublicExponent() (int, error) {
	if !k.e.IsInt64() || k.e.Int64() > int64(^uint32(0)>>1) {
		return 0, cdferr.New(cdferr.KeyValidationFailed, "rsa public exponent", "E does not fit in 31 bits")
	}
	return int(k.e.Int64()), nil
}
