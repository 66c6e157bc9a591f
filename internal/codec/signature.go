package codec

import (
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// Signature is the (r, s) pair produced by DSA and ECDSA.
type Signature struct {
	R, S *big.Int
}

// Equal reports whether both components match.
func (sig Signature) Equal(other Signature) bool {
	if sig.R == nil || sig.S == nil || other.R == nil || other.S == nil {
		return false
	}
	return sig.R.Cmp(other.R) == 0 && sig.S.Cmp(other.S) == 0
}

func (sig Signature) check(op string) error {
	if sig.R == nil || sig.S == nil {
		return cdferr.New(cdferr.MalformedInput, op, "missing signature component")
	}
	if sig.R.Sign() < 0 || sig.S.Sign() < 0 {
		return cdferr.New(cdferr.MalformedInput, op, "negative signature component")
	}
	return nil
}

// P1363ToComponents splits a raw r||s signature. b must be exactly
// 2*width bytes long.
func P1363ToComponents(b []byte, width int) (Signature, error) {
	if width <= 0 {
		return Signature{}, cdferr.New(cdferr.MalformedInput, "p1363 decode", "invalid width %d", width)
	}
	if len(b) != 2*width {
		return Signature{}, cdferr.New(cdferr.MalformedInput, "p1363 decode",
			"signature is %d bytes, want %d", len(b), 2*width)
	}
	return Signature{
		R: new(big.Int).SetBytes(b[:width]),
		S: new(big.Int).SetBytes(b[width:]),
	}, nil
}

// ComponentsToP1363 concatenates r and s, each left-padded to width bytes.
func ComponentsToP1363(sig Signature, width int) ([]byte, error) {
	if err := sig.check("p1363 encode"); err != nil {
		return nil, err
	}
	r, err := FixedWidth(sig.R, width)
	if err != nil {
		return nil, err
	}
	s, err := FixedWidth(sig.S, width)
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 2*width)
	out = append(out, r...)
	return append(out, s...), nil
}

// DERToComponents parses SEQUENCE { INTEGER r, INTEGER s }. Tag or length
// mismatches, truncation, trailing bytes, negative integers and padded
// (non-minimal) integers are all MalformedInput; nothing is returned on
// partial success. A successful parse re-encodes byte for byte.
func DERToComponents(b []byte) (Signature, error) {
	input := cryptobyte.String(b)
	var seq cryptobyte.String
	if !input.ReadASN1(&seq, asn1.SEQUENCE) {
		return Signature{}, cdferr.New(cdferr.MalformedInput, "der decode", "invalid or truncated SEQUENCE")
	}
	if !input.Empty() {
		return Signature{}, cdferr.New(cdferr.MalformedInput, "der decode",
			"%d trailing bytes after SEQUENCE", len(input))
	}
	r, err := readInteger(&seq, "r")
	if err != nil {
		return Signature{}, err
	}
	s, err := readInteger(&seq, "s")
	if err != nil {
		return Signature{}, err
	}
	if !seq.Empty() {
		return Signature{}, cdferr.New(cdferr.MalformedInput, "der decode",
			"%d unexpected bytes inside SEQUENCE", len(seq))
	}
	return Signature{R: r, S: s}, nil
}

func readInteger(seq *cryptobyte.String, name string) (*big.Int, error) {
	var content cryptobyte.String
	if !seq.ReadASN1(&content, asn1.INTEGER) {
		return nil, cdferr.New(cdferr.MalformedInput, "der decode", "invalid or truncated INTEGER %s", name)
	}
	if len(content) == 0 {
		return nil, cdferr.New(cdferr.MalformedInput, "der decode", "empty INTEGER %s", name)
	}
	if content[0]&0x80 != 0 {
		return nil, cdferr.New(cdferr.MalformedInput, "der decode", "negative INTEGER %s", name)
	}
	if content[0] == 0x00 && len(content) > 1 {
		if content[1]&0x80 == 0 {
			return nil, cdferr.New(cdferr.MalformedInput, "der decode", "non-minimal INTEGER %s", name)
		}
		content = content[1:]
	}
	return new(big.Int).SetBytes(content), nil
}

// ComponentsToDER encodes SEQUENCE { INTEGER r, INTEGER s } with minimal
// INTEGER contents and a short-form length up to 127 bytes.
func ComponentsToDER(sig Signature) ([]byte, error) {
	if err := sig.check("der encode"); err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1(asn1.INTEGER, func(b *cryptobyte.Builder) {
			b.AddBytes(DERMinimal(sig.R))
		})
		b.AddASN1(asn1.INTEGER, func(b *cryptobyte.Builder) {
			b.AddBytes(DERMinimal(sig.S))
		})
	})
	out, err := b.Bytes()
	if err != nil {
		return nil, cdferr.Wrap(cdferr.PrimitiveFailed, "der encode", err)
	}
	return out, nil
}
