package codec

import (
	"math/big"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// FromHex parses s as an unsigned big-endian magnitude. Signs, prefixes and
// separators are rejected. Odd-length strings are accepted since the value
// is a number, not a byte string.
func FromHex(s string) (*big.Int, error) {
	if s == "" {
		return nil, cdferr.New(cdferr.MalformedInput, "integer decode", "empty hex string")
	}
	for i := 0; i < len(s); i++ {
		if !isHexDigit(s[i]) {
			return nil, cdferr.New(cdferr.MalformedInput, "integer decode",
				"invalid hex character %q at offset %d", s[i], i)
		}
	}
	n, ok := new(big.Int).SetString(s, 16)
	if !ok {
		return nil, cdferr.New(cdferr.MalformedInput, "integer decode", "cannot parse %q", s)
	}
	return n, nil
}

// ByteLen returns ceil(bitlen(n)/8), the number of bytes of the minimal
// big-endian form of n. Zero has length 0.
func ByteLen(n *big.Int) int {
	return (n.BitLen() + 7) / 8
}

// FixedWidth serializes n big-endian, left-padded with zeros to exactly
// width bytes. It fails with Overflow when n needs more than width bytes.
func FixedWidth(n *big.Int, width int) ([]byte, error) {
	if n == nil {
		return nil, cdferr.New(cdferr.MalformedInput, "fixed-width encode", "missing integer")
	}
	if n.Sign() < 0 {
		return nil, cdferr.New(cdferr.MalformedInput, "fixed-width encode", "negative integer")
	}
	if width < 0 {
		return nil, cdferr.New(cdferr.MalformedInput, "fixed-width encode", "negative width %d", width)
	}
	if l := ByteLen(n); l > width {
		return nil, cdferr.New(cdferr.Overflow, "fixed-width encode",
			"value needs %d bytes, field is %d", l, width)
	}
	return n.FillBytes(make([]byte, width)), nil
}

// FixedWidthHex is FixedWidth followed by Encode.
func FixedWidthHex(n *big.Int, width int) (string, error) {
	b, err := FixedWidth(n, width)
	if err != nil {
		return "", err
	}
	return Encode(b), nil
}

// DERMinimal returns the content octets of a DER INTEGER holding the
// non-negative n: no leading zero bytes, except a single 0x00 when the top
// bit of the first byte would otherwise be set. Zero encodes as 0x00.
func DERMinimal(n *big.Int) []byte {
	b := n.Bytes()
	if len(b) == 0 {
		return []byte{0x00}
	}
	if b[0]&0x80 != 0 {
		return append([]byte{0x00}, b...)
	}
	return b
}
