// Package codec converts between the textual and binary forms used on the
// cdfkit command line: hex strings, fixed-width big-endian integers and the
// two signature encodings (IEEE P1363 r||s and ASN.1 DER).
package codec

import (
	"encoding/hex"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// Decode converts a hex string into bytes. Upper and lower case digits are
// accepted; an odd length or a non-hex character is MalformedInput.
func Decode(s string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, cdferr.Wrap(cdferr.MalformedInput, "hex decode", err)
	}
	return b, nil
}

// Encode returns the canonical lower-case, even-length hex form of b.
func Encode(b []byte) string {
	return hex.EncodeToString(b)
}

// isHexDigit reports whether c is an ASCII hex digit.
func isHexDigit(c byte) bool {
	switch {
	case '0' <= c && c <= '9':
		return true
	case 'a' <= c && c <= 'f':
		return true
	case 'A' <= c && c <= 'F':
		return true
	}
	return false
}
