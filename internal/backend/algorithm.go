package backend

import (
	"crypto"
	"crypto/md5"  //nolint:gosec // md5 is one of the digests under test
	"crypto/sha1" //nolint:gosec // sha1 is the OAEP default of the reference programs
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"hash"
	"sort"
	"strings"

	"github.com/cloudflare/circl/xof"
	"golang.org/x/crypto/blake2s"
	"golang.org/x/crypto/sha3"

	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// HashAlg names a fixed-output hash function.
type HashAlg string

const (
	MD5      HashAlg = "md5"
	SHA1     HashAlg = "sha1"
	SHA256   HashAlg = "sha256"
	SHA512   HashAlg = "sha512"
	SHA3_256 HashAlg = "sha3-256"
	BLAKE2s  HashAlg = "blake2s"
)

type hashInfo struct {
	id  crypto.Hash
	new func() hash.Hash
}

var hashRegistry = map[HashAlg]hashInfo{
	MD5:      {crypto.MD5, md5.New},
	SHA1:     {crypto.SHA1, sha1.New},
	SHA256:   {crypto.SHA256, sha256.New},
	SHA512:   {crypto.SHA512, sha512.New},
	SHA3_256: {crypto.SHA3_256, sha3.New256},
	BLAKE2s:  {crypto.BLAKE2s_256, newBLAKE2s},
}

func newBLAKE2s() hash.Hash {
	h, _ := blake2s.New256(nil) // only fails for keys over 32 bytes
	return h
}

// ParseHashAlg maps a lower-case name such as "sha256" to a HashAlg.
func ParseHashAlg(s string) (HashAlg, error) {
	alg := HashAlg(strings.ToLower(s))
	if _, ok := hashRegistry[alg]; !ok {
		return "", cdferr.New(cdferr.MalformedInput, "parse hash",
			"unknown hash %q (valid: %s)", s, strings.Join(HashNames(), ", "))
	}
	return alg, nil
}

// HashNames returns the supported hash names, sorted.
func HashNames() []string {
	names := make([]string, 0, len(hashRegistry))
	for alg := range hashRegistry {
		names = append(names, string(alg))
	}
	sort.Strings(names)
	return names
}

// New returns a fresh hash.Hash. It panics on an unknown algorithm; use
// ParseHashAlg at the edges.
func (h HashAlg) New() hash.Hash {
	info, ok := hashRegistry[h]
	if !ok {
		panic(fmt.Sprintf("backend: unknown hash %q", string(h)))
	}
	return info.new()
}

// CryptoHash returns the crypto.Hash identifier.
func (h HashAlg) CryptoHash() crypto.Hash {
	return hashRegistry[h].id
}

// Size returns the digest length in bytes.
func (h HashAlg) Size() int {
	return h.CryptoHash().Size()
}

// Sum hashes msg in-process.
func (h HashAlg) Sum(msg []byte) []byte {
	w := h.New()
	w.Write(msg)
	return w.Sum(nil)
}

// XOFAlg names an extendable-output function.
type XOFAlg string

const (
	SHAKE128 XOFAlg = "shake128"
	SHAKE256 XOFAlg = "shake256"
	BLAKE2XB XOFAlg = "blake2xb"
	BLAKE2XS XOFAlg = "blake2xs"
)

var xofRegistry = map[XOFAlg]xof.ID{
	SHAKE128: xof.SHAKE128,
	SHAKE256: xof.SHAKE256,
	BLAKE2XB: xof.BLAKE2XB,
	BLAKE2XS: xof.BLAKE2XS,
}

// ParseXOFAlg maps a lower-case name such as "shake128" to an XOFAlg.
func ParseXOFAlg(s string) (XOFAlg, error) {
	alg := XOFAlg(strings.ToLower(s))
	if _, ok := xofRegistry[alg]; !ok {
		names := make([]string, 0, len(xofRegistry))
		for a := range xofRegistry {
			names = append(names, string(a))
		}
		sort.Strings(names)
		return "", cdferr.New(cdferr.MalformedInput, "parse xof",
			"unknown xof %q (valid: %s)", s, strings.Join(names, ", "))
	}
	return alg, nil
}
