// Package dispatch turns one command line into one backend operation.
//
// Classify is a pure function of the family, the positional argument count
// and the flags: it picks the mode before any key or signature parsing
// happens. Dispatcher.Run then parses the arguments, builds key material,
// invokes the backend and renders the canonical output lines.
package dispatch

import (
	"fmt"
	"strings"

	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/cdferr"
)

// Family names one operation family, matching the CLI subcommand.
type Family string

const (
	FamilyDSA     Family = "dsa"
	FamilyECDSA   Family = "ecdsa"
	FamilyOAEP    Family = "oaep"
	FamilyRSASign Family = "rsasign"
	FamilyHash    Family = "hash"
	FamilyHMAC    Family = "hmac"
	FamilyCTR     Family = "ctr"
	FamilyXOF     Family = "xof"
)

// Families lists every family in display order.
var Families = []Family{
	FamilyDSA, FamilyECDSA, FamilyOAEP, FamilyRSASign,
	FamilyHash, FamilyHMAC, FamilyCTR, FamilyXOF,
}

// Capability returns the backend capability the family needs.
func (f Family) Capability() backend.Capability {
	return backend.Capability(f)
}

// Mode is the operation selected for a request.
type Mode string

const (
	ModeSign    Mode = "sign"
	ModeVerify  Mode = "verify"
	ModeEncrypt Mode = "encrypt"
	ModeDecrypt Mode = "decrypt"
	ModeDigest  Mode = "digest"
)

// SigFormat selects how sign results are printed.
type SigFormat string

const (
	SigP1363 SigFormat = "p1363"
	SigDER   SigFormat = "der"
)

// ParseSigFormat accepts "p1363" or "der". Empty means p1363.
func ParseSigFormat(s string) (SigFormat, error) {
	switch SigFormat(strings.ToLower(s)) {
	case "", SigP1363:
		return SigP1363, nil
	case SigDER:
		return SigDER, nil
	}
	return "", cdferr.New(cdferr.MalformedInput, "parse signature format", "unknown format %q (use p1363 or der)", s)
}

// Options are the flag values of one invocation.
type Options struct {
	// HashHex is a precomputed digest that replaces hashing the message.
	HashHex string

	// Deterministic selects RFC 6979 nonces for ECDSA.
	Deterministic bool

	SigFormat string

	// OAEPHash is the OAEP hash and MGF1 hash. Empty means sha1.
	OAEPHash string

	// Alg is the hash family algorithm, the HMAC hash or the XOF.
	Alg string

	// XOFLen is the XOF output length in bytes. Nil selects 32; zero is a
	// valid length.
	XOFLen *int
}

const (
	defaultDigestAlg = backend.SHA256
	defaultOAEPHash  = backend.SHA1
	defaultXOFAlg    = backend.SHAKE128
	defaultXOFLen    = 32

	// MaxXOFLen bounds the XOF output length.
	MaxXOFLen = 1 << 20

	// signHash is the message hash of every signature family.
	signHash = backend.SHA256

	ctrKeySize = 16
)

// Request is one classified operation. It holds the raw positional
// arguments; nothing has been parsed yet.
type Request struct {
	Family Family
	Mode   Mode
	Args   []string

	// HashHex is the -h digest, or empty.
	HashHex       string
	Deterministic bool
	SigFormat     SigFormat

	// Hash is the signing hash, the OAEP hash, or the hash/HMAC algorithm.
	Hash backend.HashAlg

	XOF    backend.XOFAlg
	XOFLen int

	// Label reports whether the last OAEP argument is a label.
	Label bool
}

var usages = map[Family]string{
	FamilyDSA:     "dsa P Q G Y X Msg | dsa P Q G Y R S Msg",
	FamilyECDSA:   "ecdsa X Y D Msg | ecdsa X Y R S Msg",
	FamilyOAEP:    "oaep N E Plain [Label] | oaep P Q E D Cipher [Label]",
	FamilyRSASign: "rsasign P Q E D Msg | rsasign N E Sig Msg",
	FamilyHash:    "hash Msg",
	FamilyHMAC:    "hmac Key Msg",
	FamilyCTR:     "ctr [Key] Plain",
	FamilyXOF:     "xof Msg",
}

// Usage returns the usage line of a family.
func Usage(f Family) string {
	return usages[f]
}

// modeTable maps a family and a positional argument count to a mode.
var modeTable = map[Family]map[int]Mode{
	FamilyDSA:     {6: ModeSign, 7: ModeVerify},
	FamilyECDSA:   {4: ModeSign, 5: ModeVerify},
	FamilyOAEP:    {3: ModeEncrypt, 4: ModeEncrypt, 5: ModeDecrypt, 6: ModeDecrypt},
	FamilyRSASign: {5: ModeSign, 4: ModeVerify},
	FamilyHash:    {1: ModeDigest},
	FamilyHMAC:    {2: ModeDigest},
	FamilyCTR:     {1: ModeEncrypt, 2: ModeEncrypt},
	FamilyXOF:     {1: ModeDigest},
}

// Classify selects the mode from the argument count and resolves the flag
// values. It does not parse any positional argument.
func Classify(family Family, args []string, opts Options) (Request, error) {
	op := "classify " + string(family)

	modes, ok := modeTable[family]
	if !ok {
		return Request{}, cdferr.New(cdferr.MalformedInput, "classify", "unknown family %q", family)
	}
	mode, ok := modes[len(args)]
	if !ok {
		return Request{}, cdferr.New(cdferr.MalformedInput, op,
			"got %d arguments, usage: %s", len(args), Usage(family))
	}

	req := Request{
		Family:        family,
		Mode:          mode,
		Args:          append([]string(nil), args...),
		Deterministic: opts.Deterministic,
	}

	switch family {
	case FamilyDSA, FamilyECDSA, FamilyRSASign:
		req.Hash = signHash
		req.HashHex = opts.HashHex
		format, err := ParseSigFormat(opts.SigFormat)
		if err != nil {
			return Request{}, err
		}
		if format == SigDER && family == FamilyRSASign {
			return Request{}, cdferr.New(cdferr.MalformedInput, op, "--sig-format applies to dsa and ecdsa only")
		}
		req.SigFormat = format
	case FamilyOAEP:
		h, err := resolveHash(opts.OAEPHash, defaultOAEPHash)
		if err != nil {
			return Request{}, err
		}
		req.Hash = h
		req.Label = len(args) == 4 || len(args) == 6
	case FamilyHash, FamilyHMAC:
		h, err := resolveHash(opts.Alg, defaultDigestAlg)
		if err != nil {
			return Request{}, err
		}
		req.Hash = h
	case FamilyXOF:
		alg := defaultXOFAlg
		if opts.Alg != "" {
			parsed, err := backend.ParseXOFAlg(opts.Alg)
			if err != nil {
				return Request{}, err
			}
			alg = parsed
		}
		req.XOF = alg
		req.XOFLen = defaultXOFLen
		if opts.XOFLen != nil {
			req.XOFLen = *opts.XOFLen
		}
		if req.XOFLen < 0 || req.XOFLen > MaxXOFLen {
			return Request{}, cdferr.New(cdferr.MalformedInput, op,
				"output length must be between 0 and %d, got %d", MaxXOFLen, req.XOFLen)
		}
	}

	if opts.HashHex != "" && req.HashHex == "" {
		return Request{}, cdferr.New(cdferr.MalformedInput, op, "-h applies to dsa, ecdsa and rsasign only")
	}
	if opts.Deterministic && family != FamilyECDSA {
		return Request{}, cdferr.New(cdferr.MalformedInput, op, "--deterministic applies to ecdsa only")
	}
	return req, nil
}

func resolveHash(name string, def backend.HashAlg) (backend.HashAlg, error) {
	if name == "" {
		return def, nil
	}
	return backend.ParseHashAlg(name)
}

// String renders the request without its arguments, which may hold
// private key material.
func (r Request) String() string {
	return fmt.Sprintf("%s %s (%d args)", r.Family, r.Mode, len(r.Args))
}
