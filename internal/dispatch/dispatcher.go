package dispatch

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/keys"
)

// Dispatcher runs classified requests against one backend.
type Dispatcher struct {
	backend backend.Backend
}

// New returns a dispatcher bound to b.
func New(b backend.Backend) *Dispatcher {
	return &Dispatcher{backend: b}
}

// Backend returns the backend the dispatcher drives.
func (d *Dispatcher) Backend() backend.Backend {
	return d.backend
}

// Result is the outcome of one request.
type Result struct {
	Request Request

	// Signature is set by dsa and ecdsa sign.
	Signature *codec.Signature

	// Verified is the verdict of a verify request.
	Verified bool

	// Data is the output of every other request, including rsasign sign.
	Data []byte

	lines  []string
	verify *Request
}

// Lines returns the stdout lines of the result.
func (r Result) Lines() []string {
	return append([]string(nil), r.lines...)
}

// VerifyRequest returns the verify request matching a sign result: the
// public half of the signing key, the produced signature and the same
// message. ok is false for any other result.
func (r Result) VerifyRequest() (req Request, ok bool) {
	if r.verify == nil {
		return Request{}, false
	}
	req = *r.verify
	req.Args = append([]string(nil), req.Args...)
	return req, true
}

// Run executes req. A signature that does not verify is a Result with
// Verified false, never an error.
func (d *Dispatcher) Run(ctx context.Context, req Request) (Result, error) {
	if !backend.Supports(d.backend, req.Family.Capability()) {
		return Result{}, cdferr.New(cdferr.Unsupported, string(req.Family),
			"backend %q does not offer %s", d.backend.Name(), req.Family)
	}

	log.Debug().
		Str("family", string(req.Family)).
		Str("mode", string(req.Mode)).
		Str("backend", d.backend.Name()).
		Msg("dispatching operation")

	switch req.Family {
	case FamilyDSA:
		return d.runDSA(ctx, req)
	case FamilyECDSA:
		return d.runECDSA(ctx, req)
	case FamilyOAEP:
		return d.runOAEP(ctx, req)
	case FamilyRSASign:
		return d.runRSASign(ctx, req)
	case FamilyHash, FamilyHMAC, FamilyCTR, FamilyXOF:
		return d.runSymmetric(ctx, req)
	}
	return Result{}, cdferr.New(cdferr.MalformedInput, "dispatch", "unknown family %q", req.Family)
}

// =============================================================================
// Argument Parsing
// =============================================================================

// parseInts parses positional integers; names is a space separated list
// matching args, used in error messages.
func parseInts(names string, args []string) ([]*big.Int, error) {
	labels := strings.Fields(names)
	out := make([]*big.Int, len(args))
	for i, a := range args {
		n, err := codec.FromHex(a)
		if err != nil {
			return nil, fmt.Errorf("argument %s: %w", labels[i], err)
		}
		out[i] = n
	}
	return out, nil
}

func parseBytes(name, arg string) ([]byte, error) {
	b, err := codec.Decode(arg)
	if err != nil {
		return nil, fmt.Errorf("argument %s: %w", name, err)
	}
	return b, nil
}

// digest builds the signing input. A positive truncate cuts the value to
// that many leading bytes when it is longer (FIPS 186-3 section 4.6).
func digest(req Request, msgHex string, truncate int) (backend.Digest, error) {
	msg, err := parseBytes("Msg", msgHex)
	if err != nil {
		return backend.Digest{}, err
	}
	d := backend.Digest{Message: msg, Hash: req.Hash}
	if req.HashHex != "" {
		supplied, err := parseBytes("-h", req.HashHex)
		if err != nil {
			return backend.Digest{}, err
		}
		d.Supplied = supplied
		d.Value = supplied
	} else {
		d.Value = req.Hash.Sum(msg)
	}
	if truncate > 0 && len(d.Value) > truncate {
		d.Value = append([]byte(nil), d.Value[:truncate]...)
	}
	return d, nil
}

// =============================================================================
// Signature Families
// =============================================================================

func (d *Dispatcher) runDSA(ctx context.Context, req Request) (Result, error) {
	a := req.Args
	if req.Mode == ModeSign {
		v, err := parseInts("P Q G Y X", a[:5])
		if err != nil {
			return Result{}, err
		}
		key, err := keys.BuildDSA(v[0], v[1], v[2], v[3], v[4])
		if err != nil {
			return Result{}, err
		}
		dg, err := digest(req, a[5], key.Width())
		if err != nil {
			return Result{}, err
		}
		sig, err := d.backend.SignDSA(ctx, key, dg)
		if err != nil {
			return Result{}, err
		}
		return signResult(req, sig, key.Width(), a[:4], a[5])
	}

	v, err := parseInts("P Q G Y R S", a[:6])
	if err != nil {
		return Result{}, err
	}
	key, err := keys.BuildDSA(v[0], v[1], v[2], v[3], nil)
	if err != nil {
		return Result{}, err
	}
	dg, err := digest(req, a[6], key.Width())
	if err != nil {
		return Result{}, err
	}
	ok, err := d.backend.VerifyDSA(ctx, key, dg, codec.Signature{R: v[4], S: v[5]})
	if err != nil {
		return Result{}, err
	}
	return verdict(req, ok), nil
}

func (d *Dispatcher) runECDSA(ctx context.Context, req Request) (Result, error) {
	a := req.Args
	if req.Mode == ModeSign {
		v, err := parseInts("X Y D", a[:3])
		if err != nil {
			return Result{}, err
		}
		key, err := keys.BuildECDSA(v[0], v[1], v[2])
		if err != nil {
			return Result{}, err
		}
		dg, err := digest(req, a[3], 0)
		if err != nil {
			return Result{}, err
		}
		sig, err := d.backend.SignECDSA(ctx, key, dg, req.Deterministic)
		if err != nil {
			return Result{}, err
		}
		return signResult(req, sig, key.Width(), a[:2], a[3])
	}

	v, err := parseInts("X Y R S", a[:4])
	if err != nil {
		return Result{}, err
	}
	key, err := keys.BuildECDSA(v[0], v[1], nil)
	if err != nil {
		return Result{}, err
	}
	dg, err := digest(req, a[4], 0)
	if err != nil {
		return Result{}, err
	}
	ok, err := d.backend.VerifyECDSA(ctx, key, dg, codec.Signature{R: v[2], S: v[3]})
	if err != nil {
		return Result{}, err
	}
	return verdict(req, ok), nil
}

// signResult renders (r, s) and records the verify request built from the
// public arguments, the signature and the message.
func signResult(req Request, sig codec.Signature, width int, public []string, msgHex string) (Result, error) {
	rHex, err := codec.FixedWidthHex(sig.R, width)
	if err != nil {
		return Result{}, err
	}
	sHex, err := codec.FixedWidthHex(sig.S, width)
	if err != nil {
		return Result{}, err
	}

	res := Result{Request: req, Signature: &sig, lines: []string{rHex, sHex}}
	if req.SigFormat == SigDER {
		der, err := codec.ComponentsToDER(sig)
		if err != nil {
			return Result{}, err
		}
		res.lines = []string{codec.Encode(der)}
	}

	args := append(append([]string(nil), public...), rHex, sHex, msgHex)
	res.verify = verifyOf(req, args)
	return res, nil
}

func verifyOf(req Request, args []string) *Request {
	v := req
	v.Mode = ModeVerify
	v.Args = args
	v.Deterministic = false
	return &v
}

func verdict(req Request, ok bool) Result {
	line := "false"
	if ok {
		line = "true"
	}
	return Result{Request: req, Verified: ok, lines: []string{line}}
}

// =============================================================================
// RSA Families
// =============================================================================

func (d *Dispatcher) runOAEP(ctx context.Context, req Request) (Result, error) {
	a := req.Args
	p := backend.OAEPParams{Hash: req.Hash}
	if req.Label {
		label, err := parseBytes("Label", a[len(a)-1])
		if err != nil {
			return Result{}, err
		}
		p.Label = label
	}

	var (
		out []byte
		err error
	)
	if req.Mode == ModeEncrypt {
		v, perr := parseInts("N E", a[:2])
		if perr != nil {
			return Result{}, perr
		}
		key, kerr := keys.BuildRSAPublic(v[0], v[1])
		if kerr != nil {
			return Result{}, kerr
		}
		if p.Input, err = parseBytes("Plain", a[2]); err != nil {
			return Result{}, err
		}
		out, err = d.backend.EncryptOAEP(ctx, key, p)
	} else {
		v, perr := parseInts("P Q E D", a[:4])
		if perr != nil {
			return Result{}, perr
		}
		key, kerr := keys.BuildRSAPrivate(v[0], v[1], v[2], v[3])
		if kerr != nil {
			return Result{}, kerr
		}
		if p.Input, err = parseBytes("Cipher", a[4]); err != nil {
			return Result{}, err
		}
		out, err = d.backend.DecryptOAEP(ctx, key, p)
	}
	if err != nil {
		return Result{}, err
	}
	return data(req, out), nil
}

func (d *Dispatcher) runRSASign(ctx context.Context, req Request) (Result, error) {
	a := req.Args
	if req.Mode == ModeSign {
		v, err := parseInts("P Q E D", a[:4])
		if err != nil {
			return Result{}, err
		}
		key, err := keys.BuildRSAPrivate(v[0], v[1], v[2], v[3])
		if err != nil {
			return Result{}, err
		}
		dg, err := digest(req, a[4], 0)
		if err != nil {
			return Result{}, err
		}
		sig, err := d.backend.SignPKCS1v15(ctx, key, dg)
		if err != nil {
			return Result{}, err
		}
		res := data(req, sig)
		res.verify = verifyOf(req, []string{key.N().Text(16), a[2], codec.Encode(sig), a[4]})
		return res, nil
	}

	v, err := parseInts("N E Sig", a[:3])
	if err != nil {
		return Result{}, err
	}
	key, err := keys.BuildRSAPublic(v[0], v[1])
	if err != nil {
		return Result{}, err
	}
	dg, err := digest(req, a[3], 0)
	if err != nil {
		return Result{}, err
	}
	// a signature wider than the modulus cannot verify
	sig, err := codec.FixedWidth(v[2], key.Width())
	if err != nil {
		return verdict(req, false), nil
	}
	ok, err := d.backend.VerifyPKCS1v15(ctx, key, dg, sig)
	if err != nil {
		return Result{}, err
	}
	return verdict(req, ok), nil
}

// =============================================================================
// Digest and Symmetric Families
// =============================================================================

func (d *Dispatcher) runSymmetric(ctx context.Context, req Request) (Result, error) {
	a := req.Args
	var (
		out []byte
		err error
	)
	switch req.Family {
	case FamilyHash:
		msg, perr := parseBytes("Msg", a[0])
		if perr != nil {
			return Result{}, perr
		}
		out, err = d.backend.Hash(ctx, req.Hash, msg)
	case FamilyHMAC:
		key, perr := parseBytes("Key", a[0])
		if perr != nil {
			return Result{}, perr
		}
		msg, perr := parseBytes("Msg", a[1])
		if perr != nil {
			return Result{}, perr
		}
		out, err = d.backend.HMAC(ctx, req.Hash, key, msg)
	case FamilyCTR:
		key := make([]byte, ctrKeySize)
		plainHex := a[0]
		if len(a) == 2 {
			k, perr := parseBytes("Key", a[0])
			if perr != nil {
				return Result{}, perr
			}
			key, plainHex = k, a[1]
		}
		plain, perr := parseBytes("Plain", plainHex)
		if perr != nil {
			return Result{}, perr
		}
		out, err = d.backend.CTREncrypt(ctx, key, plain)
	case FamilyXOF:
		msg, perr := parseBytes("Msg", a[0])
		if perr != nil {
			return Result{}, perr
		}
		out, err = d.backend.XOF(ctx, req.XOF, msg, req.XOFLen)
	}
	if err != nil {
		return Result{}, err
	}
	return data(req, out), nil
}

func data(req Request, out []byte) Result {
	return Result{Request: req, Data: out, lines: []string{codec.Encode(out)}}
}
