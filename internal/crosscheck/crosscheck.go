// Package crosscheck runs one request on several backends and reports
// where they disagree.
//
// Deterministic outputs (digests, verdicts, decryptions, PKCS#1 v1.5 and
// RFC 6979 signatures) are compared line by line. Signatures are also
// verified by every other backend, which covers randomized signers whose
// outputs cannot be compared directly.
package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

// MismatchKind classifies a disagreement.
type MismatchKind string

const (
	// MismatchOutput means two backends printed different lines.
	MismatchOutput MismatchKind = "output"

	// MismatchVerify means a backend rejected another backend's signature.
	MismatchVerify MismatchKind = "verify"

	// MismatchError means one backend failed where another did not, or
	// they failed differently.
	MismatchError MismatchKind = "error"
)

// Outcome is the result of the request on one backend.
type Outcome struct {
	Backend string
	Lines   []string
	Err     error

	// Skipped is set when the backend does not offer the operation.
	Skipped bool
}

// Mismatch is one disagreement between two backends.
type Mismatch struct {
	Kind    MismatchKind
	Backend string
	Other   string
	Detail  string
}

func (m Mismatch) String() string {
	return fmt.Sprintf("mismatch %s: %s vs %s: %s", m.Kind, m.Backend, m.Other, m.Detail)
}

// Report collects every outcome and mismatch of one run.
type Report struct {
	Request    dispatch.Request
	Outcomes   []Outcome
	Mismatches []Mismatch

	// Compared is false when the output is randomized and only the
	// cross-verification applies.
	Compared bool
}

// OK reports whether no mismatch was found.
func (r *Report) OK() bool {
	return len(r.Mismatches) == 0
}

// Ran returns the number of backends that did not skip the request.
func (r *Report) Ran() int {
	n := 0
	for _, o := range r.Outcomes {
		if !o.Skipped {
			n++
		}
	}
	return n
}

// Lines renders the report for stdout.
func (r *Report) Lines() []string {
	var out []string
	for _, o := range r.Outcomes {
		switch {
		case o.Skipped:
			out = append(out, fmt.Sprintf("%s: skipped", o.Backend))
		case o.Err != nil:
			out = append(out, fmt.Sprintf("%s: ERROR %v", o.Backend, o.Err))
		default:
			out = append(out, fmt.Sprintf("%s: %s", o.Backend, strings.Join(o.Lines, " ")))
		}
	}
	for _, m := range r.Mismatches {
		out = append(out, m.String())
	}
	if r.OK() {
		out = append(out, "consistent")
	} else {
		out = append(out, "MISMATCH")
	}
	return out
}

// Runner drives a set of backends.
type Runner struct {
	dispatchers []*dispatch.Dispatcher
}

// New returns a runner over backends, in the given order.
func New(backends ...backend.Backend) *Runner {
	r := &Runner{}
	for _, b := range backends {
		r.dispatchers = append(r.dispatchers, dispatch.New(b))
	}
	return r
}

// Run executes req on every backend, compares deterministic outputs and
// cross-verifies signatures. It fails only when fewer than two backends
// could run the request.
func (r *Runner) Run(ctx context.Context, req dispatch.Request) (*Report, error) {
	if len(r.dispatchers) < 2 {
		return nil, fmt.Errorf("crosscheck needs at least two backends, got %d", len(r.dispatchers))
	}

	report := &Report{Request: req, Compared: deterministic(req)}
	results := make([]*dispatch.Result, len(r.dispatchers))

	for i, d := range r.dispatchers {
		name := d.Backend().Name()
		res, err := d.Run(ctx, req)
		switch {
		case errors.Is(err, cdferr.ErrUnsupported):
			report.Outcomes = append(report.Outcomes, Outcome{Backend: name, Skipped: true})
		case err != nil:
			report.Outcomes = append(report.Outcomes, Outcome{Backend: name, Err: err})
		default:
			results[i] = &res
			report.Outcomes = append(report.Outcomes, Outcome{Backend: name, Lines: res.Lines()})
		}
	}

	if report.Ran() < 2 {
		return report, fmt.Errorf("crosscheck needs at least two backends offering %s, got %d", req.Family, report.Ran())
	}

	report.compareErrors()
	if report.Compared {
		report.compareOutputs()
	}
	if req.Mode == dispatch.ModeSign {
		r.crossVerify(ctx, report, results)
	}

	for _, m := range report.Mismatches {
		log.Warn().
			Str("kind", string(m.Kind)).
			Str("backend", m.Backend).
			Str("other", m.Other).
			Msg("backends disagree")
	}
	return report, nil
}

// deterministic reports whether every correct backend must print the same
// lines for req.
func deterministic(req dispatch.Request) bool {
	switch {
	case req.Family == dispatch.FamilyOAEP && req.Mode == dispatch.ModeEncrypt:
		return false
	case req.Family == dispatch.FamilyDSA && req.Mode == dispatch.ModeSign:
		return false
	case req.Family == dispatch.FamilyECDSA && req.Mode == dispatch.ModeSign:
		return req.Deterministic
	}
	return true
}

// compareErrors flags backends whose failure kind differs from the first
// backend that ran.
func (r *Report) compareErrors() {
	var ref *Outcome
	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		if o.Skipped {
			continue
		}
		if ref == nil {
			ref = o
			continue
		}
		refKind, kind := cdferr.KindOf(ref.Err), cdferr.KindOf(o.Err)
		if (ref.Err == nil) != (o.Err == nil) || refKind != kind {
			r.Mismatches = append(r.Mismatches, Mismatch{
				Kind:    MismatchError,
				Backend: o.Backend,
				Other:   ref.Backend,
				Detail:  fmt.Sprintf("%s vs %s", describe(o.Err), describe(ref.Err)),
			})
		}
	}
}

func describe(err error) string {
	if err == nil {
		return "success"
	}
	if k := cdferr.KindOf(err); k != 0 {
		return k.String()
	}
	return "error"
}

// compareOutputs flags successful backends whose lines differ from the
// first successful backend.
func (r *Report) compareOutputs() {
	var ref *Outcome
	for i := range r.Outcomes {
		o := &r.Outcomes[i]
		if o.Skipped || o.Err != nil {
			continue
		}
		if ref == nil {
			ref = o
			continue
		}
		if !slices.Equal(ref.Lines, o.Lines) {
			r.Mismatches = append(r.Mismatches, Mismatch{
				Kind:    MismatchOutput,
				Backend: o.Backend,
				Other:   ref.Backend,
				Detail:  fmt.Sprintf("%q vs %q", strings.Join(o.Lines, " "), strings.Join(ref.Lines, " ")),
			})
		}
	}
}

// crossVerify checks every produced signature on every other backend.
func (r *Runner) crossVerify(ctx context.Context, rep *Report, results []*dispatch.Result) {
	for i, res := range results {
		if res == nil {
			continue
		}
		vreq, ok := res.VerifyRequest()
		if !ok {
			continue
		}
		signer := r.dispatchers[i].Backend().Name()

		for j, d := range r.dispatchers {
			if j == i {
				continue
			}
			verifier := d.Backend().Name()
			vres, err := d.Run(ctx, vreq)
			switch {
			case errors.Is(err, cdferr.ErrUnsupported):
				continue
			case err != nil:
				rep.Mismatches = append(rep.Mismatches, Mismatch{
					Kind:    MismatchVerify,
					Backend: signer,
					Other:   verifier,
					Detail:  fmt.Sprintf("%s failed to verify: %v", verifier, err),
				})
			case !vres.Verified:
				rep.Mismatches = append(rep.Mismatches, Mismatch{
					Kind:    MismatchVerify,
					Backend: signer,
					Other:   verifier,
					Detail:  fmt.Sprintf("%s rejected the signature of %s", verifier, signer),
				})
			}
		}
	}
}
