package crosscheck

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"math/rand/v2"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

// Expectation is what a sweep case demands beyond backend agreement.
type Expectation int

const (
	// ExpectAgree only requires the backends to agree.
	ExpectAgree Expectation = iota

	// ExpectReject requires every backend to fail or to print false.
	ExpectReject
)

// Case is one generated request of a battery.
type Case struct {
	Battery string
	Name    string
	Request dispatch.Request
	Expect  Expectation

	// Unique requires the output to differ from every other Unique output
	// of the same battery.
	Unique bool

	// Then turns one backend's output into a follow-up request and the
	// line every backend must print for it.
	Then func(lines []string) (dispatch.Request, string, error)
}

// Finding is one problem found by a sweep.
type Finding struct {
	Battery string
	Case    string
	Backend string
	Detail  string
}

func (f Finding) String() string {
	if f.Backend == "" {
		return fmt.Sprintf("finding %s/%s: %s", f.Battery, f.Case, f.Detail)
	}
	return fmt.Sprintf("finding %s/%s: %s: %s", f.Battery, f.Case, f.Backend, f.Detail)
}

// BatterySummary counts the cases and findings of one battery.
type BatterySummary struct {
	Name     string
	Cases    int
	Findings int
}

// SweepReport collects the findings of a sweep.
type SweepReport struct {
	Family    dispatch.Family
	Batteries []BatterySummary
	Findings  []Finding
}

// OK reports whether the sweep found nothing.
func (r *SweepReport) OK() bool {
	return len(r.Findings) == 0
}

// Cases returns the number of cases run.
func (r *SweepReport) Cases() int {
	n := 0
	for _, b := range r.Batteries {
		n += b.Cases
	}
	return n
}

// Lines renders the report for stdout.
func (r *SweepReport) Lines() []string {
	var out []string
	for _, b := range r.Batteries {
		out = append(out, fmt.Sprintf("battery %s: %d cases, %d findings", b.Name, b.Cases, b.Findings))
	}
	for _, f := range r.Findings {
		out = append(out, f.String())
	}
	if r.OK() {
		out = append(out, "consistent")
	} else {
		out = append(out, "MISMATCH")
	}
	return out
}

func (r *SweepReport) summary(battery string) *BatterySummary {
	for i := range r.Batteries {
		if r.Batteries[i].Name == battery {
			return &r.Batteries[i]
		}
	}
	r.Batteries = append(r.Batteries, BatterySummary{Name: battery})
	return &r.Batteries[len(r.Batteries)-1]
}

func (r *SweepReport) add(f Finding) {
	r.Findings = append(r.Findings, f)
	r.summary(f.Battery).Findings++
}

// Sweep runs every case on every backend. Each case, follow-ups included,
// is bounded by timeout when it is positive; a case that runs into it is
// reported as a possible infinite loop.
func (r *Runner) Sweep(ctx context.Context, family dispatch.Family, cases []Case, timeout time.Duration) (*SweepReport, error) {
	rep := &SweepReport{Family: family}
	seen := make(map[string]map[string]string)

	for _, c := range cases {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.summary(c.Battery).Cases++

		caseCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			caseCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		report, err := r.Run(caseCtx, c.Request)
		if err != nil {
			cancel()
			return rep, fmt.Errorf("%s/%s: %w", c.Battery, c.Name, err)
		}
		r.judge(caseCtx, rep, c, report, seen)
		if errors.Is(caseCtx.Err(), context.DeadlineExceeded) {
			rep.add(Finding{Battery: c.Battery, Case: c.Name,
				Detail: fmt.Sprintf("timed out after %s, possible infinite loop", timeout)})
		}
		cancel()
	}

	log.Info().
		Str("family", string(family)).
		Int("cases", rep.Cases()).
		Int("findings", len(rep.Findings)).
		Msg("sweep finished")
	return rep, nil
}

func (r *Runner) judge(ctx context.Context, rep *SweepReport, c Case, report *Report, seen map[string]map[string]string) {
	for _, m := range report.Mismatches {
		rep.add(Finding{Battery: c.Battery, Case: c.Name, Backend: m.Backend, Detail: m.String()})
	}

	if c.Expect == ExpectReject {
		for _, o := range report.Outcomes {
			if o.Skipped || o.Err != nil || slices.Equal(o.Lines, []string{"false"}) {
				continue
			}
			rep.add(Finding{Battery: c.Battery, Case: c.Name, Backend: o.Backend,
				Detail: fmt.Sprintf("accepted a degenerate input: %s", strings.Join(o.Lines, " "))})
		}
	}

	if c.Unique {
		for _, o := range report.Outcomes {
			if o.Skipped || o.Err != nil {
				continue
			}
			out := strings.Join(o.Lines, " ")
			if seen[c.Battery] == nil {
				seen[c.Battery] = make(map[string]string)
			}
			if prev, ok := seen[c.Battery][out]; ok && prev != c.Name {
				rep.add(Finding{Battery: c.Battery, Case: c.Name, Backend: o.Backend,
					Detail: fmt.Sprintf("same output as case %s", prev)})
			} else {
				seen[c.Battery][out] = c.Name
			}
			break
		}
	}

	if c.Then != nil {
		r.followUp(ctx, rep, c, report)
	}
}

// followUp runs the follow-up of every successful output on every backend.
func (r *Runner) followUp(ctx context.Context, rep *SweepReport, c Case, report *Report) {
	for _, o := range report.Outcomes {
		if o.Skipped || o.Err != nil {
			continue
		}
		next, want, err := c.Then(o.Lines)
		if err != nil {
			rep.add(Finding{Battery: c.Battery, Case: c.Name, Backend: o.Backend,
				Detail: fmt.Sprintf("unusable output: %v", err)})
			continue
		}
		for _, d := range r.dispatchers {
			name := d.Backend().Name()
			res, err := d.Run(ctx, next)
			switch {
			case errors.Is(err, cdferr.ErrUnsupported):
				continue
			case err != nil:
				rep.add(Finding{Battery: c.Battery, Case: c.Name, Backend: name,
					Detail: fmt.Sprintf("%s %s of the output of %s failed: %v", next.Family, next.Mode, o.Backend, err)})
			case strings.Join(res.Lines(), " ") != want:
				rep.add(Finding{Battery: c.Battery, Case: c.Name, Backend: name,
					Detail: fmt.Sprintf("%s %s of the output of %s gave %q, want %q",
						next.Family, next.Mode, o.Backend, strings.Join(res.Lines(), " "), want)})
			}
		}
	}
}

// =============================================================================
// Batteries
// =============================================================================

// SweepOptions shape the generated batteries.
type SweepOptions struct {
	// MinLen and MaxLen bound the message and key lengths in bytes.
	MinLen int
	MaxLen int

	// DigestFlag adds the -h digest length battery to signature families.
	DigestFlag bool

	// Deterministic selects RFC 6979 nonces for ECDSA.
	Deterministic bool

	// Seed makes the generated messages reproducible.
	Seed uint64
}

// DefaultSweepOptions returns lengths from 1 to 32 bytes with the -h battery.
func DefaultSweepOptions() SweepOptions {
	return SweepOptions{MinLen: 1, MaxLen: 32, DigestFlag: true, Seed: 1}
}

func (o SweepOptions) validate() error {
	if o.MinLen < 1 || o.MaxLen < o.MinLen {
		return cdferr.New(cdferr.MalformedInput, "sweep", "invalid length range %d..%d", o.MinLen, o.MaxLen)
	}
	return nil
}

// exponentBits lists the public exponent lengths of the oaep exponent
// battery: every small length, then the boundaries of 32, 64 and 128 bit
// integer types.
var exponentBits = []int{2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17,
	29, 30, 31, 32, 62, 63, 64, 126, 127, 128}

// builder accumulates the cases of one family.
type builder struct {
	family dispatch.Family
	cases  []Case
	err    error
}

func (b *builder) add(c Case, opts dispatch.Options, args ...string) {
	if b.err != nil {
		return
	}
	req, err := dispatch.Classify(b.family, args, opts)
	if err != nil {
		b.err = fmt.Errorf("%s/%s: %w", c.Battery, c.Name, err)
		return
	}
	c.Request = req
	b.cases = append(b.cases, c)
}

func randomHex(rng *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(rng.UintN(256))
	}
	return hex.EncodeToString(buf)
}

// randomKeyHex avoids zero bytes: HMAC pads short keys with zeros, so a
// prefix followed by 00 would collide with the longer prefix.
func randomKeyHex(rng *rand.Rand, n int) string {
	buf := make([]byte, n)
	for i := range buf {
		buf[i] = byte(1 + rng.UintN(255))
	}
	return hex.EncodeToString(buf)
}

func lenName(n int) string { return fmt.Sprintf("len%d", n) }

// Batteries generates the sweep cases of family.
func Batteries(family dispatch.Family, ks *KeySet, opts SweepOptions) ([]Case, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	b := &builder{family: family}

	var err error
	switch family {
	case dispatch.FamilyDSA:
		err = dsaBatteries(b, ks, opts, rng)
	case dispatch.FamilyECDSA:
		err = ecdsaBatteries(b, ks, opts, rng)
	case dispatch.FamilyOAEP:
		err = oaepBatteries(b, ks, opts, rng)
	case dispatch.FamilyRSASign:
		err = rsasignBatteries(b, ks, opts, rng)
	case dispatch.FamilyHash, dispatch.FamilyXOF:
		digestBatteries(b, opts, rng)
	case dispatch.FamilyHMAC:
		hmacBatteries(b, opts, rng)
	case dispatch.FamilyCTR:
		ctrBatteries(b, opts, rng)
	default:
		return nil, cdferr.New(cdferr.MalformedInput, "sweep", "unknown family %q", family)
	}
	if err != nil {
		return nil, err
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.cases, nil
}

func dsaBatteries(b *builder, ks *KeySet, opts SweepOptions, rng *rand.Rand) error {
	pub, err := ks.dsaPublicArgs()
	if err != nil {
		return err
	}
	k := ks.DSA
	priv := []string{k.P, k.Q, k.G, k.Y, k.X}
	msg := randomHex(rng, opts.MaxLen)

	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "msglen", Name: lenName(n)}, dispatch.Options{}, append(slices.Clone(priv), msg[:2*n])...)
	}
	if opts.DigestFlag {
		for n := 1; n <= opts.MaxLen; n++ {
			b.add(Case{Battery: "hashlen", Name: lenName(n)}, dispatch.Options{HashHex: msg[:2*n]},
				append(slices.Clone(priv), msg)...)
		}
	}

	short := randomHex(rng, opts.MinLen)
	for i, name := range []string{"P", "Q", "G", "X"} {
		idx := []int{0, 1, 2, 4}[i]
		zero := slices.Clone(priv)
		zero[idx] = "00"
		b.add(Case{Battery: "zeros", Name: name, Expect: ExpectReject}, dispatch.Options{}, append(zero, short)...)
	}
	for i, name := range []string{"P", "Q", "G"} {
		one := slices.Clone(priv)
		one[i] = "01"
		b.add(Case{Battery: "ones", Name: name, Expect: ExpectReject}, dispatch.Options{}, append(one, short)...)
	}

	for _, rs := range [][2]string{{"00", "00"}, {"01", "00"}, {"00", "01"}, {"01", k.Q}} {
		b.add(Case{Battery: "zerosig", Name: "r=" + shortName(rs[0]) + ",s=" + shortName(rs[1]), Expect: ExpectReject},
			dispatch.Options{}, append(slices.Clone(pub), rs[0], rs[1], "434343")...)
	}
	b.add(Case{Battery: "zerohash", Name: "h=00", Expect: ExpectReject}, dispatch.Options{HashHex: "00"},
		append(slices.Clone(pub), "01", "01", "434343")...)
	return nil
}

func ecdsaBatteries(b *builder, ks *KeySet, opts SweepOptions, rng *rand.Rand) error {
	pub, err := ks.ecdsaPublicArgs()
	if err != nil {
		return err
	}
	k := ks.ECDSA
	priv := []string{k.X, k.Y, k.D}
	msg := randomHex(rng, opts.MaxLen)
	base := dispatch.Options{Deterministic: opts.Deterministic}

	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "msglen", Name: lenName(n), Unique: opts.Deterministic}, base,
			append(slices.Clone(priv), msg[:2*n])...)
	}
	if opts.DigestFlag {
		for n := 1; n <= opts.MaxLen; n++ {
			o := base
			o.HashHex = msg[:2*n]
			// digests longer than the group order are truncated to it
			b.add(Case{Battery: "hashlen", Name: lenName(n), Unique: opts.Deterministic && n <= 32}, o,
				append(slices.Clone(priv), msg)...)
		}
	}

	short := randomHex(rng, opts.MinLen)
	b.add(Case{Battery: "zeropoint", Name: "x=y=d=0", Expect: ExpectReject}, dispatch.Options{}, "00", "00", "00", short)
	for _, rs := range [][2]string{{"00", "00"}, {"00", "01"}, {"01", "00"}} {
		b.add(Case{Battery: "zerosig", Name: "r=" + rs[0] + ",s=" + rs[1], Expect: ExpectReject},
			dispatch.Options{}, append(slices.Clone(pub), rs[0], rs[1], "434343")...)
	}
	b.add(Case{Battery: "zerohash", Name: "h=00", Expect: ExpectReject}, dispatch.Options{HashHex: "00"},
		append(slices.Clone(pub), pub[0], pub[0], "deadc0de")...)
	b.add(Case{Battery: "infloop", Name: "h=00,d=0", Expect: ExpectReject}, dispatch.Options{HashHex: "00"},
		append(slices.Clone(pub), "00", "deadc0de")...)
	return nil
}

func oaepBatteries(b *builder, ks *KeySet, opts SweepOptions, rng *rand.Rand) error {
	pub, err := ks.rsaPublicArgs()
	if err != nil {
		return err
	}
	key, err := ks.rsaKey()
	if err != nil {
		return err
	}
	k := ks.RSA
	msg := randomHex(rng, opts.MaxLen)

	roundTrip := func(e, d, plain string) func([]string) (dispatch.Request, string, error) {
		return func(lines []string) (dispatch.Request, string, error) {
			if len(lines) != 1 {
				return dispatch.Request{}, "", fmt.Errorf("want one ciphertext line, got %d", len(lines))
			}
			req, err := dispatch.Classify(dispatch.FamilyOAEP, []string{k.P, k.Q, e, d, lines[0]}, dispatch.Options{})
			return req, plain, err
		}
	}

	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		plain := msg[:2*n]
		b.add(Case{Battery: "msglen", Name: lenName(n), Then: roundTrip(pub[1], k.D, plain)},
			dispatch.Options{}, pub[0], pub[1], plain)
	}

	plain := msg[:2*min(3, opts.MaxLen)]
	for _, bits := range exponentBits {
		e, d, ok := exponentPair(rng, key.P(), key.Q(), bits)
		if !ok {
			log.Debug().Int("bits", bits).Msg("no public exponent of this length is coprime with phi")
			continue
		}
		b.add(Case{Battery: "exponent", Name: fmt.Sprintf("e%dbits", bits), Then: roundTrip(e, d, plain)},
			dispatch.Options{}, pub[0], e, plain)
	}

	large := randomHex(rng, key.Width()+8)
	b.add(Case{Battery: "largemod", Name: "modulus+8", Expect: ExpectReject}, dispatch.Options{}, pub[0], pub[1], large)
	return nil
}

func rsasignBatteries(b *builder, ks *KeySet, opts SweepOptions, rng *rand.Rand) error {
	if _, err := ks.rsaKey(); err != nil {
		return err
	}
	k := ks.RSA
	priv := []string{k.P, k.Q, k.E, k.D}
	msg := randomHex(rng, opts.MaxLen)

	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "msglen", Name: lenName(n), Unique: true}, dispatch.Options{},
			append(slices.Clone(priv), msg[:2*n])...)
	}
	if opts.DigestFlag {
		for n := 1; n <= opts.MaxLen; n++ {
			b.add(Case{Battery: "hashlen", Name: lenName(n)}, dispatch.Options{HashHex: msg[:2*n]},
				append(slices.Clone(priv), msg)...)
		}
	}
	return nil
}

func digestBatteries(b *builder, opts SweepOptions, rng *rand.Rand) {
	msg := randomHex(rng, opts.MaxLen)
	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "msglen", Name: lenName(n), Unique: true}, dispatch.Options{}, msg[:2*n])
	}
}

func hmacBatteries(b *builder, opts SweepOptions, rng *rand.Rand) {
	msg := randomHex(rng, opts.MaxLen)
	key := randomKeyHex(rng, opts.MaxLen)
	mid := max(opts.MinLen, (opts.MinLen+opts.MaxLen)/2)

	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "msglen", Name: lenName(n), Unique: true}, dispatch.Options{}, key[:2*mid], msg[:2*n])
	}
	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "keylen", Name: lenName(n), Unique: true}, dispatch.Options{}, key[:2*n], msg[:2*mid])
	}
}

func ctrBatteries(b *builder, opts SweepOptions, rng *rand.Rand) {
	msg := randomHex(rng, opts.MaxLen)
	key := randomHex(rng, 32)

	for n := opts.MinLen; n <= opts.MaxLen; n++ {
		b.add(Case{Battery: "msglen", Name: lenName(n)}, dispatch.Options{}, key[:32], msg[:2*n])
	}
	// only 16, 24 and 32 are AES key sizes; the others must fail alike
	for n := 1; n <= 32; n++ {
		b.add(Case{Battery: "keylen", Name: lenName(n)}, dispatch.Options{}, key[:2*n], msg)
	}
}

func shortName(s string) string {
	if len(s) <= 4 {
		return s
	}
	return "q"
}

// exponentPair returns a prime public exponent of exactly bits bits that is
// coprime with (p-1)(q-1), and its private exponent. ok is false when the
// search runs out of candidates.
func exponentPair(rng *rand.Rand, p, q *big.Int, bits int) (e, d string, ok bool) {
	one := big.NewInt(1)
	phi := new(big.Int).Mul(new(big.Int).Sub(p, one), new(big.Int).Sub(q, one))
	lo := new(big.Int).Lsh(one, uint(bits-1))
	hi := new(big.Int).Lsh(one, uint(bits))

	// random odd start in [lo, hi)
	buf := make([]byte, (bits+7)/8)
	for i := range buf {
		buf[i] = byte(rng.UintN(256))
	}
	start := new(big.Int).Mod(new(big.Int).SetBytes(buf), lo)
	start.Add(start, lo)
	start.SetBit(start, 0, 1)

	cand := new(big.Int).Set(start)
	two := big.NewInt(2)
	gcd := new(big.Int)
	for {
		if cand.ProbablyPrime(20) && gcd.GCD(nil, nil, cand, phi).Cmp(one) == 0 {
			if inv := new(big.Int).ModInverse(cand, phi); inv != nil {
				return cand.Text(16), inv.Text(16), true
			}
		}
		cand.Add(cand, two)
		if cand.Cmp(hi) >= 0 {
			cand.Add(lo, one)
		}
		if cand.Cmp(start) == 0 {
			break
		}
	}
	return "", "", false
}
