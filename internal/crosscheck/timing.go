package crosscheck

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"math/rand/v2"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/codec"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

// Timing leakage detection follows dudect (Reparaz, Balasch, Verbauwhede):
// two input classes are timed in random order and compared with Welch's
// t-test, on the raw timings, on timings cropped at 100 percentiles and,
// past 10000 measurements, on centered squared timings.

const (
	tThresholdDefinite = 500
	tThresholdModerate = 5

	numberPercentiles = 100
	numberTests       = 1 + numberPercentiles + 1
	secondOrderAfter  = 10000

	// strikesToStop is the count of consecutive "probably not constant
	// time" rounds after which measuring stops.
	strikesToStop = 5
)

// Verdict is the conclusion of a timing run.
type Verdict string

const (
	VerdictNotEnough     Verdict = "not enough measurements"
	VerdictMaybeConstant Verdict = "maybe constant time"
	VerdictProbablyNot   Verdict = "probably not constant time"
	VerdictDefinitelyNot Verdict = "definitely not constant time"
)

// tContext accumulates one Welch t-test with Welford's online variance.
type tContext struct {
	mean [2]float64
	m2   [2]float64
	n    [2]float64
}

func (c *tContext) push(x float64, class int) {
	c.n[class]++
	delta := x - c.mean[class]
	c.mean[class] += delta / c.n[class]
	c.m2[class] += delta * (x - c.mean[class])
}

// compute returns the t statistic, or 0 while it is undefined.
func (c *tContext) compute() float64 {
	if c.n[0] < 2 || c.n[1] < 2 {
		return 0
	}
	v0 := c.m2[0] / (c.n[0] - 1)
	v1 := c.m2[1] / (c.n[1] - 1)
	den := math.Sqrt(v0/c.n[0] + v1/c.n[1])
	if den == 0 {
		return 0
	}
	return (c.mean[0] - c.mean[1]) / den
}

// leakage holds every t-test of one timing run.
type leakage struct {
	tests       [numberTests]tContext
	percentiles [numberPercentiles]float64
	prepared    bool
}

// percentile returns the value below which the fraction which of the
// sorted measurements fall.
func percentile(sorted []float64, which float64) float64 {
	i := int(which * float64(len(sorted)))
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	if i < 0 {
		i = 0
	}
	return sorted[i]
}

// preparePercentiles sets the crop thresholds from the first round. They
// get denser towards the fast end of the distribution.
func (l *leakage) preparePercentiles(times []float64) {
	if len(times) == 0 {
		return
	}
	sorted := slices.Clone(times)
	slices.Sort(sorted)
	for i := range l.percentiles {
		l.percentiles[i] = percentile(sorted, 1-math.Pow(0.5, 10*float64(i+1)/numberPercentiles))
	}
	l.prepared = true
}

func (l *leakage) update(times []float64, classes []int) {
	for i, x := range times {
		if x < 0 {
			continue
		}
		c := classes[i]
		l.tests[0].push(x, c)
		for p, limit := range l.percentiles {
			if x < limit {
				l.tests[p+1].push(x, c)
			}
		}
		if l.tests[0].n[0] > secondOrderAfter {
			centered := x - l.tests[0].mean[c]
			l.tests[numberTests-1].push(centered*centered, c)
		}
	}
}

// result reports the test with the largest |t| among those with more than
// enough class 0 measurements.
func (l *leakage) result(enough float64) TimingResult {
	best, bestT := 0, 0.0
	for i := range l.tests {
		if l.tests[i].n[0] <= enough {
			continue
		}
		if t := math.Abs(l.tests[i].compute()); t > bestT {
			best, bestT = i, t
		}
	}

	ctx := l.tests[best]
	traces := ctx.n[0] + ctx.n[1]
	res := TimingResult{Test: best, Measurements: traces, MaxT: bestT}
	if traces > 0 {
		res.MaxTau = bestT / math.Sqrt(traces)
	}

	switch {
	case traces < enough:
		res.Verdict = VerdictNotEnough
	case bestT > tThresholdDefinite:
		res.Verdict = VerdictDefinitelyNot
	case bestT > tThresholdModerate:
		res.Verdict = VerdictProbablyNot
	default:
		res.Verdict = VerdictMaybeConstant
	}
	return res
}

// TimingResult is the state of a timing run after its last round.
type TimingResult struct {
	Backend string
	Family  dispatch.Family
	Rounds  int

	// Measurements counts both classes of the reported test.
	Measurements float64

	// Test is 0 for raw timings, 1 to 100 for cropped timings and 101 for
	// the second order test.
	Test    int
	MaxT    float64
	MaxTau  float64
	Verdict Verdict
}

// Leaks reports whether the run concluded the timings depend on the class.
func (r TimingResult) Leaks() bool {
	return r.Verdict == VerdictProbablyNot || r.Verdict == VerdictDefinitelyNot
}

// Line renders the result for stdout.
func (r TimingResult) Line() string {
	needed := math.Inf(1)
	if r.MaxTau > 0 {
		needed = 25 / (r.MaxTau * r.MaxTau)
	}
	return fmt.Sprintf("%s: %s: %s (rounds %d, measurements %.0f, max t(%d) %.2f, max tau %.2e, (5/tau)^2 %.2e)",
		r.Backend, r.Family, r.Verdict, r.Rounds, r.Measurements, r.Test, r.MaxT, r.MaxTau, needed)
}

// TimingOptions bound a timing run.
type TimingOptions struct {
	// Rounds is the maximum number of measurement rounds.
	Rounds int

	// Measurements is the number of timed operations per round.
	Measurements int

	// Enough is the number of measurements needed before a verdict.
	Enough int

	// Seed drives the class order and the generated inputs.
	Seed uint64
}

// DefaultTimingOptions returns 10 rounds of 3000 measurements.
func DefaultTimingOptions() TimingOptions {
	return TimingOptions{Rounds: 10, Measurements: 3000, Enough: 3000, Seed: 1}
}

func (o TimingOptions) validate() error {
	if o.Rounds < 1 || o.Measurements < 2 || o.Enough < 0 {
		return cdferr.New(cdferr.MalformedInput, "timing", "rounds and measurements must be positive")
	}
	return nil
}

// InputGenerator returns the next request of the given class, 0 or 1.
type InputGenerator func(class int) (dispatch.Request, error)

// MeasureTiming times d on inputs of two classes until a round concludes
// "definitely not constant time", strikesToStop consecutive rounds conclude
// "probably not constant time", or the rounds run out. Operation failures
// are timed like successes.
func MeasureTiming(ctx context.Context, d *dispatch.Dispatcher, gen InputGenerator, opts TimingOptions) (TimingResult, error) {
	if err := opts.validate(); err != nil {
		return TimingResult{}, err
	}
	rng := rand.New(rand.NewPCG(opts.Seed, ^opts.Seed))
	name := d.Backend().Name()

	var (
		l       leakage
		res     = TimingResult{Backend: name, Verdict: VerdictNotEnough}
		strikes int
	)
	for round := 1; round <= opts.Rounds; round++ {
		classes := make([]int, opts.Measurements)
		reqs := make([]dispatch.Request, opts.Measurements)
		for i := range reqs {
			classes[i] = rng.IntN(2)
			req, err := gen(classes[i])
			if err != nil {
				return res, err
			}
			reqs[i] = req
		}

		times := make([]float64, len(reqs))
		for i, req := range reqs {
			if err := ctx.Err(); err != nil {
				return res, err
			}
			start := time.Now()
			_, err := d.Run(ctx, req)
			times[i] = float64(time.Since(start).Nanoseconds())
			if errors.Is(err, cdferr.ErrUnsupported) {
				return res, err
			}
		}

		if !l.prepared {
			l.preparePercentiles(times)
		}
		l.update(times, classes)

		res = l.result(float64(opts.Enough))
		res.Backend = name
		res.Family = reqs[0].Family
		res.Rounds = round

		log.Debug().
			Str("backend", name).
			Int("round", round).
			Float64("max_t", res.MaxT).
			Str("verdict", string(res.Verdict)).
			Msg("timing round")

		switch res.Verdict {
		case VerdictDefinitelyNot:
			return res, nil
		case VerdictProbablyNot:
			strikes++
			if strikes > strikesToStop {
				return res, nil
			}
		default:
			strikes = 0
		}
	}
	return res, nil
}

// =============================================================================
// Input Classes
// =============================================================================

// TimingInputs returns the two input classes of family:
//   - signatures sign one of two fixed messages
//   - oaep decrypts textbook RSA ciphertexts whose plaintext has a nonzero
//     leading byte (class 0) or a zero one (class 1)
//   - the other families compare one fixed input with random ones
func TimingInputs(family dispatch.Family, ks *KeySet, seed uint64) (InputGenerator, error) {
	rng := rand.New(rand.NewPCG(seed^0x5851f42d4c957f2d, seed))
	classify := func(args ...string) (dispatch.Request, error) {
		return dispatch.Classify(family, args, dispatch.Options{})
	}
	twoMessages := func(prefix []string) InputGenerator {
		msgs := [2]string{randomHex(rng, 20), randomHex(rng, 20)}
		return func(class int) (dispatch.Request, error) {
			return classify(append(slices.Clone(prefix), msgs[class])...)
		}
	}
	fixedOrRandom := func(sizes ...int) InputGenerator {
		fixed := make([]string, len(sizes))
		for i, n := range sizes {
			fixed[i] = randomHex(rng, n)
		}
		return func(class int) (dispatch.Request, error) {
			if class == 0 {
				return classify(fixed...)
			}
			args := make([]string, len(sizes))
			for i, n := range sizes {
				args[i] = randomHex(rng, n)
			}
			return classify(args...)
		}
	}

	switch family {
	case dispatch.FamilyDSA:
		if _, err := ks.dsaKey(); err != nil {
			return nil, err
		}
		k := ks.DSA
		return twoMessages([]string{k.P, k.Q, k.G, k.Y, k.X}), nil
	case dispatch.FamilyECDSA:
		if _, err := ks.ecdsaKey(); err != nil {
			return nil, err
		}
		k := ks.ECDSA
		return twoMessages([]string{k.X, k.Y, k.D}), nil
	case dispatch.FamilyRSASign:
		if _, err := ks.rsaKey(); err != nil {
			return nil, err
		}
		k := ks.RSA
		return twoMessages([]string{k.P, k.Q, k.E, k.D}), nil
	case dispatch.FamilyOAEP:
		return oaepTimingInputs(ks, rng)
	case dispatch.FamilyHash, dispatch.FamilyXOF:
		return fixedOrRandom(32), nil
	case dispatch.FamilyHMAC, dispatch.FamilyCTR:
		return fixedOrRandom(16, 32), nil
	}
	return nil, cdferr.New(cdferr.MalformedInput, "timing", "unknown family %q", family)
}

func oaepTimingInputs(ks *KeySet, rng *rand.Rand) (InputGenerator, error) {
	key, err := ks.rsaKey()
	if err != nil {
		return nil, err
	}
	n, e := key.N(), key.E()
	width := key.Width()
	lower := new(big.Int).Lsh(big.NewInt(1), uint(8*(width-1)))
	upper := new(big.Int).Sub(n, lower)
	k := ks.RSA

	return func(class int) (dispatch.Request, error) {
		var m *big.Int
		if class == 0 {
			m = randomBelow(rng, upper)
			m.Add(m, lower)
		} else {
			m = randomBelow(rng, lower)
		}
		c, err := codec.FixedWidthHex(new(big.Int).Exp(m, e, n), width)
		if err != nil {
			return dispatch.Request{}, err
		}
		return dispatch.Classify(dispatch.FamilyOAEP, []string{k.P, k.Q, k.E, k.D, c}, dispatch.Options{})
	}, nil
}

// randomBelow returns a value in [0, bound) with negligible bias.
func randomBelow(rng *rand.Rand, bound *big.Int) *big.Int {
	buf := make([]byte, len(bound.Bytes())+8)
	for i := range buf {
		buf[i] = byte(rng.UintN(256))
	}
	return new(big.Int).Mod(new(big.Int).SetBytes(buf), bound)
}
