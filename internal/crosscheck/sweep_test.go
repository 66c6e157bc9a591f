package crosscheck

import (
	"context"
	"math/big"
	"math/rand/v2"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

// =============================================================================
// Test Helpers
// =============================================================================

// constantHash prints the same digest for every message.
type constantHash struct {
	backend.Backend
	name string
}

func (c *constantHash) Name() string { return c.name }

func (c *constantHash) Hash(context.Context, backend.HashAlg, []byte) ([]byte, error) {
	return make([]byte, 32), nil
}

// stalling never finishes a hash before its context ends.
type stalling struct {
	backend.Backend
}

func (s *stalling) Name() string { return "stalling" }

func (s *stalling) Hash(ctx context.Context, _ backend.HashAlg, _ []byte) ([]byte, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func smallSweep() SweepOptions {
	opts := DefaultSweepOptions()
	opts.MaxLen = 4
	return opts
}

func batteries(t *testing.T, family dispatch.Family, opts SweepOptions) []Case {
	t.Helper()
	cases, err := Batteries(family, DefaultKeySet(), opts)
	require.NoError(t, err)
	return cases
}

func countCases(cases []Case) map[string]int {
	out := make(map[string]int)
	for _, c := range cases {
		out[c.Battery]++
	}
	return out
}

func findingsIn(rep *SweepReport, battery string) []Finding {
	var out []Finding
	for _, f := range rep.Findings {
		if f.Battery == battery {
			out = append(out, f)
		}
	}
	return out
}

// =============================================================================
// Battery Generation Tests
// =============================================================================

func TestU_Batteries_Counts(t *testing.T) {
	opts := DefaultSweepOptions()
	tests := []struct {
		family dispatch.Family
		want   map[string]int
	}{
		{dispatch.FamilyHash, map[string]int{"msglen": 32}},
		{dispatch.FamilyXOF, map[string]int{"msglen": 32}},
		{dispatch.FamilyHMAC, map[string]int{"msglen": 32, "keylen": 32}},
		{dispatch.FamilyCTR, map[string]int{"msglen": 32, "keylen": 32}},
		{dispatch.FamilyRSASign, map[string]int{"msglen": 32, "hashlen": 32}},
		{dispatch.FamilyDSA, map[string]int{
			"msglen": 32, "hashlen": 32, "zeros": 4, "ones": 3, "zerosig": 4, "zerohash": 1,
		}},
		{dispatch.FamilyECDSA, map[string]int{
			"msglen": 32, "hashlen": 32, "zeropoint": 1, "zerosig": 3, "zerohash": 1, "infloop": 1,
		}},
	}

	for _, tt := range tests {
		t.Run(string(tt.family), func(t *testing.T) {
			assert.Equal(t, tt.want, countCases(batteries(t, tt.family, opts)))
		})
	}
}

func TestU_Batteries_OAEP(t *testing.T) {
	counts := countCases(batteries(t, dispatch.FamilyOAEP, DefaultSweepOptions()))
	assert.Equal(t, 32, counts["msglen"])
	assert.Equal(t, 1, counts["largemod"])
	assert.Greater(t, counts["exponent"], 0)
	assert.LessOrEqual(t, counts["exponent"], len(exponentBits))
}

func TestU_Batteries_NoDigestFlag(t *testing.T) {
	opts := DefaultSweepOptions()
	opts.DigestFlag = false
	counts := countCases(batteries(t, dispatch.FamilyECDSA, opts))
	assert.NotContains(t, counts, "hashlen")
}

func TestU_Batteries_Reproducible(t *testing.T) {
	a := batteries(t, dispatch.FamilyHMAC, smallSweep())
	b := batteries(t, dispatch.FamilyHMAC, smallSweep())
	require.Len(t, b, len(a))
	for i := range a {
		assert.Equal(t, a[i].Request.Args, b[i].Request.Args)
	}

	opts := smallSweep()
	opts.Seed = 2
	c := batteries(t, dispatch.FamilyHMAC, opts)
	assert.NotEqual(t, a[0].Request.Args, c[0].Request.Args)
}

func TestU_Batteries_HMACKeyHasNoZeroBytes(t *testing.T) {
	for _, c := range batteries(t, dispatch.FamilyHMAC, DefaultSweepOptions()) {
		if c.Battery != "keylen" {
			continue
		}
		key := c.Request.Args[0]
		for i := 0; i < len(key); i += 2 {
			assert.NotEqual(t, "00", key[i:i+2], "case %s", c.Name)
		}
	}
}

func TestU_Batteries_Errors(t *testing.T) {
	_, err := Batteries("rot13", DefaultKeySet(), DefaultSweepOptions())
	assert.Error(t, err)

	opts := DefaultSweepOptions()
	opts.MinLen, opts.MaxLen = 8, 4
	_, err = Batteries(dispatch.FamilyHash, DefaultKeySet(), opts)
	assert.Error(t, err)

	opts.MinLen = 0
	_, err = Batteries(dispatch.FamilyHash, DefaultKeySet(), opts)
	assert.Error(t, err)

	ks := DefaultKeySet()
	ks.RSA.P = "zz"
	_, err = Batteries(dispatch.FamilyOAEP, ks, DefaultSweepOptions())
	assert.Error(t, err)
}

func TestU_ExponentPair(t *testing.T) {
	key, err := DefaultKeySet().rsaKey()
	require.NoError(t, err)
	one := big.NewInt(1)
	phi := new(big.Int).Mul(new(big.Int).Sub(key.P(), one), new(big.Int).Sub(key.Q(), one))
	rng := rand.New(rand.NewPCG(7, 7))

	for _, bits := range []int{3, 17, 32, 64, 128} {
		eHex, dHex, ok := exponentPair(rng, key.P(), key.Q(), bits)
		require.True(t, ok, "bits %d", bits)

		e, _ := new(big.Int).SetString(eHex, 16)
		d, _ := new(big.Int).SetString(dHex, 16)
		assert.Equal(t, bits, e.BitLen())
		assert.True(t, e.ProbablyPrime(20))
		assert.Equal(t, 0, new(big.Int).Mod(new(big.Int).Mul(e, d), phi).Cmp(one))
	}
}

func TestU_ExponentPair_Exhausted(t *testing.T) {
	// p-1 and q-1 are both divisible by 3, the only 2-bit candidate
	p, q := big.NewInt(7), big.NewInt(13)
	_, _, ok := exponentPair(rand.New(rand.NewPCG(1, 1)), p, q, 2)
	assert.False(t, ok)
}

// =============================================================================
// Sweep Tests
// =============================================================================

func TestU_Sweep_HashConsistent(t *testing.T) {
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))
	rep, err := r.Sweep(context.Background(), dispatch.FamilyHash, batteries(t, dispatch.FamilyHash, DefaultSweepOptions()), time.Second)
	require.NoError(t, err)

	assert.True(t, rep.OK(), rep.Lines())
	assert.Equal(t, 32, rep.Cases())
	assert.Equal(t, []BatterySummary{{Name: "msglen", Cases: 32}}, rep.Batteries)
	assert.Equal(t, "consistent", rep.Lines()[len(rep.Lines())-1])
}

func TestU_Sweep_FlagsFlippedHash(t *testing.T) {
	flipped := copyOfGo(t, "flipped")
	flipped.flipHash = true
	r := New(open(t, "go"), flipped)

	rep, err := r.Sweep(context.Background(), dispatch.FamilyHash, batteries(t, dispatch.FamilyHash, smallSweep()), 0)
	require.NoError(t, err)

	require.Len(t, rep.Findings, 4)
	for _, f := range rep.Findings {
		assert.Equal(t, "flipped", f.Backend)
		assert.Contains(t, f.Detail, "mismatch output")
	}
	assert.Equal(t, "MISMATCH", rep.Lines()[len(rep.Lines())-1])
	assert.Contains(t, rep.Lines(), "battery msglen: 4 cases, 4 findings")
}

func TestU_Sweep_FlagsDuplicateOutputs(t *testing.T) {
	go1 := open(t, "go")
	r := New(&constantHash{Backend: go1, name: "a"}, &constantHash{Backend: go1, name: "b"})

	rep, err := r.Sweep(context.Background(), dispatch.FamilyHash, batteries(t, dispatch.FamilyHash, smallSweep()), 0)
	require.NoError(t, err)

	// every case after the first repeats the output of len1
	require.Len(t, rep.Findings, 3)
	for _, f := range rep.Findings {
		assert.Equal(t, "same output as case len1", f.Detail)
	}
}

func TestU_Sweep_FlagsAcceptedDegenerateInput(t *testing.T) {
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))
	cases := []Case{{
		Battery: "custom",
		Name:    "accepted",
		Request: classify(t, dispatch.FamilyHash, dispatch.Options{}, "00"),
		Expect:  ExpectReject,
	}}

	rep, err := r.Sweep(context.Background(), dispatch.FamilyHash, cases, 0)
	require.NoError(t, err)

	require.Len(t, rep.Findings, 2)
	assert.Equal(t, "go", rep.Findings[0].Backend)
	assert.Equal(t, "go-copy", rep.Findings[1].Backend)
	assert.Contains(t, rep.Findings[0].String(), "finding custom/accepted: go: accepted a degenerate input")
}

func TestU_Sweep_FollowUp(t *testing.T) {
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))
	abc := classify(t, dispatch.FamilyHash, dispatch.Options{}, "616263")
	then := func(want string) func([]string) (dispatch.Request, string, error) {
		return func([]string) (dispatch.Request, string, error) { return abc, want, nil }
	}
	const sha256abc = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

	rep, err := r.Sweep(context.Background(), dispatch.FamilyHash, []Case{{
		Battery: "custom", Name: "good", Request: abc, Then: then(sha256abc),
	}}, 0)
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.Lines())

	rep, err = r.Sweep(context.Background(), dispatch.FamilyHash, []Case{{
		Battery: "custom", Name: "bad", Request: abc, Then: then("00"),
	}}, 0)
	require.NoError(t, err)
	// two outputs, each followed up on two backends
	assert.Len(t, rep.Findings, 4)
}

func TestU_Sweep_ReportsTimeout(t *testing.T) {
	r := New(open(t, "go"), &stalling{Backend: open(t, "go")})
	cases := []Case{{
		Battery: "infloop",
		Name:    "stall",
		Request: classify(t, dispatch.FamilyHash, dispatch.Options{}, "00"),
	}}

	rep, err := r.Sweep(context.Background(), dispatch.FamilyHash, cases, 20*time.Millisecond)
	require.NoError(t, err)

	var timedOut bool
	for _, f := range rep.Findings {
		if strings.Contains(f.Detail, "possible infinite loop") {
			timedOut = true
		}
	}
	assert.True(t, timedOut, rep.Lines())
}

func TestU_Sweep_NeedsTwoBackends(t *testing.T) {
	r := New(open(t, "go"))
	_, err := r.Sweep(context.Background(), dispatch.FamilyHash, batteries(t, dispatch.FamilyHash, smallSweep()), 0)
	assert.Error(t, err)
}

func TestU_Sweep_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))
	_, err := r.Sweep(ctx, dispatch.FamilyHash, batteries(t, dispatch.FamilyHash, smallSweep()), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

// =============================================================================
// Family Sweep Tests
// =============================================================================

func TestU_Sweep_SymmetricFamiliesConsistent(t *testing.T) {
	for _, family := range []dispatch.Family{dispatch.FamilyHMAC, dispatch.FamilyCTR, dispatch.FamilyXOF, dispatch.FamilyRSASign} {
		t.Run(string(family), func(t *testing.T) {
			r := New(open(t, "go"), copyOfGo(t, "go-copy"))
			rep, err := r.Sweep(context.Background(), family, batteries(t, family, smallSweep()), 0)
			require.NoError(t, err)
			assert.True(t, rep.OK(), rep.Lines())
		})
	}
}

func TestU_Sweep_DSAAcceptsGeneratorOne(t *testing.T) {
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))
	rep, err := r.Sweep(context.Background(), dispatch.FamilyDSA, batteries(t, dispatch.FamilyDSA, smallSweep()), 0)
	require.NoError(t, err)

	// crypto/dsa signs with G = 1, every other degenerate key is refused
	require.NotEmpty(t, rep.Findings)
	for _, f := range rep.Findings {
		assert.Equal(t, "ones", f.Battery, f.String())
		assert.Equal(t, "G", f.Case, f.String())
	}
	assert.Empty(t, findingsIn(rep, "zeros"))
	assert.Empty(t, findingsIn(rep, "zerosig"))
}

func TestU_Sweep_ECDSADeterministic(t *testing.T) {
	opts := smallSweep()
	opts.Deterministic = true
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))

	rep, err := r.Sweep(context.Background(), dispatch.FamilyECDSA, batteries(t, dispatch.FamilyECDSA, opts), time.Minute)
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.Lines())
}

func TestU_Sweep_OAEPRoundTrip(t *testing.T) {
	r := New(open(t, "go"), copyOfGo(t, "go-copy"))
	rep, err := r.Sweep(context.Background(), dispatch.FamilyOAEP, batteries(t, dispatch.FamilyOAEP, smallSweep()), 0)
	require.NoError(t, err)
	assert.True(t, rep.OK(), rep.Lines())
}
