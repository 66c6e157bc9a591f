package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/audit"
	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/cdferr"
	"github.com/remiblancher/cdfkit/internal/crosscheck"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

var crosscheckSweepCmd = &cobra.Command{
	Use:   "sweep FAMILY --backends a,b",
	Short: "Run generated input batteries on several backends",
	Long: `Generate input batteries for a family and crosscheck every case.

Batteries per family:
  dsa      message and -h digest lengths; zero and one parameters; zero
           signatures; zero digest (degenerate cases must be rejected)
  ecdsa    message and -h digest lengths; zero point; zero signatures;
           zero digest; zero digest with zero scalar (a timeout suggests
           an infinite loop)
  oaep     message lengths with decryption round trip; public exponents
           of 2 to 128 bits; plaintext longer than the modulus
  rsasign  message and -h digest lengths
  hash     message lengths (outputs must all differ)
  hmac     message and key lengths (outputs must all differ)
  ctr      message and key lengths
  xof      message lengths (outputs must all differ)

Keys come from --keys (YAML with dsa, ecdsa and rsa sections) or from
built-in test keys. The command fails on any finding.

Examples:
  cdfkit crosscheck sweep hash --backends go,exec
  cdfkit crosscheck sweep ecdsa --backends go,cose --deterministic --max-len 64
  cdfkit crosscheck sweep oaep --backends go,pkcs11 --config backends.yaml --keys keys.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: runSweep,
}

var crosscheckTimingCmd = &cobra.Command{
	Use:   "timing FAMILY --backends a[,b...]",
	Short: "Look for timing leaks with a dudect style t-test",
	Long: `Time each backend on two classes of inputs and compare the timings with
Welch's t-test, on raw, cropped and second order timings.

A |t| above 500 means definitely not constant time; above 5 for more than
five consecutive rounds, probably not. The command fails when any backend
leaks.

Examples:
  cdfkit crosscheck timing oaep --backends go
  cdfkit crosscheck timing ecdsa --backends go,pkcs11 --config backends.yaml --rounds 50`,
	Args: cobra.ExactArgs(1),
	RunE: runTiming,
}

var (
	sweepBackends      []string
	sweepKeys          string
	sweepMinLen        int
	sweepMaxLen        int
	sweepNoDigest      bool
	sweepDeterministic bool
	sweepTimeout       time.Duration
	sweepSeed          uint64

	timingBackends     []string
	timingKeys         string
	timingRounds       int
	timingMeasurements int
	timingSeed         uint64
)

func init() {
	f := crosscheckSweepCmd.Flags()
	f.StringSliceVar(&sweepBackends, "backends", nil, "Comma-separated backends to compare (required)")
	_ = crosscheckSweepCmd.MarkFlagRequired("backends")
	f.StringVar(&sweepKeys, "keys", "", "YAML key set (default: built-in test keys)")
	f.IntVar(&sweepMinLen, "min-len", 1, "Shortest message and key in bytes")
	f.IntVar(&sweepMaxLen, "max-len", 32, "Longest message and key in bytes")
	f.BoolVar(&sweepNoDigest, "no-digest", false, "Skip the -h digest length batteries")
	f.BoolVar(&sweepDeterministic, "deterministic", false, "Derive ECDSA nonces per RFC 6979")
	f.DurationVar(&sweepTimeout, "timeout", 10*time.Second, "Time limit per case, 0 for none")
	f.Uint64Var(&sweepSeed, "seed", 1, "Seed of the generated messages")

	f = crosscheckTimingCmd.Flags()
	f.StringSliceVar(&timingBackends, "backends", nil, "Comma-separated backends to time (required)")
	_ = crosscheckTimingCmd.MarkFlagRequired("backends")
	f.StringVar(&timingKeys, "keys", "", "YAML key set (default: built-in test keys)")
	f.IntVar(&timingRounds, "rounds", 10, "Maximum number of rounds")
	f.IntVar(&timingMeasurements, "measurements", 3000, "Timed operations per round")
	f.Uint64Var(&timingSeed, "seed", 1, "Seed of the inputs and class order")

	crosscheckCmd.AddCommand(crosscheckSweepCmd)
	crosscheckCmd.AddCommand(crosscheckTimingCmd)
}

// openBackends opens every named backend, in order.
func openBackends(list []string) ([]backend.Backend, []string, error) {
	var (
		backends []backend.Backend
		names    []string
	)
	for _, name := range list {
		b, err := openNamedBackend(strings.TrimSpace(name))
		if err != nil {
			return nil, nil, err
		}
		backends = append(backends, b)
		names = append(names, b.Name())
	}
	return backends, names, nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	family := dispatch.Family(strings.ToLower(args[0]))

	ks, err := crosscheck.LoadKeySet(sweepKeys)
	if err != nil {
		return err
	}
	opts := crosscheck.SweepOptions{
		MinLen:        sweepMinLen,
		MaxLen:        sweepMaxLen,
		DigestFlag:    !sweepNoDigest,
		Deterministic: sweepDeterministic,
		Seed:          sweepSeed,
	}
	cases, err := crosscheck.Batteries(family, ks, opts)
	if err != nil {
		return err
	}

	backends, names, err := openBackends(sweepBackends)
	if err != nil {
		return err
	}

	report, runErr := crosscheck.New(backends...).Sweep(cmd.Context(), family, cases, sweepTimeout)
	report.Findings = append(ks.CheckFamily(family), report.Findings...)

	out := cmd.OutOrStdout()
	lines := report.Lines()
	lines[len(lines)-1] = formatStatus(out, lines[len(lines)-1])
	if err := printLines(out, lines); err != nil {
		return err
	}

	op := audit.Operation{Family: string(family), Mode: "sweep", Backends: names}
	if err := audit.LogCrosscheck(op, len(report.Findings), runErr); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if !report.OK() {
		return fmt.Errorf("sweep found %d finding(s)", len(report.Findings))
	}
	return nil
}

func runTiming(cmd *cobra.Command, args []string) error {
	family := dispatch.Family(strings.ToLower(args[0]))

	ks, err := crosscheck.LoadKeySet(timingKeys)
	if err != nil {
		return err
	}
	// fail on a bad family before opening any backend
	if _, err := crosscheck.TimingInputs(family, ks, timingSeed); err != nil {
		return err
	}

	backends, names, err := openBackends(timingBackends)
	if err != nil {
		return err
	}

	opts := crosscheck.TimingOptions{
		Rounds:       timingRounds,
		Measurements: timingMeasurements,
		Enough:       timingMeasurements,
		Seed:         timingSeed,
	}
	out := cmd.OutOrStdout()
	var (
		leaks, ran int
		runErr     error
	)
	for _, b := range backends {
		// every backend sees the same inputs
		gen, err := crosscheck.TimingInputs(family, ks, timingSeed)
		if err != nil {
			return err
		}
		res, err := crosscheck.MeasureTiming(cmd.Context(), dispatch.New(b), gen, opts)
		if errors.Is(err, cdferr.ErrUnsupported) {
			if err := printLines(out, []string{b.Name() + ": skipped"}); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			runErr = err
			break
		}
		ran++
		if res.Leaks() {
			leaks++
		}
		if err := printLines(out, []string{res.Line()}); err != nil {
			return err
		}
	}
	if runErr == nil && ran == 0 {
		runErr = fmt.Errorf("none of the backends offers %s", family)
	}

	op := audit.Operation{Family: string(family), Mode: "timing", Backends: names}
	if err := audit.LogCrosscheck(op, leaks, runErr); err != nil {
		return err
	}
	if runErr != nil {
		return runErr
	}
	if leaks > 0 {
		return fmt.Errorf("timing leak suspected on %d backend(s)", leaks)
	}
	return nil
}
