package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/remiblancher/cdfkit/internal/audit"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

// addDigestFlag registers -h, the precomputed digest of signature families.
// It takes the -h shorthand before cobra assigns it to --help.
func addDigestFlag(f *pflag.FlagSet, opts *dispatch.Options) {
	f.StringVarP(&opts.HashHex, "hash-hex", "h", "", "Use this hex digest instead of hashing Msg")
}

func addSigFormatFlag(f *pflag.FlagSet, opts *dispatch.Options) {
	f.StringVar(&opts.SigFormat, "sig-format", "", "Signature output format: p1363 (r and s lines) or der")
}

// addXOFLenFlag registers --len. Only an explicit value reaches Classify,
// so --len 0 asks for an empty output.
func addXOFLenFlag(f *pflag.FlagSet, n *int) {
	f.IntVar(n, "len", 32, fmt.Sprintf("XOF output length in bytes, 0 to %d", dispatch.MaxXOFLen))
}

func xofLenOption(cmd *cobra.Command, n int) *int {
	if !cmd.Flags().Changed("len") {
		return nil
	}
	return &n
}

// runOperation classifies args, runs the request on the selected backend,
// records it in the audit log and prints the result lines.
func runOperation(cmd *cobra.Command, family dispatch.Family, args []string, opts dispatch.Options) error {
	req, err := dispatch.Classify(family, args, opts)
	if err != nil {
		return err
	}

	b, err := openBackend()
	if err != nil {
		return err
	}

	res, opErr := dispatch.New(b).Run(cmd.Context(), req)

	verdict := ""
	if opErr == nil && req.Mode == dispatch.ModeVerify {
		verdict = strconv.FormatBool(res.Verified)
	}
	op := audit.Operation{
		Family:    string(req.Family),
		Mode:      string(req.Mode),
		Backend:   b.Name(),
		Algorithm: algorithmOf(req),
	}
	if err := audit.LogOperation(op, verdict, opErr); err != nil {
		return err
	}
	if opErr != nil {
		return opErr
	}

	return printLines(cmd.OutOrStdout(), res.Lines())
}

func algorithmOf(req dispatch.Request) string {
	switch req.Family {
	case dispatch.FamilyXOF:
		return string(req.XOF)
	case dispatch.FamilyCTR:
		return "aes-ctr"
	}
	return string(req.Hash)
}

func printLines(w io.Writer, lines []string) error {
	for _, line := range lines {
		if _, err := fmt.Fprintln(w, line); err != nil {
			return err
		}
	}
	return nil
}
