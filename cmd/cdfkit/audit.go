package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/audit"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log tools",
	Long: `Inspect and verify the audit log written with --audit-log.

Each operation appends one JSON event. Events are chained with SHA-256:
hash_prev holds the hash of the previous event, starting at
"sha256:genesis".

Examples:
  cdfkit audit verify --log ./cdfkit-audit.jsonl
  cdfkit audit tail --log ./cdfkit-audit.jsonl -n 5`,
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log integrity",
	Long: `Recompute the hash chain of an audit log file. An edited, removed or
inserted event breaks the chain and the command fails, reporting how many
events were valid before the break.`,
	Args: cobra.NoArgs,
	RunE: runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit events",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var (
	auditLogFile  string
	auditTailNum  int
	auditShowJSON bool
)

func init() {
	auditVerifyCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditVerifyCmd.MarkFlagRequired("log")

	auditTailCmd.Flags().StringVar(&auditLogFile, "log", "", "Path to audit log file (required)")
	_ = auditTailCmd.MarkFlagRequired("log")
	auditTailCmd.Flags().IntVarP(&auditTailNum, "num", "n", 10, "Number of events to show")
	auditTailCmd.Flags().BoolVar(&auditShowJSON, "json", false, "Print raw JSON lines")

	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Verifying audit log: %s\n\n", auditLogFile)

	count, err := audit.VerifyChain(auditLogFile)
	if err != nil {
		fmt.Fprintf(out, "VERIFICATION FAILED\n")
		fmt.Fprintf(out, "  Valid events: %d\n", count)
		return fmt.Errorf("audit log verification failed: %w", err)
	}

	fmt.Fprintf(out, "VERIFICATION PASSED\n")
	fmt.Fprintf(out, "  Total events: %d\n", count)
	fmt.Fprintf(out, "  Hash chain: VALID\n")
	return nil
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(auditLogFile)
	if err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}

	out := cmd.OutOrStdout()
	var lines [][]byte
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line := bytes.TrimSpace(scanner.Bytes()); len(line) > 0 {
			lines = append(lines, bytes.Clone(line))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read audit log: %w", err)
	}
	if len(lines) == 0 {
		fmt.Fprintln(out, "Audit log is empty")
		return nil
	}

	if auditTailNum > 0 && len(lines) > auditTailNum {
		lines = lines[len(lines)-auditTailNum:]
	}

	for _, line := range lines {
		if auditShowJSON {
			fmt.Fprintf(out, "%s\n", line)
			continue
		}
		var event audit.Event
		if err := json.Unmarshal(line, &event); err != nil {
			fmt.Fprintf(out, "  [ERROR] %s\n", err)
			continue
		}
		printEvent(out, &event)
	}
	return nil
}

func printEvent(out io.Writer, e *audit.Event) {
	resultIcon := "✓"
	if e.Result == audit.ResultFailure {
		resultIcon = "✗"
	}

	fmt.Fprintf(out, "[%s] %s %s\n", e.Timestamp, resultIcon, e.EventType)
	fmt.Fprintf(out, "    Actor:     %s@%s\n", e.Actor.ID, e.Actor.Host)

	op := e.Operation
	fmt.Fprintf(out, "    Operation: %s %s", op.Family, op.Mode)
	if op.Backend != "" {
		fmt.Fprintf(out, " backend=%s", op.Backend)
	}
	if len(op.Backends) > 0 {
		fmt.Fprintf(out, " backends=%v", op.Backends)
	}
	if op.Algorithm != "" {
		fmt.Fprintf(out, " algorithm=%s", op.Algorithm)
	}
	fmt.Fprintln(out)

	o := e.Outcome
	if o.Verdict != "" || o.ErrorKind != "" || o.Mismatches > 0 {
		fmt.Fprint(out, "    Outcome:  ")
		if o.Verdict != "" {
			fmt.Fprintf(out, " verdict=%s", o.Verdict)
		}
		if o.ErrorKind != "" {
			fmt.Fprintf(out, " error=%s", o.ErrorKind)
		}
		if o.Mismatches > 0 {
			fmt.Fprintf(out, " mismatches=%d", o.Mismatches)
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out)
}
