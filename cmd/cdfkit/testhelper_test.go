package main

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/remiblancher/cdfkit/internal/audit"
)

// executeCommand executes a Cobra command with the given args and returns
// its stdout. Flags of every command are reset first, and backends and the
// audit log are closed afterwards.
func executeCommand(root *cobra.Command, args ...string) (output string, err error) {
	resetFlags(root)

	stdout := new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(new(bytes.Buffer))
	root.SetArgs(args)

	err = root.Execute()
	closeBackends()
	if cerr := audit.Close(); err == nil {
		err = cerr
	}
	return stdout.String(), err
}

// resetFlags restores every flag of cmd and its subcommands to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// restoreLogger undoes the logger installed by the root command.
func restoreLogger(t *testing.T) {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

// outputLines splits command output into non-empty lines.
func outputLines(out string) []string {
	return strings.Fields(out)
}

// testContext holds test resources.
type testContext struct {
	t       *testing.T
	tempDir string
}

// newTestContext creates a new test context with a temp directory.
func newTestContext(t *testing.T) *testContext {
	t.Helper()
	restoreLogger(t)
	return &testContext{t: t, tempDir: t.TempDir()}
}

// path returns a path within the temp directory.
func (tc *testContext) path(name string) string {
	return filepath.Join(tc.tempDir, name)
}

// writeFile writes content to a file in the temp directory.
func (tc *testContext) writeFile(name, content string) string {
	tc.t.Helper()
	path := tc.path(name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		tc.t.Fatalf("Failed to write file %s: %v", name, err)
	}
	return path
}

// generateECDSAKeyPair returns the X, Y, D hex arguments of a fresh P-256 key.
func generateECDSAKeyPair(t *testing.T) (x, y, d string) {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("Failed to generate ECDSA key: %v", err)
	}
	return priv.X.Text(16), priv.Y.Text(16), priv.D.Text(16)
}

// generateRSAKeyPair generates an RSA key pair.
func generateRSAKeyPair(t *testing.T, bits int) *rsa.PrivateKey {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		t.Fatalf("Failed to generate RSA key: %v", err)
	}
	return priv
}

// assertError asserts that an error occurred.
func assertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Error("Expected error, got nil")
	}
}

// assertNoError asserts that no error occurred.
func assertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// assertLines asserts the exact output lines.
func assertLines(t *testing.T, out string, want ...string) {
	t.Helper()
	got := outputLines(out)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("output = %q, want %q", got, want)
	}
}
