// Command cdfkit runs one cryptographic primitive per invocation through a
// selectable backend and prints a canonical hex result, so the same inputs
// can be compared across crypto providers.
package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/remiblancher/cdfkit/internal/audit"
	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/logging"
)

// Build-time variables (set with -ldflags -X)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// settings resolves global flags against CDFKIT_* environment variables.
var settings = viper.New()

// backendConfig is loaded from --config before any command runs.
var backendConfig = &backend.Config{}

var (
	openedMu sync.Mutex
	opened   []backend.Backend
)

func main() {
	setupSignalHandler()
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// execute runs the command line and returns the exit code. Any failure
// prints the ERROR marker on stdout and the detail on stderr.
func execute(args []string, stdout, stderr io.Writer) int {
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.Execute()
	closeBackends()
	if cerr := audit.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("failed to close audit log: %w", cerr)
	}
	if err != nil {
		fmt.Fprintln(stdout, "ERROR")
		fmt.Fprintln(stderr, "Error:", err)
		return 1
	}
	return 0
}

// setupSignalHandler closes open backends on SIGINT/SIGTERM so PKCS#11
// sessions are logged out before exit.
func setupSignalHandler() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		closeBackends()
		os.Exit(1)
	}()
}

// openBackend opens the backend selected by --backend. It is closed when
// the command line finishes.
func openBackend() (backend.Backend, error) {
	return openNamedBackend(settings.GetString("backend"))
}

func openNamedBackend(name string) (backend.Backend, error) {
	b, err := backend.Open(name, backendConfig)
	if err != nil {
		return nil, err
	}
	openedMu.Lock()
	opened = append(opened, b)
	openedMu.Unlock()
	return b, nil
}

func closeBackends() {
	openedMu.Lock()
	defer openedMu.Unlock()
	for _, b := range opened {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Str("backend", b.Name()).Msg("failed to close backend")
		}
	}
	opened = nil
}

var rootCmd = &cobra.Command{
	Use:   "cdfkit",
	Short: "Cross-backend crypto conformance toolkit",
	Long: `cdfkit runs one cryptographic primitive per invocation and prints a canonical
hex result. The same arguments can be run on several backends to check that
they agree.

Arguments are hex strings (upper or lower case). For each family the number
of arguments selects the operation:

  dsa      P Q G Y X Msg (sign)         P Q G Y R S Msg (verify)
  ecdsa    X Y D Msg (sign)             X Y R S Msg (verify)
  oaep     N E Plain [Label] (encrypt)  P Q E D Cipher [Label] (decrypt)
  rsasign  P Q E D Msg (sign)           N E Sig Msg (verify)
  hash     Msg
  hmac     Key Msg
  ctr      [Key] Plain
  xof      Msg

Backends: go (standard library), pkcs11 (PKCS#11 token), cose (go-cose ES256),
exec (external example programs).

Examples:
  # Sign with ECDSA P-256 and verify the result
  cdfkit ecdsa $X $Y $D 48656c6c6f
  cdfkit ecdsa $X $Y $R $S 48656c6c6f

  # Same operation on a PKCS#11 token
  cdfkit --backend pkcs11 --config backends.yaml ecdsa $X $Y $D 48656c6c6f

  # Compare two backends
  cdfkit crosscheck hash --backends go,exec 616263`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Setup(cmd.ErrOrStderr(), settings.GetString("log-level")); err != nil {
			return err
		}

		cfg, err := backend.LoadConfig(settings.GetString("config"))
		if err != nil {
			return err
		}
		backendConfig = cfg

		if err := audit.InitFiles(strings.Split(settings.GetString("audit-log"), ",")...); err != nil {
			return fmt.Errorf("failed to initialize audit log: %w", err)
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.String("backend", backend.DefaultName,
		"Crypto backend: "+strings.Join(backend.Names(), ", ")+" (or set CDFKIT_BACKEND)")
	pf.String("config", "", "Path to backend configuration file (or set CDFKIT_CONFIG)")
	pf.String("audit-log", "", "Path to audit log file, comma-separated for several copies (or set CDFKIT_AUDIT_LOG)")
	pf.String("log-level", logging.DefaultLevel, "Technical log level on stderr (or set CDFKIT_LOG_LEVEL)")

	_ = settings.BindPFlags(pf)
	settings.SetEnvPrefix("CDFKIT")
	settings.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	settings.AutomaticEnv()

	// Operation families
	rootCmd.AddCommand(dsaCmd)
	rootCmd.AddCommand(ecdsaCmd)
	rootCmd.AddCommand(oaepCmd)
	rootCmd.AddCommand(rsasignCmd)
	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(hmacCmd)
	rootCmd.AddCommand(ctrCmd)
	rootCmd.AddCommand(xofCmd)

	// Utilities
	rootCmd.AddCommand(sigconvCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(crosscheckCmd)
	rootCmd.AddCommand(hsmCmd)
	rootCmd.AddCommand(auditCmd)
}
