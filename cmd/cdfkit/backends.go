package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/backend"
)

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "List backends and their capabilities",
	Long: `List the registered backends and the operation families each one offers
with the current configuration. Backends that cannot be opened (for example
pkcs11 without a configured module) are listed as unavailable.

Examples:
  cdfkit backends
  cdfkit --config backends.yaml backends`,
	Args: cobra.NoArgs,
	RunE: runBackends,
}

func runBackends(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	for _, name := range backend.Names() {
		b, err := openNamedBackend(name)
		if err != nil {
			fmt.Fprintf(out, "%-8s unavailable: %s\n", name, err)
			continue
		}
		caps := make([]string, 0, len(backend.AllCapabilities))
		for _, c := range backend.AllCapabilities {
			if backend.Supports(b, c) {
				caps = append(caps, string(c))
			}
		}
		if len(caps) == 0 {
			caps = append(caps, "(none)")
		}
		fmt.Fprintf(out, "%-8s %s\n", name, strings.Join(caps, " "))
	}
	return nil
}
