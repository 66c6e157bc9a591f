package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/backend"
)

var hsmCmd = &cobra.Command{
	Use:   "hsm",
	Short: "PKCS#11 diagnostic commands",
	Long: `Diagnostic commands for the pkcs11 backend.

Use them to find the slot or token label to put in the backend
configuration file.

Examples:
  cdfkit hsm list --lib /usr/lib/softhsm/libsofthsm2.so`,
}

var hsmListCmd = &cobra.Command{
	Use:   "list",
	Short: "List PKCS#11 slots and tokens",
	Long: `List all slots and tokens of a PKCS#11 module.

No login is performed. For each slot the command shows:
  - Slot ID and description
  - Token label and serial (if present)
  - Token manufacturer

Examples:
  cdfkit hsm list --lib /usr/lib/softhsm/libsofthsm2.so`,
	Args: cobra.NoArgs,
	RunE: runHSMList,
}

var hsmLib string

func init() {
	hsmCmd.AddCommand(hsmListCmd)

	hsmListCmd.Flags().StringVar(&hsmLib, "lib", "", "Path to PKCS#11 library (required)")
	_ = hsmListCmd.MarkFlagRequired("lib")
}

func runHSMList(cmd *cobra.Command, args []string) error {
	slots, err := backend.ListPKCS11Slots(hsmLib)
	if err != nil {
		return fmt.Errorf("failed to list PKCS#11 slots: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "PKCS#11 Module: %s\n\n", hsmLib)

	if len(slots) == 0 {
		fmt.Fprintln(out, "No slots found.")
		return nil
	}

	for _, slot := range slots {
		fmt.Fprintf(out, "Slot %d:\n", slot.ID)
		fmt.Fprintf(out, "  Description:  %s\n", strings.TrimSpace(slot.Description))

		if slot.HasToken {
			fmt.Fprintf(out, "  Token Label:  %s\n", strings.TrimSpace(slot.TokenLabel))
			fmt.Fprintf(out, "  Token Serial: %s\n", maskSerial(slot.TokenSerial))
			if slot.Manufacturer != "" {
				fmt.Fprintf(out, "  Manufacturer: %s\n", strings.TrimSpace(slot.Manufacturer))
			}
		} else {
			fmt.Fprintf(out, "  Token:        (not present)\n")
		}
		fmt.Fprintln(out)
	}

	return nil
}

// maskSerial keeps the first three and the last character of a serial.
func maskSerial(serial string) string {
	serial = strings.TrimSpace(serial)
	if len(serial) <= 4 {
		return serial
	}
	return serial[:3] + strings.Repeat("*", len(serial)-4) + serial[len(serial)-1:]
}
