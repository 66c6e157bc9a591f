package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

var oaepCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyOAEP),
	Short: "RSA-OAEP encrypt (3-4 arguments) or decrypt (5-6 arguments)",
	Long: `Encrypt with an RSA public key or decrypt with the private key built from
P, Q, E and D, using OAEP with MGF1. The optional last argument is the
OAEP label.

Encrypt prints the ciphertext as one hex line, as wide as the modulus.
Decrypt prints the plaintext.

Examples:
  cdfkit oaep $N 010001 48656c6c6f
  cdfkit oaep $P $Q 010001 $D $CIPHER
  cdfkit oaep --oaep-hash sha256 $N 010001 48656c6c6f 6c6162656c`,
	Args: cobra.ArbitraryArgs,
	RunE: runOAEP,
}

var oaepOpts dispatch.Options

func init() {
	oaepCmd.Flags().StringVar(&oaepOpts.OAEPHash, "oaep-hash", "",
		"OAEP and MGF1 hash: "+strings.Join(backend.HashNames(), ", ")+" (default sha1)")
}

func runOAEP(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyOAEP, args, oaepOpts)
}
