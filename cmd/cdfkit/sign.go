package main

import (
	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/dispatch"
)

var dsaCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyDSA),
	Short: "DSA sign (6 arguments) or verify (7 arguments)",
	Long: `Sign or verify with DSA. The message is hashed with SHA-256 and the digest
is truncated to the byte length of Q.

Sign prints R and S on two lines, zero-padded to the byte length of Q.
Verify prints true or false.

Examples:
  # Sign
  cdfkit dsa $P $Q $G $Y $X 48656c6c6f

  # Verify
  cdfkit dsa $P $Q $G $Y $R $S 48656c6c6f

  # Sign a precomputed digest
  cdfkit dsa -h $DIGEST $P $Q $G $Y $X 00`,
	Args: cobra.ArbitraryArgs,
	RunE: runDSA,
}

var ecdsaCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyECDSA),
	Short: "ECDSA P-256 sign (4 arguments) or verify (5 arguments)",
	Long: `Sign or verify with ECDSA on P-256 using SHA-256.

Sign prints R and S on two lines, 32 bytes each. With --deterministic the
nonce is derived per RFC 6979 and the same inputs give the same signature.
Verify prints true or false.

Examples:
  cdfkit ecdsa $X $Y $D 48656c6c6f
  cdfkit ecdsa --deterministic --sig-format der $X $Y $D 48656c6c6f
  cdfkit ecdsa $X $Y $R $S 48656c6c6f`,
	Args: cobra.ArbitraryArgs,
	RunE: runECDSA,
}

var rsasignCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyRSASign),
	Short: "RSA PKCS#1 v1.5 sign (5 arguments) or verify (4 arguments)",
	Long: `Sign or verify with RSASSA-PKCS1-v1_5 over SHA-256.

Sign prints the signature as one hex line, as wide as the modulus.
Verify prints true or false.

Examples:
  cdfkit rsasign $P $Q 010001 $D 48656c6c6f
  cdfkit rsasign $N 010001 $SIG 48656c6c6f`,
	Args: cobra.ArbitraryArgs,
	RunE: runRSASign,
}

var (
	dsaOpts     dispatch.Options
	ecdsaOpts   dispatch.Options
	rsasignOpts dispatch.Options
)

func init() {
	addDigestFlag(dsaCmd.Flags(), &dsaOpts)
	addSigFormatFlag(dsaCmd.Flags(), &dsaOpts)

	addDigestFlag(ecdsaCmd.Flags(), &ecdsaOpts)
	addSigFormatFlag(ecdsaCmd.Flags(), &ecdsaOpts)
	ecdsaCmd.Flags().BoolVar(&ecdsaOpts.Deterministic, "deterministic", false, "Derive the nonce per RFC 6979")

	addDigestFlag(rsasignCmd.Flags(), &rsasignOpts)
}

func runDSA(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyDSA, args, dsaOpts)
}

func runECDSA(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyECDSA, args, ecdsaOpts)
}

func runRSASign(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyRSASign, args, rsasignOpts)
}
