package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/remiblancher/cdfkit/internal/backend"
	"github.com/remiblancher/cdfkit/internal/dispatch"
)

var hashCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyHash),
	Short: "Message digest",
	Long: `Hash Msg and print the digest as one hex line.

Examples:
  cdfkit hash 616263
  cdfkit hash --alg md5 ""`,
	Args: cobra.ArbitraryArgs,
	RunE: runHash,
}

var hmacCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyHMAC),
	Short: "HMAC",
	Long: `Compute HMAC of Msg under Key and print the tag as one hex line.

Examples:
  cdfkit hmac 4a656665 7768617420646f2079612077616e7420666f72206e6f7468696e673f`,
	Args: cobra.ArbitraryArgs,
	RunE: runHMAC,
}

var ctrCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyCTR),
	Short: "AES-CTR encryption with a zero IV",
	Long: `Encrypt Plain with AES in CTR mode starting from a zero counter block.
Key is 16, 24 or 32 bytes; when omitted a 16-byte zero key is used.

Examples:
  cdfkit ctr 00000000000000000000000000000000
  cdfkit ctr 2b7e151628aed2a6abf7158809cf4f3c 6bc1bee22e409f96e93d7e117393172a`,
	Args: cobra.ArbitraryArgs,
	RunE: runCTR,
}

var xofCmd = &cobra.Command{
	Use:   dispatch.Usage(dispatch.FamilyXOF),
	Short: "Extendable-output function",
	Long: `Read --len bytes from an extendable-output function absorbing Msg.

Examples:
  cdfkit xof --len 64 616263
  cdfkit xof --alg blake2xb --len 16 616263`,
	Args: cobra.ArbitraryArgs,
	RunE: runXOF,
}

var (
	hashOpts dispatch.Options
	hmacOpts dispatch.Options
	xofOpts  dispatch.Options
	xofLen   int
)

func init() {
	hashNames := strings.Join(backend.HashNames(), ", ")
	hashCmd.Flags().StringVar(&hashOpts.Alg, "alg", "", "Hash algorithm: "+hashNames+" (default sha256)")
	hmacCmd.Flags().StringVar(&hmacOpts.Alg, "alg", "", "HMAC hash: "+hashNames+" (default sha256)")

	xofCmd.Flags().StringVar(&xofOpts.Alg, "alg", "", "XOF: shake128, shake256, blake2xb, blake2xs (default shake128)")
	addXOFLenFlag(xofCmd.Flags(), &xofLen)
}

func runHash(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyHash, args, hashOpts)
}

func runHMAC(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyHMAC, args, hmacOpts)
}

func runCTR(cmd *cobra.Command, args []string) error {
	return runOperation(cmd, dispatch.FamilyCTR, args, dispatch.Options{})
}

func runXOF(cmd *cobra.Command, args []string) error {
	opts := xofOpts
	opts.XOFLen = xofLenOption(cmd, xofLen)
	return runOperation(cmd, dispatch.FamilyXOF, args, opts)
}
