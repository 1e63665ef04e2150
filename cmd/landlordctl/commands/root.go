// Package commands implements the landlordctl operator CLI.
package commands

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
)

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "landlordctl",
		Short: "LandLord operator tooling",
		Long: `landlordctl generates backend and holder keys, produces ownership proofs and
claim authorizations offline, verifies claim signatures and runs an in-process
smoke test of the distribute, sign and claim flow.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newGenKeyCmd(),
		newSignOwnershipCmd(),
		newSignClaimCmd(),
		newVerifyClaimCmd(),
		newSmokeCmd(),
	)
	return root
}

// Execute runs the CLI with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func addKeyFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("key", "k", "", "Hex-encoded secp256k1 private key")
	cmd.Flags().String("key-file", "", "File containing a hex-encoded private key")
}

func loadKey(cmd *cobra.Command) (*ecdsa.PrivateKey, error) {
	raw, _ := cmd.Flags().GetString("key")
	file, _ := cmd.Flags().GetString("key-file")
	switch {
	case raw != "" && file != "":
		return nil, errors.New("cannot specify both --key and --key-file")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		raw = strings.TrimSpace(string(data))
	case raw == "":
		return nil, errors.New("either --key or --key-file must be specified")
	}
	return ethsig.ParseKey(raw)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
