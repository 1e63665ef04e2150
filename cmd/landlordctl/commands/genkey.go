package commands

import (
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
)

func newGenKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "genkey",
		Short: "Generate a secp256k1 key pair",
		Long: `Generate a new secp256k1 key. With --output the hex key is written to a file
(mode 0600) and only the address is printed; otherwise both are printed.`,
		RunE: runGenKey,
	}
	cmd.Flags().StringP("output", "o", "", "Write the private key to this file")
	cmd.Flags().BoolP("force", "f", false, "Overwrite an existing key file")
	return cmd
}

func runGenKey(cmd *cobra.Command, _ []string) error {
	output, _ := cmd.Flags().GetString("output")
	force, _ := cmd.Flags().GetBool("force")

	if output != "" && !force {
		if _, err := os.Stat(output); err == nil {
			return fmt.Errorf("key file %q already exists; use --force to overwrite", output)
		}
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	encoded := ethsig.EncodeKey(key)
	address := crypto.PubkeyToAddress(key.PublicKey).Hex()

	out := map[string]string{"address": address}
	if output != "" {
		if err := os.WriteFile(output, []byte(encoded+"\n"), 0o600); err != nil {
			return fmt.Errorf("write key file: %w", err)
		}
		out["keyFile"] = output
	} else {
		out["privateKey"] = encoded
	}
	return printJSON(cmd.OutOrStdout(), out)
}
