package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ids"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

// errInvalidSignature is returned by verify-claim so the exit status reflects the result.
var errInvalidSignature = errors.New("signature does not match signer")

func newSignOwnershipCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-ownership",
		Short: "Produce an ownership proof for the key's address",
		Long: `Sign the ownership message for the key's address with EIP-191 personal_sign.
The output can be pasted into the ownershipSignature and nonce fields of
POST /signature and POST /claims. A fresh nonce is generated unless --nonce is given.`,
		RunE: runSignOwnership,
	}
	addKeyFlags(cmd)
	cmd.Flags().String("nonce", "", "Nonce to sign (default: random)")
	return cmd
}

func runSignOwnership(cmd *cobra.Command, _ []string) error {
	key, err := loadKey(cmd)
	if err != nil {
		return err
	}
	nonce, _ := cmd.Flags().GetString("nonce")
	if strings.TrimSpace(nonce) == "" {
		nonce = ids.Nonce()
	}
	proof, err := ownership.Sign(key, crypto.PubkeyToAddress(key.PublicKey), nonce)
	if err != nil {
		return fmt.Errorf("sign ownership: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), map[string]string{
		"userAddress":        proof.Address,
		"nonce":              proof.Nonce,
		"ownershipSignature": proof.Signature,
		"message":            ownership.Message(proof.Address, proof.Nonce),
	})
}

func newSignClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign-claim",
		Short: "Sign a claim authorization with the backend key",
		Long: `Sign keccak256(holder, distributionId, balance) as the backend would. This
bypasses the balance re-derivation done by the API and is meant for operators
and test networks only.`,
		RunE: runSignClaim,
	}
	addKeyFlags(cmd)
	addClaimFlags(cmd)
	return cmd
}

func runSignClaim(cmd *cobra.Command, _ []string) error {
	key, err := loadKey(cmd)
	if err != nil {
		return err
	}
	holder, id, balance, err := claimFlags(cmd)
	if err != nil {
		return err
	}
	signer := claimsig.NewSigner(key)
	sig, err := signer.Sign(holder, id, balance)
	if err != nil {
		return fmt.Errorf("sign claim: %w", err)
	}
	return printJSON(cmd.OutOrStdout(), map[string]string{
		"signer":         signer.Address().Hex(),
		"userAddress":    holder.Hex(),
		"distributionId": strconv.FormatUint(id, 10),
		"balance":        balance.Dec(),
		"digest":         claimsig.Digest(holder, id, balance).Hex(),
		"signature":      ethsig.EncodeSignature(sig),
	})
}

func newVerifyClaimCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify-claim",
		Short: "Check a claim signature against the backend address",
		RunE:  runVerifyClaim,
	}
	addClaimFlags(cmd)
	cmd.Flags().String("signer", "", "Expected backend address")
	cmd.Flags().String("signature", "", "0x-prefixed 65-byte signature")
	_ = cmd.MarkFlagRequired("signer")
	_ = cmd.MarkFlagRequired("signature")
	return cmd
}

func runVerifyClaim(cmd *cobra.Command, _ []string) error {
	holder, id, balance, err := claimFlags(cmd)
	if err != nil {
		return err
	}
	rawSigner, _ := cmd.Flags().GetString("signer")
	if !ethsig.IsAddress(rawSigner) {
		return fmt.Errorf("invalid --signer %q", rawSigner)
	}
	rawSig, _ := cmd.Flags().GetString("signature")
	sig, err := ethsig.DecodeSignature(rawSig)
	if err != nil {
		return fmt.Errorf("invalid --signature: %w", err)
	}

	recovered, err := claimsig.Recover(holder, id, balance, sig)
	valid := err == nil && claimsig.Verify(common.HexToAddress(rawSigner), holder, id, balance, sig)
	out := map[string]any{"valid": valid}
	if err == nil {
		out["recovered"] = recovered.Hex()
	}
	if err := printJSON(cmd.OutOrStdout(), out); err != nil {
		return err
	}
	if !valid {
		return errInvalidSignature
	}
	return nil
}

func addClaimFlags(cmd *cobra.Command) {
	cmd.Flags().String("holder", "", "Holder address")
	cmd.Flags().Uint64("distribution", 0, "Distribution id")
	cmd.Flags().String("balance", "", "Balance in base units (decimal)")
	_ = cmd.MarkFlagRequired("holder")
	_ = cmd.MarkFlagRequired("balance")
}

func claimFlags(cmd *cobra.Command) (common.Address, uint64, *uint256.Int, error) {
	rawHolder, _ := cmd.Flags().GetString("holder")
	if !ethsig.IsAddress(rawHolder) {
		return common.Address{}, 0, nil, fmt.Errorf("invalid --holder %q", rawHolder)
	}
	id, _ := cmd.Flags().GetUint64("distribution")
	rawBalance, _ := cmd.Flags().GetString("balance")
	balance, err := uint256.FromDecimal(strings.TrimSpace(rawBalance))
	if err != nil {
		return common.Address{}, 0, nil, fmt.Errorf("invalid --balance %q", rawBalance)
	}
	return common.HexToAddress(rawHolder), id, balance, nil
}
