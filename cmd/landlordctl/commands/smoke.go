package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/spf13/cobra"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/distribution"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ids"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

var weiPerToken = uint256.NewInt(1_000_000_000_000_000_000)

func newSmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run distribute, sign and claim against an in-memory ledger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			supply, _ := cmd.Flags().GetUint64("supply")
			holding, _ := cmd.Flags().GetUint64("holding")
			profit, _ := cmd.Flags().GetUint64("profit")
			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()
			return runSmoke(ctx, cmd.OutOrStdout(), supply, holding, profit)
		},
	}
	cmd.Flags().Uint64("supply", 100_000, "Initial supply in whole tokens")
	cmd.Flags().Uint64("holding", 1_000, "Tokens transferred to the holder")
	cmd.Flags().Uint64("profit", 500, "Profit distributed in whole tokens")
	return cmd
}

func wholeTokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), weiPerToken)
}

func runSmoke(ctx context.Context, out io.Writer, supply, holding, profit uint64) error {
	if holding == 0 || holding >= supply {
		return errors.New("holding must be between 1 and supply-1")
	}
	ownerKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	backendKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	holderKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	holder := crypto.PubkeyToAddress(holderKey.PublicKey)
	signer := claimsig.NewSigner(backendKey)

	step := func(format string, args ...any) {
		fmt.Fprintf(out, "✓ "+format+"\n", args...)
	}

	mem := ledger.NewInMemory(owner, wholeTokens(supply), ledger.WithBackend(signer.Address()))
	step("deployed ledger: owner=%s backend=%s", owner.Hex(), signer.Address().Hex())

	if err := mem.Transfer(ctx, owner, holder, wholeTokens(holding)); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}
	d, err := mem.DistributeProfit(ctx, owner, wholeTokens(profit))
	if err != nil {
		return fmt.Errorf("distribute: %w", err)
	}
	step("distribution %d created at block %d (pool %s, eligible %s)", d.ID, d.DistributionBlock, d.TotalAmount.Dec(), d.TokensExcludingOwner.Dec())

	svc := distribution.New(mem, distribution.WithSigner(signer))
	report, err := svc.Balance(ctx, holder.Hex(), "")
	if err != nil {
		return fmt.Errorf("balance: %w", err)
	}
	if len(report.AvailableDistributions) != 1 {
		return fmt.Errorf("expected 1 available distribution, got %d", len(report.AvailableDistributions))
	}
	share := report.AvailableDistributions[0]
	step("holder %s entitled to %s", holder.Hex(), share.UserShare.Dec())

	proof, err := ownership.Sign(holderKey, holder, ids.Nonce())
	if err != nil {
		return fmt.Errorf("ownership proof: %w", err)
	}
	authz, err := svc.IssueSignature(ctx, distribution.SignatureRequest{
		UserAddress:           holder.Hex(),
		DistributionID:        strconv.FormatUint(share.ID, 10),
		BalanceAtDistribution: share.BalanceAtDistributionBlock.Dec(),
		DistributionBlock:     strconv.FormatUint(share.DistributionBlock, 10),
		OwnershipSignature:    proof.Signature,
		Nonce:                 proof.Nonce,
	})
	if err != nil {
		return fmt.Errorf("issue signature: %w", err)
	}
	step("backend signature %s", authz.EncodedSignature())

	claims := distribution.NewClaims(mem, nil)
	req := distribution.ClaimRequest{
		UserAddress:        holder.Hex(),
		DistributionID:     strconv.FormatUint(share.ID, 10),
		Balance:            authz.Balance.Dec(),
		Signature:          authz.EncodedSignature(),
		OwnershipSignature: proof.Signature,
		Nonce:              proof.Nonce,
	}
	res, err := claims.Claim(ctx, req)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !res.Payout.Eq(share.UserShare) {
		return fmt.Errorf("payout %s does not match share %s", res.Payout.Dec(), share.UserShare.Dec())
	}
	step("claimed payout %s", res.Payout.Dec())

	if _, err := claims.Claim(ctx, req); !errors.Is(err, ledger.ErrAlreadyClaimed) {
		return fmt.Errorf("second claim: expected already claimed, got %v", err)
	}
	step("second claim rejected")

	after, err := mem.BalanceAt(ctx, holder, nil)
	if err != nil {
		return err
	}
	want := new(uint256.Int).Add(wholeTokens(holding), res.Payout)
	if !after.Eq(want) {
		return fmt.Errorf("holder balance %s, want %s", after.Dec(), want.Dec())
	}
	if claimed, err := mem.HasClaimed(ctx, d.ID, holder); err != nil || !claimed {
		return fmt.Errorf("hasClaimed: %v %v", claimed, err)
	}
	step("holder balance %s", after.Dec())
	fmt.Fprintln(out, "smoke OK")
	return nil
}
