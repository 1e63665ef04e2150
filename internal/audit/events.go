package audit

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
)

const (
	EventSignatureIssued     = "signature.issued"
	EventDistributionCreated = "distribution.created"
	EventClaimSubmitted      = "claim.submitted"
	EventTokenIssued         = "auth.token_issued"
)

// SignatureIssued records a backend authorization. The balance is the re-derived chain value.
func SignatureIssued(ctx context.Context, holder common.Address, distributionID, block uint64, balance *uint256.Int) {
	_ = LogEvent(ctx, EventSignatureIssued, map[string]any{
		"holder":             obs.MaskAddress(holder.Hex()),
		"distribution_id":    distributionID,
		"distribution_block": block,
		"balance":            balance.Dec(),
	})
}

func DistributionCreated(ctx context.Context, id, block uint64, amount, tokensExcludingOwner *uint256.Int) {
	_ = LogEvent(ctx, EventDistributionCreated, map[string]any{
		"distribution_id":        id,
		"distribution_block":     block,
		"total_amount":           amount.Dec(),
		"tokens_excluding_owner": tokensExcludingOwner.Dec(),
	})
}

// ClaimSubmitted records the outcome of a claim; payout is nil on failure.
func ClaimSubmitted(ctx context.Context, holder common.Address, distributionID uint64, payout *uint256.Int, result string) {
	fields := map[string]any{
		"holder":          obs.MaskAddress(holder.Hex()),
		"distribution_id": distributionID,
		"result":          result,
	}
	if payout != nil {
		fields["payout"] = payout.Dec()
	}
	_ = LogEvent(ctx, EventClaimSubmitted, fields)
}

func TokenIssued(ctx context.Context, operator string, roles []string) {
	_ = LogEvent(ctx, EventTokenIssued, map[string]any{
		"subject": operator,
		"roles":   roles,
	})
}
