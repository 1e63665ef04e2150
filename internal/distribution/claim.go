package distribution

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/audit"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

// ClaimRequest submits a backend authorization to a writable ledger. The
// ownership proof stands in for the transaction sender.
type ClaimRequest struct {
	UserAddress        string
	DistributionID     string
	Balance            string
	Signature          string
	OwnershipSignature string
	Nonce              string
}

// ClaimResult is a committed claim.
type ClaimResult struct {
	Holder         common.Address
	DistributionID uint64
	Payout         *uint256.Int
}

// Claims routes holder claims into a ledger.Service.
type Claims struct {
	ledger ledger.Service
	nonces ownership.NonceStore
}

// NewClaims wires the claim flow. nonces may be nil.
func NewClaims(svc ledger.Service, nonces ownership.NonceStore) *Claims {
	return &Claims{ledger: svc, nonces: nonces}
}

// Claim authenticates the caller and redeems one distribution. Ledger errors
// (ErrNotFound, ErrAlreadyClaimed, ErrOwnerCannotClaim, ErrInvalidSignature)
// are returned unwrapped.
func (c *Claims) Claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	res, err := c.claim(ctx, req)
	obs.ClaimResult(claimOutcome(err))
	if res.Holder != (common.Address{}) {
		audit.ClaimSubmitted(ctx, res.Holder, res.DistributionID, res.Payout, claimOutcome(err))
	}
	if err != nil {
		return ClaimResult{}, err
	}
	return res, nil
}

func (c *Claims) claim(ctx context.Context, req ClaimRequest) (ClaimResult, error) {
	if blank(req.UserAddress, req.DistributionID, req.Balance, req.Signature) {
		return ClaimResult{}, invalid("missing required fields")
	}
	if blank(req.OwnershipSignature, req.Nonce) {
		return ClaimResult{}, invalid("ownership proof is required")
	}
	addr := strings.TrimSpace(req.UserAddress)
	if !ethsig.IsAddress(addr) {
		return ClaimResult{}, invalid("invalid userAddress")
	}
	proof := ownership.Proof{Address: addr, Nonce: strings.TrimSpace(req.Nonce), Signature: strings.TrimSpace(req.OwnershipSignature)}
	if !ownership.Verify(proof) {
		return ClaimResult{}, ErrOwnershipFailed
	}
	id, err := parseUint(req.DistributionID, "distributionId")
	if err != nil {
		return ClaimResult{}, err
	}
	balance, err := parseAmount(req.Balance, "balance")
	if err != nil {
		return ClaimResult{}, err
	}
	sig, err := ethsig.DecodeSignature(strings.TrimSpace(req.Signature))
	if err != nil {
		return ClaimResult{}, invalid("signature must be 65 hex-encoded bytes")
	}
	if c.ledger == nil {
		return ClaimResult{}, ErrNotConfigured
	}
	holder := common.HexToAddress(addr)
	res := ClaimResult{Holder: holder, DistributionID: id}
	if err := consumeNonce(ctx, c.nonces, proof); err != nil {
		return res, err
	}

	payout, err := c.ledger.ClaimProfit(ctx, holder, id, balance, sig)
	if err != nil {
		if errors.Is(err, ledger.ErrUnavailable) && c.nonces != nil {
			if rerr := c.nonces.Release(ctx, proof.Address, proof.Nonce); rerr != nil {
				obs.Error("nonce_release_failed", map[string]any{
					"holder": obs.MaskAddress(holder.Hex()),
					"error":  rerr.Error(),
				})
			}
		}
		return res, chainErr(err)
	}
	res.Payout = payout
	return res, nil
}

func claimOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ledger.ErrAlreadyClaimed):
		return "already_claimed"
	case errors.Is(err, ledger.ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrOwnershipFailed),
		errors.Is(err, ledger.ErrInvalidSignature),
		errors.Is(err, ledger.ErrOwnerCannotClaim):
		return "rejected"
	case errors.Is(err, ErrInvalidInput):
		return "invalid"
	default:
		return "error"
	}
}
