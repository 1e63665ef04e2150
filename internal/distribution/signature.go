package distribution

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/audit"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

// SignatureRequest carries the raw client fields; numbers arrive as decimal strings.
type SignatureRequest struct {
	UserAddress           string
	DistributionID        string
	BalanceAtDistribution string
	DistributionBlock     string
	OwnershipSignature    string
	Nonce                 string
}

// Authorization is a backend signature over (Holder, DistributionID, Balance).
// Block is the distribution block the balance was read at.
type Authorization struct {
	Holder         common.Address
	DistributionID uint64
	Block          uint64
	Balance        *uint256.Int
	Signature      []byte
}

// IssueSignature authorizes a claim after proving address ownership and
// re-deriving the holder's balance at the distribution block from the chain.
// The signed balance is always the chain value, never the client's.
func (s *Service) IssueSignature(ctx context.Context, req SignatureRequest) (Authorization, error) {
	auth, err := s.issue(ctx, req)
	if err != nil {
		obs.SignatureRejected(rejectReason(err))
		return Authorization{}, err
	}
	obs.SignatureIssued()
	audit.SignatureIssued(ctx, auth.Holder, auth.DistributionID, auth.Block, auth.Balance)
	return auth, nil
}

func (s *Service) issue(ctx context.Context, req SignatureRequest) (Authorization, error) {
	if blank(req.UserAddress, req.DistributionID, req.BalanceAtDistribution, req.DistributionBlock) {
		return Authorization{}, invalid("missing required fields")
	}
	if blank(req.OwnershipSignature, req.Nonce) {
		return Authorization{}, invalid("ownership proof is required")
	}
	addr := strings.TrimSpace(req.UserAddress)
	if !ethsig.IsAddress(addr) {
		return Authorization{}, invalid("invalid userAddress")
	}
	proof := ownership.Proof{Address: addr, Nonce: strings.TrimSpace(req.Nonce), Signature: strings.TrimSpace(req.OwnershipSignature)}
	if !ownership.Verify(proof) {
		return Authorization{}, ErrOwnershipFailed
	}

	id, err := parseUint(req.DistributionID, "distributionId")
	if err != nil {
		return Authorization{}, err
	}
	block, err := parseUint(req.DistributionBlock, "distributionBlock")
	if err != nil {
		return Authorization{}, err
	}
	claimed, err := parseAmount(req.BalanceAtDistribution, "balanceAtDistribution")
	if err != nil {
		return Authorization{}, err
	}
	if s.reader == nil || s.signer == nil {
		return Authorization{}, ErrNotConfigured
	}
	if err := s.checkBlock(ctx, block, s.signatureMaxAge); err != nil {
		return Authorization{}, err
	}
	holder := common.HexToAddress(addr)
	actual, err := s.reader.BalanceAt(ctx, holder, &block)
	if err != nil {
		obs.Error("signature_balance_lookup_failed", map[string]any{
			"holder": obs.MaskAddress(holder.Hex()),
			"block":  block,
			"error":  err.Error(),
		})
		return Authorization{}, balanceErr(err)
	}
	if !actual.Eq(claimed) {
		obs.Warn("balance_mismatch", map[string]any{
			"holder":          obs.MaskAddress(holder.Hex()),
			"distribution_id": id,
			"block":           block,
		})
		return Authorization{}, ErrBalanceMismatch
	}
	if err := consumeNonce(ctx, s.nonces, proof); err != nil {
		return Authorization{}, err
	}

	sig, err := s.signer.Sign(holder, id, actual)
	if err != nil {
		return Authorization{}, err
	}
	return Authorization{Holder: holder, DistributionID: id, Block: block, Balance: actual, Signature: sig}, nil
}

// EncodedSignature is the 0x-prefixed 65-byte signature expected by claimProfit.
func (a Authorization) EncodedSignature() string {
	return ethsig.EncodeSignature(a.Signature)
}

// consumeNonce marks the proof's nonce as used. A nil store accepts every nonce.
func consumeNonce(ctx context.Context, store ownership.NonceStore, proof ownership.Proof) error {
	if store == nil {
		return nil
	}
	if err := store.Consume(ctx, proof.Address, proof.Nonce); err != nil {
		if errors.Is(err, ownership.ErrNonceUsed) {
			return fmt.Errorf("%w: %v", ErrOwnershipFailed, err)
		}
		return fmt.Errorf("nonce registry: %w", err)
	}
	return nil
}

func blank(values ...string) bool {
	for _, v := range values {
		if strings.TrimSpace(v) == "" {
			return true
		}
	}
	return false
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrOwnershipFailed):
		return "ownership"
	case errors.Is(err, ErrBalanceMismatch):
		return "balance_mismatch"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrChainUnavailable):
		return "chain"
	default:
		return "internal"
	}
}
