package ledger

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
)

// mintCapDivisor bounds real-estate mints to supply/10 per call.
const mintCapDivisor = 10

// Share is floor(balance * totalAmount / tokensExcludingOwner).
func Share(balance, totalAmount, tokensExcludingOwner *uint256.Int) (*uint256.Int, error) {
	if tokensExcludingOwner == nil || tokensExcludingOwner.IsZero() {
		return nil, ErrNoEligibleHolders
	}
	if balance == nil || totalAmount == nil {
		return nil, ErrInvalidAmount
	}
	prod, overflow := new(uint256.Int).MulOverflow(balance, totalAmount)
	if overflow {
		return nil, ErrOverflow
	}
	return prod.Div(prod, tokensExcludingOwner), nil
}

// PlanDistribution validates distributeProfit and returns the frozen denominator.
func PlanDistribution(caller, owner common.Address, amount, supply, ownerBalance *uint256.Int) (*uint256.Int, error) {
	if caller != owner {
		return nil, ErrNotOwner
	}
	if amount == nil || amount.IsZero() {
		return nil, ErrInvalidAmount
	}
	excl, underflow := new(uint256.Int).SubOverflow(supply, ownerBalance)
	if underflow || excl.IsZero() {
		return nil, ErrNoEligibleHolders
	}
	return excl, nil
}

// ClaimInput is everything a backend must look up before a claim can be judged.
type ClaimInput struct {
	Caller       common.Address
	Owner        common.Address
	Backend      common.Address
	Distribution Distribution
	Claimed      bool
	Balance      *uint256.Int
	Signature    []byte
}

// PlanClaim applies the claim checks in contract order and returns the payout.
// The presented balance is trusted once the backend signature verifies.
func PlanClaim(in ClaimInput) (*uint256.Int, error) {
	if in.Caller == in.Owner {
		return nil, ErrOwnerCannotClaim
	}
	if in.Claimed {
		return nil, ErrAlreadyClaimed
	}
	if in.Balance == nil {
		return nil, ErrInvalidAmount
	}
	if !claimsig.Verify(in.Backend, in.Caller, in.Distribution.ID, in.Balance, in.Signature) {
		return nil, ErrInvalidSignature
	}
	return Share(in.Balance, in.Distribution.TotalAmount, in.Distribution.TokensExcludingOwner)
}

// PlanMint validates generateTokensForRealEstatePurchase.
func PlanMint(caller, owner common.Address, amount, supply *uint256.Int) error {
	if caller != owner {
		return ErrNotOwner
	}
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	limit := new(uint256.Int).Div(supply, uint256.NewInt(mintCapDivisor))
	if amount.Gt(limit) {
		return ErrMintCapExceeded
	}
	return nil
}

// PlanBackend validates setBackendAddress.
func PlanBackend(caller, owner, backend common.Address) error {
	if caller != owner {
		return ErrNotOwner
	}
	if backend == (common.Address{}) {
		return ErrZeroAddress
	}
	return nil
}

// AddChecked returns a+b or ErrOverflow.
func AddChecked(a, b *uint256.Int) (*uint256.Int, error) {
	sum, overflow := new(uint256.Int).AddOverflow(a, b)
	if overflow {
		return nil, ErrOverflow
	}
	return sum, nil
}

// SubChecked returns a-b or ErrInsufficientBalance.
func SubChecked(a, b *uint256.Int) (*uint256.Int, error) {
	diff, underflow := new(uint256.Int).SubOverflow(a, b)
	if underflow {
		return nil, ErrInsufficientBalance
	}
	return diff, nil
}
