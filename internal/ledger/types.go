package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// Amounts are 18-decimal fixed-point integers held in uint256, matching the
// token contract's arithmetic. No floats anywhere in accounting.

// Distribution is one profit-sharing event. It never changes after creation.
type Distribution struct {
	ID                   uint64
	TotalAmount          *uint256.Int
	DistributionDate     time.Time
	DistributionBlock    uint64
	TokensExcludingOwner *uint256.Int
}

// Event is emitted by writable ledgers after a state change commits.
type Event struct {
	Type           string
	DistributionID uint64
	Holder         common.Address
	Amount         *uint256.Int
	Block          uint64
	At             time.Time
}

const (
	EventDistributionCreated = "distribution.created"
	EventDistributionClaimed = "distribution.claimed"
)

// Reader is the read side of the distribution ledger. It is implemented by the
// chain RPC client as well as by the writable backends.
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	// BalanceAt returns the holder's balance at the end of block; nil means latest.
	BalanceAt(ctx context.Context, holder common.Address, block *uint64) (*uint256.Int, error)
	GetDistribution(ctx context.Context, id uint64) (Distribution, error)
	// UnclaimedDistributions lists distributions holder has not claimed, ascending by id.
	UnclaimedDistributions(ctx context.Context, holder common.Address) ([]Distribution, error)
	HasClaimed(ctx context.Context, id uint64, holder common.Address) (bool, error)
}

// Service is a writable ledger with the token contract's semantics. Every
// successful mutation is one block.
type Service interface {
	Reader
	Owner(ctx context.Context) (common.Address, error)
	BackendAddress(ctx context.Context) (common.Address, error)
	TotalSupply(ctx context.Context) (*uint256.Int, error)
	Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error
	Burn(ctx context.Context, holder common.Address, amount *uint256.Int) error
	GenerateTokensForRealEstatePurchase(ctx context.Context, caller common.Address, amount *uint256.Int) error
	SetBackendAddress(ctx context.Context, caller, backend common.Address) error
	DistributeProfit(ctx context.Context, caller common.Address, amount *uint256.Int) (Distribution, error)
	ClaimProfit(ctx context.Context, caller common.Address, id uint64, balance *uint256.Int, sig []byte) (*uint256.Int, error)
}

var (
	ErrNotFound            = errors.New("ledger: distribution not found")
	ErrAlreadyClaimed      = errors.New("ledger: already claimed")
	ErrOwnerCannotClaim    = errors.New("ledger: owner cannot claim")
	ErrInvalidSignature    = errors.New("ledger: invalid backend signature")
	ErrInvalidAmount       = errors.New("ledger: amount must be greater than zero")
	ErrNoEligibleHolders   = errors.New("ledger: no eligible holders")
	ErrNotOwner            = errors.New("ledger: caller is not the owner")
	ErrZeroAddress         = errors.New("ledger: zero address")
	ErrMintCapExceeded     = errors.New("ledger: amount exceeds 10% of supply")
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	ErrFutureBlock         = errors.New("ledger: block is in the future")
	ErrOverflow            = errors.New("ledger: arithmetic overflow")
	ErrUnavailable         = errors.New("ledger: backend unavailable")
)
