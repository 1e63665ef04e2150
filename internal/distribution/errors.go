package distribution

import (
	"errors"
	"fmt"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
)

var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrOwnershipFailed  = errors.New("ownership verification failed")
	ErrBalanceMismatch  = errors.New("balance verification failed")
	ErrNotConfigured    = errors.New("service not configured")
	ErrChainUnavailable = errors.New("chain unavailable")
)

func invalid(msg string) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, msg)
}

// chainErr folds ledger read failures into the service taxonomy. Ledger
// sentinels other than ErrUnavailable pass through for the caller to map.
func chainErr(err error) error {
	switch {
	case errors.Is(err, ledger.ErrFutureBlock):
		return invalid("block is in the future")
	case errors.Is(err, ledger.ErrUnavailable):
		return fmt.Errorf("%w: %v", ErrChainUnavailable, err)
	default:
		return err
	}
}

// balanceErr is chainErr for balance and listing reads. A revert there means a
// misconfigured contract, not a missing distribution.
func balanceErr(err error) error {
	if errors.Is(err, ledger.ErrNotFound) {
		return fmt.Errorf("balance read reverted: %v", err)
	}
	return chainErr(err)
}
