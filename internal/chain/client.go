// Package chain reads the LandLord contract over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
)

const defaultTimeout = 10 * time.Second

// Backend is the subset of the Ethereum RPC used by Client. *ethclient.Client satisfies it.
type Backend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Client implements ledger.Reader against a deployed contract.
type Client struct {
	backend  Backend
	contract common.Address
	timeout  time.Duration
	closer   func()
}

var _ ledger.Reader = (*Client)(nil)

// New wraps an existing backend. A non-positive timeout falls back to 10s.
func New(backend Backend, contract common.Address, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{backend: backend, contract: contract, timeout: timeout}
}

// Dial connects to an RPC endpoint.
func Dial(ctx context.Context, endpoint string, contract common.Address, timeout time.Duration) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("chain: rpc endpoint required")
	}
	if contract == (common.Address{}) {
		return nil, fmt.Errorf("chain: contract address required")
	}
	ec, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, fmt.Errorf("chain: dial: %w", err)
	}
	c := New(ec, contract, timeout)
	c.closer = ec.Close
	return c, nil
}

// Close releases the RPC connection when the client owns it.
func (c *Client) Close() {
	if c != nil && c.closer != nil {
		c.closer()
	}
}

func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer obs.ObserveChain("blockNumber", time.Now())
	n, err := c.backend.BlockNumber(ctx)
	if err != nil {
		return 0, classify(err)
	}
	return n, nil
}

func (c *Client) BalanceAt(ctx context.Context, holder common.Address, block *uint64) (*uint256.Int, error) {
	var at *big.Int
	if block != nil {
		at = new(big.Int).SetUint64(*block)
	}
	out, err := c.call(ctx, "balanceOf", at, holder)
	if err != nil {
		return nil, err
	}
	bal, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", ledger.ErrUnavailable, out[0])
	}
	v, overflow := uint256.FromBig(bal)
	if overflow {
		return nil, ledger.ErrOverflow
	}
	return v, nil
}

func (c *Client) GetDistribution(ctx context.Context, id uint64) (ledger.Distribution, error) {
	out, err := c.call(ctx, "getDistribution", nil, new(big.Int).SetUint64(id))
	if err != nil {
		return ledger.Distribution{}, err
	}
	t := *abi.ConvertType(out[0], new(distributionTuple)).(*distributionTuple)
	d, err := t.toLedger()
	if err != nil {
		return ledger.Distribution{}, fmt.Errorf("%w: distribution %d", err, id)
	}
	return d, nil
}

// UnclaimedDistributions returns decoded records in contract order. Records that
// do not fit the ledger types are dropped and logged rather than failing the call.
func (c *Client) UnclaimedDistributions(ctx context.Context, holder common.Address) ([]ledger.Distribution, error) {
	out, err := c.call(ctx, "getUnclaimedDistributions", nil, holder)
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]distributionTuple)).(*[]distributionTuple)
	res := make([]ledger.Distribution, 0, len(tuples))
	for i, t := range tuples {
		d, err := t.toLedger()
		if err != nil {
			obs.Warn("chain_record_skipped", map[string]any{
				"holder": obs.MaskAddress(holder.Hex()),
				"index":  i,
				"error":  err.Error(),
			})
			continue
		}
		res = append(res, d)
	}
	return res, nil
}

func (c *Client) HasClaimed(ctx context.Context, id uint64, holder common.Address) (bool, error) {
	out, err := c.call(ctx, "hasClaimed", nil, new(big.Int).SetUint64(id), holder)
	if err != nil {
		return false, err
	}
	claimed, ok := out[0].(bool)
	if !ok {
		return false, fmt.Errorf("%w: hasClaimed returned %T", ledger.ErrUnavailable, out[0])
	}
	return claimed, nil
}

func (c *Client) call(ctx context.Context, method string, block *big.Int, args ...any) ([]any, error) {
	input, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("chain: pack %s: %w", method, err)
	}
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer obs.ObserveChain(method, time.Now())

	to := c.contract
	raw, err := c.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: input}, block)
	if err != nil {
		return nil, classify(err)
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ledger.ErrUnavailable, method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s returned no values", ledger.ErrUnavailable, method)
	}
	return out, nil
}

// classify maps RPC failures onto ledger errors. Reverts on the read path only
// happen for unknown distribution ids.
func classify(err error) error {
	if strings.Contains(err.Error(), "execution reverted") {
		return ledger.ErrNotFound
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return fmt.Errorf("%w: %v", ledger.ErrUnavailable, err)
}

func unixUTC(sec uint64) time.Time {
	return time.Unix(int64(sec), 0).UTC()
}
