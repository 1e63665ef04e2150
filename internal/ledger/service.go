package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

type checkpoint struct {
	block  uint64
	amount *uint256.Int
}

type claimKey struct {
	id     uint64
	holder common.Address
}

// InMemory implements Service in-process. Each successful mutation mines one
// block; reverted calls leave height and state untouched.
type InMemory struct {
	mu       sync.RWMutex
	owner    common.Address
	backend  common.Address
	height   uint64
	supply   *uint256.Int
	balances map[common.Address][]checkpoint
	dists    []Distribution
	claimed  map[claimKey]struct{}
	now      func() time.Time
	onEvent  func(Event)
}

var _ Service = (*InMemory)(nil)

// Option configures InMemory.
type Option func(*InMemory)

// WithBackend sets the initial backend signer address.
func WithBackend(addr common.Address) Option {
	return func(s *InMemory) { s.backend = addr }
}

// WithClock overrides the time source used for distribution dates.
func WithClock(fn func() time.Time) Option {
	return func(s *InMemory) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEvents registers a callback invoked after each committed distribution or claim.
func WithEvents(fn func(Event)) Option {
	return func(s *InMemory) { s.onEvent = fn }
}

// NewInMemory deploys a fresh ledger: block 1 mints initialSupply to owner.
func NewInMemory(owner common.Address, initialSupply *uint256.Int, opts ...Option) *InMemory {
	s := &InMemory{
		owner:    owner,
		supply:   new(uint256.Int),
		balances: make(map[common.Address][]checkpoint),
		claimed:  make(map[claimKey]struct{}),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.height = 1
	if initialSupply != nil && !initialSupply.IsZero() {
		s.supply = initialSupply.Clone()
		s.setBalance(owner, initialSupply.Clone())
	}
	return s
}

func (s *InMemory) BlockNumber(ctx context.Context) (uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.height, nil
}

func (s *InMemory) Owner(ctx context.Context) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.owner, nil
}

func (s *InMemory) BackendAddress(ctx context.Context) (common.Address, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend, nil
}

func (s *InMemory) TotalSupply(ctx context.Context) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.supply.Clone(), nil
}

func (s *InMemory) BalanceAt(ctx context.Context, holder common.Address, block *uint64) (*uint256.Int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at := s.height
	if block != nil {
		if *block > s.height {
			return nil, ErrFutureBlock
		}
		at = *block
	}
	return s.balanceAt(holder, at).Clone(), nil
}

func (s *InMemory) GetDistribution(ctx context.Context, id uint64) (Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if id >= uint64(len(s.dists)) {
		return Distribution{}, ErrNotFound
	}
	return copyDistribution(s.dists[id]), nil
}

func (s *InMemory) UnclaimedDistributions(ctx context.Context, holder common.Address) ([]Distribution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Distribution, 0, len(s.dists))
	for _, d := range s.dists {
		if _, ok := s.claimed[claimKey{id: d.ID, holder: holder}]; ok {
			continue
		}
		out = append(out, copyDistribution(d))
	}
	return out, nil
}

func (s *InMemory) HasClaimed(ctx context.Context, id uint64, holder common.Address) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.claimed[claimKey{id: id, holder: holder}]
	return ok, nil
}

func (s *InMemory) Transfer(ctx context.Context, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return ErrZeroAddress
	}
	if amount == nil {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fromBal, err := SubChecked(s.latest(from), amount)
	if err != nil {
		return err
	}
	if from == to {
		s.height++
		return nil
	}
	toBal, err := AddChecked(s.latest(to), amount)
	if err != nil {
		return err
	}
	s.height++
	s.setBalance(from, fromBal)
	s.setBalance(to, toBal)
	return nil
}

func (s *InMemory) Burn(ctx context.Context, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return ErrInvalidAmount
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	bal, err := SubChecked(s.latest(holder), amount)
	if err != nil {
		return err
	}
	s.height++
	s.setBalance(holder, bal)
	s.supply = new(uint256.Int).Sub(s.supply, amount)
	return nil
}

func (s *InMemory) GenerateTokensForRealEstatePurchase(ctx context.Context, caller common.Address, amount *uint256.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := PlanMint(caller, s.owner, amount, s.supply); err != nil {
		return err
	}
	supply, bal, err := s.minted(s.owner, amount)
	if err != nil {
		return err
	}
	s.height++
	s.supply = supply
	s.setBalance(s.owner, bal)
	return nil
}

func (s *InMemory) SetBackendAddress(ctx context.Context, caller, backend common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := PlanBackend(caller, s.owner, backend); err != nil {
		return err
	}
	s.height++
	s.backend = backend
	return nil
}

func (s *InMemory) DistributeProfit(ctx context.Context, caller common.Address, amount *uint256.Int) (Distribution, error) {
	s.mu.Lock()
	excl, err := PlanDistribution(caller, s.owner, amount, s.supply, s.latest(s.owner))
	if err != nil {
		s.mu.Unlock()
		return Distribution{}, err
	}
	s.height++
	d := Distribution{
		ID:                   uint64(len(s.dists)),
		TotalAmount:          amount.Clone(),
		DistributionDate:     s.now().UTC().Truncate(time.Second),
		DistributionBlock:    s.height,
		TokensExcludingOwner: excl,
	}
	s.dists = append(s.dists, d)
	s.mu.Unlock()

	s.emit(Event{Type: EventDistributionCreated, DistributionID: d.ID, Amount: d.TotalAmount, Block: d.DistributionBlock, At: d.DistributionDate})
	return copyDistribution(d), nil
}

func (s *InMemory) ClaimProfit(ctx context.Context, caller common.Address, id uint64, balance *uint256.Int, sig []byte) (*uint256.Int, error) {
	s.mu.Lock()
	if id >= uint64(len(s.dists)) {
		s.mu.Unlock()
		return nil, ErrNotFound
	}
	key := claimKey{id: id, holder: caller}
	_, claimed := s.claimed[key]
	payout, err := PlanClaim(ClaimInput{
		Caller:       caller,
		Owner:        s.owner,
		Backend:      s.backend,
		Distribution: s.dists[id],
		Claimed:      claimed,
		Balance:      balance,
		Signature:    sig,
	})
	if err == nil {
		var supply, bal *uint256.Int
		if supply, bal, err = s.minted(caller, payout); err == nil {
			s.height++
			s.claimed[key] = struct{}{}
			s.supply = supply
			s.setBalance(caller, bal)
		}
	}
	block := s.height
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}

	s.emit(Event{Type: EventDistributionClaimed, DistributionID: id, Holder: caller, Amount: payout, Block: block, At: s.now().UTC()})
	return payout.Clone(), nil
}

// --- internal helpers; callers hold s.mu ---

func (s *InMemory) latest(holder common.Address) *uint256.Int {
	return s.balanceAt(holder, s.height)
}

func (s *InMemory) balanceAt(holder common.Address, block uint64) *uint256.Int {
	cps := s.balances[holder]
	i := sort.Search(len(cps), func(i int) bool { return cps[i].block > block })
	if i == 0 {
		return new(uint256.Int)
	}
	return cps[i-1].amount
}

func (s *InMemory) setBalance(holder common.Address, amount *uint256.Int) {
	cps := s.balances[holder]
	if n := len(cps); n > 0 && cps[n-1].block == s.height {
		cps[n-1].amount = amount
		return
	}
	s.balances[holder] = append(cps, checkpoint{block: s.height, amount: amount})
}

// minted returns supply and balance of to after minting amount, without applying them.
func (s *InMemory) minted(to common.Address, amount *uint256.Int) (*uint256.Int, *uint256.Int, error) {
	supply, err := AddChecked(s.supply, amount)
	if err != nil {
		return nil, nil, err
	}
	bal, err := AddChecked(s.latest(to), amount)
	if err != nil {
		return nil, nil, err
	}
	return supply, bal, nil
}

func (s *InMemory) emit(evt Event) {
	if s.onEvent != nil {
		s.onEvent(evt)
	}
}

func copyDistribution(d Distribution) Distribution {
	d.TotalAmount = d.TotalAmount.Clone()
	d.TokensExcludingOwner = d.TokensExcludingOwner.Clone()
	return d
}
