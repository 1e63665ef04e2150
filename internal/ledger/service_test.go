package ledger

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
)

var (
	owner   = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	holderA = common.HexToAddress("0x00000000000000000000000000000000000000b1")
	holderB = common.HexToAddress("0x00000000000000000000000000000000000000b2")
	holderC = common.HexToAddress("0x00000000000000000000000000000000000000b3")
	holderD = common.HexToAddress("0x00000000000000000000000000000000000000b4")
)

var weiPerToken = uint256.NewInt(1_000_000_000_000_000_000)

func tokens(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), weiPerToken)
}

type fixture struct {
	ledger *InMemory
	signer *claimsig.Signer
	ctx    context.Context
}

func newFixture(t *testing.T, supplyTokens uint64, opts ...Option) *fixture {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := claimsig.NewSigner(key)
	opts = append([]Option{WithBackend(signer.Address())}, opts...)
	return &fixture{
		ledger: NewInMemory(owner, tokens(supplyTokens), opts...),
		signer: signer,
		ctx:    context.Background(),
	}
}

func (f *fixture) sign(t *testing.T, holder common.Address, id uint64, balance *uint256.Int) []byte {
	t.Helper()
	sig, err := f.signer.Sign(holder, id, balance)
	require.NoError(t, err)
	return sig
}

func (f *fixture) balance(t *testing.T, holder common.Address) *uint256.Int {
	t.Helper()
	bal, err := f.ledger.BalanceAt(f.ctx, holder, nil)
	require.NoError(t, err)
	return bal
}

func TestDistributeAndClaimScenario(t *testing.T) {
	f := newFixture(t, 100_000_000_000_000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(1000)))

	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(500))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), d.ID)
	assert.Equal(t, tokens(1000), d.TokensExcludingOwner)

	payout, err := f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(1000), f.sign(t, holderA, d.ID, tokens(1000)))
	require.NoError(t, err)
	assert.Equal(t, tokens(500), payout)
	assert.Equal(t, tokens(1500), f.balance(t, holderA))

	claimed, err := f.ledger.HasClaimed(f.ctx, d.ID, holderA)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestTokensExcludingOwnerIgnoresOwnerBalance(t *testing.T) {
	f := newFixture(t, 1_000_000)
	for _, h := range []common.Address{holderA, holderB, holderC, holderD} {
		require.NoError(t, f.ledger.Transfer(f.ctx, owner, h, tokens(100)))
	}
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(40))
	require.NoError(t, err)
	assert.Equal(t, tokens(400), d.TokensExcludingOwner)

	got, err := f.ledger.GetDistribution(f.ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, d, got)
}

func TestDistributeRejections(t *testing.T) {
	f := newFixture(t, 1000)

	_, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(10))
	assert.ErrorIs(t, err, ErrNoEligibleHolders, "owner holds the entire supply")

	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(1)))
	_, err = f.ledger.DistributeProfit(f.ctx, owner, new(uint256.Int))
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = f.ledger.DistributeProfit(f.ctx, holderA, tokens(10))
	assert.ErrorIs(t, err, ErrNotOwner)

	_, err = f.ledger.GetDistribution(f.ctx, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestClaimTwiceFails(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(50))
	require.NoError(t, err)
	sig := f.sign(t, holderA, d.ID, tokens(100))

	first, err := f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(100), sig)
	require.NoError(t, err)
	afterFirst := f.balance(t, holderA)

	_, err = f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(100), sig)
	assert.ErrorIs(t, err, ErrAlreadyClaimed)
	assert.Equal(t, tokens(50), first)
	assert.Equal(t, afterFirst, f.balance(t, holderA))
}

func TestOwnerCannotClaim(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(50))
	require.NoError(t, err)

	ownerBal := f.balance(t, owner)
	_, err = f.ledger.ClaimProfit(f.ctx, owner, d.ID, ownerBal, f.sign(t, owner, d.ID, ownerBal))
	assert.ErrorIs(t, err, ErrOwnerCannotClaim)
}

func TestClaimRejectsForeignSigner(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(50))
	require.NoError(t, err)

	otherKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := claimsig.NewSigner(otherKey).Sign(holderA, d.ID, tokens(100))
	require.NoError(t, err)

	_, err = f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(100), forged)
	assert.ErrorIs(t, err, ErrInvalidSignature)

	// A signature for holder A cannot be replayed by holder B.
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderB, tokens(100)))
	_, err = f.ledger.ClaimProfit(f.ctx, holderB, d.ID, tokens(100), f.sign(t, holderA, d.ID, tokens(100)))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.ledger.ClaimProfit(f.ctx, holderA, 99, tokens(100), f.sign(t, holderA, 99, tokens(100)))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUnclaimedDistributionsOrder(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	for i := 0; i < 3; i++ {
		_, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(10))
		require.NoError(t, err)
	}

	_, err := f.ledger.ClaimProfit(f.ctx, holderA, 1, tokens(100), f.sign(t, holderA, 1, tokens(100)))
	require.NoError(t, err)

	list, err := f.ledger.UnclaimedDistributions(f.ctx, holderA)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, uint64(0), list[0].ID)
	assert.Equal(t, uint64(2), list[1].ID)

	// Zero-share holders still see every distribution at this layer.
	list, err = f.ledger.UnclaimedDistributions(f.ctx, holderC)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestSnapshotSurvivesLaterBurn(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(300)))
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderB, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(40))
	require.NoError(t, err)

	require.NoError(t, f.ledger.Burn(f.ctx, holderA, tokens(200)))

	block := d.DistributionBlock
	atDist, err := f.ledger.BalanceAt(f.ctx, holderA, &block)
	require.NoError(t, err)
	assert.Equal(t, tokens(300), atDist)
	assert.Equal(t, tokens(100), f.balance(t, holderA))

	payout, err := f.ledger.ClaimProfit(f.ctx, holderA, d.ID, atDist, f.sign(t, holderA, d.ID, atDist))
	require.NoError(t, err)
	assert.Equal(t, tokens(30), payout, "300/400 of 40 with the frozen denominator")
}

func TestAcceptsAnyBalanceSignedByBackend(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(50))
	require.NoError(t, err)

	payout, err := f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(200), f.sign(t, holderA, d.ID, tokens(200)))
	require.NoError(t, err)
	assert.Equal(t, tokens(100), payout)
}

func TestPayoutsNeverExceedPool(t *testing.T) {
	f := newFixture(t, 1_000_000)
	holders := []common.Address{holderA, holderB, holderC, holderD}
	amounts := []*uint256.Int{uint256.NewInt(333), uint256.NewInt(333), uint256.NewInt(334), uint256.NewInt(1)}
	for i, h := range holders {
		require.NoError(t, f.ledger.Transfer(f.ctx, owner, h, amounts[i]))
	}
	pool := uint256.NewInt(1000)
	d, err := f.ledger.DistributeProfit(f.ctx, owner, pool)
	require.NoError(t, err)

	sum := new(uint256.Int)
	for i, h := range holders {
		p, err := f.ledger.ClaimProfit(f.ctx, h, d.ID, amounts[i], f.sign(t, h, d.ID, amounts[i]))
		require.NoError(t, err)
		sum.Add(sum, p)
	}
	assert.False(t, sum.Gt(pool), "sum %s exceeds pool", sum.Dec())
}

func TestConcurrentClaimsPayOnce(t *testing.T) {
	f := newFixture(t, 1000)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(50))
	require.NoError(t, err)
	sig := f.sign(t, holderA, d.ID, tokens(100))

	var ok, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(100), sig)
			switch err {
			case nil:
				ok.Add(1)
			case ErrAlreadyClaimed:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.EqualValues(t, 31, conflicts.Load())
	assert.Equal(t, tokens(150), f.balance(t, holderA))
}

func TestGenerateTokensCap(t *testing.T) {
	f := newFixture(t, 1000)

	assert.ErrorIs(t, f.ledger.GenerateTokensForRealEstatePurchase(f.ctx, owner, tokens(101)), ErrMintCapExceeded)
	assert.ErrorIs(t, f.ledger.GenerateTokensForRealEstatePurchase(f.ctx, holderA, tokens(1)), ErrNotOwner)
	assert.ErrorIs(t, f.ledger.GenerateTokensForRealEstatePurchase(f.ctx, owner, new(uint256.Int)), ErrInvalidAmount)

	require.NoError(t, f.ledger.GenerateTokensForRealEstatePurchase(f.ctx, owner, tokens(100)))
	supply, err := f.ledger.TotalSupply(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, tokens(1100), supply)
	assert.Equal(t, tokens(1100), f.balance(t, owner))
}

func TestSetBackendAddress(t *testing.T) {
	f := newFixture(t, 1000)
	next := common.HexToAddress("0x00000000000000000000000000000000000000c1")

	assert.ErrorIs(t, f.ledger.SetBackendAddress(f.ctx, owner, common.Address{}), ErrZeroAddress)
	assert.ErrorIs(t, f.ledger.SetBackendAddress(f.ctx, holderA, next), ErrNotOwner)
	require.NoError(t, f.ledger.SetBackendAddress(f.ctx, owner, next))

	got, err := f.ledger.BackendAddress(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, next, got)
}

func TestBalanceHistoryAndFailedCallsDoNotMine(t *testing.T) {
	f := newFixture(t, 1000)
	start, _ := f.ledger.BlockNumber(f.ctx)

	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(10)))
	afterFirst, _ := f.ledger.BlockNumber(f.ctx)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(5)))

	assert.ErrorIs(t, f.ledger.Transfer(f.ctx, holderB, holderA, tokens(1)), ErrInsufficientBalance)
	assert.ErrorIs(t, f.ledger.Burn(f.ctx, holderB, tokens(1)), ErrInsufficientBalance)
	head, _ := f.ledger.BlockNumber(f.ctx)
	assert.Equal(t, start+2, head)

	bal, err := f.ledger.BalanceAt(f.ctx, holderA, &start)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	bal, err = f.ledger.BalanceAt(f.ctx, holderA, &afterFirst)
	require.NoError(t, err)
	assert.Equal(t, tokens(10), bal)

	future := head + 1
	_, err = f.ledger.BalanceAt(f.ctx, holderA, &future)
	assert.ErrorIs(t, err, ErrFutureBlock)
}

func TestEventsEmitted(t *testing.T) {
	var events []Event
	at := time.Unix(1_700_000_000, 0)
	f := newFixture(t, 1000,
		WithEvents(func(e Event) { events = append(events, e) }),
		WithClock(func() time.Time { return at }),
	)
	require.NoError(t, f.ledger.Transfer(f.ctx, owner, holderA, tokens(100)))
	d, err := f.ledger.DistributeProfit(f.ctx, owner, tokens(50))
	require.NoError(t, err)
	assert.Equal(t, at.UTC(), d.DistributionDate)
	_, err = f.ledger.ClaimProfit(f.ctx, holderA, d.ID, tokens(100), f.sign(t, holderA, d.ID, tokens(100)))
	require.NoError(t, err)

	require.Len(t, events, 2)
	assert.Equal(t, EventDistributionCreated, events[0].Type)
	assert.Equal(t, EventDistributionClaimed, events[1].Type)
	assert.Equal(t, holderA, events[1].Holder)
	assert.Equal(t, tokens(50), events[1].Amount)
}
