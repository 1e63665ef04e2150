package distribution

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"strconv"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

type env struct {
	ctx       context.Context
	mem       *ledger.InMemory
	signer    *claimsig.Signer
	ownerKey  *ecdsa.PrivateKey
	holderKey *ecdsa.PrivateKey
	owner     common.Address
	holder    common.Address
}

func newEnv(t *testing.T) *env {
	t.Helper()
	backendKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	ownerKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	holderKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := claimsig.NewSigner(backendKey)
	owner := crypto.PubkeyToAddress(ownerKey.PublicKey)
	return &env{
		ctx:       context.Background(),
		mem:       ledger.NewInMemory(owner, uint256.NewInt(1_000_000), ledger.WithBackend(signer.Address())),
		signer:    signer,
		ownerKey:  ownerKey,
		holderKey: holderKey,
		owner:     owner,
		holder:    crypto.PubkeyToAddress(holderKey.PublicKey),
	}
}

func (e *env) proof(t *testing.T, key *ecdsa.PrivateKey, nonce string) ownership.Proof {
	t.Helper()
	p, err := ownership.Sign(key, crypto.PubkeyToAddress(key.PublicKey), nonce)
	require.NoError(t, err)
	return p
}

func (e *env) request(t *testing.T, id, block uint64, balance uint64, nonce string) SignatureRequest {
	p := e.proof(t, e.holderKey, nonce)
	return SignatureRequest{
		UserAddress:           p.Address,
		DistributionID:        strconv.FormatUint(id, 10),
		BalanceAtDistribution: strconv.FormatUint(balance, 10),
		DistributionBlock:     strconv.FormatUint(block, 10),
		OwnershipSignature:    p.Signature,
		Nonce:                 nonce,
	}
}

func TestBalanceReportsNonZeroShares(t *testing.T) {
	e := newEnv(t)
	other := common.HexToAddress("0x00000000000000000000000000000000000000b2")
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, other, uint256.NewInt(100)))
	// Holder owns nothing at distribution 0, so it is filtered.
	_, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(10))
	require.NoError(t, err)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(300)))
	d1, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(1000))
	require.NoError(t, err)

	svc := New(e.mem)
	report, err := svc.Balance(e.ctx, e.holder.Hex(), "")
	require.NoError(t, err)
	assert.Equal(t, uint64(300), report.Balance.Uint64())
	require.Len(t, report.AvailableDistributions, 1)
	got := report.AvailableDistributions[0]
	assert.Equal(t, d1.ID, got.ID)
	assert.Equal(t, uint64(300), got.BalanceAtDistributionBlock.Uint64())
	assert.Equal(t, uint64(750), got.UserShare.Uint64(), "floor(300*1000/400)")
}

func TestBalanceAtHistoricalBlock(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(10)))
	at, _ := e.mem.BlockNumber(e.ctx)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(5)))

	svc := New(e.mem)
	report, err := svc.Balance(e.ctx, e.holder.Hex(), strconv.FormatUint(at, 10))
	require.NoError(t, err)
	assert.Equal(t, uint64(10), report.Balance.Uint64())
	assert.Empty(t, report.AvailableDistributions)

	_, err = svc.Balance(e.ctx, e.holder.Hex(), "99")
	assert.ErrorIs(t, err, ErrInvalidInput)
	_, err = svc.Balance(e.ctx, e.holder.Hex(), "-1")
	assert.ErrorIs(t, err, ErrInvalidInput)

	old := New(e.mem, WithBalanceMaxAge(1))
	_, err = old.Balance(e.ctx, e.holder.Hex(), "1")
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestBalanceValidatesAddress(t *testing.T) {
	svc := New(ledger.NewInMemory(common.Address{1}, uint256.NewInt(1)))
	for _, addr := range []string{"", "not-an-address", "0x1234", "0x70997970c51812dc3A010C7d01b50e0d17dc79C8"} {
		_, err := svc.Balance(context.Background(), addr, "")
		assert.ErrorIs(t, err, ErrInvalidInput, addr)
	}

	_, err := New(nil).Balance(context.Background(), "0x70997970C51812dc3A010C7d01b50e0d17dc79C8", "")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

type flakyReader struct {
	ledger.Reader
	failBlock uint64
	failAll   bool
}

func (f flakyReader) BalanceAt(ctx context.Context, holder common.Address, block *uint64) (*uint256.Int, error) {
	if f.failAll || (block != nil && *block == f.failBlock) {
		return nil, ledger.ErrUnavailable
	}
	return f.Reader.BalanceAt(ctx, holder, block)
}

func TestBalanceSkipsBrokenDistribution(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d0, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(10))
	require.NoError(t, err)
	d1, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(20))
	require.NoError(t, err)

	svc := New(flakyReader{Reader: e.mem, failBlock: d0.DistributionBlock})
	report, err := svc.Balance(e.ctx, e.holder.Hex(), "")
	require.NoError(t, err)
	require.Len(t, report.AvailableDistributions, 1)
	assert.Equal(t, d1.ID, report.AvailableDistributions[0].ID)

	down := New(flakyReader{Reader: e.mem, failAll: true})
	_, err = down.Balance(e.ctx, e.holder.Hex(), "")
	assert.ErrorIs(t, err, ErrChainUnavailable)
}

func TestIssueSignatureThenClaim(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)

	svc := New(e.mem, WithSigner(e.signer))
	auth, err := svc.IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 100, "n-1"))
	require.NoError(t, err)
	assert.Equal(t, e.holder, auth.Holder)
	assert.True(t, claimsig.Verify(e.signer.Address(), e.holder, d.ID, uint256.NewInt(100), auth.Signature))

	payout, err := e.mem.ClaimProfit(e.ctx, e.holder, d.ID, auth.Balance, auth.Signature)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), payout.Uint64())
}

func TestIssueSignatureRejectsBalanceMismatch(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)

	svc := New(e.mem, WithSigner(e.signer))
	_, err = svc.IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 101, "n-1"))
	assert.ErrorIs(t, err, ErrBalanceMismatch)
}

func TestIssueSignatureValidation(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)
	svc := New(e.mem, WithSigner(e.signer))

	valid := e.request(t, d.ID, d.DistributionBlock, 100, "n-1")

	missing := valid
	missing.Nonce = ""
	_, err = svc.IssueSignature(e.ctx, missing)
	assert.ErrorIs(t, err, ErrInvalidInput)

	badAddr := valid
	badAddr.UserAddress = "0xnope"
	_, err = svc.IssueSignature(e.ctx, badAddr)
	assert.ErrorIs(t, err, ErrInvalidInput)

	stranger, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged := valid
	forged.OwnershipSignature = e.proof(t, stranger, "n-1").Signature
	_, err = svc.IssueSignature(e.ctx, forged)
	assert.ErrorIs(t, err, ErrOwnershipFailed)

	garbled := valid
	garbled.OwnershipSignature = "0xdeadbeef"
	_, err = svc.IssueSignature(e.ctx, garbled)
	assert.ErrorIs(t, err, ErrOwnershipFailed)

	badID := valid
	badID.DistributionID = "1.5"
	_, err = svc.IssueSignature(e.ctx, badID)
	assert.ErrorIs(t, err, ErrInvalidInput)

	future := e.request(t, d.ID, d.DistributionBlock+100, 100, "n-2")
	_, err = svc.IssueSignature(e.ctx, future)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIssueSignatureRejectsStaleBlock(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.owner, uint256.NewInt(1)))
	}

	svc := New(e.mem, WithSigner(e.signer), WithSignatureMaxAge(2))
	_, err = svc.IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 100, "n-1"))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestIssueSignatureNotConfigured(t *testing.T) {
	e := newEnv(t)
	_, err := New(e.mem).IssueSignature(e.ctx, e.request(t, 0, 1, 0, "n-1"))
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Equal(t, common.Address{}, New(e.mem).SignerAddress())
}

func TestIssueSignatureNonceRegistry(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)

	svc := New(e.mem, WithSigner(e.signer), WithNonceStore(ownership.NewMemoryNonces(0)))
	req := e.request(t, d.ID, d.DistributionBlock, 100, "n-1")
	_, err = svc.IssueSignature(e.ctx, req)
	require.NoError(t, err)
	_, err = svc.IssueSignature(e.ctx, req)
	assert.ErrorIs(t, err, ErrOwnershipFailed)

	// Without a registry the same proof is accepted again.
	_, err = New(e.mem, WithSigner(e.signer)).IssueSignature(e.ctx, req)
	assert.NoError(t, err)
}

func TestClaimsFlow(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)

	auth, err := New(e.mem, WithSigner(e.signer)).IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 100, "n-1"))
	require.NoError(t, err)

	claims := NewClaims(e.mem, nil)
	p := e.proof(t, e.holderKey, "c-1")
	req := ClaimRequest{
		UserAddress:        p.Address,
		DistributionID:     "0",
		Balance:            "100",
		Signature:          auth.EncodedSignature(),
		OwnershipSignature: p.Signature,
		Nonce:              "c-1",
	}
	res, err := claims.Claim(e.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), res.Payout.Uint64())

	_, err = claims.Claim(e.ctx, req)
	assert.ErrorIs(t, err, ledger.ErrAlreadyClaimed)

	unknown := req
	unknown.DistributionID = "7"
	_, err = claims.Claim(e.ctx, unknown)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestClaimsRejectOwnerAndForgery(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)
	claims := NewClaims(e.mem, nil)

	ownerBal, err := e.mem.BalanceAt(e.ctx, e.owner, nil)
	require.NoError(t, err)
	sig, err := e.signer.Sign(e.owner, d.ID, ownerBal)
	require.NoError(t, err)
	op := e.proof(t, e.ownerKey, "o-1")
	_, err = claims.Claim(e.ctx, ClaimRequest{
		UserAddress: op.Address, DistributionID: "0", Balance: ownerBal.Dec(),
		Signature: ethsig.EncodeSignature(sig), OwnershipSignature: op.Signature, Nonce: "o-1",
	})
	assert.ErrorIs(t, err, ledger.ErrOwnerCannotClaim)

	rogue, err := crypto.GenerateKey()
	require.NoError(t, err)
	forged, err := claimsig.NewSigner(rogue).Sign(e.holder, d.ID, uint256.NewInt(100))
	require.NoError(t, err)
	hp := e.proof(t, e.holderKey, "h-1")
	_, err = claims.Claim(e.ctx, ClaimRequest{
		UserAddress: hp.Address, DistributionID: "0", Balance: "100",
		Signature: ethsig.EncodeSignature(forged), OwnershipSignature: hp.Signature, Nonce: "h-1",
	})
	assert.ErrorIs(t, err, ledger.ErrInvalidSignature)

	_, err = claims.Claim(e.ctx, ClaimRequest{
		UserAddress: hp.Address, DistributionID: "0", Balance: "100",
		Signature: "0x1234", OwnershipSignature: hp.Signature, Nonce: "h-1",
	})
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestChainErrMapping(t *testing.T) {
	assert.ErrorIs(t, chainErr(ledger.ErrUnavailable), ErrChainUnavailable)
	assert.ErrorIs(t, chainErr(ledger.ErrFutureBlock), ErrInvalidInput)
	assert.True(t, errors.Is(chainErr(ledger.ErrNotFound), ledger.ErrNotFound))

	assert.ErrorIs(t, balanceErr(ledger.ErrUnavailable), ErrChainUnavailable)
	assert.False(t, errors.Is(balanceErr(ledger.ErrNotFound), ledger.ErrNotFound))
}

// flakyLedger returns err from BalanceAt and ClaimProfit until failures runs out.
type flakyLedger struct {
	ledger.Service
	err      error
	failures int
}

func (f *flakyLedger) BalanceAt(ctx context.Context, holder common.Address, block *uint64) (*uint256.Int, error) {
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.Service.BalanceAt(ctx, holder, block)
}

func (f *flakyLedger) ClaimProfit(ctx context.Context, caller common.Address, id uint64, balance *uint256.Int, sig []byte) (*uint256.Int, error) {
	if f.failures > 0 {
		f.failures--
		return nil, f.err
	}
	return f.Service.ClaimProfit(ctx, caller, id, balance, sig)
}

func TestIssueSignatureRetryAfterChainOutage(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)

	reader := &flakyLedger{Service: e.mem, err: ledger.ErrUnavailable, failures: 1}
	svc := New(reader, WithSigner(e.signer), WithNonceStore(ownership.NewMemoryNonces(0)))
	req := e.request(t, d.ID, d.DistributionBlock, 100, "n-1")

	_, err = svc.IssueSignature(e.ctx, req)
	require.ErrorIs(t, err, ErrChainUnavailable)

	_, err = svc.IssueSignature(e.ctx, req)
	require.NoError(t, err)
	_, err = svc.IssueSignature(e.ctx, req)
	assert.ErrorIs(t, err, ErrOwnershipFailed)
}

func TestIssueSignatureMismatchKeepsNonce(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)

	svc := New(e.mem, WithSigner(e.signer), WithNonceStore(ownership.NewMemoryNonces(0)))
	_, err = svc.IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 999, "n-1"))
	require.ErrorIs(t, err, ErrBalanceMismatch)
	_, err = svc.IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 100, "n-1"))
	assert.NoError(t, err)
}

func TestClaimRetryAfterChainOutage(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.mem.Transfer(e.ctx, e.owner, e.holder, uint256.NewInt(100)))
	d, err := e.mem.DistributeProfit(e.ctx, e.owner, uint256.NewInt(50))
	require.NoError(t, err)
	auth, err := New(e.mem, WithSigner(e.signer)).IssueSignature(e.ctx, e.request(t, d.ID, d.DistributionBlock, 100, "n-1"))
	require.NoError(t, err)

	flaky := &flakyLedger{Service: e.mem, err: ledger.ErrUnavailable, failures: 1}
	claims := NewClaims(flaky, ownership.NewMemoryNonces(0))
	p := e.proof(t, e.holderKey, "c-1")
	req := ClaimRequest{
		UserAddress:        p.Address,
		DistributionID:     "0",
		Balance:            "100",
		Signature:          auth.EncodedSignature(),
		OwnershipSignature: p.Signature,
		Nonce:              "c-1",
	}

	_, err = claims.Claim(e.ctx, req)
	require.ErrorIs(t, err, ErrChainUnavailable)

	res, err := claims.Claim(e.ctx, req)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), res.Payout.Uint64())

	_, err = claims.Claim(e.ctx, req)
	assert.ErrorIs(t, err, ErrOwnershipFailed)
}

func TestBalanceRevertIsNotDistributionNotFound(t *testing.T) {
	e := newEnv(t)
	reader := &flakyLedger{Service: e.mem, err: ledger.ErrNotFound, failures: 1}

	_, err := New(reader).Balance(e.ctx, e.holder.Hex(), "")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ledger.ErrNotFound))
	assert.False(t, errors.Is(err, ErrInvalidInput))
}
