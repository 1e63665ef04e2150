// Package distribution answers balance queries and issues backend claim
// authorizations. It reads from a ledger.Reader and never writes to it.
package distribution

import (
	"context"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/claimsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/obs"
	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

const (
	// DefaultBalanceMaxAge is about two years of 3s blocks.
	DefaultBalanceMaxAge uint64 = 21_024_000
	// DefaultSignatureMaxAge is about two years of 2s blocks.
	DefaultSignatureMaxAge uint64 = 31_536_000
)

// Service is safe for concurrent use; it holds no per-request state.
type Service struct {
	reader          ledger.Reader
	signer          *claimsig.Signer
	nonces          ownership.NonceStore
	balanceMaxAge   uint64
	signatureMaxAge uint64
}

// Option configures Service.
type Option func(*Service)

// WithSigner sets the backend key. Without it IssueSignature returns ErrNotConfigured.
func WithSigner(s *claimsig.Signer) Option {
	return func(svc *Service) { svc.signer = s }
}

// WithNonceStore enables single-use ownership nonces.
func WithNonceStore(n ownership.NonceStore) Option {
	return func(svc *Service) { svc.nonces = n }
}

// WithBalanceMaxAge bounds how far back a balance query may look. Zero disables the bound.
func WithBalanceMaxAge(blocks uint64) Option {
	return func(svc *Service) { svc.balanceMaxAge = blocks }
}

// WithSignatureMaxAge bounds how old a distribution block may be when signing. Zero disables the bound.
func WithSignatureMaxAge(blocks uint64) Option {
	return func(svc *Service) { svc.signatureMaxAge = blocks }
}

// New builds a Service. A nil reader yields ErrNotConfigured on every call that needs the chain.
func New(reader ledger.Reader, opts ...Option) *Service {
	svc := &Service{
		reader:          reader,
		balanceMaxAge:   DefaultBalanceMaxAge,
		signatureMaxAge: DefaultSignatureMaxAge,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// SignerAddress is the backend address the ledger must trust, or the zero address.
func (s *Service) SignerAddress() common.Address {
	if s.signer == nil {
		return common.Address{}
	}
	return s.signer.Address()
}

// DistributionShare is an unclaimed distribution with the holder's entitlement.
type DistributionShare struct {
	ledger.Distribution
	BalanceAtDistributionBlock *uint256.Int
	UserShare                  *uint256.Int
}

// BalanceReport is the answer to a balance query.
type BalanceReport struct {
	Balance                *uint256.Int
	AvailableDistributions []DistributionShare
}

// Balance returns the holder's balance at block (latest when block is empty) and
// every unclaimed distribution with a non-zero share. A distribution that cannot
// be evaluated is skipped and logged; the rest of the report is still returned.
func (s *Service) Balance(ctx context.Context, userAddress, block string) (BalanceReport, error) {
	userAddress = strings.TrimSpace(userAddress)
	if userAddress == "" {
		return BalanceReport{}, invalid("userAddress is required")
	}
	if !ethsig.IsAddress(userAddress) {
		return BalanceReport{}, invalid("invalid userAddress")
	}
	if s.reader == nil {
		return BalanceReport{}, ErrNotConfigured
	}
	holder := common.HexToAddress(userAddress)
	masked := obs.MaskAddress(holder.Hex())

	var at *uint64
	if block = strings.TrimSpace(block); block != "" {
		n, err := parseUint(block, "block")
		if err != nil {
			return BalanceReport{}, err
		}
		if err := s.checkBlock(ctx, n, s.balanceMaxAge); err != nil {
			return BalanceReport{}, err
		}
		at = &n
	}

	bal, err := s.reader.BalanceAt(ctx, holder, at)
	if err != nil {
		obs.Error("balance_query_failed", map[string]any{"holder": masked, "error": err.Error()})
		return BalanceReport{}, balanceErr(err)
	}
	dists, err := s.reader.UnclaimedDistributions(ctx, holder)
	if err != nil {
		obs.Error("distribution_list_failed", map[string]any{"holder": masked, "error": err.Error()})
		return BalanceReport{}, balanceErr(err)
	}

	report := BalanceReport{Balance: bal, AvailableDistributions: []DistributionShare{}}
	for _, d := range dists {
		entry, err := s.share(ctx, holder, d)
		if err != nil {
			obs.Warn("distribution_skipped", map[string]any{
				"holder":          masked,
				"distribution_id": d.ID,
				"error":           err.Error(),
			})
			continue
		}
		if entry.UserShare.IsZero() {
			continue
		}
		report.AvailableDistributions = append(report.AvailableDistributions, entry)
	}
	return report, nil
}

func (s *Service) share(ctx context.Context, holder common.Address, d ledger.Distribution) (DistributionShare, error) {
	block := d.DistributionBlock
	bal, err := s.reader.BalanceAt(ctx, holder, &block)
	if err != nil {
		return DistributionShare{}, err
	}
	share, err := ledger.Share(bal, d.TotalAmount, d.TokensExcludingOwner)
	if err != nil {
		return DistributionShare{}, err
	}
	return DistributionShare{Distribution: d, BalanceAtDistributionBlock: bal, UserShare: share}, nil
}

// checkBlock rejects blocks past the head or older than maxAge blocks.
func (s *Service) checkBlock(ctx context.Context, block, maxAge uint64) error {
	head, err := s.reader.BlockNumber(ctx)
	if err != nil {
		return chainErr(err)
	}
	if block > head {
		return invalid("block is in the future")
	}
	if maxAge > 0 && head-block > maxAge {
		return invalid("block is too old")
	}
	return nil
}

func parseUint(raw, field string) (uint64, error) {
	n, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, invalid(field + " must be a non-negative integer")
	}
	return n, nil
}

func parseAmount(raw, field string) (*uint256.Int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "+") || strings.HasPrefix(raw, "-") {
		return nil, invalid(field + " must be a non-negative integer")
	}
	v, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, invalid(field + " must be a non-negative integer")
	}
	return v, nil
}
