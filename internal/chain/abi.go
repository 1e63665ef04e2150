package chain

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ledger"
)

// landlordABI covers the read-only surface of the LandLord token used by the service.
const landlordABI = `[
  {"type":"function","name":"balanceOf","stateMutability":"view",
   "inputs":[{"name":"account","type":"address"}],
   "outputs":[{"name":"","type":"uint256"}]},
  {"type":"function","name":"getDistribution","stateMutability":"view",
   "inputs":[{"name":"distributionId","type":"uint256"}],
   "outputs":[{"name":"","type":"tuple","components":[
     {"name":"id","type":"uint256"},
     {"name":"totalAmount","type":"uint256"},
     {"name":"distributionDate","type":"uint256"},
     {"name":"distributionBlock","type":"uint256"},
     {"name":"tokensExcludingOwner","type":"uint256"}]}]},
  {"type":"function","name":"getUnclaimedDistributions","stateMutability":"view",
   "inputs":[{"name":"holder","type":"address"}],
   "outputs":[{"name":"","type":"tuple[]","components":[
     {"name":"id","type":"uint256"},
     {"name":"totalAmount","type":"uint256"},
     {"name":"distributionDate","type":"uint256"},
     {"name":"distributionBlock","type":"uint256"},
     {"name":"tokensExcludingOwner","type":"uint256"}]}]},
  {"type":"function","name":"hasClaimed","stateMutability":"view",
   "inputs":[{"name":"distributionId","type":"uint256"},{"name":"holder","type":"address"}],
   "outputs":[{"name":"","type":"bool"}]}
]`

var contractABI = mustParseABI(landlordABI)

func mustParseABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("chain: parse abi: %v", err))
	}
	return parsed
}

// distributionTuple mirrors the contract's Distribution struct as decoded by the abi package.
type distributionTuple struct {
	Id                   *big.Int
	TotalAmount          *big.Int
	DistributionDate     *big.Int
	DistributionBlock    *big.Int
	TokensExcludingOwner *big.Int
}

var errMalformedRecord = errors.New("chain: malformed distribution record")

func (t distributionTuple) toLedger() (ledger.Distribution, error) {
	for _, v := range []*big.Int{t.Id, t.DistributionDate, t.DistributionBlock} {
		if v == nil || v.Sign() < 0 || !v.IsUint64() {
			return ledger.Distribution{}, errMalformedRecord
		}
	}
	if t.TotalAmount == nil || t.TokensExcludingOwner == nil {
		return ledger.Distribution{}, errMalformedRecord
	}
	total, overflow := uint256.FromBig(t.TotalAmount)
	if overflow {
		return ledger.Distribution{}, errMalformedRecord
	}
	excl, overflow := uint256.FromBig(t.TokensExcludingOwner)
	if overflow {
		return ledger.Distribution{}, errMalformedRecord
	}
	return ledger.Distribution{
		ID:                   t.Id.Uint64(),
		TotalAmount:          total,
		DistributionDate:     unixUTC(t.DistributionDate.Uint64()),
		DistributionBlock:    t.DistributionBlock.Uint64(),
		TokensExcludingOwner: excl,
	}, nil
}
