// Package claimsig builds and verifies the backend authorization that lets a holder
// redeem one distribution. The digest is
//
//	keccak256(abi.encodePacked(address holder, uint256 distributionId, uint256 balance))
//
// signed as an EIP-191 personal message. The field order is part of the on-chain
// verifier's ABI and must not change.
package claimsig

import (
	"crypto/ecdsa"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
)

var ErrNoBalance = errors.New("claimsig: balance is required")

// Digest returns the packed keccak256 hash over (holder, distributionID, balance).
func Digest(holder common.Address, distributionID uint64, balance *uint256.Int) common.Hash {
	id := new(uint256.Int).SetUint64(distributionID).Bytes32()
	bal := balance.Bytes32()
	return crypto.Keccak256Hash(holder.Bytes(), id[:], bal[:])
}

// MessageHash is the hash that is actually signed: the EIP-191 prefixed digest.
func MessageHash(holder common.Address, distributionID uint64, balance *uint256.Int) []byte {
	digest := Digest(holder, distributionID, balance)
	return accounts.TextHash(digest.Bytes())
}

// Recover returns the signer of an authorization for the given triple.
func Recover(holder common.Address, distributionID uint64, balance *uint256.Int, sig []byte) (common.Address, error) {
	if balance == nil {
		return common.Address{}, ErrNoBalance
	}
	return ethsig.Recover(MessageHash(holder, distributionID, balance), sig)
}

// Verify reports whether sig authorizes the triple on behalf of signer.
// A zero signer never verifies.
func Verify(signer, holder common.Address, distributionID uint64, balance *uint256.Int, sig []byte) bool {
	if signer == (common.Address{}) {
		return false
	}
	got, err := Recover(holder, distributionID, balance, sig)
	if err != nil {
		return false
	}
	return got == signer
}

// Signer holds the single backend key allowed to authorize claims.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps a private key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}
}

// ParseSigner loads the backend key from its hex form.
func ParseSigner(hexKey string) (*Signer, error) {
	key, err := ethsig.ParseKey(hexKey)
	if err != nil {
		return nil, err
	}
	return NewSigner(key), nil
}

// Address is the signer address the ledger must be configured with.
func (s *Signer) Address() common.Address { return s.address }

// Sign authorizes holder to redeem distributionID with the given balance.
func (s *Signer) Sign(holder common.Address, distributionID uint64, balance *uint256.Int) ([]byte, error) {
	if balance == nil {
		return nil, ErrNoBalance
	}
	sig, err := ethsig.SignHash(s.key, MessageHash(holder, distributionID, balance))
	if err != nil {
		return nil, fmt.Errorf("claimsig: sign: %w", err)
	}
	return sig, nil
}
