// Package ownership verifies that a client controls the address it claims for.
package ownership

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
)

// Message is the exact text the wallet signs for an ownership proof.
func Message(address, nonce string) string {
	return fmt.Sprintf("Verify ownership for LandLord claim\nAddress: %s\nNonce: %s", address, nonce)
}

// Proof is an (address, nonce, signature) tuple presented by a client.
type Proof struct {
	Address   string
	Nonce     string
	Signature string
}

// Verify reports whether the proof's signature was produced by its address.
// Malformed signatures count as failed verification.
func Verify(p Proof) bool {
	sig, err := ethsig.DecodeSignature(p.Signature)
	if err != nil {
		return false
	}
	hash := accounts.TextHash([]byte(Message(p.Address, p.Nonce)))
	recovered, err := ethsig.Recover(hash, sig)
	if err != nil {
		return false
	}
	return strings.EqualFold(recovered.Hex(), strings.TrimSpace(p.Address))
}

// Sign builds a proof for key's address. Used by the operator CLI and tests.
func Sign(key *ecdsa.PrivateKey, address common.Address, nonce string) (Proof, error) {
	addr := address.Hex()
	hash := accounts.TextHash([]byte(Message(addr, nonce)))
	sig, err := ethsig.SignHash(key, hash)
	if err != nil {
		return Proof{}, err
	}
	return Proof{Address: addr, Nonce: nonce, Signature: ethsig.EncodeSignature(sig)}, nil
}
