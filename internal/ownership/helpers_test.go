package ownership

import (
	"crypto/ecdsa"

	"github.com/ethereum/go-ethereum/accounts"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ethsig"
)

func signText(key *ecdsa.PrivateKey, address, nonce string) (string, error) {
	sig, err := ethsig.SignHash(key, accounts.TextHash([]byte(Message(address, nonce))))
	if err != nil {
		return "", err
	}
	return ethsig.EncodeSignature(sig), nil
}
