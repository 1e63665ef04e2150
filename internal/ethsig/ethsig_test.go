package ethsig

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignAndRecover(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	hash := crypto.Keccak256([]byte("payload"))

	sig, err := SignHash(key, hash)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.Contains(t, []byte{27, 28}, sig[64])

	got, err := Recover(hash, sig)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)

	// 0/1 recovery ids are accepted too.
	raw := append([]byte(nil), sig...)
	raw[64] -= 27
	got, err = Recover(hash, raw)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), got)
}

func TestRecoverRejectsMalformed(t *testing.T) {
	hash := crypto.Keccak256([]byte("payload"))

	_, err := Recover(hash, make([]byte, 10))
	assert.ErrorIs(t, err, ErrMalformedSignature)

	bad := make([]byte, 65)
	bad[64] = 35
	_, err = Recover(hash, bad)
	assert.ErrorIs(t, err, ErrMalformedSignature)
}

func TestKeyRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	parsed, err := ParseKey("0x" + EncodeKey(key))
	require.NoError(t, err)
	assert.Zero(t, key.D.Cmp(parsed.D))

	_, err = ParseKey("  ")
	assert.ErrorIs(t, err, ErrMalformedKey)
	_, err = ParseKey("zz")
	assert.ErrorIs(t, err, ErrMalformedKey)
}

func TestDecodeSignature(t *testing.T) {
	_, err := DecodeSignature("0x1234")
	assert.ErrorIs(t, err, ErrMalformedSignature)
	_, err = DecodeSignature("not-hex")
	assert.ErrorIs(t, err, ErrMalformedSignature)

	sig, err := DecodeSignature("0x" + strings.Repeat("ab", 65))
	require.NoError(t, err)
	assert.Len(t, sig, 65)
}

func TestIsAddress(t *testing.T) {
	assert.True(t, IsAddress("0x52908400098527886e0f7030069857d2e4169ee7"))
	assert.True(t, IsAddress("0x52908400098527886E0F7030069857D2E4169EE7"))
	assert.True(t, IsAddress("0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, IsAddress("0x5aaeb6053F3E94C9b9A09f33669435E7Ef1BeAed"))
	assert.False(t, IsAddress("52908400098527886e0f7030069857d2e4169ee7"))
	assert.False(t, IsAddress("0x1234"))
	assert.False(t, IsAddress(""))
}
