package ownership

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageFormat(t *testing.T) {
	assert.Equal(t,
		"Verify ownership for LandLord claim\nAddress: 0xabc\nNonce: n-1",
		Message("0xabc", "n-1"))
}

func TestVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	addr := crypto.PubkeyToAddress(key.PublicKey)

	proof, err := Sign(key, addr, "nonce-1")
	require.NoError(t, err)
	assert.True(t, Verify(proof))

	t.Run("case-insensitive address", func(t *testing.T) {
		lower := proof
		lower.Address = strings.ToLower(proof.Address)
		// The message embeds the address text, so re-sign over the lower-case form.
		sig, err := signText(key, lower.Address, lower.Nonce)
		require.NoError(t, err)
		lower.Signature = sig
		assert.True(t, Verify(lower))
	})

	t.Run("nonce mismatch", func(t *testing.T) {
		p := proof
		p.Nonce = "nonce-2"
		assert.False(t, Verify(p))
	})

	t.Run("other address", func(t *testing.T) {
		other, err := crypto.GenerateKey()
		require.NoError(t, err)
		p := proof
		p.Address = crypto.PubkeyToAddress(other.PublicKey).Hex()
		assert.False(t, Verify(p))
	})

	t.Run("garbage signature", func(t *testing.T) {
		p := proof
		p.Signature = "0xdeadbeef"
		assert.False(t, Verify(p))
		p.Signature = ""
		assert.False(t, Verify(p))
	})
}

func TestMemoryNoncesConsumeOnce(t *testing.T) {
	store := NewMemoryNonces(0)
	ctx := context.Background()

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if store.Consume(ctx, "0xAbC", "n") == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, ok.Load())
	assert.ErrorIs(t, store.Consume(ctx, "0xabc", "n"), ErrNonceUsed)
	assert.NoError(t, store.Consume(ctx, "0xabc", "m"))
}

func TestMemoryNoncesExpire(t *testing.T) {
	store := NewMemoryNonces(time.Minute)
	now := time.Unix(1_700_000_000, 0)
	store.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, store.Consume(ctx, "0xabc", "n"))
	now = now.Add(2 * time.Minute)
	assert.NoError(t, store.Consume(ctx, "0xabc", "n"))
}

func TestMemoryNoncesRelease(t *testing.T) {
	store := NewMemoryNonces(0)
	ctx := context.Background()

	require.NoError(t, store.Consume(ctx, "0xAbC", "n"))
	require.NoError(t, store.Release(ctx, "0xabc", "n"))
	assert.NoError(t, store.Consume(ctx, "0xabc", "n"))
	assert.ErrorIs(t, store.Consume(ctx, "0xabc", "n"), ErrNonceUsed)
}
