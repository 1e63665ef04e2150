package ownership

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

// ErrNonceUsed is returned when a nonce was already consumed for an address.
var ErrNonceUsed = errors.New("ownership: nonce already used")

// NonceStore records consumed ownership nonces. Implementations must make Consume
// atomic: of two concurrent calls for the same pair, exactly one succeeds.
// Release forgets a consumed pair whose request failed before taking effect.
type NonceStore interface {
	Consume(ctx context.Context, address, nonce string) error
	Release(ctx context.Context, address, nonce string) error
}

// NonceKey normalizes the (address, nonce) pair used as the registry key.
func NonceKey(address, nonce string) string {
	return strings.ToLower(strings.TrimSpace(address)) + "/" + strings.TrimSpace(nonce)
}

// MemoryNonces is an in-process NonceStore. Entries older than ttl are forgotten;
// a zero ttl keeps them for the process lifetime.
type MemoryNonces struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func NewMemoryNonces(ttl time.Duration) *MemoryNonces {
	return &MemoryNonces{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (m *MemoryNonces) Consume(_ context.Context, address, nonce string) error {
	key := NonceKey(address, nonce)
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if m.ttl > 0 {
		for k, at := range m.seen {
			if now.Sub(at) > m.ttl {
				delete(m.seen, k)
			}
		}
	}
	if _, ok := m.seen[key]; ok {
		return ErrNonceUsed
	}
	m.seen[key] = now
	return nil
}

func (m *MemoryNonces) Release(_ context.Context, address, nonce string) error {
	m.mu.Lock()
	delete(m.seen, NonceKey(address, nonce))
	m.mu.Unlock()
	return nil
}
