package pg

import (
	"context"
	"strings"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

// Nonces is an ownership.NonceStore backed by the ownership_nonces table.
type Nonces struct {
	db querier
}

var _ ownership.NonceStore = (*Nonces)(nil)

// Nonces returns the nonce registry sharing this store's pool.
func (s *Store) Nonces() *Nonces { return &Nonces{db: s.db} }

func (n *Nonces) Consume(ctx context.Context, address, nonce string) error {
	res, err := n.db.ExecContext(ctx, `
		insert into ownership_nonces(address, nonce, consumed_at)
		values ($1, $2, now())
		on conflict (address, nonce) do nothing
	`, strings.ToLower(strings.TrimSpace(address)), strings.TrimSpace(nonce))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ownership.ErrNonceUsed
	}
	return nil
}

func (n *Nonces) Release(ctx context.Context, address, nonce string) error {
	_, err := n.db.ExecContext(ctx, `
		delete from ownership_nonces where address = $1 and nonce = $2
	`, strings.ToLower(strings.TrimSpace(address)), strings.TrimSpace(nonce))
	return err
}
