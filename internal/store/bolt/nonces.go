// Package bolt keeps the ownership nonce registry in a local BoltDB file for
// single-node deployments without PostgreSQL.
package bolt

import (
	"context"
	"encoding/binary"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ashrafbeshtawi/Landlord-sub000/internal/ownership"
)

var bucketNonces = []byte("ownership_nonces")

// Nonces persists consumed ownership nonces. Entries older than ttl are
// ignored and pruned on write; a zero ttl keeps them forever.
type Nonces struct {
	db  *bbolt.DB
	ttl time.Duration
	now func() time.Time
}

var _ ownership.NonceStore = (*Nonces)(nil)

// Open creates or opens the registry file.
func Open(path string, ttl time.Duration) (*Nonces, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketNonces)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Nonces{db: db, ttl: ttl, now: time.Now}, nil
}

// Close releases the underlying Bolt database handle.
func (n *Nonces) Close() error {
	if n == nil || n.db == nil {
		return nil
	}
	return n.db.Close()
}

// Consume records the pair. Bolt serializes writers, so of two concurrent
// calls exactly one succeeds.
func (n *Nonces) Consume(_ context.Context, address, nonce string) error {
	key := []byte(ownership.NonceKey(address, nonce))
	now := n.now()
	return n.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(bucketNonces)
		if raw := bucket.Get(key); raw != nil && !n.expired(raw, now) {
			return ownership.ErrNonceUsed
		}
		if n.ttl > 0 {
			if err := n.prune(bucket, now); err != nil {
				return err
			}
		}
		var stamp [8]byte
		binary.BigEndian.PutUint64(stamp[:], uint64(now.UnixNano()))
		return bucket.Put(key, stamp[:])
	})
}

func (n *Nonces) Release(_ context.Context, address, nonce string) error {
	key := []byte(ownership.NonceKey(address, nonce))
	return n.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketNonces).Delete(key)
	})
}

func (n *Nonces) expired(raw []byte, now time.Time) bool {
	if n.ttl <= 0 || len(raw) != 8 {
		return false
	}
	at := time.Unix(0, int64(binary.BigEndian.Uint64(raw)))
	return now.Sub(at) > n.ttl
}

func (n *Nonces) prune(bucket *bbolt.Bucket, now time.Time) error {
	var stale [][]byte
	if err := bucket.ForEach(func(k, v []byte) error {
		if n.expired(v, now) {
			stale = append(stale, append([]byte(nil), k...))
		}
		return nil
	}); err != nil {
		return err
	}
	for _, k := range stale {
		if err := bucket.Delete(k); err != nil {
			return err
		}
	}
	return nil
}
