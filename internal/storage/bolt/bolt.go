package bolt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/goodtune/accesstime/internal/storage"
	"go.etcd.io/bbolt"
)

const (
	bucketMeta          = "meta"
	bucketPackages      = "packages"
	bucketSessions      = "sessions"
	bucketOrders        = "orders"
	bucketOrdersByOwner = "orders_by_owner"
	bucketBalances      = "balances"
	bucketConsumed      = "consumed_entries"
	bucketConsumedByExp = "consumed_by_expiry"

	keyInstance = "instance"
)

// Store implements the storage.Store interface using bbolt.
type Store struct {
	db *bbolt.DB
}

// Open opens a BoltDB-backed store.
func Open(path string) (*Store, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}

	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db: %w", err)
	}

	store := &Store{db: db}
	if err := store.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	return storage.EnsureDir(dir)
}

func (s *Store) ensureBuckets() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		buckets := [][]byte{
			[]byte(bucketMeta),
			[]byte(bucketPackages),
			[]byte(bucketSessions),
			[]byte(bucketOrders),
			[]byte(bucketOrdersByOwner),
			[]byte(bucketBalances),
			[]byte(bucketConsumed),
			[]byte(bucketConsumedByExp),
		}

		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// Close closes the underlying store database.
func (s *Store) Close() error {
	return s.db.Close()
}

// View runs fn inside a read-only bbolt transaction.
func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{tx: tx})
	})
}

// Update runs fn inside a read-write bbolt transaction. bbolt rolls the
// transaction back when fn returns an error.
func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := fn(&boltTx{tx: tx}); err != nil {
			return err
		}
		return ctx.Err()
	})
}

func marshal(value any) ([]byte, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return data, nil
}

func unmarshal(data []byte, out any) error {
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal value: %w", err)
	}
	return nil
}

func bucket(tx *bbolt.Tx, name string) (*bbolt.Bucket, error) {
	b := tx.Bucket([]byte(name))
	if b == nil {
		return nil, fmt.Errorf("bucket missing: %s", name)
	}
	return b, nil
}

func getBucketValue[T any](tx *bbolt.Tx, name string, key string) (*T, error) {
	b, err := bucket(tx, name)
	if err != nil {
		return nil, err
	}
	value := b.Get([]byte(key))
	if value == nil {
		return nil, storage.ErrNotFound
	}
	var result T
	if err := unmarshal(value, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

func putBucketValue(tx *bbolt.Tx, name string, key string, value any) error {
	if !tx.Writable() {
		return storage.ErrReadOnly
	}
	data, err := marshal(value)
	if err != nil {
		return err
	}
	b, err := bucket(tx, name)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(key), data); err != nil {
		if errors.Is(err, bbolt.ErrTxNotWritable) {
			return storage.ErrReadOnly
		}
		return fmt.Errorf("put %s/%s: %w", name, key, err)
	}
	return nil
}

func listBucket[T any](tx *bbolt.Tx, name string, prefix []byte) ([]T, error) {
	b, err := bucket(tx, name)
	if err != nil {
		return nil, err
	}
	items := make([]T, 0)
	c := b.Cursor()
	for k, v := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, v = c.Next() {
		var item T
		if err := unmarshal(v, &item); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func hasPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

func packageKey(id uint32) string {
	return fmt.Sprintf("%010d", id)
}

func orderKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

// scoped prefixes s with its length, so no scope is a prefix of another
// whatever bytes the scope contains.
func scoped(s string) string {
	return fmt.Sprintf("%08x", len(s)) + s
}

func ownerIndexPrefix(owner string) string {
	return scoped(owner)
}

func balanceKey(asset, holder string) string {
	return scoped(asset) + holder
}

func consumedKey(subject, id string) string {
	return scoped(subject) + id
}

// expiryKey sorts consumed entries by expiry, then by their record key.
func expiryKey(expiresAt uint64, key string) string {
	return fmt.Sprintf("%020d", expiresAt) + key
}
