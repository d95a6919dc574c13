package bolt

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/goodtune/accesstime/internal/storage"
	"go.etcd.io/bbolt"
)

type boltTx struct {
	tx *bbolt.Tx
}

func (t *boltTx) Instance() storage.InstanceStore { return &instanceStore{tx: t.tx} }
func (t *boltTx) Packages() storage.PackageStore   { return &packageStore{tx: t.tx} }
func (t *boltTx) Sessions() storage.SessionStore   { return &sessionStore{tx: t.tx} }
func (t *boltTx) Orders() storage.OrderStore       { return &orderStore{tx: t.tx} }
func (t *boltTx) Balances() storage.BalanceStore   { return &balanceStore{tx: t.tx} }
func (t *boltTx) ConsumedEntries() storage.ConsumedEntryStore {
	return &consumedStore{tx: t.tx}
}

type instanceStore struct {
	tx *bbolt.Tx
}

func (s *instanceStore) Get() (*storage.Instance, error) {
	return getBucketValue[storage.Instance](s.tx, bucketMeta, keyInstance)
}

func (s *instanceStore) Put(instance storage.Instance) error {
	return putBucketValue(s.tx, bucketMeta, keyInstance, instance)
}

type packageStore struct {
	tx *bbolt.Tx
}

func (s *packageStore) Get(id uint32) (*storage.Package, error) {
	return getBucketValue[storage.Package](s.tx, bucketPackages, packageKey(id))
}

// List returns the catalog ordered by id; the zero-padded keys sort numerically.
func (s *packageStore) List() ([]storage.Package, error) {
	return listBucket[storage.Package](s.tx, bucketPackages, nil)
}

func (s *packageStore) Put(pkg storage.Package) error {
	return putBucketValue(s.tx, bucketPackages, packageKey(pkg.ID), pkg)
}

type sessionStore struct {
	tx *bbolt.Tx
}

func (s *sessionStore) Get(owner string) (*storage.Session, error) {
	return getBucketValue[storage.Session](s.tx, bucketSessions, owner)
}

func (s *sessionStore) Put(session storage.Session) error {
	if session.Owner == "" {
		return fmt.Errorf("session owner is required")
	}
	return putBucketValue(s.tx, bucketSessions, session.Owner, session)
}

type orderStore struct {
	tx *bbolt.Tx
}

func (s *orderStore) Get(id uint64) (*storage.Order, error) {
	return getBucketValue[storage.Order](s.tx, bucketOrders, orderKey(id))
}

// ListByOwner walks the owner index and loads each order in id order.
func (s *orderStore) ListByOwner(owner string) ([]storage.Order, error) {
	index, err := bucket(s.tx, bucketOrdersByOwner)
	if err != nil {
		return nil, err
	}

	prefix := []byte(ownerIndexPrefix(owner))
	orders := make([]storage.Order, 0)
	c := index.Cursor()
	for k, _ := c.Seek(prefix); k != nil && hasPrefix(k, prefix); k, _ = c.Next() {
		order, err := getBucketValue[storage.Order](s.tx, bucketOrders, string(k[len(prefix):]))
		if err != nil {
			return nil, fmt.Errorf("load indexed order %s: %w", k, err)
		}
		orders = append(orders, *order)
	}
	return orders, nil
}

func (s *orderStore) Put(order storage.Order) error {
	if err := putBucketValue(s.tx, bucketOrders, orderKey(order.ID), order); err != nil {
		return err
	}
	index, err := bucket(s.tx, bucketOrdersByOwner)
	if err != nil {
		return err
	}
	key := ownerIndexPrefix(order.Owner) + orderKey(order.ID)
	if err := index.Put([]byte(key), nil); err != nil {
		return fmt.Errorf("index order %d: %w", order.ID, err)
	}
	return nil
}

type balanceStore struct {
	tx *bbolt.Tx
}

func (s *balanceStore) Get(asset, holder string) (int64, error) {
	b, err := bucket(s.tx, bucketBalances)
	if err != nil {
		return 0, err
	}
	value := b.Get([]byte(balanceKey(asset, holder)))
	if value == nil {
		return 0, nil
	}
	amount, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse balance %s/%s: %w", asset, holder, err)
	}
	return amount, nil
}

func (s *balanceStore) Put(asset, holder string, amount int64) error {
	b, err := bucket(s.tx, bucketBalances)
	if err != nil {
		return err
	}
	if err := b.Put([]byte(balanceKey(asset, holder)), []byte(strconv.FormatInt(amount, 10))); err != nil {
		if errors.Is(err, bbolt.ErrTxNotWritable) {
			return storage.ErrReadOnly
		}
		return fmt.Errorf("put balance %s/%s: %w", asset, holder, err)
	}
	return nil
}

type consumedStore struct {
	tx *bbolt.Tx
}

func (s *consumedStore) Get(subject, id string) (*storage.ConsumedEntry, error) {
	return getBucketValue[storage.ConsumedEntry](s.tx, bucketConsumed, consumedKey(subject, id))
}

func (s *consumedStore) Put(entry storage.ConsumedEntry) error {
	key := consumedKey(entry.Subject, entry.ID)
	if err := putBucketValue(s.tx, bucketConsumed, key, entry); err != nil {
		return err
	}
	index, err := bucket(s.tx, bucketConsumedByExp)
	if err != nil {
		return err
	}
	if err := index.Put([]byte(expiryKey(entry.ExpiresAt, key)), nil); err != nil {
		return fmt.Errorf("index consumed entry %s: %w", entry.ID, err)
	}
	return nil
}

// Prune walks the expiry index from the oldest entry and stops at the
// first one still valid at now.
func (s *consumedStore) Prune(now uint64) (int, error) {
	if !s.tx.Writable() {
		return 0, storage.ErrReadOnly
	}
	index, err := bucket(s.tx, bucketConsumedByExp)
	if err != nil {
		return 0, err
	}
	records, err := bucket(s.tx, bucketConsumed)
	if err != nil {
		return 0, err
	}

	limit := []byte(expiryKey(now, ""))
	var expired [][]byte
	c := index.Cursor()
	for k, _ := c.First(); k != nil && string(k[:len(limit)]) <= string(limit); k, _ = c.Next() {
		expired = append(expired, append([]byte(nil), k...))
	}

	for _, k := range expired {
		if err := records.Delete(k[len(limit):]); err != nil {
			return 0, fmt.Errorf("delete consumed entry: %w", err)
		}
		if err := index.Delete(k); err != nil {
			return 0, fmt.Errorf("delete consumed entry index: %w", err)
		}
	}
	return len(expired), nil
}
