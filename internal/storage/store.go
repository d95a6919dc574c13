package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a record is missing from storage.
	ErrNotFound = errors.New("storage: record not found")

	// ErrConflict is returned when an optimistic transaction keeps losing
	// races with concurrent writers.
	ErrConflict = errors.New("storage: transaction conflict")

	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("storage: read-only transaction")
)

// Store represents the root storage interface.
//
// Update runs fn as a single unit of work: every write staged through the
// Tx commits atomically when fn returns nil and is discarded otherwise.
// Backends with optimistic concurrency may invoke fn more than once, so fn
// must not keep side effects outside the Tx.
type Store interface {
	Close() error
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
}

// Tx exposes the record stores of one unit of work. A Tx is only valid
// inside the callback it was passed to.
type Tx interface {
	Instance() InstanceStore
	Packages() PackageStore
	Sessions() SessionStore
	Orders() OrderStore
	Balances() BalanceStore
	ConsumedEntries() ConsumedEntryStore
}

// InstanceStore holds the singleton instance metadata.
type InstanceStore interface {
	Get() (*Instance, error)
	Put(instance Instance) error
}

// PackageStore manages the package catalog.
type PackageStore interface {
	Get(id uint32) (*Package, error)
	List() ([]Package, error)
	Put(pkg Package) error
}

// SessionStore manages per-owner time balances.
type SessionStore interface {
	Get(owner string) (*Session, error)
	Put(session Session) error
}

// OrderStore manages purchase records. Orders are never deleted.
type OrderStore interface {
	Get(id uint64) (*Order, error)
	ListByOwner(owner string) ([]Order, error)
	Put(order Order) error
}

// BalanceStore holds token balances keyed by asset and holder. Missing
// balances read as zero.
type BalanceStore interface {
	Get(asset, holder string) (int64, error)
	Put(asset, holder string, amount int64) error
}

// ConsumedEntryStore remembers authorization entries by signer and entry
// id. Prune drops records whose ExpiresAt is at or before now; backends
// that expire records on their own may return zero.
type ConsumedEntryStore interface {
	Get(subject, id string) (*ConsumedEntry, error)
	Put(entry ConsumedEntry) error
	Prune(now uint64) (int, error)
}
