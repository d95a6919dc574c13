package token

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/goodtune/accesstime/internal/storage"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInvalidAmount       = errors.New("token: invalid amount")
	ErrOverflow            = errors.New("token: balance overflow")
)

// Ledger is the fungible token used to pay for packages.
type Ledger interface {
	Transfer(ctx context.Context, from, to string, amount int64) error
	Balance(ctx context.Context, holder string) (int64, error)
}

// Factory binds a Ledger to the unit of work that settles a purchase, so
// that a transfer commits or rolls back together with the order record.
type Factory func(tx storage.Tx, asset string) Ledger

// StoreFactory returns ledgers backed by the store's balance records.
func StoreFactory(tx storage.Tx, asset string) Ledger {
	return NewStoreLedger(tx.Balances(), asset)
}

// StoreLedger keeps balances for one asset in a storage.BalanceStore.
type StoreLedger struct {
	balances storage.BalanceStore
	asset    string
}

// NewStoreLedger creates a ledger for asset over balances.
func NewStoreLedger(balances storage.BalanceStore, asset string) *StoreLedger {
	return &StoreLedger{balances: balances, asset: asset}
}

// Balance returns the holder's balance; unknown holders have zero.
func (l *StoreLedger) Balance(ctx context.Context, holder string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	return l.balances.Get(l.asset, holder)
}

// Transfer moves amount from one holder to another. A zero amount is a
// no-op; a transfer to oneself only checks the balance.
func (l *StoreLedger) Transfer(ctx context.Context, from, to string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	if amount == 0 {
		return nil
	}

	fromBalance, err := l.Balance(ctx, from)
	if err != nil {
		return fmt.Errorf("read balance of %s: %w", from, err)
	}
	if fromBalance < amount {
		return fmt.Errorf("%w: %s holds %d, needs %d", ErrInsufficientBalance, from, fromBalance, amount)
	}
	if from == to {
		return nil
	}

	toBalance, err := l.Balance(ctx, to)
	if err != nil {
		return fmt.Errorf("read balance of %s: %w", to, err)
	}
	if toBalance > math.MaxInt64-amount {
		return fmt.Errorf("%w: crediting %s", ErrOverflow, to)
	}

	if err := l.balances.Put(l.asset, from, fromBalance-amount); err != nil {
		return fmt.Errorf("debit %s: %w", from, err)
	}
	if err := l.balances.Put(l.asset, to, toBalance+amount); err != nil {
		return fmt.Errorf("credit %s: %w", to, err)
	}
	return nil
}

// Mint credits new tokens to a holder.
func (l *StoreLedger) Mint(ctx context.Context, to string, amount int64) (int64, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidAmount, amount)
	}
	balance, err := l.Balance(ctx, to)
	if err != nil {
		return 0, fmt.Errorf("read balance of %s: %w", to, err)
	}
	if balance > math.MaxInt64-amount {
		return 0, fmt.Errorf("%w: minting to %s", ErrOverflow, to)
	}
	balance += amount
	if err := l.balances.Put(l.asset, to, balance); err != nil {
		return 0, fmt.Errorf("credit %s: %w", to, err)
	}
	return balance, nil
}
