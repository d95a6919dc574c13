package token

import (
	"context"
	"errors"
	"math"
	"testing"
)

type memBalances map[string]int64

func (m memBalances) Get(asset, holder string) (int64, error) {
	return m[asset+"/"+holder], nil
}

func (m memBalances) Put(asset, holder string, amount int64) error {
	m[asset+"/"+holder] = amount
	return nil
}

func TestTransfer(t *testing.T) {
	tests := []struct {
		name     string
		seed     map[string]int64
		from, to string
		amount   int64
		wantErr  error
		wantFrom int64
		wantTo   int64
	}{
		{name: "moves funds", seed: map[string]int64{"alice": 100}, from: "alice", to: "admin", amount: 40, wantFrom: 60, wantTo: 40},
		{name: "exact balance", seed: map[string]int64{"alice": 40}, from: "alice", to: "admin", amount: 40, wantFrom: 0, wantTo: 40},
		{name: "insufficient", seed: map[string]int64{"alice": 10}, from: "alice", to: "admin", amount: 40, wantErr: ErrInsufficientBalance, wantFrom: 10},
		{name: "negative", seed: map[string]int64{"alice": 10}, from: "alice", to: "admin", amount: -1, wantErr: ErrInvalidAmount, wantFrom: 10},
		{name: "zero is a no-op", from: "alice", to: "admin", amount: 0},
		{name: "self transfer", seed: map[string]int64{"admin": 50}, from: "admin", to: "admin", amount: 20, wantFrom: 50, wantTo: 50},
		{name: "overflow", seed: map[string]int64{"alice": 10, "admin": math.MaxInt64 - 5}, from: "alice", to: "admin", amount: 10, wantErr: ErrOverflow, wantFrom: 10, wantTo: math.MaxInt64 - 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			balances := memBalances{}
			for holder, amount := range tt.seed {
				balances["XLM/"+holder] = amount
			}
			ledger := NewStoreLedger(balances, "XLM")
			ctx := context.Background()

			err := ledger.Transfer(ctx, tt.from, tt.to, tt.amount)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if got, _ := ledger.Balance(ctx, tt.from); got != tt.wantFrom {
				t.Errorf("from balance: expected %d, got %d", tt.wantFrom, got)
			}
			if got, _ := ledger.Balance(ctx, tt.to); got != tt.wantTo {
				t.Errorf("to balance: expected %d, got %d", tt.wantTo, got)
			}
		})
	}
}

func TestMint(t *testing.T) {
	ledger := NewStoreLedger(memBalances{}, "XLM")
	ctx := context.Background()

	balance, err := ledger.Mint(ctx, "alice", 500)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if balance != 500 {
		t.Fatalf("expected 500, got %d", balance)
	}

	if _, err := ledger.Mint(ctx, "alice", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount for zero mint, got %v", err)
	}
	if _, err := ledger.Mint(ctx, "alice", math.MaxInt64); !errors.Is(err, ErrOverflow) {
		t.Errorf("expected ErrOverflow, got %v", err)
	}
}

func TestLedgersAreScopedByAsset(t *testing.T) {
	balances := memBalances{}
	ctx := context.Background()

	if _, err := NewStoreLedger(balances, "XLM").Mint(ctx, "alice", 10); err != nil {
		t.Fatalf("mint: %v", err)
	}
	got, err := NewStoreLedger(balances, "USDC").Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != 0 {
		t.Errorf("expected USDC balance 0, got %d", got)
	}
}
