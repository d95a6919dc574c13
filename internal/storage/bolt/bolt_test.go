package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/goodtune/accesstime/internal/storage"
)

func TestUpdateCommitsAllWrites(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Instance().Put(storage.Instance{Admin: "admin", TokenAsset: "XLM", NextOrderID: 1}); err != nil {
			return err
		}
		if err := tx.Packages().Put(storage.Package{ID: 1, Price: 100, DurationSecs: 3600}); err != nil {
			return err
		}
		return tx.Sessions().Put(storage.Session{Owner: "alice", RemainingSecs: 60})
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		inst, err := tx.Instance().Get()
		if err != nil {
			return err
		}
		if inst.Admin != "admin" || inst.TokenAsset != "XLM" {
			t.Errorf("unexpected instance: %+v", inst)
		}
		pkg, err := tx.Packages().Get(1)
		if err != nil {
			return err
		}
		if pkg.Price != 100 || pkg.DurationSecs != 3600 {
			t.Errorf("unexpected package: %+v", pkg)
		}
		sess, err := tx.Sessions().Get("alice")
		if err != nil {
			return err
		}
		if sess.RemainingSecs != 60 {
			t.Errorf("expected 60 remaining, got %d", sess.RemainingSecs)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Balances().Put("XLM", "alice", 500); err != nil {
			return err
		}
		if err := tx.Orders().Put(storage.Order{ID: 1, Owner: "alice", PackageID: 1}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		balance, err := tx.Balances().Get("XLM", "alice")
		if err != nil {
			return err
		}
		if balance != 0 {
			t.Errorf("expected rolled back balance 0, got %d", balance)
		}
		if _, err := tx.Orders().Get(1); !errors.Is(err, storage.ErrNotFound) {
			t.Errorf("expected ErrNotFound for rolled back order, got %v", err)
		}
		orders, err := tx.Orders().ListByOwner("alice")
		if err != nil {
			return err
		}
		if len(orders) != 0 {
			t.Errorf("expected empty owner index, got %d orders", len(orders))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestViewRejectsWrites(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	err := store.View(context.Background(), func(tx storage.Tx) error {
		return tx.Packages().Put(storage.Package{ID: 1, Price: 1, DurationSecs: 1})
	})
	if !errors.Is(err, storage.ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
}

func TestListOrdering(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, id := range []uint32{10, 2, 1} {
			if err := tx.Packages().Put(storage.Package{ID: id, Price: int64(id), DurationSecs: 60}); err != nil {
				return err
			}
		}
		orders := []storage.Order{
			{ID: 11, Owner: "alice"},
			{ID: 2, Owner: "alice"},
			{ID: 3, Owner: "alice2"},
			{ID: 4, Owner: "bob"},
		}
		for _, o := range orders {
			if err := tx.Orders().Put(o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		pkgs, err := tx.Packages().List()
		if err != nil {
			return err
		}
		want := []uint32{1, 2, 10}
		if len(pkgs) != len(want) {
			t.Fatalf("expected %d packages, got %d", len(want), len(pkgs))
		}
		for i, id := range want {
			if pkgs[i].ID != id {
				t.Errorf("package %d: expected id %d, got %d", i, id, pkgs[i].ID)
			}
		}

		orders, err := tx.Orders().ListByOwner("alice")
		if err != nil {
			return err
		}
		if len(orders) != 2 || orders[0].ID != 2 || orders[1].ID != 11 {
			t.Errorf("unexpected alice orders: %+v", orders)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdateHonoursCancelledContext(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	called := false
	err := store.Update(ctx, func(tx storage.Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if called {
		t.Error("callback should not run with a cancelled context")
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "accesstime.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestOwnerIndexIsolatesPrefixedOwners(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, o := range []storage.Order{
			{ID: 1, Owner: "GALICE"},
			{ID: 2, Owner: "GALICE\x00x"},
			{ID: 3, Owner: "GALICEX"},
		} {
			if err := tx.Orders().Put(o); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	tests := []struct {
		owner string
		want  uint64
	}{
		{"GALICE", 1},
		{"GALICE\x00x", 2},
		{"GALICEX", 3},
	}
	for _, tt := range tests {
		t.Run(strconv.Quote(tt.owner), func(t *testing.T) {
			err := store.View(ctx, func(tx storage.Tx) error {
				orders, err := tx.Orders().ListByOwner(tt.owner)
				if err != nil {
					return err
				}
				if len(orders) != 1 || orders[0].ID != tt.want {
					t.Errorf("expected only order %d, got %+v", tt.want, orders)
				}
				return nil
			})
			if err != nil {
				t.Fatalf("view: %v", err)
			}
		})
	}
}

func TestBalanceKeysDoNotCollide(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	err := store.Update(ctx, func(tx storage.Tx) error {
		if err := tx.Balances().Put("A/B", "C", 10); err != nil {
			return err
		}
		return tx.Balances().Put("A", "B/C", 20)
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		first, err := tx.Balances().Get("A/B", "C")
		if err != nil {
			return err
		}
		second, err := tx.Balances().Get("A", "B/C")
		if err != nil {
			return err
		}
		if first != 10 || second != 20 {
			t.Errorf("expected balances 10 and 20, got %d and %d", first, second)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestConsumedEntriesPrune(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()
	ctx := context.Background()

	entries := []storage.ConsumedEntry{
		{Subject: "alice", ID: "a", ExpiresAt: 100},
		{Subject: "bob", ID: "b", ExpiresAt: 200},
		{Subject: "alice", ID: "c", ExpiresAt: 300},
	}
	err := store.Update(ctx, func(tx storage.Tx) error {
		for _, e := range entries {
			if err := tx.ConsumedEntries().Put(e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}

	var pruned int
	err = store.Update(ctx, func(tx storage.Tx) error {
		var err error
		pruned, err = tx.ConsumedEntries().Prune(200)
		return err
	})
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 2 {
		t.Errorf("expected 2 pruned, got %d", pruned)
	}

	err = store.View(ctx, func(tx storage.Tx) error {
		for _, e := range entries[:2] {
			if _, err := tx.ConsumedEntries().Get(e.Subject, e.ID); !errors.Is(err, storage.ErrNotFound) {
				t.Errorf("expected %s/%s pruned, got %v", e.Subject, e.ID, err)
			}
		}
		got, err := tx.ConsumedEntries().Get("alice", "c")
		if err != nil {
			return err
		}
		if got.ExpiresAt != 300 {
			t.Errorf("unexpected entry: %+v", got)
		}
		if _, err := tx.ConsumedEntries().Prune(1000); !errors.Is(err, storage.ErrReadOnly) {
			t.Errorf("expected ErrReadOnly from prune in View, got %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
