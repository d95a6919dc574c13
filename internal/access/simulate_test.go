package access

import (
	"context"
	"crypto/ed25519"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/clock"
	"github.com/goodtune/accesstime/internal/events"
	"github.com/goodtune/accesstime/internal/storage"
)

type signer struct {
	identity string
	key      ed25519.PrivateKey
}

func newSigner(t *testing.T, keys *auth.Keyring, identity string) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	keys.Add(identity, pub)
	return signer{identity: identity, key: priv}
}

func (f *fixture) sign(t *testing.T, s signer, inv Invocation) string {
	t.Helper()
	digest, err := inv.Digest()
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	entry, err := auth.Sign(s.identity, s.key, digest, time.Minute, f.clock.Now())
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return entry
}

func TestSimulateHasNoEffect(t *testing.T) {
	f := newBoltFixture(t)
	f.bootstrap(t, 100)
	f.sink.Reset()
	ctx := context.Background()

	inv := Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 1, Caller: "ignored"}
	sim, err := f.engine.Simulate(ctx, inv)
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}

	if !reflect.DeepEqual(sim.RequiredAuth, []string{alice}) {
		t.Errorf("expected required auth [%s], got %v", alice, sim.RequiredAuth)
	}
	if sim.Invocation.Caller != "" {
		t.Errorf("expected canonical invocation, got %+v", sim.Invocation)
	}
	want, _ := inv.Digest()
	if sim.Digest != want {
		t.Errorf("expected digest %s, got %s", want, sim.Digest)
	}
	if sim.Result.OrderID != 1 {
		t.Errorf("expected simulated order id 1, got %d", sim.Result.OrderID)
	}
	if len(sim.Events) != 1 || sim.Events[0].Topic != events.TopicPurchaseCreated {
		t.Errorf("expected a purchase.created event, got %+v", sim.Events)
	}
	if sim.Cost.TokenAmount != 10 {
		t.Errorf("expected token cost 10, got %d", sim.Cost.TokenAmount)
	}
	if sim.Cost.Reads == 0 || sim.Cost.Writes == 0 {
		t.Errorf("expected non-zero storage cost, got %+v", sim.Cost)
	}

	if got := f.balance(t, alice); got != 100 {
		t.Errorf("simulation moved funds: alice has %d", got)
	}
	orders, err := f.engine.ListOrders(ctx, alice)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 0 {
		t.Errorf("simulation recorded %d orders", len(orders))
	}
	if len(f.sink.Events()) != 0 {
		t.Errorf("simulation published events: %v", f.sink.Topics())
	}

	// The real call allocates the id the simulation predicted.
	orderID, err := f.engine.BuyOrder(ctx, auth.NewSet(alice), alice, 1)
	if err != nil {
		t.Fatalf("buy order: %v", err)
	}
	if orderID != sim.Result.OrderID {
		t.Errorf("expected order id %d, got %d", sim.Result.OrderID, orderID)
	}
}

func TestSimulateReportsFailures(t *testing.T) {
	f := newBoltFixture(t)
	f.bootstrap(t, 0)
	ctx := context.Background()

	tests := []struct {
		name    string
		inv     Invocation
		wantErr error
	}{
		{"unknown op", Invocation{Op: "refund"}, ErrInvalidInvocation},
		{"missing owner", Invocation{Op: OpStart}, ErrInvalidInvocation},
		{"no balance", Invocation{Op: OpStart, Owner: alice}, ErrNoBalance},
		{"unfunded purchase", Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 1}, ErrTransferFailed},
		{"policy denies", Invocation{Op: OpGrant, Caller: bob, Owner: alice, OrderID: 1}, ErrUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Simulate(ctx, tt.inv)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestSimulateRequiredAuthForGrant(t *testing.T) {
	f := newBoltFixture(t)
	f.bootstrap(t, 10)
	ctx := context.Background()

	if _, err := f.engine.BuyOrder(ctx, auth.NewSet(alice), alice, 1); err != nil {
		t.Fatalf("buy order: %v", err)
	}

	sim, err := f.engine.Simulate(ctx, Invocation{Op: OpGrant, Caller: testAdmin, Owner: alice, OrderID: 1})
	if err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !reflect.DeepEqual(sim.RequiredAuth, []string{testAdmin}) {
		t.Errorf("expected admin signature required, got %v", sim.RequiredAuth)
	}
	if sim.Cost.TokenAmount != 0 {
		t.Errorf("grant moves no tokens, got %d", sim.Cost.TokenAmount)
	}
}

func TestSubmit(t *testing.T) {
	f := newBoltFixture(t)
	f.bootstrap(t, 10)
	ctx := context.Background()

	keys, err := auth.NewKeyring(nil)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	owner := newSigner(t, keys, alice)
	mallory := newSigner(t, keys, bob)
	f.engine.SetVerifier(auth.NewVerifier(keys, f.clock, 5*time.Minute, 128))

	buy := Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 1}

	t.Run("wrong signer", func(t *testing.T) {
		_, err := f.engine.Submit(ctx, buy, []string{f.sign(t, mallory, buy)})
		if !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("digest mismatch", func(t *testing.T) {
		other := Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 2}
		_, err := f.engine.Submit(ctx, buy, []string{f.sign(t, owner, other)})
		if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, auth.ErrDigestMismatch) {
			t.Fatalf("expected digest mismatch, got %v", err)
		}
	})

	entry := f.sign(t, owner, buy)

	t.Run("accepted", func(t *testing.T) {
		res, err := f.engine.Submit(ctx, buy, []string{entry})
		if err != nil {
			t.Fatalf("submit: %v", err)
		}
		if res.OrderID != 1 {
			t.Fatalf("expected order 1, got %d", res.OrderID)
		}
	})

	t.Run("replayed", func(t *testing.T) {
		f.fund(t, alice, 10)
		_, err := f.engine.Submit(ctx, buy, []string{entry})
		if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, auth.ErrReplayed) {
			t.Fatalf("expected replay rejection, got %v", err)
		}
		orders, _ := f.engine.ListOrders(ctx, alice)
		if len(orders) != 1 {
			t.Errorf("replay created an order: %d orders", len(orders))
		}
	})

	t.Run("failed call keeps entry usable", func(t *testing.T) {
		start := Invocation{Op: OpStart, Owner: alice}
		startEntry := f.sign(t, owner, start)

		if _, err := f.engine.Submit(ctx, start, []string{startEntry}); !errors.Is(err, ErrNoBalance) {
			t.Fatalf("expected ErrNoBalance, got %v", err)
		}

		grant := Invocation{Op: OpGrant, Caller: alice, Owner: alice, OrderID: 1}
		if _, err := f.engine.Submit(ctx, grant, []string{f.sign(t, owner, grant)}); err != nil {
			t.Fatalf("grant: %v", err)
		}
		if _, err := f.engine.Submit(ctx, start, []string{startEntry}); err != nil {
			t.Fatalf("start with released entry: %v", err)
		}
	})

	t.Run("expired entry", func(t *testing.T) {
		pause := Invocation{Op: OpPause, Owner: alice}
		stale := f.sign(t, owner, pause)
		f.clock.Advance(2 * time.Minute)
		if _, err := f.engine.Submit(ctx, pause, []string{stale}); !errors.Is(err, ErrUnauthorized) {
			t.Fatalf("expected ErrUnauthorized, got %v", err)
		}
	})
}

func TestSubmitWithoutVerifier(t *testing.T) {
	f := newBoltFixture(t)
	_, err := f.engine.Submit(context.Background(), Invocation{Op: OpStart, Owner: alice}, nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestSubmitReplayAfterCacheEviction(t *testing.T) {
	f := newBoltFixture(t)
	f.bootstrap(t, 30)
	ctx := context.Background()

	keys, err := auth.NewKeyring(nil)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	owner := newSigner(t, keys, alice)
	// A one-slot cache forgets the first entry as soon as another commits.
	f.engine.SetVerifier(auth.NewVerifier(keys, f.clock, 5*time.Minute, 1))

	buy := Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 1}
	entry := f.sign(t, owner, buy)
	if _, err := f.engine.Submit(ctx, buy, []string{entry}); err != nil {
		t.Fatalf("submit: %v", err)
	}

	grant := Invocation{Op: OpGrant, Caller: alice, Owner: alice, OrderID: 1}
	if _, err := f.engine.Submit(ctx, grant, []string{f.sign(t, owner, grant)}); err != nil {
		t.Fatalf("grant: %v", err)
	}

	_, err = f.engine.Submit(ctx, buy, []string{entry})
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, auth.ErrReplayed) {
		t.Fatalf("expected replay rejection after eviction, got %v", err)
	}
	if got := f.balance(t, alice); got != 20 {
		t.Errorf("expected alice charged once (20 left), got %d", got)
	}
	orders, err := f.engine.ListOrders(ctx, alice)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 1 {
		t.Errorf("expected 1 order, got %d", len(orders))
	}
}

func TestSubmitPrunesExpiredEntries(t *testing.T) {
	f := newBoltFixture(t)
	f.bootstrap(t, 30)
	ctx := context.Background()

	keys, err := auth.NewKeyring(nil)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	owner := newSigner(t, keys, alice)
	f.engine.SetVerifier(auth.NewVerifier(keys, f.clock, 5*time.Minute, 16))

	buy := Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 1}
	first := f.sign(t, owner, buy)
	if _, err := f.engine.Submit(ctx, buy, []string{first}); err != nil {
		t.Fatalf("first submit: %v", err)
	}

	f.clock.Advance(2 * time.Minute)
	if _, err := f.engine.Submit(ctx, buy, []string{f.sign(t, owner, buy)}); err != nil {
		t.Fatalf("second submit: %v", err)
	}

	claims, err := auth.NewVerifier(keys, clock.NewTestClock(1000), 5*time.Minute, 1).Parse(first)
	if err != nil {
		t.Fatalf("parse first entry: %v", err)
	}
	err = f.store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.ConsumedEntries().Get(alice, claims.ID)
		return err
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected the expired entry's record pruned, got %v", err)
	}
}
