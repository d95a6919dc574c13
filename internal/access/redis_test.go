package access

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/config"
	"github.com/goodtune/accesstime/internal/storage/redis"
)

func TestPurchaseFlowOnRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetTime(time.Unix(1000, 0))
	store, err := redis.Open(config.RedisConfig{
		Host:         mr.Addr(),
		PoolSize:     4,
		DialTimeout:  "1s",
		ReadTimeout:  "1s",
		WriteTimeout: "1s",
		KeyPrefix:    "flow",
		MaxTxRetries: 3,
	})
	if err != nil {
		t.Fatalf("open redis store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	f := newFixture(t, store)
	f.bootstrap(t, 25)
	ctx := context.Background()
	owner := auth.NewSet(alice)

	for want := uint64(1); want <= 2; want++ {
		orderID, err := f.engine.BuyOrder(ctx, owner, alice, 1)
		if err != nil {
			t.Fatalf("buy order %d: %v", want, err)
		}
		if orderID != want {
			t.Fatalf("expected order id %d, got %d", want, orderID)
		}
		if err := f.engine.Grant(ctx, owner, alice, alice, orderID); err != nil {
			t.Fatalf("grant %d: %v", orderID, err)
		}
	}

	if got := f.balance(t, alice); got != 5 {
		t.Errorf("expected alice balance 5, got %d", got)
	}
	if got := mr.HGet("flow:order:2", "owner"); got != alice {
		t.Errorf("expected order 2 stored for alice, got %q", got)
	}

	if err := f.engine.Start(ctx, owner, alice); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Set(1300)
	if err := f.engine.Pause(ctx, owner, alice); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if s := f.session(t, alice); s.RemainingSecs != 6900 {
		t.Errorf("expected 6900 seconds left, got %d", s.RemainingSecs)
	}

	orders, err := f.engine.ListOrders(ctx, alice)
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(orders) != 2 || !orders[0].Granted || !orders[1].Granted {
		t.Errorf("unexpected orders: %+v", orders)
	}
}

func TestSubmitReplayAcrossServers(t *testing.T) {
	mr := miniredis.RunT(t)
	mr.SetTime(time.Unix(1000, 0))
	open := func() *fixture {
		store, err := redis.Open(config.RedisConfig{
			Host:         mr.Addr(),
			PoolSize:     4,
			DialTimeout:  "1s",
			ReadTimeout:  "1s",
			WriteTimeout: "1s",
			KeyPrefix:    "shared",
			MaxTxRetries: 3,
		})
		if err != nil {
			t.Fatalf("open redis store: %v", err)
		}
		t.Cleanup(func() { _ = store.Close() })
		return newFixture(t, store)
	}

	first, second := open(), open()
	first.bootstrap(t, 30)
	ctx := context.Background()

	keys, err := auth.NewKeyring(nil)
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}
	owner := newSigner(t, keys, alice)
	first.engine.SetVerifier(auth.NewVerifier(keys, first.clock, 5*time.Minute, 16))
	second.engine.SetVerifier(auth.NewVerifier(keys, second.clock, 5*time.Minute, 16))

	buy := Invocation{Op: OpBuyOrder, Owner: alice, PackageID: 1}
	entry := first.sign(t, owner, buy)
	if _, err := first.engine.Submit(ctx, buy, []string{entry}); err != nil {
		t.Fatalf("submit on first server: %v", err)
	}

	_, err = second.engine.Submit(ctx, buy, []string{entry})
	if !errors.Is(err, ErrUnauthorized) || !errors.Is(err, auth.ErrReplayed) {
		t.Fatalf("expected replay rejection on second server, got %v", err)
	}
	if got := first.balance(t, alice); got != 20 {
		t.Errorf("expected alice charged once (20 left), got %d", got)
	}
}
