package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/authz"
	"github.com/goodtune/accesstime/internal/events"
	"github.com/goodtune/accesstime/internal/storage"
	"github.com/goodtune/accesstime/internal/token"
)

// unit is one operation's unit of work. Every write goes through tx, so an
// error anywhere discards all of them.
type unit struct {
	ctx     context.Context
	tx      storage.Tx
	auth    auth.Authorizer
	policy  Policy
	ledgers token.Factory
	at      time.Time
	now     uint64

	events []events.Event
	moved  int64
}

func (u *unit) run(inv Invocation) (*Result, error) {
	var (
		res *Result
		err error
	)
	switch inv.Op {
	case OpInit:
		res, err = u.init(inv.Admin, inv.TokenAsset)
	case OpSetPackage:
		res, err = u.setPackage(inv.PackageID, inv.Price, inv.DurationSecs)
	case OpBuyOrder:
		res, err = u.buyOrder(inv.Owner, inv.PackageID)
	case OpGrant:
		res, err = u.grant(inv.Caller, inv.Owner, inv.OrderID)
	case OpStart:
		res, err = u.start(inv.Owner)
	case OpPause:
		res, err = u.pause(inv.Owner)
	default:
		return nil, fmt.Errorf("%w: unknown op %q", ErrInvalidInvocation, inv.Op)
	}
	if err != nil {
		return nil, err
	}
	res.Operation = inv.Op
	res.Events = u.events
	return res, nil
}

// authorize requires caller's signature, then asks the policy whether
// caller may perform op.
func (u *unit) authorize(op, caller, owner, admin string) error {
	if err := u.auth.RequireAuth(caller); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	decision, err := u.policy.Authorize(u.ctx, authz.Request{
		Operation: op,
		Caller:    caller,
		Owner:     owner,
		Admin:     admin,
	})
	if err != nil {
		return fmt.Errorf("evaluate access policy: %w", err)
	}
	if !decision.Allow {
		return fmt.Errorf("%w: %s", ErrUnauthorized, decision.Reason)
	}
	return nil
}

// consume records verified entries as used, after dropping records of
// entries that have expired. An entry already on record was replayed.
func (u *unit) consume(consumed []auth.Consumed) error {
	if len(consumed) == 0 {
		return nil
	}
	store := u.tx.ConsumedEntries()
	if _, err := store.Prune(u.now); err != nil {
		return fmt.Errorf("prune consumed entries: %w", err)
	}
	for _, c := range consumed {
		_, err := store.Get(c.Subject, c.ID)
		if err == nil {
			return fmt.Errorf("%w: entry %s of %s: %w", ErrUnauthorized, c.ID, c.Subject, auth.ErrReplayed)
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("load consumed entry %s: %w", c.ID, err)
		}
		entry := storage.ConsumedEntry{
			Subject:    c.Subject,
			ID:         c.ID,
			Digest:     c.Digest,
			ExpiresAt:  uint64(c.ExpiresAt.Unix()),
			ConsumedAt: u.now,
		}
		if err := store.Put(entry); err != nil {
			return fmt.Errorf("record consumed entry %s: %w", c.ID, err)
		}
	}
	return nil
}

func (u *unit) emit(topic, key string, payload interface{}) {
	u.events = append(u.events, events.New(topic, key, payload, u.at))
}

func (u *unit) instance() (*storage.Instance, error) {
	inst, err := u.tx.Instance().Get()
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotInitialized
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	return inst, nil
}

type initPayload struct {
	Admin      string `json:"admin"`
	TokenAsset string `json:"token_asset"`
}

func (u *unit) init(admin, tokenAsset string) (*Result, error) {
	if _, err := u.tx.Instance().Get(); err == nil {
		return nil, ErrAlreadyInitialized
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("load instance: %w", err)
	}

	if err := u.authorize(OpInit, admin, "", admin); err != nil {
		return nil, err
	}

	inst := storage.Instance{
		Admin:         admin,
		TokenAsset:    tokenAsset,
		NextOrderID:   1,
		InitializedAt: u.now,
	}
	if err := u.tx.Instance().Put(inst); err != nil {
		return nil, fmt.Errorf("store instance: %w", err)
	}

	u.emit(events.TopicInit, admin, initPayload{Admin: admin, TokenAsset: tokenAsset})
	return &Result{Instance: &inst}, nil
}

type packageSetPayload struct {
	ID           uint32 `json:"id"`
	Price        int64  `json:"price"`
	DurationSecs uint32 `json:"duration_secs"`
}

func (u *unit) setPackage(id uint32, price int64, durationSecs uint32) (*Result, error) {
	inst, err := u.instance()
	if err != nil {
		return nil, err
	}
	if err := u.authorize(OpSetPackage, inst.Admin, "", inst.Admin); err != nil {
		return nil, err
	}

	if price < 0 {
		return nil, fmt.Errorf("%w: price %d is negative", ErrInvalidPackage, price)
	}
	if durationSecs == 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidPackage)
	}

	pkg := storage.Package{ID: id, Price: price, DurationSecs: durationSecs, UpdatedAt: u.now}
	if err := u.tx.Packages().Put(pkg); err != nil {
		return nil, fmt.Errorf("store package %d: %w", id, err)
	}

	u.emit(events.TopicPackageSet, strconv.FormatUint(uint64(id), 10), packageSetPayload{
		ID:           id,
		Price:        price,
		DurationSecs: durationSecs,
	})
	return &Result{Package: &pkg}, nil
}

type purchaseCreatedPayload struct {
	Owner     string `json:"owner"`
	PackageID uint32 `json:"package_id"`
	OrderID   uint64 `json:"order_id"`
	Price     int64  `json:"price"`
}

func (u *unit) buyOrder(owner string, packageID uint32) (*Result, error) {
	inst, err := u.instance()
	if err != nil {
		return nil, err
	}
	if err := u.authorize(OpBuyOrder, owner, owner, inst.Admin); err != nil {
		return nil, err
	}

	pkg, err := u.tx.Packages().Get(packageID)
	if err != nil {
		return nil, notFound(fmt.Sprintf("package %d", packageID), err)
	}

	ledger := u.ledgers(u.tx, inst.TokenAsset)
	if err := ledger.Transfer(u.ctx, owner, inst.Admin, pkg.Price); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransferFailed, err)
	}
	u.moved += pkg.Price

	order := storage.Order{
		ID:           inst.NextOrderID,
		Owner:        owner,
		PackageID:    pkg.ID,
		Price:        pkg.Price,
		DurationSecs: pkg.DurationSecs,
		CreatedAt:    u.now,
	}
	inst.NextOrderID++
	if err := u.tx.Instance().Put(*inst); err != nil {
		return nil, fmt.Errorf("advance order counter: %w", err)
	}
	if err := u.tx.Orders().Put(order); err != nil {
		return nil, fmt.Errorf("store order %d: %w", order.ID, err)
	}

	u.emit(events.TopicPurchaseCreated, owner, purchaseCreatedPayload{
		Owner:     owner,
		PackageID: pkg.ID,
		OrderID:   order.ID,
		Price:     pkg.Price,
	})
	return &Result{OrderID: order.ID, Order: &order}, nil
}

type grantPayload struct {
	Owner         string `json:"owner"`
	Caller        string `json:"caller"`
	OrderID       uint64 `json:"order_id"`
	CreditedSecs  uint32 `json:"credited_secs"`
	RemainingSecs uint32 `json:"remaining_secs"`
}

func (u *unit) grant(caller, owner string, orderID uint64) (*Result, error) {
	inst, err := u.instance()
	if err != nil {
		return nil, err
	}
	if err := u.authorize(OpGrant, caller, owner, inst.Admin); err != nil {
		return nil, err
	}

	order, err := u.tx.Orders().Get(orderID)
	if err != nil {
		return nil, notFound(fmt.Sprintf("order %d", orderID), err)
	}
	if order.Owner != owner {
		return nil, fmt.Errorf("%w: order %d does not belong to %s", ErrOrderMismatch, orderID, owner)
	}
	if order.Granted {
		return nil, fmt.Errorf("%w: order %d", ErrAlreadyGranted, orderID)
	}

	session, err := u.session(owner)
	if err != nil {
		return nil, err
	}
	session.RemainingSecs = addSaturating(session.RemainingSecs, order.DurationSecs)
	if err := u.tx.Sessions().Put(*session); err != nil {
		return nil, fmt.Errorf("store session of %s: %w", owner, err)
	}

	order.Granted = true
	order.GrantedAt = u.now
	if err := u.tx.Orders().Put(*order); err != nil {
		return nil, fmt.Errorf("store order %d: %w", orderID, err)
	}

	u.emit(events.TopicGrant, owner, grantPayload{
		Owner:         owner,
		Caller:        caller,
		OrderID:       orderID,
		CreditedSecs:  order.DurationSecs,
		RemainingSecs: session.RemainingSecs,
	})
	return &Result{OrderID: orderID, Order: order, Session: session}, nil
}

type startPayload struct {
	Owner     string `json:"owner"`
	StartedAt uint64 `json:"started_at"`
}

func (u *unit) start(owner string) (*Result, error) {
	if _, err := u.instance(); err != nil {
		return nil, err
	}
	if err := u.authorize(OpStart, owner, owner, ""); err != nil {
		return nil, err
	}

	session, err := u.session(owner)
	if err != nil {
		return nil, err
	}
	if session.Running() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRunning, owner)
	}
	if session.RemainingSecs == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoBalance, owner)
	}
	if u.now == 0 {
		return nil, fmt.Errorf("%w: clock reads zero", ErrInvalidTimestamp)
	}

	session.StartedAt = u.now
	if err := u.tx.Sessions().Put(*session); err != nil {
		return nil, fmt.Errorf("store session of %s: %w", owner, err)
	}

	u.emit(events.TopicStart, owner, startPayload{Owner: owner, StartedAt: u.now})
	return &Result{Session: session}, nil
}

type pausePayload struct {
	Owner         string `json:"owner"`
	ElapsedSecs   uint64 `json:"elapsed_secs"`
	RemainingSecs uint32 `json:"remaining_secs"`
}

func (u *unit) pause(owner string) (*Result, error) {
	if _, err := u.instance(); err != nil {
		return nil, err
	}
	if err := u.authorize(OpPause, owner, owner, ""); err != nil {
		return nil, err
	}

	session, err := u.session(owner)
	if err != nil {
		return nil, err
	}
	if !session.Running() {
		return nil, fmt.Errorf("%w: %s", ErrNotRunning, owner)
	}

	elapsed := elapsedSince(session.StartedAt, u.now)
	session.RemainingSecs = subSaturating(session.RemainingSecs, elapsed)
	session.StartedAt = 0
	if err := u.tx.Sessions().Put(*session); err != nil {
		return nil, fmt.Errorf("store session of %s: %w", owner, err)
	}

	u.emit(events.TopicPause, owner, pausePayload{
		Owner:         owner,
		ElapsedSecs:   elapsed,
		RemainingSecs: session.RemainingSecs,
	})
	return &Result{Session: session}, nil
}

// session loads the owner's session, or a fresh paused one with no balance.
func (u *unit) session(owner string) (*storage.Session, error) {
	session, err := u.tx.Sessions().Get(owner)
	if errors.Is(err, storage.ErrNotFound) {
		return &storage.Session{Owner: owner}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session of %s: %w", owner, err)
	}
	return session, nil
}
