package access

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/authz"
	"github.com/goodtune/accesstime/internal/clock"
	"github.com/goodtune/accesstime/internal/events"
	"github.com/goodtune/accesstime/internal/metrics"
	"github.com/goodtune/accesstime/internal/storage"
	"github.com/goodtune/accesstime/internal/token"
	"github.com/rs/zerolog"
)

// Policy decides whether a caller may perform an operation.
type Policy interface {
	Authorize(ctx context.Context, req authz.Request) (authz.Decision, error)
}

// Result describes the committed outcome of a mutating operation.
type Result struct {
	Operation string            `json:"operation"`
	OrderID   uint64            `json:"order_id,omitempty"`
	Instance  *storage.Instance `json:"instance,omitempty"`
	Package   *storage.Package  `json:"package,omitempty"`
	Order     *storage.Order    `json:"order,omitempty"`
	Session   *storage.Session  `json:"session,omitempty"`
	Events    []events.Event    `json:"events"`
}

// Engine implements the access-time operations on top of a transactional
// store. Every mutating operation is one storage unit of work; its events
// are delivered only after that unit commits.
type Engine struct {
	store    storage.Store
	policy   Policy
	sink     events.Sink
	clock    clock.Clock
	ledgers  token.Factory
	verifier *auth.Verifier
	logger   zerolog.Logger
}

// NewEngine creates an engine.
func NewEngine(store storage.Store, policy Policy, sink events.Sink, logger zerolog.Logger) *Engine {
	if sink == nil {
		sink = events.Multi{}
	}
	return &Engine{
		store:   store,
		policy:  policy,
		sink:    sink,
		clock:   clock.RealClock{},
		ledgers: token.StoreFactory,
		logger:  logger.With().Str("component", "access").Logger(),
	}
}

// SetClock sets the clock used for session accounting (for testing)
func (e *Engine) SetClock(c clock.Clock) {
	e.clock = c
}

// SetLedgerFactory replaces the token ledger used to settle purchases.
func (e *Engine) SetLedgerFactory(f token.Factory) {
	e.ledgers = f
}

// SetVerifier enables Submit with authorization entries checked by v.
func (e *Engine) SetVerifier(v *auth.Verifier) {
	e.verifier = v
}

// Init records the admin and the token asset. Requires the admin's authorization.
func (e *Engine) Init(ctx context.Context, authorizer auth.Authorizer, admin, tokenAsset string) error {
	_, err := e.execute(ctx, authorizer, Invocation{Op: OpInit, Admin: admin, TokenAsset: tokenAsset})
	return err
}

// SetPackage creates or replaces a catalog entry. Requires the admin's authorization.
func (e *Engine) SetPackage(ctx context.Context, authorizer auth.Authorizer, id uint32, price int64, durationSecs uint32) error {
	_, err := e.execute(ctx, authorizer, Invocation{Op: OpSetPackage, PackageID: id, Price: price, DurationSecs: durationSecs})
	return err
}

// BuyOrder pays for a package and records an ungranted order.
func (e *Engine) BuyOrder(ctx context.Context, authorizer auth.Authorizer, owner string, packageID uint32) (uint64, error) {
	res, err := e.execute(ctx, authorizer, Invocation{Op: OpBuyOrder, Owner: owner, PackageID: packageID})
	if err != nil {
		return 0, err
	}
	return res.OrderID, nil
}

// Grant credits a paid order to its owner's session.
func (e *Engine) Grant(ctx context.Context, authorizer auth.Authorizer, caller, owner string, orderID uint64) error {
	_, err := e.execute(ctx, authorizer, Invocation{Op: OpGrant, Caller: caller, Owner: owner, OrderID: orderID})
	return err
}

// Start resumes consumption of the owner's balance.
func (e *Engine) Start(ctx context.Context, authorizer auth.Authorizer, owner string) error {
	_, err := e.execute(ctx, authorizer, Invocation{Op: OpStart, Owner: owner})
	return err
}

// Pause freezes the owner's balance.
func (e *Engine) Pause(ctx context.Context, authorizer auth.Authorizer, owner string) error {
	_, err := e.execute(ctx, authorizer, Invocation{Op: OpPause, Owner: owner})
	return err
}

// Execute runs inv with an already established capability.
func (e *Engine) Execute(ctx context.Context, authorizer auth.Authorizer, inv Invocation) (*Result, error) {
	return e.execute(ctx, authorizer, inv)
}

func (e *Engine) execute(ctx context.Context, authorizer auth.Authorizer, inv Invocation) (*Result, error) {
	return e.executeConsuming(ctx, authorizer, inv, nil)
}

// executeConsuming runs inv and records consumed as used in the same unit
// of work, so the entries are spent exactly when the operation commits.
func (e *Engine) executeConsuming(ctx context.Context, authorizer auth.Authorizer, inv Invocation, consumed []auth.Consumed) (*Result, error) {
	startTime := time.Now()

	if err := inv.Validate(); err != nil {
		e.observe(inv.Op, startTime, err)
		return nil, err
	}

	var res *Result
	err := e.store.Update(ctx, func(tx storage.Tx) error {
		u := e.newUnit(ctx, tx, authorizer)
		if err := u.consume(consumed); err != nil {
			return err
		}
		r, err := u.run(inv)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	e.observe(inv.Op, startTime, err)
	if err != nil {
		return nil, err
	}

	e.recordOutcome(res)
	e.publish(ctx, res.Events)
	return res, nil
}

func (e *Engine) newUnit(ctx context.Context, tx storage.Tx, authorizer auth.Authorizer) *unit {
	at := e.clock.Now()
	return &unit{
		ctx:     ctx,
		tx:      tx,
		auth:    authorizer,
		policy:  e.policy,
		ledgers: e.ledgers,
		at:      at,
		now:     clock.Unix(e.clock),
	}
}

func (e *Engine) observe(op string, startTime time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
		if kind, ok := Kind(err); ok {
			result = kind.Name
		}
		if errors.Is(err, storage.ErrConflict) {
			metrics.StorageConflicts.Inc()
		}
		if errors.Is(err, ErrUnauthorized) {
			reason := "policy"
			if errors.Is(err, auth.ErrReplayed) {
				reason = "replayed"
			}
			metrics.AuthorizationRejections.WithLabelValues(reason).Inc()
		}
	}
	metrics.OperationsTotal.WithLabelValues(op, result).Inc()
	metrics.OperationDuration.WithLabelValues(op).Observe(time.Since(startTime).Seconds())

	if err != nil {
		e.logger.Debug().Err(err).Str("operation", op).Msg("Operation failed")
	}
}

func (e *Engine) recordOutcome(res *Result) {
	switch res.Operation {
	case OpBuyOrder:
		if res.Order != nil {
			metrics.PurchasesTotal.WithLabelValues(strconv.FormatUint(uint64(res.Order.PackageID), 10)).Inc()
			metrics.PurchaseAmountTotal.Add(float64(res.Order.Price))
		}
	case OpGrant:
		if res.Order != nil {
			metrics.SecondsCreditedTotal.Add(float64(res.Order.DurationSecs))
		}
	}
}

// publish delivers committed events. Delivery failures are logged and
// counted; the operation has already committed.
func (e *Engine) publish(ctx context.Context, evts []events.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range evts {
		if err := e.sink.Emit(ctx, ev); err != nil {
			metrics.EventErrors.WithLabelValues(ev.Topic).Inc()
			e.logger.Error().Err(err).Str("event_id", ev.ID).Str("topic", ev.Topic).Msg("Failed to deliver event")
			continue
		}
		metrics.EventsEmitted.WithLabelValues(ev.Topic).Inc()
	}
}

func notFound(what string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return fmt.Errorf("load %s: %w", what, err)
}
