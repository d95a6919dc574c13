package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goodtune/accesstime/internal/auth"
	"github.com/goodtune/accesstime/internal/events"
	"github.com/goodtune/accesstime/internal/metrics"
	"github.com/goodtune/accesstime/internal/storage"
)

var errRollback = errors.New("access: simulation rollback")

// Cost summarizes the resources an invocation would consume.
type Cost struct {
	Reads       int   `json:"reads"`
	Writes      int   `json:"writes"`
	TokenAmount int64 `json:"token_amount"`
}

// Simulation is the outcome an invocation would have against current state.
type Simulation struct {
	Invocation   Invocation     `json:"invocation"`
	Digest       string         `json:"digest"`
	RequiredAuth []string       `json:"required_auth"`
	Result       *Result        `json:"result"`
	Events       []events.Event `json:"events"`
	Cost         Cost           `json:"cost"`
}

// Simulate evaluates inv without committing anything. Every authorization
// request is granted and recorded, so RequiredAuth lists the identities
// that must sign before Submit can succeed.
func (e *Engine) Simulate(ctx context.Context, inv Invocation) (*Simulation, error) {
	startTime := time.Now()

	sim, err := e.simulate(ctx, inv)

	result := "ok"
	if err != nil {
		result = "error"
		if kind, ok := Kind(err); ok {
			result = kind.Name
		}
	}
	metrics.SimulationsTotal.WithLabelValues(inv.Op, result).Inc()
	e.logger.Debug().
		Str("operation", inv.Op).
		Str("result", result).
		Dur("duration_ms", time.Since(startTime)).
		Msg("Invocation simulated")

	return sim, err
}

func (e *Engine) simulate(ctx context.Context, inv Invocation) (*Simulation, error) {
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	digest, err := inv.Digest()
	if err != nil {
		return nil, err
	}

	var (
		res      *Result
		recorder *auth.Recorder
		meter    storage.Meter
		moved    int64
	)
	err = e.store.Update(ctx, func(tx storage.Tx) error {
		// Update may re-run this on conflict; start each attempt clean.
		recorder = auth.NewRecorder()
		meter = storage.Meter{}
		u := e.newUnit(ctx, storage.Metered(tx, &meter), recorder)
		r, err := u.run(inv)
		if err != nil {
			return err
		}
		res = r
		moved = u.moved
		return errRollback
	})
	if !errors.Is(err, errRollback) {
		if err == nil {
			err = fmt.Errorf("simulation of %s committed", inv.Op)
		}
		return nil, err
	}

	return &Simulation{
		Invocation:   inv.canonical(),
		Digest:       digest,
		RequiredAuth: recorder.Required(),
		Result:       res,
		Events:       res.Events,
		Cost: Cost{
			Reads:       meter.Reads,
			Writes:      meter.Writes,
			TokenAmount: moved,
		},
	}, nil
}

// Submit verifies the authorization entries for inv and executes it. Any
// party may submit; only the entries carry authority. Entries are recorded
// as consumed in the store together with the operation, so a failed call
// leaves them usable and servers sharing a store agree on replays.
func (e *Engine) Submit(ctx context.Context, inv Invocation, entries []string) (*Result, error) {
	if e.verifier == nil {
		return nil, fmt.Errorf("%w: authorization entries are not accepted", ErrUnauthorized)
	}
	if err := inv.Validate(); err != nil {
		return nil, err
	}
	digest, err := inv.Digest()
	if err != nil {
		return nil, err
	}

	set, consumed, err := e.verifier.Verify(digest, entries)
	if err != nil {
		metrics.AuthorizationRejections.WithLabelValues(rejectionReason(err)).Inc()
		e.logger.Warn().Err(err).Str("operation", inv.Op).Msg("Rejected authorization entries")
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	res, err := e.executeConsuming(ctx, set, inv, consumed)
	if err != nil {
		if errors.Is(err, auth.ErrReplayed) {
			e.logger.Warn().Err(err).Str("operation", inv.Op).Msg("Rejected replayed authorization entries")
		}
		return nil, err
	}
	e.verifier.Remember(consumed)
	return res, nil
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrReplayed):
		return "replayed"
	case errors.Is(err, auth.ErrDigestMismatch):
		return "digest_mismatch"
	case errors.Is(err, auth.ErrUnknownIdentity):
		return "unknown_identity"
	default:
		return "invalid_entry"
	}
}
