package events

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Event topics, one per mutating operation.
const (
	TopicInit            = "init"
	TopicPackageSet      = "pkg_set"
	TopicPurchaseCreated = "purchase.created"
	TopicGrant           = "grant"
	TopicStart           = "start"
	TopicPause           = "pause"
)

// Event is a record of a committed state change.
type Event struct {
	ID        string      `json:"id"`
	Topic     string      `json:"topic"`
	Key       string      `json:"key"`
	Payload   interface{} `json:"payload"`
	EmittedAt time.Time   `json:"emitted_at"`
}

// New creates an event with a fresh id. Key groups related events, e.g.
// everything that happened to one owner.
func New(topic, key string, payload interface{}, at time.Time) Event {
	return Event{
		ID:        uuid.NewString(),
		Topic:     topic,
		Key:       key,
		Payload:   payload,
		EmittedAt: at.UTC(),
	}
}

// Sink receives events after the operation that produced them committed.
type Sink interface {
	Emit(ctx context.Context, e Event) error
}

// LogSink writes events to a zerolog logger.
type LogSink struct {
	logger zerolog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger zerolog.Logger) *LogSink {
	return &LogSink{logger: logger.With().Str("component", "events").Logger()}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, e Event) error {
	s.logger.Info().
		Str("event_id", e.ID).
		Str("topic", e.Topic).
		Str("key", e.Key).
		Interface("payload", e.Payload).
		Time("emitted_at", e.EmittedAt).
		Msg("Event emitted")
	return nil
}

// Multi fans each event out to every sink.
type Multi []Sink

// Emit delivers e to all sinks and joins their errors.
func (m Multi) Emit(ctx context.Context, e Event) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Emit(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes every sink that holds resources.
func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if c, ok := sink.(io.Closer); ok {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit records e.
func (r *Recorder) Emit(_ context.Context, e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Topics returns the recorded topics in order.
func (r *Recorder) Topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Topic
	}
	return out
}

// Reset discards the recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
