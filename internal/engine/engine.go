// Package engine runs ledger operations one at a time. Each operation sees a
// consistent state, and either commits every effect it made or none of
// them. Committed events are sequenced and fanned out to sinks after the
// ledger is released.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marginpool/internal/domain"
	"github.com/alanyoungcy/marginpool/internal/state"
)

type opKey struct{}

type untrustedKey struct{}

// Engine is the single writer of the ledger state.
type Engine struct {
	mu      sync.Mutex
	journal *state.Journal
	clock   domain.Clock
	seq     uint64
	sinks   []domain.EventSink
	metrics *Metrics
	logger  *slog.Logger
}

// New creates an engine over journal j.
func New(j *state.Journal, clock domain.Clock, metrics *Metrics, logger *slog.Logger) *Engine {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	return &Engine{
		journal: j,
		clock:   clock,
		metrics: metrics,
		logger:  logger.With(slog.String("component", "engine")),
	}
}

// Journal exposes the journal so components can register containers.
func (e *Engine) Journal() *state.Journal {
	return e.journal
}

// AddSink registers an observer for committed events. Sinks must be added
// before operations start.
func (e *Engine) AddSink(s domain.EventSink) {
	e.sinks = append(e.sinks, s)
}

// Now returns the current ledger time in unix seconds.
func (e *Engine) Now() uint64 {
	return uint64(e.clock.Now().Unix())
}

// Emit queues an event on the running operation.
func (e *Engine) Emit(ev domain.Event) {
	e.journal.Emit(ev)
}

// Untrusted marks ctx as belonging to externally supplied code. Any attempt
// to enter the engine with such a context fails with ErrReentrantCall.
func Untrusted(ctx context.Context) context.Context {
	return context.WithValue(ctx, untrustedKey{}, true)
}

// InOperation reports whether ctx belongs to a running operation.
func InOperation(ctx context.Context) bool {
	_, ok := ctx.Value(opKey{}).(string)
	return ok
}

// Execute runs fn as one atomic operation named op. If ctx already belongs
// to a running operation, fn joins it and any error fails the outer
// operation as well.
func (e *Engine) Execute(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	if untrusted, _ := ctx.Value(untrustedKey{}).(bool); untrusted {
		return fmt.Errorf("engine: %s: %w", op, domain.ErrReentrantCall)
	}
	if InOperation(ctx) {
		return fn(ctx)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	start := time.Now()
	e.mu.Lock()
	rev := e.journal.Snapshot()
	opCtx := context.WithValue(ctx, opKey{}, op)

	err := e.run(opCtx, fn)
	if err != nil {
		e.journal.RevertTo(rev)
		e.mu.Unlock()
		e.metrics.ObserveOperation(op, statusFor(err), time.Since(start))
		e.logger.DebugContext(ctx, "operation reverted",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return err
	}

	events := e.journal.Commit()
	records := e.sequence(op, events)
	e.mu.Unlock()

	e.metrics.ObserveOperation(op, "ok", time.Since(start))
	e.dispatch(context.WithoutCancel(ctx), records)
	return nil
}

// run converts a panic inside fn into an error so the journal is still
// unwound and the lock released.
func (e *Engine) run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: operation panicked: %v", r)
		}
	}()
	return fn(ctx)
}

func (e *Engine) sequence(op string, events []domain.Event) []domain.EventRecord {
	if len(events) == 0 {
		return nil
	}
	now := e.clock.Now().UTC()
	records := make([]domain.EventRecord, 0, len(events))
	for _, ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			e.logger.Error("marshal event",
				slog.String("event", ev.EventName()),
				slog.String("error", err.Error()),
			)
			payload = json.RawMessage(`{}`)
		}
		e.seq++
		records = append(records, domain.EventRecord{
			ID:        uuid.NewString(),
			Seq:       e.seq,
			Name:      ev.EventName(),
			Operation: op,
			Timestamp: now,
			Payload:   payload,
			Event:     ev,
		})
		e.metrics.IncEvent(ev.EventName())
	}
	return records
}

func (e *Engine) dispatch(ctx context.Context, records []domain.EventRecord) {
	if len(records) == 0 {
		return
	}
	for _, s := range e.sinks {
		if err := s.HandleEvents(ctx, records); err != nil {
			e.metrics.IncSinkFailure(s.Name())
			e.logger.WarnContext(ctx, "event sink failed",
				slog.String("sink", s.Name()),
				slog.Int("events", len(records)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Sequence returns the last assigned event sequence number.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Export serializes the ledger together with the event counter.
func (e *Engine) Export() (uint64, map[string]json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, err := e.journal.Export()
	if err != nil {
		return 0, nil, err
	}
	return e.seq, data, nil
}

// Import replaces the ledger with an export. It must run before the engine
// serves operations.
func (e *Engine) Import(seq uint64, data map[string]json.RawMessage) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.journal.Import(data); err != nil {
		return err
	}
	e.seq = seq
	return nil
}

func statusFor(err error) string {
	switch {
	case errors.Is(err, domain.ErrReentrantCall):
		return "reentrant"
	case errors.Is(err, domain.ErrInvalidSignature), errors.Is(err, domain.ErrUnauthorized),
		errors.Is(err, domain.ErrSenderNotTrader), errors.Is(err, domain.ErrCallerNotTrader),
		errors.Is(err, domain.ErrCallerNotPool):
		return "unauthorized"
	case errors.Is(err, domain.ErrSwapReverted):
		return "swap_reverted"
	default:
		return "error"
	}
}
