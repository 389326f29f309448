package allocation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/metrics"
	"github.com/roach88/allot/internal/repo"
)

const (
	// DefaultClaimTTL is how long a claim stays live without a terminal action.
	DefaultClaimTTL = 12 * time.Hour

	// DefaultMaxRetries bounds how often selection is retried after losing
	// a claim insert race.
	DefaultMaxRetries = 3
)

// Engine allocates units to reviewers.
//
// Thread-safety: all methods are safe for concurrent use. Calls touching
// the same event are serialized; different events proceed in parallel.
type Engine struct {
	store      repo.Store
	reviews    ReviewContent
	clock      Clock
	ids        IDGenerator
	ttl        time.Duration
	maxRetries int
	logger     *slog.Logger
	metrics    metrics.Collector
	tracer     trace.Tracer

	locks *xsync.Map[ir.Event, *sync.Mutex]
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source. Default: SystemClock.
func WithClock(c Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithIDGenerator sets the claim id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) Option {
	return func(e *Engine) { e.ids = g }
}

// WithClaimTTL sets the claim lifetime. Default: 12h.
// Non-positive values are ignored.
func WithClaimTTL(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.ttl = d
		}
	}
}

// WithMaxRetries sets the claim conflict retry bound. Default: 3.
// Negative values are ignored.
func WithMaxRetries(n int) Option {
	return func(e *Engine) {
		if n >= 0 {
			e.maxRetries = n
		}
	}
}

// WithLogger sets the structured logger. Default: discard.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics sets the metrics collector. Default: metrics.NewNop().
func WithMetrics(m metrics.Collector) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates an Engine over the given store and review collaborator.
func New(store repo.Store, reviews ReviewContent, opts ...Option) *Engine {
	e := &Engine{
		store:      store,
		reviews:    reviews,
		clock:      SystemClock{},
		ids:        UUIDv7Generator{},
		ttl:        DefaultClaimTTL,
		maxRetries: DefaultMaxRetries,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics:    metrics.NewNop(),
		tracer:     otel.Tracer("github.com/roach88/allot/internal/allocation"),
		locks:      xsync.NewMap[ir.Event, *sync.Mutex](),
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// ClaimTTL returns the configured claim lifetime.
func (e *Engine) ClaimTTL() time.Duration {
	return e.ttl
}

// lockEvent serializes operations on one event within this process.
func (e *Engine) lockEvent(event ir.Event) func() {
	mu, _ := e.locks.LoadOrStore(event, &sync.Mutex{})
	mu.Lock()
	return mu.Unlock
}

// begin starts a span for op. The returned func ends it, recording err and
// the operation latency.
func (e *Engine) begin(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "allocation."+op, trace.WithAttributes(attrs...))
	return ctx, func(err error) {
		if err != nil && !isExpected(err) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		e.metrics.ObserveOperation(op, time.Since(start).Seconds())
	}
}

// isExpected reports whether err is a business outcome rather than a fault.
func isExpected(err error) bool {
	return errors.Is(err, ErrNoEligibleUnit) ||
		errors.Is(err, ErrNoActiveClaim) ||
		errors.Is(err, ErrClaimNotOwned)
}

// collaboratorFailed wraps a review collaborator error and counts it.
func (e *Engine) collaboratorFailed(op string, err error) error {
	e.metrics.RecordCollaboratorFailure(op)
	return &CollaboratorError{Op: op, Err: err}
}

func (e *Engine) now() time.Time {
	return e.clock.Now().UTC()
}

// Register makes unit assignable within event. Registering the same pair
// again is a no-op.
func (e *Engine) Register(ctx context.Context, unit ir.Unit, event ir.Event) (err error) {
	if unit, err = ir.NormalizeUnit(unit); err != nil {
		return invalid("unit", err)
	}
	if event, err = ir.NormalizeEvent(event); err != nil {
		return invalid("event", err)
	}

	ctx, end := e.begin(ctx, "register",
		attribute.String("unit", string(unit)),
		attribute.String("event", string(event)))
	defer func() { end(err) }()

	var created bool
	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		var err error
		created, err = tx.EnsureStatus(ctx, unit, event)
		return err
	})
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	if created {
		e.logger.Debug("unit registered", "unit", unit, "event", event)
	}
	return nil
}

// RegisterAll registers every unit in one transaction and returns how many
// were new.
func (e *Engine) RegisterAll(ctx context.Context, event ir.Event, units ...ir.Unit) (n int, err error) {
	if event, err = ir.NormalizeEvent(event); err != nil {
		return 0, invalid("event", err)
	}
	normalized := make([]ir.Unit, 0, len(units))
	for _, u := range units {
		nu, err := ir.NormalizeUnit(u)
		if err != nil {
			return 0, invalid("unit", err)
		}
		normalized = append(normalized, nu)
	}

	ctx, end := e.begin(ctx, "register_all",
		attribute.String("event", string(event)),
		attribute.Int("units", len(normalized)))
	defer func() { end(err) }()

	err = e.store.Atomic(ctx, func(tx repo.Tx) error {
		n = 0
		for _, u := range normalized {
			created, err := tx.EnsureStatus(ctx, u, event)
			if err != nil {
				return err
			}
			if created {
				n++
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("register all: %w", err)
	}

	e.logger.Info("units registered", "event", event, "requested", len(normalized), "created", n)
	return n, nil
}

// Status returns the ledger record of (unit, event).
func (e *Engine) Status(ctx context.Context, unit ir.Unit, event ir.Event) (rec ir.StatusRecord, err error) {
	if unit, err = ir.NormalizeUnit(unit); err != nil {
		return ir.StatusRecord{}, invalid("unit", err)
	}
	if event, err = ir.NormalizeEvent(event); err != nil {
		return ir.StatusRecord{}, invalid("event", err)
	}

	err = e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		rec, err = tx.Status(ctx, unit, event)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ir.StatusRecord{}, fmt.Errorf("status %s/%s: %w", event, unit, ErrUnitNotRegistered)
	}
	if err != nil {
		return ir.StatusRecord{}, fmt.Errorf("status: %w", err)
	}
	return rec, nil
}

// EventSnapshot is a read-only view of one event's ledger and claims.
type EventSnapshot struct {
	Event    ir.Event          `json:"event"`
	Statuses []ir.StatusRecord `json:"statuses"`
	Claims   []ir.Claim        `json:"claims"`
}

// Snapshot returns the event's status records in fairness order and its
// claims ordered by unit. Stale claims are included as stored.
func (e *Engine) Snapshot(ctx context.Context, event ir.Event) (snap EventSnapshot, err error) {
	if event, err = ir.NormalizeEvent(event); err != nil {
		return EventSnapshot{}, invalid("event", err)
	}

	snap.Event = event
	err = e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		if snap.Statuses, err = tx.ListStatuses(ctx, event); err != nil {
			return err
		}
		snap.Claims, err = tx.ListClaims(ctx, event)
		return err
	})
	if err != nil {
		return EventSnapshot{}, fmt.Errorf("snapshot: %w", err)
	}
	return snap, nil
}

// Lookup returns the stored claim with the given id, or ErrNoActiveClaim.
func (e *Engine) Lookup(ctx context.Context, id string) (c ir.Claim, err error) {
	err = e.store.View(ctx, func(tx repo.Tx) error {
		var err error
		c, err = tx.ClaimByID(ctx, id)
		return err
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ir.Claim{}, fmt.Errorf("claim %s: %w", id, ErrNoActiveClaim)
	}
	if err != nil {
		return ir.Claim{}, fmt.Errorf("lookup: %w", err)
	}
	return c, nil
}
