// Package memstore is an in-memory implementation of repo.Store.
//
// It exists so engine tests can run without touching disk. Atomic works on
// a private copy of the state and publishes it only when fn succeeds, which
// gives the same all-or-nothing behaviour as the SQLite store.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

var _ repo.Store = (*Store)(nil)

type statusKey struct {
	event ir.Event
	unit  ir.Unit
}

type status struct {
	completions int64
	consumers   map[ir.Reviewer]struct{}
}

type state struct {
	statuses   map[statusKey]*status
	claims     map[string]ir.Claim
	exceptions []ir.ExceptionRecord
	seq        int64
}

func newState() *state {
	return &state{
		statuses: make(map[statusKey]*status),
		claims:   make(map[string]ir.Claim),
	}
}

func (s *state) clone() *state {
	c := &state{
		statuses:   make(map[statusKey]*status, len(s.statuses)),
		claims:     make(map[string]ir.Claim, len(s.claims)),
		exceptions: append([]ir.ExceptionRecord(nil), s.exceptions...),
		seq:        s.seq,
	}
	for k, v := range s.statuses {
		consumers := make(map[ir.Reviewer]struct{}, len(v.consumers))
		for r := range v.consumers {
			consumers[r] = struct{}{}
		}
		c.statuses[k] = &status{completions: v.completions, consumers: consumers}
	}
	for k, v := range s.claims {
		c.claims[k] = v
	}
	return c
}

// Store holds the ledger in memory. The zero value is not usable; call New.
//
// Thread-safety: all transactions are serialized by one mutex.
type Store struct {
	mu    sync.Mutex
	state *state
}

// New returns an empty store.
func New() *Store {
	return &Store{state: newState()}
}

// Atomic runs fn against a copy of the state and keeps the copy only if fn
// returns nil.
func (s *Store) Atomic(ctx context.Context, fn func(tx repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.state.clone()
	if err := fn(&txn{st: work}); err != nil {
		return err
	}
	s.state = work
	return nil
}

// View runs fn against the live state with writes rejected.
func (s *Store) View(ctx context.Context, fn func(tx repo.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&txn{st: s.state, readOnly: true})
}

type txn struct {
	st       *state
	readOnly bool
}

func (t *txn) checkWritable() error {
	if t.readOnly {
		return repo.ErrReadOnly
	}
	return nil
}

func (t *txn) EnsureStatus(_ context.Context, unit ir.Unit, event ir.Event) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	k := statusKey{event: event, unit: unit}
	if _, ok := t.st.statuses[k]; ok {
		return false, nil
	}
	t.st.statuses[k] = &status{consumers: make(map[ir.Reviewer]struct{})}
	return true, nil
}

func (t *txn) record(k statusKey, st *status) ir.StatusRecord {
	rec := ir.StatusRecord{
		Unit:        k.unit,
		Event:       k.event,
		Completions: st.completions,
		ConsumedBy:  make([]ir.Reviewer, 0, len(st.consumers)),
	}
	for r := range st.consumers {
		rec.ConsumedBy = append(rec.ConsumedBy, r)
	}
	sort.Slice(rec.ConsumedBy, func(i, j int) bool { return rec.ConsumedBy[i] < rec.ConsumedBy[j] })
	return rec
}

func (t *txn) Status(_ context.Context, unit ir.Unit, event ir.Event) (ir.StatusRecord, error) {
	k := statusKey{event: event, unit: unit}
	st, ok := t.st.statuses[k]
	if !ok {
		return ir.StatusRecord{}, repo.ErrNotFound
	}
	return t.record(k, st), nil
}

func (t *txn) ListStatuses(_ context.Context, event ir.Event) ([]ir.StatusRecord, error) {
	out := []ir.StatusRecord{}
	for k, st := range t.st.statuses {
		if k.event == event {
			out = append(out, t.record(k, st))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Completions != out[j].Completions {
			return out[i].Completions < out[j].Completions
		}
		return out[i].Unit < out[j].Unit
	})
	return out, nil
}

func (t *txn) IncrementCompletions(_ context.Context, unit ir.Unit, event ir.Event) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	st, ok := t.st.statuses[statusKey{event: event, unit: unit}]
	if !ok {
		return fmt.Errorf("increment completions: %w", repo.ErrNotFound)
	}
	st.completions++
	return nil
}

func (t *txn) AddConsumer(_ context.Context, unit ir.Unit, event ir.Event, reviewer ir.Reviewer) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}
	st, ok := t.st.statuses[statusKey{event: event, unit: unit}]
	if !ok {
		return false, fmt.Errorf("add consumer: %w", repo.ErrNotFound)
	}
	if _, dup := st.consumers[reviewer]; dup {
		return false, nil
	}
	st.consumers[reviewer] = struct{}{}
	return true, nil
}

func (t *txn) ClaimFor(_ context.Context, reviewer ir.Reviewer, event ir.Event) (ir.Claim, error) {
	for _, c := range t.st.claims {
		if c.Reviewer == reviewer && c.Event == event {
			return c, nil
		}
	}
	return ir.Claim{}, repo.ErrNotFound
}

func (t *txn) ClaimByID(_ context.Context, id string) (ir.Claim, error) {
	c, ok := t.st.claims[id]
	if !ok {
		return ir.Claim{}, repo.ErrNotFound
	}
	return c, nil
}

func (t *txn) ClaimedUnits(_ context.Context, event ir.Event) (map[ir.Unit]struct{}, error) {
	units := make(map[ir.Unit]struct{})
	for _, c := range t.st.claims {
		if c.Event == event {
			units[c.Unit] = struct{}{}
		}
	}
	return units, nil
}

func (t *txn) ListClaims(_ context.Context, event ir.Event) ([]ir.Claim, error) {
	out := []ir.Claim{}
	for _, c := range t.st.claims {
		if c.Event == event {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit < out[j].Unit })
	return out, nil
}

func (t *txn) ExpiredClaims(_ context.Context, cutoff time.Time) ([]ir.Claim, error) {
	out := []ir.Claim{}
	for _, c := range t.st.claims {
		if c.StartTime.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.Before(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// InsertClaim enforces the same uniqueness rules as the SQLite indexes.
func (t *txn) InsertClaim(_ context.Context, c ir.Claim) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if _, ok := t.st.statuses[statusKey{event: c.Event, unit: c.Unit}]; !ok {
		return fmt.Errorf("insert claim: unit not registered: %w", repo.ErrNotFound)
	}
	if _, ok := t.st.claims[c.ID]; ok {
		return fmt.Errorf("insert claim: duplicate id %s: %w", c.ID, repo.ErrClaimConflict)
	}
	for _, existing := range t.st.claims {
		if existing.Event != c.Event {
			continue
		}
		if existing.Reviewer == c.Reviewer || existing.Unit == c.Unit {
			return fmt.Errorf("insert claim: %w", repo.ErrClaimConflict)
		}
	}
	c.StartTime = c.StartTime.UTC()
	t.st.claims[c.ID] = c
	return nil
}

func (t *txn) DeleteClaim(_ context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	delete(t.st.claims, id)
	return nil
}

func (t *txn) AppendException(_ context.Context, rec ir.ExceptionRecord) (int64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	if !rec.Kind.Valid() {
		return 0, fmt.Errorf("append exception: unknown kind %q", rec.Kind)
	}
	t.st.seq++
	rec.Seq = t.st.seq
	rec.Timestamp = rec.Timestamp.UTC()
	t.st.exceptions = append(t.st.exceptions, rec)
	return rec.Seq, nil
}

func (t *txn) ListExceptions(_ context.Context, event ir.Event, kind ir.ExceptionKind) ([]ir.ExceptionRecord, error) {
	out := []ir.ExceptionRecord{}
	for _, rec := range t.st.exceptions {
		if rec.Event == event && rec.Kind == kind {
			out = append(out, rec)
		}
	}
	return out, nil
}
