package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

// txn implements repo.Tx over one SQL transaction.
type txn struct {
	tx       *sql.Tx
	readOnly bool
}

func (t *txn) checkWritable() error {
	if t.readOnly {
		return repo.ErrReadOnly
	}
	return nil
}

// EnsureStatus inserts the record with ON CONFLICT DO NOTHING so repeated
// registration leaves exactly one row.
func (t *txn) EnsureStatus(ctx context.Context, unit ir.Unit, event ir.Event) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO status_records (event, unit, completions)
		VALUES (?, ?, 0)
		ON CONFLICT (event, unit) DO NOTHING
	`, string(event), string(unit))
	if err != nil {
		return false, fmt.Errorf("ensure status: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ensure status: rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *txn) Status(ctx context.Context, unit ir.Unit, event ir.Event) (ir.StatusRecord, error) {
	rec := ir.StatusRecord{Unit: unit, Event: event}
	err := t.tx.QueryRowContext(ctx, `
		SELECT completions FROM status_records
		WHERE event = ? AND unit = ?
	`, string(event), string(unit)).Scan(&rec.Completions)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.StatusRecord{}, repo.ErrNotFound
	}
	if err != nil {
		return ir.StatusRecord{}, fmt.Errorf("read status: %w", err)
	}

	rows, err := t.tx.QueryContext(ctx, `
		SELECT reviewer FROM status_consumers
		WHERE event = ? AND unit = ?
		ORDER BY reviewer COLLATE BINARY ASC
	`, string(event), string(unit))
	if err != nil {
		return ir.StatusRecord{}, fmt.Errorf("read consumers: %w", err)
	}
	defer rows.Close()

	rec.ConsumedBy = []ir.Reviewer{}
	for rows.Next() {
		var r string
		if err := rows.Scan(&r); err != nil {
			return ir.StatusRecord{}, fmt.Errorf("scan consumer: %w", err)
		}
		rec.ConsumedBy = append(rec.ConsumedBy, ir.Reviewer(r))
	}
	if err := rows.Err(); err != nil {
		return ir.StatusRecord{}, fmt.Errorf("iterate consumers: %w", err)
	}

	return rec, nil
}

// ListStatuses orders by completions then unit, which is the fairness order
// the engine selects from.
func (t *txn) ListStatuses(ctx context.Context, event ir.Event) ([]ir.StatusRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT unit, completions FROM status_records
		WHERE event = ?
		ORDER BY completions ASC, unit COLLATE BINARY ASC
	`, string(event))
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}

	records := []ir.StatusRecord{}
	index := make(map[ir.Unit]int)
	for rows.Next() {
		var unit string
		var completions int64
		if err := rows.Scan(&unit, &completions); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan status: %w", err)
		}
		index[ir.Unit(unit)] = len(records)
		records = append(records, ir.StatusRecord{
			Unit:        ir.Unit(unit),
			Event:       event,
			Completions: completions,
			ConsumedBy:  []ir.Reviewer{},
		})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	rows.Close()

	consumers, err := t.tx.QueryContext(ctx, `
		SELECT unit, reviewer FROM status_consumers
		WHERE event = ?
		ORDER BY unit COLLATE BINARY ASC, reviewer COLLATE BINARY ASC
	`, string(event))
	if err != nil {
		return nil, fmt.Errorf("list consumers: %w", err)
	}
	defer consumers.Close()

	for consumers.Next() {
		var unit, reviewer string
		if err := consumers.Scan(&unit, &reviewer); err != nil {
			return nil, fmt.Errorf("scan consumer: %w", err)
		}
		if i, ok := index[ir.Unit(unit)]; ok {
			records[i].ConsumedBy = append(records[i].ConsumedBy, ir.Reviewer(reviewer))
		}
	}
	if err := consumers.Err(); err != nil {
		return nil, fmt.Errorf("iterate consumers: %w", err)
	}

	return records, nil
}

func (t *txn) IncrementCompletions(ctx context.Context, unit ir.Unit, event ir.Event) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	result, err := t.tx.ExecContext(ctx, `
		UPDATE status_records SET completions = completions + 1
		WHERE event = ? AND unit = ?
	`, string(event), string(unit))
	if err != nil {
		return fmt.Errorf("increment completions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("increment completions: rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("increment completions: %w", repo.ErrNotFound)
	}
	return nil
}

func (t *txn) AddConsumer(ctx context.Context, unit ir.Unit, event ir.Event, reviewer ir.Reviewer) (bool, error) {
	if err := t.checkWritable(); err != nil {
		return false, err
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO status_consumers (event, unit, reviewer)
		VALUES (?, ?, ?)
		ON CONFLICT (event, unit, reviewer) DO NOTHING
	`, string(event), string(unit), string(reviewer))
	if err != nil {
		if isForeignKeyViolation(err) {
			return false, fmt.Errorf("add consumer: %w", repo.ErrNotFound)
		}
		return false, fmt.Errorf("add consumer: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("add consumer: rows affected: %w", err)
	}
	return n > 0, nil
}

func (t *txn) AppendException(ctx context.Context, rec ir.ExceptionRecord) (int64, error) {
	if err := t.checkWritable(); err != nil {
		return 0, err
	}
	if !rec.Kind.Valid() {
		return 0, fmt.Errorf("append exception: unknown kind %q", rec.Kind)
	}
	if err := ir.CheckTime(rec.Timestamp); err != nil {
		return 0, fmt.Errorf("append exception: %w", err)
	}

	result, err := t.tx.ExecContext(ctx, `
		INSERT INTO exceptions (kind, reviewer, unit, event, timestamp, reason)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(rec.Kind), string(rec.Reviewer), string(rec.Unit), string(rec.Event),
		rec.Timestamp.UnixNano(), rec.Reason)
	if err != nil {
		return 0, fmt.Errorf("append exception: %w", err)
	}
	seq, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("append exception: last insert id: %w", err)
	}
	return seq, nil
}

func (t *txn) ListExceptions(ctx context.Context, event ir.Event, kind ir.ExceptionKind) ([]ir.ExceptionRecord, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT seq, kind, reviewer, unit, event, timestamp, reason
		FROM exceptions
		WHERE event = ? AND kind = ?
		ORDER BY seq ASC
	`, string(event), string(kind))
	if err != nil {
		return nil, fmt.Errorf("list exceptions: %w", err)
	}
	defer rows.Close()

	records := []ir.ExceptionRecord{}
	for rows.Next() {
		var (
			rec                          ir.ExceptionRecord
			k, reviewer, unit, eventName string
			ts                           int64
		)
		if err := rows.Scan(&rec.Seq, &k, &reviewer, &unit, &eventName, &ts, &rec.Reason); err != nil {
			return nil, fmt.Errorf("scan exception: %w", err)
		}
		rec.Kind = ir.ExceptionKind(k)
		rec.Reviewer = ir.Reviewer(reviewer)
		rec.Unit = ir.Unit(unit)
		rec.Event = ir.Event(eventName)
		rec.Timestamp = time.Unix(0, ts).UTC()
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exceptions: %w", err)
	}
	return records, nil
}
