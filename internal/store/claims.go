package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/roach88/allot/internal/ir"
	"github.com/roach88/allot/internal/repo"
)

const claimColumns = `id, reviewer, event, unit, start_time`

func (t *txn) ClaimFor(ctx context.Context, reviewer ir.Reviewer, event ir.Event) (ir.Claim, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE reviewer = ? AND event = ?
	`, string(reviewer), string(event))
	return scanClaimRow(row)
}

func (t *txn) ClaimByID(ctx context.Context, id string) (ir.Claim, error) {
	row := t.tx.QueryRowContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE id = ?
	`, id)
	return scanClaimRow(row)
}

func (t *txn) ClaimedUnits(ctx context.Context, event ir.Event) (map[ir.Unit]struct{}, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT unit FROM claims WHERE event = ?
	`, string(event))
	if err != nil {
		return nil, fmt.Errorf("claimed units: %w", err)
	}
	defer rows.Close()

	units := make(map[ir.Unit]struct{})
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan claimed unit: %w", err)
		}
		units[ir.Unit(u)] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed units: %w", err)
	}
	return units, nil
}

func (t *txn) ListClaims(ctx context.Context, event ir.Event) ([]ir.Claim, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE event = ?
		ORDER BY unit COLLATE BINARY ASC
	`, string(event))
	if err != nil {
		return nil, fmt.Errorf("list claims: %w", err)
	}
	return collectClaims(rows)
}

func (t *txn) ExpiredClaims(ctx context.Context, cutoff time.Time) ([]ir.Claim, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+claimColumns+` FROM claims
		WHERE start_time < ?
		ORDER BY start_time ASC, id COLLATE BINARY ASC
	`, cutoff.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("expired claims: %w", err)
	}
	return collectClaims(rows)
}

// InsertClaim relies on the two unique indexes on claims; either violation
// is reported as repo.ErrClaimConflict.
func (t *txn) InsertClaim(ctx context.Context, c ir.Claim) error {
	if err := t.checkWritable(); err != nil {
		return err
	}
	if err := ir.CheckTime(c.StartTime); err != nil {
		return fmt.Errorf("insert claim: %w", err)
	}

	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO claims (`+claimColumns+`)
		VALUES (?, ?, ?, ?, ?)
	`, c.ID, string(c.Reviewer), string(c.Event), string(c.Unit), c.StartTime.UnixNano())
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("insert claim: %w", repo.ErrClaimConflict)
		}
		if isForeignKeyViolation(err) {
			return fmt.Errorf("insert claim: unit not registered: %w", repo.ErrNotFound)
		}
		return fmt.Errorf("insert claim: %w", err)
	}
	return nil
}

func (t *txn) DeleteClaim(ctx context.Context, id string) error {
	if err := t.checkWritable(); err != nil {
		return err
	}

	if _, err := t.tx.ExecContext(ctx, `DELETE FROM claims WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClaim(row rowScanner) (ir.Claim, error) {
	var (
		c                     ir.Claim
		reviewer, event, unit string
		startNanos            int64
	)
	if err := row.Scan(&c.ID, &reviewer, &event, &unit, &startNanos); err != nil {
		return ir.Claim{}, err
	}
	c.Reviewer = ir.Reviewer(reviewer)
	c.Event = ir.Event(event)
	c.Unit = ir.Unit(unit)
	c.StartTime = time.Unix(0, startNanos).UTC()
	return c, nil
}

func scanClaimRow(row *sql.Row) (ir.Claim, error) {
	c, err := scanClaim(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ir.Claim{}, repo.ErrNotFound
	}
	if err != nil {
		return ir.Claim{}, fmt.Errorf("scan claim: %w", err)
	}
	return c, nil
}

func collectClaims(rows *sql.Rows) ([]ir.Claim, error) {
	defer rows.Close()

	claims := []ir.Claim{}
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claim: %w", err)
		}
		claims = append(claims, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claims: %w", err)
	}
	return claims, nil
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintUnique ||
			se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}

func isForeignKeyViolation(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.ExtendedCode == sqlite3.ErrConstraintForeignKey
	}
	return false
}
