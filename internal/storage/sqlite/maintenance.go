package sqlite

import (
	"context"
	"fmt"
	"time"
)

// IntegrityIssue flags one inconsistency found by CheckIntegrity.
type IntegrityIssue struct {
	Kind   string
	Detail string
}

// CheckIntegrity sweeps the database for file corruption, broken references,
// and ledger rows that violate the append rules: an event recorded earlier
// than its predecessor, or two consecutive events in the same direction.
// Such rows can only come from edits outside the application.
func (s *Store) CheckIntegrity(ctx context.Context) ([]IntegrityIssue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	issues := make([]IntegrityIssue, 0)
	for _, check := range []func(context.Context, *[]IntegrityIssue) error{
		s.checkCorruption,
		s.checkReferences,
		s.checkEventOrdering,
		s.checkEventSequence,
	} {
		if err := check(ctx, &issues); err != nil {
			return nil, err
		}
	}
	return issues, nil
}

func (s *Store) checkCorruption(ctx context.Context, issues *[]IntegrityIssue) error {
	rows, err := s.sqlDB.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var result string
		if err := rows.Scan(&result); err != nil {
			return fmt.Errorf("integrity check: %w", err)
		}
		if result != "ok" {
			*issues = append(*issues, IntegrityIssue{Kind: "corruption", Detail: result})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}
	return nil
}

func (s *Store) checkReferences(ctx context.Context, issues *[]IntegrityIssue) error {
	rows, err := s.sqlDB.QueryContext(ctx, "PRAGMA foreign_key_check")
	if err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var table, parent string
		var rowID, fkID any
		if err := rows.Scan(&table, &rowID, &parent, &fkID); err != nil {
			return fmt.Errorf("foreign key check: %w", err)
		}
		*issues = append(*issues, IntegrityIssue{
			Kind:   "reference",
			Detail: fmt.Sprintf("%s row %v references a missing %s row", table, rowID, parent),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("foreign key check: %w", err)
	}
	return nil
}

// checkEventOrdering flags events that occurred before their predecessor in
// append order. The append path refuses these, so a hit means the table was
// edited directly.
func (s *Store) checkEventOrdering(ctx context.Context, issues *[]IntegrityIssue) error {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT learner_id, id FROM (
		       SELECT learner_id, id, occurred_at,
		              LAG(occurred_at) OVER (PARTITION BY learner_id ORDER BY id) AS prev_occurred
		         FROM attendance_events)
		 WHERE prev_occurred IS NOT NULL AND occurred_at < prev_occurred
		 ORDER BY learner_id, id`)
	if err != nil {
		return fmt.Errorf("ordering check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var learnerID string
		var eventID int64
		if err := rows.Scan(&learnerID, &eventID); err != nil {
			return fmt.Errorf("ordering check: %w", err)
		}
		*issues = append(*issues, IntegrityIssue{
			Kind:   "ordering",
			Detail: fmt.Sprintf("event %d for learner %s occurred before its predecessor", eventID, learnerID),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("ordering check: %w", err)
	}
	return nil
}

// checkEventSequence flags same-direction runs. Record flips or refuses a
// repeated direction and Toggle alternates, so runs cannot come from the
// application either.
func (s *Store) checkEventSequence(ctx context.Context, issues *[]IntegrityIssue) error {
	rows, err := s.sqlDB.QueryContext(ctx, `
		SELECT learner_id, id, direction FROM (
		       SELECT learner_id, id, direction,
		              LAG(direction) OVER (PARTITION BY learner_id ORDER BY occurred_at, id) AS prev_direction
		         FROM attendance_events)
		 WHERE prev_direction IS NOT NULL AND direction = prev_direction
		 ORDER BY learner_id, id`)
	if err != nil {
		return fmt.Errorf("sequence check: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var learnerID, direction string
		var eventID int64
		if err := rows.Scan(&learnerID, &eventID, &direction); err != nil {
			return fmt.Errorf("sequence check: %w", err)
		}
		*issues = append(*issues, IntegrityIssue{
			Kind:   "sequence",
			Detail: fmt.Sprintf("event %d repeats direction %s for learner %s", eventID, direction, learnerID),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("sequence check: %w", err)
	}
	return nil
}

// Vacuum rebuilds the database file, returning unused pages to the
// filesystem.
func (s *Store) Vacuum(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if _, err := s.sqlDB.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// CountEventsBefore reports how many attendance events occurred before the
// cutoff.
func (s *Store) CountEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	var count int64
	err := s.sqlDB.QueryRowContext(
		ctx,
		"SELECT COUNT(*) FROM attendance_events WHERE occurred_at < ?",
		toMillis(cutoff),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count events before cutoff: %w", err)
	}
	return count, nil
}

// PruneEventsBefore deletes attendance events that occurred before the
// cutoff and reports how many rows went away. The append path never deletes;
// this exists for operator-driven retention only.
func (s *Store) PruneEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if s == nil || s.sqlDB == nil {
		return 0, fmt.Errorf("storage is not configured")
	}
	result, err := s.sqlDB.ExecContext(
		ctx,
		"DELETE FROM attendance_events WHERE occurred_at < ?",
		toMillis(cutoff),
	)
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune events: %w", err)
	}
	return pruned, nil
}
