package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
	"github.com/sebvermaak/rollbook/internal/storage/cursor"
	"github.com/sebvermaak/rollbook/internal/storage/filter"
)

// AppendEvent inserts one immutable attendance event and returns it with its
// assigned sequence id.
func (s *Store) AppendEvent(ctx context.Context, event storage.EventRecord) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord{}, fmt.Errorf("storage is not configured")
	}
	event.LearnerID = strings.TrimSpace(event.LearnerID)
	event.Direction = strings.TrimSpace(event.Direction)
	event.Source = strings.TrimSpace(event.Source)
	if event.LearnerID == "" {
		return storage.EventRecord{}, fmt.Errorf("learner id is required")
	}
	if event.Direction != "IN" && event.Direction != "OUT" {
		return storage.EventRecord{}, fmt.Errorf("direction must be IN or OUT")
	}
	if event.OccurredAt.IsZero() {
		return storage.EventRecord{}, fmt.Errorf("occurred at is required")
	}
	if event.RecordedAt.IsZero() {
		event.RecordedAt = time.Now().UTC()
	}
	event.OccurredAt = event.OccurredAt.UTC()
	event.RecordedAt = event.RecordedAt.UTC()

	autoCorrected := 0
	if event.AutoCorrected {
		autoCorrected = 1
	}

	result, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO attendance_events (
		   learner_id, direction, occurred_at, recorded_at, source, auto_corrected
		 ) VALUES (?, ?, ?, ?, ?, ?)`,
		event.LearnerID,
		event.Direction,
		toMillis(event.OccurredAt),
		toMillis(event.RecordedAt),
		event.Source,
		autoCorrected,
	)
	if err != nil {
		if isForeignKeyViolation(err) {
			return storage.EventRecord{}, storage.ErrNotFound
		}
		return storage.EventRecord{}, fmt.Errorf("append event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return storage.EventRecord{}, fmt.Errorf("append event: %w", err)
	}
	event.ID = id
	return event, nil
}

// LastEventFor returns the most recent event for one learner.
func (s *Store) LastEventFor(ctx context.Context, learnerID string) (storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventRecord{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventRecord{}, fmt.Errorf("storage is not configured")
	}
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return storage.EventRecord{}, fmt.Errorf("learner id is required")
	}

	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT id, learner_id, direction, occurred_at, recorded_at, source, auto_corrected
		   FROM attendance_events
		  WHERE learner_id = ?
		  ORDER BY occurred_at DESC, id DESC
		  LIMIT 1`,
		learnerID,
	)
	return scanEvent(row.Scan)
}

// ListEvents returns one time-ordered page of attendance events.
func (s *Store) ListEvents(ctx context.Context, query storage.EventQuery) (storage.EventPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.EventPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.EventPage{}, fmt.Errorf("storage is not configured")
	}
	if query.PageSize <= 0 {
		return storage.EventPage{}, fmt.Errorf("page size must be greater than zero")
	}

	cond, err := filter.ParseEventFilter(query.Filter)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("event filter: %w", err)
	}

	clauses := make([]string, 0, 2)
	params := make([]any, 0, len(cond.Params)+3)
	if cond.Clause != "" {
		clauses = append(clauses, cond.Clause)
		params = append(params, cond.Params...)
	}
	if token := strings.TrimSpace(query.PageToken); token != "" {
		resume, err := cursor.DecodeEvent(token, query.Filter)
		if err != nil {
			return storage.EventPage{}, fmt.Errorf("event page token: %w", err)
		}
		clauses = append(clauses, "(occurred_at > ? OR (occurred_at = ? AND id > ?))")
		params = append(params, resume.LastMillis, resume.LastMillis, resume.LastID)
	}

	querySQL := `SELECT id, learner_id, direction, occurred_at, recorded_at, source, auto_corrected
	   FROM attendance_events`
	if len(clauses) > 0 {
		querySQL += " WHERE " + strings.Join(clauses, " AND ")
	}
	querySQL += " ORDER BY occurred_at ASC, id ASC LIMIT ?"
	params = append(params, query.PageSize+1)

	rows, err := s.sqlDB.QueryContext(ctx, querySQL, params...)
	if err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	page := storage.EventPage{
		Events: make([]storage.EventRecord, 0, query.PageSize),
	}
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return storage.EventPage{}, fmt.Errorf("list events: %w", err)
		}
		page.Events = append(page.Events, event)
	}
	if err := rows.Err(); err != nil {
		return storage.EventPage{}, fmt.Errorf("list events: %w", err)
	}
	if len(page.Events) > query.PageSize {
		last := page.Events[query.PageSize-1]
		token, err := cursor.EncodeEvent(cursor.Event{
			LastMillis: toMillis(last.OccurredAt),
			LastID:     last.ID,
			FilterHash: cursor.HashFilter(query.Filter),
		})
		if err != nil {
			return storage.EventPage{}, fmt.Errorf("encode event page token: %w", err)
		}
		page.NextPageToken = token
		page.Events = page.Events[:query.PageSize]
	}

	return page, nil
}

// ListEventsFor returns all events for one learner inside [from, to) in
// ledger order.
func (s *Store) ListEventsFor(ctx context.Context, learnerID string, from, to time.Time) ([]storage.EventRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return nil, fmt.Errorf("learner id is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT id, learner_id, direction, occurred_at, recorded_at, source, auto_corrected
		   FROM attendance_events
		  WHERE learner_id = ? AND occurred_at >= ? AND occurred_at < ?
		  ORDER BY occurred_at ASC, id ASC`,
		learnerID,
		toMillis(from),
		toMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list learner events: %w", err)
	}
	defer rows.Close()

	var events []storage.EventRecord
	for rows.Next() {
		event, err := scanEvent(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("list learner events: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list learner events: %w", err)
	}
	return events, nil
}

// ListPresent returns active learners whose latest event inside [from, to)
// is IN, ordered by scan-in time.
func (s *Store) ListPresent(ctx context.Context, from, to time.Time) ([]storage.PresenceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT e.learner_id, l.given_name, l.family_name, e.occurred_at
		   FROM attendance_events e
		   JOIN learners l ON l.id = e.learner_id
		  WHERE e.id = (
		          SELECT e2.id
		            FROM attendance_events e2
		           WHERE e2.learner_id = e.learner_id
		             AND e2.occurred_at >= ? AND e2.occurred_at < ?
		           ORDER BY e2.occurred_at DESC, e2.id DESC
		           LIMIT 1
		        )
		    AND e.direction = 'IN'
		    AND l.archived_at IS NULL
		  ORDER BY e.occurred_at ASC, e.learner_id ASC`,
		toMillis(from),
		toMillis(to),
	)
	if err != nil {
		return nil, fmt.Errorf("list present: %w", err)
	}
	defer rows.Close()

	var present []storage.PresenceRecord
	for rows.Next() {
		var record storage.PresenceRecord
		var occurredAt int64
		if err := rows.Scan(&record.LearnerID, &record.GivenName, &record.FamilyName, &occurredAt); err != nil {
			return nil, fmt.Errorf("list present: %w", err)
		}
		record.OccurredAt = fromMillis(occurredAt)
		present = append(present, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list present: %w", err)
	}
	return present, nil
}

func scanEvent(scan scanner) (storage.EventRecord, error) {
	var event storage.EventRecord
	var occurredAt int64
	var recordedAt int64
	var autoCorrected int
	err := scan(
		&event.ID,
		&event.LearnerID,
		&event.Direction,
		&occurredAt,
		&recordedAt,
		&event.Source,
		&autoCorrected,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.EventRecord{}, storage.ErrNotFound
		}
		return storage.EventRecord{}, err
	}
	event.OccurredAt = fromMillis(occurredAt)
	event.RecordedAt = fromMillis(recordedAt)
	event.AutoCorrected = autoCorrected != 0
	return event, nil
}
