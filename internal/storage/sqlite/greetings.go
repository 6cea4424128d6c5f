package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
)

// RecordGreeting inserts one birthday greeting row. A second greeting for
// the same learner and day fails with ErrAlreadyExists.
func (s *Store) RecordGreeting(ctx context.Context, greeting storage.GreetingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	greeting.LearnerID = strings.TrimSpace(greeting.LearnerID)
	greeting.SentOn = strings.TrimSpace(greeting.SentOn)
	greeting.Channel = strings.TrimSpace(greeting.Channel)
	if greeting.LearnerID == "" {
		return fmt.Errorf("learner id is required")
	}
	if greeting.SentOn == "" {
		return fmt.Errorf("sent on day is required")
	}
	if greeting.SentAt.IsZero() {
		greeting.SentAt = time.Now().UTC()
	}

	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO greeting_log (learner_id, sent_on, sent_at, channel)
		 VALUES (?, ?, ?, ?)`,
		greeting.LearnerID,
		greeting.SentOn,
		toMillis(greeting.SentAt),
		greeting.Channel,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return storage.ErrAlreadyExists
		}
		if isForeignKeyViolation(err) {
			return storage.ErrNotFound
		}
		return fmt.Errorf("record greeting: %w", err)
	}
	return nil
}

// GreetingsOn returns the greetings dispatched on one day.
func (s *Store) GreetingsOn(ctx context.Context, sentOn string) ([]storage.GreetingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	sentOn = strings.TrimSpace(sentOn)
	if sentOn == "" {
		return nil, fmt.Errorf("sent on day is required")
	}

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT learner_id, sent_on, sent_at, channel
		   FROM greeting_log
		  WHERE sent_on = ?
		  ORDER BY learner_id ASC`,
		sentOn,
	)
	if err != nil {
		return nil, fmt.Errorf("list greetings: %w", err)
	}
	defer rows.Close()

	var greetings []storage.GreetingRecord
	for rows.Next() {
		var greeting storage.GreetingRecord
		var sentAt int64
		if err := rows.Scan(&greeting.LearnerID, &greeting.SentOn, &sentAt, &greeting.Channel); err != nil {
			return nil, fmt.Errorf("list greetings: %w", err)
		}
		greeting.SentAt = fromMillis(sentAt)
		greetings = append(greetings, greeting)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list greetings: %w", err)
	}
	return greetings, nil
}
