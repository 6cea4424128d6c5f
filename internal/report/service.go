// Package report aggregates ledger events into per-learner summaries.
package report

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
)

var (
	// ErrRangeInvalid indicates a report window with from at or after to.
	ErrRangeInvalid = errors.New("report range start must precede end")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("report store is not configured")
)

const rosterPageSize = 200

const dayLayout = "2006-01-02"

// Query selects the window and roster slice a report covers.
type Query struct {
	From            time.Time
	To              time.Time
	Filter          string
	IncludeArchived bool
}

// Summary aggregates one learner's events inside a report window.
//
// A trailing arrival without a matching departure is clipped at the window
// end and flagged via OpenInterval rather than dropped.
type Summary struct {
	LearnerID    string
	GivenName    string
	FamilyName   string
	InCount      int
	Sessions     int
	TotalPresent time.Duration
	Anomalies    int
	OpenInterval bool
}

// Report is the collected form of a summary stream.
type Report struct {
	From      time.Time
	To        time.Time
	Summaries []Summary
}

// Matrix is a learner-by-day presence sheet.
type Matrix struct {
	Days []string
	Rows []MatrixRow
}

// MatrixRow marks the days one learner attended.
type MatrixRow struct {
	LearnerID  string
	GivenName  string
	FamilyName string
	Attended   []bool
}

// Store is the persistence boundary for report aggregation.
type Store interface {
	ListLearners(ctx context.Context, query storage.LearnerQuery) (storage.LearnerPage, error)
	ListEventsFor(ctx context.Context, learnerID string, from, to time.Time) ([]storage.EventRecord, error)
}

// Service computes attendance summaries on demand.
type Service struct {
	store Store
}

// NewService constructs report use-cases.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Stream delivers one summary per learner with events in the window,
// ordered by identifier. Returning an error from fn stops the stream.
func (s *Service) Stream(ctx context.Context, query Query, fn func(Summary) error) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	if !query.From.Before(query.To) {
		return ErrRangeInvalid
	}
	return s.eachLearner(ctx, query, func(record storage.LearnerRecord) error {
		events, err := s.store.ListEventsFor(ctx, record.ID, query.From, query.To)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return nil
		}
		summary := summarize(events, query.To)
		summary.LearnerID = record.ID
		summary.GivenName = record.GivenName
		summary.FamilyName = record.FamilyName
		return fn(summary)
	})
}

// Generate collects the summary stream for the window.
func (s *Service) Generate(ctx context.Context, query Query) (Report, error) {
	report := Report{From: query.From, To: query.To}
	err := s.Stream(ctx, query, func(summary Summary) error {
		report.Summaries = append(report.Summaries, summary)
		return nil
	})
	if err != nil {
		return Report{}, err
	}
	return report, nil
}

// DayMatrix renders a learner-by-day sheet for the window. Every roster
// member matched by the query gets a row, attended or not.
func (s *Service) DayMatrix(ctx context.Context, query Query) (Matrix, error) {
	if s == nil || s.store == nil {
		return Matrix{}, ErrStoreNotConfigured
	}
	if !query.From.Before(query.To) {
		return Matrix{}, ErrRangeInvalid
	}

	matrix := Matrix{}
	dayIndex := make(map[string]int)
	for day := startOfDay(query.From); day.Before(query.To); day = day.AddDate(0, 0, 1) {
		dayIndex[day.Format(dayLayout)] = len(matrix.Days)
		matrix.Days = append(matrix.Days, day.Format(dayLayout))
	}

	err := s.eachLearner(ctx, query, func(record storage.LearnerRecord) error {
		events, err := s.store.ListEventsFor(ctx, record.ID, query.From, query.To)
		if err != nil {
			return err
		}
		row := MatrixRow{
			LearnerID:  record.ID,
			GivenName:  record.GivenName,
			FamilyName: record.FamilyName,
			Attended:   make([]bool, len(matrix.Days)),
		}
		for _, event := range events {
			key := event.OccurredAt.In(query.From.Location()).Format(dayLayout)
			if index, ok := dayIndex[key]; ok {
				row.Attended[index] = true
			}
		}
		matrix.Rows = append(matrix.Rows, row)
		return nil
	})
	if err != nil {
		return Matrix{}, err
	}
	return matrix, nil
}

// eachLearner pages the roster in identifier order and applies fn per learner.
func (s *Service) eachLearner(ctx context.Context, query Query, fn func(storage.LearnerRecord) error) error {
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		page, err := s.store.ListLearners(ctx, storage.LearnerQuery{
			Filter:          strings.TrimSpace(query.Filter),
			PageSize:        rosterPageSize,
			PageToken:       pageToken,
			IncludeArchived: query.IncludeArchived,
		})
		if err != nil {
			return err
		}
		for _, record := range page.Learners {
			if err := fn(record); err != nil {
				return err
			}
		}
		if page.NextPageToken == "" {
			return nil
		}
		pageToken = page.NextPageToken
	}
}

// summarize pairs a learner's window events into sessions.
//
// Events arrive in occurrence order. A departure closes the open arrival;
// a repeated direction counts as an anomaly and the pairing resynchronizes
// on the newest event. A still-open arrival at the window end is clipped
// to the window.
func summarize(events []storage.EventRecord, rangeEnd time.Time) Summary {
	summary := Summary{}
	var openIn *time.Time
	for _, event := range events {
		switch event.Direction {
		case "IN":
			summary.InCount++
			if openIn != nil {
				summary.Anomalies++
			}
			at := event.OccurredAt
			openIn = &at
		case "OUT":
			if openIn == nil {
				summary.Anomalies++
				continue
			}
			summary.Sessions++
			summary.TotalPresent += event.OccurredAt.Sub(*openIn)
			openIn = nil
		}
	}
	if openIn != nil {
		summary.TotalPresent += rangeEnd.Sub(*openIn)
		summary.OpenInterval = true
	}
	return summary
}

func startOfDay(at time.Time) time.Time {
	return time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
}
