// Package attendance keeps the append-only movement ledger and answers
// who is on the premises.
package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/learner"
	"github.com/sebvermaak/rollbook/internal/storage"
)

var (
	// ErrUnknownLearner indicates the scanned identifier has no active roster entry.
	ErrUnknownLearner = errors.New("learner is not on the roster")
	// ErrSequenceViolation indicates a scan repeats the learner's last direction.
	ErrSequenceViolation = errors.New("scan repeats the last recorded direction")
	// ErrEventOutOfOrder indicates an event timestamp precedes the learner's last event.
	ErrEventOutOfOrder = errors.New("event precedes the learner's last event")
	// ErrRangeInvalid indicates a history window with from at or after to.
	ErrRangeInvalid = errors.New("history range start must precede end")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("attendance store is not configured")
)

const (
	defaultPageSize = 50
	maxPageSize     = 500
)

// Event is one recorded gate movement.
type Event struct {
	ID            int64
	LearnerID     string
	Direction     Direction
	OccurredAt    time.Time
	RecordedAt    time.Time
	Source        string
	AutoCorrected bool
}

// EventPage is one page of ledger events in occurrence order.
type EventPage struct {
	Events        []Event
	NextPageToken string
}

// Status reports whether a learner is currently on the premises.
type Status struct {
	LearnerID string
	Present   bool
	LastEvent *Event
}

// Presence is one learner currently signed in.
type Presence struct {
	LearnerID  string
	GivenName  string
	FamilyName string
	Since      time.Time
}

// RecordInput describes one explicit-direction ledger append.
type RecordInput struct {
	LearnerID  string
	Direction  string
	OccurredAt time.Time
	Source     string
}

// ToggleInput describes one kiosk scan whose direction is inferred.
type ToggleInput struct {
	LearnerID  string
	OccurredAt time.Time
	Source     string
}

// ListInput configures ledger listing.
type ListInput struct {
	Filter    string
	PageSize  int
	PageToken string
}

// Store is the persistence boundary for the movement ledger.
type Store interface {
	GetLearner(ctx context.Context, id string) (storage.LearnerRecord, error)
	AppendEvent(ctx context.Context, record storage.EventRecord) (storage.EventRecord, error)
	LastEventFor(ctx context.Context, learnerID string) (storage.EventRecord, error)
	ListEvents(ctx context.Context, query storage.EventQuery) (storage.EventPage, error)
	ListEventsFor(ctx context.Context, learnerID string, from, to time.Time) ([]storage.EventRecord, error)
	ListPresent(ctx context.Context, from, to time.Time) ([]storage.PresenceRecord, error)
}

// Service orchestrates ledger appends and presence queries.
type Service struct {
	store  Store
	policy Policy
	clock  func() time.Time
}

// NewService constructs attendance ledger use-cases.
func NewService(store Store, policy Policy, clock func() time.Time) *Service {
	if policy == "" {
		policy = PolicyReject
	}
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:  store,
		policy: policy,
		clock:  clock,
	}
}

// Record appends one explicit-direction event.
//
// Repeating the learner's last direction is a sequence violation. Under
// PolicyReject the scan is refused; under PolicyAutoCorrect the direction
// is flipped and the stored event is flagged as corrected.
func (s *Service) Record(ctx context.Context, input RecordInput) (Event, error) {
	if s == nil || s.store == nil {
		return Event{}, ErrStoreNotConfigured
	}
	direction, err := ParseDirection(input.Direction)
	if err != nil {
		return Event{}, err
	}
	learnerID, err := s.activeLearnerID(ctx, input.LearnerID)
	if err != nil {
		return Event{}, err
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.nowUTC()
	}

	autoCorrected := false
	last, err := s.store.LastEventFor(ctx, learnerID)
	switch {
	case err == nil:
		if occurredAt.Before(last.OccurredAt) {
			return Event{}, fmt.Errorf("%w: %s at %s", ErrEventOutOfOrder, learnerID, occurredAt.UTC().Format(time.RFC3339))
		}
		if Direction(last.Direction) == direction {
			if s.policy == PolicyReject {
				return Event{}, fmt.Errorf("%w: %s is already %s", ErrSequenceViolation, learnerID, direction)
			}
			direction = direction.Opposite()
			autoCorrected = true
		}
	case errors.Is(err, storage.ErrNotFound):
		// First event for this learner.
	default:
		return Event{}, err
	}

	return s.append(ctx, learnerID, direction, occurredAt, input.Source, autoCorrected)
}

// Toggle appends one kiosk scan, inferring the direction from the ledger.
// A learner with no history or a last OUT signs IN; a last IN signs OUT.
func (s *Service) Toggle(ctx context.Context, input ToggleInput) (Event, error) {
	if s == nil || s.store == nil {
		return Event{}, ErrStoreNotConfigured
	}
	learnerID, err := s.activeLearnerID(ctx, input.LearnerID)
	if err != nil {
		return Event{}, err
	}
	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.nowUTC()
	}

	direction := DirectionIn
	last, err := s.store.LastEventFor(ctx, learnerID)
	switch {
	case err == nil:
		if occurredAt.Before(last.OccurredAt) {
			return Event{}, fmt.Errorf("%w: %s at %s", ErrEventOutOfOrder, learnerID, occurredAt.UTC().Format(time.RFC3339))
		}
		direction = Direction(last.Direction).Opposite()
	case errors.Is(err, storage.ErrNotFound):
		// First event for this learner.
	default:
		return Event{}, err
	}

	return s.append(ctx, learnerID, direction, occurredAt, input.Source, false)
}

// Status reports the learner's presence from their latest ledger event.
func (s *Service) Status(ctx context.Context, learnerID string) (Status, error) {
	if s == nil || s.store == nil {
		return Status{}, ErrStoreNotConfigured
	}
	canonical, err := s.activeLearnerID(ctx, learnerID)
	if err != nil {
		return Status{}, err
	}
	last, err := s.store.LastEventFor(ctx, canonical)
	if errors.Is(err, storage.ErrNotFound) {
		return Status{LearnerID: canonical}, nil
	}
	if err != nil {
		return Status{}, err
	}
	event := fromEventRecord(last)
	return Status{
		LearnerID: canonical,
		Present:   event.Direction == DirectionIn,
		LastEvent: &event,
	}, nil
}

// Present lists learners whose latest event on at's calendar day is an
// arrival. Day boundaries follow at's location.
func (s *Service) Present(ctx context.Context, at time.Time) ([]Presence, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if at.IsZero() {
		at = s.nowUTC()
	}
	dayStart := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location())
	records, err := s.store.ListPresent(ctx, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	var present []Presence
	for _, record := range records {
		present = append(present, Presence{
			LearnerID:  record.LearnerID,
			GivenName:  record.GivenName,
			FamilyName: record.FamilyName,
			Since:      record.OccurredAt,
		})
	}
	return present, nil
}

// History lists one learner's events in [from, to) in occurrence order.
// Archived learners keep their history.
func (s *Service) History(ctx context.Context, learnerID string, from, to time.Time) ([]Event, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	canonical := learner.NormalizeID(learnerID)
	if canonical == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrUnknownLearner)
	}
	if !from.Before(to) {
		return nil, ErrRangeInvalid
	}
	if _, err := s.store.GetLearner(ctx, canonical); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownLearner, canonical)
		}
		return nil, err
	}
	records, err := s.store.ListEventsFor(ctx, canonical, from, to)
	if err != nil {
		return nil, err
	}
	var events []Event
	for _, record := range records {
		events = append(events, fromEventRecord(record))
	}
	return events, nil
}

// List pages through the full ledger in occurrence order.
func (s *Service) List(ctx context.Context, input ListInput) (EventPage, error) {
	if s == nil || s.store == nil {
		return EventPage{}, ErrStoreNotConfigured
	}
	pageSize := input.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	recordPage, err := s.store.ListEvents(ctx, storage.EventQuery{
		Filter:    strings.TrimSpace(input.Filter),
		PageSize:  pageSize,
		PageToken: strings.TrimSpace(input.PageToken),
	})
	if err != nil {
		return EventPage{}, err
	}
	page := EventPage{NextPageToken: recordPage.NextPageToken}
	for _, record := range recordPage.Events {
		page.Events = append(page.Events, fromEventRecord(record))
	}
	return page, nil
}

func (s *Service) append(ctx context.Context, learnerID string, direction Direction, occurredAt time.Time, source string, autoCorrected bool) (Event, error) {
	stored, err := s.store.AppendEvent(ctx, storage.EventRecord{
		LearnerID:     learnerID,
		Direction:     string(direction),
		OccurredAt:    occurredAt.UTC(),
		RecordedAt:    s.nowUTC(),
		Source:        strings.TrimSpace(source),
		AutoCorrected: autoCorrected,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Event{}, fmt.Errorf("%w: %s", ErrUnknownLearner, learnerID)
		}
		return Event{}, err
	}
	return fromEventRecord(stored), nil
}

// activeLearnerID normalizes the identifier and confirms an unarchived
// roster entry exists for it.
func (s *Service) activeLearnerID(ctx context.Context, raw string) (string, error) {
	canonical := learner.NormalizeID(raw)
	if canonical == "" {
		return "", fmt.Errorf("%w: empty identifier", ErrUnknownLearner)
	}
	record, err := s.store.GetLearner(ctx, canonical)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrUnknownLearner, canonical)
		}
		return "", err
	}
	if record.Archived() {
		return "", fmt.Errorf("%w: %s", ErrUnknownLearner, canonical)
	}
	return canonical, nil
}

func (s *Service) nowUTC() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func fromEventRecord(record storage.EventRecord) Event {
	return Event{
		ID:            record.ID,
		LearnerID:     record.LearnerID,
		Direction:     Direction(record.Direction),
		OccurredAt:    record.OccurredAt,
		RecordedAt:    record.RecordedAt,
		Source:        record.Source,
		AutoCorrected: record.AutoCorrected,
	}
}
