// Package storage defines persistence contracts for rollbook state.
package storage

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound indicates a requested record is missing.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists indicates a uniqueness-constrained record already exists.
	ErrAlreadyExists = errors.New("record already exists")
)

// LearnerRecord stores one learner roster entry. ID is the normalized
// barcode identifier. ArchivedAt is zero while the learner is active.
type LearnerRecord struct {
	ID         string
	GivenName  string
	FamilyName string
	Grade      string
	Area       string
	Contact    string
	BirthDate  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	ArchivedAt time.Time
}

// Archived reports whether the learner has been archived.
func (r LearnerRecord) Archived() bool {
	return !r.ArchivedAt.IsZero()
}

// EventRecord stores one immutable attendance scan event. Direction is
// "IN" or "OUT". OccurredAt is the scan time; RecordedAt the append time.
type EventRecord struct {
	ID            int64
	LearnerID     string
	Direction     string
	OccurredAt    time.Time
	RecordedAt    time.Time
	Source        string
	AutoCorrected bool
}

// GreetingRecord stores one dispatched birthday greeting. SentOn is the
// dedupe day in YYYY-MM-DD form.
type GreetingRecord struct {
	LearnerID string
	SentOn    string
	SentAt    time.Time
	Channel   string
}

// PresenceRecord stores one currently-present learner with the scan that
// put them inside.
type PresenceRecord struct {
	LearnerID  string
	GivenName  string
	FamilyName string
	OccurredAt time.Time
}

// LearnerQuery selects a page of learners. Filter is an AIP-160 expression
// over id, given_name, family_name, grade and area; empty matches all.
type LearnerQuery struct {
	Filter          string
	PageSize        int
	PageToken       string
	IncludeArchived bool
}

// LearnerPage stores one identifier-ordered page of learner records.
type LearnerPage struct {
	Learners      []LearnerRecord
	NextPageToken string
}

// EventQuery selects a page of attendance events. Filter is an AIP-160
// expression over learner_id, direction and occurred_at; empty matches all.
type EventQuery struct {
	Filter    string
	PageSize  int
	PageToken string
}

// EventPage stores one time-ordered page of event records.
type EventPage struct {
	Events        []EventRecord
	NextPageToken string
}

// LearnerStore persists learner roster records.
type LearnerStore interface {
	CreateLearner(ctx context.Context, learner LearnerRecord) error
	GetLearner(ctx context.Context, id string) (LearnerRecord, error)
	UpdateLearner(ctx context.Context, learner LearnerRecord) error
	UpsertLearner(ctx context.Context, learner LearnerRecord) error
	ArchiveLearner(ctx context.Context, id string, archivedAt time.Time) error
	ListLearners(ctx context.Context, query LearnerQuery) (LearnerPage, error)
	CountLearners(ctx context.Context) (int, error)
}

// EventStore persists the append-only attendance ledger.
type EventStore interface {
	AppendEvent(ctx context.Context, event EventRecord) (EventRecord, error)
	LastEventFor(ctx context.Context, learnerID string) (EventRecord, error)
	ListEvents(ctx context.Context, query EventQuery) (EventPage, error)
	ListEventsFor(ctx context.Context, learnerID string, from, to time.Time) ([]EventRecord, error)
	ListPresent(ctx context.Context, from, to time.Time) ([]PresenceRecord, error)
}

// GreetingStore persists the birthday greeting dedupe ledger.
type GreetingStore interface {
	RecordGreeting(ctx context.Context, greeting GreetingRecord) error
	GreetingsOn(ctx context.Context, sentOn string) ([]GreetingRecord, error)
}
