// Package learner manages roster membership and learner identity.
package learner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
)

var (
	// ErrDuplicateIdentifier indicates the identifier already belongs to an active learner.
	ErrDuplicateIdentifier = errors.New("learner identifier already in use")
	// ErrLearnerNotFound indicates no active learner matches the identifier.
	ErrLearnerNotFound = errors.New("learner not found")
	// ErrIdentifierRequired indicates the learner identifier resolved to empty.
	ErrIdentifierRequired = errors.New("learner identifier is required")
	// ErrNameRequired indicates given or family name is missing.
	ErrNameRequired = errors.New("learner given and family name are required")
	// ErrBirthDateInvalid indicates the birth date is not a calendar date.
	ErrBirthDateInvalid = errors.New("learner birth date must be YYYY-MM-DD")
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("learner store is not configured")
)

const (
	defaultPageSize = 50
	maxPageSize     = 200

	birthDateLayout = "2006-01-02"
)

// Learner is one roster member keyed by scan identifier.
type Learner struct {
	ID         string
	GivenName  string
	FamilyName string
	Grade      string
	Area       string
	Contact    string
	BirthDate  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	Archived   bool
}

// Page is one page of roster members.
type Page struct {
	Learners      []Learner
	NextPageToken string
}

// Input carries learner profile fields for create, update, and upsert.
type Input struct {
	ID         string
	GivenName  string
	FamilyName string
	Grade      string
	Area       string
	Contact    string
	BirthDate  string
}

// ListInput configures roster listing.
type ListInput struct {
	Filter          string
	PageSize        int
	PageToken       string
	IncludeArchived bool
}

// Store is the persistence boundary for roster membership.
type Store interface {
	CreateLearner(ctx context.Context, record storage.LearnerRecord) error
	GetLearner(ctx context.Context, id string) (storage.LearnerRecord, error)
	UpdateLearner(ctx context.Context, record storage.LearnerRecord) error
	UpsertLearner(ctx context.Context, record storage.LearnerRecord) error
	ArchiveLearner(ctx context.Context, id string, archivedAt time.Time) error
	ListLearners(ctx context.Context, query storage.LearnerQuery) (storage.LearnerPage, error)
	CountLearners(ctx context.Context) (int, error)
}

// Service orchestrates roster membership lifecycle behavior.
type Service struct {
	store Store
	clock func() time.Time
}

// NewService constructs learner roster use-cases.
func NewService(store Store, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store: store,
		clock: clock,
	}
}

// NormalizeID canonicalizes a scanned identifier. Leading zeros are not
// significant on the wedge scanners used at the gate, so "0042" and "42"
// name the same learner. An all-zero scan collapses to "0".
func NormalizeID(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	canonical := strings.TrimLeft(trimmed, "0")
	if canonical == "" {
		return "0"
	}
	return canonical
}

// Create registers a new learner under a normalized identifier.
func (s *Service) Create(ctx context.Context, input Input) (Learner, error) {
	if s == nil || s.store == nil {
		return Learner{}, ErrStoreNotConfigured
	}
	record, err := s.recordFromInput(input)
	if err != nil {
		return Learner{}, err
	}
	if err := s.store.CreateLearner(ctx, record); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return Learner{}, fmt.Errorf("%w: %s", ErrDuplicateIdentifier, record.ID)
		}
		return Learner{}, err
	}
	return fromRecord(record), nil
}

// Get returns one active learner by identifier.
func (s *Service) Get(ctx context.Context, id string) (Learner, error) {
	if s == nil || s.store == nil {
		return Learner{}, ErrStoreNotConfigured
	}
	canonical := NormalizeID(id)
	if canonical == "" {
		return Learner{}, ErrIdentifierRequired
	}
	record, err := s.store.GetLearner(ctx, canonical)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Learner{}, fmt.Errorf("%w: %s", ErrLearnerNotFound, canonical)
		}
		return Learner{}, err
	}
	if record.Archived() {
		return Learner{}, fmt.Errorf("%w: %s", ErrLearnerNotFound, canonical)
	}
	return fromRecord(record), nil
}

// Update rewrites an active learner's profile fields.
func (s *Service) Update(ctx context.Context, input Input) (Learner, error) {
	if s == nil || s.store == nil {
		return Learner{}, ErrStoreNotConfigured
	}
	record, err := s.recordFromInput(input)
	if err != nil {
		return Learner{}, err
	}
	existing, err := s.store.GetLearner(ctx, record.ID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Learner{}, fmt.Errorf("%w: %s", ErrLearnerNotFound, record.ID)
		}
		return Learner{}, err
	}
	if existing.Archived() {
		return Learner{}, fmt.Errorf("%w: %s", ErrLearnerNotFound, record.ID)
	}
	record.CreatedAt = existing.CreatedAt
	if err := s.store.UpdateLearner(ctx, record); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return Learner{}, fmt.Errorf("%w: %s", ErrLearnerNotFound, record.ID)
		}
		return Learner{}, err
	}
	return fromRecord(record), nil
}

// Upsert creates or rewrites a learner, reinstating an archived one.
func (s *Service) Upsert(ctx context.Context, input Input) (Learner, error) {
	if s == nil || s.store == nil {
		return Learner{}, ErrStoreNotConfigured
	}
	record, err := s.recordFromInput(input)
	if err != nil {
		return Learner{}, err
	}
	if err := s.store.UpsertLearner(ctx, record); err != nil {
		return Learner{}, err
	}
	return fromRecord(record), nil
}

// Archive retires a learner from the roster. Attendance history is kept.
func (s *Service) Archive(ctx context.Context, id string) error {
	if s == nil || s.store == nil {
		return ErrStoreNotConfigured
	}
	canonical := NormalizeID(id)
	if canonical == "" {
		return ErrIdentifierRequired
	}
	if err := s.store.ArchiveLearner(ctx, canonical, s.nowUTC()); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrLearnerNotFound, canonical)
		}
		return err
	}
	return nil
}

// List pages through roster members ordered by identifier.
func (s *Service) List(ctx context.Context, input ListInput) (Page, error) {
	if s == nil || s.store == nil {
		return Page{}, ErrStoreNotConfigured
	}
	pageSize := input.PageSize
	switch {
	case pageSize <= 0:
		pageSize = defaultPageSize
	case pageSize > maxPageSize:
		pageSize = maxPageSize
	}
	recordPage, err := s.store.ListLearners(ctx, storage.LearnerQuery{
		Filter:          strings.TrimSpace(input.Filter),
		PageSize:        pageSize,
		PageToken:       strings.TrimSpace(input.PageToken),
		IncludeArchived: input.IncludeArchived,
	})
	if err != nil {
		return Page{}, err
	}
	page := Page{NextPageToken: recordPage.NextPageToken}
	for _, record := range recordPage.Learners {
		page.Learners = append(page.Learners, fromRecord(record))
	}
	return page, nil
}

// Count reports how many learners the roster has ever held.
func (s *Service) Count(ctx context.Context) (int, error) {
	if s == nil || s.store == nil {
		return 0, ErrStoreNotConfigured
	}
	return s.store.CountLearners(ctx)
}

func (s *Service) recordFromInput(input Input) (storage.LearnerRecord, error) {
	canonical := NormalizeID(input.ID)
	if canonical == "" {
		return storage.LearnerRecord{}, ErrIdentifierRequired
	}
	givenName := strings.TrimSpace(input.GivenName)
	familyName := strings.TrimSpace(input.FamilyName)
	if givenName == "" || familyName == "" {
		return storage.LearnerRecord{}, ErrNameRequired
	}
	birthDate := strings.TrimSpace(input.BirthDate)
	if birthDate != "" {
		if _, err := time.Parse(birthDateLayout, birthDate); err != nil {
			return storage.LearnerRecord{}, fmt.Errorf("%w: %q", ErrBirthDateInvalid, birthDate)
		}
	}
	now := s.nowUTC()
	return storage.LearnerRecord{
		ID:         canonical,
		GivenName:  givenName,
		FamilyName: familyName,
		Grade:      strings.TrimSpace(input.Grade),
		Area:       strings.TrimSpace(input.Area),
		Contact:    strings.TrimSpace(input.Contact),
		BirthDate:  birthDate,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

func (s *Service) nowUTC() time.Time {
	if s == nil || s.clock == nil {
		return time.Now().UTC()
	}
	return s.clock().UTC()
}

func fromRecord(record storage.LearnerRecord) Learner {
	return Learner{
		ID:         record.ID,
		GivenName:  record.GivenName,
		FamilyName: record.FamilyName,
		Grade:      record.Grade,
		Area:       record.Area,
		Contact:    record.Contact,
		BirthDate:  record.BirthDate,
		CreatedAt:  record.CreatedAt,
		UpdatedAt:  record.UpdatedAt,
		Archived:   record.Archived(),
	}
}

// FullName renders "Given Family" for display surfaces.
func (l Learner) FullName() string {
	return strings.TrimSpace(l.GivenName + " " + l.FamilyName)
}
