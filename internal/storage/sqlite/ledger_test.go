package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
	"github.com/sebvermaak/rollbook/internal/storage/cursor"
)

func TestAppendEventAssignsID(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "100")
	event, err := store.AppendEvent(context.Background(), storage.EventRecord{
		LearnerID:  "100",
		Direction:  "IN",
		OccurredAt: time.Date(2026, time.March, 2, 7, 45, 0, 0, time.UTC),
		Source:     "scan",
	})
	if err != nil {
		t.Fatalf("append event: %v", err)
	}
	if event.ID == 0 {
		t.Fatal("expected assigned event id")
	}
	if event.RecordedAt.IsZero() {
		t.Fatal("expected recorded_at to be defaulted")
	}
}

func TestAppendEventRejectsUnknownLearner(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.AppendEvent(context.Background(), storage.EventRecord{
		LearnerID:  "ghost",
		Direction:  "IN",
		OccurredAt: time.Now().UTC(),
	})
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("append for unknown learner error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestAppendEventRejectsBadDirection(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "101")
	_, err := store.AppendEvent(context.Background(), storage.EventRecord{
		LearnerID:  "101",
		Direction:  "SIDEWAYS",
		OccurredAt: time.Now().UTC(),
	})
	if err == nil {
		t.Fatal("expected direction validation error")
	}
}

func TestAppendEventRequiresOccurredAt(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "102")
	_, err := store.AppendEvent(context.Background(), storage.EventRecord{
		LearnerID: "102",
		Direction: "IN",
	})
	if err == nil {
		t.Fatal("expected occurred_at validation error")
	}
}

func TestLastEventForReturnsLatest(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "110")
	base := time.Date(2026, time.March, 3, 7, 0, 0, 0, time.UTC)
	for i, direction := range []string{"IN", "OUT", "IN"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "110",
			Direction:  direction,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	last, err := store.LastEventFor(context.Background(), "110")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if last.Direction != "IN" {
		t.Fatalf("direction = %q, want %q", last.Direction, "IN")
	}
	if !last.OccurredAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("occurred_at = %v, want %v", last.OccurredAt, base.Add(2*time.Hour))
	}
}

func TestLastEventForBreaksTiesByID(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "111")
	at := time.Date(2026, time.March, 3, 8, 0, 0, 0, time.UTC)
	for _, direction := range []string{"IN", "OUT"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "111",
			Direction:  direction,
			OccurredAt: at,
		}); err != nil {
			t.Fatalf("append %s event: %v", direction, err)
		}
	}

	last, err := store.LastEventFor(context.Background(), "111")
	if err != nil {
		t.Fatalf("last event: %v", err)
	}
	if last.Direction != "OUT" {
		t.Fatalf("direction = %q, want %q", last.Direction, "OUT")
	}
}

func TestLastEventForReturnsNotFoundWhenEmpty(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "112")
	_, err := store.LastEventFor(context.Background(), "112")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("last event error = %v, want %v", err, storage.ErrNotFound)
	}
}

func TestListEventsPaginates(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "120")
	base := time.Date(2026, time.March, 4, 7, 0, 0, 0, time.UTC)
	for i, direction := range []string{"IN", "OUT", "IN"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "120",
			Direction:  direction,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	pageOne, err := store.ListEvents(context.Background(), storage.EventQuery{PageSize: 2})
	if err != nil {
		t.Fatalf("list page one: %v", err)
	}
	if len(pageOne.Events) != 2 {
		t.Fatalf("page one len = %d, want 2", len(pageOne.Events))
	}
	if pageOne.NextPageToken == "" {
		t.Fatal("expected page one next token")
	}

	pageTwo, err := store.ListEvents(context.Background(), storage.EventQuery{
		PageSize:  2,
		PageToken: pageOne.NextPageToken,
	})
	if err != nil {
		t.Fatalf("list page two: %v", err)
	}
	if len(pageTwo.Events) != 1 {
		t.Fatalf("page two len = %d, want 1", len(pageTwo.Events))
	}
	if pageTwo.NextPageToken != "" {
		t.Fatalf("page two next token = %q, want empty", pageTwo.NextPageToken)
	}
	if !pageTwo.Events[0].OccurredAt.Equal(base.Add(2 * time.Minute)) {
		t.Fatalf("page two event occurred_at = %v, want %v", pageTwo.Events[0].OccurredAt, base.Add(2*time.Minute))
	}
}

func TestListEventsRejectsMalformedPageToken(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	_, err := store.ListEvents(context.Background(), storage.EventQuery{
		PageSize:  10,
		PageToken: "not-a-token",
	})
	if !errors.Is(err, cursor.ErrInvalid) {
		t.Fatalf("expected cursor.ErrInvalid, got %v", err)
	}
}

func TestListEventsAppliesDirectionFilter(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "121")
	base := time.Date(2026, time.March, 4, 8, 0, 0, 0, time.UTC)
	for i, direction := range []string{"IN", "OUT", "IN"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "121",
			Direction:  direction,
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	page, err := store.ListEvents(context.Background(), storage.EventQuery{
		PageSize: 10,
		Filter:   `direction = "OUT"`,
	})
	if err != nil {
		t.Fatalf("list events with filter: %v", err)
	}
	if len(page.Events) != 1 || page.Events[0].Direction != "OUT" {
		t.Fatalf("expected single OUT event, got %+v", page.Events)
	}
}

func TestListEventsForBoundsAreHalfOpen(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "130")
	base := time.Date(2026, time.March, 5, 7, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "130",
			Direction:  "IN",
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	events, err := store.ListEventsFor(context.Background(), "130", base.Add(time.Hour), base.Add(3*time.Hour))
	if err != nil {
		t.Fatalf("list events for learner: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("events len = %d, want 2", len(events))
	}
	if !events[0].OccurredAt.Equal(base.Add(time.Hour)) {
		t.Fatalf("first event = %v, want %v", events[0].OccurredAt, base.Add(time.Hour))
	}
	if !events[1].OccurredAt.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("second event = %v, want %v", events[1].OccurredAt, base.Add(2*time.Hour))
	}
}

func TestListPresentReportsLatestArrivals(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	for _, id := range []string{"201", "202", "203"} {
		if err := store.CreateLearner(context.Background(), storage.LearnerRecord{
			ID: id, GivenName: "Learner", FamilyName: id,
		}); err != nil {
			t.Fatalf("create learner %s: %v", id, err)
		}
	}

	base := time.Date(2026, time.March, 6, 7, 0, 0, 0, time.UTC)
	seed := []storage.EventRecord{
		{LearnerID: "201", Direction: "IN", OccurredAt: base},
		{LearnerID: "202", Direction: "IN", OccurredAt: base.Add(5 * time.Minute)},
		{LearnerID: "202", Direction: "OUT", OccurredAt: base.Add(2 * time.Hour)},
		{LearnerID: "203", Direction: "IN", OccurredAt: base.Add(10 * time.Minute)},
	}
	for i, event := range seed {
		if _, err := store.AppendEvent(context.Background(), event); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	present, err := store.ListPresent(context.Background(), base, base.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("list present: %v", err)
	}
	if len(present) != 2 {
		t.Fatalf("present len = %d, want 2", len(present))
	}
	if present[0].LearnerID != "201" || present[1].LearnerID != "203" {
		t.Fatalf("present ids = %s, %s; want 201, 203", present[0].LearnerID, present[1].LearnerID)
	}
}

func TestListPresentExcludesArchivedLearners(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "210")
	at := time.Date(2026, time.March, 6, 8, 0, 0, 0, time.UTC)
	if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
		LearnerID:  "210",
		Direction:  "IN",
		OccurredAt: at,
	}); err != nil {
		t.Fatalf("append event: %v", err)
	}
	if err := store.ArchiveLearner(context.Background(), "210", at.Add(time.Hour)); err != nil {
		t.Fatalf("archive learner: %v", err)
	}

	present, err := store.ListPresent(context.Background(), at.Add(-time.Hour), at.Add(8*time.Hour))
	if err != nil {
		t.Fatalf("list present: %v", err)
	}
	if len(present) != 0 {
		t.Fatalf("present len = %d, want 0", len(present))
	}
}

func TestDirectionCheckConstraintRejectsBadRows(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "220")
	_, err := store.sqlDB.ExecContext(context.Background(),
		`INSERT INTO attendance_events (learner_id, direction, occurred_at, recorded_at, source, auto_corrected)
		 VALUES (?, ?, ?, ?, ?, 0)`,
		"220", "MAYBE", int64(1), int64(1), "test",
	)
	if err == nil {
		t.Fatal("expected check constraint violation")
	}
	if isUniqueViolation(err) {
		t.Fatal("check violation should not classify as unique violation")
	}
}

func openLedgerStore(t *testing.T, learnerID string) *Store {
	t.Helper()

	store := openTempStore(t)
	if err := store.CreateLearner(context.Background(), storage.LearnerRecord{
		ID:         learnerID,
		GivenName:  "Test",
		FamilyName: "Learner",
	}); err != nil {
		t.Fatalf("create learner %s: %v", learnerID, err)
	}
	return store
}
