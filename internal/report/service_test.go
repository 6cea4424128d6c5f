package report

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
)

func TestGeneratePairsSessions(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	store := newFakeStore()
	store.addLearner("42", "Thabo", "Nkosi")
	store.addEvents("42",
		event("IN", from.Add(8*time.Hour)),
		event("OUT", from.Add(13*time.Hour)),
		event("IN", from.Add(14*time.Hour)),
		event("OUT", from.Add(16*time.Hour)),
	)
	svc := NewService(store)

	report, err := svc.Generate(context.Background(), Query{From: from, To: to})
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if len(report.Summaries) != 1 {
		t.Fatalf("summaries = %d, want 1", len(report.Summaries))
	}
	summary := report.Summaries[0]
	if summary.InCount != 2 {
		t.Fatalf("in count = %d, want 2", summary.InCount)
	}
	if summary.Sessions != 2 {
		t.Fatalf("sessions = %d, want 2", summary.Sessions)
	}
	if summary.TotalPresent != 7*time.Hour {
		t.Fatalf("total present = %v, want 7h", summary.TotalPresent)
	}
	if summary.Anomalies != 0 {
		t.Fatalf("anomalies = %d, want 0", summary.Anomalies)
	}
	if summary.OpenInterval {
		t.Fatal("closed sessions should not flag an open interval")
	}
}

func TestGenerateClipsTrailingArrival(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	store := newFakeStore()
	store.addLearner("42", "Thabo", "Nkosi")
	store.addEvents("42", event("IN", from.Add(20*time.Hour)))
	svc := NewService(store)

	report, err := svc.Generate(context.Background(), Query{From: from, To: to})
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	summary := report.Summaries[0]
	if !summary.OpenInterval {
		t.Fatal("trailing arrival should flag an open interval")
	}
	if summary.TotalPresent != 4*time.Hour {
		t.Fatalf("clipped duration = %v, want 4h", summary.TotalPresent)
	}
	if summary.Sessions != 0 {
		t.Fatalf("sessions = %d, want 0", summary.Sessions)
	}
}

func TestGenerateCountsAnomaliesAndResynchronizes(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 1)
	store := newFakeStore()
	store.addLearner("42", "Thabo", "Nkosi")
	store.addEvents("42",
		event("OUT", from.Add(7*time.Hour)),
		event("IN", from.Add(8*time.Hour)),
		event("IN", from.Add(9*time.Hour)),
		event("OUT", from.Add(10*time.Hour)),
	)
	svc := NewService(store)

	report, err := svc.Generate(context.Background(), Query{From: from, To: to})
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	summary := report.Summaries[0]
	if summary.Anomalies != 2 {
		t.Fatalf("anomalies = %d, want 2", summary.Anomalies)
	}
	if summary.Sessions != 1 {
		t.Fatalf("sessions = %d, want 1", summary.Sessions)
	}
	if summary.TotalPresent != time.Hour {
		t.Fatalf("total present = %v, want 1h after resync", summary.TotalPresent)
	}
}

func TestGenerateSkipsLearnersWithoutEvents(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addLearner("1", "Quiet", "Learner")
	store.addLearner("2", "Busy", "Learner")
	store.addEvents("2", event("IN", from.Add(8*time.Hour)))
	svc := NewService(store)

	report, err := svc.Generate(context.Background(), Query{From: from, To: from.AddDate(0, 0, 1)})
	if err != nil {
		t.Fatalf("generate report: %v", err)
	}
	if len(report.Summaries) != 1 || report.Summaries[0].LearnerID != "2" {
		t.Fatalf("summaries = %+v, want only learner 2", report.Summaries)
	}
}

func TestStreamStopsOnCallbackError(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	store := newFakeStore()
	store.addLearner("1", "First", "Learner")
	store.addLearner("2", "Second", "Learner")
	store.addEvents("1", event("IN", from.Add(time.Hour)))
	store.addEvents("2", event("IN", from.Add(time.Hour)))
	svc := NewService(store)

	stop := errors.New("enough")
	seen := 0
	err := svc.Stream(context.Background(), Query{From: from, To: from.AddDate(0, 0, 1)}, func(Summary) error {
		seen++
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("stream error = %v, want %v", err, stop)
	}
	if seen != 1 {
		t.Fatalf("callbacks = %d, want 1", seen)
	}
}

func TestStreamRejectsEmptyRange(t *testing.T) {
	t.Parallel()

	svc := NewService(newFakeStore())
	at := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	err := svc.Stream(context.Background(), Query{From: at, To: at}, func(Summary) error { return nil })
	if !errors.Is(err, ErrRangeInvalid) {
		t.Fatalf("empty range error = %v, want %v", err, ErrRangeInvalid)
	}
}

func TestDayMatrixMarksAttendedDays(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 0, 3)
	store := newFakeStore()
	store.addLearner("1", "Thabo", "Nkosi")
	store.addLearner("2", "Lerato", "Dlamini")
	store.addEvents("1",
		event("IN", from.Add(8*time.Hour)),
		event("OUT", from.Add(13*time.Hour)),
		event("IN", from.AddDate(0, 0, 2).Add(8*time.Hour)),
	)
	svc := NewService(store)

	matrix, err := svc.DayMatrix(context.Background(), Query{From: from, To: to})
	if err != nil {
		t.Fatalf("day matrix: %v", err)
	}
	wantDays := []string{"2026-03-02", "2026-03-03", "2026-03-04"}
	if len(matrix.Days) != len(wantDays) {
		t.Fatalf("days = %v, want %v", matrix.Days, wantDays)
	}
	for i := range wantDays {
		if matrix.Days[i] != wantDays[i] {
			t.Fatalf("days = %v, want %v", matrix.Days, wantDays)
		}
	}
	if len(matrix.Rows) != 2 {
		t.Fatalf("rows = %d, want 2 (every roster member)", len(matrix.Rows))
	}
	thabo := matrix.Rows[0]
	if thabo.LearnerID != "1" {
		t.Fatalf("first row learner = %q, want 1", thabo.LearnerID)
	}
	wantAttended := []bool{true, false, true}
	for i := range wantAttended {
		if thabo.Attended[i] != wantAttended[i] {
			t.Fatalf("attended = %v, want %v", thabo.Attended, wantAttended)
		}
	}
	lerato := matrix.Rows[1]
	for i, attended := range lerato.Attended {
		if attended {
			t.Fatalf("learner 2 attended day %d without events", i)
		}
	}
}

func TestServiceWithoutStoreFails(t *testing.T) {
	t.Parallel()

	svc := NewService(nil)
	err := svc.Stream(context.Background(), Query{}, func(Summary) error { return nil })
	if !errors.Is(err, ErrStoreNotConfigured) {
		t.Fatalf("stream without store error = %v, want %v", err, ErrStoreNotConfigured)
	}
}

func event(direction string, at time.Time) storage.EventRecord {
	return storage.EventRecord{Direction: direction, OccurredAt: at}
}

type fakeStore struct {
	learners map[string]storage.LearnerRecord
	events   map[string][]storage.EventRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		learners: make(map[string]storage.LearnerRecord),
		events:   make(map[string][]storage.EventRecord),
	}
}

func (s *fakeStore) addLearner(id, givenName, familyName string) {
	s.learners[id] = storage.LearnerRecord{ID: id, GivenName: givenName, FamilyName: familyName}
}

func (s *fakeStore) addEvents(learnerID string, events ...storage.EventRecord) {
	for i := range events {
		events[i].LearnerID = learnerID
	}
	s.events[learnerID] = append(s.events[learnerID], events...)
}

func (s *fakeStore) ListLearners(_ context.Context, query storage.LearnerQuery) (storage.LearnerPage, error) {
	var ids []string
	for id := range s.learners {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	page := storage.LearnerPage{}
	for _, id := range ids {
		if strings.TrimSpace(query.PageToken) != "" && id <= query.PageToken {
			continue
		}
		if len(page.Learners) == query.PageSize {
			page.NextPageToken = page.Learners[len(page.Learners)-1].ID
			return page, nil
		}
		page.Learners = append(page.Learners, s.learners[id])
	}
	return page, nil
}

func (s *fakeStore) ListEventsFor(_ context.Context, learnerID string, from, to time.Time) ([]storage.EventRecord, error) {
	var events []storage.EventRecord
	for _, event := range s.events[learnerID] {
		if event.OccurredAt.Before(from) || !event.OccurredAt.Before(to) {
			continue
		}
		events = append(events, event)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].OccurredAt.Before(events[j].OccurredAt) })
	return events, nil
}

var _ Store = (*fakeStore)(nil)
