package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/sebvermaak/rollbook/internal/storage"
)

func TestCheckIntegrityCleanDatabase(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "300")
	base := time.Date(2026, time.April, 1, 7, 30, 0, 0, time.UTC)
	for i, direction := range []string{"IN", "OUT", "IN", "OUT"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "300",
			Direction:  direction,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	issues, err := store.CheckIntegrity(context.Background())
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if len(issues) != 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
}

func TestCheckIntegrityFlagsDirectEdits(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "301")
	base := time.Date(2026, time.April, 1, 7, 30, 0, 0, time.UTC)
	for i, direction := range []string{"IN", "OUT"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "301",
			Direction:  direction,
			OccurredAt: base.Add(time.Duration(i) * time.Hour),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	// Rewrite the second event behind the appenders' backs: same direction as
	// its predecessor and an earlier occurrence.
	if _, err := store.sqlDB.ExecContext(
		context.Background(),
		"UPDATE attendance_events SET direction = 'IN', occurred_at = ? WHERE learner_id = '301' AND direction = 'OUT'",
		toMillis(base.Add(-time.Hour)),
	); err != nil {
		t.Fatalf("tamper with event: %v", err)
	}

	issues, err := store.CheckIntegrity(context.Background())
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}

	kinds := make(map[string]int)
	for _, issue := range issues {
		kinds[issue.Kind]++
	}
	if kinds["ordering"] != 1 {
		t.Fatalf("expected one ordering issue, got %v", issues)
	}
	if kinds["sequence"] != 1 {
		t.Fatalf("expected one sequence issue, got %v", issues)
	}
}

func TestPruneEventsBefore(t *testing.T) {
	t.Parallel()

	store := openLedgerStore(t, "302")
	base := time.Date(2026, time.February, 2, 7, 30, 0, 0, time.UTC)
	for i, direction := range []string{"IN", "OUT", "IN", "OUT"} {
		if _, err := store.AppendEvent(context.Background(), storage.EventRecord{
			LearnerID:  "302",
			Direction:  direction,
			OccurredAt: base.AddDate(0, 0, i),
		}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}

	cutoff := base.AddDate(0, 0, 2)
	count, err := store.CountEventsBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("count events: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected 2 events before cutoff, got %d", count)
	}

	pruned, err := store.PruneEventsBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("prune events: %v", err)
	}
	if pruned != 2 {
		t.Fatalf("expected 2 pruned events, got %d", pruned)
	}

	remaining, err := store.ListEvents(context.Background(), storage.EventQuery{PageSize: 10})
	if err != nil {
		t.Fatalf("list remaining events: %v", err)
	}
	if len(remaining.Events) != 2 {
		t.Fatalf("expected 2 remaining events, got %d", len(remaining.Events))
	}
	for _, event := range remaining.Events {
		if event.OccurredAt.Before(cutoff) {
			t.Fatalf("event %d at %v survived the prune", event.ID, event.OccurredAt)
		}
	}
}

func TestVacuumSucceeds(t *testing.T) {
	t.Parallel()

	store := openTempStore(t)
	if err := store.Vacuum(context.Background()); err != nil {
		t.Fatalf("vacuum: %v", err)
	}
}
