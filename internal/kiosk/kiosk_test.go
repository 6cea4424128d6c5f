package kiosk

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/learner"
)

type fakeLedger struct {
	scans   []attendance.ToggleInput
	last    map[string]attendance.Direction
	present []attendance.Presence
	err     error
	at      time.Time
}

func (f *fakeLedger) Toggle(_ context.Context, input attendance.ToggleInput) (attendance.Event, error) {
	if f.err != nil {
		return attendance.Event{}, f.err
	}
	f.scans = append(f.scans, input)
	if f.last == nil {
		f.last = make(map[string]attendance.Direction)
	}
	direction := attendance.DirectionIn
	if f.last[input.LearnerID] == attendance.DirectionIn {
		direction = attendance.DirectionOut
	}
	f.last[input.LearnerID] = direction
	return attendance.Event{
		ID:         int64(len(f.scans)),
		LearnerID:  input.LearnerID,
		Direction:  direction,
		OccurredAt: f.at,
	}, nil
}

func (f *fakeLedger) Present(_ context.Context, _ time.Time) ([]attendance.Presence, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.present, nil
}

type fakeRoster struct {
	members map[string]learner.Learner
}

func (f *fakeRoster) Get(_ context.Context, id string) (learner.Learner, error) {
	member, ok := f.members[id]
	if !ok {
		return learner.Learner{}, learner.ErrLearnerNotFound
	}
	return member, nil
}

type stubHook struct {
	line string
	err  error
}

func (s stubHook) Greet(learner.Learner, attendance.Direction, time.Time) (string, error) {
	return s.line, s.err
}

var _ Ledger = (*fakeLedger)(nil)
var _ Roster = (*fakeRoster)(nil)
var _ GreetingHook = stubHook{}

func scanTime() time.Time {
	return time.Date(2026, 5, 14, 9, 0, 0, 0, time.UTC)
}

func newTestKiosk(hook GreetingHook) (*Kiosk, *fakeLedger, *bytes.Buffer) {
	ledger := &fakeLedger{at: scanTime()}
	roster := &fakeRoster{members: map[string]learner.Learner{
		"7": {ID: "7", GivenName: "Thabo", FamilyName: "Nkosi", Grade: "7"},
	}}
	out := &bytes.Buffer{}
	k := New(ledger, roster, Options{
		Hook:   hook,
		Output: out,
		Clock:  scanTime,
	})
	return k, ledger, out
}

func TestRunTogglesEachScan(t *testing.T) {
	t.Parallel()

	k, ledger, out := newTestKiosk(nil)

	if err := k.Run(context.Background(), strings.NewReader("7\n7\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ledger.scans) != 2 {
		t.Fatalf("scans = %d, want 2", len(ledger.scans))
	}
	if ledger.scans[0].Source != "kiosk" {
		t.Fatalf("source = %q, want kiosk", ledger.scans[0].Source)
	}
	at := scanTime().Local().Format("15:04")
	if want := "Welcome, Thabo Nkosi! Signed in at " + at + "."; !strings.Contains(out.String(), want) {
		t.Fatalf("output %q missing %q", out.String(), want)
	}
	if want := "Goodbye, Thabo Nkosi! Signed out at " + at + "."; !strings.Contains(out.String(), want) {
		t.Fatalf("output %q missing %q", out.String(), want)
	}
}

func TestRunSkipsBlankLines(t *testing.T) {
	t.Parallel()

	k, ledger, _ := newTestKiosk(nil)

	if err := k.Run(context.Background(), strings.NewReader("  \n\n7\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ledger.scans) != 1 {
		t.Fatalf("scans = %d, want 1", len(ledger.scans))
	}
}

func TestRunStopsOnQuit(t *testing.T) {
	t.Parallel()

	k, ledger, _ := newTestKiosk(nil)

	if err := k.Run(context.Background(), strings.NewReader("q\n7\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ledger.scans) != 0 {
		t.Fatalf("scans = %d, want 0 after quit", len(ledger.scans))
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	t.Parallel()

	k, ledger, _ := newTestKiosk(nil)

	if err := k.Run(context.Background(), strings.NewReader("7\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(ledger.scans) != 1 {
		t.Fatalf("scans = %d, want 1", len(ledger.scans))
	}
}

func TestRunWhoListsPresent(t *testing.T) {
	t.Parallel()

	k, ledger, out := newTestKiosk(nil)
	ledger.present = []attendance.Presence{
		{LearnerID: "7", GivenName: "Thabo", FamilyName: "Nkosi", Since: scanTime()},
		{LearnerID: "9", GivenName: "Lerato", FamilyName: "Mokoena", Since: scanTime()},
	}

	if err := k.Run(context.Background(), strings.NewReader("who\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "Signed in (2):") {
		t.Fatalf("output %q missing present header", out.String())
	}
	if !strings.Contains(out.String(), "Thabo Nkosi [7]") {
		t.Fatalf("output %q missing Thabo's line", out.String())
	}
	if !strings.Contains(out.String(), "Lerato Mokoena [9]") {
		t.Fatalf("output %q missing Lerato's line", out.String())
	}
}

func TestRunWhoEmpty(t *testing.T) {
	t.Parallel()

	k, _, out := newTestKiosk(nil)

	if err := k.Run(context.Background(), strings.NewReader("who\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "Nobody is signed in.") {
		t.Fatalf("output %q missing empty notice", out.String())
	}
}

func TestRunPrintsScanFailureAndContinues(t *testing.T) {
	t.Parallel()

	k, ledger, out := newTestKiosk(nil)
	ledger.err = attendance.ErrUnknownLearner

	if err := k.Run(context.Background(), strings.NewReader("404\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "!!") {
		t.Fatalf("output %q missing failure marker", out.String())
	}
	if !strings.Contains(out.String(), attendance.ErrUnknownLearner.Error()) {
		t.Fatalf("output %q missing error text", out.String())
	}
}

func TestHookOverridesGreeting(t *testing.T) {
	t.Parallel()

	k, _, out := newTestKiosk(stubHook{line: "Sawubona Thabo!"})

	if err := k.Run(context.Background(), strings.NewReader("7\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "Sawubona Thabo!") {
		t.Fatalf("output %q missing hook line", out.String())
	}
	if strings.Contains(out.String(), "Welcome,") {
		t.Fatalf("output %q should not contain built-in greeting", out.String())
	}
}

func TestHookErrorFallsBack(t *testing.T) {
	t.Parallel()

	k, _, out := newTestKiosk(stubHook{err: context.DeadlineExceeded})

	if err := k.Run(context.Background(), strings.NewReader("7\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "Welcome, Thabo Nkosi!") {
		t.Fatalf("output %q missing built-in fallback", out.String())
	}
}

func TestHookEmptyLineFallsBack(t *testing.T) {
	t.Parallel()

	k, _, out := newTestKiosk(stubHook{line: "   "})

	if err := k.Run(context.Background(), strings.NewReader("7\nq\n")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if !strings.Contains(out.String(), "Welcome, Thabo Nkosi!") {
		t.Fatalf("output %q missing built-in fallback", out.String())
	}
}

func TestRunRequiresServices(t *testing.T) {
	t.Parallel()

	k := New(nil, nil, Options{})
	if err := k.Run(context.Background(), strings.NewReader("")); err != ErrNotConfigured {
		t.Fatalf("Run() error = %v, want %v", err, ErrNotConfigured)
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	k, ledger, _ := newTestKiosk(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := k.Run(ctx, strings.NewReader("7\nq\n")); err != context.Canceled {
		t.Fatalf("Run() error = %v, want %v", err, context.Canceled)
	}
	if len(ledger.scans) != 0 {
		t.Fatalf("scans = %d, want 0 after cancel", len(ledger.scans))
	}
}
