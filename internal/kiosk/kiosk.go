// Package kiosk runs the interactive scan loop for a barcode wedge at the
// front desk. Each scanned line toggles the learner through the gate and
// prints a greeting; a couple of typed commands cover the rest.
package kiosk

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/learner"
)

// ErrNotConfigured indicates the kiosk is missing its ledger or roster.
var ErrNotConfigured = errors.New("kiosk ledger and roster are required")

const eventSource = "kiosk"

const timeLayout = "15:04"

// Ledger is the slice of the attendance service the kiosk drives.
type Ledger interface {
	Toggle(ctx context.Context, input attendance.ToggleInput) (attendance.Event, error)
	Present(ctx context.Context, at time.Time) ([]attendance.Presence, error)
}

// Roster resolves learner profiles for greeting lines.
type Roster interface {
	Get(ctx context.Context, id string) (learner.Learner, error)
}

// GreetingHook renders the line printed after a scan. A hook error or an
// empty line falls back to the built-in greeting.
type GreetingHook interface {
	Greet(member learner.Learner, direction attendance.Direction, at time.Time) (string, error)
}

// Options carry the optional kiosk collaborators.
type Options struct {
	Hook   GreetingHook
	Output io.Writer
	Clock  func() time.Time
}

// Kiosk is one interactive scan session over a line reader.
type Kiosk struct {
	ledger Ledger
	roster Roster
	hook   GreetingHook
	out    io.Writer
	clock  func() time.Time
}

// New constructs a kiosk over the given services.
func New(ledger Ledger, roster Roster, options Options) *Kiosk {
	if options.Output == nil {
		options.Output = os.Stdout
	}
	if options.Clock == nil {
		options.Clock = time.Now
	}
	return &Kiosk{
		ledger: ledger,
		roster: roster,
		hook:   options.Hook,
		out:    options.Output,
		clock:  options.Clock,
	}
}

// Run consumes scan lines until EOF, a quit command, or the context ends.
// Scan failures are printed and the loop keeps going; a wedge scanner
// should never wedge the queue of kids behind it.
func (k *Kiosk) Run(ctx context.Context, in io.Reader) error {
	if k == nil || k.ledger == nil || k.roster == nil {
		return ErrNotConfigured
	}

	fmt.Fprintln(k.out, "Scan a code to sign in or out. Commands: who, q.")

	scanner := bufio.NewScanner(in)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case strings.EqualFold(line, "q"), strings.EqualFold(line, "quit"):
			return nil
		case strings.EqualFold(line, "who"):
			k.printPresent(ctx)
		default:
			k.handleScan(ctx, line)
		}
	}
	return scanner.Err()
}

func (k *Kiosk) handleScan(ctx context.Context, code string) {
	event, err := k.ledger.Toggle(ctx, attendance.ToggleInput{
		LearnerID: code,
		Source:    eventSource,
	})
	if err != nil {
		fmt.Fprintf(k.out, "!! %v\n", err)
		return
	}
	member, err := k.roster.Get(ctx, event.LearnerID)
	if err != nil {
		fmt.Fprintf(k.out, "!! %v\n", err)
		return
	}
	fmt.Fprintln(k.out, k.greetingLine(member, event))
}

func (k *Kiosk) printPresent(ctx context.Context) {
	present, err := k.ledger.Present(ctx, k.clock())
	if err != nil {
		fmt.Fprintf(k.out, "!! %v\n", err)
		return
	}
	if len(present) == 0 {
		fmt.Fprintln(k.out, "Nobody is signed in.")
		return
	}
	fmt.Fprintf(k.out, "Signed in (%d):\n", len(present))
	for _, p := range present {
		fmt.Fprintf(k.out, "  - %s %s [%s] since %s\n",
			p.GivenName, p.FamilyName, p.LearnerID, p.Since.Local().Format(timeLayout))
	}
}

func (k *Kiosk) greetingLine(member learner.Learner, event attendance.Event) string {
	if k.hook != nil {
		line, err := k.hook.Greet(member, event.Direction, event.OccurredAt)
		if err != nil {
			log.Printf("kiosk: greeting hook failed, using built-in line: %v", err)
		} else if strings.TrimSpace(line) != "" {
			return line
		}
	}
	return builtinGreeting(member, event)
}

func builtinGreeting(member learner.Learner, event attendance.Event) string {
	at := event.OccurredAt.Local().Format(timeLayout)
	if event.Direction == attendance.DirectionIn {
		return fmt.Sprintf("Welcome, %s! Signed in at %s.", member.FullName(), at)
	}
	return fmt.Sprintf("Goodbye, %s! Signed out at %s.", member.FullName(), at)
}
