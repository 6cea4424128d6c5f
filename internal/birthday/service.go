// Package birthday finds learners with a birthday and sends greetings.
package birthday

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/text/language"

	"github.com/sebvermaak/rollbook/internal/birthday/render"
	"github.com/sebvermaak/rollbook/internal/storage"
)

var (
	// ErrStoreNotConfigured indicates the service is missing persistence wiring.
	ErrStoreNotConfigured = errors.New("birthday store is not configured")
	// ErrDispatcherNotConfigured indicates the service has no outbound channel.
	ErrDispatcherNotConfigured = errors.New("birthday dispatcher is not configured")
)

const (
	rosterPageSize = 200

	dayLayout      = "2006-01-02"
	monthDayLayout = "-01-02"
)

// Greeting is one rendered birthday message addressed to a learner.
type Greeting struct {
	LearnerID  string
	GivenName  string
	FamilyName string
	Contact    string
	Day        string
	Subject    string
	Body       string
}

// Dispatcher delivers one greeting. Delivery is best-effort with no
// confirmation; implementations should not retry.
type Dispatcher interface {
	Dispatch(ctx context.Context, greeting Greeting) error
	Channel() string
}

// LogDispatcher writes greetings to the process log. It stands in for
// external transports, which are out of scope.
type LogDispatcher struct {
	Logger *log.Logger
}

// Dispatch logs the greeting line.
func (d LogDispatcher) Dispatch(_ context.Context, greeting Greeting) error {
	logger := d.Logger
	if logger == nil {
		logger = log.Default()
	}
	logger.Printf("birthday greeting for %s (%s %s): %s",
		greeting.LearnerID, greeting.GivenName, greeting.FamilyName, greeting.Body)
	return nil
}

// Channel names the dispatcher for the greeting log.
func (d LogDispatcher) Channel() string { return "log" }

// SweepResult summarizes one birthday sweep.
type SweepResult struct {
	Matched int
	Sent    int
	Skipped int
	Failed  int
}

// Store is the persistence boundary for the birthday sweep.
type Store interface {
	ListLearners(ctx context.Context, query storage.LearnerQuery) (storage.LearnerPage, error)
	RecordGreeting(ctx context.Context, record storage.GreetingRecord) error
	GreetingsOn(ctx context.Context, sentOn string) ([]storage.GreetingRecord, error)
}

// Service runs the daily birthday sweep.
type Service struct {
	store      Store
	dispatcher Dispatcher
	loc        render.Localizer
	clock      func() time.Time
}

// NewService constructs birthday sweep use-cases. Greetings render in the
// supplied language.
func NewService(store Store, dispatcher Dispatcher, tag language.Tag, clock func() time.Time) *Service {
	if clock == nil {
		clock = time.Now
	}
	return &Service{
		store:      store,
		dispatcher: dispatcher,
		loc:        render.Printer(tag),
		clock:      clock,
	}
}

// Sweep greets every active learner whose birth date matches day's month
// and day. A learner already greeted that day is skipped; the greeting is
// claimed in the log before dispatch so concurrent sweeps cannot double-send.
// Dispatch failures are logged and counted, never fatal.
func (s *Service) Sweep(ctx context.Context, day time.Time) (SweepResult, error) {
	if s == nil || s.store == nil {
		return SweepResult{}, ErrStoreNotConfigured
	}
	if s.dispatcher == nil {
		return SweepResult{}, ErrDispatcherNotConfigured
	}
	if day.IsZero() {
		day = s.clock()
	}
	dayKey := day.Format(dayLayout)
	monthDay := day.Format(monthDayLayout)

	result := SweepResult{}
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		page, err := s.store.ListLearners(ctx, storage.LearnerQuery{
			PageSize:  rosterPageSize,
			PageToken: pageToken,
		})
		if err != nil {
			return result, err
		}
		for _, record := range page.Learners {
			if !strings.HasSuffix(record.BirthDate, monthDay) {
				continue
			}
			result.Matched++

			claim := storage.GreetingRecord{
				LearnerID: record.ID,
				SentOn:    dayKey,
				SentAt:    s.clock().UTC(),
				Channel:   s.dispatcher.Channel(),
			}
			if err := s.store.RecordGreeting(ctx, claim); err != nil {
				if errors.Is(err, storage.ErrAlreadyExists) {
					result.Skipped++
					continue
				}
				return result, fmt.Errorf("record greeting for %s: %w", record.ID, err)
			}

			message := render.Greeting(s.loc, record.GivenName)
			greeting := Greeting{
				LearnerID:  record.ID,
				GivenName:  record.GivenName,
				FamilyName: record.FamilyName,
				Contact:    record.Contact,
				Day:        dayKey,
				Subject:    message.Subject,
				Body:       message.Body,
			}
			if err := s.dispatcher.Dispatch(ctx, greeting); err != nil {
				log.Printf("dispatch birthday greeting for %s: %v", record.ID, err)
				result.Failed++
				continue
			}
			result.Sent++
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}
	return result, nil
}

// Greeted lists the greetings already sent on day.
func (s *Service) Greeted(ctx context.Context, day time.Time) ([]storage.GreetingRecord, error) {
	if s == nil || s.store == nil {
		return nil, ErrStoreNotConfigured
	}
	if day.IsZero() {
		day = s.clock()
	}
	return s.store.GreetingsOn(ctx, day.Format(dayLayout))
}
