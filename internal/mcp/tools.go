package mcp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/learner"
	"github.com/sebvermaak/rollbook/internal/report"
)

const dayLayout = "2006-01-02"

// LearnerGetInput represents the MCP tool input for a roster lookup.
type LearnerGetInput struct {
	ID string `json:"id" jsonschema:"learner identifier (barcode digits; leading zeros are ignored)"`
}

// LearnerResult represents one roster member in MCP tool output.
type LearnerResult struct {
	ID         string `json:"id" jsonschema:"normalized learner identifier"`
	GivenName  string `json:"given_name" jsonschema:"given name"`
	FamilyName string `json:"family_name" jsonschema:"family name"`
	Grade      string `json:"grade,omitempty" jsonschema:"school grade"`
	Area       string `json:"area,omitempty" jsonschema:"home area or neighbourhood"`
	Contact    string `json:"contact,omitempty" jsonschema:"guardian contact, email or phone"`
	BirthDate  string `json:"birth_date,omitempty" jsonschema:"birth date (YYYY-MM-DD)"`
	Archived   bool   `json:"archived,omitempty" jsonschema:"true when the learner has left the programme"`
}

// LearnerGetTool defines the MCP tool schema for looking up one learner.
func LearnerGetTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "learner_get",
		Description: "Looks up one learner on the roster by barcode identifier. Leading zeros in the identifier are ignored.",
	}
}

// LearnerGetHandler executes a roster lookup.
func LearnerGetHandler(roster *learner.Service) mcp.ToolHandlerFor[LearnerGetInput, LearnerResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LearnerGetInput) (*mcp.CallToolResult, LearnerResult, error) {
		if strings.TrimSpace(input.ID) == "" {
			return nil, LearnerResult{}, fmt.Errorf("id is required")
		}
		member, err := roster.Get(ctx, input.ID)
		if err != nil {
			return nil, LearnerResult{}, fmt.Errorf("learner lookup failed: %w", err)
		}
		return nil, learnerResult(member), nil
	}
}

// LearnerListInput represents the MCP tool input for listing the roster.
type LearnerListInput struct {
	Filter          string `json:"filter,omitempty" jsonschema:"optional filter over id, given_name, family_name, grade, and area"`
	PageSize        int    `json:"page_size,omitempty" jsonschema:"page size, defaults to 50"`
	PageToken       string `json:"page_token,omitempty" jsonschema:"token from a previous page"`
	IncludeArchived bool   `json:"include_archived,omitempty" jsonschema:"include learners who have left the programme"`
}

// LearnerListResult represents the MCP tool output for listing the roster.
type LearnerListResult struct {
	Learners      []LearnerResult `json:"learners" jsonschema:"one page of roster members"`
	NextPageToken string          `json:"next_page_token,omitempty" jsonschema:"token for the next page, empty on the last page"`
}

// LearnerListTool defines the MCP tool schema for listing the roster.
func LearnerListTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "learner_list",
		Description: "Lists learners on the roster with optional filtering and keyset pagination.",
	}
}

// LearnerListHandler executes a roster listing.
func LearnerListHandler(roster *learner.Service) mcp.ToolHandlerFor[LearnerListInput, LearnerListResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LearnerListInput) (*mcp.CallToolResult, LearnerListResult, error) {
		page, err := roster.List(ctx, learner.ListInput{
			Filter:          input.Filter,
			PageSize:        input.PageSize,
			PageToken:       input.PageToken,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, LearnerListResult{}, fmt.Errorf("roster listing failed: %w", err)
		}
		result := LearnerListResult{
			Learners:      make([]LearnerResult, 0, len(page.Learners)),
			NextPageToken: page.NextPageToken,
		}
		for _, member := range page.Learners {
			result.Learners = append(result.Learners, learnerResult(member))
		}
		return nil, result, nil
	}
}

// ScanRecordInput represents the MCP tool input for recording a scan.
type ScanRecordInput struct {
	LearnerID  string `json:"learner_id" jsonschema:"learner identifier (barcode digits)"`
	Direction  string `json:"direction,omitempty" jsonschema:"IN or OUT; omitted toggles from the learner's last event"`
	OccurredAt string `json:"occurred_at,omitempty" jsonschema:"RFC3339 event time, defaults to now"`
}

// ScanRecordResult represents the MCP tool output for recording a scan.
type ScanRecordResult struct {
	EventID       int64  `json:"event_id" jsonschema:"ledger sequence number"`
	LearnerID     string `json:"learner_id" jsonschema:"normalized learner identifier"`
	GivenName     string `json:"given_name" jsonschema:"given name"`
	FamilyName    string `json:"family_name" jsonschema:"family name"`
	Direction     string `json:"direction" jsonschema:"recorded direction (IN or OUT)"`
	OccurredAt    string `json:"occurred_at" jsonschema:"RFC3339 event time"`
	AutoCorrected bool   `json:"auto_corrected,omitempty" jsonschema:"true when a repeated direction was flipped"`
}

// ScanRecordTool defines the MCP tool schema for recording a scan.
func ScanRecordTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "scan_record",
		Description: "Appends one sign-in or sign-out to the attendance ledger. Omit direction to toggle from the learner's last event.",
	}
}

// ScanRecordHandler executes a scan against the ledger.
func ScanRecordHandler(ledger *attendance.Service, roster *learner.Service) mcp.ToolHandlerFor[ScanRecordInput, ScanRecordResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ScanRecordInput) (*mcp.CallToolResult, ScanRecordResult, error) {
		if strings.TrimSpace(input.LearnerID) == "" {
			return nil, ScanRecordResult{}, fmt.Errorf("learner_id is required")
		}
		occurredAt, err := parseToolTime("occurred_at", input.OccurredAt)
		if err != nil {
			return nil, ScanRecordResult{}, err
		}

		var event attendance.Event
		if strings.TrimSpace(input.Direction) == "" {
			event, err = ledger.Toggle(ctx, attendance.ToggleInput{
				LearnerID:  input.LearnerID,
				OccurredAt: occurredAt,
				Source:     eventSource,
			})
		} else {
			event, err = ledger.Record(ctx, attendance.RecordInput{
				LearnerID:  input.LearnerID,
				Direction:  input.Direction,
				OccurredAt: occurredAt,
				Source:     eventSource,
			})
		}
		if err != nil {
			return nil, ScanRecordResult{}, fmt.Errorf("scan failed: %w", err)
		}

		member, err := roster.Get(ctx, event.LearnerID)
		if err != nil {
			return nil, ScanRecordResult{}, fmt.Errorf("learner lookup failed: %w", err)
		}

		return nil, ScanRecordResult{
			EventID:       event.ID,
			LearnerID:     event.LearnerID,
			GivenName:     member.GivenName,
			FamilyName:    member.FamilyName,
			Direction:     string(event.Direction),
			OccurredAt:    formatEventTime(event.OccurredAt),
			AutoCorrected: event.AutoCorrected,
		}, nil
	}
}

// PresenceStatusInput represents the MCP tool input for a presence check.
type PresenceStatusInput struct {
	LearnerID string `json:"learner_id" jsonschema:"learner identifier (barcode digits)"`
}

// PresenceStatusResult represents the MCP tool output for a presence check.
type PresenceStatusResult struct {
	LearnerID string `json:"learner_id" jsonschema:"normalized learner identifier"`
	Present   bool   `json:"present" jsonschema:"true when the learner's last event is a sign-in"`
	Direction string `json:"direction,omitempty" jsonschema:"direction of the last event (IN or OUT)"`
	LastSeen  string `json:"last_seen,omitempty" jsonschema:"RFC3339 time of the last event"`
}

// PresenceStatusTool defines the MCP tool schema for a presence check.
func PresenceStatusTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "presence_status",
		Description: "Reports whether one learner is currently signed in, from their latest ledger event.",
	}
}

// PresenceStatusHandler executes a presence check.
func PresenceStatusHandler(ledger *attendance.Service) mcp.ToolHandlerFor[PresenceStatusInput, PresenceStatusResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PresenceStatusInput) (*mcp.CallToolResult, PresenceStatusResult, error) {
		if strings.TrimSpace(input.LearnerID) == "" {
			return nil, PresenceStatusResult{}, fmt.Errorf("learner_id is required")
		}
		status, err := ledger.Status(ctx, input.LearnerID)
		if err != nil {
			return nil, PresenceStatusResult{}, fmt.Errorf("presence lookup failed: %w", err)
		}
		result := PresenceStatusResult{LearnerID: status.LearnerID, Present: status.Present}
		if status.LastEvent != nil {
			result.Direction = string(status.LastEvent.Direction)
			result.LastSeen = formatEventTime(status.LastEvent.OccurredAt)
		}
		return nil, result, nil
	}
}

// PresentNowInput represents the MCP tool input for listing signed-in learners.
type PresentNowInput struct {
	At string `json:"at,omitempty" jsonschema:"RFC3339 time selecting the day to evaluate, defaults to now"`
}

// PresentEntry represents one signed-in learner in MCP tool output.
type PresentEntry struct {
	LearnerID  string `json:"learner_id" jsonschema:"normalized learner identifier"`
	GivenName  string `json:"given_name" jsonschema:"given name"`
	FamilyName string `json:"family_name" jsonschema:"family name"`
	Since      string `json:"since" jsonschema:"RFC3339 time of the sign-in"`
}

// PresentNowResult represents the MCP tool output for listing signed-in learners.
type PresentNowResult struct {
	At      string         `json:"at" jsonschema:"RFC3339 time presence was evaluated at"`
	Count   int            `json:"count" jsonschema:"number of learners signed in"`
	Present []PresentEntry `json:"present" jsonschema:"signed-in learners"`
}

// PresentNowTool defines the MCP tool schema for listing signed-in learners.
func PresentNowTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "present_now",
		Description: "Lists every learner whose latest ledger event on a day is a sign-in, with when they signed in. Defaults to today.",
	}
}

// PresentNowHandler executes a signed-in listing.
func PresentNowHandler(ledger *attendance.Service, clock func() time.Time) mcp.ToolHandlerFor[PresentNowInput, PresentNowResult] {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input PresentNowInput) (*mcp.CallToolResult, PresentNowResult, error) {
		at, err := parseToolTime("at", input.At)
		if err != nil {
			return nil, PresentNowResult{}, err
		}
		if at.IsZero() {
			at = clock()
		}
		present, err := ledger.Present(ctx, at)
		if err != nil {
			return nil, PresentNowResult{}, fmt.Errorf("presence listing failed: %w", err)
		}
		result := PresentNowResult{
			At:      formatEventTime(at),
			Count:   len(present),
			Present: make([]PresentEntry, 0, len(present)),
		}
		for _, entry := range present {
			result.Present = append(result.Present, PresentEntry{
				LearnerID:  entry.LearnerID,
				GivenName:  entry.GivenName,
				FamilyName: entry.FamilyName,
				Since:      formatEventTime(entry.Since),
			})
		}
		return nil, result, nil
	}
}

// AttendanceReportInput represents the MCP tool input for a summary report.
type AttendanceReportInput struct {
	From            string `json:"from,omitempty" jsonschema:"first day of the window (YYYY-MM-DD, inclusive), defaults to today"`
	To              string `json:"to,omitempty" jsonschema:"last day of the window (YYYY-MM-DD, inclusive), defaults to today"`
	Filter          string `json:"filter,omitempty" jsonschema:"optional roster filter over id, given_name, family_name, grade, and area"`
	IncludeArchived bool   `json:"include_archived,omitempty" jsonschema:"include learners who have left the programme"`
}

// AttendanceSummary represents one learner's totals in MCP tool output.
type AttendanceSummary struct {
	LearnerID    string `json:"learner_id" jsonschema:"normalized learner identifier"`
	GivenName    string `json:"given_name" jsonschema:"given name"`
	FamilyName   string `json:"family_name" jsonschema:"family name"`
	InCount      int    `json:"in_count" jsonschema:"number of sign-ins in the window"`
	Sessions     int    `json:"sessions" jsonschema:"number of completed in/out pairs"`
	TotalPresent string `json:"total_present" jsonschema:"total time present, as a duration string"`
	Anomalies    int    `json:"anomalies,omitempty" jsonschema:"events that did not pair cleanly"`
	OpenInterval bool   `json:"open_interval,omitempty" jsonschema:"true when the learner was still signed in at the window end"`
}

// AttendanceReportResult represents the MCP tool output for a summary report.
type AttendanceReportResult struct {
	From      string              `json:"from" jsonschema:"RFC3339 start of the reported window"`
	To        string              `json:"to" jsonschema:"RFC3339 end of the reported window, exclusive"`
	Summaries []AttendanceSummary `json:"summaries" jsonschema:"per-learner attendance totals"`
}

// AttendanceReportTool defines the MCP tool schema for a summary report.
func AttendanceReportTool() *mcp.Tool {
	return &mcp.Tool{
		Name:        "attendance_report",
		Description: "Summarizes attendance per learner over a window of calendar days: sign-ins, completed sessions, and total time present.",
	}
}

// AttendanceReportHandler executes a summary report.
func AttendanceReportHandler(reports *report.Service, clock func() time.Time) mcp.ToolHandlerFor[AttendanceReportInput, AttendanceReportResult] {
	if clock == nil {
		clock = time.Now
	}
	return func(ctx context.Context, _ *mcp.CallToolRequest, input AttendanceReportInput) (*mcp.CallToolResult, AttendanceReportResult, error) {
		from, to, err := parseDayWindow(input.From, input.To, clock())
		if err != nil {
			return nil, AttendanceReportResult{}, err
		}
		generated, err := reports.Generate(ctx, report.Query{
			From:            from,
			To:              to,
			Filter:          input.Filter,
			IncludeArchived: input.IncludeArchived,
		})
		if err != nil {
			return nil, AttendanceReportResult{}, fmt.Errorf("report failed: %w", err)
		}
		result := AttendanceReportResult{
			From:      formatEventTime(generated.From),
			To:        formatEventTime(generated.To),
			Summaries: make([]AttendanceSummary, 0, len(generated.Summaries)),
		}
		for _, summary := range generated.Summaries {
			result.Summaries = append(result.Summaries, AttendanceSummary{
				LearnerID:    summary.LearnerID,
				GivenName:    summary.GivenName,
				FamilyName:   summary.FamilyName,
				InCount:      summary.InCount,
				Sessions:     summary.Sessions,
				TotalPresent: summary.TotalPresent.String(),
				Anomalies:    summary.Anomalies,
				OpenInterval: summary.OpenInterval,
			})
		}
		return nil, result, nil
	}
}

func learnerResult(member learner.Learner) LearnerResult {
	return LearnerResult{
		ID:         member.ID,
		GivenName:  member.GivenName,
		FamilyName: member.FamilyName,
		Grade:      member.Grade,
		Area:       member.Area,
		Contact:    member.Contact,
		BirthDate:  member.BirthDate,
		Archived:   member.Archived,
	}
}

// parseToolTime accepts an RFC 3339 timestamp or empty for the zero time.
func parseToolTime(field, raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s must be RFC 3339: %q", field, trimmed)
	}
	return at, nil
}

// parseDayWindow reads inclusive from/to calendar days, defaulting both to
// the current day, and advances the end a day so the window stays half-open.
func parseDayWindow(rawFrom, rawTo string, now time.Time) (time.Time, time.Time, error) {
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	from := today
	if trimmed := strings.TrimSpace(rawFrom); trimmed != "" {
		parsed, err := time.ParseInLocation(dayLayout, trimmed, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("from must be YYYY-MM-DD: %q", trimmed)
		}
		from = parsed
	}

	to := today
	if trimmed := strings.TrimSpace(rawTo); trimmed != "" {
		parsed, err := time.ParseInLocation(dayLayout, trimmed, now.Location())
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("to must be YYYY-MM-DD: %q", trimmed)
		}
		to = parsed
	}
	to = to.AddDate(0, 0, 1)

	if !from.Before(to) {
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is after to %s", from.Format(dayLayout), to.AddDate(0, 0, -1).Format(dayLayout))
	}
	return from, to, nil
}

// formatEventTime renders ledger times as RFC 3339 in UTC.
func formatEventTime(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}
