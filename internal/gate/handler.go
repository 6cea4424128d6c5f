package gate

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/learner"
	"github.com/sebvermaak/rollbook/internal/report"
	"github.com/sebvermaak/rollbook/internal/storage/cursor"
	"github.com/sebvermaak/rollbook/internal/storage/filter"
	"golang.org/x/net/websocket"
)

const dayLayout = "2006-01-02"

// Services are the domain dependencies the gate surface exposes.
type Services struct {
	Learners *learner.Service
	Ledger   *attendance.Service
	Reports  *report.Service
}

type handlers struct {
	learners *learner.Service
	ledger   *attendance.Service
	reports  *report.Service
	hub      *feedHub
	clock    func() time.Time
}

type learnerView struct {
	ID         string `json:"id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Grade      string `json:"grade,omitempty"`
	Area       string `json:"area,omitempty"`
	Contact    string `json:"contact,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"`
	Archived   bool   `json:"archived,omitempty"`
}

type learnerPageView struct {
	Learners      []learnerView `json:"learners"`
	NextPageToken string        `json:"next_page_token,omitempty"`
}

type learnerRequest struct {
	ID         string `json:"id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Grade      string `json:"grade"`
	Area       string `json:"area"`
	Contact    string `json:"contact"`
	BirthDate  string `json:"birth_date"`
}

// learnerPatch distinguishes absent fields from empty ones so a PATCH
// can clear a field without rewriting the rest.
type learnerPatch struct {
	GivenName  *string `json:"given_name"`
	FamilyName *string `json:"family_name"`
	Grade      *string `json:"grade"`
	Area       *string `json:"area"`
	Contact    *string `json:"contact"`
	BirthDate  *string `json:"birth_date"`
}

type scanRequest struct {
	LearnerID  string `json:"learner_id"`
	Direction  string `json:"direction"`
	OccurredAt string `json:"occurred_at"`
	Source     string `json:"source"`
}

type scanResponse struct {
	EventID       int64       `json:"event_id"`
	Learner       learnerView `json:"learner"`
	Direction     string      `json:"direction"`
	OccurredAt    string      `json:"occurred_at"`
	AutoCorrected bool        `json:"auto_corrected,omitempty"`
}

type presenceView struct {
	LearnerID  string `json:"learner_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Since      string `json:"since"`
}

type presencePageView struct {
	Date    string         `json:"date"`
	Present []presenceView `json:"present"`
}

type statusView struct {
	LearnerID string `json:"learner_id"`
	Present   bool   `json:"present"`
	LastSeen  string `json:"last_seen,omitempty"`
	Direction string `json:"direction,omitempty"`
}

type eventView struct {
	ID            int64  `json:"id"`
	LearnerID     string `json:"learner_id"`
	Direction     string `json:"direction"`
	OccurredAt    string `json:"occurred_at"`
	Source        string `json:"source,omitempty"`
	AutoCorrected bool   `json:"auto_corrected,omitempty"`
}

type historyView struct {
	LearnerID string      `json:"learner_id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Events    []eventView `json:"events"`
}

type eventPageView struct {
	Events        []eventView `json:"events"`
	NextPageToken string      `json:"next_page_token,omitempty"`
}

type summaryView struct {
	LearnerID    string `json:"learner_id"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	InCount      int    `json:"in_count"`
	Sessions     int    `json:"sessions"`
	TotalPresent string `json:"total_present"`
	Anomalies    int    `json:"anomalies,omitempty"`
	OpenInterval bool   `json:"open_interval,omitempty"`
}

type reportView struct {
	From      string        `json:"from"`
	To        string        `json:"to"`
	Summaries []summaryView `json:"summaries"`
}

type errorView struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewHandler creates the gate HTTP routes over the given domain services.
func NewHandler(services Services) http.Handler {
	return newHandler(services, newFeedHub(), nil)
}

func newHandler(services Services, hub *feedHub, clock func() time.Time) http.Handler {
	if clock == nil {
		clock = time.Now
	}
	h := &handlers{
		learners: services.Learners,
		ledger:   services.Ledger,
		reports:  services.Reports,
		hub:      hub,
		clock:    clock,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/up", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mux.HandleFunc(http.MethodPost+" /api/scans", h.handleScan)
	mux.HandleFunc(http.MethodGet+" /api/present", h.handlePresent)
	mux.HandleFunc(http.MethodGet+" /api/events", h.handleListEvents)
	mux.HandleFunc(http.MethodGet+" /api/learners", h.handleListLearners)
	mux.HandleFunc(http.MethodPost+" /api/learners", h.handleCreateLearner)
	mux.HandleFunc(http.MethodGet+" /api/learners/{learnerID}", h.handleGetLearner)
	mux.HandleFunc(http.MethodPatch+" /api/learners/{learnerID}", h.handlePatchLearner)
	mux.HandleFunc(http.MethodDelete+" /api/learners/{learnerID}", h.handleArchiveLearner)
	mux.HandleFunc(http.MethodGet+" /api/learners/{learnerID}/status", h.handleStatus)
	mux.HandleFunc(http.MethodGet+" /api/learners/{learnerID}/events", h.handleHistory)
	mux.HandleFunc(http.MethodGet+" /api/report", h.handleReport)

	wsHandler := websocket.Handler(func(conn *websocket.Conn) {
		handleFeedConn(conn, hub)
	})
	mux.HandleFunc("/ws/feed", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		wsHandler.ServeHTTP(w, r)
	})

	return mux
}

// handleScan appends one movement. An empty direction toggles off the
// learner's last event; an explicit one goes through sequence checks.
// Accepted and refused scans both reach the live feed.
func (h *handlers) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body must be JSON")
		return
	}

	occurredAt, err := parseScanTime(req.OccurredAt)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_TIMESTAMP", err.Error())
		return
	}

	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "gate"
	}

	ctx, span := traceScan(r.Context(), source)
	defer span.End()

	var event attendance.Event
	if strings.TrimSpace(req.Direction) == "" {
		event, err = h.ledger.Toggle(ctx, attendance.ToggleInput{
			LearnerID:  req.LearnerID,
			OccurredAt: occurredAt,
			Source:     source,
		})
	} else {
		event, err = h.ledger.Record(ctx, attendance.RecordInput{
			LearnerID:  req.LearnerID,
			Direction:  req.Direction,
			OccurredAt: occurredAt,
			Source:     source,
		})
	}
	if err != nil {
		code, status := scanErrorCode(err)
		auditRefusedScan(span, code, err)
		if status < http.StatusInternalServerError {
			h.hub.broadcastError(code, err.Error())
		}
		writeError(w, status, code, err.Error())
		return
	}
	auditAcceptedScan(span, event.LearnerID, string(event.Direction), event.AutoCorrected)

	member, err := h.learners.Get(ctx, event.LearnerID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := viewFromLearner(member)
	h.hub.broadcastScan(view, string(event.Direction), event.OccurredAt)
	writeJSON(w, http.StatusCreated, scanResponse{
		EventID:       event.ID,
		Learner:       view,
		Direction:     string(event.Direction),
		OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
		AutoCorrected: event.AutoCorrected,
	})
}

func (h *handlers) handlePresent(w http.ResponseWriter, r *http.Request) {
	at := h.clock()
	if raw := strings.TrimSpace(r.URL.Query().Get("date")); raw != "" {
		day, err := time.ParseInLocation(dayLayout, raw, at.Location())
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_DATE", "date must be YYYY-MM-DD")
			return
		}
		at = day
	}

	present, err := h.ledger.Present(r.Context(), at)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	page := presencePageView{
		Date:    at.Format(dayLayout),
		Present: make([]presenceView, 0, len(present)),
	}
	for _, p := range present {
		page.Present = append(page.Present, presenceView{
			LearnerID:  p.LearnerID,
			GivenName:  p.GivenName,
			FamilyName: p.FamilyName,
			Since:      p.Since.UTC().Format(time.RFC3339),
		})
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *handlers) handleListEvents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageSize := 0
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_PAGE_SIZE", "page_size must be an integer")
			return
		}
		pageSize = parsed
	}

	page, err := h.ledger.List(r.Context(), attendance.ListInput{
		Filter:    query.Get("filter"),
		PageSize:  pageSize,
		PageToken: query.Get("page_token"),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := eventPageView{
		Events:        make([]eventView, 0, len(page.Events)),
		NextPageToken: page.NextPageToken,
	}
	for _, event := range page.Events {
		view.Events = append(view.Events, eventView{
			ID:            event.ID,
			LearnerID:     event.LearnerID,
			Direction:     string(event.Direction),
			OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
			Source:        event.Source,
			AutoCorrected: event.AutoCorrected,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) handleListLearners(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	pageSize := 0
	if raw := strings.TrimSpace(query.Get("page_size")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "INVALID_PAGE_SIZE", "page_size must be an integer")
			return
		}
		pageSize = parsed
	}

	page, err := h.learners.List(r.Context(), learner.ListInput{
		Filter:          query.Get("filter"),
		PageSize:        pageSize,
		PageToken:       query.Get("page_token"),
		IncludeArchived: query.Get("include_archived") == "true",
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := learnerPageView{
		Learners:      make([]learnerView, 0, len(page.Learners)),
		NextPageToken: page.NextPageToken,
	}
	for _, member := range page.Learners {
		view.Learners = append(view.Learners, viewFromLearner(member))
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) handleCreateLearner(w http.ResponseWriter, r *http.Request) {
	var req learnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body must be JSON")
		return
	}
	member, err := h.learners.Create(r.Context(), learner.Input{
		ID:         req.ID,
		GivenName:  req.GivenName,
		FamilyName: req.FamilyName,
		Grade:      req.Grade,
		Area:       req.Area,
		Contact:    req.Contact,
		BirthDate:  req.BirthDate,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewFromLearner(member))
}

func (h *handlers) handleGetLearner(w http.ResponseWriter, r *http.Request) {
	member, err := h.learners.Get(r.Context(), r.PathValue("learnerID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFromLearner(member))
}

func (h *handlers) handlePatchLearner(w http.ResponseWriter, r *http.Request) {
	var patch learnerPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "MALFORMED_BODY", "request body must be JSON")
		return
	}

	existing, err := h.learners.Get(r.Context(), r.PathValue("learnerID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	input := learner.Input{
		ID:         existing.ID,
		GivenName:  existing.GivenName,
		FamilyName: existing.FamilyName,
		Grade:      existing.Grade,
		Area:       existing.Area,
		Contact:    existing.Contact,
		BirthDate:  existing.BirthDate,
	}
	applyPatch(&input, patch)

	member, err := h.learners.Update(r.Context(), input)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewFromLearner(member))
}

func (h *handlers) handleArchiveLearner(w http.ResponseWriter, r *http.Request) {
	if err := h.learners.Archive(r.Context(), r.PathValue("learnerID")); err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handlers) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.ledger.Status(r.Context(), r.PathValue("learnerID"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := statusView{
		LearnerID: status.LearnerID,
		Present:   status.Present,
	}
	if status.LastEvent != nil {
		view.LastSeen = status.LastEvent.OccurredAt.UTC().Format(time.RFC3339)
		view.Direction = string(status.LastEvent.Direction)
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDayRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), h.clock())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_RANGE", err.Error())
		return
	}

	learnerID := r.PathValue("learnerID")
	events, err := h.ledger.History(r.Context(), learnerID, from, to)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := historyView{
		LearnerID: learner.NormalizeID(learnerID),
		From:      from.UTC().Format(time.RFC3339),
		To:        to.UTC().Format(time.RFC3339),
		Events:    make([]eventView, 0, len(events)),
	}
	for _, event := range events {
		view.Events = append(view.Events, eventView{
			ID:            event.ID,
			LearnerID:     event.LearnerID,
			Direction:     string(event.Direction),
			OccurredAt:    event.OccurredAt.UTC().Format(time.RFC3339),
			Source:        event.Source,
			AutoCorrected: event.AutoCorrected,
		})
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handlers) handleReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := parseDayRange(r.URL.Query().Get("from"), r.URL.Query().Get("to"), h.clock())
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_RANGE", err.Error())
		return
	}

	generated, err := h.reports.Generate(r.Context(), report.Query{
		From:            from,
		To:              to,
		Filter:          r.URL.Query().Get("filter"),
		IncludeArchived: r.URL.Query().Get("include_archived") == "true",
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	view := reportView{
		From:      generated.From.UTC().Format(time.RFC3339),
		To:        generated.To.UTC().Format(time.RFC3339),
		Summaries: make([]summaryView, 0, len(generated.Summaries)),
	}
	for _, summary := range generated.Summaries {
		view.Summaries = append(view.Summaries, summaryView{
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
	writeJSON(w, http.StatusOK, view)
}

// parseScanTime accepts an RFC 3339 timestamp or empty for "now".
func parseScanTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, nil
	}
	at, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("occurred_at must be RFC 3339: %q", trimmed)
	}
	return at, nil
}

// parseDayRange reads from/to calendar days. Both bounds are inclusive on
// the wire; to is advanced a day so the window stays half-open internally.
// Missing bounds default to the current day.
func parseDayRange(rawFrom, rawTo string, now time.Time) (time.Time, time.Time, error) {
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
		return time.Time{}, time.Time{}, fmt.Errorf("from %s is after to %s", rawFrom, rawTo)
	}
	return from, to, nil
}

func applyPatch(input *learner.Input, patch learnerPatch) {
	if patch.GivenName != nil {
		input.GivenName = *patch.GivenName
	}
	if patch.FamilyName != nil {
		input.FamilyName = *patch.FamilyName
	}
	if patch.Grade != nil {
		input.Grade = *patch.Grade
	}
	if patch.Area != nil {
		input.Area = *patch.Area
	}
	if patch.Contact != nil {
		input.Contact = *patch.Contact
	}
	if patch.BirthDate != nil {
		input.BirthDate = *patch.BirthDate
	}
}

func viewFromLearner(member learner.Learner) learnerView {
	return learnerView{
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

// scanErrorCode maps a refused scan to its feed and response code.
func scanErrorCode(err error) (string, int) {
	switch {
	case errors.Is(err, attendance.ErrUnknownLearner):
		return "UNKNOWN_LEARNER", http.StatusNotFound
	case errors.Is(err, attendance.ErrSequenceViolation):
		return "SEQUENCE_VIOLATION", http.StatusConflict
	case errors.Is(err, attendance.ErrEventOutOfOrder):
		return "EVENT_OUT_OF_ORDER", http.StatusConflict
	case errors.Is(err, attendance.ErrDirectionInvalid):
		return "INVALID_DIRECTION", http.StatusUnprocessableEntity
	default:
		return "INTERNAL", http.StatusInternalServerError
	}
}

// writeServiceError translates domain sentinels into HTTP statuses.
func (h *handlers) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, learner.ErrLearnerNotFound),
		errors.Is(err, attendance.ErrUnknownLearner):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, learner.ErrDuplicateIdentifier):
		writeError(w, http.StatusConflict, "DUPLICATE_IDENTIFIER", err.Error())
	case errors.Is(err, attendance.ErrSequenceViolation),
		errors.Is(err, attendance.ErrEventOutOfOrder):
		writeError(w, http.StatusConflict, "CONFLICT", err.Error())
	case errors.Is(err, learner.ErrIdentifierRequired),
		errors.Is(err, learner.ErrNameRequired),
		errors.Is(err, learner.ErrBirthDateInvalid),
		errors.Is(err, attendance.ErrDirectionInvalid),
		errors.Is(err, attendance.ErrRangeInvalid),
		errors.Is(err, report.ErrRangeInvalid),
		errors.Is(err, filter.ErrInvalid),
		errors.Is(err, cursor.ErrInvalid):
		writeError(w, http.StatusUnprocessableEntity, "INVALID_ARGUMENT", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

// writeJSON writes a JSON body with normalized headers and status.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorView{Error: errorBody{Code: code, Message: message}})
}
