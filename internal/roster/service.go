// Package roster bulk-loads and dumps learner records as CSV.
package roster

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sebvermaak/rollbook/internal/learner"
)

var (
	// ErrHeaderInvalid indicates the CSV header is missing required columns.
	ErrHeaderInvalid = errors.New("csv header must name id, given_name, and family_name columns")
	// ErrServiceNotConfigured indicates the adapter is missing learner wiring.
	ErrServiceNotConfigured = errors.New("roster learner service is not configured")
)

// Header is the canonical CSV column order for learner rows.
var Header = []string{"id", "given_name", "family_name", "grade", "area", "contact", "birth_date"}

const exportPageSize = 200

// RowError reports one CSV row that could not be applied.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error {
	return e.Err
}

// Result summarizes one import batch.
type Result struct {
	Applied int
	Failed  int
	Errors  []RowError
	Seeded  bool
}

// ExportOptions configures Export.
type ExportOptions struct {
	IncludeArchived bool
}

// LearnerService is the roster membership boundary the adapter writes through.
type LearnerService interface {
	Upsert(ctx context.Context, input learner.Input) (learner.Learner, error)
	List(ctx context.Context, input learner.ListInput) (learner.Page, error)
	Count(ctx context.Context) (int, error)
}

// Service bridges CSV files and the learner roster.
type Service struct {
	learners LearnerService
}

// NewService constructs the CSV adapter.
func NewService(learners LearnerService) *Service {
	return &Service{learners: learners}
}

// Import applies one learner row per CSV record, creating or rewriting by
// identifier. Row failures are collected, not fatal; a malformed header is.
func (s *Service) Import(ctx context.Context, r io.Reader) (Result, error) {
	if s == nil || s.learners == nil {
		return Result{}, ErrServiceNotConfigured
	}

	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return Result{}, fmt.Errorf("read csv header: %w", err)
	}
	columns, err := mapColumns(header)
	if err != nil {
		return Result{}, err
	}

	result := Result{}
	line := 1
	for {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		line++
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			result.Errors = append(result.Errors, RowError{Line: parseErr.Line, Err: err})
			continue
		}
		if err != nil {
			return result, fmt.Errorf("read csv row: %w", err)
		}

		input := learner.Input{
			ID:         field(row, columns, "id"),
			GivenName:  field(row, columns, "given_name"),
			FamilyName: field(row, columns, "family_name"),
			Grade:      field(row, columns, "grade"),
			Area:       field(row, columns, "area"),
			Contact:    field(row, columns, "contact"),
			BirthDate:  field(row, columns, "birth_date"),
		}
		if _, err := s.learners.Upsert(ctx, input); err != nil {
			result.Errors = append(result.Errors, RowError{Line: line, Err: err})
			continue
		}
		result.Applied++
	}
	result.Failed = len(result.Errors)
	return result, nil
}

// Export writes the roster as CSV ordered by identifier.
func (s *Service) Export(ctx context.Context, w io.Writer, opts ExportOptions) error {
	if s == nil || s.learners == nil {
		return ErrServiceNotConfigured
	}

	writer := csv.NewWriter(w)
	if err := writer.Write(Header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	pageToken := ""
	for {
		page, err := s.learners.List(ctx, learner.ListInput{
			PageSize:        exportPageSize,
			PageToken:       pageToken,
			IncludeArchived: opts.IncludeArchived,
		})
		if err != nil {
			return err
		}
		for _, member := range page.Learners {
			row := []string{
				member.ID,
				member.GivenName,
				member.FamilyName,
				member.Grade,
				member.Area,
				member.Contact,
				member.BirthDate,
			}
			if err := writer.Write(row); err != nil {
				return fmt.Errorf("write csv row: %w", err)
			}
		}
		if page.NextPageToken == "" {
			break
		}
		pageToken = page.NextPageToken
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// SeedIfEmpty imports the CSV at path only when the roster has never held
// a learner. An empty path is a no-op.
func (s *Service) SeedIfEmpty(ctx context.Context, path string) (Result, error) {
	if s == nil || s.learners == nil {
		return Result{}, ErrServiceNotConfigured
	}
	if strings.TrimSpace(path) == "" {
		return Result{}, nil
	}

	count, err := s.learners.Count(ctx)
	if err != nil {
		return Result{}, err
	}
	if count > 0 {
		return Result{}, nil
	}

	file, err := os.Open(path)
	if err != nil {
		return Result{}, fmt.Errorf("open seed csv: %w", err)
	}
	defer file.Close()

	result, err := s.Import(ctx, file)
	if err != nil {
		return result, err
	}
	result.Seeded = true
	return result, nil
}

// mapColumns resolves header names to row indices. Required columns must be
// present; unknown columns are ignored.
func mapColumns(header []string) (map[string]int, error) {
	columns := make(map[string]int, len(header))
	for i, name := range header {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, required := range []string{"id", "given_name", "family_name"} {
		if _, ok := columns[required]; !ok {
			return nil, fmt.Errorf("%w: missing %q", ErrHeaderInvalid, required)
		}
	}
	return columns, nil
}

func field(row []string, columns map[string]int, name string) string {
	index, ok := columns[name]
	if !ok || index >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[index])
}
