package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	reports "github.com/sebvermaak/rollbook/internal/report"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite"
)

const dayLayout = "2006-01-02"

// Config holds report command configuration.
type Config struct {
	DBPath          string
	From            string
	To              string
	Filter          string
	IncludeArchived bool
	Matrix          bool
	JSONOutput      bool
}

type envConfig struct {
	DBPath string `env:"ROLLBOOK_DB" envDefault:"rollbook.db"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{DBPath: envCfg.DBPath}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the rollbook sqlite database (default: ROLLBOOK_DB or rollbook.db)")
	fs.StringVar(&cfg.From, "from", "", "first day of the report window, YYYY-MM-DD (default: today)")
	fs.StringVar(&cfg.To, "to", "", "last day of the report window, YYYY-MM-DD (default: today)")
	fs.StringVar(&cfg.Filter, "filter", "", "roster filter expression, e.g. grade = \"5\"")
	fs.BoolVar(&cfg.IncludeArchived, "include-archived", false, "include archived learners")
	fs.BoolVar(&cfg.Matrix, "matrix", false, "render a learner-by-day sheet instead of summaries")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON instead of CSV")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the report command.
func Run(ctx context.Context, cfg Config, out io.Writer, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	from, to, err := parseDayWindow(cfg.From, cfg.To, time.Now())
	if err != nil {
		return err
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if closeErr := store.Close(); closeErr != nil {
			fmt.Fprintf(errOut, "Error: close store: %v\n", closeErr)
		}
	}()

	service := reports.NewService(store)
	query := reports.Query{
		From:            from,
		To:              to,
		Filter:          cfg.Filter,
		IncludeArchived: cfg.IncludeArchived,
	}

	if cfg.Matrix {
		matrix, err := service.DayMatrix(ctx, query)
		if err != nil {
			return fmt.Errorf("build day matrix: %w", err)
		}
		if cfg.JSONOutput {
			return outputJSON(out, matrixOutput{Days: matrix.Days, Rows: matrixRows(matrix)})
		}
		return writeMatrixCSV(out, matrix)
	}

	if cfg.JSONOutput {
		generated, err := service.Generate(ctx, query)
		if err != nil {
			return fmt.Errorf("generate report: %w", err)
		}
		output := reportOutput{
			From: generated.From.Format(time.RFC3339),
			To:   generated.To.Format(time.RFC3339),
		}
		for _, summary := range generated.Summaries {
			output.Summaries = append(output.Summaries, summaryRow(summary))
		}
		return outputJSON(out, output)
	}

	return writeSummaryCSV(ctx, service, query, out)
}

type reportOutput struct {
	From      string          `json:"from"`
	To        string          `json:"to"`
	Summaries []summaryOutput `json:"summaries"`
}

type summaryOutput struct {
	LearnerID    string `json:"learner_id"`
	GivenName    string `json:"given_name"`
	FamilyName   string `json:"family_name"`
	InCount      int    `json:"in_count"`
	Sessions     int    `json:"sessions"`
	TotalPresent string `json:"total_present"`
	Anomalies    int    `json:"anomalies,omitempty"`
	OpenInterval bool   `json:"open_interval,omitempty"`
}

type matrixOutput struct {
	Days []string          `json:"days"`
	Rows []matrixRowOutput `json:"rows"`
}

type matrixRowOutput struct {
	LearnerID  string `json:"learner_id"`
	GivenName  string `json:"given_name"`
	FamilyName string `json:"family_name"`
	Attended   []bool `json:"attended"`
}

func summaryRow(summary reports.Summary) summaryOutput {
	return summaryOutput{
		LearnerID:    summary.LearnerID,
		GivenName:    summary.GivenName,
		FamilyName:   summary.FamilyName,
		InCount:      summary.InCount,
		Sessions:     summary.Sessions,
		TotalPresent: summary.TotalPresent.String(),
		Anomalies:    summary.Anomalies,
		OpenInterval: summary.OpenInterval,
	}
}

func matrixRows(matrix reports.Matrix) []matrixRowOutput {
	rows := make([]matrixRowOutput, 0, len(matrix.Rows))
	for _, row := range matrix.Rows {
		rows = append(rows, matrixRowOutput{
			LearnerID:  row.LearnerID,
			GivenName:  row.GivenName,
			FamilyName: row.FamilyName,
			Attended:   row.Attended,
		})
	}
	return rows
}

// writeSummaryCSV streams summaries straight to CSV so large windows never
// buffer the whole report.
func writeSummaryCSV(ctx context.Context, service *reports.Service, query reports.Query, out io.Writer) error {
	writer := csv.NewWriter(out)
	header := []string{"learner_id", "given_name", "family_name", "in_count", "sessions", "total_present", "anomalies", "open_interval"}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	err := service.Stream(ctx, query, func(summary reports.Summary) error {
		row := []string{
			summary.LearnerID,
			summary.GivenName,
			summary.FamilyName,
			strconv.Itoa(summary.InCount),
			strconv.Itoa(summary.Sessions),
			summary.TotalPresent.String(),
			strconv.Itoa(summary.Anomalies),
			strconv.FormatBool(summary.OpenInterval),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("stream report: %w", err)
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func writeMatrixCSV(out io.Writer, matrix reports.Matrix) error {
	writer := csv.NewWriter(out)
	header := append([]string{"learner_id", "given_name", "family_name"}, matrix.Days...)
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range matrix.Rows {
		record := []string{row.LearnerID, row.GivenName, row.FamilyName}
		for _, attended := range row.Attended {
			if attended {
				record = append(record, "1")
			} else {
				record = append(record, "0")
			}
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func outputJSON(out io.Writer, payload any) error {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	fmt.Fprintln(out, string(encoded))
	return nil
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
