package maintenance

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite"
)

const dayLayout = "2006-01-02"

// Config holds maintenance command configuration.
type Config struct {
	DBPath      string
	Check       bool
	Vacuum      bool
	PruneEvents bool
	Before      string
	DryRun      bool
	JSONOutput  bool
	Timeout     time.Duration
}

type envConfig struct {
	DBPath  string        `env:"ROLLBOOK_DB" envDefault:"rollbook.db"`
	Timeout time.Duration `env:"ROLLBOOK_MAINTENANCE_TIMEOUT" envDefault:"10m"`
}

// ParseConfig parses flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var envCfg envConfig
	if err := env.Parse(&envCfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := Config{
		DBPath:  envCfg.DBPath,
		Timeout: envCfg.Timeout,
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the rollbook database")
	fs.BoolVar(&cfg.Check, "check", false, "sweep the database for corruption and ledger inconsistencies")
	fs.BoolVar(&cfg.Vacuum, "vacuum", false, "rebuild the database file to reclaim space")
	fs.BoolVar(&cfg.PruneEvents, "prune-events", false, "delete attendance events older than -before")
	fs.StringVar(&cfg.Before, "before", "", "retention cutoff day (YYYY-MM-DD), required with -prune-events")
	fs.BoolVar(&cfg.DryRun, "dry-run", false, "report what -prune-events would delete without deleting")
	fs.BoolVar(&cfg.JSONOutput, "json", false, "output JSON reports")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "overall timeout")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type issueOutput struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

type checkOutput struct {
	Issues []issueOutput `json:"issues"`
	Count  int           `json:"count"`
}

type pruneOutput struct {
	Cutoff string `json:"cutoff"`
	Events int64  `json:"events"`
	DryRun bool   `json:"dry_run,omitempty"`
}

// Run executes the maintenance command.
func Run(ctx context.Context, cfg Config, out, errOut io.Writer) error {
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	modes := 0
	for _, enabled := range []bool{cfg.Check, cfg.Vacuum, cfg.PruneEvents} {
		if enabled {
			modes++
		}
	}
	if modes == 0 {
		return errors.New("-check, -vacuum, or -prune-events is required")
	}
	if modes > 1 {
		return errors.New("-check, -vacuum, and -prune-events cannot be combined")
	}
	if !cfg.PruneEvents {
		if strings.TrimSpace(cfg.Before) != "" {
			return errors.New("-before requires -prune-events")
		}
		if cfg.DryRun {
			return errors.New("-dry-run requires -prune-events")
		}
	}

	var cutoff time.Time
	if cfg.PruneEvents {
		trimmed := strings.TrimSpace(cfg.Before)
		if trimmed == "" {
			return errors.New("-before is required with -prune-events")
		}
		parsed, err := time.ParseInLocation(dayLayout, trimmed, time.Now().Location())
		if err != nil {
			return fmt.Errorf("before must be YYYY-MM-DD: %q", cfg.Before)
		}
		cutoff = parsed
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

	switch {
	case cfg.Check:
		return runCheck(ctx, store, cfg.JSONOutput, out)
	case cfg.Vacuum:
		return runVacuum(ctx, store, out)
	default:
		return runPrune(ctx, store, cutoff, cfg.DryRun, cfg.JSONOutput, out)
	}
}

// runCheck prints every issue and fails when any was found so scheduled
// sweeps turn into a non-zero exit.
func runCheck(ctx context.Context, store *sqlite.Store, jsonOutput bool, out io.Writer) error {
	issues, err := store.CheckIntegrity(ctx)
	if err != nil {
		return fmt.Errorf("check integrity: %w", err)
	}

	if jsonOutput {
		output := checkOutput{Issues: make([]issueOutput, 0, len(issues)), Count: len(issues)}
		for _, issue := range issues {
			output.Issues = append(output.Issues, issueOutput{Kind: issue.Kind, Detail: issue.Detail})
		}
		if err := outputJSON(out, output); err != nil {
			return err
		}
	} else {
		for _, issue := range issues {
			fmt.Fprintf(out, "%s: %s\n", issue.Kind, issue.Detail)
		}
		fmt.Fprintf(out, "Found %d issue(s)\n", len(issues))
	}

	if len(issues) > 0 {
		return errors.New("integrity issues found")
	}
	return nil
}

func runVacuum(ctx context.Context, store *sqlite.Store, out io.Writer) error {
	if err := store.Vacuum(ctx); err != nil {
		return fmt.Errorf("vacuum store: %w", err)
	}
	fmt.Fprintln(out, "Vacuum complete.")
	return nil
}

func runPrune(ctx context.Context, store *sqlite.Store, cutoff time.Time, dryRun, jsonOutput bool, out io.Writer) error {
	if dryRun {
		count, err := store.CountEventsBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("count events: %w", err)
		}
		if jsonOutput {
			return outputJSON(out, pruneOutput{Cutoff: cutoff.Format(dayLayout), Events: count, DryRun: true})
		}
		fmt.Fprintf(out, "Would prune %d event(s) before %s\n", count, cutoff.Format(dayLayout))
		return nil
	}

	pruned, err := store.PruneEventsBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("prune events: %w", err)
	}
	if jsonOutput {
		return outputJSON(out, pruneOutput{Cutoff: cutoff.Format(dayLayout), Events: pruned})
	}
	fmt.Fprintf(out, "Pruned %d event(s) before %s\n", pruned, cutoff.Format(dayLayout))
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
