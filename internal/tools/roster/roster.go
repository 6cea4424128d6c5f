package roster

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/sebvermaak/rollbook/internal/learner"
	rostercsv "github.com/sebvermaak/rollbook/internal/roster"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite"
)

// Config holds roster command configuration.
type Config struct {
	DBPath          string
	ImportPath      string
	Export          bool
	SeedPath        string
	IncludeArchived bool
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
	fs.StringVar(&cfg.ImportPath, "import", "", "CSV file to load into the roster (- reads stdin)")
	fs.BoolVar(&cfg.Export, "export", false, "write the roster as CSV to stdout")
	fs.StringVar(&cfg.SeedPath, "seed", "", "CSV file to load only when the roster is empty")
	fs.BoolVar(&cfg.IncludeArchived, "include-archived", false, "include archived learners in the export")
	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run executes the roster command.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer, errOut io.Writer) error {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = io.Discard
	}
	if errOut == nil {
		errOut = io.Discard
	}

	importPath := strings.TrimSpace(cfg.ImportPath)
	seedPath := strings.TrimSpace(cfg.SeedPath)
	modes := 0
	if importPath != "" {
		modes++
	}
	if cfg.Export {
		modes++
	}
	if seedPath != "" {
		modes++
	}
	if modes == 0 {
		return errors.New("-import, -export, or -seed is required")
	}
	if modes > 1 {
		return errors.New("-import, -export, and -seed cannot be combined")
	}
	if cfg.IncludeArchived && !cfg.Export {
		return errors.New("-include-archived requires -export")
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

	service := rostercsv.NewService(learner.NewService(store, time.Now))

	switch {
	case cfg.Export:
		if err := service.Export(ctx, out, rostercsv.ExportOptions{IncludeArchived: cfg.IncludeArchived}); err != nil {
			return fmt.Errorf("export roster: %w", err)
		}
		return nil
	case seedPath != "":
		result, err := service.SeedIfEmpty(ctx, seedPath)
		if err != nil {
			return fmt.Errorf("seed roster: %w", err)
		}
		if !result.Seeded {
			fmt.Fprintln(out, "Roster already has learners; seed skipped.")
			return nil
		}
		printResult(out, errOut, result)
		return nil
	default:
		reader := in
		if importPath != "-" {
			file, err := os.Open(importPath)
			if err != nil {
				return fmt.Errorf("open roster csv: %w", err)
			}
			defer file.Close()
			reader = file
		}
		result, err := service.Import(ctx, reader)
		if err != nil {
			return fmt.Errorf("import roster: %w", err)
		}
		printResult(out, errOut, result)
		if result.Failed > 0 && result.Applied == 0 {
			return errors.New("no roster rows applied")
		}
		return nil
	}
}

func printResult(out io.Writer, errOut io.Writer, result rostercsv.Result) {
	for _, rowErr := range result.Errors {
		fmt.Fprintf(errOut, "Warning: %v\n", rowErr)
	}
	fmt.Fprintf(out, "Applied %d learner(s), %d row(s) failed\n", result.Applied, result.Failed)
}
