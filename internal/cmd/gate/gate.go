// Package gate parses gate command flags and runs the sign-in gate service.
package gate

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/sebvermaak/rollbook/internal/attendance"
	server "github.com/sebvermaak/rollbook/internal/gate"
	"github.com/sebvermaak/rollbook/internal/learner"
	entrypoint "github.com/sebvermaak/rollbook/internal/platform/cmd"
	"github.com/sebvermaak/rollbook/internal/report"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite"
)

// Config holds gate command configuration.
type Config struct {
	DBPath     string `env:"ROLLBOOK_DB"             envDefault:"rollbook.db"`
	HTTPAddr   string `env:"ROLLBOOK_GATE_HTTP_ADDR" envDefault:":8080"`
	ScanPolicy string `env:"ROLLBOOK_SCAN_POLICY"    envDefault:"reject"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the rollbook sqlite database")
	fs.StringVar(&cfg.HTTPAddr, "http-addr", cfg.HTTPAddr, "gate HTTP listen address")
	fs.StringVar(&cfg.ScanPolicy, "scan-policy", cfg.ScanPolicy, "repeated-direction policy: reject or autocorrect")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the store and serves the gate until the context ends.
func Run(ctx context.Context, cfg Config) error {
	policy, err := attendance.ParsePolicy(cfg.ScanPolicy)
	if err != nil {
		return err
	}
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceGate, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		services := server.Services{
			Learners: learner.NewService(store, time.Now),
			Ledger:   attendance.NewService(store, policy, time.Now),
			Reports:  report.NewService(store),
		}
		if err := server.Run(ctx, server.Config{HTTPAddr: cfg.HTTPAddr}, services); err != nil {
			return fmt.Errorf("serve gate: %w", err)
		}
		return nil
	})
}
