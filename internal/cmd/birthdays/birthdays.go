// Package birthdays parses birthday command flags and runs the greeting sweep.
package birthdays

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/sebvermaak/rollbook/internal/birthday"
	"github.com/sebvermaak/rollbook/internal/birthday/render"
	entrypoint "github.com/sebvermaak/rollbook/internal/platform/cmd"
	"github.com/sebvermaak/rollbook/internal/platform/timeouts"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite"
)

// Config holds birthdays command configuration.
type Config struct {
	DBPath   string        `env:"ROLLBOOK_DB"                envDefault:"rollbook.db"`
	Locale   string        `env:"ROLLBOOK_GREETING_LOCALE"   envDefault:"en"`
	Interval time.Duration `env:"ROLLBOOK_BIRTHDAY_INTERVAL"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the rollbook sqlite database")
	fs.StringVar(&cfg.Locale, "locale", cfg.Locale, "greeting language, e.g. en or af")
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "time between sweeps (0 runs one sweep and exits)")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the store and sweeps for birthdays, once or on an interval.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceBirthdays, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		tag := render.ResolveTag(cfg.Locale)
		service := birthday.NewService(store, birthday.LogDispatcher{}, tag, time.Now)

		if err := sweep(ctx, service); err != nil {
			return err
		}
		if cfg.Interval <= 0 {
			return nil
		}

		ticker := time.NewTicker(cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if err := sweep(ctx, service); err != nil {
					log.Printf("birthday sweep failed: %v", err)
				}
			}
		}
	})
}

// sweep greets today's birthdays and logs the outcome counts. Each run is
// bounded so a stalled dispatcher cannot wedge the ticker loop.
func sweep(ctx context.Context, service *birthday.Service) error {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Sweep)
	defer cancel()

	result, err := service.Sweep(ctx, time.Time{})
	if err != nil {
		return fmt.Errorf("sweep birthdays: %w", err)
	}
	log.Printf("birthday sweep: matched=%d sent=%d skipped=%d failed=%d",
		result.Matched, result.Sent, result.Skipped, result.Failed)
	return nil
}
