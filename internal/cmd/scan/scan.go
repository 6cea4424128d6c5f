// Package scan parses scan command flags and runs the front-desk kiosk loop.
package scan

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/kiosk"
	"github.com/sebvermaak/rollbook/internal/learner"
	entrypoint "github.com/sebvermaak/rollbook/internal/platform/cmd"
	"github.com/sebvermaak/rollbook/internal/storage/sqlite"
)

// Config holds scan command configuration.
type Config struct {
	DBPath         string `env:"ROLLBOOK_DB"              envDefault:"rollbook.db"`
	ScanPolicy     string `env:"ROLLBOOK_SCAN_POLICY"     envDefault:"reject"`
	GreetingScript string `env:"ROLLBOOK_GREETING_SCRIPT"`
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}

	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "path to the rollbook sqlite database")
	fs.StringVar(&cfg.ScanPolicy, "scan-policy", cfg.ScanPolicy, "repeated-direction policy: reject or autocorrect")
	fs.StringVar(&cfg.GreetingScript, "greeting-script", cfg.GreetingScript, "path to a Lua greeting script")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run opens the store and drives the kiosk loop over the given reader. A nil
// reader reads from stdin; a nil writer prints to stdout.
func Run(ctx context.Context, cfg Config, in io.Reader, out io.Writer) error {
	policy, err := attendance.ParsePolicy(cfg.ScanPolicy)
	if err != nil {
		return err
	}
	if in == nil {
		in = os.Stdin
	}

	var hook kiosk.GreetingHook
	if script := strings.TrimSpace(cfg.GreetingScript); script != "" {
		luaHook, err := kiosk.LoadLuaHook(script)
		if err != nil {
			return fmt.Errorf("load greeting script: %w", err)
		}
		hook = luaHook
	}

	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceScan, func(context.Context) error {
		store, err := sqlite.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer store.Close()

		roster := learner.NewService(store, time.Now)
		ledger := attendance.NewService(store, policy, time.Now)
		desk := kiosk.New(ledger, roster, kiosk.Options{Hook: hook, Output: out})
		if err := desk.Run(ctx, in); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("run kiosk: %w", err)
		}
		return nil
	})
}
