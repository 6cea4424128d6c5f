// Package config carries the environment and exit helpers shared by every
// rollbook binary.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from ROLLBOOK_* environment variables declared
// through env struct tags.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
