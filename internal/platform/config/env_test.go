package config

import (
	"strings"
	"testing"
)

type envTestConfig struct {
	DBPath string `env:"ROLLBOOK_TEST_DB_PATH" envDefault:"data/test.db"`
	Port   int    `env:"ROLLBOOK_TEST_PORT" envDefault:"8430"`
}

func TestParseEnvDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 8430 {
		t.Fatalf("expected default port 8430, got %d", cfg.Port)
	}
	if cfg.DBPath != "data/test.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
}

func TestParseEnvOverride(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("ROLLBOOK_TEST_PORT", "9000")

	if err := ParseEnv(&cfg); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Port != 9000 {
		t.Fatalf("expected overridden port 9000, got %d", cfg.Port)
	}
}

func TestParseEnvError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("ROLLBOOK_TEST_PORT", "not-an-int")

	err := ParseEnv(&cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env:") {
		t.Fatalf("expected parse env prefix, got %v", err)
	}
}
