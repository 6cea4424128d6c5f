package mcp

import (
	"context"
	"flag"
	"testing"
)

func TestParseConfigDefaults(t *testing.T) {
	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	cfg, err := ParseConfig(fs, nil)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "rollbook.db" {
		t.Fatalf("expected default db path, got %q", cfg.DBPath)
	}
	if cfg.ScanPolicy != "reject" {
		t.Fatalf("expected default scan policy, got %q", cfg.ScanPolicy)
	}
}

func TestParseConfigOverrides(t *testing.T) {
	t.Setenv("ROLLBOOK_DB", "env.db")
	t.Setenv("ROLLBOOK_SCAN_POLICY", "autocorrect")

	fs := flag.NewFlagSet("mcp", flag.ContinueOnError)
	args := []string{"-db", "flag.db"}
	cfg, err := ParseConfig(fs, args)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	if cfg.DBPath != "flag.db" {
		t.Fatalf("expected flag db path, got %q", cfg.DBPath)
	}
	if cfg.ScanPolicy != "autocorrect" {
		t.Fatalf("expected env scan policy, got %q", cfg.ScanPolicy)
	}
}

func TestRunRejectsUnknownPolicy(t *testing.T) {
	err := Run(context.Background(), Config{DBPath: "rollbook.db", ScanPolicy: "sometimes"})
	if err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
