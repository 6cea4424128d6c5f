// Package main provides roster import and export utilities.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sebvermaak/rollbook/internal/platform/config"
	"github.com/sebvermaak/rollbook/internal/tools/roster"
)

func main() {
	cfg, err := roster.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		config.Exitf("Error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := roster.Run(ctx, cfg, os.Stdin, os.Stdout, os.Stderr); err != nil {
		config.Exitf("Error: %v", err)
	}
}
