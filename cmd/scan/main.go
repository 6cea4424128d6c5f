// Package main starts the front-desk scan kiosk and handles termination.
//
// The process wraps a barcode wedge reading stdin; scan semantics remain
// owned by the attendance domain.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	scancmd "github.com/sebvermaak/rollbook/internal/cmd/scan"
)

func main() {
	cfg, err := scancmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[SCAN] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := scancmd.Run(ctx, cfg, os.Stdin, os.Stdout); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
