// Package main starts the gate service and handles termination.
//
// The process is a transport adapter around the roster and the attendance
// ledger so scan semantics remain owned by the attendance domain.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	gatecmd "github.com/sebvermaak/rollbook/internal/cmd/gate"
)

func main() {
	cfg, err := gatecmd.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	log.SetPrefix("[GATE] ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gatecmd.Run(ctx, cfg); err != nil {
		log.Fatalf("failed to serve: %v", err)
	}
}
