// Package gate hosts the HTTP and WebSocket surface for the sign-in gate.
//
// It exposes the roster, the movement ledger, presence queries, and report
// generation over JSON, plus a one-way live feed of scans for wall displays.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/sebvermaak/rollbook/internal/platform/timeouts"
)

// Config defines the inputs for the gate transport boundary.
type Config struct {
	HTTPAddr          string
	ReadHeaderTimeout time.Duration
	ShutdownTimeout   time.Duration
}

// Server hosts the gate HTTP/WebSocket process.
//
// It delegates all roster and ledger behavior to the domain services so the
// gate remains transport-only.
type Server struct {
	httpAddr        string
	shutdownTimeout time.Duration
	httpServer      *http.Server
}

// NewServer builds a configured gate server over the given services.
func NewServer(config Config, services Services) (*Server, error) {
	httpAddr := strings.TrimSpace(config.HTTPAddr)
	if httpAddr == "" {
		return nil, errors.New("http address is required")
	}
	if services.Learners == nil || services.Ledger == nil || services.Reports == nil {
		return nil, errors.New("learner, ledger, and report services are required")
	}
	if config.ReadHeaderTimeout <= 0 {
		config.ReadHeaderTimeout = timeouts.ReadHeader
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = timeouts.Shutdown
	}

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           NewHandler(services),
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}

	return &Server{
		httpAddr:        httpAddr,
		shutdownTimeout: config.ShutdownTimeout,
		httpServer:      httpServer,
	}, nil
}

// Run creates and serves a gate server until the context ends.
func Run(ctx context.Context, config Config, services Services) error {
	server, err := NewServer(config, services)
	if err != nil {
		return fmt.Errorf("init gate server: %w", err)
	}

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serve gate: %w", err)
	}
	return nil
}

// ListenAndServe runs the HTTP server until the context ends.
func (s *Server) ListenAndServe(ctx context.Context) error {
	if s == nil {
		return errors.New("gate server is nil")
	}
	if ctx == nil {
		return errors.New("context is required")
	}

	serveErr := make(chan error, 1)
	log.Printf("gate server listening on %s", s.httpAddr)
	go func() {
		serveErr <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
		err := s.httpServer.Shutdown(shutdownCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return nil
	case err := <-serveErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}
