// Package mcp exposes the roster and the attendance ledger to agent clients
// over the Model Context Protocol.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sebvermaak/rollbook/internal/attendance"
	"github.com/sebvermaak/rollbook/internal/learner"
	"github.com/sebvermaak/rollbook/internal/report"
)

const (
	// serverName identifies this MCP server to clients.
	serverName = "Rollbook MCP"
	// serverVersion identifies the MCP server version.
	serverVersion = "0.1.0"
	// eventSource marks ledger events appended through MCP tools.
	eventSource = "api"
)

// Services carries the domain services the tool handlers call.
type Services struct {
	Learners *learner.Service
	Ledger   *attendance.Service
	Reports  *report.Service
}

// Server hosts the MCP server.
type Server struct {
	mcpServer *mcp.Server
}

// NewServer creates an MCP server with the rollbook tools registered.
func NewServer(services Services) (*Server, error) {
	return newServer(services, time.Now)
}

func newServer(services Services, clock func() time.Time) (*Server, error) {
	if services.Learners == nil || services.Ledger == nil || services.Reports == nil {
		return nil, fmt.Errorf("mcp server requires learner, attendance, and report services")
	}
	if clock == nil {
		clock = time.Now
	}

	mcpServer := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil)

	mcp.AddTool(mcpServer, LearnerGetTool(), LearnerGetHandler(services.Learners))
	mcp.AddTool(mcpServer, LearnerListTool(), LearnerListHandler(services.Learners))
	mcp.AddTool(mcpServer, ScanRecordTool(), ScanRecordHandler(services.Ledger, services.Learners))
	mcp.AddTool(mcpServer, PresenceStatusTool(), PresenceStatusHandler(services.Ledger))
	mcp.AddTool(mcpServer, PresentNowTool(), PresentNowHandler(services.Ledger, clock))
	mcp.AddTool(mcpServer, AttendanceReportTool(), AttendanceReportHandler(services.Reports, clock))

	return &Server{mcpServer: mcpServer}, nil
}

// Serve starts the MCP server on stdio and blocks until it stops or the
// context ends.
func (s *Server) Serve(ctx context.Context) error {
	return s.serveWithTransport(ctx, &mcp.StdioTransport{})
}

// serveWithTransport starts the MCP server using the provided transport.
func (s *Server) serveWithTransport(ctx context.Context, transport mcp.Transport) error {
	if s == nil || s.mcpServer == nil {
		return fmt.Errorf("MCP server is not configured")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := s.mcpServer.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		err = nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}

// Run is the service entrypoint for MCP and blocks until context cancellation.
func Run(ctx context.Context, services Services) error {
	server, err := NewServer(services)
	if err != nil {
		return err
	}
	return server.Serve(ctx)
}
