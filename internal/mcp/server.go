// Package mcp provides the Model Context Protocol (MCP) server implementation.
//
// This package exposes the trace explorer through MCP tools and resources:
//
// Session Management:
//   - start_debug_session: Open the trace of a transaction
//   - end_debug_session: Tear down the active session
//
// Scope Tree:
//   - get_scopes_summary: Depth-limited scope tree with statistics
//   - get_scopes_by_id: Deep fetch of elided subtrees
//
// Navigation:
//   - jump_to: Move the step cursor
//   - get_valid_source_location_from_vm_trace_index: Nearest displayable source
//
// Variables and State:
//   - extract_locals_at / decode_locals_at
//   - extract_state_at / decode_state_at
//   - decode_local_variable / decode_state_variable
//   - storage_view_at
//   - get_global_context
//
// Resources (soft "not available" body without a session):
//   - debug://scopes-summary, debug://global-context,
//     debug://trace-cache, debug://current-debugging-step
package mcp

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/ctagard/trace-mcp/internal/config"
	"github.com/ctagard/trace-mcp/internal/logging"
	"github.com/ctagard/trace-mcp/internal/metrics"
	"github.com/ctagard/trace-mcp/internal/session"
	"github.com/ctagard/trace-mcp/internal/version"
)

// Server wraps the MCP server with trace exploration capabilities
type Server struct {
	mcpServer *server.MCPServer
	sessions  *session.Manager
	config    *config.Config
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// NewServer creates a new trace-mcp server over the given session manager
func NewServer(cfg *config.Config, sessions *session.Manager, m *metrics.Metrics, log zerolog.Logger) *Server {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	mcpServer := server.NewMCPServer(
		version.Name,
		version.Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)

	s := &Server{
		mcpServer: mcpServer,
		sessions:  sessions,
		config:    cfg,
		metrics:   m,
		log:       logging.Component(log, "mcp"),
	}

	s.registerTools()
	s.registerResources()

	return s
}

// ServeStdio starts the server using stdio transport
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// Close ends the active session, if any
func (s *Server) Close() {
	if err := s.sessions.End(); err == nil {
		s.log.Info().Msg("active session ended on shutdown")
	}
}

// MCPServer returns the underlying mcp-go server
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// GetSessionManager returns the session manager
func (s *Server) GetSessionManager() *session.Manager {
	return s.sessions
}

// GetConfig returns the server configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}

// instrument counts calls per tool and logs tool failures.
func (s *Server) instrument(name string, handler server.ToolHandlerFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result, err := handler(ctx, request)
		failed := err != nil || (result != nil && result.IsError)
		s.metrics.ObserveTool(name, failed)
		if failed {
			s.log.Debug().Str("tool", name).Err(err).Msg("tool call failed")
		}
		return result, err
	}
}
