package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/session"
)

const (
	ResourceScopesSummary = "debug://scopes-summary"
	ResourceGlobalContext = "debug://global-context"
	ResourceTraceCache    = "debug://trace-cache"
	ResourceCurrentStep   = "debug://current-debugging-step"
)

// notAvailable is the body served by every resource while no session is active.
const notAvailable = "Not available: no active debug session. Use start_debug_session with a transaction hash first."

// resourceReader produces the JSON-encodable body of a resource.
type resourceReader func(ctx context.Context, s *session.Session) (interface{}, error)

type resourceDef struct {
	uri         string
	name        string
	description string
	read        resourceReader
}

var resourceDefs = []resourceDef{
	{
		uri:         ResourceScopesSummary,
		name:        "Scopes summary",
		description: "Depth-limited scope tree of the active trace with scope and variable totals and the function inventory.",
		read: func(ctx context.Context, sess *session.Session) (interface{}, error) {
			return sess.Summary(ctx, sess.DefaultMaxDepth())
		},
	},
	{
		uri:         ResourceGlobalContext,
		name:        "Global context",
		description: "Block, msg and tx globals of the active transaction.",
		read: func(ctx context.Context, sess *session.Session) (interface{}, error) {
			gc, err := sess.GlobalContext(ctx)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"context": gc}, nil
		},
	},
	{
		uri:         ResourceTraceCache,
		name:        "Trace cache",
		description: "Full per-step side table of returns, stops, out-of-gas points, calls, storage writes and memory writes. Not depth limited; read it once and index locally.",
		read: func(ctx context.Context, sess *session.Session) (interface{}, error) {
			return sess.TraceCache(ctx)
		},
	},
	{
		uri:         ResourceCurrentStep,
		name:        "Current debugging step",
		description: "The step under the cursor with its resolved source location, a highlighted source excerpt and the call stack.",
		read: func(ctx context.Context, sess *session.Session) (interface{}, error) {
			return sess.CurrentStepView(ctx)
		},
	},
}

func (s *Server) registerResources() {
	for _, def := range resourceDefs {
		s.addResource(def.uri, def.name, def.description, def.read)
	}
}

func (s *Server) addResource(uri, name, description string, read resourceReader) {
	resource := mcp.NewResource(uri, name,
		mcp.WithResourceDescription(description),
		mcp.WithMIMEType("application/json"),
	)
	s.mcpServer.AddResource(resource, func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return s.readResource(ctx, uri, read)
	})
}

// readResource serves the soft "not available" body when no session is
// active. Any other failure is returned as an error.
func (s *Server) readResource(ctx context.Context, uri string, read resourceReader) ([]mcp.ResourceContents, error) {
	sess, err := s.sessions.Active()
	if err == nil {
		var body interface{}
		if body, err = read(ctx, sess); err == nil {
			data, err := json.Marshal(body)
			if err != nil {
				return nil, fmt.Errorf("failed to marshal %s: %w", uri, err)
			}
			return []mcp.ResourceContents{mcp.TextResourceContents{
				URI:      uri,
				MIMEType: "application/json",
				Text:     string(data),
			}}, nil
		}
	}

	if errors.HasCode(err, errors.CodeNoActiveSession) {
		return []mcp.ResourceContents{mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     notAvailable,
		}}, nil
	}
	s.log.Warn().Err(err).Str("resource", uri).Msg("resource read failed")
	return nil, err
}
