package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// Session Management Handlers

func (s *Server) handleStartDebugSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	txHash, err := requireString(request, "transactionHash",
		"Provide the 0x-prefixed 32-byte hash of the transaction to debug.")
	if err != nil {
		return toolError(err), nil
	}

	session, err := s.sessions.Start(ctx, txHash)
	if err != nil {
		return toolError(err), nil
	}

	info := session.Info()
	return jsonResult(map[string]interface{}{
		"success":         true,
		"status":          info.Status,
		"transactionHash": info.TransactionHash,
		"sessionId":       info.ID,
		"traceLength":     info.TraceLength,
		"currentStep":     info.CurrentStep,
	})
}

func (s *Server) handleEndDebugSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.sessions.End(); err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"success": true,
		"status":  s.sessions.Status(),
	})
}

// Scope Tree Handlers

func (s *Server) handleGetScopesSummary(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	maxDepth, err := optionalInt(request, "maxDepth", session.DefaultMaxDepth())
	if err != nil {
		return toolError(err), nil
	}

	summary, err := session.Summary(ctx, maxDepth)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(summary)
}

func (s *Server) handleGetScopesByID(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	ids, err := scopeIDs(request, "ids")
	if err != nil {
		return toolError(err), nil
	}

	maxDepth, err := optionalInt(request, "maxDepth", session.DefaultMaxDepth())
	if err != nil {
		return toolError(err), nil
	}

	summary, err := session.DeepFetch(ctx, ids, maxDepth)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(summary)
}

// Navigation Handlers

func (s *Server) handleJumpTo(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "step", "Provide the step index to jump to.")
	if err != nil {
		return toolError(err), nil
	}

	res, err := session.JumpTo(ctx, step)
	if err != nil {
		return toolError(err), nil
	}

	message := fmt.Sprintf("moved to step %d", step)
	switch {
	case !res.Valid:
		message += "; no source location is available in this call"
	case !res.Exact:
		message += fmt.Sprintf("; step has no user source, showing the location of step %d", res.ResolvedStep)
	}

	return jsonResult(map[string]interface{}{
		"success":        true,
		"step":           res.Step,
		"message":        message,
		"sourceLocation": res.SourceLocation,
		"valid":          res.Valid,
		"exact":          res.Exact,
		"resolvedStep":   res.ResolvedStep,
	})
}

func (s *Server) handleGetValidSourceLocation(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "stepIndex", "Provide the trace step index to resolve.")
	if err != nil {
		return toolError(err), nil
	}

	res, err := session.SourceLocationAt(ctx, step)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"sourceLocation": res.SourceLocation,
		"stepIndex":      step,
		"resolvedStep":   res.ResolvedStep,
		"exact":          res.Exact,
		"valid":          res.Valid,
	})
}

// Variables and State Handlers

func (s *Server) handleGetGlobalContext(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	gc, err := session.GlobalContext(ctx)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"context": gc,
	})
}

func (s *Server) handleExtractLocalsAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "step", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}

	scope, err := session.ExtractLocalsAt(ctx, step)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"scope": scope,
	})
}

func (s *Server) handleDecodeLocalsAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "step", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}

	var loc types.SourceLocation
	given, err := jsonArg(request, "sourceLocation", &loc, `{"file":0,"offset":120,"length":15}`)
	if err != nil {
		return toolError(err), nil
	}
	if !given {
		res, err := session.SourceLocationAt(ctx, step)
		if err != nil {
			return toolError(err), nil
		}
		loc = res.SourceLocation
	}

	locals, err := session.DecodeLocalsAt(ctx, step)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"locals":         locals,
		"step":           step,
		"sourceLocation": loc,
	})
}

func (s *Server) handleExtractStateAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "step", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}

	vars, err := session.ExtractStateAt(ctx, step)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"stateVariables": vars,
		"step":           step,
	})
}

func (s *Server) handleDecodeStateAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "step", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}

	var vars []types.VariableDescriptor
	if _, err := jsonArg(request, "stateVars", &vars, `[{"id":"s1"},{"name":"owner"}]`); err != nil {
		return toolError(err), nil
	}

	decoded, err := session.DecodeStateAt(ctx, step, vars)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"decodedState": decoded,
		"step":         step,
	})
}

func (s *Server) handleDecodeLocalVariable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	variableID, err := requireString(request, "variableId", "Use extract_locals_at to list the ids of locals in scope.")
	if err != nil {
		return toolError(err), nil
	}
	step, err := requireInt(request, "stepIndex", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}

	value, err := session.DecodeLocalVariable(ctx, variableID, step)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"decodedValue": value,
		"variableId":   variableID,
		"stepIndex":    step,
	})
}

func (s *Server) handleDecodeStateVariable(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	variableID, err := requireString(request, "variableId", "Use extract_state_at to list the ids of state variables.")
	if err != nil {
		return toolError(err), nil
	}
	step, err := requireInt(request, "stepIndex", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}

	value, err := session.DecodeStateVariable(ctx, variableID, step)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"decodedValue": value,
		"variableId":   variableID,
		"stepIndex":    step,
	})
}

func (s *Server) handleStorageViewAt(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	session, err := s.sessions.Active()
	if err != nil {
		return toolError(err), nil
	}

	step, err := requireInt(request, "step", "Provide the trace step index.")
	if err != nil {
		return toolError(err), nil
	}
	address := request.GetString("address", "")

	view, err := session.StorageViewAt(ctx, step, address)
	if err != nil {
		return toolError(err), nil
	}
	return jsonResult(map[string]interface{}{
		"message": view.Message,
		"step":    view.Step,
		"address": view.Address,
		"storage": view.Slots,
	})
}

// Helper functions

// toolError reports err as a tool result. Errors that did not come from the
// errors package are given the generic hint.
func toolError(err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(errors.FromError(err).Error())
}

func jsonResult(data interface{}) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(jsonBytes)), nil
}
