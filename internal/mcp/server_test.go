package mcp

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/trace-mcp/internal/config"
	"github.com/ctagard/trace-mcp/internal/engine/enginetest"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/metrics"
	"github.com/ctagard/trace-mcp/internal/session"
)

func newTestServer(t *testing.T) (*Server, *metrics.Metrics) {
	t.Helper()
	cfg := config.DefaultConfig()
	m := metrics.New()
	sessions := session.NewManager(enginetest.Engine(), cfg, zerolog.Nop(), m)
	return NewServer(cfg, sessions, m, zerolog.Nop()), m
}

func callTool(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.False(t, res.IsError, "tool error: %s", resultText(t, res))
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func startSession(t *testing.T, s *Server) {
	t.Helper()
	res, err := s.handleStartDebugSession(context.Background(), callTool("start_debug_session", map[string]any{
		"transactionHash": enginetest.TxHash,
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	require.Equal(t, true, out["success"])
}

func TestServer_NewServer(t *testing.T) {
	s, _ := newTestServer(t)
	assert.NotNil(t, s.MCPServer())
	assert.NotNil(t, s.GetSessionManager())
	assert.Equal(t, 3, s.GetConfig().MaxDepth)
}

func TestHandlers_NoActiveSession(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)
		args    map[string]any
	}{
		{"get_global_context", s.handleGetGlobalContext, nil},
		{"get_scopes_summary", s.handleGetScopesSummary, nil},
		{"jump_to", s.handleJumpTo, map[string]any{"step": 1}},
		{"extract_locals_at", s.handleExtractLocalsAt, map[string]any{"step": 1}},
		{"decode_state_variable", s.handleDecodeStateVariable, map[string]any{"variableId": "s1", "stepIndex": 1}},
		{"end_debug_session", s.handleEndDebugSession, nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := tc.handler(ctx, callTool(tc.name, tc.args))
			require.NoError(t, err)
			assert.True(t, res.IsError)
			assert.Contains(t, resultText(t, res), "no active debug session")
		})
	}
}

func TestHandlers_StartDebugSession(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleStartDebugSession(ctx, callTool("start_debug_session", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "transactionHash")

	res, err = s.handleStartDebugSession(ctx, callTool("start_debug_session", map[string]any{
		"transactionHash": "0x" + "ab",
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleStartDebugSession(ctx, callTool("start_debug_session", map[string]any{
		"transactionHash": enginetest.TxHash,
	}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, "active", out["status"])
	assert.Equal(t, enginetest.TxHash, out["transactionHash"])
	assert.EqualValues(t, enginetest.Length, out["traceLength"])
	assert.NotEmpty(t, out["sessionId"])

	res, err = s.handleEndDebugSession(ctx, callTool("end_debug_session", nil))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, "not_started", out["status"])
}

func TestHandlers_ScopesSummaryAndDeepFetch(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	startSession(t, s)

	res, err := s.handleGetScopesSummary(ctx, callTool("get_scopes_summary", map[string]any{"maxDepth": 1}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.EqualValues(t, 1, out["topLevelCount"])
	assert.EqualValues(t, 1, out["totalAllScopes"])
	root := out["tree"].([]any)[0].(map[string]any)
	assert.Nil(t, root["children"])
	assert.Contains(t, root["message"], "2")

	res, err = s.handleGetScopesSummary(ctx, callTool("get_scopes_summary", map[string]any{"maxDepth": 1.5}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	for _, ids := range []any{`["2"]`, "2", []any{"2"}} {
		res, err = s.handleGetScopesByID(ctx, callTool("get_scopes_by_id", map[string]any{"ids": ids, "maxDepth": 10}))
		require.NoError(t, err)
		out = decodeResult(t, res)
		assert.EqualValues(t, 3, out["totalAllScopes"], "ids %v", ids)
	}

	res, err = s.handleGetScopesByID(ctx, callTool("get_scopes_by_id", map[string]any{"ids": "[not json"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "invalid JSON")
}

func TestHandlers_JumpTo(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	startSession(t, s)

	res, err := s.handleJumpTo(ctx, callTool("jump_to", map[string]any{"step": 12}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.Equal(t, true, out["success"])
	assert.EqualValues(t, 12, out["step"])
	assert.EqualValues(t, 9, out["resolvedStep"])
	assert.Contains(t, out["message"], "step 9")

	res, err = s.handleJumpTo(ctx, callTool("jump_to", map[string]any{"step": 500}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "outside the trace")

	res, err = s.handleJumpTo(ctx, callTool("jump_to", nil))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "'step' is missing")
}

func TestHandlers_GetValidSourceLocation(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	startSession(t, s)

	res, err := s.handleGetValidSourceLocation(ctx, callTool("get_valid_source_location_from_vm_trace_index", map[string]any{"stepIndex": 50}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	assert.EqualValues(t, 50, out["stepIndex"])
	assert.EqualValues(t, 54, out["resolvedStep"])
	loc := out["sourceLocation"].(map[string]any)
	assert.EqualValues(t, 0, loc["file"])
}

func TestHandlers_Locals(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	startSession(t, s)

	res, err := s.handleExtractLocalsAt(ctx, callTool("extract_locals_at", map[string]any{"step": 65}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	scope := out["scope"].(map[string]any)
	assert.Equal(t, "3", scope["scopeId"])
	assert.Len(t, scope["locals"], 5)

	res, err = s.handleDecodeLocalsAt(ctx, callTool("decode_locals_at", map[string]any{"step": 54}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	locals := out["locals"].(map[string]any)
	assert.Equal(t, "hello", locals["note"].(map[string]any)["value"])
	assert.NotNil(t, out["sourceLocation"])

	res, err = s.handleDecodeLocalsAt(ctx, callTool("decode_locals_at", map[string]any{
		"step":           54,
		"sourceLocation": `{"file":0,"offset":34,"length":10}`,
	}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.EqualValues(t, 34, out["sourceLocation"].(map[string]any)["offset"])

	res, err = s.handleDecodeLocalsAt(ctx, callTool("decode_locals_at", map[string]any{
		"step":           54,
		"sourceLocation": `{"file":`,
	}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	res, err = s.handleDecodeLocalVariable(ctx, callTool("decode_local_variable", map[string]any{"variableId": "v1", "stepIndex": 3}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, "v1", out["variableId"])
	assert.EqualValues(t, 3, out["stepIndex"])
	assert.Equal(t, "42", out["decodedValue"].(map[string]any)["value"])

	res, err = s.handleDecodeLocalVariable(ctx, callTool("decode_local_variable", map[string]any{"variableId": "v9", "stepIndex": 3}))
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "not declared at step 3")
}

func TestHandlers_State(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()
	startSession(t, s)

	res, err := s.handleExtractStateAt(ctx, callTool("extract_state_at", map[string]any{"step": 5}))
	require.NoError(t, err)
	out := decodeResult(t, res)
	vars := out["stateVariables"].([]any)
	require.Len(t, vars, 3)
	for _, v := range vars {
		assert.Equal(t, enginetest.ContractA.Hex(), v.(map[string]any)["address"])
	}

	res, err = s.handleDecodeStateAt(ctx, callTool("decode_state_at", map[string]any{
		"step":      40,
		"stateVars": `[{"id":"s1"}]`,
	}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	decoded := out["decodedState"].(map[string]any)
	assert.Equal(t, "200", decoded["total"].(map[string]any)["value"])

	res, err = s.handleDecodeStateAt(ctx, callTool("decode_state_at", map[string]any{
		"step":      5,
		"stateVars": []any{map[string]any{"name": "owner"}},
	}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	decoded = out["decodedState"].(map[string]any)
	assert.Equal(t, enginetest.Owner.Hex(), decoded["owner"].(map[string]any)["value"])

	res, err = s.handleDecodeStateVariable(ctx, callTool("decode_state_variable", map[string]any{"variableId": "s4", "stepIndex": 60}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Equal(t, "hello", out["decodedValue"].(map[string]any)["value"])

	res, err = s.handleStorageViewAt(ctx, callTool("storage_view_at", map[string]any{"step": 30}))
	require.NoError(t, err)
	out = decodeResult(t, res)
	assert.Contains(t, out["message"], "2 non-zero slot(s)")
	assert.EqualValues(t, 30, out["step"])
}

func TestHandlers_GlobalContext(t *testing.T) {
	s, _ := newTestServer(t)
	startSession(t, s)

	res, err := s.handleGetGlobalContext(context.Background(), callTool("get_global_context", nil))
	require.NoError(t, err)
	out := decodeResult(t, res)
	gc := out["context"].(map[string]any)
	assert.Contains(t, gc, "block")
	assert.Contains(t, gc, "msg")
	assert.Equal(t, enginetest.TxHash, gc["tx"].(map[string]any)["hash"])
}

func TestInstrument_CountsOutcomes(t *testing.T) {
	s, m := newTestServer(t)
	ctx := context.Background()

	handler := s.instrument("jump_to", s.handleJumpTo)
	_, err := handler(ctx, callTool("jump_to", map[string]any{"step": 1}))
	require.NoError(t, err)
	startSession(t, s)
	_, err = handler(ctx, callTool("jump_to", map[string]any{"step": 1}))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("jump_to", metrics.OutcomeError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ToolCalls.WithLabelValues("jump_to", metrics.OutcomeOK)))
}

func TestResources(t *testing.T) {
	s, _ := newTestServer(t)
	ctx := context.Background()

	read := func(uri string) mcp.TextResourceContents {
		t.Helper()
		var reader resourceReader
		for _, def := range resourceDefs {
			if def.uri == uri {
				reader = def.read
			}
		}
		require.NotNil(t, reader, "unknown resource %s", uri)
		contents, err := s.readResource(ctx, uri, reader)
		require.NoError(t, err)
		require.Len(t, contents, 1)
		text, ok := contents[0].(mcp.TextResourceContents)
		require.True(t, ok)
		assert.Equal(t, uri, text.URI)
		return text
	}

	uris := []string{ResourceScopesSummary, ResourceGlobalContext, ResourceTraceCache, ResourceCurrentStep}
	for _, uri := range uris {
		body := read(uri)
		assert.Equal(t, "text/plain", body.MIMEType)
		assert.Contains(t, body.Text, "Not available")
	}

	startSession(t, s)
	for _, uri := range uris {
		body := read(uri)
		assert.Equal(t, "application/json", body.MIMEType, uri)
		assert.True(t, json.Valid([]byte(body.Text)), uri)
	}

	var view map[string]any
	require.NoError(t, json.Unmarshal([]byte(read(ResourceCurrentStep).Text), &view))
	assert.EqualValues(t, 0, view["step"])
	assert.NotEmpty(t, view["callStack"])

	var cache map[string]any
	require.NoError(t, json.Unmarshal([]byte(read(ResourceTraceCache).Text), &cache))
	assert.EqualValues(t, enginetest.Length, cache["length"])
}

func TestArgs_ErrorsNameTheTool(t *testing.T) {
	var de *errors.DebugError

	_, err := requireInt(callTool("jump_to", nil), "step", "Provide the step index to jump to.")
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errors.CodeMissingParameter, de.Code)
	assert.Equal(t, "jump_to", de.Details["tool"])

	_, err = requireInt(callTool("extract_locals_at", map[string]any{"step": 2.5}), "step", "")
	require.ErrorAs(t, err, &de)
	assert.Equal(t, errors.CodeInvalidParameter, de.Code)
	assert.Equal(t, "extract_locals_at", de.Details["tool"])
}

func TestToolError(t *testing.T) {
	res := toolError(stderrors.New("boom"))
	assert.True(t, res.IsError)
	assert.Contains(t, resultText(t, res), "boom | Hint: An unexpected error occurred")

	res = toolError(errors.NoActiveSession())
	assert.Contains(t, resultText(t, res), "start_debug_session")
}
