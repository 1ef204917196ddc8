package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

// registerTools registers the trace explorer tool API
func (s *Server) registerTools() {
	// Session Management
	s.registerStartDebugSession()
	s.registerEndDebugSession()

	// Scope Tree
	s.registerGetScopesSummary()
	s.registerGetScopesByID()

	// Navigation
	s.registerJumpTo()
	s.registerGetValidSourceLocation()

	// Variables and State
	s.registerGetGlobalContext()
	s.registerExtractLocalsAt()
	s.registerDecodeLocalsAt()
	s.registerExtractStateAt()
	s.registerDecodeStateAt()
	s.registerDecodeLocalVariable()
	s.registerDecodeStateVariable()
	s.registerStorageViewAt()
}

// Session Management Tools

func (s *Server) registerStartDebugSession() {
	tool := mcp.NewTool("start_debug_session",
		mcp.WithDescription("Open the execution trace of a transaction and start a debug session at step 0. Any previously active session is ended. All other tools operate on the active session."),
		mcp.WithString("transactionHash",
			mcp.Required(),
			mcp.Description("0x-prefixed 32-byte transaction hash"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("start_debug_session", s.handleStartDebugSession))
}

func (s *Server) registerEndDebugSession() {
	tool := mcp.NewTool("end_debug_session",
		mcp.WithDescription("End the active debug session."),
	)
	s.mcpServer.AddTool(tool, s.instrument("end_debug_session", s.handleEndDebugSession))
}

// Scope Tree Tools

func (s *Server) registerGetScopesSummary() {
	tool := mcp.NewTool("get_scopes_summary",
		mcp.WithDescription("Get the call/function scope tree limited to maxDepth levels, with total scope and variable counts and the function inventory. Nodes at the depth limit list the ids of their elided children; fetch those with get_scopes_by_id."),
		mcp.WithNumber("maxDepth",
			mcp.Description("Number of tree levels to expand (default: 3). Root scopes are level 1."),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("get_scopes_summary", s.handleGetScopesSummary))
}

func (s *Server) registerGetScopesByID() {
	tool := mcp.NewTool("get_scopes_by_id",
		mcp.WithDescription("Fetch the subtrees rooted at the given scope ids, each limited to maxDepth levels. Use this to expand scopes elided by get_scopes_summary."),
		mcp.WithString("ids",
			mcp.Required(),
			mcp.Description("JSON array of scope ids, e.g. [\"12\", \"13\"]. A comma-separated list is also accepted."),
		),
		mcp.WithNumber("maxDepth",
			mcp.Description("Number of levels to expand below each requested scope (default: 3)"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("get_scopes_by_id", s.handleGetScopesByID))
}

// Navigation Tools

func (s *Server) registerJumpTo() {
	tool := mcp.NewTool("jump_to",
		mcp.WithDescription("Move the step cursor to a trace step and resolve its source location. Steps outside the trace fail and leave the cursor where it was."),
		mcp.WithNumber("step",
			mcp.Required(),
			mcp.Description("Target step index, 0 <= step < trace length"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("jump_to", s.handleJumpTo))
}

func (s *Server) registerGetValidSourceLocation() {
	tool := mcp.NewTool("get_valid_source_location_from_vm_trace_index",
		mcp.WithDescription("Resolve the nearest step with a real source location, staying within the same call. Steps in compiler-generated code resolve to the closest user-authored location. Does not move the cursor."),
		mcp.WithNumber("stepIndex",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("get_valid_source_location_from_vm_trace_index", s.handleGetValidSourceLocation))
}

// Variables and State Tools

func (s *Server) registerGetGlobalContext() {
	tool := mcp.NewTool("get_global_context",
		mcp.WithDescription("Get the block, msg and tx globals of the transaction."),
	)
	s.mcpServer.AddTool(tool, s.instrument("get_global_context", s.handleGetGlobalContext))
}

func (s *Server) registerExtractLocalsAt() {
	tool := mcp.NewTool("extract_locals_at",
		mcp.WithDescription("List the names, types and ids of local variables in scope at a step without decoding their values. Cheap; use it to choose what to decode."),
		mcp.WithNumber("step",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("extract_locals_at", s.handleExtractLocalsAt))
}

func (s *Server) registerDecodeLocalsAt() {
	tool := mcp.NewTool("decode_locals_at",
		mcp.WithDescription("Decode every local variable in scope at a step. Values not written yet are flagged notYetInitialized."),
		mcp.WithNumber("step",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
		mcp.WithString("sourceLocation",
			mcp.Description("Optional JSON source location {\"file\":0,\"offset\":120,\"length\":15} echoed in the result. Defaults to the resolved location of the step."),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("decode_locals_at", s.handleDecodeLocalsAt))
}

func (s *Server) registerExtractStateAt() {
	tool := mcp.NewTool("extract_state_at",
		mcp.WithDescription("List the state variables of the contract executing at a step, with their storage slots. Does not decode values."),
		mcp.WithNumber("step",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("extract_state_at", s.handleExtractStateAt))
}

func (s *Server) registerDecodeStateAt() {
	tool := mcp.NewTool("decode_state_at",
		mcp.WithDescription("Decode state variables from storage as of a step. Omit stateVars to decode every state variable of the executing contract."),
		mcp.WithNumber("step",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
		mcp.WithString("stateVars",
			mcp.Description("JSON array of variables from extract_state_at, or objects with just \"id\" (or \"name\") and optional \"address\". Example: [{\"id\":\"s1\"}]"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("decode_state_at", s.handleDecodeStateAt))
}

func (s *Server) registerDecodeLocalVariable() {
	tool := mcp.NewTool("decode_local_variable",
		mcp.WithDescription("Decode a single local variable by id at a step. The variable must be in scope at that step."),
		mcp.WithString("variableId",
			mcp.Required(),
			mcp.Description("Variable id from extract_locals_at"),
		),
		mcp.WithNumber("stepIndex",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("decode_local_variable", s.handleDecodeLocalVariable))
}

func (s *Server) registerDecodeStateVariable() {
	tool := mcp.NewTool("decode_state_variable",
		mcp.WithDescription("Decode a single state variable of the executing contract by id at a step."),
		mcp.WithString("variableId",
			mcp.Required(),
			mcp.Description("Variable id from extract_state_at"),
		),
		mcp.WithNumber("stepIndex",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("decode_state_variable", s.handleDecodeStateVariable))
}

func (s *Server) registerStorageViewAt() {
	tool := mcp.NewTool("storage_view_at",
		mcp.WithDescription("Show the raw non-zero storage slots of a contract as of a step."),
		mcp.WithNumber("step",
			mcp.Required(),
			mcp.Description("Trace step index"),
		),
		mcp.WithString("address",
			mcp.Description("Contract address (default: the contract executing at the step)"),
		),
	)
	s.mcpServer.AddTool(tool, s.instrument("storage_view_at", s.handleStorageViewAt))
}
