// Package types defines shared data types used across the trace-mcp server.
//
// This package provides type definitions for:
//   - SessionStatus: Debug session states (not_started, active, ended)
//   - Trace structure: RawScope, Step, SourceLocation, SourceFile
//   - Summaries: ProcessedScope and ScopesSummary produced by the scope summarizer
//   - Variables: VariableDescriptor, ScopeSnapshot, DecodedValue
//   - Context: GlobalContext and TraceCache side tables
//
// These types are serialized as-is into tool and resource results, so their
// JSON field names are part of the external contract.
package types

// SessionStatus represents the status of a debug session
type SessionStatus string

const (
	SessionStatusNotStarted SessionStatus = "not_started"
	SessionStatusActive     SessionStatus = "active"
	SessionStatusEnded      SessionStatus = "ended"
)

// SourceLocation points into source text in the trace engine's coordinate system.
// File is -1 when the step has no source mapping at all.
type SourceLocation struct {
	File   int `json:"file"`
	Offset int `json:"offset"`
	Length int `json:"length"`
}

// NoSource is the location reported for steps with no mapping.
var NoSource = SourceLocation{File: -1}

// SourceFile describes one file referenced by source locations.
// Generated files hold compiler-synthesized code with no user-authored lines.
type SourceFile struct {
	Index     int    `json:"index"`
	Path      string `json:"path"`
	Content   string `json:"content,omitempty"`
	Generated bool   `json:"generated,omitempty"`
}

// Step is a single instruction-level entry of the trace.
type Step struct {
	Index   int            `json:"index"`
	PC      uint64         `json:"pc"`
	Op      string         `json:"op"`
	Depth   int            `json:"depth"`
	Gas     uint64         `json:"gas"`
	Address string         `json:"address"`
	Source  SourceLocation `json:"source"`
}

// OpcodeInfo is the instruction that opened a scope.
type OpcodeInfo struct {
	Op string `json:"op"`
	PC uint64 `json:"pc"`
}

// RevertInfo marks the step at which a scope reverted.
type RevertInfo struct {
	Step int  `json:"step"`
	Line *int `json:"line,omitempty"`
}

// LocalDescriptor declares a local variable owned by a scope.
type LocalDescriptor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Members    []Member `json:"members,omitempty"`
	DeclaredAt int      `json:"declaredAt"`
}

// RawScope is one node of the scope tree as produced by the trace engine.
// A child's step range is always contained in its parent's.
type RawScope struct {
	ScopeID      string                     `json:"scopeId"`
	FunctionName string                     `json:"functionName,omitempty"`
	Locals       map[string]LocalDescriptor `json:"locals,omitempty"`
	FirstStep    int                        `json:"firstStep"`
	LastStep     int                        `json:"lastStep"`
	GasCost      *uint64                    `json:"gasCost,omitempty"`
	IsCreation   bool                       `json:"isCreation,omitempty"`
	OpcodeInfo   *OpcodeInfo                `json:"opcodeInfo,omitempty"`
	Reverted     *RevertInfo                `json:"reverted,omitempty"`
	Children     []*RawScope                `json:"children,omitempty"`
}

// Contains reports whether step lies in the scope's inclusive range.
func (s *RawScope) Contains(step int) bool {
	return step >= s.FirstStep && step <= s.LastStep
}

// ProcessedScope is the depth-bounded, externally visible form of a RawScope.
//
// ChildCount always equals the raw child count. TotalDescendants is an exact
// recursive count only when DescendantsExact is true; for elided nodes it is
// the lower bound ChildCount.
type ProcessedScope struct {
	ScopeID          string           `json:"scopeId"`
	FunctionName     string           `json:"functionName,omitempty"`
	FirstStep        int              `json:"firstStep"`
	LastStep         int              `json:"lastStep"`
	GasCost          *uint64          `json:"gasCost,omitempty"`
	IsCreation       bool             `json:"isCreation"`
	IsExternalCall   bool             `json:"isExternalCall"`
	Opcode           string           `json:"opcode,omitempty"`
	Reverted         bool             `json:"reverted"`
	RevertStep       *int             `json:"revertStep,omitempty"`
	RevertLine       *int             `json:"revertLine,omitempty"`
	VariableCount    int              `json:"variableCount"`
	VariableNames    []string         `json:"variableNames"`
	Children         []ProcessedScope `json:"children"`
	Message          string           `json:"message,omitempty"`
	ElidedChildIDs   []string         `json:"elidedChildIds,omitempty"`
	ChildCount       int              `json:"childCount"`
	TotalDescendants int              `json:"totalDescendants"`
	DescendantsExact bool             `json:"descendantsExact"`
}

// ScopesSummary is the summarizer output.
type ScopesSummary struct {
	MaxDepth          int              `json:"maxDepth"`
	TopLevelCount     int              `json:"topLevelCount"`
	TotalAllScopes    int              `json:"totalAllScopes"`
	TotalVariables    int              `json:"totalVariables"`
	FunctionInventory []string         `json:"functionInventory"`
	Tree              []ProcessedScope `json:"tree"`
	NotFound          []string         `json:"notFound,omitempty"`
}

// Member is one field of a struct-typed variable.
type Member struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Members []Member `json:"members,omitempty"`
}

// VariableKind distinguishes stack/memory locals from storage-resident state.
type VariableKind string

const (
	VariableKindLocal VariableKind = "local"
	VariableKindState VariableKind = "state"
)

// VariableDescriptor is the input to decoding.
// Locals carry ScopeID; state variables carry Address, Slot and Offset.
type VariableDescriptor struct {
	ID         string       `json:"id"`
	Name       string       `json:"name"`
	Type       string       `json:"type"`
	Kind       VariableKind `json:"kind"`
	Members    []Member     `json:"members,omitempty"`
	ScopeID    string       `json:"scopeId,omitempty"`
	DeclaredAt int          `json:"declaredAt,omitempty"`
	Address    string       `json:"address,omitempty"`
	Slot       string       `json:"slot,omitempty"`
	Offset     int          `json:"offset,omitempty"`
}

// ScopeSnapshot enumerates the locals in scope at a step, without values.
type ScopeSnapshot struct {
	Step         int                  `json:"step"`
	ScopeID      string               `json:"scopeId"`
	FunctionName string               `json:"functionName,omitempty"`
	ScopeChain   []string             `json:"scopeChain"`
	Locals       []VariableDescriptor `json:"locals"`
}

// DecodedValue is a typed value read from the trace.
// NotYetInitialized distinguishes "not written yet" from a genuine zero value.
type DecodedValue struct {
	Type              string `json:"type"`
	Value             any    `json:"value"`
	Length            *int   `json:"length,omitempty"`
	NotYetInitialized bool   `json:"notYetInitialized,omitempty"`
	Note              string `json:"note,omitempty"`
}

// BlockContext mirrors the EVM `block` globals.
type BlockContext struct {
	Number     uint64 `json:"number"`
	Timestamp  uint64 `json:"timestamp"`
	Coinbase   string `json:"coinbase"`
	GasLimit   uint64 `json:"gasLimit"`
	BaseFee    string `json:"basefee,omitempty"`
	ChainID    uint64 `json:"chainid"`
	PrevRandao string `json:"prevrandao,omitempty"`
}

// MsgContext mirrors the EVM `msg` globals of the outermost call.
type MsgContext struct {
	Sender string `json:"sender"`
	Value  string `json:"value"`
	Data   string `json:"data"`
	Sig    string `json:"sig"`
}

// TxContext mirrors the EVM `tx` globals.
type TxContext struct {
	Origin   string `json:"origin"`
	GasPrice string `json:"gasprice"`
	Hash     string `json:"hash"`
}

// GlobalContext is the block/message/transaction metadata of a trace.
type GlobalContext struct {
	Block BlockContext `json:"block"`
	Msg   MsgContext   `json:"msg"`
	Tx    TxContext    `json:"tx"`
}

// CallEntry records a call or create boundary in the trace cache.
type CallEntry struct {
	Step     int    `json:"step"`
	Op       string `json:"op"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reverted bool   `json:"reverted,omitempty"`
}

// StorageWrite records an SSTORE.
type StorageWrite struct {
	Step    int    `json:"step"`
	Address string `json:"address"`
	Slot    string `json:"slot"`
	Value   string `json:"value"`
}

// MemoryWrite records a memory-changing instruction.
type MemoryWrite struct {
	Step   int    `json:"step"`
	Offset uint64 `json:"offset"`
	Size   uint64 `json:"size"`
}

// TraceCache is the per-step side table of a trace.
type TraceCache struct {
	Length        int            `json:"length"`
	Returns       []int          `json:"returns"`
	Stops         []int          `json:"stops"`
	OutOfGas      []int          `json:"outOfGas"`
	Calls         []CallEntry    `json:"calls"`
	StorageWrites []StorageWrite `json:"storageWrites"`
	MemoryWrites  []MemoryWrite  `json:"memoryWrites"`
}
