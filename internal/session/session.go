package session

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ctagard/trace-mcp/internal/cursor"
	"github.com/ctagard/trace-mcp/internal/decoder"
	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/metrics"
	"github.com/ctagard/trace-mcp/internal/scopes"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// Session is one debug session over a single transaction trace.
// Operations are serialized; the trace itself is never written.
type Session struct {
	ID              string
	TransactionHash string
	CreatedAt       time.Time

	trace    engine.Trace
	roots    []*types.RawScope
	cursor   *cursor.Cursor
	resolver *cursor.Resolver
	decoder  *decoder.Decoder
	cache    *lru.Cache[cacheKey, types.DecodedValue]
	maxDepth int
	metrics  *metrics.Metrics
	log      zerolog.Logger

	mu    sync.Mutex
	ended bool
}

// Info is the externally visible state of a session
type Info struct {
	ID              string              `json:"sessionId"`
	TransactionHash string              `json:"transactionHash"`
	Status          types.SessionStatus `json:"status"`
	CurrentStep     int                 `json:"currentStep"`
	TraceLength     int                 `json:"traceLength"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// JumpResult is the outcome of moving the cursor.
type JumpResult struct {
	Step           int                  `json:"step"`
	SourceLocation types.SourceLocation `json:"sourceLocation"`
	Valid          bool                 `json:"valid"`
	Exact          bool                 `json:"exact"`
	ResolvedStep   int                  `json:"resolvedStep"`
}

// lock acquires the session and fails once it has ended. Callers must
// unlock on success.
func (s *Session) lock() error {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return errors.NoActiveSession()
	}
	return nil
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = true
	s.cache.Purge()
}

// Info returns the session's handle and cursor state.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := types.SessionStatusActive
	if s.ended {
		status = types.SessionStatusNotStarted
	}
	return Info{
		ID:              s.ID,
		TransactionHash: s.TransactionHash,
		Status:          status,
		CurrentStep:     s.cursor.Current(),
		TraceLength:     s.cursor.Length(),
		CreatedAt:       s.CreatedAt,
	}
}

// DefaultMaxDepth is the configured summary depth.
func (s *Session) DefaultMaxDepth() int {
	return s.maxDepth
}

// Summary returns the depth-bounded scope tree.
func (s *Session) Summary(ctx context.Context, maxDepth int) (types.ScopesSummary, error) {
	if err := s.lock(); err != nil {
		return types.ScopesSummary{}, err
	}
	defer s.mu.Unlock()

	return scopes.Summarize(s.roots, maxDepth), nil
}

// DeepFetch returns depth-bounded summaries of the subtrees rooted at ids.
func (s *Session) DeepFetch(ctx context.Context, ids []string, maxDepth int) (types.ScopesSummary, error) {
	if err := s.lock(); err != nil {
		return types.ScopesSummary{}, err
	}
	defer s.mu.Unlock()

	return scopes.FindScopes(s.roots, ids, maxDepth), nil
}

// GlobalContext returns the block, msg and tx globals.
func (s *Session) GlobalContext(ctx context.Context) (types.GlobalContext, error) {
	if err := s.lock(); err != nil {
		return types.GlobalContext{}, err
	}
	defer s.mu.Unlock()

	gc, err := s.trace.GlobalContext(ctx)
	if err != nil {
		return types.GlobalContext{}, errors.EngineUnavailable("read the global context", err)
	}
	return gc, nil
}

// TraceCache returns the full per-step side table. It is not depth limited.
func (s *Session) TraceCache(ctx context.Context) (types.TraceCache, error) {
	if err := s.lock(); err != nil {
		return types.TraceCache{}, err
	}
	defer s.mu.Unlock()

	cache, err := s.trace.Cache(ctx)
	if err != nil {
		return types.TraceCache{}, errors.EngineUnavailable("read the trace cache", err)
	}
	return cache, nil
}

// CurrentStep returns the cursor position.
func (s *Session) CurrentStep() (int, error) {
	if err := s.lock(); err != nil {
		return 0, err
	}
	defer s.mu.Unlock()

	return s.cursor.Current(), nil
}

// JumpTo moves the cursor to step and resolves its source location. The
// cursor only moves when both the range check and resolution succeed.
func (s *Session) JumpTo(ctx context.Context, step int) (JumpResult, error) {
	if err := s.lock(); err != nil {
		return JumpResult{}, err
	}
	defer s.mu.Unlock()

	if err := s.cursor.Check(step); err != nil {
		return JumpResult{}, err
	}
	res, err := s.resolver.Resolve(ctx, step)
	if err != nil {
		return JumpResult{}, err
	}
	if err := s.cursor.JumpTo(step); err != nil {
		return JumpResult{}, err
	}

	s.log.Debug().Int("step", step).Int("resolvedStep", res.ResolvedStep).Msg("cursor moved")
	return JumpResult{
		Step:           step,
		SourceLocation: res.SourceLocation,
		Valid:          res.Valid,
		Exact:          res.Exact,
		ResolvedStep:   res.ResolvedStep,
	}, nil
}

// SourceLocationAt resolves the nearest valid source location of step
// without moving the cursor.
func (s *Session) SourceLocationAt(ctx context.Context, step int) (cursor.Resolution, error) {
	if err := s.lock(); err != nil {
		return cursor.Resolution{}, err
	}
	defer s.mu.Unlock()

	return s.resolver.Resolve(ctx, step)
}
