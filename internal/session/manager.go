// Package session implements the debug session facade over a trace engine.
//
// A Manager holds at most one active Session. Starting a session opens the
// transaction's trace, builds the step-to-frame index used for source
// resolution and places the cursor at step 0. Starting again, for any hash,
// replaces the active session. Every operation on a session that has been
// replaced or ended fails with NO_ACTIVE_SESSION.
package session

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog"

	"github.com/ctagard/trace-mcp/internal/config"
	"github.com/ctagard/trace-mcp/internal/cursor"
	"github.com/ctagard/trace-mcp/internal/decoder"
	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/logging"
	"github.com/ctagard/trace-mcp/internal/metrics"
	"github.com/ctagard/trace-mcp/internal/scopes"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// Manager owns the single active debug session
type Manager struct {
	engine  engine.Engine
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.Mutex
	active *Session
}

// NewManager creates a session manager. A nil cfg selects the defaults and
// a nil metrics bundle disables instrumentation.
func NewManager(eng engine.Engine, cfg *config.Config, log zerolog.Logger, m *metrics.Metrics) *Manager {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Manager{
		engine:  eng,
		cfg:     cfg,
		log:     logging.Component(log, "session"),
		metrics: m,
	}
}

// Start opens the trace of txHash and makes it the active session. Any
// previous session is ended once the new trace has been opened; if opening
// fails the previous session stays active.
func (m *Manager) Start(ctx context.Context, txHash string) (*Session, error) {
	hash, err := engine.NormalizeHash(txHash)
	if err != nil {
		return nil, errors.InvalidParameter("transactionHash", txHash, "a 0x-prefixed 32-byte hex transaction hash")
	}

	tr, err := m.engine.Open(ctx, hash)
	if err != nil {
		m.log.Warn().Err(err).Str("tx", hash).Msg("failed to open trace")
		if stderrors.Is(err, engine.ErrTraceNotFound) {
			return nil, errors.EngineUnavailable("find a trace for "+hash, err).WithDetails("transactionHash", hash)
		}
		return nil, errors.EngineUnavailable("open the trace of "+hash, err).WithDetails("transactionHash", hash)
	}

	s, err := m.newSession(ctx, tr)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	prev := m.active
	m.active = s
	m.mu.Unlock()

	if prev != nil {
		prev.end()
		m.log.Info().Str("session", prev.ID).Str("tx", prev.TransactionHash).Msg("session replaced")
	}

	m.metrics.ObserveSessionStart()
	m.log.Info().
		Str("session", s.ID).
		Str("tx", s.TransactionHash).
		Int("steps", tr.Length()).
		Int("scopes", scopes.Total(s.roots)).
		Int("height", scopes.Height(s.roots)).
		Msg("session started")

	return s, nil
}

func (m *Manager) newSession(ctx context.Context, tr engine.Trace) (*Session, error) {
	roots, err := tr.Scopes(ctx)
	if err != nil {
		return nil, errors.EngineUnavailable("read the scope tree", err)
	}
	resolver, err := cursor.NewResolver(ctx, tr)
	if err != nil {
		return nil, err
	}
	cache, err := lru.New[cacheKey, types.DecodedValue](m.cfg.DecodeCacheSize)
	if err != nil {
		return nil, errors.ConfigInvalid("decodeCacheSize", err.Error()).WithCause(err)
	}

	id := uuid.New().String()
	return &Session{
		ID:              id,
		TransactionHash: tr.TransactionHash(),
		CreatedAt:       time.Now(),
		trace:           tr,
		roots:           roots,
		cursor:          cursor.New(tr.Length()),
		resolver:        resolver,
		decoder:         decoder.New(m.cfg.MaxDynamicLength),
		cache:           cache,
		maxDepth:        m.cfg.MaxDepth,
		metrics:         m.metrics,
		log:             m.log.With().Str("session", id).Logger(),
	}, nil
}

// Active returns the active session or NO_ACTIVE_SESSION.
func (m *Manager) Active() (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return nil, errors.NoActiveSession()
	}
	return m.active, nil
}

// End tears down the active session.
func (m *Manager) End() error {
	m.mu.Lock()
	s := m.active
	m.active = nil
	m.mu.Unlock()

	if s == nil {
		return errors.NoActiveSession()
	}
	s.end()
	m.log.Info().Str("session", s.ID).Str("tx", s.TransactionHash).Msg("session ended")
	return nil
}

// Status reports whether a session is active.
func (m *Manager) Status() types.SessionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active == nil {
		return types.SessionStatusNotStarted
	}
	return types.SessionStatusActive
}
