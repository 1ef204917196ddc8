package engine

import (
	"context"
	"fmt"
	"sync"
)

// Memory is an Engine serving traces registered in-process.
type Memory struct {
	mu     sync.RWMutex
	traces map[string]*StaticTrace
}

// NewMemory creates an empty in-memory engine
func NewMemory() *Memory {
	return &Memory{traces: make(map[string]*StaticTrace)}
}

// Register validates data and makes it available under its transaction hash.
func (m *Memory) Register(data *TraceData) (*StaticTrace, error) {
	t, err := NewStaticTrace(data)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.traces[t.TransactionHash()] = t
	m.mu.Unlock()

	return t, nil
}

// Open implements Engine
func (m *Memory) Open(ctx context.Context, txHash string) (Trace, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := NormalizeHash(txHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, txHash)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.traces[hash]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTraceNotFound, hash)
	}
	return t, nil
}
