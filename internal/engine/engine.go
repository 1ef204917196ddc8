// Package engine defines the trace engine collaborator consumed by the debug core.
//
// The engine owns the materialized, immutable trace of one transaction: its
// steps, scope tree, source files, storage history and raw local variable
// words. The core never writes back into a trace; every method is a lookup.
//
// Two implementations are provided:
//   - Memory: traces registered in-process (used by tests and embedders)
//   - FileEngine: traces loaded from <dir>/<txHash>.json dumps
package engine

import (
	"context"
	stderrors "errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ctagard/trace-mcp/pkg/types"
)

var (
	// ErrTraceNotFound is returned when the engine has no trace for a hash
	ErrTraceNotFound = stderrors.New("trace not found")

	// ErrInvalidHash is returned for malformed transaction hashes
	ErrInvalidHash = stderrors.New("invalid transaction hash")

	// ErrStepOutOfRange is returned by Trace lookups outside [0, Length)
	ErrStepOutOfRange = stderrors.New("step out of range")
)

// Engine opens traces by transaction hash.
type Engine interface {
	Open(ctx context.Context, txHash string) (Trace, error)
}

// Trace is a read-only view over one materialized transaction trace.
type Trace interface {
	// TransactionHash returns the normalized hash the trace was opened with.
	TransactionHash() string

	// Length is the number of steps.
	Length() int

	// Scopes returns the root scopes of the scope tree.
	Scopes(ctx context.Context) ([]*types.RawScope, error)

	Step(ctx context.Context, index int) (types.Step, error)

	// Source returns the file with the given index; ok is false for unknown files.
	Source(ctx context.Context, file int) (types.SourceFile, bool, error)

	GlobalContext(ctx context.Context) (types.GlobalContext, error)

	Cache(ctx context.Context) (types.TraceCache, error)

	// ContractLayout lists the state variables declared by the contract at address.
	ContractLayout(ctx context.Context, address common.Address) ([]types.VariableDescriptor, error)

	// LocalWords returns the raw 32-byte words of a local variable as of step.
	// ok is false when nothing has been written for the variable yet.
	LocalWords(ctx context.Context, variableID string, step int) (words []common.Hash, ok bool, err error)

	// StorageAt returns the storage of address with every write up to and
	// including step applied.
	StorageAt(ctx context.Context, step int, address common.Address) (Storage, error)
}

// Storage is a contract storage snapshot.
type Storage map[common.Hash]common.Hash

// Copy returns an independent copy of the snapshot.
func (s Storage) Copy() Storage {
	cpy := make(Storage, len(s))
	for key, value := range s {
		cpy[key] = value
	}
	return cpy
}

// Get returns the word at slot; unwritten slots read as zero.
func (s Storage) Get(slot common.Hash) common.Hash {
	return s[slot]
}

// Lookup returns the word at slot and whether the slot is present in the
// snapshot, either from the initial state or from a write up to the step.
func (s Storage) Lookup(slot common.Hash) (common.Hash, bool) {
	w, ok := s[slot]
	return w, ok
}

// NormalizeHash validates a 32-byte hex transaction hash and lowercases it.
func NormalizeHash(txHash string) (string, error) {
	txHash = strings.TrimSpace(txHash)
	b, err := hexutil.Decode(strings.ToLower(txHash))
	if err != nil || len(b) != common.HashLength {
		return "", ErrInvalidHash
	}
	return hexutil.Encode(b), nil
}
