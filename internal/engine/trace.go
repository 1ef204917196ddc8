package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ctagard/trace-mcp/pkg/types"
)

// LocalSample records the raw words of a local variable from a step onward.
type LocalSample struct {
	VariableID string   `json:"variableId"`
	FromStep   int      `json:"fromStep"`
	Words      []string `json:"words"`
}

// TraceData is the serialized form of a materialized trace.
type TraceData struct {
	TransactionHash string                                `json:"transactionHash"`
	Steps           []types.Step                          `json:"steps"`
	Sources         []types.SourceFile                    `json:"sources"`
	Scopes          []*types.RawScope                     `json:"scopes"`
	Context         types.GlobalContext                   `json:"context"`
	Cache           *types.TraceCache                     `json:"cache,omitempty"`
	Layouts         map[string][]types.VariableDescriptor `json:"layouts,omitempty"`
	Storage         map[string]map[string]string          `json:"storage,omitempty"`
	StorageWrites   []types.StorageWrite                  `json:"storageWrites,omitempty"`
	Locals          []LocalSample                         `json:"locals,omitempty"`
}

type storageWrite struct {
	step  int
	slot  common.Hash
	value common.Hash
}

type localSample struct {
	fromStep int
	words    []common.Hash
}

// StaticTrace serves a TraceData value. It is immutable after construction.
type StaticTrace struct {
	hash    string
	data    *TraceData
	sources map[int]types.SourceFile
	layouts map[common.Address][]types.VariableDescriptor
	initial map[common.Address]Storage
	writes  map[common.Address][]storageWrite
	locals  map[string][]localSample
	cache   types.TraceCache
}

// NewStaticTrace validates data and builds the lookup indexes.
func NewStaticTrace(data *TraceData) (*StaticTrace, error) {
	hash, err := NormalizeHash(data.TransactionHash)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", err, data.TransactionHash)
	}
	if len(data.Steps) == 0 {
		return nil, fmt.Errorf("trace %s has no steps", hash)
	}
	for i, step := range data.Steps {
		if step.Index != i {
			return nil, fmt.Errorf("trace %s: step at position %d has index %d", hash, i, step.Index)
		}
	}
	if err := validateScopes(data.Scopes, 0, len(data.Steps)-1); err != nil {
		return nil, fmt.Errorf("trace %s: %w", hash, err)
	}

	t := &StaticTrace{
		hash:    hash,
		data:    data,
		sources: make(map[int]types.SourceFile, len(data.Sources)),
		layouts: make(map[common.Address][]types.VariableDescriptor, len(data.Layouts)),
		initial: make(map[common.Address]Storage, len(data.Storage)),
		writes:  make(map[common.Address][]storageWrite),
		locals:  make(map[string][]localSample),
	}

	for _, src := range data.Sources {
		t.sources[src.Index] = src
	}

	for addr, vars := range data.Layouts {
		address := common.HexToAddress(addr)
		descs := make([]types.VariableDescriptor, len(vars))
		for i, v := range vars {
			v.Kind = types.VariableKindState
			v.Address = address.Hex()
			descs[i] = v
		}
		t.layouts[address] = descs
	}

	for addr, slots := range data.Storage {
		snapshot := make(Storage, len(slots))
		for slot, value := range slots {
			snapshot[common.HexToHash(slot)] = common.HexToHash(value)
		}
		t.initial[common.HexToAddress(addr)] = snapshot
	}

	for _, w := range data.StorageWrites {
		address := common.HexToAddress(w.Address)
		t.writes[address] = append(t.writes[address], storageWrite{
			step:  w.Step,
			slot:  common.HexToHash(w.Slot),
			value: common.HexToHash(w.Value),
		})
	}
	for _, ws := range t.writes {
		sort.SliceStable(ws, func(i, j int) bool { return ws[i].step < ws[j].step })
	}

	for _, sample := range data.Locals {
		words := make([]common.Hash, len(sample.Words))
		for i, w := range sample.Words {
			words[i] = common.HexToHash(w)
		}
		t.locals[sample.VariableID] = append(t.locals[sample.VariableID], localSample{
			fromStep: sample.FromStep,
			words:    words,
		})
	}
	for _, samples := range t.locals {
		sort.SliceStable(samples, func(i, j int) bool { return samples[i].fromStep < samples[j].fromStep })
	}

	if data.Cache != nil {
		t.cache = *data.Cache
		t.cache.Length = len(data.Steps)
	} else {
		t.cache = deriveCache(data)
	}

	return t, nil
}

func validateScopes(scopes []*types.RawScope, first, last int) error {
	for _, s := range scopes {
		if s.FirstStep > s.LastStep {
			return fmt.Errorf("scope %s has firstStep %d > lastStep %d", s.ScopeID, s.FirstStep, s.LastStep)
		}
		if s.FirstStep < first || s.LastStep > last {
			return fmt.Errorf("scope %s [%d,%d] escapes its parent [%d,%d]", s.ScopeID, s.FirstStep, s.LastStep, first, last)
		}
		if err := validateScopes(s.Children, s.FirstStep, s.LastStep); err != nil {
			return err
		}
	}
	return nil
}

// deriveCache builds the side table from opcodes when the dump carries none.
// Out-of-gas and memory write positions need stack data and stay empty.
func deriveCache(data *TraceData) types.TraceCache {
	cache := types.TraceCache{
		Length:        len(data.Steps),
		Returns:       []int{},
		Stops:         []int{},
		OutOfGas:      []int{},
		Calls:         []types.CallEntry{},
		StorageWrites: append([]types.StorageWrite{}, data.StorageWrites...),
		MemoryWrites:  []types.MemoryWrite{},
	}
	for _, step := range data.Steps {
		switch op := strings.ToUpper(step.Op); op {
		case "RETURN":
			cache.Returns = append(cache.Returns, step.Index)
		case "STOP":
			cache.Stops = append(cache.Stops, step.Index)
		case "CALL", "CALLCODE", "DELEGATECALL", "STATICCALL", "CREATE", "CREATE2":
			cache.Calls = append(cache.Calls, types.CallEntry{Step: step.Index, Op: op, From: step.Address})
		}
	}
	sort.SliceStable(cache.StorageWrites, func(i, j int) bool {
		return cache.StorageWrites[i].Step < cache.StorageWrites[j].Step
	})
	return cache
}

// TransactionHash implements Trace
func (t *StaticTrace) TransactionHash() string { return t.hash }

// Length implements Trace
func (t *StaticTrace) Length() int { return len(t.data.Steps) }

// Scopes implements Trace
func (t *StaticTrace) Scopes(ctx context.Context) ([]*types.RawScope, error) {
	return t.data.Scopes, nil
}

// Step implements Trace
func (t *StaticTrace) Step(ctx context.Context, index int) (types.Step, error) {
	if index < 0 || index >= len(t.data.Steps) {
		return types.Step{}, fmt.Errorf("%w: %d", ErrStepOutOfRange, index)
	}
	return t.data.Steps[index], nil
}

// Source implements Trace
func (t *StaticTrace) Source(ctx context.Context, file int) (types.SourceFile, bool, error) {
	src, ok := t.sources[file]
	return src, ok, nil
}

// GlobalContext implements Trace
func (t *StaticTrace) GlobalContext(ctx context.Context) (types.GlobalContext, error) {
	gc := t.data.Context
	if gc.Tx.Hash == "" {
		gc.Tx.Hash = t.hash
	}
	return gc, nil
}

// Cache implements Trace
func (t *StaticTrace) Cache(ctx context.Context) (types.TraceCache, error) {
	return t.cache, nil
}

// ContractLayout implements Trace
func (t *StaticTrace) ContractLayout(ctx context.Context, address common.Address) ([]types.VariableDescriptor, error) {
	vars := t.layouts[address]
	out := make([]types.VariableDescriptor, len(vars))
	copy(out, vars)
	return out, nil
}

// LocalWords implements Trace
func (t *StaticTrace) LocalWords(ctx context.Context, variableID string, step int) ([]common.Hash, bool, error) {
	if step < 0 || step >= len(t.data.Steps) {
		return nil, false, fmt.Errorf("%w: %d", ErrStepOutOfRange, step)
	}
	samples := t.locals[variableID]
	// first sample recorded after step
	i := sort.Search(len(samples), func(i int) bool { return samples[i].fromStep > step })
	if i == 0 {
		return nil, false, nil
	}
	words := make([]common.Hash, len(samples[i-1].words))
	copy(words, samples[i-1].words)
	return words, true, nil
}

// StorageAt implements Trace
func (t *StaticTrace) StorageAt(ctx context.Context, step int, address common.Address) (Storage, error) {
	if step < 0 || step >= len(t.data.Steps) {
		return nil, fmt.Errorf("%w: %d", ErrStepOutOfRange, step)
	}
	snapshot := t.initial[address].Copy()
	for _, w := range t.writes[address] {
		if w.step > step {
			break
		}
		snapshot[w.slot] = w.value
	}
	return snapshot, nil
}
