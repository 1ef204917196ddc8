package session

import (
	"context"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/scopes"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// cacheKey identifies one decoded value. Address is empty for locals.
type cacheKey struct {
	kind    types.VariableKind
	step    int
	address string
	id      string
}

// StorageView is the non-zero storage of one contract at a step.
type StorageView struct {
	Step    int               `json:"step"`
	Address string            `json:"address"`
	Slots   map[string]string `json:"storage"`
	Message string            `json:"message"`
}

// ExtractLocalsAt lists the locals visible at step without decoding them.
func (s *Session) ExtractLocalsAt(ctx context.Context, step int) (types.ScopeSnapshot, error) {
	if err := s.lock(); err != nil {
		return types.ScopeSnapshot{}, err
	}
	defer s.mu.Unlock()

	return s.snapshot(step)
}

// DecodeLocalsAt decodes every local visible at step, keyed by name.
func (s *Session) DecodeLocalsAt(ctx context.Context, step int) (map[string]types.DecodedValue, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	snap, err := s.snapshot(step)
	if err != nil {
		return nil, err
	}
	out := make(map[string]types.DecodedValue, len(snap.Locals))
	for _, desc := range snap.Locals {
		v, err := s.decodeLocal(ctx, desc, step)
		if err != nil {
			return nil, err
		}
		out[desc.Name] = v
	}
	return out, nil
}

// DecodeLocalVariable decodes one local by id. The variable must be visible at step.
func (s *Session) DecodeLocalVariable(ctx context.Context, variableID string, step int) (types.DecodedValue, error) {
	if err := s.lock(); err != nil {
		return types.DecodedValue{}, err
	}
	defer s.mu.Unlock()

	snap, err := s.snapshot(step)
	if err != nil {
		return types.DecodedValue{}, err
	}
	available := make([]string, 0, len(snap.Locals))
	for _, desc := range snap.Locals {
		if desc.ID == variableID {
			return s.decodeLocal(ctx, desc, step)
		}
		available = append(available, desc.ID)
	}
	return types.DecodedValue{}, errors.UnresolvedVariable(variableID, step, available)
}

// ExtractStateAt lists the state variables of the contract executing at step.
func (s *Session) ExtractStateAt(ctx context.Context, step int) ([]types.VariableDescriptor, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	_, layout, err := s.executingLayout(ctx, step)
	return layout, err
}

// DecodeStateAt decodes state variables at step, keyed by name. Each
// requested variable is matched by id, or by name when it has no id,
// against the layout of its Address or of the executing contract. An
// empty request decodes the executing contract's whole layout.
func (s *Session) DecodeStateAt(ctx context.Context, step int, vars []types.VariableDescriptor) (map[string]types.DecodedValue, error) {
	if err := s.lock(); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	executing, layout, err := s.executingLayout(ctx, step)
	if err != nil {
		return nil, err
	}
	if len(vars) == 0 {
		vars = layout
	}

	layouts := map[common.Address][]types.VariableDescriptor{executing: layout}
	out := make(map[string]types.DecodedValue, len(vars))
	for _, req := range vars {
		address := executing
		if req.Address != "" {
			if !common.IsHexAddress(req.Address) {
				return nil, errors.InvalidParameter("address", req.Address, "a 20-byte hex contract address")
			}
			address = common.HexToAddress(req.Address)
		}
		candidates, ok := layouts[address]
		if !ok {
			if candidates, err = s.trace.ContractLayout(ctx, address); err != nil {
				return nil, errors.EngineUnavailable("read the storage layout", err)
			}
			layouts[address] = candidates
		}

		desc, found := matchState(candidates, req)
		if !found {
			id := req.ID
			if id == "" {
				id = req.Name
			}
			return nil, errors.UnresolvedVariable(id, step, stateIDs(candidates))
		}
		v, err := s.decodeState(ctx, desc, step)
		if err != nil {
			return nil, err
		}
		out[desc.Name] = v
	}
	return out, nil
}

// DecodeStateVariable decodes one state variable of the executing contract by id.
func (s *Session) DecodeStateVariable(ctx context.Context, variableID string, step int) (types.DecodedValue, error) {
	if err := s.lock(); err != nil {
		return types.DecodedValue{}, err
	}
	defer s.mu.Unlock()

	_, layout, err := s.executingLayout(ctx, step)
	if err != nil {
		return types.DecodedValue{}, err
	}
	desc, found := matchState(layout, types.VariableDescriptor{ID: variableID})
	if !found {
		return types.DecodedValue{}, errors.UnresolvedVariable(variableID, step, stateIDs(layout))
	}
	return s.decodeState(ctx, desc, step)
}

// StorageViewAt returns the raw storage of address at step. An empty address
// selects the contract executing at step.
func (s *Session) StorageViewAt(ctx context.Context, step int, address string) (StorageView, error) {
	if err := s.lock(); err != nil {
		return StorageView{}, err
	}
	defer s.mu.Unlock()

	var addr common.Address
	switch {
	case address == "":
		st, err := s.step(ctx, step)
		if err != nil {
			return StorageView{}, err
		}
		addr = common.HexToAddress(st.Address)
	case common.IsHexAddress(address):
		if err := s.cursor.Check(step); err != nil {
			return StorageView{}, err
		}
		addr = common.HexToAddress(address)
	default:
		return StorageView{}, errors.InvalidParameter("address", address, "a 20-byte hex contract address")
	}

	storage, err := s.trace.StorageAt(ctx, step, addr)
	if err != nil {
		return StorageView{}, errors.EngineUnavailable("read storage", err)
	}

	slots := make(map[string]string, len(storage))
	for slot, value := range storage {
		if value != (common.Hash{}) {
			slots[slot.Hex()] = value.Hex()
		}
	}
	return StorageView{
		Step:    step,
		Address: addr.Hex(),
		Slots:   slots,
		Message: fmt.Sprintf("storage of %s at step %d: %d non-zero slot(s)", addr.Hex(), step, len(slots)),
	}, nil
}

func (s *Session) step(ctx context.Context, step int) (types.Step, error) {
	if err := s.cursor.Check(step); err != nil {
		return types.Step{}, err
	}
	st, err := s.trace.Step(ctx, step)
	if err != nil {
		return types.Step{}, errors.EngineUnavailable("read a step", err)
	}
	return st, nil
}

// snapshot walks from the innermost scope containing step outward and stops
// after the first scope that opens a function or an external call. Locals
// not yet declared at step are left out and inner names shadow outer ones.
func (s *Session) snapshot(step int) (types.ScopeSnapshot, error) {
	if err := s.cursor.Check(step); err != nil {
		return types.ScopeSnapshot{}, err
	}
	path := scopes.Path(s.roots, step)
	if len(path) == 0 {
		return types.ScopeSnapshot{}, errors.UnresolvedScope(step)
	}

	snap := types.ScopeSnapshot{
		Step:       step,
		ScopeID:    path[len(path)-1].ScopeID,
		ScopeChain: []string{},
		Locals:     []types.VariableDescriptor{},
	}
	seen := make(map[string]bool)
	for i := len(path) - 1; i >= 0; i-- {
		scope := path[i]
		snap.ScopeChain = append(snap.ScopeChain, scope.ScopeID)

		names := make([]string, 0, len(scope.Locals))
		for name := range scope.Locals {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			local := scope.Locals[name]
			if local.DeclaredAt > step || seen[local.Name] {
				continue
			}
			seen[local.Name] = true
			snap.Locals = append(snap.Locals, types.VariableDescriptor{
				ID:         local.ID,
				Name:       local.Name,
				Type:       local.Type,
				Kind:       types.VariableKindLocal,
				Members:    local.Members,
				ScopeID:    scope.ScopeID,
				DeclaredAt: local.DeclaredAt,
			})
		}

		if scope.FunctionName != "" || scopes.IsExternalCall(scope) {
			snap.FunctionName = scope.FunctionName
			break
		}
	}
	return snap, nil
}

func (s *Session) executingLayout(ctx context.Context, step int) (common.Address, []types.VariableDescriptor, error) {
	st, err := s.step(ctx, step)
	if err != nil {
		return common.Address{}, nil, err
	}
	addr := common.HexToAddress(st.Address)
	layout, err := s.trace.ContractLayout(ctx, addr)
	if err != nil {
		return common.Address{}, nil, errors.EngineUnavailable("read the storage layout", err)
	}
	return addr, layout, nil
}

func matchState(layout []types.VariableDescriptor, req types.VariableDescriptor) (types.VariableDescriptor, bool) {
	for _, desc := range layout {
		if req.ID != "" && desc.ID == req.ID {
			return desc, true
		}
		if req.ID == "" && req.Name != "" && desc.Name == req.Name {
			return desc, true
		}
	}
	return types.VariableDescriptor{}, false
}

func stateIDs(layout []types.VariableDescriptor) []string {
	ids := make([]string, len(layout))
	for i, desc := range layout {
		ids[i] = desc.ID
	}
	return ids
}

func (s *Session) decodeLocal(ctx context.Context, desc types.VariableDescriptor, step int) (types.DecodedValue, error) {
	key := cacheKey{kind: types.VariableKindLocal, step: step, id: desc.ID}
	if v, ok := s.cache.Get(key); ok {
		s.metrics.ObserveCache(true)
		return v, nil
	}
	s.metrics.ObserveCache(false)

	words, written, err := s.trace.LocalWords(ctx, desc.ID, step)
	if err != nil {
		return types.DecodedValue{}, errors.EngineUnavailable("read local words", err)
	}
	v, err := s.decoder.DecodeLocal(desc, words, written)
	if err != nil {
		return types.DecodedValue{}, err
	}
	s.cache.Add(key, v)
	return v, nil
}

func (s *Session) decodeState(ctx context.Context, desc types.VariableDescriptor, step int) (types.DecodedValue, error) {
	key := cacheKey{kind: types.VariableKindState, step: step, address: desc.Address, id: desc.ID}
	if v, ok := s.cache.Get(key); ok {
		s.metrics.ObserveCache(true)
		return v, nil
	}
	s.metrics.ObserveCache(false)

	storage, err := s.trace.StorageAt(ctx, step, common.HexToAddress(desc.Address))
	if err != nil {
		return types.DecodedValue{}, errors.EngineUnavailable("read storage", err)
	}
	v, err := s.decoder.DecodeState(desc, storage)
	if err != nil {
		return types.DecodedValue{}, err
	}
	s.cache.Add(key, v)
	return v, nil
}
