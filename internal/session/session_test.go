package session

import (
	"context"
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/trace-mcp/internal/config"
	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/internal/engine/enginetest"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/metrics"
	"github.com/ctagard/trace-mcp/pkg/types"
)

func newManager(t *testing.T) (*Manager, *metrics.Metrics) {
	t.Helper()
	m := metrics.New()
	return NewManager(enginetest.Engine(), config.DefaultConfig(), zerolog.Nop(), m), m
}

func startFixture(t *testing.T) (*Manager, *Session) {
	t.Helper()
	mgr, _ := newManager(t)
	s, err := mgr.Start(context.Background(), enginetest.TxHash)
	require.NoError(t, err)
	return mgr, s
}

func TestManager_Lifecycle(t *testing.T) {
	mgr, m := newManager(t)
	ctx := context.Background()

	assert.Equal(t, types.SessionStatusNotStarted, mgr.Status())
	_, err := mgr.Active()
	assert.True(t, errors.HasCode(err, errors.CodeNoActiveSession))
	assert.True(t, errors.HasCode(mgr.End(), errors.CodeNoActiveSession))

	s, err := mgr.Start(ctx, enginetest.TxHash)
	require.NoError(t, err)
	assert.Equal(t, types.SessionStatusActive, mgr.Status())
	assert.NotEmpty(t, s.ID)
	info := s.Info()
	assert.Equal(t, enginetest.TxHash, info.TransactionHash)
	assert.Equal(t, 0, info.CurrentStep)
	assert.Equal(t, enginetest.Length, info.TraceLength)

	active, err := mgr.Active()
	require.NoError(t, err)
	assert.Same(t, s, active)

	require.NoError(t, mgr.End())
	assert.Equal(t, types.SessionStatusNotStarted, mgr.Status())
	assert.Equal(t, types.SessionStatusNotStarted, s.Info().Status)

	_, err = s.GlobalContext(ctx)
	assert.True(t, errors.HasCode(err, errors.CodeNoActiveSession), "ended sessions reject queries")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SessionsStarted))
}

func TestManager_StartReplacesSession(t *testing.T) {
	mgr, s := startFixture(t)
	ctx := context.Background()

	_, err := s.JumpTo(ctx, 100)
	require.NoError(t, err)

	other, err := mgr.Start(ctx, enginetest.OtherTxHash)
	require.NoError(t, err)
	assert.NotEqual(t, s.ID, other.ID)

	_, err = s.CurrentStep()
	assert.True(t, errors.HasCode(err, errors.CodeNoActiveSession))

	again, err := mgr.Start(ctx, enginetest.OtherTxHash)
	require.NoError(t, err)
	step, err := again.CurrentStep()
	require.NoError(t, err)
	assert.Zero(t, step, "restarting the same hash resets the cursor")
}

func TestManager_StartFailures(t *testing.T) {
	mgr, s := startFixture(t)
	ctx := context.Background()

	_, err := mgr.Start(ctx, "not-a-hash")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))

	missing := "0x" + fmt.Sprintf("%064x", 7)
	_, err = mgr.Start(ctx, missing)
	assert.True(t, errors.HasCode(err, errors.CodeEngineUnavailable))
	var de *errors.DebugError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, missing, de.Details["transactionHash"])

	active, err := mgr.Active()
	require.NoError(t, err)
	assert.Same(t, s, active, "a failed start keeps the previous session")
}

func TestSession_JumpTo(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	res, err := s.JumpTo(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, 12, res.Step)
	assert.Equal(t, 9, res.ResolvedStep)
	assert.False(t, res.Exact)
	assert.True(t, res.Valid)

	again, err := s.JumpTo(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, res, again, "same-step jump is idempotent")

	for _, step := range []int{-1, enginetest.Length} {
		_, err := s.JumpTo(ctx, step)
		assert.True(t, errors.HasCode(err, errors.CodeOutOfRange))
		current, err := s.CurrentStep()
		require.NoError(t, err)
		assert.Equal(t, 12, current)
	}
}

func TestSession_SourceLocationAt(t *testing.T) {
	_, s := startFixture(t)

	res, err := s.SourceLocationAt(context.Background(), 50)
	require.NoError(t, err)
	assert.Equal(t, 54, res.ResolvedStep)

	current, err := s.CurrentStep()
	require.NoError(t, err)
	assert.Zero(t, current, "resolution does not move the cursor")
}

func TestSession_SummaryAndDeepFetch(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()
	assert.Equal(t, 3, s.DefaultMaxDepth())

	summary, err := s.Summary(ctx, 2)
	require.NoError(t, err)
	require.Len(t, summary.Tree, 1)
	transfer := summary.Tree[0].Children[0]
	assert.Equal(t, []string{"3"}, transfer.ElidedChildIDs)

	deep, err := s.DeepFetch(ctx, []string{"3"}, 3)
	require.NoError(t, err)
	require.Len(t, deep.Tree, 1)
	assert.Equal(t, "_check", deep.Tree[0].Children[0].FunctionName)
}

func TestSession_GlobalContextAndCache(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	gc, err := s.GlobalContext(ctx)
	require.NoError(t, err)
	assert.Equal(t, enginetest.TxHash, gc.Tx.Hash)
	assert.Equal(t, uint64(19_000_000), gc.Block.Number)

	cache, err := s.TraceCache(ctx)
	require.NoError(t, err)
	assert.Equal(t, enginetest.Length, cache.Length)
	assert.Equal(t, []int{120}, cache.Returns)
	assert.Equal(t, []int{499}, cache.Stops)
	require.Len(t, cache.Calls, 1)
	assert.Equal(t, 49, cache.Calls[0].Step)
	require.Len(t, cache.StorageWrites, 1)
}

func localNames(snap types.ScopeSnapshot) []string {
	names := make([]string, len(snap.Locals))
	for i, l := range snap.Locals {
		names[i] = l.Name
	}
	return names
}

func TestSession_ExtractLocalsAt(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	tests := []struct {
		step     int
		scope    string
		function string
		chain    []string
		names    []string
	}{
		{2, "1", "execute", []string{"1"}, []string{"a"}},
		{10, "1", "execute", []string{"1"}, []string{"a", "owner"}},
		{55, "2", "transfer", []string{"2"}, []string{"amount", "note"}},
		{65, "3", "transfer", []string{"3", "2"}, []string{"i", "p", "amount", "ids", "note"}},
		{75, "4", "_check", []string{"4"}, []string{}},
	}

	for _, tc := range tests {
		t.Run(fmt.Sprintf("step=%d", tc.step), func(t *testing.T) {
			snap, err := s.ExtractLocalsAt(ctx, tc.step)
			require.NoError(t, err)
			assert.Equal(t, tc.step, snap.Step)
			assert.Equal(t, tc.scope, snap.ScopeID)
			assert.Equal(t, tc.function, snap.FunctionName)
			assert.Equal(t, tc.chain, snap.ScopeChain)
			assert.Equal(t, tc.names, localNames(snap))
			for _, l := range snap.Locals {
				assert.Equal(t, types.VariableKindLocal, l.Kind)
			}
		})
	}

	_, err := s.ExtractLocalsAt(ctx, 500)
	assert.True(t, errors.HasCode(err, errors.CodeOutOfRange))
}

func TestSession_DecodeLocals(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	locals, err := s.DecodeLocalsAt(ctx, 54)
	require.NoError(t, err)
	assert.Equal(t, "100", locals["amount"].Value)
	assert.Equal(t, "hello", locals["note"].Value)

	early, err := s.DecodeLocalsAt(ctx, 53)
	require.NoError(t, err)
	assert.True(t, early["note"].NotYetInitialized)

	p, err := s.DecodeLocalVariable(ctx, "v7", 63)
	require.NoError(t, err)
	fields := p.Value.(map[string]types.DecodedValue)
	assert.Equal(t, "-2", fields["y"].Value)

	_, err = s.DecodeLocalVariable(ctx, "v7", 55)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.CodeUnresolvedVariable))
	assert.Contains(t, err.Error(), "v3")
}

func TestSession_DecodeIsDeterministicAndCached(t *testing.T) {
	mgr, m := newManager(t)
	ctx := context.Background()
	s, err := mgr.Start(ctx, enginetest.TxHash)
	require.NoError(t, err)

	first, err := s.DecodeLocalVariable(ctx, "v5", 60)
	require.NoError(t, err)
	second, err := s.DecodeLocalVariable(ctx, "v5", 60)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("hit")))
}

func TestSession_ExtractStateAt(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	vars, err := s.ExtractStateAt(ctx, 5)
	require.NoError(t, err)
	require.Len(t, vars, 3)
	for _, v := range vars {
		assert.Equal(t, enginetest.ContractA.Hex(), v.Address)
		assert.Equal(t, types.VariableKindState, v.Kind)
	}

	inner, err := s.ExtractStateAt(ctx, 60)
	require.NoError(t, err)
	require.Len(t, inner, 3)
	assert.Equal(t, enginetest.ContractB.Hex(), inner[0].Address)
}

func TestSession_DecodeState(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	all, err := s.DecodeStateAt(ctx, 5, nil)
	require.NoError(t, err)
	assert.Equal(t, "100", all["total"].Value)
	assert.Equal(t, true, all["paused"].Value)

	after, err := s.DecodeStateAt(ctx, 40, []types.VariableDescriptor{{ID: "s1"}})
	require.NoError(t, err)
	assert.Len(t, after, 1)
	assert.Equal(t, "200", after["total"].Value)

	byName, err := s.DecodeStateAt(ctx, 40, []types.VariableDescriptor{{Name: "name", Address: enginetest.ContractB.Hex()}})
	require.NoError(t, err)
	assert.Equal(t, "hello", byName["name"].Value)

	_, err = s.DecodeStateAt(ctx, 40, []types.VariableDescriptor{{ID: "s9"}})
	assert.True(t, errors.HasCode(err, errors.CodeUnresolvedVariable))

	_, err = s.DecodeStateAt(ctx, 40, []types.VariableDescriptor{{ID: "s1", Address: "0xnope"}})
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))

	values, err := s.DecodeStateVariable(ctx, "s5", 70)
	require.NoError(t, err)
	assert.Len(t, values.Value, 2)

	_, err = s.DecodeStateVariable(ctx, "s1", 70)
	assert.True(t, errors.HasCode(err, errors.CodeUnresolvedVariable), "s1 belongs to the caller, not the executing contract")
}

func TestSession_StorageViewAt(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	view, err := s.StorageViewAt(ctx, 29, "")
	require.NoError(t, err)
	assert.Equal(t, enginetest.ContractA.Hex(), view.Address)
	assert.Len(t, view.Slots, 2)
	assert.Equal(t, enginetest.Word(100), view.Slots[enginetest.Word(0)])
	assert.Contains(t, view.Message, "2 non-zero slot(s)")

	view, err = s.StorageViewAt(ctx, 30, enginetest.ContractA.Hex())
	require.NoError(t, err)
	assert.Equal(t, enginetest.Word(200), view.Slots[enginetest.Word(0)])

	_, err = s.StorageViewAt(ctx, 30, "garbage")
	assert.True(t, errors.HasCode(err, errors.CodeInvalidParameter))

	_, err = s.StorageViewAt(ctx, 600, enginetest.ContractA.Hex())
	assert.True(t, errors.HasCode(err, errors.CodeOutOfRange))
}

func TestSession_CurrentStepView(t *testing.T) {
	_, s := startFixture(t)
	ctx := context.Background()

	_, err := s.JumpTo(ctx, 75)
	require.NoError(t, err)

	view, err := s.CurrentStepView(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75, view.Step)
	assert.Equal(t, enginetest.ContractB.Hex(), view.Address)
	assert.True(t, view.Resolution.Exact)
	require.NotNil(t, view.Source)
	assert.Equal(t, "contracts/Token.sol", view.Source.Path)
	assert.Contains(t, view.Source.Text, ">")

	require.Len(t, view.CallStack, 4)
	assert.Equal(t, "_check", view.CallStack[0].Name)
	assert.Equal(t, "execute", view.CallStack[3].Name)
	assert.Equal(t, 0, view.CallStack[0].Id)
	require.NotNil(t, view.CallStack[0].Source)
	assert.Equal(t, "Token.sol", view.CallStack[0].Source.Name)
	assert.Positive(t, view.CallStack[0].Line)

	// execute is paused on the CALL at step 49
	assert.Equal(t, "0x62", view.CallStack[3].InstructionPointerReference)
}

func TestSession_CurrentStepView_ChildAtParentStart(t *testing.T) {
	// the unnamed block inside transfer starts on transfer's first step
	data := enginetest.Data()
	data.Scopes[0].Children[0].Children[0].FirstStep = 50
	mem := engine.NewMemory()
	_, err := mem.Register(data)
	require.NoError(t, err)

	mgr := NewManager(mem, config.DefaultConfig(), zerolog.Nop(), metrics.New())
	ctx := context.Background()
	s, err := mgr.Start(ctx, enginetest.TxHash)
	require.NoError(t, err)
	_, err = s.JumpTo(ctx, 75)
	require.NoError(t, err)

	view, err := s.CurrentStepView(ctx)
	require.NoError(t, err)
	require.Len(t, view.CallStack, 4)

	transfer := view.CallStack[2]
	assert.Equal(t, "transfer", transfer.Name)
	// paused on its own first step, not on the caller's CALL at step 49
	assert.Equal(t, "0x64", transfer.InstructionPointerReference)
	require.NotNil(t, transfer.Source)
	assert.Empty(t, transfer.PresentationHint)
}
