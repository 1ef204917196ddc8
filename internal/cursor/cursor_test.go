package cursor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/internal/engine/enginetest"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/pkg/types"
)

func TestCursor_JumpTo(t *testing.T) {
	c := New(500)
	assert.Zero(t, c.Current())
	assert.Equal(t, 500, c.Length())

	require.NoError(t, c.JumpTo(42))
	assert.Equal(t, 42, c.Current())

	require.NoError(t, c.JumpTo(42))
	assert.Equal(t, 42, c.Current(), "same-step jump is idempotent")

	for _, step := range []int{-1, 500, 10_000} {
		err := c.JumpTo(step)
		assert.True(t, errors.HasCode(err, errors.CodeOutOfRange), "step %d", step)
		assert.Equal(t, 42, c.Current(), "failed jump must not move the cursor")
	}

	require.NoError(t, c.JumpTo(499))
	require.NoError(t, c.JumpTo(0))
}

func newResolver(t *testing.T) *Resolver {
	t.Helper()
	tr, err := enginetest.Engine().Open(context.Background(), enginetest.TxHash)
	require.NoError(t, err)
	r, err := NewResolver(context.Background(), tr)
	require.NoError(t, err)
	return r
}

func TestResolver_Frames(t *testing.T) {
	r := newResolver(t)

	assert.Equal(t, r.Frame(0), r.Frame(49))
	assert.Equal(t, r.Frame(0), r.Frame(121))
	assert.NotEqual(t, r.Frame(49), r.Frame(50))
	assert.Equal(t, r.Frame(50), r.Frame(75), "internal function scopes stay in the caller's frame")
	assert.Equal(t, noFrame, r.Frame(-3))
	assert.Equal(t, noFrame, r.Frame(500))
}

func TestResolver_Resolve(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		step     int
		resolved int
		exact    bool
	}{
		{"exact", 20, 20, true},
		{"generated code resolves backward", 12, 9, false},
		{"generated code at run start", 10, 9, false},
		{"no source does not cross into the caller", 50, 54, false},
		{"last unmapped step", 53, 54, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Resolve(ctx, tc.step)
			require.NoError(t, err)
			assert.Equal(t, tc.step, res.Step)
			assert.Equal(t, tc.resolved, res.ResolvedStep)
			assert.Equal(t, tc.exact, res.Exact)
			assert.True(t, res.Valid)
			assert.Equal(t, 0, res.SourceLocation.File)
		})
	}
}

func TestResolver_ResolveMatchesNearestStep(t *testing.T) {
	r := newResolver(t)
	ctx := context.Background()

	generated, err := r.Resolve(ctx, 12)
	require.NoError(t, err)
	nearest, err := r.Resolve(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, nearest.SourceLocation, generated.SourceLocation)
}

func TestResolver_OutOfRange(t *testing.T) {
	r := newResolver(t)
	_, err := r.Resolve(context.Background(), 500)
	assert.True(t, errors.HasCode(err, errors.CodeOutOfRange))
}

func TestResolver_NoValidLocation(t *testing.T) {
	data := enginetest.Data()
	for i := range data.Steps {
		data.Steps[i].Source = types.NoSource
	}
	tr, err := engine.NewStaticTrace(data)
	require.NoError(t, err)
	r, err := NewResolver(context.Background(), tr)
	require.NoError(t, err)

	res, err := r.Resolve(context.Background(), 70)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.False(t, res.Exact)
	assert.Equal(t, types.NoSource, res.SourceLocation)
	assert.Equal(t, 70, res.ResolvedStep)
}

func TestPosition(t *testing.T) {
	src := enginetest.TokenSource

	tests := []struct {
		offset, line, column int
	}{
		{0, 1, 1},
		{17, 2, 1},
		{34, 3, 1},
		{51, 3, 18},
		{-5, 1, 1},
	}
	for _, tc := range tests {
		line, column := Position(src, tc.offset)
		assert.Equal(t, tc.line, line, "offset %d", tc.offset)
		assert.Equal(t, tc.column, column, "offset %d", tc.offset)
	}
}

func TestHighlight(t *testing.T) {
	src := types.SourceFile{Path: "contracts/Token.sol", Content: enginetest.TokenSource}

	snippet := Highlight(src, types.SourceLocation{File: 0, Offset: 34, Length: 10}, 1)
	assert.Equal(t, "contracts/Token.sol", snippet.Path)
	assert.Equal(t, 3, snippet.Line)
	assert.Equal(t, 1, snippet.Column)
	assert.Equal(t, 3, snippet.EndLine)
	assert.Contains(t, snippet.Text, ">   3 |   function transfer() public {")
	assert.Contains(t, snippet.Text, "    2 |   uint256 total;")
	assert.Contains(t, snippet.Text, "    4 |     total += 1;")
	assert.NotContains(t, snippet.Text, "contract Token")
}
