package cursor

import (
	"context"

	"github.com/ctagard/trace-mcp/internal/engine"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/scopes"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// noFrame marks steps that no scope covers.
const noFrame = -1

// Resolution is the displayable location chosen for a step.
type Resolution struct {
	Step           int                  `json:"step"`
	ResolvedStep   int                  `json:"resolvedStep"`
	SourceLocation types.SourceLocation `json:"sourceLocation"`
	Exact          bool                 `json:"exact"`
	Valid          bool                 `json:"valid"`
}

// Resolver finds the nearest step with real source, staying inside the
// call frame that owns the requested step.
type Resolver struct {
	trace engine.Trace
	// frame[i] identifies the call frame executing step i.
	frame []int
}

// NewResolver assigns every step of tr to its owning call frame. A frame is
// opened by each root scope and each scope entered through a CALL or CREATE.
func NewResolver(ctx context.Context, tr engine.Trace) (*Resolver, error) {
	roots, err := tr.Scopes(ctx)
	if err != nil {
		return nil, errors.EngineUnavailable("read the scope tree", err)
	}

	r := &Resolver{trace: tr, frame: make([]int, tr.Length())}
	for i := range r.frame {
		r.frame[i] = noFrame
	}

	next := 0
	var assign func(nodes []*types.RawScope, owner int, root bool)
	assign = func(nodes []*types.RawScope, owner int, root bool) {
		for _, s := range nodes {
			id := owner
			if root || scopes.IsExternalCall(s) {
				id = next
				next++
				// children assigned below overwrite the ranges of nested frames
				for step := max(s.FirstStep, 0); step <= s.LastStep && step < len(r.frame); step++ {
					r.frame[step] = id
				}
			}
			assign(s.Children, id, false)
		}
	}
	assign(roots, noFrame, true)

	return r, nil
}

// Frame returns the call frame id of step, or -1.
func (r *Resolver) Frame(step int) int {
	if step < 0 || step >= len(r.frame) {
		return noFrame
	}
	return r.frame[step]
}

// Resolve returns the source location to display for step. An exact match
// is the step's own location. Otherwise the nearest step with a valid
// location in the same contiguous stretch of the owning frame wins, with
// the earlier step preferred at equal distance. If there is none, the raw
// location is returned with Valid false.
func (r *Resolver) Resolve(ctx context.Context, step int) (Resolution, error) {
	if step < 0 || step >= r.trace.Length() {
		return Resolution{}, errors.OutOfRange(step, r.trace.Length())
	}

	raw, err := r.trace.Step(ctx, step)
	if err != nil {
		return Resolution{}, errors.EngineUnavailable("read a step", err)
	}
	res := Resolution{Step: step, ResolvedStep: step, SourceLocation: raw.Source}

	ok, err := r.valid(ctx, raw.Source)
	if err != nil {
		return Resolution{}, err
	}
	if ok {
		res.Exact, res.Valid = true, true
		return res, nil
	}

	frame := r.frame[step]
	back, fwd := step-1, step+1
	for back >= 0 || fwd < len(r.frame) {
		if back >= 0 {
			if r.frame[back] != frame {
				back = -1
			} else {
				if found, err := r.candidate(ctx, back, &res); err != nil || found {
					return res, err
				}
				back--
			}
		}
		if fwd < len(r.frame) {
			if r.frame[fwd] != frame {
				fwd = len(r.frame)
			} else {
				if found, err := r.candidate(ctx, fwd, &res); err != nil || found {
					return res, err
				}
				fwd++
			}
		}
	}
	return res, nil
}

func (r *Resolver) candidate(ctx context.Context, step int, res *Resolution) (bool, error) {
	st, err := r.trace.Step(ctx, step)
	if err != nil {
		return false, errors.EngineUnavailable("read a step", err)
	}
	ok, err := r.valid(ctx, st.Source)
	if err != nil || !ok {
		return false, err
	}
	res.ResolvedStep = step
	res.SourceLocation = st.Source
	res.Valid = true
	return true, nil
}

// valid reports whether loc points into a known, user-authored file.
func (r *Resolver) valid(ctx context.Context, loc types.SourceLocation) (bool, error) {
	if loc.File < 0 {
		return false, nil
	}
	src, ok, err := r.trace.Source(ctx, loc.File)
	if err != nil {
		return false, errors.EngineUnavailable("read a source file", err)
	}
	return ok && !src.Generated, nil
}
