package session

import (
	"context"
	"fmt"
	"path"

	"github.com/google/go-dap"

	"github.com/ctagard/trace-mcp/internal/cursor"
	"github.com/ctagard/trace-mcp/internal/errors"
	"github.com/ctagard/trace-mcp/internal/scopes"
	"github.com/ctagard/trace-mcp/pkg/types"
)

// snippetContext is the number of lines shown around the highlighted range.
const snippetContext = 2

// StepView describes the step under the cursor for display.
type StepView struct {
	Step       int               `json:"step"`
	Op         string            `json:"op"`
	PC         uint64            `json:"pc"`
	Depth      int               `json:"depth"`
	Gas        uint64            `json:"gas"`
	Address    string            `json:"address"`
	Resolution cursor.Resolution `json:"resolution"`
	Source     *cursor.Snippet   `json:"source,omitempty"`
	CallStack  []dap.StackFrame  `json:"callStack"`
}

// CurrentStepView renders the cursor position: the instruction, its
// resolved source with a highlighted excerpt, and the scope chain as a
// stack, innermost frame first.
func (s *Session) CurrentStepView(ctx context.Context) (StepView, error) {
	if err := s.lock(); err != nil {
		return StepView{}, err
	}
	defer s.mu.Unlock()

	current := s.cursor.Current()
	st, err := s.step(ctx, current)
	if err != nil {
		return StepView{}, err
	}
	res, err := s.resolver.Resolve(ctx, current)
	if err != nil {
		return StepView{}, err
	}

	view := StepView{
		Step:       current,
		Op:         st.Op,
		PC:         st.PC,
		Depth:      st.Depth,
		Gas:        st.Gas,
		Address:    st.Address,
		Resolution: res,
		CallStack:  []dap.StackFrame{},
	}

	if res.Valid {
		src, ok, err := s.trace.Source(ctx, res.SourceLocation.File)
		if err != nil {
			return StepView{}, errors.EngineUnavailable("read a source file", err)
		}
		if ok {
			snippet := cursor.Highlight(src, res.SourceLocation, snippetContext)
			view.Source = &snippet
		}
	}

	chain := scopes.Path(s.roots, current)
	for i := len(chain) - 1; i >= 0; i-- {
		// an outer frame is paused on the step just before its child began,
		// or on its own first step when the child starts there too
		at := current
		if i < len(chain)-1 {
			at = max(chain[i+1].FirstStep-1, chain[i].FirstStep)
		}
		frame, err := s.stackFrame(ctx, chain[i], at, len(chain)-1-i)
		if err != nil {
			return StepView{}, err
		}
		view.CallStack = append(view.CallStack, frame)
	}

	return view, nil
}

func (s *Session) stackFrame(ctx context.Context, scope *types.RawScope, step, id int) (dap.StackFrame, error) {
	frame := dap.StackFrame{Id: id, Name: frameName(scope)}
	if step < 0 || step >= s.cursor.Length() {
		return frame, nil
	}

	st, err := s.trace.Step(ctx, step)
	if err != nil {
		return dap.StackFrame{}, errors.EngineUnavailable("read a step", err)
	}
	frame.InstructionPointerReference = fmt.Sprintf("0x%x", st.PC)

	res, err := s.resolver.Resolve(ctx, step)
	if err != nil {
		return dap.StackFrame{}, err
	}
	if !res.Valid {
		frame.PresentationHint = "subtle"
		return frame, nil
	}
	src, ok, err := s.trace.Source(ctx, res.SourceLocation.File)
	if err != nil {
		return dap.StackFrame{}, errors.EngineUnavailable("read a source file", err)
	}
	if !ok {
		return frame, nil
	}

	frame.Source = &dap.Source{Name: path.Base(src.Path), Path: src.Path}
	frame.Line, frame.Column = cursor.Position(src.Content, res.SourceLocation.Offset)
	frame.EndLine, frame.EndColumn = cursor.Position(src.Content, res.SourceLocation.Offset+res.SourceLocation.Length)
	return frame, nil
}

func frameName(scope *types.RawScope) string {
	switch {
	case scope.FunctionName != "":
		return scope.FunctionName
	case scope.IsCreation:
		return "constructor"
	case scope.OpcodeInfo != nil:
		return fmt.Sprintf("%s (scope %s)", scope.OpcodeInfo.Op, scope.ScopeID)
	default:
		return "block (scope " + scope.ScopeID + ")"
	}
}
