package scopes

import "github.com/ctagard/trace-mcp/pkg/types"

// Find returns the scope with the given id anywhere in the tree, or nil.
func Find(roots []*types.RawScope, id string) *types.RawScope {
	for _, s := range roots {
		if s.ScopeID == id {
			return s
		}
		if found := Find(s.Children, id); found != nil {
			return found
		}
	}
	return nil
}

// Path returns the chain of scopes containing step, outermost first.
// It is empty when no root covers step.
func Path(roots []*types.RawScope, step int) []*types.RawScope {
	var path []*types.RawScope
	nodes := roots
	for {
		var next *types.RawScope
		for _, s := range nodes {
			if s.Contains(step) {
				next = s
				break
			}
		}
		if next == nil {
			return path
		}
		path = append(path, next)
		nodes = next.Children
	}
}

// Height is the number of levels in the tree.
func Height(roots []*types.RawScope) int {
	h := 0
	for _, s := range roots {
		if sub := 1 + Height(s.Children); sub > h {
			h = sub
		}
	}
	return h
}

// Total counts every scope in the raw tree.
func Total(roots []*types.RawScope) int {
	n := 0
	for _, s := range roots {
		n += 1 + Total(s.Children)
	}
	return n
}
