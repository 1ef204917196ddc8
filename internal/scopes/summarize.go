// Package scopes turns the raw scope tree of a trace into the bounded
// summaries handed to callers with a limited output budget.
//
// Root scopes sit at depth 1. A node at depth d < maxDepth is expanded; a
// node at depth d >= maxDepth keeps only its counts and names the ids of
// the children that were left out so they can be fetched with FindScopes.
package scopes

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ctagard/trace-mcp/pkg/types"
)

// DefaultMaxDepth is used when callers do not ask for a depth.
const DefaultMaxDepth = 3

// callOpcodes are the instructions that open an external call frame.
var callOpcodes = map[string]bool{
	"CALL":         true,
	"CALLCODE":     true,
	"DELEGATECALL": true,
	"STATICCALL":   true,
	"CREATE":       true,
	"CREATE2":      true,
}

// IsCallOpcode reports whether op belongs to the CALL or CREATE family.
func IsCallOpcode(op string) bool {
	return callOpcodes[strings.ToUpper(op)]
}

// IsExternalCall reports whether the scope starts a new call frame.
func IsExternalCall(s *types.RawScope) bool {
	return s.IsCreation || (s.OpcodeInfo != nil && IsCallOpcode(s.OpcodeInfo.Op))
}

// Summarize builds the depth-bounded tree and its aggregate statistics.
// The statistics are computed over the bounded tree, so scopes below the
// depth limit are not counted.
func Summarize(roots []*types.RawScope, maxDepth int) types.ScopesSummary {
	if maxDepth < 0 {
		maxDepth = 0
	}

	tree := make([]types.ProcessedScope, 0, len(roots))
	for _, root := range roots {
		tree = append(tree, process(root, 1, maxDepth))
	}

	return types.ScopesSummary{
		MaxDepth:          maxDepth,
		TopLevelCount:     len(tree),
		TotalAllScopes:    CountAllScopes(tree),
		TotalVariables:    CountAllVariables(tree),
		FunctionInventory: FunctionInventory(tree),
		Tree:              tree,
	}
}

// FindScopes summarizes the subtrees rooted at the given ids, each starting
// again at depth 1. Ids absent from the tree are listed in NotFound.
func FindScopes(roots []*types.RawScope, ids []string, maxDepth int) types.ScopesSummary {
	if maxDepth < 0 {
		maxDepth = 0
	}

	tree := make([]types.ProcessedScope, 0, len(ids))
	var notFound []string
	for _, id := range ids {
		raw := Find(roots, id)
		if raw == nil {
			notFound = append(notFound, id)
			continue
		}
		tree = append(tree, process(raw, 1, maxDepth))
	}

	return types.ScopesSummary{
		MaxDepth:          maxDepth,
		TopLevelCount:     len(tree),
		TotalAllScopes:    CountAllScopes(tree),
		TotalVariables:    CountAllVariables(tree),
		FunctionInventory: FunctionInventory(tree),
		Tree:              tree,
		NotFound:          notFound,
	}
}

// process converts one node and its retained descendants in a single pass.
func process(raw *types.RawScope, depth, maxDepth int) types.ProcessedScope {
	ps := flatten(raw)

	switch {
	case len(raw.Children) == 0:
		ps.DescendantsExact = true

	case depth >= maxDepth:
		ids := make([]string, len(raw.Children))
		for i, child := range raw.Children {
			ids[i] = child.ScopeID
		}
		ps.ElidedChildIDs = ids
		ps.TotalDescendants = ps.ChildCount
		ps.Message = fmt.Sprintf(
			"%d child scope(s) elided at depth limit %d; use get_scopes_by_id with ids [%s] to fetch them",
			len(ids), maxDepth, strings.Join(ids, ", "))

	default:
		ps.Children = make([]types.ProcessedScope, len(raw.Children))
		ps.DescendantsExact = true
		for i, child := range raw.Children {
			c := process(child, depth+1, maxDepth)
			ps.Children[i] = c
			ps.TotalDescendants += 1 + c.TotalDescendants
			ps.DescendantsExact = ps.DescendantsExact && c.DescendantsExact
		}
	}

	return ps
}

func flatten(raw *types.RawScope) types.ProcessedScope {
	names := make([]string, 0, len(raw.Locals))
	for name := range raw.Locals {
		names = append(names, name)
	}
	sort.Strings(names)

	ps := types.ProcessedScope{
		ScopeID:        raw.ScopeID,
		FunctionName:   raw.FunctionName,
		FirstStep:      raw.FirstStep,
		LastStep:       raw.LastStep,
		IsCreation:     raw.IsCreation,
		IsExternalCall: IsExternalCall(raw),
		VariableCount:  len(names),
		VariableNames:  names,
		ChildCount:     len(raw.Children),
	}
	if raw.GasCost != nil {
		gas := *raw.GasCost
		ps.GasCost = &gas
	}
	if raw.OpcodeInfo != nil {
		ps.Opcode = raw.OpcodeInfo.Op
	}
	if raw.Reverted != nil {
		step := raw.Reverted.Step
		ps.Reverted = true
		ps.RevertStep = &step
		if raw.Reverted.Line != nil {
			line := *raw.Reverted.Line
			ps.RevertLine = &line
		}
	}
	return ps
}

// CountAllScopes counts the nodes present in a summarized tree.
func CountAllScopes(tree []types.ProcessedScope) int {
	n := 0
	for i := range tree {
		n += 1 + CountAllScopes(tree[i].Children)
	}
	return n
}

// CountAllVariables sums VariableCount over the nodes present in a summarized tree.
func CountAllVariables(tree []types.ProcessedScope) int {
	n := 0
	for i := range tree {
		n += tree[i].VariableCount + CountAllVariables(tree[i].Children)
	}
	return n
}

// FunctionInventory lists the distinct function names present in a summarized tree.
func FunctionInventory(tree []types.ProcessedScope) []string {
	seen := make(map[string]struct{})
	var walk func([]types.ProcessedScope)
	walk = func(nodes []types.ProcessedScope) {
		for i := range nodes {
			if name := nodes[i].FunctionName; name != "" {
				seen[name] = struct{}{}
			}
			walk(nodes[i].Children)
		}
	}
	walk(tree)

	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
