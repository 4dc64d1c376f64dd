// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// Package impls implements the rewrite tree of the schedule-search compiler.
//
// An Impl is one node of the tree: either a Hole (an unresolved Spec waiting
// to be rewritten), an applied structural node (Loop, Block, MoveLet,
// Pipeline, ...) owning child Impls, or a terminal Kernel representing one
// concrete unit of target work.
//
// The engine is a pure-function protocol consumed by an outer search driver:
// Hole.Actions enumerates the legal rewrites of a hole under the current
// pruning context (ParentSummary) and run configuration (Settings), and
// Action.Apply turns a hole plus parameters into an applied node whose
// children are new holes or terminals. Nodes are immutable once created;
// alternative rewrites build new subtrees, sharing untouched siblings.
package impls

import (
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensorsched/types/specs"
)

// Impl is a node in the rewrite tree.
//
// The closed set of implementations: the hole kinds (MatmulHole,
// ReduceSumHole, ConvHole, ZeroHole, LoadHole, StoreHole, ComposeHole), the
// structural nodes (*Loop, *SlidingWindowLoop, *Block, *Pipeline, *MoveLet,
// *SpatialSplit) and the terminal Kernel.
type Impl interface {
	// Spec this node computes. For applied nodes this is the Spec of the
	// hole the node was applied to; composing the children per the applied
	// action's rule reconstructs it exactly.
	Spec() specs.Spec

	// Children in execution order; nil for holes and terminals.
	Children() []Impl

	// ReplaceChildren returns a copy of the node with children swapped for
	// the given ones, which must match in number. Nodes are never mutated.
	ReplaceChildren(children []Impl) Impl

	// IsScheduled reports whether the subtree is fully concrete: every leaf
	// is a terminal.
	IsScheduled() bool

	// String renders a one-line description of the node itself.
	String() string
}

// Hole is an unresolved node: a wrapped Spec with no children yet.
type Hole interface {
	Impl

	// Actions enumerates every action legal at this hole under the given
	// pruning context and settings, in deterministic order. An empty result
	// for a non-terminal hole is a dead end; the caller abandons the branch.
	Actions(ps *ParentSummary, settings *Settings) []Action
}

// Action is one legal rewrite recipe for a Hole. Actions are stateless: Apply
// is a pure function of the action parameters and the hole.
type Action interface {
	// Apply rewrites the hole into an applied node. It fails wrapping
	// ErrActionOutOfDomain if the action's preconditions do not hold for
	// this hole, or ErrSplitNotSupportedByHead for a structurally
	// impossible pipeline head split.
	Apply(h Hole) (Impl, error)

	String() string
}

// SpecToHole wraps a Spec in its hole kind.
func SpecToHole(s specs.Spec) Hole {
	switch st := s.(type) {
	case specs.Matmul:
		return MatmulHole{spec: st}
	case specs.Conv:
		return ConvHole{spec: st}
	case specs.ReduceSum:
		return ReduceSumHole{spec: st}
	case specs.Zero:
		return ZeroHole{spec: st}
	case specs.Load:
		return LoadHole{spec: st}
	case specs.Store:
		return StoreHole{spec: st}
	case specs.Compose:
		return ComposeHole{spec: st}
	}
	exceptions.Panicf("impls: no hole kind for spec %s", s)
	return nil
}

// VisitLeaves calls f on every leaf (hole or terminal) of the tree, left to
// right. f may return false to stop early; VisitLeaves reports whether the
// walk ran to completion.
func VisitLeaves(imp Impl, f func(leaf Impl) bool) bool {
	children := imp.Children()
	if len(children) == 0 {
		return f(imp)
	}
	for _, child := range children {
		if !VisitLeaves(child, f) {
			return false
		}
	}
	return true
}

// NextHole returns the leftmost unresolved hole of the tree, along with the
// ParentSummary accumulated from the applied nodes above it. ok is false when
// the tree is fully scheduled.
func NextHole(imp Impl, ps *ParentSummary) (h Hole, summary *ParentSummary, ok bool) {
	if hole, isHole := imp.(Hole); isHole {
		return hole, ps, true
	}
	childPS := ps.extendFor(imp)
	for _, child := range imp.Children() {
		if h, summary, ok = NextHole(child, childPS); ok {
			return h, summary, true
		}
	}
	return nil, nil, false
}

// ReplaceLeftmostHole returns a copy of the tree with the leftmost hole
// substituted by repl, sharing every untouched sibling subtree with the
// original. ok is false when the tree has no hole.
func ReplaceLeftmostHole(imp Impl, repl Impl) (Impl, bool) {
	if _, isHole := imp.(Hole); isHole {
		return repl, true
	}
	children := imp.Children()
	for i, child := range children {
		if newChild, ok := ReplaceLeftmostHole(child, repl); ok {
			newChildren := make([]Impl, len(children))
			copy(newChildren, children)
			newChildren[i] = newChild
			return imp.ReplaceChildren(newChildren), true
		}
	}
	return imp, false
}

// Sprint renders the tree as an indented multi-line listing.
func Sprint(imp Impl) string {
	var sb strings.Builder
	sprintNode(&sb, imp, 0)
	return sb.String()
}

func sprintNode(sb *strings.Builder, imp Impl, depth int) {
	for range depth {
		sb.WriteString("  ")
	}
	sb.WriteString(imp.String())
	sb.WriteByte('\n')
	for _, child := range imp.Children() {
		sprintNode(sb, child, depth+1)
	}
}

// checkNoChildren panics unless the replacement child list is empty; used by
// leaf nodes implementing ReplaceChildren.
func checkNoChildren(children []Impl) {
	if len(children) != 0 {
		exceptions.Panicf("impls: leaf node cannot take %d children", len(children))
	}
}

// checkChildCount panics unless the replacement child list has exactly n
// entries.
func checkChildCount(children []Impl, n int) {
	if len(children) != n {
		exceptions.Panicf("impls: node with %d children cannot take %d", n, len(children))
	}
}
