// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"slices"

	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
)

// ParentSummary is an immutable digest of the decisions ancestors made on the
// path from the root to a hole. It is extended (never mutated) as the search
// descends, so sibling branches can be explored concurrently from the same
// summary value.
//
// A nil *ParentSummary is the valid root summary.
type ParentSummary struct {
	parent *ParentSummary

	kind decisionKind

	// moveSrc/moveDst are set for decisionMove: one operand was relocated
	// from moveSrc residency to moveDst.
	moveSrc, moveDst specs.TensorSpec

	// tile is set for decisionTileOut: the output tile chosen.
	tile []int
}

type decisionKind uint8

const (
	decisionOpaque decisionKind = iota
	decisionTileOut
	decisionMove
)

// maxMovesPerOperand bounds how many times a single operand lineage may be
// relocated on one path. Together with tiling strictly shrinking extents this
// keeps every action sequence finite even with all pruning flags disabled.
const maxMovesPerOperand = target.NumLevels + 2

// ExtendTileOut returns a new summary recording a tiling decision.
func (ps *ParentSummary) ExtendTileOut(tile []int) *ParentSummary {
	return &ParentSummary{parent: ps, kind: decisionTileOut, tile: slices.Clone(tile)}
}

// ExtendMove returns a new summary recording the relocation of an operand.
func (ps *ParentSummary) ExtendMove(src, dst specs.TensorSpec) *ParentSummary {
	return &ParentSummary{parent: ps, kind: decisionMove, moveSrc: src, moveDst: dst}
}

// ExtendOpaque returns a new summary recording a structural decision with no
// pruning consequences beyond interrupting tiling chains.
func (ps *ParentSummary) ExtendOpaque() *ParentSummary {
	return &ParentSummary{parent: ps, kind: decisionOpaque}
}

// LastTileOut returns the tile of the most recent decision if (and only if)
// that decision was a tiling. Used by BreakSequentialTiles: only directly
// consecutive tilings are canonicalized.
func (ps *ParentSummary) LastTileOut() ([]int, bool) {
	if ps == nil || ps.kind != decisionTileOut {
		return nil, false
	}
	return ps.tile, true
}

// Lineage returns the residencies an operand already had on this path,
// newest first: if op was produced by a chain of moves a <- b <- c, Lineage
// returns [b's spec, c's spec]. Empty when the operand was never moved.
//
// Matching is by exact TensorSpec equality, so a tiling between two moves
// starts a fresh lineage for the tiled operand: a move, tile, move-back
// sequence is not treated as a relayout cycle. Tiles strictly shrink, so
// the per-operand move cap still bounds every such chain.
func (ps *ParentSummary) Lineage(op specs.TensorSpec) []specs.TensorSpec {
	for cur := ps; cur != nil; cur = cur.parent {
		if cur.kind == decisionMove && cur.moveDst.Equal(op) {
			return append([]specs.TensorSpec{cur.moveSrc}, cur.parent.Lineage(cur.moveSrc)...)
		}
	}
	return nil
}

// lineageHadResidency reports whether the operand's lineage already included
// the given level and layout. This is the relayout-cycle predicate.
func (ps *ParentSummary) lineageHadResidency(op specs.TensorSpec, level target.Level, layout specs.Layout) bool {
	for _, prev := range ps.Lineage(op) {
		if prev.Level == level && prev.Layout == layout {
			return true
		}
	}
	return false
}

// extendFor returns the summary for the children of an applied node,
// incorporating the node's own decision.
func (ps *ParentSummary) extendFor(imp Impl) *ParentSummary {
	switch node := imp.(type) {
	case *Loop:
		if node.reduceSteps > 0 {
			return ps.ExtendOpaque()
		}
		return ps.ExtendTileOut(node.tile)
	case *SlidingWindowLoop:
		return ps.ExtendTileOut(node.tile)
	case *MoveLet:
		return ps.ExtendMove(node.source, node.dest)
	}
	return ps.ExtendOpaque()
}
