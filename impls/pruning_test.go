// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
)

func actionStrings(acts []Action) map[string]bool {
	set := make(map[string]bool, len(acts))
	for _, a := range acts {
		set[a.String()] = true
	}
	return set
}

func findMove(acts []Action, operand int, level target.Level, layout specs.Layout) (MoveAction, bool) {
	for _, a := range acts {
		if ma, ok := a.(MoveAction); ok &&
			ma.Operand == operand && ma.Level == level && ma.Layout == layout && !ma.Prefetch {
			return ma, true
		}
	}
	return MoveAction{}, false
}

// Moving an operand back into a residency it already had on the path is a
// relayout cycle; with the flag on the second leg never gets proposed.
func TestPruneRelayoutCycles(t *testing.T) {
	hole := SpecToHole(specs.MakeMatmul(
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 16, 16),
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.ColumnMajor, 16, 16),
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 16, 16),
		true))
	settings := avx2Settings(TileSizeModePowersOfTwo)

	ma, found := findMove(hole.Actions(nil, settings), 0, target.L1, specs.RowMajor)
	require.True(t, found)
	imp, err := ma.Apply(hole)
	require.NoError(t, err)
	mv := imp.(*MoveLet)

	bodyHole, summary, ok := NextHole(mv.Body(), (*ParentSummary)(nil).ExtendMove(mv.Source(), mv.Destination()))
	require.True(t, ok)

	// The buffered operand now lives at L1; a move back to its original
	// DRAM residency closes a cycle.
	_, found = findMove(bodyHole.Actions(summary, settings), 0, target.GL, specs.RowMajor)
	require.False(t, found, "relayout cycle not pruned")

	// A fresh residency is still reachable.
	_, found = findMove(bodyHole.Actions(summary, settings), 0, target.GL, specs.ColumnMajor)
	require.True(t, found)

	// With the flag off the cycle is representable again.
	loose := avx2Settings(TileSizeModePowersOfTwo)
	loose.PruneRelayoutCycles = false
	_, found = findMove(bodyHole.Actions(summary, loose), 0, target.GL, specs.RowMajor)
	require.True(t, found)
}

// Pruning flags only remove actions; they never add any.
func TestPruningFlagsShrinkActionSet(t *testing.T) {
	hole := SpecToHole(gl128Matmul(true))
	ps := (*ParentSummary)(nil).ExtendTileOut([]int{64, 64})

	strict := avx2Settings(TileSizeModePowersOfTwo)
	loose := avx2Settings(TileSizeModePowersOfTwo)
	loose.BreakMoveSymmetries = false
	loose.BreakSequentialTiles = false
	loose.PruneRelayoutCycles = false

	strictSet := actionStrings(hole.Actions(ps, strict))
	looseSet := actionStrings(hole.Actions(ps, loose))
	for s := range strictSet {
		require.True(t, looseSet[s], "pruning invented action %s", s)
	}
	require.Less(t, len(strictSet), len(looseSet))
}

func TestBreakSequentialTiles(t *testing.T) {
	hole := SpecToHole(gl128Matmul(false))
	ps := (*ParentSummary)(nil).ExtendTileOut([]int{64, 64})
	settings := avx2Settings(TileSizeModePowersOfTwo)

	// Directly under a 64x64 tiling, no axis may grow back past 64.
	_, found := findTileOut(hole.Actions(ps, settings), []int{128, 32}, false)
	require.False(t, found)
	_, found = findTileOut(hole.Actions(ps, settings), []int{32, 32}, false)
	require.True(t, found)

	// An interposed non-tiling decision resets the chain.
	opaque := ps.ExtendOpaque()
	_, hasTile := opaque.LastTileOut()
	require.False(t, hasTile)
	_, found = findTileOut(hole.Actions(opaque, settings), []int{128, 32}, false)
	require.True(t, found)

	loose := avx2Settings(TileSizeModePowersOfTwo)
	loose.BreakSequentialTiles = false
	_, found = findTileOut(hole.Actions(ps, loose), []int{128, 32}, false)
	require.True(t, found)
}

func TestBreakMoveSymmetries(t *testing.T) {
	// LHS and RHS are indistinguishable; only the first is offered a move.
	hole := SpecToHole(gl128Matmul(true))
	settings := avx2Settings(TileSizeModePowersOfTwo)

	hasMoveOf := func(acts []Action, operand int) bool {
		for _, a := range acts {
			if ma, ok := a.(MoveAction); ok && ma.Operand == operand {
				return true
			}
		}
		return false
	}
	acts := hole.Actions(nil, settings)
	require.True(t, hasMoveOf(acts, 0))
	require.False(t, hasMoveOf(acts, 1))
	// The output matches the inputs too, but is never symmetric with them.
	require.True(t, hasMoveOf(acts, 2))

	loose := avx2Settings(TileSizeModePowersOfTwo)
	loose.BreakMoveSymmetries = false
	require.True(t, hasMoveOf(hole.Actions(nil, loose), 1))
}

// Even with every pruning flag off, per-operand move chains are capped, so
// action sequences cannot relocate data forever.
func TestMoveChainBounded(t *testing.T) {
	loose := avx2Settings(TileSizeModePowersOfTwo)
	loose.BreakMoveSymmetries = false
	loose.BreakSequentialTiles = false
	loose.PruneRelayoutCycles = false

	residencies := []struct {
		level  target.Level
		layout specs.Layout
	}{
		{target.L1, specs.RowMajor},
		{target.GL, specs.ColumnMajor},
		{target.L1, specs.ColumnMajor},
		{target.GL, specs.RowMajor},
	}
	cur := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 32, 32)
	var ps *ParentSummary
	for i := 0; i < maxMovesPerOperand; i++ {
		r := residencies[i%len(residencies)]
		next := cur.MovedTo(r.level, r.layout, nil)
		require.False(t, next.Equal(cur))
		ps = ps.ExtendMove(cur, next)
		cur = next
	}
	require.Len(t, ps.Lineage(cur), maxMovesPerOperand)

	hole := SpecToHole(specs.Zero{Dst: cur})
	for _, a := range hole.Actions(ps, loose) {
		_, isMove := a.(MoveAction)
		require.False(t, isMove, "operand moved past the chain cap")
	}

	// One step below the cap, moves are still on offer.
	shorter := (*ParentSummary)(nil)
	cur = specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 32, 32)
	for i := 0; i < maxMovesPerOperand-1; i++ {
		r := residencies[i%len(residencies)]
		next := cur.MovedTo(r.level, r.layout, nil)
		shorter = shorter.ExtendMove(cur, next)
		cur = next
	}
	found := false
	for _, a := range SpecToHole(specs.Zero{Dst: cur}).Actions(shorter, loose) {
		if _, ok := a.(MoveAction); ok {
			found = true
		}
	}
	require.True(t, found)
}

func TestLineage(t *testing.T) {
	a := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8, 8)
	b := a.MovedTo(target.L1, specs.RowMajor, nil)
	c := b.MovedTo(target.RF, specs.RowMajor, nil)

	ps := (*ParentSummary)(nil).ExtendMove(a, b).ExtendMove(b, c)
	lineage := ps.Lineage(c)
	require.Len(t, lineage, 2)
	require.True(t, lineage[0].Equal(b))
	require.True(t, lineage[1].Equal(a))

	require.Empty(t, ps.Lineage(a), "the original residency has no lineage")
	require.True(t, ps.lineageHadResidency(c, target.GL, specs.RowMajor))
	require.False(t, ps.lineageHadResidency(c, target.GL, specs.ColumnMajor))

	// A tiling changes the operand's TensorSpec, so the tile starts a fresh
	// lineage while the untiled operand keeps its own.
	tiled := ps.ExtendTileOut([]int{4, 4})
	require.Empty(t, tiled.Lineage(c.Tile([]int{4, 4})))
	require.Len(t, tiled.Lineage(c), 2)
}

func TestLastTileOutOnlyImmediate(t *testing.T) {
	ps := (*ParentSummary)(nil).ExtendTileOut([]int{4, 4})
	tile, ok := ps.LastTileOut()
	require.True(t, ok)
	require.Equal(t, []int{4, 4}, tile)

	_, ok = ps.ExtendOpaque().LastTileOut()
	require.False(t, ok)
	_, ok = ps.ExtendMove(specs.TensorSpec{}, specs.TensorSpec{}).LastTileOut()
	require.False(t, ok)
	_, ok = (*ParentSummary)(nil).LastTileOut()
	require.False(t, ok)
}

// NextHole rebuilds the ParentSummary from the applied nodes above the hole,
// so a driver holding only the root tree observes the same pruning the
// original descent did.
func TestSummaryReconstruction(t *testing.T) {
	hole := SpecToHole(gl128Matmul(false))
	settings := avx2Settings(TileSizeModePowersOfTwo)

	ta, found := findTileOut(hole.Actions(nil, settings), []int{64, 64}, false)
	require.True(t, found)
	tiled, err := ta.Apply(hole)
	require.NoError(t, err)

	_, summary, ok := NextHole(tiled, nil)
	require.True(t, ok)
	tile, hasTile := summary.LastTileOut()
	require.True(t, hasTile)
	require.Equal(t, []int{64, 64}, tile)

	// Accumulation loops interrupt tiling chains instead of extending them.
	accum := SpecToHole(gl128Matmul(true))
	split, err := MatmulSplitAction{K: 64}.Apply(accum)
	require.NoError(t, err)
	_, summary, ok = NextHole(split, (*ParentSummary)(nil).ExtendTileOut([]int{64, 64}))
	require.True(t, ok)
	_, hasTile = summary.LastTileOut()
	require.False(t, hasTile)

	// Descending through a MoveLet records the relocation.
	mv, err := MoveAction{Operand: 0, Level: target.L1, Layout: specs.ColumnMajor}.Apply(hole)
	require.NoError(t, err)
	moveLet := mv.(*MoveLet)
	_, summary, ok = NextHole(moveLet, nil)
	require.True(t, ok)
	lineage := summary.Lineage(moveLet.Destination())
	require.Len(t, lineage, 1)
	require.True(t, lineage[0].Equal(moveLet.Source()))
}
