// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"reflect"
	"testing"

	"github.com/gomlx/gopjrt/dtypes"
	"github.com/stretchr/testify/require"

	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
)

func gl128Matmul(accum bool) specs.Matmul {
	lhs := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 128, 128)
	rhs := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 128, 128)
	out := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 128, 128)
	return specs.MakeMatmul(lhs, rhs, out, accum)
}

func avx2Settings(mode TileSizeMode) *Settings {
	s := DefaultSettings(target.AVX2())
	s.TileSizeMode = mode
	return s
}

func findTileOut(acts []Action, tile []int, parallel bool) (TileOutAction, bool) {
	for _, a := range acts {
		if ta, ok := a.(TileOutAction); ok &&
			reflect.DeepEqual(ta.Tile, tile) && ta.Parallel == parallel {
			return ta, true
		}
	}
	return TileOutAction{}, false
}

func findPeel(acts []Action, dim, size int) (PeelAction, bool) {
	for _, a := range acts {
		if pa, ok := a.(PeelAction); ok && pa.Dim == dim && pa.Size == size {
			return pa, true
		}
	}
	return PeelAction{}, false
}

func findPlace(acts []Action, kind KernelKind) (PlaceAction, bool) {
	for _, a := range acts {
		if pa, ok := a.(PlaceAction); ok && pa.Kind == kind {
			return pa, true
		}
	}
	return PlaceAction{}, false
}

func TestTileOutMatmul(t *testing.T) {
	hole := SpecToHole(gl128Matmul(false))
	acts := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))

	ta, found := findTileOut(acts, []int{64, 64}, false)
	require.True(t, found, "64x64 tiling of a 128x128 output must be proposed")

	imp, err := ta.Apply(hole)
	require.NoError(t, err)
	loop, ok := imp.(*Loop)
	require.True(t, ok)
	require.Equal(t, []int{64, 64}, loop.Tile())
	require.Equal(t, []int{2, 2}, loop.Steps())
	require.Equal(t, 4, loop.TripCount())
	require.False(t, loop.Parallel())
	require.True(t, loop.Spec().Equal(hole.Spec()))

	body, ok := loop.Body().(MatmulHole)
	require.True(t, ok)
	mm := body.Spec().(specs.Matmul)
	require.Equal(t, []int{64, 128}, mm.LHS.Shape)
	require.Equal(t, []int{128, 64}, mm.RHS.Shape)
	require.Equal(t, []int{64, 64}, mm.Out.Shape)
	require.False(t, mm.LHS.Contiguous, "proper tiles are not contiguous")

	// The write-only form also gets the parallel variant.
	_, found = findTileOut(acts, []int{64, 64}, true)
	require.True(t, found)

	// The accumulating form must not: iterations race on the output.
	accActs := SpecToHole(gl128Matmul(true)).Actions(nil, avx2Settings(TileSizeModePowersOfTwo))
	_, found = findTileOut(accActs, []int{64, 64}, true)
	require.False(t, found)
	par := TileOutAction{Tile: []int{64, 64}, Parallel: true}
	_, err = par.Apply(SpecToHole(gl128Matmul(true)))
	require.ErrorIs(t, err, ErrActionOutOfDomain)
}

func TestTileSizeModes(t *testing.T) {
	hole := SpecToHole(gl128Matmul(false))

	pow2 := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))
	_, found := findTileOut(pow2, []int{96, 128}, false)
	require.False(t, found, "96 is not a power of two")

	// 96 does not divide 128 either, so AnyDivisor rejects it too.
	anyDiv := hole.Actions(nil, avx2Settings(TileSizeModeAnyDivisor))
	_, found = findTileOut(anyDiv, []int{96, 128}, false)
	require.False(t, found)

	// The full output shape is never a tiling in any mode.
	for _, mode := range []TileSizeMode{TileSizeModePowersOfTwo, TileSizeModeAnyDivisor, TileSizeModeAnyWithRemainder} {
		_, found = findTileOut(hole.Actions(nil, avx2Settings(mode)), []int{128, 128}, false)
		require.False(t, found, "mode %s proposed the identity tiling", mode)
	}
}

func TestPeelNonDividingTile(t *testing.T) {
	hole := SpecToHole(gl128Matmul(false))
	acts := hole.Actions(nil, avx2Settings(TileSizeModeAnyWithRemainder))

	// 50 does not divide 128: never a TileOut, always a peel.
	for _, a := range acts {
		if ta, ok := a.(TileOutAction); ok {
			require.NotEqual(t, 50, ta.Tile[0], "non-dividing size proposed as a plain tiling")
		}
	}
	pa, found := findPeel(acts, 0, 50)
	require.True(t, found)

	imp, err := pa.Apply(hole)
	require.NoError(t, err)
	block, ok := imp.(*Block)
	require.True(t, ok)
	require.True(t, block.Spec().Equal(hole.Spec()))
	children := block.Children()
	require.Len(t, children, 2)

	mainLoop, ok := children[0].(*Loop)
	require.True(t, ok)
	require.Equal(t, []int{50, 128}, mainLoop.Tile())
	require.Equal(t, []int{2, 1}, mainLoop.Steps())
	require.Equal(t, []int{100, 128}, mainLoop.Spec().Output().Shape)

	rem, ok := children[1].(MatmulHole)
	require.True(t, ok)
	require.Equal(t, []int{28, 128}, rem.Spec().Output().Shape)

	// Peels are exclusive to the remainder mode.
	divActs := hole.Actions(nil, avx2Settings(TileSizeModeAnyDivisor))
	_, found = findPeel(divActs, 0, 50)
	require.False(t, found)
}

func TestActionsDeterministic(t *testing.T) {
	settings := avx2Settings(TileSizeModeAnyDivisor)
	holes := []Hole{
		SpecToHole(gl128Matmul(false)),
		SpecToHole(gl128Matmul(true)),
		SpecToHole(specs.Zero{Dst: specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 32, 32)}),
	}
	for _, hole := range holes {
		first := hole.Actions(nil, settings)
		second := hole.Actions(nil, settings)
		require.True(t, reflect.DeepEqual(first, second),
			"actions of %s are not deterministic", hole)
	}
}

// Every proposed action must apply cleanly to the hole it was proposed for,
// and the applied node must compute exactly the hole's Spec.
func TestProposedActionsApply(t *testing.T) {
	image := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 1, 4, 6, 6)
	filters := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8, 4, 3, 3)
	convOut := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 1, 8, 4, 4)

	rsIn := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8, 16)
	rsOut := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8)

	holes := []Hole{
		SpecToHole(gl128Matmul(false)),
		SpecToHole(gl128Matmul(true)),
		SpecToHole(specs.MakeConv(image, filters, convOut, false)),
		SpecToHole(specs.MakeConv(image, filters, convOut, true)),
		SpecToHole(specs.MakeReduceSum(rsIn, rsOut, true)),
		SpecToHole(specs.Zero{Dst: specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 32, 32)}),
		SpecToHole(specs.Zero{Dst: specs.MakeVectorTensorSpec(dtypes.Float32, target.VRF, specs.RowMajor, []int{1, 8}, []int{1, 8})}),
	}
	modes := []TileSizeMode{TileSizeModePowersOfTwo, TileSizeModeAnyDivisor, TileSizeModeAnyWithRemainder}
	for _, hole := range holes {
		for _, mode := range modes {
			settings := avx2Settings(mode)
			for _, act := range hole.Actions(nil, settings) {
				imp, err := act.Apply(hole)
				require.NoError(t, err, "proposed action %s fails on %s", act, hole)
				require.True(t, imp.Spec().Equal(hole.Spec()),
					"action %s changed the computed spec of %s", act, hole)
			}
		}
	}
}

func TestToAccum(t *testing.T) {
	hole := SpecToHole(gl128Matmul(false))
	imp, err := ToAccumAction{}.Apply(hole)
	require.NoError(t, err)
	block, ok := imp.(*Block)
	require.True(t, ok)
	require.True(t, block.Spec().Equal(hole.Spec()))
	children := block.Children()
	require.Len(t, children, 2)

	zero, ok := children[0].(ZeroHole)
	require.True(t, ok)
	require.True(t, zero.Spec().Output().Equal(hole.Spec().Output()))

	accum, ok := children[1].(MatmulHole)
	require.True(t, ok)
	require.True(t, accum.Spec().(specs.Matmul).Accum)

	// Already accumulating: nothing further to convert.
	_, err = ToAccumAction{}.Apply(SpecToHole(gl128Matmul(true)))
	require.ErrorIs(t, err, ErrActionOutOfDomain)
}

func TestMatmulContractionSplit(t *testing.T) {
	hole := SpecToHole(gl128Matmul(true))
	acts := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))

	var split MatmulSplitAction
	found := false
	for _, a := range acts {
		if sa, ok := a.(MatmulSplitAction); ok && sa.K == 64 {
			split, found = sa, true
		}
	}
	require.True(t, found)

	imp, err := split.Apply(hole)
	require.NoError(t, err)
	loop, ok := imp.(*Loop)
	require.True(t, ok)
	tile, steps := loop.ReduceSplit()
	require.Equal(t, 64, tile)
	require.Equal(t, 2, steps)
	require.Equal(t, 2, loop.TripCount())
	require.False(t, loop.Parallel())

	body := loop.Body().(MatmulHole).spec
	require.True(t, body.Accum)
	require.Equal(t, 64, body.K())
	require.Equal(t, []int{128, 128}, body.Out.Shape, "contraction splits keep the output whole")

	// Contraction splits never appear on the write-only form.
	for _, a := range SpecToHole(gl128Matmul(false)).Actions(nil, avx2Settings(TileSizeModePowersOfTwo)) {
		_, isSplit := a.(MatmulSplitAction)
		require.False(t, isSplit)
	}
	// Nor with reduce splits gated off.
	gated := avx2Settings(TileSizeModePowersOfTwo)
	gated.AllowReduceSplits = false
	for _, a := range hole.Actions(nil, gated) {
		_, isSplit := a.(MatmulSplitAction)
		require.False(t, isSplit)
	}
}

func TestReduceSplitGate(t *testing.T) {
	in := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8, 16)
	out := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8)
	hole := SpecToHole(specs.MakeReduceSum(in, out, true))

	settings := avx2Settings(TileSizeModePowersOfTwo)
	hasReduceSplit := func(acts []Action) bool {
		for _, a := range acts {
			if _, ok := a.(ReduceSplitAction); ok {
				return true
			}
		}
		return false
	}
	require.True(t, hasReduceSplit(hole.Actions(nil, settings)))

	settings.AllowReduceSplits = false
	require.False(t, hasReduceSplit(hole.Actions(nil, settings)))
}

func TestMoveLetStructure(t *testing.T) {
	accum := SpecToHole(gl128Matmul(true))
	plain := SpecToHole(gl128Matmul(false))

	// Moving an input always loads it first.
	imp, err := MoveAction{Operand: 0, Level: target.L1, Layout: specs.RowMajor}.Apply(plain)
	require.NoError(t, err)
	mv := imp.(*MoveLet)
	require.True(t, mv.Spec().Equal(plain.Spec()))
	require.Equal(t, target.L1, mv.Destination().Level)
	children := mv.Children()
	require.Len(t, children, 2)
	_, ok := children[0].(LoadHole)
	require.True(t, ok)

	// A write-only output needs no prologue, only the store back.
	imp, err = MoveAction{Operand: 2, Level: target.L1, Layout: specs.RowMajor}.Apply(plain)
	require.NoError(t, err)
	mv = imp.(*MoveLet)
	children = mv.Children()
	require.Len(t, children, 2)
	_, ok = children[1].(StoreHole)
	require.True(t, ok)

	// An accumulated output is read and written: load, compute, store.
	imp, err = MoveAction{Operand: 2, Level: target.L1, Layout: specs.RowMajor}.Apply(accum)
	require.NoError(t, err)
	mv = imp.(*MoveLet)
	children = mv.Children()
	require.Len(t, children, 3)
	_, ok = children[0].(LoadHole)
	require.True(t, ok)
	_, ok = children[2].(StoreHole)
	require.True(t, ok)

	// The body computes over the buffered operand.
	bodyMM := mv.Body().Spec().(specs.Matmul)
	require.Equal(t, target.L1, bodyMM.Out.Level)

	// A do-nothing relocation is out of domain.
	_, err = MoveAction{Operand: 0, Level: target.GL, Layout: specs.RowMajor}.Apply(plain)
	require.ErrorIs(t, err, ErrActionOutOfDomain)
}

func TestMovePrefetchOnlyForDRAMInputs(t *testing.T) {
	hole := SpecToHole(specs.MakeMatmul(
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 16, 16),
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.ColumnMajor, 16, 16),
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 16, 16),
		true))
	acts := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))
	for _, a := range acts {
		ma, ok := a.(MoveAction)
		if !ok || !ma.Prefetch {
			continue
		}
		require.Equal(t, target.L1, ma.Level)
		require.NotEqual(t, hole.Spec().OutputIdx(), ma.Operand, "prefetch proposed for the output")
	}
}

func TestVectorZeroSchedulesInOneStep(t *testing.T) {
	dst := specs.MakeVectorTensorSpec(dtypes.Float32, target.VRF, specs.RowMajor, []int{1, 8}, []int{1, 8})
	hole := SpecToHole(specs.Zero{Dst: dst})
	acts := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))

	place, found := findPlace(acts, KernelVectorZero)
	require.True(t, found)
	_, found = findPlace(acts, KernelMemsetZero)
	require.False(t, found, "memset does not touch vector registers")

	imp, err := place.Apply(hole)
	require.NoError(t, err)
	kernel, ok := imp.(Kernel)
	require.True(t, ok)
	require.Equal(t, KernelVectorZero, kernel.Kind())
	require.True(t, kernel.IsScheduled())
	require.Nil(t, kernel.Children())
}

func TestScalarMatmulPlacesMult(t *testing.T) {
	mk := func() specs.TensorSpec {
		return specs.MakeTensorSpec(dtypes.Float32, target.RF, specs.RowMajor, 1, 1)
	}
	hole := SpecToHole(specs.MakeMatmul(mk(), mk(), mk(), true))
	acts := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))

	place, found := findPlace(acts, KernelMult)
	require.True(t, found)
	imp, err := place.Apply(hole)
	require.NoError(t, err)
	require.True(t, imp.IsScheduled())

	// The same kernel is out of domain for operands still in DRAM.
	_, err = PlaceAction{Kind: KernelMult}.Apply(SpecToHole(gl128Matmul(true)))
	require.ErrorIs(t, err, ErrActionOutOfDomain)
}

func TestSlidingWindowTileOut(t *testing.T) {
	image := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 1, 4, 10, 10)
	filters := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8, 4, 3, 3)
	out := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 1, 8, 8, 8)
	hole := SpecToHole(specs.MakeConv(image, filters, out, false))

	settings := avx2Settings(TileSizeModePowersOfTwo)
	acts := hole.Actions(nil, settings)
	var sliding SlidingTileOutAction
	found := false
	for _, a := range acts {
		if sa, ok := a.(SlidingTileOutAction); ok && reflect.DeepEqual(sa.Tile, []int{1, 8, 4, 8}) {
			sliding, found = sa, true
		}
	}
	require.True(t, found)
	require.Equal(t, 0, sliding.Operand, "reuse tracks the image operand")
	require.Equal(t, []int{0, 0, 2, 0}, sliding.Overlap)

	imp, err := sliding.Apply(hole)
	require.NoError(t, err)
	swl, ok := imp.(*SlidingWindowLoop)
	require.True(t, ok)
	require.Equal(t, []int{1, 1, 2, 1}, swl.Steps())
	require.True(t, swl.Spec().Equal(hole.Spec()))

	// The family disappears when gated off.
	settings.AllowSlidingWindows = false
	for _, a := range hole.Actions(nil, settings) {
		_, isSliding := a.(SlidingTileOutAction)
		require.False(t, isSliding)
	}
}

func TestSpatialSplit(t *testing.T) {
	image := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 2, 4, 3, 3)
	filters := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 8, 4, 3, 3)
	out := specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 2, 8, 1, 1)
	hole := SpecToHole(specs.MakeConv(image, filters, out, true))

	acts := hole.Actions(nil, avx2Settings(TileSizeModePowersOfTwo))
	found := false
	for _, a := range acts {
		if _, ok := a.(SpatialSplitAction); ok {
			found = true
		}
	}
	require.True(t, found)

	imp, err := SpatialSplitAction{}.Apply(hole)
	require.NoError(t, err)
	split, ok := imp.(*SpatialSplit)
	require.True(t, ok)
	require.True(t, split.Spec().Equal(hole.Spec()))

	body, ok := split.Body().(MatmulHole)
	require.True(t, ok)
	mm := body.Spec().(specs.Matmul)
	require.True(t, mm.Accum)
	require.Equal(t, []int{2, 36}, mm.LHS.Shape)
	require.Equal(t, []int{36, 8}, mm.RHS.Shape)

	// Output spatial extents beyond 1x1 cannot be flattened away.
	wide := specs.MakeConv(
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 2, 4, 5, 5),
		filters,
		specs.MakeTensorSpec(dtypes.Float32, target.GL, specs.RowMajor, 2, 8, 3, 3),
		true)
	_, err = SpatialSplitAction{}.Apply(SpecToHole(wide))
	require.ErrorIs(t, err, ErrActionOutOfDomain)
}

func TestNextHoleAndReplace(t *testing.T) {
	root := SpecToHole(gl128Matmul(false))
	imp, err := ToAccumAction{}.Apply(root)
	require.NoError(t, err)

	hole, _, ok := NextHole(imp, nil)
	require.True(t, ok)
	zero, isZero := hole.(ZeroHole)
	require.True(t, isZero, "leftmost hole is the zero-fill prologue")

	kernel, err := PlaceAction{Kind: KernelMemsetZero}.Apply(zero)
	require.NoError(t, err)
	replaced, ok := ReplaceLeftmostHole(imp, kernel)
	require.True(t, ok)

	// The original tree is untouched and the sibling subtree is shared.
	_, isStillHole := imp.Children()[0].(ZeroHole)
	require.True(t, isStillHole)
	require.Equal(t, imp.Children()[1], replaced.Children()[1])

	next, _, ok := NextHole(replaced, nil)
	require.True(t, ok)
	_, isMatmul := next.(MatmulHole)
	require.True(t, isMatmul)

	// Fully scheduled trees have no next hole.
	_, _, ok = NextHole(kernel, nil)
	require.False(t, ok)
	require.False(t, imp.IsScheduled())
}
