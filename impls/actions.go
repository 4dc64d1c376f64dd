// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
	"github.com/gomlx/tensorsched/types/xslices"
)

// oodErrorf wraps ErrActionOutOfDomain with context.
func oodErrorf(format string, args ...any) error {
	return errors.Wrapf(ErrActionOutOfDomain, format, args...)
}

// TileOutAction replaces a hole whose iteration space is larger than the
// chosen tile with a Loop over holes of the tiled shape. Tile is the output
// tile, which must divide the output extents; all operand tiles derive from
// it.
type TileOutAction struct {
	Tile     []int
	Parallel bool
}

func (a TileOutAction) Apply(h Hole) (Impl, error) {
	spec := h.Spec()
	out := spec.Output()
	if len(a.Tile) != len(out.Shape) {
		return nil, oodErrorf("tile %v does not match output rank of %s", a.Tile, spec)
	}
	if slices.Equal(a.Tile, out.Shape) {
		return nil, oodErrorf("tile %v does not shrink %s", a.Tile, spec)
	}
	steps := make([]int, len(a.Tile))
	for i, size := range a.Tile {
		if size < 1 || out.Shape[i]%size != 0 {
			return nil, oodErrorf("tile %v does not divide output %v", a.Tile, out.Shape)
		}
		steps[i] = out.Shape[i] / size
	}
	if !spec.IsValidTileOut(a.Tile) {
		return nil, oodErrorf("tile %v is not a valid output tile of %s", a.Tile, spec)
	}
	if a.Parallel && specReadsOutput(spec) {
		return nil, oodErrorf("cannot parallelize accumulating %s", spec)
	}
	return &Loop{
		spec:     spec,
		tile:     slices.Clone(a.Tile),
		steps:    steps,
		parallel: a.Parallel,
		body:     SpecToHole(spec.TileOut(a.Tile)),
	}, nil
}

func (a TileOutAction) String() string {
	if a.Parallel {
		return fmt.Sprintf("TileOut(%v, parallel)", a.Tile)
	}
	return fmt.Sprintf("TileOut(%v)", a.Tile)
}

// SlidingTileOutAction tiles like TileOutAction but produces a
// SlidingWindowLoop: consecutive iterations reuse the overlapping part of
// Operand already resident from the previous iteration. Overlap records, per
// axis of that operand, the elements carried over; it is part of the action
// so the correctness of the reuse is pinned at proposal time.
type SlidingTileOutAction struct {
	Tile    []int
	Operand int
	Overlap []int
}

func (a SlidingTileOutAction) Apply(h Hole) (Impl, error) {
	spec := h.Spec()
	operand, overlap, ok := specs.OverlapForTileOut(spec, a.Tile)
	if !ok {
		return nil, oodErrorf("no overlapping-window access for tile %v of %s", a.Tile, spec)
	}
	if operand != a.Operand || !slices.Equal(overlap, a.Overlap) {
		return nil, oodErrorf("stale overlap %v for tile %v of %s", a.Overlap, a.Tile, spec)
	}
	out := spec.Output()
	steps := make([]int, len(a.Tile))
	for i, size := range a.Tile {
		if size < 1 || out.Shape[i]%size != 0 {
			return nil, oodErrorf("tile %v does not divide output %v", a.Tile, out.Shape)
		}
		steps[i] = out.Shape[i] / size
	}
	return &SlidingWindowLoop{
		spec:    spec,
		tile:    slices.Clone(a.Tile),
		steps:   steps,
		operand: operand,
		overlap: overlap,
		body:    SpecToHole(spec.TileOut(a.Tile)),
	}, nil
}

func (a SlidingTileOutAction) String() string {
	return fmt.Sprintf("SlidingTileOut(%v, reuse op%d %v)", a.Tile, a.Operand, a.Overlap)
}

// PeelAction splits one output axis into a main loop of full tiles plus a
// remainder hole, executed in sequence, for tile sizes that do not divide
// the extent.
type PeelAction struct {
	Dim  int
	Size int
}

func (a PeelAction) Apply(h Hole) (Impl, error) {
	spec := h.Spec()
	out := spec.Output()
	if a.Dim < 0 || a.Dim >= len(out.Shape) {
		return nil, oodErrorf("no output axis %d in %s", a.Dim, spec)
	}
	extent := out.Shape[a.Dim]
	if a.Size < 1 || a.Size >= extent || extent%a.Size == 0 {
		return nil, oodErrorf("size %d does not peel extent %d", a.Size, extent)
	}
	full, rem := extent/a.Size, extent%a.Size

	mainRegion := slices.Clone(out.Shape)
	mainRegion[a.Dim] = full * a.Size
	loopTile := slices.Clone(out.Shape)
	loopTile[a.Dim] = a.Size
	remRegion := slices.Clone(out.Shape)
	remRegion[a.Dim] = rem
	if !spec.IsValidTileOut(mainRegion) || !spec.IsValidTileOut(remRegion) ||
		!spec.IsValidTileOut(loopTile) {
		return nil, oodErrorf("cannot peel %s along axis %d by %d", spec, a.Dim, a.Size)
	}

	mainSpec := spec.TileOut(mainRegion)
	steps := xslices.Repeat(1, len(out.Shape))
	steps[a.Dim] = full
	mainLoop := &Loop{
		spec:  mainSpec,
		tile:  loopTile,
		steps: steps,
		body:  SpecToHole(mainSpec.TileOut(loopTile)),
	}
	return MakeBlock(spec, mainLoop, SpecToHole(spec.TileOut(remRegion))), nil
}

func (a PeelAction) String() string {
	return fmt.Sprintf("Peel(axis %d by %d)", a.Dim, a.Size)
}

// MatmulSplitAction splits the contraction axis of an accumulating matmul
// hole into an outer accumulation loop over partial-matmul holes.
type MatmulSplitAction struct {
	K int
}

func (a MatmulSplitAction) Apply(h Hole) (Impl, error) {
	mh, ok := h.(MatmulHole)
	if !ok {
		return nil, oodErrorf("contraction split targets matmul holes, not %s", h.Spec())
	}
	mm := mh.spec
	if !mm.Accum {
		return nil, oodErrorf("contraction split requires an accumulating matmul")
	}
	if !mm.IsValidSplitK(a.K) || mm.K()%a.K != 0 {
		return nil, oodErrorf("cannot split contraction of %s by %d", mm, a.K)
	}
	return &Loop{
		spec:        mm,
		tile:        slices.Clone(mm.Out.Shape),
		steps:       []int{1, 1},
		reduceTile:  a.K,
		reduceSteps: mm.K() / a.K,
		body:        SpecToHole(mm.SplitK(a.K)),
	}, nil
}

func (a MatmulSplitAction) String() string { return fmt.Sprintf("MatmulSplit(k=%d)", a.K) }

// ReduceSplitAction splits the reduced axis of an accumulating ReduceSum
// hole into an accumulation loop over partial reductions.
type ReduceSplitAction struct {
	R int
}

func (a ReduceSplitAction) Apply(h Hole) (Impl, error) {
	rh, ok := h.(ReduceSumHole)
	if !ok {
		return nil, oodErrorf("reduce split targets reduce-sum holes, not %s", h.Spec())
	}
	rs := rh.spec
	if !rs.Accum {
		return nil, oodErrorf("reduce split requires an accumulating reduction")
	}
	if !rs.IsValidSplitR(a.R) || rs.R()%a.R != 0 {
		return nil, oodErrorf("cannot split reduction of %s by %d", rs, a.R)
	}
	return &Loop{
		spec:        rs,
		tile:        slices.Clone(rs.Out.Shape),
		steps:       xslices.Repeat(1, rs.Out.Rank()),
		reduceTile:  a.R,
		reduceSteps: rs.R() / a.R,
		body:        SpecToHole(rs.SplitR(a.R)),
	}, nil
}

func (a ReduceSplitAction) String() string { return fmt.Sprintf("ReduceSplit(r=%d)", a.R) }

// ToAccumAction rewrites a non-accumulating hole into a Block that zero
// fills the output and then runs the accumulating form of the Spec.
type ToAccumAction struct{}

func (a ToAccumAction) Apply(h Hole) (Impl, error) {
	spec := h.Spec()
	accum, ok := toAccum(spec)
	if !ok {
		return nil, oodErrorf("%s has no accumulating form", spec)
	}
	zero := specs.Zero{Dst: spec.Output()}
	return MakeBlock(spec, SpecToHole(zero), SpecToHole(accum)), nil
}

func (a ToAccumAction) String() string { return "ToAccum" }

// MoveAction inserts a MoveLet relocating one operand of the hole's Spec to
// the given level and layout; the body hole then computes over the buffered
// operand. The destination's capacity is checked against the Settings'
// target at proposal time.
type MoveAction struct {
	Operand     int
	Level       target.Level
	Layout      specs.Layout
	VectorShape []int
	Prefetch    bool
}

func (a MoveAction) Apply(h Hole) (Impl, error) {
	spec := h.Spec()
	operands := spec.Operands()
	if a.Operand < 0 || a.Operand >= len(operands) {
		return nil, oodErrorf("no operand %d in %s", a.Operand, spec)
	}
	op := operands[a.Operand]
	if !a.Layout.AppliesTo(op.Shape) {
		return nil, oodErrorf("layout %s does not apply to operand %s", a.Layout, op)
	}
	if a.Level.VectorRF() {
		if len(a.VectorShape) != op.Rank() {
			return nil, oodErrorf("vector shape %v does not match operand %s", a.VectorShape, op)
		}
		for i, v := range a.VectorShape {
			if v < 1 || op.Shape[i]%v != 0 {
				return nil, oodErrorf("vector shape %v does not divide operand %s", a.VectorShape, op)
			}
		}
	} else if a.VectorShape != nil {
		return nil, oodErrorf("vector shape given for non-vector level %s", a.Level)
	}
	dest := op.MovedTo(a.Level, a.Layout, a.VectorShape)
	if dest.Equal(op) {
		return nil, oodErrorf("move of operand %d of %s changes nothing", a.Operand, spec)
	}

	isOutput := a.Operand == spec.OutputIdx()
	var prologue, epilogue Impl
	if !isOutput || specReadsOutput(spec) {
		prologue = SpecToHole(specs.MakeLoad(op, dest))
	}
	if isOutput {
		epilogue = SpecToHole(specs.MakeStore(dest, op))
	}
	return &MoveLet{
		spec:     spec,
		operand:  a.Operand,
		source:   op,
		dest:     dest,
		prologue: prologue,
		body:     SpecToHole(spec.ReplaceOperand(a.Operand, dest)),
		epilogue: epilogue,
		prefetch: a.Prefetch,
	}, nil
}

func (a MoveAction) String() string {
	s := fmt.Sprintf("Move(op%d -> %s/%s", a.Operand, a.Level, a.Layout)
	if a.VectorShape != nil {
		s += fmt.Sprintf(", v%v", a.VectorShape)
	}
	if a.Prefetch {
		s += ", prefetch"
	}
	return s + ")"
}

// PlaceAction resolves a hole directly into a terminal Kernel. Proposed only
// when the kernel's contract exactly matches the hole's Spec.
type PlaceAction struct {
	Kind KernelKind
}

func (a PlaceAction) Apply(h Hole) (Impl, error) {
	spec := h.Spec()
	if !KernelApplies(a.Kind, spec) {
		return nil, oodErrorf("kernel %s does not match %s", a.Kind, spec)
	}
	return Kernel{kind: a.Kind, spec: spec}, nil
}

func (a PlaceAction) String() string { return fmt.Sprintf("Place(%s)", a.Kind) }

// specReadsOutput reports whether the Spec reads its output operand
// (accumulating forms do; everything else writes only).
func specReadsOutput(s specs.Spec) bool {
	switch st := s.(type) {
	case specs.Matmul:
		return st.Accum
	case specs.Conv:
		return st.Accum
	case specs.ReduceSum:
		return st.Accum
	case specs.Compose:
		// The pipeline's output is the head stage's output.
		return specReadsOutput(st.Head())
	}
	return false
}

// toAccum returns the accumulating form of a Spec, or ok=false when the
// Spec has none (it is already accumulating, or its kind has no such form).
func toAccum(s specs.Spec) (specs.Spec, bool) {
	switch st := s.(type) {
	case specs.Matmul:
		if !st.Accum {
			return st.ToAccum(), true
		}
	case specs.Conv:
		if !st.Accum {
			return st.ToAccum(), true
		}
	case specs.ReduceSum:
		if !st.Accum {
			return st.ToAccum(), true
		}
	}
	return nil, false
}

// candidateTileSizes returns the per-axis tile sizes legal under the mode,
// ascending, always including the full extent (the caller drops the
// all-full combination).
func candidateTileSizes(extent int, mode TileSizeMode) []int {
	var sizes []int
	switch mode {
	case TileSizeModePowersOfTwo:
		for size := 1; size <= extent; size *= 2 {
			if extent%size == 0 {
				sizes = append(sizes, size)
			}
		}
		if len(sizes) == 0 || sizes[len(sizes)-1] != extent {
			sizes = append(sizes, extent)
		}
	case TileSizeModeAnyDivisor, TileSizeModeAnyWithRemainder:
		// Non-dividing sizes under AnyWithRemainder are proposed as peels,
		// not tilings.
		for size := 1; size <= extent; size++ {
			if extent%size == 0 {
				sizes = append(sizes, size)
			}
		}
	}
	return sizes
}

// enumerateTileShapes returns every output tile shape legal under the mode,
// in deterministic lexicographic order, excluding the full shape.
func enumerateTileShapes(shape []int, mode TileSizeMode) [][]int {
	perAxis := make([][]int, len(shape))
	for i, extent := range shape {
		perAxis[i] = candidateTileSizes(extent, mode)
	}
	var tiles [][]int
	tile := make([]int, len(shape))
	var rec func(axis int)
	rec = func(axis int) {
		if axis == len(shape) {
			if !slices.Equal(tile, shape) {
				tiles = append(tiles, slices.Clone(tile))
			}
			return
		}
		for _, size := range perAxis[axis] {
			tile[axis] = size
			rec(axis + 1)
		}
	}
	rec(0)
	return tiles
}

// tileExceeds reports whether tile grows over last on any axis.
func tileExceeds(tile, last []int) bool {
	if len(tile) != len(last) {
		return false
	}
	for i := range tile {
		if tile[i] > last[i] {
			return true
		}
	}
	return false
}

// tileOutActions enumerates the tiling family for any hole: plain tilings,
// parallel variants for non-accumulating specs, sliding-window variants
// where the access pattern overlaps, and peels in remainder mode.
func tileOutActions(spec specs.Spec, ps *ParentSummary, settings *Settings) []Action {
	out := spec.Output()
	lastTile, hasLastTile := ps.LastTileOut()
	var acts []Action
	for _, tile := range enumerateTileShapes(out.Shape, settings.TileSizeMode) {
		if !spec.IsValidTileOut(tile) {
			continue
		}
		if settings.BreakSequentialTiles && hasLastTile && tileExceeds(tile, lastTile) {
			continue
		}
		acts = append(acts, TileOutAction{Tile: tile})
		if !specReadsOutput(spec) {
			acts = append(acts, TileOutAction{Tile: tile, Parallel: true})
		}
		if settings.AllowSlidingWindows {
			if operand, overlap, ok := specs.OverlapForTileOut(spec, tile); ok {
				acts = append(acts, SlidingTileOutAction{Tile: tile, Operand: operand, Overlap: overlap})
			}
		}
	}
	if settings.TileSizeMode == TileSizeModeAnyWithRemainder {
		for dim, extent := range out.Shape {
			for size := 2; size < extent; size++ {
				if extent%size == 0 {
					continue
				}
				if settings.BreakSequentialTiles && hasLastTile &&
					len(lastTile) == len(out.Shape) && size > lastTile[dim] {
					continue
				}
				mainRegion := slices.Clone(out.Shape)
				mainRegion[dim] = (extent / size) * size
				remRegion := slices.Clone(out.Shape)
				remRegion[dim] = extent % size
				loopTile := slices.Clone(out.Shape)
				loopTile[dim] = size
				if !spec.IsValidTileOut(mainRegion) || !spec.IsValidTileOut(remRegion) ||
					!spec.IsValidTileOut(loopTile) {
					continue
				}
				acts = append(acts, PeelAction{Dim: dim, Size: size})
			}
		}
	}
	return acts
}

// moveActions enumerates the move-insertion family: for each operand, each
// destination level, layout and (for vector levels) vector shape that the
// operand fits in, subject to the configured symmetry breaking.
func moveActions(spec specs.Spec, ps *ParentSummary, settings *Settings) []Action {
	operands := spec.Operands()
	var acts []Action
	for i, op := range operands {
		// Identical input operands are interchangeable; moving the later one
		// first only permutes an equivalent schedule. The output is never
		// symmetric with an input even when their descriptions match.
		if settings.BreakMoveSymmetries && i != spec.OutputIdx() &&
			hasEqualEarlierInput(operands, i, spec.OutputIdx()) {
			continue
		}
		if len(ps.Lineage(op)) >= maxMovesPerOperand {
			continue
		}
		for _, level := range target.Levels() {
			for _, layout := range specs.MoveDestinationLayouts(op.Shape) {
				for _, vectorShape := range vectorShapeCandidates(op, level, settings.Target) {
					if !op.CanMoveTo(settings.Target, level, layout, vectorShape) {
						continue
					}
					dest := op.MovedTo(level, layout, vectorShape)
					if dest.Equal(op) {
						continue
					}
					if settings.PruneRelayoutCycles && ps.lineageHadResidency(op, level, layout) {
						continue
					}
					acts = append(acts, MoveAction{
						Operand:     i,
						Level:       level,
						Layout:      layout,
						VectorShape: vectorShape,
					})
					if i != spec.OutputIdx() && op.Level == target.GL && level == target.L1 {
						acts = append(acts, MoveAction{
							Operand:     i,
							Level:       level,
							Layout:      layout,
							VectorShape: vectorShape,
							Prefetch:    true,
						})
					}
				}
			}
		}
	}
	return acts
}

func hasEqualEarlierInput(operands []specs.TensorSpec, i, outputIdx int) bool {
	for j := range i {
		if j != outputIdx && operands[j].Equal(operands[i]) {
			return true
		}
	}
	return false
}

// vectorShapeCandidates returns the vector shapes to consider for moving an
// operand to the given level: nil for non-vector levels, and the single
// canonical last-axis vector for vector register files (or nothing when the
// operand's trailing extent is not a whole number of vectors).
func vectorShapeCandidates(op specs.TensorSpec, level target.Level, t target.Target) [][]int {
	if !level.VectorRF() {
		return [][]int{nil}
	}
	elems := t.VectorBytes(level) / int(op.DType.Memory())
	if elems <= 0 || op.Shape[op.Rank()-1]%elems != 0 {
		return nil
	}
	vs := xslices.Repeat(1, op.Rank())
	vs[op.Rank()-1] = elems
	return [][]int{vs}
}
