// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"
	"slices"

	"github.com/gomlx/tensorsched/types/specs"
	"github.com/gomlx/tensorsched/types/xslices"
)

// Loop executes its child once per tile of an iteration range. It comes in
// two flavors distinguished by its fields:
//
//   - an output tiling loop (from TileOutAction): tile/steps describe the
//     per-axis output tile and trip counts;
//   - an accumulation loop (from a contraction or reduction split): the
//     output is unchanged per iteration (tile equals the full output shape,
//     steps are all 1) and reduceTile/reduceSteps describe the split axis.
type Loop struct {
	spec        specs.Spec
	tile        []int
	steps       []int
	reduceTile  int
	reduceSteps int
	parallel    bool
	body        Impl
}

// Spec implements Impl; it returns the Spec of the whole iteration range.
func (l *Loop) Spec() specs.Spec { return l.spec }

func (l *Loop) Children() []Impl { return []Impl{l.body} }

func (l *Loop) ReplaceChildren(children []Impl) Impl {
	checkChildCount(children, 1)
	clone := *l
	clone.body = children[0]
	return &clone
}

func (l *Loop) IsScheduled() bool { return l.body.IsScheduled() }

// Tile returns the per-iteration output tile shape.
func (l *Loop) Tile() []int { return slices.Clone(l.tile) }

// Steps returns the trip count per output axis.
func (l *Loop) Steps() []int { return slices.Clone(l.steps) }

// TripCount returns the total number of iterations.
func (l *Loop) TripCount() int {
	trips := xslices.Product(l.steps)
	if l.reduceSteps > 0 {
		trips *= l.reduceSteps
	}
	return trips
}

// ReduceSplit returns the split-axis tile and trip count of an accumulation
// loop, or (0, 0) for a plain tiling loop.
func (l *Loop) ReduceSplit() (tile, steps int) { return l.reduceTile, l.reduceSteps }

// Parallel reports whether iterations may run concurrently. Accumulation
// loops are never parallel.
func (l *Loop) Parallel() bool { return l.parallel }

// Body returns the child executed each iteration.
func (l *Loop) Body() Impl { return l.body }

func (l *Loop) String() string {
	if l.reduceSteps > 0 {
		return fmt.Sprintf("AccumLoop(reduce %dx%d)", l.reduceSteps, l.reduceTile)
	}
	par := ""
	if l.parallel {
		par = ", parallel"
	}
	return fmt.Sprintf("Loop(tile %v, steps %v%s)", l.tile, l.steps, par)
}

// SlidingWindowLoop is a tiling loop whose consecutive iterations reuse the
// overlapping part of one input operand already resident from the previous
// iteration. It must compute exactly what the equivalent plain Loop computes;
// the distinct node kind lets concrete lowering recognize the reuse.
type SlidingWindowLoop struct {
	spec    specs.Spec
	tile    []int
	steps   []int
	operand int
	overlap []int
	body    Impl
}

func (l *SlidingWindowLoop) Spec() specs.Spec { return l.spec }

func (l *SlidingWindowLoop) Children() []Impl { return []Impl{l.body} }

func (l *SlidingWindowLoop) ReplaceChildren(children []Impl) Impl {
	checkChildCount(children, 1)
	clone := *l
	clone.body = children[0]
	return &clone
}

func (l *SlidingWindowLoop) IsScheduled() bool { return l.body.IsScheduled() }

// Tile returns the per-iteration output tile shape.
func (l *SlidingWindowLoop) Tile() []int { return slices.Clone(l.tile) }

// Steps returns the trip count per output axis.
func (l *SlidingWindowLoop) Steps() []int { return slices.Clone(l.steps) }

// TripCount returns the total number of iterations.
func (l *SlidingWindowLoop) TripCount() int {
	return xslices.Product(l.steps)
}

// ReusedOperand returns the index of the input operand whose data overlaps
// between iterations.
func (l *SlidingWindowLoop) ReusedOperand() int { return l.operand }

// Overlap returns, per axis of the reused operand, how many elements each
// iteration re-reads from the previous one.
func (l *SlidingWindowLoop) Overlap() []int { return slices.Clone(l.overlap) }

// Body returns the child executed each iteration.
func (l *SlidingWindowLoop) Body() Impl { return l.body }

func (l *SlidingWindowLoop) String() string {
	return fmt.Sprintf("SlidingWindowLoop(tile %v, steps %v, reuse op%d %v)",
		l.tile, l.steps, l.operand, l.overlap)
}
