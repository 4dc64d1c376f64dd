// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package specs

import (
	"github.com/gomlx/exceptions"
)

// Spec is the immutable description of one tensor computation. Operands are
// always listed inputs first, output last. All implementations are value
// types and compare structurally with Equal.
//
// The closed set of implementations is Matmul, Conv, ReduceSum, Zero, Load,
// Store and Compose; consumers switch exhaustively over these kinds.
type Spec interface {
	// Operands returns all operands, inputs first, output last.
	Operands() []TensorSpec

	// Inputs returns the input operands.
	Inputs() []TensorSpec

	// Output returns the output operand.
	Output() TensorSpec

	// OutputIdx returns the index of the output within Operands.
	OutputIdx() int

	// Equal reports structural equality with another Spec.
	Equal(other Spec) bool

	// IsValidTileOut reports whether the output (and the operand tiles
	// derived from it) can be tiled to the given output shape.
	IsValidTileOut(outTile []int) bool

	// TileOut returns the Spec of one output tile of the given shape, with
	// every operand tile derived from the output tile and this Spec alone.
	// It panics if IsValidTileOut(outTile) does not hold.
	TileOut(outTile []int) Spec

	// ReplaceOperand returns a copy with operand i replaced. The new operand
	// must keep the original shape and dtype (only residency may change);
	// violating that is a programming error and panics.
	ReplaceOperand(i int, ts TensorSpec) Spec

	// String renders the Spec for logs and schedule listings.
	String() string
}

// checkSameShapeAndDType panics unless the replacement operand preserves the
// original's shape and dtype.
func checkSameShapeAndDType(orig, repl TensorSpec) {
	if orig.DType != repl.DType || len(orig.Shape) != len(repl.Shape) {
		exceptions.Panicf("specs: operand replacement %s must preserve shape and dtype of %s", repl, orig)
	}
	for i := range orig.Shape {
		if orig.Shape[i] != repl.Shape[i] {
			exceptions.Panicf("specs: operand replacement %s must preserve shape of %s", repl, orig)
		}
	}
}

// OverlapForTileOut returns, for the given Spec and output tile, the input
// operand whose consecutive tiles re-read overlapping data, the per-axis
// overlap in elements, and whether any overlap exists at all.
//
// This is the explicit predicate deciding when sliding-window tiling is
// legal: only convolutions qualify, through their image operand, and only
// when the spatial window extends past the tile (filter extent > 1).
func OverlapForTileOut(s Spec, outTile []int) (operand int, overlap []int, ok bool) {
	conv, isConv := s.(Conv)
	if !isConv || !s.IsValidTileOut(outTile) {
		return -1, nil, false
	}
	fh, fw := conv.Filters.Shape[2], conv.Filters.Shape[3]
	if fh <= 1 && fw <= 1 {
		return -1, nil, false
	}
	// The image tile for consecutive output tiles along H/W shares fh-1
	// (resp. fw-1) rows/columns; batch and channel axes never overlap.
	overlap = make([]int, conv.Image.Rank())
	if outTile[2] < conv.Out.Shape[2] {
		overlap[2] = fh - 1
	}
	if outTile[3] < conv.Out.Shape[3] {
		overlap[3] = fw - 1
	}
	for _, o := range overlap {
		if o > 0 {
			return 0, overlap, true
		}
	}
	return -1, nil, false
}
