// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// Package specs defines the immutable descriptions of tensor computations the
// rewrite engine operates on.
//
// A TensorSpec describes one operand: its shape, dtype, memory level, layout
// and alignment. A Spec describes one computation over such operands (matrix
// multiply, convolution, reduction, data movement, zero-fill, or a composed
// pipeline of those). Specs are pure values: they compare structurally, are
// never mutated, and every derived Spec (a tile, a split, a moved-operand
// variant) is computed from the parent Spec and parameters alone.
package specs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/xslices"
)

// TensorSpec describes a single operand of a Spec: where it lives and what it
// looks like. It is a pure value; all "modifying" methods return copies.
type TensorSpec struct {
	// Shape of the operand, one extent per axis. Never empty, extents >= 1.
	Shape []int

	// DType of the unit element.
	DType dtypes.DType

	// Level of the memory hierarchy the operand is resident at.
	Level target.Level

	// Layout of the operand at its level.
	Layout Layout

	// Contiguous is whether the operand occupies a single dense span in its
	// layout order. Tiles of a larger tensor are generally not contiguous.
	Contiguous bool

	// Aligned is whether the operand's base address is vector-aligned.
	Aligned bool

	// VectorShape is the shape of one vector register's worth of elements.
	// It is set if and only if Level is a vector register file, and each of
	// its extents must divide the corresponding Shape extent.
	VectorShape []int
}

// MakeTensorSpec builds a validated TensorSpec resident in non-vector memory.
// It panics on malformed arguments: a malformed operand description is a
// programming error, not a search outcome.
func MakeTensorSpec(dtype dtypes.DType, level target.Level, layout Layout, shape ...int) TensorSpec {
	ts := TensorSpec{
		Shape:      slices.Clone(shape),
		DType:      dtype,
		Level:      level,
		Layout:     layout,
		Contiguous: true,
		Aligned:    true,
	}
	ts.validate()
	return ts
}

// MakeVectorTensorSpec builds a validated TensorSpec resident in a vector
// register file with the given vector shape.
func MakeVectorTensorSpec(dtype dtypes.DType, level target.Level, layout Layout, shape, vectorShape []int) TensorSpec {
	ts := TensorSpec{
		Shape:       slices.Clone(shape),
		DType:       dtype,
		Level:       level,
		Layout:      layout,
		Contiguous:  true,
		Aligned:     true,
		VectorShape: slices.Clone(vectorShape),
	}
	ts.validate()
	return ts
}

func (ts TensorSpec) validate() {
	if len(ts.Shape) == 0 {
		exceptions.Panicf("specs: TensorSpec must have at least one axis")
	}
	for _, d := range ts.Shape {
		if d < 1 {
			exceptions.Panicf("specs: invalid shape %v, extents must be >= 1", ts.Shape)
		}
	}
	if !ts.Layout.AppliesTo(ts.Shape) {
		exceptions.Panicf("specs: layout %s does not apply to shape %v", ts.Layout, ts.Shape)
	}
	if ts.Level.VectorRF() != (ts.VectorShape != nil) {
		exceptions.Panicf("specs: vector shape must be set iff the level (%s) is a vector register file", ts.Level)
	}
	if ts.VectorShape != nil {
		if len(ts.VectorShape) != len(ts.Shape) {
			exceptions.Panicf("specs: vector shape %v must have the rank of shape %v", ts.VectorShape, ts.Shape)
		}
		for i, v := range ts.VectorShape {
			if v < 1 || ts.Shape[i]%v != 0 {
				exceptions.Panicf("specs: vector shape %v must divide shape %v", ts.VectorShape, ts.Shape)
			}
		}
	}
}

// Rank returns the number of axes.
func (ts TensorSpec) Rank() int { return len(ts.Shape) }

// Volume returns the number of elements.
func (ts TensorSpec) Volume() int {
	return xslices.Product(ts.Shape)
}

// MemoryBytes returns the bytes occupied by the operand's elements.
func (ts TensorSpec) MemoryBytes() int64 {
	return int64(ts.DType.Memory()) * int64(ts.Volume())
}

// Clone returns a deep copy.
func (ts TensorSpec) Clone() TensorSpec {
	ts.Shape = slices.Clone(ts.Shape)
	ts.VectorShape = slices.Clone(ts.VectorShape)
	return ts
}

// Equal reports structural equality.
func (ts TensorSpec) Equal(other TensorSpec) bool {
	return ts.DType == other.DType &&
		ts.Level == other.Level &&
		ts.Layout == other.Layout &&
		ts.Contiguous == other.Contiguous &&
		ts.Aligned == other.Aligned &&
		slices.Equal(ts.Shape, other.Shape) &&
		slices.Equal(ts.VectorShape, other.VectorShape)
}

// IsValidTileShape reports whether the operand can be tiled to the given
// shape: same rank, no extent growing, and the layout still applying.
func (ts TensorSpec) IsValidTileShape(tile []int) bool {
	if len(tile) != len(ts.Shape) {
		return false
	}
	for i, d := range tile {
		if d < 1 || d > ts.Shape[i] {
			return false
		}
	}
	allOnes := true
	for _, d := range tile {
		if d != 1 {
			allOnes = false
			break
		}
	}
	if !allOnes && !ts.Layout.AppliesTo(tile) {
		return false
	}
	if ts.VectorShape != nil {
		for i, v := range ts.VectorShape {
			if tile[i]%v != 0 {
				return false
			}
		}
	}
	return true
}

// Tile returns the TensorSpec of one tile of the given shape. A proper tile
// loses contiguity and alignment; a full-size "tile" keeps both.
func (ts TensorSpec) Tile(tile []int) TensorSpec {
	if !ts.IsValidTileShape(tile) {
		exceptions.Panicf("specs: %v is not a valid tile shape for %s", tile, ts)
	}
	out := ts.Clone()
	if slices.Equal(tile, ts.Shape) {
		return out
	}
	out.Shape = slices.Clone(tile)
	out.Contiguous = false
	out.Aligned = false
	return out
}

// MovedTo returns the TensorSpec of this operand after relocation to the
// given level and layout. vectorShape must be non-nil iff the destination is
// a vector register file. A freshly placed buffer is contiguous and aligned.
func (ts TensorSpec) MovedTo(level target.Level, layout Layout, vectorShape []int) TensorSpec {
	out := ts.Clone()
	out.Level = level
	out.Layout = layout
	out.VectorShape = slices.Clone(vectorShape)
	out.Contiguous = true
	out.Aligned = true
	out.validate()
	return out
}

// CanMoveTo reports whether the operand can be relocated to the given level
// and layout on the given target: the layout must apply, the destination
// must have capacity, and vector levels require a whole number of vectors.
func (ts TensorSpec) CanMoveTo(t target.Target, level target.Level, layout Layout, vectorShape []int) bool {
	if !layout.AppliesTo(ts.Shape) {
		return false
	}
	if !target.Fits(t, ts.MemoryBytes(), level) {
		return false
	}
	if level.VectorRF() {
		if len(vectorShape) != len(ts.Shape) {
			return false
		}
		for i, v := range vectorShape {
			if v < 1 || ts.Shape[i]%v != 0 {
				return false
			}
		}
	} else if vectorShape != nil {
		return false
	}
	return true
}

func (ts TensorSpec) String() string {
	var sb strings.Builder
	sb.WriteByte('(')
	for i, d := range ts.Shape {
		if i > 0 {
			sb.WriteByte('x')
		}
		fmt.Fprintf(&sb, "%d", d)
	}
	fmt.Fprintf(&sb, ", %s, %s", ts.DType, ts.Level)
	if ts.Layout != RowMajor {
		fmt.Fprintf(&sb, ", %s", ts.Layout)
	}
	if !ts.Contiguous {
		sb.WriteString(", nc")
	}
	if ts.VectorShape != nil {
		fmt.Fprintf(&sb, ", v%v", ts.VectorShape)
	}
	sb.WriteByte(')')
	return sb.String()
}
