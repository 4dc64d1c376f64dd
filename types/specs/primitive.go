// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package specs

import (
	"fmt"
	"slices"

	"github.com/gomlx/exceptions"
)

// Matmul is the contraction Out[m,n] (+)= sum_k LHS[m,k]*RHS[k,n].
//
// With Accum set the Spec accumulates into Out (Out is read and written);
// otherwise Out is write-only and initialized by the computation.
type Matmul struct {
	LHS, RHS, Out TensorSpec
	Accum         bool
}

// MakeMatmul builds a validated Matmul spec.
func MakeMatmul(lhs, rhs, out TensorSpec, accum bool) Matmul {
	if lhs.Rank() != 2 || rhs.Rank() != 2 || out.Rank() != 2 {
		exceptions.Panicf("specs: Matmul operands must be rank 2, got %s, %s, %s", lhs, rhs, out)
	}
	m, k, n := lhs.Shape[0], lhs.Shape[1], rhs.Shape[1]
	if rhs.Shape[0] != k || out.Shape[0] != m || out.Shape[1] != n {
		exceptions.Panicf("specs: inconsistent Matmul shapes %v, %v, %v", lhs.Shape, rhs.Shape, out.Shape)
	}
	if lhs.DType != rhs.DType || lhs.DType != out.DType {
		exceptions.Panicf("specs: Matmul operands must share a dtype")
	}
	return Matmul{LHS: lhs, RHS: rhs, Out: out, Accum: accum}
}

// M, K and N return the contraction extents.
func (s Matmul) M() int { return s.LHS.Shape[0] }
func (s Matmul) K() int { return s.LHS.Shape[1] }
func (s Matmul) N() int { return s.RHS.Shape[1] }

func (s Matmul) Operands() []TensorSpec { return []TensorSpec{s.LHS, s.RHS, s.Out} }
func (s Matmul) Inputs() []TensorSpec   { return []TensorSpec{s.LHS, s.RHS} }
func (s Matmul) Output() TensorSpec     { return s.Out }
func (s Matmul) OutputIdx() int         { return 2 }

func (s Matmul) Equal(other Spec) bool {
	o, ok := other.(Matmul)
	return ok && s.Accum == o.Accum && s.LHS.Equal(o.LHS) && s.RHS.Equal(o.RHS) && s.Out.Equal(o.Out)
}

func (s Matmul) IsValidTileOut(outTile []int) bool {
	if len(outTile) != 2 {
		return false
	}
	return s.Out.IsValidTileShape(outTile) &&
		s.LHS.IsValidTileShape([]int{outTile[0], s.K()}) &&
		s.RHS.IsValidTileShape([]int{s.K(), outTile[1]})
}

func (s Matmul) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid Matmul output tile %v for %s", outTile, s)
	}
	return Matmul{
		LHS:   s.LHS.Tile([]int{outTile[0], s.K()}),
		RHS:   s.RHS.Tile([]int{s.K(), outTile[1]}),
		Out:   s.Out.Tile(outTile),
		Accum: s.Accum,
	}
}

// IsValidSplitK reports whether the contraction axis can be tiled to newK.
// Splitting is only defined for accumulating matmuls: partial products must
// accumulate into the output.
func (s Matmul) IsValidSplitK(newK int) bool {
	return s.Accum && newK >= 1 && newK < s.K() &&
		s.LHS.IsValidTileShape([]int{s.M(), newK}) &&
		s.RHS.IsValidTileShape([]int{newK, s.N()})
}

// SplitK returns the Spec of one contraction slice of extent newK. The
// output operand is unchanged; the slice accumulates into it.
func (s Matmul) SplitK(newK int) Spec {
	if !s.IsValidSplitK(newK) {
		exceptions.Panicf("specs: invalid Matmul contraction split %d for %s", newK, s)
	}
	return Matmul{
		LHS:   s.LHS.Tile([]int{s.M(), newK}),
		RHS:   s.RHS.Tile([]int{newK, s.N()}),
		Out:   s.Out,
		Accum: true,
	}
}

// ToAccum returns the accumulating form of this Spec.
func (s Matmul) ToAccum() Spec {
	s.Accum = true
	return s
}

func (s Matmul) ReplaceOperand(i int, ts TensorSpec) Spec {
	switch i {
	case 0:
		checkSameShapeAndDType(s.LHS, ts)
		s.LHS = ts
	case 1:
		checkSameShapeAndDType(s.RHS, ts)
		s.RHS = ts
	case 2:
		checkSameShapeAndDType(s.Out, ts)
		s.Out = ts
	default:
		exceptions.Panicf("specs: Matmul has 3 operands, no operand %d", i)
	}
	return s
}

func (s Matmul) String() string {
	name := "Matmul"
	if s.Accum {
		name = "MatmulAccum"
	}
	return fmt.Sprintf("%s(%s, %s, %s)", name, s.LHS, s.RHS, s.Out)
}

// Conv is the 2D cross-correlation Out[b,f,y,x] (+)= sum_{c,i,j}
// Image[b,c,y+i,x+j]*Filters[f,c,i,j], with unit stride and no padding.
type Conv struct {
	Image, Filters, Out TensorSpec
	Accum               bool
}

// MakeConv builds a validated Conv spec. Image is (B,C,H,W), Filters is
// (F,C,FH,FW) and Out must be (B,F,H-FH+1,W-FW+1).
func MakeConv(image, filters, out TensorSpec, accum bool) Conv {
	if image.Rank() != 4 || filters.Rank() != 4 || out.Rank() != 4 {
		exceptions.Panicf("specs: Conv operands must be rank 4, got %s, %s, %s", image, filters, out)
	}
	b, c, h, w := image.Shape[0], image.Shape[1], image.Shape[2], image.Shape[3]
	f, fc, fh, fw := filters.Shape[0], filters.Shape[1], filters.Shape[2], filters.Shape[3]
	if fc != c || fh > h || fw > w {
		exceptions.Panicf("specs: filters %v do not apply to image %v", filters.Shape, image.Shape)
	}
	want := []int{b, f, h - fh + 1, w - fw + 1}
	if !slices.Equal(out.Shape, want) {
		exceptions.Panicf("specs: Conv output must be %v, got %v", want, out.Shape)
	}
	if image.DType != filters.DType || image.DType != out.DType {
		exceptions.Panicf("specs: Conv operands must share a dtype")
	}
	return Conv{Image: image, Filters: filters, Out: out, Accum: accum}
}

func (s Conv) Operands() []TensorSpec { return []TensorSpec{s.Image, s.Filters, s.Out} }
func (s Conv) Inputs() []TensorSpec   { return []TensorSpec{s.Image, s.Filters} }
func (s Conv) Output() TensorSpec     { return s.Out }
func (s Conv) OutputIdx() int         { return 2 }

func (s Conv) Equal(other Spec) bool {
	o, ok := other.(Conv)
	return ok && s.Accum == o.Accum && s.Image.Equal(o.Image) && s.Filters.Equal(o.Filters) && s.Out.Equal(o.Out)
}

// imageTileFor returns the image tile needed to produce the given output tile.
func (s Conv) imageTileFor(outTile []int) []int {
	fh, fw := s.Filters.Shape[2], s.Filters.Shape[3]
	return []int{outTile[0], s.Image.Shape[1], outTile[2] + fh - 1, outTile[3] + fw - 1}
}

func (s Conv) IsValidTileOut(outTile []int) bool {
	if len(outTile) != 4 {
		return false
	}
	return s.Out.IsValidTileShape(outTile) &&
		s.Image.IsValidTileShape(s.imageTileFor(outTile)) &&
		s.Filters.IsValidTileShape([]int{outTile[1], s.Filters.Shape[1], s.Filters.Shape[2], s.Filters.Shape[3]})
}

func (s Conv) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid Conv output tile %v for %s", outTile, s)
	}
	return Conv{
		Image:   s.Image.Tile(s.imageTileFor(outTile)),
		Filters: s.Filters.Tile([]int{outTile[1], s.Filters.Shape[1], s.Filters.Shape[2], s.Filters.Shape[3]}),
		Out:     s.Out.Tile(outTile),
		Accum:   s.Accum,
	}
}

// ToAccum returns the accumulating form of this Spec.
func (s Conv) ToAccum() Spec {
	s.Accum = true
	return s
}

// CanSpatialSplit reports whether the convolution can be lowered to a
// matmul-like contraction over extracted patches: the filter window must
// cover the whole image (output spatial extents 1x1), the Spec must be
// accumulating, and no operand may live in a vector register file (the
// reshape is a view, not legal on register tiles).
func (s Conv) CanSpatialSplit() bool {
	if !s.Accum || s.Out.Shape[2] != 1 || s.Out.Shape[3] != 1 {
		return false
	}
	for _, op := range s.Operands() {
		if op.Level.VectorRF() {
			return false
		}
	}
	return true
}

// SpatialSplit lowers the convolution to the contraction
// Out[b,f] += sum_{chw} Image[b,chw]*Filters[f,chw], flattening the channel
// and spatial axes of image and filters into the contraction axis.
func (s Conv) SpatialSplit() Spec {
	if !s.CanSpatialSplit() {
		exceptions.Panicf("specs: spatial split does not apply to %s", s)
	}
	b := s.Image.Shape[0]
	f := s.Filters.Shape[0]
	chw := s.Image.Shape[1] * s.Image.Shape[2] * s.Image.Shape[3]
	lhs := s.Image.Clone()
	lhs.Shape = []int{b, chw}
	lhs.Layout = RowMajor
	// Filters storage is (f,chw) row-major; Matmul wants (chw,f), which is
	// the same storage read column-major.
	rhs := s.Filters.Clone()
	rhs.Shape = []int{chw, f}
	rhs.Layout = ColumnMajor
	out := s.Out.Clone()
	out.Shape = []int{b, f}
	out.Layout = RowMajor
	return MakeMatmul(lhs, rhs, out, true)
}

func (s Conv) ReplaceOperand(i int, ts TensorSpec) Spec {
	switch i {
	case 0:
		checkSameShapeAndDType(s.Image, ts)
		s.Image = ts
	case 1:
		checkSameShapeAndDType(s.Filters, ts)
		s.Filters = ts
	case 2:
		checkSameShapeAndDType(s.Out, ts)
		s.Out = ts
	default:
		exceptions.Panicf("specs: Conv has 3 operands, no operand %d", i)
	}
	return s
}

func (s Conv) String() string {
	name := "Conv"
	if s.Accum {
		name = "ConvAccum"
	}
	return fmt.Sprintf("%s(%s, %s, %s)", name, s.Image, s.Filters, s.Out)
}

// ReduceSum sums the last axis of In into Out: Out[...] (+)= sum_r In[...,r].
type ReduceSum struct {
	In, Out TensorSpec
	Accum   bool
}

// MakeReduceSum builds a validated ReduceSum spec. Out must have the shape
// of In minus its last axis.
func MakeReduceSum(in, out TensorSpec, accum bool) ReduceSum {
	if in.Rank() < 2 || out.Rank() != in.Rank()-1 {
		exceptions.Panicf("specs: ReduceSum wants In rank >= 2 and Out rank = In rank-1, got %s, %s", in, out)
	}
	if !slices.Equal(out.Shape, in.Shape[:in.Rank()-1]) {
		exceptions.Panicf("specs: ReduceSum output shape %v must be %v", out.Shape, in.Shape[:in.Rank()-1])
	}
	if in.DType != out.DType {
		exceptions.Panicf("specs: ReduceSum operands must share a dtype")
	}
	return ReduceSum{In: in, Out: out, Accum: accum}
}

// R returns the reduced extent.
func (s ReduceSum) R() int { return s.In.Shape[s.In.Rank()-1] }

func (s ReduceSum) Operands() []TensorSpec { return []TensorSpec{s.In, s.Out} }
func (s ReduceSum) Inputs() []TensorSpec   { return []TensorSpec{s.In} }
func (s ReduceSum) Output() TensorSpec     { return s.Out }
func (s ReduceSum) OutputIdx() int         { return 1 }

func (s ReduceSum) Equal(other Spec) bool {
	o, ok := other.(ReduceSum)
	return ok && s.Accum == o.Accum && s.In.Equal(o.In) && s.Out.Equal(o.Out)
}

func (s ReduceSum) inTileFor(outTile []int) []int {
	return append(slices.Clone(outTile), s.R())
}

func (s ReduceSum) IsValidTileOut(outTile []int) bool {
	if len(outTile) != s.Out.Rank() {
		return false
	}
	return s.Out.IsValidTileShape(outTile) && s.In.IsValidTileShape(s.inTileFor(outTile))
}

func (s ReduceSum) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid ReduceSum output tile %v for %s", outTile, s)
	}
	return ReduceSum{
		In:    s.In.Tile(s.inTileFor(outTile)),
		Out:   s.Out.Tile(outTile),
		Accum: s.Accum,
	}
}

// IsValidSplitR reports whether the reduced axis can be tiled to newR.
func (s ReduceSum) IsValidSplitR(newR int) bool {
	if !s.Accum || newR < 1 || newR >= s.R() {
		return false
	}
	tile := slices.Clone(s.In.Shape)
	tile[len(tile)-1] = newR
	return s.In.IsValidTileShape(tile)
}

// SplitR returns the Spec of one reduction slice of extent newR,
// accumulating into the unchanged output.
func (s ReduceSum) SplitR(newR int) Spec {
	if !s.IsValidSplitR(newR) {
		exceptions.Panicf("specs: invalid ReduceSum split %d for %s", newR, s)
	}
	tile := slices.Clone(s.In.Shape)
	tile[len(tile)-1] = newR
	return ReduceSum{In: s.In.Tile(tile), Out: s.Out, Accum: true}
}

// ToAccum returns the accumulating form of this Spec.
func (s ReduceSum) ToAccum() Spec {
	s.Accum = true
	return s
}

func (s ReduceSum) ReplaceOperand(i int, ts TensorSpec) Spec {
	switch i {
	case 0:
		checkSameShapeAndDType(s.In, ts)
		s.In = ts
	case 1:
		checkSameShapeAndDType(s.Out, ts)
		s.Out = ts
	default:
		exceptions.Panicf("specs: ReduceSum has 2 operands, no operand %d", i)
	}
	return s
}

func (s ReduceSum) String() string {
	name := "ReduceSum"
	if s.Accum {
		name = "ReduceSumAccum"
	}
	return fmt.Sprintf("%s(%s, %s)", name, s.In, s.Out)
}

// Zero fills its single operand with zeros.
type Zero struct {
	Dst TensorSpec
}

func (s Zero) Operands() []TensorSpec { return []TensorSpec{s.Dst} }
func (s Zero) Inputs() []TensorSpec   { return nil }
func (s Zero) Output() TensorSpec     { return s.Dst }
func (s Zero) OutputIdx() int         { return 0 }

func (s Zero) Equal(other Spec) bool {
	o, ok := other.(Zero)
	return ok && s.Dst.Equal(o.Dst)
}

func (s Zero) IsValidTileOut(outTile []int) bool {
	return s.Dst.IsValidTileShape(outTile)
}

func (s Zero) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid Zero tile %v for %s", outTile, s)
	}
	return Zero{Dst: s.Dst.Tile(outTile)}
}

func (s Zero) ReplaceOperand(i int, ts TensorSpec) Spec {
	if i != 0 {
		exceptions.Panicf("specs: Zero has 1 operand, no operand %d", i)
	}
	checkSameShapeAndDType(s.Dst, ts)
	s.Dst = ts
	return s
}

func (s Zero) String() string { return fmt.Sprintf("Zero(%s)", s.Dst) }

// Load copies Src into Dst, where Dst is at a faster (or equal) level and
// possibly in a different layout. Shapes and dtypes match.
type Load struct {
	Src, Dst TensorSpec
}

// Store copies Src into Dst, where Dst is at a slower (or equal) level.
// The distinction from Load matters only to concrete lowering; both tile and
// resolve identically.
type Store struct {
	Src, Dst TensorSpec
}

// MakeLoad builds a validated Load spec.
func MakeLoad(src, dst TensorSpec) Load {
	checkMovePair(src, dst)
	return Load{Src: src, Dst: dst}
}

// MakeStore builds a validated Store spec.
func MakeStore(src, dst TensorSpec) Store {
	checkMovePair(src, dst)
	return Store{Src: src, Dst: dst}
}

func checkMovePair(src, dst TensorSpec) {
	if src.DType != dst.DType || !slices.Equal(src.Shape, dst.Shape) {
		exceptions.Panicf("specs: move endpoints must share shape and dtype, got %s and %s", src, dst)
	}
}

func (s Load) Operands() []TensorSpec { return []TensorSpec{s.Src, s.Dst} }
func (s Load) Inputs() []TensorSpec   { return []TensorSpec{s.Src} }
func (s Load) Output() TensorSpec     { return s.Dst }
func (s Load) OutputIdx() int         { return 1 }

func (s Load) Equal(other Spec) bool {
	o, ok := other.(Load)
	return ok && s.Src.Equal(o.Src) && s.Dst.Equal(o.Dst)
}

func (s Load) IsValidTileOut(outTile []int) bool {
	return s.Dst.IsValidTileShape(outTile) && s.Src.IsValidTileShape(outTile)
}

func (s Load) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid Load tile %v for %s", outTile, s)
	}
	return Load{Src: s.Src.Tile(outTile), Dst: s.Dst.Tile(outTile)}
}

func (s Load) ReplaceOperand(i int, ts TensorSpec) Spec {
	switch i {
	case 0:
		checkSameShapeAndDType(s.Src, ts)
		s.Src = ts
	case 1:
		checkSameShapeAndDType(s.Dst, ts)
		s.Dst = ts
	default:
		exceptions.Panicf("specs: Load has 2 operands, no operand %d", i)
	}
	return s
}

func (s Load) String() string { return fmt.Sprintf("Load(%s <- %s)", s.Dst, s.Src) }

func (s Store) Operands() []TensorSpec { return []TensorSpec{s.Src, s.Dst} }
func (s Store) Inputs() []TensorSpec   { return []TensorSpec{s.Src} }
func (s Store) Output() TensorSpec     { return s.Dst }
func (s Store) OutputIdx() int         { return 1 }

func (s Store) Equal(other Spec) bool {
	o, ok := other.(Store)
	return ok && s.Src.Equal(o.Src) && s.Dst.Equal(o.Dst)
}

func (s Store) IsValidTileOut(outTile []int) bool {
	return s.Dst.IsValidTileShape(outTile) && s.Src.IsValidTileShape(outTile)
}

func (s Store) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid Store tile %v for %s", outTile, s)
	}
	return Store{Src: s.Src.Tile(outTile), Dst: s.Dst.Tile(outTile)}
}

func (s Store) ReplaceOperand(i int, ts TensorSpec) Spec {
	switch i {
	case 0:
		checkSameShapeAndDType(s.Src, ts)
		s.Src = ts
	case 1:
		checkSameShapeAndDType(s.Dst, ts)
		s.Dst = ts
	default:
		exceptions.Panicf("specs: Store has 2 operands, no operand %d", i)
	}
	return s
}

func (s Store) String() string { return fmt.Sprintf("Store(%s -> %s)", s.Src, s.Dst) }
