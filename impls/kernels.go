// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensorsched/types/specs"
)

// KernelKind identifies one terminal primitive: a fixed-contract unit of
// target work with no internal structure left to refine.
type KernelKind uint8

const (
	// KernelMult is a scalar multiply-accumulate: out += lhs*rhs, all
	// operands 1x1 in scalar registers.
	KernelMult KernelKind = iota

	// KernelBroadcastVecMult broadcasts a scalar over a vector
	// multiply-accumulate: out[1,n] += lhs[1,1]*rhs[1,n].
	KernelBroadcastVecMult

	// KernelVectorMultAccum is the target's fused vector dot-product
	// accumulate: out[1,1] += lhs[1,k].rhs[k,1] over one vector register
	// pair.
	KernelVectorMultAccum

	// KernelAdd is a scalar accumulate: out += in.
	KernelAdd

	// KernelMemsetZero zero-fills a contiguous region with a memset.
	KernelMemsetZero

	// KernelVectorZero zero-fills one vector register.
	KernelVectorZero

	// KernelValueAssign copies a single scalar between levels.
	KernelValueAssign

	// KernelVectorAssign copies one aligned vector register's worth of data.
	KernelVectorAssign

	// KernelCacheAccess reads or writes a contiguous run through the cache
	// without changing its layout.
	KernelCacheAccess

	// KernelPadTranspack relocates a tensor while padding and repacking it
	// into the strip-packed layout.
	KernelPadTranspack
)

func (k KernelKind) String() string {
	switch k {
	case KernelMult:
		return "Mult"
	case KernelBroadcastVecMult:
		return "BroadcastVecMult"
	case KernelVectorMultAccum:
		return "VectorMultAccum"
	case KernelAdd:
		return "Add"
	case KernelMemsetZero:
		return "MemsetZero"
	case KernelVectorZero:
		return "VectorZero"
	case KernelValueAssign:
		return "ValueAssign"
	case KernelVectorAssign:
		return "VectorAssign"
	case KernelCacheAccess:
		return "CacheAccess"
	case KernelPadTranspack:
		return "PadTranspack"
	}
	return fmt.Sprintf("KernelKind(%d)", uint8(k))
}

// Kernel is a terminal node: a childless applied Impl performing exactly the
// work its Spec describes, as one target primitive.
type Kernel struct {
	kind KernelKind
	spec specs.Spec
}

// Kind returns the terminal primitive this node lowers to.
func (k Kernel) Kind() KernelKind { return k.kind }

func (k Kernel) Spec() specs.Spec { return k.spec }

func (k Kernel) Children() []Impl { return nil }

func (k Kernel) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return k
}

func (k Kernel) IsScheduled() bool { return true }

func (k Kernel) String() string {
	return fmt.Sprintf("%s %s", k.kind, k.spec)
}

// KernelApplies reports whether the terminal's fixed contract exactly
// matches the Spec: required operand shapes, dtypes, layouts and memory
// levels. Terminals are proposed as actions only when this holds.
func KernelApplies(kind KernelKind, s specs.Spec) bool {
	switch kind {
	case KernelMult:
		mm, ok := s.(specs.Matmul)
		return ok && mm.Accum && allScalarRegisters(mm.Operands())

	case KernelBroadcastVecMult:
		mm, ok := s.(specs.Matmul)
		if !ok || !mm.Accum || mm.M() != 1 || mm.K() != 1 {
			return false
		}
		return isScalarRegister(mm.LHS) && isWholeVector(mm.RHS) && isWholeVector(mm.Out)

	case KernelVectorMultAccum:
		mm, ok := s.(specs.Matmul)
		if !ok || !mm.Accum || mm.M() != 1 || mm.N() != 1 {
			return false
		}
		return isWholeVector(mm.LHS) && isWholeVector(mm.RHS) && isScalarRegister(mm.Out)

	case KernelAdd:
		rs, ok := s.(specs.ReduceSum)
		return ok && rs.Accum && allScalarRegisters(rs.Operands())

	case KernelMemsetZero:
		z, ok := s.(specs.Zero)
		return ok && !z.Dst.Level.VectorRF() && z.Dst.Contiguous

	case KernelVectorZero:
		z, ok := s.(specs.Zero)
		return ok && isWholeVector(z.Dst)

	case KernelValueAssign:
		src, dst, ok := moveEndpoints(s)
		return ok && src.Volume() == 1 && !src.Level.VectorRF() && !dst.Level.VectorRF()

	case KernelVectorAssign:
		src, dst, ok := moveEndpoints(s)
		if !ok || !src.Aligned || !dst.Aligned {
			return false
		}
		return (isWholeVector(src) || isWholeVector(dst)) && src.Volume() == dst.Volume()

	case KernelCacheAccess:
		src, dst, ok := moveEndpoints(s)
		return ok && !src.Level.VectorRF() && !dst.Level.VectorRF() &&
			src.Layout == dst.Layout && src.Contiguous && dst.Contiguous

	case KernelPadTranspack:
		src, dst, ok := moveEndpoints(s)
		return ok && !src.Level.VectorRF() && !dst.Level.VectorRF() &&
			src.Layout != specs.Packed && dst.Layout == specs.Packed && dst.Contiguous
	}
	exceptions.Panicf("impls: unknown kernel kind %d", uint8(kind))
	return false
}

func moveEndpoints(s specs.Spec) (src, dst specs.TensorSpec, ok bool) {
	switch m := s.(type) {
	case specs.Load:
		return m.Src, m.Dst, true
	case specs.Store:
		return m.Src, m.Dst, true
	}
	return src, dst, false
}

func isScalarRegister(ts specs.TensorSpec) bool {
	return ts.Level.IsRegister() && !ts.Level.VectorRF() && ts.Volume() == 1
}

// isWholeVector reports whether the operand is exactly one vector register.
func isWholeVector(ts specs.TensorSpec) bool {
	if !ts.Level.VectorRF() || ts.VectorShape == nil {
		return false
	}
	for i, v := range ts.VectorShape {
		if ts.Shape[i] != v {
			return false
		}
	}
	return true
}

func allScalarRegisters(operands []specs.TensorSpec) bool {
	for _, op := range operands {
		if !isScalarRegister(op) {
			return false
		}
	}
	return true
}

// placeActions returns a PlaceAction for each candidate kernel whose
// contract matches the Spec.
func placeActions(s specs.Spec, candidates ...KernelKind) []Action {
	var acts []Action
	for _, kind := range candidates {
		if KernelApplies(kind, s) {
			acts = append(acts, PlaceAction{Kind: kind})
		}
	}
	return acts
}
