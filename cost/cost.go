// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// Package cost assigns an abstract main cost to fully scheduled rewrite
// trees. The model charges kernels by the cache lines they touch at each
// memory level's hit cost, multiplies loop bodies by their trip counts, and
// sums sequenced siblings; it is a ranking function for search, not a cycle
// count.
package cost

import (
	"github.com/gomlx/exceptions"

	"github.com/gomlx/tensorsched/impls"
	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
)

// MainCost is the abstract cost of executing a scheduled tree once. Lower is
// better; values are only comparable for the same Spec on the same Target.
type MainCost int64

// instCost is the charge for one arithmetic instruction, scalar or vector.
const instCost = 10

// Compute returns the main cost of a fully scheduled tree. It panics when
// the tree still contains holes: partial trees have no defined cost.
func Compute(imp impls.Impl, t target.Target) MainCost {
	if !imp.IsScheduled() {
		exceptions.Panicf("cost: %s is not fully scheduled", imp)
	}
	return nodeCost(imp, t)
}

func nodeCost(imp impls.Impl, t target.Target) MainCost {
	switch node := imp.(type) {
	case impls.Kernel:
		return kernelCost(node, t)

	case *impls.Loop:
		trips := int64(node.TripCount())
		if node.Parallel() {
			trips = ceilDiv(trips, int64(t.Processors()))
		}
		return MainCost(trips) * nodeCost(node.Body(), t)

	case *impls.SlidingWindowLoop:
		// Reuse saves data movement inside the body's moves, not compute;
		// the loop itself costs the same as the plain tiling.
		return MainCost(node.TripCount()) * nodeCost(node.Body(), t)

	case *impls.MoveLet:
		var sum MainCost
		if p := node.Prologue(); p != nil {
			c := nodeCost(p, t)
			if node.Prefetch() {
				// A prefetched prologue overlaps preceding compute.
				c /= 2
			}
			sum += c
		}
		sum += nodeCost(node.Body(), t)
		if e := node.Epilogue(); e != nil {
			sum += nodeCost(e, t)
		}
		return sum

	case *impls.SpatialSplit:
		return nodeCost(node.Body(), t)

	case *impls.Block:
		var sum MainCost
		for _, child := range node.Children() {
			sum += nodeCost(child, t)
		}
		return sum

	case *impls.Pipeline:
		var sum MainCost
		for _, child := range node.Children() {
			sum += nodeCost(child, t)
		}
		return sum
	}
	exceptions.Panicf("cost: no cost rule for node %s", imp)
	return 0
}

// kernelCost charges arithmetic kernels one instruction and data-movement
// kernels by the cache lines they touch.
func kernelCost(k impls.Kernel, t target.Target) MainCost {
	switch k.Kind() {
	case impls.KernelMult, impls.KernelAdd,
		impls.KernelBroadcastVecMult, impls.KernelVectorMultAccum,
		impls.KernelVectorZero:
		return instCost

	case impls.KernelMemsetZero:
		dst := k.Spec().Output()
		return MainCost(lines(dst) * t.HitCost(dst.Level))

	case impls.KernelValueAssign, impls.KernelVectorAssign, impls.KernelCacheAccess:
		src, dst := assignEndpoints(k.Spec())
		return MainCost(lines(src)*t.HitCost(src.Level) + lines(dst)*t.HitCost(dst.Level))

	case impls.KernelPadTranspack:
		// Repacking reads and rewrites each line; charge both directions
		// twice.
		src, dst := assignEndpoints(k.Spec())
		return 2 * MainCost(lines(src)*t.HitCost(src.Level)+lines(dst)*t.HitCost(dst.Level))
	}
	exceptions.Panicf("cost: no cost rule for kernel %s", k)
	return 0
}

func assignEndpoints(s specs.Spec) (src, dst specs.TensorSpec) {
	switch m := s.(type) {
	case specs.Load:
		return m.Src, m.Dst
	case specs.Store:
		return m.Src, m.Dst
	}
	exceptions.Panicf("cost: %s is not a data-movement spec", s)
	return src, dst
}

// lines returns the cache lines an access to the tensor touches. Accesses to
// non-contiguous data are charged one line per fragment boundary, modeled as
// a doubling.
func lines(ts specs.TensorSpec) int64 {
	n := ceilDiv(ts.MemoryBytes(), target.LineBytes)
	if !ts.Contiguous {
		n *= 2
	}
	return n
}

func ceilDiv(a, b int64) int64 {
	return (a + b - 1) / b
}
