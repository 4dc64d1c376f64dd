// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"

	"github.com/gomlx/tensorsched/types/specs"
)

// MatmulHole is the unresolved form of a Matmul spec.
type MatmulHole struct {
	spec specs.Matmul
}

func (h MatmulHole) Spec() specs.Spec { return h.spec }
func (h MatmulHole) Children() []Impl { return nil }
func (h MatmulHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h MatmulHole) IsScheduled() bool { return false }
func (h MatmulHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

func (h MatmulHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	acts = append(acts, moveActions(h.spec, ps, settings)...)
	if !h.spec.Accum {
		// A write-only matmul first becomes zero-fill plus accumulation;
		// kernels and contraction splits live on the accumulating form.
		return append(acts, ToAccumAction{})
	}
	if settings.AllowReduceSplits {
		for _, k := range candidateTileSizes(h.spec.K(), settings.TileSizeMode) {
			if k < h.spec.K() && h.spec.IsValidSplitK(k) {
				acts = append(acts, MatmulSplitAction{K: k})
			}
		}
	}
	return append(acts, placeActions(h.spec,
		KernelMult, KernelBroadcastVecMult, KernelVectorMultAccum)...)
}
