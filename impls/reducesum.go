// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"

	"github.com/gomlx/tensorsched/types/specs"
)

// ReduceSumHole is the unresolved form of a ReduceSum spec.
type ReduceSumHole struct {
	spec specs.ReduceSum
}

func (h ReduceSumHole) Spec() specs.Spec { return h.spec }
func (h ReduceSumHole) Children() []Impl { return nil }
func (h ReduceSumHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h ReduceSumHole) IsScheduled() bool { return false }
func (h ReduceSumHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

func (h ReduceSumHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	acts = append(acts, moveActions(h.spec, ps, settings)...)
	if !h.spec.Accum {
		return append(acts, ToAccumAction{})
	}
	if settings.AllowReduceSplits {
		for _, r := range candidateTileSizes(h.spec.R(), settings.TileSizeMode) {
			if r < h.spec.R() && h.spec.IsValidSplitR(r) {
				acts = append(acts, ReduceSplitAction{R: r})
			}
		}
	}
	return append(acts, placeActions(h.spec, KernelAdd)...)
}
