// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"

	"github.com/gomlx/tensorsched/types/specs"
)

// ConvHole is the unresolved form of a Conv spec. Its actions are the
// generic tiling/move/peel families plus the convolution-specific lowering
// to a matmul-like contraction over extracted patches; further refinement of
// the lowered child is left to the generic engine.
type ConvHole struct {
	spec specs.Conv
}

func (h ConvHole) Spec() specs.Spec { return h.spec }
func (h ConvHole) Children() []Impl { return nil }
func (h ConvHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h ConvHole) IsScheduled() bool { return false }
func (h ConvHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

func (h ConvHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	acts = append(acts, moveActions(h.spec, ps, settings)...)
	if !h.spec.Accum {
		return append(acts, ToAccumAction{})
	}
	if h.spec.CanSpatialSplit() {
		acts = append(acts, SpatialSplitAction{})
	}
	return acts
}

// SpatialSplitAction lowers a whole-window accumulating convolution (output
// spatial extents 1x1) into a contraction over the flattened
// channel-and-window axis.
type SpatialSplitAction struct{}

func (a SpatialSplitAction) Apply(h Hole) (Impl, error) {
	ch, ok := h.(ConvHole)
	if !ok {
		return nil, oodErrorf("spatial split targets conv holes, not %s", h.Spec())
	}
	if !ch.spec.CanSpatialSplit() {
		return nil, oodErrorf("spatial split does not apply to %s", ch.spec)
	}
	return &SpatialSplit{
		spec: ch.spec,
		body: SpecToHole(ch.spec.SpatialSplit()),
	}, nil
}

func (a SpatialSplitAction) String() string { return "SpatialSplit" }

// SpatialSplit is the applied node of SpatialSplitAction: it records the
// patch-extraction view so concrete lowering can emit the reindexing, and
// wraps the contraction computing the result.
type SpatialSplit struct {
	spec specs.Conv
	body Impl
}

func (s *SpatialSplit) Spec() specs.Spec { return s.spec }
func (s *SpatialSplit) Children() []Impl { return []Impl{s.body} }
func (s *SpatialSplit) ReplaceChildren(children []Impl) Impl {
	checkChildCount(children, 1)
	clone := *s
	clone.body = children[0]
	return &clone
}
func (s *SpatialSplit) IsScheduled() bool { return s.body.IsScheduled() }

// Body returns the lowered contraction.
func (s *SpatialSplit) Body() Impl { return s.body }

func (s *SpatialSplit) String() string { return "SpatialSplit" }
