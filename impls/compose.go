// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"

	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
)

// ComposeHole is the unresolved form of a Compose spec: an ordered list of
// stage Specs whose intermediates are not yet materialized.
type ComposeHole struct {
	spec specs.Compose
}

func (h ComposeHole) Spec() specs.Spec { return h.spec }
func (h ComposeHole) Children() []Impl { return nil }
func (h ComposeHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h ComposeHole) IsScheduled() bool { return false }
func (h ComposeHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

func (h ComposeHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	acts = append(acts, moveActions(h.spec, ps, settings)...)
	if !h.spec.HeadSplittable() {
		return acts
	}
	// Propose materializing the head's intermediate at every residency it
	// fits in; deeper splits recurse through the produced stages.
	inter := h.spec.Head().Inputs()[0]
	for _, level := range target.Levels() {
		for _, layout := range specs.MoveDestinationLayouts(inter.Shape) {
			for _, vectorShape := range vectorShapeCandidates(inter, level, settings.Target) {
				if !inter.CanMoveTo(settings.Target, level, layout, vectorShape) {
					continue
				}
				acts = append(acts, SplitComposeAction{
					Level:       level,
					Layout:      layout,
					VectorShape: vectorShape,
				})
			}
		}
	}
	return acts
}

// SplitComposeAction splits a composed hole at its head stage, materializing
// the head's intermediate input as a buffer with the given residency and
// producing a two-stage Pipeline: the remaining stages writing the buffer,
// then the head reading it.
type SplitComposeAction struct {
	Level       target.Level
	Layout      specs.Layout
	VectorShape []int
}

func (a SplitComposeAction) Apply(h Hole) (Impl, error) {
	ch, ok := h.(ComposeHole)
	if !ok {
		return nil, oodErrorf("compose split targets compose holes, not %s", h.Spec())
	}
	if !ch.spec.HeadSplittable() {
		return nil, errors.Wrapf(ErrSplitNotSupportedByHead,
			"head stage %s of %s", ch.spec.Head(), ch.spec)
	}
	inter := ch.spec.Head().Inputs()[0]
	if !a.Layout.AppliesTo(inter.Shape) {
		return nil, oodErrorf("layout %s does not apply to intermediate %s", a.Layout, inter)
	}
	if a.Level.VectorRF() != (a.VectorShape != nil) {
		return nil, oodErrorf("vector shape must be given iff level %s is a vector register file", a.Level)
	}
	rest, head, buf := ch.spec.PeelHead(a.Level, a.Layout, a.VectorShape)
	return &Pipeline{
		spec:         ch.spec,
		intermediate: buf,
		stages:       []Impl{SpecToHole(rest), SpecToHole(head)},
	}, nil
}

func (a SplitComposeAction) String() string {
	s := fmt.Sprintf("SplitCompose(intermediate -> %s/%s", a.Level, a.Layout)
	if a.VectorShape != nil {
		s += fmt.Sprintf(", v%v", a.VectorShape)
	}
	return s + ")"
}

// Pipeline is a fused multi-stage composition: each stage feeds the next
// through a materialized intermediate buffer that never holds more than one
// stage's output at a time. Stages execute in listed order, producers first.
type Pipeline struct {
	spec         specs.Compose
	intermediate specs.TensorSpec
	stages       []Impl
}

func (p *Pipeline) Spec() specs.Spec { return p.spec }

func (p *Pipeline) Children() []Impl { return slices.Clone(p.stages) }

func (p *Pipeline) ReplaceChildren(children []Impl) Impl {
	checkChildCount(children, len(p.stages))
	return &Pipeline{spec: p.spec, intermediate: p.intermediate, stages: slices.Clone(children)}
}

func (p *Pipeline) IsScheduled() bool {
	for _, stage := range p.stages {
		if !stage.IsScheduled() {
			return false
		}
	}
	return true
}

// Intermediate returns the buffer the stages communicate through.
func (p *Pipeline) Intermediate() specs.TensorSpec { return p.intermediate }

func (p *Pipeline) String() string {
	return fmt.Sprintf("Pipeline(%d stages via %s)", len(p.stages), p.intermediate)
}
