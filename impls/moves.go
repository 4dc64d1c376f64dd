// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"

	"github.com/gomlx/tensorsched/types/specs"
)

// MoveLet binds one operand of its Spec to a buffer at a different memory
// level and/or layout: an optional prologue fills the buffer, the body
// computes the original Spec with the operand swapped for the buffer, and an
// optional epilogue writes an output buffer back. The move node only
// relocates data; all arithmetic happens in the body.
type MoveLet struct {
	spec    specs.Spec
	operand int
	source  specs.TensorSpec
	dest    specs.TensorSpec

	// prologue loads source into dest; nil when the operand is a write-only
	// output. epilogue stores dest back; nil when the operand is an input.
	prologue, body, epilogue Impl

	prefetch bool
}

func (m *MoveLet) Spec() specs.Spec { return m.spec }

// Operand returns the index of the moved operand within Spec().Operands().
func (m *MoveLet) Operand() int { return m.operand }

// Source returns the operand's original residency, Destination the buffer's.
func (m *MoveLet) Source() specs.TensorSpec      { return m.source }
func (m *MoveLet) Destination() specs.TensorSpec { return m.dest }

// Prefetch reports whether the prologue may overlap preceding compute.
func (m *MoveLet) Prefetch() bool { return m.prefetch }

// Body returns the computation over the moved operand.
func (m *MoveLet) Body() Impl { return m.body }

// Prologue returns the load filling the buffer, or nil for a write-only
// output move. Epilogue returns the store writing an output buffer back, or
// nil for an input move.
func (m *MoveLet) Prologue() Impl { return m.prologue }
func (m *MoveLet) Epilogue() Impl { return m.epilogue }

func (m *MoveLet) Children() []Impl {
	children := make([]Impl, 0, 3)
	if m.prologue != nil {
		children = append(children, m.prologue)
	}
	children = append(children, m.body)
	if m.epilogue != nil {
		children = append(children, m.epilogue)
	}
	return children
}

func (m *MoveLet) ReplaceChildren(children []Impl) Impl {
	clone := *m
	want := 1
	if m.prologue != nil {
		want++
	}
	if m.epilogue != nil {
		want++
	}
	checkChildCount(children, want)
	i := 0
	if m.prologue != nil {
		clone.prologue = children[i]
		i++
	}
	clone.body = children[i]
	i++
	if m.epilogue != nil {
		clone.epilogue = children[i]
	}
	return &clone
}

func (m *MoveLet) IsScheduled() bool {
	for _, child := range m.Children() {
		if !child.IsScheduled() {
			return false
		}
	}
	return true
}

func (m *MoveLet) String() string {
	pf := ""
	if m.prefetch {
		pf = ", prefetch"
	}
	return fmt.Sprintf("MoveLet(op%d %s -> %s%s)", m.operand, m.source, m.dest, pf)
}

// LoadHole is the unresolved form of a Load spec: data movement toward
// compute, still to be lowered to tiles and assignment terminals.
type LoadHole struct {
	spec specs.Load
}

func (h LoadHole) Spec() specs.Spec { return h.spec }
func (h LoadHole) Children() []Impl { return nil }
func (h LoadHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h LoadHole) IsScheduled() bool { return false }
func (h LoadHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

// Actions on a movement hole are tilings plus the assignment terminals.
// Inserting further moves inside a move is never proposed.
func (h LoadHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	return append(acts, placeActions(h.spec,
		KernelValueAssign, KernelVectorAssign, KernelCacheAccess, KernelPadTranspack)...)
}

// StoreHole is the unresolved form of a Store spec: data movement away from
// compute.
type StoreHole struct {
	spec specs.Store
}

func (h StoreHole) Spec() specs.Spec { return h.spec }
func (h StoreHole) Children() []Impl { return nil }
func (h StoreHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h StoreHole) IsScheduled() bool { return false }
func (h StoreHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

func (h StoreHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	return append(acts, placeActions(h.spec,
		KernelValueAssign, KernelVectorAssign, KernelCacheAccess, KernelPadTranspack)...)
}
