// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"

	"github.com/gomlx/tensorsched/types/specs"
)

// ZeroHole is the unresolved form of a Zero spec.
type ZeroHole struct {
	spec specs.Zero
}

func (h ZeroHole) Spec() specs.Spec { return h.spec }
func (h ZeroHole) Children() []Impl { return nil }
func (h ZeroHole) ReplaceChildren(children []Impl) Impl {
	checkNoChildren(children)
	return h
}
func (h ZeroHole) IsScheduled() bool { return false }
func (h ZeroHole) String() string    { return fmt.Sprintf("?%s", h.spec) }

func (h ZeroHole) Actions(ps *ParentSummary, settings *Settings) []Action {
	acts := tileOutActions(h.spec, ps, settings)
	acts = append(acts, moveActions(h.spec, ps, settings)...)
	return append(acts, placeActions(h.spec, KernelMemsetZero, KernelVectorZero)...)
}
