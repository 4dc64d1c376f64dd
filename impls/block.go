// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"fmt"
	"slices"

	"github.com/gomlx/tensorsched/types/specs"
)

// Block is an ordered sequence of sibling Impls executed one after another
// with no implied parallelism. The effects of a Block are the effects of its
// children in listed order; the order is fixed at construction. Blocks stitch
// peeled main/remainder loops and zero-then-accumulate prologues.
type Block struct {
	spec     specs.Spec
	children []Impl
}

// MakeBlock builds a Block computing spec through the given children in
// order.
func MakeBlock(spec specs.Spec, children ...Impl) *Block {
	return &Block{spec: spec, children: slices.Clone(children)}
}

func (b *Block) Spec() specs.Spec { return b.spec }

func (b *Block) Children() []Impl { return slices.Clone(b.children) }

func (b *Block) ReplaceChildren(children []Impl) Impl {
	checkChildCount(children, len(b.children))
	return &Block{spec: b.spec, children: slices.Clone(children)}
}

func (b *Block) IsScheduled() bool {
	for _, child := range b.children {
		if !child.IsScheduled() {
			return false
		}
	}
	return true
}

func (b *Block) String() string {
	return fmt.Sprintf("Block(%d steps)", len(b.children))
}
