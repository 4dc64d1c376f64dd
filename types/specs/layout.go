// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package specs

import "github.com/gomlx/exceptions"

// Layout describes how a tensor's elements are ordered in memory at its
// current memory level.
type Layout uint8

const (
	// RowMajor lays elements out with the last axis contiguous.
	RowMajor Layout = iota

	// ColumnMajor lays elements out with the first axis contiguous.
	// Only applies to tensors of rank >= 2.
	ColumnMajor

	// Packed is a strip-packed layout produced by PadTranspack moves:
	// the tensor is padded and repacked into vector-width strips.
	// Only applies to tensors of rank >= 2.
	Packed
)

func (l Layout) String() string {
	switch l {
	case RowMajor:
		return "RM"
	case ColumnMajor:
		return "CM"
	case Packed:
		return "PK"
	}
	return "Layout(?)"
}

// AppliesTo reports whether the layout is defined for the given shape.
func (l Layout) AppliesTo(shape []int) bool {
	if len(shape) == 0 {
		return false
	}
	switch l {
	case RowMajor:
		return true
	case ColumnMajor, Packed:
		return len(shape) >= 2
	}
	exceptions.Panicf("specs: unknown layout %d", uint8(l))
	return false
}

// MoveDestinationLayouts returns the layouts a tensor of the given shape may
// be moved into, in deterministic order. Rank-1 (or effectively rank-1)
// tensors only ever use RowMajor.
func MoveDestinationLayouts(shape []int) []Layout {
	degenerate := true
	for _, d := range shape {
		if d > 1 {
			degenerate = false
			break
		}
	}
	if degenerate || len(shape) < 2 {
		return []Layout{RowMajor}
	}
	return []Layout{RowMajor, ColumnMajor, Packed}
}
