// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package impls

import (
	"github.com/gomlx/tensorsched/target"
)

// TileSizeMode is the discretization policy for legal tile sizes.
//
//go:generate go tool enumer -type=TileSizeMode -trimprefix=TileSizeMode -transform=snake -output=gen_tilesizemode_enumer.go settings.go
type TileSizeMode uint8

const (
	// TileSizeModePowersOfTwo only proposes power-of-two tile sizes that
	// divide the extent.
	TileSizeModePowersOfTwo TileSizeMode = iota

	// TileSizeModeAnyDivisor proposes every divisor of the extent.
	TileSizeModeAnyDivisor

	// TileSizeModeAnyWithRemainder additionally proposes non-dividing sizes,
	// handled by peeling a main loop plus a remainder.
	TileSizeModeAnyWithRemainder
)

// Settings is the process-wide, read-only configuration consulted at every
// action-generation step. It is established once before a search run and
// never mutated during it, so it is safe to share across concurrent search
// branches.
type Settings struct {
	// Target supplies level capacities and vector widths; it is the
	// configuration behind the move-insertion capacity check.
	Target target.Target

	// BreakMoveSymmetries canonicalizes the order in which operands with
	// identical descriptions are moved.
	BreakMoveSymmetries bool

	// BreakSequentialTiles suppresses reordered-equivalent chains of
	// consecutive tilings: a tiling directly under another tiling must not
	// grow any axis of the ancestor tile.
	BreakSequentialTiles bool

	// PruneRelayoutCycles suppresses moving an operand back into a
	// level/layout residency it already had on the current path.
	PruneRelayoutCycles bool

	// TileSizeMode selects the tile-size discretization policy.
	TileSizeMode TileSizeMode

	// AllowSlidingWindows gates the sliding tile-out action family.
	AllowSlidingWindows bool

	// AllowReduceSplits gates the reduction-split action families (matmul
	// contraction splits and ReduceSum splits).
	AllowReduceSplits bool
}

// DefaultSettings returns the settings used unless a caller overrides them:
// all symmetry breaking enabled, power-of-two tiles, all action families on.
func DefaultSettings(t target.Target) *Settings {
	return &Settings{
		Target:               t,
		BreakMoveSymmetries:  true,
		BreakSequentialTiles: true,
		PruneRelayoutCycles:  true,
		TileSizeMode:         TileSizeModePowersOfTwo,
		AllowSlidingWindows:  true,
		AllowReduceSplits:    true,
	}
}
