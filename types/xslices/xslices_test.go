// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"flag"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProduct(t *testing.T) {
	require.Equal(t, 1, Product([]int{}))
	require.Equal(t, 24, Product([]int{2, 3, 4}))
}

func TestRepeat(t *testing.T) {
	require.Equal(t, []int{1, 1, 1}, Repeat(1, 3))
	require.Empty(t, Repeat(0, 0))
}

func TestMap(t *testing.T) {
	doubled := Map([]int{1, 2, 3}, func(v int) int { return 2 * v })
	require.Equal(t, []int{2, 4, 6}, doubled)
}

func TestMax(t *testing.T) {
	require.Equal(t, 7, Max([]int{3, 7, 2}))
}

func TestFlag(t *testing.T) {
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	shape := Flag(fs, "shape", []int{16, 16}, "tensor shape")
	require.NoError(t, fs.Parse([]string{"-shape=128,64,32"}))
	require.Equal(t, []int{128, 64, 32}, *shape)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	shape = Flag(fs, "shape", []int{16, 16}, "tensor shape")
	require.NoError(t, fs.Parse(nil))
	require.Equal(t, []int{16, 16}, *shape)

	fs = flag.NewFlagSet("test", flag.ContinueOnError)
	_ = Flag[int](fs, "shape", nil, "tensor shape")
	require.Error(t, fs.Parse([]string{"-shape=12,x"}))
}
