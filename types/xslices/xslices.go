// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices complements the standard slices package with the small
// generic helpers the scheduler uses for shape arithmetic and flag parsing.
package xslices

import (
	"flag"
	"fmt"
	"strings"

	"golang.org/x/exp/constraints"
)

// Product multiplies the elements together; the product of an empty slice
// is 1, matching the volume of a rank-0 iteration space.
func Product[T constraints.Integer](slice []T) T {
	p := T(1)
	for _, v := range slice {
		p *= v
	}
	return p
}

// Repeat returns a new slice of n copies of value.
func Repeat[T any](value T, n int) []T {
	out := make([]T, n)
	for i := range out {
		out[i] = value
	}
	return out
}

// Map applies fn to every element, returning the results.
func Map[In, Out any](in []In, fn func(e In) Out) []Out {
	out := make([]Out, len(in))
	for i, e := range in {
		out[i] = fn(e)
	}
	return out
}

// Max returns the largest element. It panics on an empty slice.
func Max[T constraints.Ordered](slice []T) T {
	m := slice[0]
	for _, v := range slice[1:] {
		if v > m {
			m = v
		}
	}
	return m
}

// Flag registers a comma-separated list flag, e.g. "-shape=128,128,128",
// parsed with fmt.Sscanf per element.
func Flag[T any](fs *flag.FlagSet, name string, defaultValue []T, usage string) *[]T {
	f := &listFlag[T]{values: defaultValue}
	fs.Var(f, name, usage)
	return &f.values
}

type listFlag[T any] struct {
	values []T
}

func (f *listFlag[T]) String() string {
	parts := Map(f.values, func(v T) string { return fmt.Sprintf("%v", v) })
	return strings.Join(parts, ",")
}

func (f *listFlag[T]) Set(listStr string) error {
	f.values = nil
	if listStr == "" {
		return nil
	}
	for _, part := range strings.Split(listStr, ",") {
		var v T
		if _, err := fmt.Sscanf(strings.TrimSpace(part), "%v", &v); err != nil {
			return fmt.Errorf("cannot parse %q as list element: %w", part, err)
		}
		f.values = append(f.values, v)
	}
	return nil
}
