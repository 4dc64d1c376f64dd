// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package specs

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/tensorsched/target"
)

// Compose chains computation stages without materializing intermediates in
// full: Stages[0] is the head (produces the final output) and each stage's
// first input is fed by the output of the following stage. The last stage
// consumes only external inputs.
//
// Operand order: the head's non-intermediate inputs first, then each deeper
// stage's non-intermediate inputs, then the last stage's inputs, and finally
// the head's output.
type Compose struct {
	Stages []Spec
}

// MakeCompose builds a validated Compose spec. At least two stages are
// required, every stage must be a Matmul, Conv or ReduceSum, and each
// stage's first input must match the following stage's output in shape and
// dtype.
func MakeCompose(stages ...Spec) Compose {
	if len(stages) < 2 {
		exceptions.Panicf("specs: Compose requires at least 2 stages, got %d", len(stages))
	}
	for _, st := range stages {
		switch st.(type) {
		case Matmul, Conv, ReduceSum:
		default:
			exceptions.Panicf("specs: Compose stages must be Matmul, Conv or ReduceSum, got %s", st)
		}
	}
	for i := 0; i+1 < len(stages); i++ {
		consumer := stages[i].Inputs()[0]
		producer := stages[i+1].Output()
		if consumer.DType != producer.DType || !slices.Equal(consumer.Shape, producer.Shape) {
			exceptions.Panicf("specs: Compose stage %d consumes %s but stage %d produces %s",
				i, consumer, i+1, producer)
		}
	}
	return Compose{Stages: slices.Clone(stages)}
}

// Head returns the outermost stage.
func (s Compose) Head() Spec { return s.Stages[0] }

// operandRef locates flattened operand i as (stage index, operand index
// within that stage). The flattened output maps to the head's output.
func (s Compose) operandRef(i int) (stage, op int) {
	n := 0
	last := len(s.Stages) - 1
	for si, st := range s.Stages {
		ins := st.Inputs()
		start := 1 // skip the intermediate-fed first input
		if si == last {
			start = 0
		}
		for oi := start; oi < len(ins); oi++ {
			if n == i {
				return si, oi
			}
			n++
		}
	}
	if n == i {
		return 0, s.Stages[0].OutputIdx()
	}
	exceptions.Panicf("specs: Compose has %d operands, no operand %d", n+1, i)
	return 0, 0
}

func (s Compose) Inputs() []TensorSpec {
	var ins []TensorSpec
	last := len(s.Stages) - 1
	for si, st := range s.Stages {
		stageIns := st.Inputs()
		if si < last {
			stageIns = stageIns[1:]
		}
		ins = append(ins, stageIns...)
	}
	return ins
}

func (s Compose) Operands() []TensorSpec {
	return append(s.Inputs(), s.Output())
}

func (s Compose) Output() TensorSpec { return s.Stages[0].Output() }

func (s Compose) OutputIdx() int { return len(s.Inputs()) }

func (s Compose) Equal(other Spec) bool {
	o, ok := other.(Compose)
	if !ok || len(s.Stages) != len(o.Stages) {
		return false
	}
	for i := range s.Stages {
		if !s.Stages[i].Equal(o.Stages[i]) {
			return false
		}
	}
	return true
}

func (s Compose) IsValidTileOut(outTile []int) bool {
	tile := outTile
	for _, st := range s.Stages {
		if !st.IsValidTileOut(tile) {
			return false
		}
		// The next stage must produce the tile this stage's first input
		// consumes.
		tile = st.TileOut(tile).Inputs()[0].Shape
	}
	return true
}

// TileOut threads the output tile through the stage chain: the head is tiled
// to outTile, and each deeper stage is tiled to produce exactly the
// intermediate tile its consumer reads.
func (s Compose) TileOut(outTile []int) Spec {
	if !s.IsValidTileOut(outTile) {
		exceptions.Panicf("specs: invalid Compose output tile %v for %s", outTile, s)
	}
	tiled := make([]Spec, len(s.Stages))
	tile := outTile
	for i, st := range s.Stages {
		tiled[i] = st.TileOut(tile)
		tile = tiled[i].Inputs()[0].Shape
	}
	return Compose{Stages: tiled}
}

// HeadSplittable reports whether the head stage supports being split off
// into a pipeline stage of its own. Matmul and Conv heads can: their first
// input is a plain tileable operand. A ReduceSum head cannot, since its
// input tile depends on the reduction extent, which the producing stage
// cannot surface incrementally.
func (s Compose) HeadSplittable() bool {
	switch s.Head().(type) {
	case Matmul, Conv:
		return true
	}
	return false
}

// PeelHead splits the head stage off, materializing the intermediate as a
// buffer with the given residency. It returns the Spec producing the
// intermediate (the remaining stages), the head Spec now reading the buffer,
// and the buffer's TensorSpec. It panics unless HeadSplittable.
func (s Compose) PeelHead(level target.Level, layout Layout, vectorShape []int) (rest, head Spec, intermediate TensorSpec) {
	if !s.HeadSplittable() {
		exceptions.Panicf("specs: head stage of %s does not support splitting", s)
	}
	orig := s.Head().Inputs()[0]
	intermediate = orig.MovedTo(level, layout, vectorShape)
	head = s.Head().ReplaceOperand(0, intermediate)
	if len(s.Stages) == 2 {
		tail := s.Stages[1]
		rest = tail.ReplaceOperand(tail.OutputIdx(), intermediate)
	} else {
		tail := MakeCompose(s.Stages[1:]...)
		newHead := tail.Stages[0]
		tail.Stages[0] = newHead.ReplaceOperand(newHead.OutputIdx(), intermediate)
		rest = tail
	}
	return rest, head, intermediate
}

func (s Compose) ReplaceOperand(i int, ts TensorSpec) Spec {
	si, oi := s.operandRef(i)
	stages := slices.Clone(s.Stages)
	stages[si] = stages[si].ReplaceOperand(oi, ts)
	return Compose{Stages: stages}
}

func (s Compose) String() string {
	var sb strings.Builder
	sb.WriteString("Compose[")
	for i, st := range s.Stages {
		if i > 0 {
			sb.WriteString(" . ")
		}
		fmt.Fprintf(&sb, "%s", st)
	}
	sb.WriteByte(']')
	return sb.String()
}
