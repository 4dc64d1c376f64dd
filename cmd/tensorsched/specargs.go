// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

package main

import (
	"os"

	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"

	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/specs"
)

// specFromFlags builds the Spec selected by -spec/-shape/-dtype, with every
// operand initially resident in DRAM.
func specFromFlags() specs.Spec {
	dtype, err := dtypes.DTypeString(*flagDType)
	if err != nil {
		klog.Errorf("Unknown -dtype=%q: %v.", *flagDType, err)
		os.Exit(1)
	}
	shape := *flagShape
	mk := func(dims ...int) specs.TensorSpec {
		return specs.MakeTensorSpec(dtype, target.GL, specs.RowMajor, dims...)
	}

	switch *flagSpec {
	case "matmul":
		if len(shape) != 3 {
			usage("-spec=matmul wants -shape=m,k,n, got %v", shape)
		}
		m, k, n := shape[0], shape[1], shape[2]
		return specs.MakeMatmul(mk(m, k), mk(k, n), mk(m, n), false)

	case "conv":
		if len(shape) != 7 {
			usage("-spec=conv wants -shape=b,c,h,w,f,fh,fw, got %v", shape)
		}
		b, c, h, w := shape[0], shape[1], shape[2], shape[3]
		f, fh, fw := shape[4], shape[5], shape[6]
		if fh > h || fw > w {
			usage("filter %dx%d does not fit image %dx%d", fh, fw, h, w)
		}
		return specs.MakeConv(mk(b, c, h, w), mk(f, c, fh, fw), mk(b, f, h-fh+1, w-fw+1), false)

	case "reduce":
		if len(shape) < 2 {
			usage("-spec=reduce wants -shape=d1,...,dn,r with at least two extents, got %v", shape)
		}
		return specs.MakeReduceSum(mk(shape...), mk(shape[:len(shape)-1]...), false)

	case "zero":
		if len(shape) == 0 {
			usage("-spec=zero wants a non-empty -shape")
		}
		return specs.Zero{Dst: mk(shape...)}
	}
	usage("Unknown -spec=%q, pick 'matmul', 'conv', 'reduce' or 'zero'.", *flagSpec)
	return nil
}

func usage(format string, args ...any) {
	klog.Errorf(format+" See 'tensorsched -help'.", args...)
	os.Exit(1)
}
