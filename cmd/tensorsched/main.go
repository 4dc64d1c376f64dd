// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// tensorsched searches for the cheapest schedule of one tensor computation
// and prints the resulting loop nest.
//
// Examples:
//
//	tensorsched -spec=matmul -shape=128,128,128
//	tensorsched -spec=conv -shape=1,4,10,10,8,4,3,3 -tile_mode=any_divisor
//	tensorsched -spec=reduce -shape=64,256 -target=avx512 -budget=500000
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/charmbracelet/lipgloss"
	lgtable "github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/janpfeifer/must"
	"github.com/schollz/progressbar/v3"
	"k8s.io/klog/v2"

	"github.com/gomlx/tensorsched/impls"
	"github.com/gomlx/tensorsched/search"
	"github.com/gomlx/tensorsched/target"
	"github.com/gomlx/tensorsched/types/xslices"
)

var (
	flagSpec = flag.String("spec", "matmul", "Computation to schedule: 'matmul' (-shape=m,k,n), "+
		"'conv' (-shape=b,c,h,w,f,fh,fw), 'reduce' (-shape=d1,...,dn,r) or 'zero' (-shape=d1,...,dn).")
	flagShape = xslices.Flag(flag.CommandLine, "shape", []int{128, 128, 128},
		"Comma-separated extents; their meaning depends on -spec.")
	flagDType  = flag.String("dtype", "float32", "Element type of every operand.")
	flagTarget = flag.String("target", "avx2", "Target to schedule for: 'avx2' or 'avx512'.")

	flagTileMode = flag.String("tile_mode", impls.TileSizeModePowersOfTwo.String(),
		fmt.Sprintf("Tile size discretization, one of %v.", impls.TileSizeModeStrings()))
	flagNoSliding      = flag.Bool("no_sliding", false, "Disable sliding-window tilings.")
	flagNoReduceSplits = flag.Bool("no_reduce_splits", false, "Disable contraction and reduction splits.")
	flagNoPruning      = flag.Bool("no_pruning", false, "Disable the symmetry-breaking prunes. "+
		"The search space grows sharply; raise -budget accordingly.")

	flagBudget   = flag.Int64("budget", search.DefaultMaxExpansions, "Hole-expansion budget for the search.")
	flagParallel = flag.Int("parallelism", 0, "Worker goroutines; 0 uses all CPUs, negative runs serial "+
		"(deterministic).")
	flagTimeout = flag.Duration("timeout", 0, "Abort the search after this long; 0 means no timeout.")
	flagQuiet   = flag.Bool("quiet", false, "Suppress the progress bar.")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Padding(1, 4, 0, 4)
	oddRowStyle  = lipgloss.NewStyle().Faint(false).PaddingLeft(1).PaddingRight(1)
	evenRowStyle = lipgloss.NewStyle().Faint(true).PaddingLeft(1).PaddingRight(1)
)

func newPlainTable() *lgtable.Table {
	return lgtable.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("99"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			s := oddRowStyle
			if row%2 == 1 {
				s = evenRowStyle
			}
			if col == 0 {
				s = s.Align(lipgloss.Right)
			}
			return s
		})
}

func main() {
	klog.InitFlags(nil)
	flag.Parse()
	if flag.NArg() > 0 {
		klog.Errorf("Unexpected arguments %v. See 'tensorsched -help'.", flag.Args())
		os.Exit(1)
	}

	tgt := pickTarget(*flagTarget)
	spec := specFromFlags()
	settings := settingsFromFlags(tgt)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if *flagTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *flagTimeout)
		defer cancel()
	}

	opts := search.Options{
		Parallelism:   *flagParallel,
		MaxExpansions: *flagBudget,
	}
	var bar *progressbar.ProgressBar
	if !*flagQuiet {
		bar = progressbar.NewOptions64(*flagBudget,
			progressbar.OptionSetDescription("searching"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionThrottle(100*time.Millisecond),
		)
		opts.Progress = func(st search.Stats) {
			_ = bar.Set64(st.Expansions)
		}
	}

	start := time.Now()
	result, err := search.Schedule(ctx, spec, settings, opts)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		klog.Errorf("Search failed: %+v", err)
		os.Exit(1)
	}
	elapsed := time.Since(start)

	fmt.Println(titleStyle.Render("Search"))
	table := newPlainTable()
	table.Row("spec", spec.String())
	table.Row("target", tgt.Name())
	table.Row("tile mode", settings.TileSizeMode.String())
	table.Row("expansions", humanize.Comma(result.Stats.Expansions))
	table.Row("schedules", humanize.Comma(result.Stats.Schedules))
	table.Row("exhausted", fmt.Sprintf("%v", result.Exhausted))
	table.Row("elapsed", elapsed.Round(time.Millisecond).String())
	table.Row("best cost", humanize.Comma(int64(result.Cost)))
	fmt.Println(table.Render())

	fmt.Println(titleStyle.Render("Best schedule"))
	fmt.Print(impls.Sprint(result.Best))
}

func pickTarget(name string) target.Target {
	switch name {
	case "avx2":
		return target.AVX2()
	case "avx512":
		return target.AVX512()
	}
	klog.Errorf("Unknown -target=%q, pick 'avx2' or 'avx512'.", name)
	os.Exit(1)
	return nil
}

func settingsFromFlags(tgt target.Target) *impls.Settings {
	settings := impls.DefaultSettings(tgt)
	settings.TileSizeMode = must.M1(impls.TileSizeModeString(*flagTileMode))
	settings.AllowSlidingWindows = !*flagNoSliding
	settings.AllowReduceSplits = !*flagNoReduceSplits
	if *flagNoPruning {
		settings.BreakMoveSymmetries = false
		settings.BreakSequentialTiles = false
		settings.PruneRelayoutCycles = false
	}
	return settings
}
