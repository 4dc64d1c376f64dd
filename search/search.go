// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// Package search drives the rewrite engine: starting from a Spec wrapped in a
// hole, it explores the action space depth-first and returns the cheapest
// fully scheduled tree it finds.
//
// The engine itself is pure; all search state (the expansion budget, the
// incumbent best schedule, the worker pool) lives here. Sibling branches
// share their parent tree structurally, so exploring them concurrently needs
// no copying and no locks beyond the incumbent.
package search

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/gomlx/tensorsched/cost"
	"github.com/gomlx/tensorsched/impls"
	"github.com/gomlx/tensorsched/internal/workerspool"
	"github.com/gomlx/tensorsched/types/specs"
)

// ErrNoSchedule is returned when the explored space contained no complete
// schedule, either because the budget ran out or because every branch dead
// ends under the given settings.
var ErrNoSchedule = errors.New("no complete schedule found")

// DefaultMaxExpansions bounds how many holes one Schedule call expands when
// Options does not say otherwise.
const DefaultMaxExpansions = 1 << 20

// Options configures one Schedule call.
type Options struct {
	// Parallelism caps the worker goroutines exploring sibling branches.
	// Zero selects the number of CPUs; negative runs strictly serial, which
	// additionally makes the returned schedule deterministic.
	Parallelism int

	// MaxExpansions is the hole-expansion budget; zero selects
	// DefaultMaxExpansions. When the budget runs out the best schedule found
	// so far is returned with Exhausted unset.
	MaxExpansions int64

	// Progress, when set, is called periodically with a snapshot of the
	// counters. It may be called from multiple goroutines at once.
	Progress func(Stats)

	// ProgressEvery is the number of expansions between Progress calls;
	// zero selects 4096.
	ProgressEvery int64
}

// Stats are the monotonically growing counters of one Schedule call.
type Stats struct {
	// Expansions is the number of holes whose actions were enumerated.
	Expansions int64

	// Schedules is the number of complete schedules reached.
	Schedules int64
}

// Result is the outcome of a Schedule call.
type Result struct {
	// Best is the cheapest fully scheduled tree found.
	Best impls.Impl

	// Cost is Best's main cost on the settings' target.
	Cost cost.MainCost

	Stats Stats

	// Exhausted reports whether the entire pruned action space was visited.
	// When false the result is the best of a truncated exploration.
	Exhausted bool
}

// Schedule searches for the cheapest implementation of the Spec under the
// given settings. It returns ErrNoSchedule when no branch completed, or the
// context's error when cancelled before any schedule was found.
func Schedule(ctx context.Context, s specs.Spec, settings *impls.Settings, opts Options) (*Result, error) {
	if opts.MaxExpansions == 0 {
		opts.MaxExpansions = DefaultMaxExpansions
	}
	if opts.ProgressEvery == 0 {
		opts.ProgressEvery = 4096
	}
	var pool *workerspool.Pool
	if opts.Parallelism < 0 {
		pool = workerspool.Serial()
	} else {
		pool = workerspool.New(opts.Parallelism)
	}

	sr := &searcher{
		ctx:      ctx,
		settings: settings,
		opts:     opts,
		pool:     pool,
	}
	klog.V(1).Infof("search: scheduling %s on %s, budget %d expansions",
		s, settings.Target.Name(), opts.MaxExpansions)
	sr.dfs(impls.SpecToHole(s))

	result := &Result{
		Best: sr.best,
		Cost: sr.bestCost,
		Stats: Stats{
			Expansions: sr.expansions.Load(),
			Schedules:  sr.schedules.Load(),
		},
		Exhausted: !sr.truncated.Load() && ctx.Err() == nil,
	}
	klog.V(1).Infof("search: done, %d expansions, %d schedules, exhausted=%v",
		result.Stats.Expansions, result.Stats.Schedules, result.Exhausted)
	if sr.best == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, errors.Wrapf(ErrNoSchedule, "for %s within %d expansions", s, opts.MaxExpansions)
	}
	return result, nil
}

type searcher struct {
	ctx      context.Context
	settings *impls.Settings
	opts     Options
	pool     *workerspool.Pool

	expansions atomic.Int64
	schedules  atomic.Int64
	truncated  atomic.Bool

	mu       sync.Mutex
	best     impls.Impl
	bestCost cost.MainCost
}

func (sr *searcher) dfs(tree impls.Impl) {
	if sr.ctx.Err() != nil {
		return
	}
	hole, ps, ok := impls.NextHole(tree, nil)
	if !ok {
		sr.offer(tree)
		return
	}
	if n := sr.expansions.Add(1); n > sr.opts.MaxExpansions {
		sr.truncated.Store(true)
		return
	} else if sr.opts.Progress != nil && n%sr.opts.ProgressEvery == 0 {
		sr.opts.Progress(Stats{Expansions: n, Schedules: sr.schedules.Load()})
	}

	var wg sync.WaitGroup
	for _, act := range hole.Actions(ps, sr.settings) {
		child, err := act.Apply(hole)
		if err != nil {
			// Proposed actions must apply; a failure here is an engine bug,
			// but one branch is not worth aborting the search over.
			klog.Errorf("search: proposed action %s failed on %s: %v", act, hole, err)
			continue
		}
		next, _ := impls.ReplaceLeftmostHole(tree, child)
		wg.Add(1)
		task := func() {
			defer wg.Done()
			sr.dfs(next)
		}
		if !sr.pool.StartIfAvailable(task) {
			task()
		}
	}
	wg.Wait()
}

// offer records a complete schedule, keeping the cheaper of it and the
// incumbent. Ties keep the incumbent, so a serial search is deterministic.
func (sr *searcher) offer(tree impls.Impl) {
	c := cost.Compute(tree, sr.settings.Target)
	sr.schedules.Add(1)
	sr.mu.Lock()
	defer sr.mu.Unlock()
	if sr.best == nil || c < sr.bestCost {
		sr.best, sr.bestCost = tree, c
		if klog.V(2).Enabled() {
			klog.Infof("search: new best cost %d:\n%s", c, impls.Sprint(tree))
		}
	}
}
