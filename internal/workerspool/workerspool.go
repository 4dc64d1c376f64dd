// Copyright 2024-2026 The TensorSched Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool bounds the goroutines a recursive search fans out to.
//
// The search tree has far more branch points than the machine has cores, so
// branches run in a fresh goroutine only while the pool has capacity and
// inline otherwise. The pool is a soft limit on parallel work, not a queue:
// nothing is buffered, and a task denied a worker is simply run by its
// caller.
package workerspool

import (
	"runtime"
	"sync"
)

// Pool is a soft cap on concurrently running tasks.
type Pool struct {
	mu   sync.Mutex
	cond sync.Cond

	// maxParallelism of 0 disables spawning entirely; negative means
	// unlimited.
	maxParallelism int
	numRunning     int
}

// New returns a Pool capped at the given parallelism. Zero selects
// runtime.NumCPU().
func New(maxParallelism int) *Pool {
	if maxParallelism == 0 {
		maxParallelism = runtime.NumCPU()
	}
	p := &Pool{maxParallelism: maxParallelism}
	p.cond.L = &p.mu
	return p
}

// Serial returns a Pool that never spawns: every task runs inline in its
// caller. Useful for deterministic runs.
func Serial() *Pool {
	p := &Pool{maxParallelism: 0}
	p.cond.L = &p.mu
	return p
}

// StartIfAvailable runs the task in its own goroutine if a worker is free,
// reporting whether it did. When it returns false the caller is expected to
// run the task itself. Completion is the caller's to track, typically with a
// sync.WaitGroup around the task.
func (p *Pool) StartIfAvailable(task func()) bool {
	if p.maxParallelism < 0 {
		p.start(task)
		return true
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxParallelism == 0 || p.numRunning >= p.maxParallelism {
		return false
	}
	p.numRunning++
	p.start(task)
	return true
}

// WaitToStart blocks until a worker is free, then runs the task in its own
// goroutine. With spawning disabled the task runs inline instead.
func (p *Pool) WaitToStart(task func()) {
	if p.maxParallelism < 0 {
		p.start(task)
		return
	}
	if p.maxParallelism == 0 {
		task()
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.numRunning >= p.maxParallelism {
		p.cond.Wait()
	}
	p.numRunning++
	p.start(task)
}

func (p *Pool) start(task func()) {
	go func() {
		defer func() {
			if p.maxParallelism > 0 {
				p.mu.Lock()
				p.numRunning--
				p.cond.Signal()
				p.mu.Unlock()
			}
		}()
		task()
	}()
}
