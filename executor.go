// Copyright 2020-2024 Buf Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package increco

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/hollowtree/increco/dmap"
	"github.com/hollowtree/increco/internal/toposort"
)

// Executor bundles the storage an incremental computation needs — memo
// slots, traces, the reverse-dependency index, and version counters — and
// composes the full transformer stack around a host-supplied base Rules:
//
//	memoise ∘ verifyTraces ∘ trackReverseDependencies ∘ [traceFetch] ∘ versioned ∘ bound(base)
//
// Construct one with [New]; drive computations against it with [RunQuery]
// or [RunExecutor]; discard stale results with
// [Executor.Invalidate] or [Executor.InvalidateGlob].
type Executor struct {
	slots    *Slots
	traces   *Traces
	rev      *RevDeps
	versions *Versions
	sema     *semaphore.Weighted
	rules    Rules

	// dirty serializes Invalidate against Run: Run calls may run
	// concurrently with each other (RLock), but never concurrently with
	// an Invalidate (Lock).
	dirty sync.RWMutex
}

// Option configures an Executor at construction time.
type Option func(*executorConfig)

type executorConfig struct {
	hookBefore, hookAfter func(ErasedKey)
}

// WithTraceHook installs before/after hooks (see [traceFetch]) around
// every rule invocation, for diagnostics. Either hook may be nil.
func WithTraceHook(before, after func(ErasedKey)) Option {
	return func(c *executorConfig) {
		c.hookBefore, c.hookAfter = before, after
	}
}

// New constructs an Executor over base, the host-supplied Rules. base's
// results must be [Writer][TaskKind] values — each rule pairs its real
// result with the [TaskKind] it declares for itself, per spec §4.4's
// "run rules(Writer(key))" step — so that [verifyTraces] knows whether to
// record a trace without a separate classifier callback. fp computes
// dependency fingerprints for the trace verifier. parallelism bounds how
// many rule *steps* (the work a rule does between its suspensions; not
// cache hits, and not requesters blocked on an in-flight slot) may run
// concurrently; zero or negative defaults to GOMAXPROCS.
func New(base Rules, fp Fingerprinter, parallelism int, opts ...Option) *Executor {
	if parallelism <= 0 {
		parallelism = runtime.GOMAXPROCS(0)
	}

	var cfg executorConfig
	for _, opt := range opts {
		opt(&cfg)
	}

	e := &Executor{
		slots:    NewSlots(),
		traces:   NewTraces(),
		rev:      NewRevDeps(),
		versions: NewVersions(),
		sema:     semaphore.NewWeighted(int64(parallelism)),
	}

	bounded := boundParallelism(e.sema, base)
	stack := versioned(e.versions, bounded)
	if cfg.hookBefore != nil || cfg.hookAfter != nil {
		stack = traceFetch(cfg.hookBefore, cfg.hookAfter, stack)
	}
	stack = trackReverseDependencies(e.rev, stack)
	stack = verifyTraces(e.traces, fp, stack)
	stack = memoise(e.slots, stack)

	e.rules = stack
	return e
}

// boundParallelism wraps inner so that each step of a rule's Task — the
// actual work of running it, not a cache hit, not blocking on someone
// else's in-flight slot — holds one of sema's weights while it runs. The
// weight is released at every Fetch or LiftBase, so those suspensions still
// reach the transformers above (and the dependency tracking they do), and a
// rule waiting on a dependency never holds a weight that dependency needs.
// This keeps the Executor's overall CPU-bound concurrency within
// parallelism regardless of how many goroutines are currently blocked
// waiting on memo slots.
func boundParallelism(sema *semaphore.Weighted, inner Rules) Rules {
	var bound func(t Task[any]) Task[any]
	bound = func(t Task[any]) Task[any] {
		return Task[any]{step: func() Result[any] {
			if err := sema.Acquire(context.Background(), 1); err != nil {
				Fail(err)
			}
			defer sema.Release(1)
			r := t.step()
			resume, liftResume := r.resume, r.liftResume
			r.resume = func(v any) Task[any] { return bound(resume(v)) }
			r.liftResume = func(v any) Task[any] { return bound(liftResume(v)) }
			return r
		}}
	}
	return func(key ErasedKey) Task[any] {
		return bound(Task[any]{step: func() Result[any] { return inner(key).step() }})
	}
}

// RunQuery drives a single typed Key[A] to completion against e.
func RunQuery[A any](ctx context.Context, e *Executor, key Key[A]) (A, error) {
	e.dirty.RLock()
	defer e.dirty.RUnlock()
	return Run(ctx, e.rules, Fetch[A](key))
}

// RunExecutor drives rootTask to completion against e's composed Rules,
// for callers building a Task out of more than one key (see
// [ParallelBind], [ResolveAll]).
func RunExecutor[A any](ctx context.Context, e *Executor, rootTask Task[A]) (A, error) {
	e.dirty.RLock()
	defer e.dirty.RUnlock()
	return Run(ctx, e.rules, rootTask)
}

// Queries returns a sorted snapshot of the URLs currently memoised in e.
func (e *Executor) Queries() []string {
	return e.slots.m.URLs()
}

// Invalidate discards the memoised slot and recorded trace for key and for
// every key reachable from it through the reverse-dependency index (i.e.
// everything that transitively fetched key), requiring all of them to be
// recomputed on their next use. It cannot run concurrently with [RunQuery]
// or [RunExecutor] calls against the same Executor.
func (e *Executor) Invalidate(key ErasedKey) {
	e.dirty.Lock()
	defer e.dirty.Unlock()

	visited, remaining := ReachableReverseDependencies(key, e.rev)
	// The rule stack holds e.rev itself, so its contents are swapped in place.
	e.rev.m = remaining.m
	e.evict(visited)
}

// InvalidateGlob generalizes Invalidate to every key in e's
// reverse-dependency index whose URL matches pattern (doublestar glob
// syntax).
func (e *Executor) InvalidateGlob(pattern string) error {
	e.dirty.Lock()
	defer e.dirty.Unlock()

	visited, remaining, err := InvalidateGlob(e.rev, pattern)
	if err != nil {
		return err
	}
	e.rev.m = remaining.m
	e.evict(visited)
	return nil
}

func (e *Executor) evict(keys []ErasedKey) {
	for _, k := range keys {
		dmap.Remove(e.slots.m, k.URL())
		dmap.Remove(e.traces.m, k.URL())
	}
}

// CheckCycles runs a topological sort over e's recorded reverse-dependency
// index and reports whether it contains a cycle, as a diagnostic a caller
// can run before trusting an Invalidate result — the engine itself never
// detects cycles; a cyclic rule graph instead deadlocks the first time two
// goroutines wait on each other's memo slot. A freshly constructed
// Executor, or one whose recorded keys form no cycle, always returns nil.
func (e *Executor) CheckCycles() (err error) {
	e.dirty.RLock()
	defer e.dirty.RUnlock()

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("increco: %v", rec)
		}
	}()

	urls := e.rev.URLs()
	roots := make([]ErasedKey, 0, len(urls))
	for _, url := range urls {
		if k, ok := e.rev.lookupKey(url); ok {
			roots = append(roots, k)
		}
	}

	children := func(k ErasedKey) []ErasedKey {
		entry, ok := dmap.Get[revEntry](e.rev.m, k.URL())
		if !ok {
			return nil
		}
		out := make([]ErasedKey, 0, len(entry.children))
		for _, child := range entry.children {
			out = append(out, child)
		}
		return out
	}

	toposort.Sort(roots, ErasedKey.URL, children)
	return nil
}
