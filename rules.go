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
	"sync"

	"golang.org/x/sync/errgroup"
)

// Rules maps an erased key to the Task that computes its value. Because a
// query's result type depends on the query itself, the returned Task is
// erased to Task[any]; the call site that fetched a typed Key[A] recovers
// A when the driver resumes its continuation (see [Fetch]).
//
// Transformers — [memoise], [verifyTraces], [trackReverseDependencies],
// [versioned], [traceFetch] — all have the shape func(Rules) Rules, so an
// [Executor] builds its effective rule set by composing them around a
// host-supplied base Rules.
type Rules func(key ErasedKey) Task[any]

// GenRules adapts a Rules function to a different outer query family by
// rewriting keys with down before delegating to g. This lets a transformer
// present one key shape to its caller while consulting a differently
// shaped Rules underneath it (for example, a side-channel wrapper that
// asks g for a Writer-wrapped key).
func GenRules(down func(ErasedKey) ErasedKey, g Rules) Rules {
	return func(key ErasedKey) Task[any] {
		return g(down(key))
	}
}

// runTask is the trampoline that drives t to completion against rules: on
// KindDone it returns; on KindFetch it resolves the key by running
// rules(key) to completion (recursively, through this same function, so
// that key's own Fetches are resolved through the identical Rules stack)
// and resumes with the result; on KindLiftBase it hands the routine a
// RunFunc closed over this same (ctx, rules) pair and resumes with
// whatever the routine returns.
func runTask[A any](ctx context.Context, rules Rules, t Task[A]) A {
	for {
		r := t.step()
		switch r.Kind() {
		case KindDone:
			return r.Value()
		case KindFetch:
			v := runTask(ctx, rules, rules(r.FetchKey()))
			t = r.Resume(v)
		default: // KindLiftBase
			run := RunFunc(func(sub Task[any]) any {
				return runTask(ctx, rules, sub)
			})
			t = r.Resume(r.LiftFn()(run))
		}
	}
}

// Run drives rootTask to completion against rules and returns its value. A
// [Fail] raised anywhere during evaluation — by rootTask itself, by a rule
// rules invokes, or by a sub-Task spawned through LiftBase — is recovered
// here and reported as err instead of propagating past Run as a panic. Any
// other panic is not ours to interpret and is re-raised unchanged.
func Run[A any](ctx context.Context, rules Rules, rootTask Task[A]) (result A, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if tf, ok := rec.(taskFailure); ok {
				err = tf.err
				return
			}
			panic(rec)
		}
	}()
	return runTask(ctx, rules, rootTask), nil
}

// Pair is the result of combining two independently evaluated Tasks.
type Pair[A, B any] struct {
	First  A
	Second B
}

// firstPanic records the first panic value observed across a set of
// concurrently running goroutines, so that one designated goroutine —
// here, always the one that called errgroup.Group.Wait — can re-raise it
// after the others have joined. errgroup.Group.Go only ever catches a
// func() error's return value, never a panic: a Fail (see task.go's
// taskFailure) raised on a spawned goroutine would otherwise unwind past
// Wait and crash the process before Run's own top-level recover ever saw
// it. Every goroutine that might run a Task must defer recoverInto, and
// the spawning goroutine must call reraise once every such goroutine has
// been joined.
type firstPanic struct {
	mu  sync.Mutex
	val any
}

func (f *firstPanic) recoverInto() {
	if rec := recover(); rec != nil {
		f.mu.Lock()
		if f.val == nil {
			f.val = rec
		}
		f.mu.Unlock()
	}
}

func (f *firstPanic) reraise() {
	if f.val != nil {
		panic(f.val)
	}
}

// ParallelBind evaluates t1 and t2 applicatively, without either observing
// the other's effects before the join point, by spawning each on its own
// goroutine through LiftBase and joining with an errgroup — strategy (b)
// from the design notes ("spawn each sub-Task on a worker and join"). Both
// branches still resolve their Fetches through whatever Rules stack the
// enclosing [Run] call is using, so they benefit from memoisation exactly
// as a sequential evaluation would. A Fail raised in either branch is
// recovered on that branch's own goroutine (see [firstPanic]) and
// re-raised here, on the goroutine that called ParallelBind, once both
// branches have joined — only then does it reach Run's top-level recover.
func ParallelBind[A, B any](t1 Task[A], t2 Task[B]) Task[Pair[A, B]] {
	return LiftBase(func(run RunFunc) Pair[A, B] {
		var g errgroup.Group
		var pair Pair[A, B]
		var fp firstPanic
		g.Go(func() error {
			defer fp.recoverInto()
			pair.First = run(eraseTask(t1)).(A)
			return nil
		})
		g.Go(func() error {
			defer fp.recoverInto()
			pair.Second = run(eraseTask(t2)).(B)
			return nil
		})
		_ = g.Wait()
		fp.reraise()
		return pair
	})
}

// SequentialBind is ParallelBind's left-to-right counterpart: t2 is not
// stepped until t1 has fully completed. Use this
// where speculative parallel evaluation of independent branches would be
// unsound (for example, because t2 depends on a side effect t1 performs
// outside of Fetch) — it is the package's sole mechanism for forcing
// left-to-right order; there is no separate marker type to opt a Task
// into it; a caller that needs the ordering simply calls SequentialBind
// instead of ParallelBind.
func SequentialBind[A, B any](t1 Task[A], t2 Task[B]) Task[Pair[A, B]] {
	return Bind(t1, func(a A) Task[Pair[A, B]] {
		return Bind(t2, func(b B) Task[Pair[A, B]] {
			return Pure(Pair[A, B]{First: a, Second: b})
		})
	})
}

// ResolveAll fetches every key in parallel, mirroring the common
// "Resolve a batch of same-typed queries" pattern: each key is fetched on
// its own goroutine via LiftBase, and the call blocks until all have
// completed. A Fail raised while fetching any key is recovered on that
// key's own goroutine (see [firstPanic]) and re-raised here, on the
// goroutine that called ResolveAll, once every fetch has joined.
func ResolveAll[X any](keys ...Key[X]) Task[[]X] {
	return LiftBase(func(run RunFunc) []X {
		results := make([]X, len(keys))
		var g errgroup.Group
		var fp firstPanic
		for i, k := range keys {
			i, k := i, k
			g.Go(func() error {
				defer fp.recoverInto()
				results[i] = run(eraseTask(Fetch[X](k))).(X)
				return nil
			})
		}
		_ = g.Wait()
		fp.reraise()
		return results
	})
}
