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

// Kind identifies which of Task's three suspension shapes a [Result] is.
type Kind uint8

const (
	// KindDone means the Task completed with a value.
	KindDone Kind = iota
	// KindFetch means the Task is paused pending the value of a key.
	KindFetch
	// KindLiftBase means the Task is asking the driver to loan back a
	// run-in-driver capability.
	KindLiftBase
)

// RunFunc is the capability a LiftBase routine is handed: it runs a
// sub-Task to completion against the same Rules as the enclosing [Run]
// call. This is how parallelism enters the engine — a routine can spawn
// several sub-Tasks on separate goroutines and join them, each one
// resolving its own Fetches through the full Rules stack. It panics with
// whatever the sub-Task's execution panicked with (see [Fail]); callers
// that spawn goroutines of their own must propagate or recover that panic
// themselves.
type RunFunc func(Task[any]) any

// Task is a suspendable computation that eventually yields a value of type
// A. Stepping it performs arbitrary ordinary work and returns exactly one
// [Result]: Done, Fetch, or LiftBase. Task is deliberately modeled as an
// explicit closure plus a driver loop (see [runTask]), not as
// compiler-generated async machinery, because the driver needs to inspect
// *why* a Task suspended in order to route Fetches through the transformer
// stack — that is not expressible behind an opaque await.
type Task[A any] struct {
	step func() Result[A]
}

// Step evaluates t by one suspension point.
func (t Task[A]) Step() Result[A] { return t.step() }

// Result is the outcome of one evaluation step of a Task[A]. It is exactly
// one of three shapes, selected by Kind:
//
//   - KindDone: the computation is finished; Value holds the result.
//   - KindFetch: the computation is paused pending FetchKey's value; Resume
//     continues it once that value is known.
//   - KindLiftBase: the computation is asking to run LiftFn with a RunFunc
//     capability; Resume continues with whatever LiftFn returns.
type Result[A any] struct {
	kind Kind

	value A

	fetchKey ErasedKey
	resume   func(any) Task[A]

	liftFn     func(RunFunc) any
	liftResume func(any) Task[A]
}

// Kind reports which suspension shape r is.
func (r Result[A]) Kind() Kind { return r.kind }

// Value is valid when r.Kind() == KindDone.
func (r Result[A]) Value() A { return r.value }

// FetchKey is valid when r.Kind() == KindFetch.
func (r Result[A]) FetchKey() ErasedKey { return r.fetchKey }

// Resume continues a KindFetch or KindLiftBase result with v, the value
// the driver resolved for FetchKey or the value LiftFn returned.
func (r Result[A]) Resume(v any) Task[A] {
	if r.kind == KindFetch {
		return r.resume(v)
	}
	return r.liftResume(v)
}

// LiftFn is valid when r.Kind() == KindLiftBase.
func (r Result[A]) LiftFn() func(RunFunc) any { return r.liftFn }

// Pure builds a Task that is already done with value a. This is the
// identity of the Task monad: pure(a) = Done(a).
func Pure[A any](a A) Task[A] {
	return Task[A]{step: func() Result[A] {
		return Result[A]{kind: KindDone, value: a}
	}}
}

// Fetch suspends the current Task pending the value of key. The driver
// resumes it with whatever value [Rules] ultimately produces for key;
// Fetch never performs the query itself, only requests it.
func Fetch[X any](key Key[X]) Task[X] {
	return Task[X]{step: func() Result[X] {
		return Result[X]{
			kind:     KindFetch,
			fetchKey: key,
			resume:   func(v any) Task[X] { return Pure(v.(X)) },
		}
	}}
}

// fetchErased is Fetch for an already type-erased key, used internally by
// transformers that operate on ErasedKey (track, verifyTraces, and
// friends) and never need to recover X themselves.
func fetchErased(key ErasedKey) Task[any] {
	return Task[any]{step: func() Result[any] {
		return Result[any]{
			kind:     KindFetch,
			fetchKey: key,
			resume:   func(v any) Task[any] { return Pure(v) },
		}
	}}
}

// LiftBase requests that the driver loan back a RunFunc to g, then
// continues with whatever g returns. This is the integration point with
// host concurrency: a rule that wants to fetch several keys in parallel,
// or spawn work on its own goroutines, does so from inside g.
func LiftBase[B any](g func(RunFunc) B) Task[B] {
	return Task[B]{step: func() Result[B] {
		return Result[B]{
			kind:       KindLiftBase,
			liftFn:     func(run RunFunc) any { return g(run) },
			liftResume: func(v any) Task[B] { return Pure(v.(B)) },
		}
	}}
}

// Bind splices a continuation onto t: the returned Task behaves like t
// until t is Done, then continues by evaluating k on t's value. Every
// suspension t produces along the way (Fetch or LiftBase) is preserved,
// with its own continuation extended to also run k afterwards. This, plus
// [Pure], gives Task its monad structure.
func Bind[A, B any](t Task[A], k func(A) Task[B]) Task[B] {
	return Task[B]{step: func() Result[B] {
		r := t.step()
		switch r.kind {
		case KindDone:
			return k(r.value).step()
		case KindFetch:
			return Result[B]{
				kind:     KindFetch,
				fetchKey: r.fetchKey,
				resume: func(v any) Task[B] {
					return Bind(r.resume(v), k)
				},
			}
		default: // KindLiftBase
			return Result[B]{
				kind:   KindLiftBase,
				liftFn: r.liftFn,
				liftResume: func(v any) Task[B] {
					return Bind(r.liftResume(v), k)
				},
			}
		}
	}}
}

// eraseTask forgets t's static result type, for use with APIs (RunFunc,
// transFetch's φ) that must be generic over arbitrary result types.
func eraseTask[A any](t Task[A]) Task[any] {
	return Bind(t, func(a A) Task[any] { return Pure[any](a) })
}

// transFetch rewrites every Fetch(k, κ) suspension point encountered while
// evaluating t, replacing it with Bind(phi(k), κ): instead of suspending
// with the raw key, the Task suspends (if phi itself fetches) or completes
// through whatever phi does with k, then resumes exactly where the
// original Fetch would have. LiftBase suspension points are threaded
// through unchanged. [track] and [verifyTraces]-style interposers are both
// built from this.
func transFetch[A any](phi func(ErasedKey) Task[any], t Task[A]) Task[A] {
	return Task[A]{step: func() Result[A] {
		r := t.step()
		switch r.kind {
		case KindDone:
			return r
		case KindFetch:
			spliced := Bind(phi(r.fetchKey), func(v any) Task[A] {
				return transFetch(phi, r.resume(v))
			})
			return spliced.step()
		default: // KindLiftBase
			return Result[A]{
				kind:   KindLiftBase,
				liftFn: r.liftFn,
				liftResume: func(v any) Task[A] {
					return transFetch(phi, r.liftResume(v))
				},
			}
		}
	}}
}

// taskFailure is the panic value [Fail] raises. memoise recovers it at
// every step of a guarded Task so that a failed key's slot is filled with
// a reified failure rather than left empty forever (see [memoise]).
type taskFailure struct{ err error }

// Fail aborts the currently executing rule with err. It never returns: it
// unwinds the current goroutine via panic, so that callers don't need an
// error return threaded through every
// Task combinator. [Run] recovers a Fail raised anywhere in the Task it
// drove and reports it as an ordinary Go error.
func Fail(err error) {
	panic(taskFailure{err: err})
}
