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

import "github.com/hollowtree/increco/dmap"

// slot is a one-shot memo cell: empty until filled exactly once, with
// readers blocking on done until it is. This mirrors the
// compare-and-swap-plus-closed-channel pattern used to make a single task
// responsible for computing a result while every other concurrent
// requester sleeps on it.
type slot struct {
	done  chan struct{}
	value any
	fail  any // set instead of value when the computation panicked.
}

func newSlot() *slot { return &slot{done: make(chan struct{})} }

// wait blocks until the slot is filled, then returns its value or
// re-panics with its recorded failure.
func (s *slot) wait() any {
	<-s.done
	if s.fail != nil {
		panic(s.fail)
	}
	return s.value
}

// Slots is the caller-allocated storage [memoise] uses to guarantee
// at-most-once execution of a rule per key for the lifetime of the map.
// Callers construct one with [NewSlots] and pass it to [memoise] (or to
// [New] via an [Executor]); its lifetime controls how long memoisation
// lasts, independent of the Traces and RevDeps the same keys may also be
// recorded in.
type Slots struct {
	m *dmap.Map
}

// NewSlots constructs an empty Slots.
func NewSlots() *Slots { return &Slots{m: dmap.New()} }

// memoise wraps inner so that, for the lifetime of slots, rules(key) —
// meaning the rule this whole composed stack eventually runs for key — is
// invoked at most once. The first caller for a given key becomes
// responsible for computing it; every other concurrent caller blocks until
// that computation finishes (successfully or not) and observes the same
// outcome.
//
// A rule that fails (panics via [Fail], or any other panic) still fills
// its slot, with a reified failure that every waiter re-raises on read.
// This way a failed key never leaves its slot permanently empty, and it is
// never silently retried — only an explicit invalidation clears it.
func memoise(slots *Slots, inner Rules) Rules {
	return func(key ErasedKey) Task[any] {
		url := key.URL()
		fresh := newSlot()
		prev, existed := dmap.AlterLookup(slots.m, url, func(old *slot, ok bool) *slot {
			if ok {
				return old
			}
			return fresh
		})
		if existed {
			return Task[any]{step: func() Result[any] {
				return Result[any]{kind: KindDone, value: prev.wait()}
			}}
		}
		// inner(key) is built inside the guarded step, so a rule that fails
		// while constructing its Task still fills the slot.
		return guardSlot(fresh, Task[any]{step: func() Result[any] { return inner(key).step() }})
	}
}

// guardSlot drives t's suspension chain through to completion, filling s
// with the eventual value — or, on panic, a reified failure — on every
// exit path, then re-raising the panic so it still reaches whatever
// invoked this Task.
func guardSlot(s *slot, t Task[any]) Task[any] {
	return Task[any]{step: func() (res Result[any]) {
		defer func() {
			if rec := recover(); rec != nil {
				s.fail = rec
				close(s.done)
				panic(rec)
			}
		}()

		r := t.step()
		switch r.Kind() {
		case KindDone:
			s.value = r.Value()
			close(s.done)
			return r
		case KindFetch:
			return Result[any]{
				kind:     KindFetch,
				fetchKey: r.FetchKey(),
				resume: func(v any) Task[any] {
					return guardSlot(s, r.Resume(v))
				},
			}
		default: // KindLiftBase
			return Result[any]{
				kind:   KindLiftBase,
				liftFn: r.LiftFn(),
				liftResume: func(v any) Task[any] {
					return guardSlot(s, r.Resume(v))
				},
			}
		}
	}}
}
