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

// Fingerprint is an opaque summary of a dependency's value such that
// equality of two fingerprints implies the underlying values are
// equivalent for caching purposes. Callers should return concrete,
// comparable types (a string, an integer hash, a small struct of
// comparable fields) — Fingerprint itself is compared with ==, which
// panics at runtime if the dynamic type underneath isn't comparable.
type Fingerprint any

// Fingerprinter computes a Fingerprint for key's value. The same
// Fingerprinter is used both while recording a new trace (track) and while
// verifying an old one (verifyTraces), so a host only has to get the
// hashing/equivalence policy right once.
type Fingerprinter func(key ErasedKey, value any) Fingerprint

// TaskKind distinguishes queries whose result is a pure function of their
// fetched dependencies (Derived — safe to cache by dependency fingerprint)
// from queries whose result depends on state outside the engine's view
// (Input — never recorded in a trace, since there is nothing for a
// fingerprint to verify against).
type TaskKind uint8

const (
	// Derived queries are cached subject to their recorded dependencies'
	// fingerprints still matching.
	Derived TaskKind = iota
	// Input queries are never recorded in a trace; every fetch re-invokes
	// the rule.
	Input
)

// depEntry is one recorded (dependency key, fingerprint) pair.
type depEntry struct {
	key ErasedKey
	fp  Fingerprint
}

// DepSet accumulates the (key, fingerprint) pairs [track] observes while
// evaluating a Task. It is safe for concurrent use, since parallel
// applicative branches (see [ParallelBind]) may record into the same
// DepSet from multiple goroutines.
type DepSet struct {
	deps *dmap.Map // url -> depEntry
}

func newDepSet() *DepSet { return &DepSet{deps: dmap.New()} }

// record merges (key, fp) into the set. Merging is last-write-wins; per
// the package's determinism requirement, two recordings of the same key
// should already agree on its fingerprint, so the tie-break is never
// actually observed in a well-behaved host.
func (d *DepSet) record(key ErasedKey, fp Fingerprint) {
	dmap.Set(d.deps, key.URL(), depEntry{key: key, fp: fp})
}

// List returns every recorded (key, fingerprint) pair. Order is the
// iteration order of the underlying map, which is deterministic within a
// single List call but not guaranteed stable across recordings.
func (d *DepSet) List() []depEntry {
	urls := d.deps.URLs()
	out := make([]depEntry, 0, len(urls))
	for _, url := range urls {
		e, _ := dmap.Get[depEntry](d.deps, url)
		out = append(out, e)
	}
	return out
}

// track evaluates t, recording into a fresh DepSet the fingerprint of
// every key it fetches directly. It returns the (still-suspendable) Task
// together with the DepSet that fills in as that Task is driven — so deps
// is only complete once the returned Task reaches KindDone.
//
// This corresponds to both track and trackM from the design: increco has a
// single computation carrier (Task), so there is no separate "pure" vs
// "monadic" variant to distinguish.
func track[A any](fp Fingerprinter, t Task[A]) (Task[A], *DepSet) {
	deps := newDepSet()
	phi := func(k ErasedKey) Task[any] {
		return Bind(fetchErased(k), func(v any) Task[any] {
			deps.record(k, fp(k, v))
			return Pure(v)
		})
	}
	return transFetch(phi, t), deps
}

// traceEntry is a recorded (value, deps) pair for one key.
type traceEntry struct {
	value any
	deps  []depEntry
}

// Traces is the caller-allocated storage recording, for each Derived key,
// the value it last produced and the fingerprinted dependencies that
// produced it. [verifyTraces] reads and writes it; nothing else should.
type Traces struct {
	m *dmap.Map // url -> traceEntry
}

// NewTraces constructs an empty Traces.
func NewTraces() *Traces { return &Traces{m: dmap.New()} }

// verifyTraces wraps inner so that each call for key first checks whether
// traces already holds a recorded value for it:
//
//   - If not, key is executed (and, unless the rule reports itself as
//     Input — see [execute] — its new value and dependencies are recorded).
//   - If so, every recorded dependency is re-fetched (through the driver,
//     hence through the whole Rules stack, so already-resolved
//     dependencies are themselves memoised) and its fingerprint compared
//     against the one recorded. The first mismatch aborts verification —
//     the old value is entirely discarded, not partially reused — and key
//     is executed as if no trace had existed. If every dependency still
//     matches, the old value is returned without running key's rule.
//
// inner's results must be [Writer][TaskKind] values, pairing each key's
// real result with the TaskKind it declares for itself — per spec §4.4's
// "run rules(Writer(key))" step, a rule reports its own kind through the
// same side channel [writer] exposes generically, rather than through a
// classifier the caller supplies up front.
func verifyTraces(traces *Traces, fp Fingerprinter, inner Rules) Rules {
	return func(key ErasedKey) Task[any] {
		url := key.URL()
		old, ok := dmap.Get[traceEntry](traces.m, url)
		if !ok {
			return execute(traces, fp, inner, key)
		}
		return Bind(verifyDepsFrom(fp, old.deps, 0), func(valid bool) Task[any] {
			if valid {
				return Pure[any](old.value)
			}
			return execute(traces, fp, inner, key)
		})
	}
}

// verifyDepsFrom checks deps[i:] in order, short-circuiting false at the
// first fingerprint mismatch — no partial re-use, per the design's
// ordering and tie-break rule.
func verifyDepsFrom(fp Fingerprinter, deps []depEntry, i int) Task[bool] {
	if i >= len(deps) {
		return Pure(true)
	}
	d := deps[i]
	return Bind(fetchErased(d.key), func(v any) Task[bool] {
		if fp(d.key, v) != d.fp {
			return Pure(false)
		}
		return verifyDepsFrom(fp, deps, i+1)
	})
}

// execute actually runs inner(key), tracking its dependencies, and records
// the result in traces unless the rule declared itself Input. It strips
// inner's Writer[TaskKind] pairing via [writer] before the result reaches
// anything layered above verifyTraces — memoise and every other
// transformer above this one sees plain values, never the pair.
func execute(traces *Traces, fp Fingerprinter, inner Rules, key ErasedKey) Task[any] {
	var kind TaskKind
	tagged := writer(func(_ ErasedKey, k TaskKind) { kind = k }, inner)

	tracked, deps := track(fp, tagged(key))
	return Bind(tracked, func(v any) Task[any] {
		if kind != Input {
			dmap.Set(traces.m, key.URL(), traceEntry{value: v, deps: deps.List()})
		}
		return Pure(v)
	})
}
