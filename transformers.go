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
	"fmt"
	"strings"

	"github.com/petermattis/goid"
	"github.com/rivo/uniseg"

	"github.com/hollowtree/increco/dmap"
)

// Writer pairs a rule's real result (Value) with a side-channel value
// (Side) of a type W the rest of the stack doesn't need to know about —
// for example, a [TaskKind] a rule wants to declare about itself without
// widening every other rule's result type to accommodate it. A Rules
// function that wants to use [writer] must itself return Writer[W]
// values wrapped as Task[any].
type Writer[W any] struct {
	Value any
	Side  W
}

// writer wraps inner, whose results must be Writer[W] values, so that
// after a rule produces (value, side), write(key, side) runs as an
// observational side effect and only value is handed back up the stack —
// hiding W from every transformer layered above this one.
func writer[W any](write func(ErasedKey, W), inner Rules) Rules {
	return func(key ErasedKey) Task[any] {
		return Bind(inner(key), func(v any) Task[any] {
			pair := v.(Writer[W])
			write(key, pair.Side)
			return Pure(pair.Value)
		})
	}
}

// Versions is caller-allocated storage mapping a key's URL to a monotonic
// counter, bumped once per execution by [versioned]. Comparing the version
// before and after a run tells a caller whether a key was actually
// recomputed, independent of whether its value happened to change.
type Versions struct {
	m *dmap.Map // url -> uint64
}

// NewVersions constructs an empty Versions.
func NewVersions() *Versions { return &Versions{m: dmap.New()} }

// Get returns the current version recorded for key, or (0, false) if key
// has never been executed under [versioned].
func (v *Versions) Get(key ErasedKey) (uint64, bool) {
	return dmap.Get[uint64](v.m, key.URL())
}

// versioned wraps inner so that every execution for key bumps
// versions[key] by one, after the rule completes.
func versioned(versions *Versions, inner Rules) Rules {
	return func(key ErasedKey) Task[any] {
		return Bind(inner(key), func(v any) Task[any] {
			dmap.AlterLookup(versions.m, key.URL(), func(old uint64, _ bool) uint64 {
				return old + 1
			})
			return Pure(v)
		})
	}
}

// traceFetch invokes before(key) immediately, and after(key) once inner's
// rule for key completes. It is purely observational — neither hook's
// return value feeds back into the computation — and is meant for
// diagnostics, not control flow.
func traceFetch(before, after func(ErasedKey), inner Rules) Rules {
	return func(key ErasedKey) Task[any] {
		if before != nil {
			before(key)
		}
		return Bind(inner(key), func(v any) Task[any] {
			if after != nil {
				after(key)
			}
			return Pure(v)
		})
	}
}

// DefaultTraceHook builds a before/after hook for [traceFetch] (via
// [WithTraceHook]) that prints label, the executing goroutine id, and
// key's URL truncated to maxRunes grapheme clusters — long URLs are cut on
// a grapheme boundary rather than a byte or rune boundary, so multi-byte
// identifiers never get chopped mid-character.
func DefaultTraceHook(label string, maxRunes int) func(ErasedKey) {
	return func(key ErasedKey) {
		fmt.Printf("[goroutine %d] %s %s\n", goid.Get(), label, truncateGraphemes(key.URL(), maxRunes))
	}
}

func truncateGraphemes(s string, n int) string {
	if n <= 0 {
		return s
	}
	var b strings.Builder
	g := uniseg.NewGraphemes(s)
	count := 0
	for g.Next() {
		if count >= n {
			b.WriteString("…")
			return b.String()
		}
		b.WriteString(g.Str())
		count++
	}
	return b.String()
}
