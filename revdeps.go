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
	"github.com/bmatcuk/doublestar/v4"

	"github.com/hollowtree/increco/dmap"
)

// revEntry is one node of the reverse-dependency index: key is the
// dependency this entry is keyed on, and children are the keys whose last
// recorded execution fetched it.
type revEntry struct {
	key      ErasedKey
	children map[string]ErasedKey // dependent URL -> dependent key
}

// RevDeps is the caller-allocated reverse-dependency index: for each key
// d, rev[d] is the set of keys whose last recorded execution fetched d.
// [trackReverseDependencies] maintains it; [ReachableReverseDependencies]
// and [InvalidateGlob] consume it to find everything that must be
// recomputed after a key changes.
type RevDeps struct {
	m *dmap.Map // url -> revEntry
}

// NewRevDeps constructs an empty RevDeps.
func NewRevDeps() *RevDeps { return &RevDeps{m: dmap.New()} }

func (r *RevDeps) addEdge(dep, dependent ErasedKey) {
	dmap.AlterLookup(r.m, dep.URL(), func(old revEntry, existed bool) revEntry {
		if !existed {
			old = revEntry{key: dep, children: map[string]ErasedKey{}}
		}
		old.children[dependent.URL()] = dependent
		return old
	})
}

// URLs returns a sorted snapshot of every key currently present in r.
func (r *RevDeps) URLs() []string { return r.m.URLs() }

func (r *RevDeps) lookupKey(url string) (ErasedKey, bool) {
	e, ok := dmap.Get[revEntry](r.m, url)
	if !ok {
		return nil, false
	}
	return e.key, true
}

// trackReverseDependencies wraps inner so that every invocation for key
// folds the keys it fetched into rev, unioning with whatever edges were
// already recorded for those keys. Stale edges from a previous execution
// of key are not removed — only added to — because reachability is used
// conservatively for invalidation: an extra edge can only cause an
// already-correct key to be needlessly recomputed, never the reverse.
func trackReverseDependencies(rev *RevDeps, inner Rules) Rules {
	noopFingerprint := func(ErasedKey, any) Fingerprint { return struct{}{} }
	return func(key ErasedKey) Task[any] {
		tracked, deps := track(noopFingerprint, inner(key))
		return Bind(tracked, func(v any) Task[any] {
			for _, d := range deps.List() {
				rev.addEdge(d.key, key)
			}
			return Pure(v)
		})
	}
}

// ReachableReverseDependencies performs a depth-first reachability closure
// from root through rev, returning the set of keys reachable (root is
// always included) together with rev restricted to the keys *outside*
// that set — the portion of the index that remains after everything
// reachable from root has been invalidated.
func ReachableReverseDependencies(root ErasedKey, rev *RevDeps) (visited []ErasedKey, remaining *RevDeps) {
	seen := map[string]ErasedKey{}
	stack := []ErasedKey{root}
	for len(stack) > 0 {
		k := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[k.URL()]; ok {
			continue
		}
		seen[k.URL()] = k
		if entry, ok := dmap.Get[revEntry](rev.m, k.URL()); ok {
			for _, child := range entry.children {
				if _, ok := seen[child.URL()]; !ok {
					stack = append(stack, child)
				}
			}
		}
	}

	out := NewRevDeps()
	for _, url := range rev.m.URLs() {
		if _, excluded := seen[url]; excluded {
			continue
		}
		entry, _ := dmap.Get[revEntry](rev.m, url)
		kept := revEntry{key: entry.key, children: map[string]ErasedKey{}}
		for childURL, child := range entry.children {
			if _, excluded := seen[childURL]; !excluded {
				kept.children[childURL] = child
			}
		}
		dmap.Set(out.m, url, kept)
	}

	visited = make([]ErasedKey, 0, len(seen))
	for _, k := range seen {
		visited = append(visited, k)
	}
	return visited, out
}

// InvalidateGlob generalizes [ReachableReverseDependencies] to every key in
// rev whose URL matches pattern, using doublestar glob syntax (for example
// "file:///src/**/*.proto" to invalidate everything downstream of any
// proto file under src/). It returns the union of keys reachable from any
// matching root, and rev with all of their edges removed.
func InvalidateGlob(rev *RevDeps, pattern string) (visited []ErasedKey, remaining *RevDeps, err error) {
	var roots []ErasedKey
	for _, url := range rev.URLs() {
		ok, matchErr := doublestar.Match(pattern, url)
		if matchErr != nil {
			return nil, rev, matchErr
		}
		if ok {
			if k, found := rev.lookupKey(url); found {
				roots = append(roots, k)
			}
		}
	}

	cur := rev
	seen := map[string]ErasedKey{}
	for _, root := range roots {
		if _, ok := seen[root.URL()]; ok {
			continue
		}
		var v []ErasedKey
		v, cur = ReachableReverseDependencies(root, cur)
		for _, k := range v {
			seen[k.URL()] = k
		}
	}
	for _, k := range seen {
		visited = append(visited, k)
	}
	return visited, cur, nil
}
