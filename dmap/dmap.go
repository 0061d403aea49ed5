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

// Package dmap implements a heterogeneous, type-indexed key/value map: an
// open family of keys, identified by a stable string, mapped to values
// whose static type depends on which key they're stored under. It backs
// increco's memo slots, traces, and reverse-dependency index.
//
// Map itself stores everything behind interface{}; the generic
// accessors (Get, Set, AlterLookup) recover static typing at the call
// site with a type assertion — the "unsafe internal conversion behind a
// safe façade" a heterogeneous map needs in a statically typed language,
// made safe here only by the caller's own discipline of using one
// consistent value type per key.
package dmap

import (
	"sync"

	"github.com/tidwall/btree"
)

// Map is a heterogeneous key/value map keyed by a stable, comparable
// identity string. It is backed by a B-tree rather than a hash map so
// that iteration (URLs) is ordered and deterministic within a single
// call, which the trace verifier relies on when walking a key's recorded
// dependencies in a repeatable order.
type Map struct {
	mu   sync.RWMutex
	tree *btree.Map[string, any]
}

// New constructs an empty Map.
func New() *Map {
	m := &Map{}
	m.tree = btree.NewMap[string, any](0)
	return m
}

// Get looks up url, type-asserting the stored value to V. It panics if a
// value was stored under url with a type incompatible with V — a caller
// bug, since a well-formed query family never stores two different value
// types under the same key.
func Get[V any](m *Map, url string) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.tree.Get(url)
	if !ok {
		var zero V
		return zero, false
	}
	return v.(V), true
}

// Set inserts or overwrites the value stored at url.
func Set[V any](m *Map, url string, v V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Set(url, v)
}

// Remove deletes url from m, if present.
func Remove(m *Map, url string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tree.Delete(url)
}

// AlterLookup atomically reads the value currently stored at url (the
// zero V and false if absent), replaces it with f's result, and returns
// what was there before the update.
func AlterLookup[V any](m *Map, url string, f func(old V, existed bool) V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var old V
	raw, existed := m.tree.Get(url)
	if existed {
		old = raw.(V)
	}
	m.tree.Set(url, f(old, existed))
	return old, existed
}

// Null reports whether m is empty.
func (m *Map) Null() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.tree.Len() == 0
}

// URLs returns a sorted snapshot of every key currently stored in m.
func (m *Map) URLs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	urls := make([]string, 0, m.tree.Len())
	m.tree.Scan(func(url string, _ any) bool {
		urls = append(urls, url)
		return true
	})
	return urls
}
