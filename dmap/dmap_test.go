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

package dmap_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hollowtree/increco/dmap"
)

func TestGetSetRemove(t *testing.T) {
	m := dmap.New()
	assert.True(t, m.Null())

	_, ok := dmap.Get[int](m, "a")
	assert.False(t, ok)

	dmap.Set(m, "a", 42)
	assert.False(t, m.Null())

	v, ok := dmap.Get[int](m, "a")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	dmap.Remove(m, "a")
	_, ok = dmap.Get[int](m, "a")
	assert.False(t, ok)
}

func TestURLsSorted(t *testing.T) {
	m := dmap.New()
	dmap.Set(m, "c", 1)
	dmap.Set(m, "a", 1)
	dmap.Set(m, "b", 1)

	assert.Equal(t, []string{"a", "b", "c"}, m.URLs())
}

func TestAlterLookupReturnsPrevious(t *testing.T) {
	m := dmap.New()

	old, existed := dmap.AlterLookup(m, "count", func(old int, ok bool) int {
		assert.False(t, ok)
		return old + 1
	})
	assert.False(t, existed)
	assert.Equal(t, 0, old)

	old, existed = dmap.AlterLookup(m, "count", func(old int, ok bool) int {
		require.True(t, ok)
		return old + 1
	})
	assert.True(t, existed)
	assert.Equal(t, 1, old)

	v, _ := dmap.Get[int](m, "count")
	assert.Equal(t, 2, v)
}

// TestAlterLookupConcurrent exercises AlterLookup as a counter under
// concurrent writers, the way memoise's slot installation relies on it
// being a single atomic read-modify-write.
func TestAlterLookupConcurrent(t *testing.T) {
	m := dmap.New()
	const goroutines = 64

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for range goroutines {
		go func() {
			defer wg.Done()
			dmap.AlterLookup(m, "count", func(old int, _ bool) int { return old + 1 })
		}()
	}
	wg.Wait()

	v, ok := dmap.Get[int](m, "count")
	require.True(t, ok)
	assert.Equal(t, goroutines, v)
}
