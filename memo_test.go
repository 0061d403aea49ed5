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
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMemoiseRunsRuleAtMostOnce is spec §8 scenario 1: fetching the same
// key twice within one Task invokes the underlying rule exactly once.
func TestMemoiseRunsRuleAtMostOnce(t *testing.T) {
	t.Parallel()

	var calls int64
	base := func(key ErasedKey) Task[any] {
		atomic.AddInt64(&calls, 1)
		return Pure[any](4)
	}
	rules := memoise(NewSlots(), base)

	task := Bind(Fetch[int](constKey("a")), func(first int) Task[Pair[int, int]] {
		return Bind(Fetch[int](constKey("a")), func(second int) Task[Pair[int, int]] {
			return Pure(Pair[int, int]{First: first, Second: second})
		})
	})

	result, err := Run(context.Background(), rules, task)
	require.NoError(t, err)
	assert.Equal(t, 4, result.First)
	assert.Equal(t, 4, result.Second)
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

// TestMemoiseConcurrentReadersShareOneExecution blocks N concurrent fetches
// of the same key on a single in-flight slot and asserts they all observe
// the one execution's value.
func TestMemoiseConcurrentReadersShareOneExecution(t *testing.T) {
	t.Parallel()

	var calls int64
	started := make(chan struct{})
	release := make(chan struct{})
	base := func(key ErasedKey) Task[any] {
		if atomic.AddInt64(&calls, 1) == 1 {
			close(started)
			<-release
		}
		return Pure[any](99)
	}
	slots := NewSlots()
	rules := memoise(slots, base)

	const readers = 8
	var wg sync.WaitGroup
	results := make([]int, readers)
	errs := make([]error, readers)
	wg.Add(readers)
	for i := range readers {
		go func(i int) {
			defer wg.Done()
			v, err := Run(context.Background(), rules, Fetch[int](constKey("shared")))
			results[i], errs[i] = v, err
		}(i)
	}

	<-started
	close(release)
	wg.Wait()

	for i := range readers {
		require.NoError(t, errs[i])
		assert.Equal(t, 99, results[i])
	}
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}

// TestMemoiseFillsSlotOnFailure is the package's resolution of spec §9's
// open question: a panicking rule still fills its slot, and every waiter
// (here, sequential re-fetches) observes the same reified failure rather
// than retrying or blocking forever.
func TestMemoiseFillsSlotOnFailure(t *testing.T) {
	t.Parallel()

	var calls int64
	base := func(key ErasedKey) Task[any] {
		atomic.AddInt64(&calls, 1)
		Fail(errors.New("boom"))
		panic("unreachable")
	}
	rules := memoise(NewSlots(), base)

	_, err := Run(context.Background(), rules, Fetch[int](constKey("a")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	_, err = Run(context.Background(), rules, Fetch[int](constKey("a")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
	assert.EqualValues(t, 1, atomic.LoadInt64(&calls))
}
