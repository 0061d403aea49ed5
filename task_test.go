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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type constKey string

func (k constKey) URL() string { return "const://" + string(k) }

// doubleKey fetches constKey(string(k)) and doubles it.
type doubleKey string

func (k doubleKey) URL() string { return "double://" + string(k) }

func constRules(values map[string]int) Rules {
	return func(key ErasedKey) Task[any] {
		switch k := key.(type) {
		case constKey:
			v, ok := values[string(k)]
			if !ok {
				Fail(errors.New("no such const: " + string(k)))
			}
			return Pure[any](v)
		case doubleKey:
			return Bind(Fetch[int](constKey(k)), func(v int) Task[any] {
				return Pure[any](v * 2)
			})
		default:
			panic("unreachable")
		}
	}
}

func TestRunResolvesFetchChain(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{"a": 21})
	result, err := Run(context.Background(), rules, Fetch[int](doubleKey("a")))
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestRunPropagatesFail(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{})
	_, err := Run(context.Background(), rules, Fetch[int](constKey("missing")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such const")
}

func TestBindPreservesFetchSuspension(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{"a": 10, "b": 5})
	task := Bind(Fetch[int](constKey("a")), func(a int) Task[int] {
		return Bind(Fetch[int](constKey("b")), func(b int) Task[int] {
			return Pure(a - b)
		})
	})
	result, err := Run(context.Background(), rules, task)
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestLiftBaseRunsSubTask(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{"a": 4})
	task := LiftBase(func(run RunFunc) int {
		v := run(eraseTask(Fetch[int](constKey("a"))))
		return v.(int) + 1
	})
	result, err := Run(context.Background(), rules, task)
	require.NoError(t, err)
	assert.Equal(t, 5, result)
}

func TestResolveAllFetchesEveryKey(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{"a": 1, "b": 2, "c": 3})
	task := ResolveAll[int](constKey("a"), constKey("b"), constKey("c"))
	result, err := Run(context.Background(), rules, task)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, result)
}

// TestParallelBindPropagatesFail guards against a Fail raised on one of
// ParallelBind's spawned goroutines crashing the process instead of
// reaching Run's top-level recover.
func TestParallelBindPropagatesFail(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{"a": 1})
	task := ParallelBind(Fetch[int](constKey("a")), Fetch[int](constKey("missing")))
	_, err := Run(context.Background(), rules, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such const")
}

// TestResolveAllPropagatesFail is ResolveAll's counterpart to
// TestParallelBindPropagatesFail.
func TestResolveAllPropagatesFail(t *testing.T) {
	t.Parallel()

	rules := constRules(map[string]int{"a": 1, "b": 2})
	task := ResolveAll[int](constKey("a"), constKey("missing"), constKey("b"))
	_, err := Run(context.Background(), rules, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no such const")
}
