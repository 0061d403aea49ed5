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

package fingerprint_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/hollowtree/increco/internal/fingerprint"
)

func TestOfIsStableForEqualValues(t *testing.T) {
	t.Parallel()

	type record struct {
		Name string
		N    int
	}

	a := fingerprint.Of(record{Name: "x", N: 1})
	b := fingerprint.Of(record{Name: "x", N: 1})
	assert.Equal(t, a, b)
}

func TestOfDiffersForDifferentValues(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, fingerprint.Of(1), fingerprint.Of(2))
	assert.NotEqual(t, fingerprint.Of("a"), fingerprint.Of("b"))
}

func TestOfPanicsOnNonGobEncodable(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() {
		fingerprint.Of(func() {})
	})
}
