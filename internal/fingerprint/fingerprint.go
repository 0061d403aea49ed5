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

// Package fingerprint provides small helpers for building increco
// Fingerprinter values out of arbitrary host result types, for hosts that
// don't already have a cheaper equivalence notion of their own (a content
// hash, a version stamp) lying around.
package fingerprint

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"hash/maphash"
)

var seed = maphash.MakeSeed()

// Of gob-encodes a and hashes the encoding into a uint64. Two values that
// gob-encode identically hash identically; this is sufficient (if not
// cheap) as a default Fingerprinter for plain data values. It panics if a
// is not gob-encodable — hosts with richer result types (functions,
// channels, types gob can't see into) should supply their own
// Fingerprinter instead.
func Of(a any) uint64 {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(a); err != nil {
		panic(fmt.Errorf("fingerprint: value is not gob-encodable: %w", err))
	}

	var h maphash.Hash
	h.SetSeed(seed)
	_, _ = h.Write(buf.Bytes())
	return h.Sum64()
}
