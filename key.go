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

import "errors"

// Key identifies one unit of work that produces a value of type A. The
// query family is open: hosts can define as many Key[A] implementations as
// they like, for as many result types A as they like.
//
// URL is the only method, and it carries no A in its signature — which
// means Go's structural typing cannot by itself guarantee that a Key[A]
// value was fetched with the A its rule actually produces. That guarantee
// is the host's to keep: two keys with the same URL must always carry the
// same hidden result type (the "equal queries must have equal result
// types" invariant from the design). [Fetch] recovers the static type with
// a type assertion at the point the value comes back; a host that violates
// the invariant gets a panic there, not silent corruption.
type Key[A any] interface {
	// URL returns a stable, comparable identity for this key. Two keys
	// with equal URLs are the same query for memoisation purposes.
	URL() string
}

// ErasedKey is the type-erased identity of a Key[A] for some hidden A.
// Every Key[A] implementation automatically satisfies ErasedKey, since
// A never appears in the method set. Internals of the engine — the memo
// table, traces, and reverse-dependency index — operate on ErasedKey; only
// the call sites that fetched a concrete Key[A] ever need to know A.
type ErasedKey interface {
	URL() string
}

// ErrCycle is returned (wrapped) by a rule that detects it has been asked,
// directly or transitively, to fetch its own key. The core does not detect
// cycles on its own (a cyclic fetch blocks on its own memo slot, and
// [Executor.CheckCycles] is only an opt-in diagnostic); hosts
// that want protection must check for reentrancy themselves and call
// [Fail] with an error that wraps ErrCycle.
var ErrCycle = errors.New("increco: cyclic fetch")
