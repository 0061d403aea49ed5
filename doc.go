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

/*
Package increco implements a demand-driven incremental computation engine:
the kernel that sits underneath build systems, incremental compilers, and
query-based analyzers.

Host code supplies keys (values implementing [Key]) and a [Rules] function
mapping a key to the [Task] that computes its value. increco executes that
Task, memoising the result, recording the sub-queries the Task fetched along
the way, and fingerprinting each one. On a later run, if every recorded
dependency's fingerprint is unchanged, the old value is reused without
re-running the rule at all.

# Implementing a query family

A key only needs a stable identity:

	type CompileFile struct{ Path string }

	func (k CompileFile) URL() string { return "compile://" + k.Path }

and a rule that knows how to produce a value for it, expressed as a [Task].
Rules given to [New] pair their result with a [TaskKind] using [Writer], so
the trace verifier can tell a derived rule (cached by its dependencies'
fingerprints) from an input rule (always re-run):

	func Rules(key increco.ErasedKey) increco.Task[any] {
		switch k := key.(type) {
		case CompileFile:
			return increco.Bind(increco.Fetch[string](ReadFile{k.Path}), func(src string) increco.Task[any] {
				return increco.Pure[any](increco.Writer[increco.TaskKind]{Value: compile(src), Side: increco.Derived})
			})
		...
		}
	}

[Task] is a suspendable computation: stepping it performs ordinary work and
then returns exactly one of Done, Fetch, or LiftBase (see [Result]). Fetch
means "pause until key's value is known"; the driver resolves it by invoking
Rules and resuming the continuation. LiftBase hands a "run a sub-Task"
capability back to host code, which is how parallelism enters the system —
see [ParallelBind].

# Putting it together

[New] composes the full transformer stack — memoisation, trace
verification, reverse-dependency tracking, and version bookkeeping — over a
host's base Rules, and returns an [Executor]. [RunQuery] and [RunExecutor]
drive a key or a root Task against it; [Executor.Invalidate] discards a key and everything that
(transitively) depended on it, forcing recomputation on the next run.
*/
package increco
