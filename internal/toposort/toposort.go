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

// Package toposort sorts an ErasedKey dependency graph topologically. It
// plays no part in increco's own execution path — memoise's slot protocol
// turns a cyclic fetch into a deadlock (a rule blocked on a memo slot that
// only it would fill) rather than silently looping forever, and detecting
// that is the caller's business. Executor.CheckCycles uses this package to
// give callers that check against a snapshot of the reverse-dependency
// graph recorded by earlier runs.
package toposort

import "fmt"

// Sort topologically sorts the graph reachable from roots. children
// expands a node to its dependencies; key recovers a comparable identity
// for a node (two nodes with the same key are the same node). The
// returned slice orders every node after all of the nodes children said
// it depends on. Sort panics if the graph reachable from roots contains
// a cycle.
func Sort[Node any, Key comparable](roots []Node, key func(Node) Key, children func(Node) []Node) []Node {
	s := &sorter[Node, Key]{
		key:      key,
		children: children,
		state:    make(map[Key]state, len(roots)),
	}
	for _, root := range roots {
		s.visit(root, nil)
	}
	return s.order
}

type state uint8

const (
	unvisited state = iota
	visiting
	visited
)

type sorter[Node any, Key comparable] struct {
	key      func(Node) Key
	children func(Node) []Node
	state    map[Key]state
	order    []Node
}

func (s *sorter[Node, Key]) visit(n Node, path []Key) {
	k := s.key(n)
	switch s.state[k] {
	case visited:
		return
	case visiting:
		panic(fmt.Sprintf("toposort: cycle detected: %v -> %v", path, k))
	}

	s.state[k] = visiting
	path = append(path, k)
	for _, child := range s.children(n) {
		s.visit(child, path)
	}
	s.state[k] = visited
	s.order = append(s.order, n)
}
