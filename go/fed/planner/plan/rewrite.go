/*
Copyright 2026 The Fedplan Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package plan

import (
	"fmt"
	"slices"

	"github.com/gammazero/deque"
)

type (
	// ApplyResult tracks what a rewrite did to the tree.
	ApplyResult struct {
		Transformations []Rewrite
	}

	// Rewrite describes a single change.
	Rewrite struct {
		Message string
	}

	// VisitRule tells TopDown whether to continue into a node's inputs.
	VisitRule bool

	// Rewriter is called on every node.
	Rewriter func(Node) (Node, *ApplyResult, error)

	// ShouldVisit is used when we want to control which nodes and
	// ancestors to visit and which to skip.
	ShouldVisit func(Node) VisitRule
)

const (
	VisitChildren VisitRule = true
	SkipChildren  VisitRule = false
)

// NoRewrite is returned by rewriters that left the node untouched.
var NoRewrite *ApplyResult = nil

// Rewrote returns an ApplyResult holding a single transformation.
func Rewrote(message string) *ApplyResult {
	return &ApplyResult{Transformations: []Rewrite{{Message: message}}}
}

// Rewrotef formats the message of a single transformation.
func Rewrotef(format string, args ...any) *ApplyResult {
	return Rewrote(fmt.Sprintf(format, args...))
}

// Merge combines two results. Either side may be nil.
func (ar *ApplyResult) Merge(other *ApplyResult) *ApplyResult {
	if ar == nil {
		return other
	}
	if other == nil {
		return ar
	}
	return &ApplyResult{Transformations: append(slices.Clone(ar.Transformations), other.Transformations...)}
}

// Changed returns true if anything was rewritten.
func (ar *ApplyResult) Changed() bool {
	return ar != nil
}

// Messages returns the messages of all transformations.
func (ar *ApplyResult) Messages() []string {
	if ar == nil {
		return nil
	}
	res := make([]string, 0, len(ar.Transformations))
	for _, t := range ar.Transformations {
		res = append(res, t.Message)
	}
	return res
}

// VisitF visits every node in the tree, children first.
func VisitF(root Node, visitor func(node Node) error) error {
	for _, input := range root.Inputs() {
		if err := VisitF(input, visitor); err != nil {
			return err
		}
	}
	return visitor(root)
}

// VisitTopDown visits every node breadth first, starting at the root.
// Returning false from the visitor skips the node's inputs.
func VisitTopDown(root Node, visitor func(Node) bool) {
	var queue deque.Deque[Node]
	queue.PushBack(root)
	for queue.Len() > 0 {
		node := queue.PopFront()
		if !visitor(node) {
			continue
		}
		for _, input := range node.Inputs() {
			queue.PushBack(input)
		}
	}
}

// BottomUp rewrites all the nodes in the tree, visiting the inputs before
// the parent. resolveChildren controls which subtrees are entered.
func BottomUp(root Node, resolveChildren ShouldVisit, rewriter Rewriter) (Node, *ApplyResult, error) {
	if resolveChildren == nil {
		resolveChildren = visitAll
	}
	return bottomUp(root, resolveChildren, rewriter)
}

// TopDown rewrites the root first and then the inputs of whatever the
// rewriter returned. shouldVisit can stop the walk at a node.
func TopDown(root Node, shouldVisit ShouldVisit, rewriter Rewriter) (Node, *ApplyResult, error) {
	if shouldVisit == nil {
		shouldVisit = visitAll
	}
	return topDown(root, shouldVisit, rewriter)
}

func visitAll(Node) VisitRule {
	return VisitChildren
}

func bottomUp(root Node, resolveChildren ShouldVisit, rewriter Rewriter) (Node, *ApplyResult, error) {
	if !resolveChildren(root) {
		return root, NoRewrite, nil
	}

	var anythingChanged *ApplyResult
	oldInputs := root.Inputs()
	var newInputs []Node
	for i, operator := range oldInputs {
		in, changed, err := bottomUp(operator, resolveChildren, rewriter)
		if err != nil {
			return nil, nil, err
		}
		anythingChanged = anythingChanged.Merge(changed)
		if changed.Changed() {
			if newInputs == nil {
				newInputs = slices.Clone(oldInputs)
			}
			newInputs[i] = in
		}
	}

	if newInputs != nil {
		root = root.Clone(newInputs)
	}

	newOp, treeIdentity, err := rewriter(root)
	if err != nil {
		return nil, nil, err
	}
	anythingChanged = anythingChanged.Merge(treeIdentity)
	return newOp, anythingChanged, nil
}

func topDown(root Node, shouldVisit ShouldVisit, rewriter Rewriter) (Node, *ApplyResult, error) {
	newOp, anythingChanged, err := rewriter(root)
	if err != nil {
		return nil, nil, err
	}

	if !shouldVisit(newOp) {
		return newOp, anythingChanged, nil
	}

	oldInputs := newOp.Inputs()
	var newInputs []Node
	for i, input := range oldInputs {
		in, changed, err := topDown(input, shouldVisit, rewriter)
		if err != nil {
			return nil, nil, err
		}
		anythingChanged = anythingChanged.Merge(changed)
		if changed.Changed() {
			if newInputs == nil {
				newInputs = slices.Clone(oldInputs)
			}
			newInputs[i] = in
		}
	}

	if newInputs != nil {
		newOp = newOp.Clone(newInputs)
	}
	return newOp, anythingChanged, nil
}

// Count returns the number of nodes in the tree matching the predicate.
func Count(root Node, match func(Node) bool) int {
	n := 0
	VisitTopDown(root, func(node Node) bool {
		if match(node) {
			n++
		}
		return true
	})
	return n
}

// Find returns the nodes of type T in breadth first order.
func Find[T Node](root Node) []T {
	var res []T
	VisitTopDown(root, func(node Node) bool {
		if t, ok := node.(T); ok {
			res = append(res, t)
		}
		return true
	})
	return res
}

// SkipAccess stops rewrites at Access nodes, leaving the subtrees already
// assigned to a source alone.
func SkipAccess(node Node) VisitRule {
	_, isAccess := node.(*Access)
	return VisitRule(!isAccess)
}
