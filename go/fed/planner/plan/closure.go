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
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Consumed returns the expressions a node evaluates against the outputs of
// its inputs.
func Consumed(node Node) []sqlast.Expr {
	switch node := node.(type) {
	case *Join:
		return node.Criteria
	case *Select:
		return node.Conjuncts
	case *Project:
		return node.Exprs
	case *Grouping:
		exprs := append([]sqlast.Expr(nil), node.GroupBy...)
		for _, a := range node.Aggregates {
			exprs = append(exprs, a)
		}
		return exprs
	case *Sort:
		return node.SortExprs()
	}
	return nil
}

// KeySet returns the keys of the symbols.
func KeySet(cols []*sqlast.ColName) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSetWithSize[string](len(cols))
	for _, c := range cols {
		set.Add(c.Key())
	}
	return set
}

// InputSymbols returns the keys of all symbols produced by the node's
// inputs.
func InputSymbols(node Node) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, in := range node.Inputs() {
		for _, c := range in.Outputs() {
			set.Add(c.Key())
		}
	}
	return set
}

// CheckClosure verifies that every symbol consumed anywhere in the tree is
// produced by an input of the consuming node, that positional consumers
// see matching arities, and that Access nodes carry either an input or a
// command.
func CheckClosure(root Node) error {
	return VisitF(root, func(node Node) error {
		available := InputSymbols(node)
		for _, col := range sqlast.ColumnsOf(Consumed(node)...) {
			if !available.Contains(col.Key()) {
				return federrors.Bug("closure violation: %s consumes %s which no input produces", Describe(node), col.Key())
			}
		}

		switch node := node.(type) {
		case *Project:
			if len(node.Columns) != len(node.Exprs) {
				return federrors.Bug("project has %d columns for %d expressions", len(node.Columns), len(node.Exprs))
			}
		case *Join:
			if len(node.LeftExprs) != len(node.RightExprs) {
				return federrors.Bug("join has %d left keys for %d right keys", len(node.LeftExprs), len(node.RightExprs))
			}
		case *UnionAll:
			if len(node.Branches) == 0 {
				return federrors.Bug("union without branches")
			}
			width := len(node.Branches[0].Outputs())
			for _, b := range node.Branches[1:] {
				if len(b.Outputs()) != width {
					return federrors.Bug("union branch %s produces %d columns, expected %d", Describe(b), len(b.Outputs()), width)
				}
			}
		case *Source:
			if node.View != nil && len(node.View.Outputs()) != len(node.Columns) {
				return federrors.Bug("view %s has %d columns but its definition produces %d", node.Group, len(node.Columns), len(node.View.Outputs()))
			}
		case *Access:
			if node.Input == nil && node.Command == nil {
				return federrors.Bug("access to %s has neither input nor command", node.Source)
			}
		}
		return nil
	})
}

// Describe returns the type name and the short description of a node, the
// form used to identify subtrees in errors.
func Describe(node Node) string {
	desc := node.ShortDescription()
	if desc == "" {
		return TypeName(node)
	}
	return TypeName(node) + " (" + desc + ")"
}
