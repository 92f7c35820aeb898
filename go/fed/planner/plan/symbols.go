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

	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// RewriteSymbols returns a copy of the tree where every reference to a
// symbol found in the map, by key, is replaced by the mapped expression.
// Only consumed expressions change; the symbols nodes produce stay as they
// are.
func RewriteSymbols(root Node, symbols map[string]sqlast.Expr) Node {
	if len(symbols) == 0 {
		return root
	}
	replace := func(exprs []sqlast.Expr) []sqlast.Expr {
		if exprs == nil {
			return nil
		}
		res := make([]sqlast.Expr, 0, len(exprs))
		for _, e := range exprs {
			res = append(res, sqlast.ReplaceColumns(e, symbols))
		}
		return res
	}

	newRoot, _, _ := BottomUp(root, nil, func(node Node) (Node, *ApplyResult, error) {
		clone := node.Clone(node.Inputs())
		switch n := clone.(type) {
		case *Join:
			n.Criteria = replace(n.Criteria)
			n.LeftExprs = replace(n.LeftExprs)
			n.RightExprs = replace(n.RightExprs)
		case *Select:
			n.Conjuncts = replace(n.Conjuncts)
		case *Project:
			n.Exprs = replace(n.Exprs)
		case *Grouping:
			n.GroupBy = replace(n.GroupBy)
			for i, a := range n.Aggregates {
				n.Aggregates[i] = sqlast.ReplaceColumns(a, symbols).(*sqlast.AggrFunc)
			}
		case *Sort:
			for _, it := range n.Items {
				it.Expr = sqlast.ReplaceColumns(it.Expr, symbols)
			}
		default:
			return node, NoRewrite, nil
		}
		return clone, Rewrote("rewrote symbols"), nil
	})
	return newRoot
}

// RequiredColumns computes, for every node in the tree, the keys of the
// output symbols its consumers need. The root, union branches and view
// definitions are read by position and need all of their outputs.
func RequiredColumns(root Node) map[Node]mapset.Set[string] {
	required := map[Node]mapset.Set[string]{}
	var visit func(node Node, need mapset.Set[string])
	visit = func(node Node, need mapset.Set[string]) {
		if prev, ok := required[node]; ok {
			need = prev.Union(need)
		}
		required[node] = need

		exprCols := func(exprs ...sqlast.Expr) mapset.Set[string] {
			return KeySet(sqlast.ColumnsOf(exprs...))
		}

		switch node := node.(type) {
		case *Select:
			visit(node.Input, need.Union(exprCols(node.Conjuncts...)))
		case *Project:
			var used []sqlast.Expr
			for i, c := range node.Columns {
				if need.Contains(c.Key()) {
					used = append(used, node.Exprs[i])
				}
			}
			visit(node.Input, exprCols(used...))
		case *Grouping:
			visit(node.Input, exprCols(Consumed(node)...))
		case *Sort:
			visit(node.Input, need.Union(exprCols(node.SortExprs()...)))
		case *DupRemove:
			visit(node.Input, KeySet(node.Input.Outputs()))
		case *Limit:
			visit(node.Input, need)
		case *Join:
			all := need.Union(exprCols(node.Criteria...)).
				Union(exprCols(node.LeftExprs...)).
				Union(exprCols(node.RightExprs...))
			visit(node.Left, all.Intersect(KeySet(node.Left.Outputs())))
			visit(node.Right, all.Intersect(KeySet(node.Right.Outputs())))
		case *UnionAll:
			for _, b := range node.Branches {
				visit(b, KeySet(b.Outputs()))
			}
		case *Source:
			if node.View != nil {
				visit(node.View, KeySet(node.View.Outputs()))
			}
		case *Access:
			if node.Input != nil {
				visit(node.Input, need)
			}
		}
	}
	visit(root, KeySet(root.Outputs()))
	return required
}

// IdentityProject returns a Project over input that produces the given
// symbols, each taken from the input as is.
func IdentityProject(input Node, cols []*sqlast.ColName) *Project {
	exprs := make([]sqlast.Expr, 0, len(cols))
	for _, c := range cols {
		exprs = append(exprs, sqlast.NewColName(c.Qualifier, c.Name))
	}
	return &Project{Input: input, Columns: cloneCols(cols), Exprs: exprs}
}

// RemapProject returns a Project over input that produces the symbols of
// cols from the input's outputs, by position.
func RemapProject(input Node, cols []*sqlast.ColName) *Project {
	exprs := make([]sqlast.Expr, 0, len(cols))
	for _, c := range input.Outputs() {
		exprs = append(exprs, sqlast.NewColName(c.Qualifier, c.Name))
	}
	return &Project{Input: input, Columns: cloneCols(cols), Exprs: exprs}
}

// IsIdentity returns true if the Project forwards its input's outputs
// unchanged and in order.
func (p *Project) IsIdentity() bool {
	outputs := p.Input.Outputs()
	if len(outputs) != len(p.Exprs) {
		return false
	}
	for i, e := range p.Exprs {
		col, ok := e.(*sqlast.ColName)
		if !ok || !col.Equal(outputs[i]) || !col.Equal(p.Columns[i]) {
			return false
		}
	}
	return true
}

// SameOutputs returns true if both symbol lists are equal, position by
// position.
func SameOutputs(a, b []*sqlast.ColName) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// Groups returns the group names of the symbols.
func Groups(cols []*sqlast.ColName) mapset.Set[string] {
	set := mapset.NewThreadUnsafeSet[string]()
	for _, c := range cols {
		set.Add(c.Qualifier)
	}
	return set
}
