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

package sqlast

// Visit defines the signature of a function that can be used to visit all
// nodes of an expression tree. Returning false stops the walk below the
// current node.
type Visit func(node SQLNode) (kontinue bool, err error)

// Walk calls visit on every node. Subqueries are visited but not entered:
// the planner treats them as opaque values.
func Walk(visit Visit, nodes ...SQLNode) error {
	for _, node := range nodes {
		if isNilNode(node) {
			continue
		}
		kontinue, err := visit(node)
		if err != nil {
			return err
		}
		if !kontinue {
			continue
		}
		if err := Walk(visit, children(node)...); err != nil {
			return err
		}
	}
	return nil
}

func children(node SQLNode) []SQLNode {
	switch node := node.(type) {
	case ValTuple:
		res := make([]SQLNode, 0, len(node))
		for _, e := range node {
			res = append(res, e)
		}
		return res
	case *ComparisonExpr:
		return []SQLNode{node.Left, node.Right}
	case *AndExpr:
		return []SQLNode{node.Left, node.Right}
	case *OrExpr:
		return []SQLNode{node.Left, node.Right}
	case *NotExpr:
		return []SQLNode{node.Expr}
	case *IsExpr:
		return []SQLNode{node.Left}
	case *BinaryExpr:
		return []SQLNode{node.Left, node.Right}
	case *FuncExpr:
		res := make([]SQLNode, 0, len(node.Exprs))
		for _, e := range node.Exprs {
			res = append(res, e)
		}
		return res
	case *AggrFunc:
		if node.Arg == nil {
			return nil
		}
		return []SQLNode{node.Arg}
	case *AliasedExpr:
		return []SQLNode{node.Expr}
	case *Order:
		return []SQLNode{node.Expr}
	}
	return nil
}

// RewriteExpr rebuilds the expression bottom up, calling replace on every
// rebuilt node. The input is never modified.
func RewriteExpr(expr Expr, replace func(Expr) Expr) Expr {
	if expr == nil {
		return nil
	}
	var rebuilt Expr
	switch node := expr.(type) {
	case *ColName:
		rebuilt = &ColName{Qualifier: node.Qualifier, Name: node.Name}
	case *Literal:
		rebuilt = &Literal{Type: node.Type, Val: node.Val}
	case *Argument:
		rebuilt = &Argument{Name: node.Name}
	case *ListArg:
		rebuilt = &ListArg{Name: node.Name}
	case ValTuple:
		tuple := make(ValTuple, 0, len(node))
		for _, e := range node {
			tuple = append(tuple, RewriteExpr(e, replace))
		}
		rebuilt = tuple
	case *ComparisonExpr:
		rebuilt = &ComparisonExpr{
			Operator: node.Operator,
			Left:     RewriteExpr(node.Left, replace),
			Right:    RewriteExpr(node.Right, replace),
		}
	case *AndExpr:
		rebuilt = &AndExpr{Left: RewriteExpr(node.Left, replace), Right: RewriteExpr(node.Right, replace)}
	case *OrExpr:
		rebuilt = &OrExpr{Left: RewriteExpr(node.Left, replace), Right: RewriteExpr(node.Right, replace)}
	case *NotExpr:
		rebuilt = &NotExpr{Expr: RewriteExpr(node.Expr, replace)}
	case *IsExpr:
		rebuilt = &IsExpr{Left: RewriteExpr(node.Left, replace), Right: node.Right}
	case *BinaryExpr:
		rebuilt = &BinaryExpr{
			Operator: node.Operator,
			Left:     RewriteExpr(node.Left, replace),
			Right:    RewriteExpr(node.Right, replace),
		}
	case *FuncExpr:
		exprs := make([]Expr, 0, len(node.Exprs))
		for _, e := range node.Exprs {
			exprs = append(exprs, RewriteExpr(e, replace))
		}
		rebuilt = &FuncExpr{Name: node.Name, Exprs: exprs}
	case *AggrFunc:
		rebuilt = &AggrFunc{
			Name:     node.Name,
			Arg:      RewriteExpr(node.Arg, replace),
			Star:     node.Star,
			Distinct: node.Distinct,
		}
	case *Subquery:
		rebuilt = &Subquery{Select: node.Select}
	default:
		rebuilt = expr
	}
	return replace(rebuilt)
}

// CloneExpr returns a deep copy of the expression.
func CloneExpr(expr Expr) Expr {
	return RewriteExpr(expr, func(e Expr) Expr { return e })
}

// CloneExprs returns deep copies of all the expressions.
func CloneExprs(exprs []Expr) []Expr {
	if exprs == nil {
		return nil
	}
	res := make([]Expr, 0, len(exprs))
	for _, e := range exprs {
		res = append(res, CloneExpr(e))
	}
	return res
}

// ReplaceColumns returns a copy of expr where every column found in the
// map, by Key, is replaced by a copy of the mapped expression.
func ReplaceColumns(expr Expr, columns map[string]Expr) Expr {
	if len(columns) == 0 {
		return CloneExpr(expr)
	}
	return RewriteExpr(expr, func(e Expr) Expr {
		col, ok := e.(*ColName)
		if !ok {
			return e
		}
		if to, found := columns[col.Key()]; found {
			return CloneExpr(to)
		}
		return e
	})
}

// ReplaceExpr returns a copy of expr where every sub expression that is
// equal to from is replaced by a copy of to.
func ReplaceExpr(expr, from, to Expr) Expr {
	return RewriteExpr(expr, func(e Expr) Expr {
		if EqualsExpr(e, from) {
			return CloneExpr(to)
		}
		return e
	})
}
