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

package criteria

import (
	"math/big"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Covered returns true if every column the expression references is in
// the symbol set.
func Covered(e sqlast.Expr, symbols mapset.Set[string]) bool {
	for _, c := range sqlast.ColumnsOf(e) {
		if !symbols.Contains(c.Key()) {
			return false
		}
	}
	return true
}

// Split separates the conjuncts covered by the symbols from the rest.
func Split(conjuncts []sqlast.Expr, symbols mapset.Set[string]) (covered, rest []sqlast.Expr) {
	for _, e := range conjuncts {
		if Covered(e, symbols) {
			covered = append(covered, e)
		} else {
			rest = append(rest, e)
		}
	}
	return covered, rest
}

// EquiPairs extracts the equality conjuncts comparing an expression over
// the left symbols with one over the right symbols. The left and right
// key lists are parallel; others holds every remaining conjunct.
func EquiPairs(conjuncts []sqlast.Expr, left, right mapset.Set[string]) (lefts, rights, others []sqlast.Expr) {
	for _, e := range conjuncts {
		l, r, ok := equiPair(e, left, right)
		if !ok {
			others = append(others, e)
			continue
		}
		lefts = append(lefts, l)
		rights = append(rights, r)
	}
	return lefts, rights, others
}

func equiPair(e sqlast.Expr, left, right mapset.Set[string]) (sqlast.Expr, sqlast.Expr, bool) {
	cmp, ok := e.(*sqlast.ComparisonExpr)
	if !ok || cmp.Operator != sqlast.EqualOp {
		return nil, nil, false
	}
	onlyIn := func(e sqlast.Expr, set mapset.Set[string]) bool {
		cols := sqlast.ColumnsOf(e)
		return len(cols) > 0 && Covered(e, set)
	}
	switch {
	case onlyIn(cmp.Left, left) && onlyIn(cmp.Right, right):
		return cmp.Left, cmp.Right, true
	case onlyIn(cmp.Left, right) && onlyIn(cmp.Right, left):
		return cmp.Right, cmp.Left, true
	}
	return nil, nil, false
}

// IsEquality returns true for a = b.
func IsEquality(e sqlast.Expr) bool {
	cmp, ok := e.(*sqlast.ComparisonExpr)
	return ok && cmp.Operator == sqlast.EqualOp
}

// IsEqualityOrDisjunction returns true for an equality or an OR of
// equalities.
func IsEqualityOrDisjunction(e sqlast.Expr) bool {
	for _, d := range sqlast.SplitOrExpression(nil, e) {
		if !IsEquality(d) {
			return false
		}
	}
	return true
}

// NullRejecting returns true if the predicate cannot be true when every
// symbol of the set is NULL. Outer joins whose inner side is filtered by
// such a predicate behave like inner joins.
func NullRejecting(e sqlast.Expr, symbols mapset.Set[string]) bool {
	references := func(e sqlast.Expr) bool {
		for _, c := range sqlast.ColumnsOf(e) {
			if symbols.Contains(c.Key()) {
				return true
			}
		}
		return false
	}
	strict := func(e sqlast.Expr) bool {
		// operands whose value is NULL whenever a referenced column is
		switch e := e.(type) {
		case *sqlast.ColName:
			return symbols.Contains(e.Key())
		case *sqlast.BinaryExpr:
			return references(e) && !containsFunc(e)
		}
		return false
	}

	switch e := e.(type) {
	case *sqlast.ComparisonExpr:
		return strict(e.Left) || strict(e.Right)
	case *sqlast.IsExpr:
		return e.Right == sqlast.IsNotNullOp && strict(e.Left)
	case *sqlast.AndExpr:
		return NullRejecting(e.Left, symbols) || NullRejecting(e.Right, symbols)
	case *sqlast.OrExpr:
		return NullRejecting(e.Left, symbols) && NullRejecting(e.Right, symbols)
	case *sqlast.NotExpr:
		if cmp, ok := e.Expr.(*sqlast.ComparisonExpr); ok {
			return strict(cmp.Left) || strict(cmp.Right)
		}
	}
	return false
}

func containsFunc(e sqlast.Expr) bool {
	found := false
	_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
		if _, ok := node.(*sqlast.FuncExpr); ok {
			found = true
		}
		return !found, nil
	}, e)
	return found
}

// IsTrue returns true for predicates that hold for every row.
func IsTrue(e sqlast.Expr) bool {
	v, known := constantValue(e)
	return known && v
}

// IsFalse returns true for predicates that hold for no row. NULL counts
// as false.
func IsFalse(e sqlast.Expr) bool {
	v, known := constantValue(e)
	return known && !v
}

func constantValue(e sqlast.Expr) (value bool, known bool) {
	switch e := e.(type) {
	case *sqlast.Literal:
		switch e.Type {
		case sqlast.BoolVal:
			return e.Val == "true", true
		case sqlast.NullVal:
			return false, true
		}
	case *sqlast.ComparisonExpr:
		l, lok := e.Left.(*sqlast.Literal)
		r, rok := e.Right.(*sqlast.Literal)
		if !lok || !rok {
			return false, false
		}
		if l.Type == sqlast.NullVal || r.Type == sqlast.NullVal {
			return false, true
		}
		cmp, ok := compareLiterals(l, r)
		if !ok {
			return false, false
		}
		switch e.Operator {
		case sqlast.EqualOp:
			return cmp == 0, true
		case sqlast.NotEqualOp:
			return cmp != 0, true
		case sqlast.LessThanOp:
			return cmp < 0, true
		case sqlast.LessEqualOp:
			return cmp <= 0, true
		case sqlast.GreaterThanOp:
			return cmp > 0, true
		case sqlast.GreaterEqualOp:
			return cmp >= 0, true
		}
	case *sqlast.AndExpr:
		l, lok := constantValue(e.Left)
		r, rok := constantValue(e.Right)
		switch {
		case lok && !l, rok && !r:
			return false, true
		case lok && rok:
			return true, true
		}
	case *sqlast.OrExpr:
		l, lok := constantValue(e.Left)
		r, rok := constantValue(e.Right)
		switch {
		case lok && l, rok && r:
			return true, true
		case lok && rok:
			return false, true
		}
	}
	return false, false
}

func compareLiterals(l, r *sqlast.Literal) (int, bool) {
	numeric := func(lit *sqlast.Literal) bool {
		return lit.Type == sqlast.IntVal || lit.Type == sqlast.FloatVal
	}
	switch {
	case numeric(l) && numeric(r):
		lf, lok := new(big.Float).SetString(l.Val)
		rf, rok := new(big.Float).SetString(r.Val)
		if !lok || !rok {
			return 0, false
		}
		return lf.Cmp(rf), true
	case l.Type == r.Type && l.Type == sqlast.StrVal:
		switch {
		case l.Val < r.Val:
			return -1, true
		case l.Val > r.Val:
			return 1, true
		}
		return 0, true
	case l.Type == r.Type && l.Type == sqlast.BoolVal:
		if l.Val == r.Val {
			return 0, true
		}
		return 1, true
	}
	return 0, false
}

// BoundColumns returns the names of the columns of group that the
// conjuncts bind to values: col = value, col IN (values), and
// col IN ::list for dependent joins.
func BoundColumns(conjuncts []sqlast.Expr, group string) mapset.Set[string] {
	bound := mapset.NewThreadUnsafeSet[string]()
	for _, e := range conjuncts {
		cmp, ok := e.(*sqlast.ComparisonExpr)
		if !ok {
			continue
		}
		col, value := cmp.Left, cmp.Right
		if _, isCol := col.(*sqlast.ColName); !isCol {
			col, value = value, col
		}
		c, isCol := col.(*sqlast.ColName)
		if !isCol || c.Qualifier != group {
			continue
		}
		switch cmp.Operator {
		case sqlast.EqualOp:
			if sqlast.IsValue(value) {
				bound.Add(c.Name)
			}
		case sqlast.InOp:
			if c != cmp.Left {
				continue
			}
			switch v := value.(type) {
			case *sqlast.ListArg, *sqlast.Argument:
				bound.Add(c.Name)
			case sqlast.ValTuple:
				all := true
				for _, item := range v {
					all = all && sqlast.IsValue(item)
				}
				if all {
					bound.Add(c.Name)
				}
			}
		}
	}
	return bound
}

// SatisfiesAccessPattern returns true if the bound columns cover one of the
// access pattern groups of the table, or if the table has none.
func SatisfiesAccessPattern(t *metadata.Table, bound mapset.Set[string]) bool {
	return t.SatisfiesAccessPattern(bound)
}

// TransitiveEqualities derives col = value for every column that the
// conjuncts equate, directly or through other columns, with a value. Only
// the predicates not already present are returned.
func TransitiveEqualities(conjuncts []sqlast.Expr) []sqlast.Expr {
	parent := map[string]string{}
	cols := map[string]*sqlast.ColName{}
	var find func(string) string
	find = func(k string) string {
		for parent[k] != k {
			parent[k] = parent[parent[k]]
			k = parent[k]
		}
		return k
	}
	add := func(c *sqlast.ColName) string {
		k := c.Key()
		if _, ok := parent[k]; !ok {
			parent[k] = k
			cols[k] = c
		}
		return k
	}

	var order []string
	values := map[string]sqlast.Expr{}
	for _, e := range conjuncts {
		cmp, ok := e.(*sqlast.ComparisonExpr)
		if !ok || cmp.Operator != sqlast.EqualOp {
			continue
		}
		l, lcol := cmp.Left.(*sqlast.ColName)
		r, rcol := cmp.Right.(*sqlast.ColName)
		switch {
		case lcol && rcol:
			a, b := find(add(l)), find(add(r))
			if a != b {
				parent[b] = a
			}
			order = append(order, l.Key(), r.Key())
		case lcol && sqlast.IsValue(cmp.Right):
			k := add(l)
			order = append(order, k)
			if _, seen := values[k]; !seen {
				values[k] = cmp.Right
			}
		case rcol && sqlast.IsValue(cmp.Left):
			k := add(r)
			order = append(order, k)
			if _, seen := values[k]; !seen {
				values[k] = cmp.Left
			}
		}
	}

	classValue := map[string]sqlast.Expr{}
	for _, k := range order {
		if v, ok := values[k]; ok {
			if _, seen := classValue[find(k)]; !seen {
				classValue[find(k)] = v
			}
		}
	}

	var derived []sqlast.Expr
	emitted := map[string]bool{}
	for _, k := range order {
		if emitted[k] {
			continue
		}
		emitted[k] = true
		v, ok := classValue[find(k)]
		if !ok {
			continue
		}
		e := sqlast.NewComparison(sqlast.EqualOp, sqlast.NewColName(cols[k].Qualifier, cols[k].Name), sqlast.CloneExpr(v))
		if !sqlast.ContainsExpr(conjuncts, e) {
			derived = append(derived, e)
		}
	}
	return derived
}

// Conjuncts collects the predicates of Select nodes directly above and
// Join criteria, used by the join planner and access placement to know
// which columns are bound.
func Conjuncts(node plan.Node) []sqlast.Expr {
	switch node := node.(type) {
	case *plan.Select:
		return append(append([]sqlast.Expr(nil), node.Conjuncts...), Conjuncts(node.Input)...)
	case *plan.Access:
		if node.Input != nil {
			return Conjuncts(node.Input)
		}
	case *plan.Project, *plan.Sort, *plan.Limit, *plan.DupRemove:
		return Conjuncts(node.Inputs()[0])
	}
	return nil
}
