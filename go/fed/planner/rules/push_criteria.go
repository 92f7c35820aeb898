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

package rules

import (
	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/joins"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// PushCriteria moves filter conjuncts towards the base tables: through
// projections, sorts and duplicate removal, below groupings when only
// grouping columns are referenced, into every branch of a union, into view
// definitions and into or below joins. Null rejecting filters over the
// inner side of an outer join turn it into an inner join, and values
// equated through join criteria are copied to the other side.
func PushCriteria(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.TopDown(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		switch node := node.(type) {
		case *plan.Select:
			res, ar := pushSelect(node)
			return res, ar, nil
		case *plan.Join:
			res, ar := pushJoinCriteria(node)
			return res, ar, nil
		}
		return node, plan.NoRewrite, nil
	})
}

// movable reports whether evaluating the conjunct elsewhere in the tree
// keeps its meaning.
func movable(e sqlast.Expr) bool {
	return sqlast.IsDeterministic(e) && !sqlast.ContainsAggregate(e) && !sqlast.ContainsListArg(e)
}

func appendNew(list []sqlast.Expr, exprs ...sqlast.Expr) []sqlast.Expr {
	for _, e := range exprs {
		if !sqlast.ContainsExpr(list, e) {
			list = append(list, e)
		}
	}
	return list
}

// filter returns input filtered by conjuncts, merged into input when it is
// already a filter.
func filter(input plan.Node, conjuncts []sqlast.Expr) plan.Node {
	if len(conjuncts) == 0 {
		return input
	}
	if sel, ok := input.(*plan.Select); ok && !sel.Having {
		return &plan.Select{Input: sel.Input, Conjuncts: appendNew(sqlast.CloneExprs(sel.Conjuncts), conjuncts...)}
	}
	return &plan.Select{Input: input, Conjuncts: conjuncts}
}

// above keeps the conjuncts that stay in place on top of input.
func above(stay []sqlast.Expr, sel *plan.Select, input plan.Node) plan.Node {
	if len(stay) == 0 {
		return input
	}
	return &plan.Select{Input: input, Conjuncts: stay, Having: sel.Having}
}

func pushSelect(sel *plan.Select) (plan.Node, *plan.ApplyResult) {
	if in, ok := sel.Input.(*plan.Select); ok {
		if in.Having != sel.Having {
			return sel, plan.NoRewrite
		}
		merged := &plan.Select{Input: in.Input, Conjuncts: appendNew(sqlast.CloneExprs(in.Conjuncts), sel.Conjuncts...), Having: sel.Having}
		return merged, plan.Rewrote("merged adjacent filters")
	}

	var stay, move []sqlast.Expr
	for _, c := range sel.Conjuncts {
		if movable(c) {
			move = append(move, c)
		} else {
			stay = append(stay, c)
		}
	}
	if len(move) == 0 {
		return sel, plan.NoRewrite
	}

	switch in := sel.Input.(type) {
	case *plan.Sort:
		if in.JoinSort {
			return sel, plan.NoRewrite
		}
		return above(stay, sel, in.Clone([]plan.Node{filter(in.Input, move)})), plan.Rewrote("pushed filter below sort")
	case *plan.DupRemove:
		return above(stay, sel, in.Clone([]plan.Node{filter(in.Input, move)})), plan.Rewrote("pushed filter below duplicate removal")
	case *plan.Project:
		mapping := make(map[string]sqlast.Expr, len(in.Columns))
		for i, c := range in.Columns {
			mapping[c.Key()] = in.Exprs[i]
		}
		var below []sqlast.Expr
		for _, c := range move {
			if sub := sqlast.ReplaceColumns(c, mapping); movable(sub) && !sqlast.ContainsSubquery(sub) {
				below = append(below, sub)
			} else {
				stay = append(stay, c)
			}
		}
		if len(below) == 0 {
			return sel, plan.NoRewrite
		}
		return above(stay, sel, in.Clone([]plan.Node{filter(in.Input, below)})), plan.Rewrote("pushed filter below projection")
	case *plan.Grouping:
		mapping := make(map[string]sqlast.Expr, len(in.GroupBy))
		for i, gb := range in.GroupBy {
			mapping[in.GroupCol(i).Key()] = gb
		}
		var below []sqlast.Expr
		for _, c := range move {
			if onlyGroupingColumns(c, mapping) {
				below = append(below, sqlast.ReplaceColumns(c, mapping))
			} else {
				stay = append(stay, c)
			}
		}
		if len(below) == 0 {
			return sel, plan.NoRewrite
		}
		return above(stay, sel, in.Clone([]plan.Node{filter(in.Input, below)})), plan.Rewrote("pushed filter below grouping")
	case *plan.UnionAll:
		first := in.Outputs()
		branches := make([]plan.Node, 0, len(in.Branches))
		for _, b := range in.Branches {
			mapping := map[string]sqlast.Expr{}
			for i, c := range b.Outputs() {
				mapping[first[i].Key()] = c
			}
			copies := make([]sqlast.Expr, 0, len(move))
			for _, c := range move {
				copies = append(copies, sqlast.ReplaceColumns(c, mapping))
			}
			branches = append(branches, filter(b, copies))
		}
		return above(stay, sel, &plan.UnionAll{Branches: branches}), plan.Rewrotef("copied filter into %d union branches", len(branches))
	case *plan.Source:
		if !in.IsView() {
			return sel, plan.NoRewrite
		}
		mapping := map[string]sqlast.Expr{}
		defs := in.View.Outputs()
		for i, c := range in.Outputs() {
			mapping[c.Key()] = defs[i]
		}
		below := make([]sqlast.Expr, 0, len(move))
		for _, c := range move {
			below = append(below, sqlast.ReplaceColumns(c, mapping))
		}
		return above(stay, sel, in.Clone([]plan.Node{filter(in.View, below)})), plan.Rewrotef("pushed filter into view %s", in.Group)
	case *plan.Join:
		return pushIntoJoin(sel, stay, move, in)
	}
	return sel, plan.NoRewrite
}

// onlyGroupingColumns reports whether e reads grouping columns and nothing
// else. A filter without columns cannot move below a grouping without
// group by, which returns a row even for an empty input.
func onlyGroupingColumns(e sqlast.Expr, mapping map[string]sqlast.Expr) bool {
	cols := sqlast.ColumnsOf(e)
	if len(cols) == 0 {
		return false
	}
	for _, c := range cols {
		if _, ok := mapping[c.Key()]; !ok {
			return false
		}
	}
	return true
}

func pushIntoJoin(sel *plan.Select, stay, move []sqlast.Expr, j *plan.Join) (plan.Node, *plan.ApplyResult) {
	if j.Strategy != plan.StrategyUndecided {
		return sel, plan.NoRewrite
	}
	leftSyms, rightSyms := plan.KeySet(j.Left.Outputs()), plan.KeySet(j.Right.Outputs())

	switch j.Type {
	case plan.RightOuterJoin:
		return sel.Clone([]plan.Node{joins.NormalizeRightOuter(j)}), plan.Rewrote("right outer join turned into left outer join")
	case plan.FullOuterJoin:
		var rejectsLeft, rejectsRight bool
		for _, c := range move {
			rejectsLeft = rejectsLeft || criteria.NullRejecting(c, leftSyms)
			rejectsRight = rejectsRight || criteria.NullRejecting(c, rightSyms)
		}
		typ := j.Type
		switch {
		case rejectsLeft && rejectsRight:
			typ = plan.InnerJoin
		case rejectsLeft:
			typ = plan.LeftOuterJoin
		case rejectsRight:
			typ = plan.RightOuterJoin
		default:
			return sel, plan.NoRewrite
		}
		nj := j.Clone([]plan.Node{j.Left, j.Right}).(*plan.Join)
		nj.Type = typ
		return sel.Clone([]plan.Node{nj}), plan.Rewrotef("null rejecting filter turned full outer join into %s join", typ)
	case plan.LeftOuterJoin:
		for _, c := range move {
			if criteria.NullRejecting(c, rightSyms) {
				nj := j.Clone([]plan.Node{j.Left, j.Right}).(*plan.Join)
				nj.Type = plan.InnerJoin
				return sel.Clone([]plan.Node{nj}), plan.Rewrote("null rejecting filter turned left outer join into inner join")
			}
		}
		toLeft, rest := criteria.Split(move, leftSyms)
		if len(toLeft) == 0 {
			return sel, plan.NoRewrite
		}
		nj := j.Clone([]plan.Node{filter(j.Left, toLeft), j.Right})
		return above(append(stay, rest...), sel, nj), plan.Rewrote("pushed filter to the outer side of a join")
	}

	all := append(move, criteria.TransitiveEqualities(append(sqlast.CloneExprs(move), j.Criteria...))...)
	toLeft, rest := criteria.Split(all, leftSyms)
	toRight, both := criteria.Split(rest, rightSyms)
	nj := j.Clone([]plan.Node{filter(j.Left, toLeft), filter(j.Right, toRight)}).(*plan.Join)
	nj.Criteria = appendNew(nj.Criteria, both...)
	if len(nj.Criteria) > 0 {
		nj.Type = plan.InnerJoin
	}
	return above(stay, sel, nj), plan.Rewrote("pushed filter into join")
}

// pushJoinCriteria moves join criteria that only read one side below the
// join, where the join type allows it.
func pushJoinCriteria(j *plan.Join) (plan.Node, *plan.ApplyResult) {
	if j.Strategy != plan.StrategyUndecided {
		return j, plan.NoRewrite
	}
	switch j.Type {
	case plan.RightOuterJoin:
		return joins.NormalizeRightOuter(j), plan.Rewrote("right outer join turned into left outer join")
	case plan.InnerJoin, plan.LeftOuterJoin:
	default:
		return j, plan.NoRewrite
	}

	leftSyms, rightSyms := plan.KeySet(j.Left.Outputs()), plan.KeySet(j.Right.Outputs())
	conjuncts := j.Criteria
	if j.Type == plan.InnerJoin {
		conjuncts = append(sqlast.CloneExprs(j.Criteria), criteria.TransitiveEqualities(j.Criteria)...)
	}
	var keep, toLeft, toRight []sqlast.Expr
	for _, c := range conjuncts {
		switch {
		case !movable(c) || len(sqlast.ColumnsOf(c)) == 0:
			keep = append(keep, c)
		case j.Type == plan.InnerJoin && criteria.Covered(c, leftSyms):
			toLeft = append(toLeft, c)
		case criteria.Covered(c, rightSyms):
			toRight = append(toRight, c)
		default:
			keep = append(keep, c)
		}
	}
	if len(toLeft)+len(toRight) == 0 {
		return j, plan.NoRewrite
	}
	nj := j.Clone([]plan.Node{filter(j.Left, toLeft), filter(j.Right, toRight)}).(*plan.Join)
	nj.Criteria = keep
	if nj.Type == plan.InnerJoin && len(keep) == 0 {
		nj.Type = plan.CrossJoin
	}
	return nj, plan.Rewrote("pushed join criteria below the join")
}
