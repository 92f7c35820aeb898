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
	"slices"

	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// RaiseNull propagates Null nodes and filters that are always false
// upwards, replacing every operator whose result is known to be empty.
// Outer joins keep the rows of their preserved side, padded with NULLs.
func RaiseNull(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		switch node := node.(type) {
		case *plan.Select:
			if isNull(node.Input) || slices.ContainsFunc(node.Conjuncts, criteria.IsFalse) {
				return empty(ctx, node, "filter never matches")
			}
		case *plan.Project, *plan.Sort, *plan.DupRemove, *plan.Limit:
			if isNull(node.Inputs()[0]) {
				return empty(ctx, node, "input produces no rows")
			}
		case *plan.Grouping:
			if len(node.GroupBy) > 0 && isNull(node.Input) {
				return empty(ctx, node, "grouping over no rows")
			}
		case *plan.Join:
			return nullJoin(ctx, node)
		case *plan.UnionAll:
			return nullUnion(node)
		}
		return node, plan.NoRewrite, nil
	})
}

func isNull(node plan.Node) bool {
	_, ok := node.(*plan.Null)
	return ok
}

func empty(ctx *plancontext.PlanningContext, node plan.Node, why string) (plan.Node, *plan.ApplyResult, error) {
	ctx.Record.Decided(plan.Describe(node), "replaced by an empty result: %s", why)
	return &plan.Null{Cols: node.Outputs()}, plan.Rewrotef("replaced %s by null: %s", plan.TypeName(node), why), nil
}

func nullJoin(ctx *plancontext.PlanningContext, j *plan.Join) (plan.Node, *plan.ApplyResult, error) {
	leftNull, rightNull := isNull(j.Left), isNull(j.Right)
	never := slices.ContainsFunc(j.Criteria, criteria.IsFalse)
	if !leftNull && !rightNull && !never {
		return j, plan.NoRewrite, nil
	}
	switch j.Type {
	case plan.InnerJoin, plan.CrossJoin:
		return empty(ctx, j, "join never matches")
	case plan.LeftOuterJoin:
		if leftNull {
			return empty(ctx, j, "preserved side produces no rows")
		}
		return padded(j, plan.SideRight), plan.Rewrote("replaced left outer join by its padded left side"), nil
	case plan.RightOuterJoin:
		if rightNull {
			return empty(ctx, j, "preserved side produces no rows")
		}
		return padded(j, plan.SideLeft), plan.Rewrote("replaced right outer join by its padded right side"), nil
	case plan.FullOuterJoin:
		switch {
		case leftNull && rightNull:
			return empty(ctx, j, "both sides produce no rows")
		case rightNull:
			return padded(j, plan.SideRight), plan.Rewrote("replaced full outer join by its padded left side"), nil
		case leftNull:
			return padded(j, plan.SideLeft), plan.Rewrote("replaced full outer join by its padded right side"), nil
		}
	}
	// a full outer join that never matches keeps the rows of both sides
	return j, plan.NoRewrite, nil
}

// padded replaces the join by its kept side, producing NULL for every
// output of the missing side.
func padded(j *plan.Join, missing plan.Side) plan.Node {
	kept := j.Left
	if missing == plan.SideLeft {
		kept = j.Right
	}
	nulls := func(cols []*sqlast.ColName) []sqlast.Expr {
		res := make([]sqlast.Expr, 0, len(cols))
		for range cols {
			res = append(res, sqlast.NewNullLiteral())
		}
		return res
	}
	forward := func(cols []*sqlast.ColName) []sqlast.Expr {
		res := make([]sqlast.Expr, 0, len(cols))
		for _, c := range cols {
			res = append(res, sqlast.NewColName(c.Qualifier, c.Name))
		}
		return res
	}
	var exprs []sqlast.Expr
	if missing == plan.SideLeft {
		exprs = append(nulls(j.Left.Outputs()), forward(j.Right.Outputs())...)
	} else {
		exprs = append(forward(j.Left.Outputs()), nulls(j.Right.Outputs())...)
	}
	return &plan.Project{Input: kept, Columns: j.Outputs(), Exprs: exprs}
}

func nullUnion(u *plan.UnionAll) (plan.Node, *plan.ApplyResult, error) {
	var branches []plan.Node
	for _, b := range u.Branches {
		if !isNull(b) {
			branches = append(branches, b)
		}
	}
	switch {
	case len(branches) == len(u.Branches):
		return u, plan.NoRewrite, nil
	case len(branches) == 0:
		return &plan.Null{Cols: u.Outputs()}, plan.Rewrote("union has no rows"), nil
	}
	var res plan.Node = &plan.UnionAll{Branches: branches}
	if len(branches) == 1 {
		res = branches[0]
	}
	if !plan.SameOutputs(res.Outputs(), u.Outputs()) {
		res = plan.RemapProject(res, u.Outputs())
	}
	return res, plan.Rewrotef("removed %d empty union branches", len(u.Branches)-len(branches)), nil
}
