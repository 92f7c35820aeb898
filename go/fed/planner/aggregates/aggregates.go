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

// Package aggregates decomposes groupings that no single source can compute
// as a whole into partial aggregates evaluated close to the data and a
// final aggregation evaluated locally.
//
// Three shapes are handled. A grouping over an access node whose source
// lacks an aggregate function pushes the partial aggregates (SUM and COUNT
// for AVG) and divides locally. A grouping over a local inner join stages a
// partial grouping on the side that owns every aggregated column, when the
// join cannot repeat that side's rows or when only MIN and MAX are
// computed. A grouping over a union of access nodes pushes a partial
// grouping into every branch.
package aggregates

import (
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/planner/access"
	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Push rewrites the groupings of the tree that can be split. It never
// enters access nodes.
func Push(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		g, ok := node.(*plan.Grouping)
		if !ok || len(g.Aggregates) == 0 {
			return node, plan.NoRewrite, nil
		}
		res, changed, err := split(ctx, skipRename(g))
		if err != nil {
			return nil, nil, err
		}
		if !changed.Changed() {
			return node, plan.NoRewrite, nil
		}
		return res, changed, nil
	})
}

func split(ctx *plancontext.PlanningContext, g *plan.Grouping) (plan.Node, *plan.ApplyResult, error) {
	switch in := g.Input.(type) {
	case *plan.Access:
		return splitAccess(ctx, g, in)
	case *plan.Join:
		return splitJoin(ctx, g, in)
	case *plan.UnionAll:
		return splitUnion(ctx, g, in, false)
	case *plan.DupRemove:
		if u, ok := in.Input.(*plan.UnionAll); ok {
			return splitUnion(ctx, g, u, true)
		}
	}
	return g, plan.NoRewrite, nil
}

// skipRename looks through a projection that only renames columns, as the
// join planner leaves after reordering.
func skipRename(g *plan.Grouping) *plan.Grouping {
	p, ok := g.Input.(*plan.Project)
	if !ok {
		return g
	}
	mapping := make(map[string]sqlast.Expr, len(p.Exprs))
	for i, e := range p.Exprs {
		col, ok := e.(*sqlast.ColName)
		if !ok {
			return g
		}
		mapping[p.Columns[i].Key()] = col
	}
	res := &plan.Grouping{Input: p.Input, Group: g.Group}
	for _, gb := range g.GroupBy {
		res.GroupBy = append(res.GroupBy, sqlast.ReplaceColumns(gb, mapping))
	}
	for _, a := range g.Aggregates {
		res.Aggregates = append(res.Aggregates, sqlast.ReplaceColumns(a, mapping).(*sqlast.AggrFunc))
	}
	return res
}

// staged reports whether node already computes partial aggregates.
func staged(node plan.Node) bool {
	switch node := node.(type) {
	case *plan.Grouping:
		return true
	case *plan.Access:
		return node.Input != nil && staged(node.Input)
	case *plan.Sort:
		return staged(node.Input)
	}
	return false
}

// cannotPush returns the reason of a compose failure, or the error itself
// when composing failed for another reason.
func cannotPush(err error) (string, error) {
	var cp *access.CannotPushError
	if errors.As(err, &cp) {
		return cp.Reason, nil
	}
	return "", err
}

// finalProject computes the outputs of g from top, whose first grouping
// expressions are those of g and whose aggregates are the partials of ds
// in order.
func finalProject(g *plan.Grouping, top *plan.Grouping, ds []decomposition) *plan.Project {
	p := &plan.Project{Input: top, Columns: g.Outputs()}
	for i := range g.GroupBy {
		p.Exprs = append(p.Exprs, top.GroupCol(i))
	}
	k := 0
	for _, d := range ds {
		args := make([]sqlast.Expr, 0, len(d.partials))
		for range d.partials {
			args = append(args, top.AggrCol(k))
			k++
		}
		p.Exprs = append(p.Exprs, d.final(args))
	}
	return p
}

// reaggregated returns the top grouping combining the partial results of
// partial, grouped by groupBy.
func reaggregated(ctx *plancontext.PlanningContext, g *plan.Grouping, input plan.Node, groupBy []sqlast.Expr, partial *plan.Grouping, ds []decomposition) plan.Node {
	top := &plan.Grouping{Input: input, Group: g.Group, GroupBy: groupBy}
	k := 0
	for _, d := range ds {
		for _, p := range d.partials {
			top.Aggregates = append(top.Aggregates, reaggregate(p, partial.AggrCol(k)))
			k++
		}
	}
	if !anyCompound(ds) {
		return top
	}
	top.Group = ctx.NextID(g.Group + "_")
	return finalProject(g, top, ds)
}

// computeGroupBy moves computed grouping expressions into a projection
// below the grouping when the source can only group by columns. The
// projection becomes an inline view of the command.
func computeGroupBy(ctx *plancontext.PlanningContext, source string, input plan.Node, groupBy []sqlast.Expr) (plan.Node, []sqlast.Expr) {
	res := sqlast.CloneExprs(groupBy)
	if ctx.Supports(source, capabilities.QueryFunctionsInGroupBy) || !ctx.Supports(source, capabilities.QueryFromInlineViews) {
		return input, res
	}
	var p *plan.Project
	var group string
	for i, gb := range res {
		if _, isCol := gb.(*sqlast.ColName); isCol {
			continue
		}
		if p == nil {
			p = plan.IdentityProject(input, input.Outputs())
			group = ctx.NextID("gexpr_")
		}
		col := sqlast.NewColName(group, fmt.Sprintf("c%d", len(p.Columns)))
		p.Columns = append(p.Columns, col)
		p.Exprs = append(p.Exprs, gb)
		res[i] = sqlast.NewColName(col.Qualifier, col.Name)
	}
	if p == nil {
		return input, res
	}
	return p, res
}

// splitAccess pushes the partial aggregates of g into a, computing the
// final values locally.
func splitAccess(ctx *plancontext.PlanningContext, g *plan.Grouping, a *plan.Access) (plan.Node, *plan.ApplyResult, error) {
	if a.Input == nil || staged(a) {
		return g, plan.NoRewrite, nil
	}
	ds, ok := decomposeAll(g.Aggregates, false, false)
	if !ok {
		return g, plan.NoRewrite, nil
	}
	input, groupBy := computeGroupBy(ctx, a.Source, a.Input, g.GroupBy)
	if !anyCompound(ds) && input == a.Input {
		// the same grouping was already refused by the source
		return g, plan.NoRewrite, nil
	}
	partial := &plan.Grouping{Input: input, Group: ctx.NextID(g.Group + "_"), GroupBy: groupBy, Aggregates: flatten(ds)}
	if _, err := access.Compose(ctx, a.Source, partial, nil); err != nil {
		reason, err := cannotPush(err)
		if err != nil {
			return nil, nil, err
		}
		ctx.Record.Annotate(plan.Describe(g), "grouping not split for %s: %s", a.Source, reason)
		return g, plan.NoRewrite, nil
	}
	pushed := a.Clone([]plan.Node{partial})
	p := finalProject(g, partial, ds)
	p.Input = pushed
	ctx.Record.Decided(plan.Describe(g), "partial aggregates pushed to %s", a.Source)
	return p, plan.Rewrotef("split grouping %s for %s", g.Group, a.Source), nil
}

// splitJoin stages a partial grouping below a local inner join.
func splitJoin(ctx *plancontext.PlanningContext, g *plan.Grouping, j *plan.Join) (plan.Node, *plan.ApplyResult, error) {
	if !j.Type.IsInner() || j.Strategy == plan.StrategyUndecided || j.Strategy == plan.StrategyPushdown {
		return g, plan.NoRewrite, nil
	}
	if staged(j.Left) || staged(j.Right) {
		return g, plan.NoRewrite, nil
	}
	leftSyms, rightSyms := plan.KeySet(j.Left.Outputs()), plan.KeySet(j.Right.Outputs())
	lefts, rights := j.LeftExprs, j.RightExprs
	if len(lefts) == 0 {
		lefts, rights, _ = criteria.EquiPairs(j.Criteria, leftSyms, rightSyms)
	}

	var args []sqlast.Expr
	for _, a := range g.Aggregates {
		if a.Arg != nil {
			args = append(args, a.Arg)
		}
	}
	coveredBy := func(exprs []sqlast.Expr, syms mapset.Set[string]) bool {
		for _, e := range exprs {
			if !criteria.Covered(e, syms) {
				return false
			}
		}
		return true
	}

	var side plan.Side
	switch {
	case len(args) > 0 && coveredBy(args, leftSyms):
		side = plan.SideLeft
	case len(args) > 0 && coveredBy(args, rightSyms):
		side = plan.SideRight
	case len(args) == 0 && criteria.KeyCoveredOn(ctx, rights, rightSyms):
		side = plan.SideLeft
	case len(args) == 0 && criteria.KeyCoveredOn(ctx, lefts, leftSyms):
		side = plan.SideRight
	default:
		return g, plan.NoRewrite, nil
	}
	sNode, sSyms, sExprs, oExprs, oSyms := j.Left, leftSyms, lefts, rights, rightSyms
	if side == plan.SideRight {
		sNode, sSyms, sExprs, oExprs, oSyms = j.Right, rightSyms, rights, lefts, leftSyms
	}
	for _, gb := range g.GroupBy {
		if !criteria.Covered(gb, sSyms) && !criteria.Covered(gb, oSyms) {
			return g, plan.NoRewrite, nil
		}
	}
	if !criteria.KeyCoveredOn(ctx, oExprs, oSyms) && !duplicateInsensitive(g.Aggregates) {
		ctx.Record.Annotate(plan.Describe(g), "grouping not staged below join: the join may repeat rows of the %s side", side)
		return g, plan.NoRewrite, nil
	}
	ds, ok := decomposeAll(g.Aggregates, true, len(g.GroupBy) == 0)
	if !ok {
		return g, plan.NoRewrite, nil
	}

	var groupBy []sqlast.Expr
	add := func(e sqlast.Expr) {
		if !sqlast.ContainsExpr(groupBy, e) {
			groupBy = append(groupBy, sqlast.CloneExpr(e))
		}
	}
	for _, gb := range g.GroupBy {
		if criteria.Covered(gb, sSyms) {
			add(gb)
		}
	}
	consumed := append(sqlast.CloneExprs(j.Criteria), sExprs...)
	for _, c := range sqlast.ColumnsOf(consumed...) {
		if sSyms.Contains(c.Key()) {
			add(c)
		}
	}

	core, sort := unwrapJoinSort(sNode)
	partial := &plan.Grouping{Input: core, Group: ctx.NextID(g.Group + "_"), GroupBy: groupBy, Aggregates: flatten(ds)}
	mapping := map[string]sqlast.Expr{}
	for i, gb := range groupBy {
		if col, ok := gb.(*sqlast.ColName); ok {
			mapping[col.Key()] = partial.GroupCol(i)
		}
	}

	var stagedSide plan.Node = partial
	if a, ok := core.(*plan.Access); ok && a.Input != nil {
		pushed := partial.Clone([]plan.Node{a.Input})
		_, err := access.Compose(ctx, a.Source, pushed, nil)
		if err == nil {
			if sort != nil {
				sorted := remapSort(sort, pushed, mapping)
				if _, err := access.Compose(ctx, a.Source, sorted, nil); err == nil {
					pushed, sort = sorted, nil
				}
			}
			stagedSide = a.Clone([]plan.Node{pushed})
		} else if _, err := cannotPush(err); err != nil {
			return nil, nil, err
		}
	}
	if sort != nil {
		stagedSide = remapSort(sort, stagedSide, mapping)
	}

	nj := j.Clone([]plan.Node{j.Left, j.Right}).(*plan.Join)
	for i, c := range nj.Criteria {
		nj.Criteria[i] = sqlast.ReplaceColumns(c, mapping)
	}
	if side == plan.SideLeft {
		nj.Left = stagedSide
		for i, e := range nj.LeftExprs {
			nj.LeftExprs[i] = sqlast.ReplaceColumns(e, mapping)
		}
	} else {
		nj.Right = stagedSide
		for i, e := range nj.RightExprs {
			nj.RightExprs[i] = sqlast.ReplaceColumns(e, mapping)
		}
	}
	if nj.Strategy == plan.StrategyDependent && nj.DependentSide != side {
		nj.DependentValueSource = partial.Group
	}

	var topGroupBy []sqlast.Expr
	for _, gb := range g.GroupBy {
		if !criteria.Covered(gb, sSyms) {
			topGroupBy = append(topGroupBy, sqlast.CloneExpr(gb))
			continue
		}
		for i, e := range groupBy {
			if sqlast.EqualsExpr(e, gb) {
				topGroupBy = append(topGroupBy, partial.GroupCol(i))
				break
			}
		}
	}
	ctx.Record.Decided(plan.Describe(g), "partial grouping %s staged on the %s side of the join", partial.Group, side)
	return reaggregated(ctx, g, nj, topGroupBy, partial, ds), plan.Rewrotef("staged grouping %s below join", g.Group), nil
}

// unwrapJoinSort separates the sort feeding a merge join, below or inside
// an access node, from the rest of the side.
func unwrapJoinSort(node plan.Node) (plan.Node, *plan.Sort) {
	switch node := node.(type) {
	case *plan.Sort:
		if node.JoinSort {
			return node.Input, node
		}
	case *plan.Access:
		if s, ok := node.Input.(*plan.Sort); ok && s.JoinSort {
			return node.Clone([]plan.Node{s.Input}), s
		}
	}
	return node, nil
}

func remapSort(sort *plan.Sort, input plan.Node, mapping map[string]sqlast.Expr) *plan.Sort {
	items := make([]*sqlast.Order, 0, len(sort.Items))
	for _, it := range sort.Items {
		items = append(items, &sqlast.Order{Expr: sqlast.ReplaceColumns(it.Expr, mapping), Desc: it.Desc})
	}
	return &plan.Sort{Input: input, Items: items, JoinSort: true}
}

// splitUnion pushes a partial grouping into every branch of the union.
// A distinct union only allows it when duplicates cannot change the
// aggregates, in which case the duplicate removal is dropped.
func splitUnion(ctx *plancontext.PlanningContext, g *plan.Grouping, u *plan.UnionAll, distinct bool) (plan.Node, *plan.ApplyResult, error) {
	if distinct && !duplicateInsensitive(g.Aggregates) {
		return g, plan.NoRewrite, nil
	}
	for _, b := range u.Branches {
		a, ok := b.(*plan.Access)
		if !ok || a.Input == nil || staged(a) {
			return g, plan.NoRewrite, nil
		}
	}
	ds, ok := decomposeAll(g.Aggregates, true, len(g.GroupBy) == 0)
	if !ok {
		return g, plan.NoRewrite, nil
	}
	partials := flatten(ds)
	first := u.Outputs()

	branches := make([]plan.Node, 0, len(u.Branches))
	var firstPartial *plan.Grouping
	for _, b := range u.Branches {
		a := b.(*plan.Access)
		mapping := map[string]sqlast.Expr{}
		for i, c := range a.Outputs() {
			mapping[first[i].Key()] = sqlast.NewColName(c.Qualifier, c.Name)
		}
		pg := &plan.Grouping{Input: a.Input, Group: ctx.NextID(g.Group + "_")}
		for _, gb := range g.GroupBy {
			pg.GroupBy = append(pg.GroupBy, sqlast.ReplaceColumns(gb, mapping))
		}
		for _, p := range partials {
			pg.Aggregates = append(pg.Aggregates, sqlast.ReplaceColumns(p, mapping).(*sqlast.AggrFunc))
		}
		if _, err := access.Compose(ctx, a.Source, pg, nil); err != nil {
			reason, err := cannotPush(err)
			if err != nil {
				return nil, nil, err
			}
			ctx.Record.Annotate(plan.Describe(g), "grouping not split across union: %s", reason)
			return g, plan.NoRewrite, nil
		}
		if firstPartial == nil {
			firstPartial = pg
		}
		branches = append(branches, a.Clone([]plan.Node{pg}))
	}

	groupBy := make([]sqlast.Expr, 0, len(g.GroupBy))
	for i := range g.GroupBy {
		groupBy = append(groupBy, firstPartial.GroupCol(i))
	}
	ctx.Record.Decided(plan.Describe(g), "partial groupings pushed into %d union branches", len(branches))
	return reaggregated(ctx, g, &plan.UnionAll{Branches: branches}, groupBy, firstPartial, ds), plan.Rewrotef("split grouping %s across union", g.Group), nil
}
