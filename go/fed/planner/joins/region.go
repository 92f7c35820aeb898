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

package joins

import (
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// leaf is one input of a join region.
type leaf struct {
	node plan.Node
	pos  int

	symbols mapset.Set[string]
	// sources can evaluate the whole leaf as one command; empty for
	// leaves that execute locally. source is the preferred one.
	sources mapset.Set[string]
	source  string

	groups      []string
	conjuncts   []sqlast.Expr
	unsatisfied []string

	rows  int64
	class CardinalityClass

	makeDep, makeNotDep bool

	// aliases maps the outputs of views and projections inside the leaf to
	// the expressions they are computed from.
	aliases map[string]sqlast.Expr
}

func newLeaf(ctx *plancontext.PlanningContext, node plan.Node, pos int) *leaf {
	l := &leaf{
		node:    node,
		pos:     pos,
		symbols: plan.KeySet(node.Outputs()),
		rows:    Estimate(ctx, node),
		aliases: map[string]sqlast.Expr{},
	}
	l.class = Classify(ctx.Config, l.rows)
	l.sources, l.source = leafSources(ctx, node)
	collect(node, l)
	for i, e := range l.conjuncts {
		l.conjuncts[i] = l.resolve(e)
	}
	l.unsatisfied = unsatisfied(ctx, l.groups, l.conjuncts, nil)
	return l
}

// collect gathers the base table groups under node, the hints of their
// Sources, and the predicates the leaf evaluates on them. Views are
// looked through.
func collect(node plan.Node, l *leaf) {
	switch node := node.(type) {
	case *plan.Source:
		l.makeDep = l.makeDep || node.Hints.MakeDep
		l.makeNotDep = l.makeNotDep || node.Hints.MakeNotDep
		if !node.IsView() {
			l.groups = append(l.groups, node.Group)
			return
		}
		defs := node.View.Outputs()
		for i, c := range node.Outputs() {
			l.aliases[c.Key()] = defs[i]
		}
	case *plan.Project:
		for i, c := range node.Columns {
			if col, ok := node.Exprs[i].(*sqlast.ColName); !ok || !col.Equal(c) {
				l.aliases[c.Key()] = node.Exprs[i]
			}
		}
	case *plan.Select:
		l.conjuncts = append(l.conjuncts, node.Conjuncts...)
	case *plan.Join:
		if node.Strategy == plan.StrategyPushdown || node.Strategy == plan.StrategyUndecided {
			l.conjuncts = append(l.conjuncts, node.Criteria...)
		}
	}
	for _, in := range node.Inputs() {
		collect(in, l)
	}
}

// resolve rewrites the view and projection outputs e reads into the
// expressions the leaf computes them from.
func (l *leaf) resolve(e sqlast.Expr) sqlast.Expr {
	for range len(l.aliases) {
		next := sqlast.ReplaceColumns(e, l.aliases)
		if sqlast.EqualsExpr(next, e) {
			break
		}
		e = next
	}
	return e
}

func (l *leaf) resolveAll(exprs []sqlast.Expr) []sqlast.Expr {
	res := make([]sqlast.Expr, 0, len(exprs))
	for _, e := range exprs {
		res = append(res, l.resolve(e))
	}
	return res
}

// leafSources returns the sources able to evaluate every table of the
// subtree in a single command. Subtrees holding local joins or opaque
// plans have none.
func leafSources(ctx *plancontext.PlanningContext, root plan.Node) (mapset.Set[string], string) {
	var res mapset.Set[string]
	first := ""
	local := false
	plan.VisitTopDown(root, func(node plan.Node) bool {
		switch node := node.(type) {
		case *plan.Join:
			if node.Strategy != plan.StrategyPushdown && node.Strategy != plan.StrategyUndecided {
				local = true
			}
		case *plan.PlanExecution, *plan.Null:
			local = true
		case *plan.Access:
			if first == "" {
				first = node.Source
			}
			available := mapset.NewThreadUnsafeSet(node.Source)
			if res == nil {
				res = available
			} else {
				res = res.Intersect(available)
			}
			return false
		case *plan.Source:
			if node.IsView() {
				return true
			}
			t := ctx.TableOf(node.Group)
			if t == nil {
				local = true
				return false
			}
			if first == "" {
				first = t.Source
			}
			if res == nil {
				res = t.AvailableSources()
			} else {
				res = res.Intersect(t.AvailableSources())
			}
		}
		return !local
	})
	if local || res == nil || res.Cardinality() == 0 {
		return mapset.NewThreadUnsafeSet[string](), ""
	}
	if res.Contains(first) {
		return res, first
	}
	names := res.ToSlice()
	sort.Strings(names)
	return res, names[0]
}

// unsatisfied returns the groups whose access patterns the conjuncts do
// not bind. A column equal to a column of a satisfied group counts as
// bound. extra adds columns bound from outside, by group.
func unsatisfied(ctx *plancontext.PlanningContext, groups []string, conjuncts []sqlast.Expr, extra map[string]mapset.Set[string]) []string {
	bound := make(map[string]mapset.Set[string], len(groups))
	satisfied := make(map[string]bool, len(groups))
	for _, g := range groups {
		bound[g] = criteria.BoundColumns(conjuncts, g)
		if cols, ok := extra[g]; ok {
			bound[g] = bound[g].Union(cols)
		}
	}

	for {
		progress := false
		for _, g := range groups {
			if satisfied[g] {
				continue
			}
			if t := ctx.TableOf(g); t == nil || t.SatisfiesAccessPattern(bound[g]) {
				satisfied[g] = true
				progress = true
			}
		}
		for _, e := range conjuncts {
			l, r, ok := columnEquality(e)
			if !ok {
				continue
			}
			for _, pair := range [][2]*sqlast.ColName{{l, r}, {r, l}} {
				from, to := pair[0], pair[1]
				cols, known := bound[to.Qualifier]
				if satisfied[from.Qualifier] && known && !satisfied[to.Qualifier] && cols.Add(to.Name) {
					progress = true
				}
			}
		}
		if !progress {
			break
		}
	}

	var res []string
	for _, g := range groups {
		if !satisfied[g] {
			res = append(res, g)
		}
	}
	return res
}

func columnEquality(e sqlast.Expr) (*sqlast.ColName, *sqlast.ColName, bool) {
	cmp, ok := e.(*sqlast.ComparisonExpr)
	if !ok || cmp.Operator != sqlast.EqualOp {
		return nil, nil, false
	}
	l, lok := cmp.Left.(*sqlast.ColName)
	r, rok := cmp.Right.(*sqlast.ColName)
	return l, r, lok && rok && l.Qualifier != r.Qualifier
}

// region is a maximal tree of inner joins whose order the planner is free
// to choose.
type region struct {
	leaves   []plan.Node
	criteria []sqlast.Expr
}

func isRegionJoin(node plan.Node) (*plan.Join, bool) {
	j, ok := node.(*plan.Join)
	return j, ok && j.Type.IsInner() && j.Strategy == plan.StrategyUndecided
}

func collectRegion(node plan.Node, r *region) {
	j, ok := isRegionJoin(node)
	if !ok {
		r.leaves = append(r.leaves, node)
		return
	}
	collectRegion(j.Left, r)
	collectRegion(j.Right, r)
	r.criteria = append(r.criteria, sqlast.CloneExprs(j.Criteria)...)
}
