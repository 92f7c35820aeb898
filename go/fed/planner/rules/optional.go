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
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// RemoveOptionalJoins drops the optional side of a join when nothing above
// the join reads its columns. A join is optional when it is marked so or
// when the side is a table hinted optional. Under a grouping whose
// aggregates count duplicates, only a left outer join on a key of its
// inner side is removed, since any other join may repeat rows.
func RemoveOptionalJoins(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	required := plan.RequiredColumns(root)
	result := plan.NoRewrite

	var walk func(node plan.Node, sensitive bool) plan.Node
	walk = func(node plan.Node, sensitive bool) plan.Node {
		switch n := node.(type) {
		case *plan.Access:
			return node
		case *plan.Grouping:
			sensitive = !duplicatesIgnored(n)
		case *plan.DupRemove:
			sensitive = false
		case *plan.Join:
			if kept, side, ok := removableSide(ctx, n, required[n], sensitive); ok {
				ctx.Record.Decided(plan.Describe(n), "removed the optional %s side", side)
				result = result.Merge(plan.Rewrotef("removed optional %s side of join", side))
				return walk(kept, sensitive)
			}
		}
		inputs := node.Inputs()
		var changed []plan.Node
		for i, in := range inputs {
			res := walk(in, sensitive)
			if res == in {
				continue
			}
			if changed == nil {
				changed = append([]plan.Node(nil), inputs...)
			}
			changed[i] = res
		}
		if changed == nil {
			return node
		}
		return node.Clone(changed)
	}
	return walk(root, false), result, nil
}

// duplicatesIgnored reports whether repeating input rows leaves the
// grouping's result unchanged.
func duplicatesIgnored(g *plan.Grouping) bool {
	for _, a := range g.Aggregates {
		if !a.Distinct && a.Name != sqlast.AggrMin && a.Name != sqlast.AggrMax {
			return false
		}
	}
	return true
}

func optionalSource(node plan.Node) bool {
	src, ok := node.(*plan.Source)
	return ok && src.Hints.Optional
}

// removableSide returns the side of j that remains once the optional side
// is removed.
func removableSide(ctx *plancontext.PlanningContext, j *plan.Join, need mapset.Set[string], sensitive bool) (plan.Node, plan.Side, bool) {
	if need == nil {
		return nil, plan.SideNone, false
	}
	unread := func(side plan.Node) bool {
		return plan.KeySet(side.Outputs()).Intersect(need).Cardinality() == 0
	}
	switch j.Type {
	case plan.LeftOuterJoin:
		if !(j.Optional || optionalSource(j.Right)) || !unread(j.Right) {
			return nil, plan.SideNone, false
		}
		if sensitive {
			rightSyms := plan.KeySet(j.Right.Outputs())
			_, rights, _ := criteria.EquiPairs(j.Criteria, plan.KeySet(j.Left.Outputs()), rightSyms)
			if !criteria.KeyCoveredOn(ctx, rights, rightSyms) {
				return nil, plan.SideNone, false
			}
		}
		return j.Left, plan.SideRight, true
	case plan.InnerJoin, plan.CrossJoin:
		if sensitive {
			return nil, plan.SideNone, false
		}
		if (j.Optional || optionalSource(j.Right)) && unread(j.Right) {
			return j.Left, plan.SideRight, true
		}
		if optionalSource(j.Left) && unread(j.Left) {
			return j.Right, plan.SideLeft, true
		}
	}
	return nil, plan.SideNone, false
}

// MergeVirtual replaces views by their definition, renamed to the view's
// columns, unless the view is hinted no_unnest or carries join hints.
func MergeVirtual(_ *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		src, ok := node.(*plan.Source)
		if !ok || !src.IsView() || src.Hints.NoUnnest || src.Hints.MakeDep || src.Hints.MakeNotDep {
			return node, plan.NoRewrite, nil
		}
		return plan.RemapProject(src.View, src.Outputs()), plan.Rewrotef("merged view %s", src.Group), nil
	})
}
