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

// RemoveRedundant drops operators that cannot change the result: sorts
// whose order is lost or replaced, duplicate removal over already distinct
// input, identity projections and empty filters.
func RemoveRedundant(_ *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		switch node := node.(type) {
		case *plan.Sort:
			if inner, ok := node.Input.(*plan.Sort); ok && !inner.JoinSort {
				return node.Clone([]plan.Node{inner.Input}), plan.Rewrote("removed sort replaced by the sort above it"), nil
			}
		case *plan.Grouping:
			if in, ok := orderOnly(node.Input); ok {
				return node.Clone([]plan.Node{in}), plan.Rewrote("removed sort below grouping"), nil
			}
		case *plan.DupRemove:
			switch in := node.Input.(type) {
			case *plan.DupRemove:
				return in, plan.Rewrote("removed repeated duplicate removal"), nil
			case *plan.Grouping:
				return in, plan.Rewrote("removed duplicate removal over grouping"), nil
			}
			if in, ok := orderOnly(node.Input); ok {
				return node.Clone([]plan.Node{in}), plan.Rewrote("removed sort below duplicate removal"), nil
			}
		case *plan.UnionAll:
			return dropInputSorts(node, "removed sort in union branch")
		case *plan.Join:
			return dropInputSorts(node, "removed sort below join")
		case *plan.Project:
			if node.IsIdentity() {
				return node.Input, plan.Rewrote("removed identity projection"), nil
			}
		case *plan.Select:
			if len(node.Conjuncts) == 0 {
				return node.Input, plan.Rewrote("removed empty filter"), nil
			}
		}
		return node, plan.NoRewrite, nil
	})
}

// orderOnly returns the input of node if node is a sort that only orders
// rows for a consumer that does not preserve order.
func orderOnly(node plan.Node) (plan.Node, bool) {
	s, ok := node.(*plan.Sort)
	if !ok || s.JoinSort {
		return nil, false
	}
	return s.Input, true
}

func dropInputSorts(node plan.Node, msg string) (plan.Node, *plan.ApplyResult, error) {
	inputs := slices.Clone(node.Inputs())
	changed := false
	for i, in := range inputs {
		if unsorted, ok := orderOnly(in); ok {
			inputs[i] = unsorted
			changed = true
		}
	}
	if !changed {
		return node, plan.NoRewrite, nil
	}
	return node.Clone(inputs), plan.Rewrote(msg), nil
}

// CleanCriteria removes conjuncts that are always true and repeated
// conjuncts, including those inside pending access nodes. A filter left
// without conjuncts disappears.
func CleanCriteria(_ *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, nil, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		switch node := node.(type) {
		case *plan.Select:
			cleaned, changed := cleanConjuncts(node.Conjuncts)
			if !changed {
				return node, plan.NoRewrite, nil
			}
			if len(cleaned) == 0 {
				return node.Input, plan.Rewrote("removed filter that is always true"), nil
			}
			res := node.Clone(node.Inputs()).(*plan.Select)
			res.Conjuncts = cleaned
			return res, plan.Rewrote("cleaned filter conjuncts"), nil
		case *plan.Join:
			cleaned, changed := cleanConjuncts(node.Criteria)
			if !changed {
				return node, plan.NoRewrite, nil
			}
			if len(cleaned) == 0 && node.Type == plan.InnerJoin && node.Strategy != plan.StrategyUndecided {
				return node, plan.NoRewrite, nil
			}
			res := node.Clone(node.Inputs()).(*plan.Join)
			res.Criteria = cleaned
			if len(cleaned) == 0 && res.Type == plan.InnerJoin {
				res.Type = plan.CrossJoin
			}
			return res, plan.Rewrote("cleaned join criteria"), nil
		}
		return node, plan.NoRewrite, nil
	})
}

func cleanConjuncts(conjuncts []sqlast.Expr) ([]sqlast.Expr, bool) {
	var res []sqlast.Expr
	for _, c := range conjuncts {
		if criteria.IsTrue(c) || sqlast.ContainsExpr(res, c) {
			continue
		}
		res = append(res, c)
	}
	return res, len(res) != len(conjuncts)
}
