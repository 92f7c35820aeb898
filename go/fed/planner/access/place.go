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

package access

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Place wraps every base table Source into an Access to the table's own
// source. Subtrees already under an Access are left alone.
func Place(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.TopDown(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		src, ok := node.(*plan.Source)
		if !ok || src.IsView() {
			return node, plan.NoRewrite, nil
		}
		source, err := ctx.SourceOf(src.Group)
		if err != nil {
			return nil, nil, err
		}
		return &plan.Access{Source: source, Input: src}, plan.Rewrotef("placed %s on %s", src.Table, source), nil
	})
}

// Raise merges operators into the Access nodes below them whenever the
// source can evaluate the result. Every rejected merge leaves an
// annotation on the Access nodes involved.
func Raise(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		switch node := node.(type) {
		case *plan.Select:
			return raiseSelect(ctx, node)
		case *plan.Project, *plan.Grouping, *plan.Sort, *plan.DupRemove, *plan.Limit, *plan.UnionAll:
			return raiseNode(ctx, node)
		case *plan.Source:
			if node.IsView() {
				return raiseNode(ctx, node)
			}
		case *plan.Join:
			return raiseJoin(ctx, node)
		}
		return node, plan.NoRewrite, nil
	})
}

// pending returns the inputs of node as unfinalized Access nodes, or false
// if any input is something else.
func pending(node plan.Node) ([]*plan.Access, bool) {
	inputs := node.Inputs()
	if len(inputs) == 0 {
		return nil, false
	}
	res := make([]*plan.Access, 0, len(inputs))
	for _, in := range inputs {
		a, ok := in.(*plan.Access)
		if !ok || a.Input == nil {
			return nil, false
		}
		res = append(res, a)
	}
	return res, true
}

func isCannotPush(err error) (*CannotPushError, bool) {
	var cp *CannotPushError
	if errors.As(err, &cp) {
		return cp, true
	}
	return nil, false
}

// merge builds the Access that evaluates node with its Access inputs
// inlined, if a single source can.
func merge(ctx *plancontext.PlanningContext, node plan.Node, accesses []*plan.Access) (*plan.Access, error) {
	source, ok := commonSource(ctx, accesses)
	if !ok {
		return nil, cannotPush("inputs are on different sources")
	}
	inputs := make([]plan.Node, 0, len(accesses))
	var annotations []string
	for _, a := range accesses {
		inputs = append(inputs, a.Input)
		annotations = appendNew(annotations, a.Annotations...)
	}
	candidate := node.Clone(inputs)
	if _, err := Compose(ctx, source, candidate, nil); err != nil {
		return nil, err
	}
	return &plan.Access{Source: source, Input: candidate, Annotations: annotations}, nil
}

func appendNew(list []string, items ...string) []string {
	for _, item := range items {
		if !slices.Contains(list, item) {
			list = append(list, item)
		}
	}
	return list
}

func operatorName(node plan.Node) string {
	if src, ok := node.(*plan.Source); ok && src.IsView() {
		return "view"
	}
	return strings.ToLower(plan.TypeName(node))
}

// annotate attaches msg to the Access inputs of node. The node is only
// rebuilt when an input did not carry the message yet, so repeated passes
// converge.
func annotate(ctx *plancontext.PlanningContext, node plan.Node, msg string) (plan.Node, *plan.ApplyResult) {
	inputs := node.Inputs()
	newInputs := slices.Clone(inputs)
	changed := false
	for i, in := range inputs {
		a, ok := in.(*plan.Access)
		if !ok || slices.Contains(a.Annotations, msg) {
			continue
		}
		clone := a.Clone(a.Inputs()).(*plan.Access)
		clone.Annotations = append(clone.Annotations, msg)
		newInputs[i] = clone
		changed = true
	}
	if !changed {
		return node, plan.NoRewrite
	}
	ctx.Record.Annotate(plan.Describe(node), "%s", msg)
	return node.Clone(newInputs), plan.Rewrotef("annotated: %s", msg)
}

func raiseNode(ctx *plancontext.PlanningContext, node plan.Node) (plan.Node, *plan.ApplyResult, error) {
	accesses, ok := pending(node)
	if !ok {
		return node, plan.NoRewrite, nil
	}
	a, err := merge(ctx, node, accesses)
	if err == nil {
		return a, plan.Rewrotef("raised %s into access to %s", operatorName(node), a.Source), nil
	}
	cp, ok := isCannotPush(err)
	if !ok {
		return nil, nil, err
	}
	res, ar := annotate(ctx, node, fmt.Sprintf("%s not pushed: %s", operatorName(node), cp.Reason))
	return res, ar, nil
}

// raiseSelect pushes the conjuncts the source supports and keeps the rest
// in a local Select.
func raiseSelect(ctx *plancontext.PlanningContext, node *plan.Select) (plan.Node, *plan.ApplyResult, error) {
	accesses, ok := pending(node)
	if !ok {
		return node, plan.NoRewrite, nil
	}
	a, err := merge(ctx, node, accesses)
	if err == nil {
		return a, plan.Rewrotef("raised select into access to %s", a.Source), nil
	}
	full, ok := isCannotPush(err)
	if !ok {
		return nil, nil, err
	}

	child := accesses[0]
	var pushed, kept []sqlast.Expr
	var reasons []string
	for _, conjunct := range node.Conjuncts {
		probe := &plan.Select{Input: child.Input, Conjuncts: []sqlast.Expr{conjunct}, Having: node.Having}
		_, err := Compose(ctx, child.Source, probe, nil)
		if err == nil {
			pushed = append(pushed, conjunct)
			continue
		}
		cp, ok := isCannotPush(err)
		if !ok {
			return nil, nil, err
		}
		kept = append(kept, conjunct)
		reasons = appendNew(reasons, fmt.Sprintf("select not pushed: %s", cp.Reason))
	}
	if len(pushed) == 0 || len(kept) == 0 {
		res, ar := annotate(ctx, node, fmt.Sprintf("select not pushed: %s", full.Reason))
		return res, ar, nil
	}

	for _, msg := range reasons {
		ctx.Record.Annotate(plan.Describe(node), "%s", msg)
	}
	raised := &plan.Access{
		Source:      child.Source,
		Input:       &plan.Select{Input: child.Input, Conjuncts: pushed, Having: node.Having},
		Annotations: appendNew(slices.Clone(child.Annotations), reasons...),
	}
	local := &plan.Select{Input: raised, Conjuncts: kept, Having: node.Having}
	return local, plan.Rewrotef("raised %d of %d conjuncts into access to %s", len(pushed), len(node.Conjuncts), child.Source), nil
}

func raiseJoin(ctx *plancontext.PlanningContext, node *plan.Join) (plan.Node, *plan.ApplyResult, error) {
	accesses, ok := pending(node)
	if !ok {
		if node.Strategy == plan.StrategyPushdown {
			// the inputs are as raised as they get within this pass
			reason := "an input executes locally"
			return localJoin(ctx, node, reason), plan.Rewrotef("join not pushed: %s", reason), nil
		}
		return node, plan.NoRewrite, nil
	}
	if node.Strategy != plan.StrategyPushdown {
		return checkLocalJoin(ctx, node, accesses)
	}

	a, err := merge(ctx, node, accesses)
	if err == nil {
		return a, plan.Rewrotef("raised join into access to %s", a.Source), nil
	}
	cp, ok := isCannotPush(err)
	if !ok {
		return nil, nil, err
	}
	return localJoin(ctx, node, cp.Reason), plan.Rewrotef("join not pushed: %s", cp.Reason), nil
}

// localJoin replaces a pushdown join the source rejected by a merge join
// when there are equi-join keys, else a nested loop join.
func localJoin(ctx *plancontext.PlanningContext, node *plan.Join, reason string) plan.Node {
	msg := fmt.Sprintf("join not pushed: %s", reason)
	inputs := node.Inputs()
	for i, in := range inputs {
		if a, ok := in.(*plan.Access); ok {
			clone := a.Clone(a.Inputs()).(*plan.Access)
			clone.Annotations = appendNew(clone.Annotations, msg)
			inputs[i] = clone
		}
	}
	lhs, rhs := inputs[0], inputs[1]

	join := node.Clone([]plan.Node{lhs, rhs}).(*plan.Join)
	lefts, rights, _ := criteria.EquiPairs(node.Criteria, plan.KeySet(lhs.Outputs()), plan.KeySet(rhs.Outputs()))
	if len(lefts) > 0 {
		join.Strategy = plan.StrategyMergeJoin
		join.LeftExprs, join.RightExprs = lefts, rights
		join.Left = &plan.Sort{Input: lhs, Items: orderBy(lefts), JoinSort: true}
		join.Right = &plan.Sort{Input: rhs, Items: orderBy(rights), JoinSort: true}
	} else {
		join.Strategy = plan.StrategyNestedLoop
	}
	ctx.Record.Annotate(plan.Describe(node), "%s", msg)
	ctx.Record.Decided(plan.Describe(node), "using %s", join.Strategy)
	return join
}

func orderBy(exprs []sqlast.Expr) []*sqlast.Order {
	res := make([]*sqlast.Order, 0, len(exprs))
	for _, e := range exprs {
		res = append(res, &sqlast.Order{Expr: sqlast.CloneExpr(e)})
	}
	return res
}

// checkLocalJoin explains why a join between two Access nodes of the same
// source executes locally when merging them would leave a table without
// its access pattern.
func checkLocalJoin(ctx *plancontext.PlanningContext, node *plan.Join, accesses []*plan.Access) (plan.Node, *plan.ApplyResult, error) {
	source, ok := commonSource(ctx, accesses)
	if !ok {
		return node, plan.NoRewrite, nil
	}
	candidate := node.Clone([]plan.Node{accesses[0].Input, accesses[1].Input}).(*plan.Join)
	candidate.Strategy = plan.StrategyPushdown
	cmd, err := Compose(ctx, source, candidate, nil)
	if err != nil {
		if _, ok := isCannotPush(err); ok {
			return node, plan.NoRewrite, nil
		}
		return nil, nil, err
	}
	if _, ok := unboundTable(ctx, cmd.Statement, cmd.Tables); ok {
		return node, plan.NoRewrite, nil
	}
	res, ar := annotate(ctx, node, "access pattern not satisfied by join")
	return res, ar, nil
}

// commonSource returns a source that can evaluate all the accesses: their
// shared source, or else one every table involved is conformed to.
func commonSource(ctx *plancontext.PlanningContext, accesses []*plan.Access) (string, bool) {
	first := accesses[0].Source
	same := true
	for _, a := range accesses[1:] {
		same = same && a.Source == first
	}
	if same {
		return first, true
	}

	var candidates mapset.Set[string]
	for _, a := range accesses {
		available := availableSources(ctx, a.Input)
		if candidates == nil {
			candidates = available
		} else {
			candidates = candidates.Intersect(available)
		}
	}
	if candidates.Cardinality() == 0 {
		return "", false
	}
	for _, a := range accesses {
		if candidates.Contains(a.Source) {
			return a.Source, true
		}
	}
	names := candidates.ToSlice()
	sort.Strings(names)
	return names[0], true
}

func availableSources(ctx *plancontext.PlanningContext, root plan.Node) mapset.Set[string] {
	var res mapset.Set[string]
	plan.VisitTopDown(root, func(node plan.Node) bool {
		src, ok := node.(*plan.Source)
		if !ok || src.IsView() {
			return true
		}
		available := mapset.NewThreadUnsafeSet[string]()
		if t := ctx.TableOf(src.Group); t != nil {
			available = t.AvailableSources()
		}
		if res == nil {
			res = available
		} else {
			res = res.Intersect(available)
		}
		return true
	})
	if res == nil {
		return mapset.NewThreadUnsafeSet[string]()
	}
	return res
}
