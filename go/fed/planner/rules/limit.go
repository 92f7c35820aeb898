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
	"errors"
	"fmt"
	"slices"

	"github.com/fedplan/fedplan/go/fed/planner/access"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
)

// PushLimit moves row limits towards the sources: below projections, into
// access nodes whose source supports them, and as copies into the
// branches of a union. Adjacent limits are combined and a limit of zero
// rows becomes a Null node.
func PushLimit(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.BottomUp(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		l, ok := node.(*plan.Limit)
		if !ok {
			return node, plan.NoRewrite, nil
		}
		if l.Count == 0 {
			return &plan.Null{Cols: l.Outputs()}, plan.Rewrote("limit 0 produces no rows"), nil
		}
		switch in := l.Input.(type) {
		case *plan.Limit:
			return combineLimits(l, in), plan.Rewrote("combined adjacent limits"), nil
		case *plan.Project:
			return in.Clone([]plan.Node{l.Clone([]plan.Node{in.Input})}), plan.Rewrote("pushed limit below projection"), nil
		case *plan.Access:
			return limitAccess(ctx, l, in)
		case *plan.UnionAll:
			return limitUnion(ctx, l, in)
		}
		return node, plan.NoRewrite, nil
	})
}

// combineLimits returns the limit equivalent to outer applied to inner.
func combineLimits(outer, inner *plan.Limit) *plan.Limit {
	res := &plan.Limit{Input: inner.Input, Offset: inner.Offset + outer.Offset, Pushed: outer.Pushed || inner.Pushed}
	switch {
	case inner.Unbounded():
		res.Count = outer.Count
	default:
		remaining := max(inner.Count-outer.Offset, 0)
		res.Count = remaining
		if !outer.Unbounded() {
			res.Count = min(outer.Count, remaining)
		}
	}
	return res
}

// composes reports whether the source can evaluate node, returning the
// reason when it cannot.
func composes(ctx *plancontext.PlanningContext, source string, node plan.Node) (bool, string, error) {
	_, err := access.Compose(ctx, source, node, nil)
	if err == nil {
		return true, "", nil
	}
	var cp *access.CannotPushError
	if errors.As(err, &cp) {
		return false, cp.Reason, nil
	}
	return false, "", err
}

func limitAccess(ctx *plancontext.PlanningContext, l *plan.Limit, a *plan.Access) (plan.Node, *plan.ApplyResult, error) {
	if a.Input == nil {
		return l, plan.NoRewrite, nil
	}
	candidate := l.Clone([]plan.Node{a.Input})
	ok, reason, err := composes(ctx, a.Source, candidate)
	if err != nil {
		return nil, nil, err
	}
	if ok {
		return a.Clone([]plan.Node{candidate}), plan.Rewrotef("pushed limit into access to %s", a.Source), nil
	}
	msg := fmt.Sprintf("limit not pushed: %s", reason)
	if slices.Contains(a.Annotations, msg) {
		return l, plan.NoRewrite, nil
	}
	annotated := a.Clone(a.Inputs()).(*plan.Access)
	annotated.Annotations = append(annotated.Annotations, msg)
	ctx.Record.Annotate(plan.Describe(l), "%s", msg)
	return l.Clone([]plan.Node{annotated}), plan.Rewrotef("annotated: %s", msg), nil
}

// limitUnion copies the limit, widened by the offset, into every branch
// that can evaluate it. The limit itself stays above the union.
func limitUnion(ctx *plancontext.PlanningContext, l *plan.Limit, u *plan.UnionAll) (plan.Node, *plan.ApplyResult, error) {
	if l.Pushed || l.Unbounded() {
		return l, plan.NoRewrite, nil
	}
	branches := slices.Clone(u.Branches)
	pushed := 0
	for i, b := range u.Branches {
		a, ok := b.(*plan.Access)
		if !ok || a.Input == nil {
			continue
		}
		candidate := &plan.Limit{Input: a.Input, Offset: 0, Count: l.Count + l.Offset}
		ok, _, err := composes(ctx, a.Source, candidate)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			branches[i] = a.Clone([]plan.Node{candidate})
			pushed++
		}
	}
	if pushed == 0 {
		return l, plan.NoRewrite, nil
	}
	res := l.Clone([]plan.Node{&plan.UnionAll{Branches: branches}}).(*plan.Limit)
	res.Pushed = true
	ctx.Record.Decided(plan.Describe(l), "limit copied into %d of %d union branches", pushed, len(branches))
	return res, plan.Rewrotef("pushed limit into %d union branches", pushed), nil
}
