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

// Package rules drives planning: an ordered catalog of named rewrite rules,
// each run once or until it stops changing the tree.
package rules

import (
	"log/slog"
	"time"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/log"
	"github.com/fedplan/fedplan/go/fed/planner/access"
	"github.com/fedplan/fedplan/go/fed/planner/aggregates"
	"github.com/fedplan/fedplan/go/fed/planner/joins"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
)

// Mode tells the engine how often to apply a rule.
type Mode int

const (
	// Once rules are applied a single time.
	Once Mode = iota
	// Fixpoint rules are applied until they report no rewrite.
	Fixpoint
)

func (m Mode) String() string {
	if m == Fixpoint {
		return "fixpoint"
	}
	return "once"
}

// Apply rewrites a tree. It returns NoRewrite when the tree is unchanged.
type Apply func(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error)

// Rule is a named tree rewrite.
type Rule struct {
	Name  string
	Mode  Mode
	Apply Apply
}

// Catalog returns the rules in the order the planner applies them.
func Catalog() []Rule {
	return []Rule{
		{Name: "push_criteria", Mode: Fixpoint, Apply: PushCriteria},
		{Name: "remove_optional_joins", Mode: Once, Apply: RemoveOptionalJoins},
		{Name: "merge_virtual", Mode: Once, Apply: MergeVirtual},
		{Name: "plan_joins", Mode: Once, Apply: joins.Plan},
		{Name: "place_access", Mode: Fixpoint, Apply: PlaceAccess},
		{Name: "push_aggregates", Mode: Once, Apply: aggregates.Push},
		{Name: "push_limit", Mode: Fixpoint, Apply: PushLimit},
		{Name: "remove_redundant", Mode: Fixpoint, Apply: RemoveRedundant},
		{Name: "raise_null", Mode: Fixpoint, Apply: RaiseNull},
		{Name: "clean_criteria", Mode: Once, Apply: CleanCriteria},
		{Name: "finalize_access", Mode: Once, Apply: access.Finalize},
	}
}

// PlaceAccess assigns base tables to their sources and raises the access
// nodes as far as the sources allow.
func PlaceAccess(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	placed, placedResult, err := access.Place(ctx, root)
	if err != nil {
		return nil, nil, err
	}
	raised, raisedResult, err := access.Raise(ctx, placed)
	if err != nil {
		return nil, nil, err
	}
	return raised, placedResult.Merge(raisedResult), nil
}

// Optimize runs the rule catalog over the tree and checks the result.
func Optimize(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, error) {
	return OptimizeWith(ctx, root, Catalog())
}

// OptimizeWith runs the given rules, in order, over the tree.
func OptimizeWith(ctx *plancontext.PlanningContext, root plan.Node, rules []Rule) (res plan.Node, err error) {
	start := time.Now()
	defer func() {
		planningDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			planningErrors.WithLabelValues(federrors.Kind(err)).Inc()
		}
	}()

	if err := ctx.IndexTree(root); err != nil {
		return nil, err
	}
	for _, rule := range rules {
		root, err = runRule(ctx, rule, root)
		if err != nil {
			return nil, err
		}
	}
	if err := access.CheckConformance(ctx, root); err != nil {
		return nil, err
	}
	if err := access.CheckAccessPatterns(ctx, root); err != nil {
		return nil, err
	}
	return root, nil
}

func runRule(ctx *plancontext.PlanningContext, rule Rule, root plan.Node) (plan.Node, error) {
	ctx.Record.SetRule(rule.Name)
	defer ctx.Record.SetRule("")

	passes := 1
	if rule.Mode == Fixpoint {
		passes = ctx.Config.MaxFixpointPasses
	}
	logger := log.With("session", ctx.SessionID, "rule", rule.Name)
	seen := map[uint64]bool{}
	for pass := 0; pass < passes; pass++ {
		next, result, err := rule.Apply(ctx, root)
		if err != nil {
			return nil, err
		}
		if !result.Changed() {
			return root, nil
		}
		for _, msg := range result.Messages() {
			ctx.Record.Rewrote("%s", msg)
		}
		ruleRewrites.WithLabelValues(rule.Name).Inc()
		if log.Enabled(slog.LevelDebug) {
			logger.DebugS("rewrote the tree", "pass", pass, "messages", result.Messages())
		}
		if ctx.Config.Validate {
			if err := plan.CheckClosure(next); err != nil {
				return nil, federrors.Wrapf(err, "after %s", rule.Name)
			}
		}
		root = next
		if rule.Mode == Once {
			return root, nil
		}
		fp := plan.Fingerprint(root)
		if seen[fp] {
			return nil, federrors.Bug("%s oscillates between equivalent trees", rule.Name)
		}
		seen[fp] = true
	}
	return nil, federrors.Bug("%s did not converge after %d passes", rule.Name, passes)
}
