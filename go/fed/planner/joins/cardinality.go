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
	"fmt"
	"math"

	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// CardinalityClass buckets a row estimate. Classes are ordered, smaller
// first, with Unknown last.
type CardinalityClass int

const (
	// Small inputs are below the independent cardinality and may feed a
	// dependent join.
	Small CardinalityClass = iota
	// Medium inputs fit in an IN list of the default size.
	Medium
	Large
	Unknown
)

func (c CardinalityClass) String() string {
	switch c {
	case Small:
		return "small"
	case Medium:
		return "medium"
	case Large:
		return "large"
	case Unknown:
		return "unknown"
	}
	return fmt.Sprintf("CardinalityClass(%d)", int(c))
}

// Classify returns the class of a row estimate.
func Classify(cfg plancontext.Config, rows int64) CardinalityClass {
	switch {
	case rows < 0:
		return Unknown
	case rows < cfg.IndependentCardinality:
		return Small
	case rows <= int64(cfg.DefaultMaxInCriteriaSize):
		return Medium
	}
	return Large
}

// sortKey orders estimates with unknown ones last.
func sortKey(rows int64) int64 {
	if rows < 0 {
		return math.MaxInt64
	}
	return rows
}

// Estimate returns the estimated row count of a subtree, or
// metadata.Unknown.
func Estimate(ctx *plancontext.PlanningContext, node plan.Node) int64 {
	switch node := node.(type) {
	case *plan.Source:
		if node.IsView() {
			return Estimate(ctx, node.View)
		}
		if t := ctx.TableOf(node.Group); t != nil {
			return t.Cardinality
		}
	case *plan.Access:
		if node.Input != nil {
			return Estimate(ctx, node.Input)
		}
	case *plan.Select:
		rows := Estimate(ctx, node.Input)
		for _, group := range plan.Groups(node.Input.Outputs()).ToSlice() {
			t := ctx.TableOf(group)
			if t != nil && t.IsKey(criteria.BoundColumns(node.Conjuncts, group)) {
				if rows == 0 {
					return 0
				}
				return 1
			}
		}
		return rows
	case *plan.Project, *plan.Sort, *plan.DupRemove, *plan.Grouping:
		return Estimate(ctx, node.Inputs()[0])
	case *plan.Limit:
		rows := Estimate(ctx, node.Input)
		if node.Unbounded() {
			return rows
		}
		if rows < 0 {
			return node.Count
		}
		return min(rows, node.Count)
	case *plan.UnionAll:
		var total int64
		for _, b := range node.Branches {
			rows := Estimate(ctx, b)
			if rows < 0 {
				return metadata.Unknown
			}
			total += rows
		}
		return total
	case *plan.Join:
		lefts, rights, _ := criteria.EquiPairs(node.Criteria, plan.KeySet(node.Left.Outputs()), plan.KeySet(node.Right.Outputs()))
		return joinEstimate(ctx, Estimate(ctx, node.Left), Estimate(ctx, node.Right), lefts, rights)
	case *plan.Null:
		return 0
	}
	return metadata.Unknown
}

// joinEstimate estimates a join from the estimates of its sides. A side
// joined on its key does not multiply the rows of the other side.
func joinEstimate(ctx *plancontext.PlanningContext, left, right int64, lefts, rights []sqlast.Expr) int64 {
	switch {
	case left < 0 || right < 0:
		return metadata.Unknown
	case criteria.KeyCovered(ctx, rights):
		return left
	case criteria.KeyCovered(ctx, lefts):
		return right
	case len(lefts) == 0:
		if left > 0 && right > math.MaxInt64/left {
			return math.MaxInt64
		}
		return left * right
	}
	return max(left, right)
}
