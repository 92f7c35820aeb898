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
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// CheckConformance verifies that every finalized Access command only uses
// constructs its source declared.
func CheckConformance(ctx *plancontext.PlanningContext, root plan.Node) error {
	var err error
	plan.VisitTopDown(root, func(node plan.Node) bool {
		if err != nil {
			return false
		}
		a, ok := node.(*plan.Access)
		if !ok || a.Command == nil {
			return true
		}
		v, verr := newValidator(ctx, a)
		if verr != nil {
			err = verr
			return false
		}
		if verr := v.statement(a.Command); verr != nil {
			err = federrors.PlanningError(plan.Describe(a), "command does not conform to %s: %s", a.Source, verr.Error())
		}
		return false
	})
	return err
}

type validator struct {
	caps    *capabilities.Capabilities
	checker *criteria.Checker
	tables  map[string]*metadata.Table
	source  string
}

func newValidator(ctx *plancontext.PlanningContext, a *plan.Access) (*validator, error) {
	caps, err := ctx.Capabilities(a.Source)
	if err != nil {
		return nil, err
	}
	v := &validator{caps: caps, source: a.Source, tables: map[string]*metadata.Table{}}
	for alias, name := range a.Tables {
		t, err := ctx.Catalog.Table(name)
		if err != nil {
			return nil, err
		}
		v.tables[alias] = t
	}
	v.checker = &criteria.Checker{
		Caps:  caps,
		MaxIn: ctx.MaxInCriteriaSize(a.Source),
		Resolve: func(col *sqlast.ColName) (*metadata.Table, *metadata.Column) {
			t := v.tables[col.Qualifier]
			if t == nil {
				return nil, nil
			}
			return t, t.Column(col.Name)
		},
	}
	return v, nil
}

func (v *validator) need(capability capabilities.Capability) error {
	if !v.caps.Supports(capability) {
		return fmt.Errorf("%s not supported", capability)
	}
	return nil
}

func check(ok bool, why string) error {
	if ok {
		return nil
	}
	return fmt.Errorf("%s", why)
}

func (v *validator) statement(stmt sqlast.Statement) error {
	switch stmt := stmt.(type) {
	case *sqlast.Select:
		return v.selectStatement(stmt)
	case *sqlast.Union:
		if err := v.need(capabilities.QueryUnion); err != nil {
			return err
		}
		if err := v.statement(stmt.Left); err != nil {
			return err
		}
		if err := v.statement(stmt.Right); err != nil {
			return err
		}
		return v.orderAndLimit(stmt.OrderBy, stmt.Limit)
	}
	return fmt.Errorf("unknown statement %T", stmt)
}

func (v *validator) selectStatement(sel *sqlast.Select) error {
	if sel.Distinct {
		if err := v.need(capabilities.QuerySelectDistinct); err != nil {
			return err
		}
	}
	seen := mapset.NewThreadUnsafeSet[string]()
	for _, from := range sel.From {
		if err := v.tableExpr(from, seen); err != nil {
			return err
		}
	}
	for _, item := range sel.SelectExprs {
		if err := v.selectExpr(item.Expr); err != nil {
			return err
		}
	}
	for _, conjunct := range sqlast.SplitAndExpression(nil, sel.Where) {
		if err := check(v.checker.Supported(conjunct)); err != nil {
			return err
		}
	}
	if len(sel.GroupBy) > 0 {
		if err := v.need(capabilities.QueryGroupBy); err != nil {
			return err
		}
	}
	for _, gb := range sel.GroupBy {
		if _, isCol := gb.(*sqlast.ColName); isCol {
			continue
		}
		if err := v.need(capabilities.QueryFunctionsInGroupBy); err != nil {
			return err
		}
		if err := check(v.checker.SupportedExpr(gb)); err != nil {
			return err
		}
	}
	if sel.Having != nil {
		if err := v.need(capabilities.QueryHaving); err != nil {
			return err
		}
	}
	return v.orderAndLimit(sel.OrderBy, sel.Limit)
}

func (v *validator) selectExpr(e sqlast.Expr) error {
	switch e := e.(type) {
	case *sqlast.ColName:
		return nil
	case *sqlast.AggrFunc:
		return check(v.checker.AggregateSupported(e))
	}
	if err := v.need(capabilities.QuerySelectExpression); err != nil {
		return err
	}
	return check(v.checker.SupportedExpr(e))
}

func (v *validator) tableExpr(te sqlast.TableExpr, seen mapset.Set[string]) error {
	switch te := te.(type) {
	case *sqlast.TableRef:
		t := v.tables[te.As]
		if t == nil {
			return fmt.Errorf("unknown table alias %s", te.As)
		}
		if !t.AvailableSources().Contains(v.source) {
			return fmt.Errorf("table %s is not available", t.Name)
		}
		if seen.Contains(t.Name) {
			if err := v.need(capabilities.JoinSelf); err != nil {
				return err
			}
		}
		seen.Add(t.Name)
		return nil
	case *sqlast.DerivedTable:
		if err := v.need(capabilities.QueryFromInlineViews); err != nil {
			return err
		}
		return v.statement(te.Select)
	case *sqlast.JoinTableExpr:
		var capability capabilities.Capability
		switch {
		case te.Join == sqlast.LeftJoin:
			capability = capabilities.JoinOuter
		case te.Join == sqlast.FullOuterJoin:
			capability = capabilities.JoinFullOuter
		case te.On == nil:
			capability = capabilities.JoinCross
		default:
			capability = capabilities.JoinInner
		}
		if err := v.need(capability); err != nil {
			return err
		}
		if err := v.tableExpr(te.Left, seen); err != nil {
			return err
		}
		if err := v.tableExpr(te.Right, seen); err != nil {
			return err
		}
		for _, conjunct := range sqlast.SplitAndExpression(nil, te.On) {
			if err := check(v.checker.Supported(conjunct)); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown table expression %T", te)
}

func (v *validator) orderAndLimit(orderBy []*sqlast.Order, limit *sqlast.Limit) error {
	if len(orderBy) > 0 {
		if err := v.need(capabilities.QueryOrderBy); err != nil {
			return err
		}
	}
	if limit == nil {
		return nil
	}
	if err := v.need(capabilities.RowLimit); err != nil {
		return err
	}
	if limit.Offset != nil {
		return v.need(capabilities.RowOffset)
	}
	return nil
}

// CheckAccessPatterns verifies that every table with access patterns read
// by a finalized Access command has one pattern bound by the command's
// predicates.
func CheckAccessPatterns(ctx *plancontext.PlanningContext, root plan.Node) error {
	var err error
	plan.VisitTopDown(root, func(node plan.Node) bool {
		if err != nil {
			return false
		}
		a, ok := node.(*plan.Access)
		if !ok || a.Command == nil {
			return true
		}
		if table, ok := unboundTable(ctx, a.Command, a.Tables); !ok {
			err = federrors.PlanningError(plan.Describe(a), "access pattern of %s is not satisfied", table)
		}
		return false
	})
	return err
}

// unboundTable returns the first table of the command whose access
// patterns the command does not satisfy.
func unboundTable(ctx *plancontext.PlanningContext, stmt sqlast.Statement, tables map[string]string) (string, bool) {
	constrained := map[string]*metadata.Table{}
	for alias, name := range tables {
		t, err := ctx.Catalog.Table(name)
		if err != nil || !t.HasAccessPatterns() {
			continue
		}
		constrained[alias] = t
	}
	if len(constrained) == 0 {
		return "", true
	}

	conjuncts := predicates(stmt)
	satisfied := mapset.NewThreadUnsafeSet[string]()
	for alias := range tables {
		if _, ok := constrained[alias]; !ok {
			satisfied.Add(alias)
		}
	}
	// A table is bound by constants, list arguments, or equality to a table
	// that is already satisfied.
	for changed := true; changed; {
		changed = false
		for alias, t := range constrained {
			if satisfied.Contains(alias) {
				continue
			}
			bound := criteria.BoundColumns(conjuncts, alias)
			for _, e := range conjuncts {
				other, col, ok := equalityTo(e, alias)
				if ok && satisfied.Contains(other) {
					bound.Add(col)
				}
			}
			if criteria.SatisfiesAccessPattern(t, bound) {
				satisfied.Add(alias)
				changed = true
			}
		}
	}
	for alias, t := range constrained {
		if !satisfied.Contains(alias) {
			return t.Name, false
		}
	}
	return "", true
}

// equalityTo matches alias.col = other.x and returns other and col.
func equalityTo(e sqlast.Expr, alias string) (string, string, bool) {
	cmp, ok := e.(*sqlast.ComparisonExpr)
	if !ok || cmp.Operator != sqlast.EqualOp {
		return "", "", false
	}
	l, lok := cmp.Left.(*sqlast.ColName)
	r, rok := cmp.Right.(*sqlast.ColName)
	if !lok || !rok {
		return "", "", false
	}
	switch {
	case l.Qualifier == alias && r.Qualifier != alias:
		return r.Qualifier, l.Name, true
	case r.Qualifier == alias && l.Qualifier != alias:
		return l.Qualifier, r.Name, true
	}
	return "", "", false
}

// predicates collects the conjuncts that restrict the rows of base tables:
// WHERE clauses and inner join conditions, at any nesting level.
func predicates(stmt sqlast.Statement) []sqlast.Expr {
	var res []sqlast.Expr
	var fromTable func(te sqlast.TableExpr)
	var fromStatement func(stmt sqlast.Statement)
	fromTable = func(te sqlast.TableExpr) {
		switch te := te.(type) {
		case *sqlast.DerivedTable:
			fromStatement(te.Select)
		case *sqlast.JoinTableExpr:
			fromTable(te.Left)
			fromTable(te.Right)
			// A left join condition still binds the null-supplying side.
			if te.Join == sqlast.NormalJoin || te.Join == sqlast.LeftJoin {
				res = sqlast.SplitAndExpression(res, te.On)
			}
		}
	}
	fromStatement = func(stmt sqlast.Statement) {
		switch stmt := stmt.(type) {
		case *sqlast.Select:
			for _, from := range stmt.From {
				fromTable(from)
			}
			res = sqlast.SplitAndExpression(res, stmt.Where)
		case *sqlast.Union:
			fromStatement(stmt.Left)
			fromStatement(stmt.Right)
		}
	}
	fromStatement(stmt)
	return res
}
