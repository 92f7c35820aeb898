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

// Package access turns subtrees that a single data source can evaluate
// into Access nodes, and serializes each Access into one command.
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

// Command is the serialized form of an Access subtree.
type Command struct {
	Statement sqlast.Statement
	// Columns are the symbols produced by the select list, in order.
	Columns []*sqlast.ColName
	// Tables maps the table aliases of the command to table names.
	Tables    map[string]string
	Dependent bool
}

// CannotPushError reports why a subtree cannot be evaluated by a source.
type CannotPushError struct {
	Reason string
}

func (e *CannotPushError) Error() string {
	return e.Reason
}

func cannotPush(format string, args ...any) error {
	return &CannotPushError{Reason: fmt.Sprintf(format, args...)}
}

// queryState is the command built so far for a subtree. Either sel or
// union is set.
type queryState struct {
	sel   *sqlast.Select
	union *sqlast.Union

	// scope maps the symbols of the subtree to command expressions.
	scope   map[string]sqlast.Expr
	outputs []*sqlast.ColName

	distinct bool
	grouped  bool
	limited  bool
	ordered  bool
	// computed is set when a projection produced something other than
	// plain columns.
	computed bool

	tables []string
}

// dropOrder removes an ORDER BY that does not decide which rows a limit
// keeps; the consumer does not preserve order.
func (st *queryState) dropOrder() {
	if !st.ordered {
		return
	}
	if st.union != nil {
		st.union.OrderBy = nil
	} else {
		st.sel.OrderBy = nil
	}
	st.ordered = false
}

type composer struct {
	ctx     *plancontext.PlanningContext
	source  string
	caps    *capabilities.Capabilities
	checker *criteria.Checker

	tables    map[string]*metadata.Table
	nextTable int
	nextView  int
	dependent bool
}

func newComposer(ctx *plancontext.PlanningContext, source string) (*composer, error) {
	caps, err := ctx.Capabilities(source)
	if err != nil {
		return nil, err
	}
	c := &composer{
		ctx:    ctx,
		source: source,
		caps:   caps,
		tables: map[string]*metadata.Table{},
	}
	c.checker = &criteria.Checker{
		Caps:  caps,
		MaxIn: ctx.MaxInCriteriaSize(source),
		Resolve: func(col *sqlast.ColName) (*metadata.Table, *metadata.Column) {
			t := c.tables[col.Qualifier]
			if t == nil {
				return nil, nil
			}
			return t, t.Column(col.Name)
		},
	}
	return c, nil
}

// Compose builds the command that evaluates input on source. Only the
// required symbols end up in the select list, unless the command's result
// depends on all of them; a nil required set keeps every output. A
// *CannotPushError means the source cannot evaluate the subtree.
func Compose(ctx *plancontext.PlanningContext, source string, input plan.Node, required mapset.Set[string]) (*Command, error) {
	c, err := newComposer(ctx, source)
	if err != nil {
		return nil, err
	}
	st, err := c.compose(input)
	if err != nil {
		return nil, err
	}

	cols := st.outputs
	if required != nil && st.union == nil && !st.distinct {
		var trimmed []*sqlast.ColName
		for _, col := range st.outputs {
			if required.Contains(col.Key()) {
				trimmed = append(trimmed, col)
			}
		}
		if len(trimmed) == 0 {
			trimmed = st.outputs[:1]
		}
		cols = trimmed
	}

	stmt, err := c.statement(st, cols)
	if err != nil {
		return nil, err
	}
	tables := make(map[string]string, len(c.tables))
	for alias, t := range c.tables {
		tables[alias] = t.Name
	}
	return &Command{
		Statement: stmt,
		Columns:   cols,
		Tables:    tables,
		Dependent: c.dependent,
	}, nil
}

func (c *composer) need(capability capabilities.Capability) error {
	if !c.caps.Supports(capability) {
		return cannotPush("%s not supported by %s", capability, c.source)
	}
	return nil
}

func (c *composer) compose(node plan.Node) (*queryState, error) {
	switch node := node.(type) {
	case *plan.Source:
		if node.IsView() {
			return c.composeView(node)
		}
		return c.composeTable(node)
	case *plan.Select:
		return c.composeSelect(node)
	case *plan.Project:
		return c.composeProject(node)
	case *plan.Grouping:
		return c.composeGrouping(node)
	case *plan.Sort:
		return c.composeSort(node)
	case *plan.DupRemove:
		return c.composeDistinct(node)
	case *plan.Limit:
		return c.composeLimit(node)
	case *plan.Join:
		return c.composeJoin(node)
	case *plan.UnionAll:
		return c.composeUnion(node)
	case *plan.Access:
		if node.Input == nil {
			return nil, federrors.Bug("cannot nest the finalized access to %s", node.Source)
		}
		if node.Source != c.source {
			return nil, cannotPush("subtree belongs to %s", node.Source)
		}
		return c.compose(node.Input)
	}
	return nil, cannotPush("%s cannot be evaluated by a source", plan.TypeName(node))
}

func (c *composer) translate(st *queryState, e sqlast.Expr) (sqlast.Expr, error) {
	for _, col := range sqlast.ColumnsOf(e) {
		if _, ok := st.scope[col.Key()]; !ok {
			return nil, federrors.Bug("symbol %s is not in scope", col.Key())
		}
	}
	if sqlast.ContainsListArg(e) {
		c.dependent = true
	}
	return sqlast.ReplaceColumns(e, st.scope), nil
}

func (c *composer) composeTable(node *plan.Source) (*queryState, error) {
	t := c.ctx.TableOf(node.Group)
	if t == nil {
		return nil, federrors.Bug("group %s is not registered", node.Group)
	}
	if !t.AvailableSources().Contains(c.source) {
		return nil, cannotPush("table %s is not available on %s", t.Name, c.source)
	}
	alias := fmt.Sprintf("g_%d", c.nextTable)
	c.nextTable++
	c.tables[alias] = t

	st := &queryState{
		sel:     &sqlast.Select{From: []sqlast.TableExpr{&sqlast.TableRef{Name: t.Name, As: alias}}},
		scope:   map[string]sqlast.Expr{},
		outputs: node.Outputs(),
		tables:  []string{t.Name},
	}
	for _, col := range node.Columns {
		st.scope[sqlast.NewColName(node.Group, col).Key()] = sqlast.NewColName(alias, col)
	}
	return st, nil
}

func (c *composer) composeView(node *plan.Source) (*queryState, error) {
	inner, err := c.compose(node.View)
	if err != nil {
		return nil, err
	}
	wrapped, err := c.wrap(inner)
	if err != nil {
		return nil, err
	}
	st := &queryState{sel: wrapped.sel, scope: map[string]sqlast.Expr{}, outputs: node.Outputs(), tables: wrapped.tables}
	for i, out := range node.Outputs() {
		st.scope[out.Key()] = wrapped.scope[wrapped.outputs[i].Key()]
	}
	return st, nil
}

// wrap turns the state into an inline view, so that further clauses apply
// to its result.
func (c *composer) wrap(st *queryState) (*queryState, error) {
	if err := c.need(capabilities.QueryFromInlineViews); err != nil {
		return nil, err
	}
	stmt, err := c.statement(st, st.outputs)
	if err != nil {
		return nil, err
	}
	alias := fmt.Sprintf("v_%d", c.nextView)
	c.nextView++

	res := &queryState{
		sel:     &sqlast.Select{From: []sqlast.TableExpr{&sqlast.DerivedTable{Select: stmt, As: alias}}},
		scope:   map[string]sqlast.Expr{},
		outputs: st.outputs,
		tables:  st.tables,
	}
	for i, out := range st.outputs {
		res.scope[out.Key()] = sqlast.NewColName(alias, columnAlias(i))
	}
	return res, nil
}

func columnAlias(i int) string {
	return fmt.Sprintf("c_%d", i)
}

// statement returns the command of the state, with a select list producing
// cols.
func (c *composer) statement(st *queryState, cols []*sqlast.ColName) (sqlast.Statement, error) {
	if st.union != nil {
		return st.union, nil
	}
	st.sel.SelectExprs = nil
	for i, col := range cols {
		e, ok := st.scope[col.Key()]
		if !ok {
			return nil, federrors.Bug("symbol %s is not in scope", col.Key())
		}
		st.sel.SelectExprs = append(st.sel.SelectExprs, &sqlast.AliasedExpr{Expr: sqlast.CloneExpr(e), As: columnAlias(i)})
	}
	return st.sel, nil
}

func (c *composer) composeSelect(node *plan.Select) (*queryState, error) {
	st, err := c.compose(node.Input)
	if err != nil {
		return nil, err
	}
	if st.union != nil || st.limited || st.distinct {
		if st, err = c.wrap(st); err != nil {
			return nil, err
		}
	}
	var exprs []sqlast.Expr
	for _, conjunct := range node.Conjuncts {
		e, err := c.translate(st, conjunct)
		if err != nil {
			return nil, err
		}
		if ok, why := c.predicateSupported(e, st.grouped); !ok {
			return nil, cannotPush("%s", why)
		}
		exprs = append(exprs, e)
	}
	if st.grouped {
		if err := c.need(capabilities.QueryHaving); err != nil {
			return nil, err
		}
		st.sel.Having = sqlast.AndExpressions(append(sqlast.SplitAndExpression(nil, st.sel.Having), exprs...)...)
		return st, nil
	}
	st.sel.Where = sqlast.AndExpressions(append(sqlast.SplitAndExpression(nil, st.sel.Where), exprs...)...)
	return st, nil
}

// predicateSupported checks a filter. Over a grouping the filter becomes a
// HAVING clause and may compare aggregates.
func (c *composer) predicateSupported(e sqlast.Expr, having bool) (bool, string) {
	if !having || !sqlast.ContainsAggregate(e) {
		return c.checker.Supported(e)
	}
	var why string
	masked := sqlast.RewriteExpr(e, func(e sqlast.Expr) sqlast.Expr {
		aggr, ok := e.(*sqlast.AggrFunc)
		if !ok {
			return e
		}
		if ok, reason := c.checker.AggregateSupported(aggr); !ok && why == "" {
			why = reason
		}
		return &sqlast.Argument{Name: aggr.Name}
	})
	if why != "" {
		return false, why
	}
	return c.checker.Supported(masked)
}

func (c *composer) composeProject(node *plan.Project) (*queryState, error) {
	st, err := c.compose(node.Input)
	if err != nil {
		return nil, err
	}
	if st.union != nil || st.distinct {
		if st, err = c.wrap(st); err != nil {
			return nil, err
		}
	}
	scope := make(map[string]sqlast.Expr, len(node.Columns))
	st.computed = false
	for i, col := range node.Columns {
		e, err := c.translate(st, node.Exprs[i])
		if err != nil {
			return nil, err
		}
		if _, isCol := e.(*sqlast.ColName); !isCol {
			if _, isAggr := e.(*sqlast.AggrFunc); !isAggr {
				if err := c.need(capabilities.QuerySelectExpression); err != nil {
					return nil, err
				}
			}
			if ok, why := c.checker.SupportedExpr(e); !ok {
				return nil, cannotPush("%s", why)
			}
			st.computed = true
		}
		scope[col.Key()] = e
	}
	st.scope = scope
	st.outputs = node.Columns
	return st, nil
}

func (c *composer) composeGrouping(node *plan.Grouping) (*queryState, error) {
	st, err := c.compose(node.Input)
	if err != nil {
		return nil, err
	}
	if st.union != nil || st.distinct || st.limited || st.grouped ||
		(!c.caps.Supports(capabilities.QueryFunctionsInGroupBy) && groupsByComputed(st, node)) {
		if st, err = c.wrap(st); err != nil {
			return nil, err
		}
	}
	st.dropOrder()
	if len(node.GroupBy) > 0 {
		if err := c.need(capabilities.QueryGroupBy); err != nil {
			return nil, err
		}
	}

	scope := map[string]sqlast.Expr{}
	var groupBy []sqlast.Expr
	for i, gb := range node.GroupBy {
		e, err := c.translate(st, gb)
		if err != nil {
			return nil, err
		}
		if _, isCol := e.(*sqlast.ColName); !isCol {
			if err := c.need(capabilities.QueryFunctionsInGroupBy); err != nil {
				return nil, err
			}
			if ok, why := c.checker.SupportedExpr(e); !ok {
				return nil, cannotPush("%s", why)
			}
		}
		groupBy = append(groupBy, e)
		scope[node.GroupCol(i).Key()] = e
	}
	for i, aggr := range node.Aggregates {
		e, err := c.translate(st, aggr)
		if err != nil {
			return nil, err
		}
		if ok, why := c.checker.AggregateSupported(e.(*sqlast.AggrFunc)); !ok {
			return nil, cannotPush("%s", why)
		}
		scope[node.AggrCol(i).Key()] = e
	}
	st.sel.GroupBy = groupBy
	st.scope = scope
	st.outputs = node.Outputs()
	st.grouped = true
	return st, nil
}

// groupsByComputed returns true when a grouping column refers to an
// expression computed by a projection below. Grouping on the column of an
// inline view does not need functions in GROUP BY.
func groupsByComputed(st *queryState, node *plan.Grouping) bool {
	if !st.computed {
		return false
	}
	for _, gb := range node.GroupBy {
		col, ok := gb.(*sqlast.ColName)
		if !ok {
			continue
		}
		if _, isCol := st.scope[col.Key()].(*sqlast.ColName); !isCol {
			return true
		}
	}
	return false
}

func (c *composer) composeSort(node *plan.Sort) (*queryState, error) {
	st, err := c.compose(node.Input)
	if err != nil {
		return nil, err
	}
	if st.limited {
		if st, err = c.wrap(st); err != nil {
			return nil, err
		}
	}
	if err := c.need(capabilities.QueryOrderBy); err != nil {
		return nil, err
	}
	var items []*sqlast.Order
	for _, item := range node.Items {
		e, err := c.translate(st, item.Expr)
		if err != nil {
			return nil, err
		}
		if ok, why := c.checker.SupportedExpr(e); !ok {
			return nil, cannotPush("%s", why)
		}
		items = append(items, &sqlast.Order{Expr: e, Desc: item.Desc})
	}
	if st.union != nil {
		st.union.OrderBy = items
	} else {
		st.sel.OrderBy = items
	}
	st.ordered = true
	return st, nil
}

func (c *composer) composeDistinct(node *plan.DupRemove) (*queryState, error) {
	st, err := c.compose(node.Input)
	if err != nil {
		return nil, err
	}
	if st.limited {
		if st, err = c.wrap(st); err != nil {
			return nil, err
		}
	}
	if st.union != nil {
		for u := st.union; u != nil; {
			u.Distinct = true
			left, ok := u.Left.(*sqlast.Union)
			if !ok {
				break
			}
			u = left
		}
	} else {
		if err := c.need(capabilities.QuerySelectDistinct); err != nil {
			return nil, err
		}
		st.sel.Distinct = true
	}
	st.distinct = true
	return st, nil
}

func (c *composer) composeLimit(node *plan.Limit) (*queryState, error) {
	st, err := c.compose(node.Input)
	if err != nil {
		return nil, err
	}
	if node.Unbounded() {
		return nil, cannotPush("offset without a row limit")
	}
	if err := c.need(capabilities.RowLimit); err != nil {
		return nil, err
	}
	if node.Offset > 0 {
		if err := c.need(capabilities.RowOffset); err != nil {
			return nil, err
		}
	}
	if st.limited {
		if st, err = c.wrap(st); err != nil {
			return nil, err
		}
	}
	limit := &sqlast.Limit{Rowcount: sqlast.NewIntLiteral(node.Count)}
	if node.Offset > 0 {
		limit.Offset = sqlast.NewIntLiteral(node.Offset)
	}
	if st.union != nil {
		st.union.Limit = limit
	} else {
		st.sel.Limit = limit
	}
	st.limited = true
	return st, nil
}

var joinCapability = map[plan.JoinType]capabilities.Capability{
	plan.InnerJoin:      capabilities.JoinInner,
	plan.CrossJoin:      capabilities.JoinCross,
	plan.LeftOuterJoin:  capabilities.JoinOuter,
	plan.RightOuterJoin: capabilities.JoinOuter,
	plan.FullOuterJoin:  capabilities.JoinFullOuter,
}

var commandJoinType = map[plan.JoinType]sqlast.JoinType{
	plan.InnerJoin:     sqlast.NormalJoin,
	plan.CrossJoin:     sqlast.CrossJoin,
	plan.LeftOuterJoin: sqlast.LeftJoin,
	plan.FullOuterJoin: sqlast.FullOuterJoin,
}

// fromItem prepares one side of a join. Sides that are more than tables,
// joins and filters become inline views; the filter of a side that may be
// null-extended must not move into the outer WHERE.
func (c *composer) fromItem(st *queryState, nullable bool) (*queryState, error) {
	if !st.limited {
		st.dropOrder()
	}
	needsView := st.union != nil || st.grouped || st.distinct || st.limited || st.ordered ||
		(nullable && st.computed)
	if needsView {
		return c.wrap(st)
	}
	return st, nil
}

func (c *composer) composeJoin(node *plan.Join) (*queryState, error) {
	typ := node.Type
	switch {
	case typ == plan.InnerJoin && len(node.Criteria) == 0:
		typ = plan.CrossJoin
	case typ == plan.CrossJoin && len(node.Criteria) > 0:
		typ = plan.InnerJoin
	}
	if err := c.need(joinCapability[typ]); err != nil {
		return nil, err
	}

	left, right := node.Left, node.Right
	if typ == plan.RightOuterJoin {
		left, right = right, left
		typ = plan.LeftOuterJoin
	}

	ls, err := c.compose(left)
	if err != nil {
		return nil, err
	}
	rs, err := c.compose(right)
	if err != nil {
		return nil, err
	}
	if ls, err = c.fromItem(ls, typ == plan.FullOuterJoin); err != nil {
		return nil, err
	}
	if rs, err = c.fromItem(rs, typ.IsOuter()); err != nil {
		return nil, err
	}
	if typ == plan.FullOuterJoin {
		if ls.sel.Where != nil {
			if ls, err = c.wrap(ls); err != nil {
				return nil, err
			}
		}
		if rs.sel.Where != nil {
			if rs, err = c.wrap(rs); err != nil {
				return nil, err
			}
		}
	}

	if mapset.NewThreadUnsafeSet(ls.tables...).Intersect(mapset.NewThreadUnsafeSet(rs.tables...)).Cardinality() > 0 {
		if err := c.need(capabilities.JoinSelf); err != nil {
			return nil, err
		}
	}

	level := c.caps.JoinCriteriaAllowed()
	if ok, why := criteria.JoinCriteriaAllowed(c.ctx, level, node.Criteria, plan.KeySet(left.Outputs()), plan.KeySet(right.Outputs())); !ok {
		return nil, cannotPush("%s", why)
	}

	st := &queryState{
		scope:   map[string]sqlast.Expr{},
		outputs: node.Outputs(),
		tables:  append(append([]string(nil), ls.tables...), rs.tables...),
	}
	for k, v := range ls.scope {
		st.scope[k] = v
	}
	for k, v := range rs.scope {
		st.scope[k] = v
	}

	var on []sqlast.Expr
	for _, conjunct := range node.Criteria {
		e, err := c.translate(st, conjunct)
		if err != nil {
			return nil, err
		}
		if ok, why := c.checker.Supported(e); !ok {
			return nil, cannotPush("%s", why)
		}
		on = append(on, e)
	}

	var where sqlast.Expr
	switch typ {
	case plan.LeftOuterJoin:
		where = ls.sel.Where
		on = append(on, sqlast.SplitAndExpression(nil, rs.sel.Where)...)
	default:
		where = sqlast.AndExpressions(ls.sel.Where, rs.sel.Where)
	}

	st.sel = &sqlast.Select{
		From: []sqlast.TableExpr{&sqlast.JoinTableExpr{
			Left:  ls.sel.From[0],
			Right: rs.sel.From[0],
			Join:  commandJoinType[typ],
			On:    sqlast.AndExpressions(on...),
		}},
		Where: where,
	}
	st.computed = ls.computed || rs.computed
	return st, nil
}

func (c *composer) composeUnion(node *plan.UnionAll) (*queryState, error) {
	if err := c.need(capabilities.QueryUnion); err != nil {
		return nil, err
	}
	if len(node.Branches) == 1 {
		return c.compose(node.Branches[0])
	}
	var stmt sqlast.Statement
	for _, branch := range node.Branches {
		st, err := c.compose(branch)
		if err != nil {
			return nil, err
		}
		if !st.limited {
			st.dropOrder()
		}
		if st.limited {
			if st, err = c.wrap(st); err != nil {
				return nil, err
			}
		}
		bs, err := c.statement(st, st.outputs)
		if err != nil {
			return nil, err
		}
		if stmt == nil {
			stmt = bs
			continue
		}
		stmt = &sqlast.Union{Left: stmt, Right: bs}
	}
	st := &queryState{
		union:   stmt.(*sqlast.Union),
		scope:   map[string]sqlast.Expr{},
		outputs: node.Outputs(),
	}
	for i, out := range node.Outputs() {
		st.scope[out.Key()] = sqlast.NewColName("", columnAlias(i))
	}
	return st, nil
}
