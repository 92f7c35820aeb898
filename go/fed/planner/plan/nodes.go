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

// Package plan contains the relational plan the planner rewrites. A plan is
// a tree of Nodes; every node kind is its own struct and code dispatches on
// them with type switches. Nodes are never modified in place once they are
// part of a tree: rewrites build new nodes with Clone.
//
// Nodes communicate through symbols: every node exposes an ordered list of
// output columns, and every expression a node evaluates may only reference
// the outputs of its direct inputs.
package plan

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/fedplan/fedplan/go/fed/sqlast"
)

type (
	// Node is a plan operator.
	Node interface {
		// Inputs returns the child nodes, in order.
		Inputs() []Node
		// Clone returns a copy of the node with its inputs replaced.
		Clone(inputs []Node) Node
		// Outputs returns the symbols the node produces, in order.
		Outputs() []*sqlast.ColName
		// ShortDescription is a one line summary used in trees and errors.
		ShortDescription() string

		iNode()
	}

	// Hints are the planner hints attached to a Source.
	Hints struct {
		MakeDep    bool
		MakeNotDep bool
		Optional   bool
		NoUnnest   bool
	}

	// Source is a leaf: a base table, or a view whose definition is View.
	// Its outputs are its columns qualified by Group.
	Source struct {
		Group   string
		Table   string
		Columns []string
		Hints   Hints
		View    Node
	}

	// Access is executed as a single command by one data source. Before
	// finalization Input holds the subtree to push; afterwards Command holds
	// the command, Columns the symbols of its select list and Tables maps
	// command aliases to table names.
	Access struct {
		Source      string
		Input       Node
		Command     sqlast.Statement
		Columns     []*sqlast.ColName
		Tables      map[string]string
		Dependent   bool
		Annotations []string
	}

	// Join joins two inputs.
	Join struct {
		Left, Right Node
		Type        JoinType
		Criteria    []sqlast.Expr
		Strategy    JoinStrategy

		// LeftExprs and RightExprs are the equi-join key pairs.
		LeftExprs, RightExprs []sqlast.Expr

		// DependentSide receives the values of the other side. DependentArgs
		// names the list arguments, one per key pair, that carry them.
		DependentSide        Side
		DependentValueSource string
		DependentArgs        []string

		Optional bool
	}

	// Select filters rows. Having marks a filter over aggregated values.
	Select struct {
		Input     Node
		Conjuncts []sqlast.Expr
		Having    bool
	}

	// Project computes Exprs, producing Columns.
	Project struct {
		Input   Node
		Columns []*sqlast.ColName
		Exprs   []sqlast.Expr
	}

	// Grouping groups its input. Its outputs are Group.gcolN for every
	// grouping expression followed by Group.aggN for every aggregate.
	Grouping struct {
		Input      Node
		Group      string
		GroupBy    []sqlast.Expr
		Aggregates []*sqlast.AggrFunc
	}

	// Sort orders its input. JoinSort marks sorts feeding a merge join.
	Sort struct {
		Input    Node
		Items    []*sqlast.Order
		JoinSort bool
	}

	// DupRemove removes duplicate rows.
	DupRemove struct {
		Input Node
	}

	// Limit skips Offset rows and returns at most Count rows; a negative
	// Count means no upper bound. Pushed marks a limit that already placed
	// a copy of itself further down.
	Limit struct {
		Input  Node
		Offset int64
		Count  int64
		Pushed bool
	}

	// UnionAll concatenates its branches. Its outputs are the outputs of the
	// first branch.
	UnionAll struct {
		Branches []Node
	}

	// PlanExecution runs an opaque, separately planned sub-plan.
	PlanExecution struct {
		Name string
		Plan Node
		Cols []*sqlast.ColName
	}

	// Null produces no rows.
	Null struct {
		Cols []*sqlast.ColName
	}
)

// JoinType is the logical type of a Join.
type JoinType int

const (
	InnerJoin JoinType = iota
	CrossJoin
	LeftOuterJoin
	RightOuterJoin
	FullOuterJoin
)

func (t JoinType) String() string {
	switch t {
	case InnerJoin:
		return "inner"
	case CrossJoin:
		return "cross"
	case LeftOuterJoin:
		return "left outer"
	case RightOuterJoin:
		return "right outer"
	case FullOuterJoin:
		return "full outer"
	}
	return fmt.Sprintf("JoinType(%d)", int(t))
}

// IsInner returns true for inner and cross joins.
func (t JoinType) IsInner() bool {
	return t == InnerJoin || t == CrossJoin
}

// IsOuter returns true for left, right and full outer joins.
func (t JoinType) IsOuter() bool {
	return !t.IsInner()
}

// JoinStrategy is how a Join gets executed.
type JoinStrategy int

const (
	StrategyUndecided JoinStrategy = iota
	// StrategyPushdown joins are part of a single source command.
	StrategyPushdown
	StrategyNestedLoop
	StrategyMergeJoin
	// StrategyDependent joins feed the values of one side into the
	// command of the other.
	StrategyDependent
)

func (s JoinStrategy) String() string {
	switch s {
	case StrategyUndecided:
		return "undecided"
	case StrategyPushdown:
		return "pushdown"
	case StrategyNestedLoop:
		return "nested loop"
	case StrategyMergeJoin:
		return "merge join"
	case StrategyDependent:
		return "dependent"
	}
	return fmt.Sprintf("JoinStrategy(%d)", int(s))
}

// Side names a side of a Join.
type Side int

const (
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	}
	return "none"
}

func (*Source) iNode()        {}
func (*Access) iNode()        {}
func (*Join) iNode()          {}
func (*Select) iNode()        {}
func (*Project) iNode()       {}
func (*Grouping) iNode()      {}
func (*Sort) iNode()          {}
func (*DupRemove) iNode()     {}
func (*Limit) iNode()         {}
func (*UnionAll) iNode()      {}
func (*PlanExecution) iNode() {}
func (*Null) iNode()          {}

// Inputs implements the Node interface
func (s *Source) Inputs() []Node {
	if s.View == nil {
		return nil
	}
	return []Node{s.View}
}

// Clone implements the Node interface
func (s *Source) Clone(inputs []Node) Node {
	clone := *s
	clone.Columns = append([]string(nil), s.Columns...)
	clone.View = nil
	if len(inputs) > 0 {
		clone.View = inputs[0]
	}
	return &clone
}

// Outputs implements the Node interface
func (s *Source) Outputs() []*sqlast.ColName {
	res := make([]*sqlast.ColName, 0, len(s.Columns))
	for _, c := range s.Columns {
		res = append(res, sqlast.NewColName(s.Group, c))
	}
	return res
}

// IsView returns true if the source is a view.
func (s *Source) IsView() bool {
	return s.View != nil
}

// ShortDescription implements the Node interface
func (s *Source) ShortDescription() string {
	var sb strings.Builder
	if s.IsView() {
		fmt.Fprintf(&sb, "view %s", s.Group)
	} else {
		fmt.Fprintf(&sb, "%s as %s", s.Table, s.Group)
	}
	var hints []string
	if s.Hints.MakeDep {
		hints = append(hints, "makedep")
	}
	if s.Hints.MakeNotDep {
		hints = append(hints, "makenotdep")
	}
	if s.Hints.Optional {
		hints = append(hints, "optional")
	}
	if s.Hints.NoUnnest {
		hints = append(hints, "no_unnest")
	}
	if len(hints) > 0 {
		fmt.Fprintf(&sb, " /*+ %s */", strings.Join(hints, " "))
	}
	return sb.String()
}

// Inputs implements the Node interface
func (a *Access) Inputs() []Node {
	if a.Input == nil {
		return nil
	}
	return []Node{a.Input}
}

// Clone implements the Node interface
func (a *Access) Clone(inputs []Node) Node {
	clone := *a
	clone.Input = nil
	if len(inputs) > 0 {
		clone.Input = inputs[0]
	}
	clone.Columns = append([]*sqlast.ColName(nil), a.Columns...)
	clone.Annotations = append([]string(nil), a.Annotations...)
	return &clone
}

// Outputs implements the Node interface
func (a *Access) Outputs() []*sqlast.ColName {
	if a.Input != nil {
		return a.Input.Outputs()
	}
	return a.Columns
}

// ShortDescription implements the Node interface
func (a *Access) ShortDescription() string {
	desc := a.Source
	if a.Dependent {
		desc += " dependent"
	}
	if a.Command != nil {
		desc += " " + sqlast.String(a.Command)
	}
	return desc
}

// Inputs implements the Node interface
func (j *Join) Inputs() []Node {
	return []Node{j.Left, j.Right}
}

// Clone implements the Node interface
func (j *Join) Clone(inputs []Node) Node {
	clone := *j
	clone.Left, clone.Right = inputs[0], inputs[1]
	clone.Criteria = sqlast.CloneExprs(j.Criteria)
	clone.LeftExprs = sqlast.CloneExprs(j.LeftExprs)
	clone.RightExprs = sqlast.CloneExprs(j.RightExprs)
	clone.DependentArgs = append([]string(nil), j.DependentArgs...)
	return &clone
}

// Outputs implements the Node interface
func (j *Join) Outputs() []*sqlast.ColName {
	return append(append([]*sqlast.ColName(nil), j.Left.Outputs()...), j.Right.Outputs()...)
}

// ShortDescription implements the Node interface
func (j *Join) ShortDescription() string {
	desc := fmt.Sprintf("%s, %s", j.Type, j.Strategy)
	if j.Strategy == StrategyDependent {
		desc += fmt.Sprintf(" %s <- %s", j.DependentSide, j.DependentValueSource)
	}
	if j.Optional {
		desc += ", optional"
	}
	if len(j.Criteria) > 0 {
		desc += ", " + exprList(j.Criteria, " and ")
	}
	return desc
}

// Inputs implements the Node interface
func (s *Select) Inputs() []Node {
	return []Node{s.Input}
}

// Clone implements the Node interface
func (s *Select) Clone(inputs []Node) Node {
	return &Select{
		Input:     inputs[0],
		Conjuncts: sqlast.CloneExprs(s.Conjuncts),
		Having:    s.Having,
	}
}

// Outputs implements the Node interface
func (s *Select) Outputs() []*sqlast.ColName {
	return s.Input.Outputs()
}

// ShortDescription implements the Node interface
func (s *Select) ShortDescription() string {
	desc := exprList(s.Conjuncts, " and ")
	if s.Having {
		return "having " + desc
	}
	return desc
}

// Inputs implements the Node interface
func (p *Project) Inputs() []Node {
	return []Node{p.Input}
}

// Clone implements the Node interface
func (p *Project) Clone(inputs []Node) Node {
	return &Project{
		Input:   inputs[0],
		Columns: cloneCols(p.Columns),
		Exprs:   sqlast.CloneExprs(p.Exprs),
	}
}

// Outputs implements the Node interface
func (p *Project) Outputs() []*sqlast.ColName {
	return p.Columns
}

// ShortDescription implements the Node interface
func (p *Project) ShortDescription() string {
	items := make([]string, 0, len(p.Exprs))
	for i, e := range p.Exprs {
		text := sqlast.String(e)
		if col, ok := e.(*sqlast.ColName); !ok || !col.Equal(p.Columns[i]) {
			text += " as " + p.Columns[i].Key()
		}
		items = append(items, text)
	}
	return strings.Join(items, ", ")
}

// Inputs implements the Node interface
func (g *Grouping) Inputs() []Node {
	return []Node{g.Input}
}

// Clone implements the Node interface
func (g *Grouping) Clone(inputs []Node) Node {
	aggrs := make([]*sqlast.AggrFunc, 0, len(g.Aggregates))
	for _, a := range g.Aggregates {
		aggrs = append(aggrs, sqlast.CloneExpr(a).(*sqlast.AggrFunc))
	}
	return &Grouping{
		Input:      inputs[0],
		Group:      g.Group,
		GroupBy:    sqlast.CloneExprs(g.GroupBy),
		Aggregates: aggrs,
	}
}

// Outputs implements the Node interface
func (g *Grouping) Outputs() []*sqlast.ColName {
	res := make([]*sqlast.ColName, 0, len(g.GroupBy)+len(g.Aggregates))
	for i := range g.GroupBy {
		res = append(res, g.GroupCol(i))
	}
	for i := range g.Aggregates {
		res = append(res, g.AggrCol(i))
	}
	return res
}

// GroupCol returns the symbol of the i-th grouping expression.
func (g *Grouping) GroupCol(i int) *sqlast.ColName {
	return sqlast.NewColName(g.Group, fmt.Sprintf("gcol%d", i))
}

// AggrCol returns the symbol of the i-th aggregate.
func (g *Grouping) AggrCol(i int) *sqlast.ColName {
	return sqlast.NewColName(g.Group, fmt.Sprintf("agg%d", i))
}

// ShortDescription implements the Node interface
func (g *Grouping) ShortDescription() string {
	aggrs := make([]sqlast.Expr, 0, len(g.Aggregates))
	for _, a := range g.Aggregates {
		aggrs = append(aggrs, a)
	}
	desc := g.Group
	if len(g.GroupBy) > 0 {
		desc += " group by " + exprList(g.GroupBy, ", ")
	}
	if len(aggrs) > 0 {
		desc += " aggregates " + exprList(aggrs, ", ")
	}
	return desc
}

// Inputs implements the Node interface
func (s *Sort) Inputs() []Node {
	return []Node{s.Input}
}

// Clone implements the Node interface
func (s *Sort) Clone(inputs []Node) Node {
	items := make([]*sqlast.Order, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, &sqlast.Order{Expr: sqlast.CloneExpr(it.Expr), Desc: it.Desc})
	}
	return &Sort{Input: inputs[0], Items: items, JoinSort: s.JoinSort}
}

// Outputs implements the Node interface
func (s *Sort) Outputs() []*sqlast.ColName {
	return s.Input.Outputs()
}

// SortExprs returns the expressions of the sort items.
func (s *Sort) SortExprs() []sqlast.Expr {
	res := make([]sqlast.Expr, 0, len(s.Items))
	for _, it := range s.Items {
		res = append(res, it.Expr)
	}
	return res
}

// ShortDescription implements the Node interface
func (s *Sort) ShortDescription() string {
	items := make([]string, 0, len(s.Items))
	for _, it := range s.Items {
		items = append(items, sqlast.String(it))
	}
	desc := strings.Join(items, ", ")
	if s.JoinSort {
		desc += " (join sort)"
	}
	return desc
}

// Inputs implements the Node interface
func (d *DupRemove) Inputs() []Node {
	return []Node{d.Input}
}

// Clone implements the Node interface
func (d *DupRemove) Clone(inputs []Node) Node {
	return &DupRemove{Input: inputs[0]}
}

// Outputs implements the Node interface
func (d *DupRemove) Outputs() []*sqlast.ColName {
	return d.Input.Outputs()
}

// ShortDescription implements the Node interface
func (d *DupRemove) ShortDescription() string {
	return ""
}

// Inputs implements the Node interface
func (l *Limit) Inputs() []Node {
	return []Node{l.Input}
}

// Clone implements the Node interface
func (l *Limit) Clone(inputs []Node) Node {
	clone := *l
	clone.Input = inputs[0]
	return &clone
}

// Outputs implements the Node interface
func (l *Limit) Outputs() []*sqlast.ColName {
	return l.Input.Outputs()
}

// Unbounded returns true if the limit has no row count.
func (l *Limit) Unbounded() bool {
	return l.Count < 0
}

// ShortDescription implements the Node interface
func (l *Limit) ShortDescription() string {
	var desc string
	switch {
	case l.Unbounded():
		desc = fmt.Sprintf("offset %d", l.Offset)
	case l.Offset > 0:
		desc = fmt.Sprintf("limit %d, %d", l.Offset, l.Count)
	default:
		desc = fmt.Sprintf("limit %d", l.Count)
	}
	if l.Pushed {
		desc += " Pushed"
	}
	return desc
}

// Inputs implements the Node interface
func (u *UnionAll) Inputs() []Node {
	return u.Branches
}

// Clone implements the Node interface
func (u *UnionAll) Clone(inputs []Node) Node {
	return &UnionAll{Branches: append([]Node(nil), inputs...)}
}

// Outputs implements the Node interface
func (u *UnionAll) Outputs() []*sqlast.ColName {
	return u.Branches[0].Outputs()
}

// ShortDescription implements the Node interface
func (u *UnionAll) ShortDescription() string {
	return fmt.Sprintf("%d branches", len(u.Branches))
}

// Inputs implements the Node interface
func (p *PlanExecution) Inputs() []Node {
	return nil
}

// Clone implements the Node interface
func (p *PlanExecution) Clone([]Node) Node {
	return &PlanExecution{Name: p.Name, Plan: p.Plan, Cols: cloneCols(p.Cols)}
}

// Outputs implements the Node interface
func (p *PlanExecution) Outputs() []*sqlast.ColName {
	return p.Cols
}

// ShortDescription implements the Node interface
func (p *PlanExecution) ShortDescription() string {
	return p.Name
}

// Inputs implements the Node interface
func (n *Null) Inputs() []Node {
	return nil
}

// Clone implements the Node interface
func (n *Null) Clone([]Node) Node {
	return &Null{Cols: cloneCols(n.Cols)}
}

// Outputs implements the Node interface
func (n *Null) Outputs() []*sqlast.ColName {
	return n.Cols
}

// ShortDescription implements the Node interface
func (n *Null) ShortDescription() string {
	return ""
}

func cloneCols(cols []*sqlast.ColName) []*sqlast.ColName {
	if cols == nil {
		return nil
	}
	res := make([]*sqlast.ColName, 0, len(cols))
	for _, c := range cols {
		res = append(res, sqlast.NewColName(c.Qualifier, c.Name))
	}
	return res
}

func exprList(exprs []sqlast.Expr, sep string) string {
	parts := make([]string, 0, len(exprs))
	for _, e := range exprs {
		parts = append(parts, sqlast.String(e))
	}
	return strings.Join(parts, sep)
}

// CardinalityString renders a row estimate for humans.
func CardinalityString(rows int64) string {
	if rows < 0 {
		return "unknown"
	}
	return humanize.Comma(rows)
}
