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

// Package joins chooses the order and the execution strategy of joins.
//
// Inner joins are planned per region, a maximal tree of inner joins.
// Inputs of a region that a single source can evaluate together are merged
// into pushdown joins first. The remaining inputs are then joined
// left-deep, picking at every step the next input that can be joined
// without violating an access pattern, preferring connected and smaller
// inputs. Every step is executed as a dependent join, a merge join or a
// nested loop join. Outer joins keep their order.
package joins

import (
	"errors"
	"slices"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/log"
	"github.com/fedplan/fedplan/go/fed/planner/access"
	"github.com/fedplan/fedplan/go/fed/planner/criteria"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Plan decides every join that has no strategy yet.
func Plan(ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
	return plan.TopDown(root, plan.SkipAccess, func(node plan.Node) (plan.Node, *plan.ApplyResult, error) {
		j, ok := node.(*plan.Join)
		if !ok || j.Strategy != plan.StrategyUndecided {
			return node, plan.NoRewrite, nil
		}
		if j.Type.IsInner() {
			return planRegion(ctx, j)
		}
		return planOuter(ctx, j)
	})
}

// NormalizeRightOuter turns a right outer join into a left outer join with
// swapped inputs. A Project on top keeps the original column order.
func NormalizeRightOuter(j *plan.Join) plan.Node {
	swapped := j.Clone([]plan.Node{j.Right, j.Left}).(*plan.Join)
	swapped.Type = plan.LeftOuterJoin
	swapped.LeftExprs, swapped.RightExprs = swapped.RightExprs, swapped.LeftExprs
	switch swapped.DependentSide {
	case plan.SideLeft:
		swapped.DependentSide = plan.SideRight
	case plan.SideRight:
		swapped.DependentSide = plan.SideLeft
	}
	return plan.IdentityProject(swapped, j.Outputs())
}

type solver struct {
	ctx      *plancontext.PlanningContext
	criteria []sqlast.Expr
	used     []bool
	size     int

	mergeJoins int
}

func newSolver(ctx *plancontext.PlanningContext, conjuncts []sqlast.Expr, size int) *solver {
	return &solver{
		ctx:      ctx,
		criteria: conjuncts,
		used:     make([]bool, len(conjuncts)),
		size:     size,
	}
}

// connecting returns the unused criteria the symbols cover.
func (s *solver) connecting(symbols mapset.Set[string]) []int {
	var res []int
	for i, e := range s.criteria {
		if !s.used[i] && criteria.Covered(e, symbols) {
			res = append(res, i)
		}
	}
	return res
}

// take marks the criteria as used and returns copies of them.
func (s *solver) take(idx []int) []sqlast.Expr {
	res := make([]sqlast.Expr, 0, len(idx))
	for _, i := range idx {
		s.used[i] = true
		res = append(res, sqlast.CloneExpr(s.criteria[i]))
	}
	return res
}

func planRegion(ctx *plancontext.PlanningContext, root *plan.Join) (plan.Node, *plan.ApplyResult, error) {
	var r region
	collectRegion(root, &r)

	leaves := make([]*leaf, 0, len(r.leaves))
	for i, node := range r.leaves {
		planned, _, err := Plan(ctx, node)
		if err != nil {
			return nil, nil, err
		}
		leaves = append(leaves, newLeaf(ctx, planned, i))
	}

	s := newSolver(ctx, r.criteria, len(leaves))
	leaves = s.filterLeaves(leaves)
	leaves, err := s.mergeLeaves(leaves)
	if err != nil {
		return nil, nil, err
	}
	result, err := s.order(leaves)
	if err != nil {
		return nil, nil, err
	}
	if !plan.SameOutputs(result.Outputs(), root.Outputs()) {
		result = plan.IdentityProject(result, root.Outputs())
	}
	return result, plan.Rewrotef("planned join of %d inputs", len(r.leaves)), nil
}

// filterLeaves moves the criteria that reference a single input onto
// that input.
func (s *solver) filterLeaves(leaves []*leaf) []*leaf {
	for i, l := range leaves {
		idx := s.connecting(l.symbols)
		if len(idx) == 0 {
			continue
		}
		conjuncts := s.take(idx)
		var node plan.Node
		if sel, ok := l.node.(*plan.Select); ok && !sel.Having {
			node = &plan.Select{Input: sel.Input, Conjuncts: append(sqlast.CloneExprs(sel.Conjuncts), conjuncts...)}
		} else {
			node = &plan.Select{Input: l.node, Conjuncts: conjuncts}
		}
		leaves[i] = newLeaf(s.ctx, node, l.pos)
	}
	return leaves
}

// mergeLeaves merges connected inputs that one source can join, until no
// pair is left.
func (s *solver) mergeLeaves(leaves []*leaf) ([]*leaf, error) {
	for {
		merged := false
		for i := 0; i < len(leaves) && !merged; i++ {
			for j := i + 1; j < len(leaves); j++ {
				m, err := s.tryMerge(leaves[i], leaves[j])
				if err != nil {
					return nil, err
				}
				if m != nil {
					leaves[i] = m
					leaves = slices.Delete(leaves, j, j+1)
					merged = true
					break
				}
			}
		}
		if !merged {
			return leaves, nil
		}
	}
}

// lift splits the filters off the top of a subtree.
func lift(node plan.Node) (plan.Node, []sqlast.Expr) {
	var conjuncts []sqlast.Expr
	for {
		sel, ok := node.(*plan.Select)
		if !ok || sel.Having {
			return node, conjuncts
		}
		conjuncts = append(conjuncts, sqlast.CloneExprs(sel.Conjuncts)...)
		node = sel.Input
	}
}

func (s *solver) tryMerge(a, b *leaf) (*leaf, error) {
	common := a.sources.Intersect(b.sources)
	if common.Cardinality() == 0 {
		return nil, nil
	}
	idx := s.connecting(a.symbols.Union(b.symbols))
	if len(idx) == 0 {
		return nil, nil
	}
	source := pickSource(common, a.source, b.source)

	lnode, lconj := lift(a.node)
	rnode, rconj := lift(b.node)
	conn := make([]sqlast.Expr, 0, len(idx))
	for _, i := range idx {
		conn = append(conn, sqlast.CloneExpr(s.criteria[i]))
	}
	join := &plan.Join{
		Left:     lnode,
		Right:    rnode,
		Type:     plan.InnerJoin,
		Strategy: plan.StrategyPushdown,
		Criteria: conn,
	}
	if _, err := access.Compose(s.ctx, source, join, nil); err != nil {
		var cp *access.CannotPushError
		if errors.As(err, &cp) {
			s.ctx.Record.Annotate(plan.Describe(join), "join not pushed to %s: %s", source, cp.Reason)
			log.DebugS("join not pushed", "session", s.ctx.SessionID, "source", source, "reason", cp.Reason)
			return nil, nil
		}
		return nil, err
	}
	s.take(idx)
	join.LeftExprs, join.RightExprs, _ = criteria.EquiPairs(join.Criteria, plan.KeySet(lnode.Outputs()), plan.KeySet(rnode.Outputs()))
	s.ctx.Record.Decided(plan.Describe(join), "pushing join to %s", source)

	var node plan.Node = join
	if lifted := append(lconj, rconj...); len(lifted) > 0 {
		node = &plan.Select{Input: join, Conjuncts: lifted}
	}
	return newLeaf(s.ctx, node, min(a.pos, b.pos)), nil
}

func pickSource(common mapset.Set[string], preferred ...string) string {
	for _, p := range preferred {
		if common.Contains(p) {
			return p
		}
	}
	names := common.ToSlice()
	sort.Strings(names)
	return names[0]
}

// less orders candidate inputs: smaller class, then smaller estimate, then
// original position.
func less(a, b *leaf) bool {
	if a.class != b.class {
		return a.class < b.class
	}
	if ra, rb := sortKey(a.rows), sortKey(b.rows); ra != rb {
		return ra < rb
	}
	return a.pos < b.pos
}

// joined is the left-deep tree built so far.
type joined struct {
	node    plan.Node
	symbols mapset.Set[string]
	rows    int64
	// single is set while the tree is a single input.
	single *leaf
}

func (s *solver) order(leaves []*leaf) (plan.Node, error) {
	first, err := s.pickFirst(leaves)
	if err != nil {
		return nil, err
	}
	cur := &joined{
		node:    leaves[first].node,
		symbols: leaves[first].symbols.Clone(),
		rows:    leaves[first].rows,
		single:  leaves[first],
	}
	remaining := slices.Delete(slices.Clone(leaves), first, first+1)

	for len(remaining) > 0 {
		next, err := s.pickNext(remaining, cur.symbols)
		if err != nil {
			return nil, err
		}
		c := remaining[next]
		remaining = slices.Delete(remaining, next, next+1)

		conn := s.take(s.connecting(cur.symbols.Union(c.symbols)))
		join, err := s.step(cur, c, conn)
		if err != nil {
			return nil, err
		}
		lefts, rights, _ := criteria.EquiPairs(conn, cur.symbols, c.symbols)
		cur = &joined{
			node:    join,
			symbols: cur.symbols.Union(c.symbols),
			rows:    joinEstimate(s.ctx, cur.rows, c.rows, lefts, rights),
		}
	}
	return cur.node, nil
}

func (s *solver) pickFirst(leaves []*leaf) (int, error) {
	best := -1
	for i, l := range leaves {
		if len(l.unsatisfied) > 0 {
			continue
		}
		switch {
		case best < 0:
			best = i
		case l.makeDep != leaves[best].makeDep:
			if !l.makeDep {
				best = i
			}
		case less(l, leaves[best]):
			best = i
		}
	}
	if best < 0 {
		return 0, s.unsatisfiedError(leaves[0])
	}
	return best, nil
}

func (s *solver) pickNext(remaining []*leaf, placed mapset.Set[string]) (int, error) {
	best, bestConnected := -1, false
	for i, c := range remaining {
		if len(c.unsatisfied) > 0 && !s.bindable(c, placed) {
			continue
		}
		connected := len(s.connecting(placed.Union(c.symbols))) > 0
		switch {
		case best < 0:
			best, bestConnected = i, connected
		case connected != bestConnected:
			if connected {
				best, bestConnected = i, connected
			}
		case less(c, remaining[best]):
			best, bestConnected = i, connected
		}
	}
	if best >= 0 {
		return best, nil
	}
	for _, c := range remaining {
		if len(c.unsatisfied) > 0 {
			return 0, s.unsatisfiedError(c)
		}
	}
	return 0, federrors.Bug("no join input can be placed next")
}

func (s *solver) unsatisfiedError(l *leaf) error {
	name := l.unsatisfied[0]
	if t := s.ctx.TableOf(name); t != nil {
		name = t.Name
	}
	return federrors.PlanningError(plan.Describe(l.node), "access pattern of %s cannot be satisfied by the criteria of the join", name)
}

// depPairs returns the equi-join key pairs whose values may be fed into
// dep as dependent join criteria: feeds over the other side, keys over dep.
func (s *solver) depPairs(dep *leaf, other mapset.Set[string], conn []sqlast.Expr) (feeds, keys []sqlast.Expr) {
	if dep.source == "" {
		return nil, nil
	}
	checker, err := criteria.NewChecker(s.ctx, dep.source)
	if err != nil {
		return nil, nil
	}
	lefts, rights, _ := criteria.EquiPairs(conn, other, dep.symbols)
	for i := range rights {
		key := rights[i]
		if col, ok := dep.resolve(key).(*sqlast.ColName); ok {
			key = col
		}
		probe := sqlast.NewComparison(sqlast.InOp, key, &sqlast.ListArg{Name: "dep"})
		if ok, _ := checker.Supported(probe); ok {
			feeds = append(feeds, lefts[i])
			keys = append(keys, rights[i])
		}
	}
	return feeds, keys
}

// bindable returns true if dependent join criteria from the placed
// inputs bind an access pattern of every table of c that needs one.
func (s *solver) bindable(c *leaf, placed mapset.Set[string]) bool {
	var conn []sqlast.Expr
	for _, i := range s.connecting(placed.Union(c.symbols)) {
		conn = append(conn, s.criteria[i])
	}
	_, keys := s.depPairs(c, placed, conn)
	return len(keys) > 0 && len(unsatisfied(s.ctx, c.groups, c.conjuncts, boundBy(c.resolveAll(keys)))) == 0
}

func boundBy(keys []sqlast.Expr) map[string]mapset.Set[string] {
	res := map[string]mapset.Set[string]{}
	for _, k := range keys {
		col, ok := k.(*sqlast.ColName)
		if !ok {
			continue
		}
		if _, exists := res[col.Qualifier]; !exists {
			res[col.Qualifier] = mapset.NewThreadUnsafeSet[string]()
		}
		res[col.Qualifier].Add(col.Name)
	}
	return res
}

// strong returns true if rows values are few enough to be sent to dep in
// one IN list.
func (s *solver) strong(rows int64, dep *leaf) bool {
	return rows >= 0 &&
		rows < s.ctx.Config.IndependentCardinality &&
		rows <= int64(s.ctx.MaxInCriteriaSize(dep.source))
}

func equalities(conn []sqlast.Expr) bool {
	for _, e := range conn {
		if !criteria.IsEqualityOrDisjunction(e) {
			return false
		}
	}
	return len(conn) > 0
}

// step joins the next input c to the tree built so far.
func (s *solver) step(cur *joined, c *leaf, conn []sqlast.Expr) (plan.Node, error) {
	join := &plan.Join{
		Left:     cur.node,
		Right:    c.node,
		Type:     plan.InnerJoin,
		Criteria: conn,
	}
	if len(conn) == 0 {
		join.Type = plan.CrossJoin
	}
	join.LeftExprs, join.RightExprs, _ = criteria.EquiPairs(conn, cur.symbols, c.symbols)
	feeds, keys := s.depPairs(c, cur.symbols, conn)

	switch {
	case len(c.unsatisfied) > 0:
		if c.makeNotDep {
			return nil, federrors.PlanningError(plan.Describe(c.node), "makenotdep hint conflicts with the access pattern of %s", c.unsatisfied[0])
		}
		return s.dependent(join, plan.SideRight, feeds, keys, "access pattern of %s", c.unsatisfied[0]), nil
	case c.makeDep && len(keys) > 0:
		return s.dependent(join, plan.SideRight, feeds, keys, "makedep hint"), nil
	case c.makeDep:
		s.ctx.Record.Annotate(plan.Describe(c.node), "makedep hint ignored: no equi-join criteria can feed it")
		log.WarnS("makedep hint ignored", "session", s.ctx.SessionID, "input", plan.Describe(c.node))
	}

	if cur.single != nil {
		lfeeds, lkeys := s.depPairs(cur.single, c.symbols, conn)
		if len(lkeys) > 0 && cur.single.makeDep {
			return s.dependent(join, plan.SideLeft, lfeeds, lkeys, "makedep hint"), nil
		}
		if len(lkeys) > 0 && !cur.single.makeNotDep && !s.strong(cur.rows, c) && s.strong(c.rows, cur.single) && equalities(conn) {
			return s.dependent(join, plan.SideLeft, lfeeds, lkeys, "independent side of %s rows", plan.CardinalityString(c.rows)), nil
		}
	}
	if len(keys) > 0 && !c.makeNotDep {
		if s.strong(cur.rows, c) && equalities(conn) {
			return s.dependent(join, plan.SideRight, feeds, keys, "independent side of %s rows", plan.CardinalityString(cur.rows)), nil
		}
		if s.size >= 3 && s.mergeJoins > 0 {
			return s.dependent(join, plan.SideRight, feeds, keys, "merge join already used in this region"), nil
		}
	}

	if len(join.LeftExprs) > 0 {
		s.mergeJoins++
		return s.mergeJoin(join), nil
	}
	join.Strategy = plan.StrategyNestedLoop
	s.ctx.Record.Decided(plan.Describe(join), "using %s", join.Strategy)
	return join, nil
}

func (s *solver) mergeJoin(join *plan.Join) *plan.Join {
	join.Strategy = plan.StrategyMergeJoin
	join.Left = &plan.Sort{Input: join.Left, Items: orderBy(join.LeftExprs), JoinSort: true}
	join.Right = &plan.Sort{Input: join.Right, Items: orderBy(join.RightExprs), JoinSort: true}
	s.ctx.Record.Decided(plan.Describe(join), "using %s", join.Strategy)
	return join
}

func orderBy(exprs []sqlast.Expr) []*sqlast.Order {
	res := make([]*sqlast.Order, 0, len(exprs))
	for _, e := range exprs {
		res = append(res, &sqlast.Order{Expr: sqlast.CloneExpr(e)})
	}
	return res
}

// dependent makes side the dependent side of join: its input gets one
// IN predicate per key, bound to the values of the other side.
func (s *solver) dependent(join *plan.Join, side plan.Side, feeds, keys []sqlast.Expr, why string, args ...any) *plan.Join {
	conjuncts := make([]sqlast.Expr, 0, len(keys))
	join.DependentArgs = make([]string, 0, len(keys))
	groups := mapset.NewThreadUnsafeSet[string]()
	for i, k := range keys {
		name := s.ctx.NextID("dep_")
		join.DependentArgs = append(join.DependentArgs, name)
		conjuncts = append(conjuncts, sqlast.NewComparison(sqlast.InOp, sqlast.CloneExpr(k), &sqlast.ListArg{Name: name}))
		for _, col := range sqlast.ColumnsOf(feeds[i]) {
			groups.Add(col.Qualifier)
		}
	}
	valueSource := groups.ToSlice()
	sort.Strings(valueSource)

	join.Strategy = plan.StrategyDependent
	join.DependentSide = side
	join.DependentValueSource = strings.Join(valueSource, ",")
	if side == plan.SideRight {
		join.Right = restrict(join.Right, conjuncts)
		join.LeftExprs, join.RightExprs = sqlast.CloneExprs(feeds), sqlast.CloneExprs(keys)
	} else {
		join.Left = restrict(join.Left, conjuncts)
		join.LeftExprs, join.RightExprs = sqlast.CloneExprs(keys), sqlast.CloneExprs(feeds)
	}

	s.ctx.Record.Decided(plan.Describe(join), "dependent join, %s side depends: "+why, append([]any{side}, args...)...)
	return join
}

// restrict filters node by conjuncts. Filters over a view move into its
// definition, next to the tables whose access patterns they bind.
func restrict(node plan.Node, conjuncts []sqlast.Expr) plan.Node {
	base, _ := lift(node)
	if src, ok := base.(*plan.Source); !ok || !src.IsView() {
		return &plan.Select{Input: node, Conjuncts: conjuncts}
	}
	switch node := node.(type) {
	case *plan.Select:
		return node.Clone([]plan.Node{restrict(node.Input, conjuncts)})
	case *plan.Source:
		mapping := map[string]sqlast.Expr{}
		defs := node.View.Outputs()
		for i, c := range node.Outputs() {
			mapping[c.Key()] = defs[i]
		}
		below := make([]sqlast.Expr, 0, len(conjuncts))
		for _, e := range conjuncts {
			below = append(below, sqlast.ReplaceColumns(e, mapping))
		}
		return node.Clone([]plan.Node{restrict(node.View, below)})
	}
	return &plan.Select{Input: node, Conjuncts: conjuncts}
}

// planOuter decides an outer join. Its inputs keep their places; only
// the inner side of a left outer join may be dependent.
func planOuter(ctx *plancontext.PlanningContext, j *plan.Join) (plan.Node, *plan.ApplyResult, error) {
	if j.Type == plan.RightOuterJoin {
		normalized := NormalizeRightOuter(j).(*plan.Project)
		planned, _, err := planOuter(ctx, normalized.Input.(*plan.Join))
		if err != nil {
			return nil, nil, err
		}
		return normalized.Clone([]plan.Node{planned}), plan.Rewrote("normalized right outer join"), nil
	}

	left, _, err := Plan(ctx, j.Left)
	if err != nil {
		return nil, nil, err
	}
	right, _, err := Plan(ctx, j.Right)
	if err != nil {
		return nil, nil, err
	}
	join := j.Clone([]plan.Node{left, right}).(*plan.Join)
	a, b := newLeaf(ctx, left, 0), newLeaf(ctx, right, 1)
	s := newSolver(ctx, nil, 2)

	if common := a.sources.Intersect(b.sources); common.Cardinality() > 0 {
		source := pickSource(common, a.source, b.source)
		candidate := join.Clone(join.Inputs()).(*plan.Join)
		candidate.Strategy = plan.StrategyPushdown
		_, err := access.Compose(ctx, source, candidate, nil)
		if err == nil {
			candidate.LeftExprs, candidate.RightExprs, _ = criteria.EquiPairs(candidate.Criteria, a.symbols, b.symbols)
			ctx.Record.Decided(plan.Describe(candidate), "pushing join to %s", source)
			return candidate, plan.Rewrotef("pushed %s join to %s", j.Type, source), nil
		}
		var cp *access.CannotPushError
		if !errors.As(err, &cp) {
			return nil, nil, err
		}
		ctx.Record.Annotate(plan.Describe(candidate), "join not pushed to %s: %s", source, cp.Reason)
	}

	join.LeftExprs, join.RightExprs, _ = criteria.EquiPairs(join.Criteria, a.symbols, b.symbols)
	if join.Type == plan.LeftOuterJoin {
		feeds, keys := s.depPairs(b, a.symbols, join.Criteria)
		switch {
		case len(b.unsatisfied) > 0:
			if b.makeNotDep {
				return nil, nil, federrors.PlanningError(plan.Describe(b.node), "makenotdep hint conflicts with the access pattern of %s", b.unsatisfied[0])
			}
			if len(keys) == 0 || len(unsatisfied(ctx, b.groups, b.conjuncts, boundBy(b.resolveAll(keys)))) > 0 {
				return nil, nil, s.unsatisfiedError(b)
			}
			return s.dependent(join, plan.SideRight, feeds, keys, "access pattern of %s", b.unsatisfied[0]), plan.Rewrote("planned outer join"), nil
		case len(keys) > 0 && b.makeDep:
			return s.dependent(join, plan.SideRight, feeds, keys, "makedep hint"), plan.Rewrote("planned outer join"), nil
		case len(keys) > 0 && !b.makeNotDep && s.strong(a.rows, b) && equalities(join.Criteria):
			return s.dependent(join, plan.SideRight, feeds, keys, "independent side of %s rows", plan.CardinalityString(a.rows)), plan.Rewrote("planned outer join"), nil
		}
	}
	if len(join.LeftExprs) > 0 {
		return s.mergeJoin(join), plan.Rewrote("planned outer join"), nil
	}
	join.Strategy = plan.StrategyNestedLoop
	ctx.Record.Decided(plan.Describe(join), "using %s", join.Strategy)
	return join, plan.Rewrote("planned outer join"), nil
}
