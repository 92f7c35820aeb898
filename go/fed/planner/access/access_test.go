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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/planner/analysis"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/planner/plantest"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

func compose(t *testing.T, ctx *plancontext.PlanningContext, doc string) (*Command, error) {
	t.Helper()
	root := plantest.Decode(t, ctx, doc)
	return Compose(ctx, "pm1", root, nil)
}

func TestCompose(t *testing.T) {
	tcases := []struct {
		name string
		doc  string
		want string
	}{{
		name: "filter and projection",
		doc: `
project:
  exprs: [{col: g1.e1}, {col: g1.e2}]
  input:
    select:
      where: [{op: "=", args: [{col: g1.e3}, {val: 1}]}]
      input:
        source: {table: pm1.g1, as: g1}
`,
		want: "select g_0.e1 as c_0, g_0.e2 as c_1 from pm1.g1 as g_0 where g_0.e3 = 1",
	}, {
		name: "inner join",
		doc: `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1]}
  right:
    source: {table: pm1.g2, as: g2, columns: [e1]}
`,
		want: "select g_0.e1 as c_0, g_1.e1 as c_1 from pm1.g1 as g_0 join pm1.g2 as g_1 on g_0.e1 = g_1.e1",
	}, {
		name: "filter of the outer side moves into the join condition",
		doc: `
join:
  type: left
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1]}
  right:
    select:
      where: [{op: "=", args: [{col: g2.e2}, {val: a}]}]
      input:
        source: {table: pm1.g2, as: g2, columns: [e1, e2]}
`,
		want: "select g_0.e1 as c_0, g_1.e1 as c_1, g_1.e2 as c_2 from pm1.g1 as g_0 left join pm1.g2 as g_1 on g_0.e1 = g_1.e1 and g_1.e2 = 'a'",
	}, {
		name: "grouping with having, order and limit",
		doc: `
limit:
  count: 5
  input:
    sort:
      items: [{expr: {col: grp.agg0}, desc: true}]
      input:
        select:
          having: true
          where: [{op: ">", args: [{col: grp.agg0}, {val: 2}]}]
          input:
            grouping:
              group: grp
              group_by: [{col: g1.e2}]
              aggregates: [{aggr: count, star: true}]
              input:
                source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`,
		want: "select g_0.e2 as c_0, count(*) as c_1 from pm1.g1 as g_0 group by g_0.e2 having count(*) > 2 order by count(*) desc limit 5",
	}, {
		name: "distinct union with a limit",
		doc: `
limit:
  count: 10
  input:
    union:
      distinct: true
      branches:
        - source: {table: pm1.g1, as: g1, columns: [e1]}
        - source: {table: pm1.g2, as: g2, columns: [e1]}
`,
		want: "select g_0.e1 as c_0 from pm1.g1 as g_0 union select g_1.e1 as c_0 from pm1.g2 as g_1 limit 10",
	}, {
		name: "filter over a limit needs an inline view",
		doc: `
select:
  where: [{op: "=", args: [{col: g1.e2}, {val: 1}]}]
  input:
    limit:
      count: 3
      input:
        source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`,
		want: "select v_0.c_0 as c_0, v_0.c_1 as c_1 from (select g_0.e1 as c_0, g_0.e2 as c_1 from pm1.g1 as g_0 limit 3) as v_0 where v_0.c_1 = 1",
	}}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder())
			cmd, err := compose(t, ctx, tc.doc)
			require.NoError(t, err)
			assert.Equal(t, tc.want, sqlast.String(cmd.Statement))
			assert.False(t, cmd.Dependent)
		})
	}
}

func TestComposeRejects(t *testing.T) {
	tcases := []struct {
		name   string
		caps   *capabilities.Capabilities
		doc    string
		reason string
	}{{
		name: "like",
		caps: plantest.Without("pm1", capabilities.CriteriaLike),
		doc: `
select:
  where: [{op: like, args: [{col: g1.e2}, {val: "a%"}]}]
  input:
    source: {table: pm1.g1, as: g1}
`,
		reason: "CRITERIA_LIKE not supported by pm1",
	}, {
		name: "inline views",
		caps: plantest.Without("pm1", capabilities.QueryFromInlineViews),
		doc: `
select:
  where: [{op: "=", args: [{col: g1.e2}, {val: 1}]}]
  input:
    limit:
      count: 3
      input:
        source: {table: pm1.g1, as: g1}
`,
		reason: "QUERY_FROM_INLINE_VIEWS not supported by pm1",
	}, {
		name: "offset",
		caps: plantest.Without("pm1", capabilities.RowOffset),
		doc: `
limit:
  offset: 2
  count: 3
  input:
    source: {table: pm1.g1, as: g1}
`,
		reason: "ROW_OFFSET not supported by pm1",
	}, {
		name: "self join",
		caps: plantest.Without("pm1", capabilities.JoinSelf),
		doc: `
join:
  type: inner
  criteria: [{op: "=", args: [{col: a.e1}, {col: b.e2}]}]
  left:
    source: {table: pm1.g1, as: a}
  right:
    source: {table: pm1.g1, as: b}
`,
		reason: "JOIN_SELF not supported by pm1",
	}, {
		name: "key join criteria",
		caps: capabilities.New("pm1").Support(capabilities.All()...).JoinCriteria(capabilities.JoinCriteriaKey).Build(),
		doc: `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e2}, {col: g2.e2}]}]
  left:
    source: {table: pm1.g1, as: g1}
  right:
    source: {table: pm1.g2, as: g2}
`,
		reason: "join predicates do not cover a key of either side",
	}, {
		name: "unset join criteria",
		caps: capabilities.New("pm1").Support(capabilities.All()...).Build(),
		doc: `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e2}, {col: g2.e2}]}]
  left:
    source: {table: pm1.g1, as: g1}
  right:
    source: {table: pm1.g2, as: g2}
`,
		reason: "join predicates do not cover a key of either side",
	}, {
		name: "equi join criteria",
		caps: capabilities.New("pm1").Support(capabilities.All()...).JoinCriteria(capabilities.JoinCriteriaEqui).Build(),
		doc: `
join:
  type: inner
  criteria: [{op: "<", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1}
  right:
    source: {table: pm1.g2, as: g2}
`,
		reason: "g1.e1 < g2.e1 is not an equi-join predicate",
	}, {
		name: "theta join criteria",
		caps: capabilities.New("pm1").Support(capabilities.All()...).JoinCriteria(capabilities.JoinCriteriaTheta).Build(),
		doc: `
join:
  type: inner
  criteria: [{op: like, args: [{col: g1.e2}, {col: g2.e2}]}]
  left:
    source: {table: pm1.g1, as: g1}
  right:
    source: {table: pm1.g2, as: g2}
`,
		reason: "g1.e2 like g2.e2 is not a comparison between the joined sides",
	}, {
		name: "avg",
		caps: plantest.Without("pm1", capabilities.AggregatesAvg),
		doc: `
grouping:
  group_by: [{col: g1.e1}]
  aggregates: [{aggr: avg, arg: {col: g1.e2}}]
  input:
    source: {table: pm1.g1, as: g1}
`,
		reason: "QUERY_AGGREGATES_AVG not supported by pm1",
	}, {
		name: "table of another source",
		caps: capabilities.Full("pm1"),
		doc: `
source: {table: pm2.g1, as: g1}
`,
		reason: "table pm2.g1 is not available on pm1",
	}}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder(tc.caps))
			_, err := compose(t, ctx, tc.doc)
			require.Error(t, err)
			cp, ok := isCannotPush(err)
			require.True(t, ok, "unexpected error: %v", err)
			assert.Equal(t, tc.reason, cp.Reason)
		})
	}
}

func TestComposeTrimsColumns(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `source: {table: pm1.g1, as: g1}`)

	cmd, err := Compose(ctx, "pm1", root, plan.KeySet([]*sqlast.ColName{sqlast.NewColName("g1", "e2")}))
	require.NoError(t, err)
	assert.Equal(t, "select g_0.e2 as c_0 from pm1.g1 as g_0", sqlast.String(cmd.Statement))
	assert.Equal(t, map[string]string{"g_0": "pm1.g1"}, cmd.Tables)

	distinct := &plan.DupRemove{Input: root}
	cmd, err = Compose(ctx, "pm1", distinct, plan.KeySet([]*sqlast.ColName{sqlast.NewColName("g1", "e2")}))
	require.NoError(t, err)
	assert.Len(t, cmd.Columns, 4, "distinct rows depend on every column")
}

func TestComposeDependent(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	cmd, err := compose(t, ctx, `
select:
  where: [{op: in, args: [{col: g3.e1}, {list: dep_1}]}]
  input:
    source: {table: pm1.g3, as: g3, columns: [e1, e2]}
`)
	require.NoError(t, err)
	assert.True(t, cmd.Dependent)
	assert.Equal(t, "select g_0.e1 as c_0, g_0.e2 as c_1 from pm1.g3 as g_0 where g_0.e1 in ::dep_1", sqlast.String(cmd.Statement))
}

const joinDoc = `
select:
  where:
    - {op: "=", args: [{col: g1.e2}, {val: 1}]}
    - {op: like, args: [{col: g1.e3}, {val: "a%"}]}
  input:
    join:
      type: inner
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1, e2, e3]}
      right:
        source: {table: pm1.g2, as: g2, columns: [e1]}
`

func withStrategy(root plan.Node, strategy plan.JoinStrategy) {
	for _, j := range plan.Find[*plan.Join](root) {
		j.Strategy = strategy
	}
}

func TestPlaceAndRaise(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.CriteriaLike)))
	root := plantest.Decode(t, ctx, joinDoc)
	withStrategy(root, plan.StrategyPushdown)

	placed, ar, err := Place(ctx, root)
	require.NoError(t, err)
	assert.True(t, ar.Changed())
	assert.Len(t, plan.Find[*plan.Access](placed), 2)

	raised, ar, err := Raise(ctx, placed)
	require.NoError(t, err)
	assert.True(t, ar.Changed())
	require.NoError(t, plan.CheckClosure(raised))

	want := `Select (g1.e3 like 'a%')
└── Access (pm1)
    └── Select (g1.e2 = 1)
        └── Join (inner, pushdown, g1.e1 = g2.e1)
            ├── Source (pm1.g1 as g1)
            └── Source (pm1.g2 as g2)
`
	assert.Equal(t, want, plan.ToTree(raised))
	access := raised.Inputs()[0].(*plan.Access)
	assert.Equal(t, []string{"select not pushed: CRITERIA_LIKE not supported by pm1"}, access.Annotations)

	again, ar, err := Raise(ctx, raised)
	require.NoError(t, err)
	assert.False(t, ar.Changed(), "raise must converge")
	assert.Equal(t, plan.ToTree(raised), plan.ToTree(again))

	final, _, err := Finalize(ctx, again)
	require.NoError(t, err)
	access = final.Inputs()[0].(*plan.Access)
	assert.Nil(t, access.Input)
	assert.Equal(t, "select g_0.e1 as c_0, g_0.e2 as c_1, g_0.e3 as c_2, g_1.e1 as c_3 from pm1.g1 as g_0 join pm1.g2 as g_1 on g_0.e1 = g_1.e1 where g_0.e2 = 1",
		sqlast.String(access.Command))
	require.NoError(t, plan.CheckClosure(final))
	require.NoError(t, CheckConformance(ctx, final))
	require.NoError(t, CheckAccessPatterns(ctx, final))
}

func TestRaiseConformedSource(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: c.e1}, {col: g1.e1}]}]
  left:
    source: {table: pm3.g1, as: c, columns: [e1]}
  right:
    source: {table: pm1.g1, as: g1, columns: [e1]}
`)
	withStrategy(root, plan.StrategyPushdown)
	placed, _, err := Place(ctx, root)
	require.NoError(t, err)
	raised, _, err := Raise(ctx, placed)
	require.NoError(t, err)

	access, ok := raised.(*plan.Access)
	require.True(t, ok, plan.ToTree(raised))
	assert.Equal(t, "pm1", access.Source)
}

func TestRaiseRejectedJoin(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.JoinInner)))
	root := plantest.Decode(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1]}
  right:
    source: {table: pm1.g2, as: g2, columns: [e1]}
`)
	withStrategy(root, plan.StrategyPushdown)
	placed, _, err := Place(ctx, root)
	require.NoError(t, err)
	raised, _, err := Raise(ctx, placed)
	require.NoError(t, err)
	raised, _, err = Raise(ctx, raised)
	require.NoError(t, err)

	want := `Join (inner, merge join, g1.e1 = g2.e1)
├── Access (pm1)
│   └── Sort (g1.e1 asc (join sort))
│       └── Source (pm1.g1 as g1)
└── Access (pm1)
    └── Sort (g2.e1 asc (join sort))
        └── Source (pm1.g2 as g2)
`
	assert.Equal(t, want, plan.ToTree(raised))
	annotations := ctx.Record.Filter(analysis.Annotation)
	require.NotEmpty(t, annotations)
	assert.Equal(t, "join not pushed: JOIN_INNER not supported by pm1", annotations[0].Message)
	decisions := ctx.Record.Filter(analysis.Decision)
	require.Len(t, decisions, 1)
	assert.Equal(t, "using merge join", decisions[0].Message)
}

func TestAccessPatternNotSatisfiedByJoin(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g3.e2}, {col: g1.e2}]}]
  left:
    source: {table: pm1.g3, as: g3, columns: [e1, e2]}
  right:
    source: {table: pm1.g1, as: g1, columns: [e2]}
`)
	withStrategy(root, plan.StrategyNestedLoop)
	placed, _, err := Place(ctx, root)
	require.NoError(t, err)
	raised, ar, err := Raise(ctx, placed)
	require.NoError(t, err)
	assert.True(t, ar.Changed())
	for _, a := range plan.Find[*plan.Access](raised) {
		assert.Equal(t, []string{"access pattern not satisfied by join"}, a.Annotations)
	}

	final, _, err := Finalize(ctx, raised)
	require.NoError(t, err)
	err = CheckAccessPatterns(ctx, final)
	require.Error(t, err)
	assert.True(t, federrors.IsPlanningError(err))
	assert.Contains(t, err.Error(), "pm1.g3")
}

func TestFinalizeTrimsToConsumers(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `
project:
  exprs: [{col: g2.e3}]
  input:
    join:
      type: inner
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1}
      right:
        source: {table: pm2.g1, as: g2}
`)
	withStrategy(root, plan.StrategyNestedLoop)
	placed, _, err := Place(ctx, root)
	require.NoError(t, err)
	final, _, err := Finalize(ctx, placed)
	require.NoError(t, err)
	require.NoError(t, plan.CheckClosure(final))

	accesses := plan.Find[*plan.Access](final)
	require.Len(t, accesses, 2)
	assert.Equal(t, "select g_0.e1 as c_0 from pm1.g1 as g_0", sqlast.String(accesses[0].Command))
	assert.Equal(t, "select g_0.e1 as c_0, g_0.e3 as c_1 from pm2.g1 as g_0", sqlast.String(accesses[1].Command))
}

func TestCheckConformance(t *testing.T) {
	command := func(distinct bool, order bool) *plan.Access {
		sel := &sqlast.Select{
			Distinct:    distinct,
			SelectExprs: []*sqlast.AliasedExpr{{Expr: sqlast.NewColName("g_0", "e1"), As: "c_0"}},
			From:        []sqlast.TableExpr{&sqlast.TableRef{Name: "pm1.g1", As: "g_0"}},
		}
		if order {
			sel.OrderBy = []*sqlast.Order{{Expr: sqlast.NewColName("g_0", "e1")}}
		}
		return &plan.Access{
			Source:  "pm1",
			Command: sel,
			Columns: []*sqlast.ColName{sqlast.NewColName("g1", "e1")},
			Tables:  map[string]string{"g_0": "pm1.g1"},
		}
	}
	caps := plantest.Without("pm1", capabilities.QuerySelectDistinct, capabilities.QueryOrderBy)

	tcases := []struct {
		name    string
		access  *plan.Access
		wantErr string
	}{
		{name: "plain", access: command(false, false)},
		{name: "distinct", access: command(true, false), wantErr: "QUERY_SELECT_DISTINCT not supported"},
		{name: "order by", access: command(false, true), wantErr: "QUERY_ORDERBY not supported"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder(caps))
			err := CheckConformance(ctx, tc.access)
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, federrors.IsPlanningError(err))
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestCheckAccessPatterns(t *testing.T) {
	access := func(where sqlast.Expr) *plan.Access {
		return &plan.Access{
			Source: "pm1",
			Command: &sqlast.Select{
				SelectExprs: []*sqlast.AliasedExpr{{Expr: sqlast.NewColName("g_0", "e2"), As: "c_0"}},
				From:        []sqlast.TableExpr{&sqlast.TableRef{Name: "pm1.g3", As: "g_0"}},
				Where:       where,
			},
			Columns: []*sqlast.ColName{sqlast.NewColName("g3", "e2")},
			Tables:  map[string]string{"g_0": "pm1.g3"},
		}
	}
	ctx := plantest.Context(t, plantest.Finder())

	err := CheckAccessPatterns(ctx, access(nil))
	require.Error(t, err)
	assert.True(t, federrors.IsPlanningError(err))

	bound := sqlast.NewComparison(sqlast.InOp, sqlast.NewColName("g_0", "e1"), &sqlast.ListArg{Name: "dep_1"})
	require.NoError(t, CheckAccessPatterns(ctx, access(bound)))

	other := sqlast.NewComparison(sqlast.EqualOp, sqlast.NewColName("g_0", "e2"), sqlast.NewIntLiteral(1))
	require.Error(t, CheckAccessPatterns(ctx, access(other)))
}
