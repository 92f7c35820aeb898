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

package aggregates

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/planner/access"
	"github.com/fedplan/fedplan/go/fed/planner/analysis"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/planner/plantest"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// placed decodes the tree, assigns join strategies and places and raises
// the access nodes.
func placed(t *testing.T, ctx *plancontext.PlanningContext, doc string, strategy plan.JoinStrategy) plan.Node {
	t.Helper()
	root := plantest.Decode(t, ctx, doc)
	for _, j := range plan.Find[*plan.Join](root) {
		j.Strategy = strategy
	}
	root, _, err := access.Place(ctx, root)
	require.NoError(t, err)
	root, _, err = access.Raise(ctx, root)
	require.NoError(t, err)
	return root
}

func push(t *testing.T, ctx *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult) {
	t.Helper()
	res, ar, err := Push(ctx, root)
	require.NoError(t, err)
	require.NoError(t, plan.CheckClosure(res))
	return res, ar
}

func commands(t *testing.T, ctx *plancontext.PlanningContext, root plan.Node) []string {
	t.Helper()
	final, _, err := access.Finalize(ctx, root)
	require.NoError(t, err)
	var res []string
	for _, a := range plan.Find[*plan.Access](final) {
		res = append(res, sqlast.String(a.Command))
	}
	return res
}

func TestDecompose(t *testing.T) {
	args := []sqlast.Expr{sqlast.ParseColName("s.a"), sqlast.ParseColName("s.b"), sqlast.ParseColName("s.c")}
	tcases := []struct {
		aggr        string
		reaggregate bool
		partials    []string
		final       string
		ok          bool
	}{{
		aggr:     `{"aggr": "avg", "arg": {"col": "g1.e2"}}`,
		partials: []string{"sum(g1.e2)", "count(g1.e2)"},
		final:    "s.a / nullif(s.b, 0)",
		ok:       true,
	}, {
		aggr:     `{"aggr": "avg", "arg": {"col": "g1.e2"}, "distinct": true}`,
		partials: []string{"sum(distinct g1.e2)", "count(distinct g1.e2)"},
		final:    "s.a / nullif(s.b, 0)",
		ok:       true,
	}, {
		aggr:        `{"aggr": "avg", "arg": {"col": "g1.e2"}, "distinct": true}`,
		reaggregate: true,
	}, {
		aggr:        `{"aggr": "max", "arg": {"col": "g1.e2"}, "distinct": true}`,
		reaggregate: true,
		partials:    []string{"max(g1.e2)"},
		final:       "s.a",
		ok:          true,
	}, {
		aggr:        `{"aggr": "count", "star": true}`,
		reaggregate: true,
		partials:    []string{"count(*)"},
		final:       "s.a",
		ok:          true,
	}, {
		aggr:     `{"aggr": "var_samp", "arg": {"col": "g1.e2"}}`,
		partials: []string{"sum(g1.e2 * g1.e2)", "sum(g1.e2)", "count(g1.e2)"},
		final:    "(s.a - s.b * s.b / nullif(s.c, 0)) / nullif(s.c - 1, 0)",
		ok:       true,
	}, {
		aggr:     `{"aggr": "stddev_pop", "arg": {"col": "g1.e2"}}`,
		partials: []string{"sum(g1.e2 * g1.e2)", "sum(g1.e2)", "count(g1.e2)"},
		final:    "sqrt((s.a - s.b * s.b / nullif(s.c, 0)) / nullif(s.c, 0))",
		ok:       true,
	}}
	for _, tc := range tcases {
		t.Run(tc.aggr, func(t *testing.T) {
			e, err := sqlast.ParseExprJSON(tc.aggr)
			require.NoError(t, err)
			d, ok := decompose(e.(*sqlast.AggrFunc), tc.reaggregate)
			require.Equal(t, tc.ok, ok)
			if !ok {
				return
			}
			var partials []string
			for _, p := range d.partials {
				partials = append(partials, sqlast.String(p))
			}
			assert.Equal(t, tc.partials, partials)
			assert.Equal(t, tc.final, sqlast.String(d.final(args[:len(d.partials)])))
		})
	}
}

func TestReaggregate(t *testing.T) {
	col := sqlast.ParseColName("p.agg0")
	assert.Equal(t, "sum(p.agg0)", sqlast.String(reaggregate(&sqlast.AggrFunc{Name: sqlast.AggrCount, Star: true}, col)))
	assert.Equal(t, "sum(p.agg0)", sqlast.String(reaggregate(&sqlast.AggrFunc{Name: sqlast.AggrSum, Arg: col}, col)))
	assert.Equal(t, "min(p.agg0)", sqlast.String(reaggregate(&sqlast.AggrFunc{Name: sqlast.AggrMin, Arg: col}, col)))
}

const avgDoc = `
grouping:
  group: grp
  group_by: [{col: g1.e1}]
  aggregates: [{aggr: avg, arg: {col: g1.e2}}]
  input:
    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`

func TestSplitAverage(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.AggregatesAvg)))
	root := placed(t, ctx, avgDoc, plan.StrategyUndecided)
	_, ok := root.(*plan.Grouping)
	require.True(t, ok, "the source cannot compute the average: %s", plan.ToTree(root))

	res, ar := push(t, ctx, root)
	assert.True(t, ar.Changed())
	want := `Project (grp_1.gcol0 as grp.gcol0, grp_1.agg0 / nullif(grp_1.agg1, 0) as grp.agg0)
└── Access (pm1)
    └── Grouping (grp_1 group by g1.e1 aggregates sum(g1.e2), count(g1.e2))
        └── Source (pm1.g1 as g1)
`
	assert.Equal(t, want, plan.ToTree(res))
	assert.Equal(t, []string{"select g_0.e1 as c_0, sum(g_0.e2) as c_1, count(g_0.e2) as c_2 from pm1.g1 as g_0 group by g_0.e1"},
		commands(t, ctx, res))

	decisions := ctx.Record.Filter(analysis.Decision)
	require.NotEmpty(t, decisions)
	assert.Equal(t, "partial aggregates pushed to pm1", decisions[len(decisions)-1].Message)

	again, ar := push(t, ctx, res)
	assert.False(t, ar.Changed())
	assert.Equal(t, plan.ToTree(res), plan.ToTree(again))
}

func TestSplitVariance(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.AggregatesEnhancedNumeric)))
	root := placed(t, ctx, `
grouping:
  group: grp
  aggregates: [{aggr: stddev_samp, arg: {col: g1.e2}}]
  input:
    source: {table: pm1.g1, as: g1, columns: [e2]}
`, plan.StrategyUndecided)

	res, ar := push(t, ctx, root)
	require.True(t, ar.Changed())
	p, ok := res.(*plan.Project)
	require.True(t, ok, plan.ToTree(res))
	require.Len(t, p.Exprs, 1)
	assert.Equal(t, "sqrt((grp_1.agg0 - grp_1.agg1 * grp_1.agg1 / nullif(grp_1.agg2, 0)) / nullif(grp_1.agg2 - 1, 0))", sqlast.String(p.Exprs[0]))
	assert.Equal(t, []string{"select sum(g_0.e2 * g_0.e2) as c_0, sum(g_0.e2) as c_1, count(g_0.e2) as c_2 from pm1.g1 as g_0"},
		commands(t, ctx, res))
}

func TestSplitNotPossible(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.AggregatesAvg, capabilities.AggregatesSum)))
	root := placed(t, ctx, avgDoc, plan.StrategyUndecided)

	res, ar := push(t, ctx, root)
	assert.False(t, ar.Changed())
	assert.Equal(t, plan.ToTree(root), plan.ToTree(res))

	annotations := ctx.Record.Filter(analysis.Annotation)
	require.NotEmpty(t, annotations)
	assert.Equal(t, "grouping not split for pm1: QUERY_AGGREGATES_SUM not supported by pm1", annotations[len(annotations)-1].Message)
}

func TestSplitComputedGroupBy(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.AggregatesAvg, capabilities.QueryFunctionsInGroupBy)))
	root := placed(t, ctx, `
grouping:
  group: grp
  group_by: [{func: upper, args: [{col: g1.e2}]}]
  aggregates: [{aggr: avg, arg: {col: g1.e3}}]
  input:
    source: {table: pm1.g1, as: g1, columns: [e2, e3]}
`, plan.StrategyUndecided)

	res, ar := push(t, ctx, root)
	require.True(t, ar.Changed())
	groupings := plan.Find[*plan.Grouping](res)
	require.Len(t, groupings, 1)
	assert.Equal(t, "gexpr_1.c2", sqlast.String(groupings[0].GroupBy[0]))
	projects := plan.Find[*plan.Project](res)
	require.Len(t, projects, 2)
	assert.Equal(t, "g1.e2, g1.e3, upper(g1.e2) as gexpr_1.c2", projects[1].ShortDescription())

	cmds := commands(t, ctx, res)
	require.Len(t, cmds, 1)
	assert.Contains(t, cmds[0], "upper(g_0.e2)")
	assert.Contains(t, cmds[0], "group by v_0.")
}

const joinGroupingDoc = `
grouping:
  group: grp
  group_by: [{col: a.e3}]
  aggregates: [{aggr: %s, arg: {col: a.e2}}]
  input:
    join:
      type: inner
      criteria: [{op: "=", args: [{col: a.e1}, {col: g.e1}]}]
      left:
        source: {table: pm2.g1, as: a, columns: [e1, e2, e3]}
      right:
        source: {table: %s, as: g, columns: [e1]}
`

func TestStageBelowJoin(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := placed(t, ctx, fmt.Sprintf(joinGroupingDoc, "sum", "pm1.g1"), plan.StrategyNestedLoop)

	res, ar := push(t, ctx, root)
	require.True(t, ar.Changed())
	want := `Grouping (grp group by grp_1.gcol0 aggregates sum(grp_1.agg0))
└── Join (inner, nested loop, grp_1.gcol1 = g.e1)
    ├── Access (pm2)
    │   └── Grouping (grp_1 group by a.e3, a.e1 aggregates sum(a.e2))
    │       └── Source (pm2.g1 as a)
    └── Access (pm1)
        └── Source (pm1.g1 as g)
`
	assert.Equal(t, want, plan.ToTree(res))
	assert.Equal(t, []string{
		"select g_0.e3 as c_0, g_0.e1 as c_1, sum(g_0.e2) as c_2 from pm2.g1 as g_0 group by g_0.e3, g_0.e1",
		"select g_0.e1 as c_0 from pm1.g1 as g_0",
	}, commands(t, ctx, res))

	again, ar := push(t, ctx, res)
	assert.False(t, ar.Changed())
	assert.Equal(t, plan.ToTree(res), plan.ToTree(again))
}

func TestStageBelowJoinNeedsKey(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := placed(t, ctx, fmt.Sprintf(joinGroupingDoc, "sum", "pm1.g2"), plan.StrategyNestedLoop)

	res, ar := push(t, ctx, root)
	assert.False(t, ar.Changed())
	assert.Equal(t, plan.ToTree(root), plan.ToTree(res))
	annotations := ctx.Record.Filter(analysis.Annotation)
	require.NotEmpty(t, annotations)
	assert.Equal(t, "grouping not staged below join: the join may repeat rows of the left side", annotations[len(annotations)-1].Message)

	// repeated rows do not change a maximum
	ctx = plantest.Context(t, plantest.Finder())
	root = placed(t, ctx, fmt.Sprintf(joinGroupingDoc, "max", "pm1.g2"), plan.StrategyNestedLoop)
	res, ar = push(t, ctx, root)
	require.True(t, ar.Changed())
	top, ok := res.(*plan.Grouping)
	require.True(t, ok, plan.ToTree(res))
	assert.Equal(t, "grp group by grp_1.gcol0 aggregates max(grp_1.agg0)", top.ShortDescription())
}

const unionGroupingDoc = `
grouping:
  group: grp
  group_by: %s
  aggregates: [{aggr: %s, arg: {col: g1.e1}}]
  input:
    union:
      distinct: %t
      branches:
      - source: {table: pm1.g1, as: g1, columns: [e1, e2]}
      - source: {table: pm2.g1, as: a, columns: [e1, e2]}
`

func TestSplitAcrossUnion(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := placed(t, ctx, fmt.Sprintf(unionGroupingDoc, "[{col: g1.e2}]", "count", false), plan.StrategyUndecided)

	res, ar := push(t, ctx, root)
	require.True(t, ar.Changed())
	want := `Grouping (grp group by grp_1.gcol0 aggregates sum(grp_1.agg0))
└── UnionAll (2 branches)
    ├── Access (pm1)
    │   └── Grouping (grp_1 group by g1.e2 aggregates count(g1.e1))
    │       └── Source (pm1.g1 as g1)
    └── Access (pm2)
        └── Grouping (grp_2 group by a.e2 aggregates count(a.e1))
            └── Source (pm2.g1 as a)
`
	assert.Equal(t, want, plan.ToTree(res))

	again, ar := push(t, ctx, res)
	assert.False(t, ar.Changed())
	assert.Equal(t, plan.ToTree(res), plan.ToTree(again))
}

func TestSplitScalarCountAcrossUnion(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := placed(t, ctx, fmt.Sprintf(unionGroupingDoc, "[]", "count", false), plan.StrategyUndecided)

	res, ar := push(t, ctx, root)
	require.True(t, ar.Changed())
	p, ok := res.(*plan.Project)
	require.True(t, ok, plan.ToTree(res))
	assert.Equal(t, "coalesce(grp_3.agg0, 0) as grp.agg0", p.ShortDescription())
}

func TestSplitAcrossDistinctUnion(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := placed(t, ctx, fmt.Sprintf(unionGroupingDoc, "[{col: g1.e2}]", "count", true), plan.StrategyUndecided)
	_, ar := push(t, ctx, root)
	assert.False(t, ar.Changed(), "duplicates change a count")

	ctx = plantest.Context(t, plantest.Finder())
	root = placed(t, ctx, fmt.Sprintf(unionGroupingDoc, "[{col: g1.e2}]", "min", true), plan.StrategyUndecided)
	res, ar := push(t, ctx, root)
	require.True(t, ar.Changed())
	assert.Empty(t, plan.Find[*plan.DupRemove](res))
	assert.Len(t, plan.Find[*plan.Grouping](res), 3)
}
