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
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/nsf/jsondiff"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/log"
	"github.com/fedplan/fedplan/go/fed/planner/analysis"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/planner/plantest"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

func optimize(t *testing.T, ctx *plancontext.PlanningContext, doc string) plan.Node {
	t.Helper()
	root := plantest.Decode(t, ctx, doc)
	res, err := Optimize(ctx, root)
	require.NoError(t, err)
	require.NoError(t, plan.CheckClosure(res))
	return res
}

func commands(root plan.Node) []string {
	var res []string
	for _, a := range plan.Find[*plan.Access](root) {
		res = append(res, sqlast.String(a.Command))
	}
	return res
}

func TestSameSourceJoin(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	res := optimize(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
  right:
    source: {table: pm1.g2, as: g2, columns: [e1, e3]}
`)
	a, ok := res.(*plan.Access)
	require.True(t, ok, plan.ToTree(res))
	assert.Equal(t, "pm1", a.Source)
	assert.Equal(t,
		"select g_0.e1 as c_0, g_0.e2 as c_1, g_1.e1 as c_2, g_1.e3 as c_3 from pm1.g1 as g_0 join pm1.g2 as g_1 on g_0.e1 = g_1.e1",
		sqlast.String(a.Command))
}

func TestAccessPatternCannotBeSatisfied(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e2}, {col: g2.e2}]}]
  left:
    source: {table: pm1.g1, as: g1}
  right:
    source: {table: pm2.g2, as: g2}
`)
	before := testutil.ToFloat64(planningErrors.WithLabelValues("planning"))
	_, err := Optimize(ctx, root)
	require.Error(t, err)
	assert.True(t, federrors.IsPlanningError(err))
	assert.Contains(t, err.Error(), "pm2.g2")
	assert.Equal(t, before+1, testutil.ToFloat64(planningErrors.WithLabelValues("planning")))
}

func TestDependentJoinForAccessPattern(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	res := optimize(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
  right:
    source: {table: pm2.g2, as: g2, columns: [e1, e3]}
`)
	j, ok := res.(*plan.Join)
	require.True(t, ok, plan.ToTree(res))
	assert.Equal(t, plan.StrategyDependent, j.Strategy)
	assert.Equal(t, plan.SideRight, j.DependentSide)

	cmds := commands(res)
	require.Len(t, cmds, 2)
	assert.Contains(t, cmds[0], "from pm1.g1 as g_0")
	assert.Contains(t, cmds[1], "from pm2.g2 as g_0 where g_0.e1 in ::dep_1")
}

func TestDependentJoinIntoUnmergedView(t *testing.T) {
	for _, hint := range []string{"no_unnest", "makedep"} {
		t.Run(hint, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder())
			res := optimize(t, ctx, `
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e1}, {col: v.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
  right:
    view:
      as: v
      hints: [`+hint+`]
      definition:
        source: {table: pm2.g2, as: g2, columns: [e1, e3]}
`)
			joins := plan.Find[*plan.Join](res)
			require.Len(t, joins, 1, plan.ToTree(res))
			assert.Equal(t, plan.StrategyDependent, joins[0].Strategy)
			assert.Equal(t, plan.SideRight, joins[0].DependentSide)

			cmds := commands(res)
			require.Len(t, cmds, 2)
			assert.Contains(t, cmds[1], "from pm2.g2 as g_0 where g_0.e1 in ::dep_1")
		})
	}
}

func TestAverageSplitIntoSumAndCount(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.AggregatesAvg)))
	res := optimize(t, ctx, `
grouping:
  group: grp
  group_by: [{col: g1.e1}]
  aggregates: [{aggr: avg, arg: {col: g1.e2}}]
  input:
    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`)
	p, ok := res.(*plan.Project)
	require.True(t, ok, plan.ToTree(res))
	assert.Equal(t, "grp_1.agg0 / nullif(grp_1.agg1, 0)", sqlast.String(p.Exprs[1]))
	assert.Equal(t,
		[]string{"select g_0.e1 as c_0, sum(g_0.e2) as c_1, count(g_0.e2) as c_2 from pm1.g1 as g_0 group by g_0.e1"},
		commands(res))
}

func TestLimitOverUnionWithoutRowLimit(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm2", capabilities.RowLimit)))
	res := optimize(t, ctx, `
limit:
  count: 5
  input:
    union:
      branches:
        - source: {table: pm1.g1, as: g1, columns: [e1]}
        - source: {table: pm2.g1, as: g2, columns: [e1]}
`)
	l, ok := res.(*plan.Limit)
	require.True(t, ok, plan.ToTree(res))
	assert.EqualValues(t, 5, l.Count)
	assert.True(t, l.Pushed)
	_, ok = l.Input.(*plan.UnionAll)
	require.True(t, ok, plan.ToTree(res))

	want := []string{
		"select g_0.e1 as c_0 from pm1.g1 as g_0 limit 5",
		"select g_0.e1 as c_0 from pm2.g1 as g_0",
	}
	if diff := cmp.Diff(want, commands(res)); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestOptionalJoinRemoved(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	res := optimize(t, ctx, `
project:
  exprs: [{col: g1.e1}, {col: g1.e2}]
  input:
    join:
      type: left
      optional: true
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1, e2]}
      right:
        source: {table: pm2.g1, as: g2, columns: [e1]}
`)
	assert.Empty(t, plan.Find[*plan.Join](res))
	accesses := plan.Find[*plan.Access](res)
	require.Len(t, accesses, 1)
	assert.Equal(t, "pm1", accesses[0].Source)
	assert.Equal(t, "select g_0.e1 as c_0, g_0.e2 as c_1 from pm1.g1 as g_0", sqlast.String(accesses[0].Command))

	var removed bool
	for _, d := range ctx.Record.Filter(analysis.Decision) {
		removed = removed || d.Message == "removed the optional right side"
	}
	assert.True(t, removed, ctx.Record.String())
}

func TestRulesAreIdempotent(t *testing.T) {
	docs := map[string]string{
		"filter over join": `
select:
  where:
    - {op: "=", args: [{col: g1.e2}, {val: 3}]}
    - {op: "=", args: [{col: g1.e1}, {col: g2.e1}]}
  input:
    join:
      type: cross
      left:
        source: {table: pm1.g1, as: g1, columns: [e1, e2]}
      right:
        source: {table: pm2.g1, as: g2, columns: [e1]}
`,
		"limit over union": `
limit:
  count: 3
  input:
    union:
      branches:
        - source: {table: pm1.g1, as: g1, columns: [e1]}
        - source: {table: pm2.g1, as: g2, columns: [e1]}
`,
	}
	for name, doc := range docs {
		t.Run(name, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder())
			root := plantest.Decode(t, ctx, doc)
			for _, rule := range Catalog() {
				next, err := runRule(ctx, rule, root)
				require.NoError(t, err, rule.Name)
				if rule.Mode == Fixpoint {
					again, ar, err := rule.Apply(ctx, next)
					require.NoError(t, err)
					assert.False(t, ar.Changed(), "%s changed a tree it already converged on: %v", rule.Name, ar.Messages())
					assert.Equal(t, plan.ToTree(next), plan.ToTree(again))
				}
				root = next
			}
		})
	}
}

func TestFixpointBound(t *testing.T) {
	doc := `source: {table: pm1.g1, as: g1, columns: [e1]}`

	t.Run("oscillation", func(t *testing.T) {
		ctx := plantest.Context(t, plantest.Finder())
		root := plantest.Decode(t, ctx, doc)
		same := Rule{Name: "same", Mode: Fixpoint, Apply: func(_ *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
			return root.Clone(root.Inputs()), plan.Rewrote("rebuilt"), nil
		}}
		_, err := runRule(ctx, same, root)
		require.Error(t, err)
		assert.Equal(t, "bug", federrors.Kind(err))
		assert.Contains(t, err.Error(), "same oscillates between equivalent trees")
	})

	t.Run("growth", func(t *testing.T) {
		ctx := plantest.Context(t, plantest.Finder())
		root := plantest.Decode(t, ctx, doc)
		grow := Rule{Name: "grow", Mode: Fixpoint, Apply: func(_ *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
			return &plan.Limit{Input: root, Count: -1}, plan.Rewrote("wrapped"), nil
		}}
		_, err := runRule(ctx, grow, root)
		require.Error(t, err)
		assert.Equal(t, "bug", federrors.Kind(err))
		assert.Contains(t, err.Error(), "grow did not converge after")
	})
}

func TestValidateAfterEveryRule(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	ctx.Config.Validate = true
	root := plantest.Decode(t, ctx, `source: {table: pm1.g1, as: g1, columns: [e1]}`)
	broken := Rule{Name: "broken", Mode: Once, Apply: func(_ *plancontext.PlanningContext, root plan.Node) (plan.Node, *plan.ApplyResult, error) {
		return &plan.Select{
			Input:     root,
			Conjuncts: []sqlast.Expr{sqlast.NewComparison(sqlast.EqualOp, sqlast.ParseColName("x.e9"), sqlast.NewIntLiteral(1))},
		}, plan.Rewrote("filtered"), nil
	}}
	_, err := OptimizeWith(ctx, root, []Rule{broken})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after broken")
}

func TestRuleRewritesAreCounted(t *testing.T) {
	before := testutil.ToFloat64(ruleRewrites.WithLabelValues("push_limit"))
	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.RowLimit)))
	res := optimize(t, ctx, `
limit:
  count: 0
  input:
    source: {table: pm1.g1, as: g1, columns: [e1]}
`)
	_, ok := res.(*plan.Null)
	assert.True(t, ok, plan.ToTree(res))
	assert.Greater(t, testutil.ToFloat64(ruleRewrites.WithLabelValues("push_limit")), before)

	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg))
	require.NoError(t, RegisterMetrics(reg))
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "fedplan_rule_rewrites_total")
	assert.Contains(t, names, "fedplan_planning_duration_seconds")
}

func TestRuleRewritesAreLogged(t *testing.T) {
	var buf bytes.Buffer
	restore := log.SetLogger(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})))
	defer restore()

	ctx := plantest.Context(t, plantest.Finder(plantest.Without("pm1", capabilities.RowLimit)))
	optimize(t, ctx, `
limit:
  count: 0
  input:
    source: {table: pm1.g1, as: g1, columns: [e1]}
`)

	var names []string
	dec := json.NewDecoder(&buf)
	for dec.More() {
		var record map[string]any
		require.NoError(t, dec.Decode(&record))
		if record["msg"] != "rewrote the tree" {
			continue
		}
		assert.Equal(t, "DEBUG", record["level"])
		assert.Equal(t, ctx.SessionID, record["session"])
		names = append(names, record["rule"].(string))
	}
	assert.Contains(t, names, "push_limit")
}

func TestPlanBatch(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("github.com/golang/glog.(*fileSink).flushDaemon"),
		goleak.IgnoreTopFunction("github.com/golang/glog.(*loggingT).flushDaemon"),
	)

	docs := []string{`
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1]}
  right:
    source: {table: pm2.g2, as: g2, columns: [e1]}
`, `
limit:
  count: 2
  input:
    source: {table: pm1.g2, as: g2, columns: [e1, e2]}
`, `
grouping:
  group: grp
  group_by: [{col: g1.e1}]
  aggregates: [{aggr: count, star: true}]
  input:
    source: {table: pm2.g1, as: g1, columns: [e1]}
`}
	catalog := plantest.Catalog(t)
	finder := plantest.Finder()
	var trees []plan.Node
	var sequential []string
	for _, doc := range docs {
		tree, err := plan.Decode([]byte(doc), catalog)
		require.NoError(t, err)
		trees = append(trees, tree)

		other, err := plan.Decode([]byte(doc), catalog)
		require.NoError(t, err)
		res, err := Optimize(plancontext.New(catalog, finder, plantest.Config()), other)
		require.NoError(t, err)
		sequential = append(sequential, plan.ToJSON(res))
	}

	results, err := PlanBatch(context.Background(), catalog, finder, plantest.Config(), trees)
	require.NoError(t, err)
	require.Len(t, results, len(docs))
	opts := jsondiff.DefaultConsoleOptions()
	sessions := map[string]bool{}
	for i, r := range results {
		diff, desc := jsondiff.Compare([]byte(sequential[i]), []byte(plan.ToJSON(r.Plan)), &opts)
		assert.Equal(t, jsondiff.FullMatch, diff, desc)
		assert.NotEmpty(t, r.SessionID)
		sessions[r.SessionID] = true
	}
	assert.Len(t, sessions, len(docs))
}

func TestPlanBatchStopsOnError(t *testing.T) {
	catalog := plantest.Catalog(t)
	tree, err := plan.Decode([]byte(`
join:
  type: inner
  criteria: [{op: "=", args: [{col: g1.e2}, {col: g2.e2}]}]
  left:
    source: {table: pm1.g1, as: g1}
  right:
    source: {table: pm2.g2, as: g2}
`), catalog)
	require.NoError(t, err)

	var buf bytes.Buffer
	restore := log.SetLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	defer restore()

	_, err = PlanBatch(context.Background(), catalog, plantest.Finder(), plantest.Config(), []plan.Node{tree})
	require.Error(t, err)
	assert.True(t, federrors.IsPlanningError(err))
	assert.Contains(t, buf.String(), `"msg":"planning failed"`)
	assert.Contains(t, buf.String(), `"query":0`)
}
