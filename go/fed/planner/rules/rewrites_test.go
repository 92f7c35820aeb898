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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/planner/plantest"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// shape lists the operator types from node down its first inputs.
func shape(node plan.Node) []string {
	var res []string
	for node != nil {
		res = append(res, plan.TypeName(node))
		inputs := node.Inputs()
		if len(inputs) == 0 {
			break
		}
		node = inputs[0]
	}
	return res
}

func fixpoint(t *testing.T, ctx *plancontext.PlanningContext, apply Apply, root plan.Node) plan.Node {
	t.Helper()
	res, err := runRule(ctx, Rule{Name: "test", Mode: Fixpoint, Apply: apply}, root)
	require.NoError(t, err)
	require.NoError(t, plan.CheckClosure(res))
	return res
}

func TestPushCriteria(t *testing.T) {
	tcases := []struct {
		name string
		doc  string
		want string
	}{{
		name: "filter over cross join",
		doc: `
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
		want: `Join (inner, undecided, g1.e1 = g2.e1)
├── Select (g1.e2 = 3)
│   └── Source (pm1.g1 as g1)
└── Source (pm2.g1 as g2)
`,
	}, {
		name: "null rejecting filter over left outer join",
		doc: `
select:
  where: [{op: "=", args: [{col: g2.e2}, {val: 1}]}]
  input:
    join:
      type: left
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1]}
      right:
        source: {table: pm2.g1, as: g2, columns: [e1, e2]}
`,
		want: `Join (inner, undecided, g1.e1 = g2.e1)
├── Source (pm1.g1 as g1)
└── Select (g2.e2 = 1)
    └── Source (pm2.g1 as g2)
`,
	}, {
		name: "filter of the preserved side moves below left outer join",
		doc: `
select:
  where: [{op: "=", args: [{col: g1.e2}, {val: 1}]}]
  input:
    join:
      type: left
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1, e2]}
      right:
        source: {table: pm2.g1, as: g2, columns: [e1]}
`,
		want: `Join (left outer, undecided, g1.e1 = g2.e1)
├── Select (g1.e2 = 1)
│   └── Source (pm1.g1 as g1)
└── Source (pm2.g1 as g2)
`,
	}, {
		name: "filter through projection and grouping",
		doc: `
select:
  where: [{op: "=", args: [{col: grp.gcol0}, {val: 7}]}]
  input:
    grouping:
      group: grp
      group_by: [{col: g1.e1}]
      aggregates: [{aggr: count, star: true}]
      input:
        project:
          exprs: [{col: g1.e1}]
          input:
            source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`,
		want: `Grouping (grp group by g1.e1 aggregates count(*))
└── Project (g1.e1)
    └── Select (g1.e1 = 7)
        └── Source (pm1.g1 as g1)
`,
	}}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder())
			res := fixpoint(t, ctx, PushCriteria, plantest.Decode(t, ctx, tc.doc))
			assert.Equal(t, tc.want, plan.ToTree(res))
		})
	}
}

func TestPushCriteriaCopiesEqualities(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	res := fixpoint(t, ctx, PushCriteria, plantest.Decode(t, ctx, `
select:
  where: [{op: "=", args: [{col: g1.e1}, {val: 5}]}]
  input:
    join:
      type: inner
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1]}
      right:
        source: {table: pm2.g1, as: g2, columns: [e1]}
`))
	j, ok := res.(*plan.Join)
	require.True(t, ok, plan.ToTree(res))
	assert.Equal(t, "Select (g1.e1 = 5)", plan.Describe(j.Left))
	assert.Equal(t, "Select (g2.e1 = 5)", plan.Describe(j.Right))
}

func TestCombineLimits(t *testing.T) {
	tcases := []struct {
		name          string
		outer, inner  plan.Limit
		offset, count int64
	}{
		{name: "both bounded", outer: plan.Limit{Offset: 2, Count: 5}, inner: plan.Limit{Offset: 1, Count: 4}, offset: 3, count: 2},
		{name: "inner unbounded", outer: plan.Limit{Count: 5}, inner: plan.Limit{Offset: 1, Count: -1}, offset: 1, count: 5},
		{name: "outer unbounded", outer: plan.Limit{Offset: 3, Count: -1}, inner: plan.Limit{Count: 10}, offset: 3, count: 7},
		{name: "offset past the inner count", outer: plan.Limit{Offset: 5, Count: 5}, inner: plan.Limit{Count: 2}, offset: 5, count: 0},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			res := combineLimits(&tc.outer, &tc.inner)
			assert.Equal(t, tc.offset, res.Offset)
			assert.Equal(t, tc.count, res.Count)
		})
	}
}

func TestPushLimit(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `
limit:
  count: 4
  input:
    project:
      exprs: [{func: upper, args: [{col: g1.e2}]}]
      input:
        limit:
          count: 10
          offset: 2
          input:
            source: {table: pm1.g1, as: g1, columns: [e2]}
`)
	res := fixpoint(t, ctx, PushLimit, root)
	assert.Equal(t, []string{"Project", "Limit", "Source"}, shape(res))
	l := res.Inputs()[0].(*plan.Limit)
	assert.EqualValues(t, 2, l.Offset)
	assert.EqualValues(t, 4, l.Count)

	zero := plantest.Decode(t, ctx, `
limit:
  count: 0
  input:
    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`)
	res = fixpoint(t, ctx, PushLimit, zero)
	null, ok := res.(*plan.Null)
	require.True(t, ok, plan.ToTree(res))
	assert.Len(t, null.Cols, 2)
}

func TestRemoveRedundant(t *testing.T) {
	tcases := []struct {
		name string
		doc  string
		want []string
	}{{
		name: "sorts and duplicate removal",
		doc: `
limit:
  count: 3
  input:
    sort:
      items: [{expr: {col: g1.e1}}]
      input:
        sort:
          items: [{expr: {col: g1.e2}}]
          input:
            distinct:
              input:
                distinct:
                  input:
                    source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`,
		want: []string{"Limit", "Sort", "DupRemove", "Source"},
	}, {
		name: "sort below grouping",
		doc: `
grouping:
  group: grp
  group_by: [{col: g1.e1}]
  input:
    sort:
      items: [{expr: {col: g1.e1}}]
      input:
        source: {table: pm1.g1, as: g1, columns: [e1]}
`,
		want: []string{"Grouping", "Source"},
	}, {
		name: "distinct over grouping",
		doc: `
distinct:
  input:
    grouping:
      group: grp
      group_by: [{col: g1.e1}]
      input:
        source: {table: pm1.g1, as: g1, columns: [e1]}
`,
		want: []string{"Grouping", "Source"},
	}, {
		name: "identity projection",
		doc: `
sort:
  items: [{expr: {col: g1.e1}}]
  input:
    project:
      exprs: [{col: g1.e1}, {col: g1.e2}]
      input:
        source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`,
		want: []string{"Sort", "Source"},
	}, {
		name: "sort feeding a limit stays",
		doc: `
limit:
  count: 1
  input:
    sort:
      items: [{expr: {col: g1.e1}}]
      input:
        source: {table: pm1.g1, as: g1, columns: [e1]}
`,
		want: []string{"Limit", "Sort", "Source"},
	}}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := plantest.Context(t, plantest.Finder())
			res := fixpoint(t, ctx, RemoveRedundant, plantest.Decode(t, ctx, tc.doc))
			assert.Equal(t, tc.want, shape(res))
		})
	}
}

func TestCleanCriteria(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	src := plantest.Decode(t, ctx, `source: {table: pm1.g1, as: g1, columns: [e1]}`)
	eq := sqlast.NewComparison(sqlast.EqualOp, sqlast.ParseColName("g1.e1"), sqlast.NewIntLiteral(1))

	res, ar, err := CleanCriteria(ctx, &plan.Select{Input: src, Conjuncts: []sqlast.Expr{sqlast.NewBoolLiteral(true), eq, sqlast.CloneExpr(eq)}})
	require.NoError(t, err)
	assert.True(t, ar.Changed())
	assert.Equal(t, "Select (g1.e1 = 1)", plan.Describe(res))

	res, _, err = CleanCriteria(ctx, &plan.Select{Input: src, Conjuncts: []sqlast.Expr{sqlast.NewBoolLiteral(true)}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Source"}, shape(res))

	res, ar, err = CleanCriteria(ctx, res)
	require.NoError(t, err)
	assert.False(t, ar.Changed())
}

func TestRaiseNull(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())

	t.Run("left outer join with an empty inner side", func(t *testing.T) {
		res := fixpoint(t, ctx, RaiseNull, plantest.Decode(t, ctx, `
join:
  type: left
  criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
  left:
    source: {table: pm1.g1, as: g1, columns: [e1]}
  right:
    empty: {columns: [g2.e1]}
`))
		p, ok := res.(*plan.Project)
		require.True(t, ok, plan.ToTree(res))
		assert.Equal(t, "g1.e1, null as g2.e1", p.ShortDescription())
	})

	t.Run("inner join with an empty side", func(t *testing.T) {
		res := fixpoint(t, ctx, RaiseNull, plantest.Decode(t, ctx, `
project:
  exprs: [{col: g1.e1}]
  input:
    join:
      type: inner
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1]}
      right:
        empty: {columns: [g2.e1]}
`))
		null, ok := res.(*plan.Null)
		require.True(t, ok, plan.ToTree(res))
		assert.Equal(t, "g1.e1", null.Cols[0].Key())
	})

	t.Run("filter that never matches", func(t *testing.T) {
		res := fixpoint(t, ctx, RaiseNull, plantest.Decode(t, ctx, `
select:
  where: [{op: "=", args: [{val: 1}, {val: 2}]}]
  input:
    source: {table: pm1.g1, as: g1, columns: [e1]}
`))
		assert.Equal(t, []string{"Null"}, shape(res))
	})

	t.Run("scalar grouping over no rows keeps its row", func(t *testing.T) {
		res := fixpoint(t, ctx, RaiseNull, plantest.Decode(t, ctx, `
grouping:
  group: grp
  aggregates: [{aggr: count, star: true}]
  input:
    empty: {columns: [g1.e1]}
`))
		assert.Equal(t, []string{"Grouping", "Null"}, shape(res))
	})

	t.Run("union drops empty branches", func(t *testing.T) {
		res := fixpoint(t, ctx, RaiseNull, plantest.Decode(t, ctx, `
union:
  branches:
    - empty: {columns: [x.e1]}
    - source: {table: pm2.g1, as: g2, columns: [e1]}
`))
		p, ok := res.(*plan.Project)
		require.True(t, ok, plan.ToTree(res))
		assert.Equal(t, "g2.e1 as x.e1", p.ShortDescription())
		assert.Equal(t, []string{"Project", "Source"}, shape(res))
	})
}

func TestRemoveOptionalJoins(t *testing.T) {
	const doc = `
grouping:
  group: grp
  group_by: [{col: g1.e1}]
  aggregates: [{aggr: %s, arg: {col: g1.e2}}]
  input:
    join:
      type: inner
      optional: true
      criteria: [{op: "=", args: [{col: g1.e1}, {col: g2.e1}]}]
      left:
        source: {table: pm1.g1, as: g1, columns: [e1, e2]}
      right:
        source: {table: pm2.g1, as: g2, columns: [e1]}
`
	t.Run("duplicate sensitive aggregate keeps the join", func(t *testing.T) {
		ctx := plantest.Context(t, plantest.Finder())
		root := plantest.Decode(t, ctx, fmt.Sprintf(doc, "sum"))
		res, ar, err := RemoveOptionalJoins(ctx, root)
		require.NoError(t, err)
		assert.False(t, ar.Changed())
		assert.Len(t, plan.Find[*plan.Join](res), 1)
	})

	t.Run("max ignores duplicates", func(t *testing.T) {
		ctx := plantest.Context(t, plantest.Finder())
		root := plantest.Decode(t, ctx, fmt.Sprintf(doc, "max"))
		res, ar, err := RemoveOptionalJoins(ctx, root)
		require.NoError(t, err)
		assert.True(t, ar.Changed())
		assert.Equal(t, []string{"Grouping", "Source"}, shape(res))
	})
}

func TestMergeVirtual(t *testing.T) {
	ctx := plantest.Context(t, plantest.Finder())
	root := plantest.Decode(t, ctx, `
project:
  exprs: [{col: v.e1}]
  input:
    view:
      as: v
      definition:
        select:
          where: [{op: "=", args: [{col: g1.e2}, {val: 1}]}]
          input:
            source: {table: pm1.g1, as: g1, columns: [e1, e2]}
`)
	res, ar, err := MergeVirtual(ctx, root)
	require.NoError(t, err)
	assert.True(t, ar.Changed())
	require.NoError(t, plan.CheckClosure(res))
	assert.Equal(t, []string{"Project", "Project", "Select", "Source"}, shape(res))

	hinted := plantest.Decode(t, ctx, `
view:
  as: v
  hints: [no_unnest]
  definition:
    source: {table: pm1.g1, as: g1, columns: [e1]}
`)
	_, ar, err = MergeVirtual(ctx, hinted)
	require.NoError(t, err)
	assert.False(t, ar.Changed())
}
