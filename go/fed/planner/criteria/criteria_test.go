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

package criteria

import (
	"testing"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

func parse(t *testing.T, doc string) sqlast.Expr {
	t.Helper()
	e, err := sqlast.ParseExprJSON(doc)
	require.NoError(t, err)
	return e
}

var testTable = &metadata.Table{
	Name:   "pm1.g1",
	Source: "pm1",
	Columns: []*metadata.Column{
		{Name: "e1", Searchability: metadata.Searchable},
		{Name: "e2", Searchability: metadata.EqualityOnly},
		{Name: "e3", Searchability: metadata.Unsearchable},
		{Name: "e4", Searchability: metadata.AllExceptLike},
	},
	AccessPatterns: []metadata.AccessPattern{{"e1"}, {"e2", "e4"}},
}

func resolver(col *sqlast.ColName) (*metadata.Table, *metadata.Column) {
	if col.Qualifier != "g1" {
		return nil, nil
	}
	return testTable, testTable.Column(col.Name)
}

func TestSupported(t *testing.T) {
	full := &Checker{Caps: capabilities.Full("pm1"), MaxIn: 3, Resolve: resolver}
	eqOnly := &Checker{
		Caps:    capabilities.New("pm2").Support(capabilities.CriteriaCompareEq, capabilities.CriteriaIn).Build(),
		Resolve: resolver,
	}
	override := &Checker{
		Caps:    capabilities.New("pm1").Support(capabilities.All()...).ColumnSearchability("pm1.g1", "e3", metadata.Searchable).Build(),
		Resolve: resolver,
	}

	tcases := []struct {
		name    string
		checker *Checker
		expr    string
		want    bool
	}{
		{"equality", full, `{"op": "=", "args": [{"col": "g1.e1"}, {"val": 1}]}`, true},
		{"equality on unsearchable", full, `{"op": "=", "args": [{"col": "g1.e3"}, {"val": 1}]}`, false},
		{"override makes searchable", override, `{"op": "=", "args": [{"col": "g1.e3"}, {"val": 1}]}`, true},
		{"ordered on equality only", full, `{"op": "<", "args": [{"col": "g1.e2"}, {"val": 1}]}`, false},
		{"ordered on all except like", full, `{"op": "<", "args": [{"col": "g1.e4"}, {"val": 1}]}`, true},
		{"like on all except like", full, `{"op": "like", "args": [{"col": "g1.e4"}, {"val": "a%"}]}`, false},
		{"like on searchable", full, `{"op": "like", "args": [{"col": "g1.e1"}, {"val": "a%"}]}`, true},
		{"in within limit", full, `{"op": "in", "args": [{"col": "g1.e1"}, {"tuple": [{"val": 1}, {"val": 2}, {"val": 3}]}]}`, true},
		{"in over limit", full, `{"op": "in", "args": [{"col": "g1.e1"}, {"tuple": [{"val": 1}, {"val": 2}, {"val": 3}, {"val": 4}]}]}`, false},
		{"in dependent list", eqOnly, `{"op": "in", "args": [{"col": "g1.e1"}, {"list": "dep_1"}]}`, true},
		{"or unsupported", eqOnly, `{"op": "or", "args": [{"op": "=", "args": [{"col": "g1.e1"}, {"val": 1}]}, {"op": "=", "args": [{"col": "g1.e1"}, {"val": 2}]}]}`, false},
		{"is not null needs not", eqOnly, `{"op": "is not null", "args": [{"col": "g1.e1"}]}`, false},
		{"function", full, `{"op": "=", "args": [{"func": "upper", "args": [{"col": "g1.e1"}]}, {"val": "A"}]}`, true},
		{"unknown function", full, `{"op": "=", "args": [{"func": "soundex", "args": [{"col": "g1.e1"}]}, {"val": "A"}]}`, false},
		{"arithmetic", eqOnly, `{"op": "=", "args": [{"op": "+", "args": [{"col": "g1.e1"}, {"val": 1}]}, {"val": 2}]}`, false},
		{"aggregate", full, `{"op": "=", "args": [{"aggr": "count", "star": true}, {"val": 2}]}`, false},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			ok, why := tc.checker.Supported(parse(t, tc.expr))
			assert.Equal(t, tc.want, ok, why)
			if !ok {
				assert.NotEmpty(t, why)
			}
		})
	}
}

func TestAggregateSupported(t *testing.T) {
	c := &Checker{Caps: capabilities.New("pm1").Support(capabilities.AggregatesSum, capabilities.AggregatesCount).Build()}
	for _, tc := range []struct {
		aggr string
		want bool
	}{
		{`{"aggr": "sum", "arg": {"col": "g1.e1"}}`, true},
		{`{"aggr": "count", "arg": {"col": "g1.e1"}}`, true},
		{`{"aggr": "count", "star": true}`, false},
		{`{"aggr": "avg", "arg": {"col": "g1.e1"}}`, false},
		{`{"aggr": "sum", "arg": {"col": "g1.e1"}, "distinct": true}`, false},
		{`{"aggr": "var_samp", "arg": {"col": "g1.e1"}}`, false},
	} {
		e := parse(t, tc.aggr).(*sqlast.AggrFunc)
		ok, _ := c.AggregateSupported(e)
		assert.Equal(t, tc.want, ok, tc.aggr)
	}
}

func TestClassify(t *testing.T) {
	c := Classify(parse(t, `{"op": "=", "args": [{"func": "rand"}, {"col": "g1.e1"}]}`))
	assert.Equal(t, KindCompareEq, c.Kind)
	assert.False(t, c.Deterministic)
	assert.True(t, c.HasFunction)

	c = Classify(parse(t, `{"op": "in", "args": [{"col": "g1.e1"}, {"list": "dep_1"}]}`))
	assert.Equal(t, KindIn, c.Kind)
	assert.True(t, c.Deterministic)
	assert.True(t, c.HasDependent)
	assert.Equal(t, "in", c.Kind.String())
}

func TestEquiPairs(t *testing.T) {
	left := mapset.NewThreadUnsafeSet("g1.e1", "g1.e2")
	right := mapset.NewThreadUnsafeSet("g2.e1")
	conjuncts := []sqlast.Expr{
		parse(t, `{"op": "=", "args": [{"col": "g2.e1"}, {"col": "g1.e1"}]}`),
		parse(t, `{"op": "<", "args": [{"col": "g1.e2"}, {"col": "g2.e1"}]}`),
		parse(t, `{"op": "=", "args": [{"col": "g1.e2"}, {"val": 1}]}`),
	}
	lefts, rights, others := EquiPairs(conjuncts, left, right)
	require.Len(t, lefts, 1)
	assert.Equal(t, "g1.e1", sqlast.String(lefts[0]))
	assert.Equal(t, "g2.e1", sqlast.String(rights[0]))
	assert.Len(t, others, 2)
}

func TestNullRejecting(t *testing.T) {
	inner := mapset.NewThreadUnsafeSet("g2.e1", "g2.e2")
	tcases := []struct {
		expr string
		want bool
	}{
		{`{"op": "=", "args": [{"col": "g2.e1"}, {"val": 1}]}`, true},
		{`{"op": "is null", "args": [{"col": "g2.e1"}]}`, false},
		{`{"op": "is not null", "args": [{"col": "g2.e1"}]}`, true},
		{`{"op": "=", "args": [{"col": "g1.e1"}, {"val": 1}]}`, false},
		{`{"op": "=", "args": [{"func": "coalesce", "args": [{"col": "g2.e1"}, {"val": 1}]}, {"val": 1}]}`, false},
		{`{"op": "or", "args": [{"op": "=", "args": [{"col": "g2.e1"}, {"val": 1}]}, {"op": "is null", "args": [{"col": "g2.e2"}]}]}`, false},
		{`{"op": "and", "args": [{"op": "=", "args": [{"col": "g2.e1"}, {"val": 1}]}, {"op": "is null", "args": [{"col": "g2.e2"}]}]}`, true},
	}
	for _, tc := range tcases {
		assert.Equal(t, tc.want, NullRejecting(parse(t, tc.expr), inner), tc.expr)
	}
}

func TestConstantPredicates(t *testing.T) {
	tcases := []struct {
		expr            string
		isTrue, isFalse bool
	}{
		{`{"val": true}`, true, false},
		{`{"val": false}`, false, true},
		{`{"val": null}`, false, true},
		{`{"op": "=", "args": [{"val": 1}, {"val": 1.0}]}`, true, false},
		{`{"op": "=", "args": [{"val": 1}, {"val": 2}]}`, false, true},
		{`{"op": "<", "args": [{"val": "a"}, {"val": "b"}]}`, true, false},
		{`{"op": "=", "args": [{"val": 1}, {"val": null}]}`, false, true},
		{`{"op": "=", "args": [{"col": "g1.e1"}, {"val": 1}]}`, false, false},
		{`{"op": "and", "args": [{"col": "g1.e1"}, {"val": false}]}`, false, true},
		{`{"op": "or", "args": [{"col": "g1.e1"}, {"val": true}]}`, true, false},
	}
	for _, tc := range tcases {
		e := parse(t, tc.expr)
		assert.Equal(t, tc.isTrue, IsTrue(e), tc.expr)
		assert.Equal(t, tc.isFalse, IsFalse(e), tc.expr)
	}
}

func TestBoundColumnsAndAccessPatterns(t *testing.T) {
	conjuncts := []sqlast.Expr{
		parse(t, `{"op": "=", "args": [{"val": 5}, {"col": "g1.e2"}]}`),
		parse(t, `{"op": "in", "args": [{"col": "g1.e4"}, {"list": "dep_1"}]}`),
		parse(t, `{"op": "<", "args": [{"col": "g1.e1"}, {"val": 5}]}`),
		parse(t, `{"op": "=", "args": [{"col": "g1.e3"}, {"col": "g2.e1"}]}`),
		parse(t, `{"op": "=", "args": [{"col": "g2.e2"}, {"val": 5}]}`),
	}
	bound := BoundColumns(conjuncts, "g1")
	assert.ElementsMatch(t, []string{"e2", "e4"}, bound.ToSlice())
	assert.True(t, SatisfiesAccessPattern(testTable, bound))
	assert.False(t, SatisfiesAccessPattern(testTable, mapset.NewThreadUnsafeSet("e2")))
	assert.True(t, SatisfiesAccessPattern(testTable, mapset.NewThreadUnsafeSet("e1")))
}

func TestTransitiveEqualities(t *testing.T) {
	conjuncts := []sqlast.Expr{
		parse(t, `{"op": "=", "args": [{"col": "g1.e1"}, {"col": "g2.e1"}]}`),
		parse(t, `{"op": "=", "args": [{"col": "g2.e1"}, {"col": "g3.e1"}]}`),
		parse(t, `{"op": "=", "args": [{"col": "g1.e1"}, {"val": 5}]}`),
		parse(t, `{"op": "=", "args": [{"col": "g3.e1"}, {"val": 5}]}`),
	}
	var derived []string
	for _, e := range TransitiveEqualities(conjuncts) {
		derived = append(derived, sqlast.String(e))
	}
	assert.Equal(t, []string{"g2.e1 = 5"}, derived)
	assert.Empty(t, TransitiveEqualities(append(conjuncts, parse(t, `{"op": "=", "args": [{"col": "g2.e1"}, {"val": 5}]}`))))
}

func TestJoinCriteriaAllowed(t *testing.T) {
	keyed := &metadata.Table{Name: "pm1.k", Source: "pm1", Columns: []*metadata.Column{{Name: "id"}, {Name: "v"}}, Keys: [][]string{{"id"}}}
	plain := &metadata.Table{Name: "pm1.p", Source: "pm1", Columns: []*metadata.Column{{Name: "id"}, {Name: "v"}}}
	cat, err := metadata.NewMemCatalog(keyed, plain)
	require.NoError(t, err)
	ctx := plancontext.New(cat, capabilities.StaticFinder{}, plancontext.DefaultConfig())
	ctx.RegisterTable("k", keyed)
	ctx.RegisterTable("p", plain)
	ctx.RegisterTable("q", plain)

	eq := `{"op": "=", "args": [{"col": "p.id"}, {"col": "k.id"}]}`
	lt := `{"op": "<", "args": [{"col": "p.v"}, {"col": "k.v"}]}`
	like := `{"op": "like", "args": [{"col": "p.v"}, {"col": "k.v"}]}`
	pSide := mapset.NewThreadUnsafeSet("p.id", "p.v")
	kSide := mapset.NewThreadUnsafeSet("k.id", "k.v")
	kJoined := mapset.NewThreadUnsafeSet("k.id", "k.v", "q.id")

	tcases := []struct {
		name      string
		level     capabilities.JoinCriteria
		conjuncts []string
		right     mapset.Set[string]
		allowed   bool
		reason    string
	}{
		{name: "any allows like", level: capabilities.JoinCriteriaAny, conjuncts: []string{like}, right: kSide, allowed: true},
		{name: "theta allows ordered comparison", level: capabilities.JoinCriteriaTheta, conjuncts: []string{eq, lt}, right: kSide, allowed: true},
		{name: "theta rejects like", level: capabilities.JoinCriteriaTheta, conjuncts: []string{like}, right: kSide, reason: "p.v like k.v is not a comparison between the joined sides"},
		{name: "equi allows equality", level: capabilities.JoinCriteriaEqui, conjuncts: []string{eq}, right: kSide, allowed: true},
		{name: "equi rejects ordered comparison", level: capabilities.JoinCriteriaEqui, conjuncts: []string{eq, lt}, right: kSide, reason: "p.v < k.v is not an equi-join predicate"},
		{name: "key covered on a single table", level: capabilities.JoinCriteriaKey, conjuncts: []string{eq}, right: kSide, allowed: true},
		{name: "key of a table joined to another", level: capabilities.JoinCriteriaKey, conjuncts: []string{eq}, right: kJoined, reason: "join predicates do not cover a key of either side"},
	}
	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			var conjuncts []sqlast.Expr
			for _, doc := range tc.conjuncts {
				conjuncts = append(conjuncts, parse(t, doc))
			}
			ok, why := JoinCriteriaAllowed(ctx, tc.level, conjuncts, pSide, tc.right)
			assert.Equal(t, tc.allowed, ok)
			assert.Equal(t, tc.reason, why)
		})
	}
}
