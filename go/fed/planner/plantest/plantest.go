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

// Package plantest provides the catalog, capability profiles and helpers the
// planner tests share.
package plantest

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
)

func columns(names ...string) []*metadata.Column {
	res := make([]*metadata.Column, 0, len(names))
	for _, name := range names {
		res = append(res, &metadata.Column{Name: name, DistinctValues: metadata.Unknown, NullValues: metadata.Unknown})
	}
	return res
}

// Tables returns the test tables. Every table has the columns e1 to e4.
//
//	pm1.g1  key e1, 100 rows
//	pm1.g2  1000 rows
//	pm1.g3  access pattern {e1}, unknown size
//	pm2.g1  10,000 rows
//	pm2.g2  access pattern {e1}, 500 rows
//	pm2.g3  5 rows
//	pm3.g1  conformed to pm1, 50 rows
func Tables() []*metadata.Table {
	e := func() []*metadata.Column { return columns("e1", "e2", "e3", "e4") }
	return []*metadata.Table{
		{Name: "pm1.g1", Source: "pm1", Columns: e(), Keys: [][]string{{"e1"}}, Cardinality: 100},
		{Name: "pm1.g2", Source: "pm1", Columns: e(), Cardinality: 1000},
		{Name: "pm1.g3", Source: "pm1", Columns: e(), AccessPatterns: []metadata.AccessPattern{{"e1"}}, Cardinality: metadata.Unknown},
		{Name: "pm2.g1", Source: "pm2", Columns: e(), Cardinality: 10000},
		{Name: "pm2.g2", Source: "pm2", Columns: e(), AccessPatterns: []metadata.AccessPattern{{"e1"}}, Cardinality: 500},
		{Name: "pm2.g3", Source: "pm2", Columns: e(), Cardinality: 5},
		{Name: "pm3.g1", Source: "pm3", Columns: e(), Cardinality: 50, ConformedSources: []string{"pm1"}},
	}
}

// Catalog returns an in-memory catalog holding Tables.
func Catalog(t testing.TB) *metadata.MemCatalog {
	t.Helper()
	cat, err := metadata.NewMemCatalog(Tables()...)
	require.NoError(t, err)
	return cat
}

// Finder returns full capabilities for pm1, pm2 and pm3, replaced by any
// override for the same source.
func Finder(overrides ...*capabilities.Capabilities) capabilities.StaticFinder {
	finder := capabilities.StaticFinder{}
	for _, source := range []string{"pm1", "pm2", "pm3"} {
		finder[source] = capabilities.Full(source)
	}
	for _, caps := range overrides {
		finder[caps.Source()] = caps
	}
	return finder
}

// Without returns full capabilities for source minus the given ones.
func Without(source string, unsupported ...capabilities.Capability) *capabilities.Capabilities {
	return capabilities.New(source).
		Support(capabilities.All()...).
		Unsupport(unsupported...).
		JoinCriteria(capabilities.JoinCriteriaAny).
		Function("+", "-", "*", "/", "concat", "upper", "lower", "nullif", "sqrt", "coalesce").
		Build()
}

// Config is the default configuration with the analysis record on.
func Config() plancontext.Config {
	cfg := plancontext.DefaultConfig()
	cfg.RecordAnalysis = true
	return cfg
}

// Context returns a planning context over Catalog.
func Context(t testing.TB, finder capabilities.Finder) *plancontext.PlanningContext {
	t.Helper()
	return plancontext.New(Catalog(t), finder, Config())
}

// Decode builds a tree from its YAML document and registers its groups
// with ctx.
func Decode(t testing.TB, ctx *plancontext.PlanningContext, doc string) plan.Node {
	t.Helper()
	root, err := plan.Decode([]byte(doc), ctx.Catalog)
	require.NoError(t, err)
	require.NoError(t, plan.CheckClosure(root))
	require.NoError(t, ctx.IndexTree(root))
	return root
}
