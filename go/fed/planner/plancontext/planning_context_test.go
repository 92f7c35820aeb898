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

package plancontext

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

type countingFinder struct {
	capabilities.StaticFinder
	calls int
}

func (f *countingFinder) FindCapabilities(source string) (*capabilities.Capabilities, error) {
	f.calls++
	return f.StaticFinder.FindCapabilities(source)
}

func newTestContext(t *testing.T) (*PlanningContext, *countingFinder) {
	cat, err := metadata.NewMemCatalog(&metadata.Table{
		Name:    "pm1.g1",
		Source:  "pm1",
		Columns: []*metadata.Column{{Name: "e1"}, {Name: "e2"}},
	})
	require.NoError(t, err)
	finder := &countingFinder{StaticFinder: capabilities.StaticFinder{
		"pm1": capabilities.New("pm1").Support(capabilities.CriteriaIn).MaxInCriteria(50).Build(),
		"pm2": capabilities.New("pm2").Support(capabilities.CriteriaIn).Build(),
	}}
	return New(cat, finder, DefaultConfig()), finder
}

func TestDefaultConfig(t *testing.T) {
	assert.Equal(t, Config{
		IndependentCardinality:   10,
		DefaultMaxInCriteriaSize: 1000,
		MaxFixpointPasses:        32,
		Validate:                 true,
	}, DefaultConfig())
}

func TestConfigFromFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--planner-independent-cardinality=25", "--planner-analysis-record"}))

	cfg := ConfigFromFlags()
	assert.EqualValues(t, 25, cfg.IndependentCardinality)
	assert.True(t, cfg.RecordAnalysis)
	assert.Equal(t, 32, cfg.MaxFixpointPasses)
}

func TestCapabilitiesAreMemoized(t *testing.T) {
	ctx, finder := newTestContext(t)
	for range 3 {
		caps, err := ctx.Capabilities("pm1")
		require.NoError(t, err)
		assert.Equal(t, "pm1", caps.Source())
	}
	assert.Equal(t, 1, finder.calls)

	_, err := ctx.Capabilities("pm9")
	require.Error(t, err)
	assert.True(t, federrors.IsMetadataError(err))
	assert.False(t, ctx.Supports("pm9", capabilities.CriteriaIn))
	assert.True(t, ctx.Supports("pm1", capabilities.CriteriaIn))

	assert.Equal(t, 50, ctx.MaxInCriteriaSize("pm1"))
	assert.Equal(t, 1000, ctx.MaxInCriteriaSize("pm2"))
}

func TestIndexTreeAndNames(t *testing.T) {
	ctx, _ := newTestContext(t)
	root := &plan.Grouping{
		Input: &plan.Source{Group: "anon_grpg1", Table: "pm1.g1", Columns: []string{"e1"}},
		Group: "grp",
	}
	require.NoError(t, ctx.IndexTree(root))

	assert.Equal(t, "anon_grpg2", ctx.NextID("anon_grpg"))
	assert.Equal(t, "anon_grpg3", ctx.NextID("anon_grpg"))
	assert.Equal(t, "dep_1", ctx.NextID("dep_"))

	assert.Equal(t, "pm1.g1", ctx.TableOf("anon_grpg1").Name)
	assert.Nil(t, ctx.TableOf("grp"))
	assert.Equal(t, "e2", ctx.ColumnOf(sqlast.NewColName("anon_grpg1", "e2")).Name)
	assert.Nil(t, ctx.ColumnOf(sqlast.NewColName("grp", "gcol0")))

	src, err := ctx.SourceOf("anon_grpg1")
	require.NoError(t, err)
	assert.Equal(t, "pm1", src)

	gs := ctx.GroupsOf(sqlast.NewColName("anon_grpg1", "e1"), sqlast.NewColName("grp", "agg0"))
	assert.Equal(t, 2, gs.NumberOfGroups())
	assert.True(t, ctx.GroupsOfExpr(sqlast.NewColName("grp", "agg0")).IsSolvedBy(gs))

	err = ctx.IndexTree(&plan.Source{Group: "x", Table: "pm1.nope", Columns: []string{"e1"}})
	assert.Equal(t, "metadata", federrors.Kind(err))
}
