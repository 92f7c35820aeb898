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

// Package plancontext holds the state of one planning session: the
// catalog and capability finder it reads from, its configuration, the
// analysis record, and the name and group registries rules share.
package plancontext

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/analysis"
	"github.com/fedplan/fedplan/go/fed/planner/plan"
	"github.com/fedplan/fedplan/go/fed/planner/semantics"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// PlanningContext is created per query and must not be shared between
// goroutines. The catalog and finder it points to are only read.
type PlanningContext struct {
	Catalog   metadata.Catalog
	Finder    capabilities.Finder
	Config    Config
	Record    *analysis.Record
	SessionID string

	caps   map[string]*capabilities.Capabilities
	ids    map[string]int
	used   map[string]bool
	groups map[string]int
	tables map[string]*metadata.Table
}

// New returns a fresh planning context.
func New(catalog metadata.Catalog, finder capabilities.Finder, cfg Config) *PlanningContext {
	return &PlanningContext{
		Catalog:   catalog,
		Finder:    finder,
		Config:    cfg,
		Record:    analysis.New(cfg.RecordAnalysis),
		SessionID: uuid.NewString(),
		caps:      map[string]*capabilities.Capabilities{},
		ids:       map[string]int{},
		used:      map[string]bool{},
		groups:    map[string]int{},
		tables:    map[string]*metadata.Table{},
	}
}

// Capabilities returns the capabilities of the source, asking the finder
// only the first time.
func (ctx *PlanningContext) Capabilities(source string) (*capabilities.Capabilities, error) {
	if caps, ok := ctx.caps[source]; ok {
		return caps, nil
	}
	caps, err := ctx.Finder.FindCapabilities(source)
	if err != nil {
		return nil, err
	}
	ctx.caps[source] = caps
	return caps, nil
}

// Supports returns false if the source does not declare the capability or
// has no capabilities at all.
func (ctx *PlanningContext) Supports(source string, capability capabilities.Capability) bool {
	caps, err := ctx.Capabilities(source)
	return err == nil && caps.Supports(capability)
}

// MaxInCriteriaSize returns the IN list size limit of the source.
func (ctx *PlanningContext) MaxInCriteriaSize(source string) int {
	caps, err := ctx.Capabilities(source)
	if err != nil {
		return 0
	}
	if n := caps.MaxInCriteriaSize(); n > 0 {
		return n
	}
	return ctx.Config.DefaultMaxInCriteriaSize
}

// NextID returns a name starting with prefix that is not used yet in this
// session.
func (ctx *PlanningContext) NextID(prefix string) string {
	for {
		ctx.ids[prefix]++
		name := fmt.Sprintf("%s%d", prefix, ctx.ids[prefix])
		if !ctx.used[name] {
			ctx.used[name] = true
			return name
		}
	}
}

// IndexTree registers the groups of the tree: group names become reserved
// and base table groups get resolved against the catalog.
func (ctx *PlanningContext) IndexTree(root plan.Node) error {
	var err error
	plan.VisitTopDown(root, func(node plan.Node) bool {
		if err != nil {
			return false
		}
		switch node := node.(type) {
		case *plan.Source:
			ctx.used[node.Group] = true
			ctx.GroupID(node.Group)
			if node.Table != "" {
				var t *metadata.Table
				t, err = ctx.Catalog.Table(node.Table)
				if err != nil {
					return false
				}
				ctx.tables[node.Group] = t
			}
		case *plan.Grouping:
			ctx.used[node.Group] = true
			ctx.GroupID(node.Group)
		}
		return true
	})
	return err
}

// RegisterTable records that group reads the table.
func (ctx *PlanningContext) RegisterTable(group string, t *metadata.Table) {
	ctx.used[group] = true
	ctx.GroupID(group)
	ctx.tables[group] = t
}

// TableOf returns the table read by the group, or nil if the group is not
// a base table.
func (ctx *PlanningContext) TableOf(group string) *metadata.Table {
	return ctx.tables[group]
}

// ColumnOf returns the catalog column a symbol refers to, or nil.
func (ctx *PlanningContext) ColumnOf(col *sqlast.ColName) *metadata.Column {
	t := ctx.TableOf(col.Qualifier)
	if t == nil {
		return nil
	}
	return t.Column(col.Name)
}

// SourceOf returns the source of the table read by group.
func (ctx *PlanningContext) SourceOf(group string) (string, error) {
	t := ctx.TableOf(group)
	if t == nil {
		return "", federrors.Bug("group %s is not a base table", group)
	}
	return t.Source, nil
}

// GroupID returns the bit of the group in GroupSets, assigning one on
// first use.
func (ctx *PlanningContext) GroupID(group string) int {
	if id, ok := ctx.groups[group]; ok {
		return id
	}
	id := len(ctx.groups)
	ctx.groups[group] = id
	return id
}

// GroupsOf returns the set of groups referenced by the symbols.
func (ctx *PlanningContext) GroupsOf(cols ...*sqlast.ColName) semantics.GroupSet {
	gs := semantics.EmptyGroupSet()
	for _, c := range cols {
		gs = gs.Merge(semantics.SingleGroupSet(ctx.GroupID(c.Qualifier)))
	}
	return gs
}

// GroupsOfExpr returns the set of groups an expression references.
func (ctx *PlanningContext) GroupsOfExpr(e sqlast.Expr) semantics.GroupSet {
	return ctx.GroupsOf(sqlast.ColumnsOf(e)...)
}

// GroupsOfNode returns the set of groups a node's outputs belong to.
func (ctx *PlanningContext) GroupsOfNode(node plan.Node) semantics.GroupSet {
	return ctx.GroupsOf(node.Outputs()...)
}
