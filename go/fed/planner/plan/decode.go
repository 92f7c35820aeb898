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

package plan

import (
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"sigs.k8s.io/yaml"

	"github.com/fedplan/fedplan/go/fed/federrors"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Decode builds a resolved tree from its YAML (or JSON) document. Every node
// is an object with a single key naming its kind:
//
//	source:    {table: pm1.g1, as: g1, columns: [e1], hints: [makedep]}
//	view:      {as: v, columns: [a], hints: [no_unnest], definition: <node>}
//	join:      {type: inner, left: <node>, right: <node>, criteria: [<expr>], optional: true}
//	select:    {input: <node>, where: [<expr>], having: false}
//	project:   {input: <node>, exprs: [<expr>], columns: [name]}
//	grouping:  {input: <node>, group: grp, group_by: [<expr>], aggregates: [<expr>]}
//	sort:      {input: <node>, items: [{expr: <expr>, desc: true}]}
//	distinct:  {input: <node>}
//	limit:     {input: <node>, offset: 0, count: 10}
//	union:     {branches: [<node>], distinct: false}
//	empty:     {columns: [g1.e1]}
//	execution: {name: sub, columns: [g1.e1]}
//
// Source columns default to the columns of the catalog table.
func Decode(data []byte, catalog metadata.Catalog) (Node, error) {
	doc, err := yaml.YAMLToJSON(data)
	if err != nil {
		return nil, federrors.FED10005(err.Error())
	}
	if !gjson.ValidBytes(doc) {
		return nil, federrors.FED10005("not a valid document")
	}
	d := &decoder{catalog: catalog}
	return d.node(gjson.ParseBytes(doc))
}

type decoder struct {
	catalog metadata.Catalog
	groups  int
	exprs   int
}

var nodeKinds = []string{"source", "view", "join", "select", "project", "grouping", "sort", "distinct", "limit", "union", "empty", "execution"}

func (d *decoder) node(r gjson.Result) (Node, error) {
	if !r.IsObject() {
		return nil, federrors.FED10005(fmt.Sprintf("expected a node, got: %s", r.Raw))
	}
	var kind string
	r.ForEach(func(key, _ gjson.Result) bool {
		kind = key.String()
		return false
	})
	body := r.Get(kind)
	if len(r.Map()) != 1 {
		return nil, federrors.FED10005(fmt.Sprintf("a node must have exactly one of %s, got: %s", strings.Join(nodeKinds, ", "), r.Raw))
	}

	switch kind {
	case "source":
		return d.source(body)
	case "view":
		return d.view(body)
	case "join":
		return d.join(body)
	case "select":
		return d.selectNode(body)
	case "project":
		return d.project(body)
	case "grouping":
		return d.grouping(body)
	case "sort":
		return d.sort(body)
	case "distinct":
		input, err := d.input(body)
		if err != nil {
			return nil, err
		}
		return &DupRemove{Input: input}, nil
	case "limit":
		return d.limit(body)
	case "union":
		return d.union(body)
	case "empty":
		return &Null{Cols: symbols(body.Get("columns"))}, nil
	case "execution":
		return &PlanExecution{Name: body.Get("name").String(), Cols: symbols(body.Get("columns"))}, nil
	}
	return nil, federrors.FED10005(fmt.Sprintf("unknown node kind '%s'", kind))
}

func (d *decoder) input(body gjson.Result) (Node, error) {
	in := body.Get("input")
	if !in.Exists() {
		return nil, federrors.FED10005(fmt.Sprintf("missing input: %s", body.Raw))
	}
	return d.node(in)
}

func (d *decoder) source(body gjson.Result) (Node, error) {
	table := body.Get("table").String()
	if table == "" {
		return nil, federrors.FED10005("source without table")
	}
	t, err := d.catalog.Table(table)
	if err != nil {
		return nil, err
	}
	group := body.Get("as").String()
	if group == "" {
		group = table
	}
	hints, err := decodeHints(body.Get("hints"))
	if err != nil {
		return nil, err
	}
	src := &Source{Group: group, Table: t.Name, Hints: hints}
	if cols := body.Get("columns"); cols.Exists() {
		for _, c := range cols.Array() {
			if t.Column(c.String()) == nil {
				return nil, federrors.MetadataError("table %s has no column %s", t.Name, c.String())
			}
			src.Columns = append(src.Columns, c.String())
		}
	} else {
		src.Columns = t.ColumnNames()
	}
	return src, nil
}

func (d *decoder) view(body gjson.Result) (Node, error) {
	group := body.Get("as").String()
	if group == "" {
		return nil, federrors.FED10005("view without name")
	}
	def, err := d.node(body.Get("definition"))
	if err != nil {
		return nil, err
	}
	hints, err := decodeHints(body.Get("hints"))
	if err != nil {
		return nil, err
	}
	src := &Source{Group: group, View: def, Hints: hints}
	if cols := body.Get("columns"); cols.Exists() {
		for _, c := range cols.Array() {
			src.Columns = append(src.Columns, c.String())
		}
		if len(src.Columns) != len(def.Outputs()) {
			return nil, federrors.FED10005(fmt.Sprintf("view %s names %d columns but its definition produces %d", group, len(src.Columns), len(def.Outputs())))
		}
		return src, nil
	}
	seen := map[string]int{}
	for _, c := range def.Outputs() {
		name := c.Name
		if n := seen[c.Name]; n > 0 {
			name = fmt.Sprintf("%s_%d", c.Name, n)
		}
		seen[c.Name]++
		src.Columns = append(src.Columns, name)
	}
	return src, nil
}

func decodeHints(r gjson.Result) (Hints, error) {
	var h Hints
	for _, hint := range r.Array() {
		switch strings.ToLower(hint.String()) {
		case "makedep":
			h.MakeDep = true
		case "makenotdep":
			h.MakeNotDep = true
		case "optional":
			h.Optional = true
		case "no_unnest":
			h.NoUnnest = true
		default:
			return h, federrors.FED10005(fmt.Sprintf("unknown hint '%s'", hint.String()))
		}
	}
	return h, nil
}

var joinTypes = map[string]JoinType{
	"inner": InnerJoin,
	"cross": CrossJoin,
	"left":  LeftOuterJoin,
	"right": RightOuterJoin,
	"full":  FullOuterJoin,
}

func (d *decoder) join(body gjson.Result) (Node, error) {
	typ := InnerJoin
	if t := body.Get("type"); t.Exists() {
		var ok bool
		typ, ok = joinTypes[strings.ToLower(t.String())]
		if !ok {
			return nil, federrors.FED10005(fmt.Sprintf("unknown join type '%s'", t.String()))
		}
	}
	left, err := d.node(body.Get("left"))
	if err != nil {
		return nil, err
	}
	right, err := d.node(body.Get("right"))
	if err != nil {
		return nil, err
	}
	criteria, err := conjuncts(body.Get("criteria"))
	if err != nil {
		return nil, err
	}
	if typ == CrossJoin && len(criteria) > 0 {
		typ = InnerJoin
	}
	return &Join{
		Left:     left,
		Right:    right,
		Type:     typ,
		Criteria: criteria,
		Optional: body.Get("optional").Bool(),
	}, nil
}

func (d *decoder) selectNode(body gjson.Result) (Node, error) {
	input, err := d.input(body)
	if err != nil {
		return nil, err
	}
	where, err := conjuncts(body.Get("where"))
	if err != nil {
		return nil, err
	}
	return &Select{Input: input, Conjuncts: where, Having: body.Get("having").Bool()}, nil
}

func (d *decoder) project(body gjson.Result) (Node, error) {
	input, err := d.input(body)
	if err != nil {
		return nil, err
	}
	exprs, err := expressions(body.Get("exprs"))
	if err != nil {
		return nil, err
	}
	p := &Project{Input: input, Exprs: exprs}
	names := body.Get("columns").Array()
	if len(names) > 0 && len(names) != len(exprs) {
		return nil, federrors.FED10005(fmt.Sprintf("project names %d columns for %d expressions", len(names), len(exprs)))
	}
	for i, e := range exprs {
		switch {
		case len(names) > 0:
			p.Columns = append(p.Columns, sqlast.ParseColName(names[i].String()))
		case isColumn(e):
			col := e.(*sqlast.ColName)
			p.Columns = append(p.Columns, sqlast.NewColName(col.Qualifier, col.Name))
		default:
			d.exprs++
			p.Columns = append(p.Columns, sqlast.NewColName("", fmt.Sprintf("expr%d", d.exprs)))
		}
	}
	return p, nil
}

func isColumn(e sqlast.Expr) bool {
	_, ok := e.(*sqlast.ColName)
	return ok
}

func (d *decoder) grouping(body gjson.Result) (Node, error) {
	input, err := d.input(body)
	if err != nil {
		return nil, err
	}
	groupBy, err := expressions(body.Get("group_by"))
	if err != nil {
		return nil, err
	}
	aggrExprs, err := expressions(body.Get("aggregates"))
	if err != nil {
		return nil, err
	}
	g := &Grouping{Input: input, Group: body.Get("group").String(), GroupBy: groupBy}
	if g.Group == "" {
		d.groups++
		g.Group = fmt.Sprintf("grp%d", d.groups)
	}
	for _, e := range aggrExprs {
		aggr, ok := e.(*sqlast.AggrFunc)
		if !ok {
			return nil, federrors.FED10005(fmt.Sprintf("not an aggregate: %s", sqlast.String(e)))
		}
		g.Aggregates = append(g.Aggregates, aggr)
	}
	return g, nil
}

func (d *decoder) sort(body gjson.Result) (Node, error) {
	input, err := d.input(body)
	if err != nil {
		return nil, err
	}
	s := &Sort{Input: input}
	for _, item := range body.Get("items").Array() {
		e, err := sqlast.ExprFromJSON(item.Get("expr"))
		if err != nil {
			return nil, federrors.FED10005(err.Error())
		}
		s.Items = append(s.Items, &sqlast.Order{Expr: e, Desc: item.Get("desc").Bool()})
	}
	return s, nil
}

func (d *decoder) limit(body gjson.Result) (Node, error) {
	input, err := d.input(body)
	if err != nil {
		return nil, err
	}
	l := &Limit{Input: input, Offset: body.Get("offset").Int(), Count: -1}
	if c := body.Get("count"); c.Exists() {
		l.Count = c.Int()
	}
	if l.Offset < 0 {
		return nil, federrors.FED10005("negative offset")
	}
	return l, nil
}

func (d *decoder) union(body gjson.Result) (Node, error) {
	u := &UnionAll{}
	for _, b := range body.Get("branches").Array() {
		branch, err := d.node(b)
		if err != nil {
			return nil, err
		}
		u.Branches = append(u.Branches, branch)
	}
	if len(u.Branches) < 2 {
		return nil, federrors.FED10005("a union needs at least two branches")
	}
	if body.Get("distinct").Bool() {
		return &DupRemove{Input: u}, nil
	}
	return u, nil
}

func expressions(r gjson.Result) ([]sqlast.Expr, error) {
	var exprs []sqlast.Expr
	for _, item := range r.Array() {
		e, err := sqlast.ExprFromJSON(item)
		if err != nil {
			return nil, federrors.FED10005(err.Error())
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

// conjuncts accepts a single expression or a list and splits every entry
// on AND.
func conjuncts(r gjson.Result) ([]sqlast.Expr, error) {
	if !r.Exists() {
		return nil, nil
	}
	var items []gjson.Result
	if r.IsArray() {
		items = r.Array()
	} else {
		items = []gjson.Result{r}
	}
	var res []sqlast.Expr
	for _, item := range items {
		e, err := sqlast.ExprFromJSON(item)
		if err != nil {
			return nil, federrors.FED10005(err.Error())
		}
		res = sqlast.SplitAndExpression(res, e)
	}
	return res, nil
}

func symbols(r gjson.Result) []*sqlast.ColName {
	var cols []*sqlast.ColName
	for _, c := range r.Array() {
		cols = append(cols, sqlast.ParseColName(c.String()))
	}
	return cols
}
