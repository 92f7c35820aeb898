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

// Package criteria classifies predicates and decides whether a data source
// can evaluate them.
package criteria

import (
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/fedplan/fedplan/go/fed/capabilities"
	"github.com/fedplan/fedplan/go/fed/metadata"
	"github.com/fedplan/fedplan/go/fed/planner/plancontext"
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// Kind is the top level operator of a predicate.
type Kind int

const (
	KindOther Kind = iota
	KindCompareEq
	KindCompareOrdered
	KindLike
	KindIn
	KindIsNull
	KindNot
	KindAnd
	KindOr
	KindFunction
	KindLiteral
)

var kindNames = map[Kind]string{
	KindOther:          "other",
	KindCompareEq:      "compare_eq",
	KindCompareOrdered: "compare_ordered",
	KindLike:           "like",
	KindIn:             "in",
	KindIsNull:         "is_null",
	KindNot:            "not",
	KindAnd:            "and",
	KindOr:             "or",
	KindFunction:       "function",
	KindLiteral:        "literal",
}

func (k Kind) String() string {
	return kindNames[k]
}

// Class describes a predicate.
type Class struct {
	Kind Kind
	// Deterministic predicates may be duplicated, e.g. into union branches.
	Deterministic bool
	HasSubquery   bool
	HasFunction   bool
	HasAggregate  bool
	// HasDependent is set for predicates holding a dependent join value list.
	HasDependent bool
}

// Classify returns the class of a predicate.
func Classify(e sqlast.Expr) Class {
	c := Class{
		Kind:          kindOf(e),
		Deterministic: sqlast.IsDeterministic(e),
		HasSubquery:   sqlast.ContainsSubquery(e),
		HasAggregate:  sqlast.ContainsAggregate(e),
		HasDependent:  sqlast.ContainsListArg(e),
	}
	_ = sqlast.Walk(func(node sqlast.SQLNode) (bool, error) {
		switch node.(type) {
		case *sqlast.FuncExpr, *sqlast.BinaryExpr:
			c.HasFunction = true
		}
		return !c.HasFunction, nil
	}, e)
	return c
}

func kindOf(e sqlast.Expr) Kind {
	switch e := e.(type) {
	case *sqlast.ComparisonExpr:
		switch e.Operator {
		case sqlast.EqualOp, sqlast.NotEqualOp:
			return KindCompareEq
		case sqlast.LessThanOp, sqlast.LessEqualOp, sqlast.GreaterThanOp, sqlast.GreaterEqualOp:
			return KindCompareOrdered
		case sqlast.LikeOp, sqlast.NotLikeOp:
			return KindLike
		case sqlast.InOp, sqlast.NotInOp:
			return KindIn
		}
	case *sqlast.IsExpr:
		return KindIsNull
	case *sqlast.NotExpr:
		return KindNot
	case *sqlast.AndExpr:
		return KindAnd
	case *sqlast.OrExpr:
		return KindOr
	case *sqlast.FuncExpr:
		return KindFunction
	case *sqlast.Literal:
		return KindLiteral
	}
	return KindOther
}

// Resolver maps a symbol to the catalog table and column it reads, or
// nils for symbols that are not base columns.
type Resolver func(*sqlast.ColName) (*metadata.Table, *metadata.Column)

// Checker decides what one source can evaluate.
type Checker struct {
	Caps    *capabilities.Capabilities
	MaxIn   int
	Resolve Resolver
}

// NewChecker returns a Checker for source using the session's capabilities
// and catalog.
func NewChecker(ctx *plancontext.PlanningContext, source string) (*Checker, error) {
	caps, err := ctx.Capabilities(source)
	if err != nil {
		return nil, err
	}
	return &Checker{
		Caps:  caps,
		MaxIn: ctx.MaxInCriteriaSize(source),
		Resolve: func(col *sqlast.ColName) (*metadata.Table, *metadata.Column) {
			t := ctx.TableOf(col.Qualifier)
			if t == nil {
				return nil, nil
			}
			return t, t.Column(col.Name)
		},
	}, nil
}

func (c *Checker) searchability(e sqlast.Expr) metadata.Searchability {
	col, ok := e.(*sqlast.ColName)
	if !ok || c.Resolve == nil {
		return metadata.Searchable
	}
	t, column := c.Resolve(col)
	if t == nil || column == nil {
		return metadata.Searchable
	}
	if s, ok := c.Caps.Searchability(t.Name, column.Name); ok {
		return s
	}
	return column.Searchability
}

func (c *Checker) need(capability capabilities.Capability) (bool, string) {
	if c.Caps.Supports(capability) {
		return true, ""
	}
	return false, fmt.Sprintf("%s not supported by %s", capability, c.Caps.Source())
}

func unsupported(format string, args ...any) (bool, string) {
	return false, fmt.Sprintf(format, args...)
}

// Supported returns true if the source can evaluate the predicate. When it
// cannot, the second value says why.
func (c *Checker) Supported(e sqlast.Expr) (bool, string) {
	switch e := e.(type) {
	case *sqlast.ColName, *sqlast.Literal, *sqlast.Argument, *sqlast.ListArg:
		return true, ""
	case sqlast.ValTuple:
		for _, item := range e {
			if ok, why := c.Supported(item); !ok {
				return false, why
			}
		}
		return true, ""
	case *sqlast.ComparisonExpr:
		if ok, why := c.comparisonSupported(e); !ok {
			return false, why
		}
		if ok, why := c.Supported(e.Left); !ok {
			return false, why
		}
		if _, isSubquery := e.Right.(*sqlast.Subquery); isSubquery {
			return true, ""
		}
		return c.Supported(e.Right)
	case *sqlast.AndExpr:
		if ok, why := c.Supported(e.Left); !ok {
			return false, why
		}
		return c.Supported(e.Right)
	case *sqlast.OrExpr:
		if ok, why := c.need(capabilities.CriteriaOr); !ok {
			return false, why
		}
		if ok, why := c.Supported(e.Left); !ok {
			return false, why
		}
		return c.Supported(e.Right)
	case *sqlast.NotExpr:
		if ok, why := c.need(capabilities.CriteriaNot); !ok {
			return false, why
		}
		return c.Supported(e.Expr)
	case *sqlast.IsExpr:
		if ok, why := c.need(capabilities.CriteriaIsNull); !ok {
			return false, why
		}
		if e.Right == sqlast.IsNotNullOp {
			if ok, why := c.need(capabilities.CriteriaNot); !ok {
				return false, why
			}
		}
		return c.Supported(e.Left)
	case *sqlast.BinaryExpr, *sqlast.FuncExpr:
		return c.SupportedExpr(e)
	case *sqlast.AggrFunc:
		return unsupported("aggregate %s in criteria", sqlast.String(e))
	case *sqlast.Subquery:
		return unsupported("scalar subquery")
	}
	return unsupported("unknown expression %T", e)
}

func (c *Checker) comparisonSupported(e *sqlast.ComparisonExpr) (bool, string) {
	left := c.searchability(e.Left)
	switch e.Operator {
	case sqlast.EqualOp, sqlast.NotEqualOp:
		if ok, why := c.need(capabilities.CriteriaCompareEq); !ok {
			return false, why
		}
		if left == metadata.Unsearchable || c.searchability(e.Right) == metadata.Unsearchable {
			return unsupported("%s is not searchable", sqlast.String(e))
		}
	case sqlast.LessThanOp, sqlast.LessEqualOp, sqlast.GreaterThanOp, sqlast.GreaterEqualOp:
		if ok, why := c.need(capabilities.CriteriaCompareOrdered); !ok {
			return false, why
		}
		for _, s := range []metadata.Searchability{left, c.searchability(e.Right)} {
			if s != metadata.Searchable && s != metadata.AllExceptLike {
				return unsupported("%s does not allow ordered comparisons", sqlast.String(e))
			}
		}
	case sqlast.LikeOp, sqlast.NotLikeOp:
		if ok, why := c.need(capabilities.CriteriaLike); !ok {
			return false, why
		}
		if e.Operator == sqlast.NotLikeOp {
			if ok, why := c.need(capabilities.CriteriaNot); !ok {
				return false, why
			}
		}
		if left != metadata.Searchable {
			return unsupported("%s does not allow like", sqlast.String(e.Left))
		}
	case sqlast.InOp, sqlast.NotInOp:
		if ok, why := c.need(capabilities.CriteriaIn); !ok {
			return false, why
		}
		if e.Operator == sqlast.NotInOp {
			if ok, why := c.need(capabilities.CriteriaNot); !ok {
				return false, why
			}
		}
		if left == metadata.Unsearchable {
			return unsupported("%s is not searchable", sqlast.String(e.Left))
		}
		switch right := e.Right.(type) {
		case *sqlast.Subquery:
			if ok, why := c.need(capabilities.CriteriaInSubquery); !ok {
				return false, why
			}
		case sqlast.ValTuple:
			if c.MaxIn > 0 && len(right) > c.MaxIn {
				return unsupported("in list of %d values exceeds %d", len(right), c.MaxIn)
			}
		}
	}
	return true, ""
}

// SupportedExpr returns true if the source can compute the expression in a
// select list or a grouping.
func (c *Checker) SupportedExpr(e sqlast.Expr) (bool, string) {
	switch e := e.(type) {
	case *sqlast.ColName, *sqlast.Literal, *sqlast.Argument:
		return true, ""
	case *sqlast.BinaryExpr:
		if !c.Caps.SupportsFunction(e.Operator.String()) {
			return unsupported("function %s not supported by %s", e.Operator.String(), c.Caps.Source())
		}
		if ok, why := c.SupportedExpr(e.Left); !ok {
			return false, why
		}
		return c.SupportedExpr(e.Right)
	case *sqlast.FuncExpr:
		if !c.Caps.SupportsFunction(e.Name) {
			return unsupported("function %s not supported by %s", e.Name, c.Caps.Source())
		}
		for _, arg := range e.Exprs {
			if ok, why := c.SupportedExpr(arg); !ok {
				return false, why
			}
		}
		return true, ""
	case *sqlast.AggrFunc:
		return c.AggregateSupported(e)
	}
	return c.Supported(e)
}

// AggregateSupported returns true if the source can compute the aggregate.
func (c *Checker) AggregateSupported(a *sqlast.AggrFunc) (bool, string) {
	var capability capabilities.Capability
	switch a.Name {
	case sqlast.AggrCount:
		capability = capabilities.AggregatesCount
		if a.Star {
			capability = capabilities.AggregatesCountStar
		}
	case sqlast.AggrSum:
		capability = capabilities.AggregatesSum
	case sqlast.AggrAvg:
		capability = capabilities.AggregatesAvg
	case sqlast.AggrMin:
		capability = capabilities.AggregatesMin
	case sqlast.AggrMax:
		capability = capabilities.AggregatesMax
	case sqlast.AggrVarPop, sqlast.AggrVarSamp, sqlast.AggrStddevPop, sqlast.AggrStddevSamp:
		capability = capabilities.AggregatesEnhancedNumeric
	default:
		return unsupported("unknown aggregate %s", a.Name)
	}
	if ok, why := c.need(capability); !ok {
		return false, why
	}
	if a.Distinct {
		if ok, why := c.need(capabilities.AggregatesDistinct); !ok {
			return false, why
		}
	}
	if a.Arg == nil {
		return true, ""
	}
	if _, isCol := a.Arg.(*sqlast.ColName); !isCol {
		if ok, why := c.need(capabilities.QuerySelectExpression); !ok {
			return false, why
		}
	}
	return c.SupportedExpr(a.Arg)
}

// AllSupported returns true if every predicate is supported, and the
// reason of the first one that is not.
func (c *Checker) AllSupported(exprs []sqlast.Expr) (bool, string) {
	for _, e := range exprs {
		if ok, why := c.Supported(e); !ok {
			return false, why
		}
	}
	return true, ""
}

// JoinCriteriaAllowed checks join predicates against a JOIN_CRITERIA_ALLOWED
// level. left and right are the symbols of the two sides.
func JoinCriteriaAllowed(ctx *plancontext.PlanningContext, level capabilities.JoinCriteria, conjuncts []sqlast.Expr, left, right mapset.Set[string]) (bool, string) {
	if level == capabilities.JoinCriteriaAny || len(conjuncts) == 0 {
		return true, ""
	}
	if level == capabilities.JoinCriteriaTheta {
		for _, e := range conjuncts {
			cmp, ok := e.(*sqlast.ComparisonExpr)
			if !ok || kindOf(cmp) != KindCompareEq && kindOf(cmp) != KindCompareOrdered {
				return unsupported("%s is not a comparison between the joined sides", sqlast.String(e))
			}
			if _, _, ok := equiPair(sqlast.NewComparison(sqlast.EqualOp, cmp.Left, cmp.Right), left, right); !ok {
				return unsupported("%s does not compare the joined sides", sqlast.String(e))
			}
		}
		return true, ""
	}

	lefts, rights, others := EquiPairs(conjuncts, left, right)
	if len(others) > 0 {
		return unsupported("%s is not an equi-join predicate", sqlast.String(others[0]))
	}
	if level == capabilities.JoinCriteriaKey && !KeyCoveredOn(ctx, lefts, left) && !KeyCoveredOn(ctx, rights, right) {
		return unsupported("join predicates do not cover a key of either side")
	}
	return true, ""
}

// KeyCovered returns true if the expressions are columns of a single base
// table group that cover one of its unique keys.
func KeyCovered(ctx *plancontext.PlanningContext, exprs []sqlast.Expr) bool {
	if len(exprs) == 0 {
		return false
	}
	group := ""
	names := mapset.NewThreadUnsafeSet[string]()
	for _, e := range exprs {
		col, ok := e.(*sqlast.ColName)
		if !ok || (group != "" && col.Qualifier != group) {
			return false
		}
		group = col.Qualifier
		names.Add(col.Name)
	}
	t := ctx.TableOf(group)
	return t != nil && t.IsKey(names)
}

// KeyCoveredOn is KeyCovered for the join side with the given symbols. A
// side reading more than the key's group may still repeat key values.
func KeyCoveredOn(ctx *plancontext.PlanningContext, exprs []sqlast.Expr, side mapset.Set[string]) bool {
	if !KeyCovered(ctx, exprs) {
		return false
	}
	prefix := exprs[0].(*sqlast.ColName).Qualifier + "."
	for _, sym := range side.ToSlice() {
		if !strings.HasPrefix(sym, prefix) {
			return false
		}
	}
	return true
}
