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

package sqlast

import (
	"strconv"
	"strings"
)

// NewColName makes a new ColName.
func NewColName(qualifier, name string) *ColName {
	return &ColName{Qualifier: qualifier, Name: name}
}

// ParseColName splits a dotted column reference on its last dot.
func ParseColName(s string) *ColName {
	idx := strings.LastIndexByte(s, '.')
	if idx < 0 {
		return &ColName{Name: s}
	}
	return &ColName{Qualifier: s[:idx], Name: s[idx+1:]}
}

// NewIntLiteral builds a new IntVal.
func NewIntLiteral(v int64) *Literal {
	return &Literal{Type: IntVal, Val: strconv.FormatInt(v, 10)}
}

// NewFloatLiteral builds a new FloatVal.
func NewFloatLiteral(v string) *Literal {
	return &Literal{Type: FloatVal, Val: v}
}

// NewStrLiteral builds a new StrVal.
func NewStrLiteral(v string) *Literal {
	return &Literal{Type: StrVal, Val: v}
}

// NewBoolLiteral builds a new BoolVal.
func NewBoolLiteral(v bool) *Literal {
	return &Literal{Type: BoolVal, Val: strconv.FormatBool(v)}
}

// NewNullLiteral builds a new NullVal.
func NewNullLiteral() *Literal {
	return &Literal{Type: NullVal, Val: "null"}
}

// NewComparison builds a new ComparisonExpr.
func NewComparison(op ComparisonOp, left, right Expr) *ComparisonExpr {
	return &ComparisonExpr{Operator: op, Left: left, Right: right}
}

// SplitAndExpression breaks up the Expr into AND-separated conditions
// and appends them to filters. Outer parenthesis are removed. Precedence
// should be taken into account if expressions are recombined.
func SplitAndExpression(filters []Expr, node Expr) []Expr {
	if node == nil {
		return filters
	}
	if and, ok := node.(*AndExpr); ok {
		filters = SplitAndExpression(filters, and.Left)
		return SplitAndExpression(filters, and.Right)
	}
	return append(filters, node)
}

// SplitOrExpression breaks up the Expr into OR-separated conditions.
func SplitOrExpression(filters []Expr, node Expr) []Expr {
	if node == nil {
		return filters
	}
	if or, ok := node.(*OrExpr); ok {
		filters = SplitOrExpression(filters, or.Left)
		return SplitOrExpression(filters, or.Right)
	}
	return append(filters, node)
}

// AndExpressions ands together all the expressions, skipping nils and
// duplicates. It returns nil for an empty input.
func AndExpressions(exprs ...Expr) Expr {
	var result Expr
	var seen []Expr
outer:
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		for _, s := range seen {
			if EqualsExpr(s, expr) {
				continue outer
			}
		}
		seen = append(seen, expr)
		if result == nil {
			result = expr
			continue
		}
		result = &AndExpr{Left: result, Right: expr}
	}
	return result
}

// OrExpressions ors together all the expressions.
func OrExpressions(exprs ...Expr) Expr {
	var result Expr
	for _, expr := range exprs {
		if expr == nil {
			continue
		}
		if result == nil {
			result = expr
			continue
		}
		result = &OrExpr{Left: result, Right: expr}
	}
	return result
}

// EqualsExpr compares two expressions by their canonical text.
func EqualsExpr(a, b Expr) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return String(a) == String(b)
}

// ContainsExpr returns true if list holds an expression equal to e.
func ContainsExpr(list []Expr, e Expr) bool {
	for _, candidate := range list {
		if EqualsExpr(candidate, e) {
			return true
		}
	}
	return false
}

// ColumnsOf returns the distinct columns referenced by the expressions,
// in order of first appearance.
func ColumnsOf(exprs ...Expr) []*ColName {
	var result []*ColName
	seen := map[string]bool{}
	for _, expr := range exprs {
		_ = Walk(func(node SQLNode) (bool, error) {
			if col, ok := node.(*ColName); ok && !seen[col.Key()] {
				seen[col.Key()] = true
				result = append(result, col)
			}
			return true, nil
		}, expr)
	}
	return result
}

// ContainsAggregate returns true if the expression contains an aggregate
// function outside of a subquery.
func ContainsAggregate(e Expr) bool {
	found := false
	_ = Walk(func(node SQLNode) (bool, error) {
		if _, ok := node.(*AggrFunc); ok {
			found = true
			return false, nil
		}
		return true, nil
	}, e)
	return found
}

// ContainsSubquery returns true if the expression contains a subquery.
func ContainsSubquery(e Expr) bool {
	found := false
	_ = Walk(func(node SQLNode) (bool, error) {
		if _, ok := node.(*Subquery); ok {
			found = true
		}
		return !found, nil
	}, e)
	return found
}

// ContainsListArg returns true if the expression contains a list argument.
func ContainsListArg(e Expr) bool {
	found := false
	_ = Walk(func(node SQLNode) (bool, error) {
		if _, ok := node.(*ListArg); ok {
			found = true
		}
		return !found, nil
	}, e)
	return found
}

var nonDeterministicFuncs = map[string]bool{
	"rand":              true,
	"random":            true,
	"now":               true,
	"uuid":              true,
	"sysdate":           true,
	"current_timestamp": true,
	"curtime":           true,
	"curdate":           true,
}

// IsDeterministic returns false if the expression calls a function whose
// value may change between evaluations, or holds a subquery.
func IsDeterministic(e Expr) bool {
	deterministic := true
	_ = Walk(func(node SQLNode) (bool, error) {
		switch node := node.(type) {
		case *FuncExpr:
			if nonDeterministicFuncs[strings.ToLower(node.Name)] {
				deterministic = false
			}
		case *Subquery:
			deterministic = false
		}
		return deterministic, nil
	}, e)
	return deterministic
}

// IsAggregateName returns true for the names of aggregate functions.
func IsAggregateName(name string) bool {
	switch strings.ToLower(name) {
	case AggrCount, AggrSum, AggrAvg, AggrMin, AggrMax, AggrVarPop, AggrVarSamp, AggrStddevPop, AggrStddevSamp:
		return true
	}
	return false
}

// IsValue returns true if the expression is a literal, an argument or a
// list argument.
func IsValue(e Expr) bool {
	switch e.(type) {
	case *Literal, *Argument, *ListArg:
		return true
	}
	return false
}
