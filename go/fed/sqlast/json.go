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
	"fmt"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Expressions are decoded from JSON documents of the following forms:
//
//	{"col": "g1.e1"}
//	{"val": 1} {"val": "a"} {"val": true} {"val": null}
//	{"arg": "name"} {"list": "name"}
//	{"tuple": [...]}
//	{"op": "=", "args": [{...}, {...}]}
//	{"func": "concat", "args": [...]}
//	{"aggr": "count", "arg": {...}, "star": true, "distinct": true}

var comparisonOps = map[string]ComparisonOp{
	"=":        EqualOp,
	"!=":       NotEqualOp,
	"<>":       NotEqualOp,
	"<":        LessThanOp,
	"<=":       LessEqualOp,
	">":        GreaterThanOp,
	">=":       GreaterEqualOp,
	"in":       InOp,
	"not in":   NotInOp,
	"like":     LikeOp,
	"not like": NotLikeOp,
}

var binaryOps = map[string]BinaryOp{
	"+": PlusOp,
	"-": MinusOp,
	"*": MultOp,
	"/": DivOp,
}

// ParseExprJSON decodes an expression from its JSON document.
func ParseExprJSON(doc string) (Expr, error) {
	if !gjson.Valid(doc) {
		return nil, fmt.Errorf("invalid expression document: %s", doc)
	}
	return ExprFromJSON(gjson.Parse(doc))
}

// ExprFromJSON decodes an expression from an already parsed document.
func ExprFromJSON(r gjson.Result) (Expr, error) {
	if !r.IsObject() {
		return nil, fmt.Errorf("expression must be an object, got: %s", r.Raw)
	}

	if col := r.Get("col"); col.Exists() {
		return ParseColName(col.String()), nil
	}
	if val := r.Get("val"); val.Exists() {
		return literalFromJSON(val), nil
	}
	if arg := r.Get("arg"); arg.Exists() && !r.Get("aggr").Exists() {
		return &Argument{Name: arg.String()}, nil
	}
	if list := r.Get("list"); list.Exists() {
		return &ListArg{Name: list.String()}, nil
	}
	if tuple := r.Get("tuple"); tuple.Exists() {
		exprs, err := exprsFromJSON(tuple)
		if err != nil {
			return nil, err
		}
		return ValTuple(exprs), nil
	}
	if op := r.Get("op"); op.Exists() {
		args, err := exprsFromJSON(r.Get("args"))
		if err != nil {
			return nil, err
		}
		return operatorFromJSON(strings.ToLower(strings.TrimSpace(op.String())), args)
	}
	if fn := r.Get("func"); fn.Exists() {
		args, err := exprsFromJSON(r.Get("args"))
		if err != nil {
			return nil, err
		}
		return &FuncExpr{Name: strings.ToLower(fn.String()), Exprs: args}, nil
	}
	if aggr := r.Get("aggr"); aggr.Exists() {
		name := strings.ToLower(aggr.String())
		if !IsAggregateName(name) {
			return nil, fmt.Errorf("unknown aggregate function: %s", name)
		}
		a := &AggrFunc{Name: name, Star: r.Get("star").Bool(), Distinct: r.Get("distinct").Bool()}
		if a.Star && name != AggrCount {
			return nil, fmt.Errorf("only count accepts *: %s", r.Raw)
		}
		if !a.Star {
			arg, err := ExprFromJSON(r.Get("arg"))
			if err != nil {
				return nil, err
			}
			a.Arg = arg
		}
		return a, nil
	}
	return nil, fmt.Errorf("unknown expression: %s", r.Raw)
}

func exprsFromJSON(r gjson.Result) ([]Expr, error) {
	if !r.Exists() {
		return nil, nil
	}
	if !r.IsArray() {
		return nil, fmt.Errorf("expected an array of expressions, got: %s", r.Raw)
	}
	var exprs []Expr
	for _, item := range r.Array() {
		e, err := ExprFromJSON(item)
		if err != nil {
			return nil, err
		}
		exprs = append(exprs, e)
	}
	return exprs, nil
}

func literalFromJSON(val gjson.Result) *Literal {
	switch val.Type {
	case gjson.Null:
		return NewNullLiteral()
	case gjson.True:
		return NewBoolLiteral(true)
	case gjson.False:
		return NewBoolLiteral(false)
	case gjson.Number:
		if strings.ContainsAny(val.Raw, ".eE") {
			return NewFloatLiteral(val.Raw)
		}
		if _, err := strconv.ParseInt(val.Raw, 10, 64); err == nil {
			return &Literal{Type: IntVal, Val: val.Raw}
		}
		return NewFloatLiteral(val.Raw)
	default:
		return NewStrLiteral(val.String())
	}
}

func operatorFromJSON(op string, args []Expr) (Expr, error) {
	arity := func(n int) error {
		if len(args) != n {
			return fmt.Errorf("operator %s takes %d arguments, got %d", op, n, len(args))
		}
		return nil
	}

	if cmp, ok := comparisonOps[op]; ok {
		if err := arity(2); err != nil {
			return nil, err
		}
		return &ComparisonExpr{Operator: cmp, Left: args[0], Right: args[1]}, nil
	}
	if bin, ok := binaryOps[op]; ok {
		if err := arity(2); err != nil {
			return nil, err
		}
		return &BinaryExpr{Operator: bin, Left: args[0], Right: args[1]}, nil
	}

	switch op {
	case "and":
		if len(args) < 2 {
			return nil, fmt.Errorf("operator and takes at least 2 arguments, got %d", len(args))
		}
		return AndExpressions(args...), nil
	case "or":
		if len(args) < 2 {
			return nil, fmt.Errorf("operator or takes at least 2 arguments, got %d", len(args))
		}
		return OrExpressions(args...), nil
	case "not":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &NotExpr{Expr: args[0]}, nil
	case "is null":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &IsExpr{Left: args[0], Right: IsNullOp}, nil
	case "is not null":
		if err := arity(1); err != nil {
			return nil, err
		}
		return &IsExpr{Left: args[0], Right: IsNotNullOp}, nil
	}
	return nil, fmt.Errorf("unknown operator: %s", op)
}
