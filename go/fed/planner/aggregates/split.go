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

package aggregates

import (
	"github.com/fedplan/fedplan/go/fed/sqlast"
)

// decomposition computes one aggregate from partial aggregates evaluated
// further down. final combines the symbols of the partial results, in the
// order of partials.
// compound is set when the final value needs an expression on top of the
// partial results.
type decomposition struct {
	partials []*sqlast.AggrFunc
	final    func(args []sqlast.Expr) sqlast.Expr
	compound bool
}

func passThrough(args []sqlast.Expr) sqlast.Expr {
	return args[0]
}

func aggr(name string, arg sqlast.Expr, distinct bool) *sqlast.AggrFunc {
	return &sqlast.AggrFunc{Name: name, Arg: sqlast.CloneExpr(arg), Distinct: distinct}
}

func binary(op sqlast.BinaryOp, l, r sqlast.Expr) sqlast.Expr {
	return &sqlast.BinaryExpr{Operator: op, Left: l, Right: r}
}

// divide guards against empty groups: x / nullif(n, 0).
func divide(num, den sqlast.Expr) sqlast.Expr {
	return binary(sqlast.DivOp, num, &sqlast.FuncExpr{Name: "nullif", Exprs: []sqlast.Expr{den, sqlast.NewIntLiteral(0)}})
}

// decompose splits a. When reaggregate is set, the partial results are
// grouped a second time, so partial groups may hold the same value twice
// and DISTINCT aggregates other than MIN and MAX cannot be split.
func decompose(a *sqlast.AggrFunc, reaggregate bool) (decomposition, bool) {
	switch a.Name {
	case sqlast.AggrMin, sqlast.AggrMax:
		p := sqlast.CloneExpr(a).(*sqlast.AggrFunc)
		p.Distinct = false
		return decomposition{partials: []*sqlast.AggrFunc{p}, final: passThrough}, true
	}
	if a.Distinct && reaggregate {
		return decomposition{}, false
	}
	switch a.Name {
	case sqlast.AggrCount, sqlast.AggrSum:
		p := sqlast.CloneExpr(a).(*sqlast.AggrFunc)
		return decomposition{partials: []*sqlast.AggrFunc{p}, final: passThrough}, true
	case sqlast.AggrAvg:
		return decomposition{
			partials: []*sqlast.AggrFunc{aggr(sqlast.AggrSum, a.Arg, a.Distinct), aggr(sqlast.AggrCount, a.Arg, a.Distinct)},
			final: func(args []sqlast.Expr) sqlast.Expr {
				return divide(args[0], args[1])
			},
			compound: true,
		}, true
	case sqlast.AggrVarPop, sqlast.AggrVarSamp, sqlast.AggrStddevPop, sqlast.AggrStddevSamp:
		if a.Distinct {
			return decomposition{}, false
		}
		name := a.Name
		return decomposition{
			partials: []*sqlast.AggrFunc{
				aggr(sqlast.AggrSum, binary(sqlast.MultOp, sqlast.CloneExpr(a.Arg), sqlast.CloneExpr(a.Arg)), false),
				aggr(sqlast.AggrSum, a.Arg, false),
				aggr(sqlast.AggrCount, a.Arg, false),
			},
			final: func(args []sqlast.Expr) sqlast.Expr {
				return variance(name, args[0], args[1], args[2])
			},
			compound: true,
		}, true
	}
	return decomposition{}, false
}

// variance computes (sumsq - sum*sum/n) / n, or / (n-1) for the sample
// variants, taking the square root for the standard deviations.
func variance(name string, sumSq, sum, n sqlast.Expr) sqlast.Expr {
	spread := binary(sqlast.MinusOp, sumSq, divide(binary(sqlast.MultOp, sum, sqlast.CloneExpr(sum)), sqlast.CloneExpr(n)))
	den := sqlast.CloneExpr(n)
	if name == sqlast.AggrVarSamp || name == sqlast.AggrStddevSamp {
		den = binary(sqlast.MinusOp, den, sqlast.NewIntLiteral(1))
	}
	res := divide(spread, den)
	if name == sqlast.AggrStddevPop || name == sqlast.AggrStddevSamp {
		res = &sqlast.FuncExpr{Name: "sqrt", Exprs: []sqlast.Expr{res}}
	}
	return res
}

// reaggregate returns the aggregate that combines partial results of p
// held in col.
func reaggregate(p *sqlast.AggrFunc, col *sqlast.ColName) *sqlast.AggrFunc {
	name := p.Name
	if name == sqlast.AggrCount {
		name = sqlast.AggrSum
	}
	return &sqlast.AggrFunc{Name: name, Arg: col}
}

// decomposeAll splits every aggregate. A scalar grouping produces a row
// even without input, so a re-aggregated count must turn the sum of no
// partial counts back into zero.
func decomposeAll(aggrs []*sqlast.AggrFunc, reaggregate, scalar bool) ([]decomposition, bool) {
	res := make([]decomposition, 0, len(aggrs))
	for _, a := range aggrs {
		d, ok := decompose(a, reaggregate)
		if !ok {
			return nil, false
		}
		if reaggregate && scalar && a.Name == sqlast.AggrCount {
			d.final = zeroIfNull
			d.compound = true
		}
		res = append(res, d)
	}
	return res, true
}

func zeroIfNull(args []sqlast.Expr) sqlast.Expr {
	return &sqlast.FuncExpr{Name: "coalesce", Exprs: []sqlast.Expr{args[0], sqlast.NewIntLiteral(0)}}
}

func anyCompound(ds []decomposition) bool {
	for _, d := range ds {
		if d.compound {
			return true
		}
	}
	return false
}

func flatten(ds []decomposition) []*sqlast.AggrFunc {
	var res []*sqlast.AggrFunc
	for _, d := range ds {
		res = append(res, d.partials...)
	}
	return res
}

// duplicateInsensitive reports whether every aggregate keeps its value
// when rows are repeated.
func duplicateInsensitive(aggrs []*sqlast.AggrFunc) bool {
	for _, a := range aggrs {
		if a.Name != sqlast.AggrMin && a.Name != sqlast.AggrMax {
			return false
		}
	}
	return true
}
