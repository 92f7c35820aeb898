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

// Package sqlast is the small SQL syntax tree the planner uses for the
// expressions carried by plan nodes and for the commands it sends to data
// sources. It has no parser: trees are built by the planner or decoded from
// JSON documents.
package sqlast

type (
	// SQLNode defines the interface for all nodes generated by the planner.
	SQLNode interface {
		Format(buf *TrackedBuffer)
	}

	// Expr represents an expression.
	Expr interface {
		SQLNode
		iExpr()
	}

	// Statement represents a command sent to a data source.
	Statement interface {
		SQLNode
		iStatement()
	}

	// TableExpr represents an entry of a FROM clause.
	TableExpr interface {
		SQLNode
		iTableExpr()
	}
)

type (
	// ColName represents a column reference. Qualifier is the group (table
	// or view alias) the column belongs to and may be empty.
	ColName struct {
		Qualifier string
		Name      string
	}

	// ValType specifies the type of a Literal.
	ValType int

	// Literal represents a constant value.
	Literal struct {
		Type ValType
		Val  string
	}

	// Argument represents a bind variable, printed as :name.
	Argument struct {
		Name string
	}

	// ListArg represents a list bind variable, printed as ::name. Dependent
	// joins use it for the value list collected from the other side.
	ListArg struct {
		Name string
	}

	// ValTuple represents a tuple of values.
	ValTuple []Expr

	// ComparisonOp is the operator of a ComparisonExpr.
	ComparisonOp int

	// ComparisonExpr represents a two-value comparison expression.
	ComparisonExpr struct {
		Operator    ComparisonOp
		Left, Right Expr
	}

	// AndExpr represents an AND expression.
	AndExpr struct {
		Left, Right Expr
	}

	// OrExpr represents an OR expression.
	OrExpr struct {
		Left, Right Expr
	}

	// NotExpr represents a NOT expression.
	NotExpr struct {
		Expr Expr
	}

	// IsOp is the operator of an IsExpr.
	IsOp int

	// IsExpr represents an IS NULL or IS NOT NULL expression.
	IsExpr struct {
		Left  Expr
		Right IsOp
	}

	// BinaryOp is the operator of a BinaryExpr.
	BinaryOp int

	// BinaryExpr represents an arithmetic expression.
	BinaryExpr struct {
		Operator    BinaryOp
		Left, Right Expr
	}

	// FuncExpr represents a scalar function call.
	FuncExpr struct {
		Name  string
		Exprs []Expr
	}

	// AggrFunc represents an aggregate function call. Star is only valid
	// for count.
	AggrFunc struct {
		Name     string
		Arg      Expr
		Star     bool
		Distinct bool
	}

	// Subquery represents a subquery used as an expression.
	Subquery struct {
		Select Statement
	}
)

// Constants for Literal.Type
const (
	IntVal ValType = iota
	FloatVal
	StrVal
	BoolVal
	NullVal
)

// Comparison operators
const (
	EqualOp ComparisonOp = iota
	NotEqualOp
	LessThanOp
	LessEqualOp
	GreaterThanOp
	GreaterEqualOp
	InOp
	NotInOp
	LikeOp
	NotLikeOp
)

// IS operators
const (
	IsNullOp IsOp = iota
	IsNotNullOp
)

// Arithmetic operators
const (
	PlusOp BinaryOp = iota
	MinusOp
	MultOp
	DivOp
)

// Aggregate function names
const (
	AggrCount      = "count"
	AggrSum        = "sum"
	AggrAvg        = "avg"
	AggrMin        = "min"
	AggrMax        = "max"
	AggrVarPop     = "var_pop"
	AggrVarSamp    = "var_samp"
	AggrStddevPop  = "stddev_pop"
	AggrStddevSamp = "stddev_samp"
)

type (
	// AliasedExpr is an entry of a select list.
	AliasedExpr struct {
		Expr Expr
		As   string
	}

	// Select represents a SELECT command.
	Select struct {
		Distinct    bool
		SelectExprs []*AliasedExpr
		From        []TableExpr
		Where       Expr
		GroupBy     []Expr
		Having      Expr
		OrderBy     []*Order
		Limit       *Limit
	}

	// Union represents a UNION of two commands.
	Union struct {
		Left, Right Statement
		Distinct    bool
		OrderBy     []*Order
		Limit       *Limit
	}

	// TableRef is a base table in a FROM clause.
	TableRef struct {
		Name string
		As   string
	}

	// DerivedTable is an inline view in a FROM clause.
	DerivedTable struct {
		Select Statement
		As     string
	}

	// JoinType is the type of a JoinTableExpr.
	JoinType int

	// JoinTableExpr represents a join in a FROM clause.
	JoinTableExpr struct {
		Left, Right TableExpr
		Join        JoinType
		On          Expr
	}

	// Order represents an ordering expression.
	Order struct {
		Expr Expr
		Desc bool
	}

	// Limit represents a LIMIT clause. Offset may be nil.
	Limit struct {
		Offset, Rowcount Expr
	}
)

// Join types
const (
	NormalJoin JoinType = iota
	LeftJoin
	FullOuterJoin
	CrossJoin
)

func (*ColName) iExpr()        {}
func (*Literal) iExpr()        {}
func (*Argument) iExpr()       {}
func (*ListArg) iExpr()        {}
func (ValTuple) iExpr()        {}
func (*ComparisonExpr) iExpr() {}
func (*AndExpr) iExpr()        {}
func (*OrExpr) iExpr()         {}
func (*NotExpr) iExpr()        {}
func (*IsExpr) iExpr()         {}
func (*BinaryExpr) iExpr()     {}
func (*FuncExpr) iExpr()       {}
func (*AggrFunc) iExpr()       {}
func (*Subquery) iExpr()       {}

func (*Select) iStatement() {}
func (*Union) iStatement()  {}

func (*TableRef) iTableExpr()      {}
func (*DerivedTable) iTableExpr()  {}
func (*JoinTableExpr) iTableExpr() {}

// Key returns the column reference as a single string, used to look
// columns up in maps.
func (node *ColName) Key() string {
	if node.Qualifier == "" {
		return node.Name
	}
	return node.Qualifier + "." + node.Name
}

// Equal returns true if both column references name the same column.
func (node *ColName) Equal(other *ColName) bool {
	if node == nil || other == nil {
		return node == other
	}
	return node.Qualifier == other.Qualifier && node.Name == other.Name
}
