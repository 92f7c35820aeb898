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
	"reflect"
	"strings"
)

// TrackedBuffer is used to rebuild a command from the AST.
type TrackedBuffer struct {
	*strings.Builder
}

// NewTrackedBuffer creates a new TrackedBuffer.
func NewTrackedBuffer() *TrackedBuffer {
	return &TrackedBuffer{
		Builder: new(strings.Builder),
	}
}

// Myprintf mimics fmt.Fprintf(buf, ...), but limited to Node(%v),
// Node.Value(%s) and string(%s). It also allows a %d for int and int64.
// Nil nodes are skipped.
func (buf *TrackedBuffer) Myprintf(format string, values ...any) {
	end := len(format)
	fieldnum := 0
	for i := 0; i < end; {
		lasti := i
		for i < end && format[i] != '%' {
			i++
		}
		if i > lasti {
			buf.WriteString(format[lasti:i])
		}
		if i >= end {
			break
		}
		i++ // '%'
		switch format[i] {
		case 'v':
			switch v := values[fieldnum].(type) {
			case SQLNode:
				if !isNilNode(v) {
					v.Format(buf)
				}
			default:
				fmt.Fprintf(buf, "%v", v)
			}
		case 's':
			switch v := values[fieldnum].(type) {
			case string:
				buf.WriteString(v)
			default:
				fmt.Fprintf(buf, "%s", v)
			}
		case 'd':
			fmt.Fprintf(buf, "%d", values[fieldnum])
		default:
			panic("unexpected")
		}
		fieldnum++
		i++
	}
}

func isNilNode(node SQLNode) bool {
	if node == nil {
		return true
	}
	v := reflect.ValueOf(node)
	return v.Kind() == reflect.Pointer && v.IsNil()
}

// String returns a string representation of an SQLNode.
func String(node SQLNode) string {
	if isNilNode(node) {
		return "<nil>"
	}

	buf := NewTrackedBuffer()
	node.Format(buf)
	return buf.String()
}

// precedenceFor returns the binding strength of an expression. Higher
// values bind tighter.
func precedenceFor(in Expr) int {
	switch node := in.(type) {
	case *OrExpr:
		return 1
	case *AndExpr:
		return 2
	case *NotExpr:
		return 3
	case *ComparisonExpr, *IsExpr:
		return 4
	case *BinaryExpr:
		if node.Operator == PlusOp || node.Operator == MinusOp {
			return 5
		}
		return 6
	}
	return 7
}

// printOperand prints child, wrapping it in parenthesis when it binds
// looser than parent.
func (buf *TrackedBuffer) printOperand(parent, child Expr, right bool) {
	pp, cp := precedenceFor(parent), precedenceFor(child)
	needParens := cp < pp
	if right && cp == pp {
		switch p := parent.(type) {
		case *AndExpr, *OrExpr:
		case *BinaryExpr:
			c := child.(*BinaryExpr)
			needParens = !(c.Operator == p.Operator && (p.Operator == PlusOp || p.Operator == MultOp))
		default:
			needParens = true
		}
	}
	if needParens {
		buf.Myprintf("(%v)", child)
		return
	}
	buf.Myprintf("%v", child)
}

func (op ComparisonOp) String() string {
	switch op {
	case EqualOp:
		return "="
	case NotEqualOp:
		return "!="
	case LessThanOp:
		return "<"
	case LessEqualOp:
		return "<="
	case GreaterThanOp:
		return ">"
	case GreaterEqualOp:
		return ">="
	case InOp:
		return "in"
	case NotInOp:
		return "not in"
	case LikeOp:
		return "like"
	case NotLikeOp:
		return "not like"
	}
	return fmt.Sprintf("ComparisonOp(%d)", int(op))
}

func (op BinaryOp) String() string {
	switch op {
	case PlusOp:
		return "+"
	case MinusOp:
		return "-"
	case MultOp:
		return "*"
	case DivOp:
		return "/"
	}
	return fmt.Sprintf("BinaryOp(%d)", int(op))
}

func (op IsOp) String() string {
	if op == IsNotNullOp {
		return "is not null"
	}
	return "is null"
}

func (t JoinType) String() string {
	switch t {
	case LeftJoin:
		return "left join"
	case FullOuterJoin:
		return "full outer join"
	case CrossJoin:
		return "cross join"
	}
	return "join"
}

// Format formats the node.
func (node *ColName) Format(buf *TrackedBuffer) {
	if node.Qualifier != "" {
		buf.Myprintf("%s.", node.Qualifier)
	}
	buf.WriteString(node.Name)
}

// Format formats the node.
func (node *Literal) Format(buf *TrackedBuffer) {
	switch node.Type {
	case StrVal:
		buf.WriteByte('\'')
		buf.WriteString(strings.ReplaceAll(node.Val, "'", "''"))
		buf.WriteByte('\'')
	case NullVal:
		buf.WriteString("null")
	default:
		buf.WriteString(node.Val)
	}
}

// Format formats the node.
func (node *Argument) Format(buf *TrackedBuffer) {
	buf.Myprintf(":%s", node.Name)
}

// Format formats the node.
func (node *ListArg) Format(buf *TrackedBuffer) {
	buf.Myprintf("::%s", node.Name)
}

// Format formats the node.
func (node ValTuple) Format(buf *TrackedBuffer) {
	buf.WriteByte('(')
	for i, expr := range node {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", expr)
	}
	buf.WriteByte(')')
}

// Format formats the node.
func (node *ComparisonExpr) Format(buf *TrackedBuffer) {
	buf.printOperand(node, node.Left, false)
	buf.Myprintf(" %s ", node.Operator.String())
	buf.printOperand(node, node.Right, true)
}

// Format formats the node.
func (node *AndExpr) Format(buf *TrackedBuffer) {
	buf.printOperand(node, node.Left, false)
	buf.WriteString(" and ")
	buf.printOperand(node, node.Right, true)
}

// Format formats the node.
func (node *OrExpr) Format(buf *TrackedBuffer) {
	buf.printOperand(node, node.Left, false)
	buf.WriteString(" or ")
	buf.printOperand(node, node.Right, true)
}

// Format formats the node.
func (node *NotExpr) Format(buf *TrackedBuffer) {
	buf.WriteString("not ")
	buf.printOperand(node, node.Expr, true)
}

// Format formats the node.
func (node *IsExpr) Format(buf *TrackedBuffer) {
	buf.printOperand(node, node.Left, false)
	buf.Myprintf(" %s", node.Right.String())
}

// Format formats the node.
func (node *BinaryExpr) Format(buf *TrackedBuffer) {
	buf.printOperand(node, node.Left, false)
	buf.Myprintf(" %s ", node.Operator.String())
	buf.printOperand(node, node.Right, true)
}

// Format formats the node.
func (node *FuncExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("%s(", node.Name)
	for i, expr := range node.Exprs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", expr)
	}
	buf.WriteByte(')')
}

// Format formats the node.
func (node *AggrFunc) Format(buf *TrackedBuffer) {
	buf.Myprintf("%s(", node.Name)
	if node.Distinct {
		buf.WriteString("distinct ")
	}
	if node.Star {
		buf.WriteByte('*')
	} else {
		buf.Myprintf("%v", node.Arg)
	}
	buf.WriteByte(')')
}

// Format formats the node.
func (node *Subquery) Format(buf *TrackedBuffer) {
	buf.Myprintf("(%v)", node.Select)
}

// Format formats the node.
func (node *AliasedExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("%v", node.Expr)
	if node.As != "" {
		buf.Myprintf(" as %s", node.As)
	}
}

// Format formats the node.
func (node *Select) Format(buf *TrackedBuffer) {
	buf.WriteString("select ")
	if node.Distinct {
		buf.WriteString("distinct ")
	}
	for i, expr := range node.SelectExprs {
		if i > 0 {
			buf.WriteString(", ")
		}
		buf.Myprintf("%v", expr)
	}
	if len(node.From) > 0 {
		buf.WriteString(" from ")
		for i, from := range node.From {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.Myprintf("%v", from)
		}
	}
	if node.Where != nil {
		buf.Myprintf(" where %v", node.Where)
	}
	if len(node.GroupBy) > 0 {
		buf.WriteString(" group by ")
		for i, expr := range node.GroupBy {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.Myprintf("%v", expr)
		}
	}
	if node.Having != nil {
		buf.Myprintf(" having %v", node.Having)
	}
	formatOrderAndLimit(buf, node.OrderBy, node.Limit)
}

func formatOrderAndLimit(buf *TrackedBuffer, orderBy []*Order, limit *Limit) {
	if len(orderBy) > 0 {
		buf.WriteString(" order by ")
		for i, order := range orderBy {
			if i > 0 {
				buf.WriteString(", ")
			}
			buf.Myprintf("%v", order)
		}
	}
	if limit != nil {
		buf.Myprintf("%v", limit)
	}
}

// Format formats the node.
func (node *Union) Format(buf *TrackedBuffer) {
	buf.Myprintf("%v", node.Left)
	if node.Distinct {
		buf.WriteString(" union ")
	} else {
		buf.WriteString(" union all ")
	}
	if _, nested := node.Right.(*Union); nested {
		buf.Myprintf("(%v)", node.Right)
	} else {
		buf.Myprintf("%v", node.Right)
	}
	formatOrderAndLimit(buf, node.OrderBy, node.Limit)
}

// Format formats the node.
func (node *TableRef) Format(buf *TrackedBuffer) {
	buf.WriteString(node.Name)
	if node.As != "" {
		buf.Myprintf(" as %s", node.As)
	}
}

// Format formats the node.
func (node *DerivedTable) Format(buf *TrackedBuffer) {
	buf.Myprintf("(%v) as %s", node.Select, node.As)
}

// Format formats the node.
func (node *JoinTableExpr) Format(buf *TrackedBuffer) {
	buf.Myprintf("%v %s ", node.Left, node.Join.String())
	if _, nested := node.Right.(*JoinTableExpr); nested {
		buf.Myprintf("(%v)", node.Right)
	} else {
		buf.Myprintf("%v", node.Right)
	}
	if node.On != nil {
		buf.Myprintf(" on %v", node.On)
	}
}

// Format formats the node.
func (node *Order) Format(buf *TrackedBuffer) {
	if node.Desc {
		buf.Myprintf("%v desc", node.Expr)
		return
	}
	buf.Myprintf("%v asc", node.Expr)
}

// Format formats the node.
func (node *Limit) Format(buf *TrackedBuffer) {
	buf.WriteString(" limit ")
	if node.Offset != nil {
		buf.Myprintf("%v, ", node.Offset)
	}
	buf.Myprintf("%v", node.Rowcount)
}
