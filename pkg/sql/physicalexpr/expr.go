// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package physicalexpr is a minimal stand-in for the executor's real
// expression library. The streaming join engine only ever needs to
// evaluate a join filter and a handful of sort expressions against
// Arrow record batches, walk an expression tree bottom-up while
// rewriting column references, and compare two expressions for
// structural equality -- so that is all this package provides.
package physicalexpr

import (
	"fmt"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cockroachdb/errors"
)

// Expr is evaluated against a RecordBatch whose schema matches the
// expression's expectations (either a side's input schema or a join
// filter's intermediate schema).
type Expr interface {
	// Evaluate computes the expression over every row of rec.
	Evaluate(rec arrow.Record) (arrow.Array, error)
	// DataType reports the result type without evaluating.
	DataType(schema *arrow.Schema) (arrow.DataType, error)
	// Children returns the expression's direct operands, if any.
	Children() []Expr
	// TransformUp rewrites the tree bottom-up: fn is invoked on every
	// child before the parent, and the (possibly replaced) node is
	// reassembled from the (possibly replaced) children.
	TransformUp(fn func(Expr) (Expr, bool, error)) (Expr, bool, error)
	// String renders the expression for diagnostics.
	String() string
	// Equal performs a structural (not pointer) comparison. Two
	// expressions are equal iff they denote the same computation
	// syntactically -- "a+b" and "b+a" are NOT equal.
	Equal(other Expr) bool
}

// Column references a single field by position in whatever schema it
// is ultimately evaluated against. The name is retained for display;
// Equal compares positions only.
type Column struct {
	Name  string
	Index int
}

// NewColumn resolves name against schema and returns a bound Column.
func NewColumn(name string, schema *arrow.Schema) (*Column, error) {
	idxs := schema.FieldIndices(name)
	if len(idxs) == 0 {
		return nil, errors.Newf("no field named %q in schema", name)
	}
	return &Column{Name: name, Index: idxs[0]}, nil
}

func (c *Column) Evaluate(rec arrow.Record) (arrow.Array, error) {
	if c.Index < 0 || c.Index >= int(rec.NumCols()) {
		return nil, errors.Newf("column index %d out of range for batch with %d columns", c.Index, rec.NumCols())
	}
	col := rec.Column(c.Index)
	col.Retain()
	return col, nil
}

func (c *Column) DataType(schema *arrow.Schema) (arrow.DataType, error) {
	if c.Index < 0 || c.Index >= len(schema.Fields()) {
		return nil, errors.Newf("column index %d out of range for schema with %d fields", c.Index, len(schema.Fields()))
	}
	return schema.Field(c.Index).Type, nil
}

func (c *Column) Children() []Expr { return nil }

func (c *Column) TransformUp(fn func(Expr) (Expr, bool, error)) (Expr, bool, error) {
	return fn(c)
}

func (c *Column) String() string { return fmt.Sprintf("%s@%d", c.Name, c.Index) }

func (c *Column) Equal(other Expr) bool {
	oc, ok := other.(*Column)
	return ok && oc.Index == c.Index
}

// Literal is a constant, broadcast to every row of whatever batch it
// is evaluated against.
type Literal struct {
	Value Int64Scalar
}

// Int64Scalar is the only scalar kind the join engine's expression
// language needs: every worked example in the join filter and sort
// expression grammar is integer arithmetic and comparison.
type Int64Scalar struct {
	Null  bool
	Value int64
}

func NewLiteral(v int64) *Literal { return &Literal{Value: Int64Scalar{Value: v}} }

func (l *Literal) Evaluate(rec arrow.Record) (arrow.Array, error) {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	n := int(rec.NumRows())
	for i := 0; i < n; i++ {
		if l.Value.Null {
			b.AppendNull()
		} else {
			b.Append(l.Value.Value)
		}
	}
	return b.NewArray(), nil
}

func (l *Literal) DataType(*arrow.Schema) (arrow.DataType, error) { return arrow.PrimitiveTypes.Int64, nil }
func (l *Literal) Children() []Expr                               { return nil }
func (l *Literal) TransformUp(fn func(Expr) (Expr, bool, error)) (Expr, bool, error) {
	return fn(l)
}
func (l *Literal) String() string {
	if l.Value.Null {
		return "NULL"
	}
	return fmt.Sprintf("%d", l.Value.Value)
}
func (l *Literal) Equal(other Expr) bool {
	ol, ok := other.(*Literal)
	return ok && ol.Value == l.Value
}

// Operator enumerates the binary operators the join filter grammar
// can express. Arithmetic operators produce Int64 arrays; comparison
// and logical operators produce Boolean arrays.
type Operator int

const (
	Plus Operator = iota
	Minus
	Multiply
	Gt
	GtEq
	Lt
	LtEq
	Eq
	And
)

func (o Operator) String() string {
	switch o {
	case Plus:
		return "+"
	case Minus:
		return "-"
	case Multiply:
		return "*"
	case Gt:
		return ">"
	case GtEq:
		return ">="
	case Lt:
		return "<"
	case LtEq:
		return "<="
	case Eq:
		return "="
	case And:
		return "AND"
	default:
		return "?"
	}
}

func (o Operator) isComparison() bool {
	switch o {
	case Gt, GtEq, Lt, LtEq, Eq:
		return true
	default:
		return false
	}
}

// BinaryExpr applies Op to Left and Right, evaluated over the same
// batch.
type BinaryExpr struct {
	Left, Right Expr
	Op          Operator
}

func NewBinaryExpr(left Expr, op Operator, right Expr) *BinaryExpr {
	return &BinaryExpr{Left: left, Right: right, Op: op}
}

func (b *BinaryExpr) Evaluate(rec arrow.Record) (arrow.Array, error) {
	left, err := b.Left.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	defer left.Release()
	right, err := b.Right.Evaluate(rec)
	if err != nil {
		return nil, err
	}
	defer right.Release()

	switch b.Op {
	case And:
		return evalAnd(left, right)
	case Gt, GtEq, Lt, LtEq, Eq:
		return evalComparison(b.Op, left, right)
	default:
		return evalArithmetic(b.Op, left, right)
	}
}

func evalArithmetic(op Operator, left, right arrow.Array) (arrow.Array, error) {
	l, lok := left.(*array.Int64)
	r, rok := right.(*array.Int64)
	if !lok || !rok {
		return nil, errors.Newf("arithmetic operator %s requires int64 operands", op)
	}
	n := l.Len()
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < n; i++ {
		if l.IsNull(i) || r.IsNull(i) {
			b.AppendNull()
			continue
		}
		switch op {
		case Plus:
			b.Append(l.Value(i) + r.Value(i))
		case Minus:
			b.Append(l.Value(i) - r.Value(i))
		case Multiply:
			b.Append(l.Value(i) * r.Value(i))
		default:
			return nil, errors.Newf("unsupported arithmetic operator %s", op)
		}
	}
	return b.NewArray(), nil
}

func evalComparison(op Operator, left, right arrow.Array) (arrow.Array, error) {
	l, lok := left.(*array.Int64)
	r, rok := right.(*array.Int64)
	if !lok || !rok {
		return nil, errors.Newf("comparison operator %s requires int64 operands", op)
	}
	n := l.Len()
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < n; i++ {
		if l.IsNull(i) || r.IsNull(i) {
			b.AppendNull()
			continue
		}
		lv, rv := l.Value(i), r.Value(i)
		var res bool
		switch op {
		case Gt:
			res = lv > rv
		case GtEq:
			res = lv >= rv
		case Lt:
			res = lv < rv
		case LtEq:
			res = lv <= rv
		case Eq:
			res = lv == rv
		}
		b.Append(res)
	}
	return b.NewArray(), nil
}

func evalAnd(left, right arrow.Array) (arrow.Array, error) {
	l, lok := left.(*array.Boolean)
	r, rok := right.(*array.Boolean)
	if !lok || !rok {
		return nil, errors.Newf("AND requires boolean operands")
	}
	n := l.Len()
	b := array.NewBooleanBuilder(memory.DefaultAllocator)
	defer b.Release()
	for i := 0; i < n; i++ {
		if l.IsNull(i) || r.IsNull(i) {
			b.AppendNull()
			continue
		}
		b.Append(l.Value(i) && r.Value(i))
	}
	return b.NewArray(), nil
}

func (b *BinaryExpr) DataType(schema *arrow.Schema) (arrow.DataType, error) {
	if b.Op.isComparison() || b.Op == And {
		return arrow.FixedWidthTypes.Boolean, nil
	}
	return arrow.PrimitiveTypes.Int64, nil
}

func (b *BinaryExpr) Children() []Expr { return []Expr{b.Left, b.Right} }

func (b *BinaryExpr) TransformUp(fn func(Expr) (Expr, bool, error)) (Expr, bool, error) {
	newLeft, leftChanged, err := b.Left.TransformUp(fn)
	if err != nil {
		return nil, false, err
	}
	newRight, rightChanged, err := b.Right.TransformUp(fn)
	if err != nil {
		return nil, false, err
	}
	node := Expr(&BinaryExpr{Left: newLeft, Right: newRight, Op: b.Op})
	if !leftChanged && !rightChanged {
		node = b
	}
	result, changed, err := fn(node)
	return result, changed || leftChanged || rightChanged, err
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.Left.String(), b.Op.String(), b.Right.String())
}

func (b *BinaryExpr) Equal(other Expr) bool {
	ob, ok := other.(*BinaryExpr)
	if !ok || ob.Op != b.Op {
		return false
	}
	return b.Left.Equal(ob.Left) && b.Right.Equal(ob.Right)
}

// CastExpr casts Input to To. The join filter grammar in practice only
// ever casts Int64 to Int64 (a no-op useful for type-unifying two
// sides of a comparison), so Evaluate is a pass-through.
type CastExpr struct {
	Input Expr
	To    arrow.DataType
}

func NewCast(input Expr, to arrow.DataType) *CastExpr { return &CastExpr{Input: input, To: to} }

func (c *CastExpr) Evaluate(rec arrow.Record) (arrow.Array, error) { return c.Input.Evaluate(rec) }
func (c *CastExpr) DataType(*arrow.Schema) (arrow.DataType, error) { return c.To, nil }
func (c *CastExpr) Children() []Expr                               { return []Expr{c.Input} }
func (c *CastExpr) TransformUp(fn func(Expr) (Expr, bool, error)) (Expr, bool, error) {
	newInput, changed, err := c.Input.TransformUp(fn)
	if err != nil {
		return nil, false, err
	}
	node := Expr(&CastExpr{Input: newInput, To: c.To})
	if !changed {
		node = c
	}
	result, resultChanged, err := fn(node)
	return result, resultChanged || changed, err
}
func (c *CastExpr) String() string { return fmt.Sprintf("CAST(%s AS %s)", c.Input.String(), c.To) }
func (c *CastExpr) Equal(other Expr) bool {
	oc, ok := other.(*CastExpr)
	return ok && c.To.ID() == oc.To.ID() && c.Input.Equal(oc.Input)
}

// CollectColumns returns every Column leaf referenced transitively by
// expr, deduplicated by index.
func CollectColumns(expr Expr) []*Column {
	var out []*Column
	seen := map[int]bool{}
	var walk func(Expr)
	walk = func(e Expr) {
		if col, ok := e.(*Column); ok {
			if !seen[col.Index] {
				seen[col.Index] = true
				out = append(out, col)
			}
			return
		}
		for _, c := range e.Children() {
			walk(c)
		}
	}
	walk(expr)
	return out
}

// ContainsSubtree reports whether reference appears verbatim (by
// structural equality) anywhere within expr's tree, including at the
// root. This is the "recognised by the interval graph" test that
// FilterOrderBuilder uses to decide whether a sort is prunable.
func ContainsSubtree(expr, reference Expr) bool {
	if expr.Equal(reference) {
		return true
	}
	for _, c := range expr.Children() {
		if ContainsSubtree(c, reference) {
			return true
		}
	}
	return false
}
