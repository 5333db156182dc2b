// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package filterorder

import (
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/require"

	"github.com/colvec/symjoin/pkg/sql/colexec/joinfilter"
	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

// buildScenario6Filter constructs the filter `a+b > c+10 AND a+b < c+100`
// over an intermediate schema {0: a (left), 1: b (left), 2: c (right)}.
func buildScenario6Filter(t *testing.T) *joinfilter.JoinFilter {
	a := &physicalexpr.Column{Name: "a", Index: 0}
	b := &physicalexpr.Column{Name: "b", Index: 1}
	c := &physicalexpr.Column{Name: "c", Index: 2}
	sum := physicalexpr.NewBinaryExpr(a, physicalexpr.Plus, b)
	lower := physicalexpr.NewBinaryExpr(sum, physicalexpr.Gt, physicalexpr.NewBinaryExpr(c, physicalexpr.Plus, physicalexpr.NewLiteral(10)))
	upper := physicalexpr.NewBinaryExpr(sum, physicalexpr.Lt, physicalexpr.NewBinaryExpr(c, physicalexpr.Plus, physicalexpr.NewLiteral(100)))
	expr := physicalexpr.NewBinaryExpr(lower, physicalexpr.And, upper)

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64},
		{Name: "b", Type: arrow.PrimitiveTypes.Int64},
		{Name: "c", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	f, err := joinfilter.New(expr, schema, []joinfilter.ColumnIndex{
		{Index: 0, Side: sqlbase.LeftSide},
		{Index: 1, Side: sqlbase.LeftSide},
		{Index: 0, Side: sqlbase.RightSide},
	})
	require.NoError(t, err)
	return f
}

func TestFilterOrderDerivation(t *testing.T) {
	filter := buildScenario6Filter(t)
	graph := intervals.NewExprIntervalGraph(filter.Expression)

	// Left side: origin columns la1(0), la2(1), lt1(2).
	leftBuilder := &Builder{Side: sqlbase.LeftSide, Filter: filter, Graph: graph}
	la1 := &physicalexpr.Column{Name: "la1", Index: 0}
	la2 := &physicalexpr.Column{Name: "la2", Index: 1}
	lt1 := &physicalexpr.Column{Name: "lt1", Index: 2}

	sumSort := physicalexpr.PhysicalSortExpr{Expr: physicalexpr.NewBinaryExpr(la1, physicalexpr.Plus, la2)}
	got := leftBuilder.Build([]physicalexpr.PhysicalSortExpr{sumSort})
	require.Len(t, got, 1, "la1+la2 should be accepted: it maps onto the filter's a+b subtree")

	ltSort := physicalexpr.PhysicalSortExpr{Expr: lt1}
	got = leftBuilder.Build([]physicalexpr.PhysicalSortExpr{ltSort})
	require.Empty(t, got, "lt1 is not referenced by the filter at all")

	// Right side: origin columns ra1(0), rb1(1).
	rightBuilder := &Builder{Side: sqlbase.RightSide, Filter: filter, Graph: graph}
	ra1 := &physicalexpr.Column{Name: "ra1", Index: 0}
	rb1 := &physicalexpr.Column{Name: "rb1", Index: 1}

	got = rightBuilder.Build([]physicalexpr.PhysicalSortExpr{{Expr: ra1}})
	require.Len(t, got, 1, "ra1 maps onto filter column 2 (c), which the filter references")

	got = rightBuilder.Build([]physicalexpr.PhysicalSortExpr{{Expr: rb1}})
	require.Empty(t, got, "rb1 has no corresponding filter column")
}

func TestBuildSubstitutesEquivalentColumns(t *testing.T) {
	filter := buildScenario6Filter(t)
	graph := intervals.NewExprIntervalGraph(filter.Expression)

	la1 := &physicalexpr.Column{Name: "la1", Index: 0}
	alias := &physicalexpr.Column{Name: "alias_of_la1", Index: 5}
	eqProps := &physicalexpr.EquivalenceProperties{
		Classes: []*physicalexpr.EquivalenceClass{{Columns: []*physicalexpr.Column{la1, alias}}},
	}

	la2 := &physicalexpr.Column{Name: "la2", Index: 1}
	builder := &Builder{Side: sqlbase.LeftSide, Filter: filter, Graph: graph, EqProps: eqProps}

	sortOnAlias := physicalexpr.PhysicalSortExpr{Expr: physicalexpr.NewBinaryExpr(alias, physicalexpr.Plus, la2)}
	got := builder.Build([]physicalexpr.PhysicalSortExpr{sortOnAlias})
	require.Len(t, got, 1, "alias_of_la1+la2 should resolve via the equivalence class to la1+la2")
}
