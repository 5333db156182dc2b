// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package joinfilter

import (
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/stretchr/testify/require"

	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

func buildTestFilter(t *testing.T) *JoinFilter {
	left := &physicalexpr.Column{Name: "l", Index: 0}
	right := &physicalexpr.Column{Name: "r", Index: 1}
	expr := physicalexpr.NewBinaryExpr(left, physicalexpr.Gt, right)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "l", Type: arrow.PrimitiveTypes.Int64},
		{Name: "r", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	f, err := New(expr, schema, []ColumnIndex{
		{Index: 2, Side: sqlbase.LeftSide},
		{Index: 5, Side: sqlbase.RightSide},
	})
	require.NoError(t, err)
	return f
}

func TestNewRejectsMismatchedColumnIndices(t *testing.T) {
	expr := physicalexpr.NewLiteral(1)
	schema := arrow.NewSchema([]arrow.Field{{Name: "a", Type: arrow.PrimitiveTypes.Int64}}, nil)
	_, err := New(expr, schema, nil)
	require.Error(t, err)
}

func TestMapOriginColToFilterCol(t *testing.T) {
	f := buildTestFilter(t)
	require.Equal(t, 0, f.MapOriginColToFilterCol(sqlbase.LeftSide, 2))
	require.Equal(t, 1, f.MapOriginColToFilterCol(sqlbase.RightSide, 5))
	require.Equal(t, -1, f.MapOriginColToFilterCol(sqlbase.LeftSide, 99))
}

func TestSideSchemaFiltersToOneSide(t *testing.T) {
	f := buildTestFilter(t)
	schema := f.SideSchema(sqlbase.LeftSide)
	require.Len(t, schema.Fields(), 1)
	require.Equal(t, "l", schema.Field(0).Name)
}
