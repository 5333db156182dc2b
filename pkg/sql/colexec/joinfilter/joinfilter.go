// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package joinfilter represents a streaming join's filter condition:
// an expression tree plus the bookkeeping needed to evaluate it
// against a batch built by horizontally concatenating columns pulled
// from both join sides, and to translate that tree into the column
// space of either side alone.
package joinfilter

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/cockroachdb/errors"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

// ColumnIndex records, for one column of a filter's intermediate
// schema, which side it came from and its position within that side's
// own input schema.
type ColumnIndex struct {
	Index int
	Side  sqlbase.JoinSide
}

// JoinFilter bundles a filter expression with the intermediate schema
// it was built against (built by concatenating a subset of the left
// side's columns followed by a subset of the right side's, in the
// order ColumnIndices lists them) and the column-index table needed to
// translate the expression back into either side's own column space.
type JoinFilter struct {
	Expression        physicalexpr.Expr
	IntermediateSchema *arrow.Schema
	ColumnIndices     []ColumnIndex
}

// New builds a JoinFilter. expr must only reference columns by
// position into intermediateSchema; indices maps each of those
// positions back to an original-side column.
func New(expr physicalexpr.Expr, intermediateSchema *arrow.Schema, indices []ColumnIndex) (*JoinFilter, error) {
	if len(indices) != len(intermediateSchema.Fields()) {
		return nil, errors.Newf("join filter: %d column indices for a %d-field intermediate schema",
			len(indices), len(intermediateSchema.Fields()))
	}
	return &JoinFilter{Expression: expr, IntermediateSchema: intermediateSchema, ColumnIndices: indices}, nil
}

// SideSchema returns the intermediate schema filtered down to the
// fields that originate from side, in intermediate-column order.
func (f *JoinFilter) SideSchema(side sqlbase.JoinSide) *arrow.Schema {
	var fields []arrow.Field
	for i, ci := range f.ColumnIndices {
		if ci.Side == side {
			fields = append(fields, f.IntermediateSchema.Field(i))
		}
	}
	return arrow.NewSchema(fields, nil)
}

// MapOriginColToFilterCol returns the intermediate-schema column index
// for the column at originIndex on the given side, or -1 if that
// column is not referenced by the filter at all.
func (f *JoinFilter) MapOriginColToFilterCol(side sqlbase.JoinSide, originIndex int) int {
	for i, ci := range f.ColumnIndices {
		if ci.Side == side && ci.Index == originIndex {
			return i
		}
	}
	return -1
}

// RepresentationOfSide rewrites the filter expression into the column
// space of a single side's own input schema: every Column node that
// refers to the other side is left untouched in position but the
// expression as a whole is only meaningful when evaluated against a
// batch built from this side's own columns plus placeholders for the
// other side, which is exactly what intermediateSchema captures.
// filterorder.Builder, which maps a side's sort expressions into the
// intermediate column space, uses MapOriginColToFilterCol instead.
func (f *JoinFilter) RepresentationOfSide(side sqlbase.JoinSide) (physicalexpr.Expr, error) {
	remap := map[int]int{}
	next := 0
	for i, ci := range f.ColumnIndices {
		if ci.Side == side {
			remap[i] = next
			next++
		}
	}
	rewritten, _, err := f.Expression.TransformUp(func(e physicalexpr.Expr) (physicalexpr.Expr, bool, error) {
		col, ok := e.(*physicalexpr.Column)
		if !ok {
			return e, false, nil
		}
		newIdx, ok := remap[col.Index]
		if !ok {
			return e, false, nil
		}
		if newIdx == col.Index {
			return e, false, nil
		}
		return &physicalexpr.Column{Name: col.Name, Index: newIdx}, true, nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "rewriting join filter for %s side", side)
	}
	return rewritten, nil
}
