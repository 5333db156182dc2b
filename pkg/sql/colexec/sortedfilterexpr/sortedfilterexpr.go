// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package sortedfilterexpr holds SortedFilterExpression, the record
// FilterOrderBuilder produces for every sort expression it proves
// prunable: the original sort expression, its rewritten form in the
// join filter's intermediate schema, and a live link into the shared
// ExprIntervalGraph.
package sortedfilterexpr

import (
	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
)

// SortedFilterExpression pairs one side's sort expression with the
// form of that same computation rewritten into the join filter's
// intermediate column space, plus the interval-graph bookkeeping the
// sliding window driver updates every batch.
//
// The split between Original and FilterExpr exists because the two
// live in different column-index spaces: Original is evaluated
// against a side's own input batches (to read the window boundary
// values), while FilterExpr is the subtree the interval graph was
// built from and so is the handle used to push and pull interval
// updates.
type SortedFilterExpression struct {
	original       physicalexpr.PhysicalSortExpr
	filterExpr     physicalexpr.Expr
	interval       intervals.Interval
	nodeIndex      int
	nodeIndexIsSet bool
}

// New constructs a SortedFilterExpression. The interval starts
// unbounded and the node index unset; both are filled in once via
// SetInterval/SetNodeIndex before the expression is used to prune.
func New(original physicalexpr.PhysicalSortExpr, filterExpr physicalexpr.Expr) *SortedFilterExpression {
	return &SortedFilterExpression{
		original:   original,
		filterExpr: filterExpr,
		interval:   intervals.Unbounded(),
		nodeIndex:  -1,
	}
}

func (s *SortedFilterExpression) Original() physicalexpr.PhysicalSortExpr { return s.original }
func (s *SortedFilterExpression) FilterExpr() physicalexpr.Expr           { return s.filterExpr }
func (s *SortedFilterExpression) Interval() intervals.Interval            { return s.interval }

// NodeIndex returns the bound interval-graph node index. Panics via an
// internal error if SetNodeIndex was never called: every
// SortedFilterExpression produced by FilterOrderBuilder is bound
// before it is handed to the driver, so an unset index here indicates
// a broken invariant rather than a recoverable condition.
func (s *SortedFilterExpression) NodeIndex() int {
	if !s.nodeIndexIsSet {
		execerror.InternalPanic("sorted filter expression's node index was never set")
	}
	return s.nodeIndex
}

// SetInterval replaces the tracked interval. Idempotent: calling it
// repeatedly with the same value is a no-op, and callers are expected
// to call it once per incoming batch as new bounds are derived.
func (s *SortedFilterExpression) SetInterval(iv intervals.Interval) {
	s.interval = iv
}

// SetNodeIndex binds this expression to a node in the shared interval
// graph. It may only be called once; a second call indicates the
// FilterOrderBuilder tried to bind the same expression twice, which is
// an internal invariant violation.
func (s *SortedFilterExpression) SetNodeIndex(idx int) {
	if s.nodeIndexIsSet {
		execerror.InternalPanic("sorted filter expression's node index set twice (old=%d new=%d)", s.nodeIndex, idx)
	}
	s.nodeIndex = idx
	s.nodeIndexIsSet = true
}
