// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package intervaltracker drives a pair of SortedFilterExpressions
// (one per join side) and the ExprIntervalGraph they are bound to,
// recomputing how much of the build side still needs to stay buffered
// as new batches arrive on either input.
package intervaltracker

import (
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/cockroachdb/errors"

	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
	"github.com/colvec/symjoin/pkg/sql/colexec/sortedfilterexpr"
	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
)

// Tracker owns the build- and probe-side SortedFilterExpressions for
// one join and the interval graph they are both bound into.
type Tracker struct {
	Build *sortedfilterexpr.SortedFilterExpression
	Probe *sortedfilterexpr.SortedFilterExpression
	Graph *intervals.ExprIntervalGraph
}

// evalRowScalar evaluates expr against rec and reads back the
// resulting int64 (or null) value at rowIdx.
func evalRowScalar(expr physicalexpr.Expr, rec arrow.Record, rowIdx int) (intervals.Scalar, error) {
	arr, err := expr.Evaluate(rec)
	if err != nil {
		return intervals.Scalar{}, err
	}
	defer arr.Release()
	ints, ok := arr.(*array.Int64)
	if !ok {
		return intervals.Scalar{}, errors.Newf("sort/filter expression %s did not evaluate to int64", expr.String())
	}
	if rowIdx < 0 || rowIdx >= ints.Len() {
		return intervals.Scalar{}, execerror.NewInternalError("row index %d out of range for batch with %d rows", rowIdx, ints.Len())
	}
	if ints.IsNull(rowIdx) {
		return intervals.NullScalar(), nil
	}
	return intervals.NewScalar(ints.Value(rowIdx)), nil
}

// IsBatchSuitable rejects batches the tracker cannot safely derive a
// bound from: an empty batch carries no boundary row at all, and a
// null value in the sort expression's final row means the ordering
// guarantee the whole pruning scheme depends on has broken down.
func IsBatchSuitable(sortExpr physicalexpr.Expr, batch arrow.Record) (bool, error) {
	if batch == nil || batch.NumRows() == 0 {
		return false, nil
	}
	last, err := evalRowScalar(sortExpr, batch, int(batch.NumRows())-1)
	if err != nil {
		return false, err
	}
	return !last.Null, nil
}

func boundaryInterval(first, last intervals.Scalar, descending bool) intervals.Interval {
	if descending {
		return intervals.Interval{Lower: intervals.OpenBound(last.Value), Upper: intervals.UnboundedUpper()}
	}
	return intervals.Interval{Lower: intervals.UnboundedLower(), Upper: intervals.OpenBound(last.Value)}
}

// UpdateBounds folds a freshly arrived probe batch into the tracker:
// the probe side's interval is derived from both its first and last
// rows -- [first, last] for an ascending column, [last, first] for a
// descending one, both endpoints open -- while the build side is reset
// to the "unknown future" point-null interval until
// RecomputeFilterIntervals derives something tighter from an actual
// build batch.
func (t *Tracker) UpdateBounds(probeBatch arrow.Record) error {
	suitable, err := IsBatchSuitable(t.Probe.Original().Expr, probeBatch)
	if err != nil {
		return err
	}
	if !suitable {
		return nil
	}
	first, err := evalRowScalar(t.Probe.Original().Expr, probeBatch, 0)
	if err != nil {
		return err
	}
	last, err := evalRowScalar(t.Probe.Original().Expr, probeBatch, int(probeBatch.NumRows())-1)
	if err != nil {
		return err
	}
	var probeIv intervals.Interval
	if t.Probe.Original().Options.Descending {
		probeIv = intervals.Interval{Lower: intervals.OpenBound(last.Value), Upper: intervals.OpenBound(first.Value)}
	} else {
		probeIv = intervals.Interval{Lower: intervals.OpenBound(first.Value), Upper: intervals.OpenBound(last.Value)}
	}
	t.Probe.SetInterval(probeIv)
	t.Build.SetInterval(intervals.PointNull())
	return t.push()
}

// RecomputeFilterIntervals folds a freshly arrived build batch in:
// the build side's interval becomes (first, +inf) (or its mirror for
// a descending column), while the probe side is narrowed to
// (-inf, last) (or its mirror), both ends open, reflecting how far the probe stream
// has been observed to have advanced relative to this build batch.
func (t *Tracker) RecomputeFilterIntervals(buildBatch arrow.Record) error {
	suitable, err := IsBatchSuitable(t.Build.Original().Expr, buildBatch)
	if err != nil {
		return err
	}
	if !suitable {
		return nil
	}
	first, err := evalRowScalar(t.Build.Original().Expr, buildBatch, 0)
	if err != nil {
		return err
	}
	last, err := evalRowScalar(t.Build.Original().Expr, buildBatch, int(buildBatch.NumRows())-1)
	if err != nil {
		return err
	}

	var buildIv intervals.Interval
	if t.Build.Original().Options.Descending {
		buildIv = intervals.DescendingFirst(first.Value)
	} else {
		buildIv = intervals.AscendingFirst(first.Value)
	}
	t.Build.SetInterval(buildIv)
	t.Probe.SetInterval(boundaryInterval(first, last, t.Probe.Original().Options.Descending))
	return t.push()
}

// push sends both sides' current intervals into the shared graph and
// pulls the refined values back out, so Build.Interval()/Probe.Interval()
// reflect the graph's constraint-propagated result rather than the
// raw boundary value that was pushed in.
func (t *Tracker) push() error {
	err := t.Graph.UpdateRanges([]intervals.RangeUpdate{
		{NodeIndex: t.Build.NodeIndex(), Interval: t.Build.Interval()},
		{NodeIndex: t.Probe.NodeIndex(), Interval: t.Probe.Interval()},
	})
	if err != nil {
		return err
	}
	t.Build.SetInterval(t.Graph.IntervalAt(t.Build.NodeIndex()))
	t.Probe.SetInterval(t.Graph.IntervalAt(t.Probe.NodeIndex()))
	return nil
}

// IsWindowComplete reports whether the most recently buffered build
// batch has advanced far enough past the probe side's current bound
// that no additional build data is needed before the buffered probe
// rows can be matched and emitted: the build batch's last row lies
// strictly above the probe interval's upper bound (strictly below its
// lower bound for a descending build column). An unbounded end never
// completes the window.
func (t *Tracker) IsWindowComplete(buildBatch arrow.Record) (bool, error) {
	suitable, err := IsBatchSuitable(t.Build.Original().Expr, buildBatch)
	if err != nil {
		return false, err
	}
	if !suitable {
		return false, nil
	}
	last, err := evalRowScalar(t.Build.Original().Expr, buildBatch, int(buildBatch.NumRows())-1)
	if err != nil {
		return false, err
	}
	iv := t.Probe.Interval()
	if t.Build.Original().Options.Descending {
		return !iv.Lower.Unbounded && last.Value < iv.Lower.Value.Value, nil
	}
	return !iv.Upper.Unbounded && last.Value > iv.Upper.Value.Value, nil
}
