// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package vecjoin implements SlidingWindowDriver, the state machine
// that drives a symmetric hash join between two sorted, unbounded
// streams while keeping only as much of the build side buffered as
// the join filter's interval graph proves could still match a future
// probe row.
//
// The driver is single-threaded and cooperative: Next is never called
// concurrently with itself, and every blocking operation (pulling a
// batch from either input) is expected to respect ctx cancellation so
// that a canceled join releases both inputs promptly rather than
// running them to completion.
package vecjoin

import (
	"context"
	"io"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
	"github.com/colvec/symjoin/pkg/sql/colexec/indexadjuster"
	"github.com/colvec/symjoin/pkg/sql/colexec/intervaltracker"
	"github.com/colvec/symjoin/pkg/sql/colexec/joinfilter"
	"github.com/colvec/symjoin/pkg/sql/colexec/pruningindex"
	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
	"github.com/colvec/symjoin/pkg/util/syncutil"
)

// BatchSource is a pull-based, sorted input stream. Next returns
// io.EOF once exhausted, matching the Go convention so a driver can
// treat a real network/file-backed stream and a canned test fixture
// identically.
type BatchSource interface {
	Next(ctx context.Context) (arrow.Record, error)
}

// driverState names the cooperative state machine's current step, for
// diagnostics; it is not exported because callers only ever observe
// the driver's behavior through Next.
type driverState int

const (
	statePullProbe driverState = iota
	statePullBuild
	stateJoin
	stateProbeExhausted
	stateBuildExhausted
	stateBothExhausted
)

// Spec is the fixed configuration of a join: its flavor, its equality
// columns on each side (used to hash-partition rows into the pruning
// index), and the join filter used to bound the window.
type Spec struct {
	JoinType   sqlbase.JoinType
	BuildSide  sqlbase.JoinSide
	BuildEqCol int
	ProbeEqCol int
	Filter     *joinfilter.JoinFilter
}

// SlidingWindowDriver joins a build and a probe stream, both assumed
// sorted on the column the supplied IntervalTracker was built from.
type SlidingWindowDriver struct {
	spec    Spec
	build   BatchSource
	probe   BatchSource
	tracker *intervaltracker.Tracker
	metrics *Metrics
	logger  *zap.Logger
	cancel  *syncutil.CancelSignal

	buildIndex *pruningindex.PruningHashIndex
	buildBuf   *sideBuffer

	// visitedRows records every build row id any probe row has ever
	// matched, across the whole build side's lifetime. It backs
	// indexadjuster.PruningOuterIndices, which needs it to tell apart a
	// build row that never matched (owed to LEFT/FULL outer joins) from
	// one that did (owed to LEFT_SEMI). Entries are deleted as soon as
	// the corresponding build row is pruned, so this stays bounded by
	// however much of the build side is currently buffered.
	visitedRows map[uint64]bool
	probeSchema *arrow.Schema
	pendingOuter arrow.Record

	state              driverState
	currentProbe       arrow.Record
	probeExhausted     bool
	buildExhausted     bool
	emittedUnmatchedLeft bool
}

// NewSlidingWindowDriver builds a driver ready to be pulled via Next.
func NewSlidingWindowDriver(
	spec Spec,
	build, probe BatchSource,
	tracker *intervaltracker.Tracker,
	metrics *Metrics,
	logger *zap.Logger,
) *SlidingWindowDriver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlidingWindowDriver{
		spec:       spec,
		build:      build,
		probe:      probe,
		tracker:    tracker,
		metrics:    metrics,
		logger:     logger,
		cancel:      syncutil.NewCancelSignal(),
		buildIndex:  pruningindex.New(),
		buildBuf:    newSideBuffer(),
		visitedRows: make(map[uint64]bool),
		state:       statePullProbe,
	}
}

// Cancel releases both input streams: a later Next call tears the
// driver down and returns context.Canceled immediately, and a Next call
// whose pull is already blocked does so once that pull returns (the
// blocked pull itself is not interrupted).
func (d *SlidingWindowDriver) Cancel() {
	d.cancel.Set()
}

func (d *SlidingWindowDriver) checkCanceled(ctx context.Context) error {
	if d.cancel.Signaled() {
		return context.Canceled
	}
	return ctx.Err()
}

// eqKey hashes the equality column of rec at row using xxhash, the
// same hashing primitive the columnar executor's build-side hash
// table uses to bucket rows.
func eqKey(rec arrow.Record, col, row int) (uint64, error) {
	arr, ok := rec.Column(col).(*array.Int64)
	if !ok {
		return 0, execerror.NewSchemaError(nil, "equality column %d is not int64", col)
	}
	if arr.IsNull(row) {
		return 0, nil
	}
	var buf [8]byte
	v := arr.Value(row)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	return xxhash.Sum64(buf[:]), nil
}

// Next advances the join until it can emit a batch, both inputs are
// exhausted, or ctx is done. It returns io.EOF once there is nothing
// left to emit.
func (d *SlidingWindowDriver) Next(ctx context.Context) (arrow.Record, error) {
	for {
		if err := d.checkCanceled(ctx); err != nil {
			d.teardown()
			return nil, err
		}
		if d.pendingOuter != nil {
			out := d.pendingOuter
			d.pendingOuter = nil
			return out, nil
		}
		switch d.state {
		case statePullProbe:
			if err := d.doPullProbe(ctx); err != nil {
				return nil, err
			}
		case statePullBuild:
			if err := d.doPullBuild(ctx); err != nil {
				return nil, err
			}
		case stateJoin:
			batch, err := d.doJoin()
			if err != nil {
				return nil, err
			}
			if batch != nil {
				return batch, nil
			}
		case stateProbeExhausted:
			// No more probe rows will ever arrive; whatever the build
			// side buffers can no longer gain new matches, so there is
			// nothing left to do but finish.
			d.state = stateBothExhausted
		case stateBuildExhausted:
			if d.currentProbe == nil {
				d.state = statePullProbe
				continue
			}
			d.state = stateJoin
		case stateBothExhausted:
			batch, err := d.emitFinal()
			if err != nil {
				return nil, err
			}
			d.teardown()
			if batch != nil {
				return batch, nil
			}
			return nil, io.EOF
		}
	}
}

func (d *SlidingWindowDriver) doPullProbe(ctx context.Context) error {
	rec, err := d.probe.Next(ctx)
	if err == io.EOF {
		d.probeExhausted = true
		d.state = stateProbeExhausted
		return nil
	}
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.ProbeBatchesPulled.Inc()
	}
	if err := d.tracker.UpdateBounds(rec); err != nil {
		return err
	}
	d.currentProbe = rec
	d.probeSchema = rec.Schema()

	complete, err := d.windowComplete()
	if err != nil {
		return err
	}
	if complete || d.buildExhausted {
		d.state = stateJoin
	} else {
		d.state = statePullBuild
	}
	return nil
}

func (d *SlidingWindowDriver) windowComplete() (bool, error) {
	last, ok := d.buildBuf.lastBatch()
	if !ok {
		return false, nil
	}
	return d.tracker.IsWindowComplete(last)
}

func (d *SlidingWindowDriver) doPullBuild(ctx context.Context) error {
	rec, err := d.build.Next(ctx)
	if err == io.EOF {
		d.buildExhausted = true
		d.state = stateBuildExhausted
		return nil
	}
	if err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.BuildBatchesPulled.Inc()
	}

	startID := uint64(d.buildIndex.Len())
	n := int(rec.NumRows())
	for i := 0; i < n; i++ {
		hash, err := eqKey(rec, d.spec.BuildEqCol, i)
		if err != nil {
			return err
		}
		rowID := d.buildIndex.Insert(hash)
		if i == 0 {
			startID = rowID
		}
	}
	d.buildBuf.append(rec, startID)

	if err := d.tracker.RecomputeFilterIntervals(rec); err != nil {
		return err
	}
	if d.metrics != nil {
		d.metrics.BuildBufferedRows.Set(float64(d.buildIndex.Len()))
		d.metrics.BuildBufferedBytes.Set(float64(d.buildIndex.SizeBytes()))
	}

	complete, err := d.windowComplete()
	if err != nil {
		return err
	}
	if complete {
		d.state = stateJoin
	} else {
		d.state = statePullBuild
	}
	return nil
}

// doJoin probes the currently buffered build rows with the current
// probe batch, prunes whatever the interval graph proves is now
// unreachable, and returns the resulting output batch (nil if the
// probe batch produced no rows at all, e.g. it was entirely filtered
// away by the adjuster for a semi/anti join). Rows are matched on the
// equality column alone; the join filter's full predicate is not
// evaluated for candidate pairs.
func (d *SlidingWindowDriver) doJoin() (arrow.Record, error) {
	rec := d.currentProbe
	d.currentProbe = nil
	defer func() {
		if rec != nil {
			rec.Release()
		}
	}()

	n := int(rec.NumRows())
	var matchedProbe []int
	var matchedBuild []uint64
	for i := 0; i < n; i++ {
		hash, err := eqKey(rec, d.spec.ProbeEqCol, i)
		if err != nil {
			return nil, err
		}
		for _, rowID := range d.buildIndex.Probe(hash) {
			matchedProbe = append(matchedProbe, i)
			matchedBuild = append(matchedBuild, rowID)
			d.visitedRows[rowID] = true
		}
	}

	res, err := indexadjuster.Adjust(d.spec.JoinType, matchedProbe, matchedBuild, n, nil)
	if err != nil {
		return nil, err
	}

	outer, err := d.pruneBuildSide()
	if err != nil {
		return nil, err
	}
	if outer != nil {
		d.pendingOuter = outer
	}

	if len(res.ProbeIndices) == 0 {
		if !d.probeExhausted {
			d.state = statePullProbe
		} else if !d.buildExhausted {
			d.state = statePullBuild
		} else {
			d.state = stateBothExhausted
		}
		return nil, nil
	}

	batch, err := d.project(rec, res)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.RowsEmitted.Add(float64(len(res.ProbeIndices)))
	}
	if !d.probeExhausted {
		d.state = statePullProbe
	} else if !d.buildExhausted {
		d.state = statePullBuild
	} else {
		d.state = stateBothExhausted
	}
	return batch, nil
}

// pruneBuildSide drops every buffered build row the interval graph now
// proves can never satisfy a future probe row, returning the batch of
// outer rows (if any) that pruning those rows away reveals -- e.g. a
// LEFT_OUTER join's build rows that will now never be matched.
func (d *SlidingWindowDriver) pruneBuildSide() (arrow.Record, error) {
	iv := d.tracker.Build.Interval()
	deletedOffset, ok := d.buildBuf.firstStartRowID()
	if iv.Lower.Unbounded || !ok {
		return nil, nil
	}
	waterMark := deletedOffset
	// Ascend in row-id order and stop at the first batch the interval
	// still proves reachable; every batch before it is prunable.
	sortExpr := d.tracker.Build.Original().Expr
	var evalErr error
	d.buildBuf.ascend(func(batch arrow.Record, startRowID uint64) bool {
		arr, err := sortExpr.Evaluate(batch)
		if err != nil {
			evalErr = err
			return false
		}
		ints := arr.(*array.Int64)
		last := int(batch.NumRows()) - 1
		live := !ints.IsNull(last) && iv.Contains(intervals.NewScalar(ints.Value(last)))
		arr.Release()
		if live {
			return false
		}
		waterMark = startRowID + uint64(batch.NumRows())
		return true
	})
	if evalErr != nil {
		return nil, evalErr
	}
	dropped := d.buildBuf.pruneBefore(waterMark)
	if dropped == 0 {
		return nil, nil
	}
	d.buildIndex.PruneFront(dropped, pruningindex.DefaultShrinkFactor)
	if d.metrics != nil {
		d.metrics.BuildPrunedRows.Add(float64(dropped))
		d.metrics.PruneCycles.Inc()
		d.metrics.BuildBufferedRows.Set(float64(d.buildIndex.Len()))
		d.metrics.BuildBufferedBytes.Set(float64(d.buildIndex.SizeBytes()))
	}
	return d.outerRowsForPrune(dropped, deletedOffset)
}

// outerRowsForPrune asks indexadjuster.PruningOuterIndices for the
// build-only rows owed by d.spec.JoinType now that [deletedOffset,
// deletedOffset+pruneLength) is being dropped from the build buffer,
// and projects them into an output batch. Flavors with no prune-time
// outer contribution (INNER, RIGHT_*) are left alone.
func (d *SlidingWindowDriver) outerRowsForPrune(pruneLength int, deletedOffset uint64) (arrow.Record, error) {
	switch d.spec.JoinType {
	case sqlbase.JoinType_LEFT_OUTER, sqlbase.JoinType_LEFT_ANTI, sqlbase.JoinType_FULL_OUTER, sqlbase.JoinType_LEFT_SEMI:
	default:
		return nil, nil
	}
	res, err := indexadjuster.PruningOuterIndices(pruneLength, d.visitedRows, deletedOffset, d.spec.JoinType)
	if err != nil {
		return nil, err
	}
	for v := 0; v < pruneLength; v++ {
		delete(d.visitedRows, deletedOffset+uint64(v))
	}
	if len(res.ProbeIndices) == 0 {
		return nil, nil
	}
	return d.projectOuterOnly(res)
}

// emitFinal flushes any trailing outer rows owed once both sides are
// exhausted: whatever of the build side never got pruned (and so never
// had a chance to surface via outerRowsForPrune) still owes its
// LEFT/FULL outer or LEFT_SEMI accounting.
func (d *SlidingWindowDriver) emitFinal() (arrow.Record, error) {
	if d.emittedUnmatchedLeft {
		return nil, nil
	}
	d.emittedUnmatchedLeft = true
	start, ok := d.buildBuf.firstStartRowID()
	if !ok {
		return nil, nil
	}
	return d.outerRowsForPrune(d.buildIndex.Len(), start)
}

// projectOuterOnly builds an output batch for prune-time outer rows:
// every probe column is null (these rows have no corresponding probe
// row), and the build equality column is gathered as usual.
func (d *SlidingWindowDriver) projectOuterOnly(res indexadjuster.Result) (arrow.Record, error) {
	if d.probeSchema == nil {
		return nil, execerror.NewInternalError("vecjoin: prune-time outer rows with no probe schema established yet")
	}
	n := len(res.ProbeIndices)
	fields := make([]arrow.Field, 0, d.probeSchema.NumFields()+1)
	arrays := make([]arrow.Array, 0, cap(fields))
	for c := 0; c < d.probeSchema.NumFields(); c++ {
		b := array.NewInt64Builder(memory.DefaultAllocator)
		for i := 0; i < n; i++ {
			b.AppendNull()
		}
		arrays = append(arrays, b.NewArray())
		b.Release()
		fields = append(fields, d.probeSchema.Field(c))
	}

	buildCol, err := d.gatherBuildColumn(res.BuildIndices)
	if err != nil {
		return nil, err
	}
	buildCol2 := &physicalexpr.Column{Index: d.spec.BuildEqCol}
	fields = append(fields, arrow.Field{Name: "build_" + buildCol2.String(), Type: arrow.PrimitiveTypes.Int64, Nullable: true})
	arrays = append(arrays, buildCol)

	schema := arrow.NewSchema(fields, nil)
	out := array.NewRecord(schema, arrays, int64(n))
	for _, a := range arrays {
		a.Release()
	}
	return out, nil
}

func (d *SlidingWindowDriver) teardown() {
	d.buildBuf.release()
	if d.currentProbe != nil {
		d.currentProbe.Release()
		d.currentProbe = nil
	}
	if d.pendingOuter != nil {
		d.pendingOuter.Release()
		d.pendingOuter = nil
	}
}

// project builds the output batch for the given adjusted indices by
// gathering each probe column for the rows listed in res.ProbeIndices
// and each build column for the rows listed in res.BuildIndices.
// Only Int64 columns are supported, consistent with the rest of this
// module's expression evaluator.
func (d *SlidingWindowDriver) project(probeBatch arrow.Record, res indexadjuster.Result) (arrow.Record, error) {
	fields := make([]arrow.Field, 0, int(probeBatch.NumCols())+1)
	arrays := make([]arrow.Array, 0, cap(fields))

	for c := 0; c < int(probeBatch.NumCols()); c++ {
		col, err := gatherProbeColumn(probeBatch, c, res.ProbeIndices)
		if err != nil {
			return nil, err
		}
		fields = append(fields, probeBatch.Schema().Field(c))
		arrays = append(arrays, col)
	}

	buildCol, err := d.gatherBuildColumn(res.BuildIndices)
	if err != nil {
		return nil, err
	}
	buildCol2 := &physicalexpr.Column{Index: d.spec.BuildEqCol}
	fields = append(fields, arrow.Field{Name: "build_" + buildCol2.String(), Type: arrow.PrimitiveTypes.Int64, Nullable: true})
	arrays = append(arrays, buildCol)

	schema := arrow.NewSchema(fields, nil)
	out := array.NewRecord(schema, arrays, int64(len(res.ProbeIndices)))
	for _, a := range arrays {
		a.Release()
	}
	return out, nil
}

func gatherProbeColumn(rec arrow.Record, col int, probeIndices []int) (arrow.Array, error) {
	src, ok := rec.Column(col).(*array.Int64)
	if !ok {
		return nil, execerror.NewSchemaError(nil, "probe column %d is not int64", col)
	}
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for _, idx := range probeIndices {
		if idx == indexadjuster.ProbeAbsent {
			b.AppendNull()
			continue
		}
		if src.IsNull(idx) {
			b.AppendNull()
		} else {
			b.Append(src.Value(idx))
		}
	}
	return b.NewArray(), nil
}

func (d *SlidingWindowDriver) gatherBuildColumn(buildIndices []indexadjuster.BuildRowID) (arrow.Array, error) {
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	for _, bid := range buildIndices {
		if !bid.Valid {
			b.AppendNull()
			continue
		}
		batch, row := d.buildBuf.rowAt(bid.Value)
		arr, ok := batch.Column(d.spec.BuildEqCol).(*array.Int64)
		if !ok {
			return nil, execerror.NewSchemaError(nil, "build column %d is not int64", d.spec.BuildEqCol)
		}
		if arr.IsNull(row) {
			b.AppendNull()
		} else {
			b.Append(arr.Value(row))
		}
	}
	return b.NewArray(), nil
}
