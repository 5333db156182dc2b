// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package vecjoin

import (
	"context"
	"io"
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/stretchr/testify/require"

	"github.com/colvec/symjoin/pkg/sql/colexec/intervaltracker"
	"github.com/colvec/symjoin/pkg/sql/colexec/joinfilter"
	"github.com/colvec/symjoin/pkg/sql/colexec/sortedfilterexpr"
	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

func singleColBatch(values []int64) arrow.Record {
	schema := arrow.NewSchema([]arrow.Field{{Name: "v", Type: arrow.PrimitiveTypes.Int64}}, nil)
	b := array.NewInt64Builder(memory.DefaultAllocator)
	defer b.Release()
	b.AppendValues(values, nil)
	arr := b.NewArray()
	defer arr.Release()
	return array.NewRecord(schema, []arrow.Array{arr}, int64(len(values)))
}

// batchQueue is a BatchSource backed by a fixed slice of batches.
type batchQueue struct {
	batches []arrow.Record
	pos     int
}

func (q *batchQueue) Next(ctx context.Context) (arrow.Record, error) {
	if q.pos >= len(q.batches) {
		return nil, io.EOF
	}
	b := q.batches[q.pos]
	q.pos++
	return b, nil
}

func newTracker() (*intervaltracker.Tracker, *joinfilter.JoinFilter) {
	buildCol := &physicalexpr.Column{Name: "build_v", Index: 0}
	probeCol := &physicalexpr.Column{Name: "probe_v", Index: 1}
	filterExpr := physicalexpr.NewBinaryExpr(buildCol, physicalexpr.GtEq, probeCol)

	intermediateSchema := arrow.NewSchema([]arrow.Field{
		{Name: "build_v", Type: arrow.PrimitiveTypes.Int64},
		{Name: "probe_v", Type: arrow.PrimitiveTypes.Int64},
	}, nil)
	filter, err := joinfilter.New(filterExpr, intermediateSchema, []joinfilter.ColumnIndex{
		{Index: 0, Side: sqlbase.LeftSide},
		{Index: 0, Side: sqlbase.RightSide},
	})
	if err != nil {
		panic(err)
	}

	graph := intervals.NewExprIntervalGraph(filterExpr)
	buildOriginal := &physicalexpr.Column{Name: "v", Index: 0}
	probeOriginal := &physicalexpr.Column{Name: "v", Index: 0}
	build := sortedfilterexpr.New(physicalexpr.PhysicalSortExpr{Expr: buildOriginal}, buildCol)
	build.SetNodeIndex(graph.NodeIndexFor(buildCol))
	probe := sortedfilterexpr.New(physicalexpr.PhysicalSortExpr{Expr: probeOriginal}, probeCol)
	probe.SetNodeIndex(graph.NodeIndexFor(probeCol))

	return &intervaltracker.Tracker{Build: build, Probe: probe, Graph: graph}, filter
}

func TestSlidingWindowDriverInnerJoinMatchesEqualValues(t *testing.T) {
	tracker, filter := newTracker()

	build := &batchQueue{batches: []arrow.Record{singleColBatch([]int64{1, 2, 3, 4})}}
	probe := &batchQueue{batches: []arrow.Record{singleColBatch([]int64{2, 3})}}

	spec := Spec{
		JoinType:   sqlbase.JoinType_INNER,
		BuildSide:  sqlbase.LeftSide,
		BuildEqCol: 0,
		ProbeEqCol: 0,
		Filter:     filter,
	}
	driver := NewSlidingWindowDriver(spec, build, probe, tracker, NewMetrics(), nil)

	var totalRows int64
	for {
		batch, err := driver.Next(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		totalRows += batch.NumRows()
		batch.Release()
	}
	require.Equal(t, int64(2), totalRows)
}

func TestSlidingWindowDriverCancelStopsPromptly(t *testing.T) {
	tracker, filter := newTracker()
	build := &batchQueue{batches: []arrow.Record{singleColBatch([]int64{1, 2, 3})}}
	probe := &batchQueue{batches: []arrow.Record{singleColBatch([]int64{1})}}
	spec := Spec{JoinType: sqlbase.JoinType_INNER, BuildEqCol: 0, ProbeEqCol: 0, Filter: filter}
	driver := NewSlidingWindowDriver(spec, build, probe, tracker, nil, nil)
	driver.Cancel()
	_, err := driver.Next(context.Background())
	require.Error(t, err)
}
