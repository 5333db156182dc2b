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
	"testing"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/stretchr/testify/require"
)

func int64At(rec arrow.Record, row int) int64 {
	return rec.Column(0).(*array.Int64).Value(row)
}

func TestSideBufferRowAtLocatesCorrectBatch(t *testing.T) {
	b := newSideBuffer()
	b.append(singleColBatch([]int64{10, 11, 12}), 0)
	b.append(singleColBatch([]int64{20, 21}), 3)
	b.append(singleColBatch([]int64{30}), 5)

	rec, off := b.rowAt(4)
	require.Equal(t, int64(21), int64At(rec, off))

	rec, off = b.rowAt(5)
	require.Equal(t, int64(30), int64At(rec, off))

	rec, off = b.rowAt(0)
	require.Equal(t, int64(10), int64At(rec, off))
}

func TestSideBufferRowAtPanicsOnUnknownRowID(t *testing.T) {
	b := newSideBuffer()
	b.append(singleColBatch([]int64{1, 2}), 0)
	require.Panics(t, func() { b.rowAt(99) })
}

func TestSideBufferPruneBeforeDropsWholeBatches(t *testing.T) {
	b := newSideBuffer()
	b.append(singleColBatch([]int64{1, 2}), 0)
	b.append(singleColBatch([]int64{3, 4}), 2)
	b.append(singleColBatch([]int64{5, 6}), 4)

	dropped := b.pruneBefore(4)
	require.Equal(t, 4, dropped)

	start, ok := b.firstStartRowID()
	require.True(t, ok)
	require.Equal(t, uint64(4), start)
	require.Panics(t, func() { b.rowAt(1) })
}

func TestSideBufferLastBatchTracksMostRecentAppend(t *testing.T) {
	b := newSideBuffer()
	_, ok := b.lastBatch()
	require.False(t, ok)

	b.append(singleColBatch([]int64{1}), 0)
	b.append(singleColBatch([]int64{2}), 1)

	last, ok := b.lastBatch()
	require.True(t, ok)
	require.Equal(t, int64(2), int64At(last, 0))
}

func TestSideBufferAscendVisitsInRowIDOrder(t *testing.T) {
	b := newSideBuffer()
	b.append(singleColBatch([]int64{3}), 2)
	b.append(singleColBatch([]int64{1}), 0)
	b.append(singleColBatch([]int64{2}), 1)

	var seen []uint64
	b.ascend(func(rec arrow.Record, startRowID uint64) bool {
		seen = append(seen, startRowID)
		return true
	})
	require.Equal(t, []uint64{0, 1, 2}, seen)
}
