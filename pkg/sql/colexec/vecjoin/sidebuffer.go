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
	"github.com/apache/arrow/go/v17/arrow"
	"github.com/google/btree"

	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
)

// bufferEntry is one batch buffered for a side, ordered by the row id
// its first row was assigned when it entered the pruning hash index.
type bufferEntry struct {
	startRowID uint64
	rec        arrow.Record
}

func lessEntry(a, b bufferEntry) bool { return a.startRowID < b.startRowID }

// sideBuffer keeps the ordered run of batches buffered for one side of
// a join, indexed by the monotonically increasing row id each row was
// assigned when it entered the pruning hash index. Whole batches are
// dropped from the front once every row they contain has been pruned,
// which is why each batch records the id its first row was given
// rather than storing per-row ids. The entries are kept in a B-tree
// rather than a slice so rowAt can binary-search rather than scan --
// a build side buffering thousands of batches before a window closes
// is the common case this is meant for.
type sideBuffer struct {
	tree *btree.BTreeG[bufferEntry]
	n    int
}

func newSideBuffer() *sideBuffer {
	return &sideBuffer{tree: btree.NewG(32, lessEntry)}
}

// append adds rec, whose first row was assigned startID.
func (b *sideBuffer) append(rec arrow.Record, startID uint64) {
	rec.Retain()
	b.tree.ReplaceOrInsert(bufferEntry{startRowID: startID, rec: rec})
	b.n++
}

// rowAt locates the batch and in-batch offset holding rowID.
func (b *sideBuffer) rowAt(rowID uint64) (arrow.Record, int) {
	var found bufferEntry
	ok := false
	b.tree.DescendLessOrEqual(bufferEntry{startRowID: rowID}, func(item bufferEntry) bool {
		found = item
		ok = true
		return false
	})
	if ok && rowID < found.startRowID+uint64(found.rec.NumRows()) {
		return found.rec, int(rowID - found.startRowID)
	}
	execerror.InternalPanic("side buffer: row id %d not found in any buffered batch", rowID)
	return nil, 0
}

// pruneBefore releases and drops every batch whose rows are entirely
// below waterMark, returning how many rows that represents so the
// caller can apply the same prune to the pruning hash index.
func (b *sideBuffer) pruneBefore(waterMark uint64) int {
	dropped := 0
	for {
		min, ok := b.tree.Min()
		if !ok {
			break
		}
		n := uint64(min.rec.NumRows())
		if min.startRowID+n > waterMark {
			break
		}
		b.tree.DeleteMin()
		min.rec.Release()
		b.n--
		dropped += int(n)
	}
	return dropped
}

// release drops every buffered batch, for use when the driver is torn
// down before the build side is exhausted.
func (b *sideBuffer) release() {
	b.tree.Ascend(func(item bufferEntry) bool {
		item.rec.Release()
		return true
	})
	b.tree.Clear(false)
	b.n = 0
}

// lastBatch returns the most recently appended (highest start row id)
// buffered batch, or ok=false if none is buffered.
func (b *sideBuffer) lastBatch() (rec arrow.Record, ok bool) {
	max, found := b.tree.Max()
	if !found {
		return nil, false
	}
	return max.rec, true
}

// firstStartRowID returns the start row id of the earliest buffered
// batch, or ok=false if none is buffered.
func (b *sideBuffer) firstStartRowID() (id uint64, ok bool) {
	min, found := b.tree.Min()
	if !found {
		return 0, false
	}
	return min.startRowID, true
}

// ascend calls fn for every buffered batch in row-id order, stopping
// early if fn returns false.
func (b *sideBuffer) ascend(fn func(rec arrow.Record, startRowID uint64) bool) {
	b.tree.Ascend(func(item bufferEntry) bool {
		return fn(item.rec, item.startRowID)
	})
}
