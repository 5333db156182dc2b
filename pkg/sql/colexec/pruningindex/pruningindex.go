// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package pruningindex implements PruningHashIndex, a bucket-chaining
// hash index over a monotonically increasing row id space that can
// drop its oldest entries once the sliding window driver proves they
// can no longer match a future probe row.
//
// The chaining structure mirrors the build-side hash table in a
// vectorized hash join: a bucket map from hash value to the most
// recently inserted row sharing that hash, and a parallel "next" array
// that lets a probe walk backward through every row with the same
// hash. Unlike a plain hash-join build table, rows are only ever
// appended at increasing row ids and only ever removed from the
// front, which is what PruneFront exploits: it can drop a contiguous
// prefix of the next array in one slice operation instead of
// rebuilding the whole index.
package pruningindex

import (
	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
)

// noRow marks the end of a hash bucket's chain.
const noRow = ^uint64(0)

// PruningHashIndex is not safe for concurrent use; the sliding window
// driver that owns one is single-threaded by construction (see the
// package doc on the driver).
type PruningHashIndex struct {
	buckets map[uint64]uint64
	next    []uint64
	baseRowID uint64
}

// New creates an empty index.
func New() *PruningHashIndex {
	return &PruningHashIndex{buckets: make(map[uint64]uint64)}
}

// Insert records a new row with the given hash and returns the row id
// assigned to it. Row ids are handed out in strictly increasing order
// starting from 0, and never reused even after the row is pruned.
func (idx *PruningHashIndex) Insert(hash uint64) uint64 {
	rowID := idx.baseRowID + uint64(len(idx.next))
	prev, ok := idx.buckets[hash]
	if !ok {
		prev = noRow
	}
	idx.next = append(idx.next, prev)
	idx.buckets[hash] = rowID
	return rowID
}

// Probe returns every live row id that was inserted with the given
// hash, most recently inserted first. Entries whose row id has since
// been pruned are skipped, and the bucket's head is lazily advanced
// past them so later probes of the same hash don't repeat the walk.
func (idx *PruningHashIndex) Probe(hash uint64) []uint64 {
	rowID, ok := idx.buckets[hash]
	if !ok {
		return nil
	}
	var out []uint64
	firstLive := true
	for rowID != noRow {
		if rowID < idx.baseRowID {
			// Everything from here back is pruned too, since rows only
			// ever chain to strictly older rows.
			break
		}
		if firstLive {
			idx.buckets[hash] = rowID
			firstLive = false
		}
		out = append(out, rowID)
		rowID = idx.next[rowID-idx.baseRowID]
	}
	if firstLive {
		// No live entries were found at all; nothing points at a row
		// that still exists, so the bucket is dead weight.
		delete(idx.buckets, hash)
	}
	return out
}

// Len reports the number of live rows currently indexed.
func (idx *PruningHashIndex) Len() int { return len(idx.next) }

// DefaultShrinkFactor is the fraction of allocated capacity below
// which PruneFront will reallocate the backing array to reclaim
// memory, rather than merely re-slicing it.
const DefaultShrinkFactor = 0.5

// PruneFront drops the oldest count rows from the index: they are no
// longer reachable from Probe, and their next-array slots are
// reclaimed. When the live slice falls below shrinkFactor of its
// current capacity, the backing array is reallocated at the smaller
// size so pruned memory is actually returned rather than merely
// becoming unreachable slack.
//
// count must not exceed Len(); violating that is an internal
// invariant failure; the prune driver is expected to only ever prune
// rows it has already proven are out of window.
func (idx *PruningHashIndex) PruneFront(count int, shrinkFactor float64) {
	if count < 0 || count > len(idx.next) {
		execerror.InternalPanic("pruning index: cannot prune %d rows out of %d live", count, len(idx.next))
	}
	if count == 0 {
		return
	}
	idx.baseRowID += uint64(count)
	remaining := idx.next[count:]
	if shrinkFactor > 0 && cap(idx.next) > 0 && float64(len(remaining))/float64(cap(idx.next)) < shrinkFactor {
		shrunk := make([]uint64, len(remaining))
		copy(shrunk, remaining)
		idx.next = shrunk
		return
	}
	idx.next = remaining
}

// SizeBytes estimates the index's current memory footprint: 8 bytes
// per live next-array entry plus an approximation of Go map overhead
// per bucket entry (key + value + bucket bookkeeping).
func (idx *PruningHashIndex) SizeBytes() uintptr {
	const nextEntryBytes = 8
	const mapEntryBytes = 8 + 8 + 8 // key, value, estimated per-entry map overhead
	return uintptr(len(idx.next))*nextEntryBytes + uintptr(len(idx.buckets))*mapEntryBytes
}
