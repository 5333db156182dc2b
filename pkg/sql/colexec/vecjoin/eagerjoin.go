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

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/colvec/symjoin/pkg/sql/colexec/indexadjuster"
	"github.com/colvec/symjoin/pkg/sql/colexec/pruningindex"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

// eagerState names EagerJoinStream's state machine steps.
type eagerState int

const (
	eagerPullLeft eagerState = iota
	eagerPullRight
	eagerLeftExhausted
	eagerRightExhausted
	eagerBothExhausted
)

// EagerJoinStream is SlidingWindowDriver's simpler sibling: a plain
// symmetric hash join over two streams with no known sort order to
// exploit. Both sides are hashed and buffered in full, and neither
// side is ever pruned -- it exists for join inputs the planner cannot
// prove are sorted, where SlidingWindowDriver's interval-based pruning
// has nothing to attach to. It still alternates eagerly between
// pulling the two inputs batch-by-batch rather than building one side
// to completion first, so whichever side happens to finish first
// bounds how much of the other this join has to have buffered before
// it can start emitting matches.
type EagerJoinStream struct {
	joinType sqlbase.JoinType
	leftEqCol, rightEqCol int
	left, right BatchSource

	leftIndex, rightIndex *pruningindex.PruningHashIndex
	leftBuf, rightBuf     *sideBuffer

	state          eagerState
	leftExhausted  bool
	rightExhausted bool
	pullLeftNext   bool
}

// NewEagerJoinStream builds an EagerJoinStream. leftEqCol/rightEqCol
// are the equality column positions within each side's own schema.
func NewEagerJoinStream(joinType sqlbase.JoinType, left, right BatchSource, leftEqCol, rightEqCol int) *EagerJoinStream {
	return &EagerJoinStream{
		joinType:   joinType,
		leftEqCol:  leftEqCol,
		rightEqCol: rightEqCol,
		left:       left,
		right:      right,
		leftIndex:  pruningindex.New(),
		rightIndex: pruningindex.New(),
		leftBuf:    newSideBuffer(),
		rightBuf:   newSideBuffer(),
		state:      eagerPullLeft,
		pullLeftNext: true,
	}
}

// Next pulls from whichever side hasn't been exhausted, alternating,
// probing each freshly pulled batch against the other side's index
// immediately, and returns the resulting match batch. Matches are
// reported as (leftRowID, rightRowID) pairs via matchedLeft/matchedRight;
// turning those into an output record uses the same projection shape
// as SlidingWindowDriver.project, so callers needing a full Arrow batch
// should wrap this type the same way.
func (e *EagerJoinStream) Next(ctx context.Context) (matchedLeft, matchedRight []uint64, err error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		switch e.state {
		case eagerPullLeft:
			rec, err := e.left.Next(ctx)
			if err == io.EOF {
				e.leftExhausted = true
				e.state = eagerLeftExhausted
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			ml, mr, perr := e.ingestAndProbe(rec, true)
			if perr != nil {
				return nil, nil, perr
			}
			e.state = e.nextPullState()
			if len(ml) > 0 {
				return ml, mr, nil
			}
		case eagerPullRight:
			rec, err := e.right.Next(ctx)
			if err == io.EOF {
				e.rightExhausted = true
				e.state = eagerRightExhausted
				continue
			}
			if err != nil {
				return nil, nil, err
			}
			ml, mr, perr := e.ingestAndProbe(rec, false)
			if perr != nil {
				return nil, nil, perr
			}
			e.state = e.nextPullState()
			if len(ml) > 0 {
				return ml, mr, nil
			}
		case eagerLeftExhausted:
			if e.rightExhausted {
				e.state = eagerBothExhausted
				continue
			}
			e.state = eagerPullRight
		case eagerRightExhausted:
			if e.leftExhausted {
				e.state = eagerBothExhausted
				continue
			}
			e.state = eagerPullLeft
		case eagerBothExhausted:
			e.teardown()
			return nil, nil, io.EOF
		}
	}
}

func (e *EagerJoinStream) nextPullState() eagerState {
	if e.leftExhausted && e.rightExhausted {
		return eagerBothExhausted
	}
	if e.leftExhausted {
		return eagerPullRight
	}
	if e.rightExhausted {
		return eagerPullLeft
	}
	e.pullLeftNext = !e.pullLeftNext
	if e.pullLeftNext {
		return eagerPullLeft
	}
	return eagerPullRight
}

func (e *EagerJoinStream) ingestAndProbe(rec arrow.Record, fromLeft bool) (matchedLeft, matchedRight []uint64, err error) {
	var ownIndex, otherIndex *pruningindex.PruningHashIndex
	var ownBuf *sideBuffer
	var ownEqCol, otherEqCol int
	if fromLeft {
		ownIndex, otherIndex = e.leftIndex, e.rightIndex
		ownBuf, ownEqCol, otherEqCol = e.leftBuf, e.leftEqCol, e.rightEqCol
	} else {
		ownIndex, otherIndex = e.rightIndex, e.leftIndex
		ownBuf, ownEqCol, otherEqCol = e.rightBuf, e.rightEqCol, e.leftEqCol
	}
	_ = otherEqCol

	startID := ownIndex.Len()
	n := int(rec.NumRows())
	ownRowIDs := make([]uint64, n)
	for i := 0; i < n; i++ {
		hash, err := eqKey(rec, ownEqCol, i)
		if err != nil {
			return nil, nil, err
		}
		ownRowIDs[i] = ownIndex.Insert(hash)
	}
	ownBuf.append(rec, uint64(startID))

	for i := 0; i < n; i++ {
		hash, err := eqKey(rec, ownEqCol, i)
		if err != nil {
			return nil, nil, err
		}
		for _, otherRowID := range otherIndex.Probe(hash) {
			if fromLeft {
				matchedLeft = append(matchedLeft, ownRowIDs[i])
				matchedRight = append(matchedRight, otherRowID)
			} else {
				matchedLeft = append(matchedLeft, otherRowID)
				matchedRight = append(matchedRight, ownRowIDs[i])
			}
		}
	}
	return matchedLeft, matchedRight, nil
}

// adjust reshapes raw matches the same way SlidingWindowDriver does,
// using the right side as the "probe" side of indexadjuster's
// vocabulary since EagerJoinStream has no fixed build/probe
// assignment -- both sides are built eagerly.
func (e *EagerJoinStream) adjust(matchedLeft, matchedRight []uint64, rightCount int) (indexadjuster.Result, error) {
	probeIdx := make([]int, len(matchedRight))
	for i := range matchedRight {
		probeIdx[i] = int(matchedRight[i])
	}
	return indexadjuster.Adjust(e.joinType, probeIdx, matchedLeft, rightCount, nil)
}

func (e *EagerJoinStream) teardown() {
	e.leftBuf.release()
	e.rightBuf.release()
}
