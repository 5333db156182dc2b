// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package indexadjuster

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

func TestAppendProbeIndicesInOrderFillsGapsWithNulls(t *testing.T) {
	matchedProbe := []int{1, 1, 2, 4}
	matchedBuild := []uint64{10, 20, 30, 40}

	res, err := AppendProbeIndicesInOrder(matchedProbe, matchedBuild, 7)
	require.NoError(t, err)

	require.Equal(t, []int{0, 1, 1, 2, 3, 4, 5, 6}, res.ProbeIndices)
	require.Equal(t, []BuildRowID{
		Unmatched,
		Matched(10),
		Matched(20),
		Matched(30),
		Unmatched,
		Matched(40),
		Unmatched,
		Unmatched,
	}, res.BuildIndices)
}

func TestAppendProbeIndicesInOrderRejectsMismatchedLengths(t *testing.T) {
	_, err := AppendProbeIndicesInOrder([]int{0}, nil, 1)
	require.Error(t, err)
}

func TestAdjustRightOuterMatchesScenario(t *testing.T) {
	res, err := Adjust(sqlbase.JoinType_RIGHT_OUTER,
		[]int{1, 1, 2, 4}, []uint64{10, 20, 30, 40}, 7, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1, 1, 2, 3, 4, 5, 6}, res.ProbeIndices)
}

func TestAdjustFullOuterAppendsUnmatchedBuildRows(t *testing.T) {
	res, err := Adjust(sqlbase.JoinType_FULL_OUTER,
		[]int{0}, []uint64{1}, 1, []uint64{1, 2, 3})
	require.NoError(t, err)
	require.Equal(t, []int{0, ProbeAbsent, ProbeAbsent}, res.ProbeIndices)
	require.Equal(t, []BuildRowID{Matched(1), Matched(2), Matched(3)}, res.BuildIndices)
}

func TestAdjustRightSemiDeduplicates(t *testing.T) {
	res, err := Adjust(sqlbase.JoinType_RIGHT_SEMI,
		[]int{2, 0, 2, 0}, []uint64{1, 2, 3, 4}, 3, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, res.ProbeIndices)
}

func TestAdjustRightAntiComplements(t *testing.T) {
	res, err := Adjust(sqlbase.JoinType_RIGHT_ANTI,
		[]int{1}, []uint64{9}, 3, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 2}, res.ProbeIndices)
}

func TestAdjustLeftSemiDefersToPruneTime(t *testing.T) {
	res, err := Adjust(sqlbase.JoinType_LEFT_SEMI, nil, nil, 0, nil)
	require.NoError(t, err)
	require.Empty(t, res.ProbeIndices)
}

func TestPruningOuterIndicesLeftOuterReturnsUnvisitedRows(t *testing.T) {
	visited := map[uint64]bool{10: true, 12: true}
	res, err := PruningOuterIndices(4, visited, 10, sqlbase.JoinType_LEFT_OUTER)
	require.NoError(t, err)
	require.Equal(t, []int{ProbeAbsent, ProbeAbsent}, res.ProbeIndices)
	require.Equal(t, []BuildRowID{Matched(11), Matched(13)}, res.BuildIndices)
}

func TestPruningOuterIndicesFullOuterMatchesLeftOuter(t *testing.T) {
	visited := map[uint64]bool{10: true, 12: true}
	res, err := PruningOuterIndices(4, visited, 10, sqlbase.JoinType_FULL_OUTER)
	require.NoError(t, err)
	require.Equal(t, []BuildRowID{Matched(11), Matched(13)}, res.BuildIndices)
}

func TestPruningOuterIndicesLeftSemiReturnsVisitedRows(t *testing.T) {
	visited := map[uint64]bool{10: true, 12: true}
	res, err := PruningOuterIndices(4, visited, 10, sqlbase.JoinType_LEFT_SEMI)
	require.NoError(t, err)
	require.Equal(t, []BuildRowID{Matched(10), Matched(12)}, res.BuildIndices)
}

func TestPruningOuterIndicesRejectsUnsupportedJoinType(t *testing.T) {
	_, err := PruningOuterIndices(1, nil, 0, sqlbase.JoinType_INNER)
	require.Error(t, err)
}

func TestAdjustInnerPassesThrough(t *testing.T) {
	res, err := Adjust(sqlbase.JoinType_INNER, []int{0, 1}, []uint64{5, 6}, 2, nil)
	require.NoError(t, err)
	require.Equal(t, []int{0, 1}, res.ProbeIndices)
	require.Equal(t, []BuildRowID{Matched(5), Matched(6)}, res.BuildIndices)
}
