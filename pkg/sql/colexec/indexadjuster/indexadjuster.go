// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package indexadjuster reshapes the raw (probe row, build row) match
// pairs a probe pass produces into the index pairs each join flavor
// actually needs to emit. A probe pass only ever reports matches; it
// is this package's job to turn that into the full outer-join
// accounting -- filling gaps with nulls, deduplicating for semi
// joins, or complementing for anti joins.
package indexadjuster

import (
	"sort"

	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

// BuildRowID is a possibly-absent build-side row id. Absent
// (Valid == false) represents an outer-join null.
type BuildRowID struct {
	Valid bool
	Value uint64
}

func Matched(v uint64) BuildRowID { return BuildRowID{Valid: true, Value: v} }

// Unmatched is the null build row id emitted when a probe row found no
// match under an outer join.
var Unmatched = BuildRowID{}

// Result is the adjusted pair of parallel index arrays: ProbeIndices[i]
// paired with BuildIndices[i] is one output row. A probe index of -1
// (see ProbeAbsent) marks a build-only row emitted by a full or left
// outer join's anti pass, which has no corresponding probe row.
type Result struct {
	ProbeIndices []int
	BuildIndices []BuildRowID
}

// ProbeAbsent marks a Result row that originates purely from the
// build side (a full/left outer join's unmatched build rows).
const ProbeAbsent = -1

// AppendProbeIndicesInOrder merges a set of matched (probe index,
// build id) pairs -- assumed sorted by ascending probe index, so that
// all matches for the same probe index are consecutive and in the
// order they were found --
// with the full probe index range [0, count), filling in a null build
// id for every probe index that had no match at all. The result
// preserves ascending probe-index order throughout, including across
// runs of duplicate matches for the same probe row.
func AppendProbeIndicesInOrder(matchedProbe []int, matchedBuild []uint64, count int) (Result, error) {
	if len(matchedProbe) != len(matchedBuild) {
		return Result{}, execerror.NewInternalError(
			"indexadjuster: %d matched probe indices but %d matched build ids", len(matchedProbe), len(matchedBuild))
	}
	res := Result{
		ProbeIndices: make([]int, 0, count),
		BuildIndices: make([]BuildRowID, 0, count),
	}
	i := 0
	for p := 0; p < count; p++ {
		matchedAny := false
		for i < len(matchedProbe) && matchedProbe[i] == p {
			res.ProbeIndices = append(res.ProbeIndices, p)
			res.BuildIndices = append(res.BuildIndices, Matched(matchedBuild[i]))
			i++
			matchedAny = true
		}
		if !matchedAny {
			res.ProbeIndices = append(res.ProbeIndices, p)
			res.BuildIndices = append(res.BuildIndices, Unmatched)
		}
	}
	return res, nil
}

// appendAntiBuildRows appends one (ProbeAbsent, buildID) row for every
// id in buildRowIDs that does not appear in matchedBuild, in
// ascending build id order. Used by FULL_OUTER to surface build rows
// that were never probed at all.
func appendAntiBuildRows(res Result, matchedBuild []uint64, buildRowIDs []uint64) Result {
	matched := make(map[uint64]bool, len(matchedBuild))
	for _, id := range matchedBuild {
		matched[id] = true
	}
	ids := append([]uint64(nil), buildRowIDs...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		if !matched[id] {
			res.ProbeIndices = append(res.ProbeIndices, ProbeAbsent)
			res.BuildIndices = append(res.BuildIndices, Matched(id))
		}
	}
	return res
}

// Adjust transforms the raw matched (probe index, build id) pairs
// produced by a probe pass into the shape joinType requires.
//
//   - INNER, LEFT_OUTER: the matched pairs are already in the right
//     shape; a LEFT_OUTER join's unmatched build rows are emitted by
//     the caller at prune time, via PruningOuterIndices.
//   - RIGHT_OUTER: every probe index in [0, probeCount) must appear,
//     with a null build id filling any that had no match.
//   - FULL_OUTER: as RIGHT_OUTER, plus one extra row per build id that
//     was never matched by any probe row at all.
//   - RIGHT_SEMI: one row per distinct probe index that matched at
//     least once, with no build id (existence only).
//   - RIGHT_ANTI: one row per probe index in [0, probeCount) that
//     matched nothing.
//   - LEFT_SEMI, LEFT_ANTI: these are decided once the build side is
//     fully pruned rather than per probe batch, so Adjust reports an
//     empty result here; see the driver's pruning-time accounting.
func Adjust(
	joinType sqlbase.JoinType,
	matchedProbe []int,
	matchedBuild []uint64,
	probeCount int,
	allBuildRowIDs []uint64,
) (Result, error) {
	switch joinType {
	case sqlbase.JoinType_INNER, sqlbase.JoinType_LEFT_OUTER:
		out := Result{ProbeIndices: matchedProbe, BuildIndices: make([]BuildRowID, len(matchedBuild))}
		for i, id := range matchedBuild {
			out.BuildIndices[i] = Matched(id)
		}
		return out, nil

	case sqlbase.JoinType_RIGHT_OUTER:
		return AppendProbeIndicesInOrder(matchedProbe, matchedBuild, probeCount)

	case sqlbase.JoinType_FULL_OUTER:
		res, err := AppendProbeIndicesInOrder(matchedProbe, matchedBuild, probeCount)
		if err != nil {
			return Result{}, err
		}
		return appendAntiBuildRows(res, matchedBuild, allBuildRowIDs), nil

	case sqlbase.JoinType_RIGHT_SEMI:
		seen := map[int]bool{}
		var probes []int
		for _, p := range matchedProbe {
			if !seen[p] {
				seen[p] = true
				probes = append(probes, p)
			}
		}
		sort.Ints(probes)
		return Result{ProbeIndices: probes, BuildIndices: make([]BuildRowID, len(probes))}, nil

	case sqlbase.JoinType_RIGHT_ANTI:
		matched := make(map[int]bool, len(matchedProbe))
		for _, p := range matchedProbe {
			matched[p] = true
		}
		var probes []int
		for p := 0; p < probeCount; p++ {
			if !matched[p] {
				probes = append(probes, p)
			}
		}
		return Result{ProbeIndices: probes, BuildIndices: make([]BuildRowID, len(probes))}, nil

	case sqlbase.JoinType_LEFT_SEMI, sqlbase.JoinType_LEFT_ANTI:
		return Result{}, nil

	default:
		return Result{}, execerror.NewInternalError("indexadjuster: unhandled join type %s", joinType)
	}
}

// PruningOuterIndices returns the build-only rows a join flavor owes
// once the build buffer is about to drop rows [deletedOffset,
// deletedOffset+pruneLength) for good. visitedRows records every build
// row id any probe row has ever matched, across the whole build side's
// lifetime, so this can be called once per prune rather than needing a
// running match bit per row.
//
//   - LEFT_OUTER, LEFT_ANTI, FULL_OUTER: the anti rows -- those never
//     visited -- each paired with a null probe index, since these rows
//     have no corresponding probe row to report.
//   - LEFT_SEMI: the semi rows -- those that were visited -- for the
//     same reason: existence only, no probe pairing.
//
// Other join flavors have no prune-time outer contribution and are
// rejected with an internal error.
func PruningOuterIndices(
	pruneLength int, visitedRows map[uint64]bool, deletedOffset uint64, joinType sqlbase.JoinType,
) (Result, error) {
	var want bool
	switch joinType {
	case sqlbase.JoinType_LEFT_OUTER, sqlbase.JoinType_LEFT_ANTI, sqlbase.JoinType_FULL_OUTER:
		want = false
	case sqlbase.JoinType_LEFT_SEMI:
		want = true
	default:
		return Result{}, execerror.NewInternalError("indexadjuster: pruning outer indices not defined for join type %s", joinType)
	}

	res := Result{}
	for v := 0; v < pruneLength; v++ {
		row := deletedOffset + uint64(v)
		if visitedRows[row] == want {
			res.ProbeIndices = append(res.ProbeIndices, ProbeAbsent)
			res.BuildIndices = append(res.BuildIndices, Matched(row))
		}
	}
	return res, nil
}
