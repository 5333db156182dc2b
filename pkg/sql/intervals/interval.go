// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package intervals implements the scalar interval arithmetic used to
// bound how much of a streaming join's build side must be buffered
// before a probe batch can be safely matched and the build side
// pruned. It plays the role the spec calls out as an external
// collaborator (ExprIntervalGraph); here it is a small, self-contained
// DAG that propagates interval constraints through a join filter
// expression built from +, -, *, comparisons, and AND.
package intervals

import (
	"math"

	"github.com/cockroachdb/errors"
)

// Scalar is the single scalar type intervals are defined over. Null
// represents SQL NULL (used as the build-side "unknown future" point
// interval); it is distinct from Unbounded, which represents +/-
// infinity.
type Scalar struct {
	Null  bool
	Value int64
}

func NewScalar(v int64) Scalar { return Scalar{Value: v} }

func NullScalar() Scalar { return Scalar{Null: true} }

// Less reports whether s sorts strictly before other. Nulls never
// compare less than anything (matching SQL's three-valued logic as
// applied to sort/interval bookkeeping: a null bound never proves a
// row is in or out of range).
func (s Scalar) Less(other Scalar) bool {
	if s.Null || other.Null {
		return false
	}
	return s.Value < other.Value
}

func (s Scalar) Equal(other Scalar) bool {
	if s.Null != other.Null {
		return false
	}
	return s.Null || s.Value == other.Value
}

func addChecked(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, errors.Newf("overflow computing %d + %d", a, b)
	}
	return sum, nil
}

func subChecked(a, b int64) (int64, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, errors.Newf("overflow computing %d - %d", a, b)
	}
	return diff, nil
}

func mulChecked(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	prod := a * b
	if prod/b != a {
		return 0, errors.Newf("overflow computing %d * %d", a, b)
	}
	return prod, nil
}

// Bound is one endpoint of an Interval. Unbounded endpoints are
// represented by the Unbounded flag rather than by a sentinel scalar
// value, per the spec's data model.
//
// Per the spec's open question on closed-vs-open endpoints (the
// source material is inconsistent about this), this implementation
// treats every bound as open (Closed: false) unless a caller
// explicitly constructs a closed one; see TestIntervalEndpointsAreOpenByDefault
// for the pinned-down semantics this module relies on.
type Bound struct {
	Value     Scalar
	Unbounded bool
	Closed    bool
}

func UnboundedLower() Bound { return Bound{Unbounded: true} }
func UnboundedUpper() Bound { return Bound{Unbounded: true} }

// OpenBound constructs a finite, open (exclusive) bound at v.
func OpenBound(v int64) Bound { return Bound{Value: NewScalar(v)} }

// ClosedBound constructs a finite, closed (inclusive) bound at v.
func ClosedBound(v int64) Bound { return Bound{Value: NewScalar(v), Closed: true} }

// Interval is a closed-or-open range over Scalar, following the data
// model in the spec: unbounded endpoints are flagged rather than
// sentineled.
type Interval struct {
	Lower, Upper Bound
}

// Unbounded returns the interval [-inf, +inf].
func Unbounded() Interval { return Interval{Lower: UnboundedLower(), Upper: UnboundedUpper()} }

// PointNull returns the "unknown future" interval the build side is
// seeded with before any probe batch has arrived: both endpoints are
// the null scalar, flagged unbounded so they never participate in a
// pruning decision. See update_filter_expr_bounds in the original
// streaming-join implementation this is ported from.
func PointNull() Interval {
	return Interval{
		Lower: Bound{Value: NullScalar(), Unbounded: true},
		Upper: Bound{Value: NullScalar(), Unbounded: true},
	}
}

// AscendingFirst builds (first, +inf), open at first, the shape used
// when a build-side column is ascending and we know its first buffered
// value.
func AscendingFirst(first int64) Interval {
	return Interval{Lower: OpenBound(first), Upper: UnboundedUpper()}
}

// DescendingFirst builds (-inf, first), open at first, the mirror for
// descending columns.
func DescendingFirst(first int64) Interval {
	return Interval{Lower: UnboundedLower(), Upper: OpenBound(first)}
}

// Contains reports whether v falls within the interval.
func (iv Interval) Contains(v Scalar) bool {
	if v.Null {
		return false
	}
	if iv.Lower.Value.Null && iv.Upper.Value.Null {
		// A point-null interval holds no non-null value.
		return false
	}
	if !iv.Lower.Unbounded {
		if iv.Lower.Closed {
			if v.Value < iv.Lower.Value.Value {
				return false
			}
		} else if v.Value <= iv.Lower.Value.Value {
			return false
		}
	}
	if !iv.Upper.Unbounded {
		if iv.Upper.Closed {
			if v.Value > iv.Upper.Value.Value {
				return false
			}
		} else if v.Value >= iv.Upper.Value.Value {
			return false
		}
	}
	return true
}

// Intersect narrows iv to the tightest range implied by both iv and
// other, picking the larger of the two lower bounds and the smaller
// of the two upper bounds.
func (iv Interval) Intersect(other Interval) Interval {
	lower := iv.Lower
	if !other.Lower.Unbounded && (lower.Unbounded || other.Lower.Value.Value > lower.Value.Value ||
		(other.Lower.Value.Value == lower.Value.Value && !other.Lower.Closed)) {
		lower = other.Lower
	}
	upper := iv.Upper
	if !other.Upper.Unbounded && (upper.Unbounded || other.Upper.Value.Value < upper.Value.Value ||
		(other.Upper.Value.Value == upper.Value.Value && !other.Upper.Closed)) {
		upper = other.Upper
	}
	return Interval{Lower: lower, Upper: upper}
}

// Add performs interval addition: [a,b] + [c,d] = [a+c, b+d], with
// unbounded endpoints propagating through.
func (iv Interval) Add(other Interval) (Interval, error) {
	return combine(iv, other, addChecked, math.MinInt64, math.MaxInt64)
}

// Sub performs interval subtraction: [a,b] - [c,d] = [a-d, b-c].
func (iv Interval) Sub(other Interval) (Interval, error) {
	flipped := Interval{Lower: other.Upper, Upper: other.Lower}
	return combine(iv, flipped, subChecked, math.MinInt64, math.MaxInt64)
}

// Mul performs interval multiplication. Only used by the filter
// grammar for scaling by positive-literal constants in practice, so a
// conservative all-pairs approach is used to stay correct for any
// sign combination.
func (iv Interval) Mul(other Interval) (Interval, error) {
	if iv.Lower.Unbounded || iv.Upper.Unbounded || other.Lower.Unbounded || other.Upper.Unbounded {
		return Unbounded(), nil
	}
	candidates := make([]int64, 0, 4)
	for _, a := range []int64{iv.Lower.Value.Value, iv.Upper.Value.Value} {
		for _, b := range []int64{other.Lower.Value.Value, other.Upper.Value.Value} {
			v, err := mulChecked(a, b)
			if err != nil {
				return Interval{}, err
			}
			candidates = append(candidates, v)
		}
	}
	lo, hi := candidates[0], candidates[0]
	for _, c := range candidates[1:] {
		if c < lo {
			lo = c
		}
		if c > hi {
			hi = c
		}
	}
	return Interval{Lower: ClosedBound(lo), Upper: ClosedBound(hi)}, nil
}

func combine(a, b Interval, op func(int64, int64) (int64, error), _, _ int64) (Interval, error) {
	var lower, upper Bound
	if a.Lower.Unbounded || b.Lower.Unbounded {
		lower = UnboundedLower()
	} else {
		v, err := op(a.Lower.Value.Value, b.Lower.Value.Value)
		if err != nil {
			return Interval{}, err
		}
		lower = Bound{Value: NewScalar(v), Closed: a.Lower.Closed && b.Lower.Closed}
	}
	if a.Upper.Unbounded || b.Upper.Unbounded {
		upper = UnboundedUpper()
	} else {
		v, err := op(a.Upper.Value.Value, b.Upper.Value.Value)
		if err != nil {
			return Interval{}, err
		}
		upper = Bound{Value: NewScalar(v), Closed: a.Upper.Closed && b.Upper.Closed}
	}
	return Interval{Lower: lower, Upper: upper}, nil
}
