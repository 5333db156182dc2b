// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package intervals

import (
	"github.com/cockroachdb/errors"
	"github.com/colvec/symjoin/pkg/sql/colexec/execerror"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
)

// ExprIntervalGraph is a small constraint-propagation DAG built once
// over a join filter's expression tree. It exists to satisfy the two
// contracts the spec requires of an interval graph:
//
//   - UpdateRanges seeds one or more node intervals (typically the
//     sort columns referenced by a SortedFilterExpression) and
//     re-derives every other node's interval from them.
//   - GetDeepestPruningExprs reports, for each leaf, the
//     tightest interval a constraint-satisfying assignment could give
//     it — the number a pruning decision is made against.
//
// The propagation is a two-pass evaluate/refine, the same shape used
// by the streaming-join implementation this package is ported from:
// a forward pass computes every node's interval bottom-up from its
// children (skipping nodes that were just seeded), then a backward
// pass assumes the root must be true and pushes the implied bounds
// back down through comparisons and arithmetic to the leaves.
type ExprIntervalGraph struct {
	nodes []*node
	root  int
}

type node struct {
	expr     physicalexpr.Expr
	interval Interval
	seeded   bool
	children []int
}

// NewExprIntervalGraph builds a graph over root's expression tree.
func NewExprIntervalGraph(root physicalexpr.Expr) *ExprIntervalGraph {
	g := &ExprIntervalGraph{}
	g.root = g.insert(root)
	return g
}

func (g *ExprIntervalGraph) insert(expr physicalexpr.Expr) int {
	children := expr.Children()
	childIdx := make([]int, len(children))
	for i, c := range children {
		childIdx[i] = g.insert(c)
	}
	g.nodes = append(g.nodes, &node{expr: expr, interval: Unbounded(), children: childIdx})
	return len(g.nodes) - 1
}

// NodeIndexFor returns the index of the node whose expression is
// structurally equal to target, or -1 if no such node exists. Callers
// (the sorted-filter-expression builder) use this to pin a sort
// column's filter-tree rewrite to a graph node once, up front.
func (g *ExprIntervalGraph) NodeIndexFor(target physicalexpr.Expr) int {
	for i, n := range g.nodes {
		if n.expr.Equal(target) {
			return i
		}
	}
	return -1
}

// RangeUpdate is one (node, interval) pair supplied to UpdateRanges.
type RangeUpdate struct {
	NodeIndex int
	Interval  Interval
}

// UpdateRanges seeds the given nodes' intervals and recomputes the
// whole graph: first a forward evaluation from leaves toward the
// root (for every node that wasn't just seeded), then a backward
// refinement from the root back down to the leaves assuming the root
// must evaluate true.
func (g *ExprIntervalGraph) UpdateRanges(updates []RangeUpdate) error {
	for _, n := range g.nodes {
		n.seeded = false
	}
	for _, u := range updates {
		if u.NodeIndex < 0 || u.NodeIndex >= len(g.nodes) {
			return execerror.NewInternalError("interval graph: node index %d out of range", u.NodeIndex)
		}
		g.nodes[u.NodeIndex].interval = u.Interval
		g.nodes[u.NodeIndex].seeded = true
	}
	if err := g.evaluateForward(g.root); err != nil {
		return err
	}
	g.refineBackward(g.root, g.nodes[g.root].interval)
	return nil
}

// evaluateForward fills in every non-seeded node's interval from its
// children, post-order.
func (g *ExprIntervalGraph) evaluateForward(idx int) error {
	n := g.nodes[idx]
	for _, c := range n.children {
		if err := g.evaluateForward(c); err != nil {
			return err
		}
	}
	if n.seeded {
		return nil
	}
	bin, ok := n.expr.(*physicalexpr.BinaryExpr)
	if !ok {
		// Columns and literals that were not explicitly seeded stay
		// unbounded; casts simply mirror their operand.
		if cast, ok := n.expr.(*physicalexpr.CastExpr); ok {
			_ = cast
			if len(n.children) == 1 {
				n.interval = g.nodes[n.children[0]].interval
			}
		}
		return nil
	}
	left := g.nodes[n.children[0]].interval
	right := g.nodes[n.children[1]].interval
	var err error
	switch bin.Op {
	case physicalexpr.Plus:
		n.interval, err = left.Add(right)
	case physicalexpr.Minus:
		n.interval, err = left.Sub(right)
	case physicalexpr.Multiply:
		n.interval, err = left.Mul(right)
	default:
		// Comparisons and AND don't carry an arithmetic value interval;
		// they are only meaningful during the backward refinement pass.
		n.interval = Unbounded()
	}
	if err != nil {
		return errors.Wrapf(err, "evaluating interval for %s", bin.String())
	}
	return nil
}

// refineBackward pushes constraint down from idx, which is assumed to
// be forced into mustHold, into its children.
func (g *ExprIntervalGraph) refineBackward(idx int, mustHold Interval) {
	n := g.nodes[idx]
	bin, ok := n.expr.(*physicalexpr.BinaryExpr)
	if !ok {
		if cast, ok := n.expr.(*physicalexpr.CastExpr); ok {
			_ = cast
			if len(n.children) == 1 {
				g.nodes[n.children[0]].interval = g.nodes[n.children[0]].interval.Intersect(mustHold)
				g.refineBackward(n.children[0], g.nodes[n.children[0]].interval)
			}
			return
		}
		if !n.seeded {
			n.interval = n.interval.Intersect(mustHold)
		}
		return
	}

	left, right := n.children[0], n.children[1]
	leftIv, rightIv := g.nodes[left].interval, g.nodes[right].interval

	switch bin.Op {
	case physicalexpr.And:
		// Both operands of an AND must independently hold true; each
		// comparison child refines itself against its own "true" shape.
		g.refineBackward(left, leftIv)
		g.refineBackward(right, rightIv)
		return
	case physicalexpr.Gt, physicalexpr.GtEq:
		// left OP right: shrink left's lower bound up to right's lower,
		// and right's upper bound down to left's upper.
		closed := bin.Op == physicalexpr.GtEq
		if !rightIv.Lower.Unbounded {
			newLower := Bound{Value: rightIv.Lower.Value, Closed: closed}
			leftIv = leftIv.Intersect(Interval{Lower: newLower, Upper: UnboundedUpper()})
		}
		if !leftIv.Upper.Unbounded {
			newUpper := Bound{Value: leftIv.Upper.Value, Closed: closed}
			rightIv = rightIv.Intersect(Interval{Lower: UnboundedLower(), Upper: newUpper})
		}
	case physicalexpr.Lt, physicalexpr.LtEq:
		closed := bin.Op == physicalexpr.LtEq
		if !rightIv.Upper.Unbounded {
			newUpper := Bound{Value: rightIv.Upper.Value, Closed: closed}
			leftIv = leftIv.Intersect(Interval{Lower: UnboundedLower(), Upper: newUpper})
		}
		if !leftIv.Lower.Unbounded {
			newLower := Bound{Value: leftIv.Lower.Value, Closed: closed}
			rightIv = rightIv.Intersect(Interval{Lower: newLower, Upper: UnboundedUpper()})
		}
	case physicalexpr.Eq:
		leftIv = leftIv.Intersect(rightIv)
		rightIv = rightIv.Intersect(leftIv)
	default:
		// Plus/Minus/Multiply: invert the arithmetic to push mustHold
		// (the interval this node's result is required to fall within)
		// down into each operand, holding the other operand's forward
		// value fixed.
		switch bin.Op {
		case physicalexpr.Plus:
			if iv, err := mustHold.Sub(rightIv); err == nil {
				leftIv = leftIv.Intersect(iv)
			}
			if iv, err := mustHold.Sub(leftIv); err == nil {
				rightIv = rightIv.Intersect(iv)
			}
		case physicalexpr.Minus:
			if iv, err := mustHold.Add(rightIv); err == nil {
				leftIv = leftIv.Intersect(iv)
			}
			if iv, err := leftIv.Sub(mustHold); err == nil {
				rightIv = rightIv.Intersect(iv)
			}
		}
	}

	if !g.nodes[left].seeded {
		g.nodes[left].interval = leftIv
	} else {
		g.nodes[left].interval = g.nodes[left].interval.Intersect(leftIv)
	}
	if !g.nodes[right].seeded {
		g.nodes[right].interval = rightIv
	} else {
		g.nodes[right].interval = g.nodes[right].interval.Intersect(rightIv)
	}
	g.refineBackward(left, g.nodes[left].interval)
	g.refineBackward(right, g.nodes[right].interval)
}

// PruningExpr is one entry returned by GetDeepestPruningExprs: the
// node index and its post-refinement interval.
type PruningExpr struct {
	NodeIndex int
	Expr      physicalexpr.Expr
	Interval  Interval
}

// GetDeepestPruningExprs reports the current interval at every leaf
// node (Column or Literal) in the graph — the "deepest" nodes, in the
// sense that they have no children left to refine further. Pruning
// decisions are made by comparing a batch's values against these.
func (g *ExprIntervalGraph) GetDeepestPruningExprs() []PruningExpr {
	var out []PruningExpr
	for i, n := range g.nodes {
		if len(n.children) == 0 {
			out = append(out, PruningExpr{NodeIndex: i, Expr: n.expr, Interval: n.interval})
		}
	}
	return out
}

// IntervalAt returns the current interval stored at idx.
func (g *ExprIntervalGraph) IntervalAt(idx int) Interval {
	return g.nodes[idx].interval
}
