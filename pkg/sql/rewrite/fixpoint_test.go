// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package rewrite

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
)

func TestRewriteCycleIdentityStopsAfterOneCleanCycle(t *testing.T) {
	noop := RewriterFunc[int](func(n int) (Transformed[int], error) {
		return Unchanged(n), nil
	})
	result, report, err := RunFixpoint(7, []Rewriter[int]{noop, noop}, 10)
	require.NoError(t, err)
	require.Equal(t, 7, result)
	require.Equal(t, 2, report.TotalIterations)
	require.Equal(t, 2, report.CycleLength)
	require.Equal(t, 1, report.CompletedCycles())
}

func TestRewriteCycleAlwaysTransformsRunsUntilCycleBudget(t *testing.T) {
	increment := RewriterFunc[int](func(n int) (Transformed[int], error) {
		return Changed(n + 1), nil
	})
	result, report, err := RunFixpoint(0, []Rewriter[int]{increment}, 5)
	require.NoError(t, err)
	require.Equal(t, 5, result)
	require.Equal(t, 5, report.TotalIterations)
	require.Equal(t, 1, report.CycleLength)
	require.Equal(t, 5, report.CompletedCycles())
}

// incrementTowardTarget models a rewrite rule that only makes one unit
// of progress per invocation, forcing RunFixpoint to run several
// cycles before it reaches a fixpoint -- unlike a single bottom-up
// tree rewrite, which can resolve an entire nested expression in one
// pass.
type counterNode struct {
	value, target int
}

func incrementTowardTarget(n counterNode) (Transformed[counterNode], error) {
	if n.value >= n.target {
		return Unchanged(n), nil
	}
	n.value++
	return Changed(n), nil
}

func TestRewriteCycleMultiplePassesUntilFixpoint(t *testing.T) {
	rw := RewriterFunc[counterNode](incrementTowardTarget)
	start := counterNode{value: 0, target: 3}
	result, report, err := RunFixpoint(start, []Rewriter[counterNode]{rw}, 10)
	require.NoError(t, err)
	require.Equal(t, 3, result.value)
	// 3 cycles to reach the target, plus one clean cycle to confirm it.
	require.Equal(t, 4, report.TotalIterations)
	require.Equal(t, 4, report.CompletedCycles())
}

// foldOp builds a rewriter that folds exactly one binary operator of
// literal operands per invocation, leaving every other node (including
// binary expressions of a different operator) untouched. Scenario 3
// pairs one of these per arithmetic operator so that folding a deeply
// nested expression takes several cycles to reach a fixpoint, the way
// a real rule set (one rewriter per rule) does.
func foldOp(op physicalexpr.Operator) Rewriter[physicalexpr.Expr] {
	return RewriterFunc[physicalexpr.Expr](func(e physicalexpr.Expr) (Transformed[physicalexpr.Expr], error) {
		anyChanged := false
		out, _, err := e.TransformUp(func(node physicalexpr.Expr) (physicalexpr.Expr, bool, error) {
			bin, ok := node.(*physicalexpr.BinaryExpr)
			if !ok || bin.Op != op {
				return node, false, nil
			}
			l, lok := bin.Left.(*physicalexpr.Literal)
			r, rok := bin.Right.(*physicalexpr.Literal)
			if !lok || !rok || l.Value.Null || r.Value.Null {
				return node, false, nil
			}
			var v int64
			switch op {
			case physicalexpr.Plus:
				v = l.Value.Value + r.Value.Value
			case physicalexpr.Multiply:
				v = l.Value.Value * r.Value.Value
			default:
				return node, false, nil
			}
			anyChanged = true
			return physicalexpr.NewLiteral(v), true, nil
		})
		if err != nil {
			return Transformed[physicalexpr.Expr]{}, err
		}
		if anyChanged {
			return Changed(out), nil
		}
		return Unchanged(out), nil
	})
}

// constFoldExpr builds 6 + (4 * (2 + (3 * 5))), Scenario 3's expression.
func constFoldExpr() physicalexpr.Expr {
	return physicalexpr.NewBinaryExpr(
		physicalexpr.NewLiteral(6),
		physicalexpr.Plus,
		physicalexpr.NewBinaryExpr(
			physicalexpr.NewLiteral(4),
			physicalexpr.Multiply,
			physicalexpr.NewBinaryExpr(
				physicalexpr.NewLiteral(2),
				physicalexpr.Plus,
				physicalexpr.NewBinaryExpr(physicalexpr.NewLiteral(3), physicalexpr.Multiply, physicalexpr.NewLiteral(5)),
			),
		),
	)
}

func TestRewriteCycleConstFoldingReachesFixpointMidCycle(t *testing.T) {
	rewriters := []Rewriter[physicalexpr.Expr]{foldOp(physicalexpr.Plus), foldOp(physicalexpr.Multiply)}

	result, report, err := RunFixpoint[physicalexpr.Expr](constFoldExpr(), rewriters, 4)
	require.NoError(t, err)
	require.Equal(t, "74", result.String())
	require.Equal(t, 7, report.TotalIterations)
	require.Equal(t, 3, report.CompletedCycles())
}

func TestRewriteCycleConstFoldingStopsAtCycleBudget(t *testing.T) {
	rewriters := []Rewriter[physicalexpr.Expr]{foldOp(physicalexpr.Plus), foldOp(physicalexpr.Multiply)}

	result, report, err := RunFixpoint[physicalexpr.Expr](constFoldExpr(), rewriters, 2)
	require.NoError(t, err)
	require.Equal(t, "(6 + 68)", result.String())
	require.Equal(t, 4, report.TotalIterations)
	require.Equal(t, 2, report.CompletedCycles())
}
