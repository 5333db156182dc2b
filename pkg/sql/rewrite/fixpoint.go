// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package rewrite drives a fixed sequence of tree rewriters
// ("a cycle") repeatedly over a tree until a full pass through the
// whole cycle makes no further change, or a caller-supplied cycle
// budget is exhausted first. The query optimizer's plan-rewrite rules
// (predicate pushdown, projection pruning, constant folding, and so
// on) are exactly this shape: individually simple, but only provably
// finished once none of them has anything left to do.
package rewrite

// Transformed wraps a rewriter's result: the (possibly unchanged)
// node, and whether it actually changed anything. Rewriters must
// report Changed accurately -- RunFixpoint's termination depends on
// it, not on comparing nodes for equality.
type Transformed[N any] struct {
	Node    N
	Changed bool
}

// Unchanged wraps node as a no-op result, the common case for a
// rewriter whose pattern didn't match.
func Unchanged[N any](node N) Transformed[N] { return Transformed[N]{Node: node} }

// Changed wraps node as a result that did rewrite something.
func Changed[N any](node N) Transformed[N] { return Transformed[N]{Node: node, Changed: true} }

// Rewriter is a single rule applied once per cycle.
type Rewriter[N any] interface {
	Rewrite(node N) (Transformed[N], error)
}

// RewriterFunc adapts a plain function to the Rewriter interface.
type RewriterFunc[N any] func(N) (Transformed[N], error)

func (f RewriterFunc[N]) Rewrite(node N) (Transformed[N], error) { return f(node) }

// RewriteCycleState tracks a fixpoint run in progress: how many
// individual rewriter invocations have run so far, how many of the
// most recent ones in a row reported no change, and how many
// rewriters make up one cycle.
type RewriteCycleState[N any] struct {
	Node                  N
	RewriteCount          int
	ConsecutiveUnchanged  int
	CycleLength           int
}

// Report summarizes a finished fixpoint run. RunFixpoint can stop
// mid-cycle -- the moment consecutive_unchanged reaches cycle_length,
// which may happen before a cycle's last rewriter runs -- so
// TotalIterations is not always a multiple of CycleLength.
type Report struct {
	TotalIterations int
	CycleLength     int
}

// CompletedCycles returns how many full passes through the rewriter
// sequence were executed; TotalIterations / CycleLength rounds down,
// leaving any partial trailing cycle uncounted.
func (r Report) CompletedCycles() int {
	if r.CycleLength == 0 {
		return 0
	}
	return r.TotalIterations / r.CycleLength
}

// RunFixpoint applies rewriters to node, in order, repeating the whole
// sequence until one full pass makes no change at all, or maxCycles
// passes have run (maxCycles <= 0 means unbounded). It returns the
// final node and a report of how much work was done.
//
// An empty rewriters slice returns node unchanged with a zero Report
// and no error: there is nothing to reach a fixpoint over, and the
// loop below would report zero iterations per cycle forever without
// this guard.
func RunFixpoint[N any](node N, rewriters []Rewriter[N], maxCycles int) (N, Report, error) {
	state := RewriteCycleState[N]{Node: node, CycleLength: len(rewriters)}
	if state.CycleLength == 0 {
		return node, Report{CycleLength: 0}, nil
	}

cycleLoop:
	for cycle := 0; maxCycles <= 0 || cycle < maxCycles; cycle++ {
		for _, rw := range rewriters {
			t, err := rw.Rewrite(state.Node)
			if err != nil {
				return state.Node, Report{TotalIterations: state.RewriteCount, CycleLength: state.CycleLength}, err
			}
			state.Node = t.Node
			state.RewriteCount++
			if t.Changed {
				state.ConsecutiveUnchanged = 0
			} else {
				state.ConsecutiveUnchanged++
			}
			if state.ConsecutiveUnchanged >= state.CycleLength {
				break cycleLoop
			}
		}
	}

	return state.Node, Report{TotalIterations: state.RewriteCount, CycleLength: state.CycleLength}, nil
}
