// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

// Package filterorder derives, for one join side, the subset of its
// known sort orderings that the join filter can actually prune
// against. A sort expression is only useful to the sliding window
// driver if rewriting it into the filter's intermediate column space
// produces a subtree that appears, structurally, somewhere in the
// filter expression -- only then does the interval graph have
// anywhere to attach a live bound for it.
package filterorder

import (
	"github.com/colvec/symjoin/pkg/sql/colexec/joinfilter"
	"github.com/colvec/symjoin/pkg/sql/colexec/sortedfilterexpr"
	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
	"github.com/colvec/symjoin/pkg/sql/sqlbase"
)

// Builder derives prunable sorted filter expressions for one side of a
// join.
type Builder struct {
	Side    sqlbase.JoinSide
	Filter  *joinfilter.JoinFilter
	Graph   *intervals.ExprIntervalGraph
	EqProps *physicalexpr.EquivalenceProperties
	OrderEq *physicalexpr.OrderingEquivalenceProperties
}

// Build attempts to find a prunable sorted filter expression for each
// entry of candidate, in order. For each entry the seeds from
// seedExprs are tried in turn and the first one proven prunable yields
// one SortedFilterExpression; entries with no prunable seed are
// skipped. Every entry that succeeds is returned and the caller
// chooses how many to use.
func (b *Builder) Build(candidate []physicalexpr.PhysicalSortExpr) []*sortedfilterexpr.SortedFilterExpression {
	var out []*sortedfilterexpr.SortedFilterExpression
	for _, sortExpr := range candidate {
		seeds := b.seedExprs(sortExpr.Expr)
		for _, seed := range seeds {
			rewritten, ok := b.rewriteToIntermediate(seed)
			if !ok {
				continue
			}
			if !physicalexpr.ContainsSubtree(b.Filter.Expression, rewritten) {
				continue
			}
			nodeIdx := b.Graph.NodeIndexFor(rewritten)
			if nodeIdx < 0 {
				continue
			}
			sfe := sortedfilterexpr.New(sortExpr, rewritten)
			sfe.SetNodeIndex(nodeIdx)
			out = append(out, sfe)
			break
		}
	}
	return out
}

// seedExprs returns expr itself plus every variant obtainable by
// substituting one of its referenced columns with an equivalence-class
// alternate. The original expression is always tried first so that an
// exact, unsubstituted match is preferred.
func (b *Builder) seedExprs(expr physicalexpr.Expr) []physicalexpr.Expr {
	seeds := []physicalexpr.Expr{expr}
	if b.EqProps == nil {
		return seeds
	}
	for _, col := range physicalexpr.CollectColumns(expr) {
		class := b.classFor(col)
		if class == nil {
			continue
		}
		for _, alt := range class.Columns {
			if alt.Index == col.Index {
				continue
			}
			substituted, _, err := expr.TransformUp(func(e physicalexpr.Expr) (physicalexpr.Expr, bool, error) {
				if c, ok := e.(*physicalexpr.Column); ok && c.Index == col.Index {
					return &physicalexpr.Column{Name: alt.Name, Index: alt.Index}, true, nil
				}
				return e, false, nil
			})
			if err == nil {
				seeds = append(seeds, substituted)
			}
		}
	}
	return seeds
}

func (b *Builder) classFor(col *physicalexpr.Column) *physicalexpr.EquivalenceClass {
	for _, c := range b.EqProps.Classes {
		if c.Contains(col) {
			return c
		}
	}
	return nil
}

// rewriteToIntermediate rewrites expr, whose Column nodes index into
// this builder's side's own input schema, into the join filter's
// intermediate column space. It fails if any referenced column is not
// part of the filter at all.
func (b *Builder) rewriteToIntermediate(expr physicalexpr.Expr) (physicalexpr.Expr, bool) {
	ok := true
	rewritten, _, err := expr.TransformUp(func(e physicalexpr.Expr) (physicalexpr.Expr, bool, error) {
		col, isCol := e.(*physicalexpr.Column)
		if !isCol {
			return e, false, nil
		}
		filterIdx := b.Filter.MapOriginColToFilterCol(b.Side, col.Index)
		if filterIdx < 0 {
			ok = false
			return e, false, nil
		}
		if filterIdx == col.Index {
			return e, false, nil
		}
		return &physicalexpr.Column{Name: col.Name, Index: filterIdx}, true, nil
	})
	if err != nil || !ok {
		return nil, false
	}
	return rewritten, true
}
