// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package sortedfilterexpr

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/colvec/symjoin/pkg/sql/intervals"
	"github.com/colvec/symjoin/pkg/sql/physicalexpr"
)

func TestNewStartsUnboundedAndUnbound(t *testing.T) {
	col := &physicalexpr.Column{Name: "a", Index: 0}
	sfe := New(physicalexpr.PhysicalSortExpr{Expr: col}, col)

	iv := sfe.Interval()
	require.True(t, iv.Lower.Unbounded)
	require.True(t, iv.Upper.Unbounded)
	require.Panics(t, func() { sfe.NodeIndex() })
}

func TestSetIntervalUpdatesValue(t *testing.T) {
	col := &physicalexpr.Column{Name: "a", Index: 0}
	sfe := New(physicalexpr.PhysicalSortExpr{Expr: col}, col)

	sfe.SetInterval(intervals.AscendingFirst(5))
	require.False(t, sfe.Interval().Lower.Unbounded)
	require.True(t, sfe.Interval().Contains(intervals.NewScalar(6)))
}

func TestSetNodeIndexPanicsOnDoubleSet(t *testing.T) {
	col := &physicalexpr.Column{Name: "a", Index: 0}
	sfe := New(physicalexpr.PhysicalSortExpr{Expr: col}, col)

	sfe.SetNodeIndex(3)
	require.Equal(t, 3, sfe.NodeIndex())
	require.Panics(t, func() { sfe.SetNodeIndex(4) })
}
