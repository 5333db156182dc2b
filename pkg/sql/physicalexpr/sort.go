// Copyright 2018 The Cockroach Authors.
//
// Use of this software is governed by the Business Source License
// included in the file licenses/BSL.txt.
//
// As of the Change Date specified in that file, in accordance with
// the Business Source License, use of this software will be governed
// by the Apache License, Version 2.0, included in the file
// licenses/APL.txt.

package physicalexpr

// SortOptions describes the direction and null placement of a sort
// expression. The join engine only consults Descending: ascending
// filter columns yield build-side lower bounds and probe-side upper
// bounds, descending columns the reverse.
type SortOptions struct {
	Descending bool
	NullsFirst bool
}

// PhysicalSortExpr pairs an expression with the sort direction it is
// known to follow in its input stream.
type PhysicalSortExpr struct {
	Expr    Expr
	Options SortOptions
}

// EquivalenceClass is a set of columns known to hold equal values in
// every row (e.g. both sides of an equi-join key once combined).
type EquivalenceClass struct {
	Columns []*Column
}

// Contains reports whether col is a member of the class.
func (c *EquivalenceClass) Contains(col *Column) bool {
	for _, m := range c.Columns {
		if m.Index == col.Index && m.Name == col.Name {
			return true
		}
	}
	return false
}

// EquivalenceProperties is the read-only registry of known-equal
// columns for one side's input schema.
type EquivalenceProperties struct {
	Classes []*EquivalenceClass
}

// OrderingEquivalenceClass is a set of orderings (each a sequence of
// sort expressions) known to characterize the same physical sort.
// filterorder.Builder carries one in its OrderEq field but does not
// read it: only EquivalenceProperties feeds its seed substitution.
type OrderingEquivalenceClass struct {
	Orderings [][]PhysicalSortExpr
}

// OrderingEquivalenceProperties is the read-only registry of known
// orderings for one side's input schema.
type OrderingEquivalenceProperties struct {
	Class *OrderingEquivalenceClass
}
