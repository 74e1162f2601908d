// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package plan

import (
	"fmt"
	"strings"

	"github.com/tidwall/btree"
)

func columnIdxLess(a, b uint64) bool {
	return a < b
}

// ColumnSet is an ordered set of column indexes. Ordered so derived
// properties iterate deterministically.
type ColumnSet struct {
	set *btree.BTreeG[uint64]
}

func NewColumnSet() *ColumnSet {
	return &ColumnSet{
		set: btree.NewBTreeG[uint64](columnIdxLess),
	}
}

func (cs *ColumnSet) Insert(idxs ...uint64) {
	for _, idx := range idxs {
		cs.set.Set(idx)
	}
}

func (cs *ColumnSet) Contains(idx uint64) bool {
	_, has := cs.set.Get(idx)
	return has
}

func (cs *ColumnSet) Len() int {
	return cs.set.Len()
}

func (cs *ColumnSet) Empty() bool {
	return cs.set.Len() == 0
}

func (cs *ColumnSet) Ordered() []uint64 {
	ret := make([]uint64, 0, cs.set.Len())
	cs.set.Scan(func(idx uint64) bool {
		ret = append(ret, idx)
		return true
	})
	return ret
}

func (cs *ColumnSet) String() string {
	sb := strings.Builder{}
	sb.WriteByte('{')
	for i, idx := range cs.Ordered() {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%d", idx))
	}
	sb.WriteByte('}')
	return sb.String()
}

// RelationalProp is what the rewriter asks of a subtree: which columns it
// produces and which free column references it leaves unbound.
type RelationalProp struct {
	OutputColumns *ColumnSet
	OuterColumns  *ColumnSet
}

// deriveRelationalProp computes the relational properties of a subtree.
// Pure function of the tree shape.
func deriveRelationalProp(op *LogicalOperator) *RelationalProp {
	produced := NewColumnSet()
	used := NewColumnSet()
	collectColumns(op, produced, used)

	outer := NewColumnSet()
	used.set.Scan(func(idx uint64) bool {
		if !produced.Contains(idx) {
			outer.Insert(idx)
		}
		return true
	})
	return &RelationalProp{
		OutputColumns: produced,
		OuterColumns:  outer,
	}
}

func collectColumns(op *LogicalOperator, produced, used *ColumnSet) {
	if op == nil {
		return
	}
	switch op.Typ {
	case LOT_Scan:
		produced.Insert(op.ColIdxs...)
		collectExprColumns(used, op.Filters...)
	case LOT_DummyScan:
	case LOT_Filter:
		collectExprColumns(used, op.Filters...)
	case LOT_Project:
		for _, item := range op.Projects {
			produced.Insert(item.Index)
			collectExprColumns(used, item.Scalar)
		}
	case LOT_AggGroup:
		for _, item := range op.GroupBys {
			produced.Insert(item.Index)
			collectExprColumns(used, item.Scalar)
		}
		for _, item := range op.Aggs {
			produced.Insert(item.Index)
			collectExprColumns(used, item.Scalar)
		}
	case LOT_JOIN:
		if op.JoinTyp.isMark() {
			produced.Insert(op.MarkIndex)
		}
		collectExprColumns(used, op.LeftConds...)
		collectExprColumns(used, op.RightConds...)
		collectExprColumns(used, op.OnConds...)
	case LOT_Order:
		collectExprColumns(used, op.OrderBys...)
	case LOT_Limit:
		collectExprColumns(used, op.Limit, op.Offset)
	case LOT_Union:
	default:
		panic(fmt.Sprintf("usp %v", op.Typ))
	}
	for _, child := range op.Children {
		collectColumns(child, produced, used)
	}
}

func collectExprColumns(used *ColumnSet, exprs ...*Expr) {
	for _, e := range exprs {
		if e == nil {
			continue
		}
		if e.Typ == ET_Column {
			used.Insert(e.ColIdx)
		}
		if e.Typ == ET_Subquery {
			//nested, not yet rewritten plan. its own free refs leak upward.
			if e.ChildExpr != nil {
				collectExprColumns(used, e.ChildExpr)
			}
			sub := deriveRelationalProp(e.SubPlan)
			used.Insert(sub.OuterColumns.Ordered()...)
			continue
		}
		collectExprColumns(used, e.Children...)
		collectExprColumns(used, e.Params...)
	}
}
