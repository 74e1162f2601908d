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

	"github.com/daviszhen/unnest/pkg/common"
	"github.com/daviszhen/unnest/pkg/util"
)

// tryDecorrelateSubquery turns a correlated subquery into a join on the
// correlated predicates. The subquery plan is duplicated with fresh column
// indexes, the correlated filters move into the join, and whatever cannot be
// phrased as an equi key becomes a residual condition on the join.
func (sr *SubqueryRewriter) tryDecorrelateSubquery(
	left *LogicalOperator,
	subquery *Expr,
	outerColumns *ColumnSet,
	flatten *FlattenInfo,
	isConjunctive bool,
) (*LogicalOperator, UnnestResult, error) {
	util.AssertFunc(!outerColumns.Empty())
	flattened, err := sr.flattenPlan(subquery.SubPlan.clone())
	if err != nil {
		return nil, UnnestResult{}, err
	}

	decorrelated, corrFilters, err := sr.pullCorrelatedFilters(flattened, outerColumns)
	if err != nil {
		return nil, UnnestResult{}, err
	}
	if len(corrFilters) == 0 {
		return nil, UnnestResult{}, internalError(
			"no correlated filter found in correlated subquery")
	}
	//the pull must leave nothing behind
	resident := deriveRelationalProp(decorrelated)
	if !resident.OuterColumns.Empty() {
		return nil, UnnestResult{}, internalError(
			"correlated columns remain after decorrelation: %s",
			resident.OuterColumns.String())
	}

	leftConds, rightConds, onConds := sr.splitCorrelatedConds(corrFilters, outerColumns)

	switch subquery.SubqueryTyp {
	case ET_SubqueryTypeScalar:
		if sr.outputIsBareCount(decorrelated, sr.remapColumn(subquery.OutputCol)) {
			flatten.FromCountFunc = true
		}
		join := &LogicalOperator{
			Typ:            LOT_JOIN,
			JoinTyp:        LOT_JoinTypeSINGLE,
			LeftConds:      leftConds,
			RightConds:     rightConds,
			OnConds:        onConds,
			FromCorrelated: true,
		}
		return createBinaryOp(join, left, decorrelated),
			UnnestResult{Typ: UnnestSingleJoin}, nil
	case ET_SubqueryTypeExists, ET_SubqueryTypeNotExists:
		if isConjunctive {
			joinTyp := LOT_JoinTypeSEMI
			if subquery.SubqueryTyp == ET_SubqueryTypeNotExists {
				joinTyp = LOT_JoinTypeANTI
			}
			join := &LogicalOperator{
				Typ:            LOT_JOIN,
				JoinTyp:        joinTyp,
				LeftConds:      leftConds,
				RightConds:     rightConds,
				OnConds:        onConds,
				FromCorrelated: true,
			}
			return createBinaryOp(join, left, decorrelated),
				UnnestResult{Typ: UnnestSimpleJoin}, nil
		}
		//under OR or a projection the existence test must survive as a
		//value. a mark join computes it per outer row.
		marker := sr.markerColumn(subquery)
		join := &LogicalOperator{
			Typ:            LOT_JOIN,
			JoinTyp:        LOT_JoinTypeRightMARK,
			LeftConds:      leftConds,
			RightConds:     rightConds,
			OnConds:        onConds,
			MarkIndex:      marker,
			FromCorrelated: true,
		}
		return createBinaryOp(join, left, decorrelated),
			UnnestResult{Typ: UnnestMarkJoin, MarkerIndex: marker}, nil
	case ET_SubqueryTypeAny:
		if subquery.ChildExpr == nil || !subquery.CompareOp.isComparison() {
			return nil, UnnestResult{}, internalError(
				"any subquery needs child expr and comparison op")
		}
		index := sr.remapColumn(subquery.OutputCol)
		innerRef := colRefExpr(index,
			fmt.Sprintf("subquery_%d", index), subquery.DataTyp)
		outerRef, isNonEqui, err := checkChildExprInSubquery(
			subquery.ChildExpr, subquery.CompareOp)
		if err != nil {
			return nil, UnnestResult{}, err
		}
		if !isNonEqui {
			leftConds = append(leftConds, outerRef)
			rightConds = append(rightConds, innerRef)
		} else {
			onConds = append(onConds, &Expr{
				Typ:      ET_Func,
				SubTyp:   subquery.CompareOp,
				DataTyp:  common.BooleanType().WrapNullable(),
				FuncName: subquery.CompareOp.String(),
				Children: []*Expr{outerRef, innerRef},
			})
		}
		marker := sr.markerColumn(subquery)
		join := &LogicalOperator{
			Typ:            LOT_JOIN,
			JoinTyp:        LOT_JoinTypeRightMARK,
			LeftConds:      leftConds,
			RightConds:     rightConds,
			OnConds:        onConds,
			MarkIndex:      marker,
			FromCorrelated: true,
		}
		return createBinaryOp(join, left, decorrelated),
			UnnestResult{Typ: UnnestMarkJoin, MarkerIndex: marker}, nil
	default:
		return nil, UnnestResult{}, internalError(
			"usp subquery type %v in decorrelation", subquery.SubqueryTyp)
	}
}

// flattenPlan remints every column the subquery produces under a fresh
// derived index and rewrites the plan to use the new indexes. Outer column
// refs have no entry in derivedColumns and pass through unchanged, so after
// the rename only the correlation still points outside.
func (sr *SubqueryRewriter) flattenPlan(op *LogicalOperator) (*LogicalOperator, error) {
	for i, child := range op.Children {
		newChild, err := sr.flattenPlan(child)
		if err != nil {
			return nil, err
		}
		op.Children[i] = newChild
	}
	switch op.Typ {
	case LOT_Scan:
		util.AssertFunc(len(op.ColIdxs) == len(op.Columns) &&
			len(op.ColIdxs) == len(op.Types))
		for i, colIdx := range op.ColIdxs {
			newIdx := sr.metadata.AddDerivedColumn(op.Columns[i], op.Types[i])
			sr.derivedColumns[colIdx] = newIdx
			op.ColIdxs[i] = newIdx
		}
	case LOT_DummyScan:
	case LOT_Project:
		for _, item := range op.Projects {
			item.Scalar = sr.remapExpr(item.Scalar)
			newIdx := sr.metadata.AddDerivedColumn(
				item.Scalar.Name, item.Scalar.DataTyp)
			sr.derivedColumns[item.Index] = newIdx
			item.Index = newIdx
		}
	case LOT_Filter:
		for i, f := range op.Filters {
			op.Filters[i] = sr.remapExpr(f)
		}
	case LOT_AggGroup:
		for _, item := range op.GroupBys {
			item.Scalar = sr.remapExpr(item.Scalar)
			newIdx := sr.metadata.AddDerivedColumn(
				item.Scalar.Name, item.Scalar.DataTyp)
			sr.derivedColumns[item.Index] = newIdx
			item.Index = newIdx
		}
		for _, item := range op.Aggs {
			item.Scalar = sr.remapExpr(item.Scalar)
			name := item.Scalar.Alias
			if len(name) == 0 {
				name = item.Scalar.FuncName
			}
			newIdx := sr.metadata.AddDerivedColumn(name, item.Scalar.DataTyp)
			sr.derivedColumns[item.Index] = newIdx
			item.Index = newIdx
		}
	case LOT_Order:
		for i, o := range op.OrderBys {
			op.OrderBys[i] = sr.remapExpr(o)
		}
	case LOT_Limit:
	case LOT_JOIN:
		for i, e := range op.LeftConds {
			op.LeftConds[i] = sr.remapExpr(e)
		}
		for i, e := range op.RightConds {
			op.RightConds[i] = sr.remapExpr(e)
		}
		for i, e := range op.OnConds {
			op.OnConds[i] = sr.remapExpr(e)
		}
		if op.JoinTyp.isMark() {
			newIdx := sr.metadata.AddDerivedColumn(
				fmt.Sprintf("%d", op.MarkIndex),
				common.BooleanType().WrapNullable())
			sr.derivedColumns[op.MarkIndex] = newIdx
			op.MarkIndex = newIdx
		}
	case LOT_Union:
	default:
		return nil, internalError("invalid plan type %v in flatten", op.Typ)
	}
	return op, nil
}

func (sr *SubqueryRewriter) remapColumn(idx uint64) uint64 {
	if newIdx, has := sr.derivedColumns[idx]; has {
		return newIdx
	}
	return idx
}

func (sr *SubqueryRewriter) remapExpr(e *Expr) *Expr {
	if e == nil {
		return nil
	}
	if e.Typ == ET_Column {
		newIdx, has := sr.derivedColumns[e.ColIdx]
		if !has {
			return e
		}
		ret := *e
		ret.ColIdx = newIdx
		return &ret
	}
	ret := *e
	ret.Children = make([]*Expr, len(e.Children))
	for i, child := range e.Children {
		ret.Children[i] = sr.remapExpr(child)
	}
	return &ret
}

// pullCorrelatedFilters hoists every filter predicate that refers to an
// outer column up out of the subquery. Hoisting past an aggregate adds the
// inner columns the predicate reads to the group keys so the predicate still
// sees them. Hoisting past a projection widens the projection the same way.
func (sr *SubqueryRewriter) pullCorrelatedFilters(
	op *LogicalOperator,
	outerColumns *ColumnSet,
) (*LogicalOperator, []*Expr, error) {
	var pulled []*Expr
	for i, child := range op.Children {
		newChild, childPulled, err := sr.pullCorrelatedFilters(child, outerColumns)
		if err != nil {
			return nil, nil, err
		}
		op.Children[i] = newChild
		pulled = append(pulled, childPulled...)
	}
	switch op.Typ {
	case LOT_Filter:
		var kept []*Expr
		for _, f := range op.Filters {
			if exprReferencesAny(f, outerColumns) {
				pulled = append(pulled, f)
			} else {
				kept = append(kept, f)
			}
		}
		if len(kept) == 0 && len(pulled) > 0 {
			return op.Children[0], pulled, nil
		}
		op.Filters = kept
	case LOT_AggGroup:
		for _, idx := range innerColumnsOf(pulled, outerColumns) {
			if op.hasGroupKey(idx) {
				continue
			}
			typ, name := sr.columnMeta(idx)
			op.GroupBys = append(op.GroupBys, &ScalarItem{
				Scalar: colRefExpr(idx, name, typ),
				Index:  idx,
			})
		}
	case LOT_Project:
		for _, idx := range innerColumnsOf(pulled, outerColumns) {
			if op.hasProject(idx) {
				continue
			}
			typ, name := sr.columnMeta(idx)
			op.Projects = append(op.Projects, &ScalarItem{
				Scalar: colRefExpr(idx, name, typ),
				Index:  idx,
			})
		}
	}
	return op, pulled, nil
}

func (sr *SubqueryRewriter) columnMeta(idx uint64) (common.LType, string) {
	if typ, has := sr.metadata.ColumnType(idx); has {
		return typ, sr.metadata.ColumnName(idx)
	}
	return common.IntegerType(), fmt.Sprintf("%d", idx)
}

// splitCorrelatedConds distributes the pulled predicates over the join. An
// equality between a pure outer side and a pure inner side becomes an equi
// key pair. Everything else stays a residual condition.
func (sr *SubqueryRewriter) splitCorrelatedConds(
	corrFilters []*Expr,
	outerColumns *ColumnSet,
) (leftConds, rightConds, onConds []*Expr) {
	for _, f := range corrFilters {
		if f.Typ == ET_Func && f.SubTyp == ET_Equal && len(f.Children) == 2 {
			l, r := f.Children[0], f.Children[1]
			if exprOnlyOuter(l, outerColumns) && !exprReferencesAny(r, outerColumns) {
				leftConds = append(leftConds, l)
				rightConds = append(rightConds, r)
				continue
			}
			if exprOnlyOuter(r, outerColumns) && !exprReferencesAny(l, outerColumns) {
				leftConds = append(leftConds, r)
				rightConds = append(rightConds, l)
				continue
			}
		}
		onConds = append(onConds, f)
	}
	return
}

func (sr *SubqueryRewriter) outputIsBareCount(op *LogicalOperator, outIdx uint64) bool {
	if op.Typ == LOT_AggGroup {
		for _, item := range op.Aggs {
			if item.Index == outIdx &&
				item.Scalar.Typ == ET_Aggr &&
				item.Scalar.FuncName == "count" &&
				len(item.Scalar.Children) == 0 {
				return true
			}
		}
	}
	for _, child := range op.Children {
		if sr.outputIsBareCount(child, outIdx) {
			return true
		}
	}
	return false
}

func (lo *LogicalOperator) hasGroupKey(idx uint64) bool {
	for _, item := range lo.GroupBys {
		if item.Index == idx {
			return true
		}
	}
	return false
}

func (lo *LogicalOperator) hasProject(idx uint64) bool {
	for _, item := range lo.Projects {
		if item.Index == idx {
			return true
		}
	}
	return false
}

// exprReferencesAny reports whether e reads any column in the set.
func exprReferencesAny(e *Expr, set *ColumnSet) bool {
	if e == nil {
		return false
	}
	if e.Typ == ET_Column {
		return set.Contains(e.ColIdx)
	}
	for _, child := range e.Children {
		if exprReferencesAny(child, set) {
			return true
		}
	}
	return false
}

// exprOnlyOuter reports whether e reads at least one column and every column
// it reads belongs to the set.
func exprOnlyOuter(e *Expr, set *ColumnSet) bool {
	total, outer := 0, 0
	countRefs(e, set, &total, &outer)
	return total > 0 && total == outer
}

func countRefs(e *Expr, set *ColumnSet, total, outer *int) {
	if e == nil {
		return
	}
	if e.Typ == ET_Column {
		*total++
		if set.Contains(e.ColIdx) {
			*outer++
		}
		return
	}
	for _, child := range e.Children {
		countRefs(child, set, total, outer)
	}
}

// innerColumnsOf lists, in first-use order, the columns the predicates read
// that are not outer columns.
func innerColumnsOf(filters []*Expr, outerColumns *ColumnSet) []uint64 {
	var ret []uint64
	seen := make(map[uint64]bool)
	var walk func(e *Expr)
	walk = func(e *Expr) {
		if e == nil {
			return
		}
		if e.Typ == ET_Column {
			if !outerColumns.Contains(e.ColIdx) && !seen[e.ColIdx] {
				seen[e.ColIdx] = true
				ret = append(ret, e.ColIdx)
			}
			return
		}
		for _, child := range e.Children {
			walk(child)
		}
	}
	for _, f := range filters {
		walk(f)
	}
	return ret
}
