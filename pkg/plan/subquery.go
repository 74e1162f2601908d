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

	"go.uber.org/zap"

	"github.com/daviszhen/unnest/pkg/common"
	"github.com/daviszhen/unnest/pkg/util"
)

type UnnestResultTyp int

const (
	//semi/anti join, cross join for EXISTS
	UnnestSimpleJoin UnnestResultTyp = iota
	UnnestMarkJoin
	UnnestSingleJoin
)

type UnnestResult struct {
	Typ         UnnestResultTyp
	MarkerIndex uint64
}

type FlattenInfo struct {
	FromCountFunc bool
}

// SubqueryRewriter turns subquery expressions into joins. The output tree
// carries no ET_Subquery scalar anywhere.
type SubqueryRewriter struct {
	metadata MetadataRef
	//outer column index -> decorrelated replacement index. scoped to one
	//top level Rewrite call.
	derivedColumns map[uint64]uint64
}

func NewSubqueryRewriter(metadata MetadataRef) *SubqueryRewriter {
	return &SubqueryRewriter{
		metadata:       metadata,
		derivedColumns: make(map[uint64]uint64),
	}
}

// RewriteSubqueries runs one full unnesting pass with a fresh rewriter.
func RewriteSubqueries(metadata MetadataRef, root *LogicalOperator) (*LogicalOperator, error) {
	rewriter := NewSubqueryRewriter(metadata)
	util.Debug("subquery rewrite begin", zap.String("plan", root.String()))
	ret, err := rewriter.Rewrite(root)
	if err != nil {
		util.Error("subquery rewrite fail", zap.Error(err))
		return nil, err
	}
	util.Debug("subquery rewrite end", zap.String("plan", ret.String()))
	return ret, nil
}

func (sr *SubqueryRewriter) Rewrite(op *LogicalOperator) (*LogicalOperator, error) {
	switch op.Typ {
	case LOT_Project:
		input, err := sr.Rewrite(op.Children[0])
		if err != nil {
			return nil, err
		}
		items := make([]*ScalarItem, 0, len(op.Projects))
		for _, item := range op.Projects {
			var scalar *Expr
			scalar, input, err = sr.tryRewriteSubquery(item.Scalar, input, false)
			if err != nil {
				return nil, err
			}
			items = append(items, &ScalarItem{Scalar: scalar, Index: item.Index})
		}
		ret := *op
		ret.Projects = items
		return createUnaryOp(&ret, input), nil
	case LOT_Filter:
		input, err := sr.Rewrite(op.Children[0])
		if err != nil {
			return nil, err
		}
		preds := make([]*Expr, 0, len(op.Filters))
		for _, pred := range op.Filters {
			var scalar *Expr
			scalar, input, err = sr.tryRewriteSubquery(pred, input, true)
			if err != nil {
				return nil, err
			}
			preds = append(preds, scalar)
		}
		ret := *op
		ret.Filters = preds
		return createUnaryOp(&ret, input), nil
	case LOT_AggGroup:
		input, err := sr.Rewrite(op.Children[0])
		if err != nil {
			return nil, err
		}
		groupBys := make([]*ScalarItem, 0, len(op.GroupBys))
		for _, item := range op.GroupBys {
			var scalar *Expr
			scalar, input, err = sr.tryRewriteSubquery(item.Scalar, input, false)
			if err != nil {
				return nil, err
			}
			groupBys = append(groupBys, &ScalarItem{Scalar: scalar, Index: item.Index})
		}
		aggs := make([]*ScalarItem, 0, len(op.Aggs))
		for _, item := range op.Aggs {
			var scalar *Expr
			scalar, input, err = sr.tryRewriteSubquery(item.Scalar, input, false)
			if err != nil {
				return nil, err
			}
			aggs = append(aggs, &ScalarItem{Scalar: scalar, Index: item.Index})
		}
		ret := *op
		ret.GroupBys = groupBys
		ret.Aggs = aggs
		return createUnaryOp(&ret, input), nil
	case LOT_JOIN, LOT_Union:
		left, err := sr.Rewrite(op.Children[0])
		if err != nil {
			return nil, err
		}
		right, err := sr.Rewrite(op.Children[1])
		if err != nil {
			return nil, err
		}
		return op.withChildren(left, right), nil
	case LOT_Limit, LOT_Order:
		child, err := sr.Rewrite(op.Children[0])
		if err != nil {
			return nil, err
		}
		return op.withChildren(child), nil
	case LOT_Scan, LOT_DummyScan:
		return op, nil
	default:
		return nil, internalError("invalid plan type %v", op.Typ)
	}
}

// tryRewriteSubquery extracts subqueries from a scalar. Returns the replaced
// scalar and the subtree grown by any joins the extraction grafted on. A
// sibling scalar rewritten later sees the grown subtree.
func (sr *SubqueryRewriter) tryRewriteSubquery(
	scalar *Expr,
	root *LogicalOperator,
	isConjunctive bool,
) (*Expr, *LogicalOperator, error) {
	var err error
	switch scalar.Typ {
	case ET_Column:
		return scalar, root, nil
	case ET_IConst, ET_FConst, ET_SConst, ET_BConst, ET_DecConst, ET_NConst:
		return scalar, root, nil
	case ET_Aggr:
		//aggregate calls are leaves here. the binder rejects subqueries
		//inside aggregate arguments before the plan reaches this pass.
		return scalar, root, nil
	case ET_Func:
		//conjunctions were flattened by the binder. an AND seen here is a
		//plain expression, so children do not keep the conjunctive flag.
		var childExpr *Expr
		args := make([]*Expr, 0, len(scalar.Children))
		for _, child := range scalar.Children {
			childExpr, root, err = sr.tryRewriteSubquery(child, root, false)
			if err != nil {
				return nil, nil, err
			}
			args = append(args, childExpr)
		}
		ret := *scalar
		ret.Children = args
		return &ret, root, nil
	case ET_Subquery:
		return sr.rewriteSubqueryExpr(scalar, root, isConjunctive)
	default:
		return nil, nil, internalError("invalid scalar type %v", scalar.Typ)
	}
}

func (sr *SubqueryRewriter) rewriteSubqueryExpr(
	scalar *Expr,
	root *LogicalOperator,
	isConjunctive bool,
) (*Expr, *LogicalOperator, error) {
	//subqueries may nest. rewrite the inner plan first.
	subPlan, err := sr.Rewrite(scalar.SubPlan)
	if err != nil {
		return nil, nil, err
	}
	subquery := *scalar
	subquery.SubPlan = subPlan

	prop := deriveRelationalProp(subPlan)
	flatten := FlattenInfo{}
	var newRoot *LogicalOperator
	var result UnnestResult
	if prop.OuterColumns.Empty() {
		newRoot, result, err = sr.tryRewriteUncorrelatedSubquery(root, &subquery)
	} else {
		newRoot, result, err = sr.tryDecorrelateSubquery(root, &subquery, prop.OuterColumns, &flatten, isConjunctive)
	}
	if err != nil {
		return nil, nil, err
	}

	//the join fully subsumes the predicate. the predicate slot becomes TRUE.
	if result.Typ == UnnestSimpleJoin {
		return bconst(true), newRoot, nil
	}

	var index uint64
	var name string
	if result.Typ == UnnestMarkJoin {
		index = result.MarkerIndex
		name = fmt.Sprintf("%d", result.MarkerIndex)
	} else {
		index = subquery.OutputCol
		if derived, has := sr.derivedColumns[index]; has {
			index = derived
		}
		name = fmt.Sprintf("scalar_subquery_%d", index)
	}

	var dataTyp common.LType
	if subquery.SubqueryTyp == ET_SubqueryTypeScalar {
		//a single join yields null for unmatched outer rows
		dataTyp = subquery.DataTyp.WrapNullable()
	} else if result.Typ == UnnestMarkJoin {
		dataTyp = common.BooleanType().WrapNullable()
	} else {
		dataTyp = subquery.DataTyp
	}

	colRef := colRefExpr(index, name, dataTyp)

	fbinder := FunctionBinder{}
	var ret *Expr
	if flatten.FromCountFunc {
		//count over an empty group must read 0, not the null an outer join
		//produced. if(is_not_null(x), x, 0) cast to ubigint.
		isNotNull := fbinder.BindScalarFunc(
			"is_not_null",
			[]*Expr{colRef},
			ET_SubFunc,
			false)
		zero := iconst(0, common.BigintType().WrapNullable())
		cond := fbinder.BindScalarFunc(
			"if",
			[]*Expr{isNotNull, colRef, zero},
			ET_SubFunc,
			false)
		ret = castExpr(cond, common.UbigintType().WrapNullable())
	} else if subquery.SubqueryTyp == ET_SubqueryTypeNotExists {
		ret = &Expr{
			Typ:      ET_Func,
			SubTyp:   ET_Not,
			DataTyp:  common.BooleanType().WrapNullable(),
			FuncName: ET_Not.String(),
			Children: []*Expr{colRef},
		}
	} else {
		ret = colRef
	}
	return ret, newRoot, nil
}

func (sr *SubqueryRewriter) tryRewriteUncorrelatedSubquery(
	left *LogicalOperator,
	subquery *Expr,
) (*LogicalOperator, UnnestResult, error) {
	switch subquery.SubqueryTyp {
	case ET_SubqueryTypeScalar:
		join := &LogicalOperator{
			Typ:     LOT_JOIN,
			JoinTyp: LOT_JoinTypeSINGLE,
		}
		return createBinaryOp(join, left, subquery.SubPlan),
			UnnestResult{Typ: UnnestSingleJoin}, nil
	case ET_SubqueryTypeExists, ET_SubqueryTypeNotExists:
		//EXISTS(q) becomes COUNT(*) = 1 over q wrapped with LIMIT 1. the
		//limit stops the inner scan at the first row, so the count is 0 or 1.
		subPlan := createUnaryOp(&LogicalOperator{
			Typ:   LOT_Limit,
			Limit: iconst(1, common.UbigintType()),
		}, subquery.SubPlan)

		fbinder := FunctionBinder{}
		countFunc, err := fbinder.BindAggrFunc("count", nil)
		if err != nil {
			return nil, UnnestResult{}, err
		}
		countIdx := sr.metadata.AddDerivedColumn("count(*)", countFunc.ReturnType())

		agg := createUnaryOp(&LogicalOperator{
			Typ:  LOT_AggGroup,
			Mode: AggModeInitial,
			Aggs: []*ScalarItem{
				{
					Scalar: &Expr{
						Typ:      ET_Aggr,
						FuncName: "count",
						DataTyp:  countFunc.ReturnType(),
						Alias:    "count(*)",
					},
					Index: countIdx,
				},
			},
		}, subPlan)

		compare := fbinder.BindScalarFunc(
			ET_Equal.String(),
			[]*Expr{
				colRefExpr(countIdx, "count(*)", countFunc.ReturnType()),
				iconst(1, common.UbigintType().WrapNullable()),
			},
			ET_Equal,
			ET_Equal.isOperator())
		if subquery.SubqueryTyp == ET_SubqueryTypeNotExists {
			compare = &Expr{
				Typ:      ET_Func,
				SubTyp:   ET_Not,
				DataTyp:  common.BooleanType().WrapNullable(),
				FuncName: ET_Not.String(),
				Children: []*Expr{compare},
			}
		}

		//Filter: COUNT(*) = 1 or COUNT(*) != 1
		//    Aggregate: COUNT(*)
		//        Limit 1
		filter := createUnaryOp(&LogicalOperator{
			Typ:     LOT_Filter,
			Filters: []*Expr{compare},
		}, agg)

		join := &LogicalOperator{
			Typ:     LOT_JOIN,
			JoinTyp: LOT_JoinTypeCross,
		}
		return createBinaryOp(join, left, filter),
			UnnestResult{Typ: UnnestSimpleJoin}, nil
	case ET_SubqueryTypeAny:
		if subquery.ChildExpr == nil || !subquery.CompareOp.isComparison() {
			return nil, UnnestResult{}, internalError(
				"any subquery needs child expr and comparison op")
		}
		index := subquery.OutputCol
		leftCond := colRefExpr(index,
			fmt.Sprintf("subquery_%d", index), subquery.DataTyp)
		rightCond, isNonEqui, err := checkChildExprInSubquery(
			subquery.ChildExpr, subquery.CompareOp)
		if err != nil {
			return nil, UnnestResult{}, err
		}
		var leftConds, rightConds, nonEquiConds []*Expr
		if !isNonEqui {
			leftConds = []*Expr{leftCond}
			rightConds = []*Expr{rightCond}
		} else {
			other := &Expr{
				Typ:      ET_Func,
				SubTyp:   subquery.CompareOp,
				DataTyp:  common.BooleanType().WrapNullable(),
				FuncName: subquery.CompareOp.String(),
				Children: []*Expr{rightCond, leftCond},
			}
			nonEquiConds = []*Expr{other}
		}
		//the marker holds TRUE, FALSE, or NULL. NULL shows up when no match
		//is found and the inner set contains a null. t1.a => {1, 3, 4},
		//select t1.a in (1, 2, NULL) from t1 returns {true, null, null}.
		marker := sr.markerColumn(subquery)
		//the subquery sits on the right and builds. the outer comparand
		//lands on the left side of the join keys.
		join := &LogicalOperator{
			Typ:        LOT_JOIN,
			JoinTyp:    LOT_JoinTypeRightMARK,
			LeftConds:  rightConds,
			RightConds: leftConds,
			OnConds:    nonEquiConds,
			MarkIndex:  marker,
		}
		return createBinaryOp(join, left, subquery.SubPlan),
			UnnestResult{Typ: UnnestMarkJoin, MarkerIndex: marker}, nil
	default:
		return nil, UnnestResult{}, internalError(
			"usp subquery type %v in uncorrelated rewrite", subquery.SubqueryTyp)
	}
}

func (sr *SubqueryRewriter) markerColumn(subquery *Expr) uint64 {
	if subquery.HasProjIndex {
		return subquery.ProjIndex
	}
	return sr.metadata.AddDerivedColumn("marker",
		common.BooleanType().WrapNullable())
}

// checkChildExprInSubquery decides whether the left comparand of an ANY
// subquery can be an equi join key. Constants always end up as residual
// predicates. Casts inherit from their argument.
func checkChildExprInSubquery(
	childExpr *Expr,
	op ET_SubTyp,
) (*Expr, bool, error) {
	switch childExpr.Typ {
	case ET_Column:
		return childExpr, op != ET_Equal, nil
	case ET_IConst, ET_FConst, ET_SConst, ET_BConst, ET_DecConst, ET_NConst:
		return childExpr, true, nil
	case ET_Func:
		if childExpr.SubTyp == ET_Cast {
			_, isNonEqui, err := checkChildExprInSubquery(childExpr.Children[0], op)
			if err != nil {
				return nil, false, err
			}
			return childExpr, isNonEqui, nil
		}
	}
	return nil, false, internalError(
		"invalid child expr in subquery: %s", childExpr.String())
}
