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
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sync/errgroup"

	"github.com/daviszhen/unnest/pkg/common"
)

func exprHasSubquery(e *Expr) bool {
	if e == nil {
		return false
	}
	if e.Typ == ET_Subquery {
		return true
	}
	for _, child := range e.Children {
		if exprHasSubquery(child) {
			return true
		}
	}
	return false
}

func planHasSubquery(op *LogicalOperator) bool {
	if op == nil {
		return false
	}
	exprs := []*Expr{op.Limit, op.Offset}
	exprs = append(exprs, op.Filters...)
	exprs = append(exprs, op.LeftConds...)
	exprs = append(exprs, op.RightConds...)
	exprs = append(exprs, op.OnConds...)
	exprs = append(exprs, op.OrderBys...)
	for _, item := range op.Projects {
		exprs = append(exprs, item.Scalar)
	}
	for _, item := range op.GroupBys {
		exprs = append(exprs, item.Scalar)
	}
	for _, item := range op.Aggs {
		exprs = append(exprs, item.Scalar)
	}
	for _, e := range exprs {
		if exprHasSubquery(e) {
			return true
		}
	}
	for _, child := range op.Children {
		if planHasSubquery(child) {
			return true
		}
	}
	return false
}

func TestRewriteScalarSubquery(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.ScalarMaxPricePlan()

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	assert.Equal(t, LOT_Project, out.Typ)
	join := out.Children[0]
	assert.Equal(t, LOT_JOIN, join.Typ)
	assert.Equal(t, LOT_JoinTypeSINGLE, join.JoinTyp)
	assert.Equal(t, LOT_Scan, join.Children[0].Typ)
	assert.Equal(t, LOT_AggGroup, join.Children[1].Typ)

	//the subquery slot now reads the single join output column
	ref := out.Projects[1].Scalar
	assert.Equal(t, ET_Column, ref.Typ)
	assert.True(t, strings.HasPrefix(ref.Name, "scalar_subquery_"))
	assert.True(t, ref.DataTyp.Nullable)
}

func TestRewriteUncorrelatedExists(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.ExistsOrdersPlan(false)

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	//the predicate collapsed to TRUE, the join does the work
	assert.Equal(t, LOT_Filter, out.Typ)
	assert.Equal(t, 1, len(out.Filters))
	assert.Equal(t, ET_BConst, out.Filters[0].Typ)
	assert.True(t, out.Filters[0].Bvalue)

	join := out.Children[0]
	assert.Equal(t, LOT_JOIN, join.Typ)
	assert.Equal(t, LOT_JoinTypeCross, join.JoinTyp)

	//Filter(count = 1) over Aggregate(count(*)) over Limit 1
	filter := join.Children[1]
	assert.Equal(t, LOT_Filter, filter.Typ)
	pred := filter.Filters[0]
	assert.Equal(t, ET_Equal, pred.SubTyp)
	agg := filter.Children[0]
	assert.Equal(t, LOT_AggGroup, agg.Typ)
	assert.Equal(t, "count", agg.Aggs[0].Scalar.FuncName)
	limit := agg.Children[0]
	assert.Equal(t, LOT_Limit, limit.Typ)
	assert.Equal(t, int64(1), limit.Limit.Ivalue)
	assert.Equal(t, LOT_Scan, limit.Children[0].Typ)
}

func TestRewriteUncorrelatedNotExists(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.ExistsOrdersPlan(true)

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	join := out.Children[0]
	assert.Equal(t, LOT_JoinTypeCross, join.JoinTyp)
	//the count comparison is negated inside the subplan filter
	pred := join.Children[1].Filters[0]
	assert.Equal(t, ET_Not, pred.SubTyp)
	assert.Equal(t, ET_Equal, pred.Children[0].SubTyp)
}

func TestRewriteInAny(t *testing.T) {
	cat := NewDemoCatalog()
	before := cat.Metadata.NextColumnIdx()
	input := cat.InOrdersPlan()

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	join := out.Children[0]
	assert.Equal(t, LOT_JOIN, join.Typ)
	assert.Equal(t, LOT_JoinTypeRightMARK, join.JoinTyp)

	//the marker is a freshly minted nullable boolean column
	assert.GreaterOrEqual(t, join.MarkIndex, before)
	assert.True(t, cat.Metadata.HasColumn(join.MarkIndex))
	markTyp, has := cat.Metadata.ColumnType(join.MarkIndex)
	assert.True(t, has)
	assert.Equal(t, common.LTID_BOOLEAN, markTyp.Id)
	assert.True(t, markTyp.Nullable)

	//probe key from the outer side, build key from the subquery side
	assert.Equal(t, 1, len(join.LeftConds))
	assert.Equal(t, cat.CCustkey, join.LeftConds[0].ColIdx)
	assert.Equal(t, 1, len(join.RightConds))
	assert.Equal(t, cat.OCustkey, join.RightConds[0].ColIdx)
	assert.Equal(t, 0, len(join.OnConds))

	//the predicate is the marker ref, named after its index
	pred := out.Filters[0]
	assert.Equal(t, ET_Column, pred.Typ)
	assert.Equal(t, join.MarkIndex, pred.ColIdx)
	assert.Equal(t, fmt.Sprintf("%d", join.MarkIndex), pred.Name)
}

func TestRewriteAnyNonEquiComparison(t *testing.T) {
	//select * from customer
	//where c_acctbal > any(select o_totalprice from orders)
	//
	//a non-equality comparison never becomes a join key. it rides along
	//as a residual condition with the outer comparand first.
	cat := NewDemoCatalog()
	subPlan := createUnaryOp(&LogicalOperator{
		Typ: LOT_Project,
		Projects: []*ScalarItem{
			{
				Scalar: colRefExpr(cat.OTotalprice, "o_totalprice",
					common.DecimalType(15, 2)),
				Index: cat.OTotalprice,
			},
		},
	}, cat.scanOrders())
	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: ET_SubqueryTypeAny,
		DataTyp:     common.DecimalType(15, 2),
		SubPlan:     subPlan,
		OutputCol:   cat.OTotalprice,
		ChildExpr:   colRefExpr(cat.CAcctbal, "c_acctbal", common.DecimalType(15, 2)),
		CompareOp:   ET_Greater,
	}
	input := createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{subquery},
	}, cat.scanCustomer())

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	join := out.Children[0]
	assert.Equal(t, LOT_JoinTypeRightMARK, join.JoinTyp)
	assert.Equal(t, 0, len(join.LeftConds))
	assert.Equal(t, 0, len(join.RightConds))
	assert.Equal(t, 1, len(join.OnConds))
	assert.Equal(t, ET_Greater, join.OnConds[0].SubTyp)
	assert.Equal(t, cat.CAcctbal, join.OnConds[0].Children[0].ColIdx)
	assert.Equal(t, cat.OTotalprice, join.OnConds[0].Children[1].ColIdx)

	pred := out.Filters[0]
	assert.Equal(t, ET_Column, pred.Typ)
	assert.Equal(t, join.MarkIndex, pred.ColIdx)
	assert.Equal(t, common.LTID_BOOLEAN, pred.DataTyp.Id)
	assert.True(t, pred.DataTyp.Nullable)
}

func TestRewriteCorrelatedCount(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.CorrelatedCountPlan()

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	assert.Equal(t, LOT_Project, out.Typ)
	join := out.Children[0]
	assert.Equal(t, LOT_JoinTypeSINGLE, join.JoinTyp)
	assert.True(t, join.FromCorrelated)

	//correlated equality became an equi key pair on fresh inner columns
	assert.Equal(t, 1, len(join.LeftConds))
	assert.Equal(t, cat.CCustkey, join.LeftConds[0].ColIdx)
	assert.Equal(t, 1, len(join.RightConds))
	assert.NotEqual(t, cat.OCustkey, join.RightConds[0].ColIdx)

	//the aggregate grew a group key for the hoisted column
	agg := join.Children[1]
	assert.Equal(t, LOT_AggGroup, agg.Typ)
	assert.Equal(t, 1, len(agg.GroupBys))
	assert.Equal(t, join.RightConds[0].ColIdx, agg.GroupBys[0].Index)

	//unmatched outer rows must read 0 from count(*), not null
	wrapped := out.Projects[1].Scalar
	assert.Equal(t, ET_Cast, wrapped.SubTyp)
	assert.Equal(t, common.LTID_UBIGINT, wrapped.DataTyp.Id)
	assert.True(t, wrapped.DataTyp.Nullable)
	cond := wrapped.Children[0]
	assert.Equal(t, "if", cond.FuncName)
	assert.Equal(t, "is_not_null", cond.Children[0].FuncName)
}

func TestRewriteCorrelatedExists(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.CorrelatedExistsPlan(false)

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	assert.Equal(t, ET_BConst, out.Filters[0].Typ)
	join := out.Children[0]
	assert.Equal(t, LOT_JoinTypeSEMI, join.JoinTyp)
	assert.True(t, join.FromCorrelated)
	assert.Equal(t, cat.CCustkey, join.LeftConds[0].ColIdx)
	//the inner filter vanished, its predicate lives in the join now
	assert.Equal(t, LOT_Scan, join.Children[1].Typ)
}

func TestRewriteCorrelatedNotExists(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.CorrelatedExistsPlan(true)

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.Equal(t, LOT_JoinTypeANTI, out.Children[0].JoinTyp)
}

func TestRewriteCorrelatedAny(t *testing.T) {
	//select * from customer
	//where c_acctbal > any(select o_totalprice from orders
	//                      where o_custkey = c_custkey)
	cat := NewDemoCatalog()
	fbinder := FunctionBinder{}
	corrPred := fbinder.BindScalarFunc(
		ET_Equal.String(),
		[]*Expr{cat.ocustkeyRef(), cat.custkeyRef()},
		ET_Equal,
		ET_Equal.isOperator())
	subPlan := createUnaryOp(&LogicalOperator{
		Typ: LOT_Project,
		Projects: []*ScalarItem{
			{
				Scalar: colRefExpr(cat.OTotalprice, "o_totalprice",
					common.DecimalType(15, 2)),
				Index: cat.OTotalprice,
			},
		},
	}, createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{corrPred},
	}, cat.scanOrders()))
	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: ET_SubqueryTypeAny,
		DataTyp:     common.DecimalType(15, 2),
		SubPlan:     subPlan,
		OutputCol:   cat.OTotalprice,
		ChildExpr:   colRefExpr(cat.CAcctbal, "c_acctbal", common.DecimalType(15, 2)),
		CompareOp:   ET_Greater,
	}
	input := createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{subquery},
	}, cat.scanCustomer())

	out, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.False(t, planHasSubquery(out))

	join := out.Children[0]
	assert.Equal(t, LOT_JoinTypeRightMARK, join.JoinTyp)
	assert.True(t, join.FromCorrelated)

	//the correlated equality became the equi key pair
	assert.Equal(t, 1, len(join.LeftConds))
	assert.Equal(t, cat.CCustkey, join.LeftConds[0].ColIdx)
	assert.Equal(t, 1, len(join.RightConds))

	//the > comparison is non-equi and lives in the residual conditions
	assert.Equal(t, 1, len(join.OnConds))
	assert.Equal(t, ET_Greater, join.OnConds[0].SubTyp)
	assert.Equal(t, cat.CAcctbal, join.OnConds[0].Children[0].ColIdx)

	//the predicate reads the marker
	assert.Equal(t, join.MarkIndex, out.Filters[0].ColIdx)
}

func TestRewriteIdempotent(t *testing.T) {
	cat := NewDemoCatalog()
	out, err := RewriteSubqueries(cat.Metadata, cat.InOrdersPlan())
	assert.NoError(t, err)

	before := cat.Metadata.NextColumnIdx()
	again, err := RewriteSubqueries(cat.Metadata, out)
	assert.NoError(t, err)
	assert.Equal(t, out.String(), again.String())
	//no subquery, no new columns
	assert.Equal(t, before, cat.Metadata.NextColumnIdx())
}

func TestRewriteKeepsInputIntact(t *testing.T) {
	cat := NewDemoCatalog()
	input := cat.CorrelatedCountPlan()
	snapshot := input.String()

	_, err := RewriteSubqueries(cat.Metadata, input)
	assert.NoError(t, err)
	assert.Equal(t, snapshot, input.String())
}

func TestRewriteAllScenarios(t *testing.T) {
	for _, sc := range DemoScenarios() {
		t.Run(sc.Name, func(t *testing.T) {
			cat := NewDemoCatalog()
			out, err := RewriteSubqueries(cat.Metadata, sc.Build(cat))
			assert.NoError(t, err)
			assert.False(t, planHasSubquery(out))
		})
	}
}

func TestConcurrentRewrites(t *testing.T) {
	//rewriters share a metadata registry but never a plan
	cat := NewDemoCatalog()
	g := errgroup.Group{}
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			for _, sc := range DemoScenarios() {
				out, err := RewriteSubqueries(cat.Metadata, sc.Build(cat))
				if err != nil {
					return err
				}
				if planHasSubquery(out) {
					return internalError("subquery survived rewrite of %s", sc.Name)
				}
			}
			return nil
		})
	}
	assert.NoError(t, g.Wait())
}

func TestCheckChildExprInSubquery(t *testing.T) {
	col := colRefExpr(3, "c_custkey", common.BigintType())

	ret, isNonEqui, err := checkChildExprInSubquery(col, ET_Equal)
	assert.NoError(t, err)
	assert.False(t, isNonEqui)
	assert.Equal(t, col, ret)

	_, isNonEqui, err = checkChildExprInSubquery(col, ET_Greater)
	assert.NoError(t, err)
	assert.True(t, isNonEqui)

	lit := iconst(42, common.BigintType())
	_, isNonEqui, err = checkChildExprInSubquery(lit, ET_Equal)
	assert.NoError(t, err)
	assert.True(t, isNonEqui)

	cast := castExpr(col, common.DoubleType())
	ret, isNonEqui, err = checkChildExprInSubquery(cast, ET_Equal)
	assert.NoError(t, err)
	assert.False(t, isNonEqui)
	assert.Equal(t, cast, ret)

	cast = castExpr(lit, common.DoubleType())
	_, isNonEqui, err = checkChildExprInSubquery(cast, ET_Equal)
	assert.NoError(t, err)
	assert.True(t, isNonEqui)

	conj := &Expr{
		Typ:      ET_Func,
		SubTyp:   ET_And,
		DataTyp:  common.BooleanType(),
		FuncName: ET_And.String(),
		Children: []*Expr{col, col},
	}
	_, _, err = checkChildExprInSubquery(conj, ET_Equal)
	assert.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
}
