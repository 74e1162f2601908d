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
	"sort"

	"github.com/daviszhen/unnest/pkg/common"
)

// DemoCatalog is a two table schema for exercising the rewriter without a
// parser or binder in front of it.
//
//	customer(c_custkey bigint, c_name varchar, c_acctbal decimal(15,2))
//	orders(o_orderkey bigint, o_custkey bigint, o_totalprice decimal(15,2))
type DemoCatalog struct {
	Metadata MetadataRef

	CCustkey uint64
	CName    uint64
	CAcctbal uint64

	OOrderkey   uint64
	OCustkey    uint64
	OTotalprice uint64
}

func NewDemoCatalog() *DemoCatalog {
	md := NewMetadata()
	cat := &DemoCatalog{Metadata: md}
	cat.CCustkey = md.AddBaseColumn("customer", "c_custkey", common.BigintType())
	cat.CName = md.AddBaseColumn("customer", "c_name", common.VarcharType())
	cat.CAcctbal = md.AddBaseColumn("customer", "c_acctbal", common.DecimalType(15, 2))
	cat.OOrderkey = md.AddBaseColumn("orders", "o_orderkey", common.BigintType())
	cat.OCustkey = md.AddBaseColumn("orders", "o_custkey", common.BigintType())
	cat.OTotalprice = md.AddBaseColumn("orders", "o_totalprice", common.DecimalType(15, 2))
	return cat
}

func (cat *DemoCatalog) scanCustomer() *LogicalOperator {
	return &LogicalOperator{
		Typ:      LOT_Scan,
		Database: "demo",
		Table:    "customer",
		ColIdxs:  []uint64{cat.CCustkey, cat.CName, cat.CAcctbal},
		Columns:  []string{"c_custkey", "c_name", "c_acctbal"},
		Types: []common.LType{
			common.BigintType(),
			common.VarcharType(),
			common.DecimalType(15, 2),
		},
	}
}

func (cat *DemoCatalog) scanOrders() *LogicalOperator {
	return &LogicalOperator{
		Typ:      LOT_Scan,
		Database: "demo",
		Table:    "orders",
		ColIdxs:  []uint64{cat.OOrderkey, cat.OCustkey, cat.OTotalprice},
		Columns:  []string{"o_orderkey", "o_custkey", "o_totalprice"},
		Types: []common.LType{
			common.BigintType(),
			common.BigintType(),
			common.DecimalType(15, 2),
		},
	}
}

func (cat *DemoCatalog) custkeyRef() *Expr {
	return colRefExpr(cat.CCustkey, "c_custkey", common.BigintType())
}

func (cat *DemoCatalog) ocustkeyRef() *Expr {
	return colRefExpr(cat.OCustkey, "o_custkey", common.BigintType())
}

// ScalarMaxPricePlan builds
//
//	select c_custkey, (select max(o_totalprice) from orders) from customer
func (cat *DemoCatalog) ScalarMaxPricePlan() *LogicalOperator {
	md := cat.Metadata
	fbinder := FunctionBinder{}
	maxFunc, _ := fbinder.BindAggrFunc("max", []common.LType{common.DecimalType(15, 2)})
	maxIdx := md.AddDerivedColumn("max(o_totalprice)", maxFunc.ReturnType())
	subPlan := createUnaryOp(&LogicalOperator{
		Typ:  LOT_AggGroup,
		Mode: AggModeInitial,
		Aggs: []*ScalarItem{
			{
				Scalar: &Expr{
					Typ:      ET_Aggr,
					FuncName: "max",
					DataTyp:  maxFunc.ReturnType(),
					Alias:    "max(o_totalprice)",
					Children: []*Expr{
						colRefExpr(cat.OTotalprice, "o_totalprice", common.DecimalType(15, 2)),
					},
				},
				Index: maxIdx,
			},
		},
	}, cat.scanOrders())

	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: ET_SubqueryTypeScalar,
		DataTyp:     maxFunc.ReturnType(),
		SubPlan:     subPlan,
		OutputCol:   maxIdx,
	}

	projIdx := md.AddDerivedColumn("scalar_subquery", maxFunc.ReturnType().WrapNullable())
	return createUnaryOp(&LogicalOperator{
		Typ: LOT_Project,
		Projects: []*ScalarItem{
			{Scalar: cat.custkeyRef(), Index: cat.CCustkey},
			{Scalar: subquery, Index: projIdx},
		},
	}, cat.scanCustomer())
}

// ExistsOrdersPlan builds
//
//	select * from customer where [not] exists (select * from orders)
func (cat *DemoCatalog) ExistsOrdersPlan(negated bool) *LogicalOperator {
	typ := ET_SubqueryTypeExists
	if negated {
		typ = ET_SubqueryTypeNotExists
	}
	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: typ,
		DataTyp:     common.BooleanType(),
		SubPlan:     cat.scanOrders(),
		OutputCol:   cat.OOrderkey,
	}
	return createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{subquery},
	}, cat.scanCustomer())
}

// InOrdersPlan builds
//
//	select * from customer where c_custkey in (select o_custkey from orders)
//
// The IN shows up as an ANY subquery with an equal comparison.
func (cat *DemoCatalog) InOrdersPlan() *LogicalOperator {
	subPlan := createUnaryOp(&LogicalOperator{
		Typ: LOT_Project,
		Projects: []*ScalarItem{
			{Scalar: cat.ocustkeyRef(), Index: cat.OCustkey},
		},
	}, cat.scanOrders())
	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: ET_SubqueryTypeAny,
		DataTyp:     common.BigintType(),
		SubPlan:     subPlan,
		OutputCol:   cat.OCustkey,
		ChildExpr:   cat.custkeyRef(),
		CompareOp:   ET_Equal,
	}
	return createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{subquery},
	}, cat.scanCustomer())
}

// CorrelatedCountPlan builds
//
//	select c_custkey,
//	       (select count(*) from orders where o_custkey = c_custkey)
//	from customer
func (cat *DemoCatalog) CorrelatedCountPlan() *LogicalOperator {
	md := cat.Metadata
	fbinder := FunctionBinder{}
	countFunc, _ := fbinder.BindAggrFunc("count", nil)
	countIdx := md.AddDerivedColumn("count(*)", countFunc.ReturnType())

	corrPred := fbinder.BindScalarFunc(
		ET_Equal.String(),
		[]*Expr{cat.ocustkeyRef(), cat.custkeyRef()},
		ET_Equal,
		ET_Equal.isOperator())
	subPlan := createUnaryOp(&LogicalOperator{
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
	}, createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{corrPred},
	}, cat.scanOrders()))

	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: ET_SubqueryTypeScalar,
		DataTyp:     countFunc.ReturnType(),
		SubPlan:     subPlan,
		OutputCol:   countIdx,
	}

	projIdx := md.AddDerivedColumn("order_count", common.UbigintType().WrapNullable())
	return createUnaryOp(&LogicalOperator{
		Typ: LOT_Project,
		Projects: []*ScalarItem{
			{Scalar: cat.custkeyRef(), Index: cat.CCustkey},
			{Scalar: subquery, Index: projIdx},
		},
	}, cat.scanCustomer())
}

// CorrelatedExistsPlan builds
//
//	select * from customer
//	where [not] exists (select * from orders where o_custkey = c_custkey)
func (cat *DemoCatalog) CorrelatedExistsPlan(negated bool) *LogicalOperator {
	fbinder := FunctionBinder{}
	corrPred := fbinder.BindScalarFunc(
		ET_Equal.String(),
		[]*Expr{cat.ocustkeyRef(), cat.custkeyRef()},
		ET_Equal,
		ET_Equal.isOperator())
	subPlan := createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{corrPred},
	}, cat.scanOrders())

	typ := ET_SubqueryTypeExists
	if negated {
		typ = ET_SubqueryTypeNotExists
	}
	subquery := &Expr{
		Typ:         ET_Subquery,
		SubqueryTyp: typ,
		DataTyp:     common.BooleanType(),
		SubPlan:     subPlan,
		OutputCol:   cat.OOrderkey,
	}
	return createUnaryOp(&LogicalOperator{
		Typ:     LOT_Filter,
		Filters: []*Expr{subquery},
	}, cat.scanCustomer())
}

// Scenario names a canned input plan.
type Scenario struct {
	Name  string
	Build func(cat *DemoCatalog) *LogicalOperator
}

func DemoScenarios() []Scenario {
	ret := []Scenario{
		{"scalar_max_price", func(cat *DemoCatalog) *LogicalOperator {
			return cat.ScalarMaxPricePlan()
		}},
		{"exists_orders", func(cat *DemoCatalog) *LogicalOperator {
			return cat.ExistsOrdersPlan(false)
		}},
		{"not_exists_orders", func(cat *DemoCatalog) *LogicalOperator {
			return cat.ExistsOrdersPlan(true)
		}},
		{"in_orders", func(cat *DemoCatalog) *LogicalOperator {
			return cat.InOrdersPlan()
		}},
		{"correlated_count", func(cat *DemoCatalog) *LogicalOperator {
			return cat.CorrelatedCountPlan()
		}},
		{"correlated_exists", func(cat *DemoCatalog) *LogicalOperator {
			return cat.CorrelatedExistsPlan(false)
		}},
		{"correlated_not_exists", func(cat *DemoCatalog) *LogicalOperator {
			return cat.CorrelatedExistsPlan(true)
		}},
	}
	sort.Slice(ret, func(i, j int) bool {
		return ret[i].Name < ret[j].Name
	})
	return ret
}

func FindScenario(name string) (Scenario, bool) {
	for _, sc := range DemoScenarios() {
		if sc.Name == name {
			return sc, true
		}
	}
	return Scenario{}, false
}
