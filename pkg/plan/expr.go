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

	"github.com/huandu/go-clone"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/unnest/pkg/common"
)

type ET int

const (
	ET_Column ET = iota //column

	ET_IConst   //integer
	ET_DecConst //decimal
	ET_SConst   //string
	ET_FConst   //float
	ET_BConst   // bool
	ET_NConst   // null

	ET_Func
	ET_Aggr
	ET_Subquery
)

type ET_SubTyp int

const (
	//real function
	ET_Invalid ET_SubTyp = iota
	ET_SubFunc
	//operator
	ET_Equal
	ET_NotEqual
	ET_Greater
	ET_GreaterEqual
	ET_Less
	ET_LessEqual
	ET_And
	ET_Or
	ET_Not
	ET_Cast
)

func (et ET_SubTyp) String() string {
	switch et {
	case ET_Equal:
		return "="
	case ET_NotEqual:
		return "<>"
	case ET_Greater:
		return ">"
	case ET_GreaterEqual:
		return ">="
	case ET_Less:
		return "<"
	case ET_LessEqual:
		return "<="
	case ET_And:
		return "and"
	case ET_Or:
		return "or"
	case ET_Not:
		return "not"
	case ET_Cast:
		return "cast"
	default:
		panic(fmt.Sprintf("usp %v", int(et)))
	}
}

func (et ET_SubTyp) isOperator() bool {
	switch et {
	case ET_Equal, ET_NotEqual,
		ET_Greater, ET_GreaterEqual,
		ET_Less, ET_LessEqual,
		ET_And, ET_Or, ET_Not:
		return true
	default:
		return false
	}
}

func (et ET_SubTyp) isComparison() bool {
	switch et {
	case ET_Equal, ET_NotEqual,
		ET_Greater, ET_GreaterEqual,
		ET_Less, ET_LessEqual:
		return true
	default:
		return false
	}
}

type ET_SubqueryType int

const (
	ET_SubqueryTypeScalar ET_SubqueryType = iota
	ET_SubqueryTypeExists
	ET_SubqueryTypeNotExists
	ET_SubqueryTypeAny
)

func (st ET_SubqueryType) String() string {
	switch st {
	case ET_SubqueryTypeScalar:
		return "scalar"
	case ET_SubqueryTypeExists:
		return "exists"
	case ET_SubqueryTypeNotExists:
		return "not exists"
	case ET_SubqueryTypeAny:
		return "any"
	default:
		panic(fmt.Sprintf("usp subquery type %d", st))
	}
}

type Visibility int

const (
	VisibleCol Visibility = iota
	InternalCol
)

type AggrType int

const (
	NOAGGR AggrType = iota
	DISTINCT
)

// Expr is the scalar expression. Typ picks the variant and SubTyp
// distinguishes operators under ET_Func. The binder fills DataTyp before
// the rewrite runs; this component never re-type-checks.
type Expr struct {
	Typ     ET
	SubTyp  ET_SubTyp
	DataTyp common.LType
	AggrTyp AggrType

	Children []*Expr

	//ET_Column
	ColIdx     uint64
	Database   string
	Table      string // table
	Name       string // column
	Visibility Visibility

	//constants
	Svalue string
	Ivalue int64
	Fvalue float64
	Bvalue bool
	Dvalue common.Decimal

	//ET_Func, ET_Aggr
	FuncName   string
	IsOperator bool
	CastSrcTyp common.LType //ET_Cast
	Params     []*Expr      //literal parameters of the aggregate

	//ET_Subquery
	SubqueryTyp  ET_SubqueryType
	SubPlan      *LogicalOperator
	OutputCol    uint64
	CompareOp    ET_SubTyp //for any. ET_Invalid means absent
	ChildExpr    *Expr     //left comparand of any
	ProjIndex    uint64    //pre-assigned marker column
	HasProjIndex bool

	Alias string
}

func (e *Expr) copy() *Expr {
	if e == nil {
		return nil
	}
	return clone.Clone(e).(*Expr)
}

func copyExprs(exprs ...*Expr) []*Expr {
	ret := make([]*Expr, 0)
	for _, expr := range exprs {
		ret = append(ret, expr.copy())
	}
	return ret
}

func (e *Expr) equal(o *Expr) bool {
	if e == nil && o == nil {
		return true
	} else if e != nil && o != nil {
		if e.Typ != o.Typ {
			return false
		}
		if e.SubTyp != o.SubTyp {
			return false
		}
		if e.DataTyp != o.DataTyp {
			return false
		}
		if e.AggrTyp != o.AggrTyp {
			return false
		}
		if e.ColIdx != o.ColIdx {
			return false
		}
		if e.Database != o.Database {
			return false
		}
		if e.Table != o.Table {
			return false
		}
		if e.Name != o.Name {
			return false
		}
		if e.Svalue != o.Svalue {
			return false
		}
		if e.Ivalue != o.Ivalue {
			return false
		}
		if e.Fvalue != o.Fvalue {
			return false
		}
		if e.Bvalue != o.Bvalue {
			return false
		}
		if !e.Dvalue.Equal(&o.Dvalue) {
			return false
		}
		if e.FuncName != o.FuncName {
			return false
		}
		if len(e.Params) != len(o.Params) {
			return false
		}
		for i, param := range e.Params {
			if !param.equal(o.Params[i]) {
				return false
			}
		}
		if e.SubqueryTyp != o.SubqueryTyp {
			return false
		}
		if e.OutputCol != o.OutputCol {
			return false
		}
		if e.CompareOp != o.CompareOp {
			return false
		}
		if !e.ChildExpr.equal(o.ChildExpr) {
			return false
		}
		//subplans compare by their rendered tree
		if (e.SubPlan == nil) != (o.SubPlan == nil) {
			return false
		}
		if e.SubPlan != nil && e.SubPlan.String() != o.SubPlan.String() {
			return false
		}
		if e.Alias != o.Alias {
			return false
		}
		if len(e.Children) != len(o.Children) {
			return false
		}
		for i, child := range e.Children {
			if !child.equal(o.Children[i]) {
				return false
			}
		}
		return true
	} else {
		return false
	}
}

//expr constructors used by the rewriter and tests

func colRefExpr(idx uint64, name string, typ common.LType) *Expr {
	return &Expr{
		Typ:        ET_Column,
		DataTyp:    typ,
		ColIdx:     idx,
		Name:       name,
		Visibility: VisibleCol,
	}
}

func bconst(v bool) *Expr {
	return &Expr{
		Typ:     ET_BConst,
		DataTyp: common.BooleanType(),
		Bvalue:  v,
	}
}

func iconst(v int64, typ common.LType) *Expr {
	return &Expr{
		Typ:     ET_IConst,
		DataTyp: typ,
		Ivalue:  v,
	}
}

func castExpr(arg *Expr, target common.LType) *Expr {
	return &Expr{
		Typ:        ET_Func,
		SubTyp:     ET_Cast,
		DataTyp:    target,
		CastSrcTyp: arg.DataTyp,
		FuncName:   ET_Cast.String(),
		Children:   []*Expr{arg},
	}
}

func (e *Expr) Format(ctx *FormatCtx) {
	if e == nil {
		ctx.Write("")
		return
	}
	switch e.Typ {
	case ET_Column:
		ctx.Writef("(%s.%s,%s,%d)", e.Table, e.Name, e.DataTyp, e.ColIdx)
	case ET_SConst:
		ctx.Writef("(%s,%s)", e.Svalue, e.DataTyp)
	case ET_IConst:
		ctx.Writef("(%d,%s)", e.Ivalue, e.DataTyp)
	case ET_BConst:
		ctx.Writef("(%v,%s)", e.Bvalue, e.DataTyp)
	case ET_FConst:
		ctx.Writef("(%v,%s)", e.Fvalue, e.DataTyp)
	case ET_DecConst:
		ctx.Writef("(%v,%s)", e.Dvalue.String(), e.DataTyp)
	case ET_NConst:
		ctx.Writef("(null,%s)", e.DataTyp)
	case ET_Func:
		switch e.SubTyp {
		case ET_Invalid:
			panic("usp invalid expr")
		case ET_Not:
			ctx.Write("not ")
			e.Children[0].Format(ctx)
		case ET_Cast:
			ctx.Write("cast(")
			e.Children[0].Format(ctx)
			ctx.Writef(" as %s)", e.DataTyp)
		case ET_SubFunc:
			ctx.Writef("%s(", e.FuncName)
			for idx, child := range e.Children {
				if idx > 0 {
					ctx.Write(", ")
				}
				child.Format(ctx)
			}
			ctx.Write(")")
			ctx.Write("->")
			ctx.Writef("%s", e.DataTyp)
		default:
			//binary operator
			e.Children[0].Format(ctx)
			ctx.Writef(" %s ", e.SubTyp.String())
			e.Children[1].Format(ctx)
		}
	case ET_Aggr:
		dist := ""
		if e.AggrTyp == DISTINCT {
			dist = "distinct "
		}
		ctx.Writef("%s(%s", e.FuncName, dist)
		for idx, child := range e.Children {
			if idx > 0 {
				ctx.Write(", ")
			}
			child.Format(ctx)
		}
		if len(e.Children) == 0 {
			ctx.Write("*")
		}
		ctx.Write(")")
	case ET_Subquery:
		ctx.Writef("subquery(%s,", e.SubqueryTyp)
		ctx.AddOffset()
		ctx.writeString(e.SubPlan.String())
		ctx.RestoreOffset()
		ctx.Write(")")
	default:
		panic(fmt.Sprintf("usp expr type %d", e.Typ))
	}
}

func (e *Expr) Print(tree treeprint.Tree, meta string) {
	if e == nil {
		return
	}
	head := appendMeta(meta, e.DataTyp.String())
	switch e.Typ {
	case ET_Column:
		tree.AddMetaNode(head, fmt.Sprintf("(%s.%s,%d)",
			e.Table, e.Name, e.ColIdx))
	case ET_SConst:
		tree.AddMetaNode(head, fmt.Sprintf("(%s)", e.Svalue))
	case ET_IConst:
		tree.AddMetaNode(head, fmt.Sprintf("(%d)", e.Ivalue))
	case ET_BConst:
		tree.AddMetaNode(head, fmt.Sprintf("(%v)", e.Bvalue))
	case ET_FConst:
		tree.AddMetaNode(head, fmt.Sprintf("(%v)", e.Fvalue))
	case ET_DecConst:
		tree.AddMetaNode(head, fmt.Sprintf("(%s %d %d)", e.Dvalue.String(), e.DataTyp.Width, e.DataTyp.Scale))
	case ET_NConst:
		tree.AddMetaNode(head, "(null)")
	case ET_Func:
		var branch treeprint.Tree
		switch e.SubTyp {
		case ET_Invalid:
			panic("usp invalid expr")
		case ET_Not, ET_Cast:
			branch = tree.AddMetaBranch(head, e.SubTyp)
			e.Children[0].Print(branch, "")
		case ET_SubFunc:
			branch = tree.AddMetaBranch(head, e.FuncName)
			for _, child := range e.Children {
				child.Print(branch, "")
			}
		default:
			//binary operator
			branch = tree.AddMetaBranch(head, e.SubTyp)
			e.Children[0].Print(branch, "")
			e.Children[1].Print(branch, "")
		}
	case ET_Aggr:
		dist := ""
		if e.AggrTyp == DISTINCT {
			dist = "(distinct)"
		}
		branch := tree.AddMetaBranch(head, fmt.Sprintf("%s %s", e.FuncName, dist))
		for _, child := range e.Children {
			child.Print(branch, "")
		}
	case ET_Subquery:
		branch := tree.AddBranch(fmt.Sprintf("subquery(%s", e.SubqueryTyp))
		if e.ChildExpr != nil {
			childBranch := branch.AddBranch(fmt.Sprintf("child expr, op %v", e.CompareOp))
			e.ChildExpr.Print(childBranch, "")
		}
		e.SubPlan.Print(branch)
		branch.AddNode(")")
	default:
		panic(fmt.Sprintf("usp expr type %d", e.Typ))
	}
}

func (e *Expr) String() string {
	ctx := &FormatCtx{}
	e.Format(ctx)
	return ctx.String()
}
