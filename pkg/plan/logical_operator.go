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

	"github.com/huandu/go-clone"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/unnest/pkg/common"
)

type LOT int

const (
	LOT_Project   LOT = 0
	LOT_Filter    LOT = 1
	LOT_Scan      LOT = 2
	LOT_DummyScan LOT = 3
	LOT_JOIN      LOT = 4
	LOT_AggGroup  LOT = 5
	LOT_Order     LOT = 6
	LOT_Limit     LOT = 7
	LOT_Union     LOT = 8
)

func (lt LOT) String() string {
	switch lt {
	case LOT_Project:
		return "Project"
	case LOT_Filter:
		return "Filter"
	case LOT_Scan:
		return "Scan"
	case LOT_DummyScan:
		return "DummyScan"
	case LOT_JOIN:
		return "Join"
	case LOT_AggGroup:
		return "Aggregate"
	case LOT_Order:
		return "Order"
	case LOT_Limit:
		return "Limit"
	case LOT_Union:
		return "Union"
	default:
		panic(fmt.Sprintf("usp %d", lt))
	}
}

type LOT_JoinType int

const (
	LOT_JoinTypeCross LOT_JoinType = iota
	LOT_JoinTypeLeft
	LOT_JoinTypeInner
	LOT_JoinTypeSEMI
	LOT_JoinTypeANTI
	//SINGLE verifies at most one matching inner row per outer row and
	//projects it. More than one is a hard error at execution time.
	LOT_JoinTypeSINGLE
	LOT_JoinTypeLeftMARK
	LOT_JoinTypeRightMARK
)

func (lojt LOT_JoinType) String() string {
	switch lojt {
	case LOT_JoinTypeCross:
		return "cross"
	case LOT_JoinTypeLeft:
		return "left"
	case LOT_JoinTypeInner:
		return "inner"
	case LOT_JoinTypeSEMI:
		return "semi"
	case LOT_JoinTypeANTI:
		return "anti semi"
	case LOT_JoinTypeSINGLE:
		return "single"
	case LOT_JoinTypeLeftMARK:
		return "left mark"
	case LOT_JoinTypeRightMARK:
		return "right mark"
	default:
		panic(fmt.Sprintf("usp %d", lojt))
	}
}

func (lojt LOT_JoinType) isMark() bool {
	return lojt == LOT_JoinTypeLeftMARK || lojt == LOT_JoinTypeRightMARK
}

type AggMode int

const (
	AggModeInitial AggMode = iota
	AggModePartial
	AggModeFinal
)

func (am AggMode) String() string {
	switch am {
	case AggModeInitial:
		return "initial"
	case AggModePartial:
		return "partial"
	case AggModeFinal:
		return "final"
	default:
		panic(fmt.Sprintf("usp %d", am))
	}
}

// ScalarItem binds a payload scalar to the column index its value is
// produced under.
type ScalarItem struct {
	Scalar *Expr
	Index  uint64
}

// LogicalOperator is the relational operator node. Typ picks the variant.
// Nodes own their children exclusively. The rewrite never mutates a node
// in place; it builds replacements and splices them in.
type LogicalOperator struct {
	Typ      LOT
	Children []*LogicalOperator

	//for Project
	Projects []*ScalarItem

	//for Filter. also carried by Scan as pushed-down predicates
	Filters  []*Expr
	IsHaving bool

	//for AggGroup
	GroupBys []*ScalarItem
	Aggs     []*ScalarItem
	Distinct bool
	Mode     AggMode

	//for Join
	JoinTyp        LOT_JoinType
	LeftConds      []*Expr //evaluated against the left child
	RightConds     []*Expr //evaluated against the right child
	OnConds        []*Expr //non-equi
	MarkIndex      uint64  //mark joins only
	FromCorrelated bool

	//for Limit
	Limit  *Expr
	Offset *Expr

	//for Order
	OrderBys []*Expr

	//for Scan
	Database   string
	Table      string
	Alias      string
	TableIndex uint64
	ColIdxs    []uint64
	Columns    []string
	Types      []common.LType
}

func (lo *LogicalOperator) clone() *LogicalOperator {
	if lo == nil {
		return nil
	}
	return clone.Clone(lo).(*LogicalOperator)
}

// shallow copies payload, replaces children. the rewrite uses it to build
// new nodes without touching the input tree.
func (lo *LogicalOperator) withChildren(children ...*LogicalOperator) *LogicalOperator {
	ret := *lo
	ret.Children = children
	return &ret
}

func createUnaryOp(op *LogicalOperator, child *LogicalOperator) *LogicalOperator {
	op.Children = []*LogicalOperator{child}
	return op
}

func createBinaryOp(op *LogicalOperator, left, right *LogicalOperator) *LogicalOperator {
	op.Children = []*LogicalOperator{left, right}
	return op
}

func (lo *LogicalOperator) Print(tree treeprint.Tree) {
	if lo == nil {
		return
	}
	switch lo.Typ {
	case LOT_Project:
		tree = tree.AddBranch("Project:")
		node := tree.AddMetaBranch("exprs", "")
		listItemsToTree(node, lo.Projects)
	case LOT_Filter:
		tree = tree.AddBranch("Filter:")
		if lo.IsHaving {
			tree.AddMetaNode("having", "true")
		}
		node := tree.AddMetaBranch("exprs", "")
		listExprsToTree(node, lo.Filters)
	case LOT_Scan:
		tree = tree.AddBranch("Scan:")
		tree.AddMetaNode("index", fmt.Sprintf("%d", lo.TableIndex))
		tableInfo := ""
		if len(lo.Alias) != 0 && lo.Alias != lo.Table {
			tableInfo = fmt.Sprintf("%v.%v %v", lo.Database, lo.Table, lo.Alias)
		} else {
			tableInfo = fmt.Sprintf("%v.%v", lo.Database, lo.Table)
		}
		tree.AddMetaNode("table", tableInfo)
		if len(lo.Columns) > 0 {
			t := strings.Builder{}
			t.WriteByte('\n')
			for i, col := range lo.Columns {
				t.WriteString(fmt.Sprintf("col %d %v %v", lo.ColIdxs[i], col, lo.Types[i]))
				t.WriteByte('\n')
			}
			tree.AddMetaNode("columns", t.String())
		}
		if len(lo.Filters) > 0 {
			node := tree.AddBranch("filters")
			listExprsToTree(node, lo.Filters)
		}
	case LOT_DummyScan:
		tree = tree.AddBranch("DummyScan:")
	case LOT_JOIN:
		tree = tree.AddBranch(fmt.Sprintf("Join (%v):", lo.JoinTyp))
		if lo.JoinTyp.isMark() {
			tree.AddMetaNode("marker", fmt.Sprintf("%d", lo.MarkIndex))
		}
		if len(lo.LeftConds) > 0 {
			node := tree.AddMetaBranch("left conds", "")
			listExprsToTree(node, lo.LeftConds)
		}
		if len(lo.RightConds) > 0 {
			node := tree.AddMetaBranch("right conds", "")
			listExprsToTree(node, lo.RightConds)
		}
		if len(lo.OnConds) > 0 {
			node := tree.AddMetaBranch("On", "")
			listExprsToTree(node, lo.OnConds)
		}
	case LOT_AggGroup:
		tree = tree.AddBranch(fmt.Sprintf("Aggregate (%v):", lo.Mode))
		if len(lo.GroupBys) > 0 {
			node := tree.AddBranch("groupExprs")
			listItemsToTree(node, lo.GroupBys)
		}
		if len(lo.Aggs) > 0 {
			node := tree.AddBranch("aggExprs")
			listItemsToTree(node, lo.Aggs)
		}
	case LOT_Order:
		tree = tree.AddBranch("Order:")
		node := tree.AddMetaBranch("exprs", "")
		listExprsToTree(node, lo.OrderBys)
	case LOT_Limit:
		tree = tree.AddBranch(fmt.Sprintf("Limit: %v", lo.Limit.String()))
		if lo.Offset != nil {
			tree.AddMetaNode("offset", lo.Offset.String())
		}
	case LOT_Union:
		tree = tree.AddBranch("Union:")
	default:
		panic(fmt.Sprintf("usp %v", lo.Typ))
	}

	for _, child := range lo.Children {
		child.Print(tree)
	}
}

func (lo *LogicalOperator) String() string {
	tree := treeprint.NewWithRoot("LogicalPlan:")
	lo.Print(tree)
	return tree.String()
}
