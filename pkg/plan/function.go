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
)

// AggrFunc is the descriptor an aggregate factory yields: enough for the
// planner to type the aggregate's output. Evaluation lives in the runtime.
type AggrFunc struct {
	_name    string
	_args    []common.LType
	_retType common.LType
}

func (af *AggrFunc) Name() string {
	return af._name
}

func (af *AggrFunc) ReturnType() common.LType {
	return af._retType
}

type aggrFuncFactory func(args []common.LType) (*AggrFunc, error)

var aggrFuncs = map[string]aggrFuncFactory{
	"count": func(args []common.LType) (*AggrFunc, error) {
		//count never yields null, empty group gives 0
		return &AggrFunc{_name: "count", _args: args, _retType: common.UbigintType()}, nil
	},
	"sum": func(args []common.LType) (*AggrFunc, error) {
		if len(args) != 1 || !args[0].IsNumeric() {
			return nil, fmt.Errorf("sum needs one numeric arg")
		}
		ret := args[0]
		if ret.Id != common.LTID_DECIMAL && ret.Id != common.LTID_DOUBLE && ret.Id != common.LTID_FLOAT {
			ret = common.HugeintType()
		}
		return &AggrFunc{_name: "sum", _args: args, _retType: ret.WrapNullable()}, nil
	},
	"min": func(args []common.LType) (*AggrFunc, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("min needs one arg")
		}
		return &AggrFunc{_name: "min", _args: args, _retType: args[0].WrapNullable()}, nil
	},
	"max": func(args []common.LType) (*AggrFunc, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("max needs one arg")
		}
		return &AggrFunc{_name: "max", _args: args, _retType: args[0].WrapNullable()}, nil
	},
	"avg": func(args []common.LType) (*AggrFunc, error) {
		if len(args) != 1 || !args[0].IsNumeric() {
			return nil, fmt.Errorf("avg needs one numeric arg")
		}
		return &AggrFunc{_name: "avg", _args: args, _retType: common.DoubleType().WrapNullable()}, nil
	},
}

type FunctionBinder struct {
}

// BindAggrFunc is the aggregate factory. The rewriter only needs count for
// the EXISTS rewrite; the rest serve the binder side.
func (binder *FunctionBinder) BindAggrFunc(
	name string,
	args []common.LType,
) (*AggrFunc, error) {
	factory := aggrFuncs[name]
	if factory == nil {
		return nil, fmt.Errorf("aggregate function %s not found", name)
	}
	return factory(args)
}

// BindScalarFunc types a connective, comparison or named function over
// bound args. Result nullability follows the children: anything touching a
// nullable child is nullable, comparisons are always nullable.
func (binder *FunctionBinder) BindScalarFunc(
	name string,
	args []*Expr,
	subTyp ET_SubTyp,
	isOperator bool,
) *Expr {
	var retTyp common.LType
	switch {
	case subTyp == ET_And || subTyp == ET_Or || subTyp == ET_Not:
		retTyp = common.BooleanType()
		if anyNullable(args) {
			retTyp = retTyp.WrapNullable()
		}
	case subTyp.isComparison():
		retTyp = common.BooleanType().WrapNullable()
	case subTyp == ET_SubFunc:
		retTyp = scalarFuncRetType(name, args)
	default:
		panic(fmt.Sprintf("usp %v", subTyp))
	}
	return &Expr{
		Typ:        ET_Func,
		SubTyp:     subTyp,
		DataTyp:    retTyp,
		FuncName:   name,
		IsOperator: isOperator,
		Children:   copyExprs(args...),
	}
}

func scalarFuncRetType(name string, args []*Expr) common.LType {
	switch name {
	case "is_not_null", "is_null":
		return common.BooleanType()
	case "if":
		//if(cond, then, else)
		if len(args) != 3 {
			panic("if needs three args")
		}
		ret := args[1].DataTyp
		if args[2].DataTyp.Nullable {
			ret = ret.WrapNullable()
		}
		return ret
	default:
		panic(fmt.Sprintf("function %s not found", name))
	}
}

func anyNullable(args []*Expr) bool {
	for _, arg := range args {
		if arg.DataTyp.Nullable {
			return true
		}
	}
	return false
}
