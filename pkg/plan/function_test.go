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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daviszhen/unnest/pkg/common"
)

func TestBindAggrFunc(t *testing.T) {
	fbinder := FunctionBinder{}

	count, err := fbinder.BindAggrFunc("count", nil)
	assert.NoError(t, err)
	assert.Equal(t, "count", count.Name())
	//count never yields null, an empty input counts to 0
	assert.Equal(t, common.LTID_UBIGINT, count.ReturnType().Id)
	assert.False(t, count.ReturnType().Nullable)

	max, err := fbinder.BindAggrFunc("max", []common.LType{common.BigintType()})
	assert.NoError(t, err)
	assert.True(t, max.ReturnType().Nullable)

	_, err = fbinder.BindAggrFunc("median", []common.LType{common.BigintType()})
	assert.Error(t, err)
}

func TestBindScalarFunc(t *testing.T) {
	fbinder := FunctionBinder{}
	col := colRefExpr(0, "a", common.BigintType())
	nullableCol := colRefExpr(1, "b", common.BigintType().WrapNullable())

	cmp := fbinder.BindScalarFunc(ET_Equal.String(), []*Expr{col, col},
		ET_Equal, ET_Equal.isOperator())
	assert.Equal(t, ET_Func, cmp.Typ)
	assert.Equal(t, ET_Equal, cmp.SubTyp)
	assert.True(t, cmp.IsOperator)
	assert.Equal(t, common.LTID_BOOLEAN, cmp.DataTyp.Id)
	assert.True(t, cmp.DataTyp.Nullable)

	//connectives are nullable only when a child is
	land := fbinder.BindScalarFunc(ET_And.String(), []*Expr{bconst(true), bconst(false)},
		ET_And, true)
	assert.False(t, land.DataTyp.Nullable)

	isNotNull := fbinder.BindScalarFunc("is_not_null", []*Expr{nullableCol},
		ET_SubFunc, false)
	assert.Equal(t, common.LTID_BOOLEAN, isNotNull.DataTyp.Id)
	assert.False(t, isNotNull.DataTyp.Nullable)

	cond := fbinder.BindScalarFunc("if",
		[]*Expr{isNotNull, nullableCol, iconst(0, common.BigintType())},
		ET_SubFunc, false)
	assert.Equal(t, common.LTID_BIGINT, cond.DataTyp.Id)
	assert.True(t, cond.DataTyp.Nullable)

	//args are copied, mutating the input afterwards is safe
	col.Name = "changed"
	assert.Equal(t, "a", cmp.Children[0].Name)
}
