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

package common

import "fmt"

type LTypeId int

const (
	LTID_INVALID  LTypeId = 0
	LTID_NULL     LTypeId = 1
	LTID_BOOLEAN  LTypeId = 10
	LTID_TINYINT  LTypeId = 11
	LTID_SMALLINT LTypeId = 12
	LTID_INTEGER  LTypeId = 13
	LTID_BIGINT   LTypeId = 14
	LTID_DATE     LTypeId = 15
	LTID_DECIMAL  LTypeId = 21
	LTID_FLOAT    LTypeId = 22
	LTID_DOUBLE   LTypeId = 23
	LTID_VARCHAR  LTypeId = 25
	LTID_UTINYINT LTypeId = 28
	LTID_USMALLINT LTypeId = 29
	LTID_UINTEGER LTypeId = 30
	LTID_UBIGINT  LTypeId = 31
	LTID_HUGEINT  LTypeId = 50
)

var lTypeIdToStr = map[LTypeId]string{
	LTID_INVALID:   "invalid",
	LTID_NULL:      "null",
	LTID_BOOLEAN:   "boolean",
	LTID_TINYINT:   "tinyint",
	LTID_SMALLINT:  "smallint",
	LTID_INTEGER:   "integer",
	LTID_BIGINT:    "bigint",
	LTID_DATE:      "date",
	LTID_DECIMAL:   "decimal",
	LTID_FLOAT:     "float",
	LTID_DOUBLE:    "double",
	LTID_VARCHAR:   "varchar",
	LTID_UTINYINT:  "utinyint",
	LTID_USMALLINT: "usmallint",
	LTID_UINTEGER:  "uinteger",
	LTID_UBIGINT:   "ubigint",
	LTID_HUGEINT:   "hugeint",
}

func (id LTypeId) String() string {
	if s, has := lTypeIdToStr[id]; has {
		return s
	}
	panic(fmt.Sprintf("usp type id %d", int(id)))
}

// LType is the logical type attached to every expression and column.
// Nullability is part of the type. The planner only wraps and removes
// it; evaluating values of these types is the runtime's business.
type LType struct {
	Id       LTypeId
	Width    int
	Scale    int
	Nullable bool
}

func MakeLType(id LTypeId) LType {
	return LType{Id: id}
}

func Null() LType {
	ret := MakeLType(LTID_NULL)
	ret.Nullable = true
	return ret
}

func BooleanType() LType {
	return MakeLType(LTID_BOOLEAN)
}

func TinyintType() LType {
	return MakeLType(LTID_TINYINT)
}

func SmallintType() LType {
	return MakeLType(LTID_SMALLINT)
}

func IntegerType() LType {
	return MakeLType(LTID_INTEGER)
}

func BigintType() LType {
	return MakeLType(LTID_BIGINT)
}

func UbigintType() LType {
	return MakeLType(LTID_UBIGINT)
}

func HugeintType() LType {
	return MakeLType(LTID_HUGEINT)
}

func FloatType() LType {
	return MakeLType(LTID_FLOAT)
}

func DoubleType() LType {
	return MakeLType(LTID_DOUBLE)
}

func DateType() LType {
	return MakeLType(LTID_DATE)
}

func VarcharType() LType {
	return MakeLType(LTID_VARCHAR)
}

func DecimalType(width, scale int) LType {
	ret := MakeLType(LTID_DECIMAL)
	ret.Width = width
	ret.Scale = scale
	return ret
}

func (lt LType) WrapNullable() LType {
	lt.Nullable = true
	return lt
}

func (lt LType) RemoveNullable() LType {
	lt.Nullable = false
	return lt
}

func (lt LType) IsNumeric() bool {
	switch lt.Id {
	case LTID_TINYINT, LTID_SMALLINT, LTID_INTEGER, LTID_BIGINT,
		LTID_HUGEINT, LTID_FLOAT, LTID_DOUBLE, LTID_DECIMAL,
		LTID_UTINYINT, LTID_USMALLINT, LTID_UINTEGER, LTID_UBIGINT:
		return true
	default:
		return false
	}
}

func (lt LType) Equal(o LType) bool {
	return lt == o
}

func (lt LType) String() string {
	mark := ""
	if lt.Nullable {
		mark = "?"
	}
	if lt.Id == LTID_DECIMAL {
		return fmt.Sprintf("%v(%d,%d)%s", lt.Id, lt.Width, lt.Scale, mark)
	}
	return fmt.Sprintf("%v%s", lt.Id, mark)
}
