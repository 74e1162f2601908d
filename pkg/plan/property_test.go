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
)

func TestColumnSet(t *testing.T) {
	cs := NewColumnSet()
	assert.True(t, cs.Empty())
	cs.Insert(3, 1, 2, 3)
	assert.Equal(t, 3, cs.Len())
	assert.True(t, cs.Contains(1))
	assert.False(t, cs.Contains(4))
	assert.Equal(t, []uint64{1, 2, 3}, cs.Ordered())
	assert.Equal(t, "{1,2,3}", cs.String())
}

func TestDeriveOuterColumnsUncorrelated(t *testing.T) {
	cat := NewDemoCatalog()
	prop := deriveRelationalProp(cat.scanOrders())
	assert.True(t, prop.OuterColumns.Empty())
	assert.True(t, prop.OutputColumns.Contains(cat.OCustkey))
}

func TestDeriveOuterColumnsCorrelated(t *testing.T) {
	cat := NewDemoCatalog()
	//the subplan of the correlated count reads c_custkey from outside
	input := cat.CorrelatedCountPlan()
	sub := input.Projects[1].Scalar.SubPlan

	prop := deriveRelationalProp(sub)
	assert.Equal(t, 1, prop.OuterColumns.Len())
	assert.True(t, prop.OuterColumns.Contains(cat.CCustkey))
}

func TestDeriveOuterColumnsNestedPlan(t *testing.T) {
	cat := NewDemoCatalog()
	//an uncorrelated subquery expression inside the plan contributes no
	//outer columns
	input := cat.ScalarMaxPricePlan()
	prop := deriveRelationalProp(input)
	assert.True(t, prop.OuterColumns.Empty())
}
