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
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/daviszhen/unnest/pkg/common"
)

func TestMetadataAddColumn(t *testing.T) {
	md := NewMetadata()
	a := md.AddBaseColumn("t1", "a", common.IntegerType())
	b := md.AddBaseColumn("t1", "b", common.VarcharType())
	d := md.AddDerivedColumn("marker", common.BooleanType().WrapNullable())

	assert.Equal(t, uint64(0), a)
	assert.Equal(t, uint64(1), b)
	assert.Equal(t, uint64(2), d)
	assert.Equal(t, 3, md.ColumnCount())
	assert.Equal(t, uint64(3), md.NextColumnIdx())

	entry, has := md.Column(b)
	assert.True(t, has)
	assert.Equal(t, "t1", entry.Table)
	assert.Equal(t, "b", entry.Name)
	assert.False(t, entry.Derived)

	entry, has = md.Column(d)
	assert.True(t, has)
	assert.True(t, entry.Derived)
	assert.True(t, entry.Typ.Nullable)

	assert.Equal(t, "marker", md.ColumnName(d))
	assert.False(t, md.HasColumn(100))
	_, has = md.Column(100)
	assert.False(t, has)
}

func TestMetadataConcurrentMint(t *testing.T) {
	md := NewMetadata()
	const workers = 8
	const perWorker = 100

	var wg sync.WaitGroup
	got := make([][]uint64, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				idx := md.AddDerivedColumn("c", common.IntegerType())
				got[slot] = append(got[slot], idx)
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[uint64]bool)
	for _, idxs := range got {
		for _, idx := range idxs {
			assert.False(t, seen[idx])
			seen[idx] = true
			assert.True(t, md.HasColumn(idx))
		}
	}
	assert.Equal(t, workers*perWorker, md.ColumnCount())
}
