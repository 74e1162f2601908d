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
	"sync"

	treemap "github.com/liyue201/gostl/ds/map"
	"github.com/xlab/treeprint"

	"github.com/daviszhen/unnest/pkg/common"
)

type ColumnEntry struct {
	Idx     uint64
	Table   string
	Name    string
	Typ     common.LType
	Derived bool
}

// Metadata is the per-session registry of every column index the planner
// knows about, base and derived. Indexes grow monotonically and are never
// reused. One registry per planning session; concurrent sessions each own
// their handle.
type Metadata struct {
	lock       sync.RWMutex
	cols       *treemap.Map[uint64, *ColumnEntry]
	nextColIdx uint64
}

type MetadataRef = *Metadata

func NewMetadata() *Metadata {
	cmp := func(a, b uint64) int {
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
		return 0
	}
	return &Metadata{
		cols: treemap.New[uint64, *ColumnEntry](cmp),
	}
}

func (md *Metadata) AddBaseColumn(table, name string, typ common.LType) uint64 {
	md.lock.Lock()
	defer md.lock.Unlock()
	idx := md.nextColIdx
	md.nextColIdx++
	md.cols.Insert(idx, &ColumnEntry{
		Idx:   idx,
		Table: table,
		Name:  name,
		Typ:   typ,
	})
	return idx
}

func (md *Metadata) AddDerivedColumn(name string, typ common.LType) uint64 {
	md.lock.Lock()
	defer md.lock.Unlock()
	idx := md.nextColIdx
	md.nextColIdx++
	md.cols.Insert(idx, &ColumnEntry{
		Idx:     idx,
		Name:    name,
		Typ:     typ,
		Derived: true,
	})
	return idx
}

func (md *Metadata) Column(idx uint64) (*ColumnEntry, bool) {
	md.lock.RLock()
	defer md.lock.RUnlock()
	ent, err := md.cols.Get(idx)
	if err != nil {
		return nil, false
	}
	return ent, true
}

func (md *Metadata) ColumnName(idx uint64) string {
	if ent, has := md.Column(idx); has {
		return ent.Name
	}
	return ""
}

func (md *Metadata) ColumnType(idx uint64) (common.LType, bool) {
	if ent, has := md.Column(idx); has {
		return ent.Typ, true
	}
	return common.LType{}, false
}

func (md *Metadata) HasColumn(idx uint64) bool {
	_, has := md.Column(idx)
	return has
}

func (md *Metadata) ColumnCount() int {
	md.lock.RLock()
	defer md.lock.RUnlock()
	return md.cols.Size()
}

// NextColumnIdx peeks the next index to be minted. Tests use it to check
// freshness of derived columns.
func (md *Metadata) NextColumnIdx() uint64 {
	md.lock.RLock()
	defer md.lock.RUnlock()
	return md.nextColIdx
}

func (md *Metadata) Print(tree treeprint.Tree) {
	md.lock.RLock()
	defer md.lock.RUnlock()
	md.cols.Traversal(func(idx uint64, ent *ColumnEntry) bool {
		kind := "base"
		if ent.Derived {
			kind = "derived"
		}
		tree.AddNode(fmt.Sprintf("col %d %s %s.%s %s",
			idx, kind, ent.Table, ent.Name, ent.Typ))
		return true
	})
}

func (md *Metadata) String() string {
	tree := treeprint.NewWithRoot("Metadata:")
	md.Print(tree)
	return tree.String()
}
