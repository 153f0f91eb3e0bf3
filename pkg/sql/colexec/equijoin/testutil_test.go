// Copyright 2021 - 2023 Matrix Origin
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package equijoin

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine/memengine"
)

// leftDesc: attrs (k int64, v varchar) over one dimension i.
func testLeftDesc() *array.Desc {
	return &array.Desc{
		Name: "left",
		Attrs: []array.AttrDesc{
			{Name: "k", Type: types.T_int64, Nullable: true},
			{Name: "v", Type: types.T_varchar},
		},
		Dims: []array.DimDesc{{Name: "i", Start: 0, ChunkInterval: 4}},
	}
}

// rightDesc: attrs (k int64, w int64) over one dimension j.
func testRightDesc() *array.Desc {
	return &array.Desc{
		Name: "right",
		Attrs: []array.AttrDesc{
			{Name: "k", Type: types.T_int64, Nullable: true},
			{Name: "w", Type: types.T_int64},
		},
		Dims: []array.DimDesc{{Name: "j", Start: 0, ChunkInterval: 4}},
	}
}

// makeShard lays rows into 1-D chunks starting at coordinate base.
func makeShard(desc *array.Desc, base int64, rows [][]types.Value) *array.Array {
	interval := desc.Dims[0].ChunkInterval
	var chunks []*array.Chunk
	coord := base
	for len(rows) > 0 {
		corner := desc.ChunkCorner(0, coord)
		room := corner + interval - coord
		n := int64(len(rows))
		if n > room {
			n = room
		}
		c := &array.Chunk{
			Corner: []int64{corner},
			Cols:   make([][]types.Value, len(desc.Attrs)),
		}
		for i := int64(0); i < n; i++ {
			c.Coords = append(c.Coords, []int64{coord + i})
			for j := range c.Cols {
				c.Cols[j] = append(c.Cols[j], rows[i][j])
			}
		}
		chunks = append(chunks, c)
		rows = rows[n:]
		coord += n
	}
	return array.NewMaterialized(desc, chunks)
}

func lrow(k int64, v string) []types.Value {
	return []types.Value{types.NewInt64(k), types.NewString(v)}
}

func lrowNull(v string) []types.Value {
	return []types.Value{types.NewNull(types.T_int64), types.NewString(v)}
}

func rrow(k, w int64) []types.Value {
	return []types.Value{types.NewInt64(k), types.NewInt64(w)}
}

func rrowNull(w int64) []types.Value {
	return []types.Value{types.NewNull(types.T_int64), types.NewInt64(w)}
}

// joinRun is one collective execution over the in-process cluster.
type joinRun struct {
	outs  []*array.Array
	stats []Stats
}

// runJoin executes the operator on n instances; shard slices are indexed
// by instance.
func runJoin(t *testing.T, n int, leftShards, rightShards []*array.Array, params []string, cfg *Config) joinRun {
	t.Helper()
	cluster := memengine.NewCluster(n)
	run := joinRun{
		outs:  make([]*array.Array, n),
		stats: make([]Stats, n),
	}
	err := cluster.Run(func(id int, rt engine.Runtime) error {
		ctx := context.Background()
		j, err := New(ctx, rt, testLeftDesc(), testRightDesc(), params, cfg)
		if err != nil {
			return err
		}
		out, err := j.Execute(ctx, rt, leftShards[id], rightShards[id])
		if err != nil {
			return err
		}
		run.outs[id] = out
		run.stats[id] = *j.Stats()
		return nil
	})
	require.NoError(t, err)
	return run
}

// outputMultiset projects (k, v, w) out of every emitted row across all
// instances, rendered as counted strings.
func outputMultiset(t *testing.T, outs []*array.Array) map[string]int {
	t.Helper()
	ms := map[string]int{}
	for _, out := range outs {
		if out == nil {
			continue
		}
		for _, c := range out.Chunks() {
			for i := 0; i < c.Count(); i++ {
				// output layout: k, v, i, w, j, $empty_tag
				key := strings.Join([]string{
					c.Cols[0][i].String(),
					c.Cols[1][i].String(),
					c.Cols[3][i].String(),
				}, "|")
				ms[key]++
			}
		}
	}
	return ms
}

func totalRows(outs []*array.Array) int {
	total := 0
	for _, out := range outs {
		if out == nil {
			continue
		}
		for _, c := range out.Chunks() {
			total += c.Count()
		}
	}
	return total
}

func defaultTestConfig() *Config {
	cfg := DefaultConfig()
	cfg.ChunkSize = 8
	cfg.BloomFilterBits = 1 << 16
	return cfg
}
