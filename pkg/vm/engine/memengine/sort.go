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

package memengine

import (
	"container/heap"
	"context"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
	"golang.org/x/exp/slices"

	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// SortArray is the external sort of the host contract: rows are split
// into blocks, each block sorted on a pooled worker, and the runs merged
// with a binary min-heap into a fresh materialized array.
func (rt *instanceRuntime) SortArray(ctx context.Context, a *array.Array, less engine.RowLess) (*array.Array, error) {
	it, err := a.NewIterator(ctx)
	if err != nil {
		return nil, err
	}
	var rows [][]types.Value
	for !it.End() {
		c := it.Chunk()
		for i := 0; i < c.Count(); i++ {
			row := make([]types.Value, len(c.Cols))
			for j := range c.Cols {
				row[j] = c.Cols[j][i]
			}
			rows = append(rows, row)
		}
		if err := it.Next(); err != nil {
			return nil, err
		}
	}

	blocks := sortBlocks(rows, less)
	merged := mergeRuns(blocks, less)
	return buildRowArray(a.Desc(), merged, int(rt.id)), nil
}

func sortBlocks(rows [][]types.Value, less engine.RowLess) [][][]types.Value {
	if len(rows) == 0 {
		return nil
	}
	nWorkers := runtime.NumCPU()
	blockSize := (len(rows) + nWorkers - 1) / nWorkers
	var blocks [][][]types.Value
	for lo := 0; lo < len(rows); lo += blockSize {
		hi := lo + blockSize
		if hi > len(rows) {
			hi = len(rows)
		}
		blocks = append(blocks, rows[lo:hi])
	}
	pool, err := ants.NewPool(nWorkers)
	if err != nil {
		// Pool creation only fails on nonsense sizes; sort inline then.
		for _, b := range blocks {
			slices.SortStableFunc(b, less)
		}
		return blocks
	}
	defer pool.Release()
	var wg sync.WaitGroup
	for _, b := range blocks {
		b := b
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			slices.SortStableFunc(b, less)
		}); err != nil {
			slices.SortStableFunc(b, less)
			wg.Done()
		}
	}
	wg.Wait()
	return blocks
}

type runHeap struct {
	heads []int
	runs  [][][]types.Value
	less  engine.RowLess
}

func (h *runHeap) Len() int { return len(h.runs) }
func (h *runHeap) Less(i, j int) bool {
	return h.less(h.runs[i][h.heads[i]], h.runs[j][h.heads[j]])
}
func (h *runHeap) Swap(i, j int) {
	h.runs[i], h.runs[j] = h.runs[j], h.runs[i]
	h.heads[i], h.heads[j] = h.heads[j], h.heads[i]
}
func (h *runHeap) Push(x any) {
	h.runs = append(h.runs, x.([][]types.Value))
	h.heads = append(h.heads, 0)
}
func (h *runHeap) Pop() any {
	n := len(h.runs)
	r := h.runs[n-1]
	h.runs = h.runs[:n-1]
	h.heads = h.heads[:n-1]
	return r
}

func mergeRuns(runs [][][]types.Value, less engine.RowLess) [][]types.Value {
	var total int
	h := &runHeap{less: less}
	for _, r := range runs {
		total += len(r)
		if len(r) > 0 {
			h.runs = append(h.runs, r)
			h.heads = append(h.heads, 0)
		}
	}
	heap.Init(h)
	out := make([][]types.Value, 0, total)
	for h.Len() > 0 {
		out = append(out, h.runs[0][h.heads[0]])
		h.heads[0]++
		if h.heads[0] >= len(h.runs[0]) {
			heap.Pop(h)
		} else {
			heap.Fix(h, 0)
		}
	}
	return out
}
