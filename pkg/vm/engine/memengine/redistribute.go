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
	"context"

	"github.com/google/btree"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// chunkItem orders received chunks by (source instance, send sequence) so
// a shuffle can reassemble a deterministic, optionally order-preserving
// chunk list regardless of goroutine interleaving.
type chunkItem struct {
	src, seq int
	c        *array.Chunk
}

func (a chunkItem) Less(b btree.Item) bool {
	o := b.(chunkItem)
	if a.src != o.src {
		return a.src < o.src
	}
	return a.seq < o.seq
}

func (rt *instanceRuntime) sendChunk(ctx context.Context, dst int, tc taggedChunk) error {
	select {
	case rt.cluster.chunks[rt.id][dst] <- tc:
		return nil
	case <-ctx.Done():
		return moerr.NewQueryInterrupted(ctx)
	}
}

// RedistributeToRandomAccess reassembles received chunks in (src, seq)
// order, so the preserveOrdering contract holds whether requested or not.
func (rt *instanceRuntime) RedistributeToRandomAccess(ctx context.Context, a *array.Array, p engine.Partitioning, _ bool) (*array.Array, error) {
	n := rt.cluster.n
	me := int(rt.id)
	tree := btree.New(8)

	it, err := a.NewIterator(ctx)
	if err != nil {
		return nil, err
	}
	seq := 0
	for !it.End() {
		c := it.Chunk()
		switch p {
		case engine.Replication:
			for dst := 0; dst < n; dst++ {
				if dst == me {
					tree.ReplaceOrInsert(chunkItem{src: me, seq: seq, c: c})
					continue
				}
				if err := rt.sendChunk(ctx, dst, taggedChunk{src: me, seq: seq, c: c}); err != nil {
					return nil, err
				}
			}
		case engine.ByRow:
			if len(c.Corner) == 0 {
				return nil, moerr.NewInternal(ctx, "by-row shuffle of a dimensionless chunk")
			}
			dst := int(uint64(c.Corner[0]) % uint64(n))
			if dst == me {
				tree.ReplaceOrInsert(chunkItem{src: me, seq: seq, c: c})
			} else if err := rt.sendChunk(ctx, dst, taggedChunk{src: me, seq: seq, c: c}); err != nil {
				return nil, err
			}
		default:
			return nil, moerr.NewNotSupported(ctx, "partitioning %s", p)
		}
		seq++
		if err := it.Next(); err != nil {
			return nil, err
		}
	}
	for dst := 0; dst < n; dst++ {
		if dst == me {
			continue
		}
		if err := rt.sendChunk(ctx, dst, taggedChunk{src: me, last: true}); err != nil {
			return nil, err
		}
	}

	for src := 0; src < n; src++ {
		if src == me {
			continue
		}
		for {
			var tc taggedChunk
			select {
			case tc = <-rt.cluster.chunks[src][me]:
			case <-ctx.Done():
				return nil, moerr.NewQueryInterrupted(ctx)
			}
			if tc.last {
				break
			}
			tree.ReplaceOrInsert(chunkItem{src: tc.src, seq: tc.seq, c: tc.c})
		}
	}

	chunks := make([]*array.Chunk, 0, tree.Len())
	tree.Ascend(func(item btree.Item) bool {
		chunks = append(chunks, item.(chunkItem).c)
		return true
	})
	if p == engine.Replication {
		return array.NewMaterialized(a.Desc(), chunks), nil
	}
	return rebuildLocal(ctx, a.Desc(), chunks, me)
}

// rebuildLocal renumbers shuffled rows into dense (instance_id, value_no)
// chunks owned by this instance.
func rebuildLocal(ctx context.Context, desc *array.Desc, chunks []*array.Chunk, me int) (*array.Array, error) {
	if desc.NumDims() != 2 {
		return nil, moerr.NewInternal(ctx, "by-row shuffle expects (instance_id, value_no) arrays, got %d dims", desc.NumDims())
	}
	var rows [][]types.Value
	for _, c := range chunks {
		for i := 0; i < c.Count(); i++ {
			row := make([]types.Value, len(c.Cols))
			for j := range c.Cols {
				row[j] = c.Cols[j][i]
			}
			rows = append(rows, row)
		}
	}
	return buildRowArray(desc, rows, me), nil
}

// buildRowArray lays rows out into chunks of the value_no interval.
func buildRowArray(desc *array.Desc, rows [][]types.Value, me int) *array.Array {
	interval := desc.Dims[1].ChunkInterval
	nAttrs := desc.NumAttrs()
	var out []*array.Chunk
	for base := int64(0); base < int64(len(rows)); base += interval {
		hi := base + interval
		if hi > int64(len(rows)) {
			hi = int64(len(rows))
		}
		c := &array.Chunk{
			Corner: []int64{int64(me), base},
			Coords: make([][]int64, 0, hi-base),
			Cols:   make([][]types.Value, nAttrs),
		}
		for j := 0; j < nAttrs; j++ {
			c.Cols[j] = make([]types.Value, 0, hi-base)
		}
		for i := base; i < hi; i++ {
			c.Coords = append(c.Coords, []int64{int64(me), i})
			for j := 0; j < nAttrs; j++ {
				c.Cols[j] = append(c.Cols[j], rows[i][j])
			}
		}
		out = append(out, c)
	}
	return array.NewMaterialized(desc, out)
}
