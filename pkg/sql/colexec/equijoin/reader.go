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

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

// The reader modes share one streaming surface: End, Tuple, Next. Each
// mode is its own type so the row loops stay monomorphic.

// InputReader walks a raw input array and materializes join tuples: key
// fields in the low slots, payload after, per the side's permutation.
// Rows with a null key do not participate in any join and are dropped
// here. An optional chunk filter prunes whole chunks by corner, an
// optional Bloom filter prunes rows by hashed keys.
type InputReader struct {
	ctx      context.Context
	settings *Settings
	side     Handedness
	it       *array.Iterator
	nAttrs   int
	nDims    int
	mapping  []int
	chunkF   *ChunkFilter
	bloomF   *JoinBloomFilter

	row     int
	tuple   []types.Value
	scratch []byte
	done    bool
}

func NewInputReader(ctx context.Context, a *array.Array, s *Settings, side Handedness, chunkF *ChunkFilter, bloomF *JoinBloomFilter) (*InputReader, error) {
	it, err := a.NewIterator(ctx)
	if err != nil {
		return nil, err
	}
	desc := s.Desc(side)
	r := &InputReader{
		ctx:      ctx,
		settings: s,
		side:     side,
		it:       it,
		nAttrs:   desc.NumAttrs(),
		nDims:    desc.NumDims(),
		mapping:  s.mapToTuple(side),
		chunkF:   chunkF,
		bloomF:   bloomF,
		tuple:    make([]types.Value, s.TupleSize(side)),
		scratch:  make([]byte, 0, 64),
	}
	if err := r.advance(true); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *InputReader) End() bool {
	return r.done
}

// Tuple is valid until the next call to Next.
func (r *InputReader) Tuple() []types.Value {
	return r.tuple
}

func (r *InputReader) Next() error {
	if r.done {
		return moerr.NewInvalidState(r.ctx, "advancing a finished reader")
	}
	return r.advance(false)
}

func (r *InputReader) advance(first bool) error {
	stats := r.settings.Stats()
	if !first {
		r.row++
	}
	for {
		if r.it.End() {
			r.done = true
			return nil
		}
		c := r.it.Chunk()
		if r.row == 0 && r.chunkF != nil && !r.chunkF.PassChunk(c.Corner) {
			stats.ChunksSkipped++
			if err := r.it.Next(); err != nil {
				return err
			}
			continue
		}
		if r.row >= c.Count() {
			r.row = 0
			if err := r.it.Next(); err != nil {
				return err
			}
			continue
		}
		stats.ProbeRowsRead++
		if r.fill(c, r.row) {
			if r.bloomF == nil || r.bloomF.MayContain(r.tuple, &r.scratch) {
				stats.RowsPastFilters++
				return nil
			}
			stats.BloomRejected++
		}
		r.row++
	}
}

// fill materializes the tuple for one row; false means a null key.
func (r *InputReader) fill(c *array.Chunk, row int) bool {
	numKeys := r.settings.NumKeys()
	for f := 0; f < r.nAttrs; f++ {
		pos := r.mapping[f]
		v := c.Cols[f][row]
		if pos < numKeys && v.IsNull() {
			r.settings.Stats().NullKeyRows++
			return false
		}
		r.tuple[pos] = v
	}
	for d := 0; d < r.nDims; d++ {
		r.tuple[r.mapping[r.nAttrs+d]] = types.NewInt64(c.Coords[row][d])
	}
	return true
}

// TupledReader walks a pre-tupled array; the stored row already is the
// tuple, trailing hash included.
type TupledReader struct {
	ctx   context.Context
	it    *array.Iterator
	width int
	row   int
	tuple []types.Value
	done  bool
}

func NewTupledReader(ctx context.Context, a *array.Array) (*TupledReader, error) {
	it, err := a.NewIterator(ctx)
	if err != nil {
		return nil, err
	}
	r := &TupledReader{
		ctx:   ctx,
		it:    it,
		width: a.Desc().NumAttrs(),
	}
	r.tuple = make([]types.Value, r.width)
	r.settle()
	return r, nil
}

func (r *TupledReader) settle() {
	for !r.it.End() && r.row >= r.it.Chunk().Count() {
		r.row = 0
		if err := r.it.Next(); err != nil {
			r.done = true
			return
		}
	}
	if r.it.End() {
		r.done = true
		return
	}
	c := r.it.Chunk()
	for j := 0; j < r.width; j++ {
		r.tuple[j] = c.Cols[j][r.row]
	}
}

func (r *TupledReader) End() bool {
	return r.done
}

func (r *TupledReader) Tuple() []types.Value {
	return r.tuple
}

func (r *TupledReader) Next() error {
	if r.done {
		return moerr.NewInvalidState(r.ctx, "advancing a finished reader")
	}
	r.row++
	r.settle()
	return nil
}

// SortedReader reads a materialized pre-tupled array with re-seek: Idx
// returns the global cell position and SetIdx rewinds to one, as the
// merge loop requires for duplicate left key runs.
type SortedReader struct {
	ctx     context.Context
	chunks  []*array.Chunk
	width   int
	offsets []int64 // cumulative row count before chunk i
	total   int64
	pos     int64
	chunk   int
	tuple   []types.Value
}

func NewSortedReader(ctx context.Context, a *array.Array) (*SortedReader, error) {
	if !a.IsMaterialized() {
		return nil, moerr.NewInvalidState(ctx, "sorted read of a single-pass array")
	}
	chunks := a.Chunks()
	r := &SortedReader{
		ctx:     ctx,
		chunks:  chunks,
		width:   a.Desc().NumAttrs(),
		offsets: make([]int64, len(chunks)),
	}
	for i, c := range chunks {
		r.offsets[i] = r.total
		r.total += int64(c.Count())
	}
	r.tuple = make([]types.Value, r.width)
	r.load()
	return r, nil
}

func (r *SortedReader) load() {
	if r.pos >= r.total {
		return
	}
	for r.chunk+1 < len(r.chunks) && r.pos >= r.offsets[r.chunk+1] {
		r.chunk++
	}
	for r.chunk > 0 && r.pos < r.offsets[r.chunk] {
		r.chunk--
	}
	c := r.chunks[r.chunk]
	row := int(r.pos - r.offsets[r.chunk])
	for j := 0; j < r.width; j++ {
		r.tuple[j] = c.Cols[j][row]
	}
}

func (r *SortedReader) End() bool {
	return r.pos >= r.total
}

func (r *SortedReader) Tuple() []types.Value {
	return r.tuple
}

func (r *SortedReader) Next() error {
	if r.End() {
		return moerr.NewInvalidState(r.ctx, "advancing a finished reader")
	}
	r.pos++
	r.load()
	return nil
}

func (r *SortedReader) Idx() int64 {
	return r.pos
}

func (r *SortedReader) SetIdx(pos int64) {
	r.pos = pos
	r.load()
}
