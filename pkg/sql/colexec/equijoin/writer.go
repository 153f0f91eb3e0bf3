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
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

// chunkBuilder accumulates rows for one destination instance and cuts
// chunks at the configured value_no interval.
type chunkBuilder struct {
	desc     *array.Desc
	instance int64
	interval int64
	next     int64
	open     *array.Chunk
	chunks   []*array.Chunk
}

func newChunkBuilder(desc *array.Desc, instance int64) *chunkBuilder {
	return &chunkBuilder{
		desc:     desc,
		instance: instance,
		interval: desc.Dims[1].ChunkInterval,
	}
}

func (b *chunkBuilder) push(row []types.Value) {
	if b.open == nil {
		b.open = &array.Chunk{
			Corner: []int64{b.instance, b.next},
			Cols:   make([][]types.Value, b.desc.NumAttrs()),
		}
	}
	b.open.Coords = append(b.open.Coords, []int64{b.instance, b.next})
	for j := range b.open.Cols {
		b.open.Cols[j] = append(b.open.Cols[j], row[j])
	}
	b.next++
	if b.next%b.interval == 0 {
		b.chunks = append(b.chunks, b.open)
		b.open = nil
	}
}

func (b *chunkBuilder) finish() []*array.Chunk {
	if b.open != nil {
		b.chunks = append(b.chunks, b.open)
		b.open = nil
	}
	return b.chunks
}

// OutputWriter appends joined rows under the §6 output layout: the full
// left tuple, the right payload, then the empty tag.
type OutputWriter struct {
	settings *Settings
	desc     *array.Desc
	builder  *chunkBuilder
	rowBuf   []types.Value
}

func NewOutputWriter(s *Settings, instanceID uint64) *OutputWriter {
	desc := s.OutputDesc()
	return &OutputWriter{
		settings: s,
		desc:     desc,
		builder:  newChunkBuilder(desc, int64(instanceID)),
		rowBuf:   make([]types.Value, desc.NumAttrs()),
	}
}

// WriteJoined emits one (left, right) match.
func (w *OutputWriter) WriteJoined(left, right []types.Value) {
	s := w.settings
	copy(w.rowBuf, left[:s.leftTupleSize])
	for pos := s.numKeys; pos < s.rightTupleSize; pos++ {
		w.rowBuf[s.mapRightTupleToOutput(pos)] = right[pos]
	}
	w.rowBuf[len(w.rowBuf)-1] = types.NewBool(true)
	w.builder.push(w.rowBuf)
	s.Stats().OutputRows++
}

func (w *OutputWriter) Finalize() *array.Array {
	return array.NewMaterialized(w.desc, w.builder.finish())
}

// TupledWriter appends tuples with their hash column to one side's
// pre-tupled form.
type TupledWriter struct {
	desc    *array.Desc
	builder *chunkBuilder
	rowBuf  []types.Value
}

func NewTupledWriter(s *Settings, side Handedness, instanceID uint64) *TupledWriter {
	desc := s.PreTupledDesc(side)
	return &TupledWriter{
		desc:    desc,
		builder: newChunkBuilder(desc, int64(instanceID)),
		rowBuf:  make([]types.Value, desc.NumAttrs()),
	}
}

func (w *TupledWriter) WriteTupleWithHash(tuple []types.Value, hash uint32) {
	n := copy(w.rowBuf, tuple[:len(w.rowBuf)-1])
	w.rowBuf[n] = types.NewUint32(hash)
	w.builder.push(w.rowBuf)
}

func (w *TupledWriter) Finalize() *array.Array {
	return array.NewMaterialized(w.desc, w.builder.finish())
}

// SplitWriter routes pre-tupled rows into per-instance chunk runs by
// hash mod N; the emitted array is ready for a by-row redistribution
// that lands every tuple on its target instance.
type SplitWriter struct {
	desc     *array.Desc
	builders []*chunkBuilder
	n        uint64
}

func NewSplitWriter(s *Settings, side Handedness, numInstances uint64) *SplitWriter {
	desc := s.PreTupledDesc(side)
	w := &SplitWriter{
		desc:     desc,
		builders: make([]*chunkBuilder, numInstances),
		n:        numInstances,
	}
	for i := range w.builders {
		w.builders[i] = newChunkBuilder(desc, int64(i))
	}
	return w
}

// WriteTuple routes a stored tuple (hash in the trailing slot) to its
// destination builder.
func (w *SplitWriter) WriteTuple(tuple []types.Value) {
	h := tuple[len(tuple)-1].Uint32()
	w.builders[uint64(h)%w.n].push(tuple)
}

func (w *SplitWriter) Finalize() *array.Array {
	var chunks []*array.Chunk
	for _, b := range w.builders {
		chunks = append(chunks, b.finish()...)
	}
	return array.NewMaterialized(w.desc, chunks)
}
