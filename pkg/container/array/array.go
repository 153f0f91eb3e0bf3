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

package array

import (
	"context"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

// Access describes how an array shard may be read. RandomAccess arrays
// are resident and re-iterable, MultiPass arrays can be re-scanned from
// their source but are not resident, SinglePass arrays admit one scan.
type Access uint8

const (
	RandomAccess Access = iota
	MultiPass
	SinglePass
)

type AttrDesc struct {
	Name     string
	Type     types.T
	Nullable bool
}

type DimDesc struct {
	Name          string
	Start         int64
	ChunkInterval int64
}

// Desc is the schema of one array: named typed attributes over a dense
// dimension grid chunked at ChunkInterval per dimension.
type Desc struct {
	Name  string
	Attrs []AttrDesc
	Dims  []DimDesc
}

func (d *Desc) NumAttrs() int {
	return len(d.Attrs)
}

func (d *Desc) NumDims() int {
	return len(d.Dims)
}

// CellSizeEstimate is the nominal per-cell byte footprint used by the
// pre-scan size accounting: declared attribute sizes plus one byte per
// nullable attribute for the null mask.
func (d *Desc) CellSizeEstimate() int64 {
	var sz int64
	for _, attr := range d.Attrs {
		sz += attr.Type.FixedSizeEstimate()
		if attr.Nullable {
			sz++
		}
	}
	return sz
}

// ChunkCorner aligns a dimension coordinate down to its chunk origin.
func (d *Desc) ChunkCorner(dim int, coord int64) int64 {
	dd := d.Dims[dim]
	off := coord - dd.Start
	if off < 0 {
		off -= dd.ChunkInterval - 1
	}
	return dd.Start + (off/dd.ChunkInterval)*dd.ChunkInterval
}

// Chunk is the I/O unit of an array: a bounded run of cells with explicit
// per-row coordinates, column-major across attributes.
type Chunk struct {
	Corner []int64
	Coords [][]int64
	Cols   [][]types.Value
}

func (c *Chunk) Count() int {
	if len(c.Cols) == 0 {
		return len(c.Coords)
	}
	return len(c.Cols[0])
}

func (c *Chunk) SizeBytes() int64 {
	var sz int64
	for _, col := range c.Cols {
		for _, v := range col {
			sz += v.SizeEstimate()
		}
	}
	return sz
}

// ChunkSource produces the chunks of a single-pass array in order,
// returning nil at the end of the stream.
type ChunkSource func(ctx context.Context) (*Chunk, error)

// Array is one instance-local shard of a distributed array. It is either
// materialized (random access over resident chunks), backed by a
// single-pass chunk source, or backed by a re-scannable source factory
// (multi-pass).
type Array struct {
	desc    *Desc
	chunks  []*Chunk
	source  ChunkSource
	factory func() ChunkSource
	reading bool
}

func NewMaterialized(desc *Desc, chunks []*Chunk) *Array {
	return &Array{desc: desc, chunks: chunks}
}

func NewSinglePass(desc *Desc, source ChunkSource) *Array {
	return &Array{desc: desc, source: source}
}

// NewMultiPass wraps a re-scannable source: every iterator gets a fresh
// stream from the factory.
func NewMultiPass(desc *Desc, factory func() ChunkSource) *Array {
	return &Array{desc: desc, factory: factory}
}

func (a *Array) Desc() *Desc {
	return a.desc
}

func (a *Array) IsMaterialized() bool {
	return a.source == nil && a.factory == nil
}

func (a *Array) SupportedAccess() Access {
	switch {
	case a.source != nil:
		return SinglePass
	case a.factory != nil:
		return MultiPass
	}
	return RandomAccess
}

// Chunks exposes the resident chunk list of a materialized array.
func (a *Array) Chunks() []*Chunk {
	return a.chunks
}

// EnsureRandomAccess drains the backing stream into resident chunks.
// Materialized arrays are returned as-is.
func (a *Array) EnsureRandomAccess(ctx context.Context) error {
	if a.IsMaterialized() {
		return nil
	}
	if a.reading && a.source != nil {
		return moerr.NewInvalidState(ctx, "materializing a partially read stream")
	}
	src := a.source
	if src == nil {
		src = a.factory()
	}
	for {
		c, err := src(ctx)
		if err != nil {
			return err
		}
		if c == nil {
			break
		}
		a.chunks = append(a.chunks, c)
	}
	a.source = nil
	a.factory = nil
	return nil
}

// Iterator walks chunks in order. A single-pass array admits exactly one
// iterator; multi-pass and materialized arrays admit any number.
type Iterator struct {
	ctx    context.Context
	a      *Array
	stream ChunkSource
	pos    int
	curr   *Chunk
	done   bool
}

func (a *Array) NewIterator(ctx context.Context) (*Iterator, error) {
	it := &Iterator{ctx: ctx, a: a}
	switch {
	case a.source != nil:
		if a.reading {
			return nil, moerr.NewInvalidState(ctx, "second iterator over a single-pass array")
		}
		a.reading = true
		it.stream = a.source
	case a.factory != nil:
		it.stream = a.factory()
	}
	if err := it.fetch(); err != nil {
		return nil, err
	}
	return it, nil
}

func (it *Iterator) fetch() error {
	if it.stream == nil {
		a := it.a
		if it.pos >= len(a.chunks) {
			it.done = true
			it.curr = nil
			return nil
		}
		it.curr = a.chunks[it.pos]
		it.pos++
		return nil
	}
	c, err := it.stream(it.ctx)
	if err != nil {
		return err
	}
	if c == nil {
		it.done = true
		it.curr = nil
		return nil
	}
	it.curr = c
	return nil
}

func (it *Iterator) End() bool {
	return it.done
}

func (it *Iterator) Chunk() *Chunk {
	return it.curr
}

func (it *Iterator) Next() error {
	if it.done {
		return moerr.NewInvalidState(it.ctx, "advancing a finished iterator")
	}
	return it.fetch()
}
