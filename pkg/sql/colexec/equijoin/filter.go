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
	"bytes"
	"context"

	"github.com/RoaringBitmap/roaring/roaring64"
	"github.com/axiomhq/hyperloglog"

	"github.com/matrixorigin/arrayjoin/pkg/common/bloomfilter"
	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// constrainedDim ties one probe-side dimension to the key slot that feeds
// it: build-side key values land in chunkSet aligned to the probe side's
// chunking scheme.
type constrainedDim struct {
	dim      int
	keyIdx   int
	chunkSet *roaring64.Bitmap
}

// ChunkFilter is built while reading the build (or first) side and
// applied when reading the opposite side: a chunk whose corner is not
// covered on every constrained dimension cannot contain a match. Only
// dimensions of the opposite side that are join keys constrain anything;
// with no such dimension the filter passes everything.
type ChunkFilter struct {
	side   Handedness // the side whose tuples populate the filter
	target *array.Desc
	dims   []constrainedDim
	sketch *hyperloglog.Sketch
}

// NewChunkFilter prepares the filter fed by side's tuples against the
// opposite side's chunk geometry.
func NewChunkFilter(s *Settings, side Handedness) *ChunkFilter {
	opp := side.Opposite()
	target := s.Desc(opp)
	nAttrs := target.NumAttrs()
	f := &ChunkFilter{
		side:   side,
		target: target,
		sketch: hyperloglog.New14(),
	}
	for d := 0; d < target.NumDims(); d++ {
		field := nAttrs + d
		if s.isKey(opp, field) {
			f.dims = append(f.dims, constrainedDim{
				dim:      d,
				keyIdx:   s.mapToTuple(opp)[field],
				chunkSet: roaring64.NewBitmap(),
			})
		}
	}
	return f
}

// AddTuple records the chunk coordinates the tuple's keys would occupy on
// the opposite side, and sketches the key for cardinality reporting.
func (f *ChunkFilter) AddTuple(tuple []types.Value, scratch *[]byte) {
	buf := (*scratch)[:0]
	for i := range f.dims {
		d := &f.dims[i]
		v := tuple[d.keyIdx]
		buf = v.AppendCanonical(buf)
		corner := f.target.ChunkCorner(d.dim, v.Int64())
		d.chunkSet.Add(types.ZigZag(corner))
	}
	*scratch = buf
	if len(f.dims) > 0 {
		f.sketch.Insert(buf)
	}
}

// PassChunk reports whether a chunk cornered at corner may hold matches.
func (f *ChunkFilter) PassChunk(corner []int64) bool {
	for i := range f.dims {
		d := &f.dims[i]
		if !d.chunkSet.Contains(types.ZigZag(corner[d.dim])) {
			return false
		}
	}
	return true
}

// DistinctDimKeyEstimate is the sketched cardinality of constrained key
// combinations, zero when the filter constrains nothing.
func (f *ChunkFilter) DistinctDimKeyEstimate() uint64 {
	if len(f.dims) == 0 {
		return 0
	}
	return f.sketch.Estimate()
}

func (f *ChunkFilter) marshal(ctx context.Context) ([]byte, error) {
	var out bytes.Buffer
	for i := range f.dims {
		var body bytes.Buffer
		if _, err := f.dims[i].chunkSet.WriteTo(&body); err != nil {
			return nil, moerr.NewInternal(ctx, "chunk filter serialization: %v", err)
		}
		out.Write(types.AppendUint64(nil, uint64(body.Len())))
		out.Write(body.Bytes())
	}
	return out.Bytes(), nil
}

func (f *ChunkFilter) unionPeer(ctx context.Context, buf []byte) error {
	for i := range f.dims {
		if len(buf) < 8 {
			return moerr.NewUnexpectedEOF(ctx, "chunk filter buffer")
		}
		sz := types.DecodeUint64(buf)
		buf = buf[8:]
		if uint64(len(buf)) < sz {
			return moerr.NewUnexpectedEOF(ctx, "chunk filter buffer")
		}
		peer := roaring64.NewBitmap()
		if _, err := peer.ReadFrom(bytes.NewReader(buf[:sz])); err != nil {
			return moerr.NewInternal(ctx, "chunk filter deserialization: %v", err)
		}
		f.dims[i].chunkSet.Or(peer)
		buf = buf[sz:]
	}
	return nil
}

// GlobalExchange folds every instance's coordinate sets into the union.
func (f *ChunkFilter) GlobalExchange(ctx context.Context, rt engine.Runtime) error {
	if len(f.dims) == 0 {
		// Still participate: peers with constrained dims expect a round.
		return exchangeCompressed(ctx, rt, nil, func(uint64, []byte) error { return nil })
	}
	local, err := f.marshal(ctx)
	if err != nil {
		return err
	}
	return exchangeCompressed(ctx, rt, local, func(_ uint64, buf []byte) error {
		return f.unionPeer(ctx, buf)
	})
}

// JoinBloomFilter wraps the shared bit-array filter with the join's key
// encoding and its global OR exchange.
type JoinBloomFilter struct {
	bf      *bloomfilter.BloomFilter
	numKeys int
}

func NewJoinBloomFilter(s *Settings) *JoinBloomFilter {
	return &JoinBloomFilter{
		bf:      bloomfilter.New(s.BloomFilterBits()),
		numKeys: s.NumKeys(),
	}
}

func (f *JoinBloomFilter) AddTuple(tuple []types.Value, scratch *[]byte) {
	buf := (*scratch)[:0]
	for _, v := range tuple[:f.numKeys] {
		buf = v.AppendCanonical(buf)
	}
	*scratch = buf
	f.bf.Add(buf)
}

func (f *JoinBloomFilter) MayContain(tuple []types.Value, scratch *[]byte) bool {
	buf := (*scratch)[:0]
	for _, v := range tuple[:f.numKeys] {
		buf = v.AppendCanonical(buf)
	}
	*scratch = buf
	return f.bf.MayContain(buf)
}

// GlobalExchange ORs every instance's bit array into the union.
func (f *JoinBloomFilter) GlobalExchange(ctx context.Context, rt engine.Runtime) error {
	return exchangeCompressed(ctx, rt, f.bf.Marshal(), func(_ uint64, buf []byte) error {
		return f.bf.OrBytes(ctx, buf)
	})
}
