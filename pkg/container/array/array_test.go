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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

func testDesc() *Desc {
	return &Desc{
		Name:  "t",
		Attrs: []AttrDesc{{Name: "k", Type: types.T_int64}},
		Dims:  []DimDesc{{Name: "i", Start: 0, ChunkInterval: 4}},
	}
}

func oneChunk(base int64, vals ...int64) *Chunk {
	c := &Chunk{Corner: []int64{base}}
	col := make([]types.Value, 0, len(vals))
	for i, v := range vals {
		c.Coords = append(c.Coords, []int64{base + int64(i)})
		col = append(col, types.NewInt64(v))
	}
	c.Cols = [][]types.Value{col}
	return c
}

func TestChunkCorner(t *testing.T) {
	d := testDesc()
	require.Equal(t, int64(0), d.ChunkCorner(0, 0))
	require.Equal(t, int64(0), d.ChunkCorner(0, 3))
	require.Equal(t, int64(4), d.ChunkCorner(0, 4))
	require.Equal(t, int64(8), d.ChunkCorner(0, 11))
	require.Equal(t, int64(-4), d.ChunkCorner(0, -1))
}

func TestMaterializedIteration(t *testing.T) {
	a := NewMaterialized(testDesc(), []*Chunk{oneChunk(0, 1, 2), oneChunk(4, 3)})
	require.True(t, a.IsMaterialized())
	for pass := 0; pass < 2; pass++ {
		it, err := a.NewIterator(context.Background())
		require.NoError(t, err)
		var total int
		for !it.End() {
			total += it.Chunk().Count()
			require.NoError(t, it.Next())
		}
		require.Equal(t, 3, total)
	}
}

func TestSinglePassSecondIteratorFails(t *testing.T) {
	served := 0
	a := NewSinglePass(testDesc(), func(ctx context.Context) (*Chunk, error) {
		if served > 0 {
			return nil, nil
		}
		served++
		return oneChunk(0, 7), nil
	})
	require.Equal(t, SinglePass, a.SupportedAccess())
	_, err := a.NewIterator(context.Background())
	require.NoError(t, err)
	_, err = a.NewIterator(context.Background())
	require.Error(t, err)
}

func TestEnsureRandomAccess(t *testing.T) {
	next := int64(0)
	a := NewSinglePass(testDesc(), func(ctx context.Context) (*Chunk, error) {
		if next >= 8 {
			return nil, nil
		}
		c := oneChunk(next, next, next+1)
		next += 4
		return c, nil
	})
	require.False(t, a.IsMaterialized())
	require.NoError(t, a.EnsureRandomAccess(context.Background()))
	require.True(t, a.IsMaterialized())
	require.Len(t, a.Chunks(), 2)
	// idempotent
	require.NoError(t, a.EnsureRandomAccess(context.Background()))
}

func TestMultiPassRescans(t *testing.T) {
	builds := 0
	a := NewMultiPass(testDesc(), func() ChunkSource {
		builds++
		done := false
		return func(ctx context.Context) (*Chunk, error) {
			if done {
				return nil, nil
			}
			done = true
			return oneChunk(0, 1, 2, 3), nil
		}
	})
	require.Equal(t, MultiPass, a.SupportedAccess())
	require.False(t, a.IsMaterialized())
	for pass := 0; pass < 3; pass++ {
		it, err := a.NewIterator(context.Background())
		require.NoError(t, err)
		require.False(t, it.End())
		require.Equal(t, 3, it.Chunk().Count())
	}
	require.Equal(t, 3, builds)
}

func TestChunkSizeBytes(t *testing.T) {
	c := oneChunk(0, 1, 2, 3)
	require.Equal(t, int64(24), c.SizeBytes())
	require.Equal(t, 3, c.Count())
}
