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
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine/memengine"
)

// dimKeySettings joins left attr k against the right dimension j, so the
// chunk filter constrains right chunks.
func dimKeySettings(t *testing.T) *Settings {
	t.Helper()
	// right fields: k(0), w(1), dim j(2)
	s, err := NewSettings(context.Background(), testLeftDesc(), testRightDesc(),
		[]string{"left_keys=0", "right_keys=2"}, DefaultConfig(), 2)
	require.NoError(t, err)
	return s
}

func TestChunkFilterConstrainsDim(t *testing.T) {
	s := dimKeySettings(t)
	f := NewChunkFilter(s, LEFT)
	require.Len(t, f.dims, 1)

	scratch := make([]byte, 0, 64)
	// left tuples with keys 1 and 9; right chunk interval is 4
	f.AddTuple([]types.Value{types.NewInt64(1), types.NewString("a"), types.NewInt64(0)}, &scratch)
	f.AddTuple([]types.Value{types.NewInt64(9), types.NewString("b"), types.NewInt64(1)}, &scratch)

	require.True(t, f.PassChunk([]int64{0}))
	require.False(t, f.PassChunk([]int64{4}))
	require.True(t, f.PassChunk([]int64{8}))
	require.False(t, f.PassChunk([]int64{12}))
	require.NotZero(t, f.DistinctDimKeyEstimate())
}

func TestChunkFilterUnconstrainedPassesAll(t *testing.T) {
	// attr-to-attr join constrains no dimension
	s, err := newSettings("left_keys=0", "right_keys=0")
	require.NoError(t, err)
	f := NewChunkFilter(s, LEFT)
	require.Empty(t, f.dims)
	require.True(t, f.PassChunk([]int64{123}))
}

func TestChunkFilterGlobalExchangeUnion(t *testing.T) {
	const n = 2
	cluster := memengine.NewCluster(n)
	results := make([]*ChunkFilter, n)
	err := cluster.Run(func(id int, rt engine.Runtime) error {
		s, err := NewSettings(context.Background(), testLeftDesc(), testRightDesc(),
			[]string{"left_keys=0", "right_keys=2"}, DefaultConfig(), 2)
		if err != nil {
			return err
		}
		f := NewChunkFilter(s, LEFT)
		scratch := make([]byte, 0, 64)
		// instance 0 covers corner 0, instance 1 covers corner 8
		key := int64(1 + 8*id)
		f.AddTuple([]types.Value{types.NewInt64(key), types.NewString("x"), types.NewInt64(0)}, &scratch)
		if err := f.GlobalExchange(context.Background(), rt); err != nil {
			return err
		}
		results[id] = f
		return nil
	})
	require.NoError(t, err)
	for id := 0; id < n; id++ {
		require.True(t, results[id].PassChunk([]int64{0}))
		require.True(t, results[id].PassChunk([]int64{8}))
		require.False(t, results[id].PassChunk([]int64{4}))
	}
}

func TestJoinBloomFilterExchange(t *testing.T) {
	const n = 3
	cluster := memengine.NewCluster(n)
	results := make([]*JoinBloomFilter, n)
	err := cluster.Run(func(id int, rt engine.Runtime) error {
		s, err := newSettings("left_keys=0", "right_keys=0")
		if err != nil {
			return err
		}
		f := NewJoinBloomFilter(s)
		scratch := make([]byte, 0, 64)
		f.AddTuple([]types.Value{types.NewInt64(int64(1000 + id))}, &scratch)
		if err := f.GlobalExchange(context.Background(), rt); err != nil {
			return err
		}
		results[id] = f
		return nil
	})
	require.NoError(t, err)
	scratch := make([]byte, 0, 64)
	for id := 0; id < n; id++ {
		for peer := 0; peer < n; peer++ {
			require.True(t, results[id].MayContain([]types.Value{types.NewInt64(int64(1000 + peer))}, &scratch))
		}
	}
}

func TestBloomFilterSoundness(t *testing.T) {
	s, err := newSettings("left_keys=0", "right_keys=0")
	require.NoError(t, err)
	f := NewJoinBloomFilter(s)
	scratch := make([]byte, 0, 64)
	for i := 0; i < 10000; i++ {
		f.AddTuple([]types.Value{types.NewInt64(int64(i))}, &scratch)
	}
	for i := 0; i < 10000; i++ {
		require.True(t, f.MayContain([]types.Value{types.NewInt64(int64(i))}, &scratch))
	}
}
