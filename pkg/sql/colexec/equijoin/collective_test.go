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
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine/memengine"
)

func TestAgreeOnBoolean(t *testing.T) {
	const n = 4
	cases := []struct {
		votes [n]bool
		want  bool
	}{
		{[n]bool{true, true, true, true}, true},
		{[n]bool{true, true, false, true}, false},
		{[n]bool{false, false, false, false}, false},
	}
	for _, tc := range cases {
		cluster := memengine.NewCluster(n)
		got := make([]bool, n)
		err := cluster.Run(func(id int, rt engine.Runtime) error {
			v, err := AgreeOnBoolean(context.Background(), rt, tc.votes[id])
			got[id] = v
			return err
		})
		require.NoError(t, err)
		for id := 0; id < n; id++ {
			require.Equal(t, tc.want, got[id], "instance %d votes %v", id, tc.votes)
		}
	}
}

func TestGlobalSum(t *testing.T) {
	const n = 3
	cluster := memengine.NewCluster(n)
	sums := make([]uint64, n)
	err := cluster.Run(func(id int, rt engine.Runtime) error {
		v, err := globalSum(context.Background(), rt, uint64(100+id))
		sums[id] = v
		return err
	})
	require.NoError(t, err)
	for id := 0; id < n; id++ {
		require.Equal(t, uint64(303), sums[id])
	}
}

func TestLz4FrameRoundTrip(t *testing.T) {
	ctx := context.Background()

	// compressible
	comp := bytes.Repeat([]byte("abcd"), 10000)
	out, err := lz4Unframe(ctx, lz4Frame(comp))
	require.NoError(t, err)
	require.Equal(t, comp, out)
	require.Less(t, len(lz4Frame(comp)), len(comp))

	// incompressible falls back to raw storage
	rnd := make([]byte, 4096)
	_, err = rand.Read(rnd)
	require.NoError(t, err)
	out, err = lz4Unframe(ctx, lz4Frame(rnd))
	require.NoError(t, err)
	require.Equal(t, rnd, out)

	// empty
	out, err = lz4Unframe(ctx, lz4Frame(nil))
	require.NoError(t, err)
	require.Empty(t, out)
}
