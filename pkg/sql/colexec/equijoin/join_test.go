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
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

func s1Left(id int) *array.Array {
	if id == 0 {
		return makeShard(testLeftDesc(), 0, [][]types.Value{lrow(1, "a"), lrow(2, "b"), lrow(3, "c")})
	}
	return makeShard(testLeftDesc(), 0, nil)
}

func s1Right(id int) *array.Array {
	if id == 0 {
		return makeShard(testRightDesc(), 0, [][]types.Value{rrow(1, 10), rrow(1, 11)})
	}
	return makeShard(testRightDesc(), 0, [][]types.Value{rrow(3, 30), rrow(4, 40)})
}

func s1Expected() map[string]int {
	return map[string]int{
		"1|a|10": 1,
		"1|a|11": 1,
		"3|c|30": 1,
	}
}

func shardsFor(n int, mk func(id int) *array.Array) []*array.Array {
	out := make([]*array.Array, n)
	for i := range out {
		out[i] = mk(i)
	}
	return out
}

func TestS1SmallReplicatedBuild(t *testing.T) {
	run := runJoin(t, 2,
		shardsFor(2, s1Left), shardsFor(2, s1Right),
		[]string{"left_keys=0", "right_keys=0", "hash_join_threshold=1048576"},
		defaultTestConfig())
	require.Equal(t, s1Expected(), outputMultiset(t, run.outs))
}

func TestS2ManyToManyMerge(t *testing.T) {
	left := func(id int) *array.Array {
		if id == 0 {
			return makeShard(testLeftDesc(), 0, [][]types.Value{
				lrow(5, "l0"), lrow(5, "l1"), lrow(5, "l2"), lrow(1, "x"),
			})
		}
		return makeShard(testLeftDesc(), 0, [][]types.Value{lrow(2, "y")})
	}
	right := func(id int) *array.Array {
		if id == 0 {
			return makeShard(testRightDesc(), 0, [][]types.Value{rrow(5, 50), rrow(5, 51), rrow(7, 70)})
		}
		return makeShard(testRightDesc(), 0, [][]types.Value{rrow(5, 52), rrow(5, 53)})
	}
	// a one-byte threshold forces the local sort-merge path end to end
	run := runJoin(t, 2,
		shardsFor(2, left), shardsFor(2, right),
		[]string{"left_keys=0", "right_keys=0", "algorithm=merge_left_first", "hash_join_threshold=1"},
		defaultTestConfig())
	ms := outputMultiset(t, run.outs)
	count5 := 0
	for key, c := range ms {
		require.Equal(t, 1, c, "row %s emitted more than once", key)
		count5++
	}
	require.Equal(t, 12, count5)
	require.Equal(t, 12, totalRows(run.outs))
}

func TestS3NullKeysJoinNothing(t *testing.T) {
	left := func(id int) *array.Array {
		if id != 0 {
			return makeShard(testLeftDesc(), 0, nil)
		}
		return makeShard(testLeftDesc(), 0, [][]types.Value{lrow(1, "a"), lrowNull("n")})
	}
	right := func(id int) *array.Array {
		if id != 0 {
			return makeShard(testRightDesc(), 0, nil)
		}
		return makeShard(testRightDesc(), 0, [][]types.Value{rrow(1, 10), rrowNull(99)})
	}
	for _, algo := range []string{"hash_replicate_left", "hash_replicate_right", "merge_left_first", "merge_right_first"} {
		run := runJoin(t, 2,
			shardsFor(2, left), shardsFor(2, right),
			[]string{"left_keys=0", "right_keys=0", "algorithm=" + algo},
			defaultTestConfig())
		require.Equal(t, map[string]int{"1|a|10": 1}, outputMultiset(t, run.outs), "algorithm %s", algo)
	}
}

func TestS4AlgorithmOverrideSameResult(t *testing.T) {
	run := runJoin(t, 2,
		shardsFor(2, s1Left), shardsFor(2, s1Right),
		[]string{"left_keys=0", "right_keys=0", "algorithm=merge_right_first"},
		defaultTestConfig())
	require.Equal(t, s1Expected(), outputMultiset(t, run.outs))
}

func TestS5BloomPushDown(t *testing.T) {
	const total = 10000
	left := func(id int) *array.Array {
		var rows [][]types.Value
		for k := 1 + id; k <= total; k += 2 {
			rows = append(rows, lrow(int64(k), "p"))
		}
		return makeShard(testLeftDesc(), 0, rows)
	}
	right := func(id int) *array.Array {
		if id != 0 {
			return makeShard(testRightDesc(), 0, nil)
		}
		return makeShard(testRightDesc(), 0, [][]types.Value{rrow(5000, 1), rrow(5001, 2), rrow(5002, 3)})
	}
	run := runJoin(t, 2,
		shardsFor(2, left), shardsFor(2, right),
		[]string{"left_keys=0", "right_keys=0", "algorithm=merge_right_first", "bloom_filter_size=1048576"},
		defaultTestConfig())
	require.Equal(t, map[string]int{
		"5000|p|1": 1,
		"5001|p|2": 1,
		"5002|p|3": 1,
	}, outputMultiset(t, run.outs))

	// the Bloom filter built from three right keys must reject almost
	// every left row before the shuffle
	var pastFilters, rejected uint64
	for _, st := range run.stats {
		pastFilters += st.RowsPastFilters
		rejected += st.BloomRejected
	}
	// 3 right rows pass on the first side; allow a generous FP margin
	require.LessOrEqual(t, pastFilters, uint64(3+3+total/20))
	require.Greater(t, rejected, uint64(total/2))
}

func TestAlgorithmInvariance(t *testing.T) {
	mkLeft := func(id int) *array.Array {
		var rows [][]types.Value
		for i := 0; i < 40; i++ {
			rows = append(rows, lrow(int64((i*7+id)%13), fmt.Sprintf("l%d-%d", id, i)))
		}
		return makeShard(testLeftDesc(), 0, rows)
	}
	mkRight := func(id int) *array.Array {
		var rows [][]types.Value
		for i := 0; i < 30; i++ {
			rows = append(rows, rrow(int64((i*5+id)%13), int64(100*id+i)))
		}
		return makeShard(testRightDesc(), 0, rows)
	}
	runs := map[string][]string{
		"hash_replicate_left":  {"left_keys=0", "right_keys=0", "algorithm=hash_replicate_left"},
		"hash_replicate_right": {"left_keys=0", "right_keys=0", "algorithm=hash_replicate_right"},
		"merge_left_first":     {"left_keys=0", "right_keys=0", "algorithm=merge_left_first"},
		"merge_right_first":    {"left_keys=0", "right_keys=0", "algorithm=merge_right_first"},
		// force the sorted-merge path too
		"merge_lsmj": {"left_keys=0", "right_keys=0", "algorithm=merge_left_first", "hash_join_threshold=1"},
	}
	var reference map[string]int
	for name, params := range runs {
		run := runJoin(t, 3, shardsFor(3, mkLeft), shardsFor(3, mkRight), params, defaultTestConfig())
		ms := outputMultiset(t, run.outs)
		if reference == nil {
			reference = ms
			require.NotEmpty(t, reference)
			continue
		}
		require.Equal(t, reference, ms, "algorithm %s disagrees", name)
	}
}

func TestLSMJRewindCrossProduct(t *testing.T) {
	// p x q duplicate runs must emit p*q rows through the merge path
	for _, pq := range [][2]int{{1, 1}, {2, 3}, {3, 4}, {5, 2}} {
		p, q := pq[0], pq[1]
		left := func(id int) *array.Array {
			if id != 0 {
				return makeShard(testLeftDesc(), 0, nil)
			}
			var rows [][]types.Value
			for i := 0; i < p; i++ {
				rows = append(rows, lrow(42, fmt.Sprintf("l%d", i)))
			}
			return makeShard(testLeftDesc(), 0, rows)
		}
		right := func(id int) *array.Array {
			if id != 1 {
				return makeShard(testRightDesc(), 0, nil)
			}
			var rows [][]types.Value
			for i := 0; i < q; i++ {
				rows = append(rows, rrow(42, int64(i)))
			}
			return makeShard(testRightDesc(), 0, rows)
		}
		run := runJoin(t, 2,
			shardsFor(2, left), shardsFor(2, right),
			[]string{"left_keys=0", "right_keys=0", "algorithm=merge_left_first", "hash_join_threshold=1"},
			defaultTestConfig())
		require.Equal(t, p*q, totalRows(run.outs), "p=%d q=%d", p, q)
	}
}

func TestMultiKeyJoin(t *testing.T) {
	// join on (k, v) against (k, w) is a type mismatch; join (k) x (k)
	// with two-column keys needs matching types, so pair the int64 attr
	// with the dimension on both sides.
	left := func(id int) *array.Array {
		if id != 0 {
			return makeShard(testLeftDesc(), 0, nil)
		}
		return makeShard(testLeftDesc(), 0, [][]types.Value{
			lrow(1, "a"), lrow(1, "b"), lrow(2, "c"),
		})
	}
	right := func(id int) *array.Array {
		if id != 0 {
			return makeShard(testRightDesc(), 0, nil)
		}
		// rows at coords 0..2; right dim j joins against left dim i
		return makeShard(testRightDesc(), 0, [][]types.Value{
			rrow(1, 10), rrow(2, 20), rrow(2, 30),
		})
	}
	// keys: left (k, dim i) x right (k, dim j)
	run := runJoin(t, 2,
		shardsFor(2, left), shardsFor(2, right),
		[]string{"left_keys=0,2", "right_keys=0,2"},
		defaultTestConfig())
	// matches need equal k and equal coordinate:
	// (1,"a")@0 x (1,10)@0 and (2,"c")@2 x (2,30)@2.
	// output layout here: k, i, v, w, $empty_tag
	require.Equal(t, 2, totalRows(run.outs))
	ms := map[string]int{}
	for _, out := range run.outs {
		if out == nil {
			continue
		}
		for _, c := range out.Chunks() {
			for i := 0; i < c.Count(); i++ {
				key := c.Cols[0][i].String() + "|" + c.Cols[2][i].String() + "|" + c.Cols[3][i].String()
				ms[key]++
			}
		}
	}
	require.Equal(t, map[string]int{"1|a|10": 1, "2|c|30": 1}, ms)
}

func TestEmptyInputs(t *testing.T) {
	empty := func(desc *array.Desc) func(int) *array.Array {
		return func(int) *array.Array { return makeShard(desc, 0, nil) }
	}
	for _, algo := range []string{"hash_replicate_left", "merge_right_first"} {
		run := runJoin(t, 2,
			shardsFor(2, empty(testLeftDesc())), shardsFor(2, empty(testRightDesc())),
			[]string{"left_keys=0", "right_keys=0", "algorithm=" + algo},
			defaultTestConfig())
		require.Zero(t, totalRows(run.outs))
	}
}
