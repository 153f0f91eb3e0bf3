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

	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/common/mpool"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

// HashKeys is the stable 32-bit key hash shared by the table and the merge
// partitioning. scratch is reused across calls.
func HashKeys(keys []types.Value, scratch *[]byte) uint32 {
	buf := (*scratch)[:0]
	for _, k := range keys {
		buf = k.AppendCanonical(buf)
	}
	*scratch = buf
	h := xxhash.Sum64(buf)
	return uint32(h ^ (h >> 32))
}

// KeysEqual compares the first n positions of two tuples under the
// per-key comparators.
func KeysEqual(a, b []types.Value, cmps []types.Comparator, n int) bool {
	for i := 0; i < n; i++ {
		if cmps[i](a[i], b[i]) != 0 {
			return false
		}
	}
	return true
}

// KeysLess is the lexicographic strict order over the first n positions.
func KeysLess(a, b []types.Value, cmps []types.Comparator, n int) bool {
	for i := 0; i < n; i++ {
		switch c := cmps[i](a[i], b[i]); {
		case c < 0:
			return true
		case c > 0:
			return false
		}
	}
	return false
}

const noGroup = int32(-1)

type group struct {
	keys  []types.Value
	first int32
	last  int32
}

type entry struct {
	payload []types.Value
	next    int32
}

// JoinHashTable is the open-addressed, linear-probing build table. The
// bucket array is carved from a dedicated resetting arena; the prime
// bucket count is fixed at plan time and never rehashed. Entries with an
// equal key prefix form a group and keep insertion order. Not safe for
// concurrent use.
type JoinHashTable struct {
	settings  *Settings
	pool      *mpool.MPool
	tupleSize int
	numKeys   int
	cmps      []types.Comparator

	nBuckets uint64
	buckets  []int32
	groups   []group
	entries  []entry

	sketch    *hyperloglog.Sketch
	scratch   []byte
	usedBytes int64
}

// NewJoinHashTable allocates the bucket array from pool and prepares an
// empty table for tuples of the given arity.
func NewJoinHashTable(ctx context.Context, settings *Settings, pool *mpool.MPool, tupleSize int) (*JoinHashTable, error) {
	nBuckets := settings.NumHashBuckets()
	raw, err := pool.Alloc(int(nBuckets) * 4)
	if err != nil {
		return nil, err
	}
	buckets := types.BytesToInt32Slice(raw)
	for i := range buckets {
		buckets[i] = noGroup
	}
	return &JoinHashTable{
		settings:  settings,
		pool:      pool,
		tupleSize: tupleSize,
		numKeys:   settings.NumKeys(),
		cmps:      settings.KeyComparators(),
		nBuckets:  nBuckets,
		buckets:   buckets,
		sketch:    hyperloglog.New14(),
		scratch:   make([]byte, 0, 64),
	}, nil
}

// Insert files tuple under its key prefix. The tuple is copied, so the
// caller may reuse its backing slice.
func (t *JoinHashTable) Insert(ctx context.Context, tuple []types.Value) error {
	h := HashKeys(tuple[:t.numKeys], &t.scratch)
	t.sketch.Insert(t.scratch)

	slot := uint64(h) % t.nBuckets
	for {
		gi := t.buckets[slot]
		if gi == noGroup {
			break
		}
		if KeysEqual(t.groups[gi].keys, tuple, t.cmps, t.numKeys) {
			return t.appendEntry(ctx, gi, tuple)
		}
		slot++
		if slot == t.nBuckets {
			slot = 0
		}
	}

	keys := make([]types.Value, t.numKeys)
	copy(keys, tuple[:t.numKeys])
	t.groups = append(t.groups, group{keys: keys, first: noGroup, last: noGroup})
	gi := int32(len(t.groups) - 1)
	t.buckets[slot] = gi
	t.accountKeys(keys)
	return t.appendEntry(ctx, gi, tuple)
}

func (t *JoinHashTable) appendEntry(ctx context.Context, gi int32, tuple []types.Value) error {
	payload := make([]types.Value, t.tupleSize-t.numKeys)
	copy(payload, tuple[t.numKeys:t.tupleSize])
	t.entries = append(t.entries, entry{payload: payload, next: noGroup})
	ei := int32(len(t.entries) - 1)
	g := &t.groups[gi]
	if g.first == noGroup {
		g.first = ei
	} else {
		t.entries[g.last].next = ei
	}
	g.last = ei
	for _, v := range payload {
		t.usedBytes += v.SizeEstimate()
	}
	t.usedBytes += 8
	if t.usedBytes > t.pool.Cap() {
		return moerr.NewOOM(ctx)
	}
	return nil
}

func (t *JoinHashTable) accountKeys(keys []types.Value) {
	t.usedBytes += 32
	for _, v := range keys {
		t.usedBytes += v.SizeEstimate()
	}
}

func (t *JoinHashTable) NumEntries() int {
	return len(t.entries)
}

func (t *JoinHashTable) UsedBytes() int64 {
	return t.usedBytes
}

// DistinctKeyEstimate is the hyperloglog cardinality of the inserted key
// prefixes.
func (t *JoinHashTable) DistinctKeyEstimate() uint64 {
	return t.sketch.Estimate()
}

// Iterator visits the entries of one key group. Obtain with NewIterator,
// position with Find, then walk with NextAtHash until End.
type Iterator struct {
	t        *JoinHashTable
	grp      int32
	cur      int32
	tupleBuf []types.Value
}

func (t *JoinHashTable) NewIterator() *Iterator {
	return &Iterator{
		t:        t,
		grp:      noGroup,
		cur:      noGroup,
		tupleBuf: make([]types.Value, t.tupleSize),
	}
}

// Find positions the iterator at the first entry whose key prefix equals
// keys, or at the end if no such group exists.
func (it *Iterator) Find(keys []types.Value) {
	t := it.t
	h := HashKeys(keys[:t.numKeys], &t.scratch)
	slot := uint64(h) % t.nBuckets
	for {
		gi := t.buckets[slot]
		if gi == noGroup {
			it.grp, it.cur = noGroup, noGroup
			return
		}
		if KeysEqual(t.groups[gi].keys, keys, t.cmps, t.numKeys) {
			it.grp = gi
			it.cur = t.groups[gi].first
			return
		}
		slot++
		if slot == t.nBuckets {
			slot = 0
		}
	}
}

func (it *Iterator) End() bool {
	return it.cur == noGroup
}

// Tuple assembles the current entry into the iterator's buffer: group
// keys first, payload after. Valid until the next call.
func (it *Iterator) Tuple() []types.Value {
	t := it.t
	g := t.groups[it.grp]
	copy(it.tupleBuf, g.keys)
	copy(it.tupleBuf[t.numKeys:], t.entries[it.cur].payload)
	return it.tupleBuf
}

// NextAtHash advances to the next entry of the same key group.
func (it *Iterator) NextAtHash() {
	if it.cur != noGroup {
		it.cur = it.t.entries[it.cur].next
	}
}
