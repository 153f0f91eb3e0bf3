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

package mpool

import (
	"fmt"
	"sync/atomic"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
)

const (
	MB = 1 << 20
	GB = 1 << 30

	// DefaultPageSize is the arena page unit. Large pages keep the bump
	// allocator off the Go allocator's hot path during a table build.
	DefaultPageSize = 8 * MB

	// NoFixed means no cap; allocations are only bounded by the parent.
	NoFixed = int64(-1)
)

// Stats of one pool, updated atomically so Report can run concurrently
// with the owner.
type Stats struct {
	NumAlloc     atomic.Int64
	NumCurrBytes atomic.Int64
	HighWaterMark atomic.Int64
}

func (s *Stats) RecordAlloc(sz int64) {
	s.NumAlloc.Add(1)
	curr := s.NumCurrBytes.Add(sz)
	for {
		hwm := s.HighWaterMark.Load()
		if curr <= hwm || s.HighWaterMark.CompareAndSwap(hwm, curr) {
			break
		}
	}
}

func (s *Stats) RecordFree(sz int64) {
	s.NumCurrBytes.Add(-sz)
}

// MPool is a resettable page-arena allocator. Allocations are bump-pointer
// carved from large pages; individual frees are not supported, the whole
// pool is released with Reset or Release. A pool may be parented to
// another pool, in which case its pages are accounted against the parent's
// cap as well. Ownership is strictly nested: a child must be released
// before its parent.
//
// MPool is not safe for concurrent allocation. The join operator runs
// single-threaded per instance, matching the non-threading arena of the
// hash table.
type MPool struct {
	name     string
	cap      int64
	pageSize int64
	parent   *MPool

	pages [][]byte
	curr  []byte
	off   int

	stats Stats
}

// New creates an unparented pool. cap may be NoFixed.
func New(name string, cap int64) *MPool {
	return &MPool{
		name:     name,
		cap:      cap,
		pageSize: DefaultPageSize,
	}
}

// NewChild creates a pool whose pages are also charged to parent.
func NewChild(name string, cap int64, parent *MPool) *MPool {
	m := New(name, cap)
	m.parent = parent
	return m
}

func (m *MPool) Name() string {
	return m.name
}

func (m *MPool) Cap() int64 {
	if m.cap == NoFixed {
		return GB << 4
	}
	return m.cap
}

func (m *MPool) CurrNB() int64 {
	return m.stats.NumCurrBytes.Load()
}

func (m *MPool) Stats() *Stats {
	return &m.stats
}

func (m *MPool) Report() string {
	return fmt.Sprintf("pool %s: alloc %d calls, curr %d bytes, hwm %d bytes",
		m.name, m.stats.NumAlloc.Load(), m.stats.NumCurrBytes.Load(), m.stats.HighWaterMark.Load())
}

func (m *MPool) charge(sz int64) error {
	if m.cap != NoFixed && m.stats.NumCurrBytes.Load()+sz > m.cap {
		return moerr.NewOOMNoCtx()
	}
	if m.parent != nil {
		if err := m.parent.charge(sz); err != nil {
			return err
		}
	}
	m.stats.RecordAlloc(sz)
	return nil
}

func (m *MPool) uncharge(sz int64) {
	m.stats.RecordFree(sz)
	if m.parent != nil {
		m.parent.uncharge(sz)
	}
}

func (m *MPool) newPage(sz int64) ([]byte, error) {
	if err := m.charge(sz); err != nil {
		return nil, err
	}
	pg := make([]byte, sz)
	m.pages = append(m.pages, pg)
	return pg, nil
}

// Alloc returns a zeroed byte slice of the requested size, carved from the
// current page. Requests larger than the page unit get a dedicated page.
func (m *MPool) Alloc(sz int) ([]byte, error) {
	if sz < 0 {
		return nil, moerr.NewInternalNoCtx("mpool alloc of negative size %d", sz)
	}
	if sz == 0 {
		return nil, nil
	}
	if int64(sz) >= m.pageSize {
		return m.newPage(int64(sz))
	}
	if m.curr == nil || m.off+sz > len(m.curr) {
		pg, err := m.newPage(m.pageSize)
		if err != nil {
			return nil, err
		}
		m.curr = pg
		m.off = 0
	}
	b := m.curr[m.off : m.off+sz : m.off+sz]
	m.off += sz
	return b, nil
}

// Reset drops every page at once. Outstanding slices must not be used
// afterwards.
func (m *MPool) Reset() {
	m.uncharge(m.stats.NumCurrBytes.Load())
	m.pages = nil
	m.curr = nil
	m.off = 0
}

// Release is Reset for the end of the pool's life.
func (m *MPool) Release() {
	m.Reset()
}
