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

package bloomfilter

import (
	"context"

	"github.com/cespare/xxhash/v2"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

const (
	// Probes per key. Three double-hashed probes keep the false positive
	// rate under 5% up to a load of one key per eight bits.
	numProbes = 3

	MinBits = 1 << 10
	MaxBits = 1 << 30

	// salt derives the double-hashing step from the key's xxhash: the
	// second hash is the first XORed with the salt's hash.
	salt = "mo-bloom"
)

// BloomFilter is a fixed-size bit array tested with k double-hashed probes.
// Filters of equal size merge with bitwise OR, so instance-local filters
// can be folded into a global one.
type BloomFilter struct {
	nbits uint64
	words []uint64
}

// New creates a filter with the requested number of bits, clamped and
// rounded up to a whole word count.
func New(bits int64) *BloomFilter {
	if bits < MinBits {
		bits = MinBits
	}
	if bits > MaxBits {
		bits = MaxBits
	}
	nw := (uint64(bits) + 63) / 64
	return &BloomFilter{
		nbits: nw * 64,
		words: make([]uint64, nw),
	}
}

func (bf *BloomFilter) NumBits() uint64 {
	return bf.nbits
}

func probes(key []byte) (uint64, uint64) {
	h1 := xxhash.Sum64(key)
	h2 := xxhash.Sum64String(salt) ^ xxhash.Sum64(key)
	// h2 must be odd so successive probes do not collapse onto one bit.
	return h1, h2 | 1
}

// Add sets the probe bits for the canonical key bytes.
func (bf *BloomFilter) Add(key []byte) {
	h1, h2 := probes(key)
	for i := uint64(0); i < numProbes; i++ {
		bit := (h1 + i*h2) % bf.nbits
		bf.words[bit>>6] |= 1 << (bit & 63)
	}
}

// MayContain reports whether the key was possibly added. False positives
// are possible, false negatives are not.
func (bf *BloomFilter) MayContain(key []byte) bool {
	h1, h2 := probes(key)
	for i := uint64(0); i < numProbes; i++ {
		bit := (h1 + i*h2) % bf.nbits
		if bf.words[bit>>6]&(1<<(bit&63)) == 0 {
			return false
		}
	}
	return true
}

// Or folds another filter of the same geometry into this one.
func (bf *BloomFilter) Or(other *BloomFilter) error {
	if other.nbits != bf.nbits {
		return moerr.NewInternalNoCtx("bloom filter size mismatch: %d vs %d", bf.nbits, other.nbits)
	}
	for i, w := range other.words {
		bf.words[i] |= w
	}
	return nil
}

// OrBytes folds a marshaled peer filter into this one.
func (bf *BloomFilter) OrBytes(ctx context.Context, buf []byte) error {
	other, err := Unmarshal(ctx, buf)
	if err != nil {
		return err
	}
	return bf.Or(other)
}

// Marshal renders the filter as nbits followed by the raw words.
func (bf *BloomFilter) Marshal() []byte {
	buf := make([]byte, 0, 8+len(bf.words)*8)
	buf = types.AppendUint64(buf, bf.nbits)
	return append(buf, types.Uint64SliceToBytes(bf.words)...)
}

func Unmarshal(ctx context.Context, buf []byte) (*BloomFilter, error) {
	if len(buf) < 8 {
		return nil, moerr.NewUnexpectedEOF(ctx, "bloom filter buffer")
	}
	nbits := types.DecodeUint64(buf)
	body := buf[8:]
	if nbits%64 != 0 || uint64(len(body)) != nbits/8 {
		return nil, moerr.NewInternal(ctx, "malformed bloom filter buffer")
	}
	words := make([]uint64, nbits/64)
	copy(words, types.BytesToUint64Slice(body))
	return &BloomFilter{nbits: nbits, words: words}, nil
}
