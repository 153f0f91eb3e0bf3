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

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/logutil"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// readIntoPreSort streams one side's raw input into its pre-tupled form,
// stamping each tuple's hash bucket. On the first pass it populates the
// filters; on the second it applies the exchanged ones as push-down
// predicates.
func (j *Join) readIntoPreSort(ctx context.Context, a *array.Array, side Handedness, rt engine.Runtime,
	chunkFToGen *ChunkFilter, chunkFToApply *ChunkFilter,
	bloomFToGen *JoinBloomFilter, bloomFToApply *JoinBloomFilter) (*array.Array, error) {
	reader, err := NewInputReader(ctx, a, j.settings, side, chunkFToApply, bloomFToApply)
	if err != nil {
		return nil, err
	}
	writer := NewTupledWriter(j.settings, side, rt.InstanceID())
	hashMod := j.settings.NumHashBuckets()
	numKeys := j.settings.NumKeys()
	scratch := make([]byte, 0, 64)
	filterScratch := make([]byte, 0, 64)
	for !reader.End() {
		tuple := reader.Tuple()
		if chunkFToGen != nil {
			chunkFToGen.AddTuple(tuple, &filterScratch)
		}
		if bloomFToGen != nil {
			bloomFToGen.AddTuple(tuple, &filterScratch)
		}
		h := uint32(uint64(HashKeys(tuple[:numKeys], &scratch)) % hashMod)
		writer.WriteTupleWithHash(tuple, h)
		if err := reader.Next(); err != nil {
			return nil, err
		}
	}
	return writer.Finalize(), nil
}

// preTupledLess orders pre-tupled rows by (hash, key0, key1, ...).
func (j *Join) preTupledLess(side Handedness) engine.RowLess {
	hashIdx := j.settings.TupleSize(side)
	cmps := j.settings.KeyComparators()
	numKeys := j.settings.NumKeys()
	return func(a, b []types.Value) bool {
		ha, hb := a[hashIdx].Uint32(), b[hashIdx].Uint32()
		if ha != hb {
			return ha < hb
		}
		return KeysLess(a, b, cmps, numKeys)
	}
}

// sortedToPreSg re-emits a sorted pre-tupled array split on hash so the
// following by-row shuffle lands each tuple on hash mod N.
func (j *Join) sortedToPreSg(ctx context.Context, a *array.Array, side Handedness, rt engine.Runtime) (*array.Array, error) {
	writer := NewSplitWriter(j.settings, side, rt.InstanceCount())
	reader, err := NewTupledReader(ctx, a)
	if err != nil {
		return nil, err
	}
	for !reader.End() {
		writer.WriteTuple(reader.Tuple())
		if err := reader.Next(); err != nil {
			return nil, err
		}
	}
	return writer.Finalize(), nil
}

// shuffleSide runs pre-tuple, sort, split and by-row redistribution for
// one side of the partitioned merge.
func (j *Join) shuffleSide(ctx context.Context, rt engine.Runtime, a *array.Array, side Handedness,
	chunkFToGen *ChunkFilter, chunkFToApply *ChunkFilter,
	bloomFToGen *JoinBloomFilter, bloomFToApply *JoinBloomFilter) (*array.Array, error) {
	tupled, err := j.readIntoPreSort(ctx, a, side, rt, chunkFToGen, chunkFToApply, bloomFToGen, bloomFToApply)
	if err != nil {
		return nil, err
	}
	sorted, err := rt.SortArray(ctx, tupled, j.preTupledLess(side))
	if err != nil {
		return nil, err
	}
	split, err := j.sortedToPreSg(ctx, sorted, side, rt)
	if err != nil {
		return nil, err
	}
	return rt.RedistributeToRandomAccess(ctx, split, engine.ByRow, true)
}

// globalMergeJoin is the partitioned sort-merge strategy. first names the
// side processed first: it produces the filters the second side's scan
// consumes. After the shuffle both sides are hash-partitioned by bucket,
// so a side that shrank under the threshold is re-hashed instead of
// merged.
func (j *Join) globalMergeJoin(ctx context.Context, rt engine.Runtime, left, right *array.Array, firstSide Handedness) (*array.Array, error) {
	s := j.settings
	firstInput, secondInput := left, right
	if firstSide == RIGHT {
		firstInput, secondInput = right, left
	}
	secondSide := firstSide.Opposite()

	chunkFilter := NewChunkFilter(s, firstSide)
	bloomFilter := NewJoinBloomFilter(s)
	first, err := j.shuffleSide(ctx, rt, firstInput, firstSide, chunkFilter, nil, bloomFilter, nil)
	if err != nil {
		return nil, err
	}
	if err := chunkFilter.GlobalExchange(ctx, rt); err != nil {
		return nil, err
	}
	if err := bloomFilter.GlobalExchange(ctx, rt); err != nil {
		return nil, err
	}
	second, err := j.shuffleSide(ctx, rt, secondInput, secondSide, nil, chunkFilter, nil, bloomFilter)
	if err != nil {
		return nil, err
	}

	firstSize, err := ComputeExactArraySize(ctx, first)
	if err != nil {
		return nil, err
	}
	secondSize, err := ComputeExactArraySize(ctx, second)
	if err != nil {
		return nil, err
	}
	logutil.Debug("equi_join merge after shuffle",
		zap.String("first size", humanize.IBytes(firstSize)),
		zap.String("second size", humanize.IBytes(secondSize)))

	threshold := uint64(s.HashJoinThreshold())
	if firstSize < threshold {
		return j.rehashJoin(ctx, rt, first, second, firstSide)
	}
	if secondSize < threshold {
		return j.rehashJoin(ctx, rt, second, first, secondSide)
	}

	firstSorted, err := rt.SortArray(ctx, first, j.preTupledLess(firstSide))
	if err != nil {
		return nil, err
	}
	secondSorted, err := rt.SortArray(ctx, second, j.preTupledLess(secondSide))
	if err != nil {
		return nil, err
	}
	if firstSide == LEFT {
		return j.localSortedMergeJoin(ctx, rt, firstSorted, secondSorted)
	}
	return j.localSortedMergeJoin(ctx, rt, secondSorted, firstSorted)
}

// rehashJoin rebuilds a hash table from a post-shuffle side that fits in
// memory and probes it with the other side's pre-tupled form.
func (j *Join) rehashJoin(ctx context.Context, rt engine.Runtime, buildArr, probeArr *array.Array, buildSide Handedness) (*array.Array, error) {
	logutil.Debug("equi_join merge rehashing", zap.String("side", buildSide.String()))
	hashArena := j.newHashArena()
	defer hashArena.Release()
	table, err := NewJoinHashTable(ctx, j.settings, hashArena, j.settings.TupleSize(buildSide))
	if err != nil {
		return nil, err
	}
	buildReader, err := NewTupledReader(ctx, buildArr)
	if err != nil {
		return nil, err
	}
	if err := j.readIntoTable(ctx, buildReader, table, nil); err != nil {
		return nil, err
	}
	probeReader, err := NewTupledReader(ctx, probeArr)
	if err != nil {
		return nil, err
	}
	return j.streamToTableJoin(ctx, probeReader, table, buildSide, rt.InstanceID())
}

// localSortedMergeJoin merges two pre-tupled arrays ordered by (hash,
// keys). Both cursors advance until hashes align, the right cursor skips
// colliding smaller keys, then the matching right block is emitted for
// the left row. When the next left row repeats the key, the right cursor
// rewinds to the block start so every left duplicate sees the full right
// group.
func (j *Join) localSortedMergeJoin(ctx context.Context, rt engine.Runtime, leftSorted, rightSorted *array.Array) (*array.Array, error) {
	s := j.settings
	output := NewOutputWriter(s, rt.InstanceID())
	cmps := s.KeyComparators()
	numKeys := s.NumKeys()
	leftHashIdx := s.LeftTupleSize()
	rightHashIdx := s.RightTupleSize()

	leftCursor, err := NewSortedReader(ctx, leftSorted)
	if err != nil {
		return nil, err
	}
	rightCursor, err := NewSortedReader(ctx, rightSorted)
	if err != nil {
		return nil, err
	}
	if leftCursor.End() || rightCursor.End() {
		return output.Finalize(), nil
	}

	previousLeftKeys := make([]types.Value, numKeys)
	havePrevious := false
	for !leftCursor.End() && !rightCursor.End() {
		leftTuple := leftCursor.Tuple()
		rightTuple := rightCursor.Tuple()
		leftHash := leftTuple[leftHashIdx].Uint32()
		rightHash := rightTuple[rightHashIdx].Uint32()

		for rightHash < leftHash && !rightCursor.End() {
			if err := rightCursor.Next(); err != nil {
				return nil, err
			}
			if !rightCursor.End() {
				rightTuple = rightCursor.Tuple()
				rightHash = rightTuple[rightHashIdx].Uint32()
			}
		}
		if rightHash > leftHash {
			if err := leftCursor.Next(); err != nil {
				return nil, err
			}
			continue
		}
		if rightCursor.End() {
			break
		}
		// Same bucket, different keys: skip right rows ordered below.
		for !rightCursor.End() && rightHash == leftHash && KeysLess(rightTuple, leftTuple, cmps, numKeys) {
			if err := rightCursor.Next(); err != nil {
				return nil, err
			}
			if !rightCursor.End() {
				rightTuple = rightCursor.Tuple()
				rightHash = rightTuple[rightHashIdx].Uint32()
			}
		}
		if rightCursor.End() {
			break
		}
		if rightHash > leftHash {
			if err := leftCursor.Next(); err != nil {
				return nil, err
			}
			continue
		}
		previousRightIdx := rightCursor.Idx()
		emitted := false
		for !rightCursor.End() && rightHash == leftHash && KeysEqual(leftTuple, rightTuple, cmps, numKeys) {
			if !emitted {
				copy(previousLeftKeys, leftTuple[:numKeys])
				emitted = true
				havePrevious = true
			}
			output.WriteJoined(leftTuple, rightTuple)
			if err := rightCursor.Next(); err != nil {
				return nil, err
			}
			if !rightCursor.End() {
				rightTuple = rightCursor.Tuple()
				rightHash = rightTuple[rightHashIdx].Uint32()
			}
		}
		if err := leftCursor.Next(); err != nil {
			return nil, err
		}
		if !leftCursor.End() && havePrevious && emitted {
			if KeysEqual(previousLeftKeys, leftCursor.Tuple(), cmps, numKeys) {
				rightCursor.SetIdx(previousRightIdx)
			}
		}
	}
	return output.Finalize(), nil
}
