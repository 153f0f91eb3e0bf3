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

	"github.com/matrixorigin/arrayjoin/pkg/common/mpool"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/logutil"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// tupleStream is the shared iterator surface of the reader modes.
type tupleStream interface {
	End() bool
	Tuple() []types.Value
	Next() error
}

// readIntoTable drains a reader into the table, optionally populating the
// chunk filter against the opposite side.
func (j *Join) readIntoTable(ctx context.Context, reader tupleStream, table *JoinHashTable, chunkF *ChunkFilter) error {
	stats := j.settings.Stats()
	scratch := make([]byte, 0, 64)
	for !reader.End() {
		tuple := reader.Tuple()
		if chunkF != nil {
			chunkF.AddTuple(tuple, &scratch)
		}
		if err := table.Insert(ctx, tuple); err != nil {
			return err
		}
		stats.BuildRows++
		if err := reader.Next(); err != nil {
			return err
		}
	}
	stats.DistinctKeyEst = table.DistinctKeyEstimate()
	logutil.Debug("equi_join table built",
		zap.Int("entries", table.NumEntries()),
		zap.Uint64("distinct keys", table.DistinctKeyEstimate()),
		zap.String("bytes", humanize.IBytes(uint64(table.UsedBytes()))))
	return nil
}

// streamToTableJoin probes the table with every tuple of reader and
// emits the joined rows. tableSide names the side resident in the table.
func (j *Join) streamToTableJoin(ctx context.Context, reader tupleStream, table *JoinHashTable, tableSide Handedness, instanceID uint64) (*array.Array, error) {
	result := NewOutputWriter(j.settings, instanceID)
	iter := table.NewIterator()
	for !reader.End() {
		tuple := reader.Tuple()
		iter.Find(tuple)
		for !iter.End() {
			tablePiece := iter.Tuple()
			if tableSide == LEFT {
				result.WriteJoined(tablePiece, tuple)
			} else {
				result.WriteJoined(tuple, tablePiece)
			}
			iter.NextAtHash()
		}
		if err := reader.Next(); err != nil {
			return nil, err
		}
	}
	return result.Finalize(), nil
}

// newHashArena nests the table's resetting arena inside the operator
// pool, sized by the plan-time table cap.
func (j *Join) newHashArena() *mpool.MPool {
	return mpool.NewChild("equi_join.hashtable", j.settings.maxTableSizeMB*mpool.MB, j.pool)
}

// replicationHashJoin is the small-side strategy: replicate the build
// side everywhere, hash it, stream the local probe side through.
func (j *Join) replicationHashJoin(ctx context.Context, rt engine.Runtime, left, right *array.Array, buildSide Handedness) (*array.Array, error) {
	build, probe := left, right
	if buildSide == RIGHT {
		build, probe = right, left
	}
	replicated, err := rt.RedistributeToRandomAccess(ctx, build, engine.Replication, false)
	if err != nil {
		return nil, err
	}
	hashArena := j.newHashArena()
	defer hashArena.Release()
	table, err := NewJoinHashTable(ctx, j.settings, hashArena, j.settings.TupleSize(buildSide))
	if err != nil {
		return nil, err
	}
	chunkF := NewChunkFilter(j.settings, buildSide)
	buildReader, err := NewInputReader(ctx, replicated, j.settings, buildSide, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := j.readIntoTable(ctx, buildReader, table, chunkF); err != nil {
		return nil, err
	}
	probeReader, err := NewInputReader(ctx, probe, j.settings, buildSide.Opposite(), chunkF, nil)
	if err != nil {
		return nil, err
	}
	return j.streamToTableJoin(ctx, probeReader, table, buildSide, rt.InstanceID())
}
