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

// Package engine declares the contracts the hosting array DBMS runtime
// must supply to the join operator: the cluster view, point-to-point
// messaging, redistribution, and an external sort. Messaging and
// redistribution may block on peers; callers treat each such call as a
// synchronization barrier. The cluster view and the sort are local.
package engine

import (
	"context"

	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
)

// Partitioning names a redistribution scheme.
type Partitioning uint8

const (
	// Replication places the full array on every instance.
	Replication Partitioning = iota
	// ByRow routes each chunk to the instance named by its first
	// dimension coordinate, modulo the cluster size.
	ByRow
)

func (p Partitioning) String() string {
	switch p {
	case Replication:
		return "replication"
	case ByRow:
		return "by-row"
	}
	return "unknown"
}

// RowLess orders two rows, each laid out across all attributes of one array.
type RowLess func(a, b []types.Value) bool

// Runtime is the per-instance handle onto the hosting cluster.
type Runtime interface {
	InstanceID() uint64
	InstanceCount() uint64

	// BufSend delivers buf to dst. Sends between one pair of instances
	// are FIFO within a query phase.
	BufSend(ctx context.Context, dst uint64, buf []byte) error
	// BufReceive blocks for the next buffer from src.
	BufReceive(ctx context.Context, src uint64) ([]byte, error)

	// RedistributeToRandomAccess shuffles the array under the given
	// partitioning and returns a materialized result. All instances must
	// call it collectively. preserveOrdering keeps the relative order of
	// rows coming from one source instance.
	RedistributeToRandomAccess(ctx context.Context, a *array.Array, p Partitioning, preserveOrdering bool) (*array.Array, error)

	// SortArray returns a materialized copy of a with rows ordered by
	// less. Local operation.
	SortArray(ctx context.Context, a *array.Array, less RowLess) (*array.Array, error)
}
