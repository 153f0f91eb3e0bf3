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

// Package equijoin is the distributed inner equi-join core of the array
// engine. Given two instance-local array shards and the matching key
// columns it plans one of four strategies - replicated hash join on
// either side, or a partitioned sort-merge leading with either side -
// and produces the joined output shard. The operator is all-or-nothing
// within a query: no output is visible unless it completes.
package equijoin

import (
	"context"

	"go.uber.org/zap"

	"github.com/matrixorigin/arrayjoin/pkg/common/mpool"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/logutil"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// Join is one invocation of the operator at one instance.
type Join struct {
	settings *Settings
	pool     *mpool.MPool
}

// New validates parameters against the input schemas and prepares the
// operator. The operator pool bounds all join-scoped allocations; the
// hash table gets a nested resetting arena of its own.
func New(ctx context.Context, rt engine.Runtime, leftDesc, rightDesc *array.Desc, params []string, cfg *Config) (*Join, error) {
	settings, err := NewSettings(ctx, leftDesc, rightDesc, params, cfg, rt.InstanceCount())
	if err != nil {
		return nil, err
	}
	return &Join{
		settings: settings,
		pool:     mpool.New("equi_join", mpool.NoFixed),
	}, nil
}

func (j *Join) Settings() *Settings {
	return j.settings
}

func (j *Join) Stats() *Stats {
	return j.settings.Stats()
}

// OutputDesc is the schema of the array Execute returns.
func (j *Join) OutputDesc() *array.Desc {
	return j.settings.OutputDesc()
}

// Execute runs the join collectively: every instance calls it with its
// local shards and all instances must participate in the embedded
// collective steps. Inputs may be materialized in place during planning.
func (j *Join) Execute(ctx context.Context, rt engine.Runtime, left, right *array.Array) (*array.Array, error) {
	defer j.pool.Release()
	algo, err := j.PickAlgorithm(ctx, rt, &left, &right)
	if err != nil {
		return nil, err
	}
	logutil.Debug("equi_join running", zap.String("algorithm", algo.String()))
	switch algo {
	case HashReplicateLeft:
		return j.replicationHashJoin(ctx, rt, left, right, LEFT)
	case HashReplicateRight:
		return j.replicationHashJoin(ctx, rt, left, right, RIGHT)
	case MergeLeftFirst:
		return j.globalMergeJoin(ctx, rt, left, right, LEFT)
	default:
		return j.globalMergeJoin(ctx, rt, left, right, RIGHT)
	}
}
