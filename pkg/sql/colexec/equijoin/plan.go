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
	"github.com/matrixorigin/arrayjoin/pkg/logutil"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// PickAlgorithm selects among the four strategies. Materialized sides
// give exact global sizes; otherwise a bounded-cost pre-scan estimates
// them, and the count of instances that finished a side within threshold
// is the proxy for that side being globally small. First match wins:
//
//  1. a user override,
//  2. left globally materialized and exactly under threshold,
//  3. right likewise,
//  4. both materialized: merge with the smaller side first,
//  5. pre-scan: a side everyone finished under threshold is hashed,
//  6. otherwise merge, leading with the side more instances finished.
//
// May materialize single-pass inputs through the array pointers.
func (j *Join) PickAlgorithm(ctx context.Context, rt engine.Runtime, left, right **array.Array) (Algorithm, error) {
	s := j.settings
	if s.AlgorithmSet() {
		return s.Algorithm(), nil
	}
	threshold := uint64(s.HashJoinThreshold())

	leftMaterialized, err := AgreeOnBoolean(ctx, rt, (*left).IsMaterialized())
	if err != nil {
		return 0, err
	}
	var exactLeftSize uint64
	if leftMaterialized {
		if exactLeftSize, err = GlobalComputeExactArraySize(ctx, rt, *left); err != nil {
			return 0, err
		}
		logutil.Debug("equi_join left side materialized",
			zap.String("exact size", humanize.IBytes(exactLeftSize)))
		if exactLeftSize < threshold {
			return HashReplicateLeft, nil
		}
	}
	rightMaterialized, err := AgreeOnBoolean(ctx, rt, (*right).IsMaterialized())
	if err != nil {
		return 0, err
	}
	var exactRightSize uint64
	if rightMaterialized {
		if exactRightSize, err = GlobalComputeExactArraySize(ctx, rt, *right); err != nil {
			return 0, err
		}
		logutil.Debug("equi_join right side materialized",
			zap.String("exact size", humanize.IBytes(exactRightSize)))
		if exactRightSize < threshold {
			return HashReplicateRight, nil
		}
	}
	if leftMaterialized && rightMaterialized {
		if exactLeftSize <= exactRightSize {
			return MergeLeftFirst, nil
		}
		return MergeRightFirst, nil
	}

	agg, err := j.GlobalPreScan(ctx, rt, left, right)
	if err != nil {
		return 0, err
	}
	logutil.Debug("equi_join global prescan",
		zap.Uint64("left finished", agg.LeftFinished),
		zap.Uint64("right finished", agg.RightFinished),
		zap.String("left estimate", humanize.IBytes(agg.LeftSizeEst)),
		zap.String("right estimate", humanize.IBytes(agg.RightSizeEst)))
	n := rt.InstanceCount()
	if agg.LeftFinished == n && agg.LeftSizeEst < threshold {
		return HashReplicateLeft, nil
	}
	if agg.RightFinished == n && agg.RightSizeEst < threshold {
		return HashReplicateRight, nil
	}
	// A side more instances finished scanning is the smaller one; ties
	// lead with the left.
	if agg.LeftFinished < agg.RightFinished {
		return MergeRightFirst, nil
	}
	return MergeLeftFirst, nil
}
