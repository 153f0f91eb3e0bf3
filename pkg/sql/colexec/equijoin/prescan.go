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

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// ComputeExactArraySize sums the chunk sizes of a local materialized
// array in bytes.
func ComputeExactArraySize(ctx context.Context, a *array.Array) (uint64, error) {
	it, err := a.NewIterator(ctx)
	if err != nil {
		return 0, err
	}
	var size uint64
	for !it.End() {
		size += uint64(it.Chunk().SizeBytes())
		if err := it.Next(); err != nil {
			return 0, err
		}
	}
	return size, nil
}

// GlobalComputeExactArraySize is the cluster-wide sum of the local sizes.
func GlobalComputeExactArraySize(ctx context.Context, rt engine.Runtime, a *array.Array) (uint64, error) {
	local, err := ComputeExactArraySize(ctx, a)
	if err != nil {
		return 0, err
	}
	return globalSum(ctx, rt, local)
}

// PreScanResult carries one instance's bounded-cost size estimate.
type PreScanResult struct {
	FinishedLeft      bool
	FinishedRight     bool
	LeftSizeEstimate  uint64
	RightSizeEstimate uint64
}

func (r *PreScanResult) marshal() []byte {
	buf := make([]byte, 0, 18)
	buf = types.AppendBool(buf, r.FinishedLeft)
	buf = types.AppendBool(buf, r.FinishedRight)
	buf = types.AppendUint64(buf, r.LeftSizeEstimate)
	return types.AppendUint64(buf, r.RightSizeEstimate)
}

func unmarshalPreScanResult(ctx context.Context, buf []byte) (PreScanResult, error) {
	var r PreScanResult
	if len(buf) < 18 {
		return r, moerr.NewUnexpectedEOF(ctx, "prescan exchange buffer")
	}
	r.FinishedLeft = types.DecodeBool(buf[0:])
	r.FinishedRight = types.DecodeBool(buf[1:])
	r.LeftSizeEstimate = types.DecodeUint64(buf[2:])
	r.RightSizeEstimate = types.DecodeUint64(buf[10:])
	return r, nil
}

// LocalPreScan walks both inputs in lockstep, accumulating estimated
// sizes until either side crosses the hash join threshold or ends. Only
// when one side has ended does the other keep going alone, until it ends
// or crosses the threshold; a side that crosses first stops both walks.
// Single-pass inputs are materialized first, so later phases may re-read
// them; the swap happens through the array pointers.
func (j *Join) LocalPreScan(ctx context.Context, left, right **array.Array) (PreScanResult, error) {
	var res PreScanResult
	if (*left).SupportedAccess() == array.SinglePass {
		if err := (*left).EnsureRandomAccess(ctx); err != nil {
			return res, err
		}
	}
	if (*right).SupportedAccess() == array.SinglePass {
		if err := (*right).EnsureRandomAccess(ctx); err != nil {
			return res, err
		}
	}
	s := j.settings
	leftCellSize := uint64(s.PreTupledDesc(LEFT).CellSizeEstimate())
	rightCellSize := uint64(s.PreTupledDesc(RIGHT).CellSizeEstimate())
	threshold := uint64(s.HashJoinThreshold())

	liter, err := (*left).NewIterator(ctx)
	if err != nil {
		return res, err
	}
	riter, err := (*right).NewIterator(ctx)
	if err != nil {
		return res, err
	}
	var leftSize, rightSize uint64
	for leftSize < threshold && rightSize < threshold && !liter.End() && !riter.End() {
		leftSize += uint64(liter.Chunk().Count()) * leftCellSize
		rightSize += uint64(riter.Chunk().Count()) * rightCellSize
		if err := liter.Next(); err != nil {
			return res, err
		}
		if err := riter.Next(); err != nil {
			return res, err
		}
	}
	if liter.End() {
		for !riter.End() && rightSize < threshold {
			rightSize += uint64(riter.Chunk().Count()) * rightCellSize
			if err := riter.Next(); err != nil {
				return res, err
			}
		}
	}
	if riter.End() {
		for !liter.End() && leftSize < threshold {
			leftSize += uint64(liter.Chunk().Count()) * leftCellSize
			if err := liter.Next(); err != nil {
				return res, err
			}
		}
	}
	res.FinishedLeft = liter.End()
	res.FinishedRight = riter.End()
	res.LeftSizeEstimate = leftSize
	res.RightSizeEstimate = rightSize
	return res, nil
}

// GlobalPreScanResult aggregates pre-scan outcomes across instances.
type GlobalPreScanResult struct {
	LeftFinished  uint64
	RightFinished uint64
	LeftSizeEst   uint64
	RightSizeEst  uint64
}

// GlobalPreScan runs the local pre-scan and folds all instances'
// results: finished counts and summed size estimates.
func (j *Join) GlobalPreScan(ctx context.Context, rt engine.Runtime, left, right **array.Array) (GlobalPreScanResult, error) {
	var agg GlobalPreScanResult
	local, err := j.LocalPreScan(ctx, left, right)
	if err != nil {
		return agg, err
	}
	bufs, err := allGather(ctx, rt, local.marshal())
	if err != nil {
		return agg, err
	}
	for _, buf := range bufs {
		r, err := unmarshalPreScanResult(ctx, buf)
		if err != nil {
			return agg, err
		}
		if r.FinishedLeft {
			agg.LeftFinished++
		}
		if r.FinishedRight {
			agg.RightFinished++
		}
		agg.LeftSizeEst += r.LeftSizeEstimate
		agg.RightSizeEst += r.RightSizeEstimate
	}
	return agg, nil
}
