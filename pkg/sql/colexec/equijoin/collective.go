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

	"github.com/pierrec/lz4"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

// allGather runs the fixed send-then-receive pattern: local goes to every
// peer, then one buffer is collected from each. The result holds every
// instance's contribution indexed by instance id, local included. All
// reducers layered on top are commutative, so no ordering beyond the
// pairwise FIFO of BufSend is assumed.
func allGather(ctx context.Context, rt engine.Runtime, local []byte) ([][]byte, error) {
	n := rt.InstanceCount()
	me := rt.InstanceID()
	out := make([][]byte, n)
	out[me] = local
	for i := uint64(0); i < n; i++ {
		if i == me {
			continue
		}
		if err := rt.BufSend(ctx, i, local); err != nil {
			return nil, err
		}
	}
	for i := uint64(0); i < n; i++ {
		if i == me {
			continue
		}
		buf, err := rt.BufReceive(ctx, i)
		if err != nil {
			return nil, err
		}
		out[i] = buf
	}
	return out, nil
}

// AgreeOnBoolean returns true iff every instance passed true.
func AgreeOnBoolean(ctx context.Context, rt engine.Runtime, value bool) (bool, error) {
	bufs, err := allGather(ctx, rt, types.AppendBool(nil, value))
	if err != nil {
		return false, err
	}
	for _, buf := range bufs {
		if len(buf) < 1 {
			return false, moerr.NewUnexpectedEOF(ctx, "boolean agreement buffer")
		}
		value = value && types.DecodeBool(buf)
	}
	return value, nil
}

// globalSum folds each instance's uint64 into the cluster-wide sum.
func globalSum(ctx context.Context, rt engine.Runtime, local uint64) (uint64, error) {
	bufs, err := allGather(ctx, rt, types.AppendUint64(nil, local))
	if err != nil {
		return 0, err
	}
	var sum uint64
	for _, buf := range bufs {
		if len(buf) < 8 {
			return 0, moerr.NewUnexpectedEOF(ctx, "size exchange buffer")
		}
		sum += types.DecodeUint64(buf)
	}
	return sum, nil
}

// lz4Frame compresses buf as (rawLen, payload); incompressible input is
// stored raw, which the reader recognizes by a payload length equal to
// rawLen.
func lz4Frame(buf []byte) []byte {
	out := types.AppendUint64(nil, uint64(len(buf)))
	dst := make([]byte, lz4.CompressBlockBound(len(buf)))
	ht := make([]int, 1<<16)
	n, err := lz4.CompressBlock(buf, dst, ht)
	if err != nil || n == 0 || n >= len(buf) {
		return append(out, buf...)
	}
	return append(out, dst[:n]...)
}

func lz4Unframe(ctx context.Context, frame []byte) ([]byte, error) {
	if len(frame) < 8 {
		return nil, moerr.NewUnexpectedEOF(ctx, "compressed exchange buffer")
	}
	rawLen := int(types.DecodeUint64(frame))
	body := frame[8:]
	if len(body) == rawLen {
		return body, nil
	}
	out := make([]byte, rawLen)
	n, err := lz4.UncompressBlock(body, out)
	if err != nil || n != rawLen {
		return nil, moerr.NewInternal(ctx, "corrupt compressed exchange buffer")
	}
	return out, nil
}

// exchangeCompressed all-gathers an lz4-framed payload and hands every
// peer contribution to fold.
func exchangeCompressed(ctx context.Context, rt engine.Runtime, local []byte, fold func(peer uint64, buf []byte) error) error {
	bufs, err := allGather(ctx, rt, lz4Frame(local))
	if err != nil {
		return err
	}
	me := rt.InstanceID()
	for peer, frame := range bufs {
		if uint64(peer) == me {
			continue
		}
		raw, err := lz4Unframe(ctx, frame)
		if err != nil {
			return err
		}
		if err := fold(uint64(peer), raw); err != nil {
			return err
		}
	}
	return nil
}
