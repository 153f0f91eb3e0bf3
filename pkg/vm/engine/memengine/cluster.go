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

// Package memengine hosts an N-instance cluster inside one process. Each
// instance is a goroutine holding an engine.Runtime; messaging and
// shuffles ride on buffered channels. It backs the operator test suites
// and doubles as the reference semantics for the host contract.
package memengine

import (
	"context"
	"sync"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/vm/engine"
)

const (
	msgChanCap   = 1024
	chunkChanCap = 8192
)

type taggedChunk struct {
	src  int
	seq  int
	c    *array.Chunk
	last bool
}

// Cluster wires n in-process instances together.
type Cluster struct {
	n      int
	msg    [][]chan []byte
	chunks [][]chan taggedChunk
}

func NewCluster(n int) *Cluster {
	c := &Cluster{n: n}
	c.msg = make([][]chan []byte, n)
	c.chunks = make([][]chan taggedChunk, n)
	for i := 0; i < n; i++ {
		c.msg[i] = make([]chan []byte, n)
		c.chunks[i] = make([]chan taggedChunk, n)
		for j := 0; j < n; j++ {
			c.msg[i][j] = make(chan []byte, msgChanCap)
			c.chunks[i][j] = make(chan taggedChunk, chunkChanCap)
		}
	}
	return c
}

func (c *Cluster) NumInstances() int {
	return c.n
}

// Runtime returns instance id's engine handle.
func (c *Cluster) Runtime(id int) engine.Runtime {
	return &instanceRuntime{cluster: c, id: uint64(id)}
}

// Run executes fn on every instance concurrently and returns the first
// error. It is the collective entry point used by tests: every collective
// operation inside fn assumes all instances participate.
func (c *Cluster) Run(fn func(id int, rt engine.Runtime) error) error {
	var wg sync.WaitGroup
	errs := make([]error, c.n)
	for i := 0; i < c.n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			errs[id] = fn(id, c.Runtime(id))
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

type instanceRuntime struct {
	cluster *Cluster
	id      uint64
}

func (rt *instanceRuntime) InstanceID() uint64 {
	return rt.id
}

func (rt *instanceRuntime) InstanceCount() uint64 {
	return uint64(rt.cluster.n)
}

func (rt *instanceRuntime) BufSend(ctx context.Context, dst uint64, buf []byte) error {
	if dst >= uint64(rt.cluster.n) {
		return moerr.NewTransport(ctx, "send to unknown instance %d", dst)
	}
	cp := make([]byte, len(buf))
	copy(cp, buf)
	select {
	case rt.cluster.msg[rt.id][dst] <- cp:
		return nil
	case <-ctx.Done():
		return moerr.NewQueryInterrupted(ctx)
	}
}

func (rt *instanceRuntime) BufReceive(ctx context.Context, src uint64) ([]byte, error) {
	if src >= uint64(rt.cluster.n) {
		return nil, moerr.NewTransport(ctx, "receive from unknown instance %d", src)
	}
	select {
	case buf := <-rt.cluster.msg[src][rt.id]:
		return buf, nil
	case <-ctx.Done():
		return nil, moerr.NewQueryInterrupted(ctx)
	}
}
