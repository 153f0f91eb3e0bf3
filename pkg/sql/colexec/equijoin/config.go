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

	"github.com/BurntSushi/toml"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
)

// Config carries the engine-level defaults of the operator. Per-query
// key=value parameters override these.
type Config struct {
	// HashJoinThreshold is the byte size under which a side is considered
	// small enough to build a hash table from.
	HashJoinThreshold int64 `toml:"hash-join-threshold"`
	// MaxTableSizeMB is the memory ceiling of the hash table in MiB; it
	// drives the bucket count ladder.
	MaxTableSizeMB int64 `toml:"max-table-size-mb"`
	// ChunkSize is the output chunk length along value_no.
	ChunkSize int64 `toml:"chunk-size"`
	// BloomFilterBits is the default Bloom filter size in bits.
	BloomFilterBits int64 `toml:"bloom-filter-bits"`
}

func DefaultConfig() *Config {
	return &Config{
		HashJoinThreshold: 128 << 20,
		MaxTableSizeMB:    128,
		ChunkSize:         1000000,
		BloomFilterBits:   1 << 23,
	}
}

// LoadConfig reads a TOML config file over the defaults.
func LoadConfig(ctx context.Context, path string) (*Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, moerr.NewBadConfig(ctx, "parse %s: %v", path, err)
	}
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate(ctx context.Context) error {
	if c.HashJoinThreshold <= 0 {
		return moerr.NewBadConfig(ctx, "hash-join-threshold must be positive")
	}
	if c.MaxTableSizeMB <= 0 {
		return moerr.NewBadConfig(ctx, "max-table-size-mb must be positive")
	}
	if c.ChunkSize <= 0 {
		return moerr.NewBadConfig(ctx, "chunk-size must be positive")
	}
	if c.BloomFilterBits <= 0 {
		return moerr.NewBadConfig(ctx, "bloom-filter-bits must be positive")
	}
	return nil
}
