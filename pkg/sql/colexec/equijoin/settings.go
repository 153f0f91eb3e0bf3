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
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
	"github.com/matrixorigin/arrayjoin/pkg/container/array"
	"github.com/matrixorigin/arrayjoin/pkg/container/types"
	"github.com/matrixorigin/arrayjoin/pkg/logutil"
)

// Handedness names which side plays the build/first role.
type Handedness uint8

const (
	LEFT Handedness = iota
	RIGHT
)

func (h Handedness) String() string {
	if h == LEFT {
		return "left"
	}
	return "right"
}

func (h Handedness) Opposite() Handedness {
	if h == LEFT {
		return RIGHT
	}
	return LEFT
}

// Algorithm is the planner's output.
type Algorithm uint8

const (
	HashReplicateLeft Algorithm = iota
	HashReplicateRight
	MergeLeftFirst
	MergeRightFirst
)

func (a Algorithm) String() string {
	switch a {
	case HashReplicateLeft:
		return "hash_replicate_left"
	case HashReplicateRight:
		return "hash_replicate_right"
	case MergeLeftFirst:
		return "merge_left_first"
	case MergeRightFirst:
		return "merge_right_first"
	}
	return "unknown"
}

/*
 * Table sizing: we aim at a load factor of 4 or less. A group occupies at
 * least 32 bytes, an empty bucket is 4. With that ratio in mind we pick a
 * prime bucket count per memory tier and never rehash.
 */
var (
	memLimitsMB = []int64{128, 256, 512, 1024, 2048, 4096, 8192, 16384, 32768, 65536, 131072}
	tableSizes  = []uint64{1048573, 2097143, 4194301, 8388617, 16777213, 33554467, 67108859, 134217757, 268435459, 536870909, 1073741827, 2147483647}
)

// ChooseNumBuckets maps a table memory cap in MiB onto the bucket ladder:
// the smallest prime whose tier covers the cap, saturating at the top.
func ChooseNumBuckets(maxTableSizeMB int64) uint64 {
	for i, limit := range memLimitsMB {
		if maxTableSizeMB <= limit {
			return tableSizes[i]
		}
	}
	return tableSizes[len(tableSizes)-1]
}

// Settings is the resolved plan-time state of one join invocation: the
// key mapping permutations, per-key comparators, thresholds, and the
// algorithm override if any.
type Settings struct {
	leftDesc  *array.Desc
	rightDesc *array.Desc

	numLeftAttrs  int
	numLeftDims   int
	numRightAttrs int
	numRightDims  int

	numKeys   int
	leftKeys  []int
	rightKeys []int

	// field index -> tuple position, bijective per side
	leftMapToTuple  []int
	rightMapToTuple []int
	leftTupleSize   int
	rightTupleSize  int

	keyComparators []types.Comparator
	keyNullable    []bool

	hashJoinThreshold int64
	maxTableSizeMB    int64
	numHashBuckets    uint64
	chunkSize         int64
	bloomFilterBits   int64
	numInstances      uint64

	algorithm    Algorithm
	algorithmSet bool

	stats Stats
}

// Stats counts the work of one join run at one instance. The operator is
// single-threaded per instance, so plain counters suffice.
type Stats struct {
	BuildRows       uint64
	ProbeRowsRead   uint64
	RowsPastFilters uint64
	ChunksSkipped   uint64
	BloomRejected   uint64
	NullKeyRows     uint64
	OutputRows      uint64
	DistinctKeyEst  uint64
}

const maxParameters = 7

// NewSettings parses and validates the operator parameters against the
// two input schemas.
func NewSettings(ctx context.Context, leftDesc, rightDesc *array.Desc, params []string, cfg *Config, numInstances uint64) (*Settings, error) {
	if err := cfg.Validate(ctx); err != nil {
		return nil, err
	}
	if len(params) > maxParameters {
		return nil, moerr.NewInvalidInput(ctx, "too many parameters passed to equi_join")
	}
	s := &Settings{
		leftDesc:          leftDesc,
		rightDesc:         rightDesc,
		numLeftAttrs:      leftDesc.NumAttrs(),
		numLeftDims:       leftDesc.NumDims(),
		numRightAttrs:     rightDesc.NumAttrs(),
		numRightDims:      rightDesc.NumDims(),
		hashJoinThreshold: cfg.HashJoinThreshold,
		maxTableSizeMB:    cfg.MaxTableSizeMB,
		numHashBuckets:    ChooseNumBuckets(cfg.MaxTableSizeMB),
		chunkSize:         cfg.ChunkSize,
		bloomFilterBits:   cfg.BloomFilterBits,
		numInstances:      numInstances,
	}
	if err := s.parseParams(ctx, params); err != nil {
		return nil, err
	}
	if err := s.verifyInputs(ctx); err != nil {
		return nil, err
	}
	if err := s.mapAttributes(ctx); err != nil {
		return nil, err
	}
	s.logSettings()
	return s, nil
}

func (s *Settings) parseParams(ctx context.Context, params []string) error {
	seen := map[string]bool{}
	for _, p := range params {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			return moerr.NewInvalidInput(ctx, "unrecognized token '%s'", p)
		}
		key := strings.TrimSpace(kv[0])
		val := strings.TrimSpace(kv[1])
		if seen[key] {
			return moerr.NewInvalidInput(ctx, "illegal attempt to set %s multiple times", key)
		}
		seen[key] = true
		var err error
		switch key {
		case "left_keys":
			s.leftKeys, err = parseKeyList(ctx, val)
		case "right_keys":
			s.rightKeys, err = parseKeyList(ctx, val)
		case "hash_join_threshold":
			s.hashJoinThreshold, err = parsePositive(ctx, key, val)
		case "max_table_size":
			s.maxTableSizeMB, err = parsePositive(ctx, key, val)
			if err == nil {
				s.numHashBuckets = ChooseNumBuckets(s.maxTableSizeMB)
			}
		case "chunk_size":
			s.chunkSize, err = parsePositive(ctx, key, val)
		case "bloom_filter_size":
			s.bloomFilterBits, err = parsePositive(ctx, key, val)
		case "algorithm":
			s.algorithm, err = parseAlgorithm(ctx, val)
			s.algorithmSet = err == nil
		default:
			return moerr.NewInvalidInput(ctx, "unrecognized token '%s'", p)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func parseKeyList(ctx context.Context, val string) ([]int, error) {
	var keys []int
	for _, tok := range strings.Split(val, ",") {
		k, err := strconv.ParseInt(strings.TrimSpace(tok), 10, 64)
		if err != nil {
			return nil, moerr.NewInvalidInput(ctx, "could not parse keys")
		}
		if k < 0 {
			return nil, moerr.NewInvalidInput(ctx, "key index must not be negative")
		}
		keys = append(keys, int(k))
	}
	return keys, nil
}

func parsePositive(ctx context.Context, name, val string) (int64, error) {
	v, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, moerr.NewInvalidInput(ctx, "could not parse %s", name)
	}
	if v <= 0 {
		return 0, moerr.NewInvalidInput(ctx, "%s must be positive", name)
	}
	return v, nil
}

func parseAlgorithm(ctx context.Context, val string) (Algorithm, error) {
	switch val {
	case "hash_replicate_left":
		return HashReplicateLeft, nil
	case "hash_replicate_right":
		return HashReplicateRight, nil
	case "merge_left_first":
		return MergeLeftFirst, nil
	case "merge_right_first":
		return MergeRightFirst, nil
	}
	return 0, moerr.NewInvalidInput(ctx, "could not parse algorithm")
}

func (s *Settings) verifyInputs(ctx context.Context) error {
	if len(s.leftKeys) == 0 {
		return moerr.NewInvalidInput(ctx, "no left keys provided")
	}
	if len(s.rightKeys) == 0 {
		return moerr.NewInvalidInput(ctx, "no right keys provided")
	}
	if len(s.leftKeys) != len(s.rightKeys) {
		return moerr.NewInvalidInput(ctx, "mismatched numbers of keys provided")
	}
	for i := range s.leftKeys {
		lk, rk := s.leftKeys[i], s.rightKeys[i]
		if lk >= s.numLeftAttrs+s.numLeftDims {
			return moerr.NewInvalidInput(ctx, "left key out of bounds")
		}
		if rk >= s.numRightAttrs+s.numRightDims {
			return moerr.NewInvalidInput(ctx, "right key out of bounds")
		}
		if s.fieldType(LEFT, lk) != s.fieldType(RIGHT, rk) {
			return moerr.NewInvalidInput(ctx, "key types do not match")
		}
	}
	return nil
}

// fieldType resolves an input field (attributes first, then dimensions)
// to its cell type; dimensions join as int64.
func (s *Settings) fieldType(side Handedness, field int) types.T {
	desc, nAttrs := s.rightDesc, s.numRightAttrs
	if side == LEFT {
		desc, nAttrs = s.leftDesc, s.numLeftAttrs
	}
	if field < nAttrs {
		return desc.Attrs[field].Type
	}
	return types.T_int64
}

func (s *Settings) fieldNullable(side Handedness, field int) bool {
	desc, nAttrs := s.rightDesc, s.numRightAttrs
	if side == LEFT {
		desc, nAttrs = s.leftDesc, s.numLeftAttrs
	}
	if field < nAttrs {
		return desc.Attrs[field].Nullable
	}
	return false
}

func (s *Settings) fieldName(side Handedness, field int) string {
	desc, nAttrs := s.rightDesc, s.numRightAttrs
	if side == LEFT {
		desc, nAttrs = s.leftDesc, s.numLeftAttrs
	}
	if field < nAttrs {
		return desc.Attrs[field].Name
	}
	return desc.Dims[field-nAttrs].Name
}

// mapAttributes builds the side-to-tuple permutations: key fields take the
// low numKeys tuple slots in join order, the rest follow in field order.
func (s *Settings) mapAttributes(ctx context.Context) error {
	s.numKeys = len(s.leftKeys)
	nLeft := s.numLeftAttrs + s.numLeftDims
	nRight := s.numRightAttrs + s.numRightDims
	s.leftMapToTuple = make([]int, nLeft)
	s.rightMapToTuple = make([]int, nRight)
	for i := range s.leftMapToTuple {
		s.leftMapToTuple[i] = -1
	}
	for i := range s.rightMapToTuple {
		s.rightMapToTuple[i] = -1
	}
	for i := 0; i < s.numKeys; i++ {
		lk, rk := s.leftKeys[i], s.rightKeys[i]
		if s.leftMapToTuple[lk] != -1 || s.rightMapToTuple[rk] != -1 {
			return moerr.NewInvalidInput(ctx, "duplicate key column")
		}
		s.leftMapToTuple[lk] = i
		s.rightMapToTuple[rk] = i
		cmp, err := types.ComparatorFor(s.fieldType(LEFT, lk))
		if err != nil {
			return err
		}
		s.keyComparators = append(s.keyComparators, cmp)
		s.keyNullable = append(s.keyNullable, s.fieldNullable(LEFT, lk) || s.fieldNullable(RIGHT, rk))
	}
	j := s.numKeys
	for i := 0; i < nLeft; i++ {
		if s.leftMapToTuple[i] == -1 {
			s.leftMapToTuple[i] = j
			j++
		}
	}
	s.leftTupleSize = j
	j = s.numKeys
	for i := 0; i < nRight; i++ {
		if s.rightMapToTuple[i] == -1 {
			s.rightMapToTuple[i] = j
			j++
		}
	}
	s.rightTupleSize = j
	return nil
}

func (s *Settings) logSettings() {
	pairs := make([]string, s.numKeys)
	for i := range pairs {
		pairs[i] = strconv.Itoa(s.leftKeys[i]) + "->" + strconv.Itoa(s.rightKeys[i])
	}
	logutil.Debug("equi_join settings",
		zap.Strings("keys", pairs),
		zap.Uint64("buckets", s.numHashBuckets),
		zap.Int64("chunk", s.chunkSize),
		zap.Int64("threshold", s.hashJoinThreshold))
}

func (s *Settings) NumKeys() int                       { return s.numKeys }
func (s *Settings) LeftTupleSize() int                 { return s.leftTupleSize }
func (s *Settings) RightTupleSize() int                { return s.rightTupleSize }
func (s *Settings) NumOutputAttrs() int                { return s.leftTupleSize + s.rightTupleSize - s.numKeys }
func (s *Settings) NumHashBuckets() uint64             { return s.numHashBuckets }
func (s *Settings) ChunkSize() int64                   { return s.chunkSize }
func (s *Settings) HashJoinThreshold() int64           { return s.hashJoinThreshold }
func (s *Settings) BloomFilterBits() int64             { return s.bloomFilterBits }
func (s *Settings) KeyComparators() []types.Comparator { return s.keyComparators }
func (s *Settings) AlgorithmSet() bool                 { return s.algorithmSet }
func (s *Settings) Algorithm() Algorithm               { return s.algorithm }
func (s *Settings) Stats() *Stats                      { return &s.stats }

func (s *Settings) TupleSize(side Handedness) int {
	if side == LEFT {
		return s.leftTupleSize
	}
	return s.rightTupleSize
}

func (s *Settings) Desc(side Handedness) *array.Desc {
	if side == LEFT {
		return s.leftDesc
	}
	return s.rightDesc
}

func (s *Settings) mapToTuple(side Handedness) []int {
	if side == LEFT {
		return s.leftMapToTuple
	}
	return s.rightMapToTuple
}

func (s *Settings) isKey(side Handedness, field int) bool {
	m := s.mapToTuple(side)
	return m[field] < s.numKeys
}

// mapRightTupleToOutput places a right tuple position into the output layout:
// keys collapse onto the left's slots, payload follows the left tuple.
func (s *Settings) mapRightTupleToOutput(pos int) int {
	if pos < s.numKeys {
		return pos
	}
	return pos + s.leftTupleSize - s.numKeys
}

// tupleFieldType resolves the type of tuple position pos on one side.
func (s *Settings) tupleFieldType(side Handedness, pos int) types.T {
	m := s.mapToTuple(side)
	for field, tp := range m {
		if tp == pos {
			return s.fieldType(side, field)
		}
	}
	return types.T_any
}

// OutputDesc is the §6 output schema: the full left tuple, then right
// non-keys, then the empty tag; dimensioned (instance_id, value_no).
func (s *Settings) OutputDesc() *array.Desc {
	attrs := make([]array.AttrDesc, s.NumOutputAttrs(), s.NumOutputAttrs()+1)
	nLeft := s.numLeftAttrs + s.numLeftDims
	for field := 0; field < nLeft; field++ {
		pos := s.leftMapToTuple[field]
		nullable := s.fieldNullable(LEFT, field)
		if pos < s.numKeys {
			nullable = s.keyNullable[pos]
		}
		attrs[pos] = array.AttrDesc{
			Name:     s.fieldName(LEFT, field),
			Type:     s.fieldType(LEFT, field),
			Nullable: nullable,
		}
	}
	nRight := s.numRightAttrs + s.numRightDims
	for field := 0; field < nRight; field++ {
		if s.isKey(RIGHT, field) {
			continue
		}
		pos := s.mapRightTupleToOutput(s.rightMapToTuple[field])
		attrs[pos] = array.AttrDesc{
			Name:     s.fieldName(RIGHT, field),
			Type:     s.fieldType(RIGHT, field),
			Nullable: s.fieldNullable(RIGHT, field),
		}
	}
	attrs = append(attrs, array.AttrDesc{Name: "$empty_tag", Type: types.T_bool})
	return &array.Desc{
		Name:  "equi_join",
		Attrs: attrs,
		Dims: []array.DimDesc{
			{Name: "instance_id", Start: 0, ChunkInterval: 1},
			{Name: "value_no", Start: 0, ChunkInterval: s.chunkSize},
		},
	}
}

// PreTupledDesc describes one side's pre-tupled form: the tuple fields in
// tuple order plus the trailing hash column.
func (s *Settings) PreTupledDesc(side Handedness) *array.Desc {
	n := s.TupleSize(side)
	attrs := make([]array.AttrDesc, n, n+1)
	m := s.mapToTuple(side)
	for field, pos := range m {
		attrs[pos] = array.AttrDesc{
			Name:     s.fieldName(side, field),
			Type:     s.fieldType(side, field),
			Nullable: pos >= s.numKeys && s.fieldNullable(side, field),
		}
	}
	attrs = append(attrs, array.AttrDesc{Name: "$hash", Type: types.T_uint32})
	return &array.Desc{
		Name:  "equi_join_" + side.String() + "_tupled",
		Attrs: attrs,
		Dims: []array.DimDesc{
			{Name: "instance_id", Start: 0, ChunkInterval: 1},
			{Name: "value_no", Start: 0, ChunkInterval: s.chunkSize},
		},
	}
}
