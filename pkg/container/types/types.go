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

package types

import (
	"bytes"
	"fmt"
	"math"

	"github.com/matrixorigin/arrayjoin/pkg/common/moerr"
)

// T is the cell type tag of an array attribute.
type T uint8

const (
	T_any T = iota
	T_bool
	T_int32
	T_int64
	T_uint32
	T_uint64
	T_float32
	T_float64
	T_varchar
)

func (t T) String() string {
	switch t {
	case T_any:
		return "ANY"
	case T_bool:
		return "BOOL"
	case T_int32:
		return "INT32"
	case T_int64:
		return "INT64"
	case T_uint32:
		return "UINT32"
	case T_uint64:
		return "UINT64"
	case T_float32:
		return "FLOAT32"
	case T_float64:
		return "FLOAT64"
	case T_varchar:
		return "VARCHAR"
	}
	return fmt.Sprintf("unexpected type tag %d", t)
}

// FixedSizeEstimate is the per-cell byte estimate used by size accounting.
// Variable length cells get a nominal declared size.
func (t T) FixedSizeEstimate() int64 {
	switch t {
	case T_bool:
		return 1
	case T_int32, T_uint32, T_float32:
		return 4
	case T_varchar:
		return 32
	default:
		return 8
	}
}

// Value is one polymorphic cell: null, or one of the supported primitives.
// The zero Value has type T_any and is not null; NewNull builds a null.
type Value struct {
	typ  T
	null bool
	i64  int64
	f64  float64
	str  []byte
}

func NewNull(t T) Value {
	return Value{typ: t, null: true}
}

func NewBool(v bool) Value {
	val := Value{typ: T_bool}
	if v {
		val.i64 = 1
	}
	return val
}

func NewInt32(v int32) Value {
	return Value{typ: T_int32, i64: int64(v)}
}

func NewInt64(v int64) Value {
	return Value{typ: T_int64, i64: v}
}

func NewUint32(v uint32) Value {
	return Value{typ: T_uint32, i64: int64(v)}
}

func NewUint64(v uint64) Value {
	return Value{typ: T_uint64, i64: int64(v)}
}

func NewFloat32(v float32) Value {
	return Value{typ: T_float32, f64: float64(v)}
}

func NewFloat64(v float64) Value {
	return Value{typ: T_float64, f64: v}
}

func NewVarchar(v []byte) Value {
	return Value{typ: T_varchar, str: v}
}

func NewString(v string) Value {
	return Value{typ: T_varchar, str: []byte(v)}
}

func (v Value) Typ() T       { return v.typ }
func (v Value) IsNull() bool { return v.null }

func (v Value) Bool() bool       { return v.i64 != 0 }
func (v Value) Int32() int32     { return int32(v.i64) }
func (v Value) Int64() int64     { return v.i64 }
func (v Value) Uint32() uint32   { return uint32(v.i64) }
func (v Value) Uint64() uint64   { return uint64(v.i64) }
func (v Value) Float32() float32 { return float32(v.f64) }
func (v Value) Float64() float64 { return v.f64 }
func (v Value) Bytes() []byte    { return v.str }

func (v Value) String() string {
	if v.null {
		return "null"
	}
	switch v.typ {
	case T_bool:
		return fmt.Sprintf("%v", v.Bool())
	case T_int32, T_int64:
		return fmt.Sprintf("%d", v.i64)
	case T_uint32, T_uint64:
		return fmt.Sprintf("%d", uint64(v.i64))
	case T_float32, T_float64:
		return fmt.Sprintf("%v", v.f64)
	case T_varchar:
		return string(v.str)
	}
	return "?"
}

// SizeEstimate is the accounted byte footprint of the cell.
func (v Value) SizeEstimate() int64 {
	if v.typ == T_varchar {
		return int64(len(v.str)) + 8
	}
	return v.typ.FixedSizeEstimate()
}

// Comparator is a total order over two cells of one type.
type Comparator func(a, b Value) int

// ComparatorFor builds the per-type total order for a key column. Nulls
// compare less than any non-null and equal to nulls. Floats use an
// IEEE-style total order with NaN ordered after every number.
func ComparatorFor(t T) (Comparator, error) {
	switch t {
	case T_bool, T_int32, T_int64:
		return compareSigned, nil
	case T_uint32, T_uint64:
		return compareUnsigned, nil
	case T_float32, T_float64:
		return compareFloat, nil
	case T_varchar:
		return compareBytes, nil
	}
	return nil, moerr.NewNotSupportedNoCtx("no comparator for key type %s", t)
}

func compareNulls(a, b Value) (int, bool) {
	switch {
	case a.null && b.null:
		return 0, true
	case a.null:
		return -1, true
	case b.null:
		return 1, true
	}
	return 0, false
}

func compareSigned(a, b Value) int {
	if r, done := compareNulls(a, b); done {
		return r
	}
	switch {
	case a.i64 < b.i64:
		return -1
	case a.i64 > b.i64:
		return 1
	}
	return 0
}

func compareUnsigned(a, b Value) int {
	if r, done := compareNulls(a, b); done {
		return r
	}
	x, y := uint64(a.i64), uint64(b.i64)
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareFloat(a, b Value) int {
	if r, done := compareNulls(a, b); done {
		return r
	}
	x, y := a.f64, b.f64
	xn, yn := math.IsNaN(x), math.IsNaN(y)
	switch {
	case xn && yn:
		return 0
	case xn:
		return 1
	case yn:
		return -1
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}

func compareBytes(a, b Value) int {
	if r, done := compareNulls(a, b); done {
		return r
	}
	return bytes.Compare(a.str, b.str)
}

// AppendCanonical appends a stable byte representation of the cell to buf.
// The encoding is the hashing input for the join hash table and the Bloom
// filter, so it must not change between releases.
func (v Value) AppendCanonical(buf []byte) []byte {
	buf = append(buf, byte(v.typ))
	if v.null {
		return append(buf, 0)
	}
	buf = append(buf, 1)
	switch v.typ {
	case T_bool, T_int32, T_int64, T_uint32, T_uint64:
		buf = AppendUint64(buf, uint64(v.i64))
	case T_float32, T_float64:
		f := v.f64
		if f == 0 {
			f = 0 // normalize -0.0
		}
		buf = AppendUint64(buf, math.Float64bits(f))
	case T_varchar:
		buf = AppendUint64(buf, uint64(len(v.str)))
		buf = append(buf, v.str...)
	}
	return buf
}
