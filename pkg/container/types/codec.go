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
	"encoding/binary"
	"unsafe"
)

// Small fixed-width codec used for collective message payloads and for
// casting arena bytes into typed slices.

func AppendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func DecodeUint64(buf []byte) uint64 {
	return binary.LittleEndian.Uint64(buf)
}

func AppendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func DecodeUint32(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

func AppendBool(buf []byte, v bool) []byte {
	if v {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func DecodeBool(buf []byte) bool {
	return buf[0] != 0
}

// BytesToInt32Slice reinterprets an arena allocation as []int32 without copy.
func BytesToInt32Slice(b []byte) []int32 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*int32)(unsafe.Pointer(&b[0])), len(b)/4)
}

// Uint64SliceToBytes reinterprets a word slice as raw bytes without copy.
func Uint64SliceToBytes(s []uint64) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&s[0])), len(s)*8)
}

// BytesToUint64Slice reinterprets raw bytes as a word slice without copy.
func BytesToUint64Slice(b []byte) []uint64 {
	if len(b) == 0 {
		return nil
	}
	return unsafe.Slice((*uint64)(unsafe.Pointer(&b[0])), len(b)/8)
}

// ZigZag maps a signed coordinate into the unsigned domain of a bitmap.
func ZigZag(v int64) uint64 {
	return uint64((v << 1) ^ (v >> 63))
}

func UnZigZag(v uint64) int64 {
	return int64(v>>1) ^ -int64(v&1)
}
