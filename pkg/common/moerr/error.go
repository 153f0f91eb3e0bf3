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

package moerr

import (
	"context"
	"fmt"
)

const (
	// 0 - 99 is OK.
	Ok uint16 = 0

	// Group 1: internal errors
	ErrStart            uint16 = 20100
	ErrInternal         uint16 = 20101
	ErrNYI              uint16 = 20102
	ErrOOM              uint16 = 20103
	ErrQueryInterrupted uint16 = 20104
	ErrNotSupported     uint16 = 20105

	// Group 3: invalid input
	ErrBadConfig    uint16 = 20300
	ErrInvalidInput uint16 = 20301
	ErrSyntaxError  uint16 = 20302
	ErrInvalidArg   uint16 = 20303
	ErrDuplicate    uint16 = 20305

	// Group 4: unexpected state and io errors
	ErrInvalidState  uint16 = 20400
	ErrUnexpectedEOF uint16 = 20407
	ErrTransport     uint16 = 20430
	ErrStreamClosed  uint16 = 20431
)

type Error struct {
	code uint16
	msg  string
}

func (e *Error) Error() string {
	return e.msg
}

func (e *Error) ErrorCode() uint16 {
	return e.code
}

func (e *Error) Ok() bool {
	return e.code < ErrStart
}

func newError(code uint16, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// GetMoErrCode returns the code carried by err, or ErrInternal for foreign
// error values.
func GetMoErrCode(err error) uint16 {
	if err == nil {
		return Ok
	}
	if me, ok := err.(*Error); ok {
		return me.code
	}
	return ErrInternal
}

func IsMoErrCode(err error, code uint16) bool {
	if err == nil {
		return code == Ok
	}
	me, ok := err.(*Error)
	if !ok {
		return false
	}
	return me.code == code
}

// The constructors take a context for parity with the service codebase;
// the join core carries no per-tenant error enrichment so it is unused here.

func NewInternal(_ context.Context, format string, args ...any) *Error {
	return newError(ErrInternal, "internal error: "+fmt.Sprintf(format, args...))
}

func NewInternalNoCtx(format string, args ...any) *Error {
	return newError(ErrInternal, "internal error: "+fmt.Sprintf(format, args...))
}

func NewNYI(_ context.Context, format string, args ...any) *Error {
	return newError(ErrNYI, fmt.Sprintf(format, args...)+" not yet implemented")
}

func NewOOM(_ context.Context) *Error {
	return newError(ErrOOM, "out of memory")
}

func NewOOMNoCtx() *Error {
	return newError(ErrOOM, "out of memory")
}

func NewQueryInterrupted(_ context.Context) *Error {
	return newError(ErrQueryInterrupted, "query interrupted")
}

func NewNotSupported(_ context.Context, format string, args ...any) *Error {
	return newError(ErrNotSupported, fmt.Sprintf(format, args...)+" is not supported")
}

func NewNotSupportedNoCtx(format string, args ...any) *Error {
	return newError(ErrNotSupported, fmt.Sprintf(format, args...)+" is not supported")
}

func NewBadConfig(_ context.Context, format string, args ...any) *Error {
	return newError(ErrBadConfig, "invalid configuration: "+fmt.Sprintf(format, args...))
}

func NewInvalidInput(_ context.Context, format string, args ...any) *Error {
	return newError(ErrInvalidInput, "invalid input: "+fmt.Sprintf(format, args...))
}

func NewInvalidInputNoCtx(format string, args ...any) *Error {
	return newError(ErrInvalidInput, "invalid input: "+fmt.Sprintf(format, args...))
}

func NewSyntaxError(_ context.Context, format string, args ...any) *Error {
	return newError(ErrSyntaxError, "SQL syntax error: "+fmt.Sprintf(format, args...))
}

func NewInvalidArg(_ context.Context, name string, arg any) *Error {
	return newError(ErrInvalidArg, fmt.Sprintf("invalid argument %s, bad value %v", name, arg))
}

func NewDuplicate(_ context.Context, format string, args ...any) *Error {
	return newError(ErrDuplicate, "duplicate: "+fmt.Sprintf(format, args...))
}

func NewInvalidState(_ context.Context, format string, args ...any) *Error {
	return newError(ErrInvalidState, "invalid state "+fmt.Sprintf(format, args...))
}

func NewUnexpectedEOF(_ context.Context, name string) *Error {
	return newError(ErrUnexpectedEOF, fmt.Sprintf("unexpected end of %s", name))
}

func NewTransport(_ context.Context, format string, args ...any) *Error {
	return newError(ErrTransport, "transport failure: "+fmt.Sprintf(format, args...))
}

func NewStreamClosed(_ context.Context) *Error {
	return newError(ErrStreamClosed, "stream closed")
}
