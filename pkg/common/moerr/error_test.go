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
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorCodes(t *testing.T) {
	ctx := context.Background()
	require.True(t, IsMoErrCode(NewInvalidInput(ctx, "bad %s", "keys"), ErrInvalidInput))
	require.True(t, IsMoErrCode(NewOOM(ctx), ErrOOM))
	require.True(t, IsMoErrCode(NewTransport(ctx, "peer %d gone", 3), ErrTransport))
	require.True(t, IsMoErrCode(NewNotSupportedNoCtx("type FOO"), ErrNotSupported))
	require.False(t, IsMoErrCode(NewOOM(ctx), ErrInternal))
}

func TestErrorMessages(t *testing.T) {
	err := NewInvalidInput(context.Background(), "unrecognized token '%s'", "zap=1")
	require.Contains(t, err.Error(), "unrecognized token 'zap=1'")
	require.Contains(t, err.Error(), "invalid input")
}

func TestForeignErrors(t *testing.T) {
	require.Equal(t, ErrInternal, GetMoErrCode(errors.New("boom")))
	require.Equal(t, Ok, GetMoErrCode(nil))
	require.True(t, IsMoErrCode(nil, Ok))
	require.False(t, IsMoErrCode(errors.New("boom"), ErrInternal))
}
