// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package mcp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerErrorCodes(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")

	tests := []struct {
		name  string
		err   error
		code  ErrorCode
		check func(error) bool
	}{
		{"not found", ErrServerNotFound("x"), ErrorCodeNotFound, IsNotFound},
		{"not connected", ErrServerNotConnected("x"), ErrorCodeNotConnected, IsNotConnected},
		{"call failed", ErrCallFailed("x", "tool", cause), ErrorCodeCallFailed, IsCallFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := GetServerError(tt.err)
			require.NotNil(t, se)
			assert.Equal(t, tt.code, se.Code)
			assert.True(t, tt.check(tt.err))
		})
	}
}

func TestServerErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := ErrConnectFailed("search", cause)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "search")
	assert.Contains(t, err.Error(), "boom")
}

func TestErrorChecksThroughWrapping(t *testing.T) {
	// Predicates must see through fmt.Errorf wrapping.
	wrapped := fmt.Errorf("handling request: %w", ErrServerNotConnected("x"))
	assert.True(t, IsNotConnected(wrapped))
	assert.False(t, IsCallFailed(wrapped))
	assert.NotNil(t, GetServerError(wrapped))
}

func TestErrorChecksRejectForeignErrors(t *testing.T) {
	err := errors.New("plain")
	assert.False(t, IsNotConnected(err))
	assert.False(t, IsNotFound(err))
	assert.False(t, IsCallFailed(err))
	assert.Nil(t, GetServerError(err))
	assert.False(t, IsNotConnected(nil))
}
