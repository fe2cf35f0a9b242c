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
	"strings"
)

// ErrorCode represents a category of server-management error.
type ErrorCode string

const (
	// ErrorCodeNotFound indicates a server is not in the registry.
	ErrorCodeNotFound ErrorCode = "NOT_FOUND"
	// ErrorCodeNotConnected indicates a server has no live connection.
	ErrorCodeNotConnected ErrorCode = "NOT_CONNECTED"
	// ErrorCodeConnectFailed indicates a connection attempt failed.
	ErrorCodeConnectFailed ErrorCode = "CONNECT_FAILED"
	// ErrorCodeCallFailed indicates a tool invocation failed mid-call.
	ErrorCodeCallFailed ErrorCode = "CALL_FAILED"
	// ErrorCodeDiscoveryFailed indicates a capability query failed.
	ErrorCodeDiscoveryFailed ErrorCode = "DISCOVERY_FAILED"
	// ErrorCodeValidation indicates invalid configuration or input.
	ErrorCodeValidation ErrorCode = "VALIDATION"
	// ErrorCodeConfig indicates a configuration file error.
	ErrorCodeConfig ErrorCode = "CONFIG"
	// ErrorCodeTimeout indicates an operation timed out.
	ErrorCodeTimeout ErrorCode = "TIMEOUT"
	// ErrorCodeUnauthorized indicates the user may not access the server.
	ErrorCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	// ErrorCodeInternal indicates an internal error.
	ErrorCodeInternal ErrorCode = "INTERNAL"
)

// ServerError is the error type returned by server-management operations.
// It carries a machine-readable code so callers can distinguish, for
// example, a call against a disconnected server from a call that failed
// over an established connection.
type ServerError struct {
	// Code is the error category.
	Code ErrorCode
	// Server is the server the error relates to, if any.
	Server string
	// Message is the primary error message.
	Message string
	// Detail provides additional context.
	Detail string
	// Cause is the underlying error, if any.
	Cause error
}

// Error implements the error interface.
func (e *ServerError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Message)
	if e.Detail != "" {
		sb.WriteString(": ")
		sb.WriteString(e.Detail)
	}
	return sb.String()
}

// Unwrap returns the underlying error.
func (e *ServerError) Unwrap() error {
	return e.Cause
}

// WithDetail adds detail to the error.
func (e *ServerError) WithDetail(detail string) *ServerError {
	e.Detail = detail
	return e
}

// WithCause adds an underlying cause to the error.
func (e *ServerError) WithCause(cause error) *ServerError {
	e.Cause = cause
	return e
}

// NewServerError creates a new ServerError.
func NewServerError(code ErrorCode, server, message string) *ServerError {
	return &ServerError{
		Code:    code,
		Server:  server,
		Message: message,
	}
}

// ErrServerNotFound creates an error for a server absent from the registry.
func ErrServerNotFound(name string) *ServerError {
	return NewServerError(ErrorCodeNotFound, name,
		fmt.Sprintf("tool server %q is not configured", name))
}

// ErrServerNotConnected creates an error for a server with no live
// connection. The caller asked for a server the manager knows about but
// currently has no session with; no network traffic was attempted.
func ErrServerNotConnected(name string) *ServerError {
	return NewServerError(ErrorCodeNotConnected, name,
		fmt.Sprintf("tool server %q is not connected", name))
}

// ErrConnectFailed creates an error for a failed connection attempt.
func ErrConnectFailed(name string, cause error) *ServerError {
	return NewServerError(ErrorCodeConnectFailed, name,
		fmt.Sprintf("failed to connect to tool server %q", name)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrCallFailed creates an error for a tool invocation that failed after a
// connection had been established. Distinct from ErrServerNotConnected: the
// session existed and the failure happened mid-call.
func ErrCallFailed(server, tool string, cause error) *ServerError {
	return NewServerError(ErrorCodeCallFailed, server,
		fmt.Sprintf("tool call %q on server %q failed", tool, server)).
		WithDetail(cause.Error()).
		WithCause(cause)
}

// ErrInvalidServerName creates an error for an invalid server name.
func ErrInvalidServerName(name string) *ServerError {
	return NewServerError(ErrorCodeValidation, name,
		fmt.Sprintf("invalid server name %q", name)).
		WithDetail("names must start with a letter, contain only letters/numbers/hyphens/underscores, and be at most 64 characters")
}

// ErrInvalidConfig creates an error for an invalid server configuration.
func ErrInvalidConfig(server, detail string) *ServerError {
	return NewServerError(ErrorCodeConfig, server, "invalid tool server configuration").
		WithDetail(detail)
}

// ErrUnauthorized creates an error for a user who may not access a server.
func ErrUnauthorized(user, server string) *ServerError {
	return NewServerError(ErrorCodeUnauthorized, server,
		fmt.Sprintf("user %q is not authorized for tool server %q", user, server))
}

// IsNotConnected reports whether err indicates a call against a server with
// no live connection.
func IsNotConnected(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == ErrorCodeNotConnected
}

// IsNotFound reports whether err indicates an unknown server.
func IsNotFound(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == ErrorCodeNotFound
}

// IsCallFailed reports whether err indicates a failure mid-call over an
// established connection.
func IsCallFailed(err error) bool {
	var se *ServerError
	return errors.As(err, &se) && se.Code == ErrorCodeCallFailed
}

// GetServerError extracts a ServerError from an error chain, or nil.
func GetServerError(err error) *ServerError {
	var se *ServerError
	if errors.As(err, &se) {
		return se
	}
	return nil
}
