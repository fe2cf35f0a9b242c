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

// Package testing provides mock implementations of the mcp package's
// interfaces for use in consumers' tests.
package testing

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tombee/parley/internal/mcp"
)

// MockConnector implements mcp.Connector for testing.
type MockConnector struct {
	serverName string

	mu        sync.RWMutex
	tools     []mcp.ToolDefinition
	prompts   []mcp.PromptDefinition
	callFunc  func(ctx context.Context, tool string, args map[string]interface{}) (*mcp.ToolCallResponse, error)
	listErr   error
	pingFunc  func(ctx context.Context) error
	callDelay time.Duration

	closed atomic.Bool
	calls  atomic.Int64
}

// NewMockConnector creates a mock connector for the named server.
func NewMockConnector(serverName string, tools []mcp.ToolDefinition) *MockConnector {
	return &MockConnector{
		serverName: serverName,
		tools:      tools,
	}
}

// ServerName returns the mock server name.
func (c *MockConnector) ServerName() string {
	return c.serverName
}

// SetTools replaces the tool list returned by ListTools.
func (c *MockConnector) SetTools(tools []mcp.ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools = tools
}

// SetPrompts replaces the prompt list returned by ListPrompts.
func (c *MockConnector) SetPrompts(prompts []mcp.PromptDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = prompts
}

// SetListError makes ListTools and ListPrompts fail with err.
func (c *MockConnector) SetListError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listErr = err
}

// SetCallFunc installs a custom tool-call handler.
func (c *MockConnector) SetCallFunc(fn func(ctx context.Context, tool string, args map[string]interface{}) (*mcp.ToolCallResponse, error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callFunc = fn
}

// SetCallDelay makes tool calls block for d before responding.
func (c *MockConnector) SetCallDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callDelay = d
}

// SetPingFunc installs a custom ping handler.
func (c *MockConnector) SetPingFunc(fn func(ctx context.Context) error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingFunc = fn
}

// ListTools returns the configured list of tools.
func (c *MockConnector) ListTools(ctx context.Context) ([]mcp.ToolDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.listErr != nil {
		return nil, c.listErr
	}
	toolsCopy := make([]mcp.ToolDefinition, len(c.tools))
	copy(toolsCopy, c.tools)
	return toolsCopy, nil
}

// ListPrompts returns the configured list of prompts.
func (c *MockConnector) ListPrompts(ctx context.Context) ([]mcp.PromptDefinition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.listErr != nil {
		return nil, c.listErr
	}
	promptsCopy := make([]mcp.PromptDefinition, len(c.prompts))
	copy(promptsCopy, c.prompts)
	return promptsCopy, nil
}

// CallTool executes a tool call using the configured handler.
func (c *MockConnector) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*mcp.ToolCallResponse, error) {
	c.calls.Add(1)

	c.mu.RLock()
	delay := c.callDelay
	callFunc := c.callFunc
	c.mu.RUnlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if callFunc != nil {
		return callFunc(ctx, tool, args)
	}

	// Default behavior: echo back the tool name
	return &mcp.ToolCallResponse{
		Content: []mcp.ContentItem{
			{
				Type: "text",
				Text: fmt.Sprintf("Mock response for %s", tool),
			},
		},
	}, nil
}

// Ping returns success unless a custom ping function is configured.
func (c *MockConnector) Ping(ctx context.Context) error {
	c.mu.RLock()
	pingFunc := c.pingFunc
	c.mu.RUnlock()

	if pingFunc != nil {
		return pingFunc(ctx)
	}
	return nil
}

// Close marks the connector closed. It is idempotent.
func (c *MockConnector) Close() error {
	c.closed.Store(true)
	return nil
}

// Closed reports whether Close has been called.
func (c *MockConnector) Closed() bool {
	return c.closed.Load()
}

// CallCount returns how many tool calls were made.
func (c *MockConnector) CallCount() int64 {
	return c.calls.Load()
}

// DialRecorder builds a mcp.DialFunc for tests. Each configured server
// name maps to either a connector factory or an error. Unconfigured names
// fail.
type DialRecorder struct {
	mu       sync.Mutex
	conns    map[string]func() (mcp.Connector, error)
	attempts map[string]int
}

// NewDialRecorder creates an empty recorder.
func NewDialRecorder() *DialRecorder {
	return &DialRecorder{
		conns:    make(map[string]func() (mcp.Connector, error)),
		attempts: make(map[string]int),
	}
}

// Succeed makes dialing the named server return a fresh mock connector.
func (r *DialRecorder) Succeed(server string, tools ...mcp.ToolDefinition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[server] = func() (mcp.Connector, error) {
		return NewMockConnector(server, tools), nil
	}
}

// SucceedWith makes dialing the named server return the given connector.
func (r *DialRecorder) SucceedWith(server string, conn mcp.Connector) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[server] = func() (mcp.Connector, error) {
		return conn, nil
	}
}

// Fail makes dialing the named server return err.
func (r *DialRecorder) Fail(server string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[server] = func() (mcp.Connector, error) {
		return nil, err
	}
}

// Attempts returns how many times the named server was dialed.
func (r *DialRecorder) Attempts(server string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts[server]
}

// Dial is the mcp.DialFunc to hand to the manager under test.
func (r *DialRecorder) Dial(ctx context.Context, cfg *mcp.ServerConfig, cred *mcp.Credential) (mcp.Connector, error) {
	r.mu.Lock()
	r.attempts[cfg.Name]++
	factory, ok := r.conns[cfg.Name]
	r.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("no mock configured for server %q", cfg.Name)
	}
	return factory()
}
