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
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a minimal in-package Connector for manager tests.
type fakeConn struct {
	name    string
	mu      sync.Mutex
	tools   []ToolDefinition
	prompts []PromptDefinition
	listErr error
	callErr error
	closed  atomic.Bool
}

func (f *fakeConn) ServerName() string { return f.name }

func (f *fakeConn) ListTools(ctx context.Context) ([]ToolDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]ToolDefinition(nil), f.tools...), nil
}

func (f *fakeConn) ListPrompts(ctx context.Context) ([]PromptDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]PromptDefinition(nil), f.prompts...), nil
}

func (f *fakeConn) CallTool(ctx context.Context, tool string, args map[string]interface{}) (*ToolCallResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.callErr != nil {
		return nil, f.callErr
	}
	return &ToolCallResponse{Content: []ContentItem{{Type: "text", Text: "ok:" + tool}}}, nil
}

func (f *fakeConn) Ping(ctx context.Context) error { return nil }

func (f *fakeConn) Close() error {
	f.closed.Store(true)
	return nil
}

// fakeDialer maps server names to outcomes and counts attempts.
type fakeDialer struct {
	mu       sync.Mutex
	conns    map[string]*fakeConn
	errs     map[string]error
	attempts map[string]int
	// block, when non-nil, is closed by the test to release dials in flight.
	block chan struct{}
	// dialing, when non-nil, receives the server name when a dial starts.
	dialing chan string
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{
		conns:    make(map[string]*fakeConn),
		errs:     make(map[string]error),
		attempts: make(map[string]int),
	}
}

func (d *fakeDialer) succeed(name string) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	conn := &fakeConn{name: name}
	d.conns[name] = conn
	delete(d.errs, name)
	return conn
}

func (d *fakeDialer) fail(name string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.errs[name] = err
	delete(d.conns, name)
}

func (d *fakeDialer) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[name]
}

func (d *fakeDialer) dial(ctx context.Context, cfg *ServerConfig, cred *Credential) (Connector, error) {
	d.mu.Lock()
	d.attempts[cfg.Name]++
	err := d.errs[cfg.Name]
	conn := d.conns[cfg.Name]
	dialing := d.dialing
	block := d.block
	d.mu.Unlock()

	if dialing != nil {
		dialing <- cfg.Name
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, fmt.Errorf("no fake outcome for %q", cfg.Name)
	}
	return conn, nil
}

func testRegistry(names ...string) *Registry {
	reg := NewRegistry()
	for _, name := range names {
		reg.Servers[name] = &ServerConfig{
			Name:      name,
			Transport: TransportStdio,
			Command:   "mcp-" + name,
			Timeout:   5 * time.Second,
			AuthType:  AuthNone,
		}
	}
	return reg
}

func newTestManager(t *testing.T, dialer *fakeDialer, names ...string) *Manager {
	t.Helper()
	m := NewManager(Options{
		Registry: testRegistry(names...),
		Dial:     dialer.dial,
		Backoff:  BackoffPolicy{Base: time.Hour, Multiplier: 2, Max: 2 * time.Hour},
	})
	t.Cleanup(func() { m.Close() })
	return m
}

func TestInitializeClients(t *testing.T) {
	dialer := newFakeDialer()
	dialer.succeed("search")
	dialer.succeed("weather")
	dialer.fail("broken", errors.New("connection refused"))

	m := newTestManager(t, dialer, "search", "weather", "broken")

	summary := m.InitializeClients(context.Background())
	assert.Len(t, summary.Attempted, 3)
	assert.ElementsMatch(t, []string{"search", "weather"}, summary.Connected)
	assert.Equal(t, []string{"broken"}, summary.Failed)

	assert.True(t, m.IsConnected("search"))
	assert.True(t, m.IsConnected("weather"))
	assert.False(t, m.IsConnected("broken"))

	rec, ok := m.failures.Get("broken")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts)
	assert.Contains(t, rec.LastError, "connection refused")
}

func TestInitializeClientsSkipsConnected(t *testing.T) {
	dialer := newFakeDialer()
	dialer.succeed("search")

	m := newTestManager(t, dialer, "search")
	m.InitializeClients(context.Background())
	require.Equal(t, 1, dialer.count("search"))

	// A second pass must not re-dial a live server.
	summary := m.InitializeClients(context.Background())
	assert.Empty(t, summary.Attempted)
	assert.Equal(t, 1, dialer.count("search"))
}

// A server name never appears both connected and failed.
func TestConnectionFailureExclusivity(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail("search", errors.New("refused"))

	m := newTestManager(t, dialer, "search")
	m.InitializeClients(context.Background())

	_, failed := m.failures.Get("search")
	assert.True(t, failed)
	assert.False(t, m.IsConnected("search"))

	// Allow future retries immediately for the test.
	m.backoff = BackoffPolicy{Base: time.Nanosecond, Multiplier: 1, Max: time.Nanosecond}
	dialer.succeed("search")
	m.ReconnectFailed(context.Background())

	assert.True(t, m.IsConnected("search"))
	_, failed = m.failures.Get("search")
	assert.False(t, failed, "reconnection must clear the failure record")
}

func TestReconnectRespectsBackoff(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail("search", errors.New("refused"))

	// One-hour base delay: a reconnect pass right after the failure must skip.
	m := newTestManager(t, dialer, "search")
	m.InitializeClients(context.Background())
	require.Equal(t, 1, dialer.count("search"))

	summary := m.ReconnectFailed(context.Background())
	assert.Equal(t, []string{"search"}, summary.SkippedBackoff)
	assert.Empty(t, summary.Attempted)
	assert.Equal(t, 1, dialer.count("search"), "skipped server must not be dialed")

	rec, ok := m.failures.Get("search")
	require.True(t, ok)
	assert.Equal(t, 1, rec.Attempts, "skipping must not touch the record")
}

func TestReconnectAfterWindowElapsed(t *testing.T) {
	dialer := newFakeDialer()
	dialer.fail("search", errors.New("refused"))

	m := newTestManager(t, dialer, "search")
	m.backoff = BackoffPolicy{Base: time.Nanosecond, Multiplier: 1, Max: time.Nanosecond}
	m.InitializeClients(context.Background())

	// Still failing: attempts accumulate.
	summary := m.ReconnectFailed(context.Background())
	assert.Equal(t, []string{"search"}, summary.Attempted)
	assert.Equal(t, []string{"search"}, summary.StillFailed)

	rec, _ := m.failures.Get("search")
	assert.Equal(t, 2, rec.Attempts)

	// Server comes back.
	dialer.succeed("search")
	summary = m.ReconnectFailed(context.Background())
	assert.Equal(t, []string{"search"}, summary.Reconnected)
	assert.True(t, m.IsConnected("search"))
}

func TestCallTool(t *testing.T) {
	dialer := newFakeDialer()
	dialer.succeed("search")

	m := newTestManager(t, dialer, "search")
	m.InitializeClients(context.Background())

	resp, err := m.CallTool(context.Background(), ToolCallRequest{
		Server:    "search",
		Tool:      "web_search",
		Arguments: map[string]interface{}{"query": "go"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	assert.Equal(t, "ok:web_search", resp.Content[0].Text)
}

func TestCallToolErrorTaxonomy(t *testing.T) {
	dialer := newFakeDialer()
	conn := dialer.succeed("up")
	dialer.fail("down", errors.New("refused"))

	m := newTestManager(t, dialer, "up", "down")
	m.InitializeClients(context.Background())
	dialsSoFar := dialer.count("down")

	// Unknown server: NOT_FOUND.
	_, err := m.CallTool(context.Background(), ToolCallRequest{Server: "ghost", Tool: "x"})
	assert.True(t, IsNotFound(err), "got %v", err)

	// Known but disconnected: NOT_CONNECTED, and no dial is attempted.
	_, err = m.CallTool(context.Background(), ToolCallRequest{Server: "down", Tool: "x"})
	assert.True(t, IsNotConnected(err), "got %v", err)
	assert.False(t, IsCallFailed(err))
	assert.Equal(t, dialsSoFar, dialer.count("down"), "not-connected call must not dial")

	// Mid-call failure over a live session: CALL_FAILED wrapping the cause.
	cause := errors.New("stream reset")
	conn.mu.Lock()
	conn.callErr = cause
	conn.mu.Unlock()

	_, err = m.CallTool(context.Background(), ToolCallRequest{Server: "up", Tool: "x"})
	assert.True(t, IsCallFailed(err), "got %v", err)
	assert.False(t, IsNotConnected(err))
	assert.ErrorIs(t, err, cause)
}

func TestDisconnectServer(t *testing.T) {
	dialer := newFakeDialer()
	conn := dialer.succeed("search")

	m := newTestManager(t, dialer, "search")
	m.InitializeClients(context.Background())
	m.catalog.SetTools("search", []ToolDefinition{{Server: "search", Name: "web_search"}})

	require.NoError(t, m.DisconnectServer("search"))
	assert.True(t, conn.closed.Load())
	assert.False(t, m.IsConnected("search"))
	assert.Empty(t, m.catalog.Tools("search"))

	err := m.DisconnectServer("search")
	assert.True(t, IsNotConnected(err))
}

func TestStatus(t *testing.T) {
	dialer := newFakeDialer()
	dialer.succeed("up")
	dialer.fail("down", errors.New("refused"))

	m := newTestManager(t, dialer, "up", "down")
	m.InitializeClients(context.Background())
	m.catalog.SetTools("up", []ToolDefinition{{Server: "up", Name: "a"}, {Server: "up", Name: "b"}})

	st := m.Status()
	assert.Equal(t, 2, st.Configured)
	assert.Equal(t, 1, st.Connected)
	assert.Equal(t, 1, st.Failed)
	require.Len(t, st.Servers, 2)

	byName := make(map[string]ServerStatus)
	for _, ss := range st.Servers {
		byName[ss.Name] = ss
	}
	assert.True(t, byName["up"].Connected)
	assert.Equal(t, 2, byName["up"].ToolCount)
	assert.Nil(t, byName["up"].Failure)
	require.NotNil(t, byName["down"].Failure)
	assert.Equal(t, 1, byName["down"].Failure.Attempts)
}

func TestCloseClosesAllConnections(t *testing.T) {
	dialer := newFakeDialer()
	a := dialer.succeed("a")
	b := dialer.succeed("b")

	m := newTestManager(t, dialer, "a", "b")
	m.InitializeClients(context.Background())

	require.NoError(t, m.Close())
	assert.True(t, a.closed.Load())
	assert.True(t, b.closed.Load())
	assert.Empty(t, m.ConnectedServers())
}
