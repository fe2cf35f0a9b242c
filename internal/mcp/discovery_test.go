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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverTools(t *testing.T) {
	dialer := newFakeDialer()
	a := dialer.succeed("a")
	b := dialer.succeed("b")
	a.tools = []ToolDefinition{{Server: "a", Name: "search"}}
	b.tools = []ToolDefinition{{Server: "b", Name: "forecast"}, {Server: "b", Name: "alerts"}}

	m := newTestManager(t, dialer, "a", "b")
	m.InitializeClients(context.Background())

	tools := m.DiscoverTools(context.Background())
	require.Len(t, tools, 3)
	// Sorted by server then name.
	assert.Equal(t, "search", tools[0].Name)
	assert.Equal(t, "alerts", tools[1].Name)
	assert.Equal(t, "forecast", tools[2].Name)

	assert.Equal(t, 1, m.catalog.ToolCount("a"))
	assert.Equal(t, 2, m.catalog.ToolCount("b"))
}

func TestDiscoverSkipsDisconnected(t *testing.T) {
	dialer := newFakeDialer()
	a := dialer.succeed("a")
	a.tools = []ToolDefinition{{Server: "a", Name: "search"}}
	dialer.fail("down", errors.New("refused"))

	m := newTestManager(t, dialer, "a", "down")
	m.InitializeClients(context.Background())

	// The failed server is skipped silently, not reported as an error.
	tools := m.DiscoverTools(context.Background())
	require.Len(t, tools, 1)
	assert.Equal(t, "a", tools[0].Server)
}

func TestDiscoverErrorKeepsPreviousEntry(t *testing.T) {
	dialer := newFakeDialer()
	a := dialer.succeed("a")
	a.tools = []ToolDefinition{{Server: "a", Name: "search"}}

	m := newTestManager(t, dialer, "a")
	m.InitializeClients(context.Background())
	m.DiscoverTools(context.Background())
	require.Equal(t, 1, m.catalog.ToolCount("a"))

	// A flaky query on a still-connected server keeps the stale entry
	// rather than erasing it.
	a.mu.Lock()
	a.listErr = errors.New("stream reset")
	a.mu.Unlock()

	tools := m.DiscoverTools(context.Background())
	require.Len(t, tools, 1)
	assert.Equal(t, "search", tools[0].Name)
}

func TestDiscoverPrunesRemovedServer(t *testing.T) {
	dialer := newFakeDialer()
	a := dialer.succeed("a")
	b := dialer.succeed("b")
	a.tools = []ToolDefinition{{Server: "a", Name: "search"}}
	b.tools = []ToolDefinition{{Server: "b", Name: "forecast"}}

	m := newTestManager(t, dialer, "a", "b")
	m.InitializeClients(context.Background())
	m.DiscoverTools(context.Background())
	require.Len(t, m.catalog.AllTools(), 2)

	// Drop b: its catalog entry must not survive the next pass.
	require.NoError(t, m.DisconnectServer("b"))
	tools := m.DiscoverTools(context.Background())
	require.Len(t, tools, 1)
	assert.Equal(t, "a", tools[0].Server)
}

func TestDiscoverPrompts(t *testing.T) {
	dialer := newFakeDialer()
	a := dialer.succeed("a")
	a.prompts = []PromptDefinition{{
		Server: "a", Name: "summarize",
		Arguments: []PromptArgument{{Name: "text", Required: true}},
	}}

	m := newTestManager(t, dialer, "a")
	m.InitializeClients(context.Background())

	prompts := m.DiscoverPrompts(context.Background())
	require.Len(t, prompts, 1)
	assert.Equal(t, "summarize", prompts[0].Name)
	require.Len(t, prompts[0].Arguments, 1)
	assert.True(t, prompts[0].Arguments[0].Required)
	assert.Equal(t, 1, m.catalog.PromptCount("a"))
}

func TestCatalogSwapIsAtomicPerServer(t *testing.T) {
	c := NewCatalog()
	c.SetTools("a", []ToolDefinition{{Server: "a", Name: "one"}, {Server: "a", Name: "two"}})

	// Replacement swaps the whole entry, never merges.
	c.SetTools("a", []ToolDefinition{{Server: "a", Name: "three"}})
	tools := c.Tools("a")
	require.Len(t, tools, 1)
	assert.Equal(t, "three", tools[0].Name)
}

func TestCatalogReadsAreCopies(t *testing.T) {
	c := NewCatalog()
	c.SetTools("a", []ToolDefinition{{Server: "a", Name: "one"}})

	got := c.Tools("a")
	got[0].Name = "mutated"

	again := c.Tools("a")
	assert.Equal(t, "one", again[0].Name)
}
