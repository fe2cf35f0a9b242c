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
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistry(t *testing.T) {
	data := []byte(`
servers:
  - name: search
    transport: stdio
    command: mcp-search
    args: ["--index", "main"]
    env: ["SEARCH_API_KEY=abc123"]
    required_groups: ["eng"]
  - name: weather
    transport: http
    endpoint: https://weather.example.com/mcp
    auth_type: bearer
    timeout: 10s
`)

	reg, err := ParseRegistry(data)
	require.NoError(t, err)
	require.Len(t, reg.Servers, 2)

	search := reg.Servers["search"]
	require.NotNil(t, search)
	assert.Equal(t, TransportStdio, search.Transport)
	assert.Equal(t, "mcp-search", search.Command)
	assert.Equal(t, []string{"--index", "main"}, search.Args)
	assert.Equal(t, []string{"eng"}, search.RequiredGroups)
	assert.Equal(t, 30*time.Second, search.Timeout, "default timeout applied")
	assert.Equal(t, AuthNone, search.AuthType, "default auth applied")

	weather := reg.Servers["weather"]
	require.NotNil(t, weather)
	assert.Equal(t, TransportHTTP, weather.Transport)
	assert.Equal(t, AuthBearer, weather.AuthType)
	assert.Equal(t, 10*time.Second, weather.Timeout)
}

func TestParseRegistryErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			"invalid server name",
			"servers:\n  - name: \"9bad\"\n    command: x\n",
		},
		{
			"stdio without command",
			"servers:\n  - name: a\n    transport: stdio\n",
		},
		{
			"http without endpoint",
			"servers:\n  - name: a\n    transport: http\n",
		},
		{
			"non-http endpoint",
			"servers:\n  - name: a\n    transport: http\n    endpoint: ftp://x\n",
		},
		{
			"unknown transport",
			"servers:\n  - name: a\n    transport: carrier-pigeon\n",
		},
		{
			"unknown auth type",
			"servers:\n  - name: a\n    transport: http\n    endpoint: https://x\n    auth_type: psychic\n",
		},
		{
			"duplicate names",
			"servers:\n  - name: a\n    command: x\n  - name: a\n    command: y\n",
		},
		{
			"malformed env entry",
			"servers:\n  - name: a\n    command: x\n    env: [\"NOEQUALS\"]\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseRegistry([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestTransportDefaulting(t *testing.T) {
	reg, err := ParseRegistry([]byte("servers:\n  - name: a\n    command: x\n"))
	require.NoError(t, err)
	assert.Equal(t, TransportStdio, reg.Servers["a"].Transport, "command implies stdio")

	reg, err = ParseRegistry([]byte("servers:\n  - name: b\n    endpoint: https://x\n"))
	require.NoError(t, err)
	assert.Equal(t, TransportHTTP, reg.Servers["b"].Transport, "endpoint implies http")
}

func TestLoadRegistryMissingFile(t *testing.T) {
	reg, err := LoadRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Empty(t, reg.Servers, "missing file yields empty registry")
}

func TestRegistrySaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers.yaml")

	reg := NewRegistry()
	reg.Servers["search"] = &ServerConfig{
		Name:      "search",
		Transport: TransportStdio,
		Command:   "mcp-search",
		Timeout:   30 * time.Second,
		AuthType:  AuthNone,
	}
	require.NoError(t, reg.Save(path))

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	require.Contains(t, loaded.Servers, "search")
	assert.Equal(t, "mcp-search", loaded.Servers["search"].Command)

	// Save must not leave temp files behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestServerConfigClone(t *testing.T) {
	orig := &ServerConfig{
		Name:           "a",
		Args:           []string{"--x"},
		RequiredGroups: []string{"eng"},
	}
	cp := orig.Clone()
	cp.Args[0] = "--y"
	cp.RequiredGroups[0] = "ops"

	assert.Equal(t, "--x", orig.Args[0])
	assert.Equal(t, "eng", orig.RequiredGroups[0])
}

func TestRedactEnv(t *testing.T) {
	env := []string{
		"SEARCH_API_KEY=secret1",
		"AUTH_TOKEN=secret2",
		"DB_PASSWORD=secret3",
		"REGION=us-east-1",
		"plain",
	}

	got := RedactEnv(env)
	assert.Equal(t, []string{
		"SEARCH_API_KEY=[REDACTED]",
		"AUTH_TOKEN=[REDACTED]",
		"DB_PASSWORD=[REDACTED]",
		"REGION=us-east-1",
		"plain",
	}, got)
}

func TestServerNameRegex(t *testing.T) {
	valid := []string{"a", "my-server", "server_1", "mcpServer", "a" + strings.Repeat("x", 63)}
	for _, name := range valid {
		assert.True(t, ServerNameRegex.MatchString(name), "expected %q to be valid", name)
	}

	invalid := []string{"", "9start", "-dash", "_under", "has space", "a/b", "a" + strings.Repeat("x", 64)}
	for _, name := range invalid {
		assert.False(t, ServerNameRegex.MatchString(name), "expected %q to be invalid", name)
	}
}
