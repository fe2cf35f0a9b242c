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
	"sort"
	"sync"
)

// Catalog aggregates discovered capabilities per server. Each server's
// entry is replaced atomically when a discovery pass completes for that
// server; readers never observe a partially updated entry. All methods are
// safe for concurrent use and return copies.
type Catalog struct {
	mu      sync.RWMutex
	tools   map[string][]ToolDefinition
	prompts map[string][]PromptDefinition
}

// NewCatalog returns an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		tools:   make(map[string][]ToolDefinition),
		prompts: make(map[string][]PromptDefinition),
	}
}

// SetTools replaces the tool entry for a server in one step.
func (c *Catalog) SetTools(server string, tools []ToolDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tools[server] = append([]ToolDefinition(nil), tools...)
}

// SetPrompts replaces the prompt entry for a server in one step.
func (c *Catalog) SetPrompts(server string, prompts []PromptDefinition) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts[server] = append([]PromptDefinition(nil), prompts...)
}

// Drop removes all entries for a server.
func (c *Catalog) Drop(server string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tools, server)
	delete(c.prompts, server)
}

// Tools returns a copy of the tool entry for one server.
func (c *Catalog) Tools(server string) []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]ToolDefinition(nil), c.tools[server]...)
}

// Prompts returns a copy of the prompt entry for one server.
func (c *Catalog) Prompts(server string) []PromptDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]PromptDefinition(nil), c.prompts[server]...)
}

// AllTools returns every tool in the catalog, sorted by server then name.
func (c *Catalog) AllTools() []ToolDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []ToolDefinition
	for _, tools := range c.tools {
		out = append(out, tools...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// AllPrompts returns every prompt in the catalog, sorted by server then name.
func (c *Catalog) AllPrompts() []PromptDefinition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []PromptDefinition
	for _, prompts := range c.prompts {
		out = append(out, prompts...)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Server != out[j].Server {
			return out[i].Server < out[j].Server
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// ToolCount returns the number of tools recorded for a server.
func (c *Catalog) ToolCount(server string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tools[server])
}

// PromptCount returns the number of prompts recorded for a server.
func (c *Catalog) PromptCount(server string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.prompts[server])
}
