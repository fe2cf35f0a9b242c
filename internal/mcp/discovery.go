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
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// DiscoverTools queries every connected server for its tools and updates
// the catalog. Servers without a live connection are skipped silently; a
// query error on one server is logged and leaves that server's previous
// catalog entry in place, without affecting the others. The aggregated
// catalog content is returned.
func (m *Manager) DiscoverTools(ctx context.Context) []ToolDefinition {
	conns := m.connSnapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for name, conn := range conns {
		name, conn := name, conn
		g.Go(func() error {
			tools, err := conn.ListTools(gctx)
			if err != nil {
				m.logger.Warn("tool discovery failed",
					slog.String("server", name),
					slog.Any("error", err))
				return nil
			}
			if !m.stillLive(name, conn) {
				// Disconnected or removed mid-pass; the teardown path owns
				// the catalog entry now.
				return nil
			}
			m.catalog.SetTools(name, tools)
			m.metrics.setDiscoveredTools(name, len(tools))
			return nil
		})
	}
	g.Wait()

	m.pruneCatalog()
	return m.catalog.AllTools()
}

// DiscoverPrompts queries every connected server for its prompts and
// updates the catalog, with the same skip and failure semantics as
// DiscoverTools.
func (m *Manager) DiscoverPrompts(ctx context.Context) []PromptDefinition {
	conns := m.connSnapshot()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for name, conn := range conns {
		name, conn := name, conn
		g.Go(func() error {
			prompts, err := conn.ListPrompts(gctx)
			if err != nil {
				m.logger.Warn("prompt discovery failed",
					slog.String("server", name),
					slog.Any("error", err))
				return nil
			}
			if !m.stillLive(name, conn) {
				return nil
			}
			m.catalog.SetPrompts(name, prompts)
			return nil
		})
	}
	g.Wait()

	m.pruneCatalog()
	return m.catalog.AllPrompts()
}

// connSnapshot copies the live connection map.
func (m *Manager) connSnapshot() map[string]Connector {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Connector, len(m.conns))
	for name, conn := range m.conns {
		out[name] = conn
	}
	return out
}

// stillLive reports whether the given connection is still the registered
// live session for the server. Guards the catalog swap against servers
// removed or reconnected mid-pass.
func (m *Manager) stillLive(name string, conn Connector) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, configured := m.registry.Servers[name]; !configured {
		return false
	}
	return m.conns[name] == conn
}

// pruneCatalog drops catalog entries for servers that no longer have a
// live connection.
func (m *Manager) pruneCatalog() {
	m.mu.RLock()
	live := make(map[string]bool, len(m.conns))
	for name := range m.conns {
		live[name] = true
	}
	m.mu.RUnlock()

	for _, tool := range m.catalog.AllTools() {
		if !live[tool.Server] {
			m.catalog.Drop(tool.Server)
			m.metrics.dropServer(tool.Server)
		}
	}
	for _, prompt := range m.catalog.AllPrompts() {
		if !live[prompt.Server] {
			m.catalog.Drop(prompt.Server)
		}
	}
}
