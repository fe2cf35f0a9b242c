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
	"log/slog"
	"sort"
)

// ReloadConfig replaces the registry with newReg and reports the diff.
//
// Removed servers are torn down completely: connection closed, failure
// record cleared, catalog entries dropped. Added servers are registered but
// not connected; the caller follows up with InitializeClients and a
// discovery pass. Unchanged servers keep their live connection, and their
// (possibly modified) new configuration is visible immediately to reads.
//
// A reload racing an in-flight connection attempt for a removed server is
// safe: the registry swap happens first, so the attempt either sees the
// server gone before dialing or discards its fresh connection afterwards.
// Either way no failure record survives for a removed server.
func (m *Manager) ReloadConfig(newReg *Registry) ReloadSummary {
	if newReg == nil {
		newReg = NewRegistry()
	}
	newReg = newReg.Clone()

	// Swap the registry first. From this point any concurrent connect
	// attempt for a removed server discards itself.
	m.mu.Lock()
	oldReg := m.registry
	m.registry = newReg
	m.mu.Unlock()

	var summary ReloadSummary
	for name := range newReg.Servers {
		if _, existed := oldReg.Servers[name]; existed {
			summary.Unchanged = append(summary.Unchanged, name)
		} else {
			summary.Added = append(summary.Added, name)
		}
	}
	for name := range oldReg.Servers {
		if _, kept := newReg.Servers[name]; !kept {
			summary.Removed = append(summary.Removed, name)
		}
	}
	sort.Strings(summary.Added)
	sort.Strings(summary.Removed)
	sort.Strings(summary.Unchanged)

	for _, name := range summary.Removed {
		m.removeServer(name)
	}

	m.updateGauges()
	m.logger.Info("registry reloaded",
		slog.Int("added", len(summary.Added)),
		slog.Int("removed", len(summary.Removed)),
		slog.Int("unchanged", len(summary.Unchanged)))
	return summary
}

// removeServer tears down every trace of a server that left the registry.
// The per-name lock serializes this against in-flight connection attempts,
// so cleanup runs after any straggling attempt has finished its own
// bookkeeping.
func (m *Manager) removeServer(name string) {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	conn, connected := m.conns[name]
	delete(m.conns, name)
	m.mu.Unlock()

	m.failures.Clear(name)
	m.catalog.Drop(name)
	m.metrics.dropServer(name)

	if connected {
		if err := conn.Close(); err != nil {
			m.logger.Warn("error closing removed tool server",
				slog.String("server", name),
				slog.Any("error", err))
		}
	}

	m.logger.Info("tool server removed", slog.String("server", name))
}
