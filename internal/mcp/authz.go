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
)

// GroupPredicate reports whether a user belongs to a group. The identity
// system behind it is the caller's concern; the manager only consumes the
// answer.
type GroupPredicate func(ctx context.Context, user, group string) (bool, error)

// AllowAll is a GroupPredicate that grants every membership check. Useful
// for single-tenant deployments and tests.
func AllowAll(ctx context.Context, user, group string) (bool, error) {
	return true, nil
}

// authorized reports whether the user may access the server. A server with
// no required groups is visible to everyone; otherwise membership in any
// one listed group suffices. Predicate errors fail closed for that server.
func (m *Manager) authorized(ctx context.Context, user string, cfg *ServerConfig, isMember GroupPredicate) bool {
	if len(cfg.RequiredGroups) == 0 {
		return true
	}
	if isMember == nil {
		return false
	}
	for _, group := range cfg.RequiredGroups {
		ok, err := isMember(ctx, user, group)
		if err != nil {
			m.logger.Warn("group membership check failed",
				slog.String("server", cfg.Name),
				slog.String("user", user),
				slog.String("group", group),
				slog.Any("error", err))
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// AuthorizedServers returns copies of the configured servers the user may
// access, sorted by name. Connection state is irrelevant: authorization is
// a property of configuration, not liveness.
func (m *Manager) AuthorizedServers(ctx context.Context, user string, isMember GroupPredicate) []*ServerConfig {
	var out []*ServerConfig
	for _, cfg := range m.Servers() {
		if m.authorized(ctx, user, cfg, isMember) {
			out = append(out, cfg)
		}
	}
	return out
}

// AuthorizedTools returns the catalog tools belonging to servers the user
// may access.
func (m *Manager) AuthorizedTools(ctx context.Context, user string, isMember GroupPredicate) []ToolDefinition {
	allowed := make(map[string]bool)
	for _, cfg := range m.AuthorizedServers(ctx, user, isMember) {
		allowed[cfg.Name] = true
	}

	var out []ToolDefinition
	for _, tool := range m.catalog.AllTools() {
		if allowed[tool.Server] {
			out = append(out, tool)
		}
	}
	return out
}

// AuthorizedPrompts returns the catalog prompts belonging to servers the
// user may access.
func (m *Manager) AuthorizedPrompts(ctx context.Context, user string, isMember GroupPredicate) []PromptDefinition {
	allowed := make(map[string]bool)
	for _, cfg := range m.AuthorizedServers(ctx, user, isMember) {
		allowed[cfg.Name] = true
	}

	var out []PromptDefinition
	for _, prompt := range m.catalog.AllPrompts() {
		if allowed[prompt.Server] {
			out = append(out, prompt)
		}
	}
	return out
}

// AuthorizeCall checks that the user may invoke tools on the named server.
// Returns an UNAUTHORIZED error when the user lacks access, and NOT_FOUND
// when the server is not configured.
func (m *Manager) AuthorizeCall(ctx context.Context, user, server string, isMember GroupPredicate) error {
	cfg, err := m.Server(server)
	if err != nil {
		return err
	}
	if !m.authorized(ctx, user, cfg, isMember) {
		return ErrUnauthorized(user, server)
	}
	return nil
}
