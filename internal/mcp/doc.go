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

// Package mcp manages connections to external MCP tool servers on behalf of
// the chat application.
//
// The Manager owns the configured server registry, the set of live
// connections, and a failure tracker for servers that could not be reached.
// Connections are established in bulk (InitializeClients), retried with
// exponential backoff (ReconnectFailed), and torn down either individually
// or as part of a configuration reload (ReloadConfig).
//
// Discovered capabilities (tools and prompts) are aggregated into a catalog
// that per-user consumers filter through an authorization predicate before
// presenting to the model.
package mcp
