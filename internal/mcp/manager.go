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
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// defaultConnectTimeout bounds a single connection attempt.
	defaultConnectTimeout = 30 * time.Second

	// defaultConcurrency bounds parallel connection and discovery fan-out.
	defaultConcurrency = 8
)

// Options configures a Manager.
type Options struct {
	// Registry is the initial server registry. Default: empty
	Registry *Registry

	// Backoff is the reconnection policy. Default: DefaultBackoffPolicy
	Backoff BackoffPolicy

	// Dial establishes server sessions. Default: Dial
	Dial DialFunc

	// Credentials resolves server credentials. Optional; nil means no
	// server gets credentials.
	Credentials CredentialFunc

	// Logger receives structured logs. Default: slog.Default
	Logger *slog.Logger

	// Metrics receives instrumentation. Optional.
	Metrics *Metrics

	// ConnectTimeout bounds a single connection attempt. Default: 30s
	ConnectTimeout time.Duration

	// Concurrency bounds parallel fan-out in bulk passes. Default: 8
	Concurrency int
}

// Manager owns the tool-server registry, the live connections, the failure
// tracker, and the capability catalog. All methods are safe for concurrent
// use.
//
// Invariant: at any time a server name appears in at most one of the live
// connection map and the failure tracker. A configured server in neither is
// simply not yet attempted.
type Manager struct {
	logger         *slog.Logger
	dial           DialFunc
	creds          CredentialFunc
	backoff        BackoffPolicy
	metrics        *Metrics
	connectTimeout time.Duration
	concurrency    int

	// mu guards registry and conns.
	mu       sync.RWMutex
	registry *Registry
	conns    map[string]Connector

	failures *FailureTracker
	catalog  *Catalog

	// locks holds one mutex per server name. The per-name lock is held
	// across a connection attempt and its bookkeeping, and across removal
	// cleanup, so a reload that removes a server always wins against an
	// in-flight connect: the late connection is discarded and no failure
	// record is written for a removed server.
	locks sync.Map
}

// NewManager creates a Manager from opts.
func NewManager(opts Options) *Manager {
	if opts.Registry == nil {
		opts.Registry = NewRegistry()
	}
	if opts.Backoff == (BackoffPolicy{}) {
		opts.Backoff = DefaultBackoffPolicy()
	}
	if opts.Dial == nil {
		opts.Dial = Dial
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.ConnectTimeout == 0 {
		opts.ConnectTimeout = defaultConnectTimeout
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}

	return &Manager{
		logger:         opts.Logger,
		dial:           opts.Dial,
		creds:          opts.Credentials,
		backoff:        opts.Backoff,
		metrics:        opts.Metrics,
		connectTimeout: opts.ConnectTimeout,
		concurrency:    opts.Concurrency,
		registry:       opts.Registry.Clone(),
		conns:          make(map[string]Connector),
		failures:       NewFailureTracker(),
		catalog:        NewCatalog(),
	}
}

// nameLock returns the mutex serializing lifecycle operations for one
// server name.
func (m *Manager) nameLock(name string) *sync.Mutex {
	v, _ := m.locks.LoadOrStore(name, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Backoff returns the reconnection policy.
func (m *Manager) Backoff() BackoffPolicy {
	return m.backoff
}

// Catalog returns the capability catalog.
func (m *Manager) Catalog() *Catalog {
	return m.catalog
}

// Server returns a copy of the named server's configuration.
func (m *Manager) Server(name string) (*ServerConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.registry.Servers[name]
	if !ok {
		return nil, ErrServerNotFound(name)
	}
	return cfg.Clone(), nil
}

// Servers returns copies of every configured server, sorted by name.
func (m *Manager) Servers() []*ServerConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*ServerConfig, 0, len(m.registry.Servers))
	for _, name := range m.registry.Names() {
		out = append(out, m.registry.Servers[name].Clone())
	}
	return out
}

// ConnectedServers returns the names of servers with a live connection.
func (m *Manager) ConnectedServers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.conns))
	for name := range m.conns {
		names = append(names, name)
	}
	return names
}

// IsConnected reports whether the named server has a live connection.
func (m *Manager) IsConnected(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.conns[name]
	return ok
}

// FailedServers returns a snapshot of all failure records.
func (m *Manager) FailedServers() map[string]FailureRecord {
	return m.failures.Snapshot()
}

// credential resolves the manager's service credential for a server.
func (m *Manager) credential(ctx context.Context, server string) (*Credential, error) {
	if m.creds == nil {
		return nil, nil
	}
	return m.creds(ctx, "", server)
}

// connectOne attempts to connect a single configured server. The per-name
// lock is held for the whole attempt so a concurrent removal either runs
// before (attempt sees the server gone and stops) or after (the removal
// closes the fresh connection and clears the record).
func (m *Manager) connectOne(ctx context.Context, name string) error {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.RLock()
	cfg, configured := m.registry.Servers[name]
	_, connected := m.conns[name]
	m.mu.RUnlock()

	if !configured {
		return ErrServerNotFound(name)
	}
	if connected {
		return nil
	}
	cfg = cfg.Clone()

	cred, err := m.credential(ctx, name)
	if err != nil {
		m.recordFailureIfConfigured(name, err)
		m.metrics.observeConnect(name, err)
		return ErrConnectFailed(name, fmt.Errorf("credential resolution failed: %w", err))
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	conn, err := m.dial(dialCtx, cfg, cred)
	m.metrics.observeConnect(name, err)
	if err != nil {
		m.recordFailureIfConfigured(name, err)
		return ErrConnectFailed(name, err)
	}

	m.mu.Lock()
	if _, still := m.registry.Servers[name]; !still {
		// Removed while we were dialing. The removal wins: discard the
		// connection and leave no trace.
		m.mu.Unlock()
		conn.Close()
		return ErrServerNotFound(name)
	}
	m.conns[name] = conn
	m.mu.Unlock()

	m.failures.Clear(name)
	m.logger.Info("connected to tool server",
		slog.String("server", name),
		slog.String("transport", string(cfg.Transport)))
	return nil
}

// recordFailureIfConfigured writes a failure record unless the server has
// been removed from the registry.
func (m *Manager) recordFailureIfConfigured(name string, cause error) {
	m.mu.RLock()
	_, configured := m.registry.Servers[name]
	m.mu.RUnlock()
	if !configured {
		return
	}
	rec := m.failures.RecordFailure(name, cause)
	m.logger.Warn("tool server connection failed",
		slog.String("server", name),
		slog.Int("attempts", rec.Attempts),
		slog.Any("error", cause))
}

// InitializeClients connects every configured server that has no live
// connection. Individual failures are recorded in the failure tracker and
// reported in the summary; they never abort the pass.
func (m *Manager) InitializeClients(ctx context.Context) InitSummary {
	m.mu.RLock()
	var pending []string
	for _, name := range m.registry.Names() {
		if _, connected := m.conns[name]; !connected {
			pending = append(pending, name)
		}
	}
	m.mu.RUnlock()

	var (
		summaryMu sync.Mutex
		summary   = InitSummary{Attempted: pending}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for _, name := range pending {
		name := name
		g.Go(func() error {
			err := m.connectOne(gctx, name)
			summaryMu.Lock()
			defer summaryMu.Unlock()
			switch {
			case err == nil:
				summary.Connected = append(summary.Connected, name)
			case IsNotFound(err):
				// Removed mid-pass; not a failure.
			default:
				summary.Failed = append(summary.Failed, name)
			}
			return nil
		})
	}
	g.Wait()

	m.updateGauges()
	m.logger.Info("tool server initialization complete",
		slog.Int("attempted", len(summary.Attempted)),
		slog.Int("connected", len(summary.Connected)),
		slog.Int("failed", len(summary.Failed)))
	return summary
}

// ReconnectFailed retries every failed server whose backoff window has
// elapsed. Servers still inside their window are reported in
// SkippedBackoff and not touched.
func (m *Manager) ReconnectFailed(ctx context.Context) ReconnectSummary {
	failed := m.failures.Snapshot()

	var (
		summaryMu sync.Mutex
		summary   ReconnectSummary
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.concurrency)
	for name := range failed {
		name := name
		if !m.failures.Eligible(name, m.backoff) {
			summary.SkippedBackoff = append(summary.SkippedBackoff, name)
			m.metrics.observeReconnectSkipped()
			continue
		}
		summary.Attempted = append(summary.Attempted, name)
		g.Go(func() error {
			err := m.connectOne(gctx, name)
			summaryMu.Lock()
			defer summaryMu.Unlock()
			switch {
			case err == nil:
				summary.Reconnected = append(summary.Reconnected, name)
			case IsNotFound(err):
				// Removed mid-pass; nothing left to track.
			default:
				summary.StillFailed = append(summary.StillFailed, name)
			}
			return nil
		})
	}
	g.Wait()

	m.updateGauges()
	if len(summary.Attempted) > 0 || len(summary.SkippedBackoff) > 0 {
		m.logger.Info("reconnection pass complete",
			slog.Int("attempted", len(summary.Attempted)),
			slog.Int("reconnected", len(summary.Reconnected)),
			slog.Int("still_failed", len(summary.StillFailed)),
			slog.Int("skipped_backoff", len(summary.SkippedBackoff)))
	}
	return summary
}

// DisconnectServer tears down the named server's connection and drops its
// catalog entries. The server stays configured; a later initialization pass
// may reconnect it.
func (m *Manager) DisconnectServer(name string) error {
	lock := m.nameLock(name)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	conn, ok := m.conns[name]
	if ok {
		delete(m.conns, name)
	}
	m.mu.Unlock()

	if !ok {
		return ErrServerNotConnected(name)
	}

	m.catalog.Drop(name)
	m.metrics.dropServer(name)
	m.updateGauges()

	if err := conn.Close(); err != nil {
		m.logger.Warn("error closing tool server connection",
			slog.String("server", name),
			slog.Any("error", err))
	}
	return nil
}

// CallTool invokes a tool on a connected server. An unknown server yields a
// NOT_FOUND error and a known but disconnected server a NOT_CONNECTED
// error, both without any network traffic. A failure over an established
// session yields a CALL_FAILED error wrapping the transport cause.
func (m *Manager) CallTool(ctx context.Context, req ToolCallRequest) (*ToolCallResponse, error) {
	m.mu.RLock()
	_, configured := m.registry.Servers[req.Server]
	conn, connected := m.conns[req.Server]
	m.mu.RUnlock()

	if !configured {
		return nil, ErrServerNotFound(req.Server)
	}
	if !connected {
		return nil, ErrServerNotConnected(req.Server)
	}

	start := time.Now()
	resp, err := conn.CallTool(ctx, req.Tool, req.Arguments)
	m.metrics.observeToolCall(req.Server, time.Since(start).Seconds(), err)
	if err != nil {
		return nil, ErrCallFailed(req.Server, req.Tool, err)
	}
	return resp, nil
}

// Ping checks liveness of the named server's session.
func (m *Manager) Ping(ctx context.Context, name string) error {
	m.mu.RLock()
	conn, connected := m.conns[name]
	m.mu.RUnlock()

	if !connected {
		return ErrServerNotConnected(name)
	}
	return conn.Ping(ctx)
}

// Status returns an aggregate snapshot for status surfaces.
func (m *Manager) Status() Status {
	m.mu.RLock()
	names := m.registry.Names()
	configs := make(map[string]*ServerConfig, len(names))
	connected := make(map[string]bool, len(m.conns))
	for _, name := range names {
		configs[name] = m.registry.Servers[name]
	}
	for name := range m.conns {
		connected[name] = true
	}
	m.mu.RUnlock()

	failed := m.failures.Snapshot()

	st := Status{Configured: len(names), Backoff: m.backoff}
	for _, name := range names {
		ss := ServerStatus{
			Name:        name,
			Transport:   configs[name].Transport,
			Connected:   connected[name],
			ToolCount:   m.catalog.ToolCount(name),
			PromptCount: m.catalog.PromptCount(name),
		}
		if rec, ok := failed[name]; ok {
			rec := rec
			ss.Failure = &rec
		}
		if ss.Connected {
			st.Connected++
		}
		if ss.Failure != nil {
			st.Failed++
		}
		st.Servers = append(st.Servers, ss)
	}
	return st
}

// Close tears down every connection. The manager is not usable afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]Connector)
	m.mu.Unlock()

	var firstErr error
	for name, conn := range conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close %s: %w", name, err)
		}
	}
	return firstErr
}

// updateGauges refreshes the connected/failed gauges.
func (m *Manager) updateGauges() {
	if m.metrics == nil {
		return
	}
	m.mu.RLock()
	connected := len(m.conns)
	m.mu.RUnlock()
	m.metrics.setGauges(connected, m.failures.Len())
}
