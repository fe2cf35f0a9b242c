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

// Package daemon exposes the tool-server manager over HTTP for the chat
// application's front end: status, capability listing filtered per user,
// tool invocation, and registry reload.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/tombee/parley/internal/config"
	"github.com/tombee/parley/internal/mcp"
)

// UserHeader carries the authenticated user identity, set by the reverse
// proxy in front of the daemon.
const UserHeader = "X-Parley-User"

// Options configures a Daemon.
type Options struct {
	// Config is the daemon configuration.
	Config *config.Config

	// Manager is the tool-server manager.
	Manager *mcp.Manager

	// IsMember answers group-membership questions for authorization.
	// Nil restricts group-gated servers to nobody.
	IsMember mcp.GroupPredicate

	// Logger receives structured logs. Default: slog.Default
	Logger *slog.Logger

	// Metrics is the Prometheus registry backing /metrics. Default: a
	// fresh registry with process and Go collectors.
	Metrics *prometheus.Registry

	// Version is reported by /healthz.
	Version string
}

// Daemon serves the HTTP API and drives periodic reconnection.
type Daemon struct {
	cfg      *config.Config
	manager  *mcp.Manager
	isMember mcp.GroupPredicate
	logger   *slog.Logger
	registry *prometheus.Registry
	version  string

	limiter *rate.Limiter
	server  *http.Server

	mu       sync.Mutex
	listener net.Listener
}

// NewMetricsRegistry returns a Prometheus registry preloaded with process
// and Go runtime collectors, for sharing between the manager and the
// daemon's /metrics endpoint.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// New creates a daemon from opts.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if opts.Manager == nil {
		return nil, fmt.Errorf("manager is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Metrics == nil {
		opts.Metrics = NewMetricsRegistry()
	}

	d := &Daemon{
		cfg:      opts.Config,
		manager:  opts.Manager,
		isMember: opts.IsMember,
		logger:   opts.Logger,
		registry: opts.Metrics,
		version:  opts.Version,
	}

	if rps := opts.Config.RateLimit.RequestsPerSecond; rps > 0 {
		d.limiter = rate.NewLimiter(rate.Limit(rps), opts.Config.RateLimit.Burst)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", d.handleHealthz)
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("GET /api/tools", d.handleListTools)
	mux.HandleFunc("GET /api/prompts", d.handleListPrompts)
	mux.HandleFunc("POST /api/tools/call", d.handleCallTool)
	mux.HandleFunc("POST /api/reload", d.handleReload)
	mux.Handle("GET /metrics", promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{}))

	d.server = &http.Server{
		Addr:              opts.Config.Listen.Addr,
		Handler:           d.withRequestID(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return d, nil
}

// Addr returns the bound listen address, or empty before Start.
func (d *Daemon) Addr() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listener == nil {
		return ""
	}
	return d.listener.Addr().String()
}

// Start connects the configured servers, discovers their capabilities,
// begins the reconnect loop, and serves HTTP until ctx is canceled or the
// listener fails.
func (d *Daemon) Start(ctx context.Context) error {
	d.manager.InitializeClients(ctx)
	d.manager.DiscoverTools(ctx)
	d.manager.DiscoverPrompts(ctx)

	go d.reconnectLoop(ctx)

	ln, err := net.Listen("tcp", d.server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", d.server.Addr, err)
	}
	d.mu.Lock()
	d.listener = ln
	d.mu.Unlock()

	d.logger.Info("daemon listening", slog.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.server.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// reconnectLoop periodically retries failed servers and refreshes the
// catalog whenever something came back.
func (d *Daemon) reconnectLoop(ctx context.Context) {
	if d.cfg.ReconnectInterval <= 0 {
		return
	}
	ticker := time.NewTicker(d.cfg.ReconnectInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			summary := d.manager.ReconnectFailed(ctx)
			if len(summary.Reconnected) > 0 {
				d.manager.DiscoverTools(ctx)
				d.manager.DiscoverPrompts(ctx)
			}
		}
	}
}

// Reload re-reads the registry file and applies the diff, then connects
// any added servers and refreshes the catalog.
func (d *Daemon) Reload(ctx context.Context) (mcp.ReloadSummary, error) {
	reg, err := mcp.LoadRegistry(d.cfg.RegistryPath)
	if err != nil {
		return mcp.ReloadSummary{}, fmt.Errorf("failed to load registry: %w", err)
	}

	summary := d.manager.ReloadConfig(reg)
	if len(summary.Added) > 0 {
		d.manager.InitializeClients(ctx)
	}
	d.manager.DiscoverTools(ctx)
	d.manager.DiscoverPrompts(ctx)
	return summary, nil
}

// Shutdown gracefully stops the HTTP server and closes all connections.
func (d *Daemon) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, d.cfg.Listen.ShutdownTimeout)
	defer cancel()

	var firstErr error
	if err := d.server.Shutdown(shutdownCtx); err != nil {
		firstErr = err
	}
	if err := d.manager.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
