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

// Package config loads the parleyd daemon configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tombee/parley/internal/mcp"
)

var (
	// ErrInvalidConfig is returned when configuration validation fails.
	ErrInvalidConfig = errors.New("config: invalid configuration")
)

// Config is the complete parleyd configuration.
type Config struct {
	// Listen configures the HTTP listener.
	Listen ListenConfig `yaml:"listen"`

	// RegistryPath is the tool-server registry file.
	// Default: ./servers.yaml
	RegistryPath string `yaml:"registry_path,omitempty"`

	// WatchRegistry enables hot reload when the registry file changes.
	// Default: true
	WatchRegistry *bool `yaml:"watch_registry,omitempty"`

	// ReconnectInterval is how often the daemon retries failed servers.
	// Default: 30s
	ReconnectInterval time.Duration `yaml:"reconnect_interval,omitempty"`

	// ConnectTimeout bounds a single server connection attempt.
	// Default: 30s
	ConnectTimeout time.Duration `yaml:"connect_timeout,omitempty"`

	// Backoff configures the reconnection backoff policy.
	Backoff mcp.BackoffPolicy `yaml:"backoff,omitempty"`

	// RateLimit configures tool-call rate limiting.
	RateLimit RateLimitConfig `yaml:"rate_limit,omitempty"`

	// OAuth configures client-credentials token minting per server.
	// Keyed by server name.
	OAuth map[string]OAuthConfig `yaml:"oauth,omitempty"`

	// Log configures logging.
	Log LogConfig `yaml:"log,omitempty"`
}

// ListenConfig configures how the daemon listens for connections.
type ListenConfig struct {
	// Addr is the HTTP listen address.
	// Default: 127.0.0.1:8585
	Addr string `yaml:"addr,omitempty"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout,omitempty"`
}

// RateLimitConfig limits tool invocations through the HTTP API.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained tool-call rate. Zero disables
	// rate limiting.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`

	// Burst is the burst allowance. Default: 2x the sustained rate,
	// minimum 1.
	Burst int `yaml:"burst,omitempty"`
}

// OAuthConfig holds client-credentials settings for one server.
type OAuthConfig struct {
	// ClientID identifies the OAuth client.
	ClientID string `yaml:"client_id"`

	// ClientSecret authenticates the OAuth client. Prefer leaving this
	// empty and storing the secret in the secrets backends.
	ClientSecret string `yaml:"client_secret,omitempty"`

	// TokenURL is the token endpoint.
	TokenURL string `yaml:"token_url"`

	// Scopes are the requested scopes.
	Scopes []string `yaml:"scopes,omitempty"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level sets the minimum log level (debug, info, warn, error).
	Level string `yaml:"level,omitempty"`

	// Format sets the output format (json, text).
	Format string `yaml:"format,omitempty"`
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if dir := os.Getenv("PARLEY_CONFIG_DIR"); dir != "" {
		return filepath.Join(dir, "parleyd.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "parleyd.yaml"
	}
	return filepath.Join(home, ".parley", "parleyd.yaml")
}

// Load reads the config from path, or the default location if path is
// empty. A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills in zero-valued fields.
func (c *Config) applyDefaults() {
	if c.Listen.Addr == "" {
		c.Listen.Addr = "127.0.0.1:8585"
	}
	if c.Listen.ShutdownTimeout == 0 {
		c.Listen.ShutdownTimeout = 10 * time.Second
	}
	if c.RegistryPath == "" {
		c.RegistryPath = "servers.yaml"
	}
	if c.WatchRegistry == nil {
		watch := true
		c.WatchRegistry = &watch
	}
	if c.ReconnectInterval == 0 {
		c.ReconnectInterval = 30 * time.Second
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.Backoff == (mcp.BackoffPolicy{}) {
		c.Backoff = mcp.DefaultBackoffPolicy()
	}
	if c.RateLimit.RequestsPerSecond > 0 && c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = int(c.RateLimit.RequestsPerSecond * 2)
		if c.RateLimit.Burst < 1 {
			c.RateLimit.Burst = 1
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if err := c.Backoff.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if c.ReconnectInterval < 0 {
		return fmt.Errorf("%w: reconnect_interval must be non-negative", ErrInvalidConfig)
	}
	if c.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: rate_limit.requests_per_second must be non-negative", ErrInvalidConfig)
	}
	for server, oc := range c.OAuth {
		if oc.ClientID == "" || oc.TokenURL == "" {
			return fmt.Errorf("%w: oauth entry for %s requires client_id and token_url", ErrInvalidConfig, server)
		}
	}
	return nil
}
