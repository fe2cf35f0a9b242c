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
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport identifies how a tool server is reached.
type Transport string

const (
	// TransportStdio runs the server as a child process speaking MCP over
	// stdin/stdout.
	TransportStdio Transport = "stdio"
	// TransportHTTP connects to a remote server over streamable HTTP.
	TransportHTTP Transport = "http"
	// TransportSSE connects to a remote server over SSE.
	TransportSSE Transport = "sse"
)

// AuthType identifies how requests to a remote server are authenticated.
type AuthType string

const (
	// AuthNone sends no credentials.
	AuthNone AuthType = "none"
	// AuthAPIKey sends an API key header.
	AuthAPIKey AuthType = "api-key"
	// AuthBearer sends a static bearer token.
	AuthBearer AuthType = "bearer"
	// AuthOAuth mints bearer tokens via the OAuth client-credentials flow.
	AuthOAuth AuthType = "oauth"
)

// ServerNameRegex validates server names: start with a letter, then
// letters/numbers/hyphens/underscores, at most 64 characters total.
var ServerNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]{0,63}$`)

// ServerConfig describes one tool server entry in the registry.
type ServerConfig struct {
	// Name is the unique identifier for this server.
	Name string `yaml:"name"`

	// Description is a human-readable description shown in status surfaces.
	Description string `yaml:"description,omitempty"`

	// Transport selects the connection mechanism (stdio, http, sse).
	Transport Transport `yaml:"transport"`

	// Command is the executable to run (stdio transport).
	Command string `yaml:"command,omitempty"`

	// Args are command-line arguments for the executable (stdio transport).
	Args []string `yaml:"args,omitempty"`

	// Env are environment variables for the child process, KEY=VALUE form
	// (stdio transport).
	Env []string `yaml:"env,omitempty"`

	// Endpoint is the server URL (http and sse transports).
	Endpoint string `yaml:"endpoint,omitempty"`

	// AuthType selects how requests are authenticated (http and sse).
	// Default: none
	AuthType AuthType `yaml:"auth_type,omitempty"`

	// ComplianceLevel is a free-form policy tag surfaced in status output.
	ComplianceLevel string `yaml:"compliance_level,omitempty"`

	// RequiredGroups restricts the server to users in at least one of the
	// listed groups. Empty means visible to every user.
	RequiredGroups []string `yaml:"required_groups,omitempty"`

	// Timeout is the per-call timeout. Default: 30s
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Clone returns a deep copy of the config.
func (c *ServerConfig) Clone() *ServerConfig {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Args = append([]string(nil), c.Args...)
	cp.Env = append([]string(nil), c.Env...)
	cp.RequiredGroups = append([]string(nil), c.RequiredGroups...)
	return &cp
}

// applyDefaults fills in zero-valued fields.
func (c *ServerConfig) applyDefaults() {
	if c.Transport == "" {
		if c.Command != "" {
			c.Transport = TransportStdio
		} else {
			c.Transport = TransportHTTP
		}
	}
	if c.AuthType == "" {
		c.AuthType = AuthNone
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
}

// Validate checks the config for errors.
func (c *ServerConfig) Validate() error {
	if !ServerNameRegex.MatchString(c.Name) {
		return ErrInvalidServerName(c.Name)
	}

	switch c.Transport {
	case TransportStdio:
		if c.Command == "" {
			return ErrInvalidConfig(c.Name, "stdio transport requires a command")
		}
		for _, e := range c.Env {
			if !strings.Contains(e, "=") {
				return ErrInvalidConfig(c.Name, fmt.Sprintf("env entry %q is not KEY=VALUE", e))
			}
		}
	case TransportHTTP, TransportSSE:
		if c.Endpoint == "" {
			return ErrInvalidConfig(c.Name, fmt.Sprintf("%s transport requires an endpoint", c.Transport))
		}
		if !strings.HasPrefix(c.Endpoint, "http://") && !strings.HasPrefix(c.Endpoint, "https://") {
			return ErrInvalidConfig(c.Name, fmt.Sprintf("endpoint %q must be an http(s) URL", c.Endpoint))
		}
	default:
		return ErrInvalidConfig(c.Name, fmt.Sprintf("unknown transport %q", c.Transport))
	}

	switch c.AuthType {
	case AuthNone, AuthAPIKey, AuthBearer, AuthOAuth:
	default:
		return ErrInvalidConfig(c.Name, fmt.Sprintf("unknown auth_type %q", c.AuthType))
	}

	if c.Timeout < 0 {
		return ErrInvalidConfig(c.Name, "timeout must be non-negative")
	}

	return nil
}

// Registry is the declarative set of configured tool servers.
// It is replaced wholesale by reloads; the Manager never mutates entries
// in place.
type Registry struct {
	// Servers maps server name to configuration.
	Servers map[string]*ServerConfig `yaml:"servers"`
}

// registryFile is the on-disk shape: a list, so entries keep a stable order
// under hand editing.
type registryFile struct {
	Servers []*ServerConfig `yaml:"servers"`
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{Servers: make(map[string]*ServerConfig)}
}

// LoadRegistry reads and validates a registry file.
func LoadRegistry(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return NewRegistry(), nil
		}
		return nil, fmt.Errorf("failed to read registry %s: %w", path, err)
	}
	return ParseRegistry(data)
}

// ParseRegistry parses and validates registry YAML.
func ParseRegistry(data []byte) (*Registry, error) {
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse registry: %w", err)
	}

	reg := NewRegistry()
	for _, sc := range file.Servers {
		if sc == nil {
			continue
		}
		sc.applyDefaults()
		if err := sc.Validate(); err != nil {
			return nil, err
		}
		if _, exists := reg.Servers[sc.Name]; exists {
			return nil, ErrInvalidConfig(sc.Name, "duplicate server name")
		}
		reg.Servers[sc.Name] = sc
	}

	return reg, nil
}

// Save writes the registry to path atomically (temp file + rename).
func (r *Registry) Save(path string) error {
	file := registryFile{Servers: make([]*ServerConfig, 0, len(r.Servers))}
	for _, name := range r.Names() {
		file.Servers = append(file.Servers, r.Servers[name])
	}

	data, err := yaml.Marshal(&file)
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".servers-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

// Names returns the configured server names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.Servers))
	for name := range r.Servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy of the registry.
func (r *Registry) Clone() *Registry {
	cp := NewRegistry()
	for name, sc := range r.Servers {
		cp.Servers[name] = sc.Clone()
	}
	return cp
}

// sensitiveEnvPattern matches env var names that likely hold secrets.
var sensitiveEnvPattern = regexp.MustCompile(`(?i)(KEY|TOKEN|SECRET|PASSWORD|CREDENTIAL|AUTH)`)

// IsSensitiveEnvKey reports whether an env var name likely holds a secret.
func IsSensitiveEnvKey(key string) bool {
	return sensitiveEnvPattern.MatchString(key)
}

// RedactEnv returns a copy of env entries with sensitive values replaced by
// [REDACTED], for safe logging.
func RedactEnv(env []string) []string {
	out := make([]string, len(env))
	for i, e := range env {
		key, _, ok := strings.Cut(e, "=")
		if ok && IsSensitiveEnvKey(key) {
			out[i] = key + "=[REDACTED]"
		} else {
			out[i] = e
		}
	}
	return out
}
