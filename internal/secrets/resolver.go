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

package secrets

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/parley/internal/mcp"
)

// Resolver resolves server credentials from prioritized backends. For
// servers registered with an OAuth client-credentials configuration, tokens
// are minted through a cached token source instead of read from a backend.
type Resolver struct {
	backends []Backend

	mu      sync.Mutex
	oauth   map[string]oauth2.TokenSource
	schemes map[string]string
}

// NewResolver creates a resolver over the given backends, sorted by
// descending priority. With no backends it defaults to env + keychain.
func NewResolver(backends ...Backend) *Resolver {
	if len(backends) == 0 {
		backends = []Backend{NewEnvBackend(), NewKeychainBackend()}
	}
	sorted := append([]Backend(nil), backends...)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Priority() > sorted[j].Priority()
	})
	return &Resolver{
		backends: sorted,
		oauth:    make(map[string]oauth2.TokenSource),
		schemes:  make(map[string]string),
	}
}

// RegisterOAuth configures OAuth client-credentials token minting for a
// server. Subsequent credential lookups for that server draw from the
// token source, which caches and refreshes tokens as needed.
func (r *Resolver) RegisterOAuth(server string, cfg clientcredentials.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.oauth[server] = cfg.TokenSource(context.Background())
}

// SetScheme overrides the credential scheme for a server (for example the
// header name an api-key server expects). Default is "Bearer".
func (r *Resolver) SetScheme(server, scheme string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[server] = scheme
}

// Get returns the raw secret for a key from the first backend that has it.
func (r *Resolver) Get(ctx context.Context, key string) (string, error) {
	for _, backend := range r.backends {
		if !backend.Available() {
			continue
		}
		value, err := backend.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrSecretNotFound) || errors.Is(err, ErrBackendUnavailable) {
			continue
		}
		return "", fmt.Errorf("backend %s: %w", backend.Name(), err)
	}
	return "", fmt.Errorf("%w: %s", ErrSecretNotFound, key)
}

// Credential implements mcp.CredentialFunc. The user parameter is accepted
// for interface compatibility; credentials are per-server service
// credentials, not per-user. A server with no registered OAuth config and
// no stored secret gets a nil credential, which connects unauthenticated.
func (r *Resolver) Credential(ctx context.Context, user, server string) (*mcp.Credential, error) {
	r.mu.Lock()
	source, isOAuth := r.oauth[server]
	scheme := r.schemes[server]
	r.mu.Unlock()

	if isOAuth {
		token, err := source.Token()
		if err != nil {
			return nil, fmt.Errorf("oauth token for %s: %w", server, err)
		}
		return &mcp.Credential{Scheme: "Bearer", Token: token.AccessToken}, nil
	}

	value, err := r.Get(ctx, server)
	if err != nil {
		if errors.Is(err, ErrSecretNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if scheme == "" {
		scheme = "Bearer"
	}
	return &mcp.Credential{Scheme: scheme, Token: value}, nil
}
