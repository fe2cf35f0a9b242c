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

// parleyd is the tool-server daemon behind the Parley chat application. It
// maintains connections to the configured MCP servers and exposes their
// capabilities over a local HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/tombee/parley/internal/config"
	"github.com/tombee/parley/internal/daemon"
	"github.com/tombee/parley/internal/log"
	"github.com/tombee/parley/internal/mcp"
	"github.com/tombee/parley/internal/secrets"
)

// Version information (injected via ldflags at build time)
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	root := &cobra.Command{
		Use:           "parleyd",
		Short:         "Tool-server daemon for the Parley chat application",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), validateCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	var (
		configPath   string
		registryPath string
		listenAddr   string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := log.New(log.FromEnv())
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if registryPath != "" {
				cfg.RegistryPath = registryPath
			}
			if listenAddr != "" {
				cfg.Listen.Addr = listenAddr
			}

			return runServe(cfg, logger)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to daemon config file")
	cmd.Flags().StringVar(&registryPath, "registry", "", "Path to the tool-server registry file")
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address")
	return cmd
}

func runServe(cfg *config.Config, logger *slog.Logger) error {
	registry, err := mcp.LoadRegistry(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	resolver := secrets.NewResolver()
	for server, oc := range cfg.OAuth {
		cc := clientcredentials.Config{
			ClientID:     oc.ClientID,
			ClientSecret: oc.ClientSecret,
			TokenURL:     oc.TokenURL,
			Scopes:       oc.Scopes,
		}
		if cc.ClientSecret == "" {
			if secret, err := resolver.Get(context.Background(), server+"/oauth_client_secret"); err == nil {
				cc.ClientSecret = secret
			}
		}
		resolver.RegisterOAuth(server, cc)
	}

	metrics := daemon.NewMetricsRegistry()
	manager := mcp.NewManager(mcp.Options{
		Registry:       registry,
		Backoff:        cfg.Backoff,
		Credentials:    resolver.Credential,
		Logger:         log.WithComponent(logger, "mcp"),
		Metrics:        mcp.NewMetrics(metrics),
		ConnectTimeout: cfg.ConnectTimeout,
	})

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Manager:  manager,
		IsMember: mcp.AllowAll,
		Logger:   log.WithComponent(logger, "daemon"),
		Metrics:  metrics,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Hot reload on registry file changes.
	var watcher *mcp.Watcher
	if cfg.WatchRegistry == nil || *cfg.WatchRegistry {
		watcher, err = mcp.NewWatcher(mcp.WatcherConfig{
			Path:   cfg.RegistryPath,
			Logger: log.WithComponent(logger, "watcher"),
			OnChange: func(path string) {
				if _, err := d.Reload(ctx); err != nil {
					logger.Error("registry reload failed", slog.Any("error", err))
				}
			},
		})
		if err != nil {
			logger.Warn("registry watching disabled", slog.Any("error", err))
		} else {
			defer watcher.Close()
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- d.Start(ctx)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("shutting down", slog.String("signal", sig.String()))
		cancel()
		if err := d.Shutdown(context.Background()); err != nil {
			logger.Error("error during shutdown", slog.Any("error", err))
		}
		return nil
	case err := <-errCh:
		return err
	}
}

func validateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <registry-file>",
		Short: "Validate a tool-server registry file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			reg, err := mcp.ParseRegistry(data)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d server(s) OK\n", args[0], len(reg.Servers))
			for _, name := range reg.Names() {
				sc := reg.Servers[name]
				fmt.Fprintf(cmd.OutOrStdout(), "  %s (%s)\n", name, sc.Transport)
			}
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "parleyd %s (commit: %s, built: %s)\n", version, commit, buildDate)
		},
	}
}
