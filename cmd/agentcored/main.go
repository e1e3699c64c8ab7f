// Package main provides the CLI entry point for agentcored, the Agent
// Execution Core's standalone process: loads a configuration file, wires
// C1-C13 via pkg/agentcore, and serves health/metrics until a shutdown
// signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agentcore/agentcore/internal/config"
	"github.com/agentcore/agentcore/internal/httpserver"
	"github.com/agentcore/agentcore/internal/observability"
	"github.com/agentcore/agentcore/pkg/agentcore"
)

// Build information, populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := observability.NewLogger(observability.LogConfig{Level: "info", Format: "json"})
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcored",
		Short:        "agentcored - LLM agent execution core",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(buildServeCmd(), buildConfigCmd())
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agent execution core",
		Long: `Start the agent execution core server.

The server will:
1. Load configuration from the specified file
2. Open the Vector Store and Document Store
3. Register LLM providers and start the Sandbox Session Manager
4. Serve /healthz and /metrics until a shutdown signal arrives

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func buildConfigCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file without starting the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := config.Load(configPath); err != nil {
				return fmt.Errorf("configuration invalid: %w", err)
			}
			fmt.Println("configuration valid")
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "agentcore.yaml", "Path to YAML configuration file")
	return cmd
}

func runServe(ctx context.Context, configPath string, debug bool) error {
	slog.Info("starting agent execution core", "version", version, "commit", commit, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if debug {
		level = "debug"
	}
	log := observability.NewLogger(observability.LogConfig{Level: level, Format: cfg.Logging.Format})
	slog.SetDefault(log)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	core, err := agentcore.New(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("failed to build agent execution core: %w", err)
	}

	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	health := httpserver.New(httpAddr, core.Registry, nil, log)
	if err := health.Start(ctx); err != nil {
		return fmt.Errorf("failed to start http server: %w", err)
	}

	slog.Info("agent execution core started",
		"http_addr", httpAddr,
		"gateway_default_provider", cfg.Gateway.DefaultProvider,
		"sandbox_enabled", cfg.Sandbox.Enabled,
	)

	<-ctx.Done()
	slog.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := health.Stop(shutdownCtx); err != nil {
		slog.Warn("http server shutdown error", "error", err)
	}
	if err := core.Close(shutdownCtx); err != nil {
		slog.Warn("agent execution core shutdown error", "error", err)
	}

	slog.Info("agent execution core stopped gracefully")
	return nil
}
