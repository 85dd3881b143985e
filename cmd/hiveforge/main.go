// HiveForge orchestrator server — owns the Akashic Record vault,
// schedules hives/colonies/runs/tasks, drives agent runners, and serves
// the HTTP API with the WebSocket activity stream.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/colonyforge/hiveforge/pkg/akashic"
	"github.com/colonyforge/hiveforge/pkg/api"
	"github.com/colonyforge/hiveforge/pkg/config"
	"github.com/colonyforge/hiveforge/pkg/llm/openaicompat"
	"github.com/colonyforge/hiveforge/pkg/masking"
	"github.com/colonyforge/hiveforge/pkg/policy"
	"github.com/colonyforge/hiveforge/pkg/ratelimit"
	"github.com/colonyforge/hiveforge/pkg/scheduler"
	"github.com/colonyforge/hiveforge/pkg/sink"
	"github.com/colonyforge/hiveforge/pkg/version"
)

func main() {
	configPath := flag.String("config", "", "path to hiveforge.yaml (default $COLONYFORGE_CONFIG or config/hiveforge.yaml)")
	flag.Parse()

	// Load .env before anything reads the environment.
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file, continuing with existing environment", "error", err)
	}

	slog.Info("Starting HiveForge", "version", version.Full())

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configPath)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Akashic Record vault
	store, err := akashic.Open(cfg.Vault.Path)
	if err != nil {
		slog.Error("Failed to open vault", "path", cfg.Vault.Path, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("Error closing vault", "error", err)
		}
	}()
	slog.Info("Vault opened", "path", cfg.Vault.Path)

	// 3. Scheduler
	sched := scheduler.New(store, scheduler.Options{
		SilenceTimeout: cfg.Scheduler.SilenceTimeout,
		MaxWorkers:     cfg.Scheduler.MaxWorkers,
		ShutdownBudget: cfg.Scheduler.ShutdownBudget,
	})

	// 4. Policy gate, masking, rate limits, LLM client
	gate := policy.New(cfg.GateOptions())
	masker := masking.NewService(cfg.MaskingOptions())
	limits := ratelimit.NewRegistry(cfg.RateLimits)

	provider, err := cfg.Providers.Get(cfg.DefaultProvider)
	if err != nil {
		slog.Error("Default LLM provider not configured", "provider", cfg.DefaultProvider, "error", err)
		os.Exit(1)
	}
	var clientOpts []openaicompat.Option
	if provider.Temperature != nil {
		clientOpts = append(clientOpts, openaicompat.WithTemperature(*provider.Temperature))
	}
	if provider.MaxTokens > 0 {
		clientOpts = append(clientOpts, openaicompat.WithMaxTokens(provider.MaxTokens))
	}
	llmClient := openaicompat.New(provider.BaseURL, provider.ResolveAPIKey(), provider.Model, clientOpts...)
	limiter := limits.For(cfg.DefaultProvider, provider.Model)
	slog.Info("LLM client initialized", "provider", cfg.DefaultProvider, "model", provider.Model)

	// 5. Agent executor for dispatched tasks
	var executor scheduler.TaskExecutor
	if worker, ok := cfg.Agents["worker"]; ok {
		trust, terr := policy.ParseTrustLevel(worker.TrustLevel)
		if terr != nil {
			slog.Error("Invalid worker trust level", "trust_level", worker.TrustLevel, "error", terr)
			os.Exit(1)
		}
		executor, err = scheduler.NewAgentExecutor(sched, scheduler.AgentExecutorConfig{
			Role:          "worker",
			SystemPrompt:  worker.SystemPrompt,
			TrustLevel:    trust,
			MaxIterations: worker.MaxIterations,
			WorkspaceRoot: cfg.Vault.Path + "/.workspaces",
		}, llmClient, limiter, gate, masker)
		if err != nil {
			slog.Error("Failed to build agent executor", "error", err)
			os.Exit(1)
		}
		slog.Info("Agent executor initialized", "role", "worker", "trust_level", trust)
	} else {
		slog.Warn("No worker agent configured; run dispatch disabled")
	}

	// 6. Projection sinks
	connManager := api.NewConnectionManager(10 * time.Second)
	var sinks []sink.Sink
	if cfg.ActivityEnabled {
		sinks = append(sinks, sink.NewActivitySink(connManager))
	}
	if cfg.GitHubSink.Enabled {
		sinks = append(sinks, sink.NewGitHubSink(cfg.GitHubSink.Owner, cfg.GitHubSink.Repo, cfg.GitHubSink.ResolveToken()))
		slog.Info("GitHub sink enabled", "owner", cfg.GitHubSink.Owner, "repo", cfg.GitHubSink.Repo)
	}
	var sinkRunner *sink.Runner
	if len(sinks) > 0 {
		sinkRunner = sink.NewRunner(store, sinks)
		sinkRunner.Start(ctx)
		slog.Info("Sink runner started", "sinks", len(sinks))
	}

	// 7. HTTP server
	server := api.NewServer(cfg, sched, connManager)
	if executor != nil {
		server.SetTaskExecutor(executor)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("HiveForge started successfully")

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 9. Graceful shutdown: stop intake, drain runs, stop sinks, flush.
	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.Scheduler.ShutdownBudget+5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP server shutdown incomplete", "error", err)
	}
	if err := sched.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Scheduler shutdown incomplete", "error", err)
	}
	if sinkRunner != nil {
		sinkRunner.Stop()
	}
	slog.Info("HiveForge stopped")
}
