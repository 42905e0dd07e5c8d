package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dyluth/warren/internal/backend"
	"github.com/dyluth/warren/internal/hubclient"
	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/internal/ratelimit"
	"github.com/dyluth/warren/internal/runtime"
)

func main() {
	os.Exit(run())
}

// run contains the main logic and returns an exit code.
// This separation makes the logic testable and ensures deferred functions run.
func run() int {
	logger, err := logging.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	cfg, err := runtime.LoadConfig()
	if err != nil {
		logger.Error("configuration error", "error", err)
		return 1
	}

	responder, err := responderFor(cfg, logger)
	if err != nil {
		logger.Error("failed to create responder", "error", err)
		return 1
	}

	// Poll requests may block for PollWait on top of the normal deadline.
	client := hubclient.New(cfg.HubURL, hubclient.DefaultTimeout)
	rt := runtime.New(cfg, client, responder, runtime.WithLogger(logger))

	if cfg.Announce != "" {
		rt.Enqueue(runtime.BroadcastTask{Body: cfg.Announce})
	}

	var healthServer *runtime.HealthServer
	if cfg.HealthAddr != "" {
		healthServer = runtime.NewHealthServer(rt, cfg.HealthAddr)
		healthServer.Start()
		logger.Info("health server started", "addr", cfg.HealthAddr)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runDone := make(chan error, 1)
	go func() {
		runDone <- rt.Run(ctx)
	}()

	logger.Info("agent starting", "agent_id", cfg.AgentID, "hub", cfg.HubURL)

	code := 0
	select {
	case sig := <-sigChan:
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
		if err := <-runDone; err != nil {
			logger.Error("runtime error", "error", err)
			code = 1
		}
	case err := <-runDone:
		if err != nil {
			logger.Error("runtime error", "error", err)
			code = 1
		}
	}

	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("error shutting down health server", "error", err)
		}
	}

	logger.Info("agent stopped", "agent_id", cfg.AgentID)
	return code
}

// responderFor picks the reply strategy: the Anthropic backend behind a rate
// limiter when an API key is configured, otherwise the fixed fallback reply.
func responderFor(cfg *runtime.Config, logger *slog.Logger) (runtime.Responder, error) {
	if cfg.BackendAPIKey == "" {
		logger.Warn("no backend API key configured, replying with fallback text")
		return runtime.FallbackResponder{Reply: cfg.FallbackReply}, nil
	}

	b, err := backend.NewAnthropic(backend.AnthropicConfig{
		APIKey:  cfg.BackendAPIKey,
		Model:   cfg.BackendModel,
		BaseURL: cfg.BackendURL,
		Timeout: cfg.BackendTimeout,
	})
	if err != nil {
		return nil, err
	}
	limiter := ratelimit.New(cfg.RateCap, cfg.RateWindow)
	return runtime.NewBackendResponder(b, limiter, cfg.AgentID), nil
}
