package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dyluth/warren/internal/config"
	"github.com/dyluth/warren/internal/hub"
	"github.com/dyluth/warren/internal/logging"
	"github.com/dyluth/warren/internal/sqlstore"
	"github.com/dyluth/warren/pkg/comms"
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

	// 1. Load warren.yml (defaults when absent)
	path := config.Path()
	cfg, err := config.LoadOptional(path)
	if err != nil {
		logger.Error("failed to load configuration", "path", path, "error", err)
		return 1
	}

	// 2. Open the durable store, if any
	store, closeStore, err := openStore(cfg.Store, logger)
	if err != nil {
		logger.Error("failed to open store", "driver", cfg.Store.Driver, "error", err)
		return 1
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("error closing store", "error", err)
		}
	}()

	// 3. Build the hub and reload persisted state
	opts := []hub.Option{hub.WithLogger(logger)}
	if store != nil {
		opts = append(opts, hub.WithStore(store))
	}
	h := hub.New(hub.Config{
		HeartbeatTimeout: cfg.Hub.HeartbeatTimeout,
		SweepInterval:    cfg.Hub.SweepInterval,
		Retention:        cfg.Hub.Retention,
		MaxPoll:          cfg.Hub.MaxPoll,
		MaxWait:          cfg.Hub.MaxWait,
	}, opts...)

	restoreCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = h.Restore(restoreCtx)
	cancel()
	if err != nil {
		logger.Error("failed to restore state", "error", err)
		return 1
	}

	server := hub.NewServer(h, hub.ServerOptions{
		RequestRate:  cfg.Hub.RequestRate,
		RequestBurst: cfg.Hub.RequestBurst,
	})

	// 4. Setup graceful shutdown
	runCtx, stop := context.WithCancel(context.Background())
	defer stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	hubDone := make(chan error, 1)
	go func() {
		hubDone <- h.Run(runCtx)
	}()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.ListenAndServe(cfg.Hub.Listen)
	}()

	logger.Info("hub starting", "listen", cfg.Hub.Listen, "store", cfg.Store.Driver)

	// 5. Wait for shutdown signal or server failure
	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serveErr:
		if err != nil {
			logger.Error("server error", "error", err)
			code = 1
		}
	}

	// Long polls can outlast the shutdown budget; end them first.
	h.ReleaseWaiters()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down server", "error", err)
	}

	// Stop the hub last so writes from in-flight requests are flushed.
	stop()
	<-hubDone

	logger.Info("hub stopped")
	return code
}

// openStore returns the configured durable store and a function that closes
// it. The memory driver has no store.
func openStore(cfg config.StoreConfig, logger *slog.Logger) (hub.Store, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Driver {
	case config.DriverMemory, "":
		return nil, noop, nil

	case config.DriverRedis:
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, noop, fmt.Errorf("invalid store.redis_url: %w", err)
		}
		client, err := comms.NewClient(redisOpts, cfg.Instance)
		if err != nil {
			return nil, noop, err
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx); err != nil {
			client.Close()
			return nil, noop, fmt.Errorf("redis not accessible: %w", err)
		}
		logger.Info("connected to Redis", "instance", cfg.Instance)
		return client, client.Close, nil

	case config.DriverSQLite:
		s, err := sqlstore.Open(cfg.SQLitePath, logger)
		if err != nil {
			return nil, noop, err
		}
		return s, s.Close, nil
	}

	return nil, noop, fmt.Errorf("unknown store driver: %s", cfg.Driver)
}
