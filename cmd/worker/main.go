// Command cc-worker is an additional, HTTP-less chunk-processing capacity process: it dequeues
// job ids from the same Redis queue cmd/api's embedded dispatcher does and runs them through the
// same Job Controller, for horizontal scale-out. Jobs this process happens to dequeue won't have
// their Stream Hub events or live audit tail visible over cc-api's websockets (the Hub and live
// Watch subscribers are process-local); their full audit history still replays from Postgres once
// a websocket client connects, and their job status/final output are always available via
// GET /jobs/{id} regardless of which process ran them.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"coherentrecon/internal/audit"
	"coherentrecon/internal/config"
	"coherentrecon/internal/controller"
	"coherentrecon/internal/deltastore"
	"coherentrecon/internal/llmfactory"
	"coherentrecon/internal/queue"
	"coherentrecon/internal/store"
	"coherentrecon/internal/streamhub"
	"coherentrecon/internal/telemetry"
	"coherentrecon/internal/worker"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("run migrations", zap.Error(err))
	}

	q := queue.NewRedisQueue(cfg)

	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		hostname, _ := os.Hostname()
		if hostname != "" {
			workerID = hostname
		} else {
			workerID = fmt.Sprintf("worker-%d", os.Getpid())
		}
	}

	deltas := deltastore.New(st.Pool())
	auditLog := audit.New(st.Pool())
	hub := streamhub.New(telemetry.StreamDroppedObservers.Inc)

	llmClient, err := llmfactory.New(cfg)
	if err != nil {
		logger.Fatal("construct llm client", zap.Error(err))
	}

	ctrl := controller.New(st, deltas, auditLog, hub, llmClient, telemetry.ControllerMetrics())
	dispatcher := worker.NewDispatcher(cfg, q, ctrl)

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.String("worker_id", workerID),
		zap.Duration("visibility_timeout", cfg.VisibilityTimeout),
		zap.Duration("backoff_initial", cfg.BackoffInitial),
	)
	if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", zap.Error(err))
	}
}
