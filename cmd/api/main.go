// Command cc-api serves the reconstruction pipeline's HTTP surface (job submission, status,
// abort/resume, health, metrics, and the cc-stream/audit websockets) and runs an embedded job
// dispatcher so jobs it accepts stream live to this same process's Stream Hub and Audit Log.
// Additional cmd/worker processes can be run alongside it purely for chunk-processing capacity;
// see DESIGN.md for the streaming-locality tradeoff that split implies.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"coherentrecon/internal/api"
	"coherentrecon/internal/audit"
	"coherentrecon/internal/config"
	"coherentrecon/internal/controller"
	"coherentrecon/internal/deltastore"
	"coherentrecon/internal/llmfactory"
	"coherentrecon/internal/queue"
	"coherentrecon/internal/ratelimit"
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
		signal.Notify(ch, os.Interrupt)
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
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	limiter := ratelimit.NewTokenBucket(redisClient, cfg.RateLimitCapacity, cfg.RateLimitRefill, time.Hour)

	deltas := deltastore.New(st.Pool())
	auditLog := audit.New(st.Pool())
	hub := streamhub.New(telemetry.StreamDroppedObservers.Inc)

	llmClient, err := llmfactory.New(cfg)
	if err != nil {
		logger.Fatal("construct llm client", zap.Error(err))
	}

	ctrl := controller.New(st, deltas, auditLog, hub, llmClient, telemetry.ControllerMetrics())

	server := api.New(cfg, st, q, limiter, ctrl, hub, auditLog)
	httpServer := &http.Server{
		Addr:    ":" + cfg.HTTPPort,
		Handler: server.Router(),
	}

	dispatcher := worker.NewDispatcher(cfg, q, ctrl)
	go func() {
		if err := dispatcher.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Error("dispatcher stopped", zap.Error(err))
		}
	}()

	logger.Info("api listening", zap.String("port", cfg.HTTPPort))
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	_ = httpServer.Shutdown(shutdownCtx)
}
