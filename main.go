package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"workqueue/internal/config"
	"workqueue/internal/log"
	"workqueue/internal/metrics"
	"workqueue/internal/notify"
	"workqueue/internal/retry"
	"workqueue/internal/schema"
	"workqueue/internal/server"
	"workqueue/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	logger := log.NewLogger()
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	pgStore, err := store.NewPGStore(cfg.DatabaseURL, logger)
	if err != nil {
		logger.Fatal("Failed to initialize store", zap.Error(err))
	}
	defer pgStore.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if cfg.BootstrapSchema {
		if err := schema.Ensure(ctx, pgStore.DB()); err != nil {
			logger.Fatal("Failed to bootstrap schema", zap.Error(err))
		}
		logger.Info("Schema bootstrapped")
	}

	var notifier *notify.Notifier
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()
		notifier = notify.NewNotifier(client, logger)
	} else {
		logger.Warn("REDIS_ADDR not set, workers rely on polling alone")
	}

	queueMetrics := metrics.NewQueueMetrics(pgStore, logger)
	go queueMetrics.Run(ctx)

	retryManager := retry.NewRetryManager(pgStore, cfg, logger)
	go retryManager.Run(ctx)

	r := chi.NewRouter()
	server.SetupRouter(r, cfg, pgStore, pgStore, notifier, queueMetrics)
	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: r,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", cfg.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down")
	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}
}
