package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/apiserver"
	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/eventbus"
	"github.com/servicehub/orchestrator/pkg/health"
	"github.com/servicehub/orchestrator/pkg/logging"
	"github.com/servicehub/orchestrator/pkg/modules"
	"github.com/servicehub/orchestrator/pkg/orchestrator"
	"github.com/servicehub/orchestrator/pkg/store/postgres"
	redisclient "github.com/servicehub/orchestrator/pkg/store/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.Must(cfg.Logging)
	defer logger.Sync()

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			logger.Fatal("Failed to migrate database", zap.Error(err))
		}
	}

	probes := []health.Probe{
		health.DatabaseProbe(db, cfg.Health.SlowProbe),
		health.EventProcessorProbe(db.Events(), cfg.Processor.ProcessingTimeout),
	}

	opts := orchestrator.Options{MaxRetries: cfg.Processor.MaxRetries}
	if cfg.Redis.Enabled() {
		redis, err := redisclient.NewClient(context.Background(), &cfg.Redis)
		if err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer redis.Close()

		opts.Notifier = eventbus.NewBus(redis.Client(), logger)
		probes = append(probes, health.RedisProbe(redis.Client()))
	} else {
		logger.Info("Redis not configured, workers rely on polling")
	}

	moduleClient := modules.NewClient(cfg.Modules, cfg.Health.ProbeTimeout, logger)
	for _, name := range moduleClient.Modules() {
		probes = append(probes, health.ModuleProbe(moduleClient, name))
	}

	orch := orchestrator.New(db.Events(), db.DeadLetters(), db.Workflows(), logger, opts)
	monitor := health.NewMonitor(db.Events(), db.DeadLetters(), db.Workflows(), cfg.Health, cfg.Processor.ProcessingTimeout, logger, probes...)
	server := apiserver.NewServer(orch, monitor, cfg, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      server.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.ReadTimeout * 2,
	}

	go func() {
		logger.Info("Starting API server", zap.Int("port", cfg.Server.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
}
