package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/eventbus"
	"github.com/servicehub/orchestrator/pkg/flows"
	"github.com/servicehub/orchestrator/pkg/handler"
	"github.com/servicehub/orchestrator/pkg/leader"
	"github.com/servicehub/orchestrator/pkg/logging"
	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/modules"
	"github.com/servicehub/orchestrator/pkg/processor"
	"github.com/servicehub/orchestrator/pkg/store/postgres"
	redisclient "github.com/servicehub/orchestrator/pkg/store/redis"
	"github.com/servicehub/orchestrator/pkg/workflow"
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
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(); err != nil {
			logger.Fatal("failed to migrate database", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var bus *eventbus.Bus
	if cfg.Redis.Enabled() {
		redis, err := redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()
		bus = eventbus.NewBus(redis.Client(), logger)
	}

	registry := handler.NewRegistry()
	moduleClient := modules.NewClient(cfg.Modules, cfg.Processor.HandlerTimeout, logger)
	engine := workflow.NewEngine(db.Workflows(), logger)
	if _, err := flows.RegisterQuoteApprovedFlow(registry, engine, moduleClient.Dependencies(), logger); err != nil {
		logger.Fatal("failed to register workflows", zap.Error(err))
	}
	logger.Info("handlers registered", zap.Strings("event_types", registry.EventTypes()))

	opts := processor.OptionsFromConfig(cfg.Processor)
	if bus != nil {
		opts.OnDeadLetter = func(ctx context.Context, record *model.DeadLetterRecord) {
			err := bus.NotifyDeadLettered(ctx, eventbus.DeadLetterEvent{
				EventID:      record.EventID,
				DeadLetterID: record.ID,
				EventType:    record.EventType,
			})
			if err != nil {
				logger.Warn("failed to announce dead letter", zap.Uint64("dead_letter_id", record.ID), zap.Error(err))
			}
		}
	}

	proc := processor.New(db.Events(), registry, logger, opts)
	pool := processor.NewPool(proc, logger, cfg.Processor.Workers, cfg.Processor.PollInterval)
	janitor := processor.NewJanitor(db.Events(), logger, opts.Backoff, cfg.Processor.ProcessingTimeout, cfg.Processor.JanitorInterval)

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error(name+" stopped with error", zap.Error(err))
				stop()
			}
		}()
	}

	run("worker pool", pool.Run)
	run("metrics server", func(ctx context.Context) error {
		return metrics.Serve(ctx, metrics.NewServer(cfg.Server.MetricsPort, cfg.Server.ReadTimeout), logger)
	})

	if bus != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.WakeOnPublish(ctx, pool.Wake)
		}()
	}

	if cfg.Kubernetes.LeaderElection {
		client, err := leader.NewKubernetesClient(cfg.Kubernetes)
		if err != nil {
			logger.Fatal("failed to create kubernetes client", zap.Error(err))
		}
		elector := leader.NewElector(client, cfg.Kubernetes, logger)
		run("janitor election", func(ctx context.Context) error {
			return elector.Run(ctx, func(ctx context.Context) {
				if err := janitor.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("janitor stopped with error", zap.Error(err))
				}
			})
		})
	} else {
		run("janitor", janitor.Run)
	}

	logger.Info("event worker started",
		zap.String("worker_id", proc.WorkerID()),
		zap.Int("workers", cfg.Processor.Workers),
	)
	<-ctx.Done()
	logger.Info("event worker shutting down")
	wg.Wait()
}
