package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/eventbus"
	"github.com/servicehub/orchestrator/pkg/logging"
	"github.com/servicehub/orchestrator/pkg/relay"
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

	if len(cfg.Kafka.Brokers) == 0 {
		logger.Fatal("kafka.brokers must be set for the dead letter relay")
	}

	db, err := postgres.NewStore(&cfg.Database)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	producer := eventbus.NewKafkaProducer(eventbus.KafkaProducerConfig{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
		DLQTopic: cfg.Kafka.DLQTopic,
	})
	defer producer.Close()

	r := relay.NewRelay(db.Relay(), producer, logger, cfg.Relay.PollInterval, cfg.Relay.BatchSize)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Redis.Enabled() {
		redis, err := redisclient.NewClient(ctx, &cfg.Redis)
		if err != nil {
			logger.Fatal("failed to connect to redis", zap.Error(err))
		}
		defer redis.Close()

		bus := eventbus.NewBus(redis.Client(), logger)
		go func() {
			for range bus.Subscribe(ctx, eventbus.ChannelDeadLetter) {
				r.Wake()
			}
		}()
	}

	if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("dead letter relay stopped with error", zap.Error(err))
	}
}
