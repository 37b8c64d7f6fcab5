// Package relay forwards dead letters to Kafka so that other systems can
// alert on them or archive them.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/eventbus"
	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
)

type Repository interface {
	ListUnforwarded(ctx context.Context, limit int) ([]model.DeadLetterRecord, error)
	MarkForwarded(ctx context.Context, id uint64, forwardedAt time.Time) error
}

type Publisher interface {
	PublishDLQ(ctx context.Context, key, value []byte, headers ...kafka.Header) error
}

type Relay struct {
	repo         Repository
	publisher    Publisher
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int
	wake         chan struct{}
}

// Message is the JSON document written for every dead letter.
type Message struct {
	DeadLetterID uint64      `json:"dead_letter_id"`
	EventID      uint64      `json:"event_id"`
	EventType    string      `json:"event_type"`
	EventName    string      `json:"event_name"`
	SourceModule string      `json:"source_module"`
	Payload      model.JSONB `json:"payload"`
	Metadata     model.JSONB `json:"metadata"`
	ErrorMessage string      `json:"error_message"`
	ErrorStack   string      `json:"error_stack,omitempty"`
	RetryCount   int         `json:"retry_count"`
	FailedAt     time.Time   `json:"failed_at"`
}

func NewRelay(repo Repository, publisher Publisher, logger *zap.Logger, pollInterval time.Duration, batchSize int) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Relay{
		repo:         repo,
		publisher:    publisher,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		wake:         make(chan struct{}, 1),
	}
}

// Wake triggers a forwarding pass without waiting for the next tick.
func (r *Relay) Wake() {
	select {
	case r.wake <- struct{}{}:
	default:
	}
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("dead letter relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.ForwardPending(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("failed to forward dead letters", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			r.logger.Info("dead letter relay shutting down")
			return ctx.Err()
		case <-ticker.C:
		case <-r.wake:
		}
	}
}

// ForwardPending publishes one batch of unforwarded dead letters in failure
// order. It stops at the first publish error so that the record is retried
// on the next pass; a record may be published twice if marking fails.
func (r *Relay) ForwardPending(ctx context.Context) (int, error) {
	records, err := r.repo.ListUnforwarded(ctx, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("list unforwarded dead letters: %w", err)
	}

	forwarded := 0
	for _, record := range records {
		if err := r.forward(ctx, record); err != nil {
			metrics.DeadLettersForwarded.WithLabelValues("error").Inc()
			return forwarded, err
		}
		metrics.DeadLettersForwarded.WithLabelValues("ok").Inc()
		forwarded++
	}
	return forwarded, nil
}

func (r *Relay) forward(ctx context.Context, record model.DeadLetterRecord) error {
	message := Message{
		DeadLetterID: record.ID,
		EventID:      record.EventID,
		EventType:    record.EventType,
		EventName:    record.EventName,
		SourceModule: record.SourceModule,
		Payload:      record.Payload,
		Metadata:     record.Metadata,
		ErrorMessage: record.ErrorMessage,
		ErrorStack:   record.ErrorStack,
		RetryCount:   record.RetryCount,
		FailedAt:     record.FailedAt,
	}
	value, err := json.Marshal(message)
	if err != nil {
		return err
	}

	key := []byte(strconv.FormatUint(record.EventID, 10))
	headers := []kafka.Header{
		{Key: eventbus.HeaderEventID, Value: key},
		{Key: eventbus.HeaderEventType, Value: []byte(record.EventType)},
		{Key: eventbus.HeaderDeadLetterID, Value: []byte(strconv.FormatUint(record.ID, 10))},
		{Key: eventbus.HeaderRetryCount, Value: []byte(strconv.Itoa(record.RetryCount))},
	}

	if err := r.publisher.PublishDLQ(ctx, key, value, headers...); err != nil {
		return fmt.Errorf("publish dead letter %d: %w", record.ID, err)
	}

	if err := r.repo.MarkForwarded(ctx, record.ID, time.Now().UTC()); err != nil {
		return fmt.Errorf("mark dead letter %d forwarded: %w", record.ID, err)
	}

	r.logger.Debug("dead letter forwarded",
		zap.Uint64("dead_letter_id", record.ID),
		zap.Uint64("event_id", record.EventID),
	)
	return nil
}
