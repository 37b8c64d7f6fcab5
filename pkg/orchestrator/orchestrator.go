// Package orchestrator is the entry point the API and the binaries share:
// publishing events, reading them back, and the manual recovery operations
// on failed events and dead letters.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidEvent = errors.New("invalid event")
	ErrEventBusy    = errors.New("event is being processed")
)

const (
	DefaultDeadLetterLimit = 50
	MaxDeadLetterLimit     = 500
)

type EventStore interface {
	Create(ctx context.Context, event *model.Event) error
	GetByID(ctx context.Context, id uint64) (*model.Event, error)
	Reset(ctx context.Context, id uint64, now time.Time) (*model.Event, error)
	CountByStatus(ctx context.Context, since *time.Time) (map[model.EventStatus]int64, error)
}

type DeadLetterStore interface {
	List(ctx context.Context, limit int) ([]model.DeadLetterRecord, error)
	Requeue(ctx context.Context, id uint64, maxRetries int, now time.Time) (*model.Event, error)
	Count(ctx context.Context) (int64, error)
}

type WorkflowStore interface {
	GetByID(ctx context.Context, id uint64) (*model.WorkflowExecution, error)
	CountByStatus(ctx context.Context) (map[model.WorkflowStatus]int64, error)
}

// Notifier wakes idle workers after an event becomes claimable.
type Notifier interface {
	NotifyPublished(ctx context.Context, eventID uint64) error
}

type PublishRequest struct {
	EventType     string                 `json:"event_type"`
	EventName     string                 `json:"event_name"`
	SourceModule  string                 `json:"source_module"`
	TargetModules []string               `json:"target_modules"`
	Payload       map[string]interface{} `json:"payload"`
	Metadata      map[string]interface{} `json:"metadata"`
	MaxRetries    *int                   `json:"max_retries"`
}

type Options struct {
	MaxRetries int
	Notifier   Notifier
	Now        func() time.Time
}

type Orchestrator struct {
	events      EventStore
	deadLetters DeadLetterStore
	workflows   WorkflowStore
	logger      *zap.Logger
	opts        Options
}

func New(events EventStore, deadLetters DeadLetterStore, workflows WorkflowStore, logger *zap.Logger, opts Options) *Orchestrator {
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Orchestrator{
		events:      events,
		deadLetters: deadLetters,
		workflows:   workflows,
		logger:      logger,
		opts:        opts,
	}
}

// Publish stores a new pending event. Processing always happens later on a
// worker; a failing wake-up notification only delays it until the next poll.
func (o *Orchestrator) Publish(ctx context.Context, req PublishRequest) (*model.Event, error) {
	if req.EventType == "" {
		return nil, fmt.Errorf("%w: event_type is required", ErrInvalidEvent)
	}
	if _, err := json.Marshal(req.Payload); err != nil {
		return nil, fmt.Errorf("%w: payload is not serializable: %v", ErrInvalidEvent, err)
	}
	if _, err := json.Marshal(req.Metadata); err != nil {
		return nil, fmt.Errorf("%w: metadata is not serializable: %v", ErrInvalidEvent, err)
	}

	maxRetries := o.opts.MaxRetries
	if req.MaxRetries != nil {
		if *req.MaxRetries < 0 {
			return nil, fmt.Errorf("%w: max_retries must not be negative", ErrInvalidEvent)
		}
		maxRetries = *req.MaxRetries
	}
	name := req.EventName
	if name == "" {
		name = req.EventType
	}

	now := o.opts.Now()
	event := &model.Event{
		EventType:     req.EventType,
		EventName:     name,
		SourceModule:  req.SourceModule,
		TargetModules: model.StringList(req.TargetModules),
		Payload:       model.JSONB(req.Payload).Clone(),
		Metadata:      model.JSONB(req.Metadata).Clone(),
		Status:        model.EventPending,
		MaxRetries:    maxRetries,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.events.Create(ctx, event); err != nil {
		return nil, fmt.Errorf("store event: %w", err)
	}

	metrics.EventsPublished.WithLabelValues(event.EventType).Inc()
	o.logger.Info("event published",
		zap.Uint64("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("source_module", event.SourceModule),
	)
	o.notify(ctx, event.ID)
	return event, nil
}

func (o *Orchestrator) GetEvent(ctx context.Context, id uint64) (*model.Event, error) {
	event, err := o.events.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return event, nil
}

// RetryEvent makes an event claimable again with a fresh retry budget. A
// failed event's dead letter is removed with it.
func (o *Orchestrator) RetryEvent(ctx context.Context, id uint64) (*model.Event, error) {
	event, err := o.events.Reset(ctx, id, o.opts.Now())
	if err != nil {
		return nil, mapStoreError(err)
	}
	o.logger.Info("event reset for retry", zap.Uint64("event_id", id))
	o.notify(ctx, id)
	return event, nil
}

func (o *Orchestrator) ListDeadLetters(ctx context.Context, limit int) ([]model.DeadLetterRecord, error) {
	if limit <= 0 {
		limit = DefaultDeadLetterLimit
	}
	if limit > MaxDeadLetterLimit {
		limit = MaxDeadLetterLimit
	}
	records, err := o.deadLetters.List(ctx, limit)
	if err != nil {
		return nil, err
	}
	if records == nil {
		records = []model.DeadLetterRecord{}
	}
	return records, nil
}

// RetryDeadLetter re-publishes a dead-lettered event as a brand new pending
// event and removes the record.
func (o *Orchestrator) RetryDeadLetter(ctx context.Context, id uint64) (*model.Event, error) {
	event, err := o.deadLetters.Requeue(ctx, id, o.opts.MaxRetries, o.opts.Now())
	if err != nil {
		return nil, mapStoreError(err)
	}

	metrics.DeadLetterRetries.Inc()
	metrics.EventsPublished.WithLabelValues(event.EventType).Inc()
	o.logger.Info("dead letter re-published",
		zap.Uint64("dead_letter_id", id),
		zap.Uint64("event_id", event.ID),
		zap.String("event_type", event.EventType),
	)
	o.notify(ctx, event.ID)
	return event, nil
}

func (o *Orchestrator) GetWorkflow(ctx context.Context, id uint64) (*model.WorkflowExecution, error) {
	execution, err := o.workflows.GetByID(ctx, id)
	if err != nil {
		return nil, mapStoreError(err)
	}
	return execution, nil
}

// Stats counts events by status, optionally only those created at or after
// since, next to workflow and dead letter totals.
func (o *Orchestrator) Stats(ctx context.Context, since *time.Time) (*model.Stats, error) {
	events, err := o.events.CountByStatus(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("count events: %w", err)
	}
	workflows, err := o.workflows.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("count workflows: %w", err)
	}
	deadLetters, err := o.deadLetters.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("count dead letters: %w", err)
	}
	return &model.Stats{
		Since:             since,
		EventsByStatus:    events,
		WorkflowsByStatus: workflows,
		DeadLetterTotal:   deadLetters,
	}, nil
}

func (o *Orchestrator) notify(ctx context.Context, eventID uint64) {
	if o.opts.Notifier == nil {
		return
	}
	if err := o.opts.Notifier.NotifyPublished(ctx, eventID); err != nil {
		o.logger.Warn("failed to notify workers", zap.Uint64("event_id", eventID), zap.Error(err))
	}
}

func mapStoreError(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFound
	case errors.Is(err, store.ErrConflict):
		return ErrEventBusy
	default:
		return err
	}
}
