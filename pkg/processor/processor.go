// Package processor claims due events from the event store, runs their
// handlers and records the outcome: completion, a scheduled retry or a dead
// letter once the retry budget is spent.
package processor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/handler"
	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

type EventStore interface {
	Claim(ctx context.Context, workerID string, limit int, now time.Time) ([]model.Event, error)
	Complete(ctx context.Context, id uint64, claimToken string, result model.JSONB, now time.Time) error
	ScheduleRetry(ctx context.Context, id uint64, claimToken, lastError string, nextAttemptAt, now time.Time) error
	Fail(ctx context.Context, event *model.Event, claimToken, errMessage, errStack string, now time.Time) (*model.DeadLetterRecord, error)
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeRetry     Outcome = "retry"
	OutcomeFailed    Outcome = "failed"
	// OutcomeClaimLost means the event was reclaimed while its handlers ran
	// and nothing was written.
	OutcomeClaimLost Outcome = "claim_lost"
)

type Options struct {
	WorkerID       string
	BatchSize      int
	HandlerTimeout time.Duration
	Backoff        *Backoff
	Now            func() time.Time

	// OnDeadLetter runs after a dead letter is committed. Optional.
	OnDeadLetter func(ctx context.Context, record *model.DeadLetterRecord)
}

func OptionsFromConfig(cfg config.ProcessorConfig) Options {
	return Options{
		BatchSize:      cfg.BatchSize,
		HandlerTimeout: cfg.HandlerTimeout,
		Backoff:        BackoffFromConfig(cfg),
	}
}

type Processor struct {
	events   EventStore
	registry *handler.Registry
	logger   *zap.Logger
	opts     Options
}

func New(events EventStore, registry *handler.Registry, logger *zap.Logger, opts Options) *Processor {
	if opts.WorkerID == "" {
		opts.WorkerID = defaultWorkerID()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.HandlerTimeout <= 0 {
		opts.HandlerTimeout = 30 * time.Second
	}
	if opts.Backoff == nil {
		opts.Backoff = NewBackoff(0, 0, true)
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Processor{
		events:   events,
		registry: registry,
		logger:   logger,
		opts:     opts,
	}
}

func defaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%s", host, uuid.NewString()[:8])
}

func (p *Processor) WorkerID() string {
	return p.opts.WorkerID
}

func (p *Processor) BatchSize() int {
	return p.opts.BatchSize
}

// Claim takes up to limit due events for this worker.
func (p *Processor) Claim(ctx context.Context, limit int) ([]model.Event, error) {
	if limit <= 0 {
		limit = p.opts.BatchSize
	}
	return p.events.Claim(ctx, p.opts.WorkerID, limit, p.opts.Now())
}

// RunOnce claims one batch and processes it on the calling goroutine. It
// returns how many events were claimed.
func (p *Processor) RunOnce(ctx context.Context) (int, error) {
	events, err := p.Claim(ctx, p.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	for _, event := range events {
		if _, err := p.ProcessOne(ctx, event); err != nil {
			p.logger.Warn("failed to record event outcome",
				zap.Uint64("event_id", event.ID),
				zap.Error(err),
			)
		}
	}
	return len(events), nil
}

// ProcessOne runs every handler registered for a claimed event in
// registration order and records the outcome. Handler failures are never
// returned as errors; the error result only reports store failures.
func (p *Processor) ProcessOne(ctx context.Context, event model.Event) (Outcome, error) {
	logger := p.logger.With(
		zap.Uint64("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.Int("retry_count", event.RetryCount),
	)

	registrations := p.registry.Handlers(event.EventType)
	if len(registrations) == 0 {
		logger.Debug("no handler registered, completing event")
		return p.complete(ctx, logger, event, model.JSONB{})
	}

	merged := model.JSONB{}
	for _, reg := range registrations {
		started := time.Now()
		result, stack, err := p.invoke(ctx, reg, event)
		metrics.HandlerDuration.WithLabelValues(event.EventType, reg.Name).Observe(time.Since(started).Seconds())
		if err != nil {
			if stack == "" {
				stack = errorTrace(reg.Name, event, err)
			}
			return p.handleFailure(ctx, logger, event, fmt.Errorf("handler %s: %w", reg.Name, err), stack)
		}
		merged = merged.Merge(result)
	}

	return p.complete(ctx, logger, event, merged)
}

// errorTrace describes a handler error that carries no panic stack: the
// failing handler and attempt, then one line per wrapped error.
func errorTrace(handlerName string, event model.Event, err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "handler=%s event_id=%d event_type=%s attempt=%d retry_count=%d max_retries=%d\n",
		handlerName, event.ID, event.EventType, event.RetryCount+1, event.RetryCount, event.MaxRetries)
	for depth := 0; err != nil; depth++ {
		fmt.Fprintf(&b, "%d: %T: %s\n", depth, err, err.Error())
		err = errors.Unwrap(err)
	}
	return model.Truncate(b.String(), model.MaxErrorStackLength)
}

type handlerResult struct {
	result model.JSONB
	stack  string
	err    error
}

// invoke runs one handler behind a timeout and a panic boundary. A handler
// that ignores its context keeps running in the background after the
// timeout fires; its late result is discarded.
func (p *Processor) invoke(ctx context.Context, reg handler.Registration, event model.Event) (model.JSONB, string, error) {
	hctx, cancel := context.WithTimeout(ctx, p.opts.HandlerTimeout)
	defer cancel()

	done := make(chan handlerResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- handlerResult{
					err:   fmt.Errorf("panic: %v", r),
					stack: string(debug.Stack()),
				}
			}
		}()
		result, err := reg.Handler.Handle(hctx, event)
		done <- handlerResult{result: result, err: err}
	}()

	select {
	case res := <-done:
		return res.result, res.stack, res.err
	case <-hctx.Done():
		if errors.Is(hctx.Err(), context.DeadlineExceeded) {
			return nil, "", fmt.Errorf("timed out after %s", p.opts.HandlerTimeout)
		}
		return nil, "", hctx.Err()
	}
}

func (p *Processor) complete(ctx context.Context, logger *zap.Logger, event model.Event, result model.JSONB) (Outcome, error) {
	if err := p.events.Complete(ctx, event.ID, event.ClaimToken, result, p.opts.Now()); err != nil {
		return p.storeError(logger, event, err)
	}
	metrics.EventsProcessed.WithLabelValues(event.EventType, string(OutcomeCompleted)).Inc()
	logger.Info("event completed")
	return OutcomeCompleted, nil
}

func (p *Processor) handleFailure(ctx context.Context, logger *zap.Logger, event model.Event, cause error, stack string) (Outcome, error) {
	now := p.opts.Now()

	if event.RetryCount < event.MaxRetries {
		attempt := event.RetryCount + 1
		next := now.Add(p.opts.Backoff.Delay(attempt))
		if err := p.events.ScheduleRetry(ctx, event.ID, event.ClaimToken, cause.Error(), next, now); err != nil {
			return p.storeError(logger, event, err)
		}
		metrics.EventsProcessed.WithLabelValues(event.EventType, string(OutcomeRetry)).Inc()
		logger.Warn("event handler failed, retry scheduled",
			zap.Error(cause),
			zap.Int("attempt", attempt),
			zap.Time("next_attempt_at", next),
		)
		return OutcomeRetry, nil
	}

	record, err := p.events.Fail(ctx, &event, event.ClaimToken, cause.Error(), stack, now)
	if err != nil {
		return p.storeError(logger, event, err)
	}
	metrics.EventsProcessed.WithLabelValues(event.EventType, string(OutcomeFailed)).Inc()
	metrics.DeadLettersTotal.WithLabelValues(event.EventType).Inc()
	logger.Error("event failed, moved to dead letter queue",
		zap.Error(cause),
		zap.Uint64("dead_letter_id", record.ID),
	)
	if p.opts.OnDeadLetter != nil {
		p.opts.OnDeadLetter(ctx, record)
	}
	return OutcomeFailed, nil
}

func (p *Processor) storeError(logger *zap.Logger, event model.Event, err error) (Outcome, error) {
	if errors.Is(err, store.ErrClaimLost) {
		metrics.ClaimConflicts.Inc()
		logger.Warn("claim lost while processing, dropping outcome")
		return OutcomeClaimLost, nil
	}
	return "", fmt.Errorf("record outcome of event %d: %w", event.ID, err)
}
