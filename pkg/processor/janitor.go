package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/store"
)

// ErrProcessingTimedOut is recorded on events reclaimed by the janitor.
var ErrProcessingTimedOut = errors.New("processing timed out")

type StuckEventStore interface {
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]model.Event, error)
	ScheduleRetry(ctx context.Context, id uint64, claimToken, lastError string, nextAttemptAt, now time.Time) error
	Fail(ctx context.Context, event *model.Event, claimToken, errMessage, errStack string, now time.Time) (*model.DeadLetterRecord, error)
}

// Janitor reclaims events whose worker stopped reporting: anything still in
// processing after the processing timeout goes back to retry, or to the dead
// letter queue when its retry budget is spent.
type Janitor struct {
	events   StuckEventStore
	logger   *zap.Logger
	backoff  *Backoff
	timeout  time.Duration
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewJanitor(events StuckEventStore, logger *zap.Logger, backoff *Backoff, timeout, interval time.Duration) *Janitor {
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if backoff == nil {
		backoff = NewBackoff(0, 0, true)
	}
	return &Janitor{
		events:   events,
		logger:   logger,
		backoff:  backoff,
		timeout:  timeout,
		interval: interval,
		batch:    100,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (j *Janitor) Run(ctx context.Context) error {
	j.logger.Info("janitor starting",
		zap.Duration("processing_timeout", j.timeout),
		zap.Duration("interval", j.interval),
	)

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		if _, err := j.Sweep(ctx); err != nil && ctx.Err() == nil {
			j.logger.Warn("janitor sweep failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			j.logger.Info("janitor shutting down")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Sweep reclaims one batch of stuck events and returns how many it moved.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	now := j.now()
	stuck, err := j.events.ListStuck(ctx, now.Add(-j.timeout), j.batch)
	if err != nil {
		return 0, fmt.Errorf("list stuck events: %w", err)
	}

	reclaimed := 0
	for i := range stuck {
		event := stuck[i]
		ok, err := j.reclaim(ctx, &event, now)
		if err != nil {
			return reclaimed, err
		}
		if ok {
			reclaimed++
		}
	}
	return reclaimed, nil
}

func (j *Janitor) reclaim(ctx context.Context, event *model.Event, now time.Time) (bool, error) {
	logger := j.logger.With(
		zap.Uint64("event_id", event.ID),
		zap.String("event_type", event.EventType),
		zap.String("claimed_by", event.ClaimedBy),
	)
	reason := ErrProcessingTimedOut.Error()

	var err error
	outcome := "retry"
	if event.RetryCount < event.MaxRetries {
		next := now.Add(j.backoff.Delay(event.RetryCount + 1))
		err = j.events.ScheduleRetry(ctx, event.ID, event.ClaimToken, reason, next, now)
	} else {
		outcome = "failed"
		_, err = j.events.Fail(ctx, event, event.ClaimToken, reason, j.trace(event, now), now)
	}

	if errors.Is(err, store.ErrClaimLost) {
		// The worker finished after all.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reclaim event %d: %w", event.ID, err)
	}

	metrics.EventsReclaimed.WithLabelValues(outcome).Inc()
	if outcome == "failed" {
		metrics.DeadLettersTotal.WithLabelValues(event.EventType).Inc()
	}
	logger.Warn("reclaimed stuck event", zap.String("outcome", outcome))
	return true, nil
}

func (j *Janitor) trace(event *model.Event, now time.Time) string {
	claimedAt := "unknown"
	if event.ClaimedAt != nil {
		claimedAt = event.ClaimedAt.UTC().Format(time.RFC3339Nano)
	}
	return fmt.Sprintf("reclaimed by janitor at %s: claimed_by=%s claimed_at=%s processing_timeout=%s retry_count=%d max_retries=%d",
		now.UTC().Format(time.RFC3339Nano), event.ClaimedBy, claimedAt, j.timeout, event.RetryCount, event.MaxRetries)
}
