package processor

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/model"
)

// Pool feeds claimed events to a fixed number of worker goroutines. A single
// dispatcher claims batches every poll interval, or right away after Wake.
// A claim never exceeds the number of idle workers, so every claimed event
// starts right away and its processing window begins at claimed_at.
type Pool struct {
	processor    *Processor
	logger       *zap.Logger
	workers      int
	pollInterval time.Duration
	wake         chan struct{}
	idle         chan struct{}
}

func NewPool(processor *Processor, logger *zap.Logger, workers int, pollInterval time.Duration) *Pool {
	if workers <= 0 {
		workers = 4
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Pool{
		processor:    processor,
		logger:       logger,
		workers:      workers,
		pollInterval: pollInterval,
		wake:         make(chan struct{}, 1),
	}
}

// Wake makes the dispatcher poll without waiting for the next tick. It never
// blocks; wake-ups arriving while one is pending are coalesced.
func (p *Pool) Wake() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Run dispatches until ctx is cancelled, then lets the workers finish every
// event already claimed before returning ctx.Err().
func (p *Pool) Run(ctx context.Context) error {
	p.logger.Info("event worker pool starting",
		zap.String("worker_id", p.processor.WorkerID()),
		zap.Int("workers", p.workers),
		zap.Duration("poll_interval", p.pollInterval),
		zap.Int("batch_size", p.processor.BatchSize()),
	)

	jobs := make(chan model.Event, p.workers)
	p.idle = make(chan struct{}, p.workers)
	p.release(p.workers)
	workCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for event := range jobs {
				if _, err := p.processor.ProcessOne(workCtx, event); err != nil {
					p.logger.Warn("failed to record event outcome",
						zap.Uint64("event_id", event.ID),
						zap.Error(err),
					)
				}
				p.release(1)
			}
		}()
	}

	defer func() {
		close(jobs)
		wg.Wait()
		p.logger.Info("event worker pool stopped")
	}()

	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		for p.dispatch(ctx, jobs) {
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-p.wake:
		}
	}
}

// dispatch waits for an idle worker, claims at most one event per idle
// worker and hands them over. It reports whether the claim was full, meaning
// more due events are probably waiting.
func (p *Pool) dispatch(ctx context.Context, jobs chan<- model.Event) bool {
	slots := p.reserve(ctx)
	if slots == 0 {
		return false
	}

	events, err := p.processor.Claim(ctx, slots)
	if err != nil {
		p.release(slots)
		if ctx.Err() == nil {
			p.logger.Warn("failed to claim events", zap.Error(err))
		}
		return false
	}
	p.release(slots - len(events))

	// Claimed events are always handed off, even during shutdown, so none is
	// left in processing for the janitor.
	for _, event := range events {
		jobs <- event
	}
	return len(events) == slots
}

// reserve blocks for one idle worker, then takes every other idle worker up
// to the batch size. It returns 0 once ctx is cancelled.
func (p *Pool) reserve(ctx context.Context) int {
	select {
	case <-ctx.Done():
		return 0
	case <-p.idle:
	}

	slots := 1
	for slots < p.processor.BatchSize() {
		select {
		case <-p.idle:
			slots++
		default:
			return slots
		}
	}
	return slots
}

func (p *Pool) release(n int) {
	for i := 0; i < n; i++ {
		p.idle <- struct{}{}
	}
}
