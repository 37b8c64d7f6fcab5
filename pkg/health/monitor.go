// Package health aggregates probe results and store counters into the
// system heartbeat.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/metrics"
	"github.com/servicehub/orchestrator/pkg/model"
)

type EventCounter interface {
	CountPending(ctx context.Context) (int64, error)
	CountStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

type DeadLetterCounter interface {
	Count(ctx context.Context) (int64, error)
}

type WorkflowCounter interface {
	CountRunning(ctx context.Context) (int64, error)
}

type Monitor struct {
	probes            []Probe
	events            EventCounter
	deadLetters       DeadLetterCounter
	workflows         WorkflowCounter
	cfg               config.HealthConfig
	processingTimeout time.Duration
	logger            *zap.Logger
	now               func() time.Time
}

func NewMonitor(events EventCounter, deadLetters DeadLetterCounter, workflows WorkflowCounter, cfg config.HealthConfig, processingTimeout time.Duration, logger *zap.Logger, probes ...Probe) *Monitor {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if processingTimeout <= 0 {
		processingTimeout = 5 * time.Minute
	}
	return &Monitor{
		probes:            probes,
		events:            events,
		deadLetters:       deadLetters,
		workflows:         workflows,
		cfg:               cfg,
		processingTimeout: processingTimeout,
		logger:            logger,
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// CheckSystemHealth runs every probe concurrently and folds the results and
// the queue counters into one heartbeat. The aggregate is critical when any
// probe is down, degraded when any probe is degraded or a backlog threshold
// is exceeded, healthy otherwise.
func (m *Monitor) CheckSystemHealth(ctx context.Context) model.SystemHeartbeat {
	results := make([]model.ModuleHealth, len(m.probes))

	var wg sync.WaitGroup
	for i, probe := range m.probes {
		wg.Add(1)
		go func(i int, probe Probe) {
			defer wg.Done()
			results[i] = m.run(ctx, probe)
		}(i, probe)
	}

	heartbeat := model.SystemHeartbeat{CheckedAt: m.now()}
	m.collectCounters(ctx, &heartbeat)
	wg.Wait()

	heartbeat.Modules = results
	for _, result := range results {
		switch result.Status {
		case model.StatusHealthy:
			heartbeat.HealthyModules++
		case model.StatusDegraded:
			heartbeat.DegradedModules++
		default:
			heartbeat.DownModules++
		}
	}

	heartbeat.Status = model.StatusHealthy
	switch {
	case heartbeat.DownModules > 0:
		heartbeat.Status = model.StatusCritical
	case heartbeat.DegradedModules > 0:
		heartbeat.Status = model.StatusDegraded
	}

	if m.cfg.PendingThreshold > 0 && heartbeat.EventBusPending > m.cfg.PendingThreshold {
		heartbeat.Warnings = append(heartbeat.Warnings,
			fmt.Sprintf("%d events pending, threshold %d", heartbeat.EventBusPending, m.cfg.PendingThreshold))
		m.degrade(&heartbeat)
	}
	if m.cfg.DeadLetterThreshold > 0 && heartbeat.DeadLetterCount > m.cfg.DeadLetterThreshold {
		heartbeat.Warnings = append(heartbeat.Warnings,
			fmt.Sprintf("%d dead letters, threshold %d", heartbeat.DeadLetterCount, m.cfg.DeadLetterThreshold))
		m.degrade(&heartbeat)
	}

	m.publish(heartbeat)
	if heartbeat.Status != model.StatusHealthy {
		m.logger.Warn("system health check",
			zap.String("status", string(heartbeat.Status)),
			zap.Int("down_modules", heartbeat.DownModules),
			zap.Int("degraded_modules", heartbeat.DegradedModules),
			zap.Strings("warnings", heartbeat.Warnings),
		)
	}
	return heartbeat
}

func (m *Monitor) degrade(heartbeat *model.SystemHeartbeat) {
	if heartbeat.Status == model.StatusHealthy {
		heartbeat.Status = model.StatusDegraded
	}
}

func (m *Monitor) run(ctx context.Context, probe Probe) (result model.ModuleHealth) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	started := time.Now()
	defer func() {
		result.Name = probe.Name
		result.LatencyMs = time.Since(started).Milliseconds()
		if r := recover(); r != nil {
			result.Status = model.StatusDown
			result.Message = fmt.Sprintf("probe panicked: %v", r)
		}
	}()

	status, message := probe.Check(pctx)
	if errors.Is(pctx.Err(), context.DeadlineExceeded) && status == model.StatusHealthy {
		status, message = model.StatusDown, fmt.Sprintf("timed out after %s", m.cfg.ProbeTimeout)
	}
	return model.ModuleHealth{Status: status, Message: message}
}

func (m *Monitor) collectCounters(ctx context.Context, heartbeat *model.SystemHeartbeat) {
	var err error
	if heartbeat.EventBusPending, err = m.events.CountPending(ctx); err != nil {
		heartbeat.Warnings = append(heartbeat.Warnings, "count pending events: "+err.Error())
	}
	if heartbeat.StuckEvents, err = m.events.CountStuck(ctx, heartbeat.CheckedAt.Add(-m.processingTimeout)); err != nil {
		heartbeat.Warnings = append(heartbeat.Warnings, "count stuck events: "+err.Error())
	}
	if heartbeat.DeadLetterCount, err = m.deadLetters.Count(ctx); err != nil {
		heartbeat.Warnings = append(heartbeat.Warnings, "count dead letters: "+err.Error())
	}
	if heartbeat.ActiveWorkflows, err = m.workflows.CountRunning(ctx); err != nil {
		heartbeat.Warnings = append(heartbeat.Warnings, "count running workflows: "+err.Error())
	}
}

func (m *Monitor) publish(heartbeat model.SystemHeartbeat) {
	metrics.HeartbeatStatus.WithLabelValues("system").Set(statusValue(heartbeat.Status))
	for _, module := range heartbeat.Modules {
		metrics.HeartbeatStatus.WithLabelValues(module.Name).Set(statusValue(module.Status))
	}
	metrics.EventBusPending.Set(float64(heartbeat.EventBusPending))
	metrics.DeadLetterCount.Set(float64(heartbeat.DeadLetterCount))
	metrics.ActiveWorkflows.Set(float64(heartbeat.ActiveWorkflows))
	metrics.StuckEvents.Set(float64(heartbeat.StuckEvents))
}

func statusValue(status model.HealthStatus) float64 {
	switch status {
	case model.StatusHealthy:
		return 0
	case model.StatusDegraded:
		return 1
	case model.StatusDown:
		return 2
	default:
		return 3
	}
}
