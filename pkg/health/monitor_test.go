package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/config"
	"github.com/servicehub/orchestrator/pkg/model"
)

type fakeCounters struct {
	pending     int64
	stuck       int64
	deadLetters int64
	running     int64
	err         error
}

func (f *fakeCounters) CountPending(context.Context) (int64, error) { return f.pending, f.err }

func (f *fakeCounters) CountStuck(context.Context, time.Time) (int64, error) { return f.stuck, f.err }

func (f *fakeCounters) Count(context.Context) (int64, error) { return f.deadLetters, f.err }

func (f *fakeCounters) CountRunning(context.Context) (int64, error) { return f.running, f.err }

func fixed(name string, status model.HealthStatus) Probe {
	return Probe{Name: name, Check: func(context.Context) (model.HealthStatus, string) {
		return status, ""
	}}
}

func newTestMonitor(counters *fakeCounters, probes ...Probe) *Monitor {
	cfg := config.HealthConfig{
		PendingThreshold:    100,
		DeadLetterThreshold: 10,
		ProbeTimeout:        100 * time.Millisecond,
	}
	return NewMonitor(counters, counters, counters, cfg, time.Minute, zap.NewNop(), probes...)
}

func TestAnyDownProbeIsCritical(t *testing.T) {
	m := newTestMonitor(&fakeCounters{},
		fixed("database", model.StatusHealthy),
		fixed("redis", model.StatusHealthy),
		fixed("event_processor", model.StatusHealthy),
		fixed("payments", model.StatusDown),
	)

	heartbeat := m.CheckSystemHealth(context.Background())
	assert.Equal(t, model.StatusCritical, heartbeat.Status)
	assert.Equal(t, 3, heartbeat.HealthyModules)
	assert.Equal(t, 1, heartbeat.DownModules)
	require.Len(t, heartbeat.Modules, 4)
	assert.Equal(t, "payments", heartbeat.Modules[3].Name)
}

func TestDegradedAggregation(t *testing.T) {
	heartbeat := newTestMonitor(&fakeCounters{},
		fixed("database", model.StatusHealthy),
		fixed("event_processor", model.StatusDegraded),
	).CheckSystemHealth(context.Background())
	assert.Equal(t, model.StatusDegraded, heartbeat.Status)
	assert.Equal(t, 1, heartbeat.DegradedModules)

	heartbeat = newTestMonitor(&fakeCounters{pending: 101, running: 2},
		fixed("database", model.StatusHealthy),
	).CheckSystemHealth(context.Background())
	assert.Equal(t, model.StatusDegraded, heartbeat.Status)
	assert.EqualValues(t, 101, heartbeat.EventBusPending)
	assert.EqualValues(t, 2, heartbeat.ActiveWorkflows)
	assert.Len(t, heartbeat.Warnings, 1)

	heartbeat = newTestMonitor(&fakeCounters{deadLetters: 11},
		fixed("database", model.StatusDown),
	).CheckSystemHealth(context.Background())
	assert.Equal(t, model.StatusCritical, heartbeat.Status)
	assert.EqualValues(t, 11, heartbeat.DeadLetterCount)
}

func TestHealthyWhenEverythingIsFine(t *testing.T) {
	heartbeat := newTestMonitor(&fakeCounters{pending: 100, deadLetters: 10, stuck: 0},
		fixed("database", model.StatusHealthy),
	).CheckSystemHealth(context.Background())
	assert.Equal(t, model.StatusHealthy, heartbeat.Status)
	assert.Empty(t, heartbeat.Warnings)
	assert.False(t, heartbeat.CheckedAt.IsZero())
}

func TestCounterErrorsBecomeWarnings(t *testing.T) {
	heartbeat := newTestMonitor(&fakeCounters{err: errors.New("db gone")}).CheckSystemHealth(context.Background())
	assert.Len(t, heartbeat.Warnings, 4)
}

func TestProbeTimeoutAndPanic(t *testing.T) {
	slow := Probe{Name: "slow", Check: func(ctx context.Context) (model.HealthStatus, string) {
		<-ctx.Done()
		return model.StatusHealthy, ""
	}}
	broken := Probe{Name: "broken", Check: func(context.Context) (model.HealthStatus, string) {
		panic("nil client")
	}}

	heartbeat := newTestMonitor(&fakeCounters{}, slow, broken).CheckSystemHealth(context.Background())
	assert.Equal(t, model.StatusCritical, heartbeat.Status)
	assert.Equal(t, model.StatusDown, heartbeat.Modules[0].Status)
	assert.Contains(t, heartbeat.Modules[0].Message, "timed out")
	assert.Equal(t, model.StatusDown, heartbeat.Modules[1].Status)
	assert.Contains(t, heartbeat.Modules[1].Message, "nil client")
	assert.Equal(t, "broken", heartbeat.Modules[1].Name)
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestDatabaseProbe(t *testing.T) {
	ctx := context.Background()

	status, _ := DatabaseProbe(pingFunc(func(context.Context) error { return nil }), time.Second).Check(ctx)
	assert.Equal(t, model.StatusHealthy, status)

	status, msg := DatabaseProbe(pingFunc(func(context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}), time.Millisecond).Check(ctx)
	assert.Equal(t, model.StatusDegraded, status)
	assert.Contains(t, msg, "slow")

	status, msg = DatabaseProbe(pingFunc(func(context.Context) error { return errors.New("refused") }), time.Second).Check(ctx)
	assert.Equal(t, model.StatusDown, status)
	assert.Equal(t, "refused", msg)
}

func TestRedisProbe(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	status, _ := RedisProbe(client).Check(context.Background())
	assert.Equal(t, model.StatusHealthy, status)

	mr.Close()
	status, _ = RedisProbe(client).Check(context.Background())
	assert.Equal(t, model.StatusDown, status)
}

type modulePinger map[string]error

func (m modulePinger) Ping(_ context.Context, module string) error { return m[module] }

func TestModuleAndProcessorProbes(t *testing.T) {
	ctx := context.Background()
	pinger := modulePinger{"payments": errors.New("503")}

	status, _ := ModuleProbe(pinger, "jobs").Check(ctx)
	assert.Equal(t, model.StatusHealthy, status)
	status, _ = ModuleProbe(pinger, "payments").Check(ctx)
	assert.Equal(t, model.StatusDown, status)

	status, msg := EventProcessorProbe(&fakeCounters{stuck: 2}, 5*time.Minute).Check(ctx)
	assert.Equal(t, model.StatusDegraded, status)
	assert.Contains(t, msg, "2 events")
	status, _ = EventProcessorProbe(&fakeCounters{}, 5*time.Minute).Check(ctx)
	assert.Equal(t, model.StatusHealthy, status)
}
