package health

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/servicehub/orchestrator/pkg/model"
)

// CheckFunc reports the status of one component and an optional message.
type CheckFunc func(ctx context.Context) (model.HealthStatus, string)

type Probe struct {
	Name  string
	Check CheckFunc
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseProbe is down when the store cannot be reached and degraded when
// the round trip takes longer than slow.
func DatabaseProbe(db Pinger, slow time.Duration) Probe {
	return Probe{
		Name: "database",
		Check: func(ctx context.Context) (model.HealthStatus, string) {
			started := time.Now()
			if err := db.Ping(ctx); err != nil {
				return model.StatusDown, err.Error()
			}
			if elapsed := time.Since(started); slow > 0 && elapsed > slow {
				return model.StatusDegraded, fmt.Sprintf("slow response: %s", elapsed.Round(time.Millisecond))
			}
			return model.StatusHealthy, ""
		},
	}
}

func RedisProbe(client redis.UniversalClient) Probe {
	return Probe{
		Name: "redis",
		Check: func(ctx context.Context) (model.HealthStatus, string) {
			if err := client.Ping(ctx).Err(); err != nil {
				return model.StatusDown, err.Error()
			}
			return model.StatusHealthy, ""
		},
	}
}

type StuckCounter interface {
	CountStuck(ctx context.Context, cutoff time.Time) (int64, error)
}

// EventProcessorProbe is degraded while events sit in processing longer
// than timeout, which means a worker died holding them.
func EventProcessorProbe(events StuckCounter, timeout time.Duration) Probe {
	return Probe{
		Name: "event_processor",
		Check: func(ctx context.Context) (model.HealthStatus, string) {
			stuck, err := events.CountStuck(ctx, time.Now().UTC().Add(-timeout))
			if err != nil {
				return model.StatusDown, err.Error()
			}
			if stuck > 0 {
				return model.StatusDegraded, fmt.Sprintf("%d events processing for more than %s", stuck, timeout)
			}
			return model.StatusHealthy, ""
		},
	}
}

type ModulePinger interface {
	Ping(ctx context.Context, module string) error
}

func ModuleProbe(modules ModulePinger, name string) Probe {
	return Probe{
		Name: name,
		Check: func(ctx context.Context) (model.HealthStatus, string) {
			if err := modules.Ping(ctx, name); err != nil {
				return model.StatusDown, err.Error()
			}
			return model.StatusHealthy, ""
		},
	}
}
