package processor

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/servicehub/orchestrator/pkg/config"
)

const (
	defaultBackoffBase = 2 * time.Second
	defaultBackoffMax  = 5 * time.Minute
)

// Backoff computes the delay before retry attempt n (1-based):
// base * 2^(n-1), capped at Max. With Jitter the delay is drawn uniformly
// from [0, delay].
type Backoff struct {
	Base   time.Duration
	Max    time.Duration
	Jitter bool

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewBackoff(base, max time.Duration, jitter bool) *Backoff {
	if base <= 0 {
		base = defaultBackoffBase
	}
	if max < base {
		max = defaultBackoffMax
		if max < base {
			max = base
		}
	}
	return &Backoff{
		Base:   base,
		Max:    max,
		Jitter: jitter,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func BackoffFromConfig(cfg config.ProcessorConfig) *Backoff {
	return NewBackoff(cfg.BackoffBase, cfg.BackoffMax, cfg.BackoffJitter)
}

func (b *Backoff) Delay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	delay := float64(b.Base) * math.Pow(2, float64(attempt-1))
	if delay > float64(b.Max) || math.IsInf(delay, 0) {
		delay = float64(b.Max)
	}
	if !b.Jitter {
		return time.Duration(delay)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return time.Duration(b.rnd.Int63n(int64(delay) + 1))
}
