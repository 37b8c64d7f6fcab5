// Package handler maps event types to the code that reacts to them.
package handler

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/servicehub/orchestrator/pkg/model"
)

// Handler reacts to one event. Handlers must be idempotent: an event is
// redelivered after a crash and every handler of a partially failed event
// runs again on the next attempt.
type Handler interface {
	Handle(ctx context.Context, event model.Event) (model.JSONB, error)
}

// Func adapts a plain function to Handler.
type Func func(ctx context.Context, event model.Event) (model.JSONB, error)

func (f Func) Handle(ctx context.Context, event model.Event) (model.JSONB, error) {
	return f(ctx, event)
}

// Registration is a named handler bound to an event type.
type Registration struct {
	Name    string
	Handler Handler
}

type Registry struct {
	mu       sync.RWMutex
	handlers map[string][]Registration
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string][]Registration)}
}

// Register appends h to the handlers of eventType. Names must be unique per
// event type.
func (r *Registry) Register(eventType, name string, h Handler) error {
	if eventType == "" {
		return fmt.Errorf("event type is required")
	}
	if name == "" {
		return fmt.Errorf("handler name is required")
	}
	if h == nil {
		return fmt.Errorf("handler %q for %q is nil", name, eventType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.handlers[eventType] {
		if existing.Name == name {
			return fmt.Errorf("handler %q already registered for %q", name, eventType)
		}
	}
	r.handlers[eventType] = append(r.handlers[eventType], Registration{Name: name, Handler: h})
	return nil
}

// MustRegister is Register for process start-up wiring.
func (r *Registry) MustRegister(eventType, name string, h Handler) {
	if err := r.Register(eventType, name, h); err != nil {
		panic(err)
	}
}

// Handlers returns the handlers of eventType in registration order.
func (r *Registry) Handlers(eventType string) []Registration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	registered := r.handlers[eventType]
	out := make([]Registration, len(registered))
	copy(out, registered)
	return out
}

func (r *Registry) EventTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.handlers))
	for eventType := range r.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}
