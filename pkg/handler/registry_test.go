package handler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servicehub/orchestrator/pkg/model"
)

func noop(result model.JSONB) Func {
	return func(context.Context, model.Event) (model.JSONB, error) {
		return result, nil
	}
}

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("quote.approved", "workflow", noop(nil)))
	require.NoError(t, r.Register("quote.approved", "audit", noop(nil)))
	require.NoError(t, r.Register("job.created", "notify", noop(nil)))

	handlers := r.Handlers("quote.approved")
	require.Len(t, handlers, 2)
	assert.Equal(t, "workflow", handlers[0].Name)
	assert.Equal(t, "audit", handlers[1].Name)

	assert.Empty(t, r.Handlers("unknown.type"))
	assert.Equal(t, []string{"job.created", "quote.approved"}, r.EventTypes())
}

func TestRegistryRejectsInvalidRegistrations(t *testing.T) {
	r := NewRegistry()

	assert.Error(t, r.Register("", "x", noop(nil)))
	assert.Error(t, r.Register("a.b", "", noop(nil)))
	assert.Error(t, r.Register("a.b", "x", nil))

	require.NoError(t, r.Register("a.b", "x", noop(nil)))
	assert.Error(t, r.Register("a.b", "x", noop(nil)))

	assert.Panics(t, func() { r.MustRegister("a.b", "x", noop(nil)) })
}

func TestHandlersReturnsCopy(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("a.b", "x", noop(nil))

	handlers := r.Handlers("a.b")
	handlers[0].Name = "mutated"

	assert.Equal(t, "x", r.Handlers("a.b")[0].Name)
}

func TestFuncAdapter(t *testing.T) {
	var h Handler = noop(model.JSONB{"ok": true})
	result, err := h.Handle(context.Background(), model.Event{})
	require.NoError(t, err)
	assert.Equal(t, true, result["ok"])
}
