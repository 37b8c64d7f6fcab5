// Package flows holds the sagas the orchestrator runs in production.
package flows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/handler"
	"github.com/servicehub/orchestrator/pkg/model"
	"github.com/servicehub/orchestrator/pkg/workflow"
)

const (
	EventQuoteApproved    = "quote.approved"
	QuoteApprovedWorkflow = "quote_approved_flow"

	StepCreateJob         = "create_job"
	StepCreateWorkOrder   = "create_work_order"
	StepCreateDeposit     = "create_deposit_payment"
	StepSendNotifications = "send_notifications"

	defaultDepositPercent = 30.0
)

var ErrInvalidPayload = errors.New("invalid quote.approved payload")

// ResourceID is an identifier returned by a business module. Modules answer
// with either JSON numbers or strings.
type ResourceID string

func (id *ResourceID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*id = ResourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("resource id must be a string or number: %w", err)
	}
	*id = ResourceID(n.String())
	return nil
}

type JobRequest struct {
	QuoteID        string  `json:"quote_id"`
	CustomerID     string  `json:"customer_id,omitempty"`
	TotalPrice     float64 `json:"total_price"`
	IdempotencyKey string  `json:"-"`
}

type WorkOrderRequest struct {
	JobID          ResourceID `json:"job_id"`
	QuoteID        string     `json:"quote_id"`
	IdempotencyKey string     `json:"-"`
}

type DepositRequest struct {
	JobID          ResourceID `json:"job_id"`
	QuoteID        string     `json:"quote_id"`
	Amount         float64    `json:"amount"`
	IdempotencyKey string     `json:"-"`
}

type Notification struct {
	Template       string            `json:"template"`
	CustomerID     string            `json:"customer_id,omitempty"`
	Data           map[string]string `json:"data"`
	IdempotencyKey string            `json:"-"`
}

type JobCreator interface {
	CreateJob(ctx context.Context, req JobRequest) (ResourceID, error)
}

type WorkOrderCreator interface {
	CreateWorkOrder(ctx context.Context, req WorkOrderRequest) (ResourceID, error)
}

type PaymentScheduler interface {
	ScheduleDeposit(ctx context.Context, req DepositRequest) (ResourceID, error)
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

type Dependencies struct {
	Jobs          JobCreator
	WorkOrders    WorkOrderCreator
	Payments      PaymentScheduler
	Notifications Notifier
}

type quote struct {
	ID             string
	CustomerID     string
	TotalPrice     float64
	DepositPercent float64
}

// NewQuoteApprovedFlow builds the saga that turns an approved quote into a
// job, a work order and a deposit payment, then notifies the customer.
func NewQuoteApprovedFlow(engine *workflow.Engine, deps Dependencies, logger *zap.Logger) *workflow.Saga {
	return workflow.NewSaga(QuoteApprovedWorkflow, engine, logger,
		workflow.Step{Name: StepCreateJob, Run: func(ctx context.Context, event model.Event, _ model.JSONB) (model.JSONB, error) {
			q, err := parseQuote(event.Payload)
			if err != nil {
				return nil, err
			}
			id, err := deps.Jobs.CreateJob(ctx, JobRequest{
				QuoteID:        q.ID,
				CustomerID:     q.CustomerID,
				TotalPrice:     q.TotalPrice,
				IdempotencyKey: idempotencyKey(event, StepCreateJob),
			})
			if err != nil {
				return nil, err
			}
			return model.JSONB{"job_id": string(id)}, nil
		}},
		workflow.Step{Name: StepCreateWorkOrder, Run: func(ctx context.Context, event model.Event, state model.JSONB) (model.JSONB, error) {
			q, err := parseQuote(event.Payload)
			if err != nil {
				return nil, err
			}
			jobID, err := stateID(state, "job_id")
			if err != nil {
				return nil, err
			}
			id, err := deps.WorkOrders.CreateWorkOrder(ctx, WorkOrderRequest{
				JobID:          jobID,
				QuoteID:        q.ID,
				IdempotencyKey: idempotencyKey(event, StepCreateWorkOrder),
			})
			if err != nil {
				return nil, err
			}
			return model.JSONB{"work_order_id": string(id)}, nil
		}},
		workflow.Step{Name: StepCreateDeposit, Run: func(ctx context.Context, event model.Event, state model.JSONB) (model.JSONB, error) {
			q, err := parseQuote(event.Payload)
			if err != nil {
				return nil, err
			}
			jobID, err := stateID(state, "job_id")
			if err != nil {
				return nil, err
			}
			amount := q.TotalPrice * q.DepositPercent / 100
			id, err := deps.Payments.ScheduleDeposit(ctx, DepositRequest{
				JobID:          jobID,
				QuoteID:        q.ID,
				Amount:         amount,
				IdempotencyKey: idempotencyKey(event, StepCreateDeposit),
			})
			if err != nil {
				return nil, err
			}
			return model.JSONB{"payment_id": string(id), "deposit_amount": amount}, nil
		}},
		workflow.Step{Name: StepSendNotifications, Run: func(ctx context.Context, event model.Event, state model.JSONB) (model.JSONB, error) {
			q, err := parseQuote(event.Payload)
			if err != nil {
				return nil, err
			}
			data := map[string]string{"quote_id": q.ID}
			for _, key := range []string{"job_id", "work_order_id", "payment_id"} {
				if v, ok := state[key].(string); ok {
					data[key] = v
				}
			}
			err = deps.Notifications.Notify(ctx, Notification{
				Template:       "quote_approved",
				CustomerID:     q.CustomerID,
				Data:           data,
				IdempotencyKey: idempotencyKey(event, StepSendNotifications),
			})
			if err != nil {
				return nil, err
			}
			return model.JSONB{"notified": true}, nil
		}},
	)
}

// RegisterQuoteApprovedFlow wires the saga to quote.approved events.
func RegisterQuoteApprovedFlow(registry *handler.Registry, engine *workflow.Engine, deps Dependencies, logger *zap.Logger) (*workflow.Saga, error) {
	saga := NewQuoteApprovedFlow(engine, deps, logger)
	if err := registry.Register(EventQuoteApproved, saga.Name(), saga); err != nil {
		return nil, err
	}
	return saga, nil
}

func idempotencyKey(event model.Event, step string) string {
	return fmt.Sprintf("event-%d-%s", event.ID, step)
}

func parseQuote(payload model.JSONB) (quote, error) {
	id, ok := scalarString(payload["quote_id"])
	if !ok || id == "" {
		return quote{}, fmt.Errorf("%w: quote_id is required", ErrInvalidPayload)
	}
	total, ok := number(payload["total_price"])
	if !ok || total < 0 {
		return quote{}, fmt.Errorf("%w: total_price must be a non-negative number", ErrInvalidPayload)
	}

	q := quote{ID: id, TotalPrice: total, DepositPercent: defaultDepositPercent}
	if customer, ok := scalarString(payload["customer_id"]); ok {
		q.CustomerID = customer
	}
	if pct, ok := number(payload["deposit_percent"]); ok && pct > 0 && pct <= 100 {
		q.DepositPercent = pct
	}
	return q, nil
}

func stateID(state model.JSONB, key string) (ResourceID, error) {
	v, ok := scalarString(state[key])
	if !ok || v == "" {
		return "", fmt.Errorf("%s missing from workflow state", key)
	}
	return ResourceID(v), nil
}

func scalarString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	default:
		return "", false
	}
}

func number(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
