// Package modules talks to the business modules (jobs, work orders,
// payments, notifications) over their HTTP APIs.
package modules

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/servicehub/orchestrator/pkg/flows"
)

const (
	Jobs          = "jobs"
	WorkOrders    = "work_orders"
	Payments      = "payments"
	Notifications = "notifications"

	maxErrorBody = 512
)

var ErrModuleNotConfigured = errors.New("module not configured")

// StatusError is returned when a module answers with a non-2xx status.
type StatusError struct {
	Module     string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("module %s returned %d: %s", e.Module, e.StatusCode, e.Body)
}

type Client struct {
	http   *http.Client
	bases  map[string]string
	logger *zap.Logger
}

// NewClient builds a client from module name to base URL.
func NewClient(bases map[string]string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	normalized := make(map[string]string, len(bases))
	for name, base := range bases {
		if base == "" {
			continue
		}
		normalized[name] = strings.TrimRight(base, "/")
	}
	return &Client{
		http:   &http.Client{Timeout: timeout},
		bases:  normalized,
		logger: logger,
	}
}

// Modules lists the configured module names in sorted order.
func (c *Client) Modules() []string {
	names := make([]string, 0, len(c.bases))
	for name := range c.bases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Ping calls GET <base>/health.
func (c *Client) Ping(ctx context.Context, module string) error {
	base, ok := c.bases[module]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotConfigured, module)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(module, resp)
}

func (c *Client) CreateJob(ctx context.Context, req flows.JobRequest) (flows.ResourceID, error) {
	return c.create(ctx, Jobs, "/jobs", req.IdempotencyKey, req)
}

func (c *Client) CreateWorkOrder(ctx context.Context, req flows.WorkOrderRequest) (flows.ResourceID, error) {
	return c.create(ctx, WorkOrders, "/work-orders", req.IdempotencyKey, req)
}

func (c *Client) ScheduleDeposit(ctx context.Context, req flows.DepositRequest) (flows.ResourceID, error) {
	return c.create(ctx, Payments, "/payments/deposits", req.IdempotencyKey, req)
}

func (c *Client) Notify(ctx context.Context, n flows.Notification) error {
	return c.post(ctx, Notifications, "/notifications", n.IdempotencyKey, n, nil)
}

// Dependencies exposes the client as the collaborators of the quote flow.
func (c *Client) Dependencies() flows.Dependencies {
	return flows.Dependencies{
		Jobs:          c,
		WorkOrders:    c,
		Payments:      c,
		Notifications: c,
	}
}

func (c *Client) create(ctx context.Context, module, path, idempotencyKey string, body interface{}) (flows.ResourceID, error) {
	var created struct {
		ID flows.ResourceID `json:"id"`
	}
	if err := c.post(ctx, module, path, idempotencyKey, body, &created); err != nil {
		return "", err
	}
	if created.ID == "" {
		return "", fmt.Errorf("module %s returned no id", module)
	}
	return created.ID, nil
}

func (c *Client) post(ctx context.Context, module, path, idempotencyKey string, body, out interface{}) error {
	base, ok := c.bases[module]
	if !ok {
		return fmt.Errorf("%w: %s", ErrModuleNotConfigured, module)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	started := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("call module %s: %w", module, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("module call",
		zap.String("module", module),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(started)),
	)

	if err := checkStatus(module, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", module, err)
	}
	return nil
}

func checkStatus(module string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Module:     module,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}
