package model

import "time"

type HealthStatus string

const (
	StatusHealthy  HealthStatus = "healthy"
	StatusDegraded HealthStatus = "degraded"
	StatusDown     HealthStatus = "down"
	// StatusCritical is only used for the aggregate heartbeat.
	StatusCritical HealthStatus = "critical"
)

// ModuleHealth is the outcome of a single probe.
type ModuleHealth struct {
	Name      string       `json:"name"`
	Status    HealthStatus `json:"status"`
	LatencyMs int64        `json:"latency_ms"`
	Message   string       `json:"message,omitempty"`
}

// SystemHeartbeat is rebuilt on every health check and never persisted.
type SystemHeartbeat struct {
	Status          HealthStatus   `json:"status"`
	CheckedAt       time.Time      `json:"checked_at"`
	Modules         []ModuleHealth `json:"modules"`
	HealthyModules  int            `json:"healthy_modules"`
	DegradedModules int            `json:"degraded_modules"`
	DownModules     int            `json:"down_modules"`
	EventBusPending int64          `json:"event_bus_pending"`
	DeadLetterCount int64          `json:"dead_letter_count"`
	ActiveWorkflows int64          `json:"active_workflows"`
	StuckEvents     int64          `json:"stuck_events"`
	Warnings        []string       `json:"warnings,omitempty"`
}
