// Package apitypes provides API response types for the qbitstats HTTP API.
package apitypes

import "time"

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Client represents a configured backend and the health of its refresh loop.
type Client struct {
	Name                string    `json:"name"`
	Type                string    `json:"type"`
	HasData             bool      `json:"has_data"`
	LastAttempt         time.Time `json:"last_attempt,omitzero"`
	LastSuccess         time.Time `json:"last_success,omitzero"`
	LastError           string    `json:"last_error,omitempty"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Halted              bool      `json:"halted"`
}

// TimelineEvent represents a recorded refresh event.
type TimelineEvent struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Message   string         `json:"message"`
	Client    string         `json:"client,omitempty"`
	CycleID   string         `json:"cycle_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}
