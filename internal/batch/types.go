// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package batch decouples task submission from completion by grouping
// requests into asynchronous batches against a downstream batch API.
package batch

import "time"

// Request is a single completion task waiting in the queue.
type Request struct {
	// ID correlates the request with its eventual result. Assigned by the
	// queue on enqueue when empty.
	ID string `json:"id"`

	// Model is the downstream model identifier this request should run on,
	// typically the tier recommended by the router.
	Model string `json:"model"`

	UserMessage  string `json:"user_message"`
	SystemPrompt string `json:"system_prompt,omitempty"`
	MaxTokens    int    `json:"max_tokens,omitempty"`

	// Priority is "low" or "normal". Carried through for callers; the
	// queue itself is FIFO.
	Priority string `json:"priority,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// Callback, when set, is invoked with the request's result once the
	// batch completes. Invoked at most once. Panics are contained.
	Callback func(*Result) `json:"-"`
}

// BatchStatus values as reported by the downstream API, normalized.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// Status is the normalized processing state of a submitted batch.
type Status struct {
	BatchID           string    `json:"batch_id"`
	Status            string    `json:"status"`
	TotalRequests     int       `json:"total_requests"`
	CompletedRequests int       `json:"completed_requests"`
	FailedRequests    int       `json:"failed_requests"`
	CreatedAt         time.Time `json:"created_at"`
	ExpiresAt         time.Time `json:"expires_at,omitempty"`
}

// Terminal reports whether the batch has stopped processing.
func (s *Status) Terminal() bool {
	switch s.Status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// Usage is the token accounting for one completed request.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Result is the outcome of a single request within a batch.
type Result struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Content   string `json:"content,omitempty"`
	Usage     Usage  `json:"usage"`
	Error     string `json:"error,omitempty"`
}
