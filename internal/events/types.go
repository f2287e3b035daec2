// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package events provides the telemetry bus for routing and batch lifecycle
// notifications. Subscribers receive fire-and-forget events; publishing never
// blocks the caller paths that emit them.
package events

import (
	"time"
)

// EventType identifies a telemetry event published on the bus.
type EventType string

const (
	EventModelFallback   EventType = "model_fallback"
	EventOutcomeRecorded EventType = "outcome_recorded"
	EventBatchSubmitted  EventType = "batch_submitted"
	EventBatchCompleted  EventType = "batch_completed"
	EventBatchFailed     EventType = "batch_failed"
	EventBatchCanceled   EventType = "batch_canceled"
)

// Event carries the payload delivered to subscribers.
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
	Tier      string                 `json:"tier,omitempty"`
	Category  string                 `json:"category,omitempty"`
	BatchID   string                 `json:"batch_id,omitempty"`
}
