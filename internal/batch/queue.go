// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/tierflow/tierflow/internal/config"
	"github.com/tierflow/tierflow/internal/events"
)

// APIClient is the downstream surface the queue needs. *Client implements it.
type APIClient interface {
	Create(ctx context.Context, requests []*Request) (*Status, error)
	GetStatus(ctx context.Context, batchID string) (*Status, error)
	GetResults(ctx context.Context, batchID string) ([]*Result, error)
	Cancel(ctx context.Context, batchID string) (*Status, error)
}

// batchRecord tracks one submitted batch until its results are delivered.
type batchRecord struct {
	id        string
	order     []string
	callbacks map[string]func(*Result)
	status    *Status
	results   []*Result
	delivered bool
}

// Queue accumulates completion requests and submits them as batches.
// Requests survive failed submissions; a request is only dropped from the
// queue once the downstream has accepted the batch containing it.
type Queue struct {
	mu      sync.Mutex
	client  APIClient
	bus     *events.Bus
	cfg     config.BatchConfig
	pending []*Request
	batches map[string]*batchRecord
}

// QueueOption configures optional queue collaborators.
type QueueOption func(*Queue)

// WithBus attaches an event bus for batch lifecycle notifications.
func WithBus(bus *events.Bus) QueueOption {
	return func(q *Queue) { q.bus = bus }
}

// NewQueue creates a batch queue backed by the given client.
func NewQueue(cfg config.BatchConfig, client APIClient, opts ...QueueOption) *Queue {
	q := &Queue{
		client:  client,
		cfg:     cfg,
		batches: make(map[string]*batchRecord),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// UpdateConfig swaps the queue configuration. Pending requests and tracked
// batches are unaffected.
func (q *Queue) UpdateConfig(cfg config.BatchConfig) {
	q.mu.Lock()
	q.cfg = cfg
	q.mu.Unlock()
}

// QueueRequest adds a request to the pending queue and returns its ID.
// When auto-flush is enabled and the queue reaches its size limit, the
// accumulated requests are submitted in the background; enqueueing never
// blocks on the downstream.
func (q *Queue) QueueRequest(ctx context.Context, req *Request) (string, error) {
	if req == nil {
		return "", fmt.Errorf("request must not be nil")
	}
	if req.Model == "" {
		return "", fmt.Errorf("request model must not be empty")
	}
	if req.UserMessage == "" {
		return "", fmt.Errorf("request message must not be empty")
	}
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	q.mu.Lock()
	q.pending = append(q.pending, req)
	size := len(q.pending)
	shouldFlush := q.cfg.AutoFlush && size >= q.cfg.MaxQueueSize
	q.mu.Unlock()

	log.Debugf("Queued batch request %s for model %s (queue size %d)", req.ID, req.Model, size)

	if shouldFlush {
		go func() {
			// Not the request context: the caller is done once enqueued.
			if _, err := q.Flush(context.Background()); err != nil && !errors.Is(err, ErrEmptyQueue) {
				// The requests stay queued; the caller still holds valid IDs.
				log.Warnf("Auto-flush failed, %d requests retained: %v", q.Size(), err)
			}
		}()
	}

	return req.ID, nil
}

// Size returns the number of requests waiting for submission.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Flush submits every pending request as a single batch and returns the
// downstream batch ID. On submission failure the drained requests are put
// back at the front of the queue in their original order.
func (q *Queue) Flush(ctx context.Context) (string, error) {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.mu.Unlock()
		return "", ErrEmptyQueue
	}
	drained := q.pending
	q.pending = nil
	q.mu.Unlock()

	status, err := q.client.Create(ctx, drained)
	if err != nil {
		q.mu.Lock()
		q.pending = append(drained, q.pending...)
		q.mu.Unlock()
		return "", &SubmissionError{Cause: err}
	}

	record := &batchRecord{
		id:        status.BatchID,
		order:     make([]string, 0, len(drained)),
		callbacks: make(map[string]func(*Result)),
		status:    status,
	}
	for _, req := range drained {
		record.order = append(record.order, req.ID)
		if req.Callback != nil {
			record.callbacks[req.ID] = req.Callback
		}
	}

	q.mu.Lock()
	q.batches[status.BatchID] = record
	q.mu.Unlock()

	log.Infof("Submitted batch %s with %d requests", status.BatchID, len(drained))
	q.publish(events.EventBatchSubmitted, status.BatchID, map[string]interface{}{
		"request_count": len(drained),
	})

	return status.BatchID, nil
}

// GetStatus returns the current state of a batch submitted by this queue,
// refreshing from the downstream when the batch is still in flight.
func (q *Queue) GetStatus(ctx context.Context, batchID string) (*Status, error) {
	q.mu.Lock()
	record, ok := q.batches[batchID]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	cached := record.status
	q.mu.Unlock()

	if cached != nil && cached.Terminal() {
		return cached, nil
	}

	status, err := q.client.GetStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}

	q.mu.Lock()
	record.status = status
	q.mu.Unlock()

	return status, nil
}

// GetResults blocks until the batch reaches a terminal state, then returns
// its results in submission order. Each request's callback fires exactly
// once, in the order the downstream returned the records. A failed batch
// yields ErrBatchFailed and no callbacks.
func (q *Queue) GetResults(ctx context.Context, batchID string) ([]*Result, error) {
	q.mu.Lock()
	record, ok := q.batches[batchID]
	if !ok {
		q.mu.Unlock()
		return nil, ErrNotFound
	}
	if record.delivered {
		results := record.results
		q.mu.Unlock()
		return results, nil
	}
	q.mu.Unlock()

	status, err := q.awaitTerminal(ctx, batchID)
	if err != nil {
		return nil, err
	}

	// Only completed batches yield results; failed and canceled batches are
	// terminal errors and fire no callbacks.
	switch status.Status {
	case StatusFailed:
		q.publish(events.EventBatchFailed, batchID, map[string]interface{}{
			"failed_requests": status.FailedRequests,
		})
		return nil, ErrBatchFailed
	case StatusCanceled:
		q.publish(events.EventBatchCanceled, batchID, nil)
		return nil, fmt.Errorf("batch was canceled: %w", ErrBatchFailed)
	}

	raw, err := q.client.GetResults(ctx, batchID)
	if err != nil {
		return nil, err
	}

	results := orderResults(record.order, raw)

	q.mu.Lock()
	alreadyDelivered := record.delivered
	record.delivered = true
	record.results = results
	callbacks := record.callbacks
	record.callbacks = nil
	q.mu.Unlock()

	if !alreadyDelivered {
		// Callbacks run in downstream result order, not submission order.
		for _, result := range raw {
			if cb, ok := callbacks[result.RequestID]; ok {
				invokeCallback(cb, result)
			}
		}
		q.publish(events.EventBatchCompleted, batchID, map[string]interface{}{
			"completed_requests": status.CompletedRequests,
			"failed_requests":    status.FailedRequests,
		})
	}

	return results, nil
}

// CancelBatch asks the downstream to stop a batch. Cancellation is advisory:
// a rejected cancel request returns false, not an error, since the batch may
// already be past the cancelable state.
func (q *Queue) CancelBatch(ctx context.Context, batchID string) (bool, error) {
	q.mu.Lock()
	record, ok := q.batches[batchID]
	q.mu.Unlock()
	if !ok {
		return false, ErrNotFound
	}

	status, err := q.client.Cancel(ctx, batchID)
	if err != nil {
		log.Warnf("Cancel request for batch %s not accepted: %v", batchID, err)
		return false, nil
	}

	q.mu.Lock()
	record.status = status
	q.mu.Unlock()

	canceled := status.Status == StatusCanceled
	if canceled {
		q.publish(events.EventBatchCanceled, batchID, nil)
	}
	return canceled, nil
}

// awaitTerminal polls the downstream until the batch stops processing or
// the polling window elapses.
func (q *Queue) awaitTerminal(ctx context.Context, batchID string) (*Status, error) {
	q.mu.Lock()
	interval := q.cfg.PollIntervalDuration()
	timeout := q.cfg.PollTimeoutDuration()
	q.mu.Unlock()

	deadline := time.Now().Add(timeout)
	for {
		status, err := q.GetStatus(ctx, batchID)
		if err != nil {
			return nil, err
		}
		if status.Terminal() {
			return status, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrPollTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (q *Queue) publish(eventType events.EventType, batchID string, data map[string]interface{}) {
	if q.bus == nil {
		return
	}
	q.bus.PublishAsync(&events.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		BatchID:   batchID,
		Data:      data,
	})
}

// orderResults reorders the downstream's arbitrarily ordered results to
// match the original submission order. Results for unknown IDs keep their
// relative order at the end.
func orderResults(order []string, raw []*Result) []*Result {
	byID := make(map[string]*Result, len(raw))
	for _, r := range raw {
		byID[r.RequestID] = r
	}

	ordered := make([]*Result, 0, len(raw))
	for _, id := range order {
		if r, ok := byID[id]; ok {
			ordered = append(ordered, r)
			delete(byID, id)
		}
	}
	for _, r := range raw {
		if _, ok := byID[r.RequestID]; ok {
			ordered = append(ordered, r)
		}
	}
	return ordered
}

func invokeCallback(cb func(*Result), result *Result) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Batch result callback panicked for request %s: %v", result.RequestID, r)
		}
	}()
	cb(result)
}
