// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyQueue is returned by Flush when there is nothing to submit.
	ErrEmptyQueue = errors.New("batch queue is empty")

	// ErrNotFound is returned when a batch ID is unknown to this queue.
	ErrNotFound = errors.New("batch not found")

	// ErrBatchFailed is returned when the downstream marks a batch failed.
	ErrBatchFailed = errors.New("batch failed upstream")

	// ErrPollTimeout is returned when a batch does not reach a terminal
	// state within the configured polling window.
	ErrPollTimeout = errors.New("timed out waiting for batch completion")
)

// SubmissionError indicates the batch could not be handed to the downstream
// API. The queued requests are retained and retried on the next flush.
type SubmissionError struct {
	Cause error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("batch submission failed: %v", e.Cause)
}

func (e *SubmissionError) Unwrap() error { return e.Cause }

// UpstreamError is a non-2xx response from the downstream batch API.
type UpstreamError struct {
	StatusCode int
	Message    string
}

func (e *UpstreamError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.StatusCode, e.Message)
}
