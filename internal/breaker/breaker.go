// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package breaker provides the health gate consulted by the router before it
// commits to a tier. The router only asks a yes/no question; the failure
// bookkeeping lives with whoever executes requests against the tier.
package breaker

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Breaker is the health gate for a preferred tier.
type Breaker interface {
	// CanExecute reports whether the tier behind this breaker is healthy
	// enough to receive work right now.
	CanExecute(tierID string) bool
}

// FailureBreaker trips per tier after a run of consecutive failures and
// resets after a cooldown elapses without further failures.
type FailureBreaker struct {
	threshold int
	cooldown  time.Duration

	mu     sync.RWMutex
	states map[string]*tierState
}

type tierState struct {
	consecutiveFailures int
	trippedAt           time.Time
}

// NewFailureBreaker creates a breaker that trips after threshold consecutive
// failures and re-admits traffic after cooldown.
func NewFailureBreaker(threshold int, cooldown time.Duration) *FailureBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = time.Minute
	}
	return &FailureBreaker{
		threshold: threshold,
		cooldown:  cooldown,
		states:    make(map[string]*tierState),
	}
}

// CanExecute implements Breaker.
func (b *FailureBreaker) CanExecute(tierID string) bool {
	b.mu.RLock()
	state, ok := b.states[tierID]
	b.mu.RUnlock()

	if !ok || state.consecutiveFailures < b.threshold {
		return true
	}

	if time.Since(state.trippedAt) >= b.cooldown {
		// Half-open: let one caller through; a failure re-trips immediately.
		b.mu.Lock()
		state.consecutiveFailures = b.threshold - 1
		b.mu.Unlock()
		log.Infof("Breaker for tier %s entering half-open state", tierID)
		return true
	}

	return false
}

// RecordSuccess clears the failure run for a tier.
func (b *FailureBreaker) RecordSuccess(tierID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if state, ok := b.states[tierID]; ok {
		state.consecutiveFailures = 0
	}
}

// RecordFailure notes a failure and trips the breaker at the threshold.
func (b *FailureBreaker) RecordFailure(tierID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state, ok := b.states[tierID]
	if !ok {
		state = &tierState{}
		b.states[tierID] = state
	}

	state.consecutiveFailures++
	if state.consecutiveFailures == b.threshold {
		state.trippedAt = time.Now()
		log.Warnf("Breaker tripped for tier %s after %d consecutive failures", tierID, b.threshold)
	}
}

// AlwaysClosed is a Breaker that never blocks. Useful for tests and for
// deployments that gate health elsewhere.
type AlwaysClosed struct{}

// CanExecute implements Breaker.
func (AlwaysClosed) CanExecute(string) bool { return true }
