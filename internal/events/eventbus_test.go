// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestBus_Subscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var called bool
	sub := bus.Subscribe(EventModelFallback, func(ev *Event) {
		called = true
	})

	if sub == nil {
		t.Fatal("Subscribe returned nil subscription")
	}
	if sub.ID == "" {
		t.Error("Subscription ID should not be empty")
	}
	if sub.Event != EventModelFallback {
		t.Errorf("Expected event %s, got %s", EventModelFallback, sub.Event)
	}

	bus.Publish(&Event{
		Type:      EventModelFallback,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"original_tier": "premium"},
	})

	if !called {
		t.Error("Callback should have been called")
	}
}

func TestBus_SubscribeWithFilter(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var calledCount int32

	bus.SubscribeWithFilter(EventBatchFailed, func(ev *Event) {
		atomic.AddInt32(&calledCount, 1)
	}, func(ev *Event) bool {
		return ev.BatchID == "batch_1"
	})

	bus.Publish(&Event{Type: EventBatchFailed, Timestamp: time.Now(), BatchID: "batch_2"})
	bus.Publish(&Event{Type: EventBatchFailed, Timestamp: time.Now(), BatchID: "batch_1"})

	if got := atomic.LoadInt32(&calledCount); got != 1 {
		t.Errorf("Expected 1 filtered delivery, got %d", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var calledCount int32
	sub := bus.Subscribe(EventBatchSubmitted, func(ev *Event) {
		atomic.AddInt32(&calledCount, 1)
	})

	bus.Publish(&Event{Type: EventBatchSubmitted, Timestamp: time.Now()})
	sub.Unsubscribe()
	bus.Publish(&Event{Type: EventBatchSubmitted, Timestamp: time.Now()})

	if got := atomic.LoadInt32(&calledCount); got != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", got)
	}
}

func TestBus_PublishAsync(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	done := make(chan struct{})
	bus.Subscribe(EventBatchCompleted, func(ev *Event) {
		close(done)
	})

	bus.PublishAsync(&Event{Type: EventBatchCompleted, Timestamp: time.Now(), BatchID: "batch_9"})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Async event was not delivered")
	}
}

func TestBus_PanicRecovery(t *testing.T) {
	bus := NewBus()
	defer bus.Shutdown()

	var secondCalled bool
	bus.Subscribe(EventOutcomeRecorded, func(ev *Event) {
		panic("subscriber failure")
	})
	bus.Subscribe(EventOutcomeRecorded, func(ev *Event) {
		secondCalled = true
	})

	bus.Publish(&Event{Type: EventOutcomeRecorded, Timestamp: time.Now()})

	if !secondCalled {
		t.Error("Panic in one subscriber should not block the next")
	}
}

func TestBus_PublishAsyncConcurrentWithShutdown(t *testing.T) {
	bus := NewBus()

	// Publishers racing Shutdown must never hit a closed channel.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				bus.PublishAsync(&Event{Type: EventBatchSubmitted, Timestamp: time.Now()})
			}
		}()
	}

	bus.Shutdown()
	wg.Wait()
}

func TestBus_PublishAfterShutdown(t *testing.T) {
	bus := NewBus()
	bus.Shutdown()

	// Must not panic or block.
	bus.PublishAsync(&Event{Type: EventBatchSubmitted, Timestamp: time.Now()})
}
