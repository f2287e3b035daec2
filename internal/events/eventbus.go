// Copyright 2026 The tierflow Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Subscription is a handle for a registered subscriber.
type Subscription struct {
	ID          string
	Event       EventType
	Callback    func(*Event)
	Filter      func(*Event) bool
	Unsubscribe func()
}

// Bus manages event distribution to subscribers.
type Bus struct {
	subscribers  map[EventType][]*Subscription
	mu           sync.RWMutex
	eventQueue   chan *Event
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
	shutdown     bool
}

// NewBus creates a new event bus and starts its async processor.
func NewBus() *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	bus := &Bus{
		subscribers: make(map[EventType][]*Subscription),
		eventQueue:  make(chan *Event, 1000),
		ctx:         ctx,
		cancel:      cancel,
	}

	go bus.processQueue()

	return bus
}

// Subscribe registers a callback for a specific event type.
func (b *Bus) Subscribe(event EventType, callback func(*Event)) *Subscription {
	return b.SubscribeWithFilter(event, callback, nil)
}

// SubscribeWithFilter registers a callback with an optional filter function.
func (b *Bus) SubscribeWithFilter(event EventType, callback func(*Event), filter func(*Event) bool) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%d", time.Now().UnixNano())
	sub := &Subscription{
		ID:       id,
		Event:    event,
		Callback: callback,
		Filter:   filter,
	}

	sub.Unsubscribe = func() {
		b.unsubscribe(sub)
	}

	b.subscribers[event] = append(b.subscribers[event], sub)
	return sub
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscribers[sub.Event]
	for i, s := range subs {
		if s.ID == sub.ID {
			b.subscribers[sub.Event] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
}

// Publish distributes an event to all subscribers synchronously.
func (b *Bus) Publish(ev *Event) {
	b.mu.RLock()
	subs := b.subscribers[ev.Type]
	// Copy slice to avoid holding lock during execution
	activeSubs := make([]*Subscription, len(subs))
	copy(activeSubs, subs)
	b.mu.RUnlock()

	for _, sub := range activeSubs {
		if sub.Filter == nil || sub.Filter(ev) {
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Errorf("Panic in event subscriber for %s: %v", ev.Type, r)
					}
				}()
				sub.Callback(ev)
			}()
		}
	}
}

// PublishAsync distributes an event asynchronously via the queue.
// The send stays under the read lock: Shutdown closes the queue under the
// write lock, so a racing publish can never hit a closed channel.
func (b *Bus) PublishAsync(ev *Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.shutdown {
		return
	}

	select {
	case b.eventQueue <- ev:
		// Queued
	default:
		log.Warnf("Event queue full, dropping event: %s", ev.Type)
	}
}

func (b *Bus) processQueue() {
	for {
		select {
		case <-b.ctx.Done():
			return
		case event, ok := <-b.eventQueue:
			if !ok {
				return
			}
			if event != nil {
				b.Publish(event)
			}
		}
	}
}

// Shutdown stops the event bus processing.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.mu.Lock()
		b.shutdown = true
		close(b.eventQueue)
		b.mu.Unlock()

		b.cancel()
	})
}
