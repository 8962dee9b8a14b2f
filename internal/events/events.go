// Package events provides a publish-subscribe bus for child process and
// runner lifecycle notifications.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// EventType identifies a specific event category.
type EventType string

// Child process events.
const (
	ProcessSpawned     EventType = "PROCESS_SPAWNED"
	ProcessSpawnFailed EventType = "PROCESS_SPAWN_FAILED"
	ProcessExited      EventType = "PROCESS_EXITED"
)

// Runner events.
const (
	RunnerStarted  EventType = "RUNNER_STARTED"
	RunnerStopping EventType = "RUNNER_STOPPING"
	Tick           EventType = "TICK"
)

// All subscribes to every event type.
const All EventType = "*"

// Event carries data from a published event.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Data      map[string]string
}

// HandlerFunc processes an event.
type HandlerFunc func(Event)

type subscription struct {
	id      uint64
	handler HandlerFunc
}

// Bus is the central event dispatcher. It is safe for concurrent use.
// When no subscribers exist, Publish does not allocate.
type Bus struct {
	mu     sync.RWMutex
	subs   map[EventType][]subscription
	nextID uint64
	logger *slog.Logger
}

// NewBus creates a new event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		subs:   make(map[EventType][]subscription),
		logger: logger,
	}
}

// Subscribe registers a handler for eventType, or for every type when
// eventType is All. The returned id is used to unsubscribe.
func (b *Bus) Subscribe(eventType EventType, handler HandlerFunc) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.subs[eventType] = append(b.subs[eventType], subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription by ID.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for eventType, subs := range b.subs {
		for i, s := range subs {
			if s.id != id {
				continue
			}
			rest := make([]subscription, 0, len(subs)-1)
			rest = append(rest, subs[:i]...)
			rest = append(rest, subs[i+1:]...)
			if len(rest) == 0 {
				delete(b.subs, eventType)
			} else {
				b.subs[eventType] = rest
			}
			return
		}
	}
}

// Publish dispatches an event synchronously: first to subscribers of its
// type in registration order, then to All subscribers. A panicking handler
// is recovered and logged; the remaining handlers still run.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	typed, wild := b.subs[event.Type], b.subs[All]
	if len(typed)+len(wild) == 0 {
		b.mu.RUnlock()
		return
	}
	handlers := make([]subscription, 0, len(typed)+len(wild))
	handlers = append(handlers, typed...)
	handlers = append(handlers, wild...)
	b.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	for _, s := range handlers {
		b.safeCall(s.handler, event)
	}
}

func (b *Bus) safeCall(handler HandlerFunc, event Event) {
	defer func() {
		if r := recover(); r != nil && b.logger != nil {
			b.logger.Error("event handler panicked", "event", string(event.Type), "panic", r)
		}
	}()
	handler(event)
}

// SubscriberCount returns the number of subscribers for an event type.
func (b *Bus) SubscriberCount(eventType EventType) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[eventType])
}
