// Package events carries controller activity to the journal, MQTT, the web
// socket and automation scripts.
package events

import (
	"log/slog"
	"sync"
	"time"
)

// Event types
const (
	MotionDetected = "motion_detected"
	MotionCleared  = "motion_cleared"
	Dimmed         = "dimmed"
	Restored       = "restored"
	FadeSettled    = "fade_settled"
	StatePolled    = "state_polled"
	StateCached    = "state_cached"
	CommandSent    = "command_sent"
	CommandFailed  = "command_failed"
)

// Event is one thing that happened to the light.
type Event struct {
	Type   string         `json:"type"`
	Device string         `json:"device,omitempty"`
	Time   time.Time      `json:"time"`
	Data   map[string]any `json:"data,omitempty"`
}

// Handler is a callback for events.
type Handler func(Event)

// Bus is a synchronous pub/sub for events.
type Bus struct {
	mu          sync.RWMutex
	handlers    map[string]map[uint64]Handler
	allHandlers map[uint64]Handler
	nextID      uint64
	logger      *slog.Logger
}

// NewBus creates an event bus.
func NewBus(logger *slog.Logger) *Bus {
	return &Bus{
		handlers:    make(map[string]map[uint64]Handler),
		allHandlers: make(map[uint64]Handler),
		logger:      logger.With("component", "events"),
	}
}

// On registers a handler for one event type.
// Returns an unsubscribe function.
func (b *Bus) On(eventType string, h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	if b.handlers[eventType] == nil {
		b.handlers[eventType] = make(map[uint64]Handler)
	}
	b.handlers[eventType][id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.handlers[eventType], id)
	}
}

// OnAll registers a handler for every event.
// Returns an unsubscribe function.
func (b *Bus) OnAll(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.allHandlers[id] = h
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.allHandlers, id)
	}
}

// Emit delivers e to all matching handlers, stamping the time if unset.
// Handlers run synchronously; a panicking handler is recovered.
func (b *Bus) Emit(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers[e.Type])+len(b.allHandlers))
	for _, h := range b.handlers[e.Type] {
		handlers = append(handlers, h)
	}
	for _, h := range b.allHandlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic", "type", e.Type, "panic", r)
				}
			}()
			h(e)
		}()
	}
}
