package eventbus

import (
	"sync"

	"github.com/bookbridge/storefront-adapter/pkg/model"
)

// Wildcard subscribes a handler to every event type.
const Wildcard = "*"

// Handler is a function that handles a lifecycle event.
type Handler func(event model.LifecycleEvent)

// EventBus provides in-process pub/sub keyed by event type.
type EventBus struct {
	handlers map[string][]Handler
	mu       sync.RWMutex
	wg       sync.WaitGroup
}

// New creates a new EventBus.
func New() *EventBus {
	return &EventBus{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe registers a handler for an event type, or Wildcard for all of them.
func (e *EventBus) Subscribe(eventType string, handler Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[eventType] = append(e.handlers[eventType], handler)
}

func (e *EventBus) matching(eventType string) []Handler {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]Handler, 0, len(e.handlers[eventType])+len(e.handlers[Wildcard]))
	out = append(out, e.handlers[eventType]...)
	out = append(out, e.handlers[Wildcard]...)
	return out
}

// Publish delivers the event to every subscriber on its own goroutine.
func (e *EventBus) Publish(event model.LifecycleEvent) {
	for _, h := range e.matching(event.Type) {
		e.wg.Add(1)
		go func(h Handler) {
			defer e.wg.Done()
			h(event)
		}(h)
	}
}

// Emit is Publish; it lets the bus stand in wherever an emitter is expected.
func (e *EventBus) Emit(event model.LifecycleEvent) {
	e.Publish(event)
}

// PublishSync delivers the event to every subscriber before returning.
func (e *EventBus) PublishSync(event model.LifecycleEvent) {
	for _, h := range e.matching(event.Type) {
		h(event)
	}
}

// Drain waits for in-flight asynchronous deliveries.
func (e *EventBus) Drain() {
	e.wg.Wait()
}

// HasSubscribers returns true if there are subscribers for the event type.
func (e *EventBus) HasSubscribers(eventType string) bool {
	return e.SubscriberCount(eventType) > 0
}

// SubscriberCount returns the number of handlers an event of this type reaches.
func (e *EventBus) SubscriberCount(eventType string) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.handlers[eventType]) + len(e.handlers[Wildcard])
}

// Emitter is the publishing side of the bus as seen by lifecycle components.
type Emitter interface {
	Emit(event model.LifecycleEvent)
}

// Nop discards events.
type Nop struct{}

func (Nop) Emit(model.LifecycleEvent) {}
