package eventbus

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"docgateway/internal/shared/logger"

	"github.com/cenkalti/backoff/v4"
)

// Event types emitted by the gateway.
const (
	EventTypeRecordCreated       = "record.created"
	EventTypeRecordUpdated       = "record.updated"
	EventTypeRecordDeleted       = "record.deleted"
	EventTypeCollectionDropped   = "collection.dropped"
	EventTypeDatasetImported     = "dataset.imported"
	EventTypeConnectionExhausted = "connection.exhausted"
	EventTypeConnectionReady     = "connection.ready"
	EventTypeAll                 = "*"
)

// ChangeEventTypes lists the events that describe data changes.
var ChangeEventTypes = []string{
	EventTypeRecordCreated,
	EventTypeRecordUpdated,
	EventTypeRecordDeleted,
	EventTypeCollectionDropped,
	EventTypeDatasetImported,
}

// Event represents a generic event
type Event interface {
	Type() string
	Data() interface{}
	Timestamp() time.Time
	Source() string
}

// Handler defines the event handler function type
type Handler func(ctx context.Context, event Event) error

// Publisher is the side of the bus used by producers.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	PublishAndForget(ctx context.Context, event Event)
}

// EventBus is an in-memory fan-out bus. Handlers registered under "*" receive every event.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	logger   logger.Logger
	config   BusConfig
}

// BusConfig holds configuration for the event bus
type BusConfig struct {
	AsyncProcessing bool
	MaxRetries      int
	RetryDelay      time.Duration
}

// DefaultBusConfig returns default configuration
func DefaultBusConfig() BusConfig {
	return BusConfig{
		MaxRetries: 3,
		RetryDelay: 100 * time.Millisecond,
	}
}

// NewEventBus creates a new event bus instance
func NewEventBus(log logger.Logger) *EventBus {
	return NewEventBusWithConfig(log, DefaultBusConfig())
}

// NewEventBusWithConfig creates a new event bus with custom configuration
func NewEventBusWithConfig(log logger.Logger, config BusConfig) *EventBus {
	if log == nil {
		log = logger.Default().WithComponent("eventbus")
	}
	return &EventBus{
		handlers: make(map[string][]Handler),
		logger:   log,
		config:   config,
	}
}

// Subscribe adds a handler for a specific event type
func (eb *EventBus) Subscribe(eventType string, handler Handler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.handlers[eventType] = append(eb.handlers[eventType], handler)
	eb.logger.Debugf("subscribed handler for event type %s", eventType)
}

// Publish sends an event to all registered handlers
func (eb *EventBus) Publish(ctx context.Context, event Event) error {
	eb.mu.RLock()
	handlers := make([]Handler, 0, len(eb.handlers[event.Type()])+len(eb.handlers[EventTypeAll]))
	handlers = append(handlers, eb.handlers[event.Type()]...)
	handlers = append(handlers, eb.handlers[EventTypeAll]...)
	eb.mu.RUnlock()

	if len(handlers) == 0 {
		return nil
	}

	if eb.config.AsyncProcessing {
		return eb.publishAsync(ctx, event, handlers)
	}

	for _, handler := range handlers {
		if err := eb.executeHandler(ctx, event, handler); err != nil {
			return err
		}
	}
	return nil
}

func (eb *EventBus) publishAsync(ctx context.Context, event Event, handlers []Handler) error {
	var wg sync.WaitGroup
	errs := make([]error, len(handlers))

	for i, handler := range handlers {
		wg.Add(1)
		go func(idx int, h Handler) {
			defer wg.Done()
			errs[idx] = eb.executeHandler(ctx, event, h)
		}(i, handler)
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (eb *EventBus) executeHandler(ctx context.Context, event Event, handler Handler) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(eb.config.RetryDelay), uint64(eb.config.MaxRetries)),
		ctx,
	)

	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		return handler(ctx, event)
	}, policy)
	if err != nil {
		eb.logger.Errorf("handler failed for event %s: %v", event.Type(), err)
		return fmt.Errorf("handler failed after %d attempts: %w", attempts, err)
	}
	return nil
}

// PublishAndForget publishes an event asynchronously without waiting for completion
func (eb *EventBus) PublishAndForget(ctx context.Context, event Event) {
	go func() {
		if err := eb.Publish(context.WithoutCancel(ctx), event); err != nil {
			eb.logger.Errorf("failed to publish event %s: %v", event.Type(), err)
		}
	}()
}

// Unsubscribe removes all handlers for a specific event type
func (eb *EventBus) Unsubscribe(eventType string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	delete(eb.handlers, eventType)
}

// GetSubscriberCount returns the number of handlers for an event type
func (eb *EventBus) GetSubscriberCount(eventType string) int {
	eb.mu.RLock()
	defer eb.mu.RUnlock()
	return len(eb.handlers[eventType])
}

// GetEventTypes returns all registered event types, sorted.
func (eb *EventBus) GetEventTypes() []string {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	types := make([]string, 0, len(eb.handlers))
	for eventType := range eb.handlers {
		types = append(types, eventType)
	}
	sort.Strings(types)
	return types
}

// ChangeEvent describes something that happened to a tenant's data or connection.
type ChangeEvent struct {
	EventType  string                 `json:"type"`
	Tenant     string                 `json:"tenant"`
	Database   string                 `json:"database,omitempty"`
	Collection string                 `json:"collection,omitempty"`
	Guid       string                 `json:"guid,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	At         time.Time              `json:"at"`
	Origin     string                 `json:"source"`
}

// NewChangeEvent stamps a ChangeEvent with the current time.
func NewChangeEvent(eventType, tenant, collection, guid string) *ChangeEvent {
	return &ChangeEvent{
		EventType:  eventType,
		Tenant:     tenant,
		Collection: collection,
		Guid:       guid,
		At:         time.Now().UTC(),
		Origin:     "gateway",
	}
}

// WithPayload attaches extra data to the event.
func (e *ChangeEvent) WithPayload(key string, value interface{}) *ChangeEvent {
	if e.Payload == nil {
		e.Payload = make(map[string]interface{})
	}
	e.Payload[key] = value
	return e
}

func (e *ChangeEvent) Type() string         { return e.EventType }
func (e *ChangeEvent) Data() interface{}    { return e }
func (e *ChangeEvent) Timestamp() time.Time { return e.At }
func (e *ChangeEvent) Source() string       { return e.Origin }

// Noop discards every event.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error    { return nil }
func (Noop) PublishAndForget(context.Context, Event) {}
