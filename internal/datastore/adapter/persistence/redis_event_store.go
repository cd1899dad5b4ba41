package persistence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"docgateway/internal/shared/eventbus"
	"docgateway/internal/shared/logger"
	"docgateway/internal/shared/metrics"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// StreamClient is the part of *redis.Client the event store uses.
type StreamClient interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	XRevRangeN(ctx context.Context, stream, start, stop string, count int64) *redis.XMessageSliceCmd
}

// StoredEvent is a change event read back from a stream.
type StoredEvent struct {
	ID    string               `json:"id"`
	Event eventbus.ChangeEvent `json:"event"`
}

// RedisEventStore appends gateway change events to one Redis stream per tenant.
type RedisEventStore struct {
	client    StreamClient
	prefix    string
	maxLength int64
	logger    logger.Logger
}

// NewRedisEventStore creates an event store writing to streams named prefix:tenant.
func NewRedisEventStore(client StreamClient, prefix string, maxLength int64, log logger.Logger) *RedisEventStore {
	if prefix == "" {
		prefix = "docgateway:changes"
	}
	if log == nil {
		log = logger.WithComponent("redis_event_store")
	}
	return &RedisEventStore{client: client, prefix: prefix, maxLength: maxLength, logger: log}
}

// StreamName returns the stream holding tenant's events.
func (r *RedisEventStore) StreamName(tenant string) string {
	if tenant == "" {
		tenant = "_system"
	}
	return r.prefix + ":" + tenant
}

// Subscribe registers the store for every change event type on bus.
func (r *RedisEventStore) Subscribe(bus *eventbus.EventBus) {
	for _, t := range eventbus.ChangeEventTypes {
		bus.Subscribe(t, r.Handle)
	}
}

// Handle is an eventbus handler. Events that are not ChangeEvents are ignored.
func (r *RedisEventStore) Handle(ctx context.Context, event eventbus.Event) error {
	ev, ok := event.(*eventbus.ChangeEvent)
	if !ok {
		return nil
	}
	return r.StoreEvent(ctx, ev)
}

// StoreEvent appends ev to its tenant stream.
func (r *RedisEventStore) StoreEvent(ctx context.Context, ev *eventbus.ChangeEvent) error {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("failed to serialize event payload: %w", err)
	}

	stream := r.StreamName(ev.Tenant)
	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"type":       ev.EventType,
			"tenant":     ev.Tenant,
			"database":   ev.Database,
			"collection": ev.Collection,
			"guid":       ev.Guid,
			"payload":    string(payload),
			"timestamp":  ev.At.UnixNano(),
			"source":     ev.Origin,
		},
	}
	if r.maxLength > 0 {
		args.MaxLen = r.maxLength
		args.Approx = true
	}

	_, err = r.client.XAdd(ctx, args).Result()
	metrics.EventPublished(ev.EventType, err)
	if err != nil {
		r.logger.WithFields(map[string]interface{}{
			"stream":     stream,
			"event_type": ev.EventType,
		}).Errorf("failed to store event in redis: %v", err)
		return err
	}

	r.logger.WithFields(map[string]interface{}{
		"stream":     stream,
		"event_type": ev.EventType,
	}).Debug("event stored")
	return nil
}

// RecentEvents returns up to count of tenant's newest events, newest first.
func (r *RedisEventStore) RecentEvents(ctx context.Context, tenant string, count int64) ([]StoredEvent, error) {
	if count <= 0 {
		count = 100
	}
	msgs, err := r.client.XRevRangeN(ctx, r.StreamName(tenant), "+", "-", count).Result()
	if err != nil {
		if err == redis.Nil {
			return []StoredEvent{}, nil
		}
		return nil, err
	}

	events := make([]StoredEvent, 0, len(msgs))
	for _, msg := range msgs {
		ev, err := parseMessage(msg)
		if err != nil {
			r.logger.WithFields(map[string]interface{}{"message_id": msg.ID}).
				Warnf("skipping unreadable event: %v", err)
			continue
		}
		events = append(events, StoredEvent{ID: msg.ID, Event: ev})
	}
	return events, nil
}

func parseMessage(msg redis.XMessage) (eventbus.ChangeEvent, error) {
	var ev eventbus.ChangeEvent
	str := func(key string) string {
		s, _ := msg.Values[key].(string)
		return s
	}

	ev.EventType = str("type")
	if ev.EventType == "" {
		return ev, fmt.Errorf("message %s has no event type", msg.ID)
	}
	ev.Tenant = str("tenant")
	ev.Database = str("database")
	ev.Collection = str("collection")
	ev.Guid = str("guid")
	ev.Origin = str("source")

	if raw := str("payload"); raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &ev.Payload); err != nil {
			return ev, fmt.Errorf("message %s payload: %w", msg.ID, err)
		}
	}
	if ts := str("timestamp"); ts != "" {
		if nanos, err := strconv.ParseInt(ts, 10, 64); err == nil {
			ev.At = time.Unix(0, nanos).UTC()
		}
	}
	return ev, nil
}
