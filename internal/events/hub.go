package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"taskhub/internal/models"
	"taskhub/pkg/logger"
)

// redisChannel carries events between replicas when a bridge is attached.
const redisChannel = "taskhub:events"

// subscriberBuf bounds each subscriber's queue. Delivery never blocks the
// broadcaster: a subscriber that falls this far behind loses events, which
// is harmless under full-refetch semantics (the next delivered event
// resyncs everything).
const subscriberBuf = 16

// Sink mirrors every locally-originated event somewhere else (the Kafka
// relay). Sinks see each event exactly once per cluster-wide broadcast.
type Sink interface {
	Publish(ctx context.Context, ev models.Event) error
}

// Hub fans task/user change events out to the connected push channels.
// With a Redis bridge attached, events round-trip through pub/sub so
// subscribers on every replica see them.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan models.Event]struct{}
	closed bool

	rdb   *redis.Client
	sinks []Sink
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan models.Event]struct{})}
}

// AttachSink registers a mirror for broadcast events.
func (h *Hub) AttachSink(s Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks = append(h.sinks, s)
}

// BridgeRedis routes broadcasts through Redis pub/sub and starts the
// receive loop that feeds local subscribers. Runs until ctx is cancelled.
func (h *Hub) BridgeRedis(ctx context.Context, client *redis.Client) {
	h.mu.Lock()
	h.rdb = client
	h.mu.Unlock()

	go func() {
		pubsub := client.Subscribe(ctx, redisChannel)
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev models.Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					logger.Debug(ctx, "Event bridge decode failed", "error", err)
					continue
				}
				h.deliver(ctx, ev)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Subscribe registers a new push-channel listener.
func (h *Hub) Subscribe() chan models.Event {
	ch := make(chan models.Event, subscriberBuf)
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes a listener and closes its channel.
func (h *Hub) Unsubscribe(ch chan models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Broadcast sends an event to every connected client, including the
// originator. Events are invalidation signals: payload carries identifiers
// for logs and integrations, never enough state to patch a cache from.
func (h *Hub) Broadcast(ctx context.Context, eventType, message string, payload map[string]any) {
	ev := models.Event{
		Type:      eventType,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}

	h.mu.Lock()
	rdb := h.rdb
	sinks := append([]Sink(nil), h.sinks...)
	h.mu.Unlock()

	for _, s := range sinks {
		if err := s.Publish(ctx, ev); err != nil {
			logger.Debug(ctx, "Event sink publish failed", "error", err, "type", ev.Type)
		}
	}

	if rdb != nil {
		b, err := json.Marshal(ev)
		if err == nil {
			if err := rdb.Publish(ctx, redisChannel, b).Err(); err == nil {
				return // local delivery happens via the bridge loop
			}
			logger.Warn(ctx, "Event publish to Redis failed; delivering locally", "error", err)
		}
	}

	h.deliver(ctx, ev)
}

func (h *Hub) deliver(ctx context.Context, ev models.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
			logger.Debug(ctx, "Dropping event for slow subscriber", "type", ev.Type)
		}
	}
}

// Close shuts down all subscriber channels. Further broadcasts are no-ops
// for local delivery.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
