package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultReconnectDelay is how long the push channel waits before dialing
// again after a drop. Fixed, no backoff growth: the channel retries
// forever until its context is cancelled.
const DefaultReconnectDelay = 2 * time.Second

// StreamEventType tags the notifications produced by the push channel
// manager.
type StreamEventType int

const (
	// Connected: a push connection is open and events will flow.
	Connected StreamEventType = iota
	// Message: the server reported a change; Event is populated.
	Message
	// Malformed: a frame arrived that did not parse as an event. Treat it
	// as "something changed": resync, but skip notices and cues.
	Malformed
	// Disconnected: the connection dropped. A reconnect is already
	// scheduled; nothing to act on beyond surfacing Err if desired.
	Disconnected
)

func (t StreamEventType) String() string {
	switch t {
	case Connected:
		return "connected"
	case Message:
		return "message"
	case Malformed:
		return "malformed"
	case Disconnected:
		return "disconnected"
	default:
		return fmt.Sprintf("stream_event(%d)", int(t))
	}
}

// StreamEvent is one notification from the push channel manager.
type StreamEvent struct {
	Type  StreamEventType
	Event Event // set when Type == Message
	Err   error // *ParseError for Malformed, *ChannelError for Disconnected
}

// Events opens the push channel and returns its notification stream. The
// manager keeps exactly one connection open, reconnecting after a fixed
// delay on every drop, until ctx is cancelled; then the channel closes.
// Keep-alive pings are swallowed here and never reach the consumer.
func (c *Client) Events(ctx context.Context) <-chan StreamEvent {
	return c.EventsWithDelay(ctx, DefaultReconnectDelay)
}

// EventsWithDelay is Events with a custom reconnect delay.
func (c *Client) EventsWithDelay(ctx context.Context, delay time.Duration) <-chan StreamEvent {
	ch := make(chan StreamEvent)
	go c.streamLoop(ctx, delay, ch)
	return ch
}

func (c *Client) streamLoop(ctx context.Context, delay time.Duration, ch chan<- StreamEvent) {
	defer close(ch)
	for {
		err := c.consumeStream(ctx, ch)
		if ctx.Err() != nil {
			return
		}
		if !emit(ctx, ch, StreamEvent{Type: Disconnected, Err: &ChannelError{Err: err}}) {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// consumeStream opens one connection and pumps its frames until it drops.
func (c *Client) consumeStream(ctx context.Context, ch chan<- StreamEvent) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.sc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		return &RequestError{
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.StatusCode, body),
		}
	}

	if !emit(ctx, ch, StreamEvent{Type: Connected}) {
		return ctx.Err()
	}

	return readFrames(resp.Body, func(f sseFrame) {
		switch f.name {
		case "":
			var ev Event
			if err := json.Unmarshal([]byte(f.data), &ev); err != nil {
				emit(ctx, ch, StreamEvent{Type: Malformed, Err: &ParseError{Data: f.data, Err: err}})
				return
			}
			emit(ctx, ch, StreamEvent{Type: Message, Event: ev})
		case "ping":
			// Keep-alive only. Must not trigger anything.
		default:
			// Unknown named events are not part of the contract; skip
			// them the way an EventSource without a listener would.
		}
	})
}

// emit delivers ev unless the context ends first. Reports whether the
// consumer should keep receiving.
func emit(ctx context.Context, ch chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
