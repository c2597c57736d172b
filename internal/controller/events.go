package controller

import (
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"taskhub/internal/config"
	"taskhub/pkg/logger"
)

// Events is the push channel: one SSE stream per connected client. Change
// events go out as default (unnamed) frames carrying the event JSON; a
// named "ping" frame goes out whenever the stream has been idle for the
// keep-alive interval. Clients must ignore pings.
func (ct *Controller) Events(c *gin.Context) {
	ctx := c.Request.Context()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	sub := ct.hub.Subscribe()
	defer ct.hub.Unsubscribe(sub)

	interval := time.Duration(config.Get().PingInterval) * time.Second
	ping := time.NewTicker(interval)
	defer ping.Stop()

	// Commit headers right away so the client sees the stream as open
	// before the first event or ping.
	c.Writer.Flush()
	logger.Debug(ctx, "Push channel opened")

	for {
		select {
		case <-ctx.Done():
			logger.Debug(ctx, "Push channel closed")
			return
		case ev, ok := <-sub:
			if !ok {
				return
			}
			if err := sse.Encode(c.Writer, sse.Event{Data: ev}); err != nil {
				return
			}
			c.Writer.Flush()
			ping.Reset(interval)
		case <-ping.C:
			if err := sse.Encode(c.Writer, sse.Event{Event: "ping", Data: "{}"}); err != nil {
				return
			}
			c.Writer.Flush()
		}
	}
}
