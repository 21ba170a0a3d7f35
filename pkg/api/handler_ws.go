package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/fred-drake/carapace/pkg/events"
)

// wsWriteTimeout bounds one WebSocket send so a stalled client cannot
// back up the event subscription.
const wsWriteTimeout = 10 * time.Second

// wsHandler handles GET /api/v1/ws: upgrades to WebSocket and bridges the
// broker's event bus to the client. Each connection gets its own
// subscription to the response stream topics; frames are forwarded as the
// JSON event envelopes the bus published.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.subFactory == nil {
		return echo.NewHTTPError(503, "event streaming not available")
	}

	sub, err := s.subFactory(
		events.TopicResponseSystem,
		events.TopicResponseChunk,
		events.TopicResponseEnd,
		events.TopicResponseError,
	)
	if err != nil {
		return echo.NewHTTPError(503, "event subscription failed")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		InsecureSkipVerify: true, // admin surface binds loopback only
	})
	if err != nil {
		sub.Close()
		return err
	}

	ctx, cancel := context.WithCancel(c.Request().Context())
	defer cancel()

	if err := sub.Start(func(topic string, payload []byte) {
		writeCtx, writeCancel := context.WithTimeout(ctx, wsWriteTimeout)
		defer writeCancel()
		if err := conn.Write(writeCtx, websocket.MessageText, payload); err != nil {
			cancel()
		}
	}); err != nil {
		sub.Close()
		conn.Close(websocket.StatusInternalError, "subscription failed")
		return nil
	}

	// Read loop: we expect no client messages; this just detects close.
	for {
		if _, _, err := conn.Read(ctx); err != nil {
			break
		}
	}

	if err := sub.Close(); err != nil {
		slog.Warn("Error closing event subscription for WebSocket client", "error", err)
	}
	conn.Close(websocket.StatusNormalClosure, "")
	return nil
}
