package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
	sendBuffer     = 256
)

// Client is the websocket side of a Connection. Producers never close send;
// done signals shutdown to both pumps.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	done      chan struct{}
	closeOnce sync.Once

	log *slog.Logger
}

func newClient(ws *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{
		conn: ws,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  logger,
	}
}

// Send queues a frame without blocking. A full queue means the peer is not
// keeping up, so the client is closed.
func (c *Client) Send(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.Close()
		return false
	}
}

func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump dispatches frames in arrival order until the socket fails, then
// calls onClose.
func (c *Client) readPump(ctx context.Context, conn *Connection, router *Router, onClose func()) {
	defer func() {
		onClose()
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("Websocket read failed", "connection", conn.ID, "error", err)
			}
			return
		}
		c.handle(ctx, conn, router, message)
	}
}

// handle isolates one frame so a panicking handler only loses that frame.
func (c *Client) handle(ctx context.Context, conn *Connection, router *Router, message []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("Recovered from panic in event handler", "connection", conn.ID, "panic", rec)
		}
	}()

	err := router.Dispatch(ctx, conn, message)
	if err == nil {
		return
	}
	router.metrics.EventsDropped.Add(ctx, 1)
	switch {
	case errors.Is(err, ErrValidation):
		c.log.Debug("Dropped invalid event", "connection", conn.ID, "error", err)
	case errors.Is(err, ErrPersistence):
		c.log.Error("Message not persisted", "connection", conn.ID, "user", conn.UserID(), "error", err)
	default:
		c.log.Warn("Event failed", "connection", conn.ID, "error", err)
	}
}

// writePump writes one frame per websocket message and keeps the peer alive
// with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
