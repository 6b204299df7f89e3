package dashboard

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize bounds inbound command frames
	maxMessageSize = 1024
)

// Client is a single websocket connection
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	onMessage func(*Client, []byte)

	mu     sync.Mutex
	closed bool
}

// NewClient creates a client and registers it with the hub. It returns false if the
// hub is no longer running.
func NewClient(ctx context.Context, hub *Hub, conn *websocket.Conn, onMessage func(*Client, []byte)) (*Client, bool) {
	client := &Client{
		hub:       hub,
		conn:      conn,
		send:      make(chan []byte, clientBuffer),
		onMessage: onMessage,
	}

	select {
	case hub.register <- client:
		return client, true
	case <-ctx.Done():
		return nil, false
	}
}

// Reply queues a message for this client only. It drops the message if the client
// buffer is full.
func (c *Client) Reply(message []byte) {
	_ = c.offer(message)
}

// close stops the write pump. Only the hub calls it.
func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Run starts the write pump and reads until the connection closes.
func (c *Client) Run(ctx context.Context) {
	go c.writePump()
	c.readPump(ctx)
}

func (c *Client) readPump(ctx context.Context) {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-ctx.Done():
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if typ == websocket.TextMessage && c.onMessage != nil {
			c.onMessage(c, data)
		}
	}
}

// writePump is the only writer of the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// offer queues a broadcast message. It returns false if the client buffer is full.
func (c *Client) offer(message []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return true
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}
