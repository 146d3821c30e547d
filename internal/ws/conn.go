package ws

import (
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Conn represents one client WebSocket connection. Outbound frames go
// through a buffered send channel drained by a single write pump, so sends
// to one connection are never interleaved mid-frame.
type Conn struct {
	id        string
	projectID string
	ws        *websocket.Conn
	send      chan []byte
	mu        sync.Mutex
	closed    bool
}

// NewConn wraps an upgraded WebSocket connection for a project room.
func NewConn(ws *websocket.Conn, projectID string) *Conn {
	return &Conn{
		id:        uuid.New().String(),
		projectID: projectID,
		ws:        ws,
		send:      make(chan []byte, 256),
	}
}

// Send queues a frame for delivery. It returns false when the connection
// is already closed or its buffer is full; a full buffer closes the
// connection, since the peer has stopped draining.
func (c *Conn) Send(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- data:
		return true
	default:
		c.closeLocked()
		return false
	}
}

// Close marks the connection closed and wakes the write pump.
func (c *Conn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Conn) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// IsClosed returns true if the connection is closed.
func (c *Conn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ID returns the opaque connection id.
func (c *Conn) ID() string {
	return c.id
}

// ProjectID returns the project room this connection belongs to.
func (c *Conn) ProjectID() string {
	return c.projectID
}

// WS returns the underlying WebSocket connection.
func (c *Conn) WS() *websocket.Conn {
	return c.ws
}

// SendChan returns the outbound frame channel for the write pump.
func (c *Conn) SendChan() <-chan []byte {
	return c.send
}
