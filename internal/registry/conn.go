package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// ErrConnClosed is returned by Send after the connection has been torn down.
var ErrConnClosed = errors.New("connection closed")

// Socket is the transport surface a Conn writes to. *websocket.Conn
// satisfies it; tests supply a stub.
type Socket interface {
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn wraps a live socket and serializes outbound writes through a buffered
// channel. Each Conn belongs to exactly one user; a user may hold many Conns
// (multi-device). Conn state is ephemeral and dies with the process.
type Conn struct {
	ID     string
	UserID int64

	sock  Socket
	send  chan []byte
	once  sync.Once
	close chan struct{}
}

func newConn(userID int64, sock Socket) *Conn {
	return &Conn{
		ID:     uuid.NewString(),
		UserID: userID,
		sock:   sock,
		send:   make(chan []byte, 128),
		close:  make(chan struct{}),
	}
}

func (c *Conn) start() {
	go c.writeLoop()
}

// Send enqueues payload for delivery, waiting at most timeout for buffer
// space. A slow or broken client only fails its own push: the caller moves on
// to sibling connections. On timeout the connection is closed so backpressure
// stays bounded.
func (c *Conn) Send(payload []byte, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.close:
		return ErrConnClosed
	case c.send <- payload:
		return nil
	case <-timer.C:
		c.Close(websocket.CloseGoingAway, "send buffer full")
		return errors.New("push timed out")
	}
}

// Close terminates the connection and stops the write loop. Safe to call
// more than once.
func (c *Conn) Close(code int, reason string) {
	c.once.Do(func() {
		close(c.close)
		_ = c.sock.SetWriteDeadline(time.Now().Add(writeWait))
		_ = c.sock.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
		_ = c.sock.Close()
	})
}

func (c *Conn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.close:
			return
		case msg := <-c.send:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.sock.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
