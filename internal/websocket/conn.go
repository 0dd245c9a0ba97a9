package websocket

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrConnClosed is returned when writing to a closed connection
	ErrConnClosed = errors.New("websocket connection closed")
	// ErrSendQueueFull is returned when the write pump cannot keep up
	ErrSendQueueFull = errors.New("websocket send queue full")
)

const sendQueueSize = 256

// Conn is a client connection to the agent. Writes from any goroutine are
// queued and serialised by a single write pump. Reads are left to the
// owner so messages are handled in arrival order.
type Conn struct {
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan WriteData

	mu     sync.Mutex
	closed bool
	done   chan struct{}

	logger *zap.Logger
}

// NewConn takes ownership of an open websocket and starts its write pump
func NewConn(conn *websocket.Conn, logger *zap.Logger) *Conn {
	c := &Conn{
		conn:   conn,
		send:   make(chan WriteData, sendQueueSize),
		done:   make(chan struct{}),
		logger: logger,
	}

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go c.writePump()
	return c
}

// WriteMessage queues a text frame
func (c *Conn) WriteMessage(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnClosed
	}

	select {
	case c.send <- WriteData{Type: websocket.TextMessage, Payload: payload}:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// ReadMessage blocks for the next data frame. A clean close from the peer
// is reported as io.EOF.
func (c *Conn) ReadMessage() ([]byte, error) {
	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil, fmt.Errorf("%w: %v", io.EOF, err)
			}
			return nil, err
		}

		c.conn.SetReadDeadline(time.Now().Add(pongWait))

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			return message, nil
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// Close sends a close frame after flushing queued writes and waits for the
// write pump to exit. Closing twice is a no-op.
func (c *Conn) Close() error {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
		c.conn.Close()
	}
	return nil
}

// writePump pumps queued messages to the websocket connection.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		close(c.done)
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(message.Type, message.Payload); err != nil {
				c.logger.Error("Failed to write message", zap.Error(err))
				c.markClosed()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.markClosed()
				return
			}
		}
	}
}

// markClosed stops accepting writes after the pump died on its own. The
// reader sees the broken connection and reports it.
func (c *Conn) markClosed() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
}
