// network/connection.go
package network

import (
	"errors"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendQueueFull    = errors.New("send queue full")
)

const writeWait = 10 * time.Second

// Connection is one client transport. Send only enqueues; frames for one connection
// are written in the order they were enqueued.
type Connection interface {
	Send(data []byte) error
	Close() error
	RemoteAddr() net.Addr
	SetHeartbeat(interval time.Duration)
	ReadMessage() ([]byte, error)
}

type WSConnection struct {
	conn      *websocket.Conn
	send      chan []byte
	closing   chan struct{}
	done      chan struct{}
	mutex     sync.Mutex
	closed    bool
	heartbeat time.Duration
}

func NewWSConnection(conn *websocket.Conn, queueSize int) *WSConnection {
	if queueSize <= 0 {
		queueSize = 64
	}
	return &WSConnection{
		conn:    conn,
		send:    make(chan []byte, queueSize),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *WSConnection) Send(data []byte) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// WritePump writes queued frames until Close is called, then flushes what is left,
// sends a close frame and closes the socket.
func (c *WSConnection) WritePump() {
	defer close(c.done)

	var ping <-chan time.Time
	if c.heartbeat > 0 {
		ticker := time.NewTicker(c.heartbeat)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				c.abort()
				return
			}
		case <-ping:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				c.abort()
				return
			}
		case <-c.closing:
			c.drain()
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			c.conn.Close()
			return
		}
	}
}

func (c *WSConnection) drain() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(websocket.TextMessage, data); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *WSConnection) write(messageType int, data []byte) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(messageType, data)
}

func (c *WSConnection) abort() {
	c.mutex.Lock()
	if !c.closed {
		c.closed = true
		close(c.closing)
	}
	c.mutex.Unlock()
	c.conn.Close()
}

func (c *WSConnection) ReadMessage() ([]byte, error) {
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.TextMessage || messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (c *WSConnection) SetHeartbeat(interval time.Duration) {
	c.heartbeat = interval
	c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(interval * 2))
	})
}

// Close stops accepting frames; WritePump flushes the queue and closes the socket.
func (c *WSConnection) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	close(c.closing)
	return nil
}

// Done is closed once WritePump has returned.
func (c *WSConnection) Done() <-chan struct{} {
	return c.done
}

func (c *WSConnection) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
