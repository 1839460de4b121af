package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/cwrk-planet/meeting-service/internal/signaling"

	"github.com/gorilla/websocket"
)

var (
	errConnClosed   = errors.New("ws connection closed")
	errSlowConsumer = errors.New("ws send queue full")
)

// wsConn implements signaling.Conn. Frames are queued and written by a single
// writer goroutine; a full queue closes the connection.
type wsConn struct {
	id   string
	conn *websocket.Conn

	send      chan signaling.Message
	closed    chan struct{}
	closeOnce sync.Once
}

func newWsConn(id string, c *websocket.Conn, buffer int) *wsConn {
	if buffer <= 0 {
		buffer = 64
	}
	return &wsConn{
		id:     id,
		conn:   c,
		send:   make(chan signaling.Message, buffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(msg signaling.Message) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		_ = c.Close()
		return errSlowConsumer
	}
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) done() <-chan struct{} { return c.closed }

func deadline(d time.Duration) time.Time { return time.Now().Add(d) }
