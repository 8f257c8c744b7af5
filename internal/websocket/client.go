package websocket

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong from the peer.
	pongWait = 60 * time.Second

	// Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 512 * 1024 // 512KB

	sendBuffer = 256
)

// FrameHandler receives what a client reads off the wire. Calls for one
// client are sequential.
type FrameHandler interface {
	HandleFrame(frame Frame)
	HandleDecodeError(err error)
	HandleClose()
}

// Client is a live gorilla websocket connection.
type Client struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool

	log *zap.Logger
}

func NewClient(conn *websocket.Conn, log *zap.Logger) *Client {
	id := uuid.New()
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		log:  log.With(zap.Stringer("conn", id)),
	}
}

func (c *Client) ID() uuid.UUID { return c.id }

// Enqueue queues a frame for the write pump. Frames for a closed client are
// dropped with ErrConnectionClosed.
func (c *Client) Enqueue(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- frame:
		return nil
	default:
		return ErrClientQueueFull
	}
}

// Close stops the write pump. Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump reads frames until the connection fails, then closes the client
// and notifies the handler.
func (c *Client) ReadPump(handler FrameHandler) {
	defer func() {
		c.Close()
		c.conn.Close()
		handler.HandleClose()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", zap.Error(err))
			}
			return
		}

		frame, err := Decode(raw)
		if err != nil {
			handler.HandleDecodeError(err)
			continue
		}
		handler.HandleFrame(frame)
	}
}

// WritePump drains the send queue to the connection and keeps it alive with
// pings.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("websocket write failed", zap.Error(err))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
