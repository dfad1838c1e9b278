package broadcast

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 50 * time.Second
	sendBuffer = 32
)

// WSClient adapts a gorilla websocket connection to the Subscriber
// interface. Outbound messages go through a bounded buffer so a slow reader
// can never stall fan-out; overflowing the buffer counts as a disconnect.
type WSClient struct {
	hub   *Hub
	conn  *websocket.Conn
	send  chan []byte
	done  chan struct{}
	close sync.Once
	log   *zap.Logger
}

// NewWSClient wraps an upgraded connection and starts its pumps. The caller
// subscribes the returned client to the hub.
func NewWSClient(hub *Hub, conn *websocket.Conn, log *zap.Logger) *WSClient {
	if log == nil {
		log = zap.NewNop()
	}
	c := &WSClient{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
		log:  log,
	}
	go c.writePump()
	go c.readPump()
	return c
}

// Send enqueues a payload without blocking.
func (c *WSClient) Send(payload []byte) error {
	select {
	case <-c.done:
		return errors.New("connection closed")
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return errors.New("send buffer full")
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *WSClient) Close() {
	c.close.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

func (c *WSClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.drop()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.drop()
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards inbound frames; clients only listen. Its job is to
// notice the peer going away and service pongs.
func (c *WSClient) readPump() {
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.drop()
			return
		}
	}
}

func (c *WSClient) drop() {
	c.hub.Unsubscribe(c)
	c.Close()
}
