package gateway

import (
	"errors"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var (
	ErrClientClosed   = errors.New("gateway: client closed")
	ErrSendBufferFull = errors.New("gateway: client send buffer full")
)

const (
	sendBufferSize = 256
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxReadSize    = 512
)

// Client is a websocket peer registered with the hub. Sends are queued on a
// buffered channel that the write pump drains, one frame per message.
type Client struct {
	id   string
	conn *websocket.Conn
	hub  *Hub

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, sendBufferSize),
		done: make(chan struct{}),
	}
}

// Send queues msg without blocking.
func (c *Client) Send(msg []byte) error {
	select {
	case <-c.done:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// serve registers the client and starts its pumps.
func (c *Client) serve() {
	c.id = c.hub.Connect(c)
	go c.writePump()
	go c.readPump()
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Printf("[gateway] write to %s failed: %v", c.id, err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump only services control frames; subscribers send nothing the hub
// acts on. It disconnects the client when the transport fails.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c.id)
		c.close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxReadSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("[gateway] client %s read error: %v", c.id, err)
			}
			return
		}
	}
}
