package session

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	readWait  = 60 * time.Second
	writeWait = 10 * time.Second
)

// WSTransport dials the hub's websocket endpoint.
type WSTransport struct {
	URL    string
	Header http.Header
	Dialer *websocket.Dialer // default websocket.DefaultDialer
}

// Dial connects to URL.
func (t *WSTransport) Dial(ctx context.Context) (Conn, error) {
	dialer := t.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, _, err := dialer.DialContext(ctx, t.URL, t.Header)
	if err != nil {
		return nil, err
	}

	// The hub pings every 30s; a missing ping or frame for readWait means
	// the connection is dead.
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(readWait))
		err := conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if err == websocket.ErrCloseSent {
			return nil
		}
		return err
	})
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	c.conn.SetReadDeadline(time.Now().Add(readWait))
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Close() error {
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown"),
		time.Now().Add(writeWait))
	return c.conn.Close()
}
