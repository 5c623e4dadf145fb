package hub

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a frame to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong before the socket is considered broken.
	pongWait = 60 * time.Second

	// Ping interval; must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxFrameSize = 4096
)

// inboundFrame is the only shape clients may send. Unknown fields are
// rejected so protocol drift surfaces instead of being silently ignored.
type inboundFrame struct {
	Content string `json:"content"`
}

// Client wraps one websocket connection as a hub Handle. The read and write
// goroutines are separated so a slow reader never blocks outbound fan-out.
type Client struct {
	username string
	conn     *websocket.Conn
	send     chan []byte
	log      *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewClient(username string, conn *websocket.Conn, sendBuffer int, log *slog.Logger) *Client {
	return &Client{
		username: username,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		log:      log,
	}
}

func (c *Client) Username() string { return c.username }

// Deliver queues a frame without blocking. False means the client is closed
// or its buffer is full; either way the handle is done.
func (c *Client) Deliver(payload []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// Close shuts the send channel exactly once. The write pump then sends a
// close frame and tears down the socket, which unblocks the read pump.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump consumes inbound frames until the socket drops, invoking
// onContent for each well-formed frame. It blocks; the caller runs it on
// the connection's goroutine and handles leave when it returns.
func (c *Client) ReadPump(onContent func(content string)) {
	defer func() {
		c.Close()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("Connection dropped", "username", c.username, "error", err)
			}
			return
		}

		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		var frame inboundFrame
		if err := dec.Decode(&frame); err != nil {
			c.log.Warn("Dropping malformed frame", "username", c.username, "error", err)
			continue
		}
		onContent(frame.Content)
	}
}

// WritePump drains the send channel to the socket and keeps the connection
// alive with pings. A missed pong trips the read deadline, so broken
// sockets are noticed without waiting for a failed write.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
