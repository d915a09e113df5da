package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/Vishnu2508307/Test-sub032/internal/domain"

	"github.com/gorilla/websocket"
)

// ErrSendBufferFull is returned by Push when the client cannot keep up.
// The relay treats it as a dropped delivery, never as a reason to block.
var ErrSendBufferFull = errors.New("client send buffer full")

// ErrChannelClosed is returned by Push after the connection has gone.
var ErrChannelClosed = errors.New("client connection closed")

// inboundQueueSize bounds the per-connection dispatch queue. A full
// queue back-pressures that connection's reads only.
const inboundQueueSize = 64

// Client is one live WebSocket connection. It implements the relay's
// Channel contract: an addressable sink that pushes one message to one
// connected consumer.
type Client struct {
	id       string
	userID   string
	clientID string
	conn     *websocket.Conn
	manager  *Manager
	Send     chan []byte
	inbound  chan []byte

	ctx    context.Context
	cancel context.CancelFunc

	closeMu sync.Mutex
	closed  bool
}

func NewClient(id, userID, clientID string, conn *websocket.Conn, manager *Manager) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:       id,
		userID:   userID,
		clientID: clientID,
		conn:     conn,
		manager:  manager,
		Send:     make(chan []byte, 256),
		inbound:  make(chan []byte, inboundQueueSize),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) UserID() string {
	return c.userID
}

// ClientID is the durable endpoint identity the sync protocol keys
// shadows on; it survives reconnects, unlike the connection id.
func (c *Client) ClientID() string {
	return c.clientID
}

// Context is canceled when the connection is torn down, so handler
// work started for this client stops with it.
func (c *Client) Context() context.Context {
	return c.ctx
}

// Push serializes a message onto the send queue without blocking.
// Pushing to a closed connection is a dropped delivery, not a panic:
// the relay may still hold the channel briefly after a disconnect.
func (c *Client) Push(msg *domain.Message) error {
	bytes, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if c.closed {
		return ErrChannelClosed
	}

	select {
	case c.Send <- bytes:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// closeSend marks the client closed, shuts the send queue and cancels
// the client context. Called only from the manager's run loop.
func (c *Client) closeSend() {
	c.closeMu.Lock()
	defer c.closeMu.Unlock()

	if !c.closed {
		c.closed = true
		c.cancel()
		close(c.Send)
	}
}

func (c *Client) ReadPump() {
	defer func() {
		close(c.inbound)
		c.manager.Unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(c.manager.maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("websocket error: %v", err)
			}
			break
		}

		c.inbound <- message
	}
}

// DispatchPump drains the inbound queue and runs the protocol handler.
// One pump per connection: a slow entity stalls only its own
// connection while per-connection message order is preserved.
func (c *Client) DispatchPump() {
	for message := range c.inbound {
		c.manager.processMessage(c, message)
	}
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(c.manager.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.Send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.Send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
