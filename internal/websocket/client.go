// internal/websocket/client.go
package websocket

import (
	"bytes"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/kkuzar/pos_hub/internal/models"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

var (
	newline = []byte{'\n'}
	space   = []byte{' '}
)

// ConnMeta is connect-time provenance. Written once at admission.
type ConnMeta struct {
	UserAgent   string
	RemoteAddr  string
	ConnectedAt time.Time
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn // nil for connections driven without a socket

	// Buffered channel of outbound frames. Only the hub goroutine sends on or closes it.
	send chan []byte

	user *models.SessionUser
	meta ConnMeta

	// Rooms the client belongs to. Owned by the hub goroutine.
	rooms map[string]struct{}

	lastActivity atomic.Int64 // unix nanos

	limiter   *rate.Limiter // nil disables rate limiting
	closeOnce sync.Once
	logger    *zap.Logger
}

func newClient(hub *Hub, conn *websocket.Conn, user *models.SessionUser, meta ConnMeta, sendBuffer int, limiter *rate.Limiter, logger *zap.Logger) *Client {
	id := uuid.NewString()
	c := &Client{
		id:      id,
		hub:     hub,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		user:    user,
		meta:    meta,
		rooms:   make(map[string]struct{}),
		limiter: limiter,
		logger:  logger.With(zap.String("connID", id), zap.String("userID", user.ID)),
	}
	c.touch(meta.ConnectedAt)
	return c
}

func (c *Client) ID() string                { return c.id }
func (c *Client) User() *models.SessionUser { return c.user }

func (c *Client) touch(t time.Time) {
	c.lastActivity.Store(t.UnixNano())
}

// LastActivity is the time of the last inbound frame.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

// info must run on the hub goroutine because it reads rooms.
func (c *Client) info() models.ConnectionInfo {
	rooms := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		rooms = append(rooms, r)
	}
	sort.Strings(rooms)
	return models.ConnectionInfo{
		ConnectionID: c.id,
		User:         c.user.Summary(),
		ConnectedAt:  c.meta.ConnectedAt,
		LastActivity: c.LastActivity(),
		Rooms:        rooms,
	}
}

func (c *Client) closeConn() {
	c.closeOnce.Do(func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

// readPump pumps frames from the websocket connection to the message router.
func (c *Client) readPump(handler *Handler) {
	defer func() {
		c.hub.Unregister(c, ReasonClosed)
		c.closeConn()
		c.logger.Debug("WebSocket readPump closed")
	}()
	c.conn.SetReadLimit(handler.cfg.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket unexpected close", zap.Error(err))
			} else {
				c.logger.Debug("WebSocket read ended", zap.Error(err))
			}
			return
		}

		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))

		// We only process text frames containing JSON
		if messageType != websocket.TextMessage {
			c.logger.Debug("Ignoring non-text frame", zap.Int("frameType", messageType))
			continue
		}

		message = bytes.TrimSpace(bytes.Replace(message, newline, space, -1))
		handler.processMessage(c, message)
	}
}

// writePump pumps frames from the send channel to the websocket connection.
// The hub closing send is the signal to close the socket.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConn()
		c.logger.Debug("WebSocket writePump closed")
	}()
	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug("Error writing frame", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logger.Debug("Error sending ping", zap.Error(err))
				return
			}
		}
	}
}
