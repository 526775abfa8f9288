package relay

import (
	"net/http"
	"time"
	"vr-sessions-server/models"
	"vr-sessions-server/storage"
	"vr-sessions-server/utils"

	"github.com/gorilla/websocket"
	"github.com/kataras/iris/v12"
	jsonWT "github.com/kataras/iris/v12/middleware/jwt"
	"github.com/sirupsen/logrus"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 4096

	// Per-client outbound queue size. Slow clients drop messages rather
	// than blocking the hub's fan-out.
	sendQueueSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one authenticated WebSocket connection registered with the Hub.
// roomID and the cached pose are owned by the hub's dispatch goroutine.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	userID      uint
	displayName string

	roomID   string
	position *Vector3
	rotation *Vector3
}

// UserID returns the authenticated user behind this connection.
func (c *Client) UserID() uint { return c.userID }

// DisplayName returns the name broadcast to other participants.
func (c *Client) DisplayName() string { return c.displayName }

// HandleConnection upgrades an authenticated HTTP request to a relay
// connection. The credential is validated once here; afterwards the hub only
// sees the in-memory association.
func HandleConnection(hub *Hub) iris.Handler {
	return func(ctx iris.Context) {
		claims := jsonWT.Get(ctx).(*utils.AccessToken)

		var user models.User
		if err := storage.DB.Select("id, username, display_name").First(&user, claims.ID).Error; err != nil {
			ctx.StopWithStatus(iris.StatusUnauthorized)
			return
		}
		displayName := user.DisplayName
		if displayName == "" {
			displayName = user.Username
		}

		conn, err := upgrader.Upgrade(ctx.ResponseWriter(), ctx.Request(), nil)
		if err != nil {
			logrus.WithError(err).Warn("relay: websocket upgrade failed")
			return
		}

		client := &Client{
			hub:         hub,
			conn:        conn,
			send:        make(chan []byte, sendQueueSize),
			userID:      claims.ID,
			displayName: displayName,
		}

		hub.register(client)
		go client.writePump()
		go client.readPump()
	}
}

// readPump reads inbound frames and queues them onto the hub. A dropped
// connection is the only cancellation signal: the deferred unregister runs
// the disconnect cleanup path.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logrus.WithFields(logrus.Fields{
					"user_id": c.userID,
				}).WithError(err).Debug("relay: read error")
			}
			return
		}
		c.hub.dispatch(c, data)
	}
}

// writePump drains the send queue onto the socket and keeps the connection
// alive with pings.
func (c *Client) writePump() {
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
