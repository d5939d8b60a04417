package ws

import (
	"net/http"
	"time"

	"nutbutter/config"
	"nutbutter/internal/auth"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StatusSource answers the current status for the initial push on connect.
type StatusSource interface {
	CurrentStatus(correlationID string) (string, bool)
}

// UpgradePaymentWS upgrades a checkout session that wants live status for
// one payment request. Auth token and correlation id come as query params.
func UpgradePaymentWS(cfg *config.JWTConfig, hub *PaymentHub, statuses StatusSource) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		token := c.Query("token")
		if token == "" {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"token required"}`))
			return
		}
		if _, err := auth.ParseAccessToken(cfg, token); err != nil {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
			return
		}
		correlationID := c.Query("correlation_id")
		if correlationID == "" {
			conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"correlation_id required"}`))
			return
		}
		client := &Client{
			CorrelationID: correlationID,
			Send:          make(chan []byte, 16),
		}
		hub.Register(client)
		defer client.Close()
		// Push the current status so the client never misses a transition
		// that happened before it connected.
		if status, ok := statuses.CurrentStatus(correlationID); ok {
			hub.BroadcastStatus(correlationID, status)
		}
		go writePump(client, conn)
		readPump(conn)
	}
}

// writePump copies messages from client.Send to the connection.
func writePump(c *Client, conn *websocket.Conn) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.Send:
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func readPump(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
