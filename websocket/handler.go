package websocket

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// HandleWebSocket upgrades an authenticated request and registers the connection.
// Operators receive batch and intent events for every member.
func HandleWebSocket(c echo.Context, hub *Hub, memberID primitive.ObjectID, operator bool) error {
	if hub.stopped() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "notifications are shutting down")
	}
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	client := &Client{
		MemberID: memberID,
		Operator: operator,
		Conn:     conn,
	}
	if !hub.Register(client) {
		// stopped after the upgrade; the response is hijacked so only the socket is left to close
		conn.Close()
		return nil
	}

	welcome := Notification{
		Type:    NotificationTypeConnected,
		Message: "WebSocket connection established",
	}
	if !operator {
		welcome.MemberID = memberID.Hex()
	}
	client.WriteJSON(welcome)

	// Handle disconnection; incoming messages are ignored
	go func() {
		defer hub.Unregister(client)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	return nil
}
