package routes

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/HSouheill/barrim_network/middleware"
	"github.com/HSouheill/barrim_network/models"
	"github.com/HSouheill/barrim_network/websocket"
)

// RegisterWebSocketRoutes serves live intent and payout events. Browsers pass the
// token as ?token= since they cannot set headers on the upgrade request.
func RegisterWebSocketRoutes(e *echo.Echo, hub *websocket.Hub, jwt echo.MiddlewareFunc) {
	e.GET("/api/ws", func(c echo.Context) error {
		operator := middleware.ExtractRole(c) == middleware.RoleAdmin
		memberID, err := primitive.ObjectIDFromHex(middleware.ExtractMemberID(c))
		if err != nil && !operator {
			return c.JSON(http.StatusUnauthorized, models.Response{
				Status:  http.StatusUnauthorized,
				Message: "Invalid member ID in token",
			})
		}
		return websocket.HandleWebSocket(c, hub, memberID, operator)
	}, jwt)
}
