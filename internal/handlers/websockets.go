package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"aiprocessor/internal/logger"
)

var Upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub is the live feed the viewers attach to.
type Hub interface {
	Register(ctx context.Context, client *websocket.Conn)
	Unregister(ctx context.Context, client *websocket.Conn)
}

// SightingsWebsocketHandler attaches a viewer to the hub until it disconnects.
// ctx is the hub's lifetime; registration gives up once it ends.
func SightingsWebsocketHandler(ctx context.Context, hub Hub, logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		connection, err := Upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warning("WebSocket upgrade error: %v", err)
			return
		}
		connection.SetReadLimit(512)

		hub.Register(ctx, connection)
		defer hub.Unregister(ctx, connection)

		logger.Debug("Viewer connected from %s", c.ClientIP())

		for {
			if _, _, err := connection.ReadMessage(); err != nil {
				logger.Debug("Viewer disconnected: %v", err)
				return
			}
		}
	}
}
