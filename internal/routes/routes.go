package routes

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"aiprocessor/internal/handlers"
	"aiprocessor/internal/logger"
)

// Dependencies are the services the status server reads from. Sightings and
// Hub are optional; their routes are left out when nil.
type Dependencies struct {
	Workers   handlers.WorkerLister
	Counter   handlers.DispatchCounter
	Sightings handlers.SightingReader
	Hub       handlers.Hub
	LogDir    string
	Drops     map[string]handlers.DropCounter
}

// SetupRoutes builds the status server. ctx bounds websocket registrations.
func SetupRoutes(ctx context.Context, deps Dependencies, logger *logger.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger), cors.Default())

	router.GET("/healthz", handlers.HealthHandler(deps.Workers, deps.Drops))

	api := router.Group("/api")
	api.GET("/workers", handlers.WorkersHandler(deps.Workers))
	if deps.Sightings != nil {
		api.GET("/sightings/recent", handlers.RecentSightingsHandler(deps.Sightings))
		api.GET("/sightings/stats", handlers.SightingStatsHandler(deps.Sightings, deps.Counter))
	}

	router.GET("/logs/:level", handlers.ShowLogsHandler(deps.LogDir))

	if deps.Hub != nil {
		router.GET("/ws/sightings", handlers.SightingsWebsocketHandler(ctx, deps.Hub, logger))
	}

	return router
}

func requestLogger(logger *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("%s %s %d %s", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}
