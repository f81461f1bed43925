package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/mossy-p/video-relay/config"
	"github.com/mossy-p/video-relay/internal/hub"
	"github.com/mossy-p/video-relay/internal/middleware"
)

// NewRouter wires the HTTP surface of the relay around h.
func NewRouter(cfg *config.Config, h *hub.Hub) *gin.Engine {
	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Live room membership (public)
		apiGroup.GET("/rooms/:roomId", GetRoom(h, cfg.Hub.MaxRoomSize))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	if cfg.JWTSecret != "" {
		wsGroup.Use(middleware.JWTAuth(cfg.JWTSecret))
	}
	{
		wsGroup.GET("/signal", HandleSignaling(h, cfg.Hub.SendBuffer))
	}

	return router
}
