package main

import (
	"context"
	"log"

	"github.com/mossy-p/video-relay/config"
	"github.com/mossy-p/video-relay/internal/handlers"
	"github.com/mossy-p/video-relay/internal/hub"
	"github.com/mossy-p/video-relay/internal/presence"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Membership mirror is optional; the hub keeps its own state in memory.
	var store presence.Store = presence.Nop{}
	if cfg.Redis.Enabled {
		rs, err := presence.Connect(context.Background(), cfg.Redis)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		store = rs
		log.Println("Redis connection established")
	}
	defer store.Close()

	h := hub.New(cfg.Hub, store)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := handlers.NewRouter(cfg, h)

	// Start server
	log.Printf("Starting WebRTC signaling server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
