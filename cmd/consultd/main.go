package main

import (
	"context"
	"log"
	"time"

	"github.com/mediline/consult/config"
	"github.com/mediline/consult/internal/handlers"
	"github.com/mediline/consult/internal/matchmaker"
	"github.com/mediline/consult/internal/middleware"
	"github.com/mediline/consult/internal/redis"
	"github.com/mediline/consult/internal/relay"
	"github.com/mediline/consult/internal/turncred"

	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Connect to Redis
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	rdb, err := redis.Connect(ctx, cfg.Redis)
	cancel()
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer rdb.Close()

	log.Println("Redis connection established")

	// Shared waiting pool, relay hub, and credential provider
	registry := matchmaker.NewRedisRegistry(rdb, cfg.Matchmaking.WaitingTTL)
	mm := matchmaker.New(registry)
	hub := relay.NewHub(relay.NewRedisPresence(rdb))
	creds := turncred.NewProvider(cfg.Turn)

	// Setup Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()

	// Global CORS middleware (runs before routing)
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api")
	{
		// Login endpoint (public); assigns the caller its endpoint ID
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		// Relay credentials for one call attempt (requires JWT)
		apiGroup.GET("/ice", middleware.JWTAuth(cfg.JWTSecret), handlers.GetICE(creds))

		// Waiting-room matchmaking (requires JWT)
		auth := middleware.JWTAuth(cfg.JWTSecret)
		apiGroup.POST("/match", auth, handlers.RegisterMatch(mm, cfg.Matchmaking.DefaultQueue))
		apiGroup.GET("/match/:endpointId", auth, handlers.PollMatch(mm))
		apiGroup.DELETE("/match/:endpointId", auth, handlers.CancelMatch(mm, cfg.Matchmaking.DefaultQueue))
	}

	// WebSocket signaling endpoint
	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/session/:sessionId", handlers.HandleSignaling(hub))
	}

	// Start server
	log.Printf("Starting consultation signaling server on port %s", cfg.Port)
	if err := router.Run(":" + cfg.Port); err != nil {
		log.Fatal("Failed to start server:", err)
	}
}
