package main

import (
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/codecollab/backend/api/handlers"
	"github.com/codecollab/backend/internal/db"
	"github.com/codecollab/backend/internal/engine"
	"github.com/codecollab/backend/internal/files"
	"github.com/codecollab/backend/internal/repository"
	"github.com/codecollab/backend/internal/ws"
)

func main() {
	// Load .env if present; real environment wins.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded configuration from .env")
	}

	// Get configuration from environment
	port := getEnv("PORT", "8080")
	dbPath := getEnv("DB_PATH", "data/projects.db")
	engineHost := getEnv("ENGINE_HOST", "localhost")
	enginePort := getEnvInt("ENGINE_PORT", 8884)
	engineTimeLimit := getEnvInt("ENGINE_TIME_LIMIT_SEC", 30)
	engineMemoryLimit := getEnvInt("ENGINE_MEMORY_LIMIT_MB", 256)

	// Ensure data directory exists
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	// Initialize database
	database, err := db.InitDB(dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.CloseDB()

	// Initialize repositories and file service
	fileRepo := repository.NewFileRepository(database)
	projectRepo := repository.NewProjectRepository(database)
	fileService := files.NewService(fileRepo, projectRepo)

	// Initialize the collaboration layer
	registry := ws.NewRegistry()
	hub := ws.NewHub(registry)
	defer registry.Close()

	// Initialize the execution bridge
	bridge := engine.NewBridge(engine.Config{
		Host:           engineHost,
		Port:           enginePort,
		ConnectTimeout: 5 * time.Second,
		TimeLimitSec:   engineTimeLimit,
		MemoryLimitMB:  engineMemoryLimit,
	}, hub)
	defer bridge.Close()

	router := ws.NewRouter(registry, hub, fileService, bridge)
	wsHandler := ws.NewHandler(registry, hub, router, bridge, fileService)

	// Initialize handlers
	wsRoutes := handlers.NewWebSocketHandler(wsHandler)
	fileRoutes := handlers.NewFileHandler(fileService)

	// Initialize Gin router
	r := gin.Default()

	// Enable CORS for development
	r.Use(corsMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status": "ok",
		})
	})

	// WebSocket route
	wsRoutes.RegisterRoutes(r)

	// API routes
	api := r.Group("/api")
	{
		fileRoutes.RegisterRoutes(api)
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Println("Shutting down server...")
		bridge.Close()
		registry.Close()
		db.CloseDB()
		os.Exit(0)
	}()

	// Start server
	log.Printf("Starting server on port %s (engine at %s:%d)", port, engineHost, enginePort)
	if err := r.Run(":" + port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default value.
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid value for %s: %q, using default %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

// corsMiddleware returns a CORS middleware for development.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
