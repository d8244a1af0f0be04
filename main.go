package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/PW-AC/ATLAS-DesktopClient-sub001/config"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/handler"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/middleware"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/pkg/logger"
	"github.com/PW-AC/ATLAS-DesktopClient-sub001/service"
	"github.com/gin-gonic/gin"
)

func main() {
	// Load configuration
	cfg, err := config.Load("config.yaml")
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// Initialize logger
	logger.Init(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	slog.Info("configuration loaded successfully", "carriers", len(cfg.Carriers))

	// Initialize services
	archiveSvc, err := service.NewArchiveService(&cfg.Archive)
	if err != nil {
		slog.Error("failed to initialize archive service", "error", err)
		os.Exit(1)
	}

	// Ensure bucket exists
	if err := archiveSvc.EnsureBucket(context.Background()); err != nil {
		slog.Error("failed to ensure archive bucket", "error", err)
		os.Exit(1)
	}

	pipeline := service.NewDocumentPipeline(cfg.Pipeline.MaxDocuments, archiveSvc)

	syncSvc, err := service.NewSyncService(cfg, pipeline)
	if err != nil {
		slog.Error("failed to initialize carrier connections", "error", err)
		os.Exit(1)
	}
	defer syncSvc.Close()

	// Initialize handlers
	authHandler := handler.NewAuthHandler(cfg)
	shipmentHandler := handler.NewShipmentHandler(syncSvc)
	documentHandler := handler.NewDocumentHandler(pipeline, archiveSvc)

	// Setup Gin router
	gin.SetMode(gin.ReleaseMode)
	router := gin.New() // Use New() instead of Default() to avoid default middleware

	// Add custom middleware
	router.Use(middleware.RequestID())                 // Request ID for tracing
	router.Use(middleware.Recovery())                  // Panic recovery
	router.Use(middleware.RequestLogger())             // Access logging
	router.Use(middleware.RateLimit(100, time.Minute)) // Rate limiting: 100 requests per minute

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"carriers":  syncSvc.Carriers(),
			"documents": pipeline.Count(),
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})

	// Public routes
	api := router.Group("/api")
	{
		api.POST("/auth/login", authHandler.Login)
	}

	// Protected routes
	protected := api.Group("/")
	protected.Use(middleware.AuthMiddleware(&cfg.Auth))
	{
		protected.GET("/auth/me", authHandler.GetCurrentUser)
		protected.GET("/carriers", shipmentHandler.ListCarriers)
		protected.GET("/carriers/:name/shipments", shipmentHandler.ListShipments)
		protected.POST("/carriers/:name/sync", shipmentHandler.SyncCarrier)
		protected.POST("/sync", shipmentHandler.SyncAll)
		protected.GET("/documents", documentHandler.List)
		protected.GET("/documents/:id", documentHandler.Get)
		protected.GET("/documents/:id/status", documentHandler.GetStatus)
		protected.GET("/documents/:id/url", documentHandler.GetURL)
		protected.DELETE("/documents/:id", middleware.RequireRole(config.RoleAdmin), documentHandler.Delete)
		protected.POST("/documents/:id/transition", middleware.RequireRole(config.RoleAdmin), documentHandler.Transition)
	}

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Start server in goroutine
	go func() {
		slog.Info("server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("failed to start server", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("server exited gracefully")
}
