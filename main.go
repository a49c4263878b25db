package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"chartstream-backend/config"
	"chartstream-backend/routes"
	"chartstream-backend/scheduler"
	"chartstream-backend/services"
	"chartstream-backend/services/alerts"
	"chartstream-backend/services/kvstore"
	"chartstream-backend/services/marketdata"
	"chartstream-backend/services/triggerlog"
)

func main() {
	log.Println("==============================================")
	log.Println("  ChartStream Backend - Starting...")
	log.Println("==============================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Printf("Warning: Config load issue: %v", err)
	}

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(requestLogger())

	// Core realtime state
	store := services.NewQuoteStore()
	registry := services.NewSubscriptionRegistry()

	// Alert persistence mirror: MongoDB when configured, else in-process
	var kv kvstore.Store
	if cfg.MongoURI != "" {
		mongo, err := kvstore.NewMongo(cfg.MongoURI)
		if err != nil {
			log.Printf("Warning: MongoDB unavailable, alerts will not survive restarts: %v", err)
			kv = kvstore.NewMemory()
		} else {
			kv = mongo
			defer mongo.Close()
		}
	} else {
		kv = kvstore.NewMemory()
	}

	alertService := alerts.NewService(kv, registry)
	alertService.SetAutoRearm(cfg.AlertAutoRearm)
	if err := alertService.LoadFromStore(); err != nil {
		log.Printf("Warning: could not replay mirrored alerts: %v", err)
	}

	// Durable trigger history, only when a database is configured
	var history *triggerlog.Service
	if db, err := config.InitDB(); err != nil {
		log.Printf("Trigger history disabled: %v", err)
	} else {
		history, err = triggerlog.NewService(db)
		if err != nil {
			log.Printf("Trigger history disabled: %v", err)
			history = nil
		} else {
			alertService.SetRecorder(history)
		}
	}

	// Local snapshot archive
	archive, err := services.NewArchiveService(cfg.ArchivePath)
	if err != nil {
		log.Printf("Quote archive disabled: %v", err)
		archive = nil
	} else {
		defer archive.Close()
	}

	// Polling loop
	realtime := services.NewRealtimeService(store, registry, marketdata.NewYahooProvider(), alertService, cfg.MaxConcurrentFetches)
	pollCtx, stopPolling := context.WithCancel(context.Background())
	go realtime.Run(pollCtx)

	routes.SetupRoutes(router, routes.Deps{
		Store:    store,
		Registry: registry,
		Alerts:   alertService,
		History:  history,
		Archive:  archive,
	})

	jobScheduler := scheduler.NewScheduler(alertService, store, registry, archive, history)
	jobScheduler.Start()

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Port,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1 MB
	}

	go func() {
		log.Printf("Server listening on 0.0.0.0:%s", cfg.Port)
		log.Println("==============================================")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	gracefulShutdown(server, jobScheduler, stopPolling)
}

// corsMiddleware returns a CORS middleware handler
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// requestLogger returns a request logging middleware
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Skip logging for health checks to reduce noise
		path := c.Request.URL.Path
		if path == "/health" {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		if c.Writer.Status() >= 400 || duration > 1*time.Second {
			log.Printf("%s %s %d %v", c.Request.Method, path, c.Writer.Status(), duration)
		}
	}
}

// gracefulShutdown blocks until a termination signal, then stops the
// polling loop, the job scheduler and the HTTP server in that order.
func gracefulShutdown(server *http.Server, jobScheduler *scheduler.Scheduler, stopPolling context.CancelFunc) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Printf("Received signal %v, shutting down gracefully...", sig)

	stopPolling()
	jobScheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	if config.DB != nil {
		sqlDB, err := config.DB.DB()
		if err == nil {
			sqlDB.Close()
			log.Println("Database connection closed")
		}
	}

	log.Println("Server shutdown completed")
}
