package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	gintrace "gopkg.in/DataDog/dd-trace-go.v1/contrib/gin-gonic/gin"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/anondrop/file-service/internal/api"
	"github.com/anondrop/file-service/internal/api/handlers"
	"github.com/anondrop/file-service/internal/api/middleware"
	"github.com/anondrop/file-service/internal/configuration"
	"github.com/anondrop/file-service/internal/services"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := configuration.Load()

	if cfg.Tracing.Enabled {
		tracer.Start(tracer.WithService(cfg.Tracing.Service))
		defer tracer.Stop()
	}

	store, err := services.InitializePostgres(cfg.Database.ConnectionString(), cfg.Tracing.Enabled)
	if err != nil {
		log.Fatalf("Failed to initialize PostgreSQL: %v", err)
	}
	defer store.Close()

	minioService, err := services.InitializeMinio(
		cfg.MinIO.Endpoint,
		cfg.MinIO.AccessKey,
		cfg.MinIO.SecretKey,
		cfg.MinIO.BucketName,
		cfg.MinIO.UseSSL,
	)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO: %v", err)
	}

	// NATS is optional: without it the notification bot just stays silent.
	var events services.EventPublisher
	if cfg.NATSURL != "" {
		natsService, err := services.ConnectNATS(cfg.NATSURL)
		if err != nil {
			log.Printf("Warning: NATS unavailable, events disabled: %v", err)
		} else {
			defer natsService.Close()
			events = natsService
		}
	}

	lifecycle := services.NewLifecycle(store, minioService, events, cfg.Server.BaseURL)

	handler := &handlers.FileHandler{
		Lifecycle:   lifecycle,
		Signer:      minioService,
		Store:       store,
		Storage:     minioService,
		MaxFileSize: cfg.Server.MaxFileSizeMB * 1024 * 1024,
	}
	if cfg.CLAMAVURL != "" {
		handler.Scanner = services.NewScanner(cfg.CLAMAVURL, minioService, store)
		log.Println("ClamAV scanning enabled")
	}

	setupGracefulShutdown()

	r := gin.Default()
	if cfg.Tracing.Enabled {
		r.Use(gintrace.Middleware(cfg.Tracing.Service))
	}

	rateLimiter := middleware.RateLimit(
		store,
		time.Duration(cfg.RateLimit.WindowSeconds)*time.Second,
		cfg.RateLimit.MaxRequests,
	)
	api.RegisterRoutes(r, handler, rateLimiter)

	log.Printf("Server starting on :%s", cfg.Server.Port)
	if err := r.Run(":" + cfg.Server.Port); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

func setupGracefulShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-c
		log.Println("Shutting down gracefully...")
		os.Exit(0)
	}()
}
