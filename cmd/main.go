package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	_ "github.com/rail-service/custody_service/docs"
	"github.com/rail-service/custody_service/internal/api/routes"
	"github.com/rail-service/custody_service/internal/infrastructure/config"
	"github.com/rail-service/custody_service/internal/infrastructure/database"
	"github.com/rail-service/custody_service/internal/infrastructure/di"
	"github.com/rail-service/custody_service/pkg/graceful"
	"github.com/rail-service/custody_service/pkg/logger"
	"github.com/rail-service/custody_service/pkg/metrics"
	"github.com/rail-service/custody_service/pkg/tracing"
)

// @title Custody Service API
// @version 1.0
// @description Custodial deposit wallets, gas funding and token sweeps

// @host localhost:8080
// @BasePath /api/v1

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log := logger.New(cfg.LogLevel, cfg.Environment)
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry tracing
	tracingShutdown, err := tracing.InitTracer(ctx, tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		CollectorURL: cfg.Tracing.CollectorURL,
		Environment:  cfg.Environment,
		SampleRate:   cfg.Tracing.SampleRate,
		Insecure:     cfg.Tracing.Insecure,
	}, log.Zap())
	if err != nil {
		log.Fatal("Failed to initialize tracing", "error", err)
	}
	defer tracingShutdown(context.Background())

	// Initialize database
	db, err := database.NewConnection(cfg.Database)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}

	// Run migrations
	if err := database.RunMigrations(db.DB, cfg.Database.MigrationsPath); err != nil {
		log.Fatal("Failed to run migrations", "error", err)
	}

	// Set Gin mode
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Build dependency injection container
	container, err := di.NewContainer(ctx, cfg, db, log)
	if err != nil {
		log.Fatal("Failed to create DI container", "error", err)
	}
	log.Info("Custody keys loaded", "master_address", container.Deriver.MasterAddress().Hex())

	router := routes.SetupRoutes(container)

	// Queue consumers start before the scheduler can enqueue anything
	if err := container.JobWorker.Start(ctx); err != nil {
		log.Fatal("Failed to start withdrawal job worker", "error", err)
	}
	if err := container.CycleWorker.Start(); err != nil {
		log.Fatal("Failed to start withdrawal scheduler", "error", err)
	}

	server := &http.Server{
		Addr:           fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:    120 * time.Second,
		MaxHeaderBytes: 1 << 20, // 1MB
	}

	go func() {
		log.Info("Starting server",
			"port", cfg.Server.Port,
			"environment", cfg.Environment,
			"queue_backend", cfg.Queue.Backend,
			"withdrawal_schedule_enabled", cfg.Withdrawal.Enabled,
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", "error", err)
		}
	}()

	// Database pool metrics
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				stats := db.Stats()
				metrics.DatabaseConnectionsGauge.WithLabelValues("open").Set(float64(stats.OpenConnections))
				metrics.DatabaseConnectionsGauge.WithLabelValues("idle").Set(float64(stats.Idle))
				metrics.DatabaseConnectionsGauge.WithLabelValues("in_use").Set(float64(stats.InUse))
			}
		}
	}()

	shutdown := graceful.NewShutdownManager(server, log, container, db)
	shutdown.Register(graceful.ShutdownFunc(func(time.Duration) error {
		container.CycleWorker.Stop()
		return nil
	}))
	shutdown.Register(graceful.ShutdownFunc(func(time.Duration) error {
		return container.JobWorker.Shutdown()
	}))
	shutdown.WaitForShutdown(ctx)

	cancel()
	log.Info("Server exited gracefully")
}
