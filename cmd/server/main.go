// Package main is the entry point for the server fleet binary. It dispatches
// three subcommands — serve, migrate, and version — via a simple switch on
// os.Args so the binary's full CLI surface is readable in one place without
// requiring a cobra dependency. The serve command runs auto-migration on
// startup so freshly deployed containers never need a separate migration step.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/serverfleet/serverfleet/internal/api"
	"github.com/serverfleet/serverfleet/internal/config"
	"github.com/serverfleet/serverfleet/internal/db"
	"github.com/serverfleet/serverfleet/internal/db/repositories"
	"github.com/serverfleet/serverfleet/internal/dispatch"
	"github.com/serverfleet/serverfleet/internal/jobs"
	"github.com/serverfleet/serverfleet/internal/notify"
	"github.com/serverfleet/serverfleet/internal/provider"
	"github.com/serverfleet/serverfleet/internal/provider/hetzner"
	"github.com/serverfleet/serverfleet/internal/safego"
	"github.com/serverfleet/serverfleet/internal/service"
	"github.com/serverfleet/serverfleet/internal/telemetry"
)

const (
	version = "0.1.0"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Error: %v\n", err)
	}
}

func run() error {
	// Parse command from args
	command := "serve"
	if len(os.Args) > 1 {
		command = os.Args[1]
	}

	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Execute command
	switch command {
	case "serve":
		return serve(cfg)
	case "migrate":
		if len(os.Args) < 3 {
			return fmt.Errorf("usage: %s migrate <up|down>", os.Args[0])
		}
		return runMigrations(cfg, os.Args[2])
	case "version":
		fmt.Printf("Server Fleet v%s\n", version)
		return nil
	default:
		return fmt.Errorf("unknown command: %s\nAvailable commands: serve, migrate, version", command)
	}
}

func serve(cfg *config.Config) error {
	// Initialise structured logger as early as possible so all subsequent log
	// output uses the configured format (json / text) and level.
	telemetry.SetupLogger(cfg.Logging.Format, cfg.Logging.Level)

	// Set Gin mode
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	slog.Info("connected to database", "host", cfg.Database.Host, "name", cfg.Database.Name)

	// Begin exporting DB pool statistics to Prometheus.
	telemetry.StartDBStatsCollector(database)

	// Run migrations automatically on startup
	if err := db.RunMigrations(database, "up"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		slog.Warn("failed to read migration version", "error", err)
	} else {
		slog.Info("database schema ready", "version", schemaVersion, "dirty", dirty)
	}

	// Register enabled provider backends. The registry only ever holds
	// factories; a backend client is built per resolved template.
	if cfg.Provider.Hetzner.Enabled {
		hetzner.RegisterInto(provider.DefaultRegistry, hetzner.Config{
			Token:      cfg.Provider.Hetzner.Token,
			APIURL:     cfg.Provider.Hetzner.APIURL,
			ActionWait: cfg.Provider.Hetzner.ActionWait,
		})
		slog.Info("provider backend registered", "provider", "hetzner")
	}
	if len(provider.DefaultRegistry.Keys()) == 0 {
		slog.Warn("no provider backends enabled; create tasks will fail until one is configured")
	}

	// Redis is needed for the redis queue backend and for rate limiting.
	var rdb *redis.Client
	if cfg.Dispatcher.QueueBackend == "redis" || cfg.Security.RateLimiting.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	// Queue backend: the in-memory queue loses tasks on restart and suits
	// single-node deployments; redis survives restarts and fans out to
	// multiple dispatcher processes.
	var queue dispatch.Queue
	switch cfg.Dispatcher.QueueBackend {
	case "redis":
		queue = dispatch.NewRedisQueue(rdb, cfg.Redis.KeyPrefix)
		slog.Info("task queue backend", "backend", "redis", "addr", cfg.Redis.Addr)
	default:
		queue = dispatch.NewMemoryQueue(cfg.Dispatcher.QueueSize)
		slog.Info("task queue backend", "backend", "memory", "size", cfg.Dispatcher.QueueSize)
	}

	// Repositories
	instanceRepo := repositories.NewInstanceRepository(database)
	templateRepo := repositories.NewTemplateRepository(database)
	executionRepo := repositories.NewExecutionRepository(database)

	// Notifications
	mailer := notify.NewSMTPMailer(notify.SMTPSettings{
		Host:       cfg.Notifications.SMTP.Host,
		Port:       cfg.Notifications.SMTP.Port,
		Username:   cfg.Notifications.SMTP.Username,
		Password:   cfg.Notifications.SMTP.Password,
		From:       cfg.Notifications.SMTP.From,
		UseTLS:     cfg.Notifications.SMTP.UseTLS,
		AdminEmail: cfg.Notifications.AdminEmail,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Task dispatcher
	dispatcherOpts := []dispatch.Option{
		dispatch.WithThrottleDelay(cfg.Dispatcher.ThrottleRetryDelay),
	}
	if cfg.Dispatcher.SingleFlight {
		dispatcherOpts = append(dispatcherOpts, dispatch.WithSingleFlight())
	}
	dispatcher := dispatch.NewDispatcher(
		provider.DefaultRegistry,
		queue,
		instanceRepo,
		templateRepo,
		executionRepo,
		nil, // log sink; deployments with an in-app inbox plug their own in
		dispatcherOpts...,
	)
	safego.Go(func() {
		dispatcher.Run(ctx, cfg.Dispatcher.Workers)
	})
	slog.Info("dispatcher started", "workers", cfg.Dispatcher.Workers)

	// Background sweeps
	sweeper := jobs.NewRemovalSweeper(instanceRepo, queue, cfg.Sweeps.Interval)
	safego.Go(func() {
		sweeper.Start(ctx)
	})
	defer sweeper.Stop()

	if cfg.Notifications.Enabled {
		notifier := jobs.NewProlongNotifier(
			instanceRepo,
			mailer,
			jobs.MailAddressBook{},
			mailer.EscalateToAdmins,
			cfg.Server.GetPublicURL(),
			cfg.Sweeps.NotifyWindowWeeks,
			cfg.Sweeps.Interval,
		)
		safego.Go(func() {
			notifier.Start(ctx)
		})
		defer notifier.Stop()
	} else {
		slog.Info("notifications disabled; expiry warnings will not be sent")
	}

	// Start Prometheus metrics endpoint on a dedicated port so it is not
	// reachable through the public API ingress path.
	if cfg.Telemetry.Metrics.Enabled {
		metricsAddr := fmt.Sprintf(":%d", cfg.Telemetry.Metrics.PrometheusPort)
		safego.Go(func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			slog.Info("starting Prometheus metrics server", "addr", metricsAddr)
			srv := &http.Server{
				Addr:         metricsAddr,
				Handler:      mux,
				ReadTimeout:  10 * time.Second,
				WriteTimeout: 10 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server error", "error", err)
			}
		})
	}

	// Service and router
	lifecycle := service.NewLifecycle(instanceRepo, templateRepo, executionRepo, provider.DefaultRegistry, queue)
	router := api.NewRouter(cfg, database, lifecycle, rdb)

	server := &http.Server{
		Addr:         cfg.Server.GetAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server in a goroutine
	safego.Go(func() {
		slog.Info("starting server", "addr", cfg.Server.GetAddress(), "public_url", cfg.Server.GetPublicURL())

		var err error
		if cfg.Security.TLS.Enabled {
			slog.Info("TLS enabled", "cert", cfg.Security.TLS.CertFile, "key", cfg.Security.TLS.KeyFile)
			err = server.ListenAndServeTLS(cfg.Security.TLS.CertFile, cfg.Security.TLS.KeyFile)
		} else {
			err = server.ListenAndServe()
		}

		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server")

	// Stop accepting new requests, then stop the background machinery. Tasks
	// already running finish their current step; the queue keeps the rest.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	cancel()

	slog.Info("server stopped gracefully")
	return nil
}

func runMigrations(cfg *config.Config, direction string) error {
	// Connect to database
	database, err := db.Connect(cfg.Database.GetDSN(), cfg.Database.MaxConnections, cfg.Database.MinIdleConnections)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	log.Printf("Running migrations: %s", direction)

	// Run migrations
	if err := db.RunMigrations(database, direction); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	// Get current version
	schemaVersion, dirty, err := db.GetMigrationVersion(database)
	if err != nil {
		return fmt.Errorf("failed to get migration version: %w", err)
	}

	log.Printf("Migration completed successfully. Current version: %d (dirty: %v)", schemaVersion, dirty)
	return nil
}
