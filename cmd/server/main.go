package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/JonMonday/inv-sub000/internal/audit"
	"github.com/JonMonday/inv-sub000/internal/auth"
	"github.com/JonMonday/inv-sub000/internal/config"
	"github.com/JonMonday/inv-sub000/internal/database"
	"github.com/JonMonday/inv-sub000/internal/directory"
	"github.com/JonMonday/inv-sub000/internal/fulfillment"
	"github.com/JonMonday/inv-sub000/internal/idempotency"
	"github.com/JonMonday/inv-sub000/internal/middleware"
	"github.com/JonMonday/inv-sub000/internal/scheduler"
	stockrouter "github.com/JonMonday/inv-sub000/internal/stock/router"
	stockservice "github.com/JonMonday/inv-sub000/internal/stock/service"
	"github.com/JonMonday/inv-sub000/internal/tracing"
	wfrouter "github.com/JonMonday/inv-sub000/internal/workflow/router"
	wfservice "github.com/JonMonday/inv-sub000/internal/workflow/service"
)

// jobTimeout bounds one run of a maintenance job.
const jobTimeout = 5 * time.Minute

func main() {
	issueToken := flag.Int64("issue-token", 0, "print a bearer token for the given user ID and exit")
	flag.Parse()

	// Load configuration from environment variables
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	authService, err := auth.NewAuthService(cfg.Auth)
	if err != nil {
		log.Fatalf("failed to create auth service: %v", err)
	}
	if *issueToken != 0 {
		token, err := authService.IssueToken(*issueToken)
		if err != nil {
			log.Fatalf("failed to issue token: %v", err)
		}
		fmt.Println(token)
		return
	}

	slog.Info("configuration loaded successfully",
		"db_driver", cfg.Database.Driver,
		"db_host", cfg.Database.Host,
		"db_port", cfg.Database.Port,
		"db_name", cfg.Database.Name,
		"db_sslmode", cfg.Database.SSLMode,
	)

	slog.Info("CORS configuration",
		"allowed_origins", cfg.CORS.AllowedOrigins,
		"allowed_methods", cfg.CORS.AllowedMethods,
		"allowed_headers", cfg.CORS.AllowedHeaders,
		"allow_credentials", cfg.CORS.AllowCredentials,
		"max_age", cfg.CORS.MaxAge,
	)

	slog.Info("server configuration",
		"port", cfg.Server.Port,
		"shutdown_timeout", cfg.Server.ShutdownTimeout,
	)

	if cfg.Tracing.Enabled {
		if err := tracing.Init(cfg.Tracing.ServiceName, cfg.Tracing.OutputFile); err != nil {
			log.Fatalf("failed to initialize tracing: %v", err)
		}
		slog.Info("tracing enabled", "service", cfg.Tracing.ServiceName)
	}

	// Initialize database connection
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := database.Close(db); err != nil {
			slog.Error("failed to close database", "error", err)
		}
	}()

	// Perform health check
	if err := database.HealthCheck(db); err != nil {
		log.Fatalf("database health check failed: %v", err)
	}

	if err := database.Migrate(db); err != nil {
		log.Fatalf("database migration failed: %v", err)
	}

	startupCtx := context.Background()

	lookups := stockservice.NewLookupService(db)
	if err := lookups.SeedLookups(startupCtx); err != nil {
		log.Fatalf("failed to seed stock lookups: %v", err)
	}

	// Workflow
	auditService := audit.NewService()
	templates := wfservice.NewTemplateService(db)
	resolver := wfservice.NewAssigneeResolver(directory.NewRepository(db))
	engine := wfservice.NewWorkflowEngine(db, templates, resolver, auditService)
	workflowQueries := wfservice.NewQueryService(db)

	// Stock
	guard := idempotency.NewGuard(cfg.Idempotency.KeyTTL)
	ledger := stockservice.NewLedgerService(db, lookups, guard, workflowQueries, auditService)
	stockQueries := stockservice.NewQueryService(db)

	// Request fulfillment posts to the ledger from workflow actions
	requests := fulfillment.NewService(db, ledger, stockQueries, workflowQueries)
	engine.AddActionHook(requests)

	// Maintenance jobs
	archive, err := audit.NewArchiveFromConfig(startupCtx, cfg.Storage)
	if err != nil {
		log.Fatalf("failed to initialize audit archive: %v", err)
	}
	exporter := audit.NewExporter(db, archive, 0)
	purger := idempotency.NewPurger(db)

	jobs := scheduler.New(jobTimeout)
	if err := jobs.Register("idempotency-purge", cfg.Idempotency.PurgeSchedule, purger.PurgeExpired); err != nil {
		log.Fatalf("failed to schedule idempotency purge: %v", err)
	}
	if archive != nil {
		err := jobs.Register("audit-export", cfg.Storage.ExportSchedule, func(ctx context.Context) (int64, error) {
			n, err := exporter.ExportPending(ctx)
			return int64(n), err
		})
		if err != nil {
			log.Fatalf("failed to schedule audit export: %v", err)
		}
	}
	jobs.Start()

	// Set up HTTP routes
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.CorrelationID(),
		middleware.Tracing(),
		middleware.RequestLogger(),
		middleware.CORS(&cfg.CORS),
	)

	r.GET("/health", func(c *gin.Context) {
		if err := database.HealthCheck(db); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api", auth.RequireAuth(authService))
	wfrouter.NewWorkflowRouter(engine, workflowQueries, templates).Register(api.Group("/workflow"))
	stockrouter.NewStockRouter(ledger, stockQueries, requests).Register(api.Group("/stock"))

	// Set up graceful shutdown
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Channel to listen for interrupt signals
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	// Start server in a goroutine
	go func() {
		slog.Info("starting server", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("failed to start server", "error", err)
			quit <- syscall.SIGTERM
		}
	}()

	// Wait for interrupt signal
	<-quit
	slog.Info("shutting down server...")

	// Create a context with timeout for graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown of HTTP server
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	} else {
		slog.Info("server gracefully stopped")
	}

	slog.Info("stopping scheduled jobs...")
	jobs.Stop(ctx)

	if err := tracing.Shutdown(ctx); err != nil {
		slog.Error("failed to flush traces", "error", err)
	}

	slog.Info("server stopped")
}
