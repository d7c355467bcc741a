package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/imyashkale/gengar-bark/internal/config"
	"github.com/imyashkale/gengar-bark/internal/database"
	"github.com/imyashkale/gengar-bark/internal/handlers"
	"github.com/imyashkale/gengar-bark/internal/logger"
	"github.com/imyashkale/gengar-bark/internal/middleware"
	"github.com/imyashkale/gengar-bark/internal/queue"
	"github.com/imyashkale/gengar-bark/internal/repository"
	"github.com/imyashkale/gengar-bark/internal/router"
	"github.com/imyashkale/gengar-bark/internal/services"
	"github.com/slack-go/slack"
)

// jobTimeoutMargin leaves room for publishing the App Home after a verification.
const jobTimeoutMargin = 5 * time.Second

func main() {

	ctx := context.Background()

	// Load application configuration
	cfg := config.New()
	logger.Init(cfg.LogLevel)
	logger.Info("Configuration loaded successfully")

	// Open the configuration database and bring the schema up to date
	db, err := database.NewDB(cfg.DatabasePath)
	if err != nil {
		logger.Fatalf("Failed to open database %s: %v", cfg.DatabasePath, err)
	}
	defer db.Close()

	if err := database.RunMigrations(db.Writer); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.WithField("path", db.Path()).Info("Database ready")

	codec, err := services.NewSecretCodec(cfg.EncryptionKey)
	if err != nil {
		logger.Fatalf("Failed to initialize secret codec: %v", err)
	}

	// Audit records always go to the log; DynamoDB is optional
	audit := repository.NewLogAuditSink()
	if cfg.AuditToDynamoDB() {
		dbConfig := database.NewConfig(cfg)
		logger.WithFields(map[string]interface{}{
			"table":  dbConfig.TableName,
			"region": dbConfig.Region,
		}).Info("Initializing DynamoDB audit sink")

		dbClient, err := database.NewClient(ctx, dbConfig)
		if err != nil {
			logger.Fatalf("Failed to initialize DynamoDB client: %v", err)
		}
		audit = repository.NewMultiAuditSink(audit, repository.NewDynamoAuditSink(database.NewAuditLog(dbClient)))
	}

	// Initialize the configuration store
	store := services.NewMCPConfigService(
		repository.NewMCPConfigRepository(database.NewMCPServerConfigs(db)),
		codec,
		services.NewURLValidator(net.DefaultResolver, cfg.DNSTimeout),
		services.NewConnectivityVerifier(cfg.VerifyTimeout),
		audit,
	)
	logger.Info("MCP configuration store initialized")

	cacheSecret := cfg.CacheTokenSecret
	if cacheSecret == "" {
		cacheSecret = services.DeriveCacheTokenSecret(cfg.EncryptionKey)
	}
	cacheTokens := services.NewCacheTokenCodec(cacheSecret, services.DefaultCacheTokenTTL)

	templates, err := services.LoadTemplateCatalog(cfg.TemplatesFile)
	if err != nil {
		logger.Fatalf("Failed to load MCP templates: %v", err)
	}

	// Background jobs for verification and App Home publishing
	jobQueue := queue.NewJobQueue(cfg.JobQueueSize)
	workerPool := queue.NewWorkerPool(jobQueue, cfg.VerifyWorkers, cfg.VerifyTimeout+jobTimeoutMargin)
	workerPool.Start()
	logger.Infof("Worker pool started with %d workers", cfg.VerifyWorkers)

	// Initialize handlers
	opts := router.Options{
		Health:             handlers.NewHealthHandler(db.Reader),
		Slack:              handlers.NewSlackHandler(store, slack.New(cfg.SlackBotToken), jobQueue, cacheTokens, templates),
		SlackSigningSecret: cfg.SlackSigningSecret,
		CORSOrigins:        cfg.CORSAllowedOrigins,
	}
	if cfg.APIEnabled() {
		opts.MCP = handlers.NewMCPHandler(store, templates)
		opts.Auth = middleware.NewAuthConfig(cfg.APIJWTSecret, cfg.Auth0Domain, cfg.Auth0Audience)
		logger.Info("REST API enabled")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router.Setup(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Setup graceful shutdown
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		logger.Info("Shutting down server gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("HTTP server shutdown failed")
		}

		// Close the job queue and wait for in-flight jobs
		if err := workerPool.Stop(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Workers did not finish before the deadline")
		}
		logger.Info("All workers stopped")
	}()

	// Start server
	logger.Infof("Starting server on :%s", cfg.Port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("Failed to start server: %v", err)
	}
	<-done
}
