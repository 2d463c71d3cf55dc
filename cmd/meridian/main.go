package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-emr/meridian-emr/internal/app"
	"github.com/meridian-emr/meridian-emr/internal/audit"
	"github.com/meridian-emr/meridian-emr/internal/auth"
	"github.com/meridian-emr/meridian-emr/internal/authz"
	"github.com/meridian-emr/meridian-emr/internal/grants"
	"github.com/meridian-emr/meridian-emr/internal/observability"
	"github.com/meridian-emr/meridian-emr/internal/patients"
	"github.com/meridian-emr/meridian-emr/internal/platform/cache"
	"github.com/meridian-emr/meridian-emr/internal/platform/db"
	"github.com/meridian-emr/meridian-emr/internal/shared"
	"github.com/meridian-emr/meridian-emr/internal/users"
	"github.com/meridian-emr/meridian-emr/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "meridian_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())

	auditLogger := shared.NewAuditLogger(dbpool)
	metrics := observability.NewMetrics()

	usersRepo := users.NewRepository(dbpool)
	grantsRepo := grants.NewRepository(dbpool)
	patientsRepo := patients.NewRepository(dbpool)

	principalCache := authz.NewPrincipalCache(cfg.AuthzCacheSize, cfg.AuthzCacheTTL)
	decisionSink := audit.NewDecisionSink(auditLogger)
	engine := authz.NewEngine(usersRepo, grantsRepo, patientsRepo, principalCache, decisionSink, logger)
	engine.SetObserver(metrics)
	gate := authz.Gate{Engine: engine, Logger: logger}

	authRepo := auth.NewRepository(dbpool)
	authService := auth.NewService(authRepo)
	var broker auth.IdentityBroker
	if cfg.OIDCEnabled() {
		oidcClient, err := auth.NewOIDC(ctx, cfg.OIDCIssuer, cfg.OIDCClientID, cfg.OIDCClientSecret, cfg.OIDCRedirectURL)
		if err != nil {
			logger.Error("configure identity provider", slog.Any("error", err))
			os.Exit(1)
		}
		broker = oidcClient
	} else {
		logger.Warn("no identity provider configured, local login only")
	}
	authHandler := auth.NewHandler(logger, authService, broker, sessionManager)

	usersService := users.NewService(usersRepo, principalCache, auditLogger, logger)
	usersHandler := users.NewHandler(logger, usersService, gate)

	grantsService := grants.NewService(grantsRepo, principalCache, auditLogger, logger)
	grantsHandler := grants.NewHandler(logger, grantsService, gate)

	patientsService := patients.NewService(patientsRepo, auditLogger, logger)
	patientsHandler := patients.NewHandler(logger, patientsService, engine, gate)

	auditRepo := audit.NewRepository(dbpool)
	auditService := audit.NewService(auditRepo)
	auditHandler := audit.NewHandler(logger, auditService, gate)

	catalogHandler := authz.NewCatalogHandler(gate)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:          logger,
		Config:          cfg,
		SessionManager:  sessionManager,
		AuthHandler:     authHandler,
		PatientsHandler: patientsHandler,
		UsersHandler:    usersHandler,
		GrantsHandler:   grantsHandler,
		AuditHandler:    auditHandler,
		CatalogHandler:  catalogHandler,
		JobsHandler:     jobsHandler,
		Metrics:         metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
