package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"odportal/internal/account"
	"odportal/internal/api"
	"odportal/internal/attachments"
	"odportal/internal/attendance"
	"odportal/internal/auth"
	"odportal/internal/config"
	"odportal/internal/directory"
	"odportal/internal/events"
	"odportal/internal/identity"
	"odportal/internal/logging"
	"odportal/internal/odrequest"
	"odportal/internal/queue"
	"odportal/internal/store"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.Production())
	defer func() { _ = logger.Sync() }()

	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg, logger); err != nil {
		logger.Fatal("http server failed", zap.Error(err))
	}
}

func runHTTP(cfg config.App, logger *zap.Logger) error {
	ctx := context.Background()

	db, err := store.NewDB(ctx, cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	if cfg.AutoMigrate {
		if err := db.Migrate(ctx); err != nil {
			return err
		}
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var sessions auth.SessionStore
	if cfg.SessionBackend == "memory" {
		sessions = auth.NewMemorySessions()
	} else {
		sessions = auth.NewRedisSessions(redisClient.Client, "odportal:session:")
	}

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.QueueKey)
	}

	storage, err := attachments.New(cfg)
	if err != nil {
		logger.Warn("attachment storage not configured, uploads disabled", zap.Error(err))
		storage = nil
	}

	var google auth.IDTokenVerifier
	if cfg.GoogleClientID != "" {
		google = auth.GoogleVerifier{ClientID: cfg.GoogleClientID}
	}

	profiles := identity.NewService(identity.NewRepository(db.Client), db, logger)
	accounts := account.NewService(db, profiles, sessions, google, account.TokenConfig{
		Issuer:     cfg.JWTIssuer,
		SigningKey: cfg.JWTSigningKey,
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
	}, logger)
	requestRepo := odrequest.NewRepository(db.Client)
	requests := odrequest.NewService(requestRepo, storage, attachments.NewOrphans(db.Client), q, logger)
	att := attendance.NewService(attendance.NewRepository(db.Client), requestRepo, logger)

	checks := map[string]api.HealthCheck{"db": db.Healthy}
	if cfg.SessionBackend != "memory" || cfg.QueueBackend != "memory" {
		checks["redis"] = redisClient.Healthy
	}

	h := api.New(accounts, profiles, requests, att, events.NewService(db.Client), directory.NewService(db.Client), sessions, api.Options{
		JWTSigningKey:      cfg.JWTSigningKey,
		JWTIssuer:          cfg.JWTIssuer,
		CORSOrigins:        cfg.CORSOrigins,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		MaxAttachmentBytes: cfg.MaxAttachmentBytes,
		HealthChecks:       checks,
	}, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.String("db_driver", db.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	logger.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server forced shutdown", zap.Error(err))
	}
	logger.Info("server exited")
	return nil
}
