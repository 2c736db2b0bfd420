// Command scriptoria-server starts the workspace HTTP API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"

	"github.com/scriptoria-app/scriptoria/internal/audit"
	"github.com/scriptoria-app/scriptoria/internal/config"
	"github.com/scriptoria-app/scriptoria/internal/crypto"
	"github.com/scriptoria-app/scriptoria/internal/errs"
	"github.com/scriptoria-app/scriptoria/internal/migrate"
	"github.com/scriptoria-app/scriptoria/internal/model"
	"github.com/scriptoria-app/scriptoria/internal/obs"
	"github.com/scriptoria-app/scriptoria/internal/repository"
	"github.com/scriptoria-app/scriptoria/internal/repository/postgres"
	"github.com/scriptoria-app/scriptoria/internal/server/httpapi"
	"github.com/scriptoria-app/scriptoria/internal/service"
	"github.com/scriptoria-app/scriptoria/internal/token"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations and serves the HTTP API until a
// termination signal arrives.
func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := migrate.Up(ctx, cfg.DSN); err != nil {
		logger.Fatal("migrate up", zap.Error(err))
	}

	db, err := postgres.New(ctx, cfg.DSN)
	if err != nil {
		logger.Fatal("postgres.New", zap.Error(err))
	}
	defer db.Close()

	// Repositories
	userRepo := postgres.NewUserRepo(db)
	tokenRepo := postgres.NewTokenRepo(db)
	auditRepo := postgres.NewAuditRepo(db)
	storyRepo := postgres.NewStoryRepo(db)
	docRepo := postgres.NewDocumentRepo(db)

	// Services
	sink := audit.NewSink(auditRepo, logger)
	ledger := token.NewLedger(tokenRepo, cfg.AccessTTL, cfg.RefreshTTL)
	authSvc := service.NewAuthService(userRepo, ledger, sink, service.GuardPolicy{
		MaxAttempts: cfg.LoginMaxAttempts,
		LockFor:     cfg.LoginLock,
	})
	docsSvc := service.NewDocumentsService(storyRepo, docRepo, sink, service.DefaultRiskPolicy())

	if err := seedAdmin(ctx, userRepo, cfg, logger); err != nil {
		logger.Fatal("seed admin", zap.Error(err))
	}

	obs.Init()
	api := httpapi.New(authSvc, docsSvc, ledger, httpapi.ReadyProbe{DB: db.Pool}, logger, httpapi.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		MaxBodyBytes:   cfg.DocumentMaxBytes,
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("serve", zap.Error(err))
		}
	}
}

// seedAdmin creates the bootstrap admin account when configured and absent.
func seedAdmin(ctx context.Context, users repository.UserRepository, cfg config.Config, logger *zap.Logger) error {
	if cfg.AdminPassword == "" {
		logger.Info("admin seed skipped, no password configured")
		return nil
	}
	if _, err := users.GetByUsername(ctx, cfg.AdminUsername); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return err
	}

	hash, err := crypto.HashPassword(cfg.AdminPassword)
	if err != nil {
		return err
	}
	a := &model.Account{
		ID:           uuid.Must(uuid.NewV4()),
		Username:     cfg.AdminUsername,
		PasswordHash: hash,
		Role:         model.RoleAdmin,
		IsActive:     true,
	}
	if err := users.Create(ctx, a); err != nil && !errors.Is(err, errs.ErrAlreadyExists) {
		return err
	}
	logger.Info("admin account seeded", zap.String("username", cfg.AdminUsername))
	return nil
}
