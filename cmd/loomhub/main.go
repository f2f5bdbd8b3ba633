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

	"github.com/loomhub/loomhub/internal/app"
	"github.com/loomhub/loomhub/internal/auth"
	"github.com/loomhub/loomhub/internal/observability"
	"github.com/loomhub/loomhub/internal/password"
	platformcache "github.com/loomhub/loomhub/internal/platform/cache"
	platformdb "github.com/loomhub/loomhub/internal/platform/db"
	"github.com/loomhub/loomhub/internal/rbac"
	"github.com/loomhub/loomhub/internal/session"
	"github.com/loomhub/loomhub/internal/token"
	"github.com/loomhub/loomhub/internal/users"
	"github.com/loomhub/loomhub/jobs"
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

	pool, err := platformdb.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Permission resolution degrades to uncached reads when Redis is down.
	var rbacCache *rbac.Cache
	redisClient, err := platformcache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, permission cache disabled", slog.Any("error", err))
	} else {
		rbacCache = rbac.NewCache(redisClient, cfg.AccessTokenTTL)
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()

	issuer := token.NewIssuer([]byte(cfg.JWTSecret), cfg.TokenIssuer, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	hasher := password.NewHasher(password.DefaultParams())
	sessionStore := session.NewPGStore(pool)

	rbacRepo := rbac.NewRepository(pool)
	rbacService := rbac.NewService(rbacRepo, rbacCache)
	guard := rbac.Guard{Issuer: issuer, Resolver: rbacService, Logger: logger}

	authRepo := auth.NewRepository(pool)
	authService := auth.NewService(authRepo, sessionStore, hasher, issuer, logger)
	authService.SetMetrics(metrics)
	authHandler := auth.NewHandler(logger, authService, issuer, guard, auth.CookieConfig{
		Name:   cfg.RefreshCookieName,
		Path:   cfg.RefreshCookiePath,
		Secure: cfg.RefreshCookieSecure || cfg.IsProduction(),
	})

	usersRepo := users.NewRepository(pool)
	usersService := users.NewService(usersRepo)
	usersHandler := users.NewHandler(logger, usersService, guard)

	rbacHandler := rbac.NewHandler(logger, rbacService, guard)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:       logger,
		Config:       cfg,
		AuthHandler:  authHandler,
		UsersHandler: usersHandler,
		RBACHandler:  rbacHandler,
		JobHandler:   jobHandler,
		Metrics:      metrics,
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
