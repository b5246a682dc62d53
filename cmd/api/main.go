package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/FilipeAphrody/sentinel-auth/internal/config"
	delivery "github.com/FilipeAphrody/sentinel-auth/internal/delivery/http"
	"github.com/FilipeAphrody/sentinel-auth/internal/domain"
	"github.com/FilipeAphrody/sentinel-auth/internal/logging"
	"github.com/FilipeAphrody/sentinel-auth/internal/repository"
	"github.com/FilipeAphrody/sentinel-auth/internal/usecase"
	"github.com/FilipeAphrody/sentinel-auth/pkg/security"

	_ "github.com/lib/pq" // Postgres driver
)

// store bundles the repositories chosen by configuration.
type store struct {
	users  domain.UserRepository
	audit  domain.AuditRepository
	closer io.Closer
}

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Invalid logging configuration: %v", err)
	}
	slog.SetDefault(logger)

	// 2. Initialize Infrastructure (Persistence)
	ctx := context.Background()
	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "store", cfg.Store, "err", err)
		os.Exit(1)
	}
	if st.closer != nil {
		defer st.closer.Close()
	}

	// 3. Initialize Business Logic (Usecases)
	tokens, err := security.NewTokenService([]byte(cfg.JWTSecret))
	if err != nil {
		logger.Error("failed to build token service", "err", err)
		os.Exit(1)
	}
	otpUsecase := usecase.NewOTPUsecase(st.users, st.audit, cfg.OTPIssuer, logger)
	authUsecase := usecase.NewAuthUsecase(st.users, st.audit, tokens, otpUsecase, logger)

	// 4. Setup Framework and Global Middlewares
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.RequestID())
	e.Use(delivery.RequestLogger(logger))
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{AllowOrigins: cfg.AllowedOrigins}))
	e.Use(middleware.Secure())

	// 5. Register Delivery Handlers (Routes)
	delivery.RegisterRoutes(e, authUsecase)

	// 6. Start Server with Graceful Shutdown
	go func() {
		logger.Info("starting sentinel auth server", "port", cfg.Port, "store", cfg.Store)
		if err := e.Start(":" + cfg.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", "err", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down gracefully", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "err", err)
	}

	logger.Info("server exiting")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*store, error) {
	switch cfg.Store {
	case config.StorePostgres:
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		if err := repository.RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
		repo := repository.NewPostgresUserRepo(db)
		return &store{users: repo, audit: repo, closer: db}, nil

	case config.StoreRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		repo := repository.NewRedisUserRepo(rdb)
		return &store{users: repo, audit: repo, closer: rdb}, nil

	case config.StoreMemory:
		logger.Warn("using in-memory store; data is lost on restart")
		repo := repository.NewMemoryUserRepo()
		return &store{users: repo, audit: repo}, nil
	}
	return nil, fmt.Errorf("unknown store %q", cfg.Store)
}
