package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"stockroom/internal/app"
	"stockroom/internal/config"
	"stockroom/internal/ratelimit"
	"stockroom/internal/security"
	"stockroom/internal/server"
	"stockroom/internal/util"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	accessTTL, err := config.ParseTTL(cfg.AccessTTL, 15*time.Minute)
	if err != nil {
		log.Fatalf("failed to parse access TTL: %v", err)
	}
	refreshTTL, err := config.ParseTTL(cfg.RefreshTTL, 30*24*time.Hour)
	if err != nil {
		log.Fatalf("failed to parse refresh TTL: %v", err)
	}
	leeway, err := config.ParseTTL(cfg.JWTLeeway, 30*time.Second)
	if err != nil {
		log.Fatalf("failed to parse JWT leeway: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	appCore, err := app.New(app.Config{
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		JWTSecret:     cfg.JWTSecret,
		JWTIssuer:     cfg.JWTIssuer,
		JWTAudience:   cfg.JWTAudience,
		JWTLeeway:     leeway,
		AccessTTL:     accessTTL,
		RefreshTTL:    refreshTTL,
	})
	if err != nil {
		log.Fatalf("failed to init app: %v", err)
	}

	trusted, err := util.NewTrustedProxies(config.SplitTrustedProxies(cfg.TrustedProxies))
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var loginLimiter, registerLimiter *ratelimit.FixedWindowLimiter
	var alerter *security.Alerter
	if cfg.RedisAddr != "" {
		if cfg.LoginRateLimitPerMinute > 0 {
			loginLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
				cfg.RedisAddr, cfg.RedisPassword, "stockroom:ratelimit",
				cfg.LoginRateLimitPerMinute, time.Minute,
			)
			if err != nil {
				log.Fatalf("failed to init login rate limiter: %v", err)
			}
		}
		if cfg.RegisterRateLimitPerMinute > 0 {
			registerLimiter, err = ratelimit.NewRedisFixedWindowLimiter(
				cfg.RedisAddr, cfg.RedisPassword, "stockroom:ratelimit",
				cfg.RegisterRateLimitPerMinute, time.Minute,
			)
			if err != nil {
				log.Fatalf("failed to init register rate limiter: %v", err)
			}
		}
		alerter = security.NewAlerter(cfg.RedisAddr, cfg.RedisPassword, "stockroom:auth:alerts")
	}

	httpServer := server.New(server.Config{
		App:             appCore,
		LoginLimiter:    loginLimiter,
		RegisterLimiter: registerLimiter,
		Alerter:         alerter,
		TrustedProxies:  trusted,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("api server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error("server error", "err", err)
	}
}
