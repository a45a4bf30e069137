// Command authd runs the SecureWatch authentication service: the HTTP
// API over the auth engine, backed by Postgres and Redis.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	authcore "github.com/itrimble/securewatch-auth"
	"github.com/itrimble/securewatch-auth/config"
	"github.com/itrimble/securewatch-auth/internal/httpapi"
	"github.com/itrimble/securewatch-auth/metrics"
	"github.com/itrimble/securewatch-auth/store/pg"
)

var version = "0.4.1"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config", "error", err)
		os.Exit(1)
	}

	engineCfg, err := cfg.EngineConfig()
	if err != nil {
		logger.Error("build engine config", "error", err)
		os.Exit(1)
	}

	store, err := pg.Open(cfg.DatabaseURL)
	if err != nil {
		logger.Error("open postgres", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer rdb.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelPing()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		logger.Error("ping redis", "addr", cfg.RedisAddr, "error", err)
		os.Exit(1)
	}

	reg := prometheus.DefaultRegisterer
	m := metrics.New(reg)

	engine, err := authcore.New().
		WithConfig(engineCfg).
		WithRedis(rdb).
		WithUserStore(store).
		WithRBACStore(store).
		WithMFAStore(store).
		WithAuditSink(authcore.NewSlogSink(logger)).
		WithMetrics(m).
		Build()
	if err != nil {
		logger.Error("build engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	api := httpapi.New(engine, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(reg),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	logger.Info("starting authd", "version", version, "addr", srv.Addr, "env", cfg.Env)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("listen", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("stopped", "audit_dropped", engine.AuditDropped())
}
