package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/atmx/backtest-engine/internal/config"
	"github.com/atmx/backtest-engine/internal/marketdata"
	"github.com/atmx/backtest-engine/internal/metrics"
	"github.com/atmx/backtest-engine/internal/replay"
	"github.com/atmx/backtest-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	// --- Portfolio store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.InitSchema(context.Background()); err != nil {
			slog.Error("schema init failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")
	} else {
		fs, err := store.NewFileStore(cfg.PortfolioDir)
		if err != nil {
			slog.Error("portfolio store init failed", "err", err)
			os.Exit(1)
		}
		st = fs
		slog.Info("using CSV portfolio store", "dir", cfg.PortfolioDir)
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Candle provider ---
	var provider marketdata.Provider = marketdata.NewFileProvider(cfg.DataDir)
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		provider = marketdata.NewCachedProvider(provider, rdb, 5*time.Minute)
		slog.Info("Redis candle cache enabled")
	}

	// --- WebSocket hub ---
	wsHub := replay.NewWSHub()
	go wsHub.Run()

	// --- Replay service ---
	svc := replay.NewService(provider, st, wsHub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	r.Get("/health", svc.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for streaming executed trades.
		r.Get("/ws", wsHub.HandleWS)

		r.Post("/backtests", svc.RunBacktest)
		r.Get("/backtests", svc.ListBacktests)
		r.Get("/backtests/{runID}", svc.GetBacktest)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("backtest-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down backtest-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("backtest-engine stopped")
}
