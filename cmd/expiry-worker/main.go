package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/campus-care-coordination/internal/alert"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/db"
	"github.com/hackgods/campus-care-coordination/internal/hub"
	"github.com/hackgods/campus-care-coordination/internal/logging"
	redisclient "github.com/hackgods/campus-care-coordination/internal/redis"
)

// expiry-worker sweeps expired alerts outside the API process. Expiry events
// go out on the Redis bus so every api-server instance fans them out.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "expiry-worker")
	logger.Info().Dur("interval", cfg.AlertSweepInterval).Msg("expiry-worker starting up")

	if cfg.EventBus != "redis" {
		logger.Fatal().Str("event_bus", cfg.EventBus).Msg("expiry-worker needs EVENT_BUS=redis to reach api-server sessions")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
	rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "expiry-worker")
	cancelRedis()
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	// No sessions connect here; the hub only sequences and publishes.
	h := hub.New(hub.NewRegistry(), redisclient.NewSequencer(rdb), redisclient.NewBus(rdb, logger), nil, hub.Options{}, logger)

	svc := alert.NewService(alert.NewPgRepository(pgPool), h, cfg, logger)
	sweeper := alert.NewSweeper(svc, redisclient.NewLease(rdb, "expiry-worker", cfg.LockTTL), cfg.AlertSweepInterval, logger)

	g, ctx := errgroup.WithContext(rootCtx)
	g.Go(func() error {
		return h.Run(ctx)
	})
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("expiry-worker stopped with error")
		return
	}
	logger.Info().Msg("shutdown signal received, expiry worker stopped")
}
