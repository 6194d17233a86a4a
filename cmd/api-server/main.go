package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hackgods/campus-care-coordination/internal/alert"
	"github.com/hackgods/campus-care-coordination/internal/api"
	"github.com/hackgods/campus-care-coordination/internal/appointment"
	"github.com/hackgods/campus-care-coordination/internal/config"
	"github.com/hackgods/campus-care-coordination/internal/db"
	"github.com/hackgods/campus-care-coordination/internal/emergency"
	"github.com/hackgods/campus-care-coordination/internal/event"
	"github.com/hackgods/campus-care-coordination/internal/hub"
	"github.com/hackgods/campus-care-coordination/internal/identity"
	"github.com/hackgods/campus-care-coordination/internal/logging"
	redisclient "github.com/hackgods/campus-care-coordination/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	logger.Info().
		Str("http_port", cfg.HTTPPort).
		Str("event_bus", cfg.EventBus).
		Str("version", version).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.RunMigrations {
		if err := db.Migrate(cfg.PostgresDSN); err != nil {
			logger.Fatal().Err(err).Msg("apply migrations")
		}
		logger.Info().Msg("migrations applied")
	}

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	var (
		seq       hub.Sequencer = hub.NewMemorySequencer()
		bus       hub.Bus       = hub.NewLocalBus(0)
		locker    redisclient.Locker
		redisPing api.Pinger
	)
	if cfg.EventBus == "redis" {
		redisCtx, cancelRedis := context.WithTimeout(rootCtx, 5*time.Second)
		rdb, err := redisclient.NewRedisClient(redisCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, "api-server")
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

		seq = redisclient.NewSequencer(rdb)
		bus = redisclient.NewBus(rdb, logger)
		locker = redisclient.NewLease(rdb, "api-server", cfg.LockTTL)
		redisPing = api.RedisPinger(rdb)
	}

	var materializer *hub.Materializer
	h := hub.New(hub.NewRegistry(), seq, bus,
		hub.SnapshotFunc(func(ctx context.Context, id identity.Identity) ([]event.Envelope, error) {
			return materializer.Snapshot(ctx, id)
		}),
		hub.Options{SendBuffer: cfg.WSSendBuffer},
		logger,
	)

	appointments := appointment.NewService(appointment.NewPgRepository(pgPool), h, cfg, logger)
	emergencies := emergency.NewService(emergency.NewPgRepository(pgPool), h, cfg, logger)
	alerts := alert.NewService(alert.NewPgRepository(pgPool), h, cfg, logger)
	materializer = hub.NewMaterializer(appointments, emergencies, alerts)

	sweeper := alert.NewSweeper(alerts, locker, cfg.AlertSweepInterval, logger)

	router := api.NewRouter(api.RouterConfig{
		Appointments: appointments,
		Emergencies:  emergencies,
		Alerts:       alerts,
		Hub:          h,
		Verifier:     identity.NewVerifier(cfg.JWTSecret, cfg.JWTIssuer),
		Health:       api.NewHealthHandler(pgPool, redisPing, cfg.Env, version),
		Logger:       logger,
		PingInterval: cfg.WSPingInterval,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(rootCtx)

	g.Go(func() error {
		return h.Run(ctx)
	})
	g.Go(func() error {
		sweeper.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info().Msg("shutting down api-server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api-server stopped with error")
		return
	}
	logger.Info().Msg("api-server stopped")
}
