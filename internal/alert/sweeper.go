package alert

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/campus-care-coordination/internal/redis"
)

const sweepLockKey = "alerts:sweep"

// Sweeper runs Service.Sweep on a fixed interval. With a locker, only one
// replica sweeps per tick; the conditional update keeps overlapping sweeps
// safe either way.
type Sweeper struct {
	svc      *Service
	locker   redisclient.Locker
	interval time.Duration
	log      zerolog.Logger
}

func NewSweeper(svc *Service, locker redisclient.Locker, interval time.Duration, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		svc:      svc,
		locker:   locker,
		interval: interval,
		log:      logger.With().Str("component", "alert-sweeper").Logger(),
	}
}

// Run sweeps once at start and then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("alert sweeper started")

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("alert sweeper stopped")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

func (w *Sweeper) RunOnce(ctx context.Context) {
	start := time.Now()
	var expired int

	sweep := func(ctx context.Context) error {
		n, err := w.svc.Sweep(ctx)
		expired = n
		return err
	}

	var err error
	if w.locker != nil {
		err = w.locker.WithLock(ctx, sweepLockKey, sweep)
	} else {
		err = sweep(ctx)
	}

	switch {
	case errors.Is(err, redisclient.ErrLockNotAcquired):
		w.log.Debug().Msg("sweep skipped, another instance holds the lock")
	case errors.Is(err, redisclient.ErrLeaseLost):
		w.log.Warn().Int("expired", expired).Msg("sweep lease lost mid-run")
	case err != nil:
		w.log.Error().Err(err).Msg("alert sweep failed")
	case expired > 0:
		w.log.Info().Int("expired", expired).Dur("took", time.Since(start)).Msg("alert sweep complete")
	}
}
