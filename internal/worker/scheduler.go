package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// SchedulerConfig lists the maintenance jobs' dependencies and intervals.
type SchedulerConfig struct {
	Retry             RetryConfig
	Locks             service.LockService
	RetryInterval     time.Duration
	LeaseReapInterval time.Duration
	LockSweepInterval time.Duration
}

// StartScheduler registers the maintenance jobs and starts them:
//   - lease-reaper: returns entries with an expired lease to pending
//   - print-retry: requeues failed prints and dead-letters exhausted ones
//   - lock-sweeper: clears expired table locks
//
// Every job runs in singleton mode so a slow pass is never overlapped.
// The caller owns Shutdown.
func StartScheduler(ctx context.Context, cfg SchedulerConfig) (gocron.Scheduler, error) {
	s, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	jobs := []struct {
		name     string
		interval time.Duration
		task     func()
	}{
		{"lease-reaper", cfg.LeaseReapInterval, func() {
			if _, err := cfg.Retry.Queue.ReapExpiredLeases(ctx); err != nil {
				log.Error().Err(err).Msg("lease-reaper: failed")
			}
		}},
		{"print-retry", cfg.RetryInterval, func() {
			RetryFailedPrints(ctx, cfg.Retry)
		}},
		{"lock-sweeper", cfg.LockSweepInterval, func() {
			n, err := cfg.Locks.SweepExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("lock-sweeper: failed")
				return
			}
			if n > 0 {
				log.Info().Int("cleared", n).Msg("lock-sweeper: expired locks cleared")
			}
		}},
	}

	for _, j := range jobs {
		if j.interval <= 0 {
			log.Info().Str("job", j.name).Msg("scheduler: job disabled")
			continue
		}
		_, err := s.NewJob(
			gocron.DurationJob(j.interval),
			gocron.NewTask(j.task),
			gocron.WithName(j.name),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return nil, err
		}
	}

	s.Start()
	log.Info().Msg("scheduler: maintenance jobs started")
	return s, nil
}
