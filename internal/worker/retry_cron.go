package worker

// retry_cron.go: scheduled jobs that keep the print queue moving without an
// operator. Failed entries are requeued after a backoff until they reach
// PRINT_MAX_ATTEMPTS, then dead-lettered. Retries are skipped while the
// printer circuit breaker is open so a downed printer is not hammered.

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/dto"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// RetryConfig holds the dependencies of the retry job.
type RetryConfig struct {
	Queue       service.PrintQueueService
	CB          *infra.CircuitBreaker
	RDB         *redis.Client // nil disables the Redis DLQ copy
	MaxAttempts int
	Backoff     time.Duration
}

// RetryFailedPrints runs one retry pass.
func RetryFailedPrints(ctx context.Context, cfg RetryConfig) dto.MaintenanceReport {
	var report dto.MaintenanceReport

	if cfg.CB != nil && cfg.CB.State() == infra.CBOpen {
		log.Debug().Msg("retry_cron: circuit breaker is open, skipping tick")
		return report
	}

	n, err := cfg.Queue.RetryFailed(ctx, cfg.MaxAttempts, cfg.Backoff)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to requeue failed prints")
	}
	report.Requeued = n

	exhausted, err := cfg.Queue.ListExhausted(ctx, cfg.MaxAttempts)
	if err != nil {
		log.Error().Err(err).Msg("retry_cron: failed to list exhausted prints")
		return report
	}
	for _, e := range exhausted {
		// Flag first: the flag is the once-only guard for the DLQ push.
		ok, err := cfg.Queue.MarkDeadLettered(ctx, e.ID)
		if err != nil {
			log.Error().Err(err).Int64("entry_id", e.ID).Msg("retry_cron: mark dead-lettered failed")
			continue
		}
		if !ok {
			continue
		}
		report.DeadLettered++
		if cfg.RDB == nil {
			log.Error().Int64("entry_id", e.ID).Int("attempts", e.Attempts).
				Msg("retry_cron: print entry exhausted its attempts")
			continue
		}
		if err := SendToDLQ(ctx, cfg.RDB, e); err != nil {
			log.Error().Err(err).Int64("entry_id", e.ID).Msg("retry_cron: DLQ push failed")
		}
	}

	if report.Requeued > 0 || report.DeadLettered > 0 {
		log.Info().Int("requeued", report.Requeued).Int("dead_lettered", report.DeadLettered).
			Msg("retry_cron: pass complete")
	}
	return report
}
