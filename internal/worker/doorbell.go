package worker

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// WakeupKey is the Redis list idle print workers block on. It carries no
// data: the print_queue rows are the queue, the list only shortens the
// wait between a commit and the next dequeue.
const WakeupKey = "print:wakeup"

// maxPendingWakeups caps the list so a burst of submits with no worker
// running does not grow it without bound.
const maxPendingWakeups = 64

// Doorbell implements service.PrintNotifier over a Redis list. With a nil
// client it degrades to plain polling.
type Doorbell struct {
	rdb *redis.Client
}

func NewDoorbell(rdb *redis.Client) *Doorbell {
	return &Doorbell{rdb: rdb}
}

// NotifyPrintQueued pushes one wake-up token. Errors are logged only: a
// missed wake-up costs at most one poll interval.
func (d *Doorbell) NotifyPrintQueued(ctx context.Context) {
	if d == nil || d.rdb == nil {
		return
	}
	pipe := d.rdb.Pipeline()
	pipe.LPush(ctx, WakeupKey, time.Now().UTC().UnixNano())
	pipe.LTrim(ctx, WakeupKey, 0, maxPendingWakeups-1)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Debug().Err(err).Msg("doorbell: wake-up push failed")
	}
}

// Wait blocks until a wake-up token arrives, timeout elapses or ctx ends.
func (d *Doorbell) Wait(ctx context.Context, timeout time.Duration) {
	if d == nil || d.rdb == nil {
		sleep(ctx, timeout)
		return
	}
	err := d.rdb.BRPop(ctx, timeout, WakeupKey).Err()
	if err == nil || errors.Is(err, redis.Nil) || ctx.Err() != nil {
		return
	}
	// Redis unreachable: fall back to polling instead of spinning.
	log.Debug().Err(err).Msg("doorbell: BRPOP failed, polling")
	sleep(ctx, timeout)
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
