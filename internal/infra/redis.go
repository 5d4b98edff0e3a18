package infra

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Connections kept free for LPUSH, the DLQ and ops reads while every
// print worker is parked in BLPOP.
const redisSpareConns = 4

// RedisOptions tunes the client for the process that owns it.
type RedisOptions struct {
	// ClientName shows up in CLIENT LIST.
	ClientName string
	// Blockers is how many goroutines may sit in BLPOP on the doorbell at once.
	Blockers int
}

// NewRedis connects to the Redis that carries the print doorbell and the
// dead-letter list, and pings it before returning.
func NewRedis(ctx context.Context, redisURL string, o RedisOptions) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	if o.ClientName != "" {
		opts.ClientName = o.ClientName
	}
	opts.PoolSize = redisPoolSize(opts.PoolSize, o.Blockers)
	rdb := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: ping %s: %w", opts.Addr, err)
	}
	log.Debug().Str("addr", opts.Addr).Int("db", opts.DB).Int("pool", opts.PoolSize).
		Str("client", opts.ClientName).Msg("redis connected")
	return rdb, nil
}

// redisPoolSize grows the pool so blocked doorbell waiters never starve
// the other commands. configured 0 means the go-redis default.
func redisPoolSize(configured, blockers int) int {
	if configured == 0 {
		configured = 10 * runtime.GOMAXPROCS(0)
	}
	if need := blockers + redisSpareConns; blockers > 0 && configured < need {
		return need
	}
	return configured
}
