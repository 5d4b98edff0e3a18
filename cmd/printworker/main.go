package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/app"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/config"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/handler"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/router"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	// Structured logger: dev pretty, prod JSON
	if cfg.Env != "production" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}

	db, err := infra.NewDatabase(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to database")
	}

	// Redis only rings the doorbell and holds the DLQ copy; without it the
	// workers poll.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infra.NewRedis(context.Background(), cfg.RedisURL, infra.RedisOptions{
			ClientName: "printworker-" + cfg.WorkerID,
			Blockers:   cfg.PrintWorkers,
		})
		if err != nil {
			log.Warn().Err(err).Msg("redis unavailable, print workers will poll")
			rdb = nil
		}
	}

	printer, err := newPrinter(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("mode", cfg.PrinterMode).Msg("failed to set up printer")
	}

	var (
		events worker.EventPublisher = worker.NopPublisher{}
		broker handler.Pinger
	)
	if cfg.AMQPURL != "" {
		pub, err := infra.NewAMQPPublisher(cfg.AMQPURL)
		if err != nil {
			log.Warn().Err(err).Msg("rabbitmq unavailable, print events disabled")
		} else {
			defer pub.Close()
			events = pub
			broker = pub
		}
	}

	bell := worker.NewDoorbell(rdb)
	svcs := app.NewServices(db, cfg, bell)
	printerCB := infra.NewCircuitBreaker(infra.DefaultCBConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool := worker.NewPrintPool(svcs.Queue, svcs.Ledger, printer, printerCB, events, bell, worker.PoolConfig{
		WorkerID:     cfg.WorkerID,
		Workers:      cfg.PrintWorkers,
		PollInterval: cfg.PrintPollInterval,
		Restaurant:   cfg.RestaurantName,
	})
	var poolDone sync.WaitGroup
	poolDone.Add(1)
	go func() {
		defer poolDone.Done()
		pool.Run(ctx)
	}()

	sched, err := worker.StartScheduler(ctx, worker.SchedulerConfig{
		Retry: worker.RetryConfig{
			Queue:       svcs.Queue,
			CB:          printerCB,
			RDB:         rdb,
			MaxAttempts: cfg.PrintMaxAttempts,
			Backoff:     cfg.PrintRetryBackoff,
		},
		Locks:             svcs.Locks,
		RetryInterval:     cfg.PrintRetryBackoff,
		LeaseReapInterval: cfg.LeaseReapInterval,
		LockSweepInterval: cfg.LockSweepInterval,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start scheduler")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router.New(cfg, db, rdb, svcs.Queue, printerCB, broker),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Msgf("print worker ops server listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	// Graceful shutdown on SIGINT / SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down print worker…")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced ops server shutdown")
	}
	if err := sched.Shutdown(); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown")
	}
	// In-flight prints finish and ack; leases of anything abandoned expire
	// and the entries are redelivered on the next start.
	poolDone.Wait()
	if rdb != nil {
		_ = rdb.Close()
	}
	log.Info().Msg("print worker exited")
}

func newPrinter(cfg *config.Config) (worker.Printer, error) {
	switch cfg.PrinterMode {
	case "sidecar":
		c := infra.NewPrintSidecarClient(cfg.PrinterSidecarURL)
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := c.Ping(ctx); err != nil {
			// Prints fail and are retried until the sidecar comes up.
			log.Warn().Err(err).Str("url", cfg.PrinterSidecarURL).Msg("print sidecar not reachable yet")
		}
		return c, nil
	case "spool", "":
		p, err := infra.NewSpoolPrinter(cfg.PrintSpoolPath)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unsupported PRINTER_MODE %q", cfg.PrinterMode)
	}
}
