// Command posctl is the operator tool for the print queue, the sales
// archive and stuck table locks.
//
//	posctl print-retry <entry-id>
//	posctl failed [-limit N]
//	posctl dlq [-limit N]
//	posctl sales-purge -before YYYY-MM-DD
//	posctl lock-release <table-number>
//	posctl tables
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/app"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/config"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/worker"
)

const usage = `usage: posctl <command> [flags]

commands:
  print-retry <entry-id>          requeue a failed print with a fresh attempt budget
  failed [-limit N]               list failed print entries
  dlq [-limit N]                  show the dead letter list (needs Redis)
  sales-purge -before YYYY-MM-DD  delete archived sales settled before the date
  lock-release <table-number>     clear an expired table lock
  tables                          show every table with its lock state`

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		var ue usageError
		if errors.As(err, &ue) {
			fmt.Fprintln(os.Stderr, ue.Error())
			fmt.Fprintln(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error().Err(err).Str("command", os.Args[1]).Msg("posctl failed")
		os.Exit(1)
	}
}

type usageError string

func (e usageError) Error() string { return string(e) }

func run(ctx context.Context, cmd string, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	switch cmd {
	case "print-retry":
		if len(args) != 1 {
			return usageError("print-retry takes exactly one entry id")
		}
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return usageError("invalid entry id " + strconv.Quote(args[0]))
		}
		svcs, rdb, err := connect(cfg)
		if err != nil {
			return err
		}
		defer closeRedis(rdb)
		if err := svcs.Queue.Requeue(ctx, id); err != nil {
			return err
		}
		entry, err := svcs.Queue.Get(ctx, id)
		if err != nil {
			return err
		}
		return printJSON(entry)

	case "failed":
		fs := flag.NewFlagSet("failed", flag.ContinueOnError)
		limit := fs.Int("limit", 50, "max entries")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		svcs, rdb, err := connect(cfg)
		if err != nil {
			return err
		}
		defer closeRedis(rdb)
		entries, err := svcs.Queue.ListFailed(ctx, *limit)
		if err != nil {
			return err
		}
		return printJSON(entries)

	case "dlq":
		fs := flag.NewFlagSet("dlq", flag.ContinueOnError)
		limit := fs.Int64("limit", 50, "max entries")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		if *limit <= 0 {
			return usageError("-limit must be positive")
		}
		rdb, err := infra.NewRedis(ctx, cfg.RedisURL, infra.RedisOptions{ClientName: "posctl"})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeRedis(rdb)
		n, err := worker.DLQLength(ctx, rdb)
		if err != nil {
			return err
		}
		entries, err := worker.ListDLQ(ctx, rdb, *limit)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"length": n, "entries": entries})

	case "sales-purge":
		fs := flag.NewFlagSet("sales-purge", flag.ContinueOnError)
		before := fs.String("before", "", "cut-off date, YYYY-MM-DD (UTC)")
		if err := fs.Parse(args); err != nil {
			return usageError(err.Error())
		}
		cutoff, err := time.Parse(time.DateOnly, *before)
		if err != nil {
			return usageError("-before must be a date like 2026-01-31")
		}
		svcs, rdb, err := connect(cfg)
		if err != nil {
			return err
		}
		defer closeRedis(rdb)
		n, err := svcs.Sales.Purge(ctx, cutoff)
		if err != nil {
			return err
		}
		log.Info().Int64("deleted", n).Str("before", *before).Msg("archived sales purged")
		return printJSON(map[string]any{"deleted": n})

	case "lock-release":
		if len(args) != 1 {
			return usageError("lock-release takes exactly one table number")
		}
		number, err := strconv.Atoi(args[0])
		if err != nil || number <= 0 {
			return usageError("invalid table number " + strconv.Quote(args[0]))
		}
		svcs, rdb, err := connect(cfg)
		if err != nil {
			return err
		}
		defer closeRedis(rdb)
		t, err := svcs.Locks.ByNumber(ctx, number)
		if err != nil {
			return err
		}
		if err := svcs.Locks.ReleaseExpired(ctx, t.ID); err != nil {
			return err
		}
		t, err = svcs.Locks.Get(ctx, t.ID)
		if err != nil {
			return err
		}
		return printJSON(map[string]any{"table": t.Number, "status": t.Status})

	case "tables":
		if len(args) != 0 {
			return usageError("tables takes no arguments")
		}
		svcs, rdb, err := connect(cfg)
		if err != nil {
			return err
		}
		defer closeRedis(rdb)
		tables, err := svcs.Locks.List(ctx)
		if err != nil {
			return err
		}
		out := make([]tableView, 0, len(tables))
		for i := range tables {
			t := &tables[i]
			out = append(out, tableView{
				Number:       t.Number,
				Status:       t.Status,
				Covers:       t.Covers,
				RunningTotal: t.RunningTotal.StringFixed(2),
				LockedBy:     t.LockedBy,
				LockedAt:     t.LockedAt,
				LockExpired:  t.LockedBy != nil && svcs.Locks.IsExpired(t),
			})
		}
		return printJSON(out)

	case "help", "-h", "--help":
		fmt.Println(usage)
		return nil

	default:
		return usageError("unknown command " + strconv.Quote(cmd))
	}
}

type tableView struct {
	Number       int        `json:"number"`
	Status       string     `json:"status"`
	Covers       int        `json:"covers"`
	RunningTotal string     `json:"running_total"`
	LockedBy     *uuid.UUID `json:"locked_by,omitempty"`
	LockedAt     *time.Time `json:"locked_at,omitempty"`
	LockExpired  bool       `json:"lock_expired"`
}

// connect opens the database and, when reachable, Redis so a requeue also
// rings the worker doorbell.
func connect(cfg *config.Config) (*app.Services, *redis.Client, error) {
	db, err := infra.NewDatabase(cfg.DBDriver, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		if rdb, err = infra.NewRedis(context.Background(), cfg.RedisURL, infra.RedisOptions{ClientName: "posctl"}); err != nil {
			log.Debug().Err(err).Msg("redis unavailable, workers will pick the change up on their next poll")
			rdb = nil
		}
	}
	return app.NewServices(db, cfg, worker.NewDoorbell(rdb)), rdb, nil
}

func closeRedis(rdb *redis.Client) {
	if rdb != nil {
		_ = rdb.Close()
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
