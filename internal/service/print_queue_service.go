package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/dto"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
)

// PrintPayload is what a worker needs to render an entry.
type PrintPayload struct {
	Entry   *model.PrintQueueEntry
	Order   *model.Order   // Table preloaded when still present
	Command *model.Command // comanda only
	Items   []model.OrderItem
}

// PrintQueueService is the durable print queue. Rows are the queue: a
// worker checks an entry out with a lease, and an entry whose lease runs out
// before Ack becomes available again.
type PrintQueueService interface {
	Enqueue(ctx context.Context, printType string, commandID, orderID *uuid.UUID) (*model.PrintQueueEntry, error)
	DequeueNext(ctx context.Context, workerID string) (*model.PrintQueueEntry, error)
	// Ack records the outcome; for comanda entries the command is updated in
	// the same transaction.
	Ack(ctx context.Context, entryID int64, workerID string, success bool, printErr error) error

	Requeue(ctx context.Context, entryID int64) error
	ReapExpiredLeases(ctx context.Context) (int64, error)
	// RetryFailed requeues failed entries below maxAttempts that failed more
	// than backoff ago.
	RetryFailed(ctx context.Context, maxAttempts int, backoff time.Duration) (int, error)
	// ListExhausted returns failed entries at maxAttempts not yet dead-lettered.
	ListExhausted(ctx context.Context, maxAttempts int) ([]model.PrintQueueEntry, error)
	// MarkDeadLettered flags the entry; false means another caller did it first.
	MarkDeadLettered(ctx context.Context, entryID int64) (bool, error)

	Get(ctx context.Context, entryID int64) (*model.PrintQueueEntry, error)
	Payload(ctx context.Context, entry *model.PrintQueueEntry) (*PrintPayload, error)
	ListFailed(ctx context.Context, limit int) ([]dto.PrintEntryResponse, error)
	Stats(ctx context.Context) (*dto.PrintQueueStats, error)
	LeaseDuration() time.Duration
}

type printQueueService struct {
	repo     repository.PrintQueueRepository
	commands repository.CommandRepository
	orders   repository.OrderRepository
	states   commandStates
	lease    time.Duration
	opts     options
}

func NewPrintQueueService(
	repo repository.PrintQueueRepository,
	commands repository.CommandRepository,
	orders repository.OrderRepository,
	lease time.Duration,
	opts ...Option,
) PrintQueueService {
	return &printQueueService{
		repo:     repo,
		commands: commands,
		orders:   orders,
		states:   commandStates{repo: commands},
		lease:    lease,
		opts:     buildOptions(opts),
	}
}

func (s *printQueueService) LeaseDuration() time.Duration { return s.lease }

// ── Enqueue ───────────────────────────────────────────────────────────────────

func (s *printQueueService) Enqueue(ctx context.Context, printType string, commandID, orderID *uuid.UUID) (*model.PrintQueueEntry, error) {
	var entry *model.PrintQueueEntry
	err := runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		var err error
		entry, err = s.buildEntry(ctx, tx, printType, commandID, orderID)
		if err != nil {
			return err
		}
		err = s.repo.Create(ctx, tx, entry)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: command already has a ticket queued", ErrInvalidTransition)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.opts.notifier.NotifyPrintQueued(ctx)
	return entry, nil
}

// buildEntry resolves the order and table a new entry points to. A comanda
// needs a pending command with no ticket already queued; reprinting a sent,
// printed or failed command goes through Requeue. A preconto needs its order.
func (s *printQueueService) buildEntry(ctx context.Context, tx *gorm.DB, printType string, commandID, orderID *uuid.UUID) (*model.PrintQueueEntry, error) {
	e := &model.PrintQueueEntry{PrintType: printType, Status: model.EntryPending}
	switch printType {
	case model.PrintComanda:
		if commandID == nil {
			return nil, fmt.Errorf("%w: comanda entry without command", ErrCommandNotFound)
		}
		cmd, err := s.commands.FindByID(ctx, tx, *commandID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrCommandNotFound, *commandID)
		}
		if err != nil {
			return nil, err
		}
		if cmd.Status != model.CommandPending {
			return nil, fmt.Errorf("%w: command %d is %s, requeue its ticket instead",
				ErrInvalidTransition, cmd.CommandNumber, cmd.Status)
		}
		queued, err := s.repo.HasPending(ctx, tx, cmd.ID)
		if err != nil {
			return nil, err
		}
		if queued {
			return nil, fmt.Errorf("%w: command %d already has a ticket queued",
				ErrInvalidTransition, cmd.CommandNumber)
		}
		oid := cmd.OrderID
		e.CommandID = &cmd.ID
		orderID = &oid
	case model.PrintPreconto:
		if orderID == nil {
			return nil, fmt.Errorf("%w: preconto entry without order", ErrOrderNotFound)
		}
	default:
		return nil, fmt.Errorf("unknown print type %q", printType)
	}

	order, err := s.orders.FindByID(ctx, tx, *orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, *orderID)
	}
	if err != nil {
		return nil, err
	}
	e.OrderID = &order.ID
	e.TableID = order.TableID
	return e, nil
}

// ── DequeueNext ───────────────────────────────────────────────────────────────
// Picks the oldest available entry and leases it with a compare-and-set.
// Losing the race to another worker moves on to the next candidate; the
// scan ends because afterID only grows.

func (s *printQueueService) DequeueNext(ctx context.Context, workerID string) (*model.PrintQueueEntry, error) {
	now := s.opts.clock()
	until := now.Add(s.lease)
	var afterID int64

	for {
		cand, err := s.repo.NextAvailable(ctx, nil, afterID, now)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		n, err := s.repo.Lease(ctx, nil, cand.ID, workerID, now, until)
		if err != nil {
			return nil, err
		}
		if n == 1 {
			w := workerID
			cand.LeasedBy = &w
			cand.LeaseExpiresAt = &until
			cand.Attempts++
			return cand, nil
		}
		afterID = cand.ID
	}
}

// ── Ack ───────────────────────────────────────────────────────────────────────

func (s *printQueueService) Ack(ctx context.Context, entryID int64, workerID string, success bool, printErr error) error {
	now := s.opts.clock()
	var entry *model.PrintQueueEntry

	err := runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		var err error
		entry, err = s.repo.FindByID(ctx, tx, entryID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
		}
		if err != nil {
			return err
		}

		updates := map[string]interface{}{"lease_expires_at": nil}
		if success {
			updates["status"] = model.EntryPrinted
			updates["printed_at"] = now
			updates["last_error"] = nil
		} else {
			msg := ErrPrintDeliveryFailed.Error()
			if printErr != nil {
				msg = printErr.Error()
			}
			updates["status"] = model.EntryFailed
			updates["failed_at"] = now
			updates["last_error"] = msg
		}

		var mirror func() error
		if entry.PrintType == model.PrintComanda && entry.CommandID != nil {
			id := *entry.CommandID
			if success {
				mirror = func() error { return s.states.printed(ctx, tx, id, now) }
			} else {
				cmd, err := s.commands.FindByID(ctx, tx, id)
				if err != nil {
					return err
				}
				if cmd.Status == model.CommandPrinted {
					// The command already printed; this ticket is never retried.
					updates["dead_lettered"] = true
				} else {
					mirror = func() error { return s.states.move(ctx, tx, id, model.CommandPrintFailed, now) }
				}
			}
		}

		n, err := s.repo.Complete(ctx, tx, entryID, workerID, updates)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: entry %d worker %s", ErrLeaseLost, entryID, workerID)
		}
		if mirror != nil {
			return mirror()
		}
		return nil
	})
	if err != nil {
		return err
	}

	ev := log.Info()
	if !success {
		ev = log.Warn().AnErr("print_error", printErr)
	}
	ev.Int64("entry_id", entryID).
		Str("print_type", entry.PrintType).
		Str("worker", workerID).
		Bool("success", success).
		Msg("print entry acknowledged")
	return nil
}

// ── Retry ─────────────────────────────────────────────────────────────────────

// Requeue is the operator retry: the entry goes back to pending with a
// fresh attempt budget and its command returns to pending.
func (s *printQueueService) Requeue(ctx context.Context, entryID int64) error {
	if err := s.requeue(ctx, entryID, true); err != nil {
		return err
	}
	s.opts.notifier.NotifyPrintQueued(ctx)
	return nil
}

func (s *printQueueService) requeue(ctx context.Context, entryID int64, resetAttempts bool) error {
	now := s.opts.clock()
	return runTx(ctx, s.repo.DB(), func(tx *gorm.DB) error {
		entry, err := s.repo.FindByID(ctx, tx, entryID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
		}
		if err != nil {
			return err
		}
		n, err := s.repo.ResetFailed(ctx, tx, entryID, resetAttempts)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: entry %d is %s", ErrInvalidTransition, entryID, entry.Status)
		}
		if entry.PrintType == model.PrintComanda && entry.CommandID != nil {
			return s.states.move(ctx, tx, *entry.CommandID, model.CommandPending, now)
		}
		return nil
	})
}

func (s *printQueueService) RetryFailed(ctx context.Context, maxAttempts int, backoff time.Duration) (int, error) {
	entries, err := s.repo.ListRetryable(ctx, maxAttempts, s.opts.clock().Add(-backoff), 100)
	if err != nil {
		return 0, err
	}
	requeued := 0
	for _, e := range entries {
		if err := s.requeue(ctx, e.ID, false); err != nil {
			// Another caller may have requeued it already.
			log.Warn().Err(err).Int64("entry_id", e.ID).Msg("print retry: requeue skipped")
			continue
		}
		requeued++
	}
	if requeued > 0 {
		s.opts.notifier.NotifyPrintQueued(ctx)
	}
	return requeued, nil
}

func (s *printQueueService) ReapExpiredLeases(ctx context.Context) (int64, error) {
	n, err := s.repo.ReapExpiredLeases(ctx, s.opts.clock())
	if err != nil {
		return 0, err
	}
	if n > 0 {
		log.Warn().Int64("count", n).Msg("print leases expired; entries returned to pending")
		s.opts.notifier.NotifyPrintQueued(ctx)
	}
	return n, nil
}

func (s *printQueueService) ListExhausted(ctx context.Context, maxAttempts int) ([]model.PrintQueueEntry, error) {
	return s.repo.ListExhausted(ctx, maxAttempts, 100)
}

func (s *printQueueService) MarkDeadLettered(ctx context.Context, entryID int64) (bool, error) {
	n, err := s.repo.MarkDeadLettered(ctx, entryID)
	return n > 0, err
}

// ── Queries ───────────────────────────────────────────────────────────────────

func (s *printQueueService) Get(ctx context.Context, entryID int64) (*model.PrintQueueEntry, error) {
	e, err := s.repo.FindByID(ctx, nil, entryID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", ErrEntryNotFound, entryID)
	}
	return e, err
}

func (s *printQueueService) Payload(ctx context.Context, entry *model.PrintQueueEntry) (*PrintPayload, error) {
	if entry.OrderID == nil {
		return nil, fmt.Errorf("%w: entry %d has no order", ErrOrderNotFound, entry.ID)
	}
	order, err := s.orders.FindDetailed(ctx, nil, *entry.OrderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, *entry.OrderID)
	}
	if err != nil {
		return nil, err
	}

	p := &PrintPayload{Entry: entry, Order: order}
	if entry.PrintType != model.PrintComanda {
		p.Items = order.Items
		return p, nil
	}
	for i := range order.Commands {
		if entry.CommandID != nil && order.Commands[i].ID == *entry.CommandID {
			p.Command = &order.Commands[i]
			p.Items = order.Commands[i].Items
			return p, nil
		}
	}
	return nil, fmt.Errorf("%w: entry %d", ErrCommandNotFound, entry.ID)
}

func (s *printQueueService) ListFailed(ctx context.Context, limit int) ([]dto.PrintEntryResponse, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	entries, err := s.repo.ListFailed(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]dto.PrintEntryResponse, 0, len(entries))
	if err := copier.Copy(&out, &entries); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *printQueueService) Stats(ctx context.Context) (*dto.PrintQueueStats, error) {
	counts, err := s.repo.CountByStatus(ctx, s.opts.clock())
	if err != nil {
		return nil, err
	}
	return &dto.PrintQueueStats{
		Pending:      counts[model.EntryPending],
		Leased:       counts["leased"],
		Printed:      counts[model.EntryPrinted],
		Failed:       counts[model.EntryFailed],
		DeadLettered: counts["dead_lettered"],
	}, nil
}
