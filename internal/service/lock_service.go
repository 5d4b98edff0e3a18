package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
)

// AcquireResult describes a successful Acquire.
type AcquireResult struct {
	Table   *model.Table
	Renewed bool // caller already held the lock
	// LockExpiredWarning is set when an expired lock of another user was
	// taken over; PreviousHolder is that user.
	LockExpiredWarning bool
	PreviousHolder     *uuid.UUID
}

// LockService grants exclusive editing locks on tables. Locks are advisory
// columns on the tables row changed by a single conditional UPDATE, so
// several service instances stay consistent without in-process state.
type LockService interface {
	Acquire(ctx context.Context, tableID, userID uuid.UUID) (*AcquireResult, error)
	Release(ctx context.Context, tableID, userID uuid.UUID) error
	IsExpired(t *model.Table) bool

	Get(ctx context.Context, tableID uuid.UUID) (*model.Table, error)
	// List returns every table ordered by number.
	List(ctx context.Context) ([]model.Table, error)
	ByNumber(ctx context.Context, number int) (*model.Table, error)
	// RequireHolder fails with ErrNotHolder unless userID holds the lock on
	// tableID; on success the lock is renewed inside tx.
	RequireHolder(ctx context.Context, tx *gorm.DB, tableID, userID uuid.UUID) (*model.Table, error)
	// SweepExpired clears every expired lock and returns how many were cleared.
	SweepExpired(ctx context.Context) (int, error)
	// ReleaseExpired clears the lock on tableID only if it has expired.
	ReleaseExpired(ctx context.Context, tableID uuid.UUID) error
	TTL() time.Duration
}

type lockService struct {
	tables repository.TableRepository
	orders repository.OrderRepository
	ttl    time.Duration
	opts   options
}

func NewLockService(
	tables repository.TableRepository,
	orders repository.OrderRepository,
	ttl time.Duration,
	opts ...Option,
) LockService {
	return &lockService{tables: tables, orders: orders, ttl: ttl, opts: buildOptions(opts)}
}

func (s *lockService) TTL() time.Duration { return s.ttl }

func (s *lockService) IsExpired(t *model.Table) bool {
	if t == nil || t.LockedAt == nil {
		return false
	}
	return s.opts.clock().Sub(*t.LockedAt) > s.ttl
}

func (s *lockService) Get(ctx context.Context, tableID uuid.UUID) (*model.Table, error) {
	return s.findTable(ctx, nil, tableID)
}

func (s *lockService) List(ctx context.Context) ([]model.Table, error) {
	return s.tables.List(ctx)
}

func (s *lockService) ByNumber(ctx context.Context, number int) (*model.Table, error) {
	t, err := s.tables.FindByNumber(ctx, number)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: number %d", ErrTableNotFound, number)
	}
	return t, err
}

func (s *lockService) findTable(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Table, error) {
	t, err := s.tables.FindByID(ctx, tx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ── Acquire ───────────────────────────────────────────────────────────────────
// The row is read first only to report what happened; the decision is made
// by TryLock's WHERE clause. If another acquirer wins between the read and
// the update, TryLock matches no row and the caller gets ErrAlreadyLocked.

func (s *lockService) Acquire(ctx context.Context, tableID, userID uuid.UUID) (*AcquireResult, error) {
	now := s.opts.clock()
	var res AcquireResult

	txErr := runTx(ctx, s.tables.DB(), func(tx *gorm.DB) error {
		before, err := s.findTable(ctx, tx, tableID)
		if err != nil {
			return err
		}

		n, err := s.tables.TryLock(ctx, tx, tableID, userID, now, now.Add(-s.ttl))
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: table %d", ErrAlreadyLocked, before.Number)
		}

		switch {
		case before.LockedBy == nil:
		case *before.LockedBy == userID:
			res.Renewed = true
		default:
			prev := *before.LockedBy
			res.LockExpiredWarning = true
			res.PreviousHolder = &prev
		}

		res.Table, err = s.findTable(ctx, tx, tableID)
		return err
	})
	if txErr != nil {
		return nil, txErr
	}

	if res.LockExpiredWarning {
		log.Warn().
			Str("event", "LockExpiredWarning").
			Int("table", res.Table.Number).
			Str("previous_holder", res.PreviousHolder.String()).
			Str("new_holder", userID.String()).
			Msg("expired table lock taken over")
	}
	return &res, nil
}

// ── Release ───────────────────────────────────────────────────────────────────

func (s *lockService) Release(ctx context.Context, tableID, userID uuid.UUID) error {
	return runTx(ctx, s.tables.DB(), func(tx *gorm.DB) error {
		t, err := s.findTable(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if !t.HeldBy(userID) {
			return fmt.Errorf("%w: table %d", ErrNotHolder, t.Number)
		}
		status, err := s.releasedStatus(ctx, tx, tableID)
		if err != nil {
			return err
		}
		n, err := s.tables.Unlock(ctx, tx, tableID, userID, status)
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: table %d", ErrNotHolder, t.Number)
		}
		return nil
	})
}

// releasedStatus is the table status once its lock is cleared.
func (s *lockService) releasedStatus(ctx context.Context, tx *gorm.DB, tableID uuid.UUID) (string, error) {
	open, err := s.orders.HasOpenOrder(ctx, tx, tableID)
	if err != nil {
		return "", err
	}
	if open {
		return model.TableOccupied, nil
	}
	return model.TableFree, nil
}

func (s *lockService) RequireHolder(ctx context.Context, tx *gorm.DB, tableID, userID uuid.UUID) (*model.Table, error) {
	t, err := s.findTable(ctx, tx, tableID)
	if err != nil {
		return nil, err
	}
	if !t.HeldBy(userID) {
		return nil, fmt.Errorf("%w: table %d", ErrNotHolder, t.Number)
	}
	now := s.opts.clock()
	n, err := s.tables.TryLock(ctx, tx, tableID, userID, now, now.Add(-s.ttl))
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: table %d", ErrNotHolder, t.Number)
	}
	t.LockedAt = &now
	return t, nil
}

// ── Expiry ────────────────────────────────────────────────────────────────────

func (s *lockService) SweepExpired(ctx context.Context) (int, error) {
	now := s.opts.clock()
	stale, err := s.tables.ListStaleLocks(ctx, now.Add(-s.ttl))
	if err != nil {
		return 0, err
	}
	cleared := 0
	for i := range stale {
		t := &stale[i]
		ok, err := s.clearStale(ctx, t, now)
		if err != nil {
			log.Error().Err(err).Int("table", t.Number).Msg("lock sweep: failed to clear lock")
			continue
		}
		if ok {
			cleared++
		}
	}
	return cleared, nil
}

func (s *lockService) ReleaseExpired(ctx context.Context, tableID uuid.UUID) error {
	t, err := s.findTable(ctx, nil, tableID)
	if err != nil {
		return err
	}
	if t.LockedBy == nil {
		return nil
	}
	if !s.IsExpired(t) {
		return fmt.Errorf("%w: table %d lock has not expired", ErrAlreadyLocked, t.Number)
	}
	if _, err := s.clearStale(ctx, t, s.opts.clock()); err != nil {
		return err
	}
	return nil
}

// clearStale removes t's lock if it is still the same stale lock.
func (s *lockService) clearStale(ctx context.Context, t *model.Table, now time.Time) (bool, error) {
	var cleared bool
	err := runTx(ctx, s.tables.DB(), func(tx *gorm.DB) error {
		status, err := s.releasedStatus(ctx, tx, t.ID)
		if err != nil {
			return err
		}
		n, err := s.tables.UnlockStale(ctx, tx, t.ID, *t.LockedBy, now.Add(-s.ttl), status)
		if err != nil {
			return err
		}
		cleared = n > 0
		return nil
	})
	if err != nil {
		return false, err
	}
	if cleared {
		log.Warn().
			Str("event", "LockExpiredWarning").
			Int("table", t.Number).
			Str("previous_holder", t.LockedBy.String()).
			Time("locked_at", *t.LockedAt).
			Msg("expired table lock cleared")
	}
	return cleared, nil
}
