package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

// PrintQueueRepository stores print jobs. A pending entry is available when
// it has no lease or its lease expired; Lease and Complete are
// compare-and-set updates guarded by that condition and by lease ownership.
type PrintQueueRepository interface {
	Create(ctx context.Context, tx *gorm.DB, e *model.PrintQueueEntry) error
	FindByID(ctx context.Context, tx *gorm.DB, id int64) (*model.PrintQueueEntry, error)

	// NextAvailable returns the oldest available pending entry with an id
	// greater than afterID.
	NextAvailable(ctx context.Context, tx *gorm.DB, afterID int64, now time.Time) (*model.PrintQueueEntry, error)
	Lease(ctx context.Context, tx *gorm.DB, id int64, workerID string, now, until time.Time) (int64, error)
	// Complete writes the final outcome if workerID still owns the lease.
	Complete(ctx context.Context, tx *gorm.DB, id int64, workerID string, updates map[string]interface{}) (int64, error)
	// ResetFailed moves a failed entry back to pending.
	ResetFailed(ctx context.Context, tx *gorm.DB, id int64, resetAttempts bool) (int64, error)
	ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error)

	ListFailed(ctx context.Context, limit int) ([]model.PrintQueueEntry, error)
	// ListRetryable returns failed entries under maxAttempts whose failure is older than failedBefore.
	ListRetryable(ctx context.Context, maxAttempts int, failedBefore time.Time, limit int) ([]model.PrintQueueEntry, error)
	// ListExhausted returns failed entries at or over maxAttempts not yet dead-lettered.
	ListExhausted(ctx context.Context, maxAttempts int, limit int) ([]model.PrintQueueEntry, error)
	MarkDeadLettered(ctx context.Context, id int64) (int64, error)
	FindLatestByCommand(ctx context.Context, tx *gorm.DB, commandID uuid.UUID) (*model.PrintQueueEntry, error)
	// HasPending reports whether the command already has a ticket waiting or in flight.
	HasPending(ctx context.Context, tx *gorm.DB, commandID uuid.UUID) (bool, error)
	CountFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, printType string) (int64, error)
	CountByStatus(ctx context.Context, now time.Time) (map[string]int64, error)

	DB() *gorm.DB
}

type printQueueRepo struct{ db *gorm.DB }

func NewPrintQueueRepository(db *gorm.DB) PrintQueueRepository { return &printQueueRepo{db: db} }

func (r *printQueueRepo) DB() *gorm.DB { return r.db }

func (r *printQueueRepo) Create(ctx context.Context, tx *gorm.DB, e *model.PrintQueueEntry) error {
	return conn(ctx, r.db, tx).Omit("Command", "Order", "Table").Create(e).Error
}

func (r *printQueueRepo) FindByID(ctx context.Context, tx *gorm.DB, id int64) (*model.PrintQueueEntry, error) {
	var e model.PrintQueueEntry
	err := conn(ctx, r.db, tx).Where("id = ?", id).First(&e).Error
	return &e, err
}

func (r *printQueueRepo) NextAvailable(ctx context.Context, tx *gorm.DB, afterID int64, now time.Time) (*model.PrintQueueEntry, error) {
	var e model.PrintQueueEntry
	err := conn(ctx, r.db, tx).
		Where("status = ? AND id > ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)",
			model.EntryPending, afterID, now).
		Order("id").First(&e).Error
	return &e, err
}

func (r *printQueueRepo) Lease(ctx context.Context, tx *gorm.DB, id int64, workerID string, now, until time.Time) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.PrintQueueEntry{}).
		Where("id = ? AND status = ? AND (lease_expires_at IS NULL OR lease_expires_at < ?)",
			id, model.EntryPending, now).
		Updates(map[string]interface{}{
			"leased_by":        workerID,
			"lease_expires_at": until,
			"attempts":         gorm.Expr("attempts + 1"),
		})
	return res.RowsAffected, res.Error
}

func (r *printQueueRepo) Complete(ctx context.Context, tx *gorm.DB, id int64, workerID string, updates map[string]interface{}) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.PrintQueueEntry{}).
		Where("id = ? AND status = ? AND leased_by = ?", id, model.EntryPending, workerID).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *printQueueRepo) ResetFailed(ctx context.Context, tx *gorm.DB, id int64, resetAttempts bool) (int64, error) {
	updates := map[string]interface{}{
		"status":           model.EntryPending,
		"leased_by":        nil,
		"lease_expires_at": nil,
		"failed_at":        nil,
	}
	if resetAttempts {
		updates["attempts"] = 0
		updates["dead_lettered"] = false
	}
	res := conn(ctx, r.db, tx).Model(&model.PrintQueueEntry{}).
		Where("id = ? AND status = ?", id, model.EntryFailed).
		Updates(updates)
	return res.RowsAffected, res.Error
}

func (r *printQueueRepo) ReapExpiredLeases(ctx context.Context, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.PrintQueueEntry{}).
		Where("status = ? AND leased_by IS NOT NULL AND lease_expires_at < ?", model.EntryPending, now).
		Updates(map[string]interface{}{
			"leased_by":        nil,
			"lease_expires_at": nil,
		})
	return res.RowsAffected, res.Error
}

func (r *printQueueRepo) ListFailed(ctx context.Context, limit int) ([]model.PrintQueueEntry, error) {
	var entries []model.PrintQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ?", model.EntryFailed).
		Order("id").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *printQueueRepo) ListRetryable(ctx context.Context, maxAttempts int, failedBefore time.Time, limit int) ([]model.PrintQueueEntry, error) {
	var entries []model.PrintQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND dead_lettered = ? AND attempts < ? AND failed_at < ?",
			model.EntryFailed, false, maxAttempts, failedBefore).
		Order("id").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *printQueueRepo) ListExhausted(ctx context.Context, maxAttempts int, limit int) ([]model.PrintQueueEntry, error) {
	var entries []model.PrintQueueEntry
	err := r.db.WithContext(ctx).
		Where("status = ? AND dead_lettered = ? AND attempts >= ?", model.EntryFailed, false, maxAttempts).
		Order("id").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *printQueueRepo) MarkDeadLettered(ctx context.Context, id int64) (int64, error) {
	res := r.db.WithContext(ctx).Model(&model.PrintQueueEntry{}).
		Where("id = ? AND dead_lettered = ?", id, false).
		Update("dead_lettered", true)
	return res.RowsAffected, res.Error
}

func (r *printQueueRepo) CountByStatus(ctx context.Context, now time.Time) (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	err := r.db.WithContext(ctx).Model(&model.PrintQueueEntry{}).
		Select("status, COUNT(*) AS n").Group("status").Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	counts := map[string]int64{
		model.EntryPending: 0,
		model.EntryPrinted: 0,
		model.EntryFailed:  0,
	}
	for _, rw := range rows {
		counts[rw.Status] = rw.N
	}

	var leased, dead int64
	if err := r.db.WithContext(ctx).Model(&model.PrintQueueEntry{}).
		Where("status = ? AND lease_expires_at >= ?", model.EntryPending, now).
		Count(&leased).Error; err != nil {
		return nil, err
	}
	if err := r.db.WithContext(ctx).Model(&model.PrintQueueEntry{}).
		Where("dead_lettered = ?", true).
		Count(&dead).Error; err != nil {
		return nil, err
	}
	counts["leased"] = leased
	counts["dead_lettered"] = dead
	return counts, nil
}

func (r *printQueueRepo) FindLatestByCommand(ctx context.Context, tx *gorm.DB, commandID uuid.UUID) (*model.PrintQueueEntry, error) {
	var e model.PrintQueueEntry
	err := conn(ctx, r.db, tx).Where("command_id = ?", commandID).Order("id DESC").First(&e).Error
	return &e, err
}

func (r *printQueueRepo) HasPending(ctx context.Context, tx *gorm.DB, commandID uuid.UUID) (bool, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.PrintQueueEntry{}).
		Where("command_id = ? AND status = ?", commandID, model.EntryPending).
		Count(&n).Error
	return n > 0, err
}

func (r *printQueueRepo) CountFailed(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, printType string) (int64, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.PrintQueueEntry{}).
		Where("order_id = ? AND print_type = ? AND status = ?", orderID, printType, model.EntryFailed).
		Count(&n).Error
	return n, err
}
