package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

// TableRepository owns the tables rows and their advisory lock columns.
// Lock changes are conditional updates; callers read RowsAffected to learn
// whether the compare-and-set won.
type TableRepository interface {
	Create(ctx context.Context, t *model.Table) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Table, error)
	FindByNumber(ctx context.Context, number int) (*model.Table, error)
	List(ctx context.Context) ([]model.Table, error)

	// TryLock sets the lock for userID when the table is unlocked, already
	// held by userID, or held by a lock taken before staleBefore.
	TryLock(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, now, staleBefore time.Time) (int64, error)
	// Unlock clears the lock only when holder still owns it.
	Unlock(ctx context.Context, tx *gorm.DB, id, holder uuid.UUID, status string) (int64, error)
	// UnlockStale clears holder's lock only when it is still older than staleBefore.
	UnlockStale(ctx context.Context, tx *gorm.DB, id, holder uuid.UUID, staleBefore time.Time, status string) (int64, error)
	ListStaleLocks(ctx context.Context, staleBefore time.Time) ([]model.Table, error)

	SetOpenOrderState(ctx context.Context, tx *gorm.DB, id uuid.UUID, covers int) error
	SetRunningTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID, total decimal.Decimal) error
	// Free clears lock, covers and running total after an order is closed.
	Free(ctx context.Context, tx *gorm.DB, id uuid.UUID) error

	DB() *gorm.DB
}

type tableRepo struct{ db *gorm.DB }

func NewTableRepository(db *gorm.DB) TableRepository { return &tableRepo{db: db} }

func (r *tableRepo) DB() *gorm.DB { return r.db }

func (r *tableRepo) Create(ctx context.Context, t *model.Table) error {
	return r.db.WithContext(ctx).Create(t).Error
}

func (r *tableRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Table, error) {
	var t model.Table
	err := conn(ctx, r.db, tx).Where("id = ?", id).First(&t).Error
	return &t, err
}

func (r *tableRepo) FindByNumber(ctx context.Context, number int) (*model.Table, error) {
	var t model.Table
	err := r.db.WithContext(ctx).Where("number = ?", number).First(&t).Error
	return &t, err
}

func (r *tableRepo) List(ctx context.Context) ([]model.Table, error) {
	var tables []model.Table
	err := r.db.WithContext(ctx).Order("number").Find(&tables).Error
	return tables, err
}

func (r *tableRepo) TryLock(ctx context.Context, tx *gorm.DB, id, userID uuid.UUID, now, staleBefore time.Time) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.Table{}).
		Where("id = ? AND (locked_by IS NULL OR locked_by = ? OR locked_at < ?)", id, userID, staleBefore).
		Updates(map[string]interface{}{
			"locked_by":  userID,
			"locked_at":  now,
			"status":     model.TableLocked,
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *tableRepo) Unlock(ctx context.Context, tx *gorm.DB, id, holder uuid.UUID, status string) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.Table{}).
		Where("id = ? AND locked_by = ?", id, holder).
		Updates(map[string]interface{}{
			"locked_by": nil,
			"locked_at": nil,
			"status":    status,
		})
	return res.RowsAffected, res.Error
}

func (r *tableRepo) UnlockStale(ctx context.Context, tx *gorm.DB, id, holder uuid.UUID, staleBefore time.Time, status string) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.Table{}).
		Where("id = ? AND locked_by = ? AND locked_at < ?", id, holder, staleBefore).
		Updates(map[string]interface{}{
			"locked_by": nil,
			"locked_at": nil,
			"status":    status,
		})
	return res.RowsAffected, res.Error
}

func (r *tableRepo) ListStaleLocks(ctx context.Context, staleBefore time.Time) ([]model.Table, error) {
	var tables []model.Table
	err := r.db.WithContext(ctx).
		Where("locked_by IS NOT NULL AND locked_at < ?", staleBefore).
		Order("number").Find(&tables).Error
	return tables, err
}

func (r *tableRepo) SetOpenOrderState(ctx context.Context, tx *gorm.DB, id uuid.UUID, covers int) error {
	return conn(ctx, r.db, tx).Model(&model.Table{}).Where("id = ?", id).
		Updates(map[string]interface{}{"covers": covers, "running_total": decimal.Zero}).Error
}

func (r *tableRepo) SetRunningTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID, total decimal.Decimal) error {
	return conn(ctx, r.db, tx).Model(&model.Table{}).Where("id = ?", id).
		Update("running_total", total).Error
}

func (r *tableRepo) Free(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	return conn(ctx, r.db, tx).Model(&model.Table{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":        model.TableFree,
			"covers":        0,
			"running_total": decimal.Zero,
			"locked_by":     nil,
			"locked_at":     nil,
		}).Error
}
