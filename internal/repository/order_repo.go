package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

// OrderRepository persists orders. Every mutating method bumps version so
// settle/cancel can detect a concurrent submit.
type OrderRepository interface {
	Create(ctx context.Context, tx *gorm.DB, o *model.Order) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error)
	// FindDetailed preloads the table, commands (by number) and items.
	FindDetailed(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error)
	FindOpenByTable(ctx context.Context, tx *gorm.DB, tableID uuid.UUID) (*model.Order, error)
	HasOpenOrder(ctx context.Context, tx *gorm.DB, tableID uuid.UUID) (bool, error)

	// AllocateCommandNumber increments command_seq on an open order and
	// returns the new value; 0 means the order is not open.
	AllocateCommandNumber(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error)
	SetTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID, total decimal.Decimal) error
	// Close moves an open order at the given version to status; the
	// returned count is 0 when status or version no longer match.
	Close(ctx context.Context, tx *gorm.DB, id uuid.UUID, version int64, status string, at time.Time) (int64, error)

	DB() *gorm.DB
}

type orderRepo struct{ db *gorm.DB }

func NewOrderRepository(db *gorm.DB) OrderRepository { return &orderRepo{db: db} }

func (r *orderRepo) DB() *gorm.DB { return r.db }

func (r *orderRepo) Create(ctx context.Context, tx *gorm.DB, o *model.Order) error {
	return conn(ctx, r.db, tx).Omit("Table", "Commands", "Items").Create(o).Error
}

func (r *orderRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error) {
	var o model.Order
	err := conn(ctx, r.db, tx).Where("id = ?", id).First(&o).Error
	return &o, err
}

func (r *orderRepo) FindDetailed(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error) {
	var o model.Order
	err := conn(ctx, r.db, tx).
		Preload("Table").
		Preload("Commands", func(db *gorm.DB) *gorm.DB { return db.Order("command_number") }).
		Preload("Commands.Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("line_no") }).
		Where("id = ?", id).First(&o).Error
	return &o, err
}

func (r *orderRepo) FindOpenByTable(ctx context.Context, tx *gorm.DB, tableID uuid.UUID) (*model.Order, error) {
	var o model.Order
	err := conn(ctx, r.db, tx).
		Where("table_id = ? AND status = ?", tableID, model.OrderOpen).
		First(&o).Error
	return &o, err
}

func (r *orderRepo) HasOpenOrder(ctx context.Context, tx *gorm.DB, tableID uuid.UUID) (bool, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.Order{}).
		Where("table_id = ? AND status = ?", tableID, model.OrderOpen).
		Count(&n).Error
	return n > 0, err
}

func (r *orderRepo) AllocateCommandNumber(ctx context.Context, tx *gorm.DB, id uuid.UUID) (int, error) {
	db := conn(ctx, r.db, tx)
	res := db.Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderOpen).
		Updates(map[string]interface{}{
			"command_seq": gorm.Expr("command_seq + 1"),
			"version":     gorm.Expr("version + 1"),
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	var seq int
	err := db.Model(&model.Order{}).Where("id = ?", id).Pluck("command_seq", &seq).Error
	return seq, err
}

func (r *orderRepo) SetTotal(ctx context.Context, tx *gorm.DB, id uuid.UUID, total decimal.Decimal) error {
	return conn(ctx, r.db, tx).Model(&model.Order{}).Where("id = ?", id).
		Update("total", total).Error
}

func (r *orderRepo) Close(ctx context.Context, tx *gorm.DB, id uuid.UUID, version int64, status string, at time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":  status,
		"version": gorm.Expr("version + 1"),
	}
	switch status {
	case model.OrderCompleted:
		updates["completed_at"] = at
	case model.OrderCancelled:
		updates["cancelled_at"] = at
	}
	res := conn(ctx, r.db, tx).Model(&model.Order{}).
		Where("id = ? AND status = ? AND version = ?", id, model.OrderOpen, version).
		Updates(updates)
	return res.RowsAffected, res.Error
}
