package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

// SalesRepository is append-only apart from PurgeBefore, the explicit
// administrative purge.
type SalesRepository interface {
	Create(ctx context.Context, tx *gorm.DB, so *model.SalesOrder) error
	FindByOrderID(ctx context.Context, orderID uuid.UUID) (*model.SalesOrder, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]model.SalesOrder, error)
	PurgeBefore(ctx context.Context, before time.Time) (int64, error)
}

type salesRepo struct{ db *gorm.DB }

func NewSalesRepository(db *gorm.DB) SalesRepository { return &salesRepo{db: db} }

// Create inserts the sales order and its items.
func (r *salesRepo) Create(ctx context.Context, tx *gorm.DB, so *model.SalesOrder) error {
	return conn(ctx, r.db, tx).Omit("Order", "Table").Create(so).Error
}

func (r *salesRepo) FindByOrderID(ctx context.Context, orderID uuid.UUID) (*model.SalesOrder, error) {
	var so model.SalesOrder
	err := r.db.WithContext(ctx).Preload("Items", func(db *gorm.DB) *gorm.DB {
		return db.Order("product_code, unit_price")
	}).Where("order_id = ?", orderID).First(&so).Error
	return &so, err
}

func (r *salesRepo) ListBetween(ctx context.Context, from, to time.Time) ([]model.SalesOrder, error) {
	var out []model.SalesOrder
	err := r.db.WithContext(ctx).Preload("Items").
		Where("settled_at >= ? AND settled_at < ?", from, to).
		Order("settled_at").Find(&out).Error
	return out, err
}

// PurgeBefore deletes archived sales settled before the cut-off; items go
// with them through the cascade.
func (r *salesRepo) PurgeBefore(ctx context.Context, before time.Time) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		ids := tx.Model(&model.SalesOrder{}).Select("id").Where("settled_at < ?", before)
		if err := tx.Where("sales_order_id IN (?)", ids).Delete(&model.SalesItem{}).Error; err != nil {
			return err
		}
		res := tx.Where("settled_at < ?", before).Delete(&model.SalesOrder{})
		n = res.RowsAffected
		return res.Error
	})
	return n, err
}
