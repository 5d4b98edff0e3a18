package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

type ItemRepository interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, items []model.OrderItem) error
	CountByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error)
}

type itemRepo struct{ db *gorm.DB }

func NewItemRepository(db *gorm.DB) ItemRepository { return &itemRepo{db: db} }

func (r *itemRepo) CreateBatch(ctx context.Context, tx *gorm.DB, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	return conn(ctx, r.db, tx).Create(&items).Error
}

func (r *itemRepo) CountByOrder(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) (int64, error) {
	var n int64
	err := conn(ctx, r.db, tx).Model(&model.OrderItem{}).Where("order_id = ?", orderID).Count(&n).Error
	return n, err
}
