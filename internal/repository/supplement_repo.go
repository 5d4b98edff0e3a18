package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

type SupplementRepository interface {
	Create(ctx context.Context, s *model.ProductSupplement) error
	// FindActiveByIDs returns the active supplements among ids, keyed by id.
	FindActiveByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]model.ProductSupplement, error)
}

type supplementRepo struct{ db *gorm.DB }

func NewSupplementRepository(db *gorm.DB) SupplementRepository { return &supplementRepo{db: db} }

func (r *supplementRepo) Create(ctx context.Context, s *model.ProductSupplement) error {
	return r.db.WithContext(ctx).Create(s).Error
}

func (r *supplementRepo) FindActiveByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) (map[uuid.UUID]model.ProductSupplement, error) {
	out := make(map[uuid.UUID]model.ProductSupplement, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var rows []model.ProductSupplement
	if err := conn(ctx, r.db, tx).Where("id IN ? AND active = ?", ids, true).Find(&rows).Error; err != nil {
		return nil, err
	}
	for _, s := range rows {
		out[s.ID] = s
	}
	return out, nil
}
