package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

type CommandRepository interface {
	Create(ctx context.Context, tx *gorm.DB, c *model.Command) error
	FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Command, error)
	// Transition applies updates only when the command is in one of from.
	Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, updates map[string]interface{}) (int64, error)
	DB() *gorm.DB
}

type commandRepo struct{ db *gorm.DB }

func NewCommandRepository(db *gorm.DB) CommandRepository { return &commandRepo{db: db} }

func (r *commandRepo) DB() *gorm.DB { return r.db }

func (r *commandRepo) Create(ctx context.Context, tx *gorm.DB, c *model.Command) error {
	return conn(ctx, r.db, tx).Omit("Items").Create(c).Error
}

func (r *commandRepo) FindByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Command, error) {
	var c model.Command
	err := conn(ctx, r.db, tx).Where("id = ?", id).First(&c).Error
	return &c, err
}

func (r *commandRepo) Transition(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, updates map[string]interface{}) (int64, error) {
	res := conn(ctx, r.db, tx).Model(&model.Command{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(updates)
	return res.RowsAffected, res.Error
}
