package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order states.
const (
	OrderOpen      = "open"
	OrderCancelled = "cancelled"
	OrderCompleted = "completed"
)

// Order is the open bill of a table. Version is bumped on every mutation and
// serves as the optimistic concurrency stamp; CommandSeq is the last
// command_number handed out for this order.
type Order struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	TableID     *uuid.UUID      `gorm:"type:uuid;index"`
	OpenedBy    uuid.UUID       `gorm:"type:uuid;not null"`
	Status      string          `gorm:"type:varchar(20);not null;default:'open';index"`
	Covers      int             `gorm:"not null;default:0"`
	Total       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CommandSeq  int             `gorm:"not null;default:0"`
	Version     int64           `gorm:"not null;default:1"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CancelledAt *time.Time
	CompletedAt *time.Time

	Table    *Table      `gorm:"foreignKey:TableID;constraint:OnDelete:SET NULL"`
	Commands []Command   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Items    []OrderItem `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
}

func (o *Order) BeforeCreate(_ *gorm.DB) error {
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	return nil
}
