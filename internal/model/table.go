package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Table states.
const (
	TableFree     = "free"
	TableOccupied = "occupied"
	TableLocked   = "locked"
)

// Table is a physical dining table. LockedBy/LockedAt form the advisory
// editing lock: both are set or both are nil.
type Table struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	Number       int             `gorm:"uniqueIndex;not null"`
	Status       string          `gorm:"type:varchar(20);not null;default:'free'"`
	Covers       int             `gorm:"not null;default:0"`
	RunningTotal decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	LockedBy     *uuid.UUID      `gorm:"type:uuid;index"`
	LockedAt     *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (t *Table) BeforeCreate(_ *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// HeldBy reports whether userID is the recorded lock holder (expiry not considered).
func (t *Table) HeldBy(userID uuid.UUID) bool {
	return t.LockedBy != nil && *t.LockedBy == userID
}
