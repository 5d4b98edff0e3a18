package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Command lifecycle states.
const (
	CommandPending     = "pending"
	CommandSent        = "sent"
	CommandPrinted     = "printed"
	CommandPrintFailed = "print_failed"
)

// Print outcome as seen by the command.
const (
	PrintStatusPending = "pending"
	PrintStatusPrinted = "printed"
	PrintStatusFailed  = "failed"
)

// Command is one kitchen ticket (comanda): the batch of items submitted
// together. CommandNumber starts at 1 and is unique within its order.
type Command struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	OrderID       uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_commands_order_number"`
	CommandNumber int       `gorm:"not null;uniqueIndex:idx_commands_order_number"`
	Status        string    `gorm:"type:varchar(20);not null;default:'pending'"`
	PrintStatus   string    `gorm:"type:varchar(20);not null;default:'pending'"`
	Notes         string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        *time.Time
	PrintedAt     *time.Time

	Items []OrderItem `gorm:"foreignKey:CommandID;constraint:OnDelete:SET NULL"`
}

func (c *Command) BeforeCreate(_ *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

// Settled reports whether the command no longer blocks settlement.
func (c *Command) Settled() bool {
	return c.Status == CommandPrinted
}
