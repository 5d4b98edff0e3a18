package model

import (
	"time"

	"github.com/google/uuid"
)

// Print types.
const (
	PrintComanda  = "comanda"
	PrintPreconto = "preconto"
)

// Queue entry states. A leased entry stays "pending"; the lease columns
// hide it from other workers until LeaseExpiresAt.
const (
	EntryPending = "pending"
	EntryPrinted = "printed"
	EntryFailed  = "failed"
)

// PrintQueueEntry is a durable print job. ID is monotonic and defines FIFO
// order. A comanda entry always carries CommandID; a preconto entry carries
// only OrderID/TableID.
type PrintQueueEntry struct {
	ID             int64      `gorm:"primaryKey;autoIncrement"`
	PrintType      string     `gorm:"type:varchar(20);not null"`
	CommandID      *uuid.UUID `gorm:"type:uuid;index"`
	OrderID        *uuid.UUID `gorm:"type:uuid;index"`
	TableID        *uuid.UUID `gorm:"type:uuid"`
	Status         string     `gorm:"type:varchar(20);not null;default:'pending'"`
	LeasedBy       *string    `gorm:"type:varchar(100)"`
	LeaseExpiresAt *time.Time
	Attempts       int  `gorm:"not null;default:0"`
	LastError      *string
	DeadLettered   bool `gorm:"not null;default:false"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
	PrintedAt      *time.Time
	FailedAt       *time.Time

	Command *Command `gorm:"foreignKey:CommandID;constraint:OnDelete:CASCADE"`
	Order   *Order   `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Table   *Table   `gorm:"foreignKey:TableID;constraint:OnDelete:SET NULL"`
}

// TableName keeps the singular name used by the existing schema.
func (PrintQueueEntry) TableName() string { return "print_queue" }
