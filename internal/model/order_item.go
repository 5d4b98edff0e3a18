package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Selection is one flavor or supplement picked for an item. The list keeps
// the order in which the customer chose them.
type Selection struct {
	SupplementID *uuid.UUID      `json:"supplement_id,omitempty"`
	Group        string          `json:"group,omitempty"` // "gusto" | "supplemento" | free text
	Name         string          `json:"name"`
	PriceDelta   decimal.Decimal `json:"price_delta"`
}

// OrderItem is a line of an order. Product fields are a snapshot taken at
// submit time so later catalog edits never alter printed tickets.
type OrderItem struct {
	ID          uuid.UUID                      `gorm:"type:uuid;primaryKey"`
	OrderID     uuid.UUID                      `gorm:"type:uuid;not null;index"`
	CommandID   *uuid.UUID                     `gorm:"type:uuid;index"`
	LineNo      int                            `gorm:"not null;default:0"` // 1-based position within the order
	ProductCode string                         `gorm:"type:varchar(50);not null"`
	ProductName string                         `gorm:"not null"`
	Category    string                         `gorm:"type:varchar(50)"`
	Quantity    int                            `gorm:"not null"`
	UnitPrice   decimal.Decimal                `gorm:"type:decimal(10,2);not null"`
	TotalPrice  decimal.Decimal                `gorm:"type:decimal(12,2);not null"`
	Selections  datatypes.JSONSlice[Selection] `gorm:"type:json"`
	CustomNote  string
	CreatedAt   time.Time
}

func (i *OrderItem) BeforeCreate(_ *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
