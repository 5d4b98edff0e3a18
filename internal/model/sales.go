package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalesOrder is the immutable archive of a settled order. Rows are written
// once at settlement and only removed by an explicit administrative purge.
type SalesOrder struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	OrderID      *uuid.UUID      `gorm:"type:uuid;uniqueIndex"`
	TableID      *uuid.UUID      `gorm:"type:uuid"`
	TableNumber  int             `gorm:"not null"`
	OpenedBy     uuid.UUID       `gorm:"type:uuid;not null"`
	SettledBy    uuid.UUID       `gorm:"type:uuid;not null"`
	Covers       int             `gorm:"not null"`
	Total        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CommandCount int             `gorm:"not null"`
	Forced       bool            `gorm:"not null;default:false"`
	OpenedAt     time.Time       `gorm:"not null"`
	SettledAt    time.Time       `gorm:"not null;index"`

	Order *Order      `gorm:"foreignKey:OrderID;constraint:OnDelete:SET NULL"`
	Table *Table      `gorm:"foreignKey:TableID;constraint:OnDelete:SET NULL"`
	Items []SalesItem `gorm:"foreignKey:SalesOrderID;constraint:OnDelete:CASCADE"`
}

func (s *SalesOrder) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// SalesItem is one product line of a SalesOrder, grouped by product and unit price.
type SalesItem struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SalesOrderID uuid.UUID       `gorm:"type:uuid;not null;index"`
	ProductCode  string          `gorm:"type:varchar(50);not null"`
	ProductName  string          `gorm:"not null"`
	Category     string          `gorm:"type:varchar(50)"`
	Quantity     int             `gorm:"not null"`
	UnitPrice    decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	TotalPrice   decimal.Decimal `gorm:"type:decimal(12,2);not null"`
}

func (s *SalesItem) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}
