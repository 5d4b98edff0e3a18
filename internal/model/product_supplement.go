package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// ProductSupplement is an add-on priced per product (extra topping, cone
// upgrade). Its name and price are copied into OrderItem.Selections at
// submit time.
type ProductSupplement struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey"`
	ProductCode string          `gorm:"type:varchar(50);not null;index"`
	Name        string          `gorm:"not null"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null;default:0"`
	Active      bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p *ProductSupplement) BeforeCreate(_ *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
