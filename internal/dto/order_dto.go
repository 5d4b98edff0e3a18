package dto

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ─── Request DTOs ────────────────────────────────────────────────────────────

// SelectionRequest is a flavor or supplement chosen for an item. When
// SupplementID is set, name and price are taken from product_supplements.
type SelectionRequest struct {
	SupplementID *string         `json:"supplement_id" validate:"omitempty,uuid"`
	Group        string          `json:"group"         validate:"omitempty,max=30"`
	Name         string          `json:"name"          validate:"required_without=SupplementID,max=80"`
	PriceDelta   decimal.Decimal `json:"price_delta"   validate:"min=0"`
}

// SubmitItem carries the catalog snapshot for one line. Product code, name
// and price are copied as-is into the order item.
type SubmitItem struct {
	ProductCode string             `json:"product_code" validate:"required,max=50"`
	ProductName string             `json:"product_name" validate:"required,max=120"`
	Category    string             `json:"category"     validate:"omitempty,max=50"`
	Quantity    int                `json:"quantity"     validate:"required,min=1,max=99"`
	UnitPrice   decimal.Decimal    `json:"unit_price"   validate:"min=0"`
	Selections  []SelectionRequest `json:"selections"   validate:"omitempty,max=20,dive"`
	CustomNote  string             `json:"custom_note"  validate:"max=200"`
}

type SubmitItemsRequest struct {
	Items []SubmitItem `json:"items" validate:"required,min=1,max=100,dive"`
	Notes string       `json:"notes" validate:"max=200"`
}

// SettleOptions controls settlement. Override settles even when some
// commands are not printed; the sales row is then flagged as forced and
// Reason is logged.
type SettleOptions struct {
	Override bool   `json:"override"`
	Reason   string `json:"reason"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type SelectionResponse struct {
	SupplementID *uuid.UUID      `json:"supplement_id,omitempty"`
	Group        string          `json:"group,omitempty"`
	Name         string          `json:"name"`
	PriceDelta   decimal.Decimal `json:"price_delta"`
}

type ItemResponse struct {
	ID          uuid.UUID           `json:"id"`
	CommandID   *uuid.UUID          `json:"command_id"`
	LineNo      int                 `json:"line_no"`
	ProductCode string              `json:"product_code"`
	ProductName string              `json:"product_name"`
	Category    string              `json:"category"`
	Quantity    int                 `json:"quantity"`
	UnitPrice   decimal.Decimal     `json:"unit_price"`
	TotalPrice  decimal.Decimal     `json:"total_price"`
	Selections  []SelectionResponse `json:"selections"`
	CustomNote  string              `json:"custom_note,omitempty"`
}

type CommandResponse struct {
	ID            uuid.UUID  `json:"id"`
	CommandNumber int        `json:"command_number"`
	Status        string     `json:"status"`
	PrintStatus   string     `json:"print_status"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	SentAt        *time.Time `json:"sent_at,omitempty"`
	PrintedAt     *time.Time `json:"printed_at,omitempty"`
}

type OrderResponse struct {
	ID          uuid.UUID         `json:"id"`
	TableID     *uuid.UUID        `json:"table_id"`
	TableNumber int               `json:"table_number"`
	OpenedBy    uuid.UUID         `json:"opened_by"`
	Status      string            `json:"status"`
	Covers      int               `json:"covers"`
	Total       decimal.Decimal   `json:"total"`
	Version     int64             `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	Commands    []CommandResponse `json:"commands"`
	Items       []ItemResponse    `json:"items"`
}

// SubmitResult is returned by SubmitItems.
type SubmitResult struct {
	CommandID     uuid.UUID       `json:"command_id"`
	CommandNumber int             `json:"command_number"`
	PrintEntryID  int64           `json:"print_entry_id"`
	OrderTotal    decimal.Decimal `json:"order_total"`
}

// SettleResult is returned by SettleOrder.
type SettleResult struct {
	SalesOrderID uuid.UUID       `json:"sales_order_id"`
	Total        decimal.Decimal `json:"total"`
	Lines        int             `json:"lines"`
	Forced       bool            `json:"forced"`
}
