package dto

import (
	"time"

	"github.com/google/uuid"
)

// PrintQueueStats is returned by GET /v1/print-queue/stats.
type PrintQueueStats struct {
	Pending      int64  `json:"pending"`
	Leased       int64  `json:"leased"`
	Printed      int64  `json:"printed"`
	Failed       int64  `json:"failed"`
	DeadLettered int64  `json:"dead_lettered"`
	DLQLength    int64  `json:"dlq_length"`
	Breaker      string `json:"breaker,omitempty"`
}

// PrintEntryResponse is one row of GET /v1/print-queue/failed.
type PrintEntryResponse struct {
	ID           int64      `json:"id"`
	PrintType    string     `json:"print_type"`
	CommandID    *uuid.UUID `json:"command_id,omitempty"`
	OrderID      *uuid.UUID `json:"order_id,omitempty"`
	TableID      *uuid.UUID `json:"table_id,omitempty"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	LastError    *string    `json:"last_error,omitempty"`
	DeadLettered bool       `json:"dead_lettered"`
	CreatedAt    time.Time  `json:"created_at"`
	FailedAt     *time.Time `json:"failed_at,omitempty"`
}

// MaintenanceReport summarizes one run of the scheduled print retry job.
type MaintenanceReport struct {
	Requeued     int `json:"requeued"`
	DeadLettered int `json:"dead_lettered"`
}
