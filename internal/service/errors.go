package service

import "errors"

// Domain errors. Callers match them with errors.Is; services wrap them with
// context through fmt.Errorf("...: %w", err).
var (
	ErrAlreadyLocked       = errors.New("table is locked by another user")
	ErrNotHolder           = errors.New("caller does not hold the table lock")
	ErrOrderNotOpen        = errors.New("order is not open")
	ErrCommandNotFound     = errors.New("command not found")
	ErrPrintDeliveryFailed = errors.New("print delivery failed")
	ErrSettlementBlocked   = errors.New("order has unsettled commands")

	ErrTableNotFound          = errors.New("table not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrTableHasOpenOrder      = errors.New("table already has an open order")
	ErrInvalidTransition      = errors.New("invalid state transition")
	ErrLeaseLost              = errors.New("print lease no longer held by this worker")
	ErrEntryNotFound          = errors.New("print queue entry not found")
	ErrConcurrentModification = errors.New("order was modified concurrently")
	ErrInvalidItems           = errors.New("invalid items")
)
