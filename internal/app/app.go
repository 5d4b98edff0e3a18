// Package app is the composition root shared by the binaries.
// Dependency graph: Service ← Repository ← DB, with the Redis doorbell
// injected as the print notifier.
package app

import (
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/config"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// Services holds the three components plus the sales archive.
type Services struct {
	Locks  service.LockService
	Ledger service.LedgerService
	Queue  service.PrintQueueService
	Sales  service.SalesService
}

// NewServices wires repositories and services over db. notifier may be nil.
func NewServices(db *gorm.DB, cfg *config.Config, notifier service.PrintNotifier, extra ...service.Option) *Services {
	opts := append([]service.Option{
		service.WithPrecontoBlocking(cfg.SettleBlockOnPrecontoFailure),
	}, extra...)
	if notifier != nil {
		opts = append(opts, service.WithNotifier(notifier))
	}

	// ── Repositories ─────────────────────────────────────────────────────────
	tableRepo := repository.NewTableRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	commandRepo := repository.NewCommandRepository(db)
	itemRepo := repository.NewItemRepository(db)
	printQueueRepo := repository.NewPrintQueueRepository(db)
	salesRepo := repository.NewSalesRepository(db)
	supplementRepo := repository.NewSupplementRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	locks := service.NewLockService(tableRepo, orderRepo, cfg.LockTTL, opts...)
	queue := service.NewPrintQueueService(printQueueRepo, commandRepo, orderRepo, cfg.PrintLease, opts...)
	ledger := service.NewLedgerService(service.LedgerDeps{
		Orders:      orderRepo,
		Commands:    commandRepo,
		Items:       itemRepo,
		Tables:      tableRepo,
		PrintQueue:  printQueueRepo,
		Sales:       salesRepo,
		Supplements: supplementRepo,
		Locks:       locks,
		Queue:       queue,
	}, opts...)

	return &Services{
		Locks:  locks,
		Ledger: ledger,
		Queue:  queue,
		Sales:  service.NewSalesService(salesRepo, opts...),
	}
}
