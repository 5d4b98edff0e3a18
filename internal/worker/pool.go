package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// Printer is the boundary to the physical printer driver.
type Printer interface {
	Print(ctx context.Context, doc infra.PrintDocument) error
}

// PoolConfig tunes the print worker pool.
type PoolConfig struct {
	WorkerID     string        // prefix; each goroutine appends /<n>
	Workers      int           // number of goroutines (default 1)
	PollInterval time.Duration // longest idle wait between dequeues
	Restaurant   string        // ticket header
}

// PrintPool drains the print queue. Each worker dequeues with a lease,
// marks the command sent, renders the ticket, hands it to the printer
// through the circuit breaker and acks the outcome.
type PrintPool struct {
	queue   service.PrintQueueService
	ledger  service.LedgerService
	printer Printer
	breaker *infra.CircuitBreaker
	events  EventPublisher
	bell    *Doorbell
	cfg     PoolConfig
}

func NewPrintPool(
	queue service.PrintQueueService,
	ledger service.LedgerService,
	printer Printer,
	breaker *infra.CircuitBreaker,
	events EventPublisher,
	bell *Doorbell,
	cfg PoolConfig,
) *PrintPool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if events == nil {
		events = NopPublisher{}
	}
	if breaker == nil {
		breaker = infra.NewCircuitBreaker(infra.DefaultCBConfig())
	}
	return &PrintPool{
		queue:   queue,
		ledger:  ledger,
		printer: printer,
		breaker: breaker,
		events:  events,
		bell:    bell,
		cfg:     cfg,
	}
}

// Run starts the workers and blocks until ctx is cancelled and every
// worker has finished its current entry.
func (p *PrintPool) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 1; i <= p.cfg.Workers; i++ {
		name := fmt.Sprintf("%s/%d", p.cfg.WorkerID, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.runWorker(ctx, name)
		}()
	}
	log.Info().Int("workers", p.cfg.Workers).Str("worker_id", p.cfg.WorkerID).Msg("print worker pool started")
	wg.Wait()
	log.Info().Msg("print worker pool stopped")
}

func (p *PrintPool) runWorker(ctx context.Context, name string) {
	for ctx.Err() == nil {
		p.Drain(ctx, name)
		p.bell.Wait(ctx, p.cfg.PollInterval)
	}
}

// Drain processes entries until the queue is empty, the breaker opens or
// ctx ends. It returns the number of entries handled.
func (p *PrintPool) Drain(ctx context.Context, workerName string) int {
	handled := 0
	for ctx.Err() == nil {
		// While the printer is down, leave entries pending instead of
		// burning their attempts on a fast-fail.
		if p.breaker.State() == infra.CBOpen {
			return handled
		}
		entry, err := p.queue.DequeueNext(ctx, workerName)
		if err != nil {
			log.Error().Err(err).Str("worker", workerName).Msg("print dequeue failed")
			return handled
		}
		if entry == nil {
			return handled
		}
		_ = p.Process(ctx, workerName, entry)
		handled++
	}
	return handled
}

// Process prints one leased entry and acks the result. The returned error
// is the delivery or ack failure, already logged.
func (p *PrintPool) Process(ctx context.Context, workerName string, entry *model.PrintQueueEntry) error {
	payload, printErr := p.deliver(ctx, entry)

	// The ack must land even if shutdown started while printing.
	ackCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := p.queue.Ack(ackCtx, entry.ID, workerName, printErr == nil, printErr); err != nil {
		if errors.Is(err, service.ErrLeaseLost) {
			log.Warn().Int64("entry_id", entry.ID).Str("worker", workerName).
				Msg("print lease lost before ack; entry belongs to another worker")
		} else {
			log.Error().Err(err).Int64("entry_id", entry.ID).Msg("print ack failed")
		}
		return err
	}

	p.publish(ackCtx, workerName, entry, payload, printErr)
	return printErr
}

func (p *PrintPool) deliver(ctx context.Context, entry *model.PrintQueueEntry) (*service.PrintPayload, error) {
	payload, err := p.queue.Payload(ctx, entry)
	if err != nil {
		return nil, fmt.Errorf("%w: load ticket: %v", service.ErrPrintDeliveryFailed, err)
	}

	if payload.Command != nil {
		if err := p.ledger.MarkCommandSent(ctx, payload.Command.ID); err != nil {
			log.Warn().Err(err).Int("command_number", payload.Command.CommandNumber).
				Msg("mark command sent failed")
		}
	}

	doc, err := p.render(payload)
	if err != nil {
		return payload, fmt.Errorf("%w: %v", service.ErrPrintDeliveryFailed, err)
	}
	err = p.breaker.Execute(func() error { return p.printer.Print(ctx, doc) })
	if err != nil {
		return payload, fmt.Errorf("%w: %v", service.ErrPrintDeliveryFailed, err)
	}
	return payload, nil
}

func (p *PrintPool) render(pl *service.PrintPayload) (infra.PrintDocument, error) {
	doc := infra.PrintDocument{EntryID: pl.Entry.ID, Kind: pl.Entry.PrintType}
	tableNumber := 0
	if pl.Order.Table != nil {
		tableNumber = pl.Order.Table.Number
	}

	var err error
	switch pl.Entry.PrintType {
	case model.PrintComanda:
		doc.Station = "kitchen"
		doc.PDF, err = infra.RenderComanda(infra.ComandaTicket{
			Restaurant:    p.cfg.Restaurant,
			TableNumber:   tableNumber,
			CommandNumber: pl.Command.CommandNumber,
			Covers:        pl.Order.Covers,
			Notes:         pl.Command.Notes,
			CreatedAt:     pl.Command.CreatedAt,
			Items:         pl.Items,
		})
	case model.PrintPreconto:
		doc.Station = "cassa"
		doc.PDF, err = infra.RenderPreconto(infra.PrecontoTicket{
			Restaurant:  p.cfg.Restaurant,
			TableNumber: tableNumber,
			Covers:      pl.Order.Covers,
			OpenedAt:    pl.Order.CreatedAt,
			Items:       pl.Items,
			Total:       pl.Order.Total,
		})
	default:
		err = fmt.Errorf("unknown print type %q", pl.Entry.PrintType)
	}
	return doc, err
}

func (p *PrintPool) publish(ctx context.Context, workerName string, entry *model.PrintQueueEntry, pl *service.PrintPayload, printErr error) {
	ev := infra.PrintEvent{
		Type:       infra.EventPrinted,
		EntryID:    entry.ID,
		PrintType:  entry.PrintType,
		Attempts:   entry.Attempts,
		WorkerID:   workerName,
		OccurredAt: time.Now().UTC(),
	}
	if printErr != nil {
		ev.Type = infra.EventFailed
		ev.Error = printErr.Error()
	}
	if entry.CommandID != nil {
		ev.CommandID = entry.CommandID.String()
	}
	if entry.OrderID != nil {
		ev.OrderID = entry.OrderID.String()
	}
	if pl != nil {
		if pl.Command != nil {
			ev.CommandNumber = pl.Command.CommandNumber
		}
		if pl.Order.Table != nil {
			ev.TableNumber = pl.Order.Table.Number
		}
	}
	if err := p.events.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Int64("entry_id", entry.ID).Msg("print event publish failed")
	}
}
