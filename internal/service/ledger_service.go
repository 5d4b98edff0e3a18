package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jinzhu/copier"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/dto"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
)

// LedgerService manages orders and their commands (comande). All writes
// require the caller to hold the table lock; settle and cancel are
// compare-and-set on the order version so they never race a submit.
type LedgerService interface {
	OpenOrder(ctx context.Context, userID, tableID uuid.UUID, covers int) (*model.Order, error)
	SubmitItems(ctx context.Context, userID, orderID uuid.UUID, req dto.SubmitItemsRequest) (*dto.SubmitResult, error)

	MarkCommandSent(ctx context.Context, commandID uuid.UUID) error
	// MarkCommandPrinted and MarkCommandPrintFailed mirror a print outcome
	// onto the command. The print queue applies the same transitions inside
	// its Ack transaction.
	MarkCommandPrinted(ctx context.Context, commandID uuid.UUID) error
	MarkCommandPrintFailed(ctx context.Context, commandID uuid.UUID) error
	// RetryCommandPrint requeues the command's latest failed print entry.
	RetryCommandPrint(ctx context.Context, commandID uuid.UUID) error

	RequestPreconto(ctx context.Context, userID, orderID uuid.UUID) (int64, error)
	SettleOrder(ctx context.Context, userID, orderID uuid.UUID, opts dto.SettleOptions) (*dto.SettleResult, error)
	CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error
	GetOrder(ctx context.Context, orderID uuid.UUID) (*dto.OrderResponse, error)
}

type ledgerService struct {
	orders      repository.OrderRepository
	commands    repository.CommandRepository
	items       repository.ItemRepository
	tables      repository.TableRepository
	printQueue  repository.PrintQueueRepository
	sales       repository.SalesRepository
	supplements repository.SupplementRepository
	locks       LockService
	queue       PrintQueueService
	states      commandStates
	opts        options
}

// LedgerDeps groups the ledger's collaborators.
type LedgerDeps struct {
	Orders      repository.OrderRepository
	Commands    repository.CommandRepository
	Items       repository.ItemRepository
	Tables      repository.TableRepository
	PrintQueue  repository.PrintQueueRepository
	Sales       repository.SalesRepository
	Supplements repository.SupplementRepository
	Locks       LockService
	Queue       PrintQueueService
}

func NewLedgerService(d LedgerDeps, opts ...Option) LedgerService {
	return &ledgerService{
		orders:      d.Orders,
		commands:    d.Commands,
		items:       d.Items,
		tables:      d.Tables,
		printQueue:  d.PrintQueue,
		sales:       d.Sales,
		supplements: d.Supplements,
		locks:       d.Locks,
		queue:       d.Queue,
		states:      commandStates{repo: d.Commands},
		opts:        buildOptions(opts),
	}
}

func (s *ledgerService) loadOrder(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*model.Order, error) {
	o, err := s.orders.FindByID(ctx, tx, id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return o, nil
}

// openOrderTable checks o is open and still attached to a table.
func openOrderTable(o *model.Order) (uuid.UUID, error) {
	if o.Status != model.OrderOpen {
		return uuid.Nil, fmt.Errorf("%w: order %s is %s", ErrOrderNotOpen, o.ID, o.Status)
	}
	if o.TableID == nil {
		return uuid.Nil, fmt.Errorf("%w: order %s has no table", ErrTableNotFound, o.ID)
	}
	return *o.TableID, nil
}

// ── OpenOrder ─────────────────────────────────────────────────────────────────

func (s *ledgerService) OpenOrder(ctx context.Context, userID, tableID uuid.UUID, covers int) (*model.Order, error) {
	if covers < 0 || covers > 99 {
		return nil, fmt.Errorf("%w: covers %d out of range", ErrInvalidItems, covers)
	}
	order := &model.Order{
		TableID:  &tableID,
		OpenedBy: userID,
		Status:   model.OrderOpen,
		Covers:   covers,
		Total:    decimal.Zero,
		Version:  1,
	}
	err := runTx(ctx, s.orders.DB(), func(tx *gorm.DB) error {
		t, err := s.locks.RequireHolder(ctx, tx, tableID, userID)
		if err != nil {
			return err
		}
		open, err := s.orders.HasOpenOrder(ctx, tx, tableID)
		if err != nil {
			return err
		}
		if open {
			return fmt.Errorf("%w: table %d", ErrTableHasOpenOrder, t.Number)
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return fmt.Errorf("%w: table %d", ErrTableHasOpenOrder, t.Number)
			}
			return err
		}
		return s.tables.SetOpenOrderState(ctx, tx, tableID, covers)
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("order_id", order.ID.String()).Str("table_id", tableID.String()).
		Int("covers", covers).Msg("order opened")
	return order, nil
}

// ── SubmitItems ───────────────────────────────────────────────────────────────
// One transaction:
//   1. check the order is open and the caller holds the table lock
//   2. allocate the next command number (row-level increment on orders)
//   3. create the command and its items with a product snapshot
//   4. update order total and table running total
//   5. enqueue the comanda print entry
// Workers are woken after commit.

func (s *ledgerService) SubmitItems(ctx context.Context, userID, orderID uuid.UUID, req dto.SubmitItemsRequest) (*dto.SubmitResult, error) {
	if err := validateInput(&req); err != nil {
		return nil, err
	}
	supplementIDs, err := collectSupplementIDs(req.Items)
	if err != nil {
		return nil, err
	}

	now := s.opts.clock()
	var res dto.SubmitResult

	txErr := runTx(ctx, s.orders.DB(), func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		tableID, err := openOrderTable(order)
		if err != nil {
			return err
		}
		if _, err := s.locks.RequireHolder(ctx, tx, tableID, userID); err != nil {
			return err
		}

		number, err := s.orders.AllocateCommandNumber(ctx, tx, orderID)
		if err != nil {
			return err
		}
		if number == 0 {
			return fmt.Errorf("%w: order %s", ErrOrderNotOpen, orderID)
		}

		supplements, err := s.supplements.FindActiveByIDs(ctx, tx, supplementIDs)
		if err != nil {
			return err
		}

		cmd := &model.Command{
			OrderID:       orderID,
			CommandNumber: number,
			Status:        model.CommandPending,
			PrintStatus:   model.PrintStatusPending,
			Notes:         req.Notes,
			CreatedAt:     now,
		}
		if err := s.commands.Create(ctx, tx, cmd); err != nil {
			return err
		}

		existing, err := s.items.CountByOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		items, batchTotal, err := snapshotItems(req.Items, supplements, orderID, cmd.ID, int(existing), now)
		if err != nil {
			return err
		}
		if err := s.items.CreateBatch(ctx, tx, items); err != nil {
			return err
		}

		// Re-read after the command_seq increment: the row is ours until commit.
		current, err := s.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		total := current.Total.Add(batchTotal)
		if err := s.orders.SetTotal(ctx, tx, orderID, total); err != nil {
			return err
		}
		if err := s.tables.SetRunningTotal(ctx, tx, tableID, total); err != nil {
			return err
		}

		entry := &model.PrintQueueEntry{
			PrintType: model.PrintComanda,
			CommandID: &cmd.ID,
			OrderID:   &orderID,
			TableID:   &tableID,
			Status:    model.EntryPending,
		}
		if err := s.printQueue.Create(ctx, tx, entry); err != nil {
			return err
		}

		res = dto.SubmitResult{
			CommandID:     cmd.ID,
			CommandNumber: number,
			PrintEntryID:  entry.ID,
			OrderTotal:    total,
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.opts.notifier.NotifyPrintQueued(ctx)
	log.Info().
		Str("order_id", orderID.String()).
		Int("command_number", res.CommandNumber).
		Int("items", len(req.Items)).
		Str("total", res.OrderTotal.StringFixed(2)).
		Msg("command submitted")
	return &res, nil
}

func collectSupplementIDs(items []dto.SubmitItem) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, it := range items {
		for _, sel := range it.Selections {
			if sel.SupplementID == nil {
				continue
			}
			id, err := uuid.Parse(*sel.SupplementID)
			if err != nil {
				return nil, fmt.Errorf("%w: supplement_id %q", ErrInvalidItems, *sel.SupplementID)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// snapshotItems builds the order items of one submission. The unit price
// stored on the item is the product price plus its selections, so sales
// grouping by (product, unit price) separates differently dressed items.
func snapshotItems(
	req []dto.SubmitItem,
	supplements map[uuid.UUID]model.ProductSupplement,
	orderID, commandID uuid.UUID,
	firstLine int,
	now time.Time,
) ([]model.OrderItem, decimal.Decimal, error) {
	items := make([]model.OrderItem, 0, len(req))
	total := decimal.Zero
	for i, it := range req {
		unit := it.UnitPrice
		sels := make([]model.Selection, 0, len(it.Selections))
		for _, sel := range it.Selections {
			snap := model.Selection{Group: sel.Group, Name: sel.Name, PriceDelta: sel.PriceDelta}
			if sel.SupplementID != nil {
				id := uuid.MustParse(*sel.SupplementID)
				sup, ok := supplements[id]
				if !ok {
					return nil, decimal.Zero, fmt.Errorf("%w: supplement %s not found or inactive", ErrInvalidItems, id)
				}
				if sup.ProductCode != it.ProductCode {
					return nil, decimal.Zero, fmt.Errorf("%w: supplement %q does not apply to %s", ErrInvalidItems, sup.Name, it.ProductCode)
				}
				snap.SupplementID = &sup.ID
				snap.Name = sup.Name
				snap.PriceDelta = sup.Price
				if snap.Group == "" {
					snap.Group = "supplemento"
				}
			}
			unit = unit.Add(snap.PriceDelta)
			sels = append(sels, snap)
		}
		line := unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
		cmd := commandID
		items = append(items, model.OrderItem{
			OrderID:     orderID,
			CommandID:   &cmd,
			LineNo:      firstLine + i + 1,
			ProductCode: it.ProductCode,
			ProductName: it.ProductName,
			Category:    it.Category,
			Quantity:    it.Quantity,
			UnitPrice:   unit,
			TotalPrice:  line,
			Selections:  sels,
			CustomNote:  strings.TrimSpace(it.CustomNote),
			CreatedAt:   now,
		})
		total = total.Add(line)
	}
	return items, total, nil
}

// ── Command transitions ───────────────────────────────────────────────────────

func (s *ledgerService) markCommand(ctx context.Context, commandID uuid.UUID, to string) error {
	return runTx(ctx, s.commands.DB(), func(tx *gorm.DB) error {
		return s.states.move(ctx, tx, commandID, to, s.opts.clock())
	})
}

func (s *ledgerService) MarkCommandSent(ctx context.Context, commandID uuid.UUID) error {
	return s.markCommand(ctx, commandID, model.CommandSent)
}

func (s *ledgerService) MarkCommandPrinted(ctx context.Context, commandID uuid.UUID) error {
	return s.markCommand(ctx, commandID, model.CommandPrinted)
}

func (s *ledgerService) MarkCommandPrintFailed(ctx context.Context, commandID uuid.UUID) error {
	return s.markCommand(ctx, commandID, model.CommandPrintFailed)
}

func (s *ledgerService) RetryCommandPrint(ctx context.Context, commandID uuid.UUID) error {
	entry, err := s.printQueue.FindLatestByCommand(ctx, nil, commandID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: no print entry for %s", ErrCommandNotFound, commandID)
	}
	if err != nil {
		return err
	}
	return s.queue.Requeue(ctx, entry.ID)
}

// ── Preconto ──────────────────────────────────────────────────────────────────

func (s *ledgerService) RequestPreconto(ctx context.Context, userID, orderID uuid.UUID) (int64, error) {
	var entryID int64
	err := runTx(ctx, s.orders.DB(), func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		tableID, err := openOrderTable(order)
		if err != nil {
			return err
		}
		if _, err := s.locks.RequireHolder(ctx, tx, tableID, userID); err != nil {
			return err
		}
		entry := &model.PrintQueueEntry{
			PrintType: model.PrintPreconto,
			OrderID:   &orderID,
			TableID:   &tableID,
			Status:    model.EntryPending,
		}
		if err := s.printQueue.Create(ctx, tx, entry); err != nil {
			return err
		}
		entryID = entry.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.opts.notifier.NotifyPrintQueued(ctx)
	return entryID, nil
}

// ── SettleOrder ───────────────────────────────────────────────────────────────

func (s *ledgerService) SettleOrder(ctx context.Context, userID, orderID uuid.UUID, opts dto.SettleOptions) (*dto.SettleResult, error) {
	now := s.opts.clock()
	var res dto.SettleResult

	txErr := runTx(ctx, s.orders.DB(), func(tx *gorm.DB) error {
		order, err := s.orders.FindDetailed(ctx, tx, orderID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
		}
		if err != nil {
			return err
		}
		tableID, err := openOrderTable(order)
		if err != nil {
			return err
		}
		table, err := s.locks.RequireHolder(ctx, tx, tableID, userID)
		if err != nil {
			return err
		}

		var blocked []string
		for _, c := range order.Commands {
			if !c.Settled() {
				blocked = append(blocked, fmt.Sprintf("#%d %s", c.CommandNumber, c.Status))
			}
		}
		if s.opts.blockOnPrecontoFail {
			n, err := s.printQueue.CountFailed(ctx, tx, orderID, model.PrintPreconto)
			if err != nil {
				return err
			}
			if n > 0 {
				blocked = append(blocked, fmt.Sprintf("%d failed preconto", n))
			}
		}
		if len(blocked) > 0 && !opts.Override {
			return fmt.Errorf("%w: %s", ErrSettlementBlocked, strings.Join(blocked, ", "))
		}

		n, err := s.orders.Close(ctx, tx, orderID, order.Version, model.OrderCompleted, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.closeConflict(ctx, tx, orderID)
		}

		sale := &model.SalesOrder{
			OrderID:      &order.ID,
			TableID:      &tableID,
			TableNumber:  table.Number,
			OpenedBy:     order.OpenedBy,
			SettledBy:    userID,
			Covers:       order.Covers,
			Total:        order.Total,
			CommandCount: len(order.Commands),
			Forced:       len(blocked) > 0,
			OpenedAt:     order.CreatedAt,
			SettledAt:    now,
		}
		sale.Items, err = groupSalesItems(order.Items)
		if err != nil {
			return err
		}
		if err := s.sales.Create(ctx, tx, sale); err != nil {
			return err
		}
		if err := s.tables.Free(ctx, tx, tableID); err != nil {
			return err
		}

		res = dto.SettleResult{
			SalesOrderID: sale.ID,
			Total:        sale.Total,
			Lines:        len(sale.Items),
			Forced:       sale.Forced,
		}
		if sale.Forced {
			log.Warn().Str("order_id", orderID.String()).Str("reason", opts.Reason).
				Strs("unsettled", blocked).Msg("order settled with override")
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	log.Info().Str("order_id", orderID.String()).Str("total", res.Total.StringFixed(2)).
		Int("lines", res.Lines).Msg("order settled")
	return &res, nil
}

// closeConflict explains why a version-guarded close matched no row.
func (s *ledgerService) closeConflict(ctx context.Context, tx *gorm.DB, orderID uuid.UUID) error {
	cur, err := s.loadOrder(ctx, tx, orderID)
	if err != nil {
		return err
	}
	if cur.Status != model.OrderOpen {
		return fmt.Errorf("%w: order %s is %s", ErrOrderNotOpen, orderID, cur.Status)
	}
	return fmt.Errorf("%w: order %s", ErrConcurrentModification, orderID)
}

// groupSalesItems collapses order items by (product code, unit price),
// keeping first-seen order.
func groupSalesItems(items []model.OrderItem) ([]model.SalesItem, error) {
	type key struct {
		code  string
		price string
	}
	index := make(map[key]int)
	var out []model.SalesItem
	for i := range items {
		it := &items[i]
		k := key{it.ProductCode, it.UnitPrice.StringFixed(2)}
		if j, ok := index[k]; ok {
			out[j].Quantity += it.Quantity
			out[j].TotalPrice = out[j].TotalPrice.Add(it.TotalPrice)
			continue
		}
		var si model.SalesItem
		if err := copier.Copy(&si, it); err != nil {
			return nil, err
		}
		si.ID = uuid.Nil
		index[k] = len(out)
		out = append(out, si)
	}
	return out, nil
}

// ── CancelOrder ───────────────────────────────────────────────────────────────

func (s *ledgerService) CancelOrder(ctx context.Context, userID, orderID uuid.UUID) error {
	now := s.opts.clock()
	err := runTx(ctx, s.orders.DB(), func(tx *gorm.DB) error {
		order, err := s.loadOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		tableID, err := openOrderTable(order)
		if err != nil {
			return err
		}
		if _, err := s.locks.RequireHolder(ctx, tx, tableID, userID); err != nil {
			return err
		}
		n, err := s.orders.Close(ctx, tx, orderID, order.Version, model.OrderCancelled, now)
		if err != nil {
			return err
		}
		if n == 0 {
			return s.closeConflict(ctx, tx, orderID)
		}
		return s.tables.Free(ctx, tx, tableID)
	})
	if err != nil {
		return err
	}
	log.Info().Str("order_id", orderID.String()).Msg("order cancelled")
	return nil
}

// ── GetOrder ──────────────────────────────────────────────────────────────────

func (s *ledgerService) GetOrder(ctx context.Context, orderID uuid.UUID) (*dto.OrderResponse, error) {
	o, err := s.orders.FindDetailed(ctx, nil, orderID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	resp := &dto.OrderResponse{
		ID:        o.ID,
		TableID:   o.TableID,
		OpenedBy:  o.OpenedBy,
		Status:    o.Status,
		Covers:    o.Covers,
		Total:     o.Total,
		Version:   o.Version,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
		Items:     make([]dto.ItemResponse, 0, len(o.Items)),
	}
	if o.Table != nil {
		resp.TableNumber = o.Table.Number
	}
	if err := copier.Copy(&resp.Commands, &o.Commands); err != nil {
		return nil, err
	}
	for _, it := range o.Items {
		ir := dto.ItemResponse{
			ID:          it.ID,
			CommandID:   it.CommandID,
			LineNo:      it.LineNo,
			ProductCode: it.ProductCode,
			ProductName: it.ProductName,
			Category:    it.Category,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TotalPrice:  it.TotalPrice,
			CustomNote:  it.CustomNote,
			Selections:  make([]dto.SelectionResponse, 0, len(it.Selections)),
		}
		for _, sel := range it.Selections {
			ir.Selections = append(ir.Selections, dto.SelectionResponse(sel))
		}
		resp.Items = append(resp.Items, ir)
	}
	return resp, nil
}
