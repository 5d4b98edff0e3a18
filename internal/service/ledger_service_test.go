package service_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/dto"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// ── OpenOrder ─────────────────────────────────────────────────────────────────

func TestOpenOrder_RequiresLock(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)

	_, err := f.ledger.OpenOrder(context.Background(), uuid.New(), tb.ID, 2)

	assert.ErrorIs(t, err, service.ErrNotHolder)
}

func TestOpenOrder_OnePerTable(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 3)

	assert.Equal(t, model.OrderOpen, o.Status)
	assert.Equal(t, int64(1), o.Version)

	_, err := f.ledger.OpenOrder(context.Background(), userA, tb.ID, 3)
	assert.ErrorIs(t, err, service.ErrTableHasOpenOrder)
}

func TestOpenOrder_CoversOutOfRange(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	_, err := f.locks.Acquire(context.Background(), tb.ID, userA)
	require.NoError(t, err)

	_, err = f.ledger.OpenOrder(context.Background(), userA, tb.ID, 100)

	assert.ErrorIs(t, err, service.ErrInvalidItems)
}

// ── SubmitItems ───────────────────────────────────────────────────────────────

func TestSubmitItems_NumbersCommandsAndTotals(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	r1, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(
		item("GEL-COPPA", "Coppa media", 2, "3.50"),
		item("CAFFE", "Caffè", 1, "1.20"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, r1.CommandNumber)
	assertDecimal(t, "8.20", r1.OrderTotal)
	assert.NotZero(t, r1.PrintEntryID)

	r2, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 2, "1.20")))
	require.NoError(t, err)
	assert.Equal(t, 2, r2.CommandNumber)
	assertDecimal(t, "10.60", r2.OrderTotal)
	assert.Greater(t, r2.PrintEntryID, r1.PrintEntryID)

	got, err := f.ledger.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assertDecimal(t, "10.60", got.Total)
	require.Len(t, got.Commands, 2)
	assert.Equal(t, model.CommandPending, got.Commands[0].Status)
	require.Len(t, got.Items, 3)
	for i, it := range got.Items {
		assert.Equal(t, i+1, it.LineNo)
	}
	assert.Equal(t, "GEL-COPPA", got.Items[0].ProductCode)

	cur, err := f.locks.Get(ctx, tb.ID)
	require.NoError(t, err)
	assertDecimal(t, "10.60", cur.RunningTotal)
	assert.Equal(t, 2, f.notifier.Count())
}

func TestSubmitItems_ConcurrentNumbersAreContiguous(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 8)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 4)
	ctx := context.Background()

	const submits = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers []int
	)
	for i := 0; i < submits; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("ACQUA", "Acqua", 1, "1.00")))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			numbers = append(numbers, res.CommandNumber)
			mu.Unlock()
		}()
	}
	wg.Wait()

	sort.Ints(numbers)
	want := make([]int, submits)
	for i := range want {
		want[i] = i + 1
	}
	assert.Equal(t, want, numbers)

	got, err := f.ledger.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assertDecimal(t, "10", got.Total)
}

func TestSubmitItems_NotHolder(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	o := f.openOrder(t, tb.ID, uuid.New(), 2)

	_, err := f.ledger.SubmitItems(context.Background(), uuid.New(), o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))

	assert.ErrorIs(t, err, service.ErrNotHolder)
}

func TestSubmitItems_LockTakenOverAfterExpiry(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)

	f.clock.Advance(testLockTTL + time.Second)
	res, err := f.locks.Acquire(ctx, tb.ID, userB)
	require.NoError(t, err)
	require.True(t, res.LockExpiredWarning)

	_, err = f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	assert.ErrorIs(t, err, service.ErrNotHolder)

	r, err := f.ledger.SubmitItems(ctx, userB, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)
	assert.Equal(t, 1, r.CommandNumber)
}

func TestSubmitItems_OrderNotOpen(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()
	require.NoError(t, f.ledger.CancelOrder(ctx, userA, o.ID))

	_, err := f.locks.Acquire(ctx, tb.ID, userA)
	require.NoError(t, err)
	_, err = f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))

	assert.ErrorIs(t, err, service.ErrOrderNotOpen)
}

func TestSubmitItems_InvalidItems(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	cases := map[string]dto.SubmitItemsRequest{
		"empty":          {},
		"zero quantity":  submit(item("CAFFE", "Caffè", 0, "1.20")),
		"negative price": submit(item("CAFFE", "Caffè", 1, "-1")),
		"missing code":   submit(item("", "Caffè", 1, "1.20")),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.ledger.SubmitItems(ctx, userA, o.ID, req)
			assert.ErrorIs(t, err, service.ErrInvalidItems)
		})
	}

	// Nothing was written: the next command is still #1.
	r, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)
	assert.Equal(t, 1, r.CommandNumber)
}

func TestSubmitItems_SupplementSnapshot(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 1)
	ctx := context.Background()

	panna := &model.ProductSupplement{ProductCode: "GEL-COPPA", Name: "Panna", Price: decimal.RequireFromString("0.50"), Active: true}
	require.NoError(t, f.supplements.Create(ctx, panna))
	sid := panna.ID.String()

	it := item("GEL-COPPA", "Coppa media", 2, "3.50")
	it.Selections = []dto.SelectionRequest{
		{Group: "gusto", Name: "Pistacchio"},
		{SupplementID: &sid},
	}
	r, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(it))
	require.NoError(t, err)
	assertDecimal(t, "8.00", r.OrderTotal)

	// Later catalog edits do not touch the stored snapshot.
	panna.Price = decimal.RequireFromString("0.80")
	require.NoError(t, f.db.Save(panna).Error)

	got, err := f.ledger.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assertDecimal(t, "4.00", got.Items[0].UnitPrice)
	require.Len(t, got.Items[0].Selections, 2)
	assert.Equal(t, "Pistacchio", got.Items[0].Selections[0].Name)
	assert.Equal(t, "Panna", got.Items[0].Selections[1].Name)
	assert.Equal(t, "supplemento", got.Items[0].Selections[1].Group)
	assertDecimal(t, "0.50", got.Items[0].Selections[1].PriceDelta)
}

func TestSubmitItems_SupplementOfOtherProduct(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 1)
	ctx := context.Background()

	cono := &model.ProductSupplement{ProductCode: "GEL-CONO", Name: "Cialda", Price: decimal.RequireFromString("0.30"), Active: true}
	require.NoError(t, f.supplements.Create(ctx, cono))
	sid := cono.ID.String()

	it := item("GEL-COPPA", "Coppa media", 1, "3.50")
	it.Selections = []dto.SelectionRequest{{SupplementID: &sid}}
	_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(it))

	assert.ErrorIs(t, err, service.ErrInvalidItems)
}

// ── Command transitions ───────────────────────────────────────────────────────

func TestCommandTransitions_PrintedIsFinal(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	r, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)

	require.NoError(t, f.ledger.MarkCommandSent(ctx, r.CommandID))
	require.NoError(t, f.ledger.MarkCommandPrinted(ctx, r.CommandID))
	// Repeating a transition is a no-op.
	require.NoError(t, f.ledger.MarkCommandPrinted(ctx, r.CommandID))

	assert.ErrorIs(t, f.ledger.MarkCommandPrintFailed(ctx, r.CommandID), service.ErrInvalidTransition)
	assert.ErrorIs(t, f.ledger.MarkCommandSent(ctx, r.CommandID), service.ErrInvalidTransition)

	cmd := f.command(t, r.CommandID)
	assert.Equal(t, model.CommandPrinted, cmd.Status)
	assert.Equal(t, model.PrintStatusPrinted, cmd.PrintStatus)
	assert.NotNil(t, cmd.SentAt)
	assert.NotNil(t, cmd.PrintedAt)
}

func TestCommandTransitions_PrintedRequiresSent(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	r, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)

	assert.ErrorIs(t, f.ledger.MarkCommandPrinted(ctx, r.CommandID), service.ErrInvalidTransition)
	assert.Equal(t, model.CommandPending, f.command(t, r.CommandID).Status)

	// The queue ack walks the legal edges, so sent_at is always recorded.
	require.Equal(t, 1, f.printAll(t, true))
	cmd := f.command(t, r.CommandID)
	assert.Equal(t, model.CommandPrinted, cmd.Status)
	assert.NotNil(t, cmd.SentAt)
}

func TestMarkCommand_Unknown(t *testing.T) {
	f := newFixture(t)

	err := f.ledger.MarkCommandSent(context.Background(), uuid.New())

	assert.ErrorIs(t, err, service.ErrCommandNotFound)
}

func TestRetryCommandPrint_RequeuesFailedComanda(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	r, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)
	require.Equal(t, 1, f.printAll(t, false))
	require.Equal(t, model.CommandPrintFailed, f.command(t, r.CommandID).Status)

	require.NoError(t, f.ledger.RetryCommandPrint(ctx, r.CommandID))

	cmd := f.command(t, r.CommandID)
	assert.Equal(t, model.CommandPending, cmd.Status)
	assert.Equal(t, model.PrintStatusPending, cmd.PrintStatus)
	require.Equal(t, 1, f.printAll(t, true))
	assert.Equal(t, model.CommandPrinted, f.command(t, r.CommandID).Status)
}

// ── SettleOrder ───────────────────────────────────────────────────────────────

func TestSettleOrder_BlockedByFailedPrint(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)
	f.printAll(t, false)

	_, err = f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
	assert.ErrorIs(t, err, service.ErrSettlementBlocked)

	got, err := f.ledger.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderOpen, got.Status)
}

func TestSettleOrder_BlockedByUnprintedCommand(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)

	_, err = f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
	assert.ErrorIs(t, err, service.ErrSettlementBlocked)
}

func TestSettleOrder_OverrideIsFlagged(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 2, "1.20")))
	require.NoError(t, err)
	f.printAll(t, false)

	res, err := f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{Override: true, Reason: "printer jammed, ticket handwritten"})

	require.NoError(t, err)
	assert.True(t, res.Forced)
	assertDecimal(t, "2.40", res.Total)

	sale, err := f.salesRepo.FindByOrderID(ctx, o.ID)
	require.NoError(t, err)
	assert.True(t, sale.Forced)
	assert.Equal(t, userA, sale.SettledBy)
}

func TestSettleOrder_SalesTotalsMatchOrder(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 3)
	ctx := context.Background()

	_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(
		item("GEL-COPPA", "Coppa media", 2, "3.50"),
		item("CAFFE", "Caffè", 1, "1.20"),
	))
	require.NoError(t, err)
	_, err = f.ledger.SubmitItems(ctx, userA, o.ID, submit(
		item("GEL-COPPA", "Coppa media", 1, "3.50"),
		item("GEL-COPPA", "Coppa media", 1, "4.00"), // different price, separate line
	))
	require.NoError(t, err)
	f.printAll(t, true)

	res, err := f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
	require.NoError(t, err)
	assert.False(t, res.Forced)
	assertDecimal(t, "15.70", res.Total)
	assert.Equal(t, 3, res.Lines)

	sale, err := f.salesRepo.FindByOrderID(ctx, o.ID)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, it := range sale.Items {
		sum = sum.Add(it.TotalPrice)
	}
	assertDecimal(t, "15.70", sum)
	assertDecimal(t, sale.Total.String(), sum)
	assert.Equal(t, 2, sale.CommandCount)
	assert.Equal(t, 5, sale.TableNumber)
}

func TestSettleOrder_NotOpen(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	_, err := f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
	require.NoError(t, err)

	_, err = f.locks.Acquire(ctx, tb.ID, userA)
	require.NoError(t, err)
	_, err = f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
	assert.ErrorIs(t, err, service.ErrOrderNotOpen)
}

func TestSettleOrder_PrecontoFailureBlocksOnlyWhenConfigured(t *testing.T) {
	for _, block := range []bool{false, true} {
		f := newFixture(t, service.WithPrecontoBlocking(block))
		tb := f.table(t, 5)
		userA := uuid.New()
		o := f.openOrder(t, tb.ID, userA, 2)
		ctx := context.Background()

		_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
		require.NoError(t, err)
		require.Equal(t, 1, f.printAll(t, true))

		_, err = f.ledger.RequestPreconto(ctx, userA, o.ID)
		require.NoError(t, err)
		require.Equal(t, 1, f.printAll(t, false))

		_, err = f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
		if block {
			assert.ErrorIs(t, err, service.ErrSettlementBlocked)
		} else {
			assert.NoError(t, err)
		}
	}
}

// ── CancelOrder ───────────────────────────────────────────────────────────────

func TestCancelOrder_FreesTableAndKeepsPrints(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	userA := uuid.New()
	o := f.openOrder(t, tb.ID, userA, 2)
	ctx := context.Background()

	_, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("CAFFE", "Caffè", 1, "1.20")))
	require.NoError(t, err)

	require.NoError(t, f.ledger.CancelOrder(ctx, userA, o.ID))

	got, err := f.ledger.GetOrder(ctx, o.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, got.Status)

	cur, err := f.locks.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TableFree, cur.Status)
	assert.Nil(t, cur.LockedBy)
	assertDecimal(t, "0", cur.RunningTotal)

	stats, err := f.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.Pending)

	_, err = f.salesRepo.FindByOrderID(ctx, o.ID)
	assert.Error(t, err)
}

func TestCancelOrder_NotHolder(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	o := f.openOrder(t, tb.ID, uuid.New(), 2)

	err := f.ledger.CancelOrder(context.Background(), uuid.New(), o.ID)

	assert.ErrorIs(t, err, service.ErrNotHolder)
}

// ── Scenario ──────────────────────────────────────────────────────────────────

func TestScenario_TableFiveFullCycle(t *testing.T) {
	f := newFixture(t)
	tb := f.table(t, 5)
	ctx := context.Background()
	userA, userB := uuid.New(), uuid.New()

	_, err := f.locks.Acquire(ctx, tb.ID, userA)
	require.NoError(t, err)
	_, err = f.locks.Acquire(ctx, tb.ID, userB)
	require.ErrorIs(t, err, service.ErrAlreadyLocked)

	o, err := f.ledger.OpenOrder(ctx, userA, tb.ID, 2)
	require.NoError(t, err)

	r1, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(
		item("GEL-COPPA", "Coppa media", 1, "3.50"),
		item("CAFFE", "Caffè", 1, "1.20"),
	))
	require.NoError(t, err)
	assert.Equal(t, 1, r1.CommandNumber)

	entry, err := f.queue.Get(ctx, r1.PrintEntryID)
	require.NoError(t, err)
	assert.Equal(t, model.PrintComanda, entry.PrintType)
	require.NotNil(t, entry.CommandID)
	assert.Equal(t, r1.CommandID, *entry.CommandID)

	require.Equal(t, 1, f.printAll(t, true))
	assert.Equal(t, model.PrintStatusPrinted, f.command(t, r1.CommandID).PrintStatus)

	r2, err := f.ledger.SubmitItems(ctx, userA, o.ID, submit(item("GEL-COPPA", "Coppa media", 1, "3.50")))
	require.NoError(t, err)
	assert.Equal(t, 2, r2.CommandNumber)
	require.Equal(t, 1, f.printAll(t, true))

	res, err := f.ledger.SettleOrder(ctx, userA, o.ID, dto.SettleOptions{})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Lines)

	sale, err := f.salesRepo.FindByOrderID(ctx, o.ID)
	require.NoError(t, err)
	require.Len(t, sale.Items, 2)
	byCode := map[string]model.SalesItem{}
	for _, it := range sale.Items {
		byCode[it.ProductCode] = it
	}
	assert.Equal(t, 2, byCode["GEL-COPPA"].Quantity)
	assertDecimal(t, "7.00", byCode["GEL-COPPA"].TotalPrice)
	assert.Equal(t, 1, byCode["CAFFE"].Quantity)

	cur, err := f.locks.Get(ctx, tb.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TableFree, cur.Status)
	assert.Nil(t, cur.LockedBy)
	assert.Nil(t, cur.LockedAt)
}
