package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/dto"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/repository"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

const (
	testLockTTL = 15 * time.Minute
	testLease   = 30 * time.Second
)

// ── Clock ─────────────────────────────────────────────────────────────────────

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// ── Notifier ──────────────────────────────────────────────────────────────────

type countingNotifier struct {
	mu sync.Mutex
	n  int
}

func (c *countingNotifier) NotifyPrintQueued(context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *countingNotifier) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type fixture struct {
	db          *gorm.DB
	clock       *testClock
	notifier    *countingNotifier
	tables      repository.TableRepository
	commands    repository.CommandRepository
	supplements repository.SupplementRepository
	salesRepo   repository.SalesRepository
	locks       service.LockService
	ledger      service.LedgerService
	queue       service.PrintQueueService
	sales       service.SalesService
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := infra.NewDatabase("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newFixture(t *testing.T, extra ...service.Option) *fixture {
	t.Helper()
	db := newTestDB(t)
	f := &fixture{db: db, clock: newTestClock(), notifier: &countingNotifier{}}

	opts := append([]service.Option{
		service.WithClock(f.clock.Now),
		service.WithNotifier(f.notifier),
	}, extra...)

	f.tables = repository.NewTableRepository(db)
	orders := repository.NewOrderRepository(db)
	f.commands = repository.NewCommandRepository(db)
	items := repository.NewItemRepository(db)
	printQueue := repository.NewPrintQueueRepository(db)
	f.salesRepo = repository.NewSalesRepository(db)
	f.supplements = repository.NewSupplementRepository(db)

	f.locks = service.NewLockService(f.tables, orders, testLockTTL, opts...)
	f.queue = service.NewPrintQueueService(printQueue, f.commands, orders, testLease, opts...)
	f.ledger = service.NewLedgerService(service.LedgerDeps{
		Orders:      orders,
		Commands:    f.commands,
		Items:       items,
		Tables:      f.tables,
		PrintQueue:  printQueue,
		Sales:       f.salesRepo,
		Supplements: f.supplements,
		Locks:       f.locks,
		Queue:       f.queue,
	}, opts...)
	f.sales = service.NewSalesService(f.salesRepo, opts...)
	return f
}

func (f *fixture) table(t *testing.T, number int) *model.Table {
	t.Helper()
	tb := &model.Table{Number: number, Status: model.TableFree}
	require.NoError(t, f.tables.Create(context.Background(), tb))
	return tb
}

// openOrder locks the table for user and opens an order on it.
func (f *fixture) openOrder(t *testing.T, tableID, user uuid.UUID, covers int) *model.Order {
	t.Helper()
	ctx := context.Background()
	_, err := f.locks.Acquire(ctx, tableID, user)
	require.NoError(t, err)
	o, err := f.ledger.OpenOrder(ctx, user, tableID, covers)
	require.NoError(t, err)
	return o
}

// printAll drains the queue as one worker, acking every entry with ok.
func (f *fixture) printAll(t *testing.T, ok bool) int {
	t.Helper()
	ctx := context.Background()
	n := 0
	for {
		e, err := f.queue.DequeueNext(ctx, "test-worker")
		require.NoError(t, err)
		if e == nil {
			return n
		}
		var printErr error
		if !ok {
			printErr = assert.AnError
		}
		require.NoError(t, f.queue.Ack(ctx, e.ID, "test-worker", ok, printErr))
		n++
	}
}

func (f *fixture) command(t *testing.T, id uuid.UUID) *model.Command {
	t.Helper()
	c, err := f.commands.FindByID(context.Background(), nil, id)
	require.NoError(t, err)
	return c
}

func item(code, name string, qty int, price string) dto.SubmitItem {
	return dto.SubmitItem{
		ProductCode: code,
		ProductName: name,
		Category:    "gelato",
		Quantity:    qty,
		UnitPrice:   decimal.RequireFromString(price),
	}
}

func submit(items ...dto.SubmitItem) dto.SubmitItemsRequest {
	return dto.SubmitItemsRequest{Items: items}
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}
