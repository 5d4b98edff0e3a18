package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/app"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/config"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/dto"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/infra"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/service"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakePrinter struct {
	mu   sync.Mutex
	docs []infra.PrintDocument
	err  error
}

func (p *fakePrinter) Print(_ context.Context, doc infra.PrintDocument) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.docs = append(p.docs, doc)
	return nil
}

func (p *fakePrinter) Docs() []infra.PrintDocument {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]infra.PrintDocument(nil), p.docs...)
}

func (p *fakePrinter) Fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

var errPaperOut = errors.New("paper out")

type recordingPublisher struct {
	mu     sync.Mutex
	events []infra.PrintEvent
}

func (r *recordingPublisher) Publish(_ context.Context, ev infra.PrintEvent) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recordingPublisher) Events() []infra.PrintEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]infra.PrintEvent(nil), r.events...)
}

// ── Fixture ───────────────────────────────────────────────────────────────────

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	db    *gorm.DB
	cfg   *config.Config
	clock *testClock
	svcs  *app.Services
	user  uuid.UUID
	order *model.Order
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := infra.NewDatabase("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		LockTTL:          15 * time.Minute,
		PrintLease:       30 * time.Second,
		PrintMaxAttempts: 3,
		RestaurantName:   "Vi Canto",
	}
	clock := &testClock{now: time.Date(2026, 7, 1, 20, 30, 0, 0, time.UTC)}
	f := &fixture{
		db:    db,
		cfg:   cfg,
		clock: clock,
		svcs:  app.NewServices(db, cfg, nil, service.WithClock(clock.Now)),
		user:  uuid.New(),
	}

	ctx := context.Background()
	tb := &model.Table{Number: 12, Status: model.TableFree}
	require.NoError(t, db.Create(tb).Error)
	_, err = f.svcs.Locks.Acquire(ctx, tb.ID, f.user)
	require.NoError(t, err)
	f.order, err = f.svcs.Ledger.OpenOrder(ctx, f.user, tb.ID, 2)
	require.NoError(t, err)
	return f
}

// submit adds one command with a single coffee and returns it.
func (f *fixture) submit(t *testing.T) *dto.SubmitResult {
	t.Helper()
	res, err := f.svcs.Ledger.SubmitItems(context.Background(), f.user, f.order.ID, dto.SubmitItemsRequest{
		Items: []dto.SubmitItem{{
			ProductCode: "CAFFE",
			ProductName: "Caffè",
			Quantity:    1,
			UnitPrice:   decimal.RequireFromString("1.20"),
		}},
	})
	require.NoError(t, err)
	return res
}

func (f *fixture) commandStatus(t *testing.T, id uuid.UUID) string {
	t.Helper()
	var c model.Command
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return c.Status
}
