package infra

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := NewDatabase("sqlite", "file:"+uuid.NewString()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func TestNewDatabase_UnknownDriver(t *testing.T) {
	_, err := NewDatabase("mysql", "whatever")
	assert.ErrorContains(t, err, "unsupported DB_DRIVER")
}

func TestRunMigrations_Idempotent(t *testing.T) {
	db := openSQLite(t)

	require.NoError(t, RunMigrations(db))

	var names []string
	require.NoError(t, db.Model(&schemaPatchRecord{}).Order("name").Pluck("name", &names).Error)
	assert.Equal(t, []string{
		"0006_orders_one_open_per_table",
		"0007_print_queue_pending",
		"0008_print_queue_failed",
		"0009_print_queue_one_pending_per_command",
	}, names, "postgres-only patches are skipped on sqlite")
}

func TestSchema_OneOpenOrderPerTable(t *testing.T) {
	db := openSQLite(t)
	table := model.Table{Number: 3, Status: model.TableFree}
	require.NoError(t, db.Create(&table).Error)
	waiter := uuid.New()

	first := model.Order{TableID: &table.ID, OpenedBy: waiter, Status: model.OrderOpen}
	require.NoError(t, db.Create(&first).Error)

	second := model.Order{TableID: &table.ID, OpenedBy: waiter, Status: model.OrderOpen}
	assert.ErrorIs(t, db.Create(&second).Error, gorm.ErrDuplicatedKey)

	// A closed order does not count.
	now := time.Now().UTC()
	closed := model.Order{TableID: &table.ID, OpenedBy: waiter, Status: model.OrderCompleted, CompletedAt: &now}
	assert.NoError(t, db.Create(&closed).Error)
}

func TestSchema_OnePendingTicketPerCommand(t *testing.T) {
	db := openSQLite(t)
	table := model.Table{Number: 4, Status: model.TableFree}
	require.NoError(t, db.Create(&table).Error)
	order := model.Order{TableID: &table.ID, OpenedBy: uuid.New(), Status: model.OrderOpen}
	require.NoError(t, db.Create(&order).Error)
	cmd := model.Command{OrderID: order.ID, CommandNumber: 1, Status: model.CommandPending}
	require.NoError(t, db.Create(&cmd).Error)

	entry := func(status string) *model.PrintQueueEntry {
		return &model.PrintQueueEntry{PrintType: model.PrintComanda, CommandID: &cmd.ID, OrderID: &order.ID, Status: status}
	}
	require.NoError(t, db.Create(entry(model.EntryPending)).Error)
	assert.ErrorIs(t, db.Create(entry(model.EntryPending)).Error, gorm.ErrDuplicatedKey)

	// Finished tickets do not count.
	assert.NoError(t, db.Create(entry(model.EntryFailed)).Error)
	assert.NoError(t, db.Create(entry(model.EntryPrinted)).Error)

	// Precontos carry no command.
	pre := func() *model.PrintQueueEntry {
		return &model.PrintQueueEntry{PrintType: model.PrintPreconto, OrderID: &order.ID, Status: model.EntryPending}
	}
	assert.NoError(t, db.Create(pre()).Error)
	assert.NoError(t, db.Create(pre()).Error)
}
