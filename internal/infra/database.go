package infra

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Tony33-a/GestionaleViCanto-sub001/internal/model"
)

// NewDatabase opens a GORM connection for the configured driver, runs
// AutoMigrate for every model and then applies the ordered schema patches
// GORM cannot express (check constraints, partial indexes).
//
// driver is "postgres" (pgx) or "sqlite". SQLite is limited to a single
// connection so concurrent transactions serialize instead of failing with
// SQLITE_BUSY.
func NewDatabase(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch driver {
	case "postgres", "":
		dialector = postgres.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		if err := db.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}

	if err := RunMigrations(db); err != nil {
		return nil, err
	}
	return db, nil
}

// RunMigrations creates or updates every table and applies pending patches.
// Safe to call on an already migrated database.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.Table{},
		&model.Order{},
		&model.Command{},
		&model.OrderItem{},
		&model.PrintQueueEntry{},
		&model.SalesOrder{},
		&model.SalesItem{},
		&model.ProductSupplement{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	if err := applySchemaPatches(db); err != nil {
		return fmt.Errorf("schema patches: %w", err)
	}
	return nil
}

// schemaPatch is one idempotent DDL step. Dialect restricts it to a single
// driver name ("postgres" / "sqlite"); empty runs everywhere.
type schemaPatch struct {
	Name    string
	Dialect string
	SQL     string
}

// schemaPatchRecord tracks which patches have been applied.
type schemaPatchRecord struct {
	Name      string `gorm:"primaryKey;type:varchar(100)"`
	AppliedAt time.Time
}

func (schemaPatchRecord) TableName() string { return "schema_patches" }

// Patches run in slice order and are never edited once released: append new
// ones at the end.
var schemaPatches = []schemaPatch{
	{"0001_tables_status_check", "postgres", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_tables_status') THEN
    ALTER TABLE tables ADD CONSTRAINT chk_tables_status
      CHECK (status IN ('free','occupied','locked'));
  END IF;
END $$`},
	{"0002_tables_lock_pair_check", "postgres", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_tables_lock_pair') THEN
    ALTER TABLE tables ADD CONSTRAINT chk_tables_lock_pair
      CHECK ((locked_by IS NULL) = (locked_at IS NULL));
  END IF;
END $$`},
	{"0003_orders_status_check", "postgres", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_orders_status') THEN
    ALTER TABLE orders ADD CONSTRAINT chk_orders_status
      CHECK (status IN ('open','cancelled','completed'));
  END IF;
END $$`},
	{"0004_commands_status_check", "postgres", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_commands_status') THEN
    ALTER TABLE commands ADD CONSTRAINT chk_commands_status
      CHECK (status IN ('pending','sent','printed','print_failed')
         AND print_status IN ('pending','printed','failed'));
  END IF;
END $$`},
	{"0005_print_queue_shape_check", "postgres", `
DO $$ BEGIN
  IF NOT EXISTS (SELECT 1 FROM pg_constraint WHERE conname = 'chk_print_queue_shape') THEN
    ALTER TABLE print_queue ADD CONSTRAINT chk_print_queue_shape
      CHECK (status IN ('pending','printed','failed')
         AND ((print_type = 'comanda' AND command_id IS NOT NULL)
           OR (print_type = 'preconto' AND order_id IS NOT NULL)));
  END IF;
END $$`},
	// One open order per table.
	{"0006_orders_one_open_per_table", "", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_open_table
  ON orders (table_id) WHERE status = 'open'`},
	// Dequeue scans pending rows in id order.
	{"0007_print_queue_pending", "", `
CREATE INDEX IF NOT EXISTS idx_print_queue_pending
  ON print_queue (id) WHERE status = 'pending'`},
	{"0008_print_queue_failed", "", `
CREATE INDEX IF NOT EXISTS idx_print_queue_failed
  ON print_queue (failed_at) WHERE status = 'failed' AND dead_lettered = false`},
	// At most one live ticket per command.
	{"0009_print_queue_one_pending_per_command", "", `
CREATE UNIQUE INDEX IF NOT EXISTS idx_print_queue_command_pending
  ON print_queue (command_id) WHERE status = 'pending' AND command_id IS NOT NULL`},
}

func applySchemaPatches(db *gorm.DB) error {
	if err := db.AutoMigrate(&schemaPatchRecord{}); err != nil {
		return err
	}
	dialect := db.Dialector.Name()

	for _, p := range schemaPatches {
		if p.Dialect != "" && p.Dialect != dialect {
			continue
		}
		var n int64
		if err := db.Model(&schemaPatchRecord{}).Where("name = ?", p.Name).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			continue
		}
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec(p.SQL).Error; err != nil {
				return err
			}
			return tx.Create(&schemaPatchRecord{Name: p.Name, AppliedAt: time.Now().UTC()}).Error
		})
		if err != nil {
			return fmt.Errorf("patch %q: %w", p.Name, err)
		}
		log.Info().Str("patch", p.Name).Msg("schema patch applied")
	}
	return nil
}
