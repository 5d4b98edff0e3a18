package repository

import (
	"context"

	"gorm.io/gorm"
)

// conn returns tx when the caller runs inside a transaction and the
// repository's own handle otherwise. With SQLite's single connection a
// query issued on db while a tx is open would deadlock, so every method
// that can be called from a service transaction takes tx explicitly.
func conn(ctx context.Context, db, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx.WithContext(ctx)
	}
	return db.WithContext(ctx)
}
