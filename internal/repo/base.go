// Package repo holds what the lending repositories share.
package repo

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Base is embedded by the component, request and notification repositories.
// The wrapped handle is either the pool or a transaction from WithTx.
type Base struct {
	db *gorm.DB
}

func NewBase(db *gorm.DB) Base {
	return Base{db: db}
}

// DB binds ctx to the wrapped handle.
func (b Base) DB(ctx context.Context) *gorm.DB {
	return b.db.WithContext(ctx)
}

// Locked is DB with SELECT ... FOR UPDATE on Postgres. SQLite has no row
// locks and already serializes writers, so the clause is skipped there.
func (b Base) Locked(ctx context.Context) *gorm.DB {
	q := b.DB(ctx)
	if SupportsRowLocks(q) {
		q = q.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
	}
	return q
}

func SupportsRowLocks(db *gorm.DB) bool {
	return db != nil && db.Dialector != nil && db.Dialector.Name() == "postgres"
}
