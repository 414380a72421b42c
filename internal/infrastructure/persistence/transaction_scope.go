package persistence

import (
	"context"
	"errors"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"gorm.io/gorm"
)

// ErrIndependentTxUnavailable is returned by ExecuteIndependent when the pool
// holds a single connection and that connection is already in a transaction.
var ErrIndependentTxUnavailable = errors.New("independent transaction needs a second pooled connection")

// GormTransactionScope implements TransactionScope using GORM transactions.
// Every call opens its own transaction from the root connection, so
// ExecuteIndependent inside Execute needs a second pooled connection.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(store appconnector.Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newGormStore(tx))
	})
}

// ExecuteIndependent runs fn in a transaction of its own, committed before it
// returns whatever the state of a transaction the caller may hold.
// A single-connection pool (SQLite) fails fast instead of waiting on itself.
func (s *GormTransactionScope) ExecuteIndependent(ctx context.Context, fn func(store appconnector.Store) error) error {
	if sqlDB, err := s.db.DB(); err == nil {
		if stats := sqlDB.Stats(); stats.MaxOpenConnections == 1 && stats.InUse > 0 {
			return ErrIndependentTxUnavailable
		}
	}
	return s.Execute(ctx, fn)
}

// gormStore provides access to the repositories of one transaction.
type gormStore struct {
	tx *gorm.DB
}

func newGormStore(tx *gorm.DB) *gormStore {
	return &gormStore{tx: tx}
}

// Bindings returns the binding repository scoped to the current transaction.
func (s *gormStore) Bindings() connector.BindingRepository {
	return NewGormBindingRepository(s.tx)
}

// Records returns the record repository scoped to the current transaction.
func (s *gormStore) Records() connector.RecordRepository {
	return NewGormRecordRepository(s.tx)
}

// Locker returns the locker scoped to the current transaction.
func (s *gormStore) Locker() connector.Locker {
	return NewLocker(s.tx)
}

var _ appconnector.TransactionScope = (*GormTransactionScope)(nil)

var _ appconnector.Store = (*gormStore)(nil)
