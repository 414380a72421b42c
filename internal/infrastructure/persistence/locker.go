package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// PostgreSQL error codes the connector reacts to
const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// advisoryPollInterval is the pause between two pg_try_advisory_xact_lock attempts
const advisoryPollInterval = 50 * time.Millisecond

// lockableTables lists the tables LockRowNoWait accepts
var lockableTables = map[string]bool{
	"bindings":         true,
	"internal_records": true,
	"pos_backends":     true,
}

// isUniqueViolation reports whether err comes from a unique constraint
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// classifyError turns lock and serialization failures into retryable sync
// errors and wraps everything else with the operation name.
func classifyError(op string, err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable:
			return connector.NewRetryableBusyError(op+": lock not available", err)
		case pgSerializationFailure, pgDeadlockDetected:
			return connector.NewRetryableConcurrentError(op+": concurrent update", err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// NewLocker returns the locker matching the dialect of tx.
// SQLite serializes writers itself and gets a no-op locker.
func NewLocker(tx *gorm.DB) connector.Locker {
	if tx.Dialector.Name() == "postgres" {
		return &PostgresLocker{db: tx}
	}
	return noopLocker{}
}

// PostgresLocker implements connector.Locker with transaction scoped
// advisory locks and NOWAIT row locks. It must run inside a transaction.
type PostgresLocker struct {
	db *gorm.DB
}

// TryAdvisoryXactLock polls pg_try_advisory_xact_lock until it succeeds or retry elapses
func (l *PostgresLocker) TryAdvisoryXactLock(ctx context.Context, key string, retry time.Duration) error {
	deadline := time.Now().Add(retry)
	for {
		var acquired bool
		if err := l.db.WithContext(ctx).
			Raw("SELECT pg_try_advisory_xact_lock(hashtext(?))", key).
			Scan(&acquired).Error; err != nil {
			return classifyError("advisory lock", err)
		}
		if acquired {
			return nil
		}
		if !time.Now().Before(deadline) {
			return connector.NewRetryableBusyError(fmt.Sprintf("Lock %s could not be acquired", key), nil)
		}
		wait := advisoryPollInterval
		if left := time.Until(deadline); left < wait {
			wait = left
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// LockRowNoWait locks one row of table against concurrent updates
func (l *PostgresLocker) LockRowNoWait(ctx context.Context, table string, id uuid.UUID) error {
	if !lockableTables[table] {
		return fmt.Errorf("lock row: table %q is not lockable", table)
	}
	query := fmt.Sprintf(`SELECT id FROM %q WHERE id = ? FOR NO KEY UPDATE NOWAIT`, table)
	if err := l.db.WithContext(ctx).Exec(query, id).Error; err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgLockNotAvailable {
			return connector.NewRetryableBusyError(
				fmt.Sprintf("A concurrent job is already working on the same record (%s with id %s)", table, id), err)
		}
		return classifyError("lock row", err)
	}
	return nil
}

type noopLocker struct{}

func (noopLocker) TryAdvisoryXactLock(ctx context.Context, key string, retry time.Duration) error {
	return ctx.Err()
}

func (noopLocker) LockRowNoWait(ctx context.Context, table string, id uuid.UUID) error {
	if !lockableTables[table] {
		return fmt.Errorf("lock row: table %q is not lockable", table)
	}
	return ctx.Err()
}
