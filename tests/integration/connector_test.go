package integration

import (
	"context"
	"os"
	"testing"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/persistence"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const customer = connector.EntityType("customer")

func TestMain(m *testing.M) {
	code := m.Run()
	CleanupSharedContainer()
	os.Exit(code)
}

// seedBinding stores a backend, a record and a binding linking them
func seedBinding(t *testing.T, tdb *TestDB, externalID string) (*connector.Backend, *connector.Binding) {
	t.Helper()
	ctx := context.Background()

	backend, err := connector.NewBackend("Shop", "https://shop.example.com", "secret")
	require.NoError(t, err)
	require.NoError(t, persistence.NewGormBackendRepository(tdb.DB).Save(ctx, backend))

	record, err := connector.NewInternalRecord(customer, connector.Values{"name": "Alice"})
	require.NoError(t, err)
	require.NoError(t, persistence.NewGormRecordRepository(tdb.DB).Create(ctx, record))

	binding, err := connector.NewBinding(backend.ID, customer, externalID, record.ID)
	require.NoError(t, err)
	require.NoError(t, persistence.NewGormBindingRepository(tdb.DB).Create(ctx, binding))
	return backend, binding
}

func TestMigrations_CreateConnectorTables(t *testing.T) {
	tdb := NewTestDB(t)
	for _, table := range []string{"pos_backends", "internal_records", "bindings", "sync_jobs"} {
		assert.True(t, tdb.DB.Migrator().HasTable(table), table)
	}
}

func TestBindingRepository_Postgres(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.CleanTables()
	ctx := context.Background()
	backend, binding := seedBinding(t, tdb, "42")
	repo := persistence.NewGormBindingRepository(tdb.DB)

	t.Run("find by external id", func(t *testing.T) {
		found, err := repo.FindByExternalID(ctx, backend.ID, customer, "42")
		require.NoError(t, err)
		assert.Equal(t, binding.ID, found.ID)
	})

	t.Run("duplicate external id is rejected", func(t *testing.T) {
		record, err := connector.NewInternalRecord(customer, nil)
		require.NoError(t, err)
		require.NoError(t, persistence.NewGormRecordRepository(tdb.DB).Create(ctx, record))

		dup, err := connector.NewBinding(backend.ID, customer, "42", record.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, dup), connector.ErrBindingAlreadyExists)
	})

	t.Run("filter by internal ref", func(t *testing.T) {
		active := true
		bindings, err := repo.FindAll(ctx, connector.BindingFilter{InternalRef: &binding.InternalRef, Active: &active})
		require.NoError(t, err)
		require.Len(t, bindings, 1)
		assert.Equal(t, binding.ID, bindings[0].ID)
	})
}

func TestBackendRepository_Watermark(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.CleanTables()
	ctx := context.Background()
	backend, _ := seedBinding(t, tdb, "7")
	repo := persistence.NewGormBackendRepository(tdb.DB)

	at := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveWatermark(ctx, backend.ID, customer, at))

	found, err := repo.FindByID(ctx, backend.ID)
	require.NoError(t, err)
	watermark, ok := found.Watermark(customer)
	require.True(t, ok)
	assert.True(t, at.Equal(watermark))
}

func TestPostgresLocker_AdvisoryLock(t *testing.T) {
	tdb := NewTestDB(t)
	ctx := context.Background()
	other := tdb.Connect()

	holder := tdb.DB.Begin()
	require.NoError(t, holder.Error)
	require.NoError(t, persistence.NewLocker(holder).TryAdvisoryXactLock(ctx, "import-customer-1", 0))

	waiter := other.Begin()
	require.NoError(t, waiter.Error)
	defer waiter.Rollback()

	err := persistence.NewLocker(waiter).TryAdvisoryXactLock(ctx, "import-customer-1", 100*time.Millisecond)
	require.Error(t, err)
	assert.True(t, connector.IsKind(err, connector.KindRetryableBusy))

	// a different key is independent
	require.NoError(t, persistence.NewLocker(waiter).TryAdvisoryXactLock(ctx, "import-customer-2", 0))

	// the lock is released with the transaction
	require.NoError(t, holder.Rollback().Error)
	require.NoError(t, persistence.NewLocker(waiter).TryAdvisoryXactLock(ctx, "import-customer-1", time.Second))
}

func TestPostgresLocker_LockRowNoWait(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.CleanTables()
	ctx := context.Background()
	_, binding := seedBinding(t, tdb, "99")
	other := tdb.Connect()

	holder := tdb.DB.Begin()
	require.NoError(t, holder.Error)
	defer holder.Rollback()
	require.NoError(t, persistence.NewLocker(holder).LockRowNoWait(ctx, "bindings", binding.ID))

	waiter := other.Begin()
	require.NoError(t, waiter.Error)
	defer waiter.Rollback()

	err := persistence.NewLocker(waiter).LockRowNoWait(ctx, "bindings", binding.ID)
	require.Error(t, err)
	assert.True(t, connector.IsKind(err, connector.KindRetryableBusy))
	assert.Contains(t, err.Error(), "concurrent job")
}

func TestGormTransactionScope_Postgres(t *testing.T) {
	tdb := NewTestDB(t)
	tdb.CleanTables()
	ctx := context.Background()
	backend, _ := seedBinding(t, tdb, "1")
	scope := persistence.NewGormTransactionScope(tdb.DB)

	t.Run("commit is visible to other connections", func(t *testing.T) {
		var bindingID uuid.UUID
		err := scope.Execute(ctx, func(store appconnector.Store) error {
			if err := store.Locker().TryAdvisoryXactLock(ctx, "scope-commit", 0); err != nil {
				return err
			}
			record, err := connector.NewInternalRecord(customer, connector.Values{"name": "Bob"})
			if err != nil {
				return err
			}
			if err := store.Records().Create(ctx, record); err != nil {
				return err
			}
			binding, err := connector.NewBinding(backend.ID, customer, "2", record.ID)
			if err != nil {
				return err
			}
			bindingID = binding.ID
			return store.Bindings().Create(ctx, binding)
		})
		require.NoError(t, err)

		found, err := persistence.NewGormBindingRepository(tdb.Connect()).FindByID(ctx, bindingID)
		require.NoError(t, err)
		assert.Equal(t, "2", found.ExternalID)
	})

	t.Run("failed insert rolls back the whole unit", func(t *testing.T) {
		record, err := connector.NewInternalRecord(customer, nil)
		require.NoError(t, err)
		err = scope.Execute(ctx, func(store appconnector.Store) error {
			if err := store.Records().Create(ctx, record); err != nil {
				return err
			}
			dup, err := connector.NewBinding(backend.ID, customer, "1", record.ID)
			if err != nil {
				return err
			}
			return store.Bindings().Create(ctx, dup)
		})
		assert.ErrorIs(t, err, connector.ErrBindingAlreadyExists)

		_, err = persistence.NewGormRecordRepository(tdb.DB).FindByID(ctx, record.ID)
		assert.ErrorIs(t, err, connector.ErrRecordNotFound)
	})
}
