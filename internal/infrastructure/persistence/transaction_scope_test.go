package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormTransactionScope(t *testing.T) {
	db := newTestDatabase(t)
	scope := NewGormTransactionScope(db.DB)
	ctx := context.Background()
	backendID := uuid.New()

	t.Run("commits record and binding together", func(t *testing.T) {
		var bindingID uuid.UUID
		err := scope.Execute(ctx, func(store appconnector.Store) error {
			require.NoError(t, store.Locker().TryAdvisoryXactLock(ctx, "import", 0))

			record, err := connector.NewInternalRecord(testEntity, connector.Values{"name": "Carol"})
			require.NoError(t, err)
			if err := store.Records().Create(ctx, record); err != nil {
				return err
			}
			binding, err := connector.NewBinding(backendID, testEntity, "100", record.ID)
			require.NoError(t, err)
			bindingID = binding.ID
			return store.Bindings().Create(ctx, binding)
		})
		require.NoError(t, err)

		found, err := NewGormBindingRepository(db.DB).FindByID(ctx, bindingID)
		require.NoError(t, err)
		assert.Equal(t, "100", found.ExternalID)
	})

	t.Run("rolls back on error", func(t *testing.T) {
		var recordID uuid.UUID
		boom := errors.New("boom")
		err := scope.ExecuteIndependent(ctx, func(store appconnector.Store) error {
			record, err := connector.NewInternalRecord(testEntity, nil)
			require.NoError(t, err)
			recordID = record.ID
			if err := store.Records().Create(ctx, record); err != nil {
				return err
			}
			return boom
		})
		assert.ErrorIs(t, err, boom)

		_, err = NewGormRecordRepository(db.DB).FindByID(ctx, recordID)
		assert.ErrorIs(t, err, connector.ErrRecordNotFound)
	})
}

func TestGormTransactionScope_IndependentInsideExecuteOnSingleConnection(t *testing.T) {
	db := newTestDatabase(t)
	scope := NewGormTransactionScope(db.DB)
	ctx := context.Background()

	result := make(chan error, 1)
	go func() {
		result <- scope.Execute(ctx, func(store appconnector.Store) error {
			return scope.ExecuteIndependent(ctx, func(appconnector.Store) error {
				return nil
			})
		})
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, ErrIndependentTxUnavailable)
	case <-time.After(5 * time.Second):
		t.Fatal("nested independent transaction blocked on the single connection")
	}
}
