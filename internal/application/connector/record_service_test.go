package connector_test

import (
	"context"
	"testing"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestRecordService_UpdateRecord(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	listener := appconnector.NewExportListener(f.Backends, f.Registry, f.Scheduler, zap.NewNop())
	service := appconnector.NewRecordService(f.DB, listener, zap.NewNop())

	record, err := connector.NewInternalRecord(etCustomer, connector.Values{"name": "Jane", "email": "jane@example.com"})
	require.NoError(t, err)
	f.DB.SeedRecord(*record)
	binding, err := connector.NewBinding(f.Backend.ID, etCustomer, "42", record.ID)
	require.NoError(t, err)
	f.DB.SeedBinding(*binding)

	t.Run("exported field queues an export", func(t *testing.T) {
		updated, err := service.UpdateRecord(ctx, record.ID, connector.Values{"name": "Jane Doe"})
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", updated.Values["name"])
		assert.Equal(t, "jane@example.com", updated.Values["email"])

		jobs := f.Scheduler.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, appconnector.JobExportRecord, jobs[0].Job.Kind)
		assert.Equal(t, binding.ID, jobs[0].Job.BindingID)
		assert.Equal(t, []string{"name"}, jobs[0].Job.Fields)

		stored, err := service.GetRecord(ctx, record.ID)
		require.NoError(t, err)
		assert.Equal(t, "Jane Doe", stored.Values["name"])
	})

	t.Run("field outside the export mapper", func(t *testing.T) {
		before := len(f.Scheduler.Jobs())
		_, err := service.UpdateRecord(ctx, record.ID, connector.Values{"internal_note": "vip"})
		require.NoError(t, err)
		assert.Len(t, f.Scheduler.Jobs(), before)
	})

	t.Run("unknown record", func(t *testing.T) {
		_, err := service.UpdateRecord(ctx, uuid.New(), connector.Values{"name": "x"})
		assert.ErrorIs(t, err, connector.ErrRecordNotFound)
	})
}
