package connector_test

import (
	"context"
	"errors"
	"testing"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/application/connector/connectortest"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockBackendRepository is a mock implementation of BackendRepository
type MockBackendRepository struct {
	mock.Mock
}

func (m *MockBackendRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.Backend, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.Backend), args.Error(1)
}

func (m *MockBackendRepository) FindAll(ctx context.Context, activeOnly bool) ([]connector.Backend, error) {
	args := m.Called(ctx, activeOnly)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]connector.Backend), args.Error(1)
}

func (m *MockBackendRepository) Save(ctx context.Context, backend *connector.Backend) error {
	args := m.Called(ctx, backend)
	return args.Error(0)
}

func (m *MockBackendRepository) SaveWatermark(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, at time.Time) error {
	args := m.Called(ctx, backendID, entityType, at)
	return args.Error(0)
}

func newService(f *connectortest.Fixture, backends connector.BackendRepository) *appconnector.BackendService {
	return appconnector.NewBackendService(backends, f.Registry, f.Adapters, f.DB, f.Scheduler, zap.NewNop(),
		appconnector.BackendServiceConfig{
			RefreshChain: []connector.EntityType{etCategory, etCustomer, etProduct},
			Priorities:   map[connector.EntityType]int{etCustomer: 15},
			MaxRetries:   5,
		})
}

func TestBackendService_CheckConnection(t *testing.T) {
	ctx := context.Background()

	t.Run("marks the backend checked", func(t *testing.T) {
		f := connectortest.NewFixture()
		repo := new(MockBackendRepository)
		repo.On("FindByID", ctx, f.Backend.ID).Return(f.Backend, nil)
		repo.On("Save", ctx, mock.MatchedBy(func(b *connector.Backend) bool {
			return b.State == connector.BackendStateChecked
		})).Return(nil)

		err := newService(f, repo).CheckConnection(ctx, f.Backend.ID)
		require.NoError(t, err)
		repo.AssertExpectations(t)
		assert.Equal(t, 1, f.Adapter(appconnector.CheckConnectionResource).CallCount("Connect"))
	})

	t.Run("wraps POS failures", func(t *testing.T) {
		f := connectortest.NewFixture()
		f.Adapter(appconnector.CheckConnectionResource).ConnectErr =
			connector.NewRetryableNetworkError(errors.New("no route to host"))
		repo := new(MockBackendRepository)
		repo.On("FindByID", ctx, f.Backend.ID).Return(f.Backend, nil)

		err := newService(f, repo).CheckConnection(ctx, f.Backend.ID)
		var apiErr *connector.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.True(t, apiErr.Network)
		assert.Contains(t, err.Error(), "Connection failed")
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})
}

func TestBackendService_ResetToDraft(t *testing.T) {
	ctx := context.Background()
	f := connectortest.NewFixture()
	f.Backend.MarkChecked()
	require.NoError(t, f.Backends.Save(ctx, f.Backend))

	require.NoError(t, newService(f, f.Backends).ResetToDraft(ctx, f.Backend.ID))
	saved, err := f.Backends.FindByID(ctx, f.Backend.ID)
	require.NoError(t, err)
	assert.Equal(t, connector.BackendStateDraft, saved.State)
}

func TestBackendService_InactiveBackend(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	f.Backend.Active = false
	require.NoError(t, f.Backends.Save(ctx, f.Backend))
	svc := newService(f, f.Backends)

	_, err := svc.ImportRecord(ctx, f.Backend.ID, etCustomer, "42", false)
	require.Error(t, err)
	assert.True(t, connector.IsRetryable(err))
	assert.Contains(t, err.Error(), "Backend test is inactive")

	_, err = svc.ExportDeleteRecord(ctx, f.Backend.ID, etCustomer, "42", nil)
	assert.True(t, connector.IsRetryable(err))
}

func TestBackendService_ImportAndExport(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	svc := newService(f, f.Backends)
	f.Adapter("customers").Put("42", connector.Record{"name": "Jane"})

	result, err := svc.ImportRecord(ctx, f.Backend.ID, etCustomer, "42", false)
	require.NoError(t, err)
	assert.True(t, result.Created)

	binding, ok := f.BindingOf(etCustomer, "42")
	require.True(t, ok)

	message, err := svc.ExportRecord(ctx, binding.ID, []string{"name"}, false)
	require.NoError(t, err)
	assert.Equal(t, "Record exported with ID 42 on POS.", message)
	assert.Equal(t, 1, f.Adapter("customers").CallCount("Update"))

	message, err = svc.ExportRecord(ctx, uuid.New(), nil, false)
	require.NoError(t, err)
	assert.Equal(t, appconnector.MsgExportGone, message)

	bindings, total, err := svc.ListBindings(ctx, connector.BindingFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	assert.Len(t, bindings, 1)
}

func TestBackendService_Resync(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	svc := newService(f, f.Backends)
	f.Adapter("customers").Put("42", connector.Record{"name": "Jane"})
	_, err := svc.ImportRecord(ctx, f.Backend.ID, etCustomer, "42", false)
	require.NoError(t, err)
	binding, _ := f.BindingOf(etCustomer, "42")

	require.NoError(t, svc.Resync(ctx, []uuid.UUID{binding.ID}, true))
	jobs := f.Scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, appconnector.JobImportRecord, jobs[0].Job.Kind)
	assert.Equal(t, appconnector.ResyncJobPriority, jobs[0].Options.Priority)
	assert.True(t, jobs[0].Job.Force)

	f.Adapter("customers").Put("42", connector.Record{"name": "Jane Doe"})
	require.NoError(t, svc.Resync(ctx, []uuid.UUID{binding.ID}, false))
	assert.Equal(t, "Jane Doe", f.DB.Records(etCustomer)[0].Values.String("name"))
}

func TestBackendService_ImportSince(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	svc := newService(f, f.Backends)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	require.NoError(t, svc.ImportSince(ctx, f.Backend.ID, etCustomer))
	jobs := f.Scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, appconnector.JobImportBatch, jobs[0].Job.Kind)
	assert.Equal(t, 15, jobs[0].Options.Priority)
	require.NotNil(t, jobs[0].Job.Filters)
	assert.Nil(t, jobs[0].Job.Filters.Since)

	saved, err := f.Backends.FindByID(ctx, f.Backend.ID)
	require.NoError(t, err)
	watermark, ok := saved.Watermark(etCustomer)
	require.True(t, ok)
	assert.Equal(t, now, watermark)

	later := now.Add(time.Hour)
	svc.SetClock(func() time.Time { return later })
	require.NoError(t, svc.ImportSince(ctx, f.Backend.ID, etCustomer))
	jobs = f.Scheduler.Jobs()
	require.Len(t, jobs, 2)
	require.NotNil(t, jobs[1].Job.Filters.Since)
	assert.Equal(t, now, *jobs[1].Job.Filters.Since)
}

func TestBackendService_ImportRefreshAndAll(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	svc := newService(f, f.Backends)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })

	require.NoError(t, svc.ImportRefresh(ctx, f.Backend.ID))
	jobs := f.Scheduler.Jobs()
	require.Len(t, jobs, 3)
	assert.Equal(t, etCategory, jobs[0].Job.EntityType)
	assert.Equal(t, etCustomer, jobs[1].Job.EntityType)
	assert.Equal(t, etProduct, jobs[2].Job.EntityType)

	saved, err := f.Backends.FindByID(ctx, f.Backend.ID)
	require.NoError(t, err)
	_, ok := saved.Watermark(connector.WatermarkRefresh)
	assert.True(t, ok)
	_, ok = saved.Watermark(connector.WatermarkAll)
	assert.False(t, ok)

	require.NoError(t, svc.ImportAll(ctx, f.Backend.ID))
	saved, err = f.Backends.FindByID(ctx, f.Backend.ID)
	require.NoError(t, err)
	for _, key := range []connector.EntityType{connector.WatermarkRoutine, connector.WatermarkAll} {
		_, ok := saved.Watermark(key)
		assert.True(t, ok, key)
	}
}

func TestJobRunner_Run(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	runner := appconnector.NewJobRunner(newService(f, f.Backends))
	f.Adapter("customers").Put("42", connector.Record{"name": "Jane"})
	f.Adapter("customers").Put("43", connector.Record{"name": "John"})

	message, err := runner.Run(ctx, appconnector.Job{
		Kind:       appconnector.JobImportRecord,
		BackendID:  f.Backend.ID,
		EntityType: etCustomer,
		ExternalID: "42",
	}, appconnector.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Record 42 created.", message)

	message, err = runner.Run(ctx, appconnector.Job{
		Kind:       appconnector.JobImportBatch,
		BackendID:  f.Backend.ID,
		EntityType: etCustomer,
		Filters:    &connector.Filters{},
	}, appconnector.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2 customer record(s) processed.", message)
	assert.Len(t, f.DB.Records(etCustomer), 2)

	message, err = runner.Run(ctx, appconnector.Job{
		Kind:       appconnector.JobDeleteRecord,
		BackendID:  f.Backend.ID,
		EntityType: etCustomer,
		ExternalID: "43",
	}, appconnector.JobOptions{})
	require.NoError(t, err)
	assert.Equal(t, "Record 43 deleted on POS on resource customers", message)

	_, err = runner.Run(ctx, appconnector.Job{Kind: "bogus", BackendID: f.Backend.ID}, appconnector.JobOptions{})
	assert.True(t, connector.IsKind(err, connector.KindFatalInvalidData))
}

func TestExportListener(t *testing.T) {
	ctx := context.Background()
	f := newCatalogFixture(nil)
	listener := appconnector.NewExportListener(f.Backends, f.Registry, f.Scheduler, zap.NewNop())
	ref := uuid.New()
	binding, err := connector.NewBinding(f.Backend.ID, etCustomer, "42", ref)
	require.NoError(t, err)

	assert.True(t, listener.NeedToExport(ctx, binding, []string{"name"}))
	assert.True(t, listener.NeedToExport(ctx, binding, nil))
	assert.False(t, listener.NeedToExport(ctx, binding, []string{"internal_note"}))
	assert.False(t, listener.NeedToExport(ctx, nil, []string{"name"}))

	binding.DisableExport()
	assert.False(t, listener.NeedToExport(ctx, binding, []string{"name"}))
	require.NoError(t, listener.OnRecordWrite(ctx, binding, []string{"name"}))
	assert.Empty(t, f.Scheduler.Jobs())

	binding.EnableExport()
	require.NoError(t, listener.OnRecordWrite(ctx, binding, []string{"name"}))
	jobs := f.Scheduler.Jobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, appconnector.JobExportRecord, jobs[0].Job.Kind)
	assert.Equal(t, binding.ID, jobs[0].Job.BindingID)
	assert.Equal(t, []string{"name"}, jobs[0].Job.Fields)

	orphan, err := connector.NewBinding(uuid.New(), etCustomer, "1", ref)
	require.NoError(t, err)
	assert.False(t, listener.NeedToExport(ctx, orphan, []string{"name"}))
}
