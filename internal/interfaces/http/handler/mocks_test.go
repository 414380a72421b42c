package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// perform sends a JSON request through a router holding one route
func perform(t *testing.T, method, pattern string, h gin.HandlerFunc, target string, body any) (*httptest.ResponseRecorder, dto.Response) {
	t.Helper()
	r := gin.New()
	r.Handle(method, pattern, h)

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(RequestIDKey, "req-test")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp dto.Response
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

type mockBackendRepository struct {
	mock.Mock
}

func (m *mockBackendRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.Backend, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.Backend), args.Error(1)
}

func (m *mockBackendRepository) FindAll(ctx context.Context, activeOnly bool) ([]connector.Backend, error) {
	args := m.Called(ctx, activeOnly)
	return args.Get(0).([]connector.Backend), args.Error(1)
}

func (m *mockBackendRepository) Save(ctx context.Context, backend *connector.Backend) error {
	return m.Called(ctx, backend).Error(0)
}

func (m *mockBackendRepository) SaveWatermark(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, at time.Time) error {
	return m.Called(ctx, backendID, entityType, at).Error(0)
}

type mockActions struct {
	mock.Mock
}

func (m *mockActions) CheckConnection(ctx context.Context, backendID uuid.UUID) error {
	return m.Called(ctx, backendID).Error(0)
}

func (m *mockActions) ResetToDraft(ctx context.Context, backendID uuid.UUID) error {
	return m.Called(ctx, backendID).Error(0)
}

func (m *mockActions) ImportRecord(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string, force bool) (appconnector.ImportResult, error) {
	args := m.Called(ctx, backendID, entityType, externalID, force)
	return args.Get(0).(appconnector.ImportResult), args.Error(1)
}

func (m *mockActions) ImportSince(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType) error {
	return m.Called(ctx, backendID, entityType).Error(0)
}

func (m *mockActions) ImportRefresh(ctx context.Context, backendID uuid.UUID) error {
	return m.Called(ctx, backendID).Error(0)
}

func (m *mockActions) ImportAll(ctx context.Context, backendID uuid.UUID) error {
	return m.Called(ctx, backendID).Error(0)
}

func (m *mockActions) MatchRecords(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType) (appconnector.MatchReport, error) {
	args := m.Called(ctx, backendID, entityType)
	return args.Get(0).(appconnector.MatchReport), args.Error(1)
}

func (m *mockActions) ExportDeleteRecord(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string, attributes map[string]any) (string, error) {
	args := m.Called(ctx, backendID, entityType, externalID, attributes)
	return args.String(0), args.Error(1)
}

func (m *mockActions) FindBinding(ctx context.Context, bindingID uuid.UUID) (*connector.Binding, error) {
	args := m.Called(ctx, bindingID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.Binding), args.Error(1)
}

func (m *mockActions) ListBindings(ctx context.Context, filter connector.BindingFilter) ([]connector.Binding, int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]connector.Binding), args.Get(1).(int64), args.Error(2)
}

func (m *mockActions) ExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string, forceSync bool) (string, error) {
	args := m.Called(ctx, bindingID, fields, forceSync)
	return args.String(0), args.Error(1)
}

func (m *mockActions) Resync(ctx context.Context, bindingIDs []uuid.UUID, delayed bool) error {
	return m.Called(ctx, bindingIDs, delayed).Error(0)
}

var (
	_ BackendActions = (*mockActions)(nil)
	_ BindingActions = (*mockActions)(nil)
)

type mockJobRepository struct {
	mock.Mock
}

func (m *mockJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.SyncJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.SyncJob), args.Error(1)
}

func (m *mockJobRepository) FindAll(ctx context.Context, filter connector.JobFilter) ([]connector.SyncJob, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]connector.SyncJob), args.Error(1)
}

func (m *mockJobRepository) Count(ctx context.Context, filter connector.JobFilter) (int64, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).(int64), args.Error(1)
}

func (m *mockJobRepository) FindPending(ctx context.Context) ([]connector.SyncJob, error) {
	args := m.Called(ctx)
	return args.Get(0).([]connector.SyncJob), args.Error(1)
}

func (m *mockJobRepository) Save(ctx context.Context, job *connector.SyncJob) error {
	return m.Called(ctx, job).Error(0)
}

type mockRequeuer struct {
	mock.Mock
}

func (m *mockRequeuer) Requeue(ctx context.Context, id uuid.UUID) (*connector.SyncJob, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.SyncJob), args.Error(1)
}

var (
	_ connector.BackendRepository = (*mockBackendRepository)(nil)
	_ connector.JobRepository     = (*mockJobRepository)(nil)
)

type mockRecords struct {
	mock.Mock
}

func (m *mockRecords) GetRecord(ctx context.Context, id uuid.UUID) (*connector.InternalRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.InternalRecord), args.Error(1)
}

func (m *mockRecords) UpdateRecord(ctx context.Context, id uuid.UUID, values connector.Values) (*connector.InternalRecord, error) {
	args := m.Called(ctx, id, values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*connector.InternalRecord), args.Error(1)
}

var _ RecordActions = (*mockRecords)(nil)
