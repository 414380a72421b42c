package handler

import (
	"net/http"
	"testing"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T) *connector.Backend {
	t.Helper()
	backend, err := connector.NewBackend("Shop", "https://shop.example.com", "secret-key")
	require.NoError(t, err)
	return backend
}

func TestBackendHandler_Get(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		repo := new(mockBackendRepository)
		h := NewBackendHandler(repo, new(mockActions))
		backend := newTestBackend(t)
		repo.On("FindByID", mock.Anything, backend.ID).Return(backend, nil)

		w, resp := perform(t, http.MethodGet, "/backends/:id", h.Get, "/backends/"+backend.ID.String(), nil)

		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "Shop", data["name"])
		assert.NotContains(t, w.Body.String(), "secret-key")
		repo.AssertExpectations(t)
	})

	t.Run("unknown backend", func(t *testing.T) {
		repo := new(mockBackendRepository)
		h := NewBackendHandler(repo, new(mockActions))
		id := uuid.New()
		repo.On("FindByID", mock.Anything, id).Return(nil, connector.ErrBackendNotFound)

		w, resp := perform(t, http.MethodGet, "/backends/:id", h.Get, "/backends/"+id.String(), nil)

		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
	})

	t.Run("malformed id", func(t *testing.T) {
		repo := new(mockBackendRepository)
		h := NewBackendHandler(repo, new(mockActions))

		w, resp := perform(t, http.MethodGet, "/backends/:id", h.Get, "/backends/not-a-uuid", nil)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, resp.Error.Code)
		repo.AssertNotCalled(t, "FindByID", mock.Anything, mock.Anything)
	})
}

func TestBackendHandler_List(t *testing.T) {
	repo := new(mockBackendRepository)
	h := NewBackendHandler(repo, new(mockActions))
	repo.On("FindAll", mock.Anything, true).Return([]connector.Backend{*newTestBackend(t)}, nil)

	w, resp := perform(t, http.MethodGet, "/backends", h.List, "/backends?active=true", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data.([]any), 1)
	repo.AssertExpectations(t)
}

func TestBackendHandler_Create(t *testing.T) {
	t.Run("creates a draft backend", func(t *testing.T) {
		repo := new(mockBackendRepository)
		h := NewBackendHandler(repo, new(mockActions))
		repo.On("Save", mock.Anything, mock.MatchedBy(func(b *connector.Backend) bool {
			return b.Name == "Shop" && b.State == connector.BackendStateDraft && b.RefreshInterval.Minutes() == 15
		})).Return(nil)

		w, resp := perform(t, http.MethodPost, "/backends", h.Create, "/backends", map[string]any{
			"name":             "Shop",
			"location":         "https://shop.example.com",
			"webservice_key":   "secret-key",
			"refresh_interval": 15,
			"timezone":         "Europe/Paris",
		})

		assert.Equal(t, http.StatusCreated, w.Code)
		assert.True(t, resp.Success)
		repo.AssertExpectations(t)
	})

	t.Run("rejects an unknown timezone", func(t *testing.T) {
		repo := new(mockBackendRepository)
		h := NewBackendHandler(repo, new(mockActions))

		w, resp := perform(t, http.MethodPost, "/backends", h.Create, "/backends", map[string]any{
			"name":           "Shop",
			"location":       "https://shop.example.com",
			"webservice_key": "secret-key",
			"timezone":       "Mars/Olympus",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, resp.Error.Code)
		repo.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("missing location", func(t *testing.T) {
		repo := new(mockBackendRepository)
		h := NewBackendHandler(repo, new(mockActions))

		w, resp := perform(t, http.MethodPost, "/backends", h.Create, "/backends", map[string]any{
			"name":           "Shop",
			"webservice_key": "secret-key",
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})
}

func TestBackendHandler_ImportRecord(t *testing.T) {
	id := uuid.New()
	target := "/backends/" + id.String() + "/import-record"
	body := map[string]any{"entity_type": "customer", "external_id": "42"}

	t.Run("success", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		binding := &connector.Binding{ID: uuid.New()}
		actions.On("ImportRecord", mock.Anything, id, connector.EntityType("customer"), "42", false).
			Return(appconnector.ImportResult{
				State:   appconnector.ImportDone,
				Binding: binding,
				Created: true,
				Trail:   []appconnector.ImportState{appconnector.ImportStart, appconnector.ImportDone},
			}, nil)

		w, resp := perform(t, http.MethodPost, "/backends/:id/import-record", h.ImportRecord, target, body)

		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "done", data["state"])
		assert.Equal(t, true, data["created"])
		assert.Equal(t, binding.ID.String(), data["binding_id"])
		assert.Equal(t, []any{"start", "done"}, data["trail"])
		actions.AssertExpectations(t)
	})

	t.Run("record locked by another worker", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		actions.On("ImportRecord", mock.Anything, id, connector.EntityType("customer"), "42", false).
			Return(appconnector.ImportResult{}, connector.NewRetryableBusyError("Lock could not be acquired", nil))

		w, resp := perform(t, http.MethodPost, "/backends/:id/import-record", h.ImportRecord, target, body)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeSyncBusy, resp.Error.Code)
		assert.True(t, resp.Error.Retryable)
		assert.NotEmpty(t, w.Header().Get("Retry-After"))
	})

	t.Run("missing external id", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)

		w, _ := perform(t, http.MethodPost, "/backends/:id/import-record", h.ImportRecord, target,
			map[string]any{"entity_type": "customer"})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		actions.AssertNotCalled(t, "ImportRecord", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestBackendHandler_QueuedActions(t *testing.T) {
	id := uuid.New()

	t.Run("import since", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		actions.On("ImportSince", mock.Anything, id, connector.EntityType("sale_order")).Return(nil)

		w, resp := perform(t, http.MethodPost, "/backends/:id/import-since", h.ImportSince,
			"/backends/"+id.String()+"/import-since", map[string]any{"entity_type": "sale_order"})

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "Import of sale_order queued", resp.Data.(map[string]any)["message"])
		actions.AssertExpectations(t)
	})

	t.Run("import refresh", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		actions.On("ImportRefresh", mock.Anything, id).Return(nil)

		w, _ := perform(t, http.MethodPost, "/backends/:id/import-refresh", h.ImportRefresh,
			"/backends/"+id.String()+"/import-refresh", nil)

		assert.Equal(t, http.StatusAccepted, w.Code)
		actions.AssertExpectations(t)
	})

	t.Run("import all on inactive backend", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		inactive := &connector.Backend{Name: "Shop"}
		actions.On("ImportAll", mock.Anything, id).Return(inactive.CheckActive())

		w, resp := perform(t, http.MethodPost, "/backends/:id/import-all", h.ImportAll,
			"/backends/"+id.String()+"/import-all", nil)

		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Equal(t, dto.ErrCodeSyncBusy, resp.Error.Code)
	})

	t.Run("unsupported entity", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		actions.On("ImportSince", mock.Anything, id, connector.EntityType("shoes")).Return(connector.ErrComponentNotRegistered)

		w, resp := perform(t, http.MethodPost, "/backends/:id/import-since", h.ImportSince,
			"/backends/"+id.String()+"/import-since", map[string]any{"entity_type": "shoes"})

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeUnsupportedEntity, resp.Error.Code)
	})
}

func TestBackendHandler_CheckConnection(t *testing.T) {
	id := uuid.New()
	target := "/backends/" + id.String() + "/check-connection"

	t.Run("ok", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		actions.On("CheckConnection", mock.Anything, id).Return(nil)

		w, resp := perform(t, http.MethodPost, "/backends/:id/check-connection", h.CheckConnection, target, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Connection successful", resp.Data.(map[string]any)["message"])
	})

	t.Run("network failure", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBackendHandler(new(mockBackendRepository), actions)
		cause := connector.NewRetryableNetworkError(connector.ErrAdapterUnavailable)
		actions.On("CheckConnection", mock.Anything, id).Return(connector.HandleAPIErrors("Connection failed", cause))

		w, resp := perform(t, http.MethodPost, "/backends/:id/check-connection", h.CheckConnection, target, nil)

		assert.Equal(t, http.StatusBadGateway, w.Code)
		assert.Equal(t, dto.ErrCodePOSAPI, resp.Error.Code)
		assert.True(t, resp.Error.Retryable)
		assert.Contains(t, resp.Error.Message, "Network Error")
	})
}

func TestBackendHandler_ResetToDraft(t *testing.T) {
	id := uuid.New()
	actions := new(mockActions)
	h := NewBackendHandler(new(mockBackendRepository), actions)
	actions.On("ResetToDraft", mock.Anything, id).Return(nil)

	w, _ := perform(t, http.MethodPost, "/backends/:id/reset-to-draft", h.ResetToDraft,
		"/backends/"+id.String()+"/reset-to-draft", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	actions.AssertExpectations(t)
}

func TestBackendHandler_Match(t *testing.T) {
	id := uuid.New()
	actions := new(mockActions)
	h := NewBackendHandler(new(mockBackendRepository), actions)
	actions.On("MatchRecords", mock.Anything, id, connector.EntityType("product_template")).
		Return(appconnector.MatchReport{AlreadyMapped: 3, Mapped: 2, NotMapped: 1}, nil)

	w, resp := perform(t, http.MethodPost, "/backends/:id/match", h.Match,
		"/backends/"+id.String()+"/match", map[string]any{"entity_type": "product_template"})

	assert.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.Equal(t, float64(3), data["already_mapped"])
	assert.Equal(t, float64(2), data["mapped"])
	assert.Equal(t, float64(1), data["not_mapped"])
}

func TestBackendHandler_DeleteRecord(t *testing.T) {
	id := uuid.New()
	actions := new(mockActions)
	h := NewBackendHandler(new(mockBackendRepository), actions)
	attrs := map[string]any{"reference": "SKU-1"}
	actions.On("ExportDeleteRecord", mock.Anything, id, connector.EntityType("product_template"), "7", attrs).
		Return("Record 7 deleted on the POS", nil)

	w, resp := perform(t, http.MethodPost, "/backends/:id/delete-record", h.DeleteRecord,
		"/backends/"+id.String()+"/delete-record",
		map[string]any{"entity_type": "product_template", "external_id": "7", "attributes": attrs})

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Record 7 deleted on the POS", resp.Data.(map[string]any)["message"])
	actions.AssertExpectations(t)
}
