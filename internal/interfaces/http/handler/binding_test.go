package handler

import (
	"net/http"
	"testing"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestBindingHandler_List(t *testing.T) {
	backendID := uuid.New()
	now := time.Now()
	actions := new(mockActions)
	h := NewBindingHandler(actions)
	actions.On("ListBindings", mock.Anything, mock.MatchedBy(func(f connector.BindingFilter) bool {
		return f.BackendID != nil && *f.BackendID == backendID &&
			f.EntityType != nil && *f.EntityType == "customer" &&
			f.Active != nil && *f.Active &&
			f.Unsynced && f.Page == 2 && f.PageSize == 10
	})).Return([]connector.Binding{
		{ID: uuid.New(), BackendID: backendID, EntityType: "customer", ExternalID: "1", InternalRef: uuid.New(), Active: true, SyncDate: &now},
	}, int64(11), nil)

	w, resp := perform(t, http.MethodGet, "/bindings", h.List,
		"/bindings?backend_id="+backendID.String()+"&entity_type=customer&active=true&unsynced=true&page=2&page_size=10", nil)

	assert.Equal(t, http.StatusOK, w.Code)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, int64(11), resp.Meta.Total)
	assert.Equal(t, 2, resp.Meta.TotalPages)
	assert.Len(t, resp.Data.([]any), 1)
	actions.AssertExpectations(t)
}

func TestBindingHandler_ListRejectsBadBackendID(t *testing.T) {
	actions := new(mockActions)
	h := NewBindingHandler(actions)

	w, resp := perform(t, http.MethodGet, "/bindings", h.List, "/bindings?backend_id=nope", nil)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	actions.AssertNotCalled(t, "ListBindings", mock.Anything, mock.Anything)
}

func TestBindingHandler_Get(t *testing.T) {
	id := uuid.New()
	actions := new(mockActions)
	h := NewBindingHandler(actions)
	actions.On("FindBinding", mock.Anything, id).Return(nil, connector.ErrBindingNotFound)

	w, resp := perform(t, http.MethodGet, "/bindings/:id", h.Get, "/bindings/"+id.String(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, dto.ErrCodeNotFound, resp.Error.Code)
}

func TestBindingHandler_Export(t *testing.T) {
	id := uuid.New()
	target := "/bindings/" + id.String() + "/export"

	t.Run("without body", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)
		actions.On("ExportRecord", mock.Anything, id, []string(nil), false).Return("Record exported with ID 12 on the POS", nil)

		w, resp := perform(t, http.MethodPost, "/bindings/:id/export", h.Export, target, nil)

		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "Record exported with ID 12 on the POS", resp.Data.(map[string]any)["message"])
		actions.AssertExpectations(t)
	})

	t.Run("selected fields", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)
		actions.On("ExportRecord", mock.Anything, id, []string{"name", "price"}, true).Return("Record updated on the POS", nil)

		w, _ := perform(t, http.MethodPost, "/bindings/:id/export", h.Export, target,
			map[string]any{"fields": []string{"name", "price"}, "force_sync": true})

		assert.Equal(t, http.StatusOK, w.Code)
		actions.AssertExpectations(t)
	})

	t.Run("rejected by the POS", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)
		actions.On("ExportRecord", mock.Anything, id, []string(nil), false).
			Return("", connector.NewExternalRejectedError("The POS did not return an ID"))

		w, resp := perform(t, http.MethodPost, "/bindings/:id/export", h.Export, target, nil)

		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, dto.ErrCodeSyncRejected, resp.Error.Code)
		assert.False(t, resp.Error.Retryable)
	})
}

func TestBindingHandler_Resync(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New()}
	raw := []string{ids[0].String(), ids[1].String()}

	t.Run("immediate", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)
		actions.On("Resync", mock.Anything, ids, false).Return(nil)

		w, _ := perform(t, http.MethodPost, "/bindings/resync", h.Resync, "/bindings/resync",
			map[string]any{"binding_ids": raw})

		assert.Equal(t, http.StatusOK, w.Code)
		actions.AssertExpectations(t)
	})

	t.Run("delayed", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)
		actions.On("Resync", mock.Anything, ids, true).Return(nil)

		w, resp := perform(t, http.MethodPost, "/bindings/resync", h.Resync, "/bindings/resync",
			map[string]any{"binding_ids": raw, "delayed": true})

		assert.Equal(t, http.StatusAccepted, w.Code)
		assert.Equal(t, "Resync queued", resp.Data.(map[string]any)["message"])
	})

	t.Run("malformed id", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)

		w, _ := perform(t, http.MethodPost, "/bindings/resync", h.Resync, "/bindings/resync",
			map[string]any{"binding_ids": []string{"x"}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		actions.AssertNotCalled(t, "Resync", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("empty list", func(t *testing.T) {
		actions := new(mockActions)
		h := NewBindingHandler(actions)

		w, _ := perform(t, http.MethodPost, "/bindings/resync", h.Resync, "/bindings/resync",
			map[string]any{"binding_ids": []string{}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
