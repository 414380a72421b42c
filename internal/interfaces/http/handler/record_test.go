package handler

import (
	"net/http"
	"testing"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRecordHandler_Update(t *testing.T) {
	record, err := connector.NewInternalRecord("customer", connector.Values{"name": "Jane Doe"})
	require.NoError(t, err)
	target := "/records/" + record.ID.String()

	t.Run("success", func(t *testing.T) {
		records := new(mockRecords)
		h := NewRecordHandler(records)
		records.On("UpdateRecord", mock.Anything, record.ID, connector.Values{"name": "Jane Doe"}).Return(record, nil)

		w, resp := perform(t, http.MethodPatch, "/records/:id", h.Update, target,
			map[string]any{"values": map[string]any{"name": "Jane Doe"}})

		assert.Equal(t, http.StatusOK, w.Code)
		data := resp.Data.(map[string]any)
		assert.Equal(t, "customer", data["entity_type"])
		assert.Equal(t, "Jane Doe", data["values"].(map[string]any)["name"])
		records.AssertExpectations(t)
	})

	t.Run("empty values", func(t *testing.T) {
		records := new(mockRecords)
		h := NewRecordHandler(records)

		w, resp := perform(t, http.MethodPatch, "/records/:id", h.Update, target, map[string]any{"values": map[string]any{}})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, resp.Error.Code)
	})
}

func TestRecordHandler_Get(t *testing.T) {
	records := new(mockRecords)
	h := NewRecordHandler(records)
	id := uuid.New()
	records.On("GetRecord", mock.Anything, id).Return(nil, connector.ErrRecordNotFound)

	w, _ := perform(t, http.MethodGet, "/records/:id", h.Get, "/records/"+id.String(), nil)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
