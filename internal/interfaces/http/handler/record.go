package handler

import (
	"context"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RecordActions reads and writes internal records
type RecordActions interface {
	GetRecord(ctx context.Context, id uuid.UUID) (*connector.InternalRecord, error)
	UpdateRecord(ctx context.Context, id uuid.UUID, values connector.Values) (*connector.InternalRecord, error)
}

// RecordHandler handles the /records endpoints
type RecordHandler struct {
	BaseHandler
	actions RecordActions
}

// NewRecordHandler creates a new RecordHandler
func NewRecordHandler(actions RecordActions) *RecordHandler {
	return &RecordHandler{actions: actions}
}

// Get returns one internal record
func (h *RecordHandler) Get(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	record, err := h.actions.GetRecord(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRecordResponse(record))
}

// Update writes values on a record. Bound records are exported to the POS
// when an exported field changes.
func (h *RecordHandler) Update(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateRecordRequest
	if !h.BindJSON(c, &req) {
		return
	}
	record, err := h.actions.UpdateRecord(c.Request.Context(), id, connector.Values(req.Values))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewRecordResponse(record))
}
