package handler

import (
	"context"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// BindingActions are the binding reads and the actions started from a binding
type BindingActions interface {
	FindBinding(ctx context.Context, bindingID uuid.UUID) (*connector.Binding, error)
	ListBindings(ctx context.Context, filter connector.BindingFilter) ([]connector.Binding, int64, error)
	ExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string, forceSync bool) (string, error)
	Resync(ctx context.Context, bindingIDs []uuid.UUID, delayed bool) error
}

// BindingHandler handles the /bindings endpoints
type BindingHandler struct {
	BaseHandler
	actions BindingActions
}

// NewBindingHandler creates a new BindingHandler
func NewBindingHandler(actions BindingActions) *BindingHandler {
	return &BindingHandler{actions: actions}
}

// List returns a page of bindings
func (h *BindingHandler) List(c *gin.Context) {
	req := dto.BindingListRequest{ListRequest: dto.DefaultListRequest()}
	if !h.BindQuery(c, &req) {
		return
	}
	filter := connector.BindingFilter{
		Active:   req.Active,
		Unsynced: req.Unsynced,
		Page:     req.Page,
		PageSize: req.PageSize,
	}
	if req.BackendID != "" {
		id := uuid.MustParse(req.BackendID)
		filter.BackendID = &id
	}
	if req.EntityType != "" {
		entityType := connector.EntityType(req.EntityType)
		filter.EntityType = &entityType
	}

	bindings, total, err := h.actions.ListBindings(c.Request.Context(), filter)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.BindingResponse, len(bindings))
	for i := range bindings {
		out[i] = dto.NewBindingResponse(&bindings[i])
	}
	h.SuccessWithMeta(c, out, total, req.Page, req.PageSize)
}

// Get returns one binding
func (h *BindingHandler) Get(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	binding, err := h.actions.FindBinding(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBindingResponse(binding))
}

// Export pushes the record of a binding to the POS
func (h *BindingHandler) Export(c *gin.Context) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return
	}
	var req dto.ExportBindingRequest
	if c.Request.ContentLength != 0 && !h.BindJSON(c, &req) {
		return
	}
	message, err := h.actions.ExportRecord(c.Request.Context(), id, req.Fields, req.ForceSync)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.MessageResponse{Message: message})
}

// Resync re-imports the POS records of the given bindings
func (h *BindingHandler) Resync(c *gin.Context) {
	var req dto.ResyncRequest
	if !h.BindJSON(c, &req) {
		return
	}
	ids := make([]uuid.UUID, len(req.BindingIDs))
	for i, raw := range req.BindingIDs {
		ids[i] = uuid.MustParse(raw)
	}
	if err := h.actions.Resync(c.Request.Context(), ids, req.Delayed); err != nil {
		h.HandleError(c, err)
		return
	}
	if req.Delayed {
		h.Accepted(c, dto.MessageResponse{Message: "Resync queued"})
		return
	}
	h.Success(c, dto.MessageResponse{Message: "Resync done"})
}
