package handler

import (
	"context"
	"strconv"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/domain/shared"
	"github.com/erp/posconnector/internal/infrastructure/logger"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BackendActions are the operator actions of a backend
type BackendActions interface {
	CheckConnection(ctx context.Context, backendID uuid.UUID) error
	ResetToDraft(ctx context.Context, backendID uuid.UUID) error
	ImportRecord(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string, force bool) (appconnector.ImportResult, error)
	ImportSince(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType) error
	ImportRefresh(ctx context.Context, backendID uuid.UUID) error
	ImportAll(ctx context.Context, backendID uuid.UUID) error
	MatchRecords(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType) (appconnector.MatchReport, error)
	ExportDeleteRecord(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string, attributes map[string]any) (string, error)
}

// BackendHandler handles the /backends endpoints
type BackendHandler struct {
	BaseHandler
	backends connector.BackendRepository
	actions  BackendActions
}

// NewBackendHandler creates a new BackendHandler
func NewBackendHandler(backends connector.BackendRepository, actions BackendActions) *BackendHandler {
	return &BackendHandler{backends: backends, actions: actions}
}

// backendID reads the :id parameter and tags the request logger with it
func (h *BackendHandler) backendID(c *gin.Context) (uuid.UUID, bool) {
	id, ok := h.ParamUUID(c, "id")
	if !ok {
		return uuid.Nil, false
	}
	c.Request = c.Request.WithContext(logger.WithBackendID(c.Request.Context(), id))
	return id, true
}

// List returns the backends. ?active=true keeps only the active ones.
func (h *BackendHandler) List(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.Query("active"))
	backends, err := h.backends.FindAll(c.Request.Context(), activeOnly)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	out := make([]dto.BackendResponse, len(backends))
	for i := range backends {
		out[i] = dto.NewBackendResponse(&backends[i])
	}
	h.Success(c, out)
}

// Get returns one backend
func (h *BackendHandler) Get(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	backend, err := h.backends.FindByID(c.Request.Context(), id)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewBackendResponse(backend))
}

// Create registers a backend in draft state
func (h *BackendHandler) Create(c *gin.Context) {
	var req dto.CreateBackendRequest
	if !h.BindJSON(c, &req) {
		return
	}
	backend, err := connector.NewBackend(req.Name, req.Location, req.WebserviceKey)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	backend.TaxesIncluded = req.TaxesIncluded
	backend.ImportableOrderStates = req.ImportableOrderStates
	backend.MatchingProductField = connector.ProductMatchField(req.MatchingProductField)
	backend.MatchingCustomer = req.MatchingCustomer
	backend.Timezone = req.Timezone
	backend.Verbose = req.Verbose
	backend.Debug = req.Debug
	if req.ProductQtyField != "" {
		backend.ProductQtyField = connector.ProductQtyField(req.ProductQtyField)
	}
	if req.RefreshInterval > 0 {
		backend.RefreshInterval = time.Duration(req.RefreshInterval) * time.Minute
	}
	if req.RoutineInterval > 0 {
		backend.RoutineInterval = time.Duration(req.RoutineInterval) * time.Minute
	}
	if err := backend.Validate(); err != nil {
		h.HandleError(c, shared.WrapDomainError("INVALID_INPUT", err.Error(), err))
		return
	}
	if err := h.backends.Save(c.Request.Context(), backend); err != nil {
		h.HandleError(c, err)
		return
	}
	logger.L(c.Request.Context()).Info("Backend created",
		zap.String("backend_id", backend.ID.String()),
		zap.String("name", backend.Name),
	)
	h.Created(c, dto.NewBackendResponse(backend))
}

// CheckConnection tests the POS credentials of a backend
func (h *BackendHandler) CheckConnection(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	if err := h.actions.CheckConnection(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.MessageResponse{Message: "Connection successful"})
}

// ResetToDraft moves a backend back to draft
func (h *BackendHandler) ResetToDraft(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	if err := h.actions.ResetToDraft(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.MessageResponse{Message: "Backend reset to draft"})
}

// ImportRecord imports one POS record synchronously
func (h *BackendHandler) ImportRecord(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	var req dto.ImportRecordRequest
	if !h.BindJSON(c, &req) {
		return
	}
	result, err := h.actions.ImportRecord(c.Request.Context(), id, connector.EntityType(req.EntityType), req.ExternalID, req.Force)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewImportResultResponse(result))
}

// ImportSince queues the import of the records changed since the last run
func (h *BackendHandler) ImportSince(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	var req dto.EntityRequest
	if !h.BindJSON(c, &req) {
		return
	}
	if err := h.actions.ImportSince(c.Request.Context(), id, connector.EntityType(req.EntityType)); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, dto.MessageResponse{Message: "Import of " + req.EntityType + " queued"})
}

// ImportRefresh queues the refresh chain
func (h *BackendHandler) ImportRefresh(c *gin.Context) {
	h.chain(c, h.actions.ImportRefresh, "Refresh import queued")
}

// ImportAll queues the full import chain
func (h *BackendHandler) ImportAll(c *gin.Context) {
	h.chain(c, h.actions.ImportAll, "Full import queued")
}

func (h *BackendHandler) chain(c *gin.Context, run func(context.Context, uuid.UUID) error, message string) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	if err := run(c.Request.Context(), id); err != nil {
		h.HandleError(c, err)
		return
	}
	h.Accepted(c, dto.MessageResponse{Message: message})
}

// Match binds unbound POS records to existing internal records
func (h *BackendHandler) Match(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	var req dto.EntityRequest
	if !h.BindJSON(c, &req) {
		return
	}
	report, err := h.actions.MatchRecords(c.Request.Context(), id, connector.EntityType(req.EntityType))
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.NewMatchReportResponse(report))
}

// DeleteRecord deletes a record on the POS
func (h *BackendHandler) DeleteRecord(c *gin.Context) {
	id, ok := h.backendID(c)
	if !ok {
		return
	}
	var req dto.DeleteRecordRequest
	if !h.BindJSON(c, &req) {
		return
	}
	message, err := h.actions.ExportDeleteRecord(c.Request.Context(), id, connector.EntityType(req.EntityType), req.ExternalID, req.Attributes)
	if err != nil {
		h.HandleError(c, err)
		return
	}
	h.Success(c, dto.MessageResponse{Message: message})
}
