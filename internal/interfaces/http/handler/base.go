package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/domain/shared"
	"github.com/erp/posconnector/internal/infrastructure/logger"
	"github.com/erp/posconnector/internal/interfaces/http/dto"
	"github.com/erp/posconnector/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RequestIDKey is the context key for request ID
const RequestIDKey = "X-Request-ID"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// getRequestID extracts the request ID from the context
func getRequestID(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	if id := logger.GetRequestID(c.Request.Context()); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// Accepted sends a 202 response for work handed over to the job queue
func (h *BaseHandler) Accepted(c *gin.Context, data any) {
	c.JSON(http.StatusAccepted, dto.NewSuccessResponse(data))
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, getRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// Conflict sends a 409 conflict response
func (h *BaseHandler) Conflict(c *gin.Context, code, message string) {
	h.Error(c, http.StatusConflict, code, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// ValidationError sends a 400 validation error response with details
func (h *BaseHandler) ValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, middleware.FormatValidationErrors(err, getRequestID(c)))
}

// BindJSON binds and validates the request body. It answers the request
// itself and returns false when the body is invalid.
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

// BindQuery binds and validates the query string
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

func (h *BaseHandler) bindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		h.ValidationError(c, verrs)
		return
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		h.Error(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge, "Request body exceeds maximum allowed size")
		return
	}
	h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Invalid request body: "+err.Error())
}

// ParamUUID parses a UUID path parameter, answering 400 when it is malformed
func (h *BaseHandler) ParamUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		h.BadRequest(c, "Invalid "+name+": must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

// notFoundErrors are the lookups that answer 404
var notFoundErrors = []error{
	connector.ErrBackendNotFound,
	connector.ErrBindingNotFound,
	connector.ErrRecordNotFound,
	connector.ErrJobNotFound,
}

// invalidInputErrors are the domain validation failures that answer 400
var invalidInputErrors = []error{
	connector.ErrBackendInvalidName,
	connector.ErrBackendInvalidLocation,
	connector.ErrBackendInvalidInterval,
	connector.ErrBackendInvalidState,
	connector.ErrBackendInvalidTimezone,
	connector.ErrBindingInvalidBackendID,
	connector.ErrBindingInvalidEntityType,
	connector.ErrBindingInvalidRef,
}

// HandleError converts connector and domain errors to HTTP responses
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	requestID := getRequestID(c)

	var apiErr *connector.APIError
	if errors.As(err, &apiErr) {
		resp := dto.NewErrorResponseWithRequestID(dto.ErrCodePOSAPI, apiErr.Error(), requestID)
		resp.Error.Retryable = apiErr.Network
		c.JSON(http.StatusBadGateway, resp)
		return
	}

	var syncErr *connector.SyncError
	if errors.As(err, &syncErr) {
		if syncErr.Kind == connector.KindNothingToDo {
			h.Success(c, dto.MessageResponse{Message: syncErr.Message})
			return
		}
		code := dto.SyncErrorCode(syncErr.Kind)
		resp := dto.NewErrorResponseWithRequestID(code, syncErr.Error(), requestID)
		resp.Error.Retryable = syncErr.Kind.IsRetryable()
		if retryAfter, ok := connector.RetryAfterOf(err); ok {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Round(time.Second)/time.Second)))
		}
		c.JSON(dto.GetHTTPStatus(code), resp)
		return
	}

	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			h.NotFound(c, target.Error())
			return
		}
	}
	for _, target := range invalidInputErrors {
		if errors.Is(err, target) {
			h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	switch {
	case errors.Is(err, connector.ErrComponentNotRegistered), errors.Is(err, connector.ErrComponentWrongRole):
		h.Error(c, http.StatusUnprocessableEntity, dto.ErrCodeUnsupportedEntity, err.Error())
		return
	case errors.Is(err, appconnector.ErrJobAlreadyQueued):
		h.Conflict(c, dto.ErrCodeJobAlreadyQueued, err.Error())
		return
	case errors.Is(err, connector.ErrBindingAlreadyExists):
		h.Conflict(c, dto.ErrCodeAlreadyExists, err.Error())
		return
	}

	var domainErr *shared.DomainError
	if errors.As(err, &domainErr) {
		code := dto.NormalizeErrorCode(domainErr.Code)
		c.JSON(dto.GetHTTPStatus(code), dto.NewErrorResponseWithRequestID(code, domainErr.Message, requestID))
		return
	}

	logger.L(c.Request.Context()).Error("Unhandled API error",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	_ = c.Error(err)
	h.InternalError(c, "An unexpected error occurred")
}
