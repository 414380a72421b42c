package dto

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetHTTPStatus(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{ErrCodeInternal, http.StatusInternalServerError},
		{ErrCodeValidation, http.StatusBadRequest},
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeConflict, http.StatusConflict},
		{ErrCodeSyncBusy, http.StatusServiceUnavailable},
		{ErrCodeSyncConcurrent, http.StatusServiceUnavailable},
		{ErrCodeSyncNetwork, http.StatusServiceUnavailable},
		{ErrCodeSyncInvalidData, http.StatusUnprocessableEntity},
		{ErrCodeSyncConflict, http.StatusConflict},
		{ErrCodeSyncNothingToDo, http.StatusOK},
		{ErrCodePOSAPI, http.StatusBadGateway},
		{"UNKNOWN_CODE", http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.expected, GetHTTPStatus(tt.code))
		})
	}
}

func TestSyncErrorCode(t *testing.T) {
	kinds := []connector.ErrorKind{
		connector.KindRetryableNetwork,
		connector.KindRetryableBusy,
		connector.KindRetryableConcurrent,
		connector.KindFatalInvalidData,
		connector.KindFatalExternalRejected,
		connector.KindConflict,
		connector.KindNothingToDo,
	}
	for _, kind := range kinds {
		t.Run(string(kind), func(t *testing.T) {
			code := SyncErrorCode(kind)
			assert.NotEqual(t, ErrCodeUnknown, code)
			_, ok := ErrorCodeHTTPStatus[code]
			assert.True(t, ok, "code %s has no HTTP status", code)
		})
	}

	assert.Equal(t, ErrCodeUnknown, SyncErrorCode("SOMETHING_ELSE"))
}

func TestNormalizeErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeNotFound, NormalizeErrorCode("NOT_FOUND"))
	assert.Equal(t, ErrCodeInvalidState, NormalizeErrorCode("INVALID_STATE"))
	assert.Equal(t, ErrCodeSyncBusy, NormalizeErrorCode(ErrCodeSyncBusy))
	assert.Equal(t, "CUSTOM_ERROR", NormalizeErrorCode("CUSTOM_ERROR"))
}

func TestNewErrorResponse(t *testing.T) {
	resp := NewErrorResponseWithRequestID("NOT_FOUND", "Binding not found", "req-1")

	assert.False(t, resp.Success)
	assert.Nil(t, resp.Data)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeNotFound, resp.Error.Code)
	assert.Equal(t, "req-1", resp.Error.RequestID)

	data, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"retryable"`)
}

func TestNewValidationErrorResponse(t *testing.T) {
	resp := NewValidationErrorResponse("Request validation failed", "req-2", []ValidationDetail{
		{Field: "entity_type", Message: "This field is required"},
	})

	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeValidation, resp.Error.Code)
	assert.Len(t, resp.Error.Details, 1)
	assert.Equal(t, "entity_type", resp.Error.Details[0].Field)
}

func TestNewSuccessResponseWithMeta(t *testing.T) {
	resp := NewSuccessResponseWithMeta([]int{1, 2}, 41, 2, 20)

	require.NotNil(t, resp.Meta)
	assert.Equal(t, 3, resp.Meta.TotalPages)

	empty := NewSuccessResponseWithMeta(nil, 5, 1, 0)
	assert.Equal(t, 0, empty.Meta.TotalPages)
}
