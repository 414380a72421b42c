package dto

import (
	"net/http"

	"github.com/erp/posconnector/internal/domain/connector"
)

// Error code constants organized by category
// Format: ERR_<CATEGORY>_<DESCRIPTION>

// General error codes
const (
	// ErrCodeUnknown is used when the error type is unknown
	ErrCodeUnknown = "ERR_UNKNOWN"
	// ErrCodeInternal is used for internal server errors
	ErrCodeInternal = "ERR_INTERNAL"
)

// Validation error codes
const (
	// ErrCodeValidation is the base code for validation errors
	ErrCodeValidation = "ERR_VALIDATION"
	// ErrCodeValidationRequired is used when a required field is missing
	ErrCodeValidationRequired = "ERR_VALIDATION_REQUIRED"
	// ErrCodeValidationFormat is used when a field has invalid format
	ErrCodeValidationFormat = "ERR_VALIDATION_FORMAT"
)

// Resource error codes
const (
	// ErrCodeNotFound is used when a resource is not found
	ErrCodeNotFound = "ERR_NOT_FOUND"
	// ErrCodeAlreadyExists is used when trying to create a duplicate resource
	ErrCodeAlreadyExists = "ERR_ALREADY_EXISTS"
	// ErrCodeConflict is used for general resource conflicts
	ErrCodeConflict = "ERR_CONFLICT"
	// ErrCodeInvalidState is used when an operation is invalid for current state
	ErrCodeInvalidState = "ERR_INVALID_STATE"
)

// Input error codes
const (
	// ErrCodeBadRequest is used for malformed requests
	ErrCodeBadRequest = "ERR_BAD_REQUEST"
	// ErrCodeInvalidInput is used for invalid input data
	ErrCodeInvalidInput = "ERR_INVALID_INPUT"
	// ErrCodeInvalidJSON is used when JSON parsing fails
	ErrCodeInvalidJSON = "ERR_INVALID_JSON"
	// ErrCodeRequestTooLarge is used when the body exceeds the configured limit
	ErrCodeRequestTooLarge = "ERR_REQUEST_TOO_LARGE"
	// ErrCodeUnauthorized is used when the bearer token is missing or invalid
	ErrCodeUnauthorized = "ERR_UNAUTHORIZED"
	// ErrCodeTokenExpired is used when the bearer token has expired
	ErrCodeTokenExpired = "ERR_TOKEN_EXPIRED"
)

// Synchronization error codes, one per connector.ErrorKind
const (
	// ErrCodeSyncBusy is used when a lock or an inactive backend blocks the call
	ErrCodeSyncBusy = "ERR_SYNC_BUSY"
	// ErrCodeSyncConcurrent is used when a concurrent job updated the same rows
	ErrCodeSyncConcurrent = "ERR_SYNC_CONCURRENT"
	// ErrCodeSyncNetwork is used when the POS webservice could not be reached
	ErrCodeSyncNetwork = "ERR_SYNC_NETWORK"
	// ErrCodeSyncInvalidData is used when a record cannot be mapped or validated
	ErrCodeSyncInvalidData = "ERR_SYNC_INVALID_DATA"
	// ErrCodeSyncRejected is used when the POS refused the call
	ErrCodeSyncRejected = "ERR_SYNC_REJECTED"
	// ErrCodeSyncConflict is used when two bindings claim the same record
	ErrCodeSyncConflict = "ERR_SYNC_CONFLICT"
	// ErrCodeSyncNothingToDo reports a call that had nothing to synchronize
	ErrCodeSyncNothingToDo = "ERR_SYNC_NOTHING_TO_DO"
	// ErrCodePOSAPI is used for webservice failures of an operator action
	ErrCodePOSAPI = "ERR_POS_API"
	// ErrCodeUnsupportedEntity is used when the backend has no component for an entity type
	ErrCodeUnsupportedEntity = "ERR_UNSUPPORTED_ENTITY"
	// ErrCodeJobAlreadyQueued is used when an identical job is already waiting
	ErrCodeJobAlreadyQueued = "ERR_JOB_ALREADY_QUEUED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeUnknown:  http.StatusInternalServerError,
	ErrCodeInternal: http.StatusInternalServerError,

	ErrCodeValidation:         http.StatusBadRequest,
	ErrCodeValidationRequired: http.StatusBadRequest,
	ErrCodeValidationFormat:   http.StatusBadRequest,

	ErrCodeNotFound:      http.StatusNotFound,
	ErrCodeAlreadyExists: http.StatusConflict,
	ErrCodeConflict:      http.StatusConflict,
	ErrCodeInvalidState:  http.StatusUnprocessableEntity,

	ErrCodeBadRequest:      http.StatusBadRequest,
	ErrCodeInvalidInput:    http.StatusBadRequest,
	ErrCodeInvalidJSON:     http.StatusBadRequest,
	ErrCodeRequestTooLarge: http.StatusRequestEntityTooLarge,
	ErrCodeUnauthorized:    http.StatusUnauthorized,
	ErrCodeTokenExpired:    http.StatusUnauthorized,

	ErrCodeSyncBusy:          http.StatusServiceUnavailable,
	ErrCodeSyncConcurrent:    http.StatusServiceUnavailable,
	ErrCodeSyncNetwork:       http.StatusServiceUnavailable,
	ErrCodeSyncInvalidData:   http.StatusUnprocessableEntity,
	ErrCodeSyncRejected:      http.StatusUnprocessableEntity,
	ErrCodeSyncConflict:      http.StatusConflict,
	ErrCodeSyncNothingToDo:   http.StatusOK,
	ErrCodePOSAPI:            http.StatusBadGateway,
	ErrCodeUnsupportedEntity: http.StatusUnprocessableEntity,
	ErrCodeJobAlreadyQueued:  http.StatusConflict,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// syncErrorCodes maps the synchronization error kinds to their API code
var syncErrorCodes = map[connector.ErrorKind]string{
	connector.KindRetryableNetwork:      ErrCodeSyncNetwork,
	connector.KindRetryableBusy:         ErrCodeSyncBusy,
	connector.KindRetryableConcurrent:   ErrCodeSyncConcurrent,
	connector.KindFatalInvalidData:      ErrCodeSyncInvalidData,
	connector.KindFatalExternalRejected: ErrCodeSyncRejected,
	connector.KindConflict:              ErrCodeSyncConflict,
	connector.KindNothingToDo:           ErrCodeSyncNothingToDo,
}

// SyncErrorCode returns the API code of a synchronization error kind
func SyncErrorCode(kind connector.ErrorKind) string {
	if code, ok := syncErrorCodes[kind]; ok {
		return code
	}
	return ErrCodeUnknown
}

// LegacyErrorCodeMapping maps domain error codes to the standardized codes
var LegacyErrorCodeMapping = map[string]string{
	"NOT_FOUND":            ErrCodeNotFound,
	"ALREADY_EXISTS":       ErrCodeAlreadyExists,
	"INVALID_INPUT":        ErrCodeInvalidInput,
	"INVALID_STATE":        ErrCodeInvalidState,
	"CONCURRENCY_CONFLICT": ErrCodeConflict,
	"VALIDATION_ERROR":     ErrCodeValidation,
	"BAD_REQUEST":          ErrCodeBadRequest,
	"INTERNAL_ERROR":       ErrCodeInternal,
}
