package connector

import (
	"errors"
	"fmt"
	"time"
)

// ---------------------------------------------------------------------------
// Connector Errors
// ---------------------------------------------------------------------------

var (
	// Binding errors
	ErrBindingInvalidBackendID  = errors.New("connector: invalid backend ID")
	ErrBindingInvalidEntityType = errors.New("connector: invalid entity type")
	ErrBindingInvalidRef        = errors.New("connector: invalid internal reference")
	ErrBindingNotFound          = errors.New("connector: binding not found")
	ErrBindingAlreadyExists     = errors.New("connector: binding already exists")

	// Backend errors
	ErrBackendNotFound        = errors.New("connector: backend not found")
	ErrBackendInvalidName     = errors.New("connector: invalid backend name")
	ErrBackendInvalidLocation = errors.New("connector: invalid backend location")
	ErrBackendInvalidInterval = errors.New("connector: interval time must be larger than 0")
	ErrBackendInvalidState    = errors.New("connector: invalid backend state")
	ErrBackendInvalidTimezone = errors.New("connector: invalid backend timezone")

	// Internal record errors
	ErrRecordNotFound = errors.New("connector: internal record not found")

	// Job errors
	ErrJobNotFound = errors.New("connector: job not found")

	// Adapter errors
	ErrAdapterUnavailable     = errors.New("connector: POS webservice temporarily unavailable")
	ErrAdapterRequestFailed   = errors.New("connector: POS webservice request failed")
	ErrAdapterInvalidResponse = errors.New("connector: invalid POS webservice response")

	// Registry errors
	ErrComponentNotRegistered = errors.New("connector: no component registered")
	ErrComponentWrongRole     = errors.New("connector: component does not implement role")
)

// ---------------------------------------------------------------------------
// SyncError taxonomy
// ---------------------------------------------------------------------------

// ErrorKind classifies a synchronization failure.
type ErrorKind string

const (
	// KindRetryableNetwork is a transport-level failure reaching the POS
	KindRetryableNetwork ErrorKind = "RETRYABLE_NETWORK"
	// KindRetryableBusy means a lock is held by another worker
	KindRetryableBusy ErrorKind = "RETRYABLE_BUSY"
	// KindRetryableConcurrent means a concurrent duplicate was detected
	KindRetryableConcurrent ErrorKind = "RETRYABLE_CONCURRENT"
	// KindFatalInvalidData means the mapped payload failed validation
	KindFatalInvalidData ErrorKind = "FATAL_INVALID_DATA"
	// KindFatalExternalRejected means the POS accepted a call but returned no usable ID
	KindFatalExternalRejected ErrorKind = "FATAL_EXTERNAL_REJECTED"
	// KindNothingToDo means a business rule decided there is nothing to synchronize
	KindNothingToDo ErrorKind = "NOTHING_TO_DO"
	// KindConflict means a binding invariant would be violated
	KindConflict ErrorKind = "CONFLICT"
)

// IsRetryable returns true for kinds the scheduler re-queues
func (k ErrorKind) IsRetryable() bool {
	switch k {
	case KindRetryableNetwork, KindRetryableBusy, KindRetryableConcurrent:
		return true
	}
	return false
}

// String returns the string representation
func (k ErrorKind) String() string {
	return string(k)
}

const (
	// RetryOnAdvisoryLock is the re-queue delay when an advisory lock is taken
	RetryOnAdvisoryLock = 1 * time.Second
	// RetryWhenConcurrentDetected is the re-queue delay after a concurrent import was detected
	RetryWhenConcurrentDetected = 1 * time.Second
)

// SyncError is the error type returned by importers, exporters and adapters.
// The scheduler decides between re-queue, failure and success from its Kind.
type SyncError struct {
	Kind    ErrorKind
	Message string
	// RetryAfter overrides the scheduler backoff when set
	RetryAfter time.Duration
	// IgnoreRetryCount keeps the job from consuming its retry budget
	IgnoreRetryCount bool
	Err              error
}

// Error implements the error interface
func (e *SyncError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying error
func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewRetryableNetworkError wraps a transport failure
func NewRetryableNetworkError(err error) *SyncError {
	return &SyncError{
		Kind:    KindRetryableNetwork,
		Message: "A network error caused the failure of the job",
		Err:     err,
	}
}

// NewRetryableBusyError reports lock contention
func NewRetryableBusyError(message string, err error) *SyncError {
	return &SyncError{
		Kind:       KindRetryableBusy,
		Message:    message,
		RetryAfter: RetryOnAdvisoryLock,
		Err:        err,
	}
}

// NewRetryableConcurrentError reports a concurrent duplicate. The job never
// exhausts its retry budget because of it.
func NewRetryableConcurrentError(message string, err error) *SyncError {
	return &SyncError{
		Kind:             KindRetryableConcurrent,
		Message:          message,
		RetryAfter:       RetryWhenConcurrentDetected,
		IgnoreRetryCount: true,
		Err:              err,
	}
}

// NewInvalidDataError reports mapped data that failed validation
func NewInvalidDataError(message string, err error) *SyncError {
	return &SyncError{Kind: KindFatalInvalidData, Message: message, Err: err}
}

// NewExternalRejectedError reports a POS call that produced no usable identifier
func NewExternalRejectedError(message string) *SyncError {
	return &SyncError{Kind: KindFatalExternalRejected, Message: message}
}

// NewNothingToDoError ends a job successfully with an explanation
func NewNothingToDoError(message string) *SyncError {
	return &SyncError{Kind: KindNothingToDo, Message: message}
}

// NewConflictError reports a binding uniqueness violation
func NewConflictError(message string, err error) *SyncError {
	return &SyncError{Kind: KindConflict, Message: message, Err: err}
}

// KindOf returns the SyncError kind in err's chain, or "" when there is none
func KindOf(err error) ErrorKind {
	var se *SyncError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// IsRetryable reports whether err should be re-queued
func IsRetryable(err error) bool {
	return KindOf(err).IsRetryable()
}

// IsNothingToDo reports whether err is a successful no-op
func IsNothingToDo(err error) bool {
	return IsKind(err, KindNothingToDo)
}

// RetryAfterOf returns the requested re-queue delay, if any
func RetryAfterOf(err error) (time.Duration, bool) {
	var se *SyncError
	if errors.As(err, &se) && se.RetryAfter > 0 {
		return se.RetryAfter, true
	}
	return 0, false
}

// IgnoresRetryCount reports whether err must not consume the retry budget
func IgnoresRetryCount(err error) bool {
	var se *SyncError
	return errors.As(err, &se) && se.IgnoreRetryCount
}

// ---------------------------------------------------------------------------
// User-facing errors
// ---------------------------------------------------------------------------

// BatchSearchError is raised when a batch search returns nothing or fails.
// It is a warning shown to an operator and is never retried silently.
type BatchSearchError struct {
	Resource string
	Err      error
}

// Error implements the error interface
func (e *BatchSearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("Failed to query %s via POS webservice: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("Failed to query %s via POS webservice", e.Resource)
}

// Unwrap returns the underlying error
func (e *BatchSearchError) Unwrap() error {
	return e.Err
}

// APIError is a user-facing wrapper around POS call failures triggered
// directly by an operator rather than by a queued job.
type APIError struct {
	Message string
	Network bool
	Err     error
}

// Error implements the error interface
func (e *APIError) Error() string {
	prefix := ""
	if e.Message != "" {
		prefix = e.Message + "\n\n"
	}
	if e.Network {
		return fmt.Sprintf("%sNetwork Error:\n\n%v", prefix, e.Err)
	}
	return fmt.Sprintf("%sAPI / Network Error:\n\n%v", prefix, e.Err)
}

// Unwrap returns the underlying error
func (e *APIError) Unwrap() error {
	return e.Err
}

// HandleAPIErrors turns adapter failures into an APIError. Other errors pass through.
func HandleAPIErrors(message string, err error) error {
	if err == nil {
		return nil
	}
	if IsKind(err, KindRetryableNetwork) {
		return &APIError{Message: message, Network: true, Err: err}
	}
	if errors.Is(err, ErrAdapterRequestFailed) || errors.Is(err, ErrAdapterInvalidResponse) ||
		errors.Is(err, ErrAdapterUnavailable) {
		return &APIError{Message: message, Err: err}
	}
	return err
}
