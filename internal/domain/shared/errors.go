// Package shared holds the error type used outside the sync error kinds.
package shared

import "errors"

// DomainError is a validation or state error with a stable code.
// The HTTP layer maps Code onto an ERR_ response code.
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *DomainError) Error() string {
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is matches another DomainError by code
func (e *DomainError) Is(target error) bool {
	var other *DomainError
	return errors.As(target, &other) && other.Code == e.Code
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{Code: code, Message: message}
}

// WrapDomainError creates a domain error keeping err as cause
func WrapDomainError(code, message string, err error) *DomainError {
	return &DomainError{Code: code, Message: message, Err: err}
}

// ErrInvalidInput matches any INVALID_INPUT domain error
var ErrInvalidInput = NewDomainError("INVALID_INPUT", "Invalid input provided")
