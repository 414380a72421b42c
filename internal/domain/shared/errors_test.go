package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDomainError(t *testing.T) {
	cause := errors.New("unknown time zone Mars/Olympus")
	err := WrapDomainError("INVALID_INPUT", "invalid timezone", cause)

	assert.Equal(t, "invalid timezone", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, fmt.Errorf("create backend: %w", err), ErrInvalidInput)
	assert.NotErrorIs(t, err, NewDomainError("INVALID_STATE", "not allowed"))

	var domainErr *DomainError
	assert.True(t, errors.As(fmt.Errorf("wrapped: %w", err), &domainErr))
	assert.Equal(t, "INVALID_INPUT", domainErr.Code)
}
