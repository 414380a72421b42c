package pos

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
)

// maxErrorBody bounds the response body kept in an HTTPError
const maxErrorBody = 512

// ErrMissingLocation is returned when a backend has no location
var ErrMissingLocation = errors.New("pos: backend location is empty")

// HTTPError is a webservice response with an error status
type HTTPError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s %s: HTTP %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: HTTP %d: %s", e.Method, e.URL, e.StatusCode, e.Body)
}

// Unwrap maps server side and throttling statuses to ErrAdapterUnavailable
// and the others to ErrAdapterRequestFailed.
func (e *HTTPError) Unwrap() error {
	if isTransient(e.StatusCode) {
		return connector.ErrAdapterUnavailable
	}
	return connector.ErrAdapterRequestFailed
}

func isTransient(status int) bool {
	switch status {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return status >= http.StatusInternalServerError
}

// classifyStatus returns the error of a non 2xx response. Transient
// statuses on idempotent calls are retryable network errors.
func classifyStatus(resp *http.Response, body []byte, idempotent bool) error {
	if len(body) > maxErrorBody {
		body = body[:maxErrorBody]
	}
	httpErr := &HTTPError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
	if !idempotent || !isTransient(resp.StatusCode) {
		return httpErr
	}
	netErr := connector.NewRetryableNetworkError(httpErr)
	if after, ok := retryAfter(resp.Header.Get("Retry-After")); ok {
		netErr.RetryAfter = after
	}
	return netErr
}

// retryAfter parses a Retry-After header given in seconds
func retryAfter(header string) (time.Duration, bool) {
	if header == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(header)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}
