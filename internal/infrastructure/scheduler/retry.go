package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
)

// RetryPolicy decides what happens to a job after a run
type RetryPolicy struct {
	// RetryOnLock is the requeue delay when a lock was held
	RetryOnLock time.Duration
	// RetryOnConcurrent is the requeue delay after a concurrent write
	RetryOnConcurrent time.Duration
	// BaseBackoff is the first delay of the network backoff
	BaseBackoff time.Duration
	// MaxBackoff caps the network backoff
	MaxBackoff time.Duration
}

// DefaultRetryPolicy returns the default retry policy
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		RetryOnLock:       time.Second,
		RetryOnConcurrent: time.Second,
		BaseBackoff:       10 * time.Second,
		MaxBackoff:        30 * time.Minute,
	}
}

// Outcome is the next state of a job after a run
type Outcome struct {
	State connector.JobState
	// Message is the result of a done job or the error of any other state
	Message string
	// Delay is how long a pending job waits before its next run
	Delay      time.Duration
	CountRetry bool
}

// Decide maps the result of a run to the job's next state.
// retry is the number of retries already used, maxRetries the budget.
func (p RetryPolicy) Decide(result string, err error, retry, maxRetries int) Outcome {
	if err == nil {
		return Outcome{State: connector.JobStateDone, Message: result}
	}

	var batchErr *connector.BatchSearchError
	if errors.As(err, &batchErr) {
		return Outcome{State: connector.JobStateFailed, Message: err.Error()}
	}

	if connector.IsNothingToDo(err) {
		var se *connector.SyncError
		errors.As(err, &se)
		return Outcome{State: connector.JobStateDone, Message: se.Message}
	}

	// shutdown interrupted the run, it starts over without penalty
	if errors.Is(err, context.Canceled) {
		return Outcome{State: connector.JobStatePending, Message: err.Error()}
	}

	retryable := connector.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
	if !retryable {
		return Outcome{State: connector.JobStateFailed, Message: err.Error()}
	}

	countRetry := !connector.IgnoresRetryCount(err)
	if countRetry && retry >= maxRetries {
		return Outcome{State: connector.JobStateDead, Message: err.Error()}
	}

	return Outcome{
		State:      connector.JobStatePending,
		Message:    err.Error(),
		Delay:      p.delay(err, retry),
		CountRetry: countRetry,
	}
}

func (p RetryPolicy) delay(err error, retry int) time.Duration {
	if after, ok := connector.RetryAfterOf(err); ok {
		return after
	}
	switch connector.KindOf(err) {
	case connector.KindRetryableBusy:
		return p.RetryOnLock
	case connector.KindRetryableConcurrent:
		return p.RetryOnConcurrent
	}
	return p.Backoff(retry + 1)
}

// Backoff returns the exponential delay before the given attempt (1-based)
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.BaseBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}
