package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// JobState is the lifecycle state of a queued synchronization job
type JobState string

const (
	JobStatePending JobState = "pending"
	JobStateStarted JobState = "started"
	JobStateDone    JobState = "done"
	JobStateFailed  JobState = "failed"
	// JobStateDead marks a job that exhausted its retries. It stays for manual inspection.
	JobStateDead JobState = "dead"
)

// IsValid returns true if the state is known
func (s JobState) IsValid() bool {
	switch s {
	case JobStatePending, JobStateStarted, JobStateDone, JobStateFailed, JobStateDead:
		return true
	}
	return false
}

// IsFinal returns true when the job will not run again on its own
func (s JobState) IsFinal() bool {
	return s == JobStateDone || s == JobStateFailed || s == JobStateDead
}

// SyncJob is the persisted record of one queued job (table sync_jobs)
type SyncJob struct {
	ID        uuid.UUID
	Kind      string
	BackendID uuid.UUID
	// Payload is the JSON encoded job
	Payload     []byte
	State       JobState
	Priority    int
	ETA         time.Time
	Retry       int
	MaxRetries  int
	Channel     string
	IdentityKey string
	Description string
	// Result is the message of a done job
	Result string
	// ExcInfo is the last error of a failed, dead or retried job
	ExcInfo   string
	CreatedAt time.Time
	StartedAt *time.Time
	DoneAt    *time.Time
	UpdatedAt time.Time
}

// Start marks the job as running
func (j *SyncJob) Start(at time.Time) {
	j.State = JobStateStarted
	j.StartedAt = &at
	j.UpdatedAt = at
}

// Finish marks the job as done with its result message
func (j *SyncJob) Finish(result string, at time.Time) {
	j.State = JobStateDone
	j.Result = result
	j.ExcInfo = ""
	j.DoneAt = &at
	j.UpdatedAt = at
}

// Fail marks the job as failed for good
func (j *SyncJob) Fail(excInfo string, at time.Time) {
	j.State = JobStateFailed
	j.ExcInfo = excInfo
	j.DoneAt = &at
	j.UpdatedAt = at
}

// Kill marks the job as dead after its retries ran out
func (j *SyncJob) Kill(excInfo string, at time.Time) {
	j.State = JobStateDead
	j.ExcInfo = excInfo
	j.DoneAt = &at
	j.UpdatedAt = at
}

// Postpone puts the job back in the queue until eta. countRetry consumes one
// unit of the retry budget.
func (j *SyncJob) Postpone(excInfo string, eta time.Time, countRetry bool) {
	j.State = JobStatePending
	j.ExcInfo = excInfo
	j.ETA = eta
	if countRetry {
		j.Retry++
	}
	j.UpdatedAt = time.Now()
}

// Requeue resets a failed or dead job so that it runs again from scratch
func (j *SyncJob) Requeue(eta time.Time) {
	j.State = JobStatePending
	j.Retry = 0
	j.ETA = eta
	j.DoneAt = nil
	j.UpdatedAt = time.Now()
}

// JobFilter defines filter criteria for jobs
type JobFilter struct {
	BackendID *uuid.UUID
	State     *JobState
	Kind      string
	// OrderBy is a column name, validated by the repository
	OrderBy  string
	OrderDir string
	Page     int
	PageSize int
}

// JobRepository defines persistence for queued jobs
type JobRepository interface {
	// FindByID finds a job by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*SyncJob, error)

	// FindAll finds jobs matching the filter, newest first
	FindAll(ctx context.Context, filter JobFilter) ([]SyncJob, error)

	// Count counts jobs matching the filter
	Count(ctx context.Context, filter JobFilter) (int64, error)

	// FindPending returns the jobs that still have to run, in priority order
	FindPending(ctx context.Context) ([]SyncJob, error)

	// Save creates or updates a job
	Save(ctx context.Context, job *SyncJob) error
}
