package connector

import (
	"context"
	"errors"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
)

// Store gives access to the repositories of one database transaction.
// All repositories returned share the same underlying transaction.
type Store interface {
	// Bindings returns the binding repository scoped to the transaction
	Bindings() connector.BindingRepository
	// Records returns the internal record repository scoped to the transaction
	Records() connector.RecordRepository
	// Locker returns the advisory/row locker scoped to the transaction
	Locker() connector.Locker
}

// TransactionScope defines the interface for executing operations within a transaction.
type TransactionScope interface {
	// Execute runs the given function within a database transaction.
	// If the function returns an error, the transaction is rolled back.
	// If the function succeeds, the transaction is committed.
	Execute(ctx context.Context, fn func(store Store) error) error

	// ExecuteIndependent runs fn in a fresh transaction opened from the root
	// connection, even when the caller is already inside Execute. It commits
	// on its own and sees only committed data.
	ExecuteIndependent(ctx context.Context, fn func(store Store) error) error
}

// ---------------------------------------------------------------------------
// Scheduler port
// ---------------------------------------------------------------------------

// ErrJobAlreadyQueued is returned by Schedule when a pending job carries the same identity key
var ErrJobAlreadyQueued = errors.New("connector: job with the same identity key is already queued")

// JobKind identifies the operation a queued job performs
type JobKind string

const (
	JobImportRecord  JobKind = "import_record"
	JobImportBatch   JobKind = "import_batch"
	JobImportSince   JobKind = "import_since"
	JobExportRecord  JobKind = "export_record"
	JobDeleteRecord  JobKind = "delete_record"
	JobImportRefresh JobKind = "import_refresh"
	JobImportAll     JobKind = "import_all"
)

// Job is the payload of one asynchronous unit of work
type Job struct {
	Kind       JobKind              `json:"kind"`
	BackendID  uuid.UUID            `json:"backend_id"`
	EntityType connector.EntityType `json:"entity_type,omitempty"`
	ExternalID string               `json:"external_id,omitempty"`
	BindingID  uuid.UUID            `json:"binding_id,omitempty"`
	Fields     []string             `json:"fields,omitempty"`
	Filters    *connector.Filters   `json:"filters,omitempty"`
	Attributes map[string]any       `json:"attributes,omitempty"`
	Force      bool                 `json:"force,omitempty"`
}

// JobOptions carries the queueing parameters of a job
type JobOptions struct {
	// Priority orders ready jobs, lower runs first
	Priority int
	// ETA delays the job until the given time (optional)
	ETA time.Time
	// MaxRetries is the retry budget, 0 uses the scheduler default
	MaxRetries int
	// Channel names the queue channel (e.g. "root.pos")
	Channel string
	// IdentityKey de-duplicates identical pending jobs (optional)
	IdentityKey string
	// Description is a human readable job label
	Description string
}

// Scheduler queues asynchronous jobs
type Scheduler interface {
	Schedule(ctx context.Context, job Job, opts JobOptions) (uuid.UUID, error)
}
