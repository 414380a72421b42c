package connector

import (
	"context"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
)

// Binder owns lookups and mutations of bindings for one entity type.
// It is the only component that writes binding rows.
type Binder interface {
	// ToInternal returns the binding of an external ID, and the internal record when unwrap is set.
	// Both are nil when the record was never bound.
	ToInternal(ctx context.Context, w *WorkContext, externalID string, unwrap bool) (*connector.Binding, *connector.InternalRecord, error)

	// ToExternal returns the external ID of an internal record, "" when unbound.
	// The binding is returned too when wrap is set.
	ToExternal(ctx context.Context, w *WorkContext, internalRef uuid.UUID, wrap bool) (string, *connector.Binding, error)

	// Bind records that externalID and internalRef designate the same record
	Bind(ctx context.Context, w *WorkContext, externalID string, internalRef uuid.UUID) (*connector.Binding, error)

	// Unbind deactivates the binding of an external ID
	Unbind(ctx context.Context, w *WorkContext, externalID string) error

	// GetOrCreatePlaceholder returns the binding of an internal record, creating
	// one without external ID when missing. created reports which happened.
	GetOrCreatePlaceholder(ctx context.Context, w *WorkContext, internalRef uuid.UUID) (binding *connector.Binding, created bool, err error)
}

// ImportState is a step of the record import state machine
type ImportState string

const (
	ImportStart                ImportState = "start"
	ImportDependenciesResolved ImportState = "dependencies_resolved"
	ImportLocked               ImportState = "locked"
	ImportMapped               ImportState = "mapped"
	ImportPersisted            ImportState = "persisted"
	ImportAfterImportHooked    ImportState = "after_import_hooked"
	ImportDone                 ImportState = "done"
	ImportSkipped              ImportState = "skipped"
	ImportFailed               ImportState = "failed"
)

// ImportOptions tunes one record import
type ImportOptions struct {
	// Force re-imports the record even when it has not changed since the last sync
	Force bool
}

// ImportResult describes a finished record import
type ImportResult struct {
	State   ImportState
	Binding *connector.Binding
	Record  *connector.InternalRecord
	Created bool
	Message string
	// Trail lists the states the import went through
	Trail []ImportState
}

// Importer imports one external record
type Importer interface {
	Run(ctx context.Context, w *WorkContext, externalID string, opts ImportOptions) (ImportResult, error)
}

// BatchMode selects how a batch importer processes the IDs it found
type BatchMode string

const (
	BatchDirect  BatchMode = "direct"
	BatchDelayed BatchMode = "delayed"
)

// BatchOptions tunes a batch import
type BatchOptions struct {
	// PageSize is used when the filter does not bound the page
	PageSize int
	// Job carries the queueing parameters of delayed imports
	Job JobOptions
	// Import is passed to every direct import
	Import ImportOptions
}

// BatchImporter searches external IDs and imports them directly or through jobs
type BatchImporter interface {
	Run(ctx context.Context, w *WorkContext, filters connector.Filters, opts BatchOptions) ([]string, error)
}

// ExportOptions tunes one record export
type ExportOptions struct {
	// ForceSync exports dependencies even when they are already bound
	ForceSync bool
}

// Exporter pushes one internal record to the POS
type Exporter interface {
	Run(ctx context.Context, w *WorkContext, bindingID uuid.UUID, fields []string, opts ExportOptions) (string, error)
}

// Deleter deletes a record on the POS
type Deleter interface {
	Run(ctx context.Context, w *WorkContext, externalID string, attributes map[string]any) (string, error)
}

// MatchReport summarizes an auto-matching run
type MatchReport struct {
	AlreadyMapped int
	Mapped        int
	NotMapped     int
	Duration      time.Duration
}

// AutoMatcher binds unbound POS records to existing internal records
type AutoMatcher interface {
	Run(ctx context.Context, w *WorkContext) (MatchReport, error)
}

// Validator checks mapped values before they are written
type Validator interface {
	Validate(ctx context.Context, values connector.Values, forCreate bool) error
}

// ValidatorFunc adapts a function to Validator
type ValidatorFunc func(ctx context.Context, values connector.Values, forCreate bool) error

// Validate calls f
func (f ValidatorFunc) Validate(ctx context.Context, values connector.Values, forCreate bool) error {
	return f(ctx, values, forCreate)
}
