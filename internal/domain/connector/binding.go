package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// EntityType
// ---------------------------------------------------------------------------

// EntityType names a kind of synchronized record (customer, sale_order, ...)
type EntityType string

// IsValid returns true if the entity type is non-empty
func (t EntityType) IsValid() bool {
	return t != ""
}

// String returns the string representation
func (t EntityType) String() string {
	return string(t)
}

// ---------------------------------------------------------------------------
// Binding Entity
// ---------------------------------------------------------------------------

// Binding maps one internal record to one external record for one backend.
// The binding references the internal record; deleting the record removes
// the binding, never the other way round.
type Binding struct {
	// ID is the unique identifier of this binding
	ID uuid.UUID
	// BackendID is the POS backend this binding belongs to
	BackendID uuid.UUID
	// EntityType is the kind of record being bound
	EntityType EntityType
	// ExternalID is the record ID on the POS, empty while the binding is an export placeholder
	ExternalID string
	// InternalRef is the internal record this binding wraps
	InternalRef uuid.UUID
	// Active is the soft-delete flag
	Active bool
	// NoExport suppresses automatic export triggers
	NoExport bool
	// SyncDate is when the binding was last synchronized
	SyncDate *time.Time
	// CreatedAt is when this binding was created
	CreatedAt time.Time
	// UpdatedAt is when this binding was last updated
	UpdatedAt time.Time
}

// NewBinding creates a new binding. externalID may be empty for a placeholder.
func NewBinding(backendID uuid.UUID, entityType EntityType, externalID string, internalRef uuid.UUID) (*Binding, error) {
	if backendID == uuid.Nil {
		return nil, ErrBindingInvalidBackendID
	}
	if !entityType.IsValid() {
		return nil, ErrBindingInvalidEntityType
	}
	if internalRef == uuid.Nil {
		return nil, ErrBindingInvalidRef
	}

	now := time.Now()
	return &Binding{
		ID:          uuid.New(),
		BackendID:   backendID,
		EntityType:  entityType,
		ExternalID:  externalID,
		InternalRef: internalRef,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// IsBound returns true once the POS assigned an ID to this binding
func (b *Binding) IsBound() bool {
	return b.ExternalID != "" && b.ExternalID != "0"
}

// MarkSynced records a successful synchronization with the given external ID
func (b *Binding) MarkSynced(externalID string, at time.Time) {
	b.ExternalID = externalID
	b.SyncDate = &at
	b.UpdatedAt = at
}

// Deactivate soft-deletes this binding
func (b *Binding) Deactivate() {
	b.Active = false
	b.UpdatedAt = time.Now()
}

// Activate restores a soft-deleted binding
func (b *Binding) Activate() {
	b.Active = true
	b.UpdatedAt = time.Now()
}

// DisableExport stops automatic exports for this binding
func (b *Binding) DisableExport() {
	b.NoExport = true
	b.UpdatedAt = time.Now()
}

// EnableExport re-enables automatic exports
func (b *Binding) EnableExport() {
	b.NoExport = false
	b.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// BindingRepository Interface
// ---------------------------------------------------------------------------

// BindingReader defines the interface for reading bindings
type BindingReader interface {
	// FindByID finds a binding by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Binding, error)

	// FindByExternalID finds the binding for (backend, entity type, external ID)
	FindByExternalID(ctx context.Context, backendID uuid.UUID, entityType EntityType, externalID string) (*Binding, error)

	// FindByInternalRef finds the binding for (backend, entity type, internal record)
	FindByInternalRef(ctx context.Context, backendID uuid.UUID, entityType EntityType, internalRef uuid.UUID) (*Binding, error)
}

// BindingFinder defines the interface for searching bindings
type BindingFinder interface {
	// FindAll finds bindings matching the filter
	FindAll(ctx context.Context, filter BindingFilter) ([]Binding, error)

	// Count counts bindings matching the filter
	Count(ctx context.Context, filter BindingFilter) (int64, error)
}

// BindingWriter defines the interface for persisting bindings
type BindingWriter interface {
	// Create inserts a new binding. A uniqueness violation is returned as ErrBindingAlreadyExists.
	Create(ctx context.Context, binding *Binding) error

	// Save updates an existing binding
	Save(ctx context.Context, binding *Binding) error

	// Delete hard-deletes a binding
	Delete(ctx context.Context, id uuid.UUID) error
}

// BindingRepository defines the full interface for binding persistence
type BindingRepository interface {
	BindingReader
	BindingFinder
	BindingWriter
}

// BindingFilter defines filter criteria for bindings
type BindingFilter struct {
	// BackendID filters by backend (optional)
	BackendID *uuid.UUID
	// EntityType filters by entity type (optional)
	EntityType *EntityType
	// InternalRef filters by bound internal record (optional)
	InternalRef *uuid.UUID
	// Active filters by active status (optional)
	Active *bool
	// Unsynced keeps only placeholders without an external ID
	Unsynced bool
	// Page number (1-indexed)
	Page int
	// Page size
	PageSize int
}
