package connector

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Values is a set of mapped field values, internal or external
type Values map[string]any

// Record is a raw record read from the POS
type Record map[string]any

// String returns the field as a string, "" when absent
func (r Record) String(key string) string {
	return stringify(r[key])
}

// Nested returns a nested object field, nil when absent
func (r Record) Nested(key string) Record {
	switch v := r[key].(type) {
	case map[string]any:
		return Record(v)
	case Record:
		return v
	}
	return nil
}

// List returns a list-of-objects field
func (r Record) List(key string) []Record {
	raw, ok := r[key].([]any)
	if !ok {
		if typed, ok := r[key].([]Record); ok {
			return typed
		}
		return nil
	}
	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		if m, ok := item.(map[string]any); ok {
			out = append(out, Record(m))
		}
	}
	return out
}

// String returns the value as a string, "" when absent
func (v Values) String(key string) string {
	return stringify(v[key])
}

// ---------------------------------------------------------------------------
// InternalRecord Entity
// ---------------------------------------------------------------------------

// InternalRecord is an entity of the internal store. Its business fields are
// owned by the mappers; the store only keeps them keyed by entity type.
type InternalRecord struct {
	ID         uuid.UUID
	EntityType EntityType
	Values     Values
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// NewInternalRecord creates a new internal record
func NewInternalRecord(entityType EntityType, values Values) (*InternalRecord, error) {
	if !entityType.IsValid() {
		return nil, ErrBindingInvalidEntityType
	}
	if values == nil {
		values = Values{}
	}
	now := time.Now()
	return &InternalRecord{
		ID:         uuid.New(),
		EntityType: entityType,
		Values:     values,
		CreatedAt:  now,
		UpdatedAt:  now,
	}, nil
}

// Apply merges values into the record
func (r *InternalRecord) Apply(values Values) {
	if r.Values == nil {
		r.Values = Values{}
	}
	for k, v := range values {
		r.Values[k] = v
	}
	r.UpdatedAt = time.Now()
}

// RecordRepository defines persistence for internal records
type RecordRepository interface {
	// FindByID finds a record by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*InternalRecord, error)

	// FindAll returns every record of an entity type
	FindAll(ctx context.Context, entityType EntityType) ([]InternalRecord, error)

	// FindByValue returns records whose value at key equals value
	FindByValue(ctx context.Context, entityType EntityType, key, value string) ([]InternalRecord, error)

	// Create inserts a record
	Create(ctx context.Context, record *InternalRecord) error

	// Save updates a record
	Save(ctx context.Context, record *InternalRecord) error

	// Delete deletes a record and, by cascade, its bindings
	Delete(ctx context.Context, id uuid.UUID) error
}
