package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Backend enums
// ---------------------------------------------------------------------------

// BackendState is the lifecycle state of a backend configuration
type BackendState string

const (
	BackendStateDraft      BackendState = "draft"
	BackendStateChecked    BackendState = "checked"
	BackendStateProduction BackendState = "production"
)

// IsValid returns true if the state is known
func (s BackendState) IsValid() bool {
	switch s {
	case BackendStateDraft, BackendStateChecked, BackendStateProduction:
		return true
	}
	return false
}

// ProductMatchField selects which product field is used to match existing products
type ProductMatchField string

const (
	ProductMatchNone      ProductMatchField = ""
	ProductMatchReference ProductMatchField = "reference"
	ProductMatchBarcode   ProductMatchField = "barcode"
)

// IsValid returns true if the match field is known
func (f ProductMatchField) IsValid() bool {
	switch f {
	case ProductMatchNone, ProductMatchReference, ProductMatchBarcode:
		return true
	}
	return false
}

// ProductQtyField selects how the quantity pushed to the POS is computed
type ProductQtyField string

const (
	QtyAvailable            ProductQtyField = "qty_available"
	QtyAvailableNotReserved ProductQtyField = "qty_available_not_res"
)

// Well-known watermark keys that are not entity types
const (
	WatermarkRefresh EntityType = "refresh"
	WatermarkRoutine EntityType = "routine"
	WatermarkAll     EntityType = "all"
)

// ---------------------------------------------------------------------------
// Backend Entity
// ---------------------------------------------------------------------------

// Backend is the connection configuration of one remote POS instance.
// The engine only reads it; watermarks move forward after a successful batch run.
type Backend struct {
	ID            uuid.UUID
	Name          string
	Location      string
	WebserviceKey string
	// TaxesIncluded selects tax-included prices and totals
	TaxesIncluded bool
	// Watermarks holds the "import since" timestamp per entity type
	Watermarks map[EntityType]time.Time
	// ImportableOrderStates lists the POS order states that may be imported
	ImportableOrderStates []string
	MatchingProductField  ProductMatchField
	// MatchingCustomer matches customers on the internal ref field
	MatchingCustomer bool
	// Timezone is the IANA zone of the POS, used for order dates
	Timezone        string
	ProductQtyField ProductQtyField
	Active          bool
	State           BackendState
	// Verbose logs request details
	Verbose bool
	// Debug turns on the webservice debug mode
	Debug bool
	// RefreshInterval is the period of the refresh import cron
	RefreshInterval time.Duration
	// RoutineInterval is the period of the routine (full) import cron
	RoutineInterval time.Duration
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewBackend creates a new backend in draft state
func NewBackend(name, location, webserviceKey string) (*Backend, error) {
	if name == "" {
		return nil, ErrBackendInvalidName
	}
	if location == "" {
		return nil, ErrBackendInvalidLocation
	}

	now := time.Now()
	return &Backend{
		ID:              uuid.New(),
		Name:            name,
		Location:        location,
		WebserviceKey:   webserviceKey,
		Watermarks:      make(map[EntityType]time.Time),
		ProductQtyField: QtyAvailable,
		Active:          true,
		State:           BackendStateDraft,
		RefreshInterval: 5 * time.Minute,
		RoutineInterval: 1 * time.Minute,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// Validate validates the backend configuration
func (b *Backend) Validate() error {
	if b.Name == "" {
		return ErrBackendInvalidName
	}
	if b.Location == "" {
		return ErrBackendInvalidLocation
	}
	if !b.State.IsValid() {
		return ErrBackendInvalidState
	}
	if !b.MatchingProductField.IsValid() {
		return fmt.Errorf("connector: invalid product match field %q", b.MatchingProductField)
	}
	if b.RefreshInterval <= 0 || b.RoutineInterval <= 0 {
		return ErrBackendInvalidInterval
	}
	if b.Timezone != "" {
		if _, err := time.LoadLocation(b.Timezone); err != nil {
			return fmt.Errorf("%w: %s", ErrBackendInvalidTimezone, b.Timezone)
		}
	}
	return nil
}

// CheckActive returns a retryable error when the backend is inactive, so that
// queued jobs wait for the backend to come back instead of failing.
func (b *Backend) CheckActive() error {
	if !b.Active {
		return &SyncError{
			Kind: KindRetryableBusy,
			Message: fmt.Sprintf("Backend %s is inactive. Please consider changing this. "+
				"The job will be retried later.", b.Name),
		}
	}
	return nil
}

// TimeLocation returns the backend time zone, UTC when unset or invalid
func (b *Backend) TimeLocation() *time.Location {
	if b.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(b.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Watermark returns the "import since" timestamp for an entity type
func (b *Backend) Watermark(entityType EntityType) (time.Time, bool) {
	t, ok := b.Watermarks[entityType]
	return t, ok && !t.IsZero()
}

// AdvanceWatermark moves the watermark for entityType forward. It never moves it back.
func (b *Backend) AdvanceWatermark(entityType EntityType, at time.Time) {
	if b.Watermarks == nil {
		b.Watermarks = make(map[EntityType]time.Time)
	}
	if current, ok := b.Watermarks[entityType]; ok && current.After(at) {
		return
	}
	b.Watermarks[entityType] = at
	b.UpdatedAt = time.Now()
}

// IsOrderStateImportable reports whether a POS order in the given state may be imported.
// Without an explicit list, "processing" and "cancel" orders are not importable.
func (b *Backend) IsOrderStateImportable(state string) bool {
	if len(b.ImportableOrderStates) == 0 {
		return state != "processing" && state != "cancel"
	}
	for _, s := range b.ImportableOrderStates {
		if s == state {
			return true
		}
	}
	return false
}

// MarkChecked records a successful connection check
func (b *Backend) MarkChecked() {
	b.State = BackendStateChecked
	b.UpdatedAt = time.Now()
}

// ResetToDraft sets the backend back to draft state
func (b *Backend) ResetToDraft() {
	b.State = BackendStateDraft
	b.UpdatedAt = time.Now()
}

// ---------------------------------------------------------------------------
// BackendRepository Interface
// ---------------------------------------------------------------------------

// BackendRepository defines persistence for backend configurations
type BackendRepository interface {
	// FindByID finds a backend by its ID
	FindByID(ctx context.Context, id uuid.UUID) (*Backend, error)

	// FindAll returns all backends, optionally only the active ones
	FindAll(ctx context.Context, activeOnly bool) ([]Backend, error)

	// Save creates or updates a backend
	Save(ctx context.Context, backend *Backend) error

	// SaveWatermark persists a single watermark without touching other fields
	SaveWatermark(ctx context.Context, backendID uuid.UUID, entityType EntityType, at time.Time) error
}
