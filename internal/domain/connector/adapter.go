package connector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

// Filters selects external records for a search.
// A filter with Limit or Page set designates exactly one page.
type Filters struct {
	// Since keeps records modified after this time (optional)
	Since *time.Time
	// Before keeps records modified before this time (optional)
	Before *time.Time
	// Offset is the index of the first record of the page
	Offset int
	// Limit is the page size
	Limit int
	// Page is the 1-indexed page number, converted to Offset with Limit
	Page int
	// Extra carries backend-specific filter parameters
	Extra map[string]string
}

// IsBounded returns true if the filter designates a single page
func (f Filters) IsBounded() bool {
	return f.Limit > 0 || f.Page > 0
}

// Clone returns a deep copy so pagination never leaks into the caller's filter
func (f Filters) Clone() Filters {
	out := f
	if f.Extra != nil {
		out.Extra = make(map[string]string, len(f.Extra))
		for k, v := range f.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// PageBounds resolves Page/Offset/Limit into an offset and a limit
func (f Filters) PageBounds(defaultLimit int) (offset, limit int) {
	limit = f.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset = f.Offset
	if f.Page > 0 {
		offset = (f.Page - 1) * limit
	}
	return offset, limit
}

// ---------------------------------------------------------------------------
// Ports
// ---------------------------------------------------------------------------

// Adapter is record-oriented access to one POS resource.
// Implementations classify transport failures as KindRetryableNetwork
// before returning; other failures propagate as-is.
type Adapter interface {
	// Resource returns the POS resource name (e.g. "customers")
	Resource() string

	// Search returns the IDs of the records matching filters
	Search(ctx context.Context, filters Filters) ([]string, error)

	// Read returns one record
	Read(ctx context.Context, id string, options map[string]string) (Record, error)

	// Create creates a record and returns its new ID
	Create(ctx context.Context, values Values) (string, error)

	// Update updates a record
	Update(ctx context.Context, id string, values Values) (Record, error)

	// Delete deletes a record on the given resource
	Delete(ctx context.Context, resource, id string, attributes map[string]any) (bool, error)

	// Head checks that a record (or the resource when id is empty) is reachable
	Head(ctx context.Context, id string) (Record, error)

	// Connect checks the credentials against the POS
	Connect(ctx context.Context) (Record, error)
}

// AdapterFactory builds the adapter of a resource for a backend
type AdapterFactory interface {
	AdapterFor(backend *Backend, resource string) (Adapter, error)
}

// ImportMapper maps an external record to internal values
type ImportMapper interface {
	MapForImport(ctx context.Context, w MapContext, record Record, forCreate bool) (Values, error)
}

// ExportMapper maps an internal record to external values
type ExportMapper interface {
	MapForExport(ctx context.Context, w MapContext, record *InternalRecord, forCreate bool) (Values, error)

	// ChangedFields returns the internal fields whose change triggers an export
	ChangedFields() mapset.Set[string]
}

// MapContext is what mappers may consult: the backend and binding lookups
// for dependencies that were resolved before mapping.
type MapContext interface {
	Backend() *Backend
	// InternalRefFor returns the internal record bound to a dependency
	InternalRefFor(ctx context.Context, entityType EntityType, externalID string) (uuid.UUID, bool, error)
	// ExternalIDFor returns the external ID bound to an internal record
	ExternalIDFor(ctx context.Context, entityType EntityType, internalRef uuid.UUID) (string, bool, error)
}

// Locker serializes work on records. Both locks are released when the
// surrounding transaction ends.
type Locker interface {
	// TryAdvisoryXactLock takes a named advisory lock, retrying for at most
	// retry before returning KindRetryableBusy
	TryAdvisoryXactLock(ctx context.Context, key string, retry time.Duration) error

	// LockRowNoWait takes an exclusive non-key row lock without waiting and
	// returns KindRetryableBusy when another transaction holds it
	LockRowNoWait(ctx context.Context, table string, id uuid.UUID) error
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

// ExternalIDString normalizes an ID returned by the POS into a string
func ExternalIDString(v any) string {
	return stringify(v)
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
