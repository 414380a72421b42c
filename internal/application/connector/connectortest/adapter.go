package connectortest

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"github.com/erp/posconnector/internal/domain/connector"
)

// Call is one recorded adapter call
type Call struct {
	Method string
	ID     string
	Values connector.Values
}

// FakeAdapter serves records of one resource from memory and records every call
type FakeAdapter struct {
	mu       sync.Mutex
	resource string
	records  map[string]connector.Record
	calls    []Call
	nextID   int

	// Errors returned by the matching method when set
	SearchErr  error
	ReadErr    error
	CreateErr  error
	UpdateErr  error
	DeleteErr  error
	ConnectErr error

	// CreateID overrides the ID returned by Create when set
	CreateID *string

	// OnRead and OnCreate run before the call completes, outside the adapter lock
	OnRead   func(id string)
	OnCreate func(values connector.Values)
}

// NewFakeAdapter creates an empty adapter for resource
func NewFakeAdapter(resource string) *FakeAdapter {
	return &FakeAdapter{
		resource: resource,
		records:  make(map[string]connector.Record),
		nextID:   1000,
	}
}

// Put stores a POS record
func (a *FakeAdapter) Put(id string, record connector.Record) {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := connector.Record{"id": id}
	for k, v := range record {
		out[k] = v
	}
	a.records[id] = out
}

// Get returns a stored POS record
func (a *FakeAdapter) Get(id string) (connector.Record, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[id]
	return r, ok
}

// Calls returns the recorded calls
func (a *FakeAdapter) Calls() []Call {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Call(nil), a.calls...)
}

// CallCount returns the number of calls of a method, every method when empty
func (a *FakeAdapter) CallCount(method string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, c := range a.calls {
		if method == "" || c.Method == method {
			n++
		}
	}
	return n
}

func (a *FakeAdapter) record(c Call) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, c)
}

func (a *FakeAdapter) Resource() string { return a.resource }

func (a *FakeAdapter) Search(ctx context.Context, filters connector.Filters) ([]string, error) {
	a.record(Call{Method: "Search"})
	if a.SearchErr != nil {
		return nil, a.SearchErr
	}
	a.mu.Lock()
	ids := make([]string, 0, len(a.records))
	for id := range a.records {
		ids = append(ids, id)
	}
	a.mu.Unlock()
	sort.Slice(ids, func(i, j int) bool {
		ni, ei := strconv.Atoi(ids[i])
		nj, ej := strconv.Atoi(ids[j])
		if ei == nil && ej == nil {
			return ni < nj
		}
		return ids[i] < ids[j]
	})

	offset, limit := filters.PageBounds(0)
	if offset >= len(ids) {
		return []string{}, nil
	}
	ids = ids[offset:]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	return ids, nil
}

func (a *FakeAdapter) Read(ctx context.Context, id string, options map[string]string) (connector.Record, error) {
	a.record(Call{Method: "Read", ID: id})
	if a.OnRead != nil {
		a.OnRead(id)
	}
	if a.ReadErr != nil {
		return nil, a.ReadErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[id]
	if !ok {
		return nil, connector.ErrAdapterInvalidResponse
	}
	out := connector.Record{}
	for k, v := range r {
		out[k] = v
	}
	return out, nil
}

func (a *FakeAdapter) Create(ctx context.Context, values connector.Values) (string, error) {
	a.record(Call{Method: "Create", Values: values})
	if a.OnCreate != nil {
		a.OnCreate(values)
	}
	if a.CreateErr != nil {
		return "", a.CreateErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.CreateID != nil {
		return *a.CreateID, nil
	}
	a.nextID++
	id := strconv.Itoa(a.nextID)
	r := connector.Record{"id": id}
	for k, v := range values {
		r[k] = v
	}
	a.records[id] = r
	return id, nil
}

func (a *FakeAdapter) Update(ctx context.Context, id string, values connector.Values) (connector.Record, error) {
	a.record(Call{Method: "Update", ID: id, Values: values})
	if a.UpdateErr != nil {
		return nil, a.UpdateErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	r, ok := a.records[id]
	if !ok {
		r = connector.Record{"id": id}
	}
	for k, v := range values {
		r[k] = v
	}
	a.records[id] = r
	return r, nil
}

func (a *FakeAdapter) Delete(ctx context.Context, resource, id string, attributes map[string]any) (bool, error) {
	a.record(Call{Method: "Delete", ID: id})
	if a.DeleteErr != nil {
		return false, a.DeleteErr
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.records, id)
	return true, nil
}

func (a *FakeAdapter) Head(ctx context.Context, id string) (connector.Record, error) {
	a.record(Call{Method: "Head", ID: id})
	return connector.Record{}, nil
}

func (a *FakeAdapter) Connect(ctx context.Context) (connector.Record, error) {
	a.record(Call{Method: "Connect"})
	if a.ConnectErr != nil {
		return nil, a.ConnectErr
	}
	return connector.Record{"ok": true}, nil
}

var _ connector.Adapter = (*FakeAdapter)(nil)

// FakeAdapters hands out one FakeAdapter per resource
type FakeAdapters struct {
	mu       sync.Mutex
	adapters map[string]*FakeAdapter
}

// NewFakeAdapters creates an empty adapter factory
func NewFakeAdapters() *FakeAdapters {
	return &FakeAdapters{adapters: make(map[string]*FakeAdapter)}
}

// Resource returns the adapter of resource, creating it when missing
func (f *FakeAdapters) Resource(resource string) *FakeAdapter {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.adapters[resource]
	if !ok {
		a = NewFakeAdapter(resource)
		f.adapters[resource] = a
	}
	return a
}

// AdapterFor implements connector.AdapterFactory
func (f *FakeAdapters) AdapterFor(backend *connector.Backend, resource string) (connector.Adapter, error) {
	return f.Resource(resource), nil
}

var _ connector.AdapterFactory = (*FakeAdapters)(nil)
