package connectortest

import (
	"context"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fixture wires a registry to in-memory fakes for one backend
type Fixture struct {
	DB        *MemoryDB
	Adapters  *FakeAdapters
	Scheduler *FakeScheduler
	Backends  *MemoryBackends
	Backend   *connector.Backend
	Registry  *appconnector.Registry
	Env       *appconnector.Environment
}

// NewFixture creates a fixture with an active backend and an empty registry
func NewFixture() *Fixture {
	backend, err := connector.NewBackend("test", "http://pos.test/api", "key")
	if err != nil {
		panic(err)
	}
	f := &Fixture{
		DB:        NewMemoryDB(),
		Adapters:  NewFakeAdapters(),
		Scheduler: NewFakeScheduler(),
		Backend:   backend,
		Registry:  appconnector.NewRegistry(),
	}
	f.Backends = NewMemoryBackends(backend)
	f.Env = &appconnector.Environment{
		Backend:   backend,
		Registry:  f.Registry,
		Adapters:  f.Adapters,
		Scope:     f.DB,
		Scheduler: f.Scheduler,
		Logger:    zap.NewNop(),
		Now:       time.Now,
	}
	return f
}

// Entity registers the generic components of an entity type
type Entity struct {
	Type     connector.EntityType
	Resource string
	Import   FieldImportMapper
	Export   FieldExportMapper
	// ImportHooks and ExportHooks are passed to the importer and exporter
	ImportHooks appconnector.ImportHooks
	ExportHooks appconnector.ExportHooks
	Validator   appconnector.Validator
	BatchMode   appconnector.BatchMode
}

// Register adds every role of e to the registry
func (f *Fixture) Register(e Entity) {
	r := f.Registry
	r.RegisterResource(e.Type, e.Resource)
	r.Register(e.Type, appconnector.RoleBinder, appconnector.BinderFactory(e.Type))
	r.Register(e.Type, appconnector.RoleImporter, appconnector.RecordImporterFactory(appconnector.RecordImporterConfig{
		EntityType: e.Type,
		Mapper:     e.Import,
		Validator:  e.Validator,
		Hooks:      e.ImportHooks,
		LockRetry:  20 * time.Millisecond,
	}))
	mode := e.BatchMode
	if mode == "" {
		mode = appconnector.BatchDirect
	}
	r.Register(e.Type, appconnector.RoleBatchImporter, appconnector.BatchImporterFactory(e.Type, mode))
	r.Register(e.Type, appconnector.RoleExporter, appconnector.RecordExporterFactory(appconnector.RecordExporterConfig{
		EntityType: e.Type,
		Validator:  e.Validator,
		Hooks:      e.ExportHooks,
	}))
	r.Register(e.Type, appconnector.RoleExportMapper, func(*appconnector.Environment) (any, error) { return e.Export, nil })
	r.Register(e.Type, appconnector.RoleDeleter, appconnector.DeleterFactory(e.Type))
}

// Adapter returns the fake adapter of a resource
func (f *Fixture) Adapter(resource string) *FakeAdapter {
	return f.Adapters.Resource(resource)
}

// InTx runs fn with a work context bound to a new transaction
func (f *Fixture) InTx(ctx context.Context, fn func(w *appconnector.WorkContext) error) error {
	return f.DB.Execute(ctx, func(store appconnector.Store) error {
		return fn(appconnector.NewWorkContext(f.Env, store))
	})
}

// Import imports one record in its own transaction
func (f *Fixture) Import(ctx context.Context, entityType connector.EntityType, externalID string) (appconnector.ImportResult, error) {
	importer, err := f.Registry.Importer(f.Env, entityType)
	if err != nil {
		return appconnector.ImportResult{}, err
	}
	var result appconnector.ImportResult
	err = f.InTx(ctx, func(w *appconnector.WorkContext) error {
		var err error
		result, err = importer.Run(ctx, w, externalID, appconnector.ImportOptions{})
		return err
	})
	return result, err
}

// Export exports one binding in its own transaction
func (f *Fixture) Export(ctx context.Context, entityType connector.EntityType, bindingID uuid.UUID, fields ...string) (string, error) {
	exporter, err := f.Registry.Exporter(f.Env, entityType)
	if err != nil {
		return "", err
	}
	var message string
	err = f.InTx(ctx, func(w *appconnector.WorkContext) error {
		var err error
		message, err = exporter.Run(ctx, w, bindingID, fields, appconnector.ExportOptions{})
		return err
	})
	return message, err
}

// BindingOf returns the committed binding of an external ID
func (f *Fixture) BindingOf(entityType connector.EntityType, externalID string) (connector.Binding, bool) {
	for _, b := range f.DB.Bindings() {
		if b.EntityType == entityType && b.ExternalID == externalID {
			return b, true
		}
	}
	return connector.Binding{}, false
}

// ---------------------------------------------------------------------------
// Mappers
// ---------------------------------------------------------------------------

// Dependency maps a field holding a reference to another entity type
type Dependency struct {
	Field      string
	EntityType connector.EntityType
}

// FieldImportMapper copies POS fields to internal fields. Dependencies are
// stored as the internal record ID bound to the POS ID.
type FieldImportMapper struct {
	// Fields maps internal field to POS field
	Fields map[string]string
	// Dependencies are keyed by internal field, Field being the POS field
	Dependencies map[string]Dependency
}

// MapForImport implements connector.ImportMapper
func (m FieldImportMapper) MapForImport(ctx context.Context, w connector.MapContext, record connector.Record, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	for internal, remote := range m.Fields {
		if v, ok := record[remote]; ok {
			values[internal] = v
		}
	}
	for internal, dep := range m.Dependencies {
		externalID := record.String(dep.Field)
		if externalID == "" {
			continue
		}
		ref, ok, err := w.InternalRefFor(ctx, dep.EntityType, externalID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s %s is not imported", dep.EntityType, externalID)
		}
		values[internal] = ref.String()
	}
	return values, nil
}

// FieldExportMapper copies internal fields to POS fields. Dependencies hold
// an internal record ID and are exported as the bound POS ID.
type FieldExportMapper struct {
	// Fields maps POS field to internal field
	Fields map[string]string
	// Dependencies are keyed by POS field, Field being the internal field
	Dependencies map[string]Dependency
}

// MapForExport implements connector.ExportMapper
func (m FieldExportMapper) MapForExport(ctx context.Context, w connector.MapContext, record *connector.InternalRecord, forCreate bool) (connector.Values, error) {
	values := connector.Values{}
	for remote, internal := range m.Fields {
		if v, ok := record.Values[internal]; ok {
			values[remote] = v
		}
	}
	for remote, dep := range m.Dependencies {
		raw := record.Values.String(dep.Field)
		if raw == "" {
			continue
		}
		ref, err := uuid.Parse(raw)
		if err != nil {
			return nil, err
		}
		externalID, ok, err := w.ExternalIDFor(ctx, dep.EntityType, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%s %s is not exported", dep.EntityType, ref)
		}
		values[remote] = externalID
	}
	return values, nil
}

// ChangedFields implements connector.ExportMapper
func (m FieldExportMapper) ChangedFields() mapset.Set[string] {
	fields := mapset.NewSet[string]()
	for _, internal := range m.Fields {
		fields.Add(internal)
	}
	for _, dep := range m.Dependencies {
		fields.Add(dep.Field)
	}
	return fields
}

// DependencyImporter returns an ImportDependencies hook importing every dependency of m
func DependencyImporter(m FieldImportMapper) func(ctx context.Context, w *appconnector.WorkContext, record connector.Record) error {
	return func(ctx context.Context, w *appconnector.WorkContext, record connector.Record) error {
		for _, dep := range m.Dependencies {
			if err := appconnector.ImportDependency(ctx, w, dep.EntityType, record.String(dep.Field), false); err != nil {
				return err
			}
		}
		return nil
	}
}

// DependencyExporter returns an ExportDependencies hook exporting every dependency of m
func DependencyExporter(m FieldExportMapper) func(ctx context.Context, w *appconnector.WorkContext, record *connector.InternalRecord, opts appconnector.ExportOptions) error {
	return func(ctx context.Context, w *appconnector.WorkContext, record *connector.InternalRecord, opts appconnector.ExportOptions) error {
		for _, dep := range m.Dependencies {
			raw := record.Values.String(dep.Field)
			if raw == "" {
				continue
			}
			ref, err := uuid.Parse(raw)
			if err != nil {
				return err
			}
			if err := appconnector.ExportDependency(ctx, w, dep.EntityType, ref, opts.ForceSync); err != nil {
				return err
			}
		}
		return nil
	}
}
