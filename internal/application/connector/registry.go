package connector

import (
	"fmt"
	"sort"
	"sync"

	"github.com/erp/posconnector/internal/domain/connector"
)

// Role names the job a component does for an entity type
type Role string

const (
	RoleBinder        Role = "binder"
	RoleImporter      Role = "record.importer"
	RoleBatchImporter Role = "batch.importer"
	RoleExporter      Role = "record.exporter"
	RoleDeleter       Role = "record.exporter.deleter"
	RoleAutoMatcher   Role = "auto.matching.importer"
	RoleExportMapper  Role = "export.mapper"
)

// RegistryKey identifies one component
type RegistryKey struct {
	EntityType connector.EntityType
	Role       Role
}

// String returns "entity/role"
func (k RegistryKey) String() string {
	return fmt.Sprintf("%s/%s", k.EntityType, k.Role)
}

// Factory builds a component for an environment
type Factory func(env *Environment) (any, error)

// Registry holds one factory per (entity type, role). Registering the same key
// twice replaces the previous factory.
type Registry struct {
	mu        sync.RWMutex
	factories map[RegistryKey]Factory
	resources map[connector.EntityType]string
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[RegistryKey]Factory),
		resources: make(map[connector.EntityType]string),
	}
}

// Register adds or replaces a factory
func (r *Registry) Register(entityType connector.EntityType, role Role, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[RegistryKey{EntityType: entityType, Role: role}] = factory
}

// RegisterResource sets the POS resource name of an entity type
func (r *Registry) RegisterResource(entityType connector.EntityType, resource string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resources[entityType] = resource
}

// Resource returns the POS resource name of an entity type
func (r *Registry) Resource(entityType connector.EntityType) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[entityType]
	if !ok {
		return "", fmt.Errorf("%w: resource for %s", connector.ErrComponentNotRegistered, entityType)
	}
	return res, nil
}

// Keys returns the registered keys in a stable order
func (r *Registry) Keys() []RegistryKey {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]RegistryKey, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// EntityTypes returns the entity types that have a resource
func (r *Registry) EntityTypes() []connector.EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]connector.EntityType, 0, len(r.resources))
	for et := range r.resources {
		out = append(out, et)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Validate resolves every registered component once and checks that it
// implements the interface of its role. It is meant to run at startup.
func (r *Registry) Validate(env *Environment) error {
	for _, key := range r.Keys() {
		component, err := r.build(env, key)
		if err != nil {
			return err
		}
		if err := checkRole(key, component); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) build(env *Environment, key RegistryKey) (any, error) {
	r.mu.RLock()
	factory, ok := r.factories[key]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", connector.ErrComponentNotRegistered, key)
	}
	component, err := factory(env)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", key, err)
	}
	return component, nil
}

func checkRole(key RegistryKey, component any) error {
	var ok bool
	switch key.Role {
	case RoleBinder:
		_, ok = component.(Binder)
	case RoleImporter:
		_, ok = component.(Importer)
	case RoleBatchImporter:
		_, ok = component.(BatchImporter)
	case RoleExporter:
		_, ok = component.(Exporter)
	case RoleDeleter:
		_, ok = component.(Deleter)
	case RoleAutoMatcher:
		_, ok = component.(AutoMatcher)
	case RoleExportMapper:
		_, ok = component.(connector.ExportMapper)
	default:
		ok = true
	}
	if !ok {
		return fmt.Errorf("%w: %s", connector.ErrComponentWrongRole, key)
	}
	return nil
}

func resolve[T any](r *Registry, env *Environment, entityType connector.EntityType, role Role) (T, error) {
	var zero T
	key := RegistryKey{EntityType: entityType, Role: role}
	component, err := r.build(env, key)
	if err != nil {
		return zero, err
	}
	typed, ok := component.(T)
	if !ok {
		return zero, fmt.Errorf("%w: %s", connector.ErrComponentWrongRole, key)
	}
	return typed, nil
}

// Binder resolves the binder of an entity type
func (r *Registry) Binder(env *Environment, entityType connector.EntityType) (Binder, error) {
	return resolve[Binder](r, env, entityType, RoleBinder)
}

// Importer resolves the record importer of an entity type
func (r *Registry) Importer(env *Environment, entityType connector.EntityType) (Importer, error) {
	return resolve[Importer](r, env, entityType, RoleImporter)
}

// BatchImporter resolves the batch importer of an entity type
func (r *Registry) BatchImporter(env *Environment, entityType connector.EntityType) (BatchImporter, error) {
	return resolve[BatchImporter](r, env, entityType, RoleBatchImporter)
}

// Exporter resolves the record exporter of an entity type
func (r *Registry) Exporter(env *Environment, entityType connector.EntityType) (Exporter, error) {
	return resolve[Exporter](r, env, entityType, RoleExporter)
}

// Deleter resolves the deleter of an entity type
func (r *Registry) Deleter(env *Environment, entityType connector.EntityType) (Deleter, error) {
	return resolve[Deleter](r, env, entityType, RoleDeleter)
}

// AutoMatcher resolves the auto-matching importer of an entity type
func (r *Registry) AutoMatcher(env *Environment, entityType connector.EntityType) (AutoMatcher, error) {
	return resolve[AutoMatcher](r, env, entityType, RoleAutoMatcher)
}

// ExportMapper resolves the export mapper of an entity type
func (r *Registry) ExportMapper(env *Environment, entityType connector.EntityType) (connector.ExportMapper, error) {
	return resolve[connector.ExportMapper](r, env, entityType, RoleExportMapper)
}
