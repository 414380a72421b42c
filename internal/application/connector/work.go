package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Environment holds what every component of one backend needs. It is built
// once per job and shared by the whole dependency chain.
type Environment struct {
	Backend   *connector.Backend
	Registry  *Registry
	Adapters  connector.AdapterFactory
	Scope     TransactionScope
	Scheduler Scheduler
	Logger    *zap.Logger
	Now       func() time.Time
}

// now returns the environment clock
func (e *Environment) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Environment) logger() *zap.Logger {
	if e.Logger == nil {
		return zap.NewNop()
	}
	return e.Logger
}

// WorkContext is passed down the import/export call chain. It carries the
// environment, the current transaction and the parent payload of a
// dependency import.
type WorkContext struct {
	env    *Environment
	store  Store
	parent connector.Record
	// importing is shared along one chain and detects dependency cycles
	importing mapset.Set[string]
}

// NewWorkContext starts a new call chain
func NewWorkContext(env *Environment, store Store) *WorkContext {
	return &WorkContext{
		env:       env,
		store:     store,
		importing: mapset.NewSet[string](),
	}
}

// Env returns the environment
func (w *WorkContext) Env() *Environment { return w.env }

// Store returns the current transaction
func (w *WorkContext) Store() Store { return w.store }

// Parent returns the payload of the record whose import triggered this one
func (w *WorkContext) Parent() connector.Record { return w.parent }

// Backend returns the backend configuration
func (w *WorkContext) Backend() *connector.Backend { return w.env.Backend }

// Logger returns the environment logger
func (w *WorkContext) Logger() *zap.Logger { return w.env.logger() }

// WithParent derives a context whose parent payload is record
func (w *WorkContext) WithParent(record connector.Record) *WorkContext {
	c := *w
	c.parent = record
	return &c
}

// WithStore derives a context bound to another transaction
func (w *WorkContext) WithStore(store Store) *WorkContext {
	c := *w
	c.store = store
	return &c
}

// Adapter returns the POS adapter of an entity type
func (w *WorkContext) Adapter(entityType connector.EntityType) (connector.Adapter, error) {
	resource, err := w.env.Registry.Resource(entityType)
	if err != nil {
		return nil, err
	}
	return w.env.Adapters.AdapterFor(w.env.Backend, resource)
}

func importKey(entityType connector.EntityType, externalID string) string {
	return fmt.Sprintf("%s:%s", entityType, externalID)
}

// enterImport marks a record as being imported in this chain. It returns
// false when the record is already on the chain.
func (w *WorkContext) enterImport(entityType connector.EntityType, externalID string) bool {
	return w.importing.Add(importKey(entityType, externalID))
}

func (w *WorkContext) leaveImport(entityType connector.EntityType, externalID string) {
	w.importing.Remove(importKey(entityType, externalID))
}

// enterExport is enterImport for exports, keyed on the internal record
func (w *WorkContext) enterExport(entityType connector.EntityType, internalRef uuid.UUID) bool {
	return w.importing.Add("export:" + importKey(entityType, internalRef.String()))
}

func (w *WorkContext) leaveExport(entityType connector.EntityType, internalRef uuid.UUID) {
	w.importing.Remove("export:" + importKey(entityType, internalRef.String()))
}

// InternalRefFor returns the internal record bound to an external ID
func (w *WorkContext) InternalRefFor(ctx context.Context, entityType connector.EntityType, externalID string) (uuid.UUID, bool, error) {
	if externalID == "" {
		return uuid.Nil, false, nil
	}
	b, err := w.store.Bindings().FindByExternalID(ctx, w.env.Backend.ID, entityType, externalID)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, err
	}
	return b.InternalRef, true, nil
}

// ExternalIDFor returns the external ID bound to an internal record
func (w *WorkContext) ExternalIDFor(ctx context.Context, entityType connector.EntityType, internalRef uuid.UUID) (string, bool, error) {
	if internalRef == uuid.Nil {
		return "", false, nil
	}
	b, err := w.store.Bindings().FindByInternalRef(ctx, w.env.Backend.ID, entityType, internalRef)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return b.ExternalID, b.IsBound(), nil
}

var _ connector.MapContext = (*WorkContext)(nil)
