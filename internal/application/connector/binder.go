package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BindingBinder implements Binder on top of the binding repository of the
// current transaction.
type BindingBinder struct {
	entityType connector.EntityType
}

// NewBinder creates a binder for one entity type
func NewBinder(entityType connector.EntityType) *BindingBinder {
	return &BindingBinder{entityType: entityType}
}

// BinderFactory registers a BindingBinder for an entity type
func BinderFactory(entityType connector.EntityType) Factory {
	return func(*Environment) (any, error) {
		return NewBinder(entityType), nil
	}
}

// ToInternal looks up the binding of (backend, entity type, external ID)
func (b *BindingBinder) ToInternal(ctx context.Context, w *WorkContext, externalID string, unwrap bool) (*connector.Binding, *connector.InternalRecord, error) {
	if externalID == "" {
		return nil, nil, nil
	}
	binding, err := w.Store().Bindings().FindByExternalID(ctx, w.Backend().ID, b.entityType, externalID)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	if !unwrap {
		return binding, nil, nil
	}
	record, err := w.Store().Records().FindByID(ctx, binding.InternalRef)
	if err != nil {
		return nil, nil, err
	}
	return binding, record, nil
}

// ToExternal looks up the external ID of an internal record
func (b *BindingBinder) ToExternal(ctx context.Context, w *WorkContext, internalRef uuid.UUID, wrap bool) (string, *connector.Binding, error) {
	binding, err := w.Store().Bindings().FindByInternalRef(ctx, w.Backend().ID, b.entityType, internalRef)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, err
	}
	externalID := ""
	if binding.IsBound() {
		externalID = binding.ExternalID
	}
	if !wrap {
		return externalID, nil, nil
	}
	return externalID, binding, nil
}

// Bind upserts the mapping between externalID and internalRef.
// Re-binding the same pair only refreshes the sync date.
func (b *BindingBinder) Bind(ctx context.Context, w *WorkContext, externalID string, internalRef uuid.UUID) (*connector.Binding, error) {
	if externalID == "" {
		return nil, connector.NewInvalidDataError("cannot bind an empty external ID", nil)
	}
	repo := w.Store().Bindings()
	backendID := w.Backend().ID
	now := w.Env().now()

	byExternal, err := repo.FindByExternalID(ctx, backendID, b.entityType, externalID)
	if err != nil && !errors.Is(err, connector.ErrBindingNotFound) {
		return nil, err
	}
	if byExternal != nil {
		if byExternal.InternalRef != internalRef {
			return nil, connector.NewConflictError(
				fmt.Sprintf("%s %s on POS is already bound to another record", b.entityType, externalID), nil)
		}
		byExternal.MarkSynced(externalID, now)
		if err := repo.Save(ctx, byExternal); err != nil {
			return nil, err
		}
		return byExternal, nil
	}

	byInternal, err := repo.FindByInternalRef(ctx, backendID, b.entityType, internalRef)
	if err != nil && !errors.Is(err, connector.ErrBindingNotFound) {
		return nil, err
	}
	if byInternal != nil {
		if byInternal.IsBound() && byInternal.ExternalID != externalID {
			return nil, connector.NewConflictError(
				fmt.Sprintf("record %s is already bound to %s %s on POS", internalRef, b.entityType, byInternal.ExternalID), nil)
		}
		byInternal.MarkSynced(externalID, now)
		if err := repo.Save(ctx, byInternal); err != nil {
			return nil, b.translateWriteError(err)
		}
		return byInternal, nil
	}

	binding, err := connector.NewBinding(backendID, b.entityType, externalID, internalRef)
	if err != nil {
		return nil, err
	}
	binding.MarkSynced(externalID, now)
	if err := repo.Create(ctx, binding); err != nil {
		return nil, b.translateWriteError(err)
	}
	w.Logger().Debug("Bound record",
		zap.String("entity_type", b.entityType.String()),
		zap.String("external_id", externalID),
		zap.String("internal_ref", internalRef.String()),
	)
	return binding, nil
}

// Unbind deactivates the binding of an external ID
func (b *BindingBinder) Unbind(ctx context.Context, w *WorkContext, externalID string) error {
	binding, _, err := b.ToInternal(ctx, w, externalID, false)
	if err != nil {
		return err
	}
	if binding == nil {
		return connector.ErrBindingNotFound
	}
	binding.Deactivate()
	return w.Store().Bindings().Save(ctx, binding)
}

// GetOrCreatePlaceholder returns the binding of internalRef, creating an unbound one when missing
func (b *BindingBinder) GetOrCreatePlaceholder(ctx context.Context, w *WorkContext, internalRef uuid.UUID) (*connector.Binding, bool, error) {
	repo := w.Store().Bindings()
	existing, err := repo.FindByInternalRef(ctx, w.Backend().ID, b.entityType, internalRef)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, connector.ErrBindingNotFound) {
		return nil, false, err
	}
	binding, err := connector.NewBinding(w.Backend().ID, b.entityType, "", internalRef)
	if err != nil {
		return nil, false, err
	}
	if err := repo.Create(ctx, binding); err != nil {
		return nil, false, b.translateWriteError(err)
	}
	return binding, true, nil
}

// translateWriteError turns a uniqueness race into a retryable error: another
// job created the same binding after our lookup.
func (b *BindingBinder) translateWriteError(err error) error {
	if errors.Is(err, connector.ErrBindingAlreadyExists) {
		return connector.NewRetryableConcurrentError(
			"A database error caused the failure of the job. This error is likely due to two "+
				"concurrent jobs attempting to create the same record. The job will be retried later.", err)
	}
	return err
}

var _ Binder = (*BindingBinder)(nil)
