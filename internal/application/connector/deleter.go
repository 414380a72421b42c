package connector

import (
	"context"
	"fmt"

	"github.com/erp/posconnector/internal/domain/connector"
	"go.uber.org/zap"
)

// RecordDeleter deletes a POS record. Local bindings are left untouched.
type RecordDeleter struct {
	entityType connector.EntityType
}

// NewDeleter creates a deleter
func NewDeleter(entityType connector.EntityType) *RecordDeleter {
	return &RecordDeleter{entityType: entityType}
}

// DeleterFactory registers a RecordDeleter
func DeleterFactory(entityType connector.EntityType) Factory {
	return func(*Environment) (any, error) {
		return NewDeleter(entityType), nil
	}
}

// Run deletes externalID on the entity's resource
func (d *RecordDeleter) Run(ctx context.Context, w *WorkContext, externalID string, attributes map[string]any) (string, error) {
	if externalID == "" {
		return "", connector.NewInvalidDataError(fmt.Sprintf("no external ID given to delete %s", d.entityType), nil)
	}
	adapter, err := w.Adapter(d.entityType)
	if err != nil {
		return "", err
	}
	resource := adapter.Resource()
	if _, err := adapter.Delete(ctx, resource, externalID, attributes); err != nil {
		return "", err
	}
	w.Logger().Info("Record deleted on POS",
		zap.String("resource", resource),
		zap.String("external_id", externalID),
	)
	return fmt.Sprintf("Record %s deleted on POS on resource %s", externalID, resource), nil
}

var _ Deleter = (*RecordDeleter)(nil)
