package connector

import (
	"context"
	"maps"
	"slices"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RecordService writes internal records on behalf of the internal system and
// queues the POS exports those writes trigger
type RecordService struct {
	scope    TransactionScope
	listener *ExportListener
	logger   *zap.Logger
}

// NewRecordService creates a record service
func NewRecordService(scope TransactionScope, listener *ExportListener, logger *zap.Logger) *RecordService {
	return &RecordService{scope: scope, listener: listener, logger: logger}
}

// GetRecord returns one internal record
func (s *RecordService) GetRecord(ctx context.Context, id uuid.UUID) (*connector.InternalRecord, error) {
	var record *connector.InternalRecord
	err := s.scope.Execute(ctx, func(store Store) error {
		var err error
		record, err = store.Records().FindByID(ctx, id)
		return err
	})
	return record, err
}

// UpdateRecord merges values into the record. Once committed, every active
// binding of the record is handed to the export listener with the written fields.
func (s *RecordService) UpdateRecord(ctx context.Context, id uuid.UUID, values connector.Values) (*connector.InternalRecord, error) {
	var record *connector.InternalRecord
	var bindings []connector.Binding
	active := true
	err := s.scope.Execute(ctx, func(store Store) error {
		var err error
		record, err = store.Records().FindByID(ctx, id)
		if err != nil {
			return err
		}
		record.Apply(values)
		if err := store.Records().Save(ctx, record); err != nil {
			return err
		}
		bindings, err = store.Bindings().FindAll(ctx, connector.BindingFilter{InternalRef: &id, Active: &active})
		return err
	})
	if err != nil {
		return nil, err
	}

	fields := slices.Sorted(maps.Keys(values))
	for i := range bindings {
		if err := s.listener.OnRecordWrite(ctx, &bindings[i], fields); err != nil {
			return record, err
		}
	}
	s.logger.Debug("Internal record updated",
		zap.String("record_id", id.String()),
		zap.Strings("fields", fields),
		zap.Int("bindings", len(bindings)),
	)
	return record, nil
}
