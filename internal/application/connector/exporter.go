package connector

import (
	"context"
	"errors"
	"fmt"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const bindingsTable = "bindings"

// Export outcome messages
const (
	MsgExportSkipped    = "Export skipped."
	MsgExportGone       = "Record to export no longer exists."
	MsgNothingToExport  = "Nothing to export."
	msgExportedTemplate = "Record exported with ID %s on POS."
)

// ExportHooks customizes a RecordExporter. Every hook is optional.
type ExportHooks struct {
	// ExportDependencies exports the records this one points to, usually
	// through ExportDependency.
	ExportDependencies func(ctx context.Context, w *WorkContext, record *connector.InternalRecord, opts ExportOptions) error

	// AfterExport runs after the binding is written. Errors are logged only.
	AfterExport func(ctx context.Context, w *WorkContext, binding *connector.Binding, record *connector.InternalRecord) error
}

// RecordExporterConfig configures a RecordExporter. The mapper is resolved
// from the registry under RoleExportMapper.
type RecordExporterConfig struct {
	EntityType connector.EntityType
	Validator  Validator
	Hooks      ExportHooks
}

// RecordExporter pushes one internal record to the POS
type RecordExporter struct {
	cfg RecordExporterConfig
}

// NewRecordExporter creates a record exporter
func NewRecordExporter(cfg RecordExporterConfig) *RecordExporter {
	return &RecordExporter{cfg: cfg}
}

// RecordExporterFactory registers a RecordExporter
func RecordExporterFactory(cfg RecordExporterConfig) Factory {
	return func(*Environment) (any, error) {
		return NewRecordExporter(cfg), nil
	}
}

// Run exports the record wrapped by bindingID
func (ex *RecordExporter) Run(ctx context.Context, w *WorkContext, bindingID uuid.UUID, fields []string, opts ExportOptions) (string, error) {
	ctx, span := telemetry.StartSpan(ctx, "pos.export",
		telemetry.WithAttribute(telemetry.SpanAttrBackendID, w.Backend().ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, ex.cfg.EntityType.String()),
		telemetry.WithAttribute(telemetry.SpanAttrBindingID, bindingID.String()),
	)
	defer span.End()

	msg, err := ex.exportRecord(ctx, w, bindingID, fields, opts)
	telemetry.SetAttributes(span, telemetry.SpanAttrResult, msg)
	telemetry.RecordError(span, err)
	return msg, err
}

func (ex *RecordExporter) exportRecord(ctx context.Context, w *WorkContext, bindingID uuid.UUID, fields []string, opts ExportOptions) (string, error) {
	env := w.Env()
	et := ex.cfg.EntityType
	log := w.Logger().With(
		zap.String("entity_type", et.String()),
		zap.String("binding_id", bindingID.String()),
	)

	binding, record, err := ex.load(ctx, w, bindingID)
	if err != nil {
		return "", err
	}
	if binding == nil || record == nil {
		return MsgExportGone, nil
	}

	mapper, err := env.Registry.ExportMapper(env, et)
	if err != nil {
		return "", err
	}
	if binding.NoExport || !binding.Active || !touchesExportedFields(mapper, fields) {
		log.Debug("Export skipped", zap.Strings("fields", fields))
		return MsgExportSkipped, nil
	}

	if !w.enterExport(et, record.ID) {
		return "", connector.NewInvalidDataError(
			fmt.Sprintf("dependency cycle detected on %s %s", et, record.ID), nil)
	}
	defer w.leaveExport(et, record.ID)

	if ex.cfg.Hooks.ExportDependencies != nil {
		if err := ex.cfg.Hooks.ExportDependencies(ctx, w, record, opts); err != nil {
			return "", err
		}
	}

	if err := w.Store().Locker().LockRowNoWait(ctx, bindingsTable, binding.ID); err != nil {
		if connector.KindOf(err) == "" {
			err = connector.NewRetryableBusyError(
				fmt.Sprintf("A concurrent job is already exporting the same record (%s with id %s). The job will be retried later.", et, binding.ID), err)
		}
		return "", err
	}
	// a concurrent exporter may have bound the record before we got the lock
	binding, err = w.Store().Bindings().FindByID(ctx, binding.ID)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return MsgExportGone, nil
	}
	if err != nil {
		return "", err
	}

	forCreate := !binding.IsBound()
	values, err := mapper.MapForExport(ctx, w, record, forCreate)
	if err != nil {
		return "", err
	}
	if len(values) == 0 {
		return MsgNothingToExport, nil
	}
	if ex.cfg.Validator != nil {
		if err := ex.cfg.Validator.Validate(ctx, values, forCreate); err != nil {
			if connector.KindOf(err) == "" {
				err = connector.NewInvalidDataError(fmt.Sprintf("invalid %s %s", et, record.ID), err)
			}
			return "", err
		}
	}

	adapter, err := w.Adapter(et)
	if err != nil {
		return "", err
	}
	externalID := binding.ExternalID
	if forCreate {
		externalID, err = adapter.Create(ctx, values)
		if err != nil {
			return "", err
		}
		if externalID == "" || externalID == "0" {
			return "", connector.NewExternalRejectedError("Record on POS has not been created")
		}
	} else {
		if _, err := adapter.Update(ctx, externalID, values); err != nil {
			return "", err
		}
	}

	binder, err := env.Registry.Binder(env, et)
	if err != nil {
		return "", err
	}
	binding, err = binder.Bind(ctx, w, externalID, record.ID)
	if err != nil {
		return "", err
	}

	if ex.cfg.Hooks.AfterExport != nil {
		if err := ex.cfg.Hooks.AfterExport(ctx, w, binding, record); err != nil {
			log.Warn("After export hook failed", zap.Error(err))
		}
	}
	log.Info("Record exported", zap.String("external_id", externalID), zap.Bool("created", forCreate))
	return fmt.Sprintf(msgExportedTemplate, externalID), nil
}

// load returns nils when the binding or its record is gone
func (ex *RecordExporter) load(ctx context.Context, w *WorkContext, bindingID uuid.UUID) (*connector.Binding, *connector.InternalRecord, error) {
	binding, err := w.Store().Bindings().FindByID(ctx, bindingID)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	record, err := w.Store().Records().FindByID(ctx, binding.InternalRef)
	if errors.Is(err, connector.ErrRecordNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return binding, record, nil
}

// touchesExportedFields is true when no field list is given or when one of
// the written fields is exported by the mapper
func touchesExportedFields(mapper connector.ExportMapper, fields []string) bool {
	if len(fields) == 0 {
		return true
	}
	written := mapset.NewSet(fields...)
	return written.Intersect(mapper.ChangedFields()).Cardinality() > 0
}

// ExportDependency makes sure the internal record internalRef exists on the
// POS before the current record is exported. The placeholder binding and the
// dependency export each commit in their own transaction.
func ExportDependency(ctx context.Context, w *WorkContext, entityType connector.EntityType, internalRef uuid.UUID, forceSync bool) error {
	if internalRef == uuid.Nil {
		return nil
	}
	env := w.Env()
	binder, err := env.Registry.Binder(env, entityType)
	if err != nil {
		return err
	}

	var binding *connector.Binding
	var created bool
	err = env.Scope.ExecuteIndependent(ctx, func(store Store) error {
		var err error
		binding, created, err = binder.GetOrCreatePlaceholder(ctx, w.WithStore(store), internalRef)
		return err
	})
	if err != nil {
		return err
	}
	if binding.IsBound() && !forceSync {
		return nil
	}

	exporter, err := env.Registry.Exporter(env, entityType)
	if err != nil {
		return err
	}
	w.Logger().Debug("Exporting dependency",
		zap.String("entity_type", entityType.String()),
		zap.String("internal_ref", internalRef.String()),
		zap.Bool("placeholder_created", created),
	)
	return env.Scope.ExecuteIndependent(ctx, func(store Store) error {
		_, err := exporter.Run(ctx, w.WithStore(store), binding.ID, nil, ExportOptions{ForceSync: forceSync})
		if err != nil {
			return fmt.Errorf("export dependency %s %s: %w", entityType, internalRef, err)
		}
		return nil
	})
}

var _ Exporter = (*RecordExporter)(nil)
