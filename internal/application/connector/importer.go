package connector

import (
	"context"
	"fmt"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// POSDateLayout is the layout of the modification dates returned by the POS
const POSDateLayout = "2006-01-02 15:04:05"

// ImportHooks customizes a RecordImporter. Every hook is optional.
type ImportHooks struct {
	// HasToSkip runs once the binding is known. A non-empty message ends the
	// import as Skipped. Returning a NothingToDo error stops it without any write.
	HasToSkip func(ctx context.Context, w *WorkContext, record connector.Record, binding *connector.Binding) (string, error)

	// ImportDependencies imports the records this one points to, usually
	// through ImportDependency. w carries record as parent payload.
	ImportDependencies func(ctx context.Context, w *WorkContext, record connector.Record) error

	// AfterImport runs after the binding is written. Errors are logged only.
	AfterImport func(ctx context.Context, w *WorkContext, record connector.Record, binding *connector.Binding, internal *connector.InternalRecord) error
}

// RecordImporterConfig configures a RecordImporter
type RecordImporterConfig struct {
	EntityType connector.EntityType
	Mapper     connector.ImportMapper
	Validator  Validator
	Hooks      ImportHooks
	// UpdatedAtField is the POS field holding the modification date. When
	// set, records not modified since the last sync are skipped.
	UpdatedAtField string
	// LockRetry bounds the wait for the advisory lock
	LockRetry time.Duration
}

// RecordImporter imports one POS record into the internal store
type RecordImporter struct {
	cfg RecordImporterConfig
}

// NewRecordImporter creates a record importer
func NewRecordImporter(cfg RecordImporterConfig) *RecordImporter {
	if cfg.LockRetry <= 0 {
		cfg.LockRetry = connector.RetryOnAdvisoryLock
	}
	return &RecordImporter{cfg: cfg}
}

// ImportLockKey returns the advisory lock name of a record import
func ImportLockKey(backend *connector.Backend, entityType connector.EntityType, externalID string) string {
	return fmt.Sprintf("import(%s, %s, %s)", backend.ID, entityType, externalID)
}

// importRun holds the state of one Run call
type importRun struct {
	result ImportResult
}

func (r *importRun) advance(state ImportState) {
	r.result.State = state
	r.result.Trail = append(r.result.Trail, state)
}

func (r *importRun) skip(message string) (ImportResult, error) {
	r.result.Message = message
	r.advance(ImportSkipped)
	return r.result, nil
}

func (r *importRun) fail(err error) (ImportResult, error) {
	if connector.IsNothingToDo(err) {
		r.advance(ImportSkipped)
	} else {
		r.advance(ImportFailed)
	}
	r.result.Message = err.Error()
	return r.result, err
}

// Run imports externalID
func (im *RecordImporter) Run(ctx context.Context, w *WorkContext, externalID string, opts ImportOptions) (ImportResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "pos.import",
		telemetry.WithAttribute(telemetry.SpanAttrBackendID, w.Backend().ID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrEntityType, im.cfg.EntityType.String()),
		telemetry.WithAttribute(telemetry.SpanAttrExternalID, externalID),
	)
	defer span.End()

	result, err := im.importRecord(ctx, w, externalID, opts)
	telemetry.SetAttributes(span, telemetry.SpanAttrResult, string(result.State))
	if err != nil && !connector.IsNothingToDo(err) {
		telemetry.RecordError(span, err)
	}
	return result, err
}

func (im *RecordImporter) importRecord(ctx context.Context, w *WorkContext, externalID string, opts ImportOptions) (ImportResult, error) {
	run := &importRun{}
	run.advance(ImportStart)

	et := im.cfg.EntityType
	if externalID == "" {
		return run.fail(connector.NewInvalidDataError(fmt.Sprintf("no external ID given for %s", et), nil))
	}
	if !w.enterImport(et, externalID) {
		return run.fail(connector.NewInvalidDataError(
			fmt.Sprintf("dependency cycle detected on %s %s", et, externalID), nil))
	}
	defer w.leaveImport(et, externalID)

	log := w.Logger().With(
		zap.String("entity_type", et.String()),
		zap.String("external_id", externalID),
	)

	binder, err := w.Env().Registry.Binder(w.Env(), et)
	if err != nil {
		return run.fail(err)
	}
	adapter, err := w.Adapter(et)
	if err != nil {
		return run.fail(err)
	}

	lockKey := ImportLockKey(w.Backend(), et, externalID)
	if err := w.Store().Locker().TryAdvisoryXactLock(ctx, lockKey, im.cfg.LockRetry); err != nil {
		if connector.KindOf(err) == "" {
			err = connector.NewRetryableBusyError(
				fmt.Sprintf("A concurrent job is already importing %s. The job will be retried later.", lockKey), err)
		}
		return run.fail(err)
	}
	run.advance(ImportLocked)

	record, err := adapter.Read(ctx, externalID, map[string]string{"action": "find"})
	if err != nil {
		return run.fail(err)
	}

	binding, internal, err := binder.ToInternal(ctx, w, externalID, true)
	if err != nil {
		return run.fail(err)
	}
	if binding == nil {
		if err := im.recheckBinding(ctx, w, binder, externalID); err != nil {
			return run.fail(err)
		}
	}

	if !opts.Force && im.isUpToDate(w, record, binding) {
		log.Debug("Record already up-to-date")
		return run.skip("Already up-to-date.")
	}

	if im.cfg.Hooks.HasToSkip != nil {
		message, err := im.cfg.Hooks.HasToSkip(ctx, w, record, binding)
		if err != nil {
			return run.fail(err)
		}
		if message != "" {
			log.Debug("Import skipped", zap.String("reason", message))
			return run.skip(message)
		}
	}

	if im.cfg.Hooks.ImportDependencies != nil {
		if err := im.cfg.Hooks.ImportDependencies(ctx, w.WithParent(record), record); err != nil {
			return run.fail(err)
		}
	}
	run.advance(ImportDependenciesResolved)

	forCreate := binding == nil || internal == nil
	values, err := im.cfg.Mapper.MapForImport(ctx, w, record, forCreate)
	if err != nil {
		return run.fail(err)
	}
	if im.cfg.Validator != nil {
		if err := im.cfg.Validator.Validate(ctx, values, forCreate); err != nil {
			if connector.KindOf(err) == "" {
				err = connector.NewInvalidDataError(fmt.Sprintf("invalid %s %s", et, externalID), err)
			}
			return run.fail(err)
		}
	}
	run.advance(ImportMapped)

	if forCreate {
		internal, err = connector.NewInternalRecord(et, values)
		if err != nil {
			return run.fail(err)
		}
		if err := w.Store().Records().Create(ctx, internal); err != nil {
			return run.fail(err)
		}
		run.result.Created = true
	} else {
		internal.Apply(values)
		if err := w.Store().Records().Save(ctx, internal); err != nil {
			return run.fail(err)
		}
	}
	binding, err = binder.Bind(ctx, w, externalID, internal.ID)
	if err != nil {
		return run.fail(err)
	}
	run.result.Binding = binding
	run.result.Record = internal
	run.advance(ImportPersisted)

	if im.cfg.Hooks.AfterImport != nil {
		if err := im.cfg.Hooks.AfterImport(ctx, w, record, binding, internal); err != nil {
			log.Warn("After import hook failed", zap.Error(err))
		}
	}
	run.advance(ImportAfterImportHooked)

	if run.result.Created {
		run.result.Message = fmt.Sprintf("Record %s created.", externalID)
	} else {
		run.result.Message = fmt.Sprintf("Record %s updated.", externalID)
	}
	log.Info("Record imported",
		zap.String("internal_ref", internal.ID.String()),
		zap.Bool("created", run.result.Created),
	)
	run.advance(ImportDone)
	return run.result, nil
}

// recheckBinding looks for the binding again in a separate transaction. A
// binding committed meanwhile means another job imported the same record.
func (im *RecordImporter) recheckBinding(ctx context.Context, w *WorkContext, binder Binder, externalID string) error {
	var found bool
	err := w.Env().Scope.ExecuteIndependent(ctx, func(store Store) error {
		binding, _, err := binder.ToInternal(ctx, w.WithStore(store), externalID, false)
		if err != nil {
			return err
		}
		found = binding != nil
		return nil
	})
	if err != nil {
		return err
	}
	if found {
		return connector.NewRetryableConcurrentError("Concurrent error. The job will be retried later", nil)
	}
	return nil
}

// isUpToDate reports whether the POS record was not modified since the last sync
func (im *RecordImporter) isUpToDate(w *WorkContext, record connector.Record, binding *connector.Binding) bool {
	if im.cfg.UpdatedAtField == "" || binding == nil || binding.SyncDate == nil {
		return false
	}
	raw := record.String(im.cfg.UpdatedAtField)
	if raw == "" {
		return false
	}
	updatedAt, err := time.ParseInLocation(POSDateLayout, raw, w.Backend().TimeLocation())
	if err != nil {
		return false
	}
	return !updatedAt.After(*binding.SyncDate)
}

// ImportDependency imports a record the current one depends on. An empty
// externalID is ignored, and an already bound record is only re-imported
// when always is set. A dependency that has nothing to import is not an error.
func ImportDependency(ctx context.Context, w *WorkContext, entityType connector.EntityType, externalID string, always bool) error {
	if externalID == "" {
		return nil
	}
	env := w.Env()
	if !always {
		binder, err := env.Registry.Binder(env, entityType)
		if err != nil {
			return err
		}
		binding, _, err := binder.ToInternal(ctx, w, externalID, false)
		if err != nil {
			return err
		}
		if binding != nil {
			return nil
		}
	}
	importer, err := env.Registry.Importer(env, entityType)
	if err != nil {
		return err
	}
	if _, err := importer.Run(ctx, w, externalID, ImportOptions{}); err != nil {
		if connector.IsNothingToDo(err) {
			w.Logger().Info("Dependency has nothing to import",
				zap.String("entity_type", entityType.String()),
				zap.String("external_id", externalID),
				zap.Error(err),
			)
			return nil
		}
		return fmt.Errorf("import dependency %s %s: %w", entityType, externalID, err)
	}
	return nil
}

// RecordImporterFactory registers a RecordImporter
func RecordImporterFactory(cfg RecordImporterConfig) Factory {
	return func(*Environment) (any, error) {
		return NewRecordImporter(cfg), nil
	}
}

var _ Importer = (*RecordImporter)(nil)
