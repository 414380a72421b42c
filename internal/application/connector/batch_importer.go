package connector

import (
	"context"
	"errors"
	"fmt"

	"github.com/erp/posconnector/internal/domain/connector"
	"go.uber.org/zap"
)

// DefaultPageSize is the search page size of batch imports
const DefaultPageSize = 100

// SearchBatchImporter searches POS IDs page by page and imports each of them,
// synchronously (BatchDirect) or through one queued job per ID (BatchDelayed).
type SearchBatchImporter struct {
	entityType connector.EntityType
	mode       BatchMode
}

// NewBatchImporter creates a batch importer
func NewBatchImporter(entityType connector.EntityType, mode BatchMode) *SearchBatchImporter {
	return &SearchBatchImporter{entityType: entityType, mode: mode}
}

// BatchImporterFactory registers a SearchBatchImporter
func BatchImporterFactory(entityType connector.EntityType, mode BatchMode) Factory {
	return func(*Environment) (any, error) {
		return NewBatchImporter(entityType, mode), nil
	}
}

// ImportRecordIdentityKey is the default identity key of an import_record job
func ImportRecordIdentityKey(backend *connector.Backend, entityType connector.EntityType, externalID string) string {
	return fmt.Sprintf("import_record:%s:%s:%s", backend.ID, entityType, externalID)
}

// Run searches with filters and processes every ID found. It returns the IDs.
func (bi *SearchBatchImporter) Run(ctx context.Context, w *WorkContext, filters connector.Filters, opts BatchOptions) ([]string, error) {
	adapter, err := w.Adapter(bi.entityType)
	if err != nil {
		return nil, err
	}
	resource := adapter.Resource()

	if filters.IsBounded() {
		ids, err := adapter.Search(ctx, filters)
		if err != nil {
			return nil, &connector.BatchSearchError{Resource: resource, Err: err}
		}
		if len(ids) == 0 {
			return nil, &connector.BatchSearchError{Resource: resource}
		}
		if err := bi.process(ctx, w, ids, opts); err != nil {
			return ids, err
		}
		return ids, nil
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	var all []string
	offset := filters.Offset
	for page := 0; ; page++ {
		pageFilters := filters.Clone()
		pageFilters.Offset = offset
		pageFilters.Limit = pageSize

		ids, err := adapter.Search(ctx, pageFilters)
		if err != nil {
			return all, &connector.BatchSearchError{Resource: resource, Err: err}
		}
		if len(ids) == 0 {
			if page == 0 {
				return nil, &connector.BatchSearchError{Resource: resource}
			}
			break
		}
		if err := bi.process(ctx, w, ids, opts); err != nil {
			return append(all, ids...), err
		}
		all = append(all, ids...)
		if len(ids) < pageSize {
			break
		}
		offset += len(ids)
	}

	w.Logger().Info("Batch import finished",
		zap.String("entity_type", bi.entityType.String()),
		zap.String("mode", string(bi.mode)),
		zap.Int("count", len(all)),
	)
	return all, nil
}

func (bi *SearchBatchImporter) process(ctx context.Context, w *WorkContext, ids []string, opts BatchOptions) error {
	for _, id := range ids {
		var err error
		if bi.mode == BatchDelayed {
			err = bi.delay(ctx, w, id, opts)
		} else {
			err = bi.importDirect(ctx, w, id, opts)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// importDirect imports one record in its own transaction
func (bi *SearchBatchImporter) importDirect(ctx context.Context, w *WorkContext, externalID string, opts BatchOptions) error {
	env := w.Env()
	importer, err := env.Registry.Importer(env, bi.entityType)
	if err != nil {
		return err
	}
	err = env.Scope.Execute(ctx, func(store Store) error {
		_, err := importer.Run(ctx, NewWorkContext(env, store), externalID, opts.Import)
		return err
	})
	if connector.IsNothingToDo(err) {
		w.Logger().Debug("Nothing to import",
			zap.String("entity_type", bi.entityType.String()),
			zap.String("external_id", externalID),
			zap.Error(err),
		)
		return nil
	}
	return err
}

// delay queues an import_record job
func (bi *SearchBatchImporter) delay(ctx context.Context, w *WorkContext, externalID string, opts BatchOptions) error {
	env := w.Env()
	if env.Scheduler == nil {
		return errors.New("connector: delayed batch import needs a scheduler")
	}
	jobOpts := opts.Job
	if jobOpts.IdentityKey == "" {
		jobOpts.IdentityKey = ImportRecordIdentityKey(env.Backend, bi.entityType, externalID)
	} else {
		jobOpts.IdentityKey = fmt.Sprintf("%s:%s", jobOpts.IdentityKey, externalID)
	}
	if jobOpts.Description == "" {
		jobOpts.Description = fmt.Sprintf("Import %s %s from POS", bi.entityType, externalID)
	}
	job := Job{
		Kind:       JobImportRecord,
		BackendID:  env.Backend.ID,
		EntityType: bi.entityType,
		ExternalID: externalID,
		Force:      opts.Import.Force,
	}
	if _, err := env.Scheduler.Schedule(ctx, job, jobOpts); err != nil {
		if errors.Is(err, ErrJobAlreadyQueued) {
			w.Logger().Debug("Import already queued", zap.String("identity_key", jobOpts.IdentityKey))
			return nil
		}
		return fmt.Errorf("schedule import of %s %s: %w", bi.entityType, externalID, err)
	}
	return nil
}

var _ BatchImporter = (*SearchBatchImporter)(nil)
