package connector

import (
	"context"
	"fmt"

	"github.com/erp/posconnector/internal/domain/connector"
)

// JobRunner executes queued jobs. Every job runs in its own transaction.
type JobRunner struct {
	service *BackendService
}

// NewJobRunner creates a job runner
func NewJobRunner(service *BackendService) *JobRunner {
	return &JobRunner{service: service}
}

// Run executes job and returns its result message
func (r *JobRunner) Run(ctx context.Context, job Job, opts JobOptions) (string, error) {
	switch job.Kind {
	case JobImportRecord:
		result, err := r.service.ImportRecord(ctx, job.BackendID, job.EntityType, job.ExternalID, job.Force)
		if err != nil {
			return "", err
		}
		return result.Message, nil

	case JobImportBatch:
		filters := connector.Filters{}
		if job.Filters != nil {
			filters = *job.Filters
		}
		ids, err := r.service.ImportBatch(ctx, job.BackendID, job.EntityType, filters, BatchOptions{
			Job:    JobOptions{Priority: opts.Priority, Channel: opts.Channel},
			Import: ImportOptions{Force: job.Force},
		})
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%d %s record(s) processed.", len(ids), job.EntityType), nil

	case JobImportSince:
		if err := r.service.ImportSince(ctx, job.BackendID, job.EntityType); err != nil {
			return "", err
		}
		return fmt.Sprintf("Import of %s since last run queued.", job.EntityType), nil

	case JobExportRecord:
		return r.service.ExportRecord(ctx, job.BindingID, job.Fields, job.Force)

	case JobDeleteRecord:
		return r.service.ExportDeleteRecord(ctx, job.BackendID, job.EntityType, job.ExternalID, job.Attributes)

	case JobImportRefresh:
		if err := r.service.ImportRefresh(ctx, job.BackendID); err != nil {
			return "", err
		}
		return "Refresh imports queued.", nil

	case JobImportAll:
		if err := r.service.ImportAll(ctx, job.BackendID); err != nil {
			return "", err
		}
		return "Full imports queued.", nil
	}
	return "", connector.NewInvalidDataError(fmt.Sprintf("unknown job kind %q", job.Kind), nil)
}
