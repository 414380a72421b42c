package connector

import (
	"context"
	"fmt"

	"github.com/erp/posconnector/internal/domain/connector"
	"go.uber.org/zap"
)

// ExportListener queues exports when bound internal records are written
type ExportListener struct {
	backends  connector.BackendRepository
	registry  *Registry
	scheduler Scheduler
	logger    *zap.Logger
}

// NewExportListener creates an export listener
func NewExportListener(backends connector.BackendRepository, registry *Registry, scheduler Scheduler, logger *zap.Logger) *ExportListener {
	return &ExportListener{
		backends:  backends,
		registry:  registry,
		scheduler: scheduler,
		logger:    logger,
	}
}

// NeedToExport reports whether writing fields on the record bound by binding
// must be pushed to the POS
func (l *ExportListener) NeedToExport(ctx context.Context, binding *connector.Binding, fields []string) bool {
	if binding == nil || binding.NoExport || !binding.Active {
		return false
	}
	backend, err := l.backends.FindByID(ctx, binding.BackendID)
	if err != nil || backend == nil {
		return false
	}
	env := &Environment{Backend: backend, Registry: l.registry, Logger: l.logger}
	mapper, err := l.registry.ExportMapper(env, binding.EntityType)
	if err != nil {
		return false
	}
	return touchesExportedFields(mapper, fields)
}

// OnRecordWrite schedules an export_record job when needed
func (l *ExportListener) OnRecordWrite(ctx context.Context, binding *connector.Binding, fields []string) error {
	if !l.NeedToExport(ctx, binding, fields) {
		return nil
	}
	job := Job{
		Kind:       JobExportRecord,
		BackendID:  binding.BackendID,
		EntityType: binding.EntityType,
		BindingID:  binding.ID,
		Fields:     fields,
	}
	opts := JobOptions{
		Description: fmt.Sprintf("Export %s %s to POS", binding.EntityType, binding.InternalRef),
	}
	jobID, err := l.scheduler.Schedule(ctx, job, opts)
	if err != nil {
		return fmt.Errorf("schedule export of binding %s: %w", binding.ID, err)
	}
	l.logger.Debug("Export scheduled",
		zap.String("binding_id", binding.ID.String()),
		zap.String("job_id", jobID.String()),
		zap.Strings("fields", fields),
	)
	return nil
}
