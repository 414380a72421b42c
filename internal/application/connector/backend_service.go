package connector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CheckConnectionResource is the resource used to test the POS credentials
const CheckConnectionResource = "check-connection"

// Job priorities, lower runs first
const (
	DefaultJobPriority = 10
	ResyncJobPriority  = 5
)

// DefaultJobChannel is the queue channel of connector jobs
const DefaultJobChannel = "root.pos"

// BackendServiceConfig tunes a BackendService
type BackendServiceConfig struct {
	// RefreshChain is the ordered list of entity types imported by a refresh
	RefreshChain []connector.EntityType
	// Priorities overrides DefaultJobPriority for the batch job of an entity type
	Priorities map[connector.EntityType]int
	Channel    string
	PageSize   int
	MaxRetries int
}

// BackendService runs the operator-facing actions of a backend
type BackendService struct {
	backends  connector.BackendRepository
	registry  *Registry
	adapters  connector.AdapterFactory
	scope     TransactionScope
	scheduler Scheduler
	logger    *zap.Logger
	cfg       BackendServiceConfig
	now       func() time.Time
}

// NewBackendService creates a backend service
func NewBackendService(
	backends connector.BackendRepository,
	registry *Registry,
	adapters connector.AdapterFactory,
	scope TransactionScope,
	scheduler Scheduler,
	logger *zap.Logger,
	cfg BackendServiceConfig,
) *BackendService {
	if cfg.Channel == "" {
		cfg.Channel = DefaultJobChannel
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	return &BackendService{
		backends:  backends,
		registry:  registry,
		adapters:  adapters,
		scope:     scope,
		scheduler: scheduler,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
}

// SetClock replaces the service clock
func (s *BackendService) SetClock(now func() time.Time) {
	s.now = now
}

// Environment builds the environment of a backend
func (s *BackendService) Environment(backend *connector.Backend) *Environment {
	return &Environment{
		Backend:   backend,
		Registry:  s.registry,
		Adapters:  s.adapters,
		Scope:     s.scope,
		Scheduler: s.scheduler,
		Logger:    s.logger.With(zap.String("backend_id", backend.ID.String())),
		Now:       s.now,
	}
}

func (s *BackendService) activeBackend(ctx context.Context, backendID uuid.UUID) (*connector.Backend, error) {
	backend, err := s.backends.FindByID(ctx, backendID)
	if err != nil {
		return nil, err
	}
	if err := backend.CheckActive(); err != nil {
		return nil, err
	}
	return backend, nil
}

func (s *BackendService) priority(entityType connector.EntityType) int {
	if p, ok := s.cfg.Priorities[entityType]; ok {
		return p
	}
	return DefaultJobPriority
}

// ---------------------------------------------------------------------------
// Backend state
// ---------------------------------------------------------------------------

// CheckConnection tests the POS credentials and marks the backend checked
func (s *BackendService) CheckConnection(ctx context.Context, backendID uuid.UUID) error {
	backend, err := s.backends.FindByID(ctx, backendID)
	if err != nil {
		return err
	}
	adapter, err := s.adapters.AdapterFor(backend, CheckConnectionResource)
	if err != nil {
		return err
	}
	if _, err := adapter.Connect(ctx); err != nil {
		s.logger.Warn("POS connection check failed",
			zap.String("backend_id", backendID.String()),
			zap.Error(err),
		)
		return connector.HandleAPIErrors("Connection failed", err)
	}
	backend.MarkChecked()
	return s.backends.Save(ctx, backend)
}

// ResetToDraft sets the backend back to draft
func (s *BackendService) ResetToDraft(ctx context.Context, backendID uuid.UUID) error {
	backend, err := s.backends.FindByID(ctx, backendID)
	if err != nil {
		return err
	}
	backend.ResetToDraft()
	return s.backends.Save(ctx, backend)
}

// ---------------------------------------------------------------------------
// Synchronous operations
// ---------------------------------------------------------------------------

// ImportRecord imports one POS record in its own transaction
func (s *BackendService) ImportRecord(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string, force bool) (ImportResult, error) {
	backend, err := s.activeBackend(ctx, backendID)
	if err != nil {
		return ImportResult{}, err
	}
	env := s.Environment(backend)
	importer, err := s.registry.Importer(env, entityType)
	if err != nil {
		return ImportResult{}, err
	}
	var result ImportResult
	err = s.scope.Execute(ctx, func(store Store) error {
		var err error
		result, err = importer.Run(ctx, NewWorkContext(env, store), externalID, ImportOptions{Force: force})
		return err
	})
	return result, err
}

// ImportBatch runs the batch importer of an entity type
func (s *BackendService) ImportBatch(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, filters connector.Filters, opts BatchOptions) ([]string, error) {
	backend, err := s.activeBackend(ctx, backendID)
	if err != nil {
		return nil, err
	}
	env := s.Environment(backend)
	batch, err := s.registry.BatchImporter(env, entityType)
	if err != nil {
		return nil, err
	}
	if opts.PageSize <= 0 {
		opts.PageSize = s.cfg.PageSize
	}
	if opts.Job.Channel == "" {
		opts.Job.Channel = s.cfg.Channel
	}
	if opts.Job.MaxRetries == 0 {
		opts.Job.MaxRetries = s.cfg.MaxRetries
	}
	var ids []string
	err = s.scope.Execute(ctx, func(store Store) error {
		var err error
		ids, err = batch.Run(ctx, NewWorkContext(env, store), filters, opts)
		return err
	})
	return ids, err
}

// ExportRecord exports the record wrapped by a binding
func (s *BackendService) ExportRecord(ctx context.Context, bindingID uuid.UUID, fields []string, forceSync bool) (string, error) {
	binding, err := s.FindBinding(ctx, bindingID)
	if errors.Is(err, connector.ErrBindingNotFound) {
		return MsgExportGone, nil
	}
	if err != nil {
		return "", err
	}
	backend, err := s.activeBackend(ctx, binding.BackendID)
	if err != nil {
		return "", err
	}
	env := s.Environment(backend)
	exporter, err := s.registry.Exporter(env, binding.EntityType)
	if err != nil {
		return "", err
	}
	var message string
	err = s.scope.Execute(ctx, func(store Store) error {
		var err error
		message, err = exporter.Run(ctx, NewWorkContext(env, store), bindingID, fields, ExportOptions{ForceSync: forceSync})
		return err
	})
	return message, err
}

// ExportDeleteRecord deletes a record on the POS
func (s *BackendService) ExportDeleteRecord(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string, attributes map[string]any) (string, error) {
	backend, err := s.activeBackend(ctx, backendID)
	if err != nil {
		return "", err
	}
	env := s.Environment(backend)
	deleter, err := s.registry.Deleter(env, entityType)
	if err != nil {
		return "", err
	}
	var message string
	err = s.scope.Execute(ctx, func(store Store) error {
		var err error
		message, err = deleter.Run(ctx, NewWorkContext(env, store), externalID, attributes)
		return err
	})
	return message, err
}

// MatchRecords binds the unbound POS records of an entity type to existing
// internal records
func (s *BackendService) MatchRecords(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType) (MatchReport, error) {
	backend, err := s.activeBackend(ctx, backendID)
	if err != nil {
		return MatchReport{}, err
	}
	env := s.Environment(backend)
	matcher, err := s.registry.AutoMatcher(env, entityType)
	if err != nil {
		return MatchReport{}, err
	}
	var report MatchReport
	err = s.scope.Execute(ctx, func(store Store) error {
		var err error
		report, err = matcher.Run(ctx, NewWorkContext(env, store))
		return err
	})
	return report, err
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

// FindBinding loads one binding
func (s *BackendService) FindBinding(ctx context.Context, bindingID uuid.UUID) (*connector.Binding, error) {
	var binding *connector.Binding
	err := s.scope.Execute(ctx, func(store Store) error {
		var err error
		binding, err = store.Bindings().FindByID(ctx, bindingID)
		return err
	})
	return binding, err
}

// ListBindings lists bindings with pagination
func (s *BackendService) ListBindings(ctx context.Context, filter connector.BindingFilter) ([]connector.Binding, int64, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}
	var bindings []connector.Binding
	var total int64
	err := s.scope.Execute(ctx, func(store Store) error {
		var err error
		bindings, err = store.Bindings().FindAll(ctx, filter)
		if err != nil {
			return err
		}
		total, err = store.Bindings().Count(ctx, filter)
		return err
	})
	return bindings, total, err
}

// Resync re-imports the POS records of the given bindings
func (s *BackendService) Resync(ctx context.Context, bindingIDs []uuid.UUID, delayed bool) error {
	for _, id := range bindingIDs {
		binding, err := s.FindBinding(ctx, id)
		if err != nil {
			return err
		}
		if !binding.IsBound() {
			continue
		}
		if !delayed {
			if _, err := s.ImportRecord(ctx, binding.BackendID, binding.EntityType, binding.ExternalID, true); err != nil {
				return err
			}
			continue
		}
		backend, err := s.backends.FindByID(ctx, binding.BackendID)
		if err != nil {
			return err
		}
		job := Job{
			Kind:       JobImportRecord,
			BackendID:  binding.BackendID,
			EntityType: binding.EntityType,
			ExternalID: binding.ExternalID,
			Force:      true,
		}
		_, err = s.scheduler.Schedule(ctx, job, JobOptions{
			Priority:    ResyncJobPriority,
			Channel:     s.cfg.Channel,
			MaxRetries:  s.cfg.MaxRetries,
			IdentityKey: ImportRecordIdentityKey(backend, binding.EntityType, binding.ExternalID),
			Description: fmt.Sprintf("Resync %s %s from POS", binding.EntityType, binding.ExternalID),
		})
		if err != nil && !errors.Is(err, ErrJobAlreadyQueued) {
			return err
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Incremental imports
// ---------------------------------------------------------------------------

// ImportSince queues a batch import of the records modified since the
// watermark of entityType, then moves the watermark to now.
func (s *BackendService) ImportSince(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType) error {
	backend, err := s.activeBackend(ctx, backendID)
	if err != nil {
		return err
	}
	return s.importSince(ctx, backend, entityType)
}

func (s *BackendService) importSince(ctx context.Context, backend *connector.Backend, entityType connector.EntityType) error {
	started := s.now()
	filters := connector.Filters{}
	if since, ok := backend.Watermark(entityType); ok {
		filters.Since = &since
	}
	job := Job{
		Kind:       JobImportBatch,
		BackendID:  backend.ID,
		EntityType: entityType,
		Filters:    &filters,
	}
	_, err := s.scheduler.Schedule(ctx, job, JobOptions{
		Priority:    s.priority(entityType),
		Channel:     s.cfg.Channel,
		MaxRetries:  s.cfg.MaxRetries,
		Description: fmt.Sprintf("Import %s from POS", entityType),
	})
	if err != nil && !errors.Is(err, ErrJobAlreadyQueued) {
		return fmt.Errorf("schedule %s batch import: %w", entityType, err)
	}
	backend.AdvanceWatermark(entityType, started)
	if err := s.backends.SaveWatermark(ctx, backend.ID, entityType, started); err != nil {
		return err
	}
	s.logger.Info("Import since scheduled",
		zap.String("backend_id", backend.ID.String()),
		zap.String("entity_type", entityType.String()),
		zap.Time("watermark", started),
	)
	return nil
}

// ImportRefresh runs ImportSince over the refresh chain
func (s *BackendService) ImportRefresh(ctx context.Context, backendID uuid.UUID) error {
	return s.importChain(ctx, backendID, connector.WatermarkRefresh)
}

// ImportAll runs the refresh chain and stamps the routine and all watermarks
func (s *BackendService) ImportAll(ctx context.Context, backendID uuid.UUID) error {
	return s.importChain(ctx, backendID, connector.WatermarkRefresh, connector.WatermarkRoutine, connector.WatermarkAll)
}

func (s *BackendService) importChain(ctx context.Context, backendID uuid.UUID, stamps ...connector.EntityType) error {
	backend, err := s.activeBackend(ctx, backendID)
	if err != nil {
		return err
	}
	started := s.now()
	for _, et := range s.cfg.RefreshChain {
		if err := s.importSince(ctx, backend, et); err != nil {
			return err
		}
	}
	for _, key := range stamps {
		backend.AdvanceWatermark(key, started)
		if err := s.backends.SaveWatermark(ctx, backend.ID, key, started); err != nil {
			return err
		}
	}
	return nil
}
