package persistence

import (
	"context"
	"errors"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormJobRepository implements connector.JobRepository using GORM
type GormJobRepository struct {
	db *gorm.DB
}

// NewGormJobRepository creates a new GormJobRepository
func NewGormJobRepository(db *gorm.DB) *GormJobRepository {
	return &GormJobRepository{db: db}
}

// FindByID finds a job by its ID
func (r *GormJobRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.SyncJob, error) {
	var model models.JobModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connector.ErrJobNotFound
		}
		return nil, classifyError("find job", err)
	}
	return model.ToDomain(), nil
}

// FindAll finds jobs matching the filter, newest first unless the filter orders them
func (r *GormJobRepository) FindAll(ctx context.Context, filter connector.JobFilter) ([]connector.SyncJob, error) {
	var jobModels []models.JobModel
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.JobModel{}), filter)
	if filter.Page > 0 && filter.PageSize > 0 {
		query = query.Offset((filter.Page - 1) * filter.PageSize).Limit(filter.PageSize)
	}
	orderBy := ValidateSortField(filter.OrderBy, JobSortFields, "created_at")
	orderDir := ValidateSortOrder(filter.OrderDir)
	if err := query.Order(orderBy + " " + orderDir + ", id " + orderDir).Find(&jobModels).Error; err != nil {
		return nil, classifyError("list jobs", err)
	}
	return jobsToDomain(jobModels), nil
}

// Count counts jobs matching the filter
func (r *GormJobRepository) Count(ctx context.Context, filter connector.JobFilter) (int64, error) {
	var count int64
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.JobModel{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, classifyError("count jobs", err)
	}
	return count, nil
}

// FindPending returns the pending and interrupted jobs, by priority then ETA
func (r *GormJobRepository) FindPending(ctx context.Context) ([]connector.SyncJob, error) {
	var jobModels []models.JobModel
	if err := r.db.WithContext(ctx).
		Where("state IN ?", []string{string(connector.JobStatePending), string(connector.JobStateStarted)}).
		Order("priority ASC, eta ASC, created_at ASC").
		Find(&jobModels).Error; err != nil {
		return nil, classifyError("list pending jobs", err)
	}
	return jobsToDomain(jobModels), nil
}

// Save creates or updates a job
func (r *GormJobRepository) Save(ctx context.Context, job *connector.SyncJob) error {
	model := models.JobModelFromDomain(job)
	if err := r.db.WithContext(ctx).Save(model).Error; err != nil {
		return classifyError("save job", err)
	}
	job.CreatedAt = model.CreatedAt
	job.UpdatedAt = model.UpdatedAt
	return nil
}

func (r *GormJobRepository) applyFilter(query *gorm.DB, filter connector.JobFilter) *gorm.DB {
	if filter.BackendID != nil {
		query = query.Where("backend_id = ?", *filter.BackendID)
	}
	if filter.State != nil {
		query = query.Where("state = ?", string(*filter.State))
	}
	if filter.Kind != "" {
		query = query.Where("kind = ?", filter.Kind)
	}
	return query
}

func jobsToDomain(jobModels []models.JobModel) []connector.SyncJob {
	jobs := make([]connector.SyncJob, len(jobModels))
	for i, model := range jobModels {
		jobs[i] = *model.ToDomain()
	}
	return jobs
}

var _ connector.JobRepository = (*GormJobRepository)(nil)
