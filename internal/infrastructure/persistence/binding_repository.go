package persistence

import (
	"context"
	"errors"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// GormBindingRepository implements connector.BindingRepository using GORM
type GormBindingRepository struct {
	db *gorm.DB
}

// NewGormBindingRepository creates a new GormBindingRepository
func NewGormBindingRepository(db *gorm.DB) *GormBindingRepository {
	return &GormBindingRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormBindingRepository) WithTx(tx *gorm.DB) *GormBindingRepository {
	return &GormBindingRepository{db: tx}
}

func (r *GormBindingRepository) first(ctx context.Context, query string, args ...any) (*connector.Binding, error) {
	var model models.BindingModel
	if err := r.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connector.ErrBindingNotFound
		}
		return nil, classifyError("find binding", err)
	}
	return model.ToDomain(), nil
}

// FindByID finds a binding by its ID
func (r *GormBindingRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.Binding, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByExternalID finds the binding for (backend, entity type, external ID)
func (r *GormBindingRepository) FindByExternalID(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string) (*connector.Binding, error) {
	if externalID == "" {
		return nil, connector.ErrBindingNotFound
	}
	return r.first(ctx, "backend_id = ? AND entity_type = ? AND external_id = ?",
		backendID, entityType.String(), externalID)
}

// FindByInternalRef finds the binding for (backend, entity type, internal record)
func (r *GormBindingRepository) FindByInternalRef(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, internalRef uuid.UUID) (*connector.Binding, error) {
	return r.first(ctx, "backend_id = ? AND entity_type = ? AND internal_ref = ?",
		backendID, entityType.String(), internalRef)
}

// FindAll finds bindings matching the filter, oldest first
func (r *GormBindingRepository) FindAll(ctx context.Context, filter connector.BindingFilter) ([]connector.Binding, error) {
	var bindingModels []models.BindingModel
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.BindingModel{}), filter)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		query = query.Offset((page - 1) * filter.PageSize).Limit(filter.PageSize)
	}
	if err := query.Order("created_at ASC, id ASC").Find(&bindingModels).Error; err != nil {
		return nil, classifyError("list bindings", err)
	}
	bindings := make([]connector.Binding, len(bindingModels))
	for i, model := range bindingModels {
		bindings[i] = *model.ToDomain()
	}
	return bindings, nil
}

// Count counts bindings matching the filter
func (r *GormBindingRepository) Count(ctx context.Context, filter connector.BindingFilter) (int64, error) {
	var count int64
	query := r.applyFilter(r.db.WithContext(ctx).Model(&models.BindingModel{}), filter)
	if err := query.Count(&count).Error; err != nil {
		return 0, classifyError("count bindings", err)
	}
	return count, nil
}

func (r *GormBindingRepository) applyFilter(query *gorm.DB, filter connector.BindingFilter) *gorm.DB {
	if filter.BackendID != nil {
		query = query.Where("backend_id = ?", *filter.BackendID)
	}
	if filter.EntityType != nil {
		query = query.Where("entity_type = ?", filter.EntityType.String())
	}
	if filter.InternalRef != nil {
		query = query.Where("internal_ref = ?", *filter.InternalRef)
	}
	if filter.Active != nil {
		query = query.Where("active = ?", *filter.Active)
	}
	if filter.Unsynced {
		query = query.Where("external_id IS NULL")
	}
	return query
}

// Create inserts a new binding. A uniqueness violation is returned as ErrBindingAlreadyExists.
func (r *GormBindingRepository) Create(ctx context.Context, binding *connector.Binding) error {
	model := models.BindingModelFromDomain(binding)
	if err := r.db.WithContext(ctx).Omit("Record").Create(model).Error; err != nil {
		if isUniqueViolation(err) {
			return connector.ErrBindingAlreadyExists
		}
		return classifyError("create binding", err)
	}
	binding.CreatedAt = model.CreatedAt
	binding.UpdatedAt = model.UpdatedAt
	return nil
}

// Save updates an existing binding
func (r *GormBindingRepository) Save(ctx context.Context, binding *connector.Binding) error {
	model := models.BindingModelFromDomain(binding)
	result := r.db.WithContext(ctx).Model(model).Omit("Record", "CreatedAt").Select("*").Updates(model)
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return connector.ErrBindingAlreadyExists
		}
		return classifyError("save binding", result.Error)
	}
	if result.RowsAffected == 0 {
		return connector.ErrBindingNotFound
	}
	binding.UpdatedAt = model.UpdatedAt
	return nil
}

// Delete hard-deletes a binding
func (r *GormBindingRepository) Delete(ctx context.Context, id uuid.UUID) error {
	result := r.db.WithContext(ctx).Delete(&models.BindingModel{}, "id = ?", id)
	if result.Error != nil {
		return classifyError("delete binding", result.Error)
	}
	if result.RowsAffected == 0 {
		return connector.ErrBindingNotFound
	}
	return nil
}

var _ connector.BindingRepository = (*GormBindingRepository)(nil)
