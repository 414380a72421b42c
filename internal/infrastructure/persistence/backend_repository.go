package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormBackendRepository implements connector.BackendRepository using GORM
type GormBackendRepository struct {
	db *gorm.DB
}

// NewGormBackendRepository creates a new GormBackendRepository
func NewGormBackendRepository(db *gorm.DB) *GormBackendRepository {
	return &GormBackendRepository{db: db}
}

// FindByID finds a backend by its ID
func (r *GormBackendRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.Backend, error) {
	var model models.BackendModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connector.ErrBackendNotFound
		}
		return nil, classifyError("find backend", err)
	}
	return model.ToDomain(), nil
}

// FindAll returns all backends ordered by name, optionally only the active ones
func (r *GormBackendRepository) FindAll(ctx context.Context, activeOnly bool) ([]connector.Backend, error) {
	var backendModels []models.BackendModel
	query := r.db.WithContext(ctx)
	if activeOnly {
		query = query.Where("active = ?", true)
	}
	if err := query.Order("name ASC").Find(&backendModels).Error; err != nil {
		return nil, classifyError("list backends", err)
	}
	backends := make([]connector.Backend, len(backendModels))
	for i, model := range backendModels {
		backends[i] = *model.ToDomain()
	}
	return backends, nil
}

// Save creates or updates a backend
func (r *GormBackendRepository) Save(ctx context.Context, backend *connector.Backend) error {
	model := models.BackendModelFromDomain(backend)
	if model.CreatedAt.IsZero() {
		model.CreatedAt = time.Now()
	}
	model.UpdatedAt = time.Now()
	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
	if err != nil {
		return classifyError("save backend", err)
	}
	backend.CreatedAt = model.CreatedAt
	backend.UpdatedAt = model.UpdatedAt
	return nil
}

// SaveWatermark persists a single watermark without touching other fields.
// The row is locked while the JSON document is rewritten.
func (r *GormBackendRepository) SaveWatermark(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, at time.Time) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var model models.BackendModel
		query := tx.Select("id", "watermarks")
		if tx.Dialector.Name() == "postgres" {
			query = query.Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate})
		}
		if err := query.First(&model, "id = ?", backendID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return connector.ErrBackendNotFound
			}
			return classifyError("load watermarks", err)
		}

		watermarks := make(map[string]time.Time)
		for k, v := range model.Watermarks.Data() {
			watermarks[k] = v
		}
		watermarks[entityType.String()] = at.UTC()

		err := tx.Model(&models.BackendModel{}).
			Where("id = ?", backendID).
			Updates(map[string]any{
				"watermarks": datatypes.NewJSONType(watermarks),
				"updated_at": time.Now(),
			}).Error
		return classifyError("save watermark", err)
	})
}

var _ connector.BackendRepository = (*GormBackendRepository)(nil)
