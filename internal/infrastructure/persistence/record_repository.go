package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var valueKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GormRecordRepository implements connector.RecordRepository using GORM.
// Record values are stored as one JSON document per row.
type GormRecordRepository struct {
	db *gorm.DB
}

// NewGormRecordRepository creates a new GormRecordRepository
func NewGormRecordRepository(db *gorm.DB) *GormRecordRepository {
	return &GormRecordRepository{db: db}
}

// WithTx returns a new repository instance with the given transaction
func (r *GormRecordRepository) WithTx(tx *gorm.DB) *GormRecordRepository {
	return &GormRecordRepository{db: tx}
}

// FindByID finds a record by its ID
func (r *GormRecordRepository) FindByID(ctx context.Context, id uuid.UUID) (*connector.InternalRecord, error) {
	var model models.RecordModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, connector.ErrRecordNotFound
		}
		return nil, classifyError("find record", err)
	}
	return model.ToDomain()
}

// FindAll returns every record of an entity type
func (r *GormRecordRepository) FindAll(ctx context.Context, entityType connector.EntityType) ([]connector.InternalRecord, error) {
	return r.find(ctx, r.db.WithContext(ctx).Where("entity_type = ?", entityType.String()))
}

// FindByValue returns records whose value at key equals value
func (r *GormRecordRepository) FindByValue(ctx context.Context, entityType connector.EntityType, key, value string) ([]connector.InternalRecord, error) {
	if !valueKeyPattern.MatchString(key) {
		return nil, fmt.Errorf("find records: invalid value key %q", key)
	}
	query := r.db.WithContext(ctx).
		Where("entity_type = ?", entityType.String()).
		Where(datatypes.JSONQuery("field_values").Equals(value, key))
	return r.find(ctx, query)
}

func (r *GormRecordRepository) find(ctx context.Context, query *gorm.DB) ([]connector.InternalRecord, error) {
	var recordModels []models.RecordModel
	if err := query.Order("created_at ASC, id ASC").Find(&recordModels).Error; err != nil {
		return nil, classifyError("find records", err)
	}
	records := make([]connector.InternalRecord, 0, len(recordModels))
	for _, model := range recordModels {
		record, err := model.ToDomain()
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	return records, nil
}

// Create inserts a record
func (r *GormRecordRepository) Create(ctx context.Context, record *connector.InternalRecord) error {
	model, err := models.RecordModelFromDomain(record)
	if err != nil {
		return err
	}
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return classifyError("create record", err)
	}
	record.CreatedAt = model.CreatedAt
	record.UpdatedAt = model.UpdatedAt
	return nil
}

// Save updates a record
func (r *GormRecordRepository) Save(ctx context.Context, record *connector.InternalRecord) error {
	model, err := models.RecordModelFromDomain(record)
	if err != nil {
		return err
	}
	result := r.db.WithContext(ctx).Model(model).Select("entity_type", "field_values", "updated_at").Updates(model)
	if result.Error != nil {
		return classifyError("save record", result.Error)
	}
	if result.RowsAffected == 0 {
		return connector.ErrRecordNotFound
	}
	record.UpdatedAt = model.UpdatedAt
	return nil
}

// Delete deletes a record together with its bindings
func (r *GormRecordRepository) Delete(ctx context.Context, id uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("internal_ref = ?", id).Delete(&models.BindingModel{}).Error; err != nil {
		return classifyError("delete record bindings", err)
	}
	result := db.Delete(&models.RecordModel{}, "id = ?", id)
	if result.Error != nil {
		return classifyError("delete record", result.Error)
	}
	if result.RowsAffected == 0 {
		return connector.ErrRecordNotFound
	}
	return nil
}

var _ connector.RecordRepository = (*GormRecordRepository)(nil)
