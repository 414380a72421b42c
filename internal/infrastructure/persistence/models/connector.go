package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// BindingModel is the persistence model for the Binding domain entity.
// ExternalID is NULL while the binding is an export placeholder so that the
// unique index on (backend, entity type, external id) ignores placeholders.
type BindingModel struct {
	ID          uuid.UUID  `gorm:"type:uuid;primary_key"`
	BackendID   uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_bindings_external,priority:1;uniqueIndex:idx_bindings_internal,priority:1"`
	EntityType  string     `gorm:"type:varchar(64);not null;uniqueIndex:idx_bindings_external,priority:2;uniqueIndex:idx_bindings_internal,priority:2"`
	ExternalID  *string    `gorm:"type:varchar(64);uniqueIndex:idx_bindings_external,priority:3"`
	InternalRef uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex:idx_bindings_internal,priority:3"`
	Active      bool       `gorm:"not null"`
	NoExport    bool       `gorm:"not null"`
	SyncDate    *time.Time `gorm:""`
	CreatedAt   time.Time  `gorm:"not null"`
	UpdatedAt   time.Time  `gorm:"not null"`

	Record *RecordModel `gorm:"foreignKey:InternalRef;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (BindingModel) TableName() string {
	return "bindings"
}

// ToDomain converts the persistence model to a domain Binding
func (m *BindingModel) ToDomain() *connector.Binding {
	b := &connector.Binding{
		ID:          m.ID,
		BackendID:   m.BackendID,
		EntityType:  connector.EntityType(m.EntityType),
		InternalRef: m.InternalRef,
		Active:      m.Active,
		NoExport:    m.NoExport,
		SyncDate:    m.SyncDate,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}
	if m.ExternalID != nil {
		b.ExternalID = *m.ExternalID
	}
	return b
}

// BindingModelFromDomain creates a persistence model from a domain Binding
func BindingModelFromDomain(b *connector.Binding) *BindingModel {
	m := &BindingModel{
		ID:          b.ID,
		BackendID:   b.BackendID,
		EntityType:  b.EntityType.String(),
		InternalRef: b.InternalRef,
		Active:      b.Active,
		NoExport:    b.NoExport,
		SyncDate:    b.SyncDate,
		CreatedAt:   b.CreatedAt,
		UpdatedAt:   b.UpdatedAt,
	}
	if b.ExternalID != "" {
		externalID := b.ExternalID
		m.ExternalID = &externalID
	}
	return m
}

// RecordModel is the persistence model for internal records. The business
// fields live in a JSON document.
type RecordModel struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key"`
	EntityType  string         `gorm:"type:varchar(64);not null;index"`
	FieldValues datatypes.JSON `gorm:"column:field_values;not null"`
	CreatedAt   time.Time      `gorm:"not null"`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (RecordModel) TableName() string {
	return "internal_records"
}

// ToDomain converts the persistence model to a domain InternalRecord
func (m *RecordModel) ToDomain() (*connector.InternalRecord, error) {
	values := connector.Values{}
	if len(m.FieldValues) > 0 {
		if err := json.Unmarshal(m.FieldValues, &values); err != nil {
			return nil, fmt.Errorf("decode values of record %s: %w", m.ID, err)
		}
	}
	return &connector.InternalRecord{
		ID:         m.ID,
		EntityType: connector.EntityType(m.EntityType),
		Values:     values,
		CreatedAt:  m.CreatedAt,
		UpdatedAt:  m.UpdatedAt,
	}, nil
}

// RecordModelFromDomain creates a persistence model from a domain InternalRecord
func RecordModelFromDomain(r *connector.InternalRecord) (*RecordModel, error) {
	values := r.Values
	if values == nil {
		values = connector.Values{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode values of record %s: %w", r.ID, err)
	}
	return &RecordModel{
		ID:          r.ID,
		EntityType:  r.EntityType.String(),
		FieldValues: datatypes.JSON(raw),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}, nil
}

// BackendModel is the persistence model for the Backend domain entity
type BackendModel struct {
	ID                    uuid.UUID                                `gorm:"type:uuid;primary_key"`
	Name                  string                                   `gorm:"type:varchar(128);not null"`
	Location              string                                   `gorm:"type:varchar(512);not null"`
	WebserviceKey         string                                   `gorm:"type:varchar(256)"`
	TaxesIncluded         bool                                     `gorm:"not null"`
	Watermarks            datatypes.JSONType[map[string]time.Time] `gorm:"not null"`
	ImportableOrderStates datatypes.JSONSlice[string]              `gorm:""`
	MatchingProductField  string                                   `gorm:"type:varchar(32)"`
	MatchingCustomer      bool                                     `gorm:"not null"`
	Timezone              string                                   `gorm:"type:varchar(64)"`
	ProductQtyField       string                                   `gorm:"type:varchar(32);not null"`
	Active                bool                                     `gorm:"not null;index"`
	State                 string                                   `gorm:"type:varchar(16);not null"`
	Verbose               bool                                     `gorm:"not null"`
	Debug                 bool                                     `gorm:"not null"`
	RefreshIntervalSecs   int64                                    `gorm:"column:refresh_interval;not null"`
	RoutineIntervalSecs   int64                                    `gorm:"column:routine_interval;not null"`
	CreatedAt             time.Time                                `gorm:"not null"`
	UpdatedAt             time.Time                                `gorm:"not null"`
}

// TableName returns the table name for GORM
func (BackendModel) TableName() string {
	return "pos_backends"
}

// ToDomain converts the persistence model to a domain Backend
func (m *BackendModel) ToDomain() *connector.Backend {
	watermarks := make(map[connector.EntityType]time.Time)
	for k, v := range m.Watermarks.Data() {
		watermarks[connector.EntityType(k)] = v
	}
	return &connector.Backend{
		ID:                    m.ID,
		Name:                  m.Name,
		Location:              m.Location,
		WebserviceKey:         m.WebserviceKey,
		TaxesIncluded:         m.TaxesIncluded,
		Watermarks:            watermarks,
		ImportableOrderStates: []string(m.ImportableOrderStates),
		MatchingProductField:  connector.ProductMatchField(m.MatchingProductField),
		MatchingCustomer:      m.MatchingCustomer,
		Timezone:              m.Timezone,
		ProductQtyField:       connector.ProductQtyField(m.ProductQtyField),
		Active:                m.Active,
		State:                 connector.BackendState(m.State),
		Verbose:               m.Verbose,
		Debug:                 m.Debug,
		RefreshInterval:       time.Duration(m.RefreshIntervalSecs) * time.Second,
		RoutineInterval:       time.Duration(m.RoutineIntervalSecs) * time.Second,
		CreatedAt:             m.CreatedAt,
		UpdatedAt:             m.UpdatedAt,
	}
}

// BackendModelFromDomain creates a persistence model from a domain Backend
func BackendModelFromDomain(b *connector.Backend) *BackendModel {
	watermarks := make(map[string]time.Time, len(b.Watermarks))
	for k, v := range b.Watermarks {
		watermarks[k.String()] = v.UTC()
	}
	return &BackendModel{
		ID:                    b.ID,
		Name:                  b.Name,
		Location:              b.Location,
		WebserviceKey:         b.WebserviceKey,
		TaxesIncluded:         b.TaxesIncluded,
		Watermarks:            datatypes.NewJSONType(watermarks),
		ImportableOrderStates: datatypes.JSONSlice[string](b.ImportableOrderStates),
		MatchingProductField:  string(b.MatchingProductField),
		MatchingCustomer:      b.MatchingCustomer,
		Timezone:              b.Timezone,
		ProductQtyField:       string(b.ProductQtyField),
		Active:                b.Active,
		State:                 string(b.State),
		Verbose:               b.Verbose,
		Debug:                 b.Debug,
		RefreshIntervalSecs:   int64(b.RefreshInterval / time.Second),
		RoutineIntervalSecs:   int64(b.RoutineInterval / time.Second),
		CreatedAt:             b.CreatedAt,
		UpdatedAt:             b.UpdatedAt,
	}
}

// JobModel is the persistence model for queued synchronization jobs
type JobModel struct {
	ID          uuid.UUID      `gorm:"type:uuid;primary_key"`
	Kind        string         `gorm:"type:varchar(32);not null"`
	BackendID   uuid.UUID      `gorm:"type:uuid;not null;index"`
	Payload     datatypes.JSON `gorm:"not null"`
	State       string         `gorm:"type:varchar(16);not null;index"`
	Priority    int            `gorm:"not null"`
	ETA         time.Time      `gorm:"column:eta;not null"`
	Retry       int            `gorm:"not null"`
	MaxRetries  int            `gorm:"not null"`
	Channel     string         `gorm:"type:varchar(64)"`
	IdentityKey string         `gorm:"type:varchar(255);index"`
	Description string         `gorm:"type:varchar(255)"`
	Result      string         `gorm:"type:text"`
	ExcInfo     string         `gorm:"type:text"`
	CreatedAt   time.Time      `gorm:"not null"`
	StartedAt   *time.Time     `gorm:""`
	DoneAt      *time.Time     `gorm:""`
	UpdatedAt   time.Time      `gorm:"not null"`
}

// TableName returns the table name for GORM
func (JobModel) TableName() string {
	return "sync_jobs"
}

// ToDomain converts the persistence model to a domain SyncJob
func (m *JobModel) ToDomain() *connector.SyncJob {
	return &connector.SyncJob{
		ID:          m.ID,
		Kind:        m.Kind,
		BackendID:   m.BackendID,
		Payload:     []byte(m.Payload),
		State:       connector.JobState(m.State),
		Priority:    m.Priority,
		ETA:         m.ETA,
		Retry:       m.Retry,
		MaxRetries:  m.MaxRetries,
		Channel:     m.Channel,
		IdentityKey: m.IdentityKey,
		Description: m.Description,
		Result:      m.Result,
		ExcInfo:     m.ExcInfo,
		CreatedAt:   m.CreatedAt,
		StartedAt:   m.StartedAt,
		DoneAt:      m.DoneAt,
		UpdatedAt:   m.UpdatedAt,
	}
}

// JobModelFromDomain creates a persistence model from a domain SyncJob
func JobModelFromDomain(j *connector.SyncJob) *JobModel {
	payload := j.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return &JobModel{
		ID:          j.ID,
		Kind:        j.Kind,
		BackendID:   j.BackendID,
		Payload:     datatypes.JSON(payload),
		State:       string(j.State),
		Priority:    j.Priority,
		ETA:         j.ETA,
		Retry:       j.Retry,
		MaxRetries:  j.MaxRetries,
		Channel:     j.Channel,
		IdentityKey: j.IdentityKey,
		Description: j.Description,
		Result:      j.Result,
		ExcInfo:     j.ExcInfo,
		CreatedAt:   j.CreatedAt,
		StartedAt:   j.StartedAt,
		DoneAt:      j.DoneAt,
		UpdatedAt:   j.UpdatedAt,
	}
}
