package dto

import (
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
)

// ---------------------------------------------------------------------------
// Backends
// ---------------------------------------------------------------------------

// CreateBackendRequest is the body of POST /backends
type CreateBackendRequest struct {
	Name                  string   `json:"name" binding:"required,max=128"`
	Location              string   `json:"location" binding:"required"`
	WebserviceKey         string   `json:"webservice_key" binding:"required"`
	TaxesIncluded         bool     `json:"taxes_included"`
	ImportableOrderStates []string `json:"importable_order_states"`
	MatchingProductField  string   `json:"matching_product_field" binding:"omitempty,oneof=reference barcode"`
	MatchingCustomer      bool     `json:"matching_customer"`
	Timezone              string   `json:"timezone"`
	ProductQtyField       string   `json:"product_qty_field" binding:"omitempty,oneof=qty_available qty_available_not_res"`
	Verbose               bool     `json:"verbose"`
	Debug                 bool     `json:"debug"`
	// Intervals are expressed in minutes
	RefreshInterval int `json:"refresh_interval" binding:"omitempty,min=1"`
	RoutineInterval int `json:"routine_interval" binding:"omitempty,min=1"`
}

// BackendResponse is the API view of a backend. The webservice key is never returned.
type BackendResponse struct {
	ID                    string               `json:"id"`
	Name                  string               `json:"name"`
	Location              string               `json:"location"`
	State                 string               `json:"state"`
	Active                bool                 `json:"active"`
	TaxesIncluded         bool                 `json:"taxes_included"`
	ImportableOrderStates []string             `json:"importable_order_states,omitempty"`
	MatchingProductField  string               `json:"matching_product_field,omitempty"`
	MatchingCustomer      bool                 `json:"matching_customer"`
	Timezone              string               `json:"timezone,omitempty"`
	ProductQtyField       string               `json:"product_qty_field"`
	RefreshInterval       int                  `json:"refresh_interval"`
	RoutineInterval       int                  `json:"routine_interval"`
	Watermarks            map[string]time.Time `json:"watermarks,omitempty"`
	TimestampResponse
}

// NewBackendResponse converts a backend
func NewBackendResponse(b *connector.Backend) BackendResponse {
	var watermarks map[string]time.Time
	if len(b.Watermarks) > 0 {
		watermarks = make(map[string]time.Time, len(b.Watermarks))
		for k, v := range b.Watermarks {
			watermarks[string(k)] = v
		}
	}
	return BackendResponse{
		ID:                    b.ID.String(),
		Name:                  b.Name,
		Location:              b.Location,
		State:                 string(b.State),
		Active:                b.Active,
		TaxesIncluded:         b.TaxesIncluded,
		ImportableOrderStates: b.ImportableOrderStates,
		MatchingProductField:  string(b.MatchingProductField),
		MatchingCustomer:      b.MatchingCustomer,
		Timezone:              b.Timezone,
		ProductQtyField:       string(b.ProductQtyField),
		RefreshInterval:       int(b.RefreshInterval / time.Minute),
		RoutineInterval:       int(b.RoutineInterval / time.Minute),
		Watermarks:            watermarks,
		TimestampResponse: TimestampResponse{
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
		},
	}
}

// EntityRequest names the entity type of a backend action
type EntityRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
}

// ImportRecordRequest is the body of POST /backends/:id/import-record
type ImportRecordRequest struct {
	EntityType string `json:"entity_type" binding:"required"`
	ExternalID string `json:"external_id" binding:"required"`
	Force      bool   `json:"force"`
}

// DeleteRecordRequest is the body of POST /backends/:id/delete-record
type DeleteRecordRequest struct {
	EntityType string         `json:"entity_type" binding:"required"`
	ExternalID string         `json:"external_id" binding:"required"`
	Attributes map[string]any `json:"attributes"`
}

// ImportResultResponse describes a finished record import
type ImportResultResponse struct {
	State     string   `json:"state"`
	Created   bool     `json:"created"`
	Message   string   `json:"message,omitempty"`
	BindingID string   `json:"binding_id,omitempty"`
	RecordID  string   `json:"record_id,omitempty"`
	Trail     []string `json:"trail,omitempty"`
}

// NewImportResultResponse converts an import result
func NewImportResultResponse(r appconnector.ImportResult) ImportResultResponse {
	resp := ImportResultResponse{
		State:   string(r.State),
		Created: r.Created,
		Message: r.Message,
	}
	if r.Binding != nil {
		resp.BindingID = r.Binding.ID.String()
	}
	if r.Record != nil {
		resp.RecordID = r.Record.ID.String()
	}
	for _, s := range r.Trail {
		resp.Trail = append(resp.Trail, string(s))
	}
	return resp
}

// MatchReportResponse is the result of an auto-matching run
type MatchReportResponse struct {
	AlreadyMapped int    `json:"already_mapped"`
	Mapped        int    `json:"mapped"`
	NotMapped     int    `json:"not_mapped"`
	Duration      string `json:"duration"`
}

// NewMatchReportResponse converts a match report
func NewMatchReportResponse(r appconnector.MatchReport) MatchReportResponse {
	return MatchReportResponse{
		AlreadyMapped: r.AlreadyMapped,
		Mapped:        r.Mapped,
		NotMapped:     r.NotMapped,
		Duration:      r.Duration.Round(time.Millisecond).String(),
	}
}

// MessageResponse carries the message of an action
type MessageResponse struct {
	Message string `json:"message"`
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

// BindingListRequest holds the query of GET /bindings
type BindingListRequest struct {
	ListRequest
	BackendID  string `form:"backend_id" binding:"omitempty,uuid"`
	EntityType string `form:"entity_type"`
	Active     *bool  `form:"active"`
	Unsynced   bool   `form:"unsynced"`
}

// BindingResponse is the API view of a binding
type BindingResponse struct {
	ID          string     `json:"id"`
	BackendID   string     `json:"backend_id"`
	EntityType  string     `json:"entity_type"`
	ExternalID  string     `json:"external_id,omitempty"`
	InternalRef string     `json:"internal_ref"`
	Active      bool       `json:"active"`
	NoExport    bool       `json:"no_export"`
	SyncDate    *time.Time `json:"sync_date,omitempty"`
	TimestampResponse
}

// NewBindingResponse converts a binding
func NewBindingResponse(b *connector.Binding) BindingResponse {
	return BindingResponse{
		ID:          b.ID.String(),
		BackendID:   b.BackendID.String(),
		EntityType:  string(b.EntityType),
		ExternalID:  b.ExternalID,
		InternalRef: b.InternalRef.String(),
		Active:      b.Active,
		NoExport:    b.NoExport,
		SyncDate:    b.SyncDate,
		TimestampResponse: TimestampResponse{
			CreatedAt: b.CreatedAt,
			UpdatedAt: b.UpdatedAt,
		},
	}
}

// ExportBindingRequest is the body of POST /bindings/:id/export
type ExportBindingRequest struct {
	Fields    []string `json:"fields"`
	ForceSync bool     `json:"force_sync"`
}

// ResyncRequest is the body of POST /bindings/resync
type ResyncRequest struct {
	BindingIDs []string `json:"binding_ids" binding:"required,min=1,max=500,dive,uuid"`
	Delayed    bool     `json:"delayed"`
}

// ---------------------------------------------------------------------------
// Jobs
// ---------------------------------------------------------------------------

// JobListRequest holds the query of GET /jobs
type JobListRequest struct {
	ListRequest
	BackendID string `form:"backend_id" binding:"omitempty,uuid"`
	State     string `form:"state" binding:"omitempty,oneof=pending started done failed dead"`
	Kind      string `form:"kind"`
}

// JobResponse is the API view of a queued job
type JobResponse struct {
	ID          string     `json:"id"`
	Kind        string     `json:"kind"`
	BackendID   string     `json:"backend_id"`
	State       string     `json:"state"`
	Priority    int        `json:"priority"`
	ETA         time.Time  `json:"eta"`
	Retry       int        `json:"retry"`
	MaxRetries  int        `json:"max_retries"`
	Channel     string     `json:"channel"`
	Description string     `json:"description,omitempty"`
	Result      string     `json:"result,omitempty"`
	ExcInfo     string     `json:"exc_info,omitempty"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	DoneAt      *time.Time `json:"done_at,omitempty"`
	TimestampResponse
}

// NewJobResponse converts a job
func NewJobResponse(j *connector.SyncJob) JobResponse {
	return JobResponse{
		ID:          j.ID.String(),
		Kind:        j.Kind,
		BackendID:   j.BackendID.String(),
		State:       string(j.State),
		Priority:    j.Priority,
		ETA:         j.ETA,
		Retry:       j.Retry,
		MaxRetries:  j.MaxRetries,
		Channel:     j.Channel,
		Description: j.Description,
		Result:      j.Result,
		ExcInfo:     j.ExcInfo,
		StartedAt:   j.StartedAt,
		DoneAt:      j.DoneAt,
		TimestampResponse: TimestampResponse{
			CreatedAt: j.CreatedAt,
			UpdatedAt: j.UpdatedAt,
		},
	}
}

// ---------------------------------------------------------------------------
// Internal records
// ---------------------------------------------------------------------------

// UpdateRecordRequest is the body of PATCH /records/:id
type UpdateRecordRequest struct {
	Values map[string]any `json:"values" binding:"required,min=1"`
}

// RecordResponse is the API view of an internal record
type RecordResponse struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entity_type"`
	Values     map[string]any `json:"values"`
	TimestampResponse
}

// NewRecordResponse converts an internal record
func NewRecordResponse(r *connector.InternalRecord) RecordResponse {
	return RecordResponse{
		ID:         r.ID.String(),
		EntityType: string(r.EntityType),
		Values:     r.Values,
		TimestampResponse: TimestampResponse{
			CreatedAt: r.CreatedAt,
			UpdatedAt: r.UpdatedAt,
		},
	}
}
