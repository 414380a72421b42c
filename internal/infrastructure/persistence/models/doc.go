// Package models contains GORM-specific persistence models that map to database tables.
// These models are separate from domain entities to keep the domain layer free
// from ORM concerns.
//
// Tables:
// - bindings: one row per (backend, entity type, external record)
// - internal_records: the internal side of a binding, values kept as JSON
// - pos_backends: POS connection settings and import watermarks
// - sync_jobs: queued synchronization jobs
package models
