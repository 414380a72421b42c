// Package connector contains the POS connector bounded context.
// It keeps internal records and the records of a remote point-of-sale system
// consistent in both directions.
//
// Key concepts:
//   - Binding: Entity mapping one internal record to one external record for a backend
//   - Backend: Connection configuration for one remote POS instance
//   - Adapter: Port interface for record-oriented access to the remote POS
//   - ImportMapper / ExportMapper: Pure transforms between external and internal values
//   - SyncError: Retry-aware error taxonomy shared by importers, exporters and the scheduler
//
// Design Pattern: Ports & Adapters
//   - Ports (interfaces) are defined here in the domain layer
//   - Adapters (implementations) are in the infrastructure layer
package connector
