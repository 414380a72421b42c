// Package connectortest provides in-memory fakes of the connector ports for tests.
package connectortest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
)

// MemoryDB is an in-memory store. Transactions read committed data plus
// their own writes; unique constraints are checked on write and again at
// commit, and advisory/row locks are held until the transaction ends.
type MemoryDB struct {
	mu             sync.Mutex
	bindings       map[uuid.UUID]connector.Binding
	records        map[uuid.UUID]connector.InternalRecord
	advisory       map[string]*memTx
	rowLocks       map[uuid.UUID]*memTx
	repeatableRead bool
	commits        int
	rollbacks      int
}

// NewMemoryDB creates an empty database
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		bindings: make(map[uuid.UUID]connector.Binding),
		records:  make(map[uuid.UUID]connector.InternalRecord),
		advisory: make(map[string]*memTx),
		rowLocks: make(map[uuid.UUID]*memTx),
	}
}

// SetRepeatableRead makes new transactions read a snapshot taken when they begin
func (db *MemoryDB) SetRepeatableRead(on bool) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.repeatableRead = on
}

// Execute runs fn in a new transaction
func (db *MemoryDB) Execute(ctx context.Context, fn func(store appconnector.Store) error) error {
	tx := db.begin()
	if err := fn(tx); err != nil {
		db.rollback(tx)
		return err
	}
	return db.commit(tx)
}

// ExecuteIndependent runs fn in a new transaction. Every transaction of a
// MemoryDB is independent.
func (db *MemoryDB) ExecuteIndependent(ctx context.Context, fn func(store appconnector.Store) error) error {
	return db.Execute(ctx, fn)
}

// SeedBinding commits a binding directly
func (db *MemoryDB) SeedBinding(b connector.Binding) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}
	db.bindings[b.ID] = b
}

// SeedRecord commits an internal record directly
func (db *MemoryDB) SeedRecord(r connector.InternalRecord) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.records[r.ID] = cloneRecord(r)
}

// Bindings returns the committed bindings sorted by creation
func (db *MemoryDB) Bindings() []connector.Binding {
	db.mu.Lock()
	defer db.mu.Unlock()
	return sortedBindings(db.bindings)
}

// Records returns the committed internal records of an entity type
func (db *MemoryDB) Records(entityType connector.EntityType) []connector.InternalRecord {
	db.mu.Lock()
	defer db.mu.Unlock()
	return recordsOf(db.records, entityType)
}

// Commits returns the number of committed transactions
func (db *MemoryDB) Commits() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.commits
}

// Rollbacks returns the number of rolled back transactions
func (db *MemoryDB) Rollbacks() int {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.rollbacks
}

func (db *MemoryDB) begin() *memTx {
	db.mu.Lock()
	defer db.mu.Unlock()
	tx := &memTx{
		db:       db,
		bindings: make(map[uuid.UUID]connector.Binding),
		records:  make(map[uuid.UUID]connector.InternalRecord),
		deletedB: make(map[uuid.UUID]bool),
		deletedR: make(map[uuid.UUID]bool),
	}
	if db.repeatableRead {
		tx.snapBindings = make(map[uuid.UUID]connector.Binding, len(db.bindings))
		for id, b := range db.bindings {
			tx.snapBindings[id] = b
		}
		tx.snapRecords = make(map[uuid.UUID]connector.InternalRecord, len(db.records))
		for id, r := range db.records {
			tx.snapRecords[id] = cloneRecord(r)
		}
	}
	return tx
}

func (db *MemoryDB) commit(tx *memTx) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	defer db.releaseLocked(tx)

	for id, b := range tx.bindings {
		for otherID, other := range db.bindings {
			if otherID == id || tx.deletedB[otherID] {
				continue
			}
			if conflicts(b, other) {
				db.rollbacks++
				return connector.NewRetryableConcurrentError(
					"duplicate binding committed by a concurrent transaction",
					fmt.Errorf("%w: %s/%s", connector.ErrBindingAlreadyExists, b.EntityType, b.ExternalID))
			}
		}
	}

	for id := range tx.deletedR {
		delete(db.records, id)
		for bid, b := range db.bindings {
			if b.InternalRef == id {
				delete(db.bindings, bid)
			}
		}
	}
	for id := range tx.deletedB {
		delete(db.bindings, id)
	}
	for id, r := range tx.records {
		db.records[id] = cloneRecord(r)
	}
	for id, b := range tx.bindings {
		db.bindings[id] = b
	}
	db.commits++
	return nil
}

func (db *MemoryDB) rollback(tx *memTx) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.releaseLocked(tx)
	db.rollbacks++
}

func (db *MemoryDB) releaseLocked(tx *memTx) {
	for key, holder := range db.advisory {
		if holder == tx {
			delete(db.advisory, key)
		}
	}
	for id, holder := range db.rowLocks {
		if holder == tx {
			delete(db.rowLocks, id)
		}
	}
}

func conflicts(a, b connector.Binding) bool {
	if a.BackendID != b.BackendID || a.EntityType != b.EntityType {
		return false
	}
	if a.InternalRef == b.InternalRef {
		return true
	}
	return a.ExternalID != "" && a.ExternalID == b.ExternalID
}

func cloneRecord(r connector.InternalRecord) connector.InternalRecord {
	values := make(connector.Values, len(r.Values))
	for k, v := range r.Values {
		values[k] = v
	}
	r.Values = values
	return r
}

func sortedBindings(in map[uuid.UUID]connector.Binding) []connector.Binding {
	out := make([]connector.Binding, 0, len(in))
	for _, b := range in {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func recordsOf(in map[uuid.UUID]connector.InternalRecord, entityType connector.EntityType) []connector.InternalRecord {
	var out []connector.InternalRecord
	for _, r := range in {
		if r.EntityType == entityType {
			out = append(out, cloneRecord(r))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

var _ appconnector.TransactionScope = (*MemoryDB)(nil)

// ---------------------------------------------------------------------------
// Transaction
// ---------------------------------------------------------------------------

// memTx holds the writes of one transaction. With repeatable read it also
// holds the snapshot it reads from.
type memTx struct {
	db       *MemoryDB
	bindings map[uuid.UUID]connector.Binding
	records  map[uuid.UUID]connector.InternalRecord
	deletedB map[uuid.UUID]bool
	deletedR map[uuid.UUID]bool

	snapBindings map[uuid.UUID]connector.Binding
	snapRecords  map[uuid.UUID]connector.InternalRecord
}

func (tx *memTx) Bindings() connector.BindingRepository { return (*memBindings)(tx) }
func (tx *memTx) Records() connector.RecordRepository   { return (*memRecords)(tx) }
func (tx *memTx) Locker() connector.Locker              { return (*memLocker)(tx) }

// bindingView returns the bindings visible to the transaction
func (tx *memTx) bindingView() map[uuid.UUID]connector.Binding {
	out := make(map[uuid.UUID]connector.Binding)
	if tx.snapBindings != nil {
		for id, b := range tx.snapBindings {
			out[id] = b
		}
	} else {
		tx.db.mu.Lock()
		for id, b := range tx.db.bindings {
			out[id] = b
		}
		tx.db.mu.Unlock()
	}
	for id := range tx.deletedB {
		delete(out, id)
	}
	for id, b := range tx.bindings {
		out[id] = b
	}
	return out
}

// recordView returns the internal records visible to the transaction
func (tx *memTx) recordView() map[uuid.UUID]connector.InternalRecord {
	out := make(map[uuid.UUID]connector.InternalRecord)
	if tx.snapRecords != nil {
		for id, r := range tx.snapRecords {
			out[id] = r
		}
	} else {
		tx.db.mu.Lock()
		for id, r := range tx.db.records {
			out[id] = cloneRecord(r)
		}
		tx.db.mu.Unlock()
	}
	for id := range tx.deletedR {
		delete(out, id)
	}
	for id, r := range tx.records {
		out[id] = r
	}
	return out
}

// ---------------------------------------------------------------------------
// Bindings
// ---------------------------------------------------------------------------

type memBindings memTx

func (r *memBindings) tx() *memTx { return (*memTx)(r) }

func (r *memBindings) FindByID(ctx context.Context, id uuid.UUID) (*connector.Binding, error) {
	b, ok := r.tx().bindingView()[id]
	if !ok {
		return nil, connector.ErrBindingNotFound
	}
	return &b, nil
}

func (r *memBindings) FindByExternalID(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, externalID string) (*connector.Binding, error) {
	if externalID == "" {
		return nil, connector.ErrBindingNotFound
	}
	for _, b := range r.tx().bindingView() {
		if b.BackendID == backendID && b.EntityType == entityType && b.ExternalID == externalID {
			out := b
			return &out, nil
		}
	}
	return nil, connector.ErrBindingNotFound
}

func (r *memBindings) FindByInternalRef(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, internalRef uuid.UUID) (*connector.Binding, error) {
	for _, b := range r.tx().bindingView() {
		if b.BackendID == backendID && b.EntityType == entityType && b.InternalRef == internalRef {
			out := b
			return &out, nil
		}
	}
	return nil, connector.ErrBindingNotFound
}

func (r *memBindings) match(filter connector.BindingFilter) []connector.Binding {
	var out []connector.Binding
	for _, b := range sortedBindings(r.tx().bindingView()) {
		if filter.BackendID != nil && b.BackendID != *filter.BackendID {
			continue
		}
		if filter.EntityType != nil && b.EntityType != *filter.EntityType {
			continue
		}
		if filter.InternalRef != nil && b.InternalRef != *filter.InternalRef {
			continue
		}
		if filter.Active != nil && b.Active != *filter.Active {
			continue
		}
		if filter.Unsynced && b.IsBound() {
			continue
		}
		out = append(out, b)
	}
	return out
}

func (r *memBindings) FindAll(ctx context.Context, filter connector.BindingFilter) ([]connector.Binding, error) {
	out := r.match(filter)
	if filter.PageSize > 0 {
		page := filter.Page
		if page < 1 {
			page = 1
		}
		start := (page - 1) * filter.PageSize
		if start >= len(out) {
			return []connector.Binding{}, nil
		}
		end := start + filter.PageSize
		if end > len(out) {
			end = len(out)
		}
		out = out[start:end]
	}
	return out, nil
}

func (r *memBindings) Count(ctx context.Context, filter connector.BindingFilter) (int64, error) {
	return int64(len(r.match(filter))), nil
}

func (r *memBindings) checkUnique(view map[uuid.UUID]connector.Binding, binding *connector.Binding) error {
	for id, other := range view {
		if id != binding.ID && conflicts(*binding, other) {
			return connector.ErrBindingAlreadyExists
		}
	}
	return nil
}

func (r *memBindings) Create(ctx context.Context, binding *connector.Binding) error {
	view := r.tx().bindingView()
	if _, ok := view[binding.ID]; ok {
		return connector.ErrBindingAlreadyExists
	}
	if err := r.checkUnique(view, binding); err != nil {
		return err
	}
	if binding.CreatedAt.IsZero() {
		binding.CreatedAt = time.Now()
	}
	r.bindings[binding.ID] = *binding
	return nil
}

func (r *memBindings) Save(ctx context.Context, binding *connector.Binding) error {
	view := r.tx().bindingView()
	if _, ok := view[binding.ID]; !ok {
		return connector.ErrBindingNotFound
	}
	if err := r.checkUnique(view, binding); err != nil {
		return err
	}
	binding.UpdatedAt = time.Now()
	r.bindings[binding.ID] = *binding
	return nil
}

func (r *memBindings) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.tx().bindingView()[id]; !ok {
		return connector.ErrBindingNotFound
	}
	delete(r.bindings, id)
	r.deletedB[id] = true
	return nil
}

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

type memRecords memTx

func (r *memRecords) tx() *memTx { return (*memTx)(r) }

func (r *memRecords) FindByID(ctx context.Context, id uuid.UUID) (*connector.InternalRecord, error) {
	rec, ok := r.tx().recordView()[id]
	if !ok {
		return nil, connector.ErrRecordNotFound
	}
	out := cloneRecord(rec)
	return &out, nil
}

func (r *memRecords) FindAll(ctx context.Context, entityType connector.EntityType) ([]connector.InternalRecord, error) {
	return recordsOf(r.tx().recordView(), entityType), nil
}

func (r *memRecords) FindByValue(ctx context.Context, entityType connector.EntityType, key, value string) ([]connector.InternalRecord, error) {
	var out []connector.InternalRecord
	for _, rec := range recordsOf(r.tx().recordView(), entityType) {
		if rec.Values.String(key) == value {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memRecords) Create(ctx context.Context, record *connector.InternalRecord) error {
	if _, ok := r.tx().recordView()[record.ID]; ok {
		return fmt.Errorf("record %s already exists", record.ID)
	}
	r.records[record.ID] = cloneRecord(*record)
	return nil
}

func (r *memRecords) Save(ctx context.Context, record *connector.InternalRecord) error {
	if _, ok := r.tx().recordView()[record.ID]; !ok {
		return connector.ErrRecordNotFound
	}
	r.records[record.ID] = cloneRecord(*record)
	return nil
}

func (r *memRecords) Delete(ctx context.Context, id uuid.UUID) error {
	if _, ok := r.tx().recordView()[id]; !ok {
		return connector.ErrRecordNotFound
	}
	delete(r.records, id)
	r.deletedR[id] = true
	for bid, b := range r.tx().bindingView() {
		if b.InternalRef == id {
			delete(r.bindings, bid)
			r.deletedB[bid] = true
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Locks
// ---------------------------------------------------------------------------

type memLocker memTx

func (l *memLocker) tx() *memTx { return (*memTx)(l) }

func (l *memLocker) TryAdvisoryXactLock(ctx context.Context, key string, retry time.Duration) error {
	deadline := time.Now().Add(retry)
	for {
		db := l.db
		db.mu.Lock()
		holder, held := db.advisory[key]
		if !held || holder == l.tx() {
			db.advisory[key] = l.tx()
			db.mu.Unlock()
			return nil
		}
		db.mu.Unlock()
		if time.Now().After(deadline) {
			return connector.NewRetryableBusyError(fmt.Sprintf("advisory lock %s is held", key), nil)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (l *memLocker) LockRowNoWait(ctx context.Context, table string, id uuid.UUID) error {
	db := l.db
	db.mu.Lock()
	defer db.mu.Unlock()
	holder, held := db.rowLocks[id]
	if held && holder != l.tx() {
		return connector.NewRetryableBusyError(fmt.Sprintf("row %s of %s is locked", id, table), nil)
	}
	db.rowLocks[id] = l.tx()
	return nil
}
