package connectortest

import (
	"context"
	"sync"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
)

// ScheduledJob is one job queued on a FakeScheduler
type ScheduledJob struct {
	ID      uuid.UUID
	Job     appconnector.Job
	Options appconnector.JobOptions
}

// FakeScheduler records scheduled jobs and rejects duplicate identity keys
type FakeScheduler struct {
	mu   sync.Mutex
	jobs []ScheduledJob
	keys map[string]bool
	Err  error
}

// NewFakeScheduler creates an empty scheduler
func NewFakeScheduler() *FakeScheduler {
	return &FakeScheduler{keys: make(map[string]bool)}
}

// Schedule implements appconnector.Scheduler
func (s *FakeScheduler) Schedule(ctx context.Context, job appconnector.Job, opts appconnector.JobOptions) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return uuid.Nil, s.Err
	}
	if opts.IdentityKey != "" {
		if s.keys[opts.IdentityKey] {
			return uuid.Nil, appconnector.ErrJobAlreadyQueued
		}
		s.keys[opts.IdentityKey] = true
	}
	id := uuid.New()
	s.jobs = append(s.jobs, ScheduledJob{ID: id, Job: job, Options: opts})
	return id, nil
}

// Jobs returns the scheduled jobs in order
func (s *FakeScheduler) Jobs() []ScheduledJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ScheduledJob(nil), s.jobs...)
}

var _ appconnector.Scheduler = (*FakeScheduler)(nil)

// MemoryBackends is an in-memory BackendRepository
type MemoryBackends struct {
	mu       sync.Mutex
	backends map[uuid.UUID]connector.Backend
}

// NewMemoryBackends creates a repository holding backends
func NewMemoryBackends(backends ...*connector.Backend) *MemoryBackends {
	r := &MemoryBackends{backends: make(map[uuid.UUID]connector.Backend)}
	for _, b := range backends {
		r.backends[b.ID] = *b
	}
	return r
}

func (r *MemoryBackends) FindByID(ctx context.Context, id uuid.UUID) (*connector.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[id]
	if !ok {
		return nil, connector.ErrBackendNotFound
	}
	b.Watermarks = copyWatermarks(b.Watermarks)
	return &b, nil
}

func (r *MemoryBackends) FindAll(ctx context.Context, activeOnly bool) ([]connector.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []connector.Backend
	for _, b := range r.backends {
		if activeOnly && !b.Active {
			continue
		}
		b.Watermarks = copyWatermarks(b.Watermarks)
		out = append(out, b)
	}
	return out, nil
}

func (r *MemoryBackends) Save(ctx context.Context, backend *connector.Backend) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := *backend
	b.Watermarks = copyWatermarks(backend.Watermarks)
	r.backends[b.ID] = b
	return nil
}

func (r *MemoryBackends) SaveWatermark(ctx context.Context, backendID uuid.UUID, entityType connector.EntityType, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.backends[backendID]
	if !ok {
		return connector.ErrBackendNotFound
	}
	b.Watermarks = copyWatermarks(b.Watermarks)
	b.Watermarks[entityType] = at
	r.backends[backendID] = b
	return nil
}

func copyWatermarks(in map[connector.EntityType]time.Time) map[connector.EntityType]time.Time {
	out := make(map[connector.EntityType]time.Time, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

var _ connector.BackendRepository = (*MemoryBackends)(nil)
