// Package scheduler runs the asynchronous jobs of the connector.
//
// Jobs are persisted in sync_jobs before they are queued, so a restart
// picks up whatever was pending or interrupted. Ready jobs run by
// ascending priority, then ETA, on a fixed pool of workers.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/erp/posconnector/internal/infrastructure/cache"
	"github.com/erp/posconnector/internal/infrastructure/config"
	"github.com/erp/posconnector/internal/infrastructure/logger"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/erp/posconnector/scheduler"

// Runner executes one decoded job and returns its result message
type Runner interface {
	Run(ctx context.Context, job appconnector.Job, opts appconnector.JobOptions) (string, error)
}

// Observer is told about every finished run
type Observer interface {
	JobFinished(ctx context.Context, kind string, state connector.JobState, duration time.Duration)
}

// Config holds the job scheduler settings
type Config struct {
	// Workers is the number of jobs run concurrently
	Workers int
	// QueueSize caps the pending jobs held in memory. The rest wait in the
	// database and are loaded as the queue drains.
	QueueSize    int
	JobTimeout   time.Duration
	MaxRetries   int
	PollInterval time.Duration
	// IdentityTTL bounds an identity key reservation
	IdentityTTL time.Duration
	Channel     string
	Retry       RetryPolicy
}

// DefaultConfig returns the default scheduler configuration
func DefaultConfig() Config {
	return Config{
		Workers:      4,
		QueueSize:    256,
		JobTimeout:   10 * time.Minute,
		MaxRetries:   5,
		PollInterval: time.Second,
		IdentityTTL:  24 * time.Hour,
		Channel:      appconnector.DefaultJobChannel,
		Retry:        DefaultRetryPolicy(),
	}
}

// ConfigFromSettings builds a Config from the application settings
func ConfigFromSettings(s config.SchedulerConfig) Config {
	cfg := DefaultConfig()
	cfg.Workers = s.Workers
	cfg.QueueSize = s.QueueSize
	cfg.JobTimeout = s.JobTimeout
	cfg.MaxRetries = s.MaxRetries
	cfg.PollInterval = s.PollInterval
	cfg.Channel = s.Channel
	cfg.Retry.RetryOnLock = s.RetryOnLock
	cfg.Retry.RetryOnConcurrent = s.RetryOnConcurrent
	cfg.Retry.MaxBackoff = s.MaxBackoff
	return cfg
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Workers < 1 || c.QueueSize < 1 || c.MaxRetries < 0 {
		return fmt.Errorf("%w: workers, queue size and max retries", ErrInvalidConfig)
	}
	if c.JobTimeout <= 0 || c.PollInterval <= 0 || c.IdentityTTL <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.Retry.BaseBackoff <= 0 || c.Retry.MaxBackoff < c.Retry.BaseBackoff {
		return fmt.Errorf("%w: backoff", ErrInvalidConfig)
	}
	return nil
}

// JobScheduler implements appconnector.Scheduler on top of a JobRepository
type JobScheduler struct {
	config     Config
	repo       connector.JobRepository
	identities cache.IdentityStore
	runner     Runner
	observer   Observer
	logger     *zap.Logger
	tracer     trace.Tracer
	now        func() time.Time

	mu       sync.Mutex
	queue    map[uuid.UUID]*connector.SyncJob
	inflight map[uuid.UUID]struct{}
	// settled collects the jobs finished while a reload reads the database
	settled map[uuid.UUID]struct{}
	// stranded holds the jobs whose outcome could not be saved
	stranded  map[uuid.UUID]struct{}
	spilled   bool
	isRunning bool
	cancel    context.CancelFunc
	group     *errgroup.Group

	wake chan struct{}
	work chan *connector.SyncJob
}

// NewJobScheduler creates a stopped scheduler
func NewJobScheduler(cfg Config, repo connector.JobRepository, identities cache.IdentityStore, logger *zap.Logger) (*JobScheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &JobScheduler{
		config:     cfg,
		repo:       repo,
		identities: identities,
		logger:     logger.Named("scheduler"),
		tracer:     otel.Tracer(tracerName),
		now:        time.Now,
		queue:      make(map[uuid.UUID]*connector.SyncJob),
		inflight:   make(map[uuid.UUID]struct{}),
		stranded:   make(map[uuid.UUID]struct{}),
		wake:       make(chan struct{}, 1),
		work:       make(chan *connector.SyncJob),
	}, nil
}

// SetRunner sets the component that executes jobs. It must be called before Start.
func (s *JobScheduler) SetRunner(r Runner) {
	s.mu.Lock()
	s.runner = r
	s.mu.Unlock()
}

// SetObserver registers an observer of finished runs
func (s *JobScheduler) SetObserver(o Observer) {
	s.mu.Lock()
	s.observer = o
	s.mu.Unlock()
}

// Start loads the pending jobs and starts the dispatcher and the workers
func (s *JobScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if s.runner == nil {
		s.mu.Unlock()
		return ErrNoRunner
	}
	s.mu.Unlock()

	if err := s.reload(ctx, true); err != nil {
		return fmt.Errorf("load pending jobs: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)

	s.mu.Lock()
	s.isRunning = true
	s.cancel = cancel
	s.group = group
	s.mu.Unlock()

	group.Go(func() error { return s.dispatch(groupCtx) })
	for i := 0; i < s.config.Workers; i++ {
		workerID := i
		group.Go(func() error { return s.worker(groupCtx, workerID) })
	}

	s.logger.Info("Job scheduler started",
		zap.Int("workers", s.config.Workers),
		zap.Int("queue_size", s.config.QueueSize),
		zap.Int("pending", s.pendingCount()),
	)
	return nil
}

// Stop cancels the running jobs and waits for the workers to exit.
// Interrupted jobs go back to pending.
func (s *JobScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel, group := s.cancel, s.group
	s.mu.Unlock()

	cancel()

	done := make(chan error, 1)
	go func() { done <- group.Wait() }()

	select {
	case err := <-done:
		s.logger.Info("Job scheduler stopped")
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsRunning reports whether the workers are running
func (s *JobScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// Schedule persists a job and queues it. A job carrying the identity key of
// a job still pending is refused with appconnector.ErrJobAlreadyQueued.
func (s *JobScheduler) Schedule(ctx context.Context, job appconnector.Job, opts appconnector.JobOptions) (uuid.UUID, error) {
	payload, err := json.Marshal(job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("encode job: %w", err)
	}

	if opts.IdentityKey != "" {
		reserved, err := s.identities.Reserve(ctx, opts.IdentityKey, s.config.IdentityTTL)
		if err != nil {
			return uuid.Nil, err
		}
		if !reserved {
			return uuid.Nil, appconnector.ErrJobAlreadyQueued
		}
	}

	now := s.now()
	syncJob := &connector.SyncJob{
		ID:          uuid.New(),
		Kind:        string(job.Kind),
		BackendID:   job.BackendID,
		Payload:     payload,
		State:       connector.JobStatePending,
		Priority:    opts.Priority,
		ETA:         now,
		MaxRetries:  opts.MaxRetries,
		Channel:     opts.Channel,
		IdentityKey: opts.IdentityKey,
		Description: opts.Description,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if !opts.ETA.IsZero() {
		syncJob.ETA = opts.ETA
	}
	if syncJob.MaxRetries <= 0 {
		syncJob.MaxRetries = s.config.MaxRetries
	}
	if syncJob.Channel == "" {
		syncJob.Channel = s.config.Channel
	}

	if err := s.repo.Save(ctx, syncJob); err != nil {
		s.releaseIdentity(ctx, syncJob)
		return uuid.Nil, err
	}
	s.enqueue(syncJob)

	s.logger.Debug("Job scheduled",
		zap.String("job_id", syncJob.ID.String()),
		zap.String("kind", syncJob.Kind),
		zap.String("backend_id", syncJob.BackendID.String()),
		zap.Int("priority", syncJob.Priority),
		zap.Time("eta", syncJob.ETA),
	)
	return syncJob.ID, nil
}

// Requeue resets a finished job and queues it again
func (s *JobScheduler) Requeue(ctx context.Context, id uuid.UUID) (*connector.SyncJob, error) {
	job, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.State.IsFinal() {
		return nil, ErrJobNotRequeueable
	}
	job.Requeue(s.now())
	if err := s.repo.Save(ctx, job); err != nil {
		return nil, err
	}
	s.enqueue(job)
	s.logger.Info("Job requeued", zap.String("job_id", id.String()), zap.String("kind", job.Kind))
	return job, nil
}

func (s *JobScheduler) pendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *JobScheduler) enqueue(job *connector.SyncJob) {
	s.mu.Lock()
	if _, running := s.inflight[job.ID]; !running {
		if _, queued := s.queue[job.ID]; queued || len(s.queue) < s.config.QueueSize {
			s.queue[job.ID] = job
		} else {
			s.spilled = true
		}
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// reload fills the in-memory queue from the database. On startup the jobs
// left in the started state by a crash are put back to pending. Later
// reloads only reclaim the started jobs this process stranded.
func (s *JobScheduler) reload(ctx context.Context, startup bool) error {
	s.mu.Lock()
	s.settled = make(map[uuid.UUID]struct{})
	s.mu.Unlock()

	jobs, err := s.repo.FindPending(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	settled := s.settled
	s.settled = nil
	if err != nil {
		return err
	}

	s.spilled = false
	for i := range jobs {
		job := &jobs[i]
		if _, running := s.inflight[job.ID]; running {
			continue
		}
		_, stranded := s.stranded[job.ID]
		if _, done := settled[job.ID]; done && !stranded {
			continue
		}
		if _, queued := s.queue[job.ID]; queued {
			continue
		}
		if job.State == connector.JobStateStarted {
			if !startup && !stranded {
				continue
			}
			job.State = connector.JobStatePending
		}
		if len(s.queue) >= s.config.QueueSize {
			s.spilled = true
			break
		}
		if (startup || stranded) && job.IdentityKey != "" {
			if _, err := s.identities.Reserve(ctx, job.IdentityKey, s.config.IdentityTTL); err != nil {
				s.logger.Warn("Failed to restore identity key",
					zap.String("job_id", job.ID.String()),
					zap.Error(err),
				)
			}
		}
		delete(s.stranded, job.ID)
		s.queue[job.ID] = job
	}
	return nil
}

// next pops the ready job with the lowest priority, then the earliest ETA.
// Without a ready job it returns how long to wait for one.
func (s *JobScheduler) next(now time.Time) (*connector.SyncJob, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var best *connector.SyncJob
	wait := s.config.PollInterval
	for _, job := range s.queue {
		if job.ETA.After(now) {
			if until := job.ETA.Sub(now); until < wait {
				wait = until
			}
			continue
		}
		if best == nil || runsBefore(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, wait
	}
	delete(s.queue, best.ID)
	s.inflight[best.ID] = struct{}{}
	return best, 0
}

func runsBefore(a, b *connector.SyncJob) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ETA.Equal(b.ETA) {
		return a.ETA.Before(b.ETA)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (s *JobScheduler) dispatch(ctx context.Context) error {
	for {
		s.mu.Lock()
		refill := (s.spilled || len(s.stranded) > 0) && len(s.queue) < s.config.QueueSize/2+1
		s.mu.Unlock()
		if refill {
			if err := s.reload(ctx, false); err != nil && ctx.Err() == nil {
				s.logger.Error("Failed to reload pending jobs", zap.Error(err))
			}
		}

		job, wait := s.next(s.now())
		if job != nil {
			select {
			case s.work <- job:
				continue
			case <-ctx.Done():
				s.release(job.ID)
				return nil
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-s.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (s *JobScheduler) worker(ctx context.Context, workerID int) error {
	s.logger.Debug("Worker started", zap.Int("worker_id", workerID))
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Worker stopped", zap.Int("worker_id", workerID))
			return nil
		case job := <-s.work:
			s.process(ctx, job, workerID)
		}
	}
}

// strand hands a job whose state could not be saved back to reload
func (s *JobScheduler) strand(id uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, id)
	s.stranded[id] = struct{}{}
	s.mu.Unlock()
}

func (s *JobScheduler) release(id uuid.UUID) {
	s.mu.Lock()
	delete(s.inflight, id)
	if s.settled != nil {
		s.settled[id] = struct{}{}
	}
	s.mu.Unlock()
}

// reserveIdentity claims the identity key of a job going back to pending.
// A key already taken by a newer job is left to that job.
func (s *JobScheduler) reserveIdentity(ctx context.Context, job *connector.SyncJob, log *zap.Logger) {
	if job.IdentityKey == "" {
		return
	}
	reserved, err := s.identities.Reserve(ctx, job.IdentityKey, s.config.IdentityTTL)
	if err != nil {
		log.Warn("Failed to reserve identity key", zap.Error(err))
		return
	}
	if !reserved {
		log.Debug("Identity key held by a newer job", zap.String("identity_key", job.IdentityKey))
	}
}

func (s *JobScheduler) releaseIdentity(ctx context.Context, job *connector.SyncJob) {
	if job.IdentityKey == "" {
		return
	}
	if err := s.identities.Release(ctx, job.IdentityKey); err != nil {
		s.logger.Warn("Failed to release identity key",
			zap.String("job_id", job.ID.String()),
			zap.Error(err),
		)
	}
}

// process runs one job and stores its outcome. The outcome is persisted
// even when ctx was cancelled by Stop.
func (s *JobScheduler) process(ctx context.Context, job *connector.SyncJob, workerID int) {
	defer s.release(job.ID)
	persistCtx := context.WithoutCancel(ctx)

	jobCtx := logger.WithBackendID(logger.WithJobID(ctx, job.ID), job.BackendID)
	jobCtx = logger.WithContext(jobCtx, s.logger)
	log := logger.L(jobCtx).With(zap.Int("worker_id", workerID), zap.String("kind", job.Kind))

	var payload appconnector.Job
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		job.Fail(fmt.Sprintf("invalid job payload: %v", err), s.now())
		s.save(persistCtx, job, log)
		s.releaseIdentity(persistCtx, job)
		return
	}

	started := s.now()
	job.Start(started)
	s.releaseIdentity(persistCtx, job)
	if !s.save(persistCtx, job, log) {
		// still pending in the database, the next reload picks it up
		s.strand(job.ID)
		return
	}

	jobCtx, span := s.tracer.Start(jobCtx, "job "+job.Kind, trace.WithAttributes(
		attribute.String("job.id", job.ID.String()),
		attribute.String("job.kind", job.Kind),
		attribute.String("backend.id", job.BackendID.String()),
		attribute.Int("job.retry", job.Retry),
	))
	runCtx, cancel := context.WithTimeout(jobCtx, s.config.JobTimeout)
	result, err := s.runner.Run(runCtx, payload, appconnector.JobOptions{
		Priority:    job.Priority,
		MaxRetries:  job.MaxRetries,
		Channel:     job.Channel,
		IdentityKey: job.IdentityKey,
		Description: job.Description,
	})
	cancel()

	outcome := s.config.Retry.Decide(result, err, job.Retry, job.MaxRetries)
	now := s.now()
	switch outcome.State {
	case connector.JobStateDone:
		job.Finish(outcome.Message, now)
		log.Info("Job done", zap.String("result", outcome.Message), zap.Duration("duration", now.Sub(started)))
	case connector.JobStatePending:
		job.Postpone(outcome.Message, now.Add(outcome.Delay), outcome.CountRetry)
		s.reserveIdentity(persistCtx, job, log)
		log.Warn("Job postponed",
			zap.Error(err),
			zap.Int("retry", job.Retry),
			zap.Duration("delay", outcome.Delay),
		)
	case connector.JobStateDead:
		job.Kill(outcome.Message, now)
		log.Error("Job dead after retries", zap.Error(err), zap.Int("retry", job.Retry))
	default:
		job.Fail(outcome.Message, now)
		log.Error("Job failed", zap.Error(err))
	}
	if err != nil && outcome.State != connector.JobStateDone {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.Message)
	}
	span.SetAttributes(attribute.String("job.state", string(outcome.State)))
	span.End()

	if !s.save(persistCtx, job, log) {
		// left started in the database, reclaimed by a later reload
		s.strand(job.ID)
		return
	}

	s.mu.Lock()
	observer := s.observer
	s.mu.Unlock()
	if observer != nil {
		observer.JobFinished(persistCtx, job.Kind, job.State, now.Sub(started))
	}

	if job.State == connector.JobStatePending {
		s.mu.Lock()
		delete(s.inflight, job.ID)
		s.mu.Unlock()
		s.enqueue(job)
	}
}

func (s *JobScheduler) save(ctx context.Context, job *connector.SyncJob, log *zap.Logger) bool {
	if err := s.repo.Save(ctx, job); err != nil {
		log.Error("Failed to save job", zap.String("state", string(job.State)), zap.Error(err))
		return false
	}
	return true
}

var _ appconnector.Scheduler = (*JobScheduler)(nil)
