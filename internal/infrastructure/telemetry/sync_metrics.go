package telemetry

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when no meter is given.
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// JobCounter counts queued jobs. It is implemented by the job repository.
type JobCounter interface {
	Count(ctx context.Context, filter connector.JobFilter) (int64, error)
}

// SyncMetricsConfig holds configuration for the synchronization metrics.
type SyncMetricsConfig struct {
	Meter  metric.Meter
	Logger *zap.Logger
	// Jobs feeds the queue depth gauge. Optional.
	Jobs            JobCounter
	CollectInterval time.Duration // default 30s
}

// SyncMetrics records finished job runs and the depth of the job queue.
// It is registered as the scheduler observer.
type SyncMetrics struct {
	logger *zap.Logger
	jobs   JobCounter

	runsTotal   *Counter
	runDuration *Histogram
	queueDepth  *Gauge

	interval    time.Duration
	stopCh      chan struct{}
	stopOnce    sync.Once
	collectOnce sync.Once
	wg          sync.WaitGroup
}

// gaugedStates are the job states reported by the queue depth gauge
var gaugedStates = []connector.JobState{
	connector.JobStatePending,
	connector.JobStateStarted,
	connector.JobStateFailed,
	connector.JobStateDead,
}

// NewSyncMetrics creates the synchronization instruments.
func NewSyncMetrics(cfg SyncMetricsConfig) (*SyncMetrics, error) {
	if cfg.Meter == nil {
		return nil, ErrMeterNil
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval := cfg.CollectInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	m := &SyncMetrics{
		logger:   logger,
		jobs:     cfg.Jobs,
		interval: interval,
		stopCh:   make(chan struct{}),
	}

	var err error
	if m.runsTotal, err = NewCounter(cfg.Meter, "pos_sync_job_runs_total", "Job runs by kind and resulting state", "{run}"); err != nil {
		return nil, err
	}
	if m.queueDepth, err = NewGauge(cfg.Meter, "pos_sync_jobs", "Jobs in the queue by state", "{job}"); err != nil {
		return nil, err
	}
	m.runDuration, err = NewHistogram(cfg.Meter, HistogramOpts{
		Name:        "pos_sync_job_duration_seconds",
		Description: "Duration of a job run",
		Unit:        "s",
		Boundaries:  JobDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}

// JobFinished records one run. A pending state means the job was postponed.
func (m *SyncMetrics) JobFinished(ctx context.Context, kind string, state connector.JobState, duration time.Duration) {
	m.runsTotal.Inc(ctx, AttrJobKind.String(kind), AttrJobState.String(string(state)))
	m.runDuration.RecordDuration(ctx, duration, AttrJobKind.String(kind))
}

// StartPeriodicCollection samples the queue depth every CollectInterval
// until Stop. It does nothing without a JobCounter.
func (m *SyncMetrics) StartPeriodicCollection(ctx context.Context) {
	if m.jobs == nil {
		return
	}
	m.collectOnce.Do(func() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			ticker := time.NewTicker(m.interval)
			defer ticker.Stop()
			m.CollectQueueDepth(ctx)
			for {
				select {
				case <-m.stopCh:
					return
				case <-ctx.Done():
					return
				case <-ticker.C:
					m.CollectQueueDepth(ctx)
				}
			}
		}()
	})
}

// CollectQueueDepth records the number of jobs per state.
func (m *SyncMetrics) CollectQueueDepth(ctx context.Context) {
	if m.jobs == nil {
		return
	}
	for _, state := range gaugedStates {
		state := state
		n, err := m.jobs.Count(ctx, connector.JobFilter{State: &state})
		if err != nil {
			m.logger.Warn("Failed to count jobs for metrics",
				zap.String("state", string(state)),
				zap.Error(err),
			)
			continue
		}
		m.queueDepth.Record(ctx, n, AttrJobState.String(string(state)))
	}
}

// Stop ends the periodic collection. Safe to call multiple times.
func (m *SyncMetrics) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		m.wg.Wait()
	})
}
