package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BackendLister lists the backends the crons run for
type BackendLister interface {
	FindAll(ctx context.Context, activeOnly bool) ([]connector.Backend, error)
}

// CronTriggerConfig holds configuration for the cron trigger
type CronTriggerConfig struct {
	// CheckInterval is how often backends are checked for a due cron
	CheckInterval time.Duration
	Channel       string
	MaxRetries    int
}

// DefaultCronTriggerConfig returns default cron trigger configuration
func DefaultCronTriggerConfig() CronTriggerConfig {
	return CronTriggerConfig{
		CheckInterval: 30 * time.Second,
		Channel:       appconnector.DefaultJobChannel,
	}
}

// cronKey identifies one cron of one backend
type cronKey struct {
	backendID uuid.UUID
	kind      appconnector.JobKind
}

// CronTrigger queues the refresh and routine imports of every active
// backend once their interval has elapsed.
type CronTrigger struct {
	config    CronTriggerConfig
	scheduler appconnector.Scheduler
	backends  BackendLister
	logger    *zap.Logger
	now       func() time.Time

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
	lastRun   map[cronKey]time.Time
}

// NewCronTrigger creates a new cron trigger
func NewCronTrigger(
	config CronTriggerConfig,
	scheduler appconnector.Scheduler,
	backends BackendLister,
	logger *zap.Logger,
) *CronTrigger {
	return &CronTrigger{
		config:    config,
		scheduler: scheduler,
		backends:  backends,
		logger:    logger.Named("cron"),
		now:       time.Now,
		lastRun:   make(map[cronKey]time.Time),
	}
}

// Start starts the cron trigger
func (c *CronTrigger) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = true
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go c.runLoop(ctx)

	c.logger.Info("Cron trigger started", zap.Duration("check_interval", c.config.CheckInterval))
	return nil
}

// Stop stops the cron trigger
func (c *CronTrigger) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.isRunning {
		c.mu.Unlock()
		return nil
	}
	c.isRunning = false
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("Cron trigger stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *CronTrigger) runLoop(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CheckInterval)
	defer ticker.Stop()

	c.CheckAndTrigger(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.CheckAndTrigger(ctx)
		}
	}
}

// CheckAndTrigger queues the crons that are due. A cron is due when its
// interval elapsed since the later of its last trigger and its watermark.
func (c *CronTrigger) CheckAndTrigger(ctx context.Context) {
	backends, err := c.backends.FindAll(ctx, true)
	if err != nil {
		c.logger.Error("Failed to list backends for crons", zap.Error(err))
		return
	}

	now := c.now()
	for i := range backends {
		backend := &backends[i]
		if backend.CheckActive() != nil {
			continue
		}
		c.trigger(ctx, backend, appconnector.JobImportRefresh, connector.WatermarkRefresh, backend.RefreshInterval, now)
		c.trigger(ctx, backend, appconnector.JobImportAll, connector.WatermarkRoutine, backend.RoutineInterval, now)
	}
}

func (c *CronTrigger) trigger(
	ctx context.Context,
	backend *connector.Backend,
	kind appconnector.JobKind,
	watermark connector.EntityType,
	interval time.Duration,
	now time.Time,
) {
	key := cronKey{backendID: backend.ID, kind: kind}

	c.mu.Lock()
	last := c.lastRun[key]
	c.mu.Unlock()
	if stamp, ok := backend.Watermark(watermark); ok && stamp.After(last) {
		last = stamp
	}
	if !last.IsZero() && now.Sub(last) < interval {
		return
	}

	_, err := c.scheduler.Schedule(ctx, appconnector.Job{Kind: kind, BackendID: backend.ID}, appconnector.JobOptions{
		Priority:    appconnector.DefaultJobPriority,
		Channel:     c.config.Channel,
		MaxRetries:  c.config.MaxRetries,
		IdentityKey: fmt.Sprintf("%s:%s", kind, backend.ID),
		Description: fmt.Sprintf("Cron %s of %s", kind, backend.Name),
	})
	if err != nil && !errors.Is(err, appconnector.ErrJobAlreadyQueued) {
		c.logger.Error("Failed to schedule cron job",
			zap.String("backend_id", backend.ID.String()),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return
	}

	c.mu.Lock()
	c.lastRun[key] = now
	c.mu.Unlock()
	c.logger.Debug("Cron job queued",
		zap.String("backend_id", backend.ID.String()),
		zap.String("kind", string(kind)),
	)
}
