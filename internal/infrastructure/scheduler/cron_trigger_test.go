package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	appconnector "github.com/erp/posconnector/internal/application/connector"
	"github.com/erp/posconnector/internal/application/connector/connectortest"
	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newCronBackend(t *testing.T, name string) *connector.Backend {
	t.Helper()
	backend, err := connector.NewBackend(name, "https://shop.example.com", "KEY")
	require.NoError(t, err)
	backend.RefreshInterval = 5 * time.Minute
	backend.RoutineInterval = time.Hour
	return backend
}

func jobKinds(jobs []connectortest.ScheduledJob) []appconnector.JobKind {
	kinds := make([]appconnector.JobKind, len(jobs))
	for i, j := range jobs {
		kinds[i] = j.Job.Kind
	}
	return kinds
}

func TestCronTrigger_CheckAndTrigger(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	backend := newCronBackend(t, "shop")
	backend.AdvanceWatermark(connector.WatermarkRoutine, now.Add(-10*time.Minute))
	inactive := newCronBackend(t, "closed")
	inactive.Active = false

	sched := connectortest.NewFakeScheduler()
	trigger := NewCronTrigger(DefaultCronTriggerConfig(), sched, connectortest.NewMemoryBackends(backend, inactive), zap.NewNop())
	trigger.now = func() time.Time { return now }
	ctx := context.Background()

	t.Run("queues the due crons", func(t *testing.T) {
		trigger.CheckAndTrigger(ctx)

		jobs := sched.Jobs()
		require.Len(t, jobs, 1)
		assert.Equal(t, appconnector.JobImportRefresh, jobs[0].Job.Kind)
		assert.Equal(t, backend.ID, jobs[0].Job.BackendID)
		assert.Equal(t, "import_refresh:"+backend.ID.String(), jobs[0].Options.IdentityKey)
		assert.Equal(t, appconnector.DefaultJobChannel, jobs[0].Options.Channel)
	})

	t.Run("does not queue again within the interval", func(t *testing.T) {
		now = now.Add(time.Minute)
		trigger.CheckAndTrigger(ctx)
		assert.Len(t, sched.Jobs(), 1)
	})

	t.Run("queues each cron once its interval elapsed", func(t *testing.T) {
		now = now.Add(time.Hour)
		trigger.CheckAndTrigger(ctx)
		// the first refresh job still holds its identity key
		assert.Equal(t, []appconnector.JobKind{
			appconnector.JobImportRefresh,
			appconnector.JobImportAll,
		}, jobKinds(sched.Jobs()))
		assert.Equal(t, now, trigger.lastRun[cronKey{backendID: backend.ID, kind: appconnector.JobImportRefresh}])
	})
}

func TestCronTrigger_AlreadyQueuedCountsAsTriggered(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	backend := newCronBackend(t, "shop")
	sched := connectortest.NewFakeScheduler()
	sched.Err = appconnector.ErrJobAlreadyQueued

	trigger := NewCronTrigger(DefaultCronTriggerConfig(), sched, connectortest.NewMemoryBackends(backend), zap.NewNop())
	trigger.now = func() time.Time { return now }
	trigger.CheckAndTrigger(context.Background())

	assert.Len(t, trigger.lastRun, 2)
}

func TestCronTrigger_ScheduleFailureRetriesNextTick(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	backend := newCronBackend(t, "shop")
	sched := connectortest.NewFakeScheduler()
	sched.Err = errors.New("database down")

	trigger := NewCronTrigger(DefaultCronTriggerConfig(), sched, connectortest.NewMemoryBackends(backend), zap.NewNop())
	trigger.now = func() time.Time { return now }
	trigger.CheckAndTrigger(context.Background())
	assert.Empty(t, trigger.lastRun)

	sched.Err = nil
	trigger.CheckAndTrigger(context.Background())
	assert.Len(t, sched.Jobs(), 2)
}

func TestCronTrigger_StartStop(t *testing.T) {
	backend := newCronBackend(t, "shop")
	sched := connectortest.NewFakeScheduler()
	cfg := DefaultCronTriggerConfig()
	cfg.CheckInterval = 10 * time.Millisecond

	trigger := NewCronTrigger(cfg, sched, connectortest.NewMemoryBackends(backend), zap.NewNop())
	require.NoError(t, trigger.Start(context.Background()))
	require.NoError(t, trigger.Start(context.Background()))

	assert.Eventually(t, func() bool { return len(sched.Jobs()) == 2 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, trigger.Stop(ctx))
	require.NoError(t, trigger.Stop(ctx))
}
