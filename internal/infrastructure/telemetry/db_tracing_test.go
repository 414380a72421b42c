package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type sampleRow struct {
	ID   uint   `gorm:"primaryKey"`
	Name string `gorm:"size:100"`
}

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&sampleRow{}))
	return db
}

func TestDBTracing_Disabled(t *testing.T) {
	db := setupTestDB(t)
	tp, recorder := setupTracer(t)

	cfg := DefaultDBTracingConfig()
	cfg.TracerProvider = tp
	require.NoError(t, NewDBTracing(cfg, zap.NewNop()).Register(db))

	require.NoError(t, db.Create(&sampleRow{Name: "a"}).Error)
	assert.Empty(t, recorder.Ended())
}

func TestDBTracing_RecordsStatements(t *testing.T) {
	db := setupTestDB(t)
	tp, recorder := setupTracer(t)

	cfg := DBTracingConfig{Enabled: true, DBSystem: "sqlite", TracerProvider: tp}
	require.NoError(t, NewDBTracing(cfg, zap.NewNop()).Register(db))

	ctx := context.Background()
	require.NoError(t, db.WithContext(ctx).Create(&sampleRow{Name: "a"}).Error)
	var rows []sampleRow
	require.NoError(t, db.WithContext(ctx).Find(&rows).Error)

	assert.GreaterOrEqual(t, len(recorder.Ended()), 2)
}

func TestDBTracing_FlagsSlowStatements(t *testing.T) {
	db := setupTestDB(t)
	tp, recorder := setupTracer(t)
	tracing := NewDBTracing(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Millisecond}, zap.NewNop())

	ctx, span := tp.Tracer("test").Start(context.Background(), "statement")
	tx := db.WithContext(ctx).Table("sample_rows")
	tx.InstanceSet(tracingStartKey, time.Now().Add(-time.Second))
	tx.Error = assert.AnError
	tracing.after(tx, "query")
	span.End()

	require.Len(t, recorder.Ended(), 1)
	got := recorder.Ended()[0]
	assert.Equal(t, codes.Error, got.Status().Code)

	v, ok := attrValue(got.Attributes(), "db.slow_query")
	require.True(t, ok)
	assert.True(t, v.AsBool())
	v, ok = attrValue(got.Attributes(), "db.sql.table")
	require.True(t, ok)
	assert.Equal(t, "sample_rows", v.AsString())
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "slow_query_warning", got.Events()[0].Name)
}

func TestDBTracing_FastStatementIsNotFlagged(t *testing.T) {
	db := setupTestDB(t)
	tp, recorder := setupTracer(t)
	tracing := NewDBTracing(DBTracingConfig{Enabled: true, SlowQueryThresh: time.Hour}, zap.NewNop())

	ctx, span := tp.Tracer("test").Start(context.Background(), "statement")
	tx := db.WithContext(ctx).Table("sample_rows")
	tx.InstanceSet(tracingStartKey, time.Now())
	tx.Error = gorm.ErrRecordNotFound
	tracing.after(tx, "query")
	span.End()

	got := recorder.Ended()[0]
	assert.Equal(t, codes.Unset, got.Status().Code)
	_, ok := attrValue(got.Attributes(), "db.slow_query")
	assert.False(t, ok)
}
