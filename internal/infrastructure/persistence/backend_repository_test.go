package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/erp/posconnector/internal/domain/connector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBackend(t *testing.T, name string) *connector.Backend {
	backend, err := connector.NewBackend(name, "http://pos.test/api", "secret")
	require.NoError(t, err)
	return backend
}

func TestGormBackendRepository_Save(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBackendRepository(db.DB)
	ctx := context.Background()

	backend := newTestBackend(t, "shop")
	backend.TaxesIncluded = true
	backend.ImportableOrderStates = []string{"2", "3"}
	backend.Timezone = "Europe/Paris"
	require.NoError(t, repo.Save(ctx, backend))

	found, err := repo.FindByID(ctx, backend.ID)
	require.NoError(t, err)
	assert.Equal(t, "shop", found.Name)
	assert.True(t, found.TaxesIncluded)
	assert.Equal(t, []string{"2", "3"}, found.ImportableOrderStates)
	assert.Equal(t, connector.BackendStateDraft, found.State)
	assert.Equal(t, 5*time.Minute, found.RefreshInterval)

	t.Run("a second save updates in place", func(t *testing.T) {
		backend.TaxesIncluded = false
		backend.MarkChecked()
		require.NoError(t, repo.Save(ctx, backend))

		found, err := repo.FindByID(ctx, backend.ID)
		require.NoError(t, err)
		assert.False(t, found.TaxesIncluded)
		assert.Equal(t, connector.BackendStateChecked, found.State)

		all, err := repo.FindAll(ctx, false)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("unknown backend", func(t *testing.T) {
		_, err := repo.FindByID(ctx, uuid.New())
		assert.ErrorIs(t, err, connector.ErrBackendNotFound)
	})
}

func TestGormBackendRepository_FindAll(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBackendRepository(db.DB)
	ctx := context.Background()

	inactive := newTestBackend(t, "b-closed")
	inactive.Active = false
	require.NoError(t, repo.Save(ctx, inactive))
	require.NoError(t, repo.Save(ctx, newTestBackend(t, "a-open")))

	all, err := repo.FindAll(ctx, false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a-open", all[0].Name)

	active, err := repo.FindAll(ctx, true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a-open", active[0].Name)
}

func TestGormBackendRepository_SaveWatermark(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBackendRepository(db.DB)
	ctx := context.Background()

	first := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	backend := newTestBackend(t, "shop")
	backend.AdvanceWatermark("customer", first)
	require.NoError(t, repo.Save(ctx, backend))

	second := time.Date(2024, 2, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, repo.SaveWatermark(ctx, backend.ID, "sale_order", second))

	found, err := repo.FindByID(ctx, backend.ID)
	require.NoError(t, err)

	at, ok := found.Watermark("customer")
	require.True(t, ok)
	assert.True(t, first.Equal(at))
	at, ok = found.Watermark("sale_order")
	require.True(t, ok)
	assert.True(t, second.Equal(at))
	assert.Equal(t, "shop", found.Name)

	assert.ErrorIs(t, repo.SaveWatermark(ctx, uuid.New(), "customer", second), connector.ErrBackendNotFound)
}
