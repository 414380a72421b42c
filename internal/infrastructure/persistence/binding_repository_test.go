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

const testEntity connector.EntityType = "customer"

func createTestRecord(t *testing.T, db *Database, values connector.Values) *connector.InternalRecord {
	record, err := connector.NewInternalRecord(testEntity, values)
	require.NoError(t, err)
	require.NoError(t, NewGormRecordRepository(db.DB).Create(context.Background(), record))
	return record
}

func TestGormBindingRepository_CreateAndFind(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBindingRepository(db.DB)
	ctx := context.Background()
	backendID := uuid.New()
	record := createTestRecord(t, db, connector.Values{"name": "Alice"})

	binding, err := connector.NewBinding(backendID, testEntity, "42", record.ID)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, binding))

	t.Run("finds by id", func(t *testing.T) {
		found, err := repo.FindByID(ctx, binding.ID)
		require.NoError(t, err)
		assert.Equal(t, "42", found.ExternalID)
		assert.Equal(t, record.ID, found.InternalRef)
		assert.True(t, found.Active)
	})

	t.Run("finds by external id", func(t *testing.T) {
		found, err := repo.FindByExternalID(ctx, backendID, testEntity, "42")
		require.NoError(t, err)
		assert.Equal(t, binding.ID, found.ID)

		_, err = repo.FindByExternalID(ctx, uuid.New(), testEntity, "42")
		assert.ErrorIs(t, err, connector.ErrBindingNotFound)
	})

	t.Run("finds by internal ref", func(t *testing.T) {
		found, err := repo.FindByInternalRef(ctx, backendID, testEntity, record.ID)
		require.NoError(t, err)
		assert.Equal(t, binding.ID, found.ID)
	})

	t.Run("an empty external id never matches", func(t *testing.T) {
		_, err := repo.FindByExternalID(ctx, backendID, testEntity, "")
		assert.ErrorIs(t, err, connector.ErrBindingNotFound)
	})

	t.Run("rejects a second binding for the same external id", func(t *testing.T) {
		other := createTestRecord(t, db, connector.Values{"name": "Bob"})
		dup, err := connector.NewBinding(backendID, testEntity, "42", other.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, dup), connector.ErrBindingAlreadyExists)
	})

	t.Run("rejects a second binding for the same internal record", func(t *testing.T) {
		dup, err := connector.NewBinding(backendID, testEntity, "43", record.ID)
		require.NoError(t, err)
		assert.ErrorIs(t, repo.Create(ctx, dup), connector.ErrBindingAlreadyExists)
	})

	t.Run("the same external id is free on another backend", func(t *testing.T) {
		other, err := connector.NewBinding(uuid.New(), testEntity, "42", record.ID)
		require.NoError(t, err)
		assert.NoError(t, repo.Create(ctx, other))
	})
}

func TestGormBindingRepository_Placeholders(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBindingRepository(db.DB)
	ctx := context.Background()
	backendID := uuid.New()

	first := createTestRecord(t, db, nil)
	second := createTestRecord(t, db, nil)

	p1, err := connector.NewBinding(backendID, testEntity, "", first.ID)
	require.NoError(t, err)
	p2, err := connector.NewBinding(backendID, testEntity, "", second.ID)
	require.NoError(t, err)

	require.NoError(t, repo.Create(ctx, p1))
	require.NoError(t, repo.Create(ctx, p2), "placeholders do not collide on the external id")

	unsynced, err := repo.Count(ctx, connector.BindingFilter{BackendID: &backendID, Unsynced: true})
	require.NoError(t, err)
	assert.Equal(t, int64(2), unsynced)

	p1.MarkSynced("7", time.Now())
	require.NoError(t, repo.Save(ctx, p1))

	found, err := repo.FindByExternalID(ctx, backendID, testEntity, "7")
	require.NoError(t, err)
	assert.Equal(t, p1.ID, found.ID)
	require.NotNil(t, found.SyncDate)

	p2.MarkSynced("7", time.Now())
	assert.ErrorIs(t, repo.Save(ctx, p2), connector.ErrBindingAlreadyExists)

	unsynced, err = repo.Count(ctx, connector.BindingFilter{BackendID: &backendID, Unsynced: true})
	require.NoError(t, err)
	assert.Equal(t, int64(1), unsynced)
}

func TestGormBindingRepository_FindAll(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBindingRepository(db.DB)
	ctx := context.Background()
	backendID := uuid.New()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, extID := range []string{"1", "2", "3"} {
		record := createTestRecord(t, db, nil)
		binding, err := connector.NewBinding(backendID, testEntity, extID, record.ID)
		require.NoError(t, err)
		binding.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if extID == "3" {
			binding.Active = false
		}
		require.NoError(t, repo.Create(ctx, binding))
	}

	t.Run("pages in creation order", func(t *testing.T) {
		page, err := repo.FindAll(ctx, connector.BindingFilter{BackendID: &backendID, Page: 2, PageSize: 2})
		require.NoError(t, err)
		require.Len(t, page, 1)
		assert.Equal(t, "3", page[0].ExternalID)
	})

	t.Run("filters on active", func(t *testing.T) {
		active := true
		bindings, err := repo.FindAll(ctx, connector.BindingFilter{BackendID: &backendID, Active: &active})
		require.NoError(t, err)
		require.Len(t, bindings, 2)
		assert.Equal(t, "1", bindings[0].ExternalID)
		assert.Equal(t, "2", bindings[1].ExternalID)
	})

	t.Run("filters on entity type", func(t *testing.T) {
		other := connector.EntityType("sale_order")
		count, err := repo.Count(ctx, connector.BindingFilter{EntityType: &other})
		require.NoError(t, err)
		assert.Zero(t, count)
	})
}

func TestGormBindingRepository_SaveAndDelete(t *testing.T) {
	db := newTestDatabase(t)
	repo := NewGormBindingRepository(db.DB)
	ctx := context.Background()
	record := createTestRecord(t, db, nil)

	binding, err := connector.NewBinding(uuid.New(), testEntity, "9", record.ID)
	require.NoError(t, err)

	t.Run("save of an unknown binding", func(t *testing.T) {
		assert.ErrorIs(t, repo.Save(ctx, binding), connector.ErrBindingNotFound)
	})

	require.NoError(t, repo.Create(ctx, binding))

	t.Run("save writes zero values", func(t *testing.T) {
		binding.Deactivate()
		require.NoError(t, repo.Save(ctx, binding))

		found, err := repo.FindByID(ctx, binding.ID)
		require.NoError(t, err)
		assert.False(t, found.Active)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, repo.Delete(ctx, binding.ID))
		_, err := repo.FindByID(ctx, binding.ID)
		assert.ErrorIs(t, err, connector.ErrBindingNotFound)
		assert.ErrorIs(t, repo.Delete(ctx, binding.ID), connector.ErrBindingNotFound)
	})
}
