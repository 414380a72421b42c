package connector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewBackend(t *testing.T) {
	t.Run("Valid backend", func(t *testing.T) {
		b, err := NewBackend("Shop", "pos.example.com", "KEY")
		require.NoError(t, err)
		assert.Equal(t, BackendStateDraft, b.State)
		assert.True(t, b.Active)
		assert.Equal(t, QtyAvailable, b.ProductQtyField)
		assert.NoError(t, b.Validate())
	})

	t.Run("Missing name", func(t *testing.T) {
		_, err := NewBackend("", "pos.example.com", "KEY")
		assert.ErrorIs(t, err, ErrBackendInvalidName)
	})

	t.Run("Missing location", func(t *testing.T) {
		_, err := NewBackend("Shop", "", "KEY")
		assert.ErrorIs(t, err, ErrBackendInvalidLocation)
	})
}

func TestBackend_Validate(t *testing.T) {
	newBackend := func() *Backend {
		b, err := NewBackend("Shop", "pos.example.com", "KEY")
		require.NoError(t, err)
		return b
	}

	t.Run("Zero interval", func(t *testing.T) {
		b := newBackend()
		b.RefreshInterval = 0
		assert.ErrorIs(t, b.Validate(), ErrBackendInvalidInterval)
	})

	t.Run("Unknown timezone", func(t *testing.T) {
		b := newBackend()
		b.Timezone = "Mars/Olympus"
		assert.ErrorIs(t, b.Validate(), ErrBackendInvalidTimezone)
	})

	t.Run("Unknown state", func(t *testing.T) {
		b := newBackend()
		b.State = "archived"
		assert.ErrorIs(t, b.Validate(), ErrBackendInvalidState)
	})

	t.Run("Unknown product match field", func(t *testing.T) {
		b := newBackend()
		b.MatchingProductField = "sku"
		assert.Error(t, b.Validate())
	})
}

func TestBackend_CheckActive(t *testing.T) {
	b, err := NewBackend("Shop", "pos.example.com", "KEY")
	require.NoError(t, err)

	assert.NoError(t, b.CheckActive())

	b.Active = false
	err = b.CheckActive()
	require.Error(t, err)
	assert.True(t, IsRetryable(err))
	assert.Contains(t, err.Error(), "Backend Shop is inactive")
}

func TestBackend_Watermarks(t *testing.T) {
	b, err := NewBackend("Shop", "pos.example.com", "KEY")
	require.NoError(t, err)

	_, ok := b.Watermark("customer")
	assert.False(t, ok)

	t1 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	b.AdvanceWatermark("customer", t2)
	got, ok := b.Watermark("customer")
	require.True(t, ok)
	assert.Equal(t, t2, got)

	b.AdvanceWatermark("customer", t1)
	got, _ = b.Watermark("customer")
	assert.Equal(t, t2, got, "watermark never moves back")
}

func TestBackend_IsOrderStateImportable(t *testing.T) {
	b, err := NewBackend("Shop", "pos.example.com", "KEY")
	require.NoError(t, err)

	t.Run("Default rule", func(t *testing.T) {
		assert.False(t, b.IsOrderStateImportable("processing"))
		assert.False(t, b.IsOrderStateImportable("cancel"))
		assert.True(t, b.IsOrderStateImportable("done"))
	})

	t.Run("Explicit list", func(t *testing.T) {
		b.ImportableOrderStates = []string{"done"}
		assert.True(t, b.IsOrderStateImportable("done"))
		assert.False(t, b.IsOrderStateImportable("processing"))
		assert.False(t, b.IsOrderStateImportable("paid"))
	})
}

func TestBackend_StateTransitions(t *testing.T) {
	b, err := NewBackend("Shop", "pos.example.com", "KEY")
	require.NoError(t, err)

	b.MarkChecked()
	assert.Equal(t, BackendStateChecked, b.State)
	b.ResetToDraft()
	assert.Equal(t, BackendStateDraft, b.State)
}

func TestBackend_TimeLocation(t *testing.T) {
	b := &Backend{}
	assert.Equal(t, time.UTC, b.TimeLocation())

	b.Timezone = "Europe/Paris"
	assert.Equal(t, "Europe/Paris", b.TimeLocation().String())
}
