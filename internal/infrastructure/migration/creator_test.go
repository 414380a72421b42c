package migration

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeName(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"add orders table", "add_orders_table"},
		{"Add-Orders-Table", "add_orders_table"},
		{"ADD__ORDERS", "add_orders"},
		{"   spaces   ", "spaces"},
		{"special!@#$chars", "specialchars"},
		{"_leading", "leading"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeName(tt.input))
		})
	}
}

func writeFiles(t *testing.T, dir string, names ...string) {
	t.Helper()
	for _, n := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("-- test"), 0o644))
	}
}

func TestCreateMigration(t *testing.T) {
	t.Run("numbers after the last migration", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir,
			"000001_init.up.sql", "000001_init.down.sql",
			"000007_add_jobs.up.sql", "000007_add_jobs.down.sql",
		)

		mf, err := CreateMigration(dir, "Add order lines", "Order lines of sale orders")
		require.NoError(t, err)

		assert.Equal(t, uint(8), mf.Version)
		assert.Equal(t, filepath.Join(dir, "000008_add_order_lines.up.sql"), mf.UpPath)
		assert.Equal(t, filepath.Join(dir, "000008_add_order_lines.down.sql"), mf.DownPath)

		up, err := os.ReadFile(mf.UpPath)
		require.NoError(t, err)
		assert.Contains(t, string(up), "-- Migration: add_order_lines")
		assert.Contains(t, string(up), "-- Order lines of sale orders")
		down, err := os.ReadFile(mf.DownPath)
		require.NoError(t, err)
		assert.Contains(t, string(down), "Rollback of add_order_lines")
	})

	t.Run("first migration in a new directory", func(t *testing.T) {
		dir := filepath.Join(t.TempDir(), "nested", "migrations")

		mf, err := CreateMigration(dir, "init", "")
		require.NoError(t, err)

		assert.Equal(t, uint(1), mf.Version)
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("rejects an empty name", func(t *testing.T) {
		_, err := CreateMigration(t.TempDir(), "!!!", "")
		assert.Error(t, err)
	})
}

func TestListMigrations(t *testing.T) {
	t.Run("sorted up migrations only", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir,
			"000002_bindings.up.sql", "000002_bindings.down.sql",
			"000001_backends.up.sql", "000001_backends.down.sql",
			"README.md", ".gitkeep",
		)
		require.NoError(t, os.Mkdir(filepath.Join(dir, "subdir.up.sql"), 0o755))

		names, err := ListMigrations(dir)
		require.NoError(t, err)
		assert.Equal(t, []string{"000001_backends", "000002_bindings"}, names)
	})

	t.Run("missing directory", func(t *testing.T) {
		names, err := ListMigrations(filepath.Join(t.TempDir(), "missing"))
		require.NoError(t, err)
		assert.Empty(t, names)
	})
}

func TestVersionOf(t *testing.T) {
	v, ok := versionOf("000003_create_sync_jobs")
	assert.True(t, ok)
	assert.Equal(t, uint(3), v)

	_, ok = versionOf("create_sync_jobs")
	assert.False(t, ok)
	_, ok = versionOf("nounderscore")
	assert.False(t, ok)
}
