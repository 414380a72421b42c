package migration

import (
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"

	"github.com/erp/posconnector/migrations"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrations(t *testing.T) {
	src, err := iofs.New(migrations.FS, ".")
	require.NoError(t, err)
	defer src.Close()

	var versions []uint
	version, err := src.First()
	require.NoError(t, err)
	for {
		versions = append(versions, version)

		up, _, err := src.ReadUp(version)
		require.NoError(t, err, "version %d has no up migration", version)
		body, err := io.ReadAll(up)
		require.NoError(t, err)
		_ = up.Close()
		assert.NotEmpty(t, strings.TrimSpace(string(body)))

		down, _, err := src.ReadDown(version)
		require.NoError(t, err, "version %d has no down migration", version)
		_ = down.Close()

		version, err = src.Next(version)
		if errors.Is(err, fs.ErrNotExist) {
			break
		}
		require.NoError(t, err)
	}

	assert.Equal(t, []uint{1, 2, 3}, versions)
}

func TestEmbeddedMigrations_CreateConnectorTables(t *testing.T) {
	var schema strings.Builder
	matches, err := fs.Glob(migrations.FS, "*.up.sql")
	require.NoError(t, err)
	for _, name := range matches {
		body, err := fs.ReadFile(migrations.FS, name)
		require.NoError(t, err)
		schema.Write(body)
	}

	for _, table := range []string{"pos_backends", "internal_records", "bindings", "sync_jobs"} {
		assert.Contains(t, schema.String(), "CREATE TABLE IF NOT EXISTS "+table+" ")
	}
	assert.Contains(t, schema.String(), "REFERENCES internal_records(id) ON DELETE CASCADE")
	assert.Contains(t, schema.String(), "CREATE UNIQUE INDEX IF NOT EXISTS idx_bindings_external ON bindings(backend_id, entity_type, external_id)")
}
