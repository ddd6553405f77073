package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenWithMigrations(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "recwake.db")

	db, err := OpenWithMigrations(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	for _, table := range []string{"schema_migrations", "recording_job", "recordings"} {
		var n int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n))
		assert.Equal(t, 1, n, "table %s should exist", table)
	}

	v, err := SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Equal(t, "002", v)
}

func TestMigrateIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "recwake.db")
	db, err := Open(dbPath, nil)
	require.NoError(t, err)
	defer db.Close()

	n, err := MigrateContext(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = MigrateContext(context.Background(), db, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRecordingJobHoldsOneRow(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "recwake.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO recording_job (slot, id, scheduled_start_time, duration_seconds, state, created_at, updated_at)
		VALUES (?, 'j', CURRENT_TIMESTAMP, 10, 'idle', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)`
	_, err = db.Exec(insert, 1)
	require.NoError(t, err)
	_, err = db.Exec(insert, 2)
	assert.Error(t, err, "slot other than 1 must be rejected")
}

func TestSchemaVersionFreshDatabase(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "fresh.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	v, err := SchemaVersion(context.Background(), db)
	require.NoError(t, err)
	assert.Empty(t, v)
}
