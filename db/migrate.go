package db

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/recwake/errors"
	"github.com/teranos/recwake/sym"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// migration is one embedded .sql file. Its version is the numeric prefix
// before the first underscore: 001_create_recording_job.sql -> "001".
type migration struct {
	version string
	file    string
}

func loadMigrations(fsys fs.FS) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var out []migration
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		v, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			return nil, errors.Newf("migration %s has no version prefix", e.Name())
		}
		out = append(out, migration{version: v, file: e.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

// Migrate applies pending migrations.
// If logger is provided, logs migration progress; otherwise operates silently.
func Migrate(db *sql.DB, logger *zap.SugaredLogger) error {
	_, err := MigrateContext(context.Background(), db, logger)
	return err
}

// MigrateContext applies pending migrations, each in its own transaction,
// and returns how many were applied. 000 creates schema_migrations and
// then records itself like every other migration.
func MigrateContext(ctx context.Context, db *sql.DB, logger *zap.SugaredLogger) (int, error) {
	all, err := loadMigrations(migrations)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range all {
		done, err := isApplied(ctx, db, m.version)
		if err != nil {
			return applied, errors.Wrapf(err, "check %s", m.file)
		}
		if done {
			continue
		}

		body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
		if err != nil {
			return applied, errors.Wrapf(err, "read %s", m.file)
		}

		if logger != nil {
			logger.Infow("Applying migration", "migration", m.file, "version", m.version, "symbol", sym.DB)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return applied, errors.Wrapf(err, "begin tx for %s", m.file)
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			tx.Rollback()
			return applied, errors.Wrapf(err, "execute %s", m.file)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", m.version); err != nil {
			tx.Rollback()
			return applied, errors.Wrapf(err, "record %s", m.file)
		}
		if err := tx.Commit(); err != nil {
			return applied, errors.Wrapf(err, "commit %s", m.file)
		}
		applied++
	}

	if logger != nil && applied > 0 {
		logger.Infow("Migrations complete", "symbol", sym.DB, "applied", applied, "total_migrations", len(all))
	}
	return applied, nil
}

// isApplied reports whether version is recorded. A missing
// schema_migrations table means nothing has run yet, which is only
// consistent for version 000.
func isApplied(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var tableCount int
	if err := db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_migrations'",
	).Scan(&tableCount); err != nil {
		return false, err
	}
	if tableCount == 0 {
		if version != "000" {
			return false, errors.Newf("schema_migrations table missing, but migration is not 000: %s", version)
		}
		return false, nil
	}

	var exists bool
	err := db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists)
	return exists, err
}

// SchemaVersion returns the highest applied migration version, or "" on a
// fresh database.
func SchemaVersion(ctx context.Context, db *sql.DB) (string, error) {
	var v sql.NullString
	err := db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&v)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return "", nil
		}
		return "", errors.Wrap(err, "failed to read schema version")
	}
	return v.String, nil
}
