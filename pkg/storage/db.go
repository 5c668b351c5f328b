// Package storage persists deltafy snapshots and deploy run history in a
// single SQLite database.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const (
	snapshotTable = "snapshot_entries"
	runTable      = "deploy_runs"
)

// DB wraps the state database. It is safe for use from one control thread
// and its helpers; SQLite serialises writers through a single connection.
type DB struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// Open opens (or creates) the state database at path. A database that cannot
// be configured is treated as corrupt: it is moved aside and recreated empty,
// which makes the next scan report every file as changed.
func Open(ctx context.Context, path string) (*DB, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("storage: database path is empty")
	}
	if err := ensureDir(filepath.Dir(path)); err != nil {
		return nil, err
	}
	db, err := openAndPrepare(ctx, path)
	if err == nil {
		return db, nil
	}
	aside := fmt.Sprintf("%s.corrupt-%d", path, time.Now().UnixNano())
	log.Warn().Err(err).Str("db", path).Str("moved_to", aside).Msg("storage: state database unusable, recreating")
	if renameErr := os.Rename(path, aside); renameErr != nil && !os.IsNotExist(renameErr) {
		return nil, errors.Wrapf(renameErr, "storage: move aside corrupt database %s", path)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(path + suffix)
	}
	db, err = openAndPrepare(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: recreate state database")
	}
	return db, nil
}

func openAndPrepare(ctx context.Context, path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "storage: open sqlite database failed")
	}
	if err := configureSQLite(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := checkIntegrity(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := prepareSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return &DB{db: sqlDB, path: path, now: time.Now}, nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// Close releases the database handle.
func (d *DB) Close() error {
	if d == nil || d.db == nil {
		return nil
	}
	return d.db.Close()
}

func configureSQLite(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=10000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "storage: execute %s failed", pragma)
		}
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return nil
}

func checkIntegrity(ctx context.Context, db *sql.DB) error {
	var result string
	if err := db.QueryRowContext(ctx, "PRAGMA quick_check;").Scan(&result); err != nil {
		return errors.Wrap(err, "storage: integrity check failed")
	}
	if !strings.EqualFold(strings.TrimSpace(result), "ok") {
		return errors.Errorf("storage: integrity check reported %q", result)
	}
	return nil
}

func prepareSchema(ctx context.Context, db *sql.DB) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			scope TEXT NOT NULL,
			path TEXT NOT NULL,
			size INTEGER NOT NULL,
			mod_time INTEGER NOT NULL,
			hash TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (scope, path)
		);`, snapshotTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			run_id TEXT PRIMARY KEY,
			host_id TEXT NOT NULL DEFAULT '',
			app_id TEXT NOT NULL,
			deploy_type TEXT NOT NULL,
			device_serial TEXT NOT NULL DEFAULT '',
			path TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL DEFAULT '',
			attempts INTEGER NOT NULL DEFAULT 0,
			dirty_stages TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER
		);`, runTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_app ON %s (app_id, started_at);`, runTable, runTable),
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "storage: prepare schema failed")
		}
	}
	return nil
}

func ensureDir(dir string) error {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "storage: create dir %s failed", dir)
	}
	return nil
}
