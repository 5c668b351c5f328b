package storage

import (
	"context"
	"fmt"

	"github.com/httprunner/apkdeploy/pkg/deltafy"
	"github.com/pkg/errors"
)

var _ deltafy.Store = (*DB)(nil)

// Load returns the snapshot stored for scope; a scope never written yields an
// empty snapshot.
func (d *DB) Load(ctx context.Context, scope string) (deltafy.Snapshot, error) {
	rows, err := d.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT path, size, mod_time, hash FROM %s WHERE scope = ?`, snapshotTable), scope)
	if err != nil {
		return nil, errors.Wrapf(err, "storage: query snapshot %s", scope)
	}
	defer rows.Close()
	snap := make(deltafy.Snapshot)
	for rows.Next() {
		var (
			path string
			fp   deltafy.Fingerprint
		)
		if err := rows.Scan(&path, &fp.Size, &fp.ModTime, &fp.Hash); err != nil {
			return nil, errors.Wrapf(err, "storage: scan snapshot row for %s", scope)
		}
		snap[path] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "storage: iterate snapshot %s", scope)
	}
	return snap, nil
}

// Replace swaps the whole snapshot for scope inside one transaction.
func (d *DB) Replace(ctx context.Context, scope string, snap deltafy.Snapshot) (err error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "storage: begin snapshot transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()
	if _, err = tx.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE scope = ?`, snapshotTable), scope); err != nil {
		return errors.Wrapf(err, "storage: drop snapshot %s", scope)
	}
	stmt, err := tx.PrepareContext(ctx,
		fmt.Sprintf(`INSERT INTO %s (scope, path, size, mod_time, hash) VALUES (?, ?, ?, ?, ?)`, snapshotTable))
	if err != nil {
		return errors.Wrap(err, "storage: prepare snapshot insert")
	}
	defer stmt.Close()
	for _, path := range snap.Paths() {
		fp := snap[path]
		if _, err = stmt.ExecContext(ctx, scope, path, fp.Size, fp.ModTime, fp.Hash); err != nil {
			return errors.Wrapf(err, "storage: insert snapshot entry %s", path)
		}
	}
	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, "storage: commit snapshot")
	}
	return nil
}

// Clear removes the snapshot for scope.
func (d *DB) Clear(ctx context.Context, scope string) error {
	if _, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE scope = ?`, snapshotTable), scope); err != nil {
		return errors.Wrapf(err, "storage: clear snapshot %s", scope)
	}
	return nil
}

// ClearPrefix removes every snapshot whose scope starts with prefix, e.g. all
// scopes of one project.
func (d *DB) ClearPrefix(ctx context.Context, prefix string) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE substr(scope, 1, length(?)) = ?`, snapshotTable), prefix, prefix)
	if err != nil {
		return 0, errors.Wrapf(err, "storage: clear snapshots under %s", prefix)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
