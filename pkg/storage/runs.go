package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// RunRecord is one row of deploy history.
type RunRecord struct {
	RunID        string
	HostID       string
	AppID        string
	DeployType   string
	DeviceSerial string
	Path         string
	Outcome      string
	Attempts     int
	DirtyStages  []string
	Error        string
	StartedAt    time.Time
	FinishedAt   *time.Time
}

// RunUpdate carries the terminal state of a run.
type RunUpdate struct {
	DeviceSerial string
	Path         string
	Outcome      string
	Attempts     int
	DirtyStages  []string
	Error        string
}

// StartRun inserts a run row and returns its id. Empty RunID, HostID and
// StartedAt are filled in.
func (d *DB) StartRun(ctx context.Context, rec RunRecord) (string, error) {
	if strings.TrimSpace(rec.RunID) == "" {
		rec.RunID = uuid.NewString()
	}
	if rec.HostID == "" {
		rec.HostID = hostID()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = d.now()
	}
	_, err := d.db.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s
		(run_id, host_id, app_id, deploy_type, device_serial, path, outcome, attempts, dirty_stages, error, started_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, runTable),
		rec.RunID, rec.HostID, rec.AppID, rec.DeployType, rec.DeviceSerial, rec.Path, rec.Outcome,
		rec.Attempts, strings.Join(rec.DirtyStages, ","), rec.Error, rec.StartedAt.UnixMilli())
	if err != nil {
		return "", errors.Wrap(err, "storage: insert deploy run")
	}
	return rec.RunID, nil
}

// FinishRun stores the terminal state of a run.
func (d *DB) FinishRun(ctx context.Context, runID string, upd RunUpdate) error {
	res, err := d.db.ExecContext(ctx, fmt.Sprintf(`UPDATE %s SET
		device_serial = ?, path = ?, outcome = ?, attempts = ?, dirty_stages = ?, error = ?, finished_at = ?
		WHERE run_id = ?`, runTable),
		upd.DeviceSerial, upd.Path, upd.Outcome, upd.Attempts, strings.Join(upd.DirtyStages, ","),
		upd.Error, d.now().UnixMilli(), runID)
	if err != nil {
		return errors.Wrapf(err, "storage: update deploy run %s", runID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errors.Errorf("storage: deploy run %s not found", runID)
	}
	return nil
}

// RecentRuns lists the latest runs for appID, newest first.
func (d *DB) RecentRuns(ctx context.Context, appID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.db.QueryContext(ctx, fmt.Sprintf(`SELECT
		run_id, host_id, app_id, deploy_type, device_serial, path, outcome, attempts, dirty_stages, error,
		started_at, finished_at
		FROM %s WHERE app_id = ? ORDER BY started_at DESC, rowid DESC LIMIT ?`, runTable), appID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "storage: query deploy runs")
	}
	defer rows.Close()

	var result []RunRecord
	for rows.Next() {
		var (
			rec      RunRecord
			stages   string
			started  int64
			finished sql.NullInt64
		)
		if err := rows.Scan(&rec.RunID, &rec.HostID, &rec.AppID, &rec.DeployType, &rec.DeviceSerial,
			&rec.Path, &rec.Outcome, &rec.Attempts, &stages, &rec.Error, &started, &finished); err != nil {
			return nil, errors.Wrap(err, "storage: scan deploy run")
		}
		if stages != "" {
			rec.DirtyStages = strings.Split(stages, ",")
		}
		rec.StartedAt = time.UnixMilli(started)
		if finished.Valid {
			ts := time.UnixMilli(finished.Int64)
			rec.FinishedAt = &ts
		}
		result = append(result, rec)
	}
	return result, rows.Err()
}
