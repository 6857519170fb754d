package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtnitsch/kanstar-preload/pkg/loader"
)

// ErrRunNotFound is returned when a run ID has no row.
var ErrRunNotFound = errors.New("run not found")

// Run is one recorded manifest load.
type Run struct {
	RunID        string
	ManifestPath string
	BaseURL      string
	Device       string
	Status       string
	StartedAt    time.Time
	FinishedAt   time.Time
	Total        int
	Loaded       int
	Failed       int
	Bytes        int64
}

// Duration is the wall time of the run.
func (r Run) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// AssetRecord is one asset outcome within a run.
type AssetRecord struct {
	Key          string
	URL          string
	Tier         string
	Attempts     int
	SizeBytes    int64
	Cached       bool
	Duration     time.Duration
	ErrorType    string
	ErrorMessage string
}

// RecordRun stores a report and all of its asset results in one transaction.
func (db *DB) RecordRun(report *loader.Report, manifestPath, baseURL string) error {
	if report == nil || report.RunID == "" {
		return errors.New("report has no run ID")
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }() // no-op after commit

	_, err = tx.Exec(`
		INSERT INTO load_runs (run_id, manifest_path, base_url, device, status,
		                       started_at, finished_at, total, loaded, failed, bytes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.RunID, manifestPath, baseURL, report.Device, string(report.Status),
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
		report.Total, report.Loaded, report.Failed, report.Bytes)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, a := range report.Assets {
		var errType, errMsg sql.NullString
		if !a.OK() {
			errType = sql.NullString{String: a.ErrorType, Valid: true}
			errMsg = sql.NullString{String: a.Error, Valid: true}
		}
		_, err = tx.Exec(`
			INSERT INTO asset_results (run_id, asset_key, url, tier, attempts, size_bytes,
			                           cached, duration_ms, error_type, error_message)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, report.RunID, a.Key, a.URL, string(a.Tier), a.Attempts, a.SizeBytes,
			a.Cached, a.Duration.Milliseconds(), errType, errMsg)
		if err != nil {
			return fmt.Errorf("failed to insert asset result %s: %w", a.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	query := `
		SELECT run_id, manifest_path, base_url, device, status, started_at, finished_at,
		       total, loaded, failed, bytes
		FROM load_runs
		ORDER BY started_at DESC
	`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRun returns a single run.
func (db *DB) GetRun(runID string) (Run, error) {
	row := db.QueryRow(`
		SELECT run_id, manifest_path, base_url, device, status, started_at, finished_at,
		       total, loaded, failed, bytes
		FROM load_runs
		WHERE run_id = ?
	`, runID)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	return r, err
}

// LatestRunID returns the ID of the most recent run.
func (db *DB) LatestRunID() (string, error) {
	var id string
	err := db.QueryRow("SELECT run_id FROM load_runs ORDER BY started_at DESC LIMIT 1").Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrRunNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get latest run: %w", err)
	}
	return id, nil
}

// GetRunAssets returns the asset outcomes of a run in the order they settled.
func (db *DB) GetRunAssets(runID string) ([]AssetRecord, error) {
	rows, err := db.Query(`
		SELECT asset_key, url, tier, attempts, size_bytes, cached, duration_ms,
		       error_type, error_message
		FROM asset_results
		WHERE run_id = ?
		ORDER BY result_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get run assets: %w", err)
	}
	defer rows.Close()

	var assets []AssetRecord
	for rows.Next() {
		var a AssetRecord
		var durationMS int64
		var errType, errMsg sql.NullString
		if err := rows.Scan(&a.Key, &a.URL, &a.Tier, &a.Attempts, &a.SizeBytes, &a.Cached,
			&durationMS, &errType, &errMsg); err != nil {
			return nil, fmt.Errorf("failed to scan asset result: %w", err)
		}
		a.Duration = time.Duration(durationMS) * time.Millisecond
		a.ErrorType = errType.String
		a.ErrorMessage = errMsg.String
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(s rowScanner) (Run, error) {
	var r Run
	var manifestPath, baseURL sql.NullString
	err := s.Scan(&r.RunID, &manifestPath, &baseURL, &r.Device, &r.Status,
		&r.StartedAt, &r.FinishedAt, &r.Total, &r.Loaded, &r.Failed, &r.Bytes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("failed to scan run: %w", err)
	}
	r.ManifestPath = manifestPath.String
	r.BaseURL = baseURL.String
	return r, nil
}
