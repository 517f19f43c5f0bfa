package database

import (
	"context"
	"fmt"
	"time"
)

// RunRow is one orchestrator invocation.
type RunRow struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	DryRun     bool
	Succeeded  int
	Failed     int
}

// ProviderRunRow is the outcome of a single provider within a run.
type ProviderRunRow struct {
	RunID      string
	Provider   string
	Kind       string
	Status     string // "ok" or "failed"
	Samples    int
	Dropped    int
	NewRows    int
	TotalRows  int
	DurationMs int64
	Error      string
}

// SaveRun stores the run and its provider outcomes in one transaction.
func (d *Database) SaveRun(ctx context.Context, run RunRow, providers []ProviderRunRow) error {
	tx, err := d.write.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting run transaction: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO run (id, started_at, finished_at, dry_run, succeeded, failed)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.DryRun,
		run.Succeeded,
		run.Failed)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("saving run: %w", err)
	}

	for _, p := range providers {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO provider_run (run_id, provider, kind, status, samples, dropped, new_rows, total_rows, duration_ms, error)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID,
			p.Provider,
			p.Kind,
			p.Status,
			p.Samples,
			p.Dropped,
			p.NewRows,
			p.TotalRows,
			p.DurationMs,
			p.Error)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("saving provider run for %s: %w", p.Provider, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing run: %w", err)
	}
	return nil
}

func (d *Database) GetRecentRuns(ctx context.Context, limit int) ([]RunRow, error) {
	if limit < 1 {
		limit = 10
	}

	rows, err := d.read.QueryContext(ctx, `
		SELECT id, started_at, finished_at, dry_run, succeeded, failed
		FROM run
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching runs: %w", err)
	}
	defer rows.Close()

	var started, finished string
	var runs []RunRow
	for rows.Next() {
		var r RunRow
		err := rows.Scan(&r.ID, &started, &finished, &r.DryRun, &r.Succeeded, &r.Failed)
		if err != nil {
			return nil, err
		}
		r.StartedAt, err = time.Parse(time.RFC3339, started)
		if err != nil {
			return nil, fmt.Errorf("parsing started_at: %w", err)
		}
		r.FinishedAt, err = time.Parse(time.RFC3339, finished)
		if err != nil {
			return nil, fmt.Errorf("parsing finished_at: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading run rows: %w", err)
	}

	return runs, nil
}

func (d *Database) GetProviderRuns(ctx context.Context, runID string) ([]ProviderRunRow, error) {
	rows, err := d.read.QueryContext(ctx, `
		SELECT run_id, provider, kind, status, samples, dropped, new_rows, total_rows, duration_ms, error
		FROM provider_run
		WHERE run_id = ?
		ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("fetching provider runs: %w", err)
	}
	defer rows.Close()

	var providers []ProviderRunRow
	for rows.Next() {
		var p ProviderRunRow
		err := rows.Scan(&p.RunID, &p.Provider, &p.Kind, &p.Status, &p.Samples, &p.Dropped, &p.NewRows, &p.TotalRows, &p.DurationMs, &p.Error)
		if err != nil {
			return nil, err
		}
		providers = append(providers, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading provider run rows: %w", err)
	}

	return providers, nil
}

// PurgeRuns deletes journal rows older than the retention window.
// Provider outcomes follow through the foreign key.
func (d *Database) PurgeRuns(ctx context.Context, retention time.Duration) error {
	if retention <= 0 {
		return nil
	}

	cutoff := time.Now().Add(-retention).UTC().Format(time.RFC3339)
	res, err := d.write.ExecContext(ctx, `DELETE FROM run WHERE started_at < ?`, cutoff)
	if err != nil {
		return fmt.Errorf("purging runs: %w", err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		d.logger.Debug(fmt.Sprintf("purged %d runs", rows))
	}
	return nil
}
