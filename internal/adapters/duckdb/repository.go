// Package duckdb archives finished jobs in an embedded DuckDB database so
// their records outlive the in-memory registry.
package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/arvhal/replagent/internal/core/domain"
	"github.com/arvhal/replagent/internal/core/ports"
)

type Repository struct {
	db *sql.DB
}

// NewRepository opens (or creates) the archive at path. An empty path opens
// an in-memory database, which the tests use.
func NewRepository(path string) (*Repository, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open duckdb at %q: %w", path, err)
	}
	r := &Repository{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

var _ ports.JobArchive = (*Repository)(nil)

func (r *Repository) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id VARCHAR PRIMARY KEY,
		status VARCHAR NOT NULL,
		progress INTEGER NOT NULL,
		message VARCHAR NOT NULL,
		logs JSON NOT NULL,
		result VARCHAR,
		error VARCHAR,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create jobs table: %w", err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

func (r *Repository) SaveJob(ctx context.Context, job domain.Job) error {
	logsJSON, err := json.Marshal(job.Logs)
	if err != nil {
		return fmt.Errorf("failed to marshal logs: %w", err)
	}

	query := `
	INSERT INTO jobs (id, status, progress, message, logs, result, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		progress = excluded.progress,
		message = excluded.message,
		logs = excluded.logs,
		result = excluded.result,
		error = excluded.error,
		updated_at = excluded.updated_at;
	`

	_, err = r.db.ExecContext(ctx, query,
		string(job.ID), string(job.Status), job.Progress, job.Message,
		string(logsJSON), job.Result, job.Error,
		job.CreatedAt, job.UpdatedAt,
	)
	return err
}

func (r *Repository) GetJob(ctx context.Context, id domain.JobID) (domain.Job, error) {
	query := `SELECT id, status, progress, message, CAST(logs AS TEXT), result, error, created_at, updated_at FROM jobs WHERE id = ?`
	row := r.db.QueryRowContext(ctx, query, string(id))

	job, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return domain.Job{}, domain.ErrJobNotFound
	}
	return job, err
}

func (r *Repository) ListJobs(ctx context.Context) ([]domain.Job, error) {
	query := `SELECT id, status, progress, message, CAST(logs AS TEXT), result, error, created_at, updated_at FROM jobs ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func scanJob(scan func(dest ...any) error) (domain.Job, error) {
	var job domain.Job
	var idStr, statusStr, logsJSON string

	if err := scan(&idStr, &statusStr, &job.Progress, &job.Message, &logsJSON,
		&job.Result, &job.Error, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return domain.Job{}, err
	}

	job.ID = domain.JobID(idStr)
	job.Status = domain.JobStatus(statusStr)
	if err := json.Unmarshal([]byte(logsJSON), &job.Logs); err != nil {
		return domain.Job{}, fmt.Errorf("failed to unmarshal logs for job %s: %w", idStr, err)
	}
	return job, nil
}
