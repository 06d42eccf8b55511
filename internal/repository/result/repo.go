package result

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aliskhannn/screenshot-worker/internal/model"
)

// db is the subset of *dbpg.DB the repository uses.
type db interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Repository records the terminal results of jobs, one row per job ID.
type Repository struct {
	db db
}

// NewRepository creates a new Repository with the given DB connection.
func NewRepository(db db) *Repository {
	return &Repository{db: db}
}

// Delivered reports whether a terminal result was recorded for the job.
func (r *Repository) Delivered(ctx context.Context, jobID string) (bool, error) {
	query := `
		SELECT 1
		FROM job_results
		WHERE job_id = $1
    `

	var one int
	err := r.db.QueryRowContext(ctx, query, jobID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}

		return false, fmt.Errorf("delivered: failed to query result: %w", err)
	}

	return true, nil
}

// Record inserts the terminal result of a job. Recording the same job
// twice keeps the first row.
func (r *Repository) Record(ctx context.Context, res model.JobResult) error {
	query := `
		INSERT INTO job_results (job_id, url, breakpoint, status, attempts, time_execute, item_result, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (job_id) DO NOTHING
    `

	item, err := json.Marshal(res.Item)
	if err != nil {
		return fmt.Errorf("record: failed to marshal item result: %w", err)
	}

	_, err = r.db.ExecContext(
		ctx, query,
		res.Job.ID, res.Job.URL, res.Job.Breakpoint, res.Status,
		res.Job.Attempts, res.Job.TimeExecute, item, res.Err,
	)
	if err != nil {
		return fmt.Errorf("record: failed to insert result: %w", err)
	}

	return nil
}
