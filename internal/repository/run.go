package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/freq-response-backend/internal/models"
)

const runColumns = `id, started_at, finished_at, status, stage, window_from, window_to,
	reading_count, intervals, output_path, error, created_at`

type RunRepo struct {
	pool *pgxpool.Pool
}

func NewRunRepo(pool *pgxpool.Pool) *RunRepo {
	return &RunRepo{pool: pool}
}

// Start records a run in the running state.
func (r *RunRepo) Start(ctx context.Context, run *models.Run) (*models.Run, error) {
	ts := run.StartedAt
	if ts.IsZero() {
		ts = time.Now()
	}
	row := r.pool.QueryRow(ctx,
		`INSERT INTO pipeline_runs (id, started_at, status, window_from, window_to, output_path)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING `+runColumns,
		run.ID, ts, models.RunStatusRunning, run.WindowFrom, run.WindowTo, run.OutputPath,
	)
	return scanRun(row)
}

// Finish stores the outcome of a run.
func (r *RunRepo) Finish(ctx context.Context, run *models.Run) (*models.Run, error) {
	finished := time.Now()
	if run.FinishedAt != nil {
		finished = *run.FinishedAt
	}
	row := r.pool.QueryRow(ctx,
		`UPDATE pipeline_runs
		 SET finished_at = $2, status = $3, stage = $4, reading_count = $5, intervals = $6, error = $7
		 WHERE id = $1
		 RETURNING `+runColumns,
		run.ID, finished, run.Status, run.Stage, run.ReadingCount, run.Intervals, run.Error,
	)
	return scanRun(row)
}

func (r *RunRepo) GetLatest(ctx context.Context) (*models.Run, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT 1`,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return run, nil
}

func (r *RunRepo) GetHistory(ctx context.Context, limit int) ([]models.Run, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+runColumns+` FROM pipeline_runs ORDER BY started_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRuns(rows)
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanRun(row scannable) (*models.Run, error) {
	var run models.Run
	err := row.Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &run.Status, &run.Stage,
		&run.WindowFrom, &run.WindowTo, &run.ReadingCount, &run.Intervals,
		&run.OutputPath, &run.Error, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func collectRuns(rows rowsIter) ([]models.Run, error) {
	var out []models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *run)
	}
	return out, rows.Err()
}
