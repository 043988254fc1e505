package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/freq-response-backend/internal/models"
)

type IntervalRepo struct {
	pool *pgxpool.Pool
}

func NewIntervalRepo(pool *pgxpool.Pool) *IntervalRepo {
	return &IntervalRepo{pool: pool}
}

// Record upserts interval averages. A later run replaces the stored value
// for an interval it also covers.
func (r *IntervalRepo) Record(ctx context.Context, runID string, intervals []models.IntervalAverage) error {
	if len(intervals) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, iv := range intervals {
		batch.Queue(
			`INSERT INTO interval_power (run_id, interval_start, average_power, samples)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (interval_start) DO UPDATE
			 SET run_id = EXCLUDED.run_id,
			     average_power = EXCLUDED.average_power,
			     samples = EXCLUDED.samples`,
			runID, iv.Interval.UTC(), iv.AveragePower, iv.Samples,
		)
	}

	if err := r.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("record intervals: %w", err)
	}
	return nil
}

// GetByDay returns the intervals starting on the given UTC day (YYYY-MM-DD).
func (r *IntervalRepo) GetByDay(ctx context.Context, day string) ([]models.IntervalRow, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("parse day: %w", err)
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, run_id, interval_start, average_power, samples, created_at
		 FROM interval_power
		 WHERE interval_start >= $1 AND interval_start < $2
		 ORDER BY interval_start ASC`,
		start, start.AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIntervals(rows)
}

func (r *IntervalRepo) GetByRun(ctx context.Context, runID string) ([]models.IntervalRow, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, run_id, interval_start, average_power, samples, created_at
		 FROM interval_power WHERE run_id = $1 ORDER BY interval_start ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectIntervals(rows)
}

func collectIntervals(rows rowsIter) ([]models.IntervalRow, error) {
	var out []models.IntervalRow
	for rows.Next() {
		var iv models.IntervalRow
		if err := rows.Scan(&iv.ID, &iv.RunID, &iv.Interval, &iv.AveragePower, &iv.Samples, &iv.CreatedAt); err != nil {
			return nil, err
		}
		iv.Interval = iv.Interval.UTC()
		out = append(out, iv)
	}
	return out, rows.Err()
}
