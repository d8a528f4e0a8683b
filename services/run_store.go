package services

import (
	"context"

	"github.com/jackc/pgx/v5/pgconn"

	"taxiflow/errors"
	"taxiflow/models"
)

// Execer is the part of *pgxpool.Pool the run store needs.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// RunStore writes batch run records to Postgres.
type RunStore struct {
	db Execer
}

func NewRunStore(db Execer) *RunStore {
	return &RunStore{db: db}
}

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS batch_runs (
		run_id        TEXT PRIMARY KEY,
		batch_id      TEXT NOT NULL,
		status        TEXT NOT NULL,
		input_path    TEXT NOT NULL,
		output_path   TEXT,
		model_version TEXT NOT NULL,
		records       INTEGER NOT NULL DEFAULT 0,
		throughput    DOUBLE PRECISION,
		mean_duration DOUBLE PRECISION,
		output_bytes  BIGINT,
		error         TEXT,
		started_at    TIMESTAMPTZ NOT NULL,
		finished_at   TIMESTAMPTZ
	);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_batch_id ON batch_runs (batch_id);
	CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs (started_at DESC);
`

// EnsureSchema creates the batch_runs table when missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, createRunsTable)
	return errors.Wrap(err, "create batch_runs")
}

func (s *RunStore) RecordRun(ctx context.Context, run *models.BatchRun) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO batch_runs (run_id, batch_id, status, input_path, output_path, model_version,
			records, throughput, mean_duration, output_bytes, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			output_path = EXCLUDED.output_path,
			records = EXCLUDED.records,
			throughput = EXCLUDED.throughput,
			mean_duration = EXCLUDED.mean_duration,
			output_bytes = EXCLUDED.output_bytes,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`, run.RunID, run.BatchID, run.Status, run.InputPath, run.OutputPath, run.ModelVersion,
		run.Records, run.Throughput, run.MeanDuration, run.OutputBytes, run.Error, run.StartedAt, run.FinishedAt)
	if err != nil {
		return errors.Wrapf(err, "insert run %s", run.RunID)
	}
	return nil
}
