package postgres

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"enharness/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS harness_runs (
	run_id      TEXT PRIMARY KEY,
	target      TEXT NOT NULL,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	passed      INT NOT NULL,
	failed      INT NOT NULL,
	skipped     INT NOT NULL
);
CREATE TABLE IF NOT EXISTS harness_checks (
	run_id      TEXT NOT NULL REFERENCES harness_runs(run_id),
	seq         INT NOT NULL,
	phase       TEXT NOT NULL,
	check_name  TEXT NOT NULL,
	status      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL,
	PRIMARY KEY (run_id, seq)
);`

// Sink archives finished runs in Postgres so results survive the
// process and can be compared across runs.
type Sink struct {
	db *sql.DB
}

func Open(ctx context.Context, dsn string) (*Sink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open report database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping report database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate report database: %w", err)
	}
	return &Sink{db: db}, nil
}

func (s *Sink) Close() error {
	return s.db.Close()
}

func (s *Sink) Write(ctx context.Context, report *domain.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin report transaction: %w", err)
	}
	defer tx.Rollback()

	passed, failed, skipped := report.Counts()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO harness_runs (run_id, target, started_at, finished_at, passed, failed, skipped)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id) DO NOTHING`,
		report.RunID, report.Target, report.StartedAt, report.FinishedAt, passed, failed, skipped)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", report.RunID, err)
	}

	for i, result := range report.Results {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO harness_checks (run_id, seq, phase, check_name, status, detail, duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)
			 ON CONFLICT (run_id, seq) DO NOTHING`,
			report.RunID, i, result.Phase, result.Check, string(result.Status), result.Detail,
			result.Duration.Milliseconds())
		if err != nil {
			return fmt.Errorf("insert check %s/%s: %w", result.Phase, result.Check, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit report transaction: %w", err)
	}
	return nil
}
