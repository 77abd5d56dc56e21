package history

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS migration_runs (
	id          UUID PRIMARY KEY,
	mode        TEXT NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	target      TEXT NOT NULL DEFAULT '',
	created     INTEGER NOT NULL DEFAULT 0,
	existing    INTEGER NOT NULL DEFAULT 0,
	simulated   INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL
)`

// Run is one recorded invocation of admigrate.
type Run struct {
	ID         uuid.UUID
	Mode       string // "export", "import", or "import-dry-run"
	Source     string
	Target     string
	Created    int
	Existing   int
	Simulated  int
	Skipped    int
	Failed     int
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store persists migration runs to PostgreSQL for later auditing.
type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

// Open connects to the history database and ensures the schema exists.
func Open(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect history database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure history schema: %w", err)
	}

	return &Store{
		pool: pool,
		log:  log.Named("history"),
	}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// RecordRun stores a completed run.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO migration_runs
			(id, mode, source, target, created, existing, simulated, skipped, failed, started_at, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		run.ID, run.Mode, run.Source, run.Target,
		run.Created, run.Existing, run.Simulated, run.Skipped, run.Failed,
		run.StartedAt, run.FinishedAt)
	if err != nil {
		return fmt.Errorf("record run: %w", err)
	}

	s.log.Debug("run recorded", zap.String("id", run.ID.String()), zap.String("mode", run.Mode))
	return nil
}
