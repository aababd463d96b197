// Package postgres implements core.Store on PostgreSQL using pgx.
//
// Tasks and evidence chains are stored as JSONB documents keyed by id, with
// a few columns extracted for querying.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hupe1980/researchmesh/core"
	"github.com/hupe1980/researchmesh/logging"
)

// Options configure a Store.
type Options struct {
	Logger logging.Logger
	// MaxConns caps the pool size when positive. Only used by New.
	MaxConns int32
	// SkipMigrate disables table creation on startup.
	SkipMigrate bool
}

// Store persists finalized tasks and evidence chains.
type Store struct {
	pool   *pgxpool.Pool
	logger logging.Logger
}

var _ core.Store = (*Store)(nil)

// New connects to connURL, verifies the connection and creates the tables
// if they don't exist.
func New(ctx context.Context, connURL string, optFns ...func(o *Options)) (*Store, error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}
	poolCfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	if opts.MaxConns > 0 {
		poolCfg.MaxConns = opts.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	s, err := NewFromPool(ctx, pool, optFns...)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewFromPool wraps an existing pool.
func NewFromPool(ctx context.Context, pool *pgxpool.Pool, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	s := &Store{pool: pool, logger: opts.Logger}
	if !opts.SkipMigrate {
		if err := s.migrate(ctx); err != nil {
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
	}
	s.logger.Info("store.postgres.ready")
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS rm_tasks (
			id         TEXT PRIMARY KEY,
			status     TEXT NOT NULL,
			chain_id   TEXT NOT NULL DEFAULT '',
			data       JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		);

		CREATE TABLE IF NOT EXISTS rm_evidence_chains (
			id               TEXT PRIMARY KEY,
			task_id          TEXT NOT NULL,
			confidence_level DOUBLE PRECISION NOT NULL DEFAULT 0,
			quality_score    DOUBLE PRECISION NOT NULL DEFAULT 0,
			data             JSONB NOT NULL,
			updated_at       TIMESTAMPTZ NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_rm_evidence_chains_task ON rm_evidence_chains (task_id);
	`)
	return err
}

// SaveTask upserts task.
func (s *Store) SaveTask(ctx context.Context, task core.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rm_tasks (id, status, chain_id, data, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			chain_id = EXCLUDED.chain_id,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		task.ID, string(task.Status), task.ChainID, data, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// LoadTask returns the task or an error wrapping core.ErrNotFound.
func (s *Store) LoadTask(ctx context.Context, id string) (core.Task, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM rm_tasks WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Task{}, fmt.Errorf("task %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	var task core.Task
	if err := json.Unmarshal(data, &task); err != nil {
		return core.Task{}, fmt.Errorf("decode task %s: %w", id, err)
	}
	return task, nil
}

// SaveChain upserts chain.
func (s *Store) SaveChain(ctx context.Context, chain core.EvidenceChain) error {
	data, err := json.Marshal(chain)
	if err != nil {
		return fmt.Errorf("encode evidence chain %s: %w", chain.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO rm_evidence_chains (id, task_id, confidence_level, quality_score, data, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			confidence_level = EXCLUDED.confidence_level,
			quality_score = EXCLUDED.quality_score,
			data = EXCLUDED.data,
			updated_at = EXCLUDED.updated_at`,
		chain.ID, chain.TaskID, chain.ConfidenceLevel, chain.QualityScore, data, chain.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save evidence chain %s: %w", chain.ID, err)
	}
	return nil
}

// LoadChain returns the chain or an error wrapping core.ErrNotFound.
func (s *Store) LoadChain(ctx context.Context, id string) (core.EvidenceChain, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM rm_evidence_chains WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.EvidenceChain{}, fmt.Errorf("evidence chain %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.EvidenceChain{}, fmt.Errorf("load evidence chain %s: %w", id, err)
	}
	var chain core.EvidenceChain
	if err := json.Unmarshal(data, &chain); err != nil {
		return core.EvidenceChain{}, fmt.Errorf("decode evidence chain %s: %w", id, err)
	}
	return chain, nil
}
