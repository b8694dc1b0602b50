// Package postgres provides a Postgres-backed checkpoint store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/placecrawler/internal/crawler"
)

const defaultTable = "crawl_checkpoints"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for checkpoints.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// CheckpointStore keeps one row per job slug with the full snapshot in a
// JSONB column. Each Save is a single upsert statement, so readers observe
// either the old or the new snapshot.
type CheckpointStore struct {
	pool  pool
	table string
}

// NewCheckpointStore connects to Postgres using cfg.
func NewCheckpointStore(ctx context.Context, cfg Config) (*CheckpointStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("checkpoint.postgres.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CheckpointStore{pool: p, table: table}, nil
}

// NewCheckpointStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewCheckpointStoreWithPool(p pool, table string) (*CheckpointStore, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &CheckpointStore{pool: p, table: name}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *CheckpointStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the checkpoint table when missing.
func (s *CheckpointStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	slug        TEXT PRIMARY KEY,
	query       TEXT NOT NULL,
	completed   BOOLEAN NOT NULL DEFAULT FALSE,
	next_index  INTEGER NOT NULL,
	backlog_len INTEGER NOT NULL,
	snapshot    JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create checkpoint table: %w", err)
	}
	return nil
}

// Save upserts the snapshot for state.Slug.
func (s *CheckpointStore) Save(ctx context.Context, state *crawler.State) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid state: %w", err)
	}
	snapshot, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (slug, query, completed, next_index, backlog_len, snapshot, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (slug) DO UPDATE SET
	query = EXCLUDED.query,
	completed = EXCLUDED.completed,
	next_index = EXCLUDED.next_index,
	backlog_len = EXCLUDED.backlog_len,
	snapshot = EXCLUDED.snapshot,
	updated_at = EXCLUDED.updated_at`, s.table)

	args := []any{
		state.Slug,
		state.Query,
		state.Completed,
		state.Cursor,
		len(state.Backlog),
		snapshot,
		state.LastCheckpoint,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("upsert checkpoint %q: %w", state.Slug, err)
	}
	return nil
}

// Load reads the snapshot for slug.
func (s *CheckpointStore) Load(ctx context.Context, slug string) (*crawler.State, error) {
	query := fmt.Sprintf(`SELECT snapshot FROM %s WHERE slug = $1`, s.table)
	var raw []byte
	if err := s.pool.QueryRow(ctx, query, slug).Scan(&raw); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, crawler.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("load checkpoint %q: %w", slug, err)
	}
	var state crawler.State
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: err}
	}
	if err := state.Validate(); err != nil {
		return nil, &crawler.CheckpointCorruptionError{Slug: slug, Err: err}
	}
	return &state, nil
}

// Delete removes the row for slug; missing rows are fine.
func (s *CheckpointStore) Delete(ctx context.Context, slug string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE slug = $1`, s.table)
	if _, err := s.pool.Exec(ctx, query, slug); err != nil {
		return fmt.Errorf("delete checkpoint %q: %w", slug, err)
	}
	return nil
}

// List returns stored slugs in lexical order.
func (s *CheckpointStore) List(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT slug FROM %s ORDER BY slug`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	var slugs []string
	for rows.Next() {
		var slug string
		if err := rows.Scan(&slug); err != nil {
			return nil, fmt.Errorf("scan checkpoint slug: %w", err)
		}
		slugs = append(slugs, slug)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return slugs, nil
}
