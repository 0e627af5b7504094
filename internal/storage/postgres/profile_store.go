// Package postgres provides Postgres-backed persistence implementations.
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

	"github.com/JakeFAU/crawl-profiles/internal/store"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "crawl_profiles"

// ProfileStoreConfig controls the Postgres connection pool used for profiles.
type ProfileStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type queryExecCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	Close()
}

// ProfileStore persists profiles as JSONB key/value documents.
type ProfileStore struct {
	pool  queryExecCloser
	table string
}

// NewProfileStore connects to Postgres using cfg.
func NewProfileStore(ctx context.Context, cfg ProfileStoreConfig) (*ProfileStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
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
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ProfileStore{pool: pool, table: table}, nil
}

// NewProfileStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewProfileStoreWithPool(pool queryExecCloser, table string) (*ProfileStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &ProfileStore{pool: pool, table: name}, nil
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
func (s *ProfileStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// EnsureSchema creates the profile table when it does not exist.
func (s *ProfileStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	handle     TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	status     TEXT NOT NULL,
	settings   JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create profile table: %w", err)
	}
	return nil
}

// UpsertProfile writes rec unless a newer version is already stored. Deleted
// profiles are written through here as tombstones with status "deleted".
func (s *ProfileStore) UpsertProfile(ctx context.Context, rec store.ProfileRecord) error {
	if rec.Handle == "" {
		return errors.New("record handle is required")
	}
	settings := rec.Settings
	if settings == nil {
		settings = map[string]string{}
	}
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (handle, name, status, settings, updated_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (handle) DO UPDATE
SET name = EXCLUDED.name,
	status = EXCLUDED.status,
	settings = EXCLUDED.settings,
	updated_at = EXCLUDED.updated_at
WHERE %[1]s.updated_at <= EXCLUDED.updated_at`, s.table)
	if _, err := s.pool.Exec(ctx, query, rec.Handle, rec.Name, rec.Status, settingsJSON, rec.UpdatedAt); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

// LoadProfiles reads every stored profile, tombstones included, in creation
// order.
func (s *ProfileStore) LoadProfiles(ctx context.Context) ([]store.ProfileRecord, error) {
	query := fmt.Sprintf(`
SELECT handle, name, status, settings, updated_at
FROM %s
ORDER BY created_at, handle`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query profiles: %w", err)
	}
	defer rows.Close()

	var out []store.ProfileRecord
	for rows.Next() {
		var (
			rec store.ProfileRecord
			raw []byte
		)
		if err := rows.Scan(&rec.Handle, &rec.Name, &rec.Status, &raw, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		if err := json.Unmarshal(raw, &rec.Settings); err != nil {
			return nil, fmt.Errorf("decode settings for %s: %w", rec.Handle, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}

var _ store.ProfileRepository = (*ProfileStore)(nil)
