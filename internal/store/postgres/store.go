// Package postgres provides the Postgres-backed metadata store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/pcranston/metainventory/internal/metadata"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for metadata rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	ConnectAttempts int
}

// querier is the subset of pgxpool.Pool the store uses; pgxmock satisfies it
// in tests.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store writes metadata records into Postgres.
//
// Expected schema:
//
//	CREATE TABLE url_metadata (
//	    url         TEXT PRIMARY KEY,
//	    headers     JSONB NOT NULL DEFAULT '{}',
//	    cookies     JSONB NOT NULL DEFAULT '{}',
//	    page_source TEXT NOT NULL DEFAULT '',
//	    created_at  TIMESTAMPTZ NOT NULL,
//	    updated_at  TIMESTAMPTZ NOT NULL
//	);
type Store struct {
	pool  querier
	table string
}

// New connects to Postgres and returns a Store. The initial ping is retried
// with exponential backoff so the service survives database startup delays.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	table := cfg.Table
	if table == "" {
		table = "url_metadata"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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

	store := &Store{pool: pool, table: table}
	if err := store.pingWithRetry(ctx, cfg.ConnectAttempts, logger); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool querier, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "url_metadata"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, table: table}, nil
}

// pingWithRetry verifies connectivity, backing off between attempts.
func (s *Store) pingWithRetry(ctx context.Context, attempts int, logger *zap.Logger) error {
	if attempts <= 0 {
		attempts = 1
	}
	delay := 2 * time.Second
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = s.pool.Ping(ctx); err == nil {
			logger.Info("connected to postgres", zap.Int("attempt", attempt))
			return nil
		}
		if attempt == attempts {
			break
		}
		logger.Warn("postgres not ready",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Duration("retry_in", delay),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return fmt.Errorf("ping postgres: %w", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
	}
	return fmt.Errorf("ping postgres after %d attempts: %w", attempts, err)
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping checks connectivity for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("metadata store is not configured")
	}
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Get fetches the record for url, mapping no-rows to metadata.ErrNotFound.
func (s *Store) Get(ctx context.Context, url string) (metadata.Record, error) {
	query := fmt.Sprintf(`
SELECT url, headers, cookies, page_source, created_at, updated_at
FROM %s
WHERE url = $1`, s.table)

	var (
		record      metadata.Record
		headersJSON []byte
		cookiesJSON []byte
	)
	err := s.pool.QueryRow(ctx, query, url).Scan(
		&record.URL,
		&headersJSON,
		&cookiesJSON,
		&record.PageSource,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return metadata.Record{}, metadata.ErrNotFound
		}
		return metadata.Record{}, fmt.Errorf("select metadata: %w", err)
	}
	if err := json.Unmarshal(headersJSON, &record.Headers); err != nil {
		return metadata.Record{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	if err := json.Unmarshal(cookiesJSON, &record.Cookies); err != nil {
		return metadata.Record{}, fmt.Errorf("unmarshal cookies: %w", err)
	}
	return record, nil
}

// Upsert writes the record in a single conditional statement. The conflict
// branch excludes created_at from the update set, so the first successful
// insert wins the creation timestamp regardless of write ordering. The
// RETURNING clause yields the persisted row, which is authoritative when
// concurrent first-writes race.
func (s *Store) Upsert(ctx context.Context, record metadata.Record, now time.Time) (metadata.Record, error) {
	headersJSON, err := json.Marshal(emptyIfNil(record.Headers))
	if err != nil {
		return metadata.Record{}, fmt.Errorf("marshal headers: %w", err)
	}
	cookiesJSON, err := json.Marshal(emptyIfNil(record.Cookies))
	if err != nil {
		return metadata.Record{}, fmt.Errorf("marshal cookies: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (url, headers, cookies, page_source, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (url) DO UPDATE SET
	headers = EXCLUDED.headers,
	cookies = EXCLUDED.cookies,
	page_source = EXCLUDED.page_source,
	updated_at = EXCLUDED.updated_at
RETURNING url, headers, cookies, page_source, created_at, updated_at`, s.table)

	var (
		stored        metadata.Record
		storedHeaders []byte
		storedCookies []byte
	)
	err = s.pool.QueryRow(ctx, query,
		record.URL,
		headersJSON,
		cookiesJSON,
		record.PageSource,
		now,
	).Scan(
		&stored.URL,
		&storedHeaders,
		&storedCookies,
		&stored.PageSource,
		&stored.CreatedAt,
		&stored.UpdatedAt,
	)
	if err != nil {
		return metadata.Record{}, fmt.Errorf("upsert metadata: %w", err)
	}
	if err := json.Unmarshal(storedHeaders, &stored.Headers); err != nil {
		return metadata.Record{}, fmt.Errorf("unmarshal headers: %w", err)
	}
	if err := json.Unmarshal(storedCookies, &stored.Cookies); err != nil {
		return metadata.Record{}, fmt.Errorf("unmarshal cookies: %w", err)
	}
	return stored, nil
}

func emptyIfNil(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}
