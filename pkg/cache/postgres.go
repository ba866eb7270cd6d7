package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresSchema creates the table backing PostgresBackend.
const PostgresSchema = `
CREATE TABLE IF NOT EXISTS cache_entries (
	key         TEXT PRIMARY KEY,
	payload     BYTEA NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	ttl_seconds INTEGER NOT NULL CHECK (ttl_seconds >= 0)
)`

// PostgresBackend stores entries in a durable shared table. Payload bytes are
// stored verbatim so a hit returns exactly what was written.
type PostgresBackend struct {
	pool *pgxpool.Pool
	now  Clock
}

// NewPostgresBackend connects to dsn, verifies the connection and ensures the schema.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	b := NewPostgresBackendFromPool(pool)
	if err := b.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return b, nil
}

// NewPostgresBackendFromPool wraps an existing pool. The schema is not created.
func NewPostgresBackendFromPool(pool *pgxpool.Pool) *PostgresBackend {
	return &PostgresBackend{pool: pool, now: time.Now}
}

// Compile-time interface check.
var _ Backend = (*PostgresBackend)(nil)

// EnsureSchema creates the cache_entries table if it does not exist.
func (p *PostgresBackend) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, PostgresSchema); err != nil {
		return fmt.Errorf("create cache_entries table: %w", err)
	}
	return nil
}

// Name returns the layer label.
func (p *PostgresBackend) Name() string { return "postgres" }

// Get retrieves a cache entry. Expired rows are deleted lazily.
func (p *PostgresBackend) Get(ctx context.Context, key string) (*Entry, error) {
	query := `
		SELECT payload, created_at, ttl_seconds
		FROM cache_entries
		WHERE key = $1
	`

	entry := Entry{Key: key}
	var payload []byte
	err := p.pool.QueryRow(ctx, query, key).Scan(&payload, &entry.CreatedAt, &entry.TTLSeconds)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("select cache entry: %w", err)
	}
	entry.Payload = payload

	if entry.IsExpired(p.now()) {
		// created_at guard keeps a concurrent fresh write alive.
		_, _ = p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1 AND created_at = $2`, key, entry.CreatedAt)
		return nil, ErrCacheMiss
	}

	return &entry, nil
}

// Set upserts the entry. The last writer wins.
func (p *PostgresBackend) Set(ctx context.Context, entry *Entry) error {
	if entry == nil {
		return fmt.Errorf("cache entry cannot be nil")
	}
	if entry.IsExpired(p.now()) {
		return nil
	}

	query := `
		INSERT INTO cache_entries (key, payload, created_at, ttl_seconds)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			ttl_seconds = EXCLUDED.ttl_seconds
	`

	if _, err := p.pool.Exec(ctx, query, entry.Key, []byte(entry.Payload), entry.CreatedAt, entry.TTLSeconds); err != nil {
		return fmt.Errorf("upsert cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry.
func (p *PostgresBackend) Delete(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM cache_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (p *PostgresBackend) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close releases the connection pool.
func (p *PostgresBackend) Close() {
	p.pool.Close()
}
