package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/jonathan/match-orchestrator/internal/cache"
)

var _ cache.Store = (*CacheStore)(nil)

// CacheStore implements cache.Store on the cache_entries table.
// Payloads are stored as BYTEA so reads return the exact bytes written.
type CacheStore struct {
	db *DB
}

// CacheStore returns a cache.Store backed by this database.
func (db *DB) CacheStore() *CacheStore {
	return &CacheStore{db: db}
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

const cacheEntryColumns = `id, user_id, kind, content_hash, payload, created_at, expires_at, hit_count, last_accessed_at`

func scanCacheEntry(row pgx.Row) (*cache.Entry, error) {
	var e cache.Entry
	var kind string
	err := row.Scan(&e.ID, &e.UserID, &kind, &e.ContentHash, &e.Payload,
		&e.CreatedAt, &e.ExpiresAt, &e.HitCount, &e.LastAccessedAt)
	if err != nil {
		return nil, err
	}
	e.Kind = cache.Kind(kind)
	return &e, nil
}

// Get retrieves a cache entry by id
func (s *CacheStore) Get(ctx context.Context, id string) (*cache.Entry, error) {
	e, err := scanCacheEntry(s.db.pool.QueryRow(ctx,
		`SELECT `+cacheEntryColumns+` FROM cache_entries WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	return e, nil
}

// Put inserts or replaces a cache entry
func (s *CacheStore) Put(ctx context.Context, e *cache.Entry) error {
	if err := upsertCacheEntry(ctx, s.db.pool, e); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

// Delete removes a cache entry
func (s *CacheStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.pool.Exec(ctx, `DELETE FROM cache_entries WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

// Touch increments the hit count and records the access time
func (s *CacheStore) Touch(ctx context.Context, id string, at time.Time) error {
	tag, err := s.db.pool.Exec(ctx,
		`UPDATE cache_entries SET hit_count = hit_count + 1, last_accessed_at = $2 WHERE id = $1`,
		id, at,
	)
	if err != nil {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cache.ErrNotFound
	}
	return nil
}

// Replace deletes all entries of the entry's user and kind and inserts it, in one transaction.
// Concurrent replaces for the same user and kind are serialized by a
// transaction-scoped advisory lock so only one entry survives.
func (s *CacheStore) Replace(ctx context.Context, e *cache.Entry) error {
	tx, err := s.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtextextended($1::text || ':' || $2::text, 0))`,
		e.UserID, string(e.Kind),
	); err != nil {
		return fmt.Errorf("failed to lock cache entries: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`DELETE FROM cache_entries WHERE user_id = $1 AND kind = $2`,
		e.UserID, string(e.Kind),
	); err != nil {
		return fmt.Errorf("failed to clear prior cache entries: %w", err)
	}
	if err := upsertCacheEntry(ctx, tx, e); err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Latest returns the newest entry of a user and kind
func (s *CacheStore) Latest(ctx context.Context, userID string, kind cache.Kind) (*cache.Entry, error) {
	e, err := scanCacheEntry(s.db.pool.QueryRow(ctx,
		`SELECT `+cacheEntryColumns+` FROM cache_entries
		 WHERE user_id = $1 AND kind = $2
		 ORDER BY created_at DESC LIMIT 1`,
		userID, string(kind),
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, cache.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get latest cache entry: %w", err)
	}
	return e, nil
}

// List returns all entries of a user and kind, newest first
func (s *CacheStore) List(ctx context.Context, userID string, kind cache.Kind) ([]cache.Entry, error) {
	rows, err := s.db.pool.Query(ctx,
		`SELECT `+cacheEntryColumns+` FROM cache_entries
		 WHERE user_id = $1 AND kind = $2
		 ORDER BY created_at DESC`,
		userID, string(kind),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}
	defer rows.Close()

	var entries []cache.Entry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cache entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// DeleteExpired removes entries whose expiry has passed
func (s *CacheStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := s.db.pool.Exec(ctx, `DELETE FROM cache_entries WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired cache entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

func upsertCacheEntry(ctx context.Context, q execer, e *cache.Entry) error {
	_, err := q.Exec(ctx,
		`INSERT INTO cache_entries (`+cacheEntryColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (id) DO UPDATE SET
		     content_hash = EXCLUDED.content_hash,
		     payload = EXCLUDED.payload,
		     created_at = EXCLUDED.created_at,
		     expires_at = EXCLUDED.expires_at,
		     hit_count = EXCLUDED.hit_count,
		     last_accessed_at = EXCLUDED.last_accessed_at`,
		e.ID, e.UserID, string(e.Kind), e.ContentHash, e.Payload,
		e.CreatedAt, e.ExpiresAt, e.HitCount, e.LastAccessedAt,
	)
	return err
}
