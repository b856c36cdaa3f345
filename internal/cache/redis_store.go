package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisPrefix = "match:cache:"

// RedisStore is a Store backed by Redis hashes. Each entry is one hash that
// Redis expires at the entry's expiry; a set per (user, kind) indexes ids.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects to addr and verifies the connection.
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client}, nil
}

// NewRedisStoreFromClient wraps an existing client.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Close closes the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func entryKey(id string) string {
	return redisPrefix + "entry:" + id
}

func indexKey(userID string, kind Kind) string {
	return redisPrefix + "idx:" + userID + ":" + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Entry, error) {
	fields, err := s.client.HGetAll(ctx, entryKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get cache entry: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeEntry(id, fields)
}

func (s *RedisStore) Put(ctx context.Context, e *Entry) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		writeEntry(ctx, pipe, e)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	key := entryKey(id)
	fields, err := s.client.HMGet(ctx, key, "user_id", "kind").Result()
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if user, ok := fields[0].(string); ok {
			if kind, ok := fields[1].(string); ok {
				pipe.SRem(ctx, indexKey(user, Kind(kind)), id)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Touch(ctx context.Context, id string, at time.Time) error {
	key := entryKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrNotFound
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HIncrBy(ctx, key, "hit_count", 1)
			pipe.HSet(ctx, key, "last_accessed_at", strconv.FormatInt(at.UnixNano(), 10))
			return nil
		})
		return err
	}, key)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("failed to touch cache entry: %w", err)
	}
	return err
}

func (s *RedisStore) Replace(ctx context.Context, e *Entry) error {
	idx := indexKey(e.UserID, e.Kind)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		ids, err := tx.SMembers(ctx, idx).Result()
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.Del(ctx, entryKey(id))
			}
			pipe.Del(ctx, idx)
			writeEntry(ctx, pipe, e)
			return nil
		})
		return err
	}, idx)
	if err != nil {
		return fmt.Errorf("failed to replace cache entry: %w", err)
	}
	return nil
}

func (s *RedisStore) Latest(ctx context.Context, userID string, kind Kind) (*Entry, error) {
	entries, err := s.List(ctx, userID, kind)
	if err != nil {
		return nil, err
	}
	var latest *Entry
	for i := range entries {
		if latest == nil || entries[i].CreatedAt.After(latest.CreatedAt) {
			latest = &entries[i]
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *RedisStore) List(ctx context.Context, userID string, kind Kind) ([]Entry, error) {
	idx := indexKey(userID, kind)
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache entries: %w", err)
	}

	var out []Entry
	for _, id := range ids {
		e, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Expired by Redis; drop the stale index member.
			_ = s.client.SRem(ctx, idx, id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, nil
}

// DeleteExpired removes index members whose entries Redis has already
// expired and returns how many were removed. Redis expires the entries
// themselves; without this the per-user indexes only shrink through List.
func (s *RedisStore) DeleteExpired(ctx context.Context, _ time.Time) (int64, error) {
	var removed int64
	iter := s.client.Scan(ctx, 0, redisPrefix+"idx:*", 100).Iterator()
	for iter.Next(ctx) {
		n, err := s.pruneIndex(ctx, iter.Val())
		if err != nil {
			return removed, err
		}
		removed += n
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("failed to scan cache indexes: %w", err)
	}
	return removed, nil
}

func (s *RedisStore) pruneIndex(ctx context.Context, idx string) (int64, error) {
	ids, err := s.client.SMembers(ctx, idx).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cache index: %w", err)
	}
	var stale []any
	for _, id := range ids {
		n, err := s.client.Exists(ctx, entryKey(id)).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to check cache entry: %w", err)
		}
		if n == 0 {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return 0, nil
	}
	// Redis drops the set once its last member is removed.
	if err := s.client.SRem(ctx, idx, stale...).Err(); err != nil {
		return 0, fmt.Errorf("failed to prune cache index: %w", err)
	}
	return int64(len(stale)), nil
}

func writeEntry(ctx context.Context, pipe redis.Pipeliner, e *Entry) {
	key := entryKey(e.ID)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, map[string]any{
		"user_id":      e.UserID,
		"kind":         string(e.Kind),
		"content_hash": e.ContentHash,
		"payload":      e.Payload,
		"created_at":   strconv.FormatInt(e.CreatedAt.UnixNano(), 10),
		"expires_at":   strconv.FormatInt(e.ExpiresAt.UnixNano(), 10),
		"hit_count":    strconv.FormatInt(e.HitCount, 10),
	})
	pipe.PExpireAt(ctx, key, e.ExpiresAt)
	pipe.SAdd(ctx, indexKey(e.UserID, e.Kind), e.ID)
}

func decodeEntry(id string, f map[string]string) (*Entry, error) {
	created, err := strconv.ParseInt(f["created_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", id, err)
	}
	expires, err := strconv.ParseInt(f["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt cache entry %s: %w", id, err)
	}
	hits, _ := strconv.ParseInt(f["hit_count"], 10, 64)

	e := &Entry{
		ID:          id,
		UserID:      f["user_id"],
		Kind:        Kind(f["kind"]),
		ContentHash: f["content_hash"],
		Payload:     []byte(f["payload"]),
		CreatedAt:   time.Unix(0, created),
		ExpiresAt:   time.Unix(0, expires),
		HitCount:    hits,
	}
	if v, ok := f["last_accessed_at"]; ok {
		if ns, err := strconv.ParseInt(v, 10, 64); err == nil {
			t := time.Unix(0, ns)
			e.LastAccessedAt = &t
		}
	}
	return e, nil
}
