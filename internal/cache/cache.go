// Package cache provides the per-user, content-addressed result cache.
// Entries are keyed by a hash of (user, kind, content hash), expire per kind,
// and track hit counts. Store failures degrade to misses.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/match-orchestrator/internal/logger"
	"github.com/jonathan/match-orchestrator/internal/metrics"
)

// Kind discriminates cached payloads.
type Kind string

const (
	// DefaultProfile is a user's reusable candidate profile.
	DefaultProfile Kind = "default_profile"
	// CurrentJob is the job posting a user is currently targeting. At most one
	// live entry exists per user.
	CurrentJob Kind = "current_job"
	// ProcessingResult is a final scoring or tailoring result.
	ProcessingResult Kind = "processing_result"
	// AgentResult is one agent's output.
	AgentResult Kind = "agent_result"
)

// DefaultTTLs returns the expiry per kind.
func DefaultTTLs() map[Kind]time.Duration {
	return map[Kind]time.Duration{
		DefaultProfile:   30 * 24 * time.Hour,
		CurrentJob:       7 * 24 * time.Hour,
		ProcessingResult: 7 * 24 * time.Hour,
		AgentResult:      24 * time.Hour,
	}
}

// ErrNotFound is returned by stores for absent ids.
var ErrNotFound = errors.New("cache entry not found")

// Entry is one cached record.
type Entry struct {
	ID             string
	UserID         string
	Kind           Kind
	ContentHash    string
	Payload        []byte
	CreatedAt      time.Time
	ExpiresAt      time.Time
	HitCount       int64
	LastAccessedAt *time.Time
}

// Expired reports whether the entry is past its expiry at now.
func (e *Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// Store is a keyed record store with atomic per-key operations.
type Store interface {
	// Get returns the entry or ErrNotFound.
	Get(ctx context.Context, id string) (*Entry, error)
	// Put inserts or fully replaces the entry with e.ID.
	Put(ctx context.Context, e *Entry) error
	// Delete removes the entry; deleting an absent id is not an error.
	Delete(ctx context.Context, id string) error
	// Touch increments the hit count and sets the last access time.
	Touch(ctx context.Context, id string, at time.Time) error
	// Replace deletes every entry of e.UserID and e.Kind, then inserts e, as one operation.
	Replace(ctx context.Context, e *Entry) error
	// Latest returns the most recently created entry of userID and kind, or ErrNotFound.
	Latest(ctx context.Context, userID string, kind Kind) (*Entry, error)
	// List returns every entry of userID and kind.
	List(ctx context.Context, userID string, kind Kind) ([]Entry, error)
	// DeleteExpired removes entries expired at now and returns how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Key derives the entry id for (userID, kind, contentHash).
func Key(userID string, kind Kind, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(userID))
	h.Write([]byte{0})
	h.Write([]byte(kind))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// Cache is the result cache. A nil *Cache always misses.
type Cache struct {
	store   Store
	ttls    map[Kind]time.Duration
	now     func() time.Time
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the expiry of one kind.
func WithTTL(kind Kind, ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttls[kind] = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithLogger sets the logger used for absorbed store failures.
func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = logger.OrNop(l) }
}

// WithMetrics records hits, misses and errors.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// New creates a Cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		ttls:   DefaultTTLs(),
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TTL returns the expiry used for kind.
func (c *Cache) TTL(kind Kind) time.Duration {
	if ttl, ok := c.ttls[kind]; ok {
		return ttl
	}
	return 24 * time.Hour
}

func (c *Cache) enabled(userID string) bool {
	return c != nil && c.store != nil && userID != ""
}

// Get returns the payload for (userID, kind, contentHash). Expired entries
// are deleted and reported as misses.
func (c *Cache) Get(ctx context.Context, userID string, kind Kind, contentHash string) ([]byte, bool) {
	if !c.enabled(userID) {
		return nil, false
	}
	id := Key(userID, kind, contentHash)
	e, err := c.store.Get(ctx, id)
	return c.hit(ctx, kind, e, err)
}

// GetCurrent returns the live single-active entry of kind for userID.
func (c *Cache) GetCurrent(ctx context.Context, userID string, kind Kind) ([]byte, bool) {
	if !c.enabled(userID) {
		return nil, false
	}
	e, err := c.store.Latest(ctx, userID, kind)
	return c.hit(ctx, kind, e, err)
}

func (c *Cache) hit(ctx context.Context, kind Kind, e *Entry, err error) ([]byte, bool) {
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			c.absorb(kind, "get", err)
		}
		c.metrics.CacheMiss(string(kind))
		return nil, false
	}

	now := c.now()
	if e.Expired(now) {
		if err := c.store.Delete(ctx, e.ID); err != nil {
			c.absorb(kind, "delete", err)
		}
		c.metrics.CacheMiss(string(kind))
		return nil, false
	}

	if err := c.store.Touch(ctx, e.ID, now); err != nil {
		c.absorb(kind, "touch", err)
	}
	c.metrics.CacheHit(string(kind))
	return append([]byte(nil), e.Payload...), true
}

// Put stores payload for (userID, kind, contentHash). A non-positive ttl
// uses the kind's default.
func (c *Cache) Put(ctx context.Context, userID string, kind Kind, contentHash string, payload []byte, ttl time.Duration) {
	if !c.enabled(userID) {
		return
	}
	if err := c.store.Put(ctx, c.entry(userID, kind, contentHash, payload, ttl)); err != nil {
		c.absorb(kind, "put", err)
	}
}

// SetCurrent stores payload as the only live entry of kind for userID,
// removing any prior entry of that kind.
func (c *Cache) SetCurrent(ctx context.Context, userID string, kind Kind, contentHash string, payload []byte) {
	if !c.enabled(userID) {
		return
	}
	if err := c.store.Replace(ctx, c.entry(userID, kind, contentHash, payload, 0)); err != nil {
		c.absorb(kind, "replace", err)
	}
}

// Entries lists the stored entries of kind for userID, including expired ones.
func (c *Cache) Entries(ctx context.Context, userID string, kind Kind) ([]Entry, error) {
	if !c.enabled(userID) {
		return nil, nil
	}
	return c.store.List(ctx, userID, kind)
}

// PurgeExpired deletes every expired entry.
func (c *Cache) PurgeExpired(ctx context.Context) (int64, error) {
	if c == nil || c.store == nil {
		return 0, nil
	}
	return c.store.DeleteExpired(ctx, c.now())
}

func (c *Cache) entry(userID string, kind Kind, contentHash string, payload []byte, ttl time.Duration) *Entry {
	if ttl <= 0 {
		ttl = c.TTL(kind)
	}
	now := c.now()
	return &Entry{
		ID:          Key(userID, kind, contentHash),
		UserID:      userID,
		Kind:        kind,
		ContentHash: contentHash,
		Payload:     append([]byte(nil), payload...),
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
}

func (c *Cache) absorb(kind Kind, op string, err error) {
	c.logger.Warn("cache store failure treated as miss",
		zap.String("cache_kind", string(kind)),
		zap.String("op", op),
		zap.Error(err))
	c.metrics.CacheError(string(kind), op)
}
