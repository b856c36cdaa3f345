package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]Entry)}
}

func clone(e Entry) *Entry {
	e.Payload = append([]byte(nil), e.Payload...)
	if e.LastAccessedAt != nil {
		t := *e.LastAccessedAt
		e.LastAccessedAt = &t
	}
	return &e
}

func (s *MemoryStore) Get(_ context.Context, id string) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(e), nil
}

func (s *MemoryStore) Put(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.ID] = *clone(*e)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok {
		return ErrNotFound
	}
	e.HitCount++
	e.LastAccessedAt = &at
	s.entries[id] = e
	return nil
}

func (s *MemoryStore) Replace(_ context.Context, e *Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.entries {
		if existing.UserID == e.UserID && existing.Kind == e.Kind {
			delete(s.entries, id)
		}
	}
	s.entries[e.ID] = *clone(*e)
	return nil
}

func (s *MemoryStore) Latest(_ context.Context, userID string, kind Kind) (*Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *Entry
	for _, e := range s.entries {
		if e.UserID != userID || e.Kind != kind {
			continue
		}
		if latest == nil || e.CreatedAt.After(latest.CreatedAt) {
			latest = clone(e)
		}
	}
	if latest == nil {
		return nil, ErrNotFound
	}
	return latest, nil
}

func (s *MemoryStore) List(_ context.Context, userID string, kind Kind) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Entry
	for _, e := range s.entries {
		if e.UserID == userID && e.Kind == kind {
			out = append(out, *clone(e))
		}
	}
	return out, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, e := range s.entries {
		if e.Expired(now) {
			delete(s.entries, id)
			n++
		}
	}
	return n, nil
}
