package ratelimit

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int
	resetAt time.Time
}

// MemoryStore is the in-process WindowStore. Each process keeps an
// independent budget; a horizontally scaled deployment should use the Redis
// store instead so instances share one quota.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*window
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

func (s *MemoryStore) Take(_ context.Context, key string, limit int, length time.Duration) (Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(length)}
		s.windows[key] = w
	}

	if w.count >= limit {
		return Decision{
			ResetAt:    w.resetAt,
			RetryAfter: w.resetAt.Sub(now),
		}, nil
	}

	w.count++
	return Decision{
		Allowed:   true,
		Remaining: limit - w.count,
		ResetAt:   w.resetAt,
	}, nil
}

// Reset clears all windows. Intended for tests.
func (s *MemoryStore) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.windows = make(map[string]*window)
}
