package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

type counter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
	evicted     bool
}

// MemoryStore keeps one counter per key in process memory. Each counter has
// its own lock, so distinct keys never contend.
type MemoryStore struct {
	limits   Limits
	now      func() time.Time
	logger   *zap.Logger
	counters sync.Map // string -> *counter
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the time source, mainly for tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithLogger attaches a logger used by the maintenance sweeper.
func WithLogger(logger *zap.Logger) MemoryOption {
	return func(s *MemoryStore) { s.logger = logger }
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(limits Limits, opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		limits: limits,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *MemoryStore) counter(key string) *counter {
	if v, ok := s.counters.Load(key); ok {
		return v.(*counter)
	}
	v, _ := s.counters.LoadOrStore(key, &counter{})
	return v.(*counter)
}

// CheckAndIncrement implements Store. An elapsed window is reset lazily as
// part of the same critical section as the increment.
func (s *MemoryStore) CheckAndIncrement(_ context.Context, key string) (Decision, error) {
	for {
		c := s.counter(key)
		c.mu.Lock()
		if c.evicted {
			// swept between lookup and lock; retry against the fresh counter
			c.mu.Unlock()
			continue
		}

		now := s.now()
		if c.windowStart.IsZero() || !now.Before(c.windowStart.Add(s.limits.Window)) {
			c.count = 0
			c.windowStart = now
		}
		c.count++
		d := decide(s.limits, c.count, c.windowStart.Add(s.limits.Window))
		c.mu.Unlock()
		return d, nil
	}
}

// Sweep drops counters whose window has elapsed at now and returns how many
// were removed. Dropping an elapsed counter is equivalent to the lazy reset.
func (s *MemoryStore) Sweep(now time.Time) int {
	removed := 0
	s.counters.Range(func(k, v any) bool {
		c := v.(*counter)
		c.mu.Lock()
		if !now.Before(c.windowStart.Add(s.limits.Window)) {
			c.evicted = true
			s.counters.CompareAndDelete(k, c)
			removed++
		}
		c.mu.Unlock()
		return true
	})
	return removed
}

// Len returns the number of live counters.
func (s *MemoryStore) Len() int {
	n := 0
	s.counters.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// RunSweeper calls Sweep every interval until ctx is cancelled. A
// non-positive interval disables sweeping.
func (s *MemoryStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("swept stale rate-limit counters",
					zap.Int("removed", n),
					zap.Int("remaining", s.Len()))
			}
		}
	}
}
