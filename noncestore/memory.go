package noncestore

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is the in-memory reference Store. A single mutex guards the
// map, which makes check-then-mark atomic per nonce. Nonces are keyed
// case-insensitively.
type MemoryStore struct {
	mu   sync.Mutex
	used map[string]Usage
	ttl  time.Duration

	sweeperOnce sync.Once
	done        chan struct{}
}

// Option configures a MemoryStore.
type Option func(*MemoryStore)

// WithTTL bounds how long a spent nonce is retained. Zero (the default)
// retains nonces forever; the sweeper only evicts when a TTL is set.
func WithTTL(ttl time.Duration) Option {
	return func(s *MemoryStore) { s.ttl = ttl }
}

// NewMemoryStore creates an empty in-memory nonce store.
func NewMemoryStore(opts ...Option) *MemoryStore {
	s := &MemoryStore{
		used: make(map[string]Usage),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsUsed reports whether the nonce has been spent.
func (s *MemoryStore) IsUsed(_ context.Context, nonce string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.used[normalize(nonce)]
	return ok, nil
}

// MarkUsed records the nonce atomically, failing with ErrNonceUsed when it
// is already present.
func (s *MemoryStore) MarkUsed(_ context.Context, nonce string, usage Usage) error {
	key := normalize(nonce)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.used[key]; ok {
		return ErrNonceUsed
	}
	if usage.UsedAt.IsZero() {
		usage.UsedAt = time.Now()
	}
	s.used[key] = usage
	return nil
}

// Usage returns the recorded usage for a nonce, if any.
func (s *MemoryStore) Usage(nonce string) (Usage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.used[normalize(nonce)]
	return u, ok
}

// Reset clears all recorded nonces. Test use only.
func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.used = make(map[string]Usage)
	return nil
}

// Len returns the number of recorded nonces.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.used)
}

// StartSweeper launches a background goroutine that evicts nonces older
// than the configured TTL. It is a no-op without a TTL. Call Close to stop
// it.
func (s *MemoryStore) StartSweeper(interval time.Duration) {
	if s.ttl <= 0 {
		return
	}
	s.sweeperOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					s.sweep(time.Now())
				case <-s.done:
					return
				}
			}
		}()
	})
}

// Close stops the sweeper goroutine.
func (s *MemoryStore) Close() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

func (s *MemoryStore) sweep(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, usage := range s.used {
		if now.Sub(usage.UsedAt) > s.ttl {
			delete(s.used, key)
		}
	}
}

func normalize(nonce string) string {
	return strings.ToLower(strings.TrimSpace(nonce))
}
