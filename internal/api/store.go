package api

import (
	"sync"

	"github.com/samcharles93/arbor/internal/kvcache"
)

// handleStore tracks the cache handles the server retains on behalf of the
// prefix index. The set is bounded: adding past the cap evicts the oldest
// entry so the caller can drop its index boundaries and release its claim.
type handleStore struct {
	mu    sync.Mutex
	max   int
	order []kvcache.Handle
	seen  map[kvcache.Handle]struct{}
}

func newHandleStore(max int) *handleStore {
	if max <= 0 {
		max = 128
	}
	return &handleStore{
		max:  max,
		seen: make(map[kvcache.Handle]struct{}),
	}
}

// Add records h and reports the handle evicted to stay within the cap, if
// any. Re-adding a retained handle is a no-op.
func (s *handleStore) Add(h kvcache.Handle) (kvcache.Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[h]; ok {
		return 0, false
	}
	s.seen[h] = struct{}{}
	s.order = append(s.order, h)
	if len(s.order) <= s.max {
		return 0, false
	}
	evicted := s.order[0]
	s.order = s.order[1:]
	delete(s.seen, evicted)
	return evicted, true
}

// Drain empties the store and returns everything it was retaining.
func (s *handleStore) Drain() []kvcache.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.order
	s.order = nil
	s.seen = make(map[kvcache.Handle]struct{})
	return out
}

func (s *handleStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}
