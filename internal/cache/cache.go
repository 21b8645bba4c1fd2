package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/rickgao/livewire/internal/clock"
)

// Store is a TTL cache with bounded FIFO eviction. Safe for concurrent
// use.
type Store[V any] struct {
	cfg   Config
	clock clock.Clock

	mu    sync.Mutex
	order *list.List // oldest insert at front
	items map[string]*list.Element

	hits        int64
	misses      int64
	evictions   int64
	expirations int64
}

// New creates a Store. A nil clock uses the real clock.
func New[V any](cfg Config, clk clock.Clock) *Store[V] {
	defaults := DefaultConfig()
	if cfg.Capacity < 1 {
		cfg.Capacity = defaults.Capacity
	}
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = defaults.DefaultTTL
	}
	if clk == nil {
		clk = clock.Real()
	}

	return &Store[V]{
		cfg:   cfg,
		clock: clk,
		order: list.New(),
		items: make(map[string]*list.Element, cfg.Capacity),
	}
}

// Get returns the value for key if present and not expired. An expired
// entry is removed and reported as a miss.
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	el, ok := s.items[key]
	if !ok {
		s.misses++
		return zero, false
	}

	e := el.Value.(*entry[V])
	if !e.valid(s.clock.Now()) {
		s.removeElement(el)
		s.expirations++
		s.misses++
		return zero, false
	}

	s.hits++
	return e.value, true
}

// Set stores value under key. ttl <= 0 uses the default TTL. Overwriting
// a key makes it the newest entry.
func (s *Store[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if el, ok := s.items[key]; ok {
		s.removeElement(el)
	}

	for s.order.Len() >= s.cfg.Capacity {
		s.removeElement(s.order.Front())
		s.evictions++
	}

	s.items[key] = s.order.PushBack(&entry[V]{
		key:      key,
		value:    value,
		storedAt: s.clock.Now(),
		ttl:      ttl,
	})
}

// Delete removes key. Returns false if it was not present.
func (s *Store[V]) Delete(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.items[key]
	if !ok {
		return false
	}
	s.removeElement(el)
	return true
}

// Clear removes every entry. Counters are kept.
func (s *Store[V]) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.order.Init()
	clear(s.items)
}

// Len returns the number of stored entries, including expired ones not
// yet read.
func (s *Store[V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Stats returns cache statistics.
func (s *Store[V]) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Hits:        s.hits,
		Misses:      s.misses,
		Evictions:   s.evictions,
		Expirations: s.expirations,
		Len:         s.order.Len(),
		Capacity:    s.cfg.Capacity,
	}
}

// Must be called with lock held.
func (s *Store[V]) removeElement(el *list.Element) {
	e := s.order.Remove(el).(*entry[V])
	delete(s.items, e.key)
}
