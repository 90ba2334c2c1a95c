package verification

import (
	"errors"
	"sync"
	"time"
)

type storeEntry[V any] struct {
	value      V
	generation uint64
	expiresAt  time.Time
	timer      *time.Timer
}

// Store is a keyed map of short-lived values. Each Put schedules its own
// eviction; an eviction only removes the entry it was scheduled for, so a
// timer left over from an overwritten entry is a no-op.
type Store[K comparable, V any] struct {
	mu         sync.Mutex
	entries    map[K]*storeEntry[V]
	generation uint64
	now        func() time.Time
}

func NewStore[K comparable, V any]() *Store[K, V] {
	return &Store[K, V]{
		entries: make(map[K]*storeEntry[V]),
		now:     time.Now,
	}
}

// Put stores value under key for ttl, replacing any pending entry.
func (s *Store[K, V]) Put(key K, value V, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.entries[key]; ok && prev.timer != nil {
		prev.timer.Stop()
	}

	s.generation++
	generation := s.generation
	entry := &storeEntry[V]{
		value:      value,
		generation: generation,
		expiresAt:  s.now().Add(ttl),
	}
	entry.timer = time.AfterFunc(ttl, func() {
		s.evict(key, generation)
	})
	s.entries[key] = entry
}

type discarded struct {
	err error
}

func (d discarded) Error() string { return d.err.Error() }
func (d discarded) Unwrap() error { return d.err }

// Discard marks a check failure that should also remove the entry.
func Discard(err error) error {
	return discarded{err: err}
}

// Take atomically reads the entry for key and, when check accepts it, deletes
// it and returns the value. A rejected entry stays in place unless check
// wrapped its error with Discard.
func (s *Store[K, V]) Take(key K, check func(V) error) (V, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var zero V
	entry, ok := s.entries[key]
	if !ok {
		return zero, ErrUnknownPrincipal
	}
	if !s.now().Before(entry.expiresAt) {
		s.removeLocked(key, entry)
		return zero, ErrUnknownPrincipal
	}

	if check != nil {
		if err := check(entry.value); err != nil {
			var d discarded
			if errors.As(err, &d) {
				s.removeLocked(key, entry)
				return zero, d.err
			}
			return zero, err
		}
	}

	s.removeLocked(key, entry)
	return entry.value, nil
}

// Delete drops the entry for key, if any.
func (s *Store[K, V]) Delete(key K) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.entries[key]; ok {
		s.removeLocked(key, entry)
	}
}

func (s *Store[K, V]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Close stops every pending eviction timer and empties the store.
func (s *Store[K, V]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, entry := range s.entries {
		s.removeLocked(key, entry)
	}
}

func (s *Store[K, V]) evict(key K, generation uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.generation != generation {
		return
	}
	delete(s.entries, key)
}

func (s *Store[K, V]) removeLocked(key K, entry *storeEntry[V]) {
	if entry.timer != nil {
		entry.timer.Stop()
	}
	delete(s.entries, key)
}
