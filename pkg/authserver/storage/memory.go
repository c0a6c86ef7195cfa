// SPDX-FileCopyrightText: Copyright 2026 The openauthd Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DefaultCleanupInterval is how often the in-memory backend sweeps expired
// entries.
const DefaultCleanupInterval = time.Minute

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *timedEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

// MemoryStore implements Store with a mutex-guarded map. It is thread-safe
// and suitable for single-instance deployments and tests. Expired entries
// are dropped lazily on read and swept by a background cleanup goroutine.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*timedEntry

	clock           clockwork.Clock
	cleanupInterval time.Duration

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryStoreOption configures a MemoryStore instance.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.cleanupInterval = interval
	}
}

// WithClock injects a clock, letting tests drive TTL expiry deterministically.
func WithClock(clock clockwork.Clock) MemoryStoreOption {
	return func(s *MemoryStore) {
		s.clock = clock
	}
}

// NewMemoryStore creates a MemoryStore and starts its cleanup goroutine.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	s := &MemoryStore{
		entries:         make(map[string]*timedEntry),
		clock:           clockwork.NewRealClock(),
		cleanupInterval: DefaultCleanupInterval,
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Get returns the value for key, or ErrNotFound.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.clock.Now()) {
		return nil, ErrNotFound
	}

	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, nil
}

// GetDel atomically removes and returns the value for key. The write lock
// spans the read and the delete, so only one concurrent caller can win.
func (s *MemoryStore) GetDel(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key]
	if !ok || entry.expired(s.clock.Now()) {
		delete(s.entries, key)
		return nil, ErrNotFound
	}

	delete(s.entries, key)
	return entry.value, nil
}

// Set stores value under key with the given ttl.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	stored := make([]byte, len(value))
	copy(stored, value)

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = s.clock.Now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = &timedEntry{value: stored, expiresAt: expiresAt}
	return nil
}

// Remove deletes the key. Removing an absent key is a no-op.
func (s *MemoryStore) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}

// Close stops the cleanup goroutine and waits for it to finish.
func (s *MemoryStore) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

// Len reports the number of live entries. Useful for tests and monitoring.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.clock.Now()
	n := 0
	for _, entry := range s.entries {
		if !entry.expired(now) {
			n++
		}
	}
	return n
}

// cleanupLoop runs periodic cleanup of expired entries.
func (s *MemoryStore) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := s.clock.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.Chan():
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes all expired entries. Expired keys are collected
// under the read lock first to keep write lock hold time short.
func (s *MemoryStore) cleanupExpired() {
	now := s.clock.Now()

	s.mu.RLock()
	var expired []string
	for k, v := range s.entries {
		if v.expired(now) {
			expired = append(expired, k)
		}
	}
	s.mu.RUnlock()

	if len(expired) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range expired {
		// Re-check under the write lock: the entry may have been replaced
		// with a fresh value since collection.
		if entry, ok := s.entries[k]; ok && entry.expired(now) {
			delete(s.entries, k)
		}
	}
}

// Compile-time interface compliance check.
var _ Store = (*MemoryStore)(nil)
