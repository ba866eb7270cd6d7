package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryBackend is the ephemeral per-process backend. Expired entries are
// removed when they are read; nothing sweeps them in the background.
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	now     Clock
}

// MemoryOption configures a MemoryBackend.
type MemoryOption func(*MemoryBackend)

// WithMemoryClock overrides the clock used for expiry checks.
func WithMemoryClock(clock Clock) MemoryOption {
	return func(m *MemoryBackend) {
		m.now = clock
	}
}

// NewMemoryBackend creates an empty in-process backend.
func NewMemoryBackend(opts ...MemoryOption) *MemoryBackend {
	m := &MemoryBackend{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compile-time interface check.
var _ Backend = (*MemoryBackend)(nil)

// Name returns the layer label.
func (m *MemoryBackend) Name() string { return "memory" }

// Get returns a copy of the stored entry.
func (m *MemoryBackend) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.RLock()
	entry, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCacheMiss
	}

	if entry.IsExpired(m.now()) {
		m.mu.Lock()
		// Only drop it if nobody replaced it in between.
		if current, ok := m.entries[key]; ok && current == entry {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, ErrCacheMiss
	}

	entryCopy := *entry
	return &entryCopy, nil
}

// Set stores a copy of the entry.
func (m *MemoryBackend) Set(_ context.Context, entry *Entry) error {
	if entry == nil {
		return ErrInvalidEntry
	}
	entryCopy := *entry

	m.mu.Lock()
	m.entries[entry.Key] = &entryCopy
	m.mu.Unlock()
	return nil
}

// Delete removes the entry.
func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

// Ping always succeeds.
func (m *MemoryBackend) Ping(context.Context) error { return nil }

// Len returns the number of stored entries, expired ones included.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
