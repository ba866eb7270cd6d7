package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTTL is the Manager's default lifetime when none is configured.
const DefaultTTL = 60 * time.Second

// UseDefaultTTL asks Set for the Manager's default lifetime.
const UseDefaultTTL time.Duration = -1

// Manager implements Store over a Backend. Backend failures are logged,
// counted and turned into misses or dropped writes.
type Manager struct {
	backend    Backend
	defaultTTL time.Duration
	logger     zerolog.Logger
	now        Clock
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithClock overrides the clock used to stamp new entries.
func WithClock(clock Clock) ManagerOption {
	return func(m *Manager) {
		m.now = clock
	}
}

// NewManager creates a new cache manager. A non-positive defaultTTL selects DefaultTTL.
func NewManager(backend Backend, defaultTTL time.Duration, logger zerolog.Logger, opts ...ManagerOption) *Manager {
	if backend == nil {
		panic("cache backend cannot be nil")
	}
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	m := &Manager{
		backend:    backend,
		defaultTTL: defaultTTL,
		logger:     logger.With().Str("layer", backend.Name()).Logger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Compile-time interface check.
var _ Store = (*Manager)(nil)

// Layer returns the active backend's name.
func (m *Manager) Layer() string {
	return m.backend.Name()
}

// Get returns the payload stored under key. Any backend error is a miss.
func (m *Manager) Get(ctx context.Context, key string) ([]byte, bool) {
	layer := m.backend.Name()

	entry, err := m.backend.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			CacheErrors.WithLabelValues(layer, "get").Inc()
			m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache get failed, treating as miss")
		}
		CacheMisses.WithLabelValues(layer).Inc()
		m.logger.Debug().Str("cache_key", key).Msg("Cache miss")
		return nil, false
	}

	CacheHits.WithLabelValues(layer).Inc()
	m.logger.Debug().
		Str("cache_key", key).
		Dur("ttl", entry.TTL(m.now())).
		Msg("Cache hit")
	return entry.Payload, true
}

// Set stores payload under key for ttl. A zero ttl is never served;
// UseDefaultTTL selects the Manager's default. Failures are logged and dropped.
func (m *Manager) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) {
	if ttl == UseDefaultTTL {
		ttl = m.defaultTTL
	}
	layer := m.backend.Name()

	entry := NewEntry(key, payload, ttl, m.now())
	if err := m.backend.Set(ctx, entry); err != nil {
		CacheErrors.WithLabelValues(layer, "set").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache set failed")
		return
	}

	CacheWrites.WithLabelValues(layer).Inc()
	m.logger.Debug().
		Str("cache_key", key).
		Int("ttl_seconds", entry.TTLSeconds).
		Msg("Cached payload")
}

// GetJSON decodes the payload stored under key into v.
// A payload that does not decode is reported as a miss.
func (m *Manager) GetJSON(ctx context.Context, key string, v any) bool {
	payload, ok := m.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(payload, v); err != nil {
		CacheErrors.WithLabelValues(m.backend.Name(), "unmarshal").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cached payload is corrupt, treating as miss")
		return false
	}
	return true
}

// SetJSON encodes v and stores it under key.
func (m *Manager) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	payload, err := json.Marshal(v)
	if err != nil {
		CacheErrors.WithLabelValues(m.backend.Name(), "marshal").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cannot encode payload for cache")
		return
	}
	m.Set(ctx, key, payload, ttl)
}

// Delete removes the entry stored under key. Failures are logged and dropped.
func (m *Manager) Delete(ctx context.Context, key string) {
	if err := m.backend.Delete(ctx, key); err != nil {
		CacheErrors.WithLabelValues(m.backend.Name(), "delete").Inc()
		m.logger.Warn().Err(err).Str("cache_key", key).Msg("Cache delete failed")
	}
}

// Ping reports whether the backend is reachable.
func (m *Manager) Ping(ctx context.Context) error {
	return m.backend.Ping(ctx)
}
