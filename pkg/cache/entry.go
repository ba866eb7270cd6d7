package cache

import (
	"encoding/json"
	"time"
)

// Entry represents a cached payload.
type Entry struct {
	// Key is the cache key string the entry was stored under
	Key string `json:"key"`

	// Payload is the serialized value
	Payload json.RawMessage `json:"payload"`

	// CreatedAt is when the entry was written
	CreatedAt time.Time `json:"created_at"`

	// TTLSeconds is the lifetime of the entry (>= 0)
	TTLSeconds int `json:"ttl_seconds"`
}

// NewEntry builds an entry created at now. Sub-second TTL remainders are dropped.
func NewEntry(key string, payload []byte, ttl time.Duration, now time.Time) *Entry {
	seconds := int(ttl / time.Second)
	if seconds < 0 {
		seconds = 0
	}
	return &Entry{
		Key:        key,
		Payload:    payload,
		CreatedAt:  now,
		TTLSeconds: seconds,
	}
}

// ExpiresAt returns the instant the entry stops being served.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(time.Duration(e.TTLSeconds) * time.Second)
}

// IsExpired returns true once the elapsed time since creation reaches the TTL.
func (e *Entry) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt())
}

// TTL returns the time until expiration.
// Returns 0 if already expired.
func (e *Entry) TTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt().Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}
