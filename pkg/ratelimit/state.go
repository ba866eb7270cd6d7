// Package ratelimit tracks per-upstream cooldowns after a provider answers
// 429 Too Many Requests. Cooldown state lives in the cache store so every
// proxy instance sharing a Redis or Postgres backend honors it.
package ratelimit

import (
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/cache"
)

// Cooldown bounds.
const (
	// DefaultCooldown applies when the provider sent no usable Retry-After.
	DefaultCooldown = 60 * time.Second

	// MaxCooldown caps what a provider can ask for.
	MaxCooldown = 15 * time.Minute
)

// CooldownKey returns the cache key holding an upstream's cooldown state.
func CooldownKey(upstream string) string {
	return cache.Key{
		Namespace: "cooldown",
		Params:    map[string]string{"upstream": upstream},
	}.String()
}

// CooldownState records that an upstream must not be called until Until.
type CooldownState struct {
	// Upstream is the provider name as used in metrics and logs.
	Upstream string `json:"upstream"`

	// TrippedAt is when the 429 was observed.
	TrippedAt time.Time `json:"tripped_at"`

	// Until is the first instant calls are allowed again.
	Until time.Time `json:"until"`
}

// Active reports whether calls are still suppressed at now.
func (s *CooldownState) Active(now time.Time) bool {
	return now.Before(s.Until)
}

// Remaining returns the duration until the cooldown lifts.
// Returns 0 if it already has.
func (s *CooldownState) Remaining(now time.Time) time.Duration {
	d := s.Until.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// normalizeCooldown applies the default and the cap, rounding up to whole
// seconds because cache TTLs are stored in seconds.
func normalizeCooldown(d time.Duration) time.Duration {
	if d <= 0 {
		d = DefaultCooldown
	}
	if d > MaxCooldown {
		d = MaxCooldown
	}
	if rem := d % time.Second; rem != 0 {
		d += time.Second - rem
	}
	return d
}
