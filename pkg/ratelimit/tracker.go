package ratelimit

import (
	"context"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/cache"
	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for cooldown tracking.
var (
	rateLimitCooldownsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_rate_limit_cooldowns_total",
		Help: "Total number of cooldowns started after a 429, by upstream",
	}, []string{"upstream"})

	rateLimitBlocksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_rate_limit_blocks_total",
		Help: "Total number of upstream calls suppressed by an active cooldown",
	}, []string{"upstream"})

	rateLimitCooldownSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "market_rate_limit_cooldown_seconds",
		Help: "Length of the most recent cooldown by upstream",
	}, []string{"upstream"})
)

// StateStore persists cooldown state. *cache.Manager satisfies it.
type StateStore interface {
	GetJSON(ctx context.Context, key string, v any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration)
	Delete(ctx context.Context, key string)
}

var (
	_ StateStore    = (*cache.Manager)(nil)
	_ upstream.Gate = (*Tracker)(nil)
)

// Tracker gates upstream calls on stored cooldown state.
type Tracker struct {
	store  StateStore
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the tracker's clock.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a new cooldown tracker.
func NewTracker(store StateStore, logger zerolog.Logger, opts ...Option) *Tracker {
	if store == nil {
		panic("ratelimit state store cannot be nil")
	}
	t := &Tracker{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// GetState returns the active cooldown for an upstream, if any.
func (t *Tracker) GetState(ctx context.Context, name string) (*CooldownState, bool) {
	var state CooldownState
	if !t.store.GetJSON(ctx, CooldownKey(name), &state) {
		return nil, false
	}
	if !state.Active(t.now()) {
		return nil, false
	}
	return &state, true
}

// Trip starts a cooldown of retryAfter (normalized) for an upstream.
func (t *Tracker) Trip(ctx context.Context, name string, retryAfter time.Duration) {
	cooldown := normalizeCooldown(retryAfter)
	now := t.now()

	state := CooldownState{
		Upstream:  name,
		TrippedAt: now,
		Until:     now.Add(cooldown),
	}
	t.store.SetJSON(ctx, CooldownKey(name), state, cooldown)

	rateLimitCooldownsTotal.WithLabelValues(name).Inc()
	rateLimitCooldownSeconds.WithLabelValues(name).Set(cooldown.Seconds())

	t.logger.Warn().
		Str("upstream", name).
		Dur("cooldown", cooldown).
		Time("until", state.Until).
		Msg("Upstream rate limited us, cooling down")
}

// ShouldAllowRequest reports whether an upstream may be called now.
func (t *Tracker) ShouldAllowRequest(ctx context.Context, name string) bool {
	state, active := t.GetState(ctx, name)
	if !active {
		return true
	}

	rateLimitBlocksTotal.WithLabelValues(name).Inc()
	t.logger.Debug().
		Str("upstream", name).
		Dur("remaining", state.Remaining(t.now())).
		Msg("Upstream call suppressed by cooldown")
	return false
}

// Reset lifts an upstream's cooldown before it expires.
func (t *Tracker) Reset(ctx context.Context, name string) {
	t.store.Delete(ctx, CooldownKey(name))
	rateLimitCooldownSeconds.WithLabelValues(name).Set(0)
	t.logger.Info().Str("upstream", name).Msg("Cooldown reset")
}
