package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/cache"
	"github.com/rs/zerolog"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestTracker() (*Tracker, *testClock) {
	clock := &testClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	backend := cache.NewMemoryBackend(cache.WithMemoryClock(clock.Now))
	manager := cache.NewManager(backend, time.Minute, zerolog.Nop(), cache.WithClock(clock.Now))
	return NewTracker(manager, zerolog.Nop(), WithClock(clock.Now)), clock
}

func TestNewTracker_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewTracker should panic with nil store")
		}
	}()
	NewTracker(nil, zerolog.Nop())
}

func TestTracker_AllowsWithoutState(t *testing.T) {
	tracker, _ := newTestTracker()

	if !tracker.ShouldAllowRequest(context.Background(), "coinbase") {
		t.Error("ShouldAllowRequest() = false with no cooldown")
	}
	if _, ok := tracker.GetState(context.Background(), "coinbase"); ok {
		t.Error("GetState() should report no cooldown")
	}
}

func TestTracker_TripBlocksUntilExpiry(t *testing.T) {
	tracker, clock := newTestTracker()
	ctx := context.Background()

	tracker.Trip(ctx, "kraken", 30*time.Second)

	if tracker.ShouldAllowRequest(ctx, "kraken") {
		t.Error("ShouldAllowRequest() = true during cooldown")
	}
	if !tracker.ShouldAllowRequest(ctx, "coinbase") {
		t.Error("cooldown must not leak to other upstreams")
	}

	state, ok := tracker.GetState(ctx, "kraken")
	if !ok {
		t.Fatal("GetState() should report the cooldown")
	}
	if state.Remaining(clock.Now()) != 30*time.Second {
		t.Errorf("Remaining() = %v, want 30s", state.Remaining(clock.Now()))
	}

	clock.Advance(29 * time.Second)
	if tracker.ShouldAllowRequest(ctx, "kraken") {
		t.Error("ShouldAllowRequest() = true before cooldown ends")
	}

	clock.Advance(time.Second)
	if !tracker.ShouldAllowRequest(ctx, "kraken") {
		t.Error("ShouldAllowRequest() = false after cooldown ends")
	}
}

func TestTracker_TripDefaultCooldown(t *testing.T) {
	tracker, clock := newTestTracker()
	ctx := context.Background()

	tracker.Trip(ctx, "coingecko", 0)

	clock.Advance(DefaultCooldown - time.Second)
	if tracker.ShouldAllowRequest(ctx, "coingecko") {
		t.Error("default cooldown ended early")
	}
	clock.Advance(time.Second)
	if !tracker.ShouldAllowRequest(ctx, "coingecko") {
		t.Error("default cooldown did not end")
	}
}

func TestTracker_RetripExtends(t *testing.T) {
	tracker, clock := newTestTracker()
	ctx := context.Background()

	tracker.Trip(ctx, "kraken", 10*time.Second)
	clock.Advance(5 * time.Second)
	tracker.Trip(ctx, "kraken", 10*time.Second)
	clock.Advance(6 * time.Second)

	if tracker.ShouldAllowRequest(ctx, "kraken") {
		t.Error("second trip should extend the cooldown")
	}
}

func TestTracker_Reset(t *testing.T) {
	tracker, _ := newTestTracker()
	ctx := context.Background()

	tracker.Trip(ctx, "coingecko", 10*time.Minute)
	tracker.Trip(ctx, "kraken", 10*time.Minute)
	tracker.Reset(ctx, "coingecko")

	if !tracker.ShouldAllowRequest(ctx, "coingecko") {
		t.Error("ShouldAllowRequest() = false after Reset")
	}
	if tracker.ShouldAllowRequest(ctx, "kraken") {
		t.Error("Reset must only lift the named upstream")
	}

	// Resetting an upstream without a cooldown is a no-op.
	tracker.Reset(ctx, "coinbase")
	if !tracker.ShouldAllowRequest(ctx, "coinbase") {
		t.Error("ShouldAllowRequest() = false for an upstream never tripped")
	}
}
