package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// fakeClock is a manually advanced clock shared by manager and backend.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// failingBackend fails every operation.
type failingBackend struct {
	err  error
	sets int
}

func (f *failingBackend) Name() string { return "failing" }
func (f *failingBackend) Get(context.Context, string) (*Entry, error) {
	return nil, f.err
}
func (f *failingBackend) Set(context.Context, *Entry) error {
	f.sets++
	return f.err
}
func (f *failingBackend) Delete(context.Context, string) error { return f.err }
func (f *failingBackend) Ping(context.Context) error           { return f.err }

func newTestManager(clock *fakeClock) (*Manager, *MemoryBackend) {
	backend := NewMemoryBackend(WithMemoryClock(clock.Now))
	return NewManager(backend, time.Minute, zerolog.Nop(), WithClock(clock.Now)), backend
}

func TestNewManager_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewManager should panic with nil backend")
		}
	}()
	NewManager(nil, time.Minute, zerolog.Nop())
}

func TestManager_SetAndGet_WithinTTL(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`{"price":3000}`), 10*time.Second)

	for _, elapsed := range []time.Duration{0, 5 * time.Second, 9*time.Second + 999*time.Millisecond} {
		clock.Advance(elapsed)
		got, ok := manager.Get(ctx, "k")
		clock.Advance(-elapsed)

		if !ok {
			t.Fatalf("Get() after %v = miss, want hit", elapsed)
		}
		if string(got) != `{"price":3000}` {
			t.Errorf("Get() after %v = %s, want original payload", elapsed, got)
		}
	}
}

func TestManager_Get_ExpiresAtTTL(t *testing.T) {
	clock := newFakeClock()
	manager, backend := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`"v"`), 10*time.Second)

	clock.Advance(9 * time.Second)
	if _, ok := manager.Get(ctx, "k"); !ok {
		t.Fatal("entry should still be served before ttl")
	}

	clock.Advance(time.Second)
	if _, ok := manager.Get(ctx, "k"); ok {
		t.Error("entry should be absent once elapsed time reaches ttl")
	}

	// Lazy expiry removed it on read.
	if backend.Len() != 0 {
		t.Errorf("backend Len() = %d, want 0 after expired read", backend.Len())
	}
}

func TestManager_Set_ZeroTTLNeverServed(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`1`), 0)

	if _, ok := manager.Get(ctx, "k"); ok {
		t.Error("entry with zero ttl should be absent immediately")
	}
	clock.Advance(30 * time.Second)
	if _, ok := manager.Get(ctx, "k"); ok {
		t.Error("entry with zero ttl should be absent 30s later")
	}
}

func TestManager_Set_DefaultTTL(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`1`), UseDefaultTTL)

	clock.Advance(59 * time.Second)
	if _, ok := manager.Get(ctx, "k"); !ok {
		t.Fatal("entry with default ttl should be served before one minute")
	}
	clock.Advance(time.Second)
	if _, ok := manager.Get(ctx, "k"); ok {
		t.Error("entry with default ttl should expire after one minute")
	}
}

func TestManager_LastWriteWins(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`"first"`), time.Minute)
	manager.Set(ctx, "k", []byte(`"second"`), time.Minute)

	got, ok := manager.Get(ctx, "k")
	if !ok || string(got) != `"second"` {
		t.Errorf("Get() = %s, %v, want \"second\", true", got, ok)
	}
}

func TestManager_JSONRoundTrip(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	type payload struct {
		Price  float64 `json:"price"`
		Source string  `json:"source"`
	}

	manager.SetJSON(ctx, "quote", payload{Price: 3000, Source: "coinbase"}, time.Minute)

	var got payload
	if !manager.GetJSON(ctx, "quote", &got) {
		t.Fatal("GetJSON() = miss, want hit")
	}
	if got.Price != 3000 || got.Source != "coinbase" {
		t.Errorf("GetJSON() = %+v", got)
	}
}

func TestManager_GetJSON_CorruptPayloadIsMiss(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`not json`), time.Minute)

	var v map[string]any
	if manager.GetJSON(ctx, "k", &v) {
		t.Error("GetJSON() on corrupt payload should be a miss")
	}
}

func TestManager_BackendErrorsAreSwallowed(t *testing.T) {
	backend := &failingBackend{err: errors.New("connection refused")}
	manager := NewManager(backend, time.Minute, zerolog.Nop())
	ctx := context.Background()

	if _, ok := manager.Get(ctx, "k"); ok {
		t.Error("Get() with failing backend should be a miss")
	}

	// Must not panic or block.
	manager.Set(ctx, "k", []byte(`1`), time.Minute)
	manager.SetJSON(ctx, "k", map[string]int{"a": 1}, time.Minute)
	manager.Delete(ctx, "k")

	if backend.sets != 2 {
		t.Errorf("backend Set calls = %d, want 2", backend.sets)
	}
	if err := manager.Ping(ctx); err == nil {
		t.Error("Ping() should surface the backend error")
	}
}

func TestManager_SetJSON_UnencodableValue(t *testing.T) {
	backend := &failingBackend{}
	manager := NewManager(backend, time.Minute, zerolog.Nop())

	manager.SetJSON(context.Background(), "k", make(chan int), time.Minute)

	if backend.sets != 0 {
		t.Errorf("backend Set calls = %d, want 0 for unencodable value", backend.sets)
	}
}

func TestManager_Delete(t *testing.T) {
	clock := newFakeClock()
	manager, _ := newTestManager(clock)
	ctx := context.Background()

	manager.Set(ctx, "k", []byte(`1`), time.Minute)
	manager.Delete(ctx, "k")

	if _, ok := manager.Get(ctx, "k"); ok {
		t.Error("Get() after Delete should be a miss")
	}
}

func TestManager_Layer(t *testing.T) {
	manager, _ := newTestManager(newFakeClock())
	if manager.Layer() != "memory" {
		t.Errorf("Layer() = %q, want memory", manager.Layer())
	}
}
