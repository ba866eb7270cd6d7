package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		ttl  int
		now  time.Time
		want bool
	}{
		{
			name: "fresh entry",
			ttl:  60,
			now:  created.Add(30 * time.Second),
			want: false,
		},
		{
			name: "one nanosecond before ttl",
			ttl:  60,
			now:  created.Add(60*time.Second - time.Nanosecond),
			want: false,
		},
		{
			name: "exactly at ttl",
			ttl:  60,
			now:  created.Add(60 * time.Second),
			want: true,
		},
		{
			name: "long expired",
			ttl:  60,
			now:  created.Add(time.Hour),
			want: true,
		},
		{
			name: "zero ttl is expired immediately",
			ttl:  0,
			now:  created,
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entry := &Entry{CreatedAt: created, TTLSeconds: tt.ttl}
			if got := entry.IsExpired(tt.now); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	created := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	entry := &Entry{CreatedAt: created, TTLSeconds: 300}

	if got := entry.TTL(created.Add(time.Minute)); got != 4*time.Minute {
		t.Errorf("TTL() = %v, want 4m", got)
	}
	if got := entry.TTL(created.Add(time.Hour)); got != 0 {
		t.Errorf("TTL() after expiry = %v, want 0", got)
	}
}

func TestNewEntry(t *testing.T) {
	now := time.Now()

	entry := NewEntry("k", []byte(`{"a":1}`), 90*time.Second+500*time.Millisecond, now)
	if entry.TTLSeconds != 90 {
		t.Errorf("TTLSeconds = %d, want 90", entry.TTLSeconds)
	}
	if !entry.CreatedAt.Equal(now) {
		t.Errorf("CreatedAt = %v, want %v", entry.CreatedAt, now)
	}

	negative := NewEntry("k", nil, -time.Second, now)
	if negative.TTLSeconds != 0 {
		t.Errorf("negative ttl TTLSeconds = %d, want 0", negative.TTLSeconds)
	}
}
