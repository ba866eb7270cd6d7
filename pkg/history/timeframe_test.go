package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeframe(t *testing.T) {
	tests := []struct {
		in      string
		want    Timeframe
		wantErr bool
	}{
		{in: "", want: Timeframe1D},
		{in: "1D", want: Timeframe1D},
		{in: "1w", want: Timeframe1W},
		{in: " 3M ", want: Timeframe3M},
		{in: "all", want: TimeframeAll},
		{in: "2D", wantErr: true},
		{in: "forever", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseTimeframe(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTimeframe)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTimeframe_Lookback(t *testing.T) {
	tests := []struct {
		tf      Timeframe
		want    time.Duration
		bounded bool
	}{
		{tf: Timeframe1D, want: 24 * time.Hour, bounded: true},
		{tf: Timeframe1W, want: 7 * 24 * time.Hour, bounded: true},
		{tf: Timeframe1M, want: 30 * 24 * time.Hour, bounded: true},
		{tf: Timeframe3M, want: 90 * 24 * time.Hour, bounded: true},
		{tf: Timeframe1Y, want: 365 * 24 * time.Hour, bounded: true},
		{tf: TimeframeAll, want: 0, bounded: false},
	}

	for _, tt := range tests {
		got, ok := tt.tf.Lookback()
		assert.Equal(t, tt.want, got, "%s lookback", tt.tf)
		assert.Equal(t, tt.bounded, ok, "%s bounded", tt.tf)
	}
}

func TestTimeframe_TTLMonotonic(t *testing.T) {
	all := Timeframes()
	for i := 1; i < len(all); i++ {
		assert.Greater(t, all[i].TTL(), all[i-1].TTL(), "%s TTL should exceed %s", all[i], all[i-1])
	}
	assert.Equal(t, 5*time.Minute, Timeframe1D.TTL())
	assert.Equal(t, 24*time.Hour, TimeframeAll.TTL())
}

func TestTimeframe_DailyRefresh(t *testing.T) {
	for _, tf := range Timeframes() {
		assert.Equal(t, tf == TimeframeAll, tf.DailyRefresh(), string(tf))
	}
}

func TestTimeframe_Valid(t *testing.T) {
	assert.True(t, Timeframe1Y.Valid())
	assert.False(t, Timeframe("5Y").Valid())
}
