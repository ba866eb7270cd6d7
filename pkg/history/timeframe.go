// Package history filters historical price series to a requested timeframe
// and fetches raw series from the pool chart and coin series upstreams.
package history

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Timeframe is a requested chart window.
type Timeframe string

// Supported timeframes.
const (
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
	Timeframe1M  Timeframe = "1M"
	Timeframe3M  Timeframe = "3M"
	Timeframe1Y  Timeframe = "1Y"
	TimeframeAll Timeframe = "ALL"
)

// DefaultTimeframe is used when a request names none.
const DefaultTimeframe = Timeframe1D

// ErrInvalidTimeframe is returned for names outside the supported set.
var ErrInvalidTimeframe = errors.New("invalid timeframe")

const day = 24 * time.Hour

type timeframeSpec struct {
	lookback time.Duration // 0 means unbounded
	ttl      time.Duration
	period   string // ohlcv period on the pool chart service
	agg      int
	limit    int
}

// TTLs grow with the window: longer windows change more slowly.
var timeframeSpecs = map[Timeframe]timeframeSpec{
	Timeframe1D:  {lookback: day, ttl: 5 * time.Minute, period: "minute", agg: 15, limit: 96},
	Timeframe1W:  {lookback: 7 * day, ttl: 15 * time.Minute, period: "hour", agg: 1, limit: 168},
	Timeframe1M:  {lookback: 30 * day, ttl: time.Hour, period: "hour", agg: 4, limit: 180},
	Timeframe3M:  {lookback: 90 * day, ttl: 3 * time.Hour, period: "day", agg: 1, limit: 90},
	Timeframe1Y:  {lookback: 365 * day, ttl: 12 * time.Hour, period: "day", agg: 1, limit: 365},
	TimeframeAll: {lookback: 0, ttl: 24 * time.Hour, period: "day", agg: 1, limit: 1000},
}

// Timeframes returns every supported timeframe, shortest first.
func Timeframes() []Timeframe {
	return []Timeframe{Timeframe1D, Timeframe1W, Timeframe1M, Timeframe3M, Timeframe1Y, TimeframeAll}
}

// ParseTimeframe parses a timeframe name case-insensitively.
// An empty name yields DefaultTimeframe.
func ParseTimeframe(s string) (Timeframe, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return DefaultTimeframe, nil
	}
	tf := Timeframe(s)
	if _, ok := timeframeSpecs[tf]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidTimeframe, s)
	}
	return tf, nil
}

// Valid reports whether tf is supported.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeSpecs[tf]
	return ok
}

// Lookback returns the window length. ok is false for ALL.
func (tf Timeframe) Lookback() (d time.Duration, ok bool) {
	spec := timeframeSpecs[tf]
	return spec.lookback, spec.lookback > 0
}

// TTL returns how long an aggregated series for tf may be cached.
func (tf Timeframe) TTL() time.Duration {
	if spec, ok := timeframeSpecs[tf]; ok {
		return spec.ttl
	}
	return timeframeSpecs[DefaultTimeframe].ttl
}

// DailyRefresh reports whether cached series are pinned to the calendar day.
func (tf Timeframe) DailyRefresh() bool {
	return tf == TimeframeAll
}

// Cutoff returns the earliest point time kept at now. ok is false for ALL.
func (tf Timeframe) Cutoff(now time.Time) (time.Time, bool) {
	lookback, ok := tf.Lookback()
	if !ok {
		return time.Time{}, false
	}
	return now.Add(-lookback), true
}

// ohlcv returns the pool chart service parameters for tf.
func (tf Timeframe) ohlcv() (period string, aggregate, limit int) {
	spec, ok := timeframeSpecs[tf]
	if !ok {
		spec = timeframeSpecs[DefaultTimeframe]
	}
	return spec.period, spec.agg, spec.limit
}
