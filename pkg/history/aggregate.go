package history

import (
	"math"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var historyPointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "market_history_points_total",
	Help: "Price points processed by aggregation result (kept, invalid, outside_window)",
}, []string{"result"})

// PricePoint is one OHLC sample. Time is unix seconds.
type PricePoint struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume,omitempty"`
}

// At returns the point time.
func (p PricePoint) At() time.Time {
	return time.Unix(p.Time, 0).UTC()
}

// Valid reports whether the close is a positive number.
func (p PricePoint) Valid() bool {
	return !math.IsNaN(p.Close) && p.Close > 0
}

// Series is the cached aggregation payload.
type Series struct {
	Points    []PricePoint `json:"points"`
	Count     int          `json:"count"`
	Timeframe Timeframe    `json:"timeframe"`
}

// Aggregate drops invalid points and those older than tf's cutoff at now.
// Input order is preserved and raw is not modified. Pure: the same inputs
// always yield the same series.
func Aggregate(raw []PricePoint, tf Timeframe, now time.Time) Series {
	cutoff, bounded := tf.Cutoff(now)

	points := make([]PricePoint, 0, len(raw))
	var invalid, outside int
	for _, p := range raw {
		if !p.Valid() {
			invalid++
			continue
		}
		if bounded && p.At().Before(cutoff) {
			outside++
			continue
		}
		points = append(points, p)
	}

	historyPointsTotal.WithLabelValues("kept").Add(float64(len(points)))
	historyPointsTotal.WithLabelValues("invalid").Add(float64(invalid))
	historyPointsTotal.WithLabelValues("outside_window").Add(float64(outside))

	return Series{
		Points:    points,
		Count:     len(points),
		Timeframe: tf,
	}
}
