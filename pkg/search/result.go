// Package search merges coin and creator-profile matches into one ranked list.
package search

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Kind tells coin and profile results apart.
type Kind string

const (
	KindCoin    Kind = "coin"
	KindProfile Kind = "profile"
)

// Result is one entry of a ranked search response.
type Result struct {
	Kind              Kind    `json:"kind"`
	Address           string  `json:"address"`
	Name              string  `json:"name"`
	Symbol            string  `json:"symbol"`
	Image             string  `json:"image"`
	Volume24h         float64 `json:"volume24h"`
	TotalVolume       float64 `json:"totalVolume"`
	MarketCap         float64 `json:"marketCap"`
	MarketCapDelta24h float64 `json:"marketCapDelta24h"`
	Change24h         float64 `json:"change24h"`
}

// ParseNumber reads a numeric upstream field. Strings, JSON numbers and Go
// numeric types are accepted; anything missing, malformed or non-finite is 0.
func ParseNumber(v any) float64 {
	var f float64
	switch n := v.(type) {
	case nil:
		return 0
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0
		}
		f = parsed
	default:
		return 0
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// Change24h returns the 24h market cap change in percent. It is 0 when the
// market cap or the delta is 0, or when the previous market cap would be 0.
func Change24h(marketCap, delta float64) float64 {
	if marketCap == 0 || delta == 0 {
		return 0
	}
	previous := marketCap - delta
	if previous == 0 {
		return 0
	}
	return delta / previous * 100
}
