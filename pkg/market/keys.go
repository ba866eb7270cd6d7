package market

import (
	"strings"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/cache"
	"github.com/Sternrassler/coin-market-cache/pkg/history"
)

// Cache namespaces, one per exposed operation.
const (
	NamespaceChartData    = "chart-data"
	NamespacePriceHistory = "price-history"
	NamespaceLivePrice    = "live-reference-price"
	NamespaceSearch       = "search"
)

// Cache lifetimes not derived from a timeframe. The live quote uses the
// store's default TTL.
const (
	LastKnownTTL = 24 * time.Hour
	SearchTTL    = 2 * time.Minute
)

// dateFor pins once-daily timeframes to the UTC calendar day.
func dateFor(tf history.Timeframe, now time.Time) time.Time {
	if tf.DailyRefresh() {
		return now.UTC()
	}
	return time.Time{}
}

// ChartDataKey identifies a chart-data payload.
func ChartDataKey(address, network string, tf history.Timeframe, preferred []string, now time.Time) string {
	return cache.Key{
		Namespace: NamespaceChartData,
		Params: map[string]string{
			"address":   address,
			"network":   network,
			"timeframe": string(tf),
		},
		Lists: map[string][]string{"preferredBaseTokens": preferred},
		Date:  dateFor(tf, now),
	}.String()
}

// PriceHistoryKey identifies a price-history payload.
func PriceHistoryKey(address, chainID string, tf history.Timeframe, now time.Time) string {
	return cache.Key{
		Namespace: NamespacePriceHistory,
		Params: map[string]string{
			"address":   address,
			"chainId":   chainID,
			"timeframe": string(tf),
		},
		Date: dateFor(tf, now),
	}.String()
}

// LivePriceKey identifies the current reference quote.
func LivePriceKey() string {
	return cache.Key{Namespace: NamespaceLivePrice}.String()
}

// LastKnownPriceKey identifies the last successfully resolved quote.
func LastKnownPriceKey() string {
	return cache.Key{Namespace: NamespaceLivePrice + ":last-known"}.String()
}

// SearchKey identifies a ranked search payload. Ranking is case-insensitive
// on the query, so the key is too.
func SearchKey(query string) string {
	return cache.Key{
		Namespace: NamespaceSearch,
		Params:    map[string]string{"q": strings.ToLower(strings.TrimSpace(query))},
	}.String()
}
