// Package metrics exposes the Prometheus registry shared by the market data
// packages. Metrics themselves are declared next to the code that updates
// them (cache, upstream, ratelimit, pricing, history, search, market) and
// registered through promauto.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package's promauto metrics land in.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads back what Registry collected.
var Gatherer = prometheus.DefaultGatherer

// Handler serves the gathered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - market_cache_hits_total{layer} (Counter): Fresh entries served, by backend (memory, redis, postgres)
//   - market_cache_misses_total{layer} (Counter): Misses, expired entries included
//   - market_cache_writes_total{layer} (Counter): Successful writes
//   - market_cache_errors_total{layer, operation} (Counter): Backend errors downgraded to a miss or a dropped write
//
// Upstream Metrics (pkg/upstream):
//   - upstream_requests_total{upstream, status} (Counter): Requests by upstream and HTTP status ("cooldown" when suppressed)
//   - upstream_request_duration_seconds{upstream} (Histogram): Duration of one attempt
//   - upstream_errors_total{upstream, class} (Counter): Errors by class (client, server, rate_limit, network, protocol)
//   - upstream_retries_total{upstream, error_class} (Counter): Retry attempts
//   - upstream_retry_exhausted_total{upstream, error_class} (Counter): Requests that used every attempt
//
// Rate Limit Metrics (pkg/ratelimit):
//   - market_rate_limit_cooldowns_total{upstream} (Counter): Cooldowns started after a 429
//   - market_rate_limit_blocks_total{upstream} (Counter): Calls suppressed during a cooldown
//   - market_rate_limit_cooldown_seconds{upstream} (Gauge): Length of the latest cooldown
//
// Quote Metrics (pkg/pricing):
//   - market_quote_resolutions_total{source} (Counter): Resolutions answered by each source
//   - market_quote_source_failures_total{source, reason} (Counter): Sources skipped, by reason
//   - market_quote_resolution_failures_total (Counter): Resolutions where every source failed
//
// Market Metrics (pkg/history, pkg/search, pkg/market):
//   - market_history_points_total{result} (Counter): Raw points kept or dropped by aggregation
//   - market_search_collection_failures_total{collection} (Counter): Failed coin or profile lookups
//   - market_requests_total{operation, outcome} (Counter): Operation outcomes (hit, miss, not_found, error, ...)
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(market_cache_hits_total[5m])) /
//   (sum(rate(market_cache_hits_total[5m])) + sum(rate(market_cache_misses_total[5m])))
//
//   # Quote source failure rate
//   sum by (source) (rate(market_quote_source_failures_total[5m]))
//
//   # Upstreams cooling down
//   increase(market_rate_limit_cooldowns_total[15m]) > 0
//
//   # P95 upstream latency
//   histogram_quantile(0.95, sum by (le, upstream) (rate(upstream_request_duration_seconds_bucket[5m])))
