// Package cache provides the time-boxed key/value store that sits between
// request handlers and the upstream market data services.
//
// The package has three parts:
//
// - Key: deterministic cache keys built from every parameter that changes
// the payload (address, network, timeframe, preferred base tokens, and the
// calendar date for once-daily data)
// - Backend: a storage implementation (in-process map, Redis, Postgres)
// - Manager: the Store contract used by callers. Backend failures never
// reach the caller: a failed read is a miss, a failed write is logged.
//
// # Basic Usage
//
//	backend := cache.NewMemoryBackend()
//	manager := cache.NewManager(backend, 60*time.Second, logger)
//
//	key := cache.Key{
//		Namespace: "chart-data",
//		Params:    map[string]string{"address": "0xabc", "timeframe": "1D"},
//	}
//
//	var payload ChartPayload
//	if manager.GetJSON(ctx, key.String(), &payload) {
//		// cache hit
//	}
//
//	manager.SetJSON(ctx, key.String(), payload, 5*time.Minute)
//
// # Expiry
//
// Entries carry their creation time and TTL in seconds. An entry is absent
// once the elapsed time reaches its TTL. Expiry is checked lazily on read;
// there is no background sweeper. Redis additionally expires keys natively.
//
// # Concurrency
//
// There is no per-key locking and no request coalescing. Concurrent misses on
// the same key recompute independently and the last write wins.
//
// # Metrics
//
//   - market_cache_hits_total{layer} - Cache hits
//   - market_cache_misses_total{layer} - Cache misses (including expired entries)
//   - market_cache_errors_total{layer,operation} - Backend errors downgraded to misses
//   - market_cache_writes_total{layer} - Successful writes
package cache
