// Package market answers the exposed market data operations. Every operation
// derives a cache key, serves a stored payload when present and otherwise
// runs its component, stores the result with the component's TTL and
// returns it.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/cache"
	"github.com/Sternrassler/coin-market-cache/pkg/history"
	"github.com/Sternrassler/coin-market-cache/pkg/pricing"
	"github.com/Sternrassler/coin-market-cache/pkg/search"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var marketRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "market_requests_total",
	Help: "Market operations by operation and outcome (hit, miss, not_found, fallback, error)",
}, []string{"operation", "outcome"})

// Defaults applied to requests that leave a parameter out.
const (
	DefaultNetwork = "base"
	DefaultChainID = "8453"
)

// PoolFetcher returns a raw pool chart. *history.PoolSource satisfies it.
type PoolFetcher interface {
	Fetch(ctx context.Context, q history.PoolQuery) (history.PoolSeries, error)
}

// SeriesFetcher returns a raw coin series. *history.CoinSource satisfies it.
type SeriesFetcher interface {
	Fetch(ctx context.Context, chainID, address string, tf history.Timeframe) ([]history.PricePoint, error)
}

// QuoteResolver resolves the live reference quote. *pricing.Resolver satisfies it.
type QuoteResolver interface {
	Resolve(ctx context.Context) (pricing.Quote, error)
}

// Searcher returns ranked search results. *search.Service satisfies it.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.Result, error)
}

var (
	_ PoolFetcher   = (*history.PoolSource)(nil)
	_ SeriesFetcher = (*history.CoinSource)(nil)
	_ QuoteResolver = (*pricing.Resolver)(nil)
	_ Searcher      = (*search.Service)(nil)
)

// Deps are the components the service orchestrates.
type Deps struct {
	Store    cache.Store
	Pools    PoolFetcher
	Series   SeriesFetcher
	Resolver QuoteResolver
	Searcher Searcher
}

// Config holds service behavior switches.
type Config struct {
	// DefaultNetwork is used when chart-data names no network.
	DefaultNetwork string

	// DefaultChainID is used when price-history names no chain.
	DefaultChainID string

	// StaticReferencePrice is the last-resort live price. Zero disables it.
	StaticReferencePrice float64

	// Coalesce collapses concurrent misses on one key into a single computation.
	Coalesce bool
}

// DefaultConfig returns the service defaults.
func DefaultConfig() Config {
	return Config{
		DefaultNetwork: DefaultNetwork,
		DefaultChainID: DefaultChainID,
	}
}

// Service implements the market data operations.
type Service struct {
	deps   Deps
	config Config
	group  singleflight.Group
	logger zerolog.Logger
	now    func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates a market service. Every dependency is required.
func New(deps Deps, cfg Config, logger zerolog.Logger, opts ...Option) (*Service, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("cache store is required")
	case deps.Pools == nil:
		return nil, fmt.Errorf("pool chart source is required")
	case deps.Series == nil:
		return nil, fmt.Errorf("coin series source is required")
	case deps.Resolver == nil:
		return nil, fmt.Errorf("quote resolver is required")
	case deps.Searcher == nil:
		return nil, fmt.Errorf("searcher is required")
	}
	if cfg.DefaultNetwork == "" {
		cfg.DefaultNetwork = DefaultNetwork
	}
	if cfg.DefaultChainID == "" {
		cfg.DefaultChainID = DefaultChainID
	}

	s := &Service{
		deps:   deps,
		config: cfg,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// load serves key from the store into out, or computes, stores and decodes it.
// It reports whether the payload came from the store. Compute errors, including
// history.ErrNotFound, are never stored.
func (s *Service) load(ctx context.Context, op, key string, ttl time.Duration, out any, compute func(context.Context) (any, error)) (bool, error) {
	if payload, ok := s.deps.Store.Get(ctx, key); ok {
		if err := json.Unmarshal(payload, out); err == nil {
			marketRequestsTotal.WithLabelValues(op, "hit").Inc()
			return true, nil
		}
		s.logger.Warn().Str("cache_key", key).Msg("Cached payload does not decode, recomputing")
	}

	produce := func() (any, error) {
		value, err := compute(ctx)
		if err != nil {
			return nil, err
		}
		payload, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", op, err)
		}
		s.deps.Store.Set(ctx, key, payload, ttl)
		return payload, nil
	}

	var (
		result any
		err    error
	)
	if s.config.Coalesce {
		result, err, _ = s.group.Do(key, produce)
	} else {
		result, err = produce()
	}
	if err != nil {
		return false, err
	}

	marketRequestsTotal.WithLabelValues(op, "miss").Inc()
	return false, json.Unmarshal(result.([]byte), out)
}

// ChartRequest selects a token chart from the pool chart service.
type ChartRequest struct {
	ContractAddress     string
	Network             string
	Timeframe           string
	PreferredBaseTokens []string
}

// ChartInfo describes the series behind a chart-data response.
type ChartInfo struct {
	Address   string            `json:"address"`
	Network   string            `json:"network"`
	Timeframe history.Timeframe `json:"timeframe"`
	Count     int               `json:"count"`
	Pool      history.Pool      `json:"pool"`
}

// ChartResponse is the chart-data contract.
type ChartResponse struct {
	Success   bool                 `json:"success"`
	Data      *ChartInfo           `json:"data"`
	ChartData []history.PricePoint `json:"chartData"`
	Cached    bool                 `json:"cached"`
	CacheKey  string               `json:"cacheKey"`
}

type chartPayload struct {
	Data      ChartInfo            `json:"data"`
	ChartData []history.PricePoint `json:"chartData"`
}

// ChartData returns a token's filtered pool chart.
func (s *Service) ChartData(ctx context.Context, req ChartRequest) (*ChartResponse, error) {
	const op = NamespaceChartData

	address := strings.TrimSpace(req.ContractAddress)
	if address == "" {
		return nil, invalid("contractAddress", "contractAddress es requerido")
	}
	tf, err := history.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, invalid("timeframe", fmt.Sprintf("timeframe inválido: %s", req.Timeframe))
	}
	network := strings.TrimSpace(req.Network)
	if network == "" {
		network = s.config.DefaultNetwork
	}
	preferred := cleanList(req.PreferredBaseTokens)

	now := s.now()
	key := ChartDataKey(address, network, tf, preferred, now)

	var payload chartPayload
	cached, err := s.load(ctx, op, key, tf.TTL(), &payload, func(ctx context.Context) (any, error) {
		raw, err := s.deps.Pools.Fetch(ctx, history.PoolQuery{
			Network:             network,
			Address:             address,
			Timeframe:           tf,
			PreferredBaseTokens: preferred,
		})
		if err != nil {
			return nil, err
		}
		series := history.Aggregate(raw.Points, tf, now)
		return chartPayload{
			Data: ChartInfo{
				Address:   address,
				Network:   network,
				Timeframe: tf,
				Count:     series.Count,
				Pool:      raw.Pool,
			},
			ChartData: series.Points,
		}, nil
	})
	if errors.Is(err, history.ErrNotFound) {
		marketRequestsTotal.WithLabelValues(op, "not_found").Inc()
		return &ChartResponse{Success: false, ChartData: []history.PricePoint{}, CacheKey: key}, nil
	}
	if err != nil {
		marketRequestsTotal.WithLabelValues(op, "error").Inc()
		s.logger.Error().Err(err).Str("cache_key", key).Msg("Chart data unavailable")
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	return &ChartResponse{
		Success:   true,
		Data:      &payload.Data,
		ChartData: nonNil(payload.ChartData),
		Cached:    cached,
		CacheKey:  key,
	}, nil
}

// PriceHistoryRequest selects a coin series.
type PriceHistoryRequest struct {
	Address   string
	ChainID   string
	Timeframe string
}

// PriceHistoryResponse is the price-history contract. ChartData is null
// when the coin has no series.
type PriceHistoryResponse struct {
	Success   bool                 `json:"success"`
	ChartData []history.PricePoint `json:"chartData"`
	Count     int                  `json:"count"`
	Timeframe history.Timeframe    `json:"timeframe"`
	Cached    bool                 `json:"cached"`
	CacheKey  string               `json:"cacheKey"`
}

// PriceHistory returns a coin's filtered price series.
func (s *Service) PriceHistory(ctx context.Context, req PriceHistoryRequest) (*PriceHistoryResponse, error) {
	const op = NamespacePriceHistory

	address := strings.TrimSpace(req.Address)
	if address == "" {
		return nil, invalid("address", "address es requerido")
	}
	tf, err := history.ParseTimeframe(req.Timeframe)
	if err != nil {
		return nil, invalid("timeframe", fmt.Sprintf("timeframe inválido: %s", req.Timeframe))
	}
	chainID := strings.TrimSpace(req.ChainID)
	if chainID == "" {
		chainID = s.config.DefaultChainID
	}

	now := s.now()
	key := PriceHistoryKey(address, chainID, tf, now)

	var series history.Series
	cached, err := s.load(ctx, op, key, tf.TTL(), &series, func(ctx context.Context) (any, error) {
		raw, err := s.deps.Series.Fetch(ctx, chainID, address, tf)
		if err != nil {
			return nil, err
		}
		return history.Aggregate(raw, tf, now), nil
	})
	if errors.Is(err, history.ErrNotFound) {
		marketRequestsTotal.WithLabelValues(op, "not_found").Inc()
		return &PriceHistoryResponse{Success: false, Timeframe: tf, CacheKey: key}, nil
	}
	if err != nil {
		marketRequestsTotal.WithLabelValues(op, "error").Inc()
		s.logger.Error().Err(err).Str("cache_key", key).Msg("Price history unavailable")
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}

	return &PriceHistoryResponse{
		Success:   true,
		ChartData: nonNil(series.Points),
		Count:     series.Count,
		Timeframe: series.Timeframe,
		Cached:    cached,
		CacheKey:  key,
	}, nil
}

// LivePrice is the live-reference-price contract.
type LivePrice struct {
	Price     float64   `json:"price"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceStatic names the configured last-resort price.
const SourceStatic = "static"

// LiveReferencePrice returns the reference quote. When every source fails it
// falls back to the last resolved quote (kept for 24h), then to the static
// price. ErrUpstreamUnavailable is returned only when all of those are absent.
func (s *Service) LiveReferencePrice(ctx context.Context) (*LivePrice, error) {
	const op = NamespaceLivePrice

	var quote pricing.Quote
	_, err := s.load(ctx, op, LivePriceKey(), cache.UseDefaultTTL, &quote, func(ctx context.Context) (any, error) {
		q, err := s.deps.Resolver.Resolve(ctx)
		if err != nil {
			return nil, err
		}
		if payload, err := json.Marshal(q); err == nil {
			s.deps.Store.Set(ctx, LastKnownPriceKey(), payload, LastKnownTTL)
		}
		return q, nil
	})
	if err == nil {
		return &LivePrice{Price: quote.Value, Source: quote.Source, Timestamp: quote.ObservedAt}, nil
	}

	if payload, ok := s.deps.Store.Get(ctx, LastKnownPriceKey()); ok {
		var last pricing.Quote
		if json.Unmarshal(payload, &last) == nil && pricing.IsValid(last.Value) {
			marketRequestsTotal.WithLabelValues(op, "fallback").Inc()
			s.logger.Warn().Err(err).Str("source", last.Source).Msg("Quote sources failed, serving last known price")
			return &LivePrice{Price: last.Value, Source: last.Source, Timestamp: last.ObservedAt}, nil
		}
	}

	if s.config.StaticReferencePrice > 0 {
		marketRequestsTotal.WithLabelValues(op, "fallback").Inc()
		s.logger.Warn().Err(err).Msg("Quote sources failed, serving static price")
		return &LivePrice{Price: s.config.StaticReferencePrice, Source: SourceStatic, Timestamp: s.now().UTC()}, nil
	}

	marketRequestsTotal.WithLabelValues(op, "error").Inc()
	s.logger.Error().Err(err).Msg("No live price available")
	return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
}

// SearchResponse is the search contract.
type SearchResponse struct {
	Tokens []search.Result `json:"tokens"`
}

// partialSearch carries results missing one collection out of load so they
// are returned without being stored.
type partialSearch struct {
	results []search.Result
	err     error
}

func (p *partialSearch) Error() string { return p.err.Error() }

func (p *partialSearch) Unwrap() error { return p.err }

// Search returns ranked results for query. Queries shorter than
// search.MinQueryLength yield an empty list. Results missing a collection
// are served but not cached.
func (s *Service) Search(ctx context.Context, query string) (*SearchResponse, error) {
	const op = NamespaceSearch

	if search.QueryTooShort(query) {
		return &SearchResponse{Tokens: []search.Result{}}, nil
	}

	var results []search.Result
	_, err := s.load(ctx, op, SearchKey(query), SearchTTL, &results, func(ctx context.Context) (any, error) {
		found, err := s.deps.Searcher.Search(ctx, query)
		if errors.Is(err, search.ErrPartial) {
			return nil, &partialSearch{results: found, err: err}
		}
		return found, err
	})

	var partial *partialSearch
	if errors.As(err, &partial) {
		marketRequestsTotal.WithLabelValues(op, "partial").Inc()
		return &SearchResponse{Tokens: nonNil(partial.results)}, nil
	}
	if err != nil {
		marketRequestsTotal.WithLabelValues(op, "error").Inc()
		s.logger.Error().Err(err).Str("query", query).Msg("Search unavailable")
		return nil, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	}
	return &SearchResponse{Tokens: nonNil(results)}, nil
}

// cleanList trims entries and drops empty ones, keeping order.
func cleanList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
