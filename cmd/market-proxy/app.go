package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/cache"
	"github.com/Sternrassler/coin-market-cache/pkg/config"
	"github.com/Sternrassler/coin-market-cache/pkg/history"
	"github.com/Sternrassler/coin-market-cache/pkg/logging"
	"github.com/Sternrassler/coin-market-cache/pkg/market"
	"github.com/Sternrassler/coin-market-cache/pkg/pricing"
	"github.com/Sternrassler/coin-market-cache/pkg/ratelimit"
	"github.com/Sternrassler/coin-market-cache/pkg/search"
	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// connectTimeout bounds the startup reachability check of a shared backend.
const connectTimeout = 3 * time.Second

// app holds the wired components.
type app struct {
	store    *cache.Manager
	market   *market.Service
	resolver *pricing.Resolver
	tracker  *ratelimit.Tracker
	closers  []func()
}

// Close releases backend connections.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires the cache, upstream clients and market service from cfg.
func buildApp(ctx context.Context, cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	backend, closeBackend := openBackend(ctx, cfg.Cache, logger)
	if closeBackend != nil {
		a.closers = append(a.closers, closeBackend)
	}
	a.store = cache.NewManager(backend, cfg.Cache.DefaultTTL.Std(), logging.Component(logger, "cache"))

	tracker := ratelimit.NewTracker(a.store, logging.Component(logger, "ratelimit"))
	a.tracker = tracker

	dataClient := func(name, baseURL string) (*upstream.Client, error) {
		c := upstream.DefaultConfig(name, baseURL)
		c.Timeout = cfg.Upstream.Timeout.Std()
		c.UserAgent = cfg.Upstream.UserAgent
		c.Gate = tracker
		return upstream.New(c, logger)
	}

	poolClient, err := dataClient("pools", cfg.Upstream.PoolURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	seriesClient, err := dataClient("series", cfg.Upstream.SeriesURL)
	if err != nil {
		a.Close()
		return nil, err
	}
	searchClient, err := dataClient("search", cfg.Upstream.SearchURL)
	if err != nil {
		a.Close()
		return nil, err
	}

	sources := make([]pricing.Source, 0, len(cfg.Quote.Sources))
	for _, sc := range cfg.Quote.Sources {
		c := upstream.DefaultConfig(sc.Name, sc.URL)
		c.Timeout = cfg.Quote.Timeout.Std()
		c.UserAgent = cfg.Upstream.UserAgent
		c.Retry = upstream.NoRetry()
		c.Gate = tracker
		client, err := upstream.New(c, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		source, err := pricing.NewSource(sc.Name, client, cfg.Quote.Asset)
		if err != nil {
			a.Close()
			return nil, err
		}
		sources = append(sources, source)
	}
	a.resolver = pricing.NewResolver(sources, logging.Component(logger, "pricing"),
		pricing.WithTimeout(cfg.Quote.Timeout.Std()))

	a.market, err = market.New(market.Deps{
		Store:    a.store,
		Pools:    history.NewPoolSource(poolClient),
		Series:   history.NewCoinSource(seriesClient),
		Resolver: a.resolver,
		Searcher: search.NewService(searchClient, cfg.Upstream.Timeout.Std(), logging.Component(logger, "search")),
	}, market.Config{
		DefaultNetwork:       cfg.Market.DefaultNetwork,
		DefaultChainID:       cfg.Market.DefaultChainID,
		StaticReferencePrice: cfg.Quote.StaticReferencePrice,
		Coalesce:             cfg.Market.Coalesce,
	}, logging.Component(logger, "market"))
	if err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// openBackend returns the configured backend, or the in-process backend when
// the shared one is unreachable.
func openBackend(ctx context.Context, cfg config.CacheConfig, logger zerolog.Logger) (cache.Backend, func()) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	switch cfg.Backend {
	case config.BackendRedis:
		opts, err := redisOptions(cfg.RedisURL, cfg.RedisDB)
		if err != nil {
			logger.Warn().Err(err).Msg("Invalid Redis address, falling back to in-memory cache")
			return cache.NewMemoryBackend(), nil
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			logger.Warn().Err(err).Str("addr", opts.Addr).Msg("Redis unreachable, falling back to in-memory cache")
			return cache.NewMemoryBackend(), nil
		}
		logger.Info().Str("addr", opts.Addr).Msg("Using Redis cache")
		return cache.NewRedisBackend(client), func() { _ = client.Close() }

	case config.BackendPostgres:
		backend, err := cache.NewPostgresBackend(ctx, cfg.PostgresDSN)
		if err != nil {
			logger.Warn().Err(err).Msg("Postgres unreachable, falling back to in-memory cache")
			return cache.NewMemoryBackend(), nil
		}
		logger.Info().Msg("Using Postgres cache")
		return backend, backend.Close

	default:
		logger.Info().Msg("Using in-memory cache")
		return cache.NewMemoryBackend(), nil
	}
}

// redisOptions accepts either a redis:// URL or a bare host:port.
func redisOptions(raw string, db int) (*redis.Options, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("redis address is empty")
	}
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if db > 0 {
			opts.DB = db
		}
		return opts, nil
	}
	return &redis.Options{Addr: raw, DB: db}, nil
}
