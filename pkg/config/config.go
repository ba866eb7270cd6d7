// Package config loads the service configuration: defaults, then an optional
// JSON file, then environment variables, then validation.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Cache backends.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// Duration is a time.Duration read from JSON as "5s" or as a number of seconds.
type Duration time.Duration

// MarshalJSON writes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts "1m30s" or 90.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		parsed, err := parseDuration(s)
		if err != nil {
			return err
		}
		*d = Duration(parsed)
		return nil
	}
	var seconds float64
	if err := json.Unmarshal(b, &seconds); err != nil {
		return fmt.Errorf("duration must be a string or a number of seconds: %s", b)
	}
	*d = Duration(time.Duration(seconds * float64(time.Second)))
	return nil
}

// Std returns the duration as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config represents the service configuration.
type Config struct {
	ListenAddr string         `json:"listenAddr"`
	Log        LogConfig      `json:"log"`
	Cache      CacheConfig    `json:"cache"`
	Quote      QuoteConfig    `json:"quote"`
	Upstream   UpstreamConfig `json:"upstream"`
	Market     MarketConfig   `json:"market"`
}

// LogConfig controls logging output.
type LogConfig struct {
	Level  string `json:"level"`
	Pretty bool   `json:"pretty"`
}

// CacheConfig selects and configures the cache backend.
type CacheConfig struct {
	Backend     string   `json:"backend"`
	DefaultTTL  Duration `json:"defaultTTL"`
	RedisURL    string   `json:"redisURL,omitempty"`
	RedisDB     int      `json:"redisDB"`
	PostgresDSN string   `json:"postgresDSN,omitempty"`
}

// SourceConfig names one quote source and where it lives.
type SourceConfig struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// QuoteConfig configures the live reference price.
type QuoteConfig struct {
	// Sources are tried in this order.
	Sources              []SourceConfig `json:"sources"`
	Asset                string         `json:"asset"`
	Timeout              Duration       `json:"timeout"`
	StaticReferencePrice float64        `json:"staticReferencePrice"`
}

// UpstreamConfig locates the market data services.
type UpstreamConfig struct {
	PoolURL   string   `json:"poolURL"`
	SeriesURL string   `json:"seriesURL"`
	SearchURL string   `json:"searchURL"`
	Timeout   Duration `json:"timeout"`
	UserAgent string   `json:"userAgent"`
}

// MarketConfig holds request defaults and behavior switches.
type MarketConfig struct {
	DefaultNetwork string `json:"defaultNetwork"`
	DefaultChainID string `json:"defaultChainId"`
	Coalesce       bool   `json:"coalesce"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	return Config{
		ListenAddr: ":8080",
		Log: LogConfig{
			Level: "info",
		},
		Cache: CacheConfig{
			Backend:    BackendMemory,
			DefaultTTL: Duration(60 * time.Second),
			RedisURL:   "localhost:6379",
		},
		Quote: QuoteConfig{
			Sources: []SourceConfig{
				{Name: "coinbase", URL: "https://api.coinbase.com"},
				{Name: "kraken", URL: "https://api.kraken.com"},
				{Name: "coingecko", URL: "https://api.coingecko.com"},
			},
			Asset:   "ETH",
			Timeout: Duration(5 * time.Second),
		},
		Upstream: UpstreamConfig{
			PoolURL:   "https://api.geckoterminal.com/api/v2",
			SeriesURL: "http://localhost:4000",
			SearchURL: "http://localhost:4000",
			Timeout:   Duration(10 * time.Second),
			UserAgent: "coin-market-cache/1.0",
		},
		Market: MarketConfig{
			DefaultNetwork: "base",
			DefaultChainID: "8453",
		},
	}
}

// LoadFile reads a JSON config file. An empty path yields a zero Config.
func LoadFile(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// Load builds the effective config by merging: defaults <- file <- env,
// then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	fileCfg, err := LoadFile(path)
	if err != nil {
		return Config{}, err
	}
	mergeFile(&cfg, fileCfg)

	if err := mergeEnv(&cfg, os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(dst *Config, src Config) {
	if src.ListenAddr != "" {
		dst.ListenAddr = src.ListenAddr
	}
	if src.Log.Level != "" {
		dst.Log.Level = src.Log.Level
	}
	dst.Log.Pretty = src.Log.Pretty || dst.Log.Pretty

	if src.Cache.Backend != "" {
		dst.Cache.Backend = src.Cache.Backend
	}
	if src.Cache.DefaultTTL > 0 {
		dst.Cache.DefaultTTL = src.Cache.DefaultTTL
	}
	if src.Cache.RedisURL != "" {
		dst.Cache.RedisURL = src.Cache.RedisURL
	}
	if src.Cache.RedisDB > 0 {
		dst.Cache.RedisDB = src.Cache.RedisDB
	}
	if src.Cache.PostgresDSN != "" {
		dst.Cache.PostgresDSN = src.Cache.PostgresDSN
	}

	if len(src.Quote.Sources) > 0 {
		dst.Quote.Sources = src.Quote.Sources
	}
	if src.Quote.Asset != "" {
		dst.Quote.Asset = src.Quote.Asset
	}
	if src.Quote.Timeout > 0 {
		dst.Quote.Timeout = src.Quote.Timeout
	}
	if src.Quote.StaticReferencePrice > 0 {
		dst.Quote.StaticReferencePrice = src.Quote.StaticReferencePrice
	}

	if src.Upstream.PoolURL != "" {
		dst.Upstream.PoolURL = src.Upstream.PoolURL
	}
	if src.Upstream.SeriesURL != "" {
		dst.Upstream.SeriesURL = src.Upstream.SeriesURL
	}
	if src.Upstream.SearchURL != "" {
		dst.Upstream.SearchURL = src.Upstream.SearchURL
	}
	if src.Upstream.Timeout > 0 {
		dst.Upstream.Timeout = src.Upstream.Timeout
	}
	if src.Upstream.UserAgent != "" {
		dst.Upstream.UserAgent = src.Upstream.UserAgent
	}

	if src.Market.DefaultNetwork != "" {
		dst.Market.DefaultNetwork = src.Market.DefaultNetwork
	}
	if src.Market.DefaultChainID != "" {
		dst.Market.DefaultChainID = src.Market.DefaultChainID
	}
	// A JSON false is indistinguishable from unset; the file can only enable.
	dst.Market.Coalesce = src.Market.Coalesce || dst.Market.Coalesce
}

// lookupFunc matches os.LookupEnv.
type lookupFunc func(key string) (string, bool)

func mergeEnv(cfg *Config, lookup lookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}
		return strings.TrimSpace(v), true
	}

	var errs []error
	if v, ok := get("LISTEN_ADDR"); ok {
		cfg.ListenAddr = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("LOG_PRETTY"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("LOG_PRETTY must be a boolean: %w", err))
		}
		cfg.Log.Pretty = b
	}

	if v, ok := get("CACHE_BACKEND"); ok {
		cfg.Cache.Backend = strings.ToLower(v)
	}
	if v, ok := get("CACHE_DEFAULT_TTL"); ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CACHE_DEFAULT_TTL: %w", err))
		}
		cfg.Cache.DefaultTTL = Duration(d)
	}
	if v, ok := get("REDIS_URL"); ok {
		cfg.Cache.RedisURL = v
	}
	if v, ok := get("REDIS_DB"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("REDIS_DB must be an integer: %w", err))
		}
		cfg.Cache.RedisDB = n
	}
	if v, ok := get("POSTGRES_DSN"); ok {
		cfg.Cache.PostgresDSN = v
	}

	if v, ok := get("QUOTE_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("QUOTE_TIMEOUT: %w", err))
		}
		cfg.Quote.Timeout = Duration(d)
	}
	if v, ok := get("QUOTE_ASSET"); ok {
		cfg.Quote.Asset = v
	}
	if v, ok := get("QUOTE_SOURCES"); ok {
		cfg.Quote.Sources = reorderSources(cfg.Quote.Sources, strings.Split(v, ","))
	}
	if v, ok := get("STATIC_REFERENCE_PRICE"); ok {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("STATIC_REFERENCE_PRICE must be a number: %w", err))
		}
		cfg.Quote.StaticReferencePrice = f
	}

	if v, ok := get("POOL_API_URL"); ok {
		cfg.Upstream.PoolURL = v
	}
	if v, ok := get("SERIES_API_URL"); ok {
		cfg.Upstream.SeriesURL = v
	}
	if v, ok := get("SEARCH_API_URL"); ok {
		cfg.Upstream.SearchURL = v
	}
	if v, ok := get("UPSTREAM_TIMEOUT"); ok {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("UPSTREAM_TIMEOUT: %w", err))
		}
		cfg.Upstream.Timeout = Duration(d)
	}

	if v, ok := get("MARKET_COALESCE"); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("MARKET_COALESCE must be a boolean: %w", err))
		}
		cfg.Market.Coalesce = b
	}

	return errors.Join(errs...)
}

// reorderSources keeps the named sources in the given order. Names without a
// configured URL fall back to a default source of the same name.
func reorderSources(configured []SourceConfig, names []string) []SourceConfig {
	byName := make(map[string]SourceConfig, len(configured))
	for _, s := range Default().Quote.Sources {
		byName[s.Name] = s
	}
	for _, s := range configured {
		byName[s.Name] = s
	}

	out := make([]SourceConfig, 0, len(names))
	for _, name := range names {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		if s, ok := byName[name]; ok {
			out = append(out, s)
		} else {
			out = append(out, SourceConfig{Name: name})
		}
	}
	return out
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listenAddr is required"))
	}

	switch c.Cache.Backend {
	case BackendMemory:
	case BackendRedis:
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redisURL is required for the redis backend"))
		}
	case BackendPostgres:
		if c.Cache.PostgresDSN == "" {
			errs = append(errs, errors.New("cache.postgresDSN is required for the postgres backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.backend must be one of memory, redis, postgres (got %q)", c.Cache.Backend))
	}
	if c.Cache.DefaultTTL <= 0 {
		errs = append(errs, errors.New("cache.defaultTTL must be positive"))
	}
	if c.Cache.RedisDB < 0 {
		errs = append(errs, errors.New("cache.redisDB must not be negative"))
	}

	if len(c.Quote.Sources) == 0 {
		errs = append(errs, errors.New("quote.sources must name at least one source"))
	}
	for i, s := range c.Quote.Sources {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("quote.sources[%d].name is required", i))
		}
		if err := checkURL(s.URL); err != nil {
			errs = append(errs, fmt.Errorf("quote.sources[%d].url: %w", i, err))
		}
	}
	if c.Quote.Asset == "" {
		errs = append(errs, errors.New("quote.asset is required"))
	}
	if c.Quote.Timeout <= 0 {
		errs = append(errs, errors.New("quote.timeout must be positive"))
	}
	if c.Quote.StaticReferencePrice < 0 {
		errs = append(errs, errors.New("quote.staticReferencePrice must not be negative"))
	}

	for name, raw := range map[string]string{
		"upstream.poolURL":   c.Upstream.PoolURL,
		"upstream.seriesURL": c.Upstream.SeriesURL,
		"upstream.searchURL": c.Upstream.SearchURL,
	} {
		if err := checkURL(raw); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.Upstream.Timeout <= 0 {
		errs = append(errs, errors.New("upstream.timeout must be positive"))
	}

	return errors.Join(errs...)
}

func checkURL(raw string) error {
	if raw == "" {
		return errors.New("is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https (got %q)", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// parseDuration accepts Go duration syntax or a bare number of seconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if seconds, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(seconds * float64(time.Second)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}
