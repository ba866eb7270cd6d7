// Package logging provides structured logging configuration using zerolog.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// ServiceName is attached to every log line.
const ServiceName = "market-proxy"

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Setup configures the global zerolog logger and returns it.
func Setup(cfg Config) zerolog.Logger {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	logger := zerolog.New(out).With().
		Timestamp().
		Str("service", ServiceName).
		Logger()

	log.Logger = logger
	return logger
}

// parseLevel converts LogLevel to zerolog.Level. Unknown levels mean info.
func parseLevel(level LogLevel) zerolog.Level {
	name := strings.ToLower(strings.TrimSpace(string(level)))
	if name == "warning" {
		name = "warn"
	}
	switch parsed, err := zerolog.ParseLevel(name); {
	case err != nil, name == "", parsed == zerolog.NoLevel:
		return zerolog.InfoLevel
	default:
		return parsed
	}
}

// NewLogger creates a new logger with the given component name.
func NewLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}

// Component derives a component logger from parent.
func Component(parent zerolog.Logger, component string) zerolog.Logger {
	return parent.With().Str("component", component).Logger()
}

// FromConfig maps the service config's level string and pretty flag onto
// a logger Config writing to stderr.
func FromConfig(level string, pretty bool) Config {
	cfg := DefaultConfig()
	cfg.Level = LogLevel(strings.ToLower(strings.TrimSpace(level)))
	cfg.Pretty = pretty
	return cfg
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache operations (hit/miss, key, TTL)
//   - Individual upstream attempts and retry backoff
//   - Quote sources rejected during a resolution
//
// Info: Normal operation events
//   - Server startup/shutdown
//   - Cache backend selection
//   - Upstream success after a retry
//
// Warn: Warning conditions that don't prevent operation
//   - Cache backend errors (treated as a miss)
//   - One search collection failing
//   - Rate limit cooldowns starting
//   - Falling back to the last known or static reference price
//
// Error: Error conditions requiring attention
//   - Every quote source failed with no fallback
//   - Upstream failures surfaced to the caller
//   - Configuration errors
//
// Context Fields:
//   - component: Package or subsystem emitting the log
//   - operation: Market operation (chart_data, price_history, live_price, search)
//   - cache_key: Key read or written
//   - upstream: Upstream name (pools, series, search, coinbase, kraken, coingecko)
//   - source: Quote source that answered or failed
//   - status_code: HTTP status code
//   - error_class: Error classification (client, server, rate_limit, network, protocol)
//   - timeframe: Requested timeframe
//   - ttl: Cache entry TTL
