package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
	"github.com/rs/zerolog"
)

// Source fetches a raw quote value from one provider.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (float64, error)
}

// Resolver folds over its sources in order until one yields a valid quote.
type Resolver struct {
	sources []Source
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithTimeout overrides the per-source timeout.
func WithTimeout(d time.Duration) ResolverOption {
	return func(r *Resolver) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the clock used to stamp quotes.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *Resolver) {
		r.now = now
	}
}

// NewResolver creates a resolver over sources, tried in the given order.
func NewResolver(sources []Source, logger zerolog.Logger, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		sources: append([]Source(nil), sources...),
		timeout: DefaultSourceTimeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Sources returns the source names in resolution order.
func (r *Resolver) Sources() []string {
	names := make([]string, len(r.sources))
	for i, s := range r.sources {
		names[i] = s.Name()
	}
	return names
}

// Resolve returns the first valid quote. On exhaustion it returns a *Failure
// listing every source's error. A cancelled ctx stops the fold early.
func (r *Resolver) Resolve(ctx context.Context) (Quote, error) {
	if len(r.sources) == 0 {
		return Quote{}, ErrNoSources
	}

	failure := &Failure{}
	for _, source := range r.sources {
		if err := ctx.Err(); err != nil {
			failure.Attempts = append(failure.Attempts, SourceError{Source: source.Name(), Err: err})
			break
		}

		start := time.Now()
		value, err := r.fetch(ctx, source)
		if err == nil && !IsValid(value) {
			err = fmt.Errorf("%w: %v", ErrOutOfBounds, value)
		}

		if err != nil {
			reason := failureReason(err)
			quoteSourceFailuresTotal.WithLabelValues(source.Name(), reason).Inc()
			r.logger.Warn().
				Err(err).
				Str("source", source.Name()).
				Str("reason", reason).
				Dur("duration", time.Since(start)).
				Msg("Quote source failed, trying next")
			failure.Attempts = append(failure.Attempts, SourceError{Source: source.Name(), Err: err})
			continue
		}

		quoteResolutionsTotal.WithLabelValues(source.Name()).Inc()
		r.logger.Debug().
			Str("source", source.Name()).
			Float64("price", value).
			Dur("duration", time.Since(start)).
			Msg("Quote resolved")
		return Quote{Value: value, Source: source.Name(), ObservedAt: r.now().UTC()}, nil
	}

	quoteResolutionFailuresTotal.Inc()
	r.logger.Error().Err(failure).Msg("All quote sources failed")
	return Quote{}, failure
}

// fetch calls one source under the per-source timeout.
func (r *Resolver) fetch(ctx context.Context, source Source) (value float64, err error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("source panicked: %v", p)
		}
	}()
	return source.Fetch(ctx)
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrOutOfBounds):
		return "out_of_bounds"
	case upstream.IsTimeout(err):
		return "timeout"
	}
	if class := upstream.ClassOf(err); class != "" {
		return string(class)
	}
	return "error"
}
