package search

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

var searchCollectionFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "market_search_collection_failures_total",
	Help: "Search collection fetch failures by collection",
}, []string{"collection"})

// MinQueryLength is the shortest trimmed query that reaches the upstream.
const MinQueryLength = 3

// DefaultLimit caps each collection.
const DefaultLimit = 20

var (
	// ErrUnavailable is returned when both collections failed.
	ErrUnavailable = errors.New("search service unavailable")

	// ErrPartial accompanies results missing one collection.
	ErrPartial = errors.New("search results incomplete")
)

type coinItem struct {
	Address           string `json:"address"`
	Name              string `json:"name"`
	Symbol            string `json:"symbol"`
	Image             string `json:"image"`
	Volume24h         any    `json:"volume24h"`
	TotalVolume       any    `json:"totalVolume"`
	MarketCap         any    `json:"marketCap"`
	MarketCapDelta24h any    `json:"marketCapDelta24h"`
}

type profileItem struct {
	Address     string    `json:"address"`
	Handle      string    `json:"handle"`
	DisplayName string    `json:"displayName"`
	Avatar      string    `json:"avatar"`
	CreatorCoin *coinItem `json:"creatorCoin"`
}

// result converts a raw coin match.
func (c coinItem) result(kind Kind) Result {
	r := Result{
		Kind:              kind,
		Address:           c.Address,
		Name:              c.Name,
		Symbol:            c.Symbol,
		Image:             c.Image,
		Volume24h:         ParseNumber(c.Volume24h),
		TotalVolume:       ParseNumber(c.TotalVolume),
		MarketCap:         ParseNumber(c.MarketCap),
		MarketCapDelta24h: ParseNumber(c.MarketCapDelta24h),
	}
	r.Change24h = Change24h(r.MarketCap, r.MarketCapDelta24h)
	return r
}

func (p profileItem) result() Result {
	var r Result
	if p.CreatorCoin != nil {
		r = p.CreatorCoin.result(KindProfile)
	}
	r.Kind = KindProfile
	if r.Address == "" {
		r.Address = p.Address
	}
	r.Name = p.DisplayName
	if r.Name == "" {
		r.Name = p.Handle
	}
	if p.Avatar != "" {
		r.Image = p.Avatar
	}
	return r
}

// merge flattens coins then profiles into one list of results.
func merge(coins []coinItem, profiles []profileItem) []Result {
	out := make([]Result, 0, len(coins)+len(profiles))
	for _, c := range coins {
		out = append(out, c.result(KindCoin))
	}
	for _, p := range profiles {
		out = append(out, p.result())
	}
	return out
}

// Service fetches both collections and ranks the merged list.
type Service struct {
	client  *upstream.Client
	timeout time.Duration
	limit   int
	logger  zerolog.Logger
}

// NewService creates a search service. timeout bounds each collection fetch.
func NewService(client *upstream.Client, timeout time.Duration, logger zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Service{client: client, timeout: timeout, limit: DefaultLimit, logger: logger}
}

// QueryTooShort reports whether query is below MinQueryLength once trimmed.
func QueryTooShort(query string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(query)) < MinQueryLength
}

// Search returns ranked results for query. Short queries yield an empty
// list without an upstream call. When one collection fails the other's
// results are returned together with an error wrapping ErrPartial;
// ErrUnavailable is returned only when both fail.
func (s *Service) Search(ctx context.Context, query string) ([]Result, error) {
	query = strings.TrimSpace(query)
	if QueryTooShort(query) {
		return []Result{}, nil
	}

	var (
		coins    []coinItem
		profiles []profileItem
		coinErr  error
		profErr  error
	)

	var g errgroup.Group
	g.Go(func() error {
		var resp struct {
			Coins []coinItem `json:"coins"`
		}
		if coinErr = s.fetch(ctx, "/search/coins", query, &resp); coinErr != nil {
			searchCollectionFailuresTotal.WithLabelValues("coins").Inc()
			return fmt.Errorf("coins: %w", coinErr)
		}
		coins = resp.Coins
		return nil
	})
	g.Go(func() error {
		var resp struct {
			Profiles []profileItem `json:"profiles"`
		}
		if profErr = s.fetch(ctx, "/search/profiles", query, &resp); profErr != nil {
			searchCollectionFailuresTotal.WithLabelValues("profiles").Inc()
			return fmt.Errorf("profiles: %w", profErr)
		}
		profiles = resp.Profiles
		return nil
	})

	if err := g.Wait(); err != nil {
		if coinErr != nil && profErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, errors.Join(coinErr, profErr))
		}
		s.logger.Warn().Err(err).Str("query", query).Msg("Search collection failed, returning partial results")

		results := merge(coins, profiles)
		Rank(results, query)
		return results, fmt.Errorf("%w: %w", ErrPartial, err)
	}

	results := merge(coins, profiles)
	Rank(results, query)
	return results, nil
}

func (s *Service) fetch(ctx context.Context, path, query string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	params := url.Values{"q": {query}, "limit": {strconv.Itoa(s.limit)}}
	return s.client.GetJSON(ctx, path, params, out)
}
