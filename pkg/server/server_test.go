package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Sternrassler/coin-market-cache/internal/testutil"
	"github.com/Sternrassler/coin-market-cache/pkg/cache"
	"github.com/Sternrassler/coin-market-cache/pkg/history"
	"github.com/Sternrassler/coin-market-cache/pkg/market"
	"github.com/Sternrassler/coin-market-cache/pkg/pricing"
	"github.com/Sternrassler/coin-market-cache/pkg/search"
	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mock    *testutil.MockUpstream
	handler http.Handler
}

// newFixture wires the real components against one mock upstream.
func newFixture(t *testing.T, cfg market.Config) *fixture {
	t.Helper()

	mock := testutil.NewMockUpstream()
	t.Cleanup(mock.Close)

	newClient := func(name string) *upstream.Client {
		c := upstream.DefaultConfig(name, mock.URL())
		c.Timeout = time.Second
		c.Retry = upstream.NoRetry()
		client, err := upstream.New(c, zerolog.Nop())
		require.NoError(t, err)
		return client
	}

	var sources []pricing.Source
	for _, name := range []string{pricing.SourceCoinbase, pricing.SourceKraken, pricing.SourceCoinGecko} {
		src, err := pricing.NewSource(name, newClient(name), "ETH")
		require.NoError(t, err)
		sources = append(sources, src)
	}

	store := cache.NewManager(cache.NewMemoryBackend(cache.WithMemoryClock(func() time.Time { return testNow })), time.Minute, zerolog.Nop(),
		cache.WithClock(func() time.Time { return testNow }))

	svc, err := market.New(market.Deps{
		Store:    store,
		Pools:    history.NewPoolSource(newClient("pools")),
		Series:   history.NewCoinSource(newClient("series")),
		Resolver: pricing.NewResolver(sources, zerolog.Nop(), pricing.WithTimeout(time.Second), pricing.WithClock(func() time.Time { return testNow })),
		Searcher: search.NewService(newClient("search"), time.Second, zerolog.Nop()),
	}, cfg, zerolog.Nop(), market.WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)

	return &fixture{mock: mock, handler: New(svc, store, zerolog.Nop()).Handler()}
}

func (f *fixture) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

func TestChartData_MissingContractAddress(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/chart-data?timeframe=1D")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"contractAddress es requerido"}`, rec.Body.String())
	assert.Zero(t, f.mock.RequestCount())
}

func TestChartData_InvalidTimeframe(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/chart-data?contractAddress=0xcoin&timeframe=2D")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"timeframe inválido: 2D"}`, rec.Body.String())
}

func TestChartData_SecondCallIsCached(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.mock.SetPools("base", "0xcoin", []testutil.MockPool{
		{Address: "0xpool1", Name: "COIN / ZORA", QuoteTokenSymbol: "ZORA", QuoteTokenAddress: "0xzora"},
		{Address: "0xpool2", Name: "COIN / WETH", QuoteTokenSymbol: "WETH", QuoteTokenAddress: "0xweth"},
	})
	hourAgo := float64(testNow.Add(-time.Hour).Unix())
	twoDaysAgo := float64(testNow.Add(-48 * time.Hour).Unix())
	f.mock.SetOHLCV("base", "0xpool2", "minute", [][]float64{
		{hourAgo, 1, 2, 0.5, 1.5, 100},
		{twoDaysAgo, 1, 1, 1, 1, 10},
	})

	target := "/api/chart-data?contractAddress=0xcoin&timeframe=1D&preferredBaseTokens=WETH,ZORA"

	first := f.get(t, target)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	second := f.get(t, target)
	require.Equal(t, http.StatusOK, second.Code)

	type body struct {
		Success   bool             `json:"success"`
		Data      market.ChartInfo `json:"data"`
		ChartData json.RawMessage  `json:"chartData"`
		Cached    bool             `json:"cached"`
		CacheKey  string           `json:"cacheKey"`
	}
	a, b := decode[body](t, first), decode[body](t, second)

	assert.True(t, a.Success)
	assert.False(t, a.Cached)
	assert.True(t, b.Cached)
	assert.Equal(t, a.CacheKey, b.CacheKey)
	assert.Equal(t, string(a.ChartData), string(b.ChartData))
	assert.Equal(t, "0xpool2", a.Data.Pool.Address)
	assert.Equal(t, 1, a.Data.Count)
	assert.Equal(t, 1, f.mock.Requests("/networks/base/pools/0xpool2/ohlcv/minute"))
}

func TestChartData_UnknownTokenIsNotSuccess(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/chart-data?contractAddress=0xnothing")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, false, got["success"])
	assert.Equal(t, []any{}, got["chartData"])
}

func TestChartData_UpstreamFailure(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.mock.SetResponse("/networks/base/tokens/0xcoin/pools", testutil.NewServerErrorResponse())

	rec := f.get(t, "/api/chart-data?contractAddress=0xcoin")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, rec.Body.String())
}

func TestPriceHistory(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.mock.SetCoinSeries("8453", "0xcoin",
		[]int64{testNow.Add(-2 * time.Hour).Unix(), testNow.Add(-time.Hour).Unix()},
		[]float64{0.5, 0.75})

	rec := f.get(t, "/api/price-history?address=0xcoin&timeframe=1d")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[market.PriceHistoryResponse](t, rec)
	assert.True(t, got.Success)
	assert.Equal(t, 2, got.Count)
	assert.Equal(t, history.Timeframe1D, got.Timeframe)
	assert.Len(t, got.ChartData, 2)
}

func TestPriceHistory_NotFound(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/price-history?address=0xmissing")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, false, got["success"])
	assert.Nil(t, got["chartData"])
}

func TestPriceHistory_MissingAddress(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/price-history")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"address es requerido"}`, rec.Body.String())
}

func TestLiveReferencePrice_FirstValidSourceWins(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.mock.SetCoinbaseQuote("-5")
	f.mock.SetKrakenQuote("3000.50")

	rec := f.get(t, "/api/live-reference-price")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[market.LivePrice](t, rec)
	assert.Equal(t, 3000.50, got.Price)
	assert.Equal(t, pricing.SourceKraken, got.Source)
	assert.Zero(t, f.mock.Requests(testutil.CoinGeckoPath))
}

func TestLiveReferencePrice_AllSourcesFail(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.mock.SetResponse(testutil.CoinbasePath, testutil.NewServerErrorResponse())
	f.mock.SetResponse(testutil.KrakenPath, testutil.NewRateLimitResponse(30))

	rec := f.get(t, "/api/live-reference-price")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, rec.Body.String())
}

func TestLiveReferencePrice_StaticFallback(t *testing.T) {
	cfg := market.DefaultConfig()
	cfg.StaticReferencePrice = 2500
	f := newFixture(t, cfg)

	rec := f.get(t, "/api/live-reference-price")

	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[market.LivePrice](t, rec)
	assert.Equal(t, 2500.0, got.Price)
	assert.Equal(t, market.SourceStatic, got.Source)
}

func TestSearch(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.mock.SetSearch(
		`{"coins":[{"address":"0xa","name":"Alpha","volume24h":"50"},{"address":"0xb","name":"Zeta Moon","volume24h":0}]}`,
		`{"profiles":[{"handle":"gamma","displayName":"Gamma","creatorCoin":{"address":"0xc","name":"Gamma","volume24h":0}}]}`,
	)

	rec := f.get(t, "/api/search?q=moon")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[market.SearchResponse](t, rec)
	require.Len(t, got.Tokens, 3)
	assert.Equal(t, "Alpha", got.Tokens[0].Name)
	assert.Equal(t, "Gamma", got.Tokens[1].Name)
	assert.Equal(t, "Zeta Moon", got.Tokens[2].Name)
}

func TestSearch_RecoveredCollectionVisibleWithinTTL(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	var coinCalls atomic.Int32
	f.mock.SetHandler(testutil.SearchCoinsPath, func(w http.ResponseWriter, r *http.Request) {
		if coinCalls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"coins":[{"address":"0xa","name":"Coin A","volume24h":5}]}`))
	})
	f.mock.SetResponse(testutil.SearchProfilesPath, testutil.NewJSONResponse(
		`{"profiles":[{"handle":"maker","displayName":"Coin Maker"}]}`))

	first := decode[market.SearchResponse](t, f.get(t, "/api/search?q=coin"))
	second := decode[market.SearchResponse](t, f.get(t, "/api/search?q=coin"))

	assert.Len(t, first.Tokens, 1)
	assert.Len(t, second.Tokens, 2)
}

func TestSearch_ShortQuery(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/search?q=%20ab%20")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"tokens":[]}`, rec.Body.String())
	assert.Zero(t, f.mock.RequestCount())
}

func TestSearch_BothCollectionsFail(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/api/search?q=alpha")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.JSONEq(t, `{"error":"upstream unavailable"}`, rec.Body.String())
}

func TestHealth(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := f.get(t, "/health")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type stubMarket struct{ Market }

func TestReady(t *testing.T) {
	tests := []struct {
		name   string
		ping   error
		status int
	}{
		{name: "backend reachable", status: http.StatusOK},
		{name: "backend down", ping: errors.New("connection refused"), status: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := New(stubMarket{}, pingerFunc(func(context.Context) error { return tt.ping }), zerolog.Nop())

			rec := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

			assert.Equal(t, tt.status, rec.Code)
			assert.True(t, json.Valid(rec.Body.Bytes()))
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())
	f.get(t, "/health")

	rec := f.get(t, "/metrics")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "market_http_requests_total")
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t, market.DefaultConfig())

	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/search?q=alpha", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestSplitList(t *testing.T) {
	assert.Nil(t, splitList(""))
	assert.Equal(t, []string{"WETH", "ZORA"}, splitList(" WETH, ,ZORA "))
}
