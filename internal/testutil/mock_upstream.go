// Package testutil provides an httptest stand-in for the market data
// upstreams: quote sources, the pool chart service, the coin series service
// and the search service. One server can play all of them since their paths
// do not overlap.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"time"
)

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockUpstream is a configurable mock upstream server for testing.
type MockUpstream struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)
	requests map[string]int
	total    int
}

// NewMockUpstream creates a new mock upstream server.
func NewMockUpstream() *MockUpstream {
	mock := &MockUpstream{
		handlers: make(map[string]func(w http.ResponseWriter, r *http.Request)),
		requests: make(map[string]int),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.total++
		mock.requests[r.URL.Path]++
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		writeJSON(w, http.StatusNotFound, `{"errors":[{"status":"404","title":"Not Found"}]}`)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockUpstream) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockUpstream) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockUpstream) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total = 0
	m.requests = make(map[string]int)
}

// RequestCount returns the number of requests made to the server.
func (m *MockUpstream) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Requests returns the number of requests made to path.
func (m *MockUpstream) Requests(path string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requests[path]
}

// SetHandler sets a custom handler for a specific path.
func (m *MockUpstream) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockUpstream) SetResponse(path string, resp MockResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}
		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}
		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// Quote source paths for asset ETH.
const (
	CoinbasePath  = "/v2/prices/ETH-USD/spot"
	KrakenPath    = "/0/public/Ticker"
	CoinGeckoPath = "/api/v3/simple/price"
)

// SetCoinbaseQuote serves a Coinbase spot price for ETH.
func (m *MockUpstream) SetCoinbaseQuote(amount string) {
	m.SetResponse(CoinbasePath, NewJSONResponse(fmt.Sprintf(`{"data":{"base":"ETH","currency":"USD","amount":%q}}`, amount)))
}

// SetKrakenQuote serves a Kraken ticker for ETHUSD.
func (m *MockUpstream) SetKrakenQuote(last string) {
	m.SetResponse(KrakenPath, NewJSONResponse(fmt.Sprintf(`{"error":[],"result":{"XETHZUSD":{"c":[%q,"0.1"]}}}`, last)))
}

// SetCoinGeckoQuote serves a CoinGecko simple price for ethereum.
func (m *MockUpstream) SetCoinGeckoQuote(usd float64) {
	m.SetResponse(CoinGeckoPath, NewJSONResponse(fmt.Sprintf(`{"ethereum":{"usd":%s}}`, strconv.FormatFloat(usd, 'f', -1, 64))))
}

// MockPool describes a pool served by SetPools.
type MockPool struct {
	Address           string
	Name              string
	QuoteTokenSymbol  string
	QuoteTokenAddress string
}

// SetPools serves the pool list of a token.
func (m *MockUpstream) SetPools(network, token string, pools []MockPool) {
	type ref struct {
		Data struct {
			ID   string `json:"id"`
			Type string `json:"type"`
		} `json:"data"`
	}
	type poolJSON struct {
		ID            string            `json:"id"`
		Type          string            `json:"type"`
		Attributes    map[string]string `json:"attributes"`
		Relationships map[string]ref    `json:"relationships"`
	}
	type tokenJSON struct {
		ID         string            `json:"id"`
		Type       string            `json:"type"`
		Attributes map[string]string `json:"attributes"`
	}

	var body struct {
		Data     []poolJSON  `json:"data"`
		Included []tokenJSON `json:"included"`
	}
	body.Data = []poolJSON{}
	for _, p := range pools {
		var base, quote ref
		base.Data.ID, base.Data.Type = network+"_"+token, "token"
		quote.Data.ID, quote.Data.Type = network+"_"+p.QuoteTokenAddress, "token"
		body.Data = append(body.Data, poolJSON{
			ID:         network + "_" + p.Address,
			Type:       "pool",
			Attributes: map[string]string{"address": p.Address, "name": p.Name},
			Relationships: map[string]ref{
				"base_token":  base,
				"quote_token": quote,
			},
		})
		body.Included = append(body.Included, tokenJSON{
			ID:         quote.Data.ID,
			Type:       "token",
			Attributes: map[string]string{"address": p.QuoteTokenAddress, "symbol": p.QuoteTokenSymbol},
		})
	}

	data, _ := json.Marshal(body)
	m.SetResponse(fmt.Sprintf("/networks/%s/tokens/%s/pools", network, token), NewJSONResponse(string(data)))
}

// SetOHLCV serves a pool chart for period. Rows are [ts, o, h, l, c, v].
func (m *MockUpstream) SetOHLCV(network, pool, period string, rows [][]float64) {
	if rows == nil {
		rows = [][]float64{}
	}
	data, _ := json.Marshal(map[string]any{
		"data": map[string]any{
			"id":         pool,
			"type":       "ohlcv_request_response",
			"attributes": map[string]any{"ohlcv_list": rows},
		},
	})
	m.SetResponse(fmt.Sprintf("/networks/%s/pools/%s/ohlcv/%s", network, pool, period), NewJSONResponse(string(data)))
}

// SeriesPath returns the coin series path of a coin.
func SeriesPath(chainID, address string) string {
	return fmt.Sprintf("/coins/%s/%s/price-history", chainID, address)
}

// SetCoinSeries serves a coin price history of {time, price} items.
func (m *MockUpstream) SetCoinSeries(chainID, address string, times []int64, prices []float64) {
	items := make([]map[string]any, len(times))
	for i := range times {
		items[i] = map[string]any{"time": times[i], "price": prices[i]}
	}
	data, _ := json.Marshal(map[string]any{"priceHistory": items})
	m.SetResponse(SeriesPath(chainID, address), NewJSONResponse(string(data)))
}

// Search service paths.
const (
	SearchCoinsPath    = "/search/coins"
	SearchProfilesPath = "/search/profiles"
)

// SetSearch serves raw bodies for both search collections.
func (m *MockUpstream) SetSearch(coins, profiles string) {
	m.SetResponse(SearchCoinsPath, NewJSONResponse(coins))
	m.SetResponse(SearchProfilesPath, NewJSONResponse(profiles))
}

// NewJSONResponse creates a 200 OK JSON response.
func NewJSONResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response.
func NewRateLimitResponse(retryAfterSeconds int) MockResponse {
	headers := map[string]string{"Content-Type": "application/json; charset=utf-8"}
	if retryAfterSeconds > 0 {
		headers["Retry-After"] = strconv.Itoa(retryAfterSeconds)
	}
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error": "Rate limit exceeded"}`,
		Headers:    headers,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error": "Internal server error"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

// NewNotFoundResponse creates a 404 Not Found response.
func NewNotFoundResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusNotFound,
		Body:       `{"error": "not found"}`,
		Headers:    map[string]string{"Content-Type": "application/json; charset=utf-8"},
	}
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(body))
}
