package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
)

// Known quote source names.
const (
	SourceCoinbase  = "coinbase"
	SourceKraken    = "kraken"
	SourceCoinGecko = "coingecko"
)

// Default public endpoints of the known sources.
var DefaultSourceURLs = map[string]string{
	SourceCoinbase:  "https://api.coinbase.com",
	SourceKraken:    "https://api.kraken.com",
	SourceCoinGecko: "https://api.coingecko.com",
}

// ErrMalformedQuote is returned when a response lacks the expected field.
var ErrMalformedQuote = errors.New("malformed quote response")

// Extractor pulls the quote value out of a raw JSON response.
type Extractor func(body json.RawMessage) (float64, error)

// HTTPSource is a Source backed by one JSON endpoint.
type HTTPSource struct {
	client  *upstream.Client
	path    string
	query   url.Values
	extract Extractor
}

// NewHTTPSource creates a source fetching path from client and reading the value with extract.
func NewHTTPSource(client *upstream.Client, path string, query url.Values, extract Extractor) *HTTPSource {
	return &HTTPSource{client: client, path: path, query: query, extract: extract}
}

// Compile-time interface check.
var _ Source = (*HTTPSource)(nil)

// Name returns the upstream name.
func (s *HTTPSource) Name() string {
	return s.client.Name()
}

// Fetch retrieves and extracts the quote.
func (s *HTTPSource) Fetch(ctx context.Context) (float64, error) {
	var body json.RawMessage
	if err := s.client.GetJSON(ctx, s.path, s.query, &body); err != nil {
		return 0, err
	}
	return s.extract(body)
}

// NewSource builds the named source for asset (a ticker such as "ETH").
func NewSource(name string, client *upstream.Client, asset string) (*HTTPSource, error) {
	asset = strings.ToUpper(strings.TrimSpace(asset))
	switch name {
	case SourceCoinbase:
		return NewHTTPSource(client, fmt.Sprintf("/v2/prices/%s-USD/spot", asset), nil, ExtractCoinbase), nil
	case SourceKraken:
		return NewHTTPSource(client, "/0/public/Ticker", url.Values{"pair": {asset + "USD"}}, ExtractKraken), nil
	case SourceCoinGecko:
		id := coinGeckoID(asset)
		query := url.Values{"ids": {id}, "vs_currencies": {"usd"}}
		return NewHTTPSource(client, "/api/v3/simple/price", query, ExtractCoinGecko(id)), nil
	default:
		return nil, fmt.Errorf("unknown quote source %q", name)
	}
}

// ExtractCoinbase reads {"data":{"amount":"3000.12"}}.
func ExtractCoinbase(body json.RawMessage) (float64, error) {
	var resp struct {
		Data struct {
			Amount json.RawMessage `json:"amount"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedQuote, err)
	}
	return parseValue(resp.Data.Amount)
}

// ExtractKraken reads {"error":[],"result":{"<pair>":{"c":["3000.1","0.5"]}}}.
// With several pairs the lexically first one is used.
func ExtractKraken(body json.RawMessage) (float64, error) {
	var resp struct {
		Error  []string `json:"error"`
		Result map[string]struct {
			C []json.RawMessage `json:"c"`
		} `json:"result"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedQuote, err)
	}
	if len(resp.Error) > 0 {
		return 0, fmt.Errorf("kraken: %s", strings.Join(resp.Error, ", "))
	}
	pairs := make([]string, 0, len(resp.Result))
	for pair := range resp.Result {
		pairs = append(pairs, pair)
	}
	if len(pairs) == 0 {
		return 0, fmt.Errorf("%w: empty result", ErrMalformedQuote)
	}
	sort.Strings(pairs)

	last := resp.Result[pairs[0]].C
	if len(last) == 0 {
		return 0, fmt.Errorf("%w: missing last trade", ErrMalformedQuote)
	}
	return parseValue(last[0])
}

// ExtractCoinGecko returns an extractor reading {"<id>":{"usd":3000.1}}.
func ExtractCoinGecko(id string) Extractor {
	return func(body json.RawMessage) (float64, error) {
		var resp map[string]map[string]json.RawMessage
		if err := json.Unmarshal(body, &resp); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrMalformedQuote, err)
		}
		return parseValue(resp[id]["usd"])
	}
}

// parseValue accepts a JSON number or a numeric string.
func parseValue(raw json.RawMessage) (float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: missing value", ErrMalformedQuote)
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrMalformedQuote, text)
		}
		return v, nil
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("%w: %s", ErrMalformedQuote, raw)
	}
	return v, nil
}

func coinGeckoID(asset string) string {
	switch asset {
	case "ETH", "WETH":
		return "ethereum"
	case "BTC":
		return "bitcoin"
	case "SOL":
		return "solana"
	default:
		return strings.ToLower(asset)
	}
}
