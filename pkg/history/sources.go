package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/Sternrassler/coin-market-cache/pkg/upstream"
)

// ErrNotFound is returned when the upstream has no series for an entity.
var ErrNotFound = errors.New("no price series for entity")

// Pool describes a liquidity pool on the pool chart service.
type Pool struct {
	Address           string `json:"address"`
	Name              string `json:"name"`
	DEX               string `json:"dex,omitempty"`
	BaseTokenSymbol   string `json:"baseTokenSymbol,omitempty"`
	BaseTokenAddress  string `json:"baseTokenAddress,omitempty"`
	QuoteTokenSymbol  string `json:"quoteTokenSymbol,omitempty"`
	QuoteTokenAddress string `json:"quoteTokenAddress,omitempty"`
}

// PoolQuery selects a token's chart on the pool chart service.
type PoolQuery struct {
	Network             string
	Address             string
	Timeframe           Timeframe
	PreferredBaseTokens []string
}

// PoolSeries is a raw chart for the selected pool.
type PoolSeries struct {
	Pool   Pool
	Points []PricePoint
}

// SelectPool returns the first pool whose quote token matches a preferred
// base token (symbol or address, case-insensitive), trying preferences in
// order. Without a match the first pool is returned.
func SelectPool(pools []Pool, preferred []string) (Pool, bool) {
	if len(pools) == 0 {
		return Pool{}, false
	}
	for _, want := range preferred {
		want = strings.TrimSpace(want)
		if want == "" {
			continue
		}
		for _, p := range pools {
			if strings.EqualFold(p.QuoteTokenSymbol, want) || strings.EqualFold(p.QuoteTokenAddress, want) {
				return p, true
			}
		}
	}
	return pools[0], true
}

// PoolSource reads pool lists and OHLCV charts from a GeckoTerminal-shaped API.
type PoolSource struct {
	client *upstream.Client
}

// NewPoolSource creates a pool chart source.
func NewPoolSource(client *upstream.Client) *PoolSource {
	return &PoolSource{client: client}
}

type jsonAPIRef struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type poolsResponse struct {
	Data []struct {
		ID         string `json:"id"`
		Attributes struct {
			Address string `json:"address"`
			Name    string `json:"name"`
		} `json:"attributes"`
		Relationships struct {
			BaseToken  jsonAPIRef `json:"base_token"`
			QuoteToken jsonAPIRef `json:"quote_token"`
			DEX        jsonAPIRef `json:"dex"`
		} `json:"relationships"`
	} `json:"data"`
	Included []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Address string `json:"address"`
			Symbol  string `json:"symbol"`
		} `json:"attributes"`
	} `json:"included"`
}

type ohlcvResponse struct {
	Data struct {
		Attributes struct {
			OHLCVList [][]json.Number `json:"ohlcv_list"`
		} `json:"attributes"`
	} `json:"data"`
}

// Pools lists a token's pools in upstream order.
func (s *PoolSource) Pools(ctx context.Context, network, address string) ([]Pool, error) {
	path := fmt.Sprintf("/networks/%s/tokens/%s/pools", url.PathEscape(network), url.PathEscape(address))
	query := url.Values{"include": {"base_token,quote_token"}}

	var resp poolsResponse
	if err := s.client.GetJSON(ctx, path, query, &resp); err != nil {
		if upstream.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("list pools: %w", err)
	}

	tokens := make(map[string][2]string, len(resp.Included))
	for _, inc := range resp.Included {
		tokens[inc.ID] = [2]string{inc.Attributes.Symbol, inc.Attributes.Address}
	}

	pools := make([]Pool, 0, len(resp.Data))
	for _, d := range resp.Data {
		p := Pool{
			Address: d.Attributes.Address,
			Name:    d.Attributes.Name,
			DEX:     d.Relationships.DEX.Data.ID,
		}
		if p.Address == "" {
			p.Address = idAddress(d.ID)
		}
		p.BaseTokenSymbol, p.BaseTokenAddress = tokenInfo(tokens, d.Relationships.BaseToken.Data.ID)
		p.QuoteTokenSymbol, p.QuoteTokenAddress = tokenInfo(tokens, d.Relationships.QuoteToken.Data.ID)
		pools = append(pools, p)
	}
	return pools, nil
}

// Fetch selects a pool for q and returns its chart, oldest point first.
func (s *PoolSource) Fetch(ctx context.Context, q PoolQuery) (PoolSeries, error) {
	pools, err := s.Pools(ctx, q.Network, q.Address)
	if err != nil {
		return PoolSeries{}, err
	}
	pool, ok := SelectPool(pools, q.PreferredBaseTokens)
	if !ok {
		return PoolSeries{}, ErrNotFound
	}

	period, aggregate, limit := q.Timeframe.ohlcv()
	path := fmt.Sprintf("/networks/%s/pools/%s/ohlcv/%s", url.PathEscape(q.Network), url.PathEscape(pool.Address), period)
	query := url.Values{
		"aggregate": {strconv.Itoa(aggregate)},
		"limit":     {strconv.Itoa(limit)},
		"currency":  {"usd"},
	}

	var resp ohlcvResponse
	if err := s.client.GetJSON(ctx, path, query, &resp); err != nil {
		if upstream.IsNotFound(err) {
			return PoolSeries{}, ErrNotFound
		}
		return PoolSeries{}, fmt.Errorf("fetch ohlcv: %w", err)
	}

	points := make([]PricePoint, 0, len(resp.Data.Attributes.OHLCVList))
	for _, row := range resp.Data.Attributes.OHLCVList {
		if len(row) < 5 {
			continue
		}
		ts, err := row[0].Int64()
		if err != nil {
			f, ferr := row[0].Float64()
			if ferr != nil {
				continue
			}
			ts = int64(f)
		}
		p := PricePoint{
			Time:  ts,
			Open:  number(row[1]),
			High:  number(row[2]),
			Low:   number(row[3]),
			Close: number(row[4]),
		}
		if len(row) > 5 {
			p.Volume = number(row[5])
		}
		points = append(points, p)
	}

	// The service lists newest first.
	sort.SliceStable(points, func(i, j int) bool { return points[i].Time < points[j].Time })

	return PoolSeries{Pool: pool, Points: points}, nil
}

// CoinSource reads a coin's price history from the coin series service.
type CoinSource struct {
	client *upstream.Client
}

// NewCoinSource creates a coin series source.
func NewCoinSource(client *upstream.Client) *CoinSource {
	return &CoinSource{client: client}
}

type coinSeriesResponse struct {
	PriceHistory []struct {
		Time  json.Number `json:"time"`
		Price flexFloat   `json:"price"`
		Open  *flexFloat  `json:"open"`
		High  *flexFloat  `json:"high"`
		Low   *flexFloat  `json:"low"`
		Close *flexFloat  `json:"close"`
	} `json:"priceHistory"`
}

// Fetch returns the raw series for a coin. A 404 or an empty series is ErrNotFound.
func (s *CoinSource) Fetch(ctx context.Context, chainID, address string, tf Timeframe) ([]PricePoint, error) {
	path := fmt.Sprintf("/coins/%s/%s/price-history", url.PathEscape(chainID), url.PathEscape(address))

	var resp coinSeriesResponse
	if err := s.client.GetJSON(ctx, path, url.Values{"timeframe": {string(tf)}}, &resp); err != nil {
		if upstream.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("fetch price history: %w", err)
	}
	if len(resp.PriceHistory) == 0 {
		return nil, ErrNotFound
	}

	points := make([]PricePoint, 0, len(resp.PriceHistory))
	for _, item := range resp.PriceHistory {
		ts, err := item.Time.Int64()
		if err != nil {
			continue
		}
		price := float64(item.Price)
		p := PricePoint{
			Time:  ts,
			Open:  orDefault(item.Open, price),
			High:  orDefault(item.High, price),
			Low:   orDefault(item.Low, price),
			Close: orDefault(item.Close, price),
		}
		points = append(points, p)
	}
	return points, nil
}

// flexFloat decodes a JSON number or numeric string. Anything else is NaN,
// which the validity filter later drops.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		*f = flexFloat(math.NaN())
		return nil
	}
	*f = flexFloat(v)
	return nil
}

func orDefault(v *flexFloat, def float64) float64 {
	if v == nil {
		return def
	}
	return float64(*v)
}

func number(n json.Number) float64 {
	v, err := n.Float64()
	if err != nil {
		return math.NaN()
	}
	return v
}

// idAddress strips the "<network>_" prefix from a JSON:API id.
func idAddress(id string) string {
	if i := strings.IndexByte(id, '_'); i >= 0 {
		return id[i+1:]
	}
	return id
}

func tokenInfo(tokens map[string][2]string, id string) (symbol, address string) {
	if id == "" {
		return "", ""
	}
	if info, ok := tokens[id]; ok {
		address = info[1]
		symbol = info[0]
	}
	if address == "" {
		address = idAddress(id)
	}
	return symbol, address
}
