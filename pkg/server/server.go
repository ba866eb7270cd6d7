// Package server exposes the market operations over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/coin-market-cache/pkg/market"
	"github.com/Sternrassler/coin-market-cache/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	httpRequestsTotal = promauto.With(metrics.Registry).NewCounterVec(prometheus.CounterOpts{
		Name: "market_http_requests_total",
		Help: "HTTP requests by route and status code",
	}, []string{"route", "status"})

	httpRequestDuration = promauto.With(metrics.Registry).NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds by route",
		Buckets: []float64{0.005, 0.025, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"route"})
)

// Market is the set of operations served under /api.
// *market.Service satisfies it.
type Market interface {
	ChartData(ctx context.Context, req market.ChartRequest) (*market.ChartResponse, error)
	PriceHistory(ctx context.Context, req market.PriceHistoryRequest) (*market.PriceHistoryResponse, error)
	LiveReferencePrice(ctx context.Context) (*market.LivePrice, error)
	Search(ctx context.Context, query string) (*market.SearchResponse, error)
}

var _ Market = (*market.Service)(nil)

// Pinger reports whether the cache backend is reachable.
// *cache.Manager satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ShutdownTimeout bounds graceful shutdown.
const ShutdownTimeout = 10 * time.Second

// Server routes HTTP requests to the market service.
type Server struct {
	market Market
	ready  Pinger
	logger zerolog.Logger
	mux    *http.ServeMux
}

// New creates a server. market and ready are required.
func New(m Market, ready Pinger, logger zerolog.Logger) *Server {
	if m == nil {
		panic("server: market must not be nil")
	}
	if ready == nil {
		panic("server: ready must not be nil")
	}

	s := &Server{
		market: m,
		ready:  ready,
		logger: logger,
		mux:    http.NewServeMux(),
	}
	s.route("GET /api/chart-data", s.handleChartData)
	s.route("GET /api/price-history", s.handlePriceHistory)
	s.route("GET /api/live-reference-price", s.handleLivePrice)
	s.route("GET /api/search", s.handleSearch)
	s.route("GET /health", handleHealth)
	s.route("GET /ready", s.handleReady)
	s.mux.Handle("GET /metrics", metrics.Handler())
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting market data server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down market data server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// route registers handler under pattern, recording metrics and a debug log.
func (s *Server) route(pattern string, handler http.HandlerFunc) {
	name := pattern[strings.IndexByte(pattern, ' ')+1:]
	s.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		handler(rec, r)

		elapsed := time.Since(start)
		httpRequestsTotal.WithLabelValues(name, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.WithLabelValues(name).Observe(elapsed.Seconds())
		s.logger.Debug().
			Str("route", name).
			Int("status_code", rec.status).
			Dur("duration", elapsed).
			Msg("Request served")
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.market.ChartData(r.Context(), market.ChartRequest{
		ContractAddress:     q.Get("contractAddress"),
		Network:             q.Get("network"),
		Timeframe:           q.Get("timeframe"),
		PreferredBaseTokens: splitList(q.Get("preferredBaseTokens")),
	})
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handlePriceHistory(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	resp, err := s.market.PriceHistory(r.Context(), market.PriceHistoryRequest{
		Address:   q.Get("address"),
		ChainID:   q.Get("chainId"),
		Timeframe: q.Get("timeframe"),
	})
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLivePrice(w http.ResponseWriter, r *http.Request) {
	resp, err := s.market.LiveReferencePrice(r.Context())
	if err != nil {
		s.writeError(w, err, http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	resp, err := s.market.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		s.writeError(w, err, http.StatusBadGateway)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := s.ready.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Cache backend not ready")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// writeError maps err to a status: validation failures are 400, an
// exhausted upstream is unavailableStatus and anything else is 500.
func (s *Server) writeError(w http.ResponseWriter, err error, unavailableStatus int) {
	var validation *market.ValidationError
	switch {
	case errors.As(err, &validation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: validation.Message})
	case errors.Is(err, market.ErrUpstreamUnavailable):
		writeJSON(w, unavailableStatus, errorBody{Error: "upstream unavailable"})
	default:
		s.logger.Error().Err(err).Msg("Unhandled request error")
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// splitList parses a comma separated query value, keeping order.
func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
