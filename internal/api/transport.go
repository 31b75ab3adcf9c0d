package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	feed "market-dash/internal/feed/forex"
	"market-dash/internal/feed/rest"
	"market-dash/internal/feed/stock"
	"market-dash/internal/market"
	"market-dash/internal/watchlist"

	"github.com/go-kit/kit/endpoint"
	httptransport "github.com/go-kit/kit/transport/http"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// Streams serves the websocket endpoints.
type Streams interface {
	ChartHandler() http.Handler
	ForexHandler() http.Handler
}

type HandlerConfig struct {
	Streams     Streams
	Metrics     http.Handler
	MetricsPath string
	Logger      *zap.Logger
}

// NewHTTPHandler routes the REST API, the streams, /health and /metrics.
func NewHTTPHandler(endpoints Endpoints, cfg HandlerConfig) http.Handler {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	options := []httptransport.ServerOption{
		httptransport.ServerErrorEncoder(encodeError),
		httptransport.ServerErrorHandler(errorLogger{log: log}),
	}
	route := func(e endpoint.Endpoint, dec httptransport.DecodeRequestFunc) http.Handler {
		return httptransport.NewServer(e, dec, encodeResponse, options...)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /api/assets", route(endpoints.Assets, decodeNothing))
	mux.Handle("GET /api/chart", route(endpoints.Chart, decodeChartRequest))
	mux.Handle("GET /api/quote", route(endpoints.Quote, decodeQueryParam("symbol")))
	mux.Handle("GET /api/search", route(endpoints.Search, decodeQueryParam("q")))
	mux.Handle("GET /api/series", route(endpoints.Series, decodeSeriesRequest))
	mux.Handle("GET /api/forex", route(endpoints.Forex, decodeForexRequest))
	mux.Handle("GET /api/watchlist", route(endpoints.Watchlist, decodeNothing))
	mux.Handle("POST /api/watchlist", route(endpoints.AddWatchlist, decodeAddRequest))
	mux.Handle("DELETE /api/watchlist/{symbol}", route(endpoints.RemoveWatchlist, decodeSymbolPath))
	mux.Handle("POST /api/watchlist/refresh", route(endpoints.RefreshWatchlist, decodeNothing))
	mux.Handle("GET /health", route(endpoints.Health, decodeNothing))
	if cfg.Streams != nil {
		mux.Handle("GET /ws/chart", cfg.Streams.ChartHandler())
		mux.Handle("GET /ws/forex", cfg.Streams.ForexHandler())
	}
	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux.Handle("GET "+path, cfg.Metrics)
	}

	var handler http.Handler = mux
	handler = Logging(log)(handler)
	handler = RequestID(handler)
	return handler
}

func decodeNothing(_ context.Context, _ *http.Request) (interface{}, error) {
	return nil, nil
}

func decodeQueryParam(name string) httptransport.DecodeRequestFunc {
	return func(_ context.Context, r *http.Request) (interface{}, error) {
		return r.URL.Query().Get(name), nil
	}
}

func decodeChartRequest(_ context.Context, r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	return ChartRequest{Asset: q.Get("asset"), Timeframe: q.Get("timeframe"), Range: q.Get("range")}, nil
}

func decodeSeriesRequest(_ context.Context, r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	return SeriesRequest{Symbol: q.Get("symbol"), Range: q.Get("range")}, nil
}

func decodeForexRequest(_ context.Context, r *http.Request) (interface{}, error) {
	q := r.URL.Query()
	symbol := q.Get("symbol")
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrBadRequest)
	}
	return ForexRequest{Symbol: symbol, Interval: q.Get("interval")}, nil
}

func decodeAddRequest(_ context.Context, r *http.Request) (interface{}, error) {
	var req AddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return req, nil
}

func decodeSymbolPath(_ context.Context, r *http.Request) (interface{}, error) {
	return r.PathValue("symbol"), nil
}

func encodeResponse(_ context.Context, w http.ResponseWriter, response interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	return json.NewEncoder(w).Encode(response)
}

func encodeError(_ context.Context, err error, w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(err))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// StatusFor maps domain errors onto HTTP statuses.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, errInvalidRequest),
		errors.Is(err, market.ErrUnknownTimeframe),
		errors.Is(err, market.ErrUnknownRange),
		errors.Is(err, feed.ErrUnknownInterval),
		errors.Is(err, stock.ErrSymbolRequired),
		errors.Is(err, watchlist.ErrSymbolRequired):
		return http.StatusBadRequest
	case errors.Is(err, market.ErrUnknownAsset), errors.Is(err, market.ErrNoData):
		return http.StatusNotFound
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, rest.ErrUpstream), errors.Is(err, rest.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorLogger struct {
	log *zap.Logger
}

func (l errorLogger) Handle(ctx context.Context, err error) {
	status := StatusFor(err)
	if status < http.StatusInternalServerError {
		return
	}
	l.log.Warn("api request failed", zap.String("request_id", RequestIDFromContext(ctx)), zap.Int("status", status), zap.Error(err))
}
