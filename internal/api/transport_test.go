package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	feed "market-dash/internal/feed/forex"
	"market-dash/internal/feed/rest"
	"market-dash/internal/market"
	"market-dash/internal/metrics"
	"market-dash/internal/state/sqlite"
	"market-dash/internal/watchlist"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

type fakeStocks struct{}

func (fakeStocks) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	if symbol == "FAIL" {
		return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, rest.ErrUpstream)
	}
	if symbol == "" {
		return market.Quote{}, errors.New("unexpected empty symbol")
	}
	return market.Quote{Symbol: symbol, Price: 101.5, Change: 1.5}, nil
}

func (fakeStocks) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	if len(query) < 2 {
		return nil, nil
	}
	return []market.SearchResult{{Symbol: "AAPL", Name: "Apple Inc."}}, nil
}

func (fakeStocks) Series(ctx context.Context, symbol string, dr market.DateRange) ([]market.Point, error) {
	return []market.Point{{Time: 1, Value: 10}, {Time: 2, Value: 11}}, nil
}

type fakeForex struct{}

func (fakeForex) Timeseries(ctx context.Context, symbol, interval string) ([]market.Candle, error) {
	if !feed.ValidInterval(interval) {
		return nil, fmt.Errorf("%w: %q", feed.ErrUnknownInterval, interval)
	}
	if symbol == "OPEN/BREAKER" {
		return nil, fmt.Errorf("forex: %w", gobreaker.ErrOpenState)
	}
	return []market.Candle{
		{Time: 60, Open: 150, High: 151, Low: 149, Close: 150.5},
		{Time: 120, Open: 150.5, High: 151.5, Low: 150, Close: 151},
	}, nil
}

func newTestHandler(t *testing.T) http.Handler {
	t.Helper()
	store, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	wl := watchlist.New(store, fakeStocks{}, zap.NewNop(), watchlist.Options{})
	gen := market.NewGenerator(rand.NewPCG(3, 5), nil)
	svc := NewService(gen, market.DefaultCatalog(), fakeStocks{}, fakeForex{}, wl)
	prom := metrics.NewPrometheus()
	return NewHTTPHandler(MakeEndpoints(svc), HandlerConfig{Metrics: prom.Handler(), Logger: zap.NewNop()})
}

func do(t *testing.T, h http.Handler, method, target, body string) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	resp := rec.Result()
	data, _ := io.ReadAll(resp.Body)
	return resp, data
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		t.Fatalf("decode %s: %v", data, err)
	}
	return v
}

func TestAssetsAndChart(t *testing.T) {
	h := newTestHandler(t)
	resp, data := do(t, h, http.MethodGet, "/api/assets", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assets status %d", resp.StatusCode)
	}
	if assets := decode[[]market.Asset](t, data); len(assets) != 6 {
		t.Fatalf("expected 6 assets, got %d", len(assets))
	}

	resp, data = do(t, h, http.MethodGet, "/api/chart?asset=btcusd&timeframe=1h&range=1W", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("chart status %d: %s", resp.StatusCode, data)
	}
	chart := decode[ChartResponse](t, data)
	if len(chart.Series) != 168 || chart.Asset.Symbol != "BTCUSD" {
		t.Fatalf("unexpected chart: asset=%s candles=%d", chart.Asset.Symbol, len(chart.Series))
	}
	if chart.Stats.CurrentPrice != chart.Series[len(chart.Series)-1].Close {
		t.Fatalf("stats do not match series")
	}
}

func TestErrorStatuses(t *testing.T) {
	h := newTestHandler(t)
	cases := []struct {
		target string
		status int
	}{
		{"/api/chart?asset=XAUUSD&timeframe=2h", http.StatusBadRequest},
		{"/api/chart?asset=XAUUSD&timeframe=1h&range=2Y", http.StatusBadRequest},
		{"/api/chart?asset=NOPE&timeframe=1h", http.StatusNotFound},
		{"/api/quote?symbol=FAIL", http.StatusBadGateway},
		{"/api/series?symbol=AAPL&range=5Y", http.StatusBadRequest},
		{"/api/forex?symbol=EUR/USD&interval=4h", http.StatusBadRequest},
		{"/api/forex?interval=1m", http.StatusBadRequest},
		{"/api/forex?symbol=OPEN/BREAKER&interval=1m", http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		resp, data := do(t, h, http.MethodGet, tc.target, "")
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: expected %d, got %d (%s)", tc.target, tc.status, resp.StatusCode, data)
		}
		body := decode[map[string]string](t, data)
		if body["error"] == "" {
			t.Fatalf("%s: expected error body, got %s", tc.target, data)
		}
	}
}

func TestProviderRoutes(t *testing.T) {
	h := newTestHandler(t)
	resp, data := do(t, h, http.MethodGet, "/api/quote?symbol=AAPL", "")
	if resp.StatusCode != http.StatusOK || decode[market.Quote](t, data).Price != 101.5 {
		t.Fatalf("unexpected quote response %d: %s", resp.StatusCode, data)
	}

	_, data = do(t, h, http.MethodGet, "/api/search?q=a", "")
	if strings.TrimSpace(string(data)) != "[]" {
		t.Fatalf("expected empty list for short query, got %s", data)
	}
	_, data = do(t, h, http.MethodGet, "/api/search?q=apple", "")
	if results := decode[[]market.SearchResult](t, data); len(results) != 1 {
		t.Fatalf("expected one search result, got %d", len(results))
	}

	_, data = do(t, h, http.MethodGet, "/api/series?symbol=AAPL", "")
	series := decode[SeriesResponse](t, data)
	if series.Range != market.Range1M || len(series.Points) != 2 {
		t.Fatalf("unexpected series: %+v", series)
	}

	_, data = do(t, h, http.MethodGet, "/api/forex?symbol=USD/JPY", "")
	fx := decode[ForexResponse](t, data)
	if fx.Interval != "5m" || fx.Price != 151 || fx.Change != 0.5 || fx.Decimals != 3 || len(fx.Data) != 2 {
		t.Fatalf("unexpected forex: %+v", fx)
	}
}

func TestWatchlistRoutes(t *testing.T) {
	h := newTestHandler(t)
	resp, data := do(t, h, http.MethodPost, "/api/watchlist", `{"symbol":"AAPL","name":"Apple Inc."}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("add status %d: %s", resp.StatusCode, data)
	}
	view := decode[WatchlistView](t, data)
	if view.Changed == nil || !*view.Changed || len(view.Items) != 1 {
		t.Fatalf("unexpected add view: %+v", view)
	}
	_, data = do(t, h, http.MethodPost, "/api/watchlist", `{"symbol":"AAPL","name":"again"}`)
	if view := decode[WatchlistView](t, data); view.Changed == nil || *view.Changed {
		t.Fatalf("expected duplicate add to report unchanged")
	}
	_, _ = do(t, h, http.MethodPost, "/api/watchlist", `{"symbol":"MSFT","name":"Microsoft"}`)

	_, data = do(t, h, http.MethodPost, "/api/watchlist/refresh", "")
	view = decode[WatchlistView](t, data)
	if len(view.Quotes) != 2 || view.Quotes["AAPL"].Name != "Apple Inc." {
		t.Fatalf("unexpected refresh view: %+v", view)
	}

	resp, data = do(t, h, http.MethodDelete, "/api/watchlist/AAPL", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status %d: %s", resp.StatusCode, data)
	}
	_, data = do(t, h, http.MethodGet, "/api/watchlist", "")
	view = decode[WatchlistView](t, data)
	if len(view.Items) != 1 || view.Items[0].Symbol != "MSFT" {
		t.Fatalf("unexpected items after delete: %+v", view.Items)
	}
	if _, ok := view.Quotes["AAPL"]; ok {
		t.Fatalf("expected removed quote evicted")
	}

	for _, body := range []string{`{"symbol":`, `{"symbol":"  "}`} {
		resp, _ := do(t, h, http.MethodPost, "/api/watchlist", body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, resp.StatusCode)
		}
	}
}

func TestRequestIDAndOpsRoutes(t *testing.T) {
	h := newTestHandler(t)
	resp, data := do(t, h, http.MethodGet, "/health", "")
	if resp.StatusCode != http.StatusOK || decode[HealthResponse](t, data).Status != "ok" {
		t.Fatalf("unexpected health %d: %s", resp.StatusCode, data)
	}
	if resp.Header.Get(RequestIDHeader) == "" {
		t.Fatalf("expected generated request id")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "abc-123" {
		t.Fatalf("expected caller request id echoed, got %q", got)
	}

	resp, data = do(t, h, http.MethodGet, "/metrics", "")
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(data), "market_dash_watchlist_items") {
		t.Fatalf("expected prometheus output, got %d", resp.StatusCode)
	}
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("x: %w", market.ErrNoData), http.StatusNotFound},
		{fmt.Errorf("x: %w", rest.ErrTransport), http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("forex: %w", fmt.Errorf("%w: %w", rest.ErrTransport, context.DeadlineExceeded)), http.StatusGatewayTimeout},
		{watchlist.ErrSymbolRequired, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusFor(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestUpstreamDeadlineIsGatewayTimeout(t *testing.T) {
	release := make(chan struct{})
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer upstream.Close()
	defer close(release)

	fx := feed.New(rest.New(upstream.URL, 5*time.Second, zap.NewNop()), feed.BreakerSettings{Failures: 5, Cooldown: time.Minute}, zap.NewNop())
	gen := market.NewGenerator(rand.NewPCG(3, 5), nil)
	svc := NewService(gen, market.DefaultCatalog(), fakeStocks{}, fx, nil)
	h := NewHTTPHandler(MakeEndpoints(svc), HandlerConfig{Logger: zap.NewNop()})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/api/forex?symbol=EUR/USD&interval=5m", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", rec.Code, rec.Body.String())
	}
}
