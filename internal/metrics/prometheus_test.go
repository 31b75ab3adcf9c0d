package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.QuotesFetched.Inc()
	prom.Metrics.QuotesFetched.Inc()
	prom.Metrics.QuotesFailed.Inc()
	prom.Metrics.WatchlistRefreshes.Inc()
	prom.Metrics.SeriesGenerated.Inc()
	prom.Metrics.LiveTicks.Inc()
	prom.Metrics.ForexFetches.Inc()
	prom.Metrics.ForexFetchFailed.Inc()

	assertCounter(t, prom.quotesFetched, 2)
	assertCounter(t, prom.quotesFailed, 1)
	assertCounter(t, prom.refreshes, 1)
	assertCounter(t, prom.seriesGenerated, 1)
	assertCounter(t, prom.liveTicks, 1)
	assertCounter(t, prom.forexFetches, 1)
	assertCounter(t, prom.forexFetchFailed, 1)
}

func TestPrometheusGauges(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.WatchlistSize.Set(3)
	prom.Metrics.StreamSessions.Set(2)
	if got := testutil.ToFloat64(prom.watchlistSize); got != 3 {
		t.Fatalf("expected watchlist size 3, got %v", got)
	}
	if got := testutil.ToFloat64(prom.streamSessions); got != 2 {
		t.Fatalf("expected stream sessions 2, got %v", got)
	}
}

func TestPrometheusHandlerExposesNamespace(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.LiveTicks.Inc()
	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "market_dash_live_ticks_total 1") {
		t.Fatalf("expected live ticks metric in output, got %s", body)
	}
}

func TestNoopAcceptsUpdates(t *testing.T) {
	m := OrNoop(nil)
	m.QuotesFetched.Inc()
	m.WatchlistSize.Set(1)
}

func assertCounter(t *testing.T, counter prometheus.Counter, expected float64) {
	t.Helper()
	if got := testutil.ToFloat64(counter); got != expected {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}
