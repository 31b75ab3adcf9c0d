package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "market_dash"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry         *prometheus.Registry
	quotesFetched    prometheus.Counter
	quotesFailed     prometheus.Counter
	refreshes        prometheus.Counter
	watchlistSize    prometheus.Gauge
	seriesGenerated  prometheus.Counter
	liveTicks        prometheus.Counter
	forexFetches     prometheus.Counter
	forexFetchFailed prometheus.Counter
	streamSessions   prometheus.Gauge
}

func newCounter(name, help string) prometheus.Counter {
	return prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func newGauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: promNamespace,
		Name:      name,
		Help:      help,
	})
}

func NewPrometheus() *Prometheus {
	p := &Prometheus{
		registry:         prometheus.NewRegistry(),
		quotesFetched:    newCounter("quotes_fetched_total", "Total number of quotes fetched from the provider."),
		quotesFailed:     newCounter("quotes_failed_total", "Total number of failed quote fetches."),
		refreshes:        newCounter("watchlist_refreshes_total", "Total number of completed watchlist refreshes."),
		watchlistSize:    newGauge("watchlist_items", "Number of symbols on the watchlist."),
		seriesGenerated:  newCounter("series_generated_total", "Total number of synthetic series generated."),
		liveTicks:        newCounter("live_ticks_total", "Total number of live synthetic candles emitted."),
		forexFetches:     newCounter("forex_fetches_total", "Total number of forex timeseries fetches."),
		forexFetchFailed: newCounter("forex_fetch_failed_total", "Total number of failed forex timeseries fetches."),
		streamSessions:   newGauge("stream_sessions", "Number of open stream sessions."),
	}
	p.registry.MustRegister(
		p.quotesFetched,
		p.quotesFailed,
		p.refreshes,
		p.watchlistSize,
		p.seriesGenerated,
		p.liveTicks,
		p.forexFetches,
		p.forexFetchFailed,
		p.streamSessions,
	)
	p.Metrics = &Metrics{
		QuotesFetched:      promCounter{p.quotesFetched},
		QuotesFailed:       promCounter{p.quotesFailed},
		WatchlistRefreshes: promCounter{p.refreshes},
		WatchlistSize:      promGauge{p.watchlistSize},
		SeriesGenerated:    promCounter{p.seriesGenerated},
		LiveTicks:          promCounter{p.liveTicks},
		ForexFetches:       promCounter{p.forexFetches},
		ForexFetchFailed:   promCounter{p.forexFetchFailed},
		StreamSessions:     promGauge{p.streamSessions},
	}
	return p
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
