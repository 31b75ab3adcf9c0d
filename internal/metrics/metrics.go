package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(float64)
}

type Metrics struct {
	QuotesFetched      Counter
	QuotesFailed       Counter
	WatchlistRefreshes Counter
	WatchlistSize      Gauge
	SeriesGenerated    Counter
	LiveTicks          Counter
	ForexFetches       Counter
	ForexFetchFailed   Counter
	StreamSessions     Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		QuotesFetched:      n,
		QuotesFailed:       n,
		WatchlistRefreshes: n,
		WatchlistSize:      g,
		SeriesGenerated:    n,
		LiveTicks:          n,
		ForexFetches:       n,
		ForexFetchFailed:   n,
		StreamSessions:     g,
	}
}

// OrNoop lets constructors accept a nil *Metrics.
func OrNoop(m *Metrics) *Metrics {
	if m == nil {
		return NewNoop()
	}
	return m
}
