package stock

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"market-dash/internal/feed/rest"
	"market-dash/internal/market"
	"market-dash/internal/metrics"

	"go.uber.org/zap"
)

// MinSearchLength is the shortest query sent upstream.
const MinSearchLength = 2

var ErrSymbolRequired = errors.New("symbol is required")

type Getter interface {
	Get(ctx context.Context, params url.Values) (map[string]any, error)
}

// Client talks to a quote provider that speaks the Alpha Vantage query API.
type Client struct {
	rest    Getter
	log     *zap.Logger
	metrics *metrics.Metrics
}

func New(r Getter, log *zap.Logger, m *metrics.Metrics) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{rest: r, log: log, metrics: metrics.OrNoop(m)}
}

func (c *Client) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return market.Quote{}, ErrSymbolRequired
	}
	payload, err := c.query(ctx, url.Values{
		"function": {"GLOBAL_QUOTE"},
		"symbol":   {symbol},
	})
	if err != nil {
		c.metrics.QuotesFailed.Inc()
		return market.Quote{}, fmt.Errorf("quote %s: %w", symbol, err)
	}
	quote, err := market.ParseGlobalQuote(payload, symbol)
	if err != nil {
		c.metrics.QuotesFailed.Inc()
		return market.Quote{}, err
	}
	c.metrics.QuotesFetched.Inc()
	return quote, nil
}

// Search returns no results and no error for queries shorter than
// MinSearchLength.
func (c *Client) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	query = strings.TrimSpace(query)
	if len([]rune(query)) < MinSearchLength {
		return nil, nil
	}
	payload, err := c.query(ctx, url.Values{
		"function": {"SYMBOL_SEARCH"},
		"keywords": {query},
	})
	if err != nil {
		return nil, fmt.Errorf("search %q: %w", query, err)
	}
	return market.ParseSearch(payload)
}

// Series returns close prices for symbol covering dr, oldest first.
func (c *Client) Series(ctx context.Context, symbol string, dr market.DateRange) ([]market.Point, error) {
	symbol = strings.TrimSpace(symbol)
	if symbol == "" {
		return nil, ErrSymbolRequired
	}
	kind := market.SeriesKindFor(dr)
	params := url.Values{"symbol": {symbol}}
	switch kind {
	case market.SeriesIntraday:
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", "5min")
	case market.SeriesWeekly:
		params.Set("function", "TIME_SERIES_WEEKLY")
	case market.SeriesMonthly:
		params.Set("function", "TIME_SERIES_MONTHLY")
	default:
		params.Set("function", "TIME_SERIES_DAILY")
	}
	payload, err := c.query(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("series %s %s: %w", symbol, dr, err)
	}
	points, err := market.ParseSeries(payload, kind)
	if err != nil {
		return nil, err
	}
	return market.TrimSeries(points, dr), nil
}

func (c *Client) query(ctx context.Context, params url.Values) (map[string]any, error) {
	payload, err := c.rest.Get(ctx, params)
	if err != nil {
		return nil, err
	}
	if msg, ok := market.UpstreamMessage(payload); ok {
		c.log.Warn("provider returned error payload", zap.String("function", params.Get("function")), zap.String("message", msg))
		return nil, fmt.Errorf("%w: %s", rest.ErrUpstream, msg)
	}
	return payload, nil
}
