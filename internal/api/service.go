package api

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-dash/internal/chart"
	"market-dash/internal/forex"
	"market-dash/internal/market"
	"market-dash/internal/watchlist"
)

// ErrBadRequest marks request decoding failures.
var ErrBadRequest = errors.New("bad request")

type StockClient interface {
	Quote(ctx context.Context, symbol string) (market.Quote, error)
	Search(ctx context.Context, query string) ([]market.SearchResult, error)
	Series(ctx context.Context, symbol string, dr market.DateRange) ([]market.Point, error)
}

type ForexClient interface {
	Timeseries(ctx context.Context, symbol, interval string) ([]market.Candle, error)
}

type ChartRequest struct {
	Asset     string
	Timeframe string
	Range     string
}

type ChartResponse struct {
	Asset  market.Asset    `json:"asset"`
	Params chart.Params    `json:"params"`
	Series []market.Candle `json:"series"`
	Stats  market.Stats    `json:"stats"`
}

type SeriesRequest struct {
	Symbol string
	Range  string
}

type SeriesResponse struct {
	Symbol string           `json:"symbol"`
	Range  market.DateRange `json:"range"`
	Points []market.Point   `json:"points"`
}

type ForexRequest struct {
	Symbol   string
	Interval string
}

type ForexResponse struct {
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Data     []market.Candle `json:"data"`
	Price    float64         `json:"price"`
	Change   float64         `json:"change"`
	Decimals int             `json:"decimals"`
}

type AddRequest struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
}

type WatchlistView struct {
	Items      []watchlist.Item        `json:"items"`
	Quotes     map[string]market.Quote `json:"quotes"`
	Refreshing bool                    `json:"refreshing"`
	Changed    *bool                   `json:"changed,omitempty"`
}

type HealthResponse struct {
	Status string    `json:"status"`
	Time   time.Time `json:"time"`
}

// Service holds the request/response operations behind the HTTP API.
type Service struct {
	generator *market.Generator
	catalog   *market.Catalog
	stocks    StockClient
	forex     ForexClient
	watchlist *watchlist.Watchlist
}

func NewService(generator *market.Generator, catalog *market.Catalog, stocks StockClient, fx ForexClient, wl *watchlist.Watchlist) *Service {
	return &Service{
		generator: generator,
		catalog:   catalog,
		stocks:    stocks,
		forex:     fx,
		watchlist: wl,
	}
}

func (s *Service) Assets(ctx context.Context) ([]market.Asset, error) {
	return s.catalog.All(), nil
}

// Chart generates a one-off synthetic series. Live updates are only available
// on the stream endpoint.
func (s *Service) Chart(ctx context.Context, req ChartRequest) (ChartResponse, error) {
	asset, ok := s.catalog.Lookup(req.Asset)
	if !ok {
		return ChartResponse{}, fmt.Errorf("%w: %q", market.ErrUnknownAsset, req.Asset)
	}
	tf, err := market.ParseTimeframe(req.Timeframe)
	if err != nil {
		return ChartResponse{}, err
	}
	dr, err := market.ParseDateRange(req.Range)
	if err != nil {
		return ChartResponse{}, err
	}
	series, err := s.generator.GenerateSeries(tf, dr, asset)
	if err != nil {
		return ChartResponse{}, err
	}
	stats, _ := market.ComputeStats(series)
	return ChartResponse{
		Asset:  asset,
		Params: chart.Params{Asset: asset.Symbol, Timeframe: tf, Range: dr},
		Series: series,
		Stats:  stats,
	}, nil
}

func (s *Service) Quote(ctx context.Context, symbol string) (market.Quote, error) {
	return s.stocks.Quote(ctx, symbol)
}

// Search returns an empty list for queries too short to search.
func (s *Service) Search(ctx context.Context, query string) ([]market.SearchResult, error) {
	results, err := s.stocks.Search(ctx, query)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []market.SearchResult{}
	}
	return results, nil
}

func (s *Service) Series(ctx context.Context, req SeriesRequest) (SeriesResponse, error) {
	dr := market.Range1M
	if strings.TrimSpace(req.Range) != "" {
		parsed, err := market.ParseDateRange(req.Range)
		if err != nil {
			return SeriesResponse{}, err
		}
		dr = parsed
	}
	points, err := s.stocks.Series(ctx, req.Symbol, dr)
	if err != nil {
		return SeriesResponse{}, err
	}
	return SeriesResponse{Symbol: strings.TrimSpace(req.Symbol), Range: dr, Points: points}, nil
}

func (s *Service) Forex(ctx context.Context, req ForexRequest) (ForexResponse, error) {
	interval := req.Interval
	if interval == "" {
		interval = "5m"
	}
	candles, err := s.forex.Timeseries(ctx, req.Symbol, interval)
	if err != nil {
		return ForexResponse{}, err
	}
	price, change := forex.LastChange(candles)
	return ForexResponse{
		Symbol:   req.Symbol,
		Interval: interval,
		Data:     candles,
		Price:    price,
		Change:   change,
		Decimals: market.PairDecimals(req.Symbol),
	}, nil
}

func (s *Service) Watchlist(ctx context.Context) (WatchlistView, error) {
	return s.view(nil), nil
}

func (s *Service) AddToWatchlist(ctx context.Context, req AddRequest) (WatchlistView, error) {
	changed, err := s.watchlist.Add(ctx, req.Symbol, req.Name)
	if err != nil {
		return WatchlistView{}, err
	}
	return s.view(&changed), nil
}

func (s *Service) RemoveFromWatchlist(ctx context.Context, symbol string) (WatchlistView, error) {
	changed, err := s.watchlist.Remove(ctx, symbol)
	if err != nil {
		return WatchlistView{}, err
	}
	return s.view(&changed), nil
}

func (s *Service) RefreshWatchlist(ctx context.Context) (WatchlistView, error) {
	if _, err := s.watchlist.RefreshAll(ctx); err != nil {
		return WatchlistView{}, err
	}
	return s.view(nil), nil
}

func (s *Service) Health(ctx context.Context) (HealthResponse, error) {
	return HealthResponse{Status: "ok", Time: time.Now().UTC()}, nil
}

func (s *Service) view(changed *bool) WatchlistView {
	items := s.watchlist.Items()
	if items == nil {
		items = []watchlist.Item{}
	}
	return WatchlistView{
		Items:      items,
		Quotes:     s.watchlist.Quotes(),
		Refreshing: s.watchlist.Refreshing(),
		Changed:    changed,
	}
}
